package ramadctl

import (
	"context"
	"fmt"
	"time"

	"ramad/internal/supervisor"
)

// superControl talks straight to the process supervisor, bypassing the
// daemon. Handy when a worker group is wedged.
func superControl(cfg *Config, action, group string) error {
	cli := supervisor.NewClient(cfg.SupervisorURL)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch action {
	case "start":
		if err := cli.Start(ctx, group); err != nil {
			return err
		}
		info("started %s", group)
		return nil
	case "stop":
		if err := cli.Stop(ctx, group); err != nil {
			return err
		}
		info("stopped %s", group)
		return nil
	case "status":
		st, err := cli.Status(ctx, group)
		if err != nil {
			return err
		}
		info("%s: %s", group, st)
		return nil
	default:
		return fmt.Errorf("unknown supervisor action %q: want start|stop|status", action)
	}
}
