package ramadctl

import (
	"bufio"
	"context"
	"io"
	"os/exec"
)

// runStreaming runs an external command and echoes each output line
// through the CLI logger so it interleaves with our own messages. Both
// pipes are drained before Wait so trailing output is never lost.
func runStreaming(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}
	done := make(chan struct{}, 2)
	echo := func(tag string, r io.Reader) {
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			info("[%s] %s", tag, sc.Text())
		}
		done <- struct{}{}
	}
	go echo("out", stdout)
	go echo("err", stderr)
	<-done
	<-done
	return cmd.Wait()
}
