package ramadctl

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// Config carries the persistent flags shared by every subcommand.
type Config struct {
	Addr           string
	SupervisorURL  string
	WorkerPortBase int
	Force          bool
	SmokeTimeout   time.Duration
	LogLvl         string
}

func defaultConfig() *Config {
	return &Config{
		Addr:           envStr("RAMAD_ADDR", "http://127.0.0.1:8080"),
		SupervisorURL:  envStr("RAMAD_SUPERVISOR_URL", "http://127.0.0.1:9001"),
		WorkerPortBase: envInt("RAMAD_WORKER_PORT_BASE", 6000),
		Force:          envBool("RAMADCTL_FORCE", false),
		SmokeTimeout:   2 * time.Minute,
		LogLvl:         envStr("RAMADCTL_LOG_LEVEL", "info"),
	}
}

// buildRootCmd constructs the Cobra command tree wired to the fn* actions.
func buildRootCmd(cfg *Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "ramadctl",
		Short:         "Operator utilities for a running ramad daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("addr", cfg.Addr, "Base URL of the daemon (defaults RAMAD_ADDR)")
	root.PersistentFlags().String("supervisor-url", cfg.SupervisorURL, "Supervisor XML-RPC endpoint (defaults RAMAD_SUPERVISOR_URL)")
	root.PersistentFlags().Int("worker-port-base", cfg.WorkerPortBase, "First worker slot port (defaults RAMAD_WORKER_PORT_BASE)")
	root.PersistentFlags().Bool("force", cfg.Force, "Keep going on busy ports")
	root.PersistentFlags().String("log-level", cfg.LogLvl, "Log level: debug|info|warn|error")
	root.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if f := cmd.InheritedFlags().Lookup("addr"); f != nil && f.Value.String() != "" {
			cfg.Addr = f.Value.String()
		}
		if f := cmd.InheritedFlags().Lookup("supervisor-url"); f != nil && f.Value.String() != "" {
			cfg.SupervisorURL = f.Value.String()
		}
		if f := cmd.InheritedFlags().Lookup("worker-port-base"); f != nil {
			if n, err := strconv.Atoi(f.Value.String()); err == nil && n != 0 {
				cfg.WorkerPortBase = n
			}
		}
		if f := cmd.InheritedFlags().Lookup("force"); f != nil {
			cfg.Force = f.Value.String() == "true"
		}
		if f := cmd.InheritedFlags().Lookup("log-level"); f != nil && f.Value.String() != "" {
			cfg.LogLvl = f.Value.String()
		}
		SetLogLevel(cfg.LogLvl)
	}

	modelCmd := &cobra.Command{Use: "model", Short: "Inspect models on the daemon", RunE: func(cmd *cobra.Command, args []string) error {
		return fnModelList(cfg)
	}}
	modelStatusCmd := &cobra.Command{Use: "status <name>", Short: "Show one model's slots and state", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		return fnModelStatus(cfg, args[0])
	}}
	modelCmd.AddCommand(modelStatusCmd)
	root.AddCommand(modelCmd)

	uploadCmd := &cobra.Command{Use: "upload <name> <artifact.tar.gz>", Short: "Upload an artifact and kick off a hot swap", Example: "  ramadctl upload greeter ./models/greeter.tar.gz", Args: cobra.ExactArgs(2), RunE: func(cmd *cobra.Command, args []string) error {
		return fnUpload(cfg, args[0], args[1])
	}}
	root.AddCommand(uploadCmd)

	inferCmd := &cobra.Command{Use: "infer <name> <message>", Short: "Send one message through the daemon", Args: cobra.ExactArgs(2), RunE: func(cmd *cobra.Command, args []string) error {
		return fnInfer(cfg, args[0], args[1])
	}}
	root.AddCommand(inferCmd)

	smokeCmd := &cobra.Command{Use: "smoke <name> <artifact.tar.gz>", Short: "Health check, upload, wait for promotion, probe inference", Args: cobra.ExactArgs(2), RunE: func(cmd *cobra.Command, args []string) error {
		return fnSmoke(cfg, args[0], args[1])
	}}
	root.AddCommand(smokeCmd)

	superCmd := &cobra.Command{Use: "super <start|stop|status> <group>", Short: "Control a worker group directly via the supervisor", Example: "  ramadctl super status greeter_a", Args: cobra.ExactArgs(2), RunE: func(cmd *cobra.Command, args []string) error {
		return fnSuper(cfg, args[0], args[1])
	}}
	root.AddCommand(superCmd)

	portsCmd := &cobra.Command{Use: "ports <models>", Short: "Check that the worker port range for N models is free", Args: cobra.ExactArgs(1), RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("ports wants a positive model count, got %q", args[0])
		}
		return fnCheckPorts(cfg, n)
	}}
	root.AddCommand(portsCmd)

	testCmd := &cobra.Command{Use: "test", Short: "Run the module's test suite", RunE: func(cmd *cobra.Command, args []string) error {
		return fnRunGoTests(cfg)
	}}
	root.AddCommand(testCmd)

	return root
}

// Run dispatches the CLI. It returns an error instead of exiting, enabling
// reuse from tests.
func Run(args []string) error {
	cfg := defaultConfig()
	root := buildRootCmd(cfg)
	root.SetArgs(args)
	return root.Execute()
}
