package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ramad/internal/artifact"
	"ramad/internal/config"
	"ramad/internal/httpapi"
	"ramad/internal/lifecycle"
	"ramad/internal/supervisor"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// envOr reads an environment default for a flag.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// splitCSV splits a comma-separated list, trimming blanks.
func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		p := strings.TrimSpace(part)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ramad",
		Short:         "Model lifecycle daemon: hot-swaps supervised model workers without dropping requests",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var (
		configPath    string
		addr          string
		dataDir       string
		supervisorURL string
		workerHost    string
		portBase      int
		corsEnabled   bool
		corsOrigins   string
		logLevel      string
		logJSON       bool
	)

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Config{}
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				cfg = loaded
			}
			// Flags win over the config file.
			if cmd.Flags().Changed("addr") || cfg.Addr == "" {
				cfg.Addr = addr
			}
			if cmd.Flags().Changed("data-dir") || cfg.DataDir == "" {
				cfg.DataDir = dataDir
			}
			if cmd.Flags().Changed("supervisor-url") || cfg.SupervisorURL == "" {
				cfg.SupervisorURL = supervisorURL
			}
			if cmd.Flags().Changed("worker-host") || cfg.WorkerHost == "" {
				cfg.WorkerHost = workerHost
			}
			if cmd.Flags().Changed("worker-port-base") || cfg.WorkerPortBase == 0 {
				cfg.WorkerPortBase = portBase
			}
			if cmd.Flags().Changed("cors-enabled") {
				cfg.CORSEnabled = corsEnabled
			}
			if cmd.Flags().Changed("cors-origins") {
				cfg.CORSOrigins = splitCSV(corsOrigins)
			}
			if cmd.Flags().Changed("log-level") || cfg.LogLevel == "" {
				cfg.LogLevel = logLevel
			}
			if cmd.Flags().Changed("log-json") {
				cfg.LogJSON = logJSON
			}
			return run(cfg)
		},
	}

	f := serve.Flags()
	f.StringVarP(&configPath, "config", "c", envOr("RAMAD_CONFIG", ""), "Path to config file (.yaml/.json/.toml)")
	f.StringVar(&addr, "addr", envOr("RAMAD_ADDR", ":8080"), "HTTP listen address, e.g. :8080")
	f.StringVar(&dataDir, "data-dir", envOr("RAMAD_DATA_DIR", "~/ramad/data"), "Directory for uploaded model artifacts")
	f.StringVar(&supervisorURL, "supervisor-url", envOr("RAMAD_SUPERVISOR_URL", "http://localhost:9999"), "Process supervisor base URL")
	f.StringVar(&workerHost, "worker-host", envOr("RAMAD_WORKER_HOST", "127.0.0.1"), "Host worker processes listen on")
	f.IntVar(&portBase, "worker-port-base", 6000, "First port of the slot port range (two ports per model)")
	f.BoolVar(&corsEnabled, "cors-enabled", false, "Enable CORS middleware")
	f.StringVar(&corsOrigins, "cors-origins", "", "Comma-separated allowed CORS origins")
	f.StringVar(&logLevel, "log-level", envOr("RAMAD_LOG_LEVEL", "info"), "Log level: debug|info|warn|error")
	f.BoolVar(&logJSON, "log-json", false, "Emit JSON logs instead of console format")

	root.AddCommand(serve)
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(f)
	return root
}

func newLogger(cfg config.Config) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	var w = os.Stderr
	if cfg.LogJSON {
		return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w}).Level(lvl).With().Timestamp().Logger()
}

func run(cfg config.Config) error {
	log := newLogger(cfg)

	store, err := artifact.NewStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("artifact store: %w", err)
	}
	gw := supervisor.NewClient(cfg.SupervisorURL)

	mgr := lifecycle.New(
		lifecycle.Config{
			WorkerHost:    cfg.WorkerHost,
			PortBase:      cfg.WorkerPortBase,
			HealthPath:    cfg.HealthPath,
			InferencePath: cfg.InferencePath,
			MaxQueueDepth: cfg.MaxQueueDepth,
			MaxQueueWait:  time.Duration(cfg.MaxQueueWaitSec) * time.Second,
			ReadyTimeout:  time.Duration(cfg.ReadyTimeoutSec) * time.Second,
			DrainTimeout:  time.Duration(cfg.DrainTimeoutSec) * time.Second,
		},
		store, gw,
		lifecycle.WithLogger(log),
		lifecycle.WithEvents(lifecycle.LogPublisher{Log: log}),
	)
	// Bring back workers for artifacts already on disk.
	mgr.Bootstrap()

	httpapi.SetLogger(log)
	httpapi.SetCORSOptions(cfg.CORSEnabled, cfg.CORSOrigins,
		[]string{"GET", "POST", "PUT", "OPTIONS"}, []string{"Content-Type", "X-Log-Level"})

	baseCtx, baseCancel := context.WithCancel(context.Background())
	defer baseCancel()
	httpapi.SetBaseContext(baseCtx)

	mux := httpapi.NewMux(mgr, httpapi.Options{SupervisorURL: cfg.SupervisorURL})
	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	go func() {
		log.Info().Str("addr", cfg.Addr).Str("data_dir", cfg.DataDir).
			Str("supervisor", cfg.SupervisorURL).Msg("ramad listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	baseCancel() // release queued requests
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown")
	}
	return nil
}
