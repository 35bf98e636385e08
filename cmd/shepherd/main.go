package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/briskcanopy/shepherd/internal/audit"
	"github.com/briskcanopy/shepherd/internal/config"
	"github.com/briskcanopy/shepherd/internal/logger"
	"github.com/briskcanopy/shepherd/internal/metrics"
	"github.com/briskcanopy/shepherd/internal/reactor"
)

// version is overridden at build time via -ldflags.
var version = "dev"

func main() {
	var (
		configPath    string
		socketPath    string
		metricsListen string
		auditDSN      string
		logLevel      string
	)

	root := &cobra.Command{
		Use:   "shepherd",
		Short: "Shepherd supervises a roster of long-running daemons.",
		RunE: func(cmd *cobra.Command, args []string) error {
			os.Exit(run(runOptions{
				configPath:    configPath,
				socketPath:    socketPath,
				metricsListen: metricsListen,
				auditDSN:      auditDSN,
				logLevel:      logLevel,
			}))
			return nil
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to the YAML roster file")
	root.Flags().StringVar(&socketPath, "socket", "/var/run/shepherd/control", "control socket path")
	root.Flags().Bool("foreground", true, "run in the foreground (the only supported mode)")
	root.Flags().StringVar(&metricsListen, "metrics-listen", "", "address to serve Prometheus /metrics, e.g. :9090")
	root.Flags().StringVar(&auditDSN, "audit-dsn", "", "sqlite:// or postgres:// DSN for the append-only audit sink")
	root.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type runOptions struct {
	configPath    string
	socketPath    string
	metricsListen string
	auditDSN      string
	logLevel      string
}

// run wires up logging, config, audit, metrics, and the reactor, then
// blocks until shutdown. It returns the process exit code per spec: 0
// for a clean shutdown, 1 for a fatal configuration or socket error at
// boot.
func run(opts runOptions) int {
	log := logger.New(parseLevel(opts.logLevel), os.Stderr, logger.IsTerminal(os.Stderr))

	if opts.configPath == "" {
		log.Error("--config is required")
		return 1
	}
	loader := config.FileLoader{Path: opts.configPath}
	if _, _, err := loader.Load(); err != nil {
		log.Error("config load failed", "error", err)
		return 1
	}

	var sink audit.Sink = audit.NopSink{}
	if opts.auditDSN != "" {
		s, err := audit.NewSQLSinkFromDSN(opts.auditDSN)
		if err != nil {
			log.Error("audit sink init failed", "error", err)
			return 1
		}
		defer func() { _ = s.Close() }()
		sink = s
	}

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Warn("metrics registration failed", "error", err)
	}
	if opts.metricsListen != "" {
		go serveMetrics(opts.metricsListen, log)
	}

	r, err := reactor.New(reactor.Config{
		Loader:     loader,
		SocketPath: opts.socketPath,
		Logger:     log,
		Audit:      sink,
		Version:    version,
	})
	if err != nil {
		log.Error("reactor init failed", "error", err)
		return 1
	}

	// The reactor owns SIGINT/SIGTERM handling itself (it must serialize
	// shutdown onto its own event loop); ctx here is only for a caller
	// that wants to cancel the run programmatically (e.g. tests).
	return r.Run(context.Background())
}

func serveMetrics(addr string, log *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Error("metrics server stopped", "error", err)
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
