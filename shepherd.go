// Package shepherd is a thin facade over the internal reactor, config,
// and client packages for programs that want to embed a supervisor
// instance rather than exec the cmd/shepherd binary.
package shepherd

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/briskcanopy/shepherd/internal/audit"
	"github.com/briskcanopy/shepherd/internal/config"
	"github.com/briskcanopy/shepherd/internal/control"
	"github.com/briskcanopy/shepherd/internal/metrics"
	"github.com/briskcanopy/shepherd/internal/reactor"
	"github.com/briskcanopy/shepherd/internal/roster"
	"github.com/briskcanopy/shepherd/pkg/client"
)

// Re-exported core types for external consumers. Aliases keep these
// conversions zero-cost.
type (
	Loader        = roster.Loader
	FileLoader    = config.FileLoader
	SimpleLoader  = config.SimpleLoader
	AuditSink     = audit.Sink
	ClientConfig  = client.Config
	PSEntry       = control.PSEntry
	VersionResult = control.VersionResult
)

// Supervisor is a thin facade over internal/reactor.Reactor for
// embedding. Unlike cmd/shepherd, callers control the context passed
// to Run, so they can cancel it programmatically in addition to the
// OS-signal handling Run already does internally.
type Supervisor struct{ inner *reactor.Reactor }

// Config mirrors reactor.Config without exposing the internal package
// directly to embedders.
type Config struct {
	Loader           Loader
	SocketPath       string
	Logger           *slog.Logger
	Audit            AuditSink
	KillDeadline     time.Duration
	ShutdownDeadline time.Duration
	Version          string
}

// New constructs a Supervisor and binds its control socket.
func New(cfg Config) (*Supervisor, error) {
	r, err := reactor.New(reactor.Config{
		Loader:           cfg.Loader,
		SocketPath:       cfg.SocketPath,
		Logger:           cfg.Logger,
		Audit:            cfg.Audit,
		KillDeadline:     cfg.KillDeadline,
		ShutdownDeadline: cfg.ShutdownDeadline,
		Version:          cfg.Version,
	})
	if err != nil {
		return nil, err
	}
	return &Supervisor{inner: r}, nil
}

// Run blocks until ctx is cancelled or a shutdown signal arrives,
// returning the process exit code per spec: 0 for a clean shutdown, 1
// when the initial roster load fails. Control-socket errors are
// reported by New, which binds the socket.
func (s *Supervisor) Run(ctx context.Context) int { return s.inner.Run(ctx) }

// NewAuditSinkFromDSN builds an append-only audit sink from a
// sqlite:// or postgres:// DSN.
func NewAuditSinkFromDSN(dsn string) (AuditSink, error) {
	return audit.NewSQLSinkFromDSN(dsn)
}

// RegisterMetrics registers Shepherd's Prometheus collectors.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// RegisterMetricsDefault registers against prometheus.DefaultRegisterer.
func RegisterMetricsDefault() error { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using
// the default registry, blocking in the caller's goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}

// NewClient builds a control-socket client for driving a running
// Supervisor from another process.
func NewClient(cfg ClientConfig) *client.Client { return client.New(cfg) }
