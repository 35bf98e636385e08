package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "shepherd"
	subsystem = "daemon"
)

var (
	registered atomic.Bool

	starts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "starts_total",
		Help:      "Spawns that produced a running child.",
	}, []string{"name"})

	restarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "restarts_total",
		Help:      "Operator-triggered restarts.",
	}, []string{"name"})

	stops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "stops_total",
		Help:      "Child exits observed, any cause.",
	}, []string{"name"})

	running = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "running",
		Help:      "1 if the named daemon currently has a live child.",
	}, []string{"name"})

	stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "state_transitions_total",
		Help:      "Lifecycle transitions, labeled by the from/to state pair.",
	}, []string{"name", "from", "to"})

	currentState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "current_state",
		Help:      "1 for a daemon's current state, 0 once it leaves that state.",
	}, []string{"name", "state"})

	collectors = []prometheus.Collector{starts, restarts, stops, running, stateTransitions, currentState}
)

// Register registers every collector with r. Safe to call more than
// once; only the first successful call takes effect, so a daemon and
// its embedders can both call Register against the default registerer
// without tripping AlreadyRegisteredError.
func Register(r prometheus.Registerer) error {
	if registered.Load() {
		return nil
	}
	for _, c := range collectors {
		if err := r.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	registered.Store(true)
	return nil
}

// Handler serves the default gatherer's metrics in the Prometheus
// exposition format. The caller wires it onto an HTTP mux.
func Handler() http.Handler { return promhttp.Handler() }

// The Inc*/Set*/Record* helpers below no-op until Register has
// succeeded, so reactor code can call them unconditionally whether or
// not the embedding process opted into a metrics endpoint.

func IncStart(name string) {
	if registered.Load() {
		starts.WithLabelValues(name).Inc()
	}
}

func IncRestart(name string) {
	if registered.Load() {
		restarts.WithLabelValues(name).Inc()
	}
}

func IncStop(name string) {
	if registered.Load() {
		stops.WithLabelValues(name).Inc()
	}
}

func SetRunning(name string, isRunning bool) {
	if !registered.Load() {
		return
	}
	v := 0.0
	if isRunning {
		v = 1.0
	}
	running.WithLabelValues(name).Set(v)
}

func RecordStateTransition(name, from, to string) {
	if registered.Load() {
		stateTransitions.WithLabelValues(name, from, to).Inc()
	}
}

func SetCurrentState(name, state string, active bool) {
	if !registered.Load() {
		return
	}
	v := 0.0
	if active {
		v = 1.0
	}
	currentState.WithLabelValues(name, state).Set(v)
}
