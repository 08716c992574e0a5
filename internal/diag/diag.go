// Package diag is the ambient HTTP diagnostics surface (SPEC_FULL.md
// §9): /healthz, /readyz, /metrics. Grounded on the teacher's
// internal/server/server.go construction style (chi.Router behind a
// small Option set, middleware.Recoverer) scaled down to three routes,
// with Prometheus counters/gauges added the way tomtom215-cartographus
// wires client_golang into its own HTTP layer.
package diag

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the counters/gauges named in SPEC_FULL.md §9. The
// dispatcher, manager and event listener hold a *Metrics and call the
// relevant method; nil is a valid receiver for every method so
// diagnostics are fully optional.
type Metrics struct {
	CommandsTotal            *prometheus.CounterVec
	RewindsTotal             prometheus.Counter
	ActiveSessions           prometheus.Gauge
	ListenerReconnectsTotal  prometheus.Counter
}

// NewMetrics registers the diagnostics counters against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rewindwatch_commands_total",
			Help: "Outgoing setStreams commands, by result.",
		}, []string{"result"}),
		RewindsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rewindwatch_rewinds_total",
			Help: "Rewinds detected across all sessions.",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rewindwatch_active_sessions",
			Help: "Playback sessions currently tracked by the registry.",
		}),
		ListenerReconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rewindwatch_listener_reconnects_total",
			Help: "Event stream reconnect attempts.",
		}),
	}
	reg.MustRegister(m.CommandsTotal, m.RewindsTotal, m.ActiveSessions, m.ListenerReconnectsTotal)
	return m
}

func (m *Metrics) CommandResult(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.CommandsTotal.WithLabelValues("ok").Inc()
	} else {
		m.CommandsTotal.WithLabelValues("failure").Inc()
	}
}

func (m *Metrics) RewindDetected() {
	if m == nil {
		return
	}
	m.RewindsTotal.Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

func (m *Metrics) ListenerReconnect() {
	if m == nil {
		return
	}
	m.ListenerReconnectsTotal.Inc()
}

// Ready reports whether the process considers itself ready to serve —
// in this agent's case, "connected to the media server at least once".
type Ready func() bool

// Server is the /healthz, /readyz, /metrics HTTP surface.
type Server struct {
	router chi.Router
}

// New builds a diagnostics Server. ready is polled on every /readyz
// request; a nil ready always reports ready.
func New(reg *prometheus.Registry, ready Ready) *Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if ready != nil && !ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return &Server{router: r}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
