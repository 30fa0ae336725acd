// Package metrics exposes the controller's counters on a private
// prometheus registry, served over a small chi router grounded on the
// teacher's internal/api/router.go (promhttp.Handler, /health) wiring.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/berghain-agent/berghain/internal/accounting"
	"github.com/berghain-agent/berghain/internal/scenario"
)

// Collectors bundles the domain counters/gauges the controller reports
// into, registered on a private registry rather than the global default
// so tests can spin up independent instances.
type Collectors struct {
	registry *prometheus.Registry

	Admitted      prometheus.Counter
	Rejected      prometheus.Counter
	Candidates    prometheus.Counter
	Resyncs       prometheus.Counter
	NeedRemaining *prometheus.GaugeVec

	mu            sync.Mutex
	lastAdmitted  int
	lastRejected  int
}

// New registers the berghain_* metric family on a fresh registry.
func New() *Collectors {
	reg := prometheus.NewRegistry()

	c := &Collectors{
		registry: reg,
		Admitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "berghain_admitted_total",
			Help: "Total candidates admitted across the run.",
		}),
		Rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "berghain_rejected_total",
			Help: "Total candidates rejected across the run.",
		}),
		Candidates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "berghain_candidates_total",
			Help: "Total candidates processed (admitted + rejected).",
		}),
		Resyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "berghain_resync_total",
			Help: "Total expected-index resync events.",
		}),
		NeedRemaining: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "berghain_need_remaining",
			Help: "Remaining admits needed to satisfy each attribute's quota.",
		}, []string{"attribute"}),
	}

	reg.MustRegister(c.Admitted, c.Rejected, c.Candidates, c.Resyncs, c.NeedRemaining)
	return c
}

// Update advances the admitted/rejected counters by the delta since the
// last snapshot and sets the need-remaining gauge for every constrained
// attribute. The controller calls this from its OnSnapshot hook at the
// same points it writes response/progress events.
func (c *Collectors) Update(sc scenario.Scenario, snap accounting.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if d := snap.Admitted - c.lastAdmitted; d > 0 {
		c.Admitted.Add(float64(d))
		c.Candidates.Add(float64(d))
	}
	if d := snap.Rejected - c.lastRejected; d > 0 {
		c.Rejected.Add(float64(d))
		c.Candidates.Add(float64(d))
	}
	c.lastAdmitted = snap.Admitted
	c.lastRejected = snap.Rejected

	for _, attr := range sc.Attributes() {
		need := sc.MinCounts()[attr] - snap.CountByAttr[attr]
		if need < 0 {
			need = 0
		}
		c.NeedRemaining.WithLabelValues(string(attr)).Set(float64(need))
	}
}

// IncResync records one expected-index resync.
func (c *Collectors) IncResync() {
	c.Resyncs.Inc()
}

// NewRouter serves /metrics (promhttp against this Collectors' private
// registry) and /health, grounded on the teacher's NewMetricsRouter.
func (c *Collectors) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
