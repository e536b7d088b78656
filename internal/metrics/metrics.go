// Package metrics exposes run outcomes as Prometheus metrics, served with
// a small HTTP listener alongside the scheduler.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eisei-komiya/econ-cal-sync/internal/engine"
)

type Recorder struct {
	server *http.Server

	actionsTotal  *prometheus.CounterVec
	runsTotal     *prometheus.CounterVec
	lastSuccessTS prometheus.Gauge
	runDuration   prometheus.Summary
}

// NewRecorder builds the metric set on its own registry (so repeated
// construction in tests cannot double-register) and an HTTP server for
// /metrics and /healthz on addr.
func NewRecorder(addr string) *Recorder {
	reg := prometheus.NewRegistry()

	r := &Recorder{
		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "econcal",
			Name:      "sync_actions_total",
			Help:      "Reconciliation actions by outcome",
		}, []string{"action"}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "econcal",
			Name:      "sync_runs_total",
			Help:      "Sync runs by result",
		}, []string{"result"}),
		lastSuccessTS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "econcal",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix timestamp of the last run without fatal error",
		}),
		runDuration: prometheus.NewSummary(prometheus.SummaryOpts{
			Namespace: "econcal",
			Name:      "sync_duration_seconds",
			Help:      "Time spent per sync run",
		}),
	}
	reg.MustRegister(r.actionsTotal, r.runsTotal, r.lastSuccessTS, r.runDuration)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return r
}

func (r *Recorder) Serve() error                       { return r.server.ListenAndServe() }
func (r *Recorder) Shutdown(ctx context.Context) error { return r.server.Shutdown(ctx) }

// ObserveRun records one run summary.
func (r *Recorder) ObserveRun(sum engine.Summary) {
	r.actionsTotal.WithLabelValues("created").Add(float64(sum.Created))
	r.actionsTotal.WithLabelValues("updated").Add(float64(sum.Updated))
	r.actionsTotal.WithLabelValues("deleted").Add(float64(sum.Deleted))
	r.actionsTotal.WithLabelValues("skipped").Add(float64(sum.Skipped))
	r.actionsTotal.WithLabelValues("failed").Add(float64(sum.Failed))
	r.runDuration.Observe(sum.Duration.Seconds())

	if sum.FatalErr != nil {
		r.runsTotal.WithLabelValues("fatal").Inc()
		return
	}
	r.runsTotal.WithLabelValues("ok").Inc()
	r.lastSuccessTS.Set(float64(time.Now().Unix()))
}
