// Package metrics exposes Prometheus counters for the alert worker.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics groups every collector on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	EvaluationRuns     *prometheus.CounterVec
	EvaluationDuration prometheus.Histogram
	ProviderFetches    *prometheus.CounterVec
	AlertsTriggered    *prometheus.CounterVec
	Notifications      *prometheus.CounterVec
	LimiterDenials     *prometheus.CounterVec
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		EvaluationRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alert_evaluation_runs_total",
			Help: "Alert evaluation passes by result",
		}, []string{"result"}),
		EvaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "alert_evaluation_duration_seconds",
			Help:    "Wall time of one alert evaluation pass",
			Buckets: prometheus.DefBuckets,
		}),
		ProviderFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "provider_fetches_total",
			Help: "Market data fetches by provider and result",
		}, []string{"provider", "result"}),
		AlertsTriggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "alerts_triggered_total",
			Help: "Alerts whose condition held during a pass",
		}, []string{"asset_class"}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notification deliveries by result",
		}, []string{"result"}),
		LimiterDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rate_limiter_denials_total",
			Help: "Requests refused by a provider rate limiter",
		}, []string{"provider"}),
	}
	m.Registry.MustRegister(
		m.EvaluationRuns,
		m.EvaluationDuration,
		m.ProviderFetches,
		m.AlertsTriggered,
		m.Notifications,
		m.LimiterDenials,
	)
	return m
}

// The helpers below are safe on a nil *Metrics so components can run unmetered.

func (m *Metrics) Fetch(provider, result string) {
	if m != nil {
		m.ProviderFetches.WithLabelValues(provider, result).Inc()
	}
}

func (m *Metrics) Run(result string, d time.Duration) {
	if m != nil {
		m.EvaluationRuns.WithLabelValues(result).Inc()
		m.EvaluationDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) Triggered(assetClass string) {
	if m != nil {
		m.AlertsTriggered.WithLabelValues(assetClass).Inc()
	}
}

func (m *Metrics) Notified(result string) {
	if m != nil {
		m.Notifications.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Denied(provider string) {
	if m != nil {
		m.LimiterDenials.WithLabelValues(provider).Inc()
	}
}

// Router serves /metrics and /healthz.
func (m *Metrics) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))
	return r
}

// Serve runs the metrics endpoint until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, log *zap.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("metrics endpoint listening", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
