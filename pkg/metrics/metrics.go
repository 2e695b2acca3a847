package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config represents metrics configuration
type Config struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Namespace string `json:"namespace" yaml:"namespace"`
	Host      string `json:"host" yaml:"host"`
	Port      int    `json:"port" yaml:"port"`
	Path      string `json:"path" yaml:"path"`
}

// Collector manages all metrics for the pipeline service
type Collector struct {
	namespace string
	registry  *prometheus.Registry

	// Pipeline run metrics
	RunsTotal        *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	StageDuration    *prometheus.HistogramVec
	RecordsProcessed prometheus.Counter
	RecordsRemoved   prometheus.Counter
	QualityScore     prometheus.Gauge

	// Source metrics
	SourceFetches     *prometheus.CounterVec
	SourceFetchRows   *prometheus.CounterVec
	SourceFetchErrors *prometheus.CounterVec

	// Security gate metrics
	CellsEncrypted   prometheus.Counter
	CellsDecrypted   prometheus.Counter
	SecurityFailures prometheus.Counter
}

// NewCollector creates a new metrics collector
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		namespace: namespace,
		registry:  registry,
	}

	c.initializeMetrics()
	c.registerMetrics()

	return c
}

// initializeMetrics initializes all metrics
func (c *Collector) initializeMetrics() {
	c.RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "runs_total",
			Help:      "Total number of pipeline runs",
		},
		[]string{"trigger", "status"},
	)

	c.RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: c.namespace,
			Name:      "run_duration_seconds",
			Help:      "End-to-end pipeline run duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
	)

	c.StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: c.namespace,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		},
		[]string{"stage"},
	)

	c.RecordsProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "records_processed_total",
			Help:      "Total number of records that survived consolidation",
		},
	)

	c.RecordsRemoved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "records_removed_total",
			Help:      "Total number of records removed by the quality hard filter",
		},
	)

	c.QualityScore = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: c.namespace,
			Name:      "data_quality_score",
			Help:      "Data quality score of the most recent run (0-100)",
		},
	)

	c.SourceFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "source_fetches_total",
			Help:      "Total fetch attempts per source",
		},
		[]string{"source", "status"},
	)

	c.SourceFetchRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "source_fetch_rows_total",
			Help:      "Total rows returned per source",
		},
		[]string{"source"},
	)

	c.SourceFetchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "source_fetch_errors_total",
			Help:      "Total fetch failures per source and error kind",
		},
		[]string{"source", "kind"},
	)

	c.CellsEncrypted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "cells_encrypted_total",
			Help:      "Total cells transformed by the secure field gate",
		},
	)

	c.CellsDecrypted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "cells_decrypted_total",
			Help:      "Total cells reversed by the secure field gate",
		},
	)

	c.SecurityFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: c.namespace,
			Name:      "security_failures_total",
			Help:      "Total cells that failed to encrypt or decrypt",
		},
	)
}

// registerMetrics registers all metrics with the registry
func (c *Collector) registerMetrics() {
	c.registry.MustRegister(
		c.RunsTotal,
		c.RunDuration,
		c.StageDuration,
		c.RecordsProcessed,
		c.RecordsRemoved,
		c.QualityScore,
		c.SourceFetches,
		c.SourceFetchRows,
		c.SourceFetchErrors,
		c.CellsEncrypted,
		c.CellsDecrypted,
		c.SecurityFailures,
	)
}

// ObserveStage records the duration of one pipeline stage.
func (c *Collector) ObserveStage(stage string, duration time.Duration) {
	c.StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordRun records the outcome of one pipeline run.
func (c *Collector) RecordRun(manual bool, success bool, duration time.Duration) {
	trigger := "scheduled"
	if manual {
		trigger = "manual"
	}
	status := "success"
	if !success {
		status = "failed"
	}
	c.RunsTotal.WithLabelValues(trigger, status).Inc()
	c.RunDuration.Observe(duration.Seconds())
}

// Handler returns the HTTP handler serving the registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Server wraps an HTTP listener that exposes the collector.
type Server struct {
	collector *Collector
	server    *http.Server
}

// NewServer creates a metrics HTTP server for the collector.
func NewServer(cfg *Config, collector *Collector) *Server {
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, collector.Handler())

	return &Server{
		collector: collector,
		server: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Handler: mux,
		},
	}
}

// Start starts the metrics server in a background goroutine.
func (s *Server) Start() {
	go func() {
		_ = s.server.ListenAndServe()
	}()
}

// Stop shuts the metrics server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
