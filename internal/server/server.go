// Package server exposes watch-mode observability: a status endpoint
// and Prometheus metrics updated after every measurement run. One-shot
// invocations never start it.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/HerbHall/pathvantage/internal/metric"
	"github.com/HerbHall/pathvantage/internal/version"
)

// Server serves /api/v1/status and /metrics while watch mode runs.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger

	mu       sync.RWMutex
	lastRuns map[string]*metric.RunResult // keyed by target/iface
	lastSeen time.Time
	cycles   int

	latency    *prometheus.GaugeVec
	loss       *prometheus.GaugeVec
	throughput *prometheus.GaugeVec
	deltaLat   *prometheus.GaugeVec
	runsTotal  prometheus.Counter
}

// New builds the server and registers its collectors on a private
// registry so watch mode never fights other users of the default one.
func New(addr string, logger *zap.Logger) *Server {
	reg := prometheus.NewRegistry()

	s := &Server{
		logger:   logger,
		lastRuns: make(map[string]*metric.RunResult),
		latency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pathvantage_latency_ms",
			Help: "Baseline path latency per target and interface.",
		}, []string{"target", "iface", "stat"}),
		loss: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pathvantage_loss_percent",
			Help: "Baseline probe loss per target and interface.",
		}, []string{"target", "iface"}),
		throughput: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pathvantage_throughput_mbps",
			Help: "Measured throughput per target, interface and direction.",
		}, []string{"target", "iface", "direction"}),
		deltaLat: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pathvantage_load_latency_delta_ms",
			Help: "Latency increase under load versus idle baseline.",
		}, []string{"target", "iface", "direction"}),
		runsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pathvantage_runs_total",
			Help: "Completed (target, interface) measurement runs.",
		}),
	}
	reg.MustRegister(s.latency, s.loss, s.throughput, s.deltaLat, s.runsTotal)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/", s.handleNotFound)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Observe folds one completed run into the status snapshot and the
// exported metrics. Called from the orchestrating goroutine only.
func (s *Server) Observe(r *metric.RunResult) {
	key := r.TargetAddr + "/" + r.Iface

	s.mu.Lock()
	s.lastRuns[key] = r
	s.lastSeen = time.Now().UTC()
	s.mu.Unlock()

	labels := prometheus.Labels{"target": r.TargetAddr, "iface": r.Iface}
	setStat := func(stat string, v metric.Sample) {
		if f, ok := v.Value(); ok {
			s.latency.With(prometheus.Labels{"target": r.TargetAddr, "iface": r.Iface, "stat": stat}).Set(f)
		}
	}
	setStat("best", r.Baseline.Best)
	setStat("avg", r.Baseline.Avg)
	setStat("worst", r.Baseline.Worst)
	setStat("jitter", r.Baseline.Jitter)

	if f, ok := r.Baseline.Loss.Value(); ok {
		s.loss.With(labels).Set(f)
	}
	s.setThroughput(r.TargetAddr, r.Iface, &r.Upload)
	s.setThroughput(r.TargetAddr, r.Iface, &r.Download)
	if f, ok := r.UploadDeltaLatency.Value(); ok {
		s.deltaLat.With(prometheus.Labels{"target": r.TargetAddr, "iface": r.Iface, "direction": string(metric.Upload)}).Set(f)
	}
	if f, ok := r.DownloadDeltaLatency.Value(); ok {
		s.deltaLat.With(prometheus.Labels{"target": r.TargetAddr, "iface": r.Iface, "direction": string(metric.Download)}).Set(f)
	}
	s.runsTotal.Inc()
}

// CycleCompleted marks the end of one watch iteration over all pairs.
func (s *Server) CycleCompleted() {
	s.mu.Lock()
	s.cycles++
	s.mu.Unlock()
}

func (s *Server) setThroughput(target, iface string, t *metric.ThroughputResult) {
	if f, ok := t.Mbps.Value(); ok {
		s.throughput.With(prometheus.Labels{
			"target": target, "iface": iface, "direction": string(t.Direction),
		}).Set(f)
	}
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	NotFound(w, "no such endpoint", r.URL.Path)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"version": version.Short(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	runs := make([]*metric.RunResult, 0, len(s.lastRuns))
	for _, r := range s.lastRuns {
		runs = append(runs, r)
	}
	resp := struct {
		Version  string              `json:"version"`
		Cycles   int                 `json:"cycles"`
		LastSeen time.Time           `json:"last_seen,omitempty"`
		Runs     []*metric.RunResult `json:"runs"`
	}{version.Short(), s.cycles, s.lastSeen, runs}
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		InternalError(w, err.Error(), "/api/v1/status")
	}
}

// Start begins serving. Blocks until Shutdown or a listen failure.
func (s *Server) Start() error {
	s.logger.Info("watch endpoint listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down watch endpoint")
	return s.httpServer.Shutdown(ctx)
}
