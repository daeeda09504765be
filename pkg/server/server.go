// Package server exposes the collector's ingestion and query surface:
// error and vitals beacons in, repository queries, a live websocket
// stream, and prometheus metrics out.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/pagepulse/collector/pkg/config"
	"github.com/pagepulse/collector/pkg/handler"
	"github.com/pagepulse/collector/pkg/logger"
	"github.com/pagepulse/collector/pkg/report"
	"github.com/pagepulse/collector/pkg/repository"
	"github.com/pagepulse/collector/pkg/vitals"
)

const maxBeaconBytes = 64 << 10

// Server is the collector HTTP server.
type Server struct {
	cfg     config.ServerConfig
	repo    repository.Repository
	capture *handler.Handler
	monitor *vitals.Monitor
	hub     *Hub
	metrics *Metrics
	limiter *rateLimiter
	log     *logger.Logger

	httpServer *http.Server
}

// New wires a server from explicitly constructed dependencies; the
// composition root owns all of them.
func New(cfg config.ServerConfig, repo repository.Repository, capture *handler.Handler, monitor *vitals.Monitor, reg *prometheus.Registry) *Server {
	metrics := NewMetrics(reg)

	s := &Server{
		cfg:     cfg,
		repo:    repo,
		capture: capture,
		monitor: monitor,
		metrics: metrics,
		hub:     NewHub(metrics),
		limiter: newRateLimiter(cfg.RateLimitPerSec, cfg.RateBurst),
		log:     logger.Global().WithComponent("server"),
	}

	// Degraded persistence is absorbed by the handler; the counter is
	// how operators see it.
	capture.SetOnSaveFailure(func(error) {
		metrics.PersistenceFailures.Inc()
	})

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/errors", s.rateLimited(s.handleIngestError))
	mux.HandleFunc("GET /v1/errors", s.handleQueryErrors)
	mux.HandleFunc("DELETE /v1/errors", s.handleClearErrors)
	mux.HandleFunc("GET /v1/errors/stats", s.handleErrorStats)
	mux.HandleFunc("POST /v1/vitals", s.rateLimited(s.handleIngestVitals))
	mux.HandleFunc("GET /v1/vitals/score", s.handleScore)
	mux.HandleFunc("GET /v1/stream", s.hub.ServeHTTP)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Hub returns the live stream hub so the composition root can publish
// telemetry events to it.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("listening", "addr", s.cfg.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		s.hub.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				s.limiter.sweep()
			}
		}
	})

	return g.Wait()
}

// rateLimited rejects beacons from remotes past their token bucket.
func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.allow(remoteKey(r)) {
			s.metrics.BeaconsRejected.WithLabelValues("rate_limited").Inc()
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

// errorBeacon is the wire shape of an inbound error report. The
// context may be tagged (kind present) or untagged, in which case the
// classifier infers the variant.
type errorBeacon struct {
	Message  string          `json:"message"`
	Category string          `json:"category,omitempty"`
	Severity report.Severity `json:"severity,omitempty"`
	Context  json.RawMessage `json:"context"`
}

func (s *Server) handleIngestError(w http.ResponseWriter, r *http.Request) {
	var beacon errorBeacon
	if err := decodeJSON(w, r, &beacon); err != nil {
		s.metrics.BeaconsRejected.WithLabelValues("malformed").Inc()
		return
	}

	if beacon.Message == "" {
		s.metrics.BeaconsRejected.WithLabelValues("malformed").Inc()
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	ectx, err := decodeContext(beacon.Context)
	if err != nil {
		s.metrics.BeaconsRejected.WithLabelValues("unclassified").Inc()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	captured := s.capture.Capture(r.Context(), beacon.Message, beacon.Category, beacon.Severity, ectx)
	s.metrics.ReportsIngested.WithLabelValues(string(ectx.Kind)).Inc()

	writeJSON(w, http.StatusAccepted, map[string]string{"id": captured.ID})
}

// decodeContext accepts either a tagged ErrorContext or an untagged
// field map routed through the structural classifier.
func decodeContext(raw json.RawMessage) (report.ErrorContext, error) {
	if len(raw) == 0 {
		return report.ErrorContext{}, fmt.Errorf("context is required")
	}

	var probe map[string]any
	if err := json.Unmarshal(raw, &probe); err != nil {
		return report.ErrorContext{}, fmt.Errorf("context must be an object")
	}

	if _, tagged := probe["kind"]; tagged {
		var ectx report.ErrorContext
		if err := json.Unmarshal(raw, &ectx); err != nil {
			return report.ErrorContext{}, fmt.Errorf("malformed tagged context")
		}
		if !ectx.Valid() {
			return report.ErrorContext{}, fmt.Errorf("tagged context kind does not match payload")
		}
		return ectx, nil
	}

	return report.ParseContext(probe)
}

func (s *Server) handleQueryErrors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ctx := r.Context()

	var (
		reports []report.ErrorReport
		err     error
	)
	switch {
	case q.Get("category") != "":
		reports, err = s.repo.FindByCategory(ctx, q.Get("category"))
	case q.Get("severity") != "":
		reports, err = s.repo.FindBySeverity(ctx, report.Severity(q.Get("severity")))
	default:
		reports, err = s.repo.FindAll(ctx)
	}
	if err != nil {
		s.log.ErrorEvent(ctx, "report query failed", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}

	if limitStr := q.Get("limit"); limitStr != "" {
		limit, parseErr := strconv.Atoi(limitStr)
		if parseErr != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if limit < len(reports) {
			reports = reports[:limit]
		}
	}

	if reports == nil {
		reports = []report.ErrorReport{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reports": reports,
		"count":   len(reports),
	})
}

func (s *Server) handleClearErrors(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Clear(r.Context()); err != nil {
		s.log.ErrorEvent(r.Context(), "clear failed", err)
		writeError(w, http.StatusInternalServerError, "clear failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleErrorStats(w http.ResponseWriter, r *http.Request) {
	reports, err := s.repo.FindAll(r.Context())
	if err != nil {
		s.log.ErrorEvent(r.Context(), "stats query failed", err)
		writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}

	byCategory := make(map[string]int)
	bySeverity := make(map[string]int)
	for _, rep := range reports {
		byCategory[rep.Category]++
		bySeverity[string(rep.Severity)]++
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total":       len(reports),
		"by_category": byCategory,
		"by_severity": bySeverity,
	})
}

func (s *Server) handleIngestVitals(w http.ResponseWriter, r *http.Request) {
	var entry vitals.Entry
	if err := decodeJSON(w, r, &entry); err != nil {
		s.metrics.BeaconsRejected.WithLabelValues("malformed").Inc()
		return
	}

	if err := s.monitor.Observe(entry); err != nil {
		if errors.Is(err, vitals.ErrNotMonitoring) {
			s.metrics.BeaconsRejected.WithLabelValues("not_monitoring").Inc()
			writeError(w, http.StatusConflict, "monitor is not running")
			return
		}
		s.metrics.BeaconsRejected.WithLabelValues("malformed").Inc()
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.metrics.VitalsObserved.WithLabelValues(string(entry.Metric)).Inc()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"monitoring": s.monitor.Monitoring(),
		"snapshot":   s.monitor.Snapshot(),
		"budgets":    s.monitor.CheckBudgets(),
		"score":      s.monitor.Score(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	count, err := s.repo.Count(r.Context())
	status := "ok"
	if err != nil {
		// Degraded persistence is reportable but not fatal.
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"stored_reports": count,
		"stream_clients": s.hub.ClientCount(),
	})
}

// JSON helpers

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBeaconBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
