// Package handler is the capture facade: it turns runtime errors into
// persisted error reports. Persistence failures are logged and absorbed;
// the only path that propagates an error to the caller is Retry
// exhaustion.
package handler

import (
	"context"
	"fmt"
	"sync"

	"github.com/pagepulse/collector/pkg/logger"
	"github.com/pagepulse/collector/pkg/report"
	"github.com/pagepulse/collector/pkg/repository"
)

// ReportCallback is invoked after each captured report, whether or not
// persistence succeeded.
type ReportCallback func(report.ErrorReport)

// SaveFailureCallback is invoked when a best-effort repository save
// fails, so the composition root can count degraded persistence.
type SaveFailureCallback func(error)

// Config configures a Handler.
type Config struct {
	Component string         // Attached to every captured report's category prefix
	DevMode   bool           // Enables process-wide panic capture via Go()
	OnReport  ReportCallback // Optional per-report callback
}

// Handler captures errors, enriches them with component metadata, and
// forwards them to the repository.
type Handler struct {
	repo      repository.Repository
	log       *logger.Logger
	component string
	devMode   bool
	onReport  ReportCallback
	onSaveErr SaveFailureCallback
	wg        sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// New creates a Handler backed by the given repository.
func New(repo repository.Repository, cfg Config) *Handler {
	component := cfg.Component
	if component == "" {
		component = "app"
	}
	return &Handler{
		repo:      repo,
		log:       logger.Global().WithComponent("handler"),
		component: component,
		devMode:   cfg.DevMode,
		onReport:  cfg.OnReport,
	}
}

// severityFor maps context variants to a default severity.
func severityFor(kind report.ContextKind) report.Severity {
	switch kind {
	case report.KindBrowser, report.KindPromise:
		return report.SeverityHigh
	case report.KindNetwork, report.KindResource:
		return report.SeverityMedium
	default:
		return report.SeverityLow
	}
}

// Capture builds and persists a report. Empty category and severity
// fall back to component.kind and a variant-derived default. The
// repository save is best-effort: failures are logged, never raised.
func (h *Handler) Capture(ctx context.Context, message, category string, severity report.Severity, ectx report.ErrorContext) report.ErrorReport {
	if category == "" {
		category = fmt.Sprintf("%s.%s", h.component, ectx.Kind)
	}
	if severity == "" {
		severity = severityFor(ectx.Kind)
	}

	r := report.New(message, category, severity, ectx)

	saveErr := h.repo.Save(ctx, r)
	if saveErr != nil {
		h.log.Warn("failed to persist error report",
			"report_id", r.ID,
			"category", r.Category,
			"error", saveErr)
	}

	h.mu.Lock()
	cb := h.onReport
	failCB := h.onSaveErr
	h.mu.Unlock()
	if saveErr != nil && failCB != nil {
		failCB(saveErr)
	}
	if cb != nil {
		cb(r)
	}

	return r
}

// SetOnReport replaces the per-report callback. Wired by the
// composition root after construction.
func (h *Handler) SetOnReport(fn ReportCallback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onReport = fn
}

// SetOnSaveFailure replaces the save-failure callback.
func (h *Handler) SetOnSaveFailure(fn SaveFailureCallback) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onSaveErr = fn
}

// HandleError captures err synchronously with defaults derived from
// the context variant.
func (h *Handler) HandleError(ctx context.Context, err error, ectx report.ErrorContext) report.ErrorReport {
	return h.Capture(ctx, err.Error(), "", "", ectx)
}

// WrapSync runs fn and captures any returned error. On failure the
// result is nil, which is indistinguishable from fn legitimately
// returning nil; callers that need the distinction should call fn
// directly and use HandleError themselves.
func (h *Handler) WrapSync(ctx context.Context, fn func() (any, error), ectx report.ErrorContext) any {
	result, err := fn()
	if err != nil {
		h.HandleError(ctx, err, ectx)
		return nil
	}
	return result
}

// WrapAsync runs a context-aware operation and captures any returned
// error. Same nil-on-failure contract as WrapSync.
func (h *Handler) WrapAsync(ctx context.Context, fn func(context.Context) (any, error), ectx report.ErrorContext) any {
	result, err := fn(ctx)
	if err != nil {
		h.HandleError(ctx, err, ectx)
		return nil
	}
	return result
}

// Go runs fn on a new goroutine. In dev mode a panic is recovered and
// funneled through HandleError as an unhandled-rejection analogue; in
// production the panic propagates and crashes the process as usual.
func (h *Handler) Go(name string, fn func()) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()

	go func() {
		defer h.wg.Done()
		if h.devMode {
			defer func() {
				if v := recover(); v != nil {
					h.HandleError(context.Background(),
						fmt.Errorf("panic in %s: %v", name, v),
						report.NewPromiseContext(report.PromiseContext{
							Reason:    fmt.Sprintf("%v", v),
							PromiseID: name,
						}))
				}
			}()
		}
		fn()
	}()
}

// Close waits for in-flight Go() goroutines and tears down the
// dev-mode capture.
func (h *Handler) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.wg.Wait()
}
