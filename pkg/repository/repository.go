// Package repository persists error reports. Two interchangeable
// backends exist: a JSON blob file and an indexed SQLite store.
// Persistence is best-effort telemetry, not a durability guarantee;
// methods return errors so callers can observe degraded persistence,
// but callers are expected to log and continue rather than fail.
package repository

import (
	"context"
	"errors"

	"github.com/pagepulse/collector/pkg/report"
)

// DefaultCapacity is the maximum number of retained reports.
const DefaultCapacity = 50

var ErrClosed = errors.New("repository closed")

// Repository stores error reports most-recent-first by insertion order.
// Saving past capacity evicts the oldest report; the newly saved report
// is always retained.
type Repository interface {
	Save(ctx context.Context, r report.ErrorReport) error
	FindAll(ctx context.Context) ([]report.ErrorReport, error)
	FindByCategory(ctx context.Context, category string) ([]report.ErrorReport, error)
	FindBySeverity(ctx context.Context, severity report.Severity) ([]report.ErrorReport, error)
	FindRecent(ctx context.Context, limit int) ([]report.ErrorReport, error)
	Clear(ctx context.Context) error
	Count(ctx context.Context) (int, error)
	Close() error
}

// filterReports returns the subset of reports matching pred, preserving
// order. Used by the blob backend where there are no indices to lean on.
func filterReports(reports []report.ErrorReport, pred func(report.ErrorReport) bool) []report.ErrorReport {
	out := make([]report.ErrorReport, 0, len(reports))
	for _, r := range reports {
		if pred(r) {
			out = append(out, r)
		}
	}
	return out
}
