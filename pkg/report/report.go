// Package report defines the error report data model for the PagePulse
// collector: immutable error reports with a tagged context union and a
// structural classifier for untagged client beacons.
package report

import (
	"time"

	"github.com/google/uuid"
)

// Severity levels for reports
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ErrorReport is a single captured error. Reports are immutable once
// created; identity is the ID.
type ErrorReport struct {
	ID        string       `json:"id"`
	Message   string       `json:"message"`
	Category  string       `json:"category"`
	Severity  Severity     `json:"severity"`
	Timestamp string       `json:"timestamp"`
	Context   ErrorContext `json:"context"`
}

// New creates a report with a generated ID and the current time.
func New(message, category string, severity Severity, ctx ErrorContext) ErrorReport {
	return ErrorReport{
		ID:        uuid.NewString(),
		Message:   message,
		Category:  category,
		Severity:  severity,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Context:   ctx,
	}
}

// Time parses the report timestamp. Returns the zero time if the
// timestamp is malformed.
func (r ErrorReport) Time() time.Time {
	t, err := time.Parse(time.RFC3339Nano, r.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}
