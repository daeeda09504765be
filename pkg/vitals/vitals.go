// Package vitals aggregates Web Vitals observations reported by page
// clients into a per-session snapshot, evaluates the snapshot against
// static performance budgets, and fans updates out to subscribers.
package vitals

// Metric names a Web Vitals signal.
type Metric string

const (
	MetricFCP  Metric = "fcp"  // first contentful paint, ms
	MetricLCP  Metric = "lcp"  // largest contentful paint, ms
	MetricFID  Metric = "fid"  // first input delay, ms
	MetricTTFB Metric = "ttfb" // time to first byte, ms

	// MetricLayoutShift is a single layout-shift entry; its scores
	// accumulate into the snapshot CLS.
	MetricLayoutShift Metric = "layout_shift"

	// MetricBundleSize is the client-reported bundle transfer size in
	// KB. It participates in budget evaluation but not in the score.
	MetricBundleSize Metric = "bundle_size"
)

// Entry is one observation from a page client.
type Entry struct {
	Metric Metric  `json:"metric"`
	Value  float64 `json:"value"`

	// HadRecentInput marks a layout shift caused by user input; such
	// shifts are excluded from CLS accumulation.
	HadRecentInput bool `json:"had_recent_input,omitempty"`
}

// Snapshot is the mutable per-session metrics view. CLS starts at zero
// and accumulates; the remaining metrics are nil until first observed.
type Snapshot struct {
	FCP  *float64 `json:"fcp,omitempty"`
	LCP  *float64 `json:"lcp,omitempty"`
	FID  *float64 `json:"fid,omitempty"`
	TTFB *float64 `json:"ttfb,omitempty"`
	CLS  float64  `json:"cls"`
}

// Budgets are the static thresholds metrics are checked against.
type Budgets struct {
	FCPMs        float64 `toml:"fcp_ms"`
	LCPMs        float64 `toml:"lcp_ms"`
	FIDMs        float64 `toml:"fid_ms"`
	CLS          float64 `toml:"cls"`
	BundleSizeKB float64 `toml:"bundle_size_kb"`
}

// DefaultBudgets returns the standard budget set.
func DefaultBudgets() Budgets {
	return Budgets{
		FCPMs:        1500,
		LCPMs:        2500,
		FIDMs:        100,
		CLS:          0.1,
		BundleSizeKB: 500,
	}
}

// BudgetResult is the outcome of checking one metric against its budget.
type BudgetResult struct {
	Metric Metric  `json:"metric"`
	Value  float64 `json:"value"`
	Budget float64 `json:"budget"`
	Passed bool    `json:"passed"`
}
