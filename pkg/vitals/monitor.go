package vitals

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pagepulse/collector/pkg/logger"
)

var (
	ErrAlreadyMonitoring = errors.New("monitor already started")
	ErrNotMonitoring     = errors.New("monitor not started")
)

// Update is delivered to subscribers after each accepted observation.
type Update struct {
	Metric   Metric   `json:"metric"`
	Snapshot Snapshot `json:"snapshot"`
}

// Subscriber receives updates synchronously on the observing goroutine.
// Callbacks must not block.
type Subscriber func(Update)

// MonitorConfig configures a Monitor.
type MonitorConfig struct {
	Budgets Budgets

	// BudgetCheckDelay is how long after Start the one-shot budget
	// evaluation runs.
	BudgetCheckDelay time.Duration
}

// DefaultMonitorConfig returns the standard monitor configuration.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Budgets:          DefaultBudgets(),
		BudgetCheckDelay: 3 * time.Second,
	}
}

// Monitor aggregates observations into a snapshot. It is a two-state
// machine: Idle until Start, Monitoring until Stop, with no
// intermediate states. Observations while Idle are dropped.
type Monitor struct {
	budgets    Budgets
	checkDelay time.Duration
	log        *logger.Logger

	mu          sync.RWMutex
	monitoring  bool
	snapshot    Snapshot
	bundleKB    *float64
	subscribers map[int]Subscriber
	nextSubID   int
	budgetTimer *time.Timer
}

// NewMonitor creates an idle monitor.
func NewMonitor(cfg MonitorConfig) *Monitor {
	if cfg.BudgetCheckDelay <= 0 {
		cfg.BudgetCheckDelay = DefaultMonitorConfig().BudgetCheckDelay
	}
	if cfg.Budgets == (Budgets{}) {
		cfg.Budgets = DefaultBudgets()
	}
	return &Monitor{
		budgets:     cfg.Budgets,
		checkDelay:  cfg.BudgetCheckDelay,
		log:         logger.Global().WithComponent("vitals"),
		subscribers: make(map[int]Subscriber),
	}
}

// Start transitions to Monitoring with a fresh snapshot and arms the
// one-shot budget evaluation.
func (m *Monitor) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.monitoring {
		return ErrAlreadyMonitoring
	}

	m.monitoring = true
	m.snapshot = Snapshot{}
	m.bundleKB = nil
	m.budgetTimer = time.AfterFunc(m.checkDelay, m.evaluateBudgets)

	m.log.Info("monitoring started", "budget_check_delay", m.checkDelay)
	return nil
}

// Stop disarms the budget check and returns to Idle. The session
// snapshot is discarded.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.monitoring {
		return
	}

	m.monitoring = false
	if m.budgetTimer != nil {
		m.budgetTimer.Stop()
		m.budgetTimer = nil
	}

	m.log.Info("monitoring stopped")
}

// Observe folds one entry into the snapshot and notifies subscribers.
// Entries arriving while Idle are dropped with ErrNotMonitoring.
func (m *Monitor) Observe(e Entry) error {
	m.mu.Lock()

	if !m.monitoring {
		m.mu.Unlock()
		return ErrNotMonitoring
	}

	switch e.Metric {
	case MetricFCP:
		m.snapshot.FCP = ptr(e.Value)
	case MetricLCP:
		m.snapshot.LCP = ptr(e.Value)
	case MetricFID:
		m.snapshot.FID = ptr(e.Value)
	case MetricTTFB:
		m.snapshot.TTFB = ptr(e.Value)
	case MetricLayoutShift:
		// Shifts caused by recent user input are expected and do not
		// count toward CLS.
		if !e.HadRecentInput {
			m.snapshot.CLS += e.Value
		}
	case MetricBundleSize:
		m.bundleKB = ptr(e.Value)
	default:
		m.mu.Unlock()
		return fmt.Errorf("unknown metric %q", e.Metric)
	}

	update := Update{Metric: e.Metric, Snapshot: m.snapshot}
	subs := make([]Subscriber, 0, len(m.subscribers))
	for _, fn := range m.subscribers {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	// Synchronous fan-out outside the lock so a subscriber calling back
	// into the monitor cannot deadlock.
	for _, fn := range subs {
		fn(update)
	}

	return nil
}

// Subscribe registers a callback for metric updates and returns an id
// for Unsubscribe.
func (m *Monitor) Subscribe(fn Subscriber) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = fn
	return id
}

// Unsubscribe removes a subscriber.
func (m *Monitor) Unsubscribe(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subscribers, id)
}

// Monitoring reports whether the monitor is in the Monitoring state.
func (m *Monitor) Monitoring() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.monitoring
}

// Snapshot returns a copy of the current session snapshot.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// CheckBudgets compares the current snapshot against the configured
// budgets. Only observed metrics produce results; CLS is always
// observed (it accumulates from zero).
func (m *Monitor) CheckBudgets() []BudgetResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []BudgetResult
	add := func(metric Metric, value *float64, budget float64) {
		if value == nil {
			return
		}
		results = append(results, BudgetResult{
			Metric: metric,
			Value:  *value,
			Budget: budget,
			Passed: *value <= budget,
		})
	}

	add(MetricFCP, m.snapshot.FCP, m.budgets.FCPMs)
	add(MetricLCP, m.snapshot.LCP, m.budgets.LCPMs)
	add(MetricFID, m.snapshot.FID, m.budgets.FIDMs)
	add(MetricLayoutShift, &m.snapshot.CLS, m.budgets.CLS)
	add(MetricBundleSize, m.bundleKB, m.budgets.BundleSizeKB)

	return results
}

// evaluateBudgets runs once per session, logging pass/fail per metric.
func (m *Monitor) evaluateBudgets() {
	for _, r := range m.CheckBudgets() {
		if r.Passed {
			m.log.Info("budget check passed",
				"metric", string(r.Metric), "value", r.Value, "budget", r.Budget)
		} else {
			m.log.Warn("budget check failed",
				"metric", string(r.Metric), "value", r.Value, "budget", r.Budget)
		}
	}
}

// Score maps each observed metric to a 0-100 sub-score by linear
// interpolation against its budget (100 at zero, 0 at or beyond the
// budget) and averages over observed metrics only; unobserved metrics
// are excluded from the average rather than penalized. Returns 0 when
// nothing has been observed.
func (m *Monitor) Score() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total float64
	var n int

	score := func(value, budget float64) {
		s := 100 * (1 - value/budget)
		if s < 0 {
			s = 0
		}
		total += s
		n++
	}

	if m.snapshot.FCP != nil {
		score(*m.snapshot.FCP, m.budgets.FCPMs)
	}
	if m.snapshot.LCP != nil {
		score(*m.snapshot.LCP, m.budgets.LCPMs)
	}
	if m.snapshot.FID != nil {
		score(*m.snapshot.FID, m.budgets.FIDMs)
	}
	if m.snapshot.CLS > 0 {
		score(m.snapshot.CLS, m.budgets.CLS)
	}

	if n == 0 {
		return 0
	}
	return total / float64(n)
}

func ptr(v float64) *float64 {
	return &v
}
