package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pagepulse/collector/pkg/report"
)

// SQLStore persists reports to SQLite with secondary indices on
// category, severity, and timestamp. Schema creation is deferred until
// the first operation so construction never touches the disk; callers
// see the latent initialization only as first-call latency.
type SQLStore struct {
	db       *sql.DB
	path     string
	capacity int
	mu       sync.RWMutex
	initOnce sync.Once
	initErr  error
}

// SQLStoreConfig configures the indexed backend.
type SQLStoreConfig struct {
	Path     string // Path to SQLite database file
	Capacity int    // Max retained reports (0 = DefaultCapacity)
}

// NewSQLStore opens the database handle. The schema is created lazily
// on first use.
func NewSQLStore(cfg SQLStoreConfig) (*SQLStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sql store path required")
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &SQLStore{
		db:       db,
		path:     cfg.Path,
		capacity: cfg.Capacity,
	}, nil
}

// init creates the schema exactly once. seq preserves insertion order;
// reverse-chronological reads order by seq, not by the timestamp field.
func (s *SQLStore) init() error {
	s.initOnce.Do(func() {
		_, err := s.db.Exec(`
			CREATE TABLE IF NOT EXISTS reports (
				seq          INTEGER PRIMARY KEY AUTOINCREMENT,
				id           TEXT NOT NULL UNIQUE,
				message      TEXT NOT NULL,
				category     TEXT NOT NULL,
				severity     TEXT NOT NULL,
				timestamp    TEXT NOT NULL,
				context_json TEXT NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_reports_category ON reports(category);
			CREATE INDEX IF NOT EXISTS idx_reports_severity ON reports(severity);
			CREATE INDEX IF NOT EXISTS idx_reports_timestamp ON reports(timestamp);
		`)
		if err != nil {
			s.initErr = fmt.Errorf("failed to create schema: %w", err)
		}
	})
	return s.initErr
}

// Save inserts the report and evicts the oldest rows past capacity.
// Each statement is transactional on its own; Save does not serialize
// against concurrent Save calls beyond the store mutex.
func (s *SQLStore) Save(ctx context.Context, r report.ErrorReport) error {
	if err := s.init(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ctxJSON, err := json.Marshal(r.Context)
	if err != nil {
		return fmt.Errorf("failed to serialize context: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO reports (id, message, category, severity, timestamp, context_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.ID, r.Message, r.Category, string(r.Severity), r.Timestamp, string(ctxJSON))
	if err != nil {
		return fmt.Errorf("insert failed: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		DELETE FROM reports WHERE seq NOT IN (
			SELECT seq FROM reports ORDER BY seq DESC LIMIT ?
		)
	`, s.capacity)
	if err != nil {
		return fmt.Errorf("capacity eviction failed: %w", err)
	}

	return nil
}

func (s *SQLStore) query(ctx context.Context, where string, args ...any) ([]report.ErrorReport, error) {
	if err := s.init(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	q := "SELECT id, message, category, severity, timestamp, context_json FROM reports"
	if where != "" {
		q += " WHERE " + where
	}
	q += " ORDER BY seq DESC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var results []report.ErrorReport
	for rows.Next() {
		var r report.ErrorReport
		var sev, ctxJSON string
		if err := rows.Scan(&r.ID, &r.Message, &r.Category, &sev, &r.Timestamp, &ctxJSON); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		r.Severity = report.Severity(sev)
		if err := json.Unmarshal([]byte(ctxJSON), &r.Context); err != nil {
			return nil, fmt.Errorf("failed to decode context for %s: %w", r.ID, err)
		}
		results = append(results, r)
	}

	return results, rows.Err()
}

// FindAll returns all reports, most-recent-first by insertion.
func (s *SQLStore) FindAll(ctx context.Context) ([]report.ErrorReport, error) {
	return s.query(ctx, "")
}

// FindByCategory returns reports with an exactly matching category.
func (s *SQLStore) FindByCategory(ctx context.Context, category string) ([]report.ErrorReport, error) {
	return s.query(ctx, "category = ?", category)
}

// FindBySeverity returns reports with an exactly matching severity.
func (s *SQLStore) FindBySeverity(ctx context.Context, severity report.Severity) ([]report.ErrorReport, error) {
	return s.query(ctx, "severity = ?", string(severity))
}

// FindRecent returns up to limit of the newest reports.
func (s *SQLStore) FindRecent(ctx context.Context, limit int) ([]report.ErrorReport, error) {
	all, err := s.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	if limit < 0 {
		limit = 0
	}
	if limit > len(all) {
		limit = len(all)
	}
	return all[:limit], nil
}

// Clear removes every stored report.
func (s *SQLStore) Clear(ctx context.Context) error {
	if err := s.init(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM reports")
	return err
}

// Count returns the number of stored reports.
func (s *SQLStore) Count(ctx context.Context) (int, error) {
	if err := s.init(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM reports").Scan(&n)
	return n, err
}

// Prune deletes reports whose timestamp is older than the cutoff.
// Returns the number of rows removed. Used by the retention job.
func (s *SQLStore) Prune(ctx context.Context, olderThan time.Duration) (int64, error) {
	if err := s.init(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, "DELETE FROM reports WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune failed: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLStore) Path() string {
	return s.path
}
