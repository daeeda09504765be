package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pagepulse/collector/pkg/logger"
	"github.com/pagepulse/collector/pkg/report"
)

// FileStore keeps all reports in a single JSON-encoded array on disk,
// capped at the configured capacity, most-recent-first. It is the
// simpler of the two backends: every write re-encodes the full array.
type FileStore struct {
	path     string
	capacity int
	mu       sync.Mutex
	closed   bool
	log      *logger.Logger

	// writeFile is a seam so tests can simulate quota pressure.
	writeFile func(name string, data []byte, perm os.FileMode) error
}

// FileStoreConfig configures the blob backend.
type FileStoreConfig struct {
	Path     string // Path to the JSON state file
	Capacity int    // Max retained reports (0 = DefaultCapacity)
}

// NewFileStore creates a blob-backed repository. The parent directory
// is created if missing.
func NewFileStore(cfg FileStoreConfig) (*FileStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("file store path required")
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	return &FileStore{
		path:      cfg.Path,
		capacity:  cfg.Capacity,
		log:       logger.Global().WithComponent("filestore"),
		writeFile: os.WriteFile,
	}, nil
}

// load reads the current array. A missing file is an empty store; a
// corrupt file is treated as empty so one bad write cannot wedge the
// collector permanently.
func (s *FileStore) load() []report.ErrorReport {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("failed to read state file", "path", s.path, "error", err)
		}
		return nil
	}

	var reports []report.ErrorReport
	if err := json.Unmarshal(data, &reports); err != nil {
		s.log.Warn("discarding corrupt state file", "path", s.path, "error", err)
		return nil
	}
	return reports
}

func (s *FileStore) write(reports []report.ErrorReport) error {
	if reports == nil {
		reports = []report.ErrorReport{}
	}
	data, err := json.Marshal(reports)
	if err != nil {
		return fmt.Errorf("failed to serialize reports: %w", err)
	}
	return s.writeFile(s.path, data, 0640)
}

// Save inserts the report at the head and evicts past capacity. If the
// write fails (disk full, quota), it retries once with a strictly
// smaller retained set so the newest report survives under pressure.
func (s *FileStore) Save(ctx context.Context, r report.ErrorReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	reports := append([]report.ErrorReport{r}, s.load()...)
	if len(reports) > s.capacity {
		reports = reports[:s.capacity]
	}

	err := s.write(reports)
	if err == nil {
		return nil
	}

	// Shrink and retry once. Halving guarantees at least one eviction
	// while the head (the new report) is always kept.
	retained := len(reports) / 2
	if retained < 1 {
		retained = 1
	}
	s.log.Warn("state write failed, retrying with smaller history",
		"error", err, "retained", retained)

	if retryErr := s.write(reports[:retained]); retryErr != nil {
		return fmt.Errorf("failed to persist report after shrink: %w", retryErr)
	}
	return nil
}

// FindAll returns a copy of all reports, most-recent-first.
func (s *FileStore) FindAll(ctx context.Context) ([]report.ErrorReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.load(), nil
}

// FindByCategory filters FindAll by exact category match.
func (s *FileStore) FindByCategory(ctx context.Context, category string) ([]report.ErrorReport, error) {
	all, err := s.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	return filterReports(all, func(r report.ErrorReport) bool {
		return r.Category == category
	}), nil
}

// FindBySeverity filters FindAll by exact severity match.
func (s *FileStore) FindBySeverity(ctx context.Context, severity report.Severity) ([]report.ErrorReport, error) {
	all, err := s.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	return filterReports(all, func(r report.ErrorReport) bool {
		return r.Severity == severity
	}), nil
}

// FindRecent returns the first limit reports. A limit past the end of
// the collection is not an error.
func (s *FileStore) FindRecent(ctx context.Context, limit int) ([]report.ErrorReport, error) {
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
func (s *FileStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.write(nil)
}

// Count returns the number of stored reports.
func (s *FileStore) Count(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	return len(s.load()), nil
}

// Close marks the store closed. The state file remains on disk.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Path returns the state file path.
func (s *FileStore) Path() string {
	return s.path
}
