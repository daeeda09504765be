package repository

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/pagepulse/collector/pkg/report"
)

func newTestSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	store, err := NewSQLStore(SQLStoreConfig{
		Path: filepath.Join(t.TempDir(), "reports.db"),
	})
	if err != nil {
		t.Fatalf("NewSQLStore() error = %v", err)
	}
	return store
}

func TestSQLStore_LazyInit(t *testing.T) {
	store := newTestSQLStore(t)
	defer store.Close()

	// No explicit initialization: the first operation creates the
	// schema transparently.
	count, err := store.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() on fresh store error = %v", err)
	}
	if count != 0 {
		t.Errorf("Count() = %d, want 0", count)
	}
}

func TestSQLStore_SaveAndQuery(t *testing.T) {
	store := newTestSQLStore(t)
	defer store.Close()
	ctx := context.Background()

	r := report.New("request failed", "app.network", report.SeverityMedium,
		report.NewNetworkContext(report.NetworkContext{
			URL: "https://api.example.com", Method: "POST", StatusCode: 502,
		}))
	if err := store.Save(ctx, r); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	recent, err := store.FindRecent(ctx, 1)
	if err != nil {
		t.Fatalf("FindRecent() error = %v", err)
	}
	if len(recent) != 1 || recent[0].ID != r.ID {
		t.Fatalf("FindRecent(1) = %+v, want the saved report", recent)
	}

	// The context survives the round trip with its discriminant.
	got := recent[0].Context
	if got.Kind != report.KindNetwork || got.Network == nil {
		t.Fatalf("context = %+v, want network variant", got)
	}
	if got.Network.StatusCode != 502 {
		t.Errorf("StatusCode = %d, want 502", got.Network.StatusCode)
	}
}

func TestSQLStore_CapacityEviction(t *testing.T) {
	store, err := NewSQLStore(SQLStoreConfig{
		Path:     filepath.Join(t.TempDir(), "reports.db"),
		Capacity: 5,
	})
	if err != nil {
		t.Fatalf("NewSQLStore() error = %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	var newest report.ErrorReport
	for i := 0; i < 8; i++ {
		newest = report.New(fmt.Sprintf("report %d", i), "app.browser", report.SeverityLow,
			report.NewBrowserContext(report.BrowserContext{Filename: "a.js"}))
		if err := store.Save(ctx, newest); err != nil {
			t.Fatalf("Save(%d) error = %v", i, err)
		}
	}

	count, _ := store.Count(ctx)
	if count != 5 {
		t.Errorf("Count() = %d, want 5", count)
	}

	all, _ := store.FindAll(ctx)
	if all[0].ID != newest.ID {
		t.Error("newest report must be first")
	}
	if all[0].Message != "report 7" || all[len(all)-1].Message != "report 3" {
		t.Errorf("retained window = %q..%q, want report 7..report 3",
			all[0].Message, all[len(all)-1].Message)
	}
}

func TestSQLStore_FindByCategoryAndSeverity(t *testing.T) {
	store := newTestSQLStore(t)
	defer store.Close()
	ctx := context.Background()

	save := func(category string, severity report.Severity) {
		t.Helper()
		r := report.New("m", category, severity,
			report.NewUserContext(report.UserContext{UserID: "u", Action: "a", SessionID: "s"}))
		if err := store.Save(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	save("app.user", report.SeverityLow)
	save("app.network", report.SeverityHigh)
	save("app.user", report.SeverityHigh)

	byCat, err := store.FindByCategory(ctx, "app.user")
	if err != nil {
		t.Fatalf("FindByCategory() error = %v", err)
	}
	if len(byCat) != 2 {
		t.Errorf("FindByCategory() returned %d, want 2", len(byCat))
	}

	bySev, err := store.FindBySeverity(ctx, report.SeverityHigh)
	if err != nil {
		t.Fatalf("FindBySeverity() error = %v", err)
	}
	if len(bySev) != 2 {
		t.Errorf("FindBySeverity() returned %d, want 2", len(bySev))
	}
	for _, r := range bySev {
		if r.Severity != report.SeverityHigh {
			t.Errorf("severity = %q, want high", r.Severity)
		}
	}
}

func TestSQLStore_ClearAndCount(t *testing.T) {
	store := newTestSQLStore(t)
	defer store.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		store.Save(ctx, report.New("m", "c", report.SeverityLow,
			report.NewPromiseContext(report.PromiseContext{Reason: "r"})))
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	count, err := store.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 0 {
		t.Errorf("Count() after Clear = %d, want 0", count)
	}
}

func TestSQLStore_Prune(t *testing.T) {
	store := newTestSQLStore(t)
	defer store.Close()
	ctx := context.Background()

	old := report.New("stale", "c", report.SeverityLow,
		report.NewResourceContext(report.ResourceContext{ResourceType: "script"}))
	old.Timestamp = time.Now().UTC().Add(-40 * 24 * time.Hour).Format(time.RFC3339Nano)
	store.Save(ctx, old)

	fresh := report.New("fresh", "c", report.SeverityLow,
		report.NewResourceContext(report.ResourceContext{ResourceType: "script"}))
	store.Save(ctx, fresh)

	pruned, err := store.Prune(ctx, 30*24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if pruned != 1 {
		t.Errorf("Prune() removed %d, want 1", pruned)
	}

	all, _ := store.FindAll(ctx)
	if len(all) != 1 || all[0].ID != fresh.ID {
		t.Errorf("remaining = %+v, want only the fresh report", all)
	}
}
