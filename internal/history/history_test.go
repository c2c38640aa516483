package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "github.com/youssefjedidi/airport-operations-pipeline/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "runs.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestRunLifecycle(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	started := time.Now().Add(-time.Minute)
	id, err := st.RunStarted(ctx, "Monitor", started)
	if err != nil {
		t.Fatalf("RunStarted: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero run id")
	}

	runs, err := st.Recent(ctx, "Monitor", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != StatusStarted {
		t.Fatalf("unexpected in-flight rows: %+v", runs)
	}
	if !runs[0].FinishedAt.IsZero() {
		t.Fatalf("in-flight run has a finish time: %+v", runs[0])
	}

	if err := st.RunFinished(ctx, id, "failed", 3, time.Now(), "task Monitor failed with exit code 3"); err != nil {
		t.Fatalf("RunFinished: %v", err)
	}

	runs, err = st.Recent(ctx, "Monitor", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 row, got %d", len(runs))
	}
	got := runs[0]
	if got.Status != "failed" || got.ExitCode != 3 || got.Error == "" {
		t.Fatalf("unexpected terminal row: %+v", got)
	}
	if got.FinishedAt.IsZero() || got.FinishedAt.Before(got.StartedAt) {
		t.Fatalf("bad timestamps: %+v", got)
	}
}

func TestRecentFiltersAndOrders(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := st.RunStarted(ctx, "Monitor", time.Now()); err != nil {
			t.Fatalf("RunStarted: %v", err)
		}
	}
	if _, err := st.RunStarted(ctx, "Reporter", time.Now()); err != nil {
		t.Fatalf("RunStarted: %v", err)
	}

	monitor, err := st.Recent(ctx, "Monitor", 2)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(monitor) != 2 {
		t.Fatalf("limit ignored, got %d rows", len(monitor))
	}
	if monitor[0].ID < monitor[1].ID {
		t.Fatal("expected newest-first ordering")
	}

	all, err := st.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("Recent all: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 rows across tasks, got %d", len(all))
	}
}

func TestPruneDropsOldRuns(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if _, err := st.RunStarted(ctx, "Monitor", time.Now().Add(-48*time.Hour)); err != nil {
		t.Fatalf("RunStarted: %v", err)
	}
	if _, err := st.RunStarted(ctx, "Monitor", time.Now()); err != nil {
		t.Fatalf("RunStarted: %v", err)
	}

	removed, err := st.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	runs, err := st.Recent(ctx, "Monitor", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 surviving row, got %d", len(runs))
	}
}
