package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tomyedwab/winehost/prefix"
	"github.com/tomyedwab/winehost/processes"
)

func testPrefix(t *testing.T) *prefix.Prefix {
	t.Helper()
	root := t.TempDir()
	binDir := filepath.Join(root, "bin")
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		t.Fatalf("failed to create bin dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(binDir, "wine"), []byte("#!/bin/sh\nexec \"$@\"\n"), 0o755); err != nil {
		t.Fatalf("failed to write wine shim: %v", err)
	}
	dist, err := prefix.NewDistribution(root)
	if err != nil {
		t.Fatalf("NewDistribution failed: %v", err)
	}
	p, err := prefix.Ensure(context.Background(), dist, filepath.Join(t.TempDir(), "pfx"), prefix.Win64, prefix.Config{}, regWriter{})
	if err != nil {
		t.Fatalf("Ensure failed: %v", err)
	}
	return p
}

type regWriter struct{}

func (regWriter) Initialize(ctx context.Context, p *prefix.Prefix) error {
	contents := "WINE REGISTRY Version 2\n\n#arch=win64\n\n[Software]\n"
	return os.WriteFile(filepath.Join(p.Path(), "system.reg"), []byte(contents), 0o644)
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSavePrefixUpsert(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	p := testPrefix(t)

	if err := st.SavePrefix(ctx, p); err != nil {
		t.Fatalf("SavePrefix failed: %v", err)
	}
	// Saving a second time updates the existing row rather than duplicating.
	if err := st.SavePrefix(ctx, p); err != nil {
		t.Fatalf("second SavePrefix failed: %v", err)
	}

	recs, err := st.ListPrefixes(ctx)
	if err != nil {
		t.Fatalf("ListPrefixes failed: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("ListPrefixes returned %d rows, want 1", len(recs))
	}

	rec, err := st.GetPrefix(ctx, p.Path())
	if err != nil {
		t.Fatalf("GetPrefix failed: %v", err)
	}
	if rec.Arch != "win64" {
		t.Errorf("arch = %q, want win64", rec.Arch)
	}
	if rec.Status != "Ready" {
		t.Errorf("status = %q, want Ready", rec.Status)
	}
}

func TestGetPrefixUnknown(t *testing.T) {
	st := openTestStore(t)
	if _, err := st.GetPrefix(context.Background(), "/nonexistent"); err == nil {
		t.Error("GetPrefix on unknown path should fail")
	}
}

func TestRunJournal(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	started := time.Now().UTC().Truncate(time.Second)
	rec := processes.RunRecord{
		ID:         "run-1",
		PrefixPath: "/prefixes/game",
		Program:    "c:/game.exe",
		PID:        4242,
		State:      "Starting",
		StartedAt:  started,
	}
	if err := st.RecordLaunch(ctx, rec); err != nil {
		t.Fatalf("RecordLaunch failed: %v", err)
	}

	runs, err := st.ListRuns(ctx, "/prefixes/game")
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("ListRuns returned %d rows, want 1", len(runs))
	}
	if runs[0].ExitCode.Valid || runs[0].EndedAt.Valid {
		t.Errorf("run should have no exit info before RecordExit: %+v", runs[0])
	}

	ended := started.Add(3 * time.Second)
	if err := st.RecordExit(ctx, "run-1", "Exited", 0, ended); err != nil {
		t.Fatalf("RecordExit failed: %v", err)
	}

	runs, err = st.ListRuns(ctx, "/prefixes/game")
	if err != nil {
		t.Fatalf("ListRuns after exit failed: %v", err)
	}
	if runs[0].State != "Exited" {
		t.Errorf("state = %q, want Exited", runs[0].State)
	}
	if !runs[0].ExitCode.Valid || runs[0].ExitCode.Int64 != 0 {
		t.Errorf("exit code = %+v, want valid 0", runs[0].ExitCode)
	}
	if !runs[0].EndedAt.Valid {
		t.Error("ended_at should be set after RecordExit")
	}
}

func TestRunJournalOrdering(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		rec := processes.RunRecord{
			ID:         fmt.Sprintf("run-%d", i),
			PrefixPath: "/prefixes/game",
			Program:    "c:/game.exe",
			PID:        1000 + i,
			State:      "Running",
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := st.RecordLaunch(ctx, rec); err != nil {
			t.Fatalf("RecordLaunch %d failed: %v", i, err)
		}
	}

	runs, err := st.ListRuns(ctx, "/prefixes/game")
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("ListRuns returned %d rows, want 3", len(runs))
	}
	for i, run := range runs {
		if want := fmt.Sprintf("run-%d", i); run.ID != want {
			t.Errorf("run %d ID = %q, want %q (oldest first)", i, run.ID, want)
		}
	}
}

func TestRecordExitUnknownRun(t *testing.T) {
	st := openTestStore(t)
	if err := st.RecordExit(context.Background(), "no-such-run", "Exited", 0, time.Now()); err == nil {
		t.Error("RecordExit on unknown run should fail")
	}
}
