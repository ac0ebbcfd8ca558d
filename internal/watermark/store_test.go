package watermark

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestStore_FirstRunDefaults(t *testing.T) {
	store := NewStore(t.TempDir())
	store.Load()

	if store.JobID() != 1 {
		t.Fatalf("first run job_id = %d, want 1", store.JobID())
	}
	wm := store.Table("Orders")
	if wm.TableName != "orders" {
		t.Errorf("table names must be normalized to lowercase, got %q", wm.TableName)
	}
	if !wm.LastTimestamp.IsZero() || wm.LastSequence != 0 {
		t.Error("new table watermark must be zero valued")
	}
}

func TestStore_SaveIncrementsAndRoundTrips(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	store.Load()

	cursor := time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC)
	wm := store.Table("orders")
	wm.LastTimestamp = cursor
	wm.LastSequence = 77

	if err := store.Save(false); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded := NewStore(dir)
	reloaded.Load()
	if reloaded.JobID() != 2 {
		t.Fatalf("reloaded job_id = %d, want 2", reloaded.JobID())
	}
	wm = reloaded.Table("orders")
	if !wm.LastTimestamp.Equal(cursor) {
		t.Errorf("reloaded timestamp = %v, want %v", wm.LastTimestamp, cursor)
	}
	if wm.LastSequence != 77 {
		t.Errorf("reloaded sequence = %d, want 77", wm.LastSequence)
	}
}

func TestStore_MaintenanceSaveKeepsJobID(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	store.Load()
	store.Table("orders")
	store.DropTable("orders")

	if err := store.Save(true); err != nil {
		t.Fatalf("save: %v", err)
	}

	reloaded := NewStore(dir)
	reloaded.Load()
	if reloaded.JobID() != 1 {
		t.Fatalf("maintenance save must not consume a job id, got %d", reloaded.JobID())
	}
}

func TestStore_CorruptFileTreatedAsFirstRun(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, StateFileName), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewStore(dir)
	store.Load()
	if store.JobID() != 1 {
		t.Fatalf("corrupt file must reset to first run, got job_id %d", store.JobID())
	}
}
