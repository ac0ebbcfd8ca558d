package metric

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRecorder_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	fileName := filepath.Join(dir, JobLogName)

	r := NewRecorder(fileName, "capture", "sales", 7)
	r.Start("capture", TypeJob)
	r.Start("orders", TypeTable)
	time.Sleep(time.Millisecond)
	r.Stop("orders", 42, 1000)
	if err := r.Save(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(fileName)
	if err != nil {
		t.Fatal(err)
	}
	rows, err := ParseRows(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	// Start order preserved.
	if rows[0].EventStage != "capture" || rows[1].EventStage != "orders" {
		t.Errorf("row order: %s, %s", rows[0].EventStage, rows[1].EventStage)
	}
	if rows[0].JobID != 7 || rows[0].DatasetID != "sales" {
		t.Errorf("session context lost: %+v", rows[0])
	}

	// The job row is in flight, the table row is final.
	if rows[0].RunTime != 0 {
		t.Errorf("in-flight row has run time %f", rows[0].RunTime)
	}
	if rows[1].RunTime <= 0 || rows[1].RowCount != 42 || rows[1].DataSize != 1000 {
		t.Errorf("final row wrong: %+v", rows[1])
	}
	if rows[0].ScriptInstance == "" || rows[0].ScriptInstance != rows[1].ScriptInstance {
		t.Error("script instance not shared across rows")
	}
}

func TestRecorder_StopUnknownEventIgnored(t *testing.T) {
	r := NewRecorder(filepath.Join(t.TempDir(), JobLogName), "capture", "sales", 1)
	r.Stop("nope", 0, 0)
	if len(r.Rows()) != 0 {
		t.Errorf("rows = %d, want 0", len(r.Rows()))
	}
}
