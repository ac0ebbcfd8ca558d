package archive

import (
	"archive/zip"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nucleus/cdc-core/internal/blobstore"
	"github.com/nucleus/cdc-core/internal/metric"
	"github.com/nucleus/cdc-core/internal/queue"
)

func writeLandingPackage(t *testing.T, landingRoot, name string, jobRows, lastRows []metric.Row) {
	t.Helper()
	out, err := os.Create(filepath.Join(landingRoot, name))
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()
	writer := zip.NewWriter(out)

	add := func(entryName string, rows []metric.Row) {
		t.Helper()
		entry, err := writer.Create(entryName)
		if err != nil {
			t.Fatal(err)
		}
		data, _ := json.Marshal(rows)
		if _, err := entry.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	add(metric.JobLogName, jobRows)
	if lastRows != nil {
		add(metric.LastJobLogName, lastRows)
	}
	entry, err := writer.Create("orders#0001.json")
	if err != nil {
		t.Fatal(err)
	}
	entry.Write([]byte(`{"columns":[],"rows":[]}`))
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}
}

func newTestPipeline(t *testing.T) (*Pipeline, string, string, *queue.MemoryQueue) {
	t.Helper()
	dir := t.TempDir()
	landingRoot := filepath.Join(dir, "landing")
	archiveRoot := filepath.Join(dir, "archive")
	if err := os.MkdirAll(landingRoot, 0o755); err != nil {
		t.Fatal(err)
	}
	q := queue.NewMemoryQueue()
	p := &Pipeline{
		Dataset:    "sales",
		Landing:    blobstore.NewLocalStore(landingRoot),
		Archive:    blobstore.NewLocalStore(archiveRoot),
		Queue:      q,
		WorkFolder: filepath.Join(dir, "work"),
	}
	return p, landingRoot, archiveRoot, q
}

func row(instance, stage, name string) metric.Row {
	return metric.Row{
		ScriptInstance: instance,
		DatasetID:      "sales",
		JobID:          3,
		EventStage:     stage,
		EventName:      name,
		StartTime:      time.Now(),
		EndTime:        time.Now(),
	}
}

func TestArchiveOne_MovesPackageAndEnqueues(t *testing.T) {
	ctx := context.Background()
	p, landingRoot, archiveRoot, q := newTestPipeline(t)

	jobRows := []metric.Row{
		row("a", "capture", metric.TypeJob), // in flight, skipped
		row("a", "extract", metric.TypeStep),
		row("a", "orders", metric.TypeTable),
	}
	lastRows := []metric.Row{
		row("z", "capture", metric.TypeJob),
		row("z", "compress", metric.TypeStep),
		row("z", "upload", metric.TypeStep),
		row("z", "orders", metric.TypeTable), // already logged, skipped
	}
	writeLandingPackage(t, landingRoot, "sales#000000003.zip", jobRows, lastRows)

	if err := p.ArchiveOne(ctx, "sales#000000003.zip"); err != nil {
		t.Fatal(err)
	}

	// Copy-then-delete completed.
	if _, err := os.Stat(filepath.Join(archiveRoot, "sales", "sales#000000003.zip")); err != nil {
		t.Errorf("package not in archive: %v", err)
	}
	if _, err := os.Stat(filepath.Join(landingRoot, "sales#000000003.zip")); !os.IsNotExist(err) {
		t.Error("package still in landing")
	}

	// Arrival queued with the job id from the package name.
	arrival, err := q.NextArrival(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if arrival == nil || arrival.JobID != 3 {
		t.Fatalf("arrival = %+v, want job 3", arrival)
	}

	// Stat rows: 2 from job.log (capture skipped) + 3 finals from
	// last_job.log (table row skipped).
	inserted, err := q.InsertStatRows(ctx, append(jobRows, lastRows...))
	if err != nil {
		t.Fatal(err)
	}
	if inserted != 2 {
		t.Errorf("rows not already logged = %d, want 2 (capture from job.log, orders from last_job.log)", inserted)
	}

	// Columnar copy landed beside the package.
	if _, err := os.Stat(filepath.Join(archiveRoot, "sales", "stats", "sales#000000003.parquet")); err != nil {
		t.Errorf("stat parquet missing: %v", err)
	}
}

func TestArchiveOne_ReprocessIsIdempotent(t *testing.T) {
	ctx := context.Background()
	p, landingRoot, _, q := newTestPipeline(t)

	jobRows := []metric.Row{row("a", "orders", metric.TypeTable)}
	writeLandingPackage(t, landingRoot, "sales#000000004.zip", jobRows, nil)
	if err := p.ArchiveOne(ctx, "sales#000000004.zip"); err != nil {
		t.Fatal(err)
	}

	// Simulate a crash between copy and delete: the package shows up in
	// landing again and is reprocessed whole.
	writeLandingPackage(t, landingRoot, "sales#000000004.zip", jobRows, nil)
	if err := p.ArchiveOne(ctx, "sales#000000004.zip"); err != nil {
		t.Fatal(err)
	}

	arrival, err := q.NextArrival(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if arrival == nil || arrival.JobID != 4 {
		t.Fatalf("arrival = %+v, want job 4", arrival)
	}
	if err := q.DeleteArrival(ctx, arrival.ArchiveFileName); err != nil {
		t.Fatal(err)
	}
	next, err := q.NextArrival(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if next != nil {
		t.Errorf("duplicate arrival queued: %+v", next)
	}
}

func TestPoll_ArchivesOldestFirst(t *testing.T) {
	ctx := context.Background()
	p, landingRoot, _, q := newTestPipeline(t)

	writeLandingPackage(t, landingRoot, "sales#000000002.zip", nil, nil)
	writeLandingPackage(t, landingRoot, "sales#000000001.zip", nil, nil)

	moved, err := p.Poll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if moved != 2 {
		t.Fatalf("moved = %d, want 2", moved)
	}
	arrival, err := q.NextArrival(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if arrival == nil || arrival.JobID != 1 {
		t.Fatalf("first arrival = %+v, want job 1", arrival)
	}
}

func TestParseJobID(t *testing.T) {
	cases := []struct {
		name  string
		jobID int
		ok    bool
	}{
		{"sales#000000042.zip", 42, true},
		{"sales#000000001.zip", 1, true},
		{"other#000000001.zip", 0, false},
		{"sales#abc.zip", 0, false},
		{"sales#000000001.json", 0, false},
	}
	for _, tc := range cases {
		jobID, err := ParseJobID("sales", tc.name)
		if tc.ok != (err == nil) {
			t.Errorf("ParseJobID(%s): unexpected error state: %v", tc.name, err)
			continue
		}
		if tc.ok && jobID != tc.jobID {
			t.Errorf("ParseJobID(%s) = %d, want %d", tc.name, jobID, tc.jobID)
		}
	}
}
