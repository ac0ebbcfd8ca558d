package stage

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nucleus/cdc-core/internal/blobstore"
	"github.com/nucleus/cdc-core/internal/capture"
	"github.com/nucleus/cdc-core/internal/queue"
	"github.com/nucleus/cdc-core/internal/table"
)

type fakeTarget struct {
	ops      []string
	existing map[string]bool
	rows     map[string]int
	execs    []string
	failExec bool
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{existing: map[string]bool{}, rows: map[string]int{}}
}

func (f *fakeTarget) op(format string, args ...any) {
	f.ops = append(f.ops, fmt.Sprintf(format, args...))
}

func (f *fakeTarget) CreateSchema(ctx context.Context, schema string) error {
	f.op("create schema %s", schema)
	return nil
}

func (f *fakeTarget) TableExists(ctx context.Context, schema, tableName string) (bool, error) {
	return f.existing[schema+"."+tableName], nil
}

func (f *fakeTarget) CreateTableFromSchema(ctx context.Context, schema, tableName string, ts *table.Schema, extended []string) error {
	if _, err := ts.ColumnDefinitions(extended); err != nil {
		return err
	}
	f.existing[schema+"."+tableName] = true
	f.op("create table %s.%s", schema, tableName)
	return nil
}

func (f *fakeTarget) DropTable(ctx context.Context, schema, tableName string) error {
	delete(f.existing, schema+"."+tableName)
	f.op("drop table %s.%s", schema, tableName)
	return nil
}

func (f *fakeTarget) BulkInsert(ctx context.Context, schema, tableName string, ts *table.Schema, rows [][]any) error {
	f.rows[schema+"."+tableName] += len(rows)
	f.op("insert %d into %s.%s", len(rows), schema, tableName)
	return nil
}

func (f *fakeTarget) Exec(ctx context.Context, query string, args ...any) error {
	if f.failExec {
		return errors.New("merge failed")
	}
	f.execs = append(f.execs, query)
	f.op("exec")
	return nil
}

// writePackage builds a minimal package zip in the archive store under
// <dataset>/<name>.
func writePackage(t *testing.T, archiveRoot, dataset, name string, desc *table.Descriptor, keyColumns string, batches []capture.Batch) {
	t.Helper()
	dir := filepath.Join(archiveRoot, dataset)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	out, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	defer out.Close()
	writer := zip.NewWriter(out)

	add := func(entryName string, data []byte) {
		t.Helper()
		entry, err := writer.Create(entryName)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := entry.Write(data); err != nil {
			t.Fatal(err)
		}
	}

	tableName := strings.ToLower(desc.TableName)
	descData, _ := json.Marshal(desc)
	add(tableName+".table", descData)
	if !desc.DropTable {
		schema := table.Schema{TableName: tableName, Columns: []table.Column{
			{Name: "order_id", DataType: "integer", IsNullable: "NO"},
			{Name: "note", DataType: "text", IsNullable: "YES"},
		}}
		schemaData, _ := json.Marshal(&schema)
		add(tableName+".schema", schemaData)
		add(tableName+".pk", []byte(keyColumns))
		add(tableName+".sql", []byte("select 1;"))
		for i, batch := range batches {
			data, _ := json.Marshal(batch)
			add(fmt.Sprintf("%s#%04d.json", tableName, i+1), data)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}
}

func newTestApplier(t *testing.T) (*Applier, *fakeTarget, string) {
	t.Helper()
	dir := t.TempDir()
	archiveRoot := filepath.Join(dir, "archive")
	target := newFakeTarget()
	a := &Applier{
		TargetSchema: "stage",
		Archive:      blobstore.NewLocalStore(archiveRoot),
		Target:       target,
		Queue:        queue.NewMemoryQueue(),
		WorkFolder:   filepath.Join(dir, "work"),
	}
	if err := os.MkdirAll(a.WorkFolder, 0o755); err != nil {
		t.Fatal(err)
	}
	return a, target, archiveRoot
}

func ordersBatch(n int) capture.Batch {
	batch := capture.Batch{Columns: []string{"order_id", "note", "cdc_job_id", "cdc_timestamp"}}
	for i := 0; i < n; i++ {
		batch.Rows = append(batch.Rows, []any{i + 1, "n", 3, "2024-06-01 12:00:00"})
	}
	return batch
}

func TestApply_MergesThroughTempTable(t *testing.T) {
	ctx := context.Background()
	a, target, archiveRoot := newTestApplier(t)

	desc := &table.Descriptor{TableName: "orders", CDC: "timestamp", TimestampColumns: "updated_at"}
	writePackage(t, archiveRoot, "sales", "sales#000000003.zip", desc, "order_id",
		[]capture.Batch{ordersBatch(2), ordersBatch(1)})
	a.Queue.InsertArrival(ctx, "sales#000000003.zip", 3)
	a.Queue.InsertPending(ctx, "sales#000000003.zip")

	applied, err := a.ApplyNext(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !applied {
		t.Fatal("expected a package to be applied")
	}

	// Batches land in the temp staging table, never directly in the target.
	if target.rows["stage._orders"] != 3 {
		t.Errorf("temp table rows = %d, want 3", target.rows["stage._orders"])
	}
	if target.rows["stage.orders"] != 0 {
		t.Errorf("target loaded directly: %d rows", target.rows["stage.orders"])
	}
	if len(target.execs) != 1 {
		t.Fatalf("execs = %d, want 1 merge", len(target.execs))
	}
	statement := target.execs[0]
	if !strings.Contains(statement, `merge "stage"."orders"`) ||
		!strings.Contains(statement, `using "stage"."_orders"`) {
		t.Errorf("merge statement wrong:\n%s", statement)
	}
	if target.existing["stage._orders"] {
		t.Error("temp staging table not dropped")
	}

	// Queues advance: arrival and pending cleared, next package expected.
	next, err := a.Queue.NextArrival(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if next != nil {
		t.Errorf("arrival not deleted: %+v", next)
	}
	pending, err := a.Queue.ListPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0] != "sales#000000004.zip" {
		t.Errorf("pending = %v, want [sales#000000004.zip]", pending)
	}
}

func TestApply_ReloadsTableWithoutKey(t *testing.T) {
	ctx := context.Background()
	a, target, archiveRoot := newTestApplier(t)

	desc := &table.Descriptor{TableName: "regions"}
	writePackage(t, archiveRoot, "sales", "sales#000000001.zip", desc, "",
		[]capture.Batch{ordersBatch(4)})
	a.Queue.InsertArrival(ctx, "sales#000000001.zip", 1)

	if _, err := a.ApplyNext(ctx); err != nil {
		t.Fatal(err)
	}

	if target.rows["stage.regions"] != 4 {
		t.Errorf("reloaded rows = %d, want 4", target.rows["stage.regions"])
	}
	if len(target.execs) != 0 {
		t.Errorf("reload ran a merge: %v", target.execs)
	}

	// Drop precedes create so a retry converges.
	joined := strings.Join(target.ops, "; ")
	if !strings.Contains(joined, "drop table stage.regions; create table stage.regions") {
		t.Errorf("reload order wrong: %s", joined)
	}
}

func TestApplyNext_ResolvesDatasetFromPackageName(t *testing.T) {
	ctx := context.Background()
	a, target, archiveRoot := newTestApplier(t)

	// Two datasets share the arrival queue; each package is found under its
	// own dataset prefix and advances its own pending marker.
	hr := &table.Descriptor{TableName: "people"}
	writePackage(t, archiveRoot, "hr", "hr#000000001.zip", hr, "",
		[]capture.Batch{ordersBatch(2)})
	sales := &table.Descriptor{TableName: "regions"}
	writePackage(t, archiveRoot, "sales", "sales#000000002.zip", sales, "",
		[]capture.Batch{ordersBatch(3)})
	a.Queue.InsertArrival(ctx, "sales#000000002.zip", 2)
	a.Queue.InsertArrival(ctx, "hr#000000001.zip", 1)

	for i := 0; i < 2; i++ {
		applied, err := a.ApplyNext(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !applied {
			t.Fatalf("cycle %d applied nothing", i+1)
		}
	}

	if target.rows["stage.people"] != 2 || target.rows["stage.regions"] != 3 {
		t.Errorf("rows = %v, want people=2 regions=3", target.rows)
	}
	pending, err := a.Queue.ListPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{"hr#000000002.zip": true, "sales#000000003.zip": true}
	if len(pending) != 2 || !want[pending[0]] || !want[pending[1]] {
		t.Errorf("pending = %v, want one marker per dataset", pending)
	}
}

func TestApply_DropFlagDropsTarget(t *testing.T) {
	ctx := context.Background()
	a, target, archiveRoot := newTestApplier(t)
	target.existing["stage.legacy"] = true

	desc := &table.Descriptor{TableName: "legacy", DropTable: true}
	writePackage(t, archiveRoot, "sales", "sales#000000002.zip", desc, "", nil)
	a.Queue.InsertArrival(ctx, "sales#000000002.zip", 2)

	if _, err := a.ApplyNext(ctx); err != nil {
		t.Fatal(err)
	}
	if target.existing["stage.legacy"] {
		t.Error("dropped table still exists")
	}
	if target.rows["stage.legacy"] != 0 {
		t.Error("dropped table received rows")
	}
}

func TestApply_FailureKeepsArrival(t *testing.T) {
	ctx := context.Background()
	a, target, archiveRoot := newTestApplier(t)
	target.failExec = true

	desc := &table.Descriptor{TableName: "orders", CDC: "timestamp", TimestampColumns: "updated_at"}
	writePackage(t, archiveRoot, "sales", "sales#000000005.zip", desc, "order_id",
		[]capture.Batch{ordersBatch(1)})
	a.Queue.InsertArrival(ctx, "sales#000000005.zip", 5)

	if _, err := a.ApplyNext(ctx); err == nil {
		t.Fatal("expected merge failure")
	}

	// The arrival survives the failure so the package retries whole.
	next, err := a.Queue.NextArrival(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if next == nil || next.ArchiveFileName != "sales#000000005.zip" {
		t.Errorf("arrival lost after failure: %+v", next)
	}
}

func TestApplyNext_EmptyQueue(t *testing.T) {
	a, _, _ := newTestApplier(t)
	applied, err := a.ApplyNext(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if applied {
		t.Error("applied with empty queue")
	}
}
