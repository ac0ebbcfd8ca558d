// Package stage applies landed packages to the warehouse: full reloads for
// tables without CDC, synthesized merges through a temp staging table for
// the rest. Applying the same package twice converges to the same target
// state, so a crashed run is simply retried.
package stage

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/nucleus/cdc-core/internal/blobstore"
	"github.com/nucleus/cdc-core/internal/capture"
	"github.com/nucleus/cdc-core/internal/cdcsql"
	"github.com/nucleus/cdc-core/internal/queue"
	"github.com/nucleus/cdc-core/internal/table"
)

// Target is the slice of warehouse behavior the applier needs; sqldb.Client
// satisfies it.
type Target interface {
	CreateSchema(ctx context.Context, schema string) error
	TableExists(ctx context.Context, schema, tableName string) (bool, error)
	CreateTableFromSchema(ctx context.Context, schema, tableName string, ts *table.Schema, extended []string) error
	DropTable(ctx context.Context, schema, tableName string) error
	BulkInsert(ctx context.Context, schema, tableName string, ts *table.Schema, rows [][]any) error
	Exec(ctx context.Context, query string, args ...any) error
}

// Applier stages arrived packages. The owning dataset of each package is
// parsed from its file name, so one applier can drain a shared arrival queue.
type Applier struct {
	TargetSchema string

	Archive    blobstore.Store
	Target     Target
	Queue      queue.Queue
	WorkFolder string
}

// ApplyNext pops and applies the oldest arrival. It reports whether a
// package was applied.
func (a *Applier) ApplyNext(ctx context.Context) (bool, error) {
	arrival, err := a.Queue.NextArrival(ctx)
	if err != nil {
		return false, err
	}
	if arrival == nil {
		return false, nil
	}
	if err := a.Apply(ctx, arrival); err != nil {
		// The arrival entry survives; the whole package retries next poll.
		return false, err
	}
	return true, nil
}

// Apply stages one package end to end, then advances the queues.
func (a *Applier) Apply(ctx context.Context, arrival *queue.Arrival) error {
	log.Printf("staging %s (job %d)", arrival.ArchiveFileName, arrival.JobID)

	dataset, jobID, err := capture.ParsePackageName(arrival.ArchiveFileName)
	if err != nil {
		return fmt.Errorf("unexpected arrival: %w", err)
	}

	scratch := filepath.Join(a.WorkFolder, uuid.NewString())
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return fmt.Errorf("create scratch folder: %w", err)
	}
	defer os.RemoveAll(scratch)

	packagePath := filepath.Join(scratch, arrival.ArchiveFileName)
	key := dataset + "/" + arrival.ArchiveFileName
	if err := a.Archive.Get(ctx, packagePath, key); err != nil {
		return fmt.Errorf("fetch package %s: %w", key, err)
	}
	if err := unzipTo(packagePath, scratch); err != nil {
		return fmt.Errorf("unpack %s: %w", arrival.ArchiveFileName, err)
	}

	if err := a.Target.CreateSchema(ctx, a.TargetSchema); err != nil {
		return err
	}

	descriptors, err := filepath.Glob(filepath.Join(scratch, "*.table"))
	if err != nil {
		return err
	}
	sort.Strings(descriptors)
	for _, fileName := range descriptors {
		if err := a.applyTable(ctx, scratch, fileName); err != nil {
			return fmt.Errorf("stage %s: %w", filepath.Base(fileName), err)
		}
	}

	if err := a.Queue.DeleteArrival(ctx, arrival.ArchiveFileName); err != nil {
		return err
	}
	if err := a.Queue.DeletePending(ctx, arrival.ArchiveFileName); err != nil {
		return err
	}
	next := capture.PackageName(dataset, jobID+1)
	if err := a.Queue.InsertPending(ctx, next); err != nil {
		return err
	}
	log.Printf("staged %s; next expected %s", arrival.ArchiveFileName, next)
	return nil
}

func (a *Applier) applyTable(ctx context.Context, scratch, descriptorFile string) error {
	desc, err := loadDescriptor(descriptorFile)
	if err != nil {
		return err
	}
	name := strings.ToLower(desc.TableName)

	if desc.DropTable {
		log.Printf("dropping %s.%s", a.TargetSchema, name)
		return a.Target.DropTable(ctx, a.TargetSchema, name)
	}

	schema, err := loadSchema(filepath.Join(scratch, name+".schema"))
	if err != nil {
		return err
	}
	keyColumns, err := loadKeyColumns(filepath.Join(scratch, name+".pk"))
	if err != nil {
		return err
	}

	TranslateSchema(schema)
	strategy := desc.ResolveStrategy(keyColumns)

	batches, err := filepath.Glob(filepath.Join(scratch, name+"#*.json"))
	if err != nil {
		return err
	}
	sort.Strings(batches)

	if strategy == table.StrategyNone || keyColumns == "" {
		return a.reload(ctx, name, schema, batches)
	}
	return a.merge(ctx, desc, name, schema, keyColumns, batches)
}

// reload drops and recreates the target, then loads every batch. Re-running
// it lands on the identical state.
func (a *Applier) reload(ctx context.Context, name string, schema *table.Schema, batches []string) error {
	log.Printf("reloading %s.%s (%d batches)", a.TargetSchema, name, len(batches))
	if err := a.Target.DropTable(ctx, a.TargetSchema, name); err != nil {
		return err
	}
	if err := a.Target.CreateTableFromSchema(ctx, a.TargetSchema, name, schema, cdcsql.ExtendedDefinitions()); err != nil {
		return err
	}
	return a.loadBatches(ctx, name, schema, batches)
}

// merge bulk-loads the batches into a temp staging table and upserts them
// into the target with the synthesized merge. Matched rows are re-updated
// on retry, so replays converge.
func (a *Applier) merge(ctx context.Context, desc *table.Descriptor, name string,
	schema *table.Schema, keyColumns string, batches []string) error {

	exists, err := a.Target.TableExists(ctx, a.TargetSchema, name)
	if err != nil {
		return err
	}
	if !exists {
		if err := a.Target.CreateTableFromSchema(ctx, a.TargetSchema, name, schema, cdcsql.ExtendedDefinitions()); err != nil {
			return err
		}
	}
	if len(batches) == 0 {
		return nil
	}

	tempName := "_" + name
	log.Printf("merging %s.%s (%d batches)", a.TargetSchema, name, len(batches))
	if err := a.Target.DropTable(ctx, a.TargetSchema, tempName); err != nil {
		return err
	}
	if err := a.Target.CreateTableFromSchema(ctx, a.TargetSchema, tempName, schema, cdcsql.ExtendedDefinitions()); err != nil {
		return err
	}
	if err := a.loadBatches(ctx, tempName, schema, batches); err != nil {
		return err
	}

	desc.ColumnNames = schema.ColumnNames()
	statement := cdcsql.NewMerge(desc, nil).Build(a.TargetSchema, keyColumns)
	if err := a.Target.Exec(ctx, statement); err != nil {
		return err
	}
	return a.Target.DropTable(ctx, a.TargetSchema, tempName)
}

func (a *Applier) loadBatches(ctx context.Context, tableName string, schema *table.Schema, batches []string) error {
	for _, fileName := range batches {
		data, err := os.ReadFile(fileName)
		if err != nil {
			return fmt.Errorf("read batch %s: %w", fileName, err)
		}
		batch, err := capture.ParseBatch(data)
		if err != nil {
			return fmt.Errorf("parse batch %s: %w", fileName, err)
		}
		if err := a.Target.BulkInsert(ctx, a.TargetSchema, tableName, schema, batch.Rows); err != nil {
			return err
		}
	}
	return nil
}

func loadDescriptor(fileName string) (*table.Descriptor, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return nil, fmt.Errorf("read descriptor: %w", err)
	}
	var desc table.Descriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("parse descriptor %s: %w", fileName, err)
	}
	return &desc, nil
}

func loadSchema(fileName string) (*table.Schema, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	var schema table.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", fileName, err)
	}
	return &schema, nil
}

func loadKeyColumns(fileName string) (string, error) {
	data, err := os.ReadFile(fileName)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read key columns: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// unzipTo extracts a flat package into a folder. Entry names are base names
// by construction; anything else is rejected.
func unzipTo(zipPath, folder string) error {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer reader.Close()

	for _, entry := range reader.File {
		name := entry.Name
		if name != filepath.Base(name) || name == ".." {
			return fmt.Errorf("unsafe archive entry (%s)", name)
		}
		if err := extractZipEntry(entry, filepath.Join(folder, name)); err != nil {
			return err
		}
	}
	return nil
}

func extractZipEntry(entry *zip.File, destPath string) error {
	in, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open archive entry %s: %w", entry.Name, err)
	}
	defer in.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("extract %s: %w", entry.Name, err)
	}
	return nil
}
