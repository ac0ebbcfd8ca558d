// Package capture runs one capture job for a dataset: snapshot the source
// clock, extract every configured table through its CDC window, seal the
// work folder into a package, transfer it to landing storage, and only then
// advance the watermark. A failure anywhere leaves the watermark untouched
// so the next job replays the same window.
package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nucleus/cdc-core/internal/blobstore"
	"github.com/nucleus/cdc-core/internal/cdcsql"
	"github.com/nucleus/cdc-core/internal/metric"
	"github.com/nucleus/cdc-core/internal/table"
	"github.com/nucleus/cdc-core/internal/watermark"
)

// FirstTimestampDefault is the cursor floor for timestamp tables that have
// no configured first timestamp and no history.
var FirstTimestampDefault = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

// Options tune a capture run.
type Options struct {
	// NoTransfer seals the package but leaves it in the work folder and
	// does not advance the watermark.
	NoTransfer bool
}

// Orchestrator captures one dataset.
type Orchestrator struct {
	Dataset   string
	Schema    string
	BatchSize int
	Tables    []table.Descriptor

	Source  Source
	Landing blobstore.Store
	// Recovery holds the state-folder snapshots; nil falls back to Landing.
	Recovery    blobstore.Store
	State       *watermark.Store
	WorkFolder  string
	StateFolder string
	Options     Options
}

// Run executes one complete capture job.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := clearFolder(o.WorkFolder); err != nil {
		return err
	}

	o.State.Load()
	jobID := o.State.JobID()
	log.Printf("capture %s job %d starting", o.Dataset, jobID)

	recorder := metric.NewRecorder(filepath.Join(o.WorkFolder, metric.JobLogName),
		"capture", o.Dataset, jobID)
	recorder.Start("capture", metric.TypeJob)

	snapshot, err := o.takeSnapshot(ctx)
	if err != nil {
		return err
	}
	ceiling, err := o.fetchSequenceCeiling(ctx)
	if err != nil {
		return err
	}

	recorder.Start("extract", metric.TypeStep)
	var totalRows, totalBytes int64
	for i := range o.Tables {
		rows, bytes, err := o.captureTable(ctx, &o.Tables[i], jobID, snapshot, ceiling, recorder)
		if err != nil {
			return fmt.Errorf("capture %s: %w", o.Tables[i].TableName, err)
		}
		totalRows += rows
		totalBytes += bytes
		if err := recorder.Save(); err != nil {
			return err
		}
	}
	recorder.Stop("extract", totalRows, totalBytes)

	packagePath, packageSize, err := o.seal(recorder)
	if err != nil {
		return err
	}

	if o.Options.NoTransfer {
		log.Printf("capture %s job %d sealed without transfer (%s)", o.Dataset, jobID, packagePath)
		return nil
	}

	packageName := PackageName(o.Dataset, jobID)
	recorder.Start("upload", metric.TypeStep)
	if err := o.Landing.Put(ctx, packagePath, packageName); err != nil {
		return fmt.Errorf("transfer %s: %w", packageName, err)
	}
	recorder.Stop("upload", 0, packageSize)
	os.Remove(packagePath)

	// The job counter advances only once the package is durably landed.
	if err := o.State.Save(false); err != nil {
		return err
	}

	recorder.Stop("capture", totalRows, totalBytes)
	if err := recorder.SaveAs(filepath.Join(o.StateFolder, metric.LastJobLogName)); err != nil {
		return err
	}

	if err := o.recoverySnapshot(ctx); err != nil {
		// The job itself succeeded; a failed recovery snapshot is retried
		// next job.
		log.Printf("warning: recovery snapshot failed: %v", err)
	}
	log.Printf("capture %s job %d complete (%d rows, %d bytes)", o.Dataset, jobID, totalRows, totalBytes)
	return nil
}

// takeSnapshot reads the source clock and backs it off one minute, truncated
// to seconds, so in-flight transactions with earlier timestamps still land
// inside a later window.
func (o *Orchestrator) takeSnapshot(ctx context.Context) (time.Time, error) {
	now, err := o.Source.CurrentTimestamp(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("snapshot source clock: %w", err)
	}
	snapshot := now.Add(-time.Minute).Truncate(time.Second)
	log.Printf("snapshot %s", snapshot.Format(cdcsql.TimestampFormat))
	return snapshot, nil
}

// fetchSequenceCeiling reads the current sequence/rowversion value once per
// job, before any extraction starts. Every sequence table of the job windows
// against this one shared ceiling, the highest value observed across them.
func (o *Orchestrator) fetchSequenceCeiling(ctx context.Context) (int64, error) {
	var ceiling int64
	for i := range o.Tables {
		desc := &o.Tables[i]
		if desc.IgnoreTable || desc.DropTable {
			continue
		}
		column := ""
		switch strings.ToLower(strings.TrimSpace(desc.CDC)) {
		case "sequence":
			column = desc.SequenceColumn
		case "rowversion":
			column = desc.RowVersionColumn
		}
		if column == "" {
			continue
		}

		name := strings.ToLower(desc.TableName)
		schemaName := o.tableSchema(desc)
		exists, err := o.Source.TableExists(ctx, schemaName, name)
		if err != nil {
			return 0, err
		}
		if !exists {
			continue
		}
		current, err := o.Source.CurrentSequence(ctx, schemaName, name, column)
		if err != nil {
			return 0, err
		}
		if current > ceiling {
			ceiling = current
		}
	}
	return ceiling, nil
}

func (o *Orchestrator) captureTable(ctx context.Context, desc *table.Descriptor, jobID int64,
	snapshot time.Time, ceiling int64, recorder *metric.Recorder) (int64, int64, error) {

	name := strings.ToLower(desc.TableName)
	schemaName := o.tableSchema(desc)

	if desc.IgnoreTable {
		log.Printf("skipping %s (ignored)", name)
		return 0, 0, nil
	}
	if desc.DropTable {
		log.Printf("dropping %s", name)
		o.State.DropTable(name)
		return 0, 0, o.writeDescriptor(desc, name)
	}

	exists, err := o.Source.TableExists(ctx, schemaName, name)
	if err != nil {
		return 0, 0, err
	}
	if !exists {
		if desc.OptionalTable {
			log.Printf("skipping %s (optional, not found)", name)
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("required table %s.%s not found", schemaName, name)
	}

	first, err := parseFirstTimestamp(desc.FirstTimestamp)
	if err != nil {
		return 0, 0, err
	}
	if !first.IsZero() && first.After(snapshot) {
		log.Printf("skipping %s (first timestamp %s is after snapshot)", name, desc.FirstTimestamp)
		return 0, 0, nil
	}

	schema, err := o.Source.SelectTableSchema(ctx, schemaName, name)
	if err != nil {
		return 0, 0, err
	}
	if dropped := schema.DropIgnored(table.SplitList(desc.IgnoreColumns)); len(dropped) > 0 {
		log.Printf("%s: ignoring columns %s", name, strings.Join(dropped, ", "))
	}

	keyColumns, err := o.Source.SelectTablePK(ctx, schemaName, name)
	if err != nil {
		return 0, 0, err
	}
	if keyColumns == "" {
		keyColumns = strings.ToLower(desc.PrimaryKey)
	}

	strategy := desc.ResolveStrategy(keyColumns)
	wm := o.State.Table(name)
	window := o.buildWindow(desc, strategy, wm, jobID, snapshot, first, ceiling)

	desc.SchemaName = schemaName
	desc.ColumnNames = schema.ColumnNames()
	query := cdcsql.NewSelect(desc, strategy).Build(window)

	if err := o.writeArtifacts(desc, schema, name, keyColumns, query); err != nil {
		return 0, 0, err
	}

	recorder.Start(name, metric.TypeTable)
	reader, err := o.Source.Extract(ctx, query)
	if err != nil {
		return 0, 0, err
	}
	batchSize := o.BatchSize
	if batchSize <= 0 {
		batchSize = 250_000
	}
	result, err := writeBatches(reader, o.WorkFolder, name, batchSize)
	if err != nil {
		return 0, 0, err
	}

	if unchanged := o.applyHashStrategy(strategy, wm, result, name); unchanged {
		recorder.Stop(name, 0, 0)
		return 0, 0, nil
	}

	// Extraction is complete; only now may the cursor move.
	switch strategy {
	case table.StrategyTimestamp:
		wm.LastTimestamp = snapshot
	case table.StrategySequence:
		wm.LastSequence = window.CurrentSequence
	case table.StrategyRowVersion:
		wm.LastRowVersion = window.CurrentSequence
	}

	recorder.Stop(name, result.RowCount, result.DataSize)
	return result.RowCount, result.DataSize, nil
}

// buildWindow derives the extraction window from the table's watermark and
// first-run defaults.
func (o *Orchestrator) buildWindow(desc *table.Descriptor, strategy table.Strategy,
	wm *watermark.TableWatermark, jobID int64, snapshot, first time.Time, ceiling int64) cdcsql.Window {

	window := cdcsql.Window{
		JobID:            jobID,
		CurrentTimestamp: snapshot,
	}
	if desc.TimestampColumns == "" {
		window.TimestampLiteral = o.Source.TimestampLiteral(snapshot)
	}

	switch strategy {
	case table.StrategyTimestamp:
		window.LastTimestamp = wm.LastTimestamp
		if window.LastTimestamp.IsZero() {
			window.LastTimestamp = first
		}
		if window.LastTimestamp.IsZero() {
			window.LastTimestamp = FirstTimestampDefault
		}
	case table.StrategySequence:
		window.LastSequence = wm.LastSequence
		if window.LastSequence == 0 {
			window.LastSequence = desc.FirstSequence
		}
		// half-open window; +1 keeps the ceiling row inside
		window.CurrentSequence = ceiling + 1
	case table.StrategyRowVersion:
		window.LastSequence = wm.LastRowVersion
		window.CurrentSequence = ceiling + 1
	}
	return window
}

// applyHashStrategy handles the filehash/rowhash strategies: an unchanged
// content hash discards this table's output so the package carries nothing
// for it.
func (o *Orchestrator) applyHashStrategy(strategy table.Strategy, wm *watermark.TableWatermark,
	result *extractResult, name string) bool {

	var last *string
	switch strategy {
	case table.StrategyFileHash:
		last = &wm.LastFileHash
	case table.StrategyRowHash:
		last = &wm.LastRowHash
	default:
		return false
	}

	if *last == result.ContentHash && *last != "" {
		log.Printf("skipping %s (content unchanged)", name)
		for _, fileName := range result.FileNames {
			os.Remove(fileName)
		}
		o.removeArtifacts(name)
		return true
	}
	*last = result.ContentHash
	return false
}

// seal writes the in-flight metrics, folds in the previous job's final
// metrics, and zips the work folder into the package.
func (o *Orchestrator) seal(recorder *metric.Recorder) (string, int64, error) {
	recorder.Start("compress", metric.TypeStep)
	if err := recorder.Save(); err != nil {
		return "", 0, err
	}

	// Previous job's completed metrics travel with this package.
	lastLog := filepath.Join(o.StateFolder, metric.LastJobLogName)
	if data, err := os.ReadFile(lastLog); err == nil {
		if err := os.WriteFile(filepath.Join(o.WorkFolder, metric.LastJobLogName), data, 0o644); err != nil {
			return "", 0, err
		}
	}

	packageName := PackageName(o.Dataset, o.State.JobID())
	packagePath, err := sealPackage(o.WorkFolder, o.WorkFolder, packageName)
	if err != nil {
		return "", 0, err
	}
	info, err := os.Stat(packagePath)
	if err != nil {
		return "", 0, fmt.Errorf("stat package: %w", err)
	}
	recorder.Stop("compress", 0, info.Size())
	return packagePath, info.Size(), nil
}

// recoverySnapshot archives the state folder to the recovery area under a
// stable key so a lost host can resume from the last advanced watermark.
func (o *Orchestrator) recoverySnapshot(ctx context.Context) error {
	store := o.Recovery
	if store == nil {
		store = o.Landing
	}
	snapshotPath := filepath.Join(o.WorkFolder, o.Dataset+".recovery.zip")
	if err := zipFolder(o.StateFolder, snapshotPath); err != nil {
		return err
	}
	defer os.Remove(snapshotPath)
	return store.Put(ctx, snapshotPath, RecoveryKey(o.Dataset))
}

func (o *Orchestrator) tableSchema(desc *table.Descriptor) string {
	if desc.SchemaName != "" {
		return strings.ToLower(desc.SchemaName)
	}
	return strings.ToLower(o.Schema)
}

// writeArtifacts emits the per-table package artifacts the stage applier
// consumes: descriptor, discovered schema, key columns, extraction select.
func (o *Orchestrator) writeArtifacts(desc *table.Descriptor, schema *table.Schema,
	name, keyColumns, query string) error {

	if err := o.writeDescriptor(desc, name); err != nil {
		return err
	}
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return fmt.Errorf("encode schema %s: %w", name, err)
	}
	if err := os.WriteFile(o.artifactPath(name, "schema"), data, 0o644); err != nil {
		return fmt.Errorf("write schema artifact: %w", err)
	}
	if err := os.WriteFile(o.artifactPath(name, "pk"), []byte(keyColumns), 0o644); err != nil {
		return fmt.Errorf("write pk artifact: %w", err)
	}
	if err := os.WriteFile(o.artifactPath(name, "sql"), []byte(query), 0o644); err != nil {
		return fmt.Errorf("write sql artifact: %w", err)
	}
	return nil
}

func (o *Orchestrator) writeDescriptor(desc *table.Descriptor, name string) error {
	data, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode descriptor %s: %w", name, err)
	}
	if err := os.WriteFile(o.artifactPath(name, "table"), data, 0o644); err != nil {
		return fmt.Errorf("write descriptor artifact: %w", err)
	}
	return nil
}

func (o *Orchestrator) removeArtifacts(name string) {
	for _, kind := range []string{"table", "schema", "pk", "sql"} {
		os.Remove(o.artifactPath(name, kind))
	}
}

func (o *Orchestrator) artifactPath(name, kind string) string {
	return filepath.Join(o.WorkFolder, name+"."+kind)
}

// parseFirstTimestamp accepts an ISO date or date-time.
func parseFirstTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{cdcsql.TimestampFormat, "2006-01-02"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid first timestamp (%s)", value)
}
