// Package archive moves sealed packages from landing to durable archive
// storage. The move is copy-then-delete: a crash between the two leaves the
// package in landing and the next poll reprocesses it, which the idempotent
// queue insert and stat dedup absorb.
package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/nucleus/cdc-core/internal/blobstore"
	"github.com/nucleus/cdc-core/internal/metric"
	"github.com/nucleus/cdc-core/internal/queue"
)

// Pipeline archives landed packages for one dataset.
type Pipeline struct {
	Dataset string

	Landing    blobstore.Store
	Archive    blobstore.Store
	Queue      queue.Queue
	WorkFolder string
}

// Poll archives every package currently in landing, oldest first, and
// reports how many were moved.
func (p *Pipeline) Poll(ctx context.Context) (int, error) {
	names, err := p.Landing.List(ctx, p.Dataset+"#*.zip")
	if err != nil {
		return 0, err
	}
	for i, name := range names {
		if err := p.ArchiveOne(ctx, name); err != nil {
			return i, fmt.Errorf("archive %s: %w", name, err)
		}
	}
	return len(names), nil
}

// ArchiveOne moves a single package: extract and log its metrics, copy it to
// the archive, enqueue the arrival, then delete it from landing.
func (p *Pipeline) ArchiveOne(ctx context.Context, packageName string) error {
	jobID, err := ParseJobID(p.Dataset, packageName)
	if err != nil {
		return err
	}

	scratch := filepath.Join(p.WorkFolder, uuid.NewString())
	if err := os.MkdirAll(scratch, 0o755); err != nil {
		return fmt.Errorf("create scratch folder: %w", err)
	}
	defer os.RemoveAll(scratch)

	localPath := filepath.Join(scratch, packageName)
	if err := p.Landing.Get(ctx, localPath, packageName); err != nil {
		return err
	}

	rows, err := readStatRows(localPath)
	if err != nil {
		return err
	}
	inserted, err := p.Queue.InsertStatRows(ctx, rows)
	if err != nil {
		return err
	}
	log.Printf("%s: logged %d of %d stat rows", packageName, inserted, len(rows))

	if len(rows) > 0 {
		// Columnar copy for analytics; losing it never blocks the move.
		if err := p.writeStatParquet(ctx, scratch, packageName, rows); err != nil {
			log.Printf("warning: stat parquet for %s failed: %v", packageName, err)
		}
	}

	if err := p.Archive.Put(ctx, localPath, p.Dataset+"/"+packageName); err != nil {
		return err
	}
	if err := p.Queue.InsertArrival(ctx, packageName, jobID); err != nil {
		return err
	}
	if err := p.Landing.Delete(ctx, packageName); err != nil {
		return err
	}
	log.Printf("archived %s (job %d)", packageName, jobID)
	return nil
}

// ParseJobID extracts the job id from a package name of the form
// <dataset>#<job id>.zip.
func ParseJobID(dataset, packageName string) (int, error) {
	body, ok := strings.CutPrefix(packageName, dataset+"#")
	if !ok {
		return 0, fmt.Errorf("unexpected package name (%s)", packageName)
	}
	body, ok = strings.CutSuffix(body, ".zip")
	if !ok {
		return 0, fmt.Errorf("unexpected package name (%s)", packageName)
	}
	jobID, err := strconv.Atoi(body)
	if err != nil {
		return 0, fmt.Errorf("unexpected package name (%s): %w", packageName, err)
	}
	return jobID, nil
}

// readStatRows pulls the metric logs out of a package. job.log contributes
// its completed rows; its "capture" row is still in flight at seal time, so
// the capture/compress/upload rows come from last_job.log, the previous
// job's finals.
func readStatRows(packagePath string) ([]metric.Row, error) {
	reader, err := zip.OpenReader(packagePath)
	if err != nil {
		return nil, fmt.Errorf("open package: %w", err)
	}
	defer reader.Close()

	var rows []metric.Row
	for _, entry := range reader.File {
		switch entry.Name {
		case metric.JobLogName, metric.LastJobLogName:
		default:
			continue
		}
		parsed, err := readLogEntry(entry)
		if err != nil {
			return nil, err
		}
		for _, row := range parsed {
			final := row.EventStage == "capture" || row.EventStage == "compress" || row.EventStage == "upload"
			if entry.Name == metric.JobLogName && final {
				continue
			}
			if entry.Name == metric.LastJobLogName && !final {
				continue
			}
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func readLogEntry(entry *zip.File) ([]metric.Row, error) {
	in, err := entry.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", entry.Name, err)
	}
	defer in.Close()
	data, err := io.ReadAll(in)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", entry.Name, err)
	}
	return metric.ParseRows(data)
}
