// Package queue persists the control-flow state shared by the archive and
// stage daemons: which packages have arrived, which package each dataset
// expects next, and the rolled-up run statistics.
package queue

import (
	"context"
	"sort"
	"sync"

	"github.com/nucleus/cdc-core/internal/metric"
)

// Arrival is one package waiting to be staged.
type Arrival struct {
	ArchiveFileName string
	JobID           int
}

// Queue is the arrival/pending bookkeeping behind the transfer pipeline.
type Queue interface {
	// InsertArrival records a package arrival. Re-inserting the same
	// package is a no-op so a reprocessed landing file stays idempotent.
	InsertArrival(ctx context.Context, archiveFileName string, jobID int) error
	// NextArrival returns the oldest arrival (lowest job_id), or nil when
	// the queue is empty.
	NextArrival(ctx context.Context) (*Arrival, error)
	DeleteArrival(ctx context.Context, archiveFileName string) error

	// InsertPending marks the package a dataset expects next. Duplicate
	// inserts are no-ops.
	InsertPending(ctx context.Context, archiveFileName string) error
	DeletePending(ctx context.Context, archiveFileName string) error
	ListPending(ctx context.Context) ([]string, error)

	// InsertStatRows appends run statistics, skipping rows already logged
	// for the same script instance and event.
	InsertStatRows(ctx context.Context, rows []metric.Row) (int, error)

	Close()
}

// MemoryQueue keeps the queue state in process. It backs tests and
// single-binary runs without a control database.
type MemoryQueue struct {
	mu       sync.Mutex
	arrivals map[string]int
	pending  map[string]bool
	stats    map[string]metric.Row
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{
		arrivals: map[string]int{},
		pending:  map[string]bool{},
		stats:    map[string]metric.Row{},
	}
}

func (q *MemoryQueue) InsertArrival(ctx context.Context, archiveFileName string, jobID int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.arrivals[archiveFileName]; !ok {
		q.arrivals[archiveFileName] = jobID
	}
	return nil
}

func (q *MemoryQueue) NextArrival(ctx context.Context) (*Arrival, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var next *Arrival
	for name, jobID := range q.arrivals {
		if next == nil || jobID < next.JobID || (jobID == next.JobID && name < next.ArchiveFileName) {
			next = &Arrival{ArchiveFileName: name, JobID: jobID}
		}
	}
	return next, nil
}

func (q *MemoryQueue) DeleteArrival(ctx context.Context, archiveFileName string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.arrivals, archiveFileName)
	return nil
}

func (q *MemoryQueue) InsertPending(ctx context.Context, archiveFileName string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending[archiveFileName] = true
	return nil
}

func (q *MemoryQueue) DeletePending(ctx context.Context, archiveFileName string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, archiveFileName)
	return nil
}

func (q *MemoryQueue) ListPending(ctx context.Context) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	names := make([]string, 0, len(q.pending))
	for name := range q.pending {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (q *MemoryQueue) InsertStatRows(ctx context.Context, rows []metric.Row) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	inserted := 0
	for _, row := range rows {
		key := row.ScriptInstance + "|" + row.EventStage + "|" + row.EventName
		if _, ok := q.stats[key]; ok {
			continue
		}
		q.stats[key] = row
		inserted++
	}
	return inserted, nil
}

func (q *MemoryQueue) Close() {}
