// Package metric records per-job event metrics: one timed event per job,
// step and table, flushed to a JSON log that travels inside the capture
// package. The recorder is an explicit value threaded through the
// orchestration call chain; there is no process-wide metric state.
package metric

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
)

// Stable log names inside the capture package. job.log is saved after every
// table for diagnostics and so carries in-flight values; last_job.log is the
// final variant written only when a job completes, under a stable name the
// archive stage can rely on.
const (
	JobLogName     = "job.log"
	LastJobLogName = "last_job.log"
)

// Event types.
const (
	TypeJob   = "job"
	TypeStep  = "step"
	TypeTable = "table"
)

// Row is one serialized metric event extended with session context.
type Row struct {
	ScriptName     string    `json:"script_name"`
	ScriptInstance string    `json:"script_instance"`
	ServerName     string    `json:"server_name"`
	DatasetID      string    `json:"dataset_id"`
	JobID          int64     `json:"job_id"`
	EventStage     string    `json:"event_stage"` // capture, extract, compress, upload, <table>
	EventName      string    `json:"event_name"`  // job | step | table
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	RunTime        float64   `json:"run_time"` // seconds; zero until the event stops
	RowCount       int64     `json:"row_count"`
	DataSize       int64     `json:"data_size"`
}

// Recorder tracks the events of one job run.
type Recorder struct {
	fileName string

	scriptName     string
	scriptInstance string
	serverName     string
	datasetID      string
	jobID          int64

	order  []string
	events map[string]*Row
}

// NewRecorder creates a recorder whose Save writes to fileName.
func NewRecorder(fileName, scriptName, datasetID string, jobID int64) *Recorder {
	hostname, _ := os.Hostname()
	return &Recorder{
		fileName:       fileName,
		scriptName:     scriptName,
		scriptInstance: uuid.NewString(),
		serverName:     hostname,
		datasetID:      datasetID,
		jobID:          jobID,
		events:         map[string]*Row{},
	}
}

// Start begins timing a named event. Restarting a name resets it.
func (r *Recorder) Start(stage, eventType string) {
	if _, exists := r.events[stage]; !exists {
		r.order = append(r.order, stage)
	}
	r.events[stage] = &Row{
		ScriptName:     r.scriptName,
		ScriptInstance: r.scriptInstance,
		ServerName:     r.serverName,
		DatasetID:      r.datasetID,
		JobID:          r.jobID,
		EventStage:     stage,
		EventName:      eventType,
		StartTime:      time.Now(),
	}
	log.Printf("%s started ...", stage)
}

// Stop finishes a named event with its row and byte counts.
func (r *Recorder) Stop(stage string, rowCount, dataSize int64) {
	event, ok := r.events[stage]
	if !ok {
		log.Printf("warning: stop for unknown event (%s)", stage)
		return
	}
	event.EndTime = time.Now()
	event.RunTime = event.EndTime.Sub(event.StartTime).Seconds()
	event.RowCount = rowCount
	event.DataSize = dataSize
	log.Printf("%s complete in %.3f secs (%d rows, %d bytes)", stage, event.RunTime, rowCount, dataSize)
}

// Rows returns events in start order.
func (r *Recorder) Rows() []Row {
	rows := make([]Row, 0, len(r.order))
	for _, stage := range r.order {
		rows = append(rows, *r.events[stage])
	}
	return rows
}

// Save writes the event rows to the recorder's default file.
func (r *Recorder) Save() error {
	return r.SaveAs(r.fileName)
}

// SaveAs writes the event rows to an explicit file, e.g. the stable
// last_job.log copy in the state folder.
func (r *Recorder) SaveAs(fileName string) error {
	data, err := json.MarshalIndent(r.Rows(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode metrics: %w", err)
	}
	if err := os.WriteFile(fileName, data, 0o644); err != nil {
		return fmt.Errorf("write metrics log: %w", err)
	}
	return nil
}

// ParseRows decodes a metrics log previously written by Save.
func ParseRows(data []byte) ([]Row, error) {
	var rows []Row
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("decode metrics log: %w", err)
	}
	return rows, nil
}
