// Package watermark persists the per-dataset job counter and per-table CDC
// cursors that make capture resumable.
//
// The store has exactly one writer: the capture orchestrator for its
// dataset, which saves once per job after every table has finished
// extracting. A missing or corrupt state file is a first run, never an
// error.
package watermark

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// StateFileName is the per-dataset state file inside the state folder.
const StateFileName = "capture.job"

// TableWatermark is the CDC cursor for one table. It is mutated only after
// a table's extraction fully completes, never partially.
type TableWatermark struct {
	TableName      string    `json:"table_name"`
	LastFileHash   string    `json:"last_filehash,omitempty"`
	LastRowHash    string    `json:"last_rowhash,omitempty"`
	LastRowVersion int64     `json:"last_rowversion,omitempty"`
	LastSequence   int64     `json:"last_sequence,omitempty"`
	LastTimestamp  time.Time `json:"last_timestamp,omitempty"`
}

// JobState is the persisted record for one dataset.
type JobState struct {
	JobID  int64                      `json:"job_id"`
	Tables map[string]*TableWatermark `json:"tables"`
}

// Store loads and saves one dataset's job state file.
type Store struct {
	fileName string
	state    JobState
}

// NewStore creates a store over stateFolder/capture.job.
func NewStore(stateFolder string) *Store {
	return &Store{
		fileName: filepath.Join(stateFolder, StateFileName),
		state:    JobState{JobID: 1, Tables: map[string]*TableWatermark{}},
	}
}

// FileName returns the backing state file path.
func (s *Store) FileName() string { return s.fileName }

// Load reads the state file. An absent or unreadable file initializes
// first-run defaults (job_id=1, empty table map) and is logged, not fatal.
func (s *Store) Load() {
	s.state = JobState{JobID: 1, Tables: map[string]*TableWatermark{}}

	data, err := os.ReadFile(s.fileName)
	if err != nil {
		log.Printf("initializing %s", s.fileName)
		return
	}

	var loaded JobState
	if err := json.Unmarshal(data, &loaded); err != nil {
		log.Printf("warning: corrupt state file treated as first run (%s): %v", s.fileName, err)
		return
	}
	if loaded.Tables == nil {
		loaded.Tables = map[string]*TableWatermark{}
	}
	if loaded.JobID < 1 {
		loaded.JobID = 1
	}
	log.Printf("loading %s (job_id=%d, %d tables)", s.fileName, loaded.JobID, len(loaded.Tables))
	s.state = loaded
}

// JobID returns the current job counter.
func (s *Store) JobID() int64 { return s.state.JobID }

// Table returns the watermark for a table, creating a zero-valued entry on
// first access. Mutations through the returned pointer are persisted by the
// next Save.
func (s *Store) Table(tableName string) *TableWatermark {
	tableName = strings.ToLower(tableName)
	if wm, ok := s.state.Tables[tableName]; ok {
		return wm
	}
	wm := &TableWatermark{TableName: tableName}
	s.state.Tables[tableName] = wm
	return wm
}

// Save persists the state file, incrementing the job counter unless this is
// a maintenance save (administrative edits that must not consume a job id).
func (s *Store) Save(isMaintenance bool) error {
	if !isMaintenance {
		s.state.JobID++
	}
	log.Printf("saving %s (job_id=%d)", s.fileName, s.state.JobID)

	if err := os.MkdirAll(filepath.Dir(s.fileName), 0o755); err != nil {
		return fmt.Errorf("create state folder: %w", err)
	}
	data, err := json.MarshalIndent(&s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := os.WriteFile(s.fileName, data, 0o644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}

// DropTable removes a table's tracked history; callers pair this with a
// maintenance save so no job id is consumed.
func (s *Store) DropTable(tableName string) {
	delete(s.state.Tables, strings.ToLower(tableName))
}

// Dump logs every tracked table cursor, sorted by name.
func (s *Store) Dump() {
	names := make([]string, 0, len(s.state.Tables))
	for name := range s.state.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		wm := s.state.Tables[name]
		log.Printf("table %s: timestamp=%s sequence=%d rowversion=%d",
			name, wm.LastTimestamp.Format(time.RFC3339), wm.LastSequence, wm.LastRowVersion)
	}
}
