package capture

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// Batch is one extraction batch file: the output column names and the rows
// in select order. The stage applier bulk-loads rows positionally against
// the packaged schema, so column order is significant.
type Batch struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// extractResult summarizes one table's extraction.
type extractResult struct {
	RowCount  int64
	DataSize  int64
	FileNames []string
	// ContentHash is a digest over every row's serialized form, used by the
	// hash strategies to detect an unchanged table.
	ContentHash string
}

// writeBatches drains the reader into numbered batch files of at most
// batchSize rows each: <table>#0001.json, <table>#0002.json, ...
// An empty result set produces no files.
func writeBatches(reader RowReader, workFolder, tableName string, batchSize int) (*extractResult, error) {
	defer reader.Close()

	result := &extractResult{}
	digest := sha256.New()
	columns := reader.Columns()
	var rows [][]any

	flush := func() error {
		if len(rows) == 0 {
			return nil
		}
		fileName := filepath.Join(workFolder, fmt.Sprintf("%s#%04d.json", tableName, len(result.FileNames)+1))
		data, err := json.Marshal(Batch{Columns: columns, Rows: rows})
		if err != nil {
			return fmt.Errorf("encode batch %s: %w", fileName, err)
		}
		if err := os.WriteFile(fileName, data, 0o644); err != nil {
			return fmt.Errorf("write batch: %w", err)
		}
		result.FileNames = append(result.FileNames, fileName)
		result.DataSize += int64(len(data))
		rows = rows[:0]
		return nil
	}

	for {
		values, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row := normalizeRow(values)
		encoded, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("encode extraction row: %w", err)
		}
		digest.Write(encoded)

		rows = append(rows, row)
		result.RowCount++
		if len(rows) >= batchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	result.ContentHash = hex.EncodeToString(digest.Sum(nil))
	return result, nil
}

// rowTimestampFormat carries the full datetime2(7) precision of data
// columns; whole-second truncation applies only to the job snapshot.
const rowTimestampFormat = "2006-01-02 15:04:05.9999999"

// normalizeRow converts driver-specific scan values into JSON-stable forms:
// byte slices become strings, times keep their fractional seconds.
func normalizeRow(values []any) []any {
	row := make([]any, len(values))
	for i, v := range values {
		switch value := v.(type) {
		case []byte:
			row[i] = string(value)
		case time.Time:
			row[i] = value.Format(rowTimestampFormat)
		default:
			row[i] = value
		}
	}
	return row
}

// ParseBatch decodes a batch file previously written by writeBatches.
func ParseBatch(data []byte) (*Batch, error) {
	var batch Batch
	if err := json.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	return &batch, nil
}
