package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	writerfile "github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/nucleus/cdc-core/internal/metric"
)

// statParquetRow is the columnar projection of one metric row.
type statParquetRow struct {
	ScriptName     string  `parquet:"name=script_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	ScriptInstance string  `parquet:"name=script_instance, type=BYTE_ARRAY, convertedtype=UTF8"`
	ServerName     string  `parquet:"name=server_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	DatasetID      string  `parquet:"name=dataset_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	JobID          int64   `parquet:"name=job_id, type=INT64"`
	EventStage     string  `parquet:"name=event_stage, type=BYTE_ARRAY, convertedtype=UTF8"`
	EventName      string  `parquet:"name=event_name, type=BYTE_ARRAY, convertedtype=UTF8"`
	StartTime      int64   `parquet:"name=start_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	EndTime        int64   `parquet:"name=end_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	RunTime        float64 `parquet:"name=run_time, type=DOUBLE"`
	RowCount       int64   `parquet:"name=row_count, type=INT64"`
	DataSize       int64   `parquet:"name=data_size, type=INT64"`
}

// writeStatParquet writes the package's metric rows as a parquet file under
// stats/ in the archive store.
func (p *Pipeline) writeStatParquet(ctx context.Context, scratch, packageName string, rows []metric.Row) error {
	fileName := strings.TrimSuffix(packageName, ".zip") + ".parquet"
	localPath := filepath.Join(scratch, fileName)

	out, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create parquet file: %w", err)
	}
	pfw := writerfile.NewWriterFile(out)
	pw, err := writer.NewParquetWriter(pfw, new(statParquetRow), 4)
	if err != nil {
		out.Close()
		return fmt.Errorf("open parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		if err := pw.Write(statParquetRow{
			ScriptName:     row.ScriptName,
			ScriptInstance: row.ScriptInstance,
			ServerName:     row.ServerName,
			DatasetID:      row.DatasetID,
			JobID:          row.JobID,
			EventStage:     row.EventStage,
			EventName:      row.EventName,
			StartTime:      row.StartTime.UnixNano() / int64(time.Millisecond),
			EndTime:        row.EndTime.UnixNano() / int64(time.Millisecond),
			RunTime:        row.RunTime,
			RowCount:       row.RowCount,
			DataSize:       row.DataSize,
		}); err != nil {
			pw.WriteStop()
			out.Close()
			return fmt.Errorf("write parquet row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		out.Close()
		return fmt.Errorf("finalize parquet file: %w", err)
	}
	if err := out.Close(); err != nil {
		return err
	}

	return p.Archive.Put(ctx, localPath, p.Dataset+"/stats/"+fileName)
}
