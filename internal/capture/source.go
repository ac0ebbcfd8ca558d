package capture

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/nucleus/cdc-core/internal/sqldb"
	"github.com/nucleus/cdc-core/internal/table"
)

// Source is the slice of source-database behavior the orchestrator needs.
// sqldb.Client satisfies it through the adapter below; tests supply fakes.
type Source interface {
	CurrentTimestamp(ctx context.Context) (time.Time, error)
	CurrentSequence(ctx context.Context, schema, tableName, column string) (int64, error)
	TableExists(ctx context.Context, schema, tableName string) (bool, error)
	SelectTableSchema(ctx context.Context, schema, tableName string) (*table.Schema, error)
	SelectTablePK(ctx context.Context, schema, tableName string) (string, error)

	// TimestampLiteral renders a database-generated timestamp expression for
	// full-pull load timestamps.
	TimestampLiteral(t time.Time) string

	// Extract runs the extraction select and streams its rows.
	Extract(ctx context.Context, query string) (RowReader, error)
}

// RowReader streams extraction rows. Next returns io.EOF after the last row.
type RowReader interface {
	Columns() []string
	Next() ([]any, error)
	Close() error
}

// SQLSource adapts sqldb.Client to the Source interface.
type SQLSource struct {
	Client *sqldb.Client
}

func NewSQLSource(client *sqldb.Client) *SQLSource {
	return &SQLSource{Client: client}
}

func (s *SQLSource) CurrentTimestamp(ctx context.Context) (time.Time, error) {
	return s.Client.CurrentTimestamp(ctx)
}

func (s *SQLSource) CurrentSequence(ctx context.Context, schema, tableName, column string) (int64, error) {
	return s.Client.CurrentSequence(ctx, schema, tableName, column)
}

func (s *SQLSource) TableExists(ctx context.Context, schema, tableName string) (bool, error) {
	return s.Client.TableExists(ctx, schema, tableName)
}

func (s *SQLSource) SelectTableSchema(ctx context.Context, schema, tableName string) (*table.Schema, error) {
	return s.Client.SelectTableSchema(ctx, schema, tableName)
}

func (s *SQLSource) SelectTablePK(ctx context.Context, schema, tableName string) (string, error) {
	return s.Client.SelectTablePK(ctx, schema, tableName)
}

func (s *SQLSource) TimestampLiteral(t time.Time) string {
	return s.Client.Dialect.TimestampLiteral(t)
}

func (s *SQLSource) Extract(ctx context.Context, query string) (RowReader, error) {
	rows, err := s.Client.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("extract columns: %w", err)
	}
	return &sqlRowReader{rows: rows, columns: columns}, nil
}

type sqlRowReader struct {
	rows    rowCursor
	columns []string
}

// rowCursor is the sql.Rows surface the reader uses.
type rowCursor interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

func (r *sqlRowReader) Columns() []string { return r.columns }

func (r *sqlRowReader) Next() ([]any, error) {
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	values := make([]any, len(r.columns))
	pointers := make([]any, len(r.columns))
	for i := range values {
		pointers[i] = &values[i]
	}
	if err := r.rows.Scan(pointers...); err != nil {
		return nil, fmt.Errorf("scan extraction row: %w", err)
	}
	return values, nil
}

func (r *sqlRowReader) Close() error { return r.rows.Close() }
