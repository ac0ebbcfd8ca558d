package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/nucleus/cdc-core/internal/cdcsql"
	"github.com/nucleus/cdc-core/internal/table"
)

// Client is a platform-aware connection to a source or target database.
type Client struct {
	DB      *sql.DB
	Dialect *Dialect
}

// Open connects to a database by platform name and connection string.
func Open(platform, dsn string) (*Client, error) {
	dialect, err := ForPlatform(platform)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(dialect.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect.Name, err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Client{DB: db, Dialect: dialect}, nil
}

// Close releases database resources.
func (c *Client) Close() error {
	if c.DB != nil {
		return c.DB.Close()
	}
	return nil
}

// Ping verifies connectivity.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.DB.PingContext(ctx)
}

// CurrentTimestamp returns the database server's current time.
func (c *Client) CurrentTimestamp(ctx context.Context) (time.Time, error) {
	var ts time.Time
	if err := c.DB.QueryRowContext(ctx, c.Dialect.currentTimestampSQL).Scan(&ts); err != nil {
		return time.Time{}, fmt.Errorf("current timestamp: %w", err)
	}
	return ts, nil
}

// CurrentSequence returns the table's current sequence ceiling: the max of
// its sequence column, 0 for an empty table.
func (c *Client) CurrentSequence(ctx context.Context, schema, tableName, column string) (int64, error) {
	query := fmt.Sprintf(`select coalesce(max("%s"), 0) from "%s"."%s"`, column, schema, tableName)
	c.logSQL("current_sequence", query)

	var sequence int64
	if err := c.DB.QueryRowContext(ctx, query).Scan(&sequence); err != nil {
		return 0, fmt.Errorf("current sequence for %s.%s: %w", schema, tableName, err)
	}
	return sequence, nil
}

// TableExists reports whether a table (or view) exists.
func (c *Client) TableExists(ctx context.Context, schema, tableName string) (bool, error) {
	var one int
	err := c.DB.QueryRowContext(ctx, c.Dialect.tableExistsSQL, schema, tableName).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("table exists %s.%s: %w", schema, tableName, err)
	}
	return true, nil
}

// SelectTableSchema discovers a table's live schema; nil when the table
// does not exist.
func (c *Client) SelectTableSchema(ctx context.Context, schema, tableName string) (*table.Schema, error) {
	exists, err := c.TableExists(ctx, schema, tableName)
	if err != nil || !exists {
		return nil, err
	}

	rows, err := c.DB.QueryContext(ctx, c.Dialect.selectSchemaSQL, schema, tableName)
	if err != nil {
		return nil, fmt.Errorf("select table schema %s.%s: %w", schema, tableName, err)
	}
	defer rows.Close()

	discovered := &table.Schema{TableName: tableName}
	for rows.Next() {
		var col table.Column
		if err := rows.Scan(&col.Name, &col.DataType, &col.IsNullable,
			&col.CharMaxLength, &col.NumericPrec, &col.NumericScale,
			&col.DatetimePrec, &col.CharacterSet, &col.Collation); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		col.Name = strings.ToLower(col.Name)
		discovered.Columns = append(discovered.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read table schema %s.%s: %w", schema, tableName, err)
	}
	return discovered, nil
}

// SelectTablePK returns the table's primary key as a sorted, comma delimited
// column list, or "" when no key is defined.
func (c *Client) SelectTablePK(ctx context.Context, schema, tableName string) (string, error) {
	rows, err := c.DB.QueryContext(ctx, c.Dialect.selectPKSQL, schema, tableName)
	if err != nil {
		return "", fmt.Errorf("select table pk %s.%s: %w", schema, tableName, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return "", fmt.Errorf("scan pk column: %w", err)
		}
		columns = append(columns, strings.ToLower(name))
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("read table pk %s.%s: %w", schema, tableName, err)
	}
	sort.Strings(columns)
	return strings.Join(columns, ", "), nil
}

// CreateSchema creates a schema when missing.
func (c *Client) CreateSchema(ctx context.Context, schema string) error {
	query := c.Dialect.CreateSchemaSQL(schema)
	c.logSQL("create_schema", query)
	if _, err := c.DB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}
	return nil
}

// CreateTableFromSchema creates a table from a discovered schema, appending
// extended column definitions.
func (c *Client) CreateTableFromSchema(ctx context.Context, schema, tableName string, ts *table.Schema, extended []string) error {
	definitions, err := ts.ColumnDefinitions(extended)
	if err != nil {
		return fmt.Errorf("create table %s.%s: %w", schema, tableName, err)
	}
	query := c.Dialect.CreateTableSQL(schema, tableName, definitions)
	c.logSQL("create_table", query)
	if _, err := c.DB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create table %s.%s: %w", schema, tableName, err)
	}
	return nil
}

// DropTable drops a table when present.
func (c *Client) DropTable(ctx context.Context, schema, tableName string) error {
	query := c.Dialect.DropTableSQL(schema, tableName)
	c.logSQL("drop_table", query)
	if _, err := c.DB.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("drop table %s.%s: %w", schema, tableName, err)
	}
	return nil
}

// BulkInsert loads rows into a table inside one transaction using a
// prepared insert over the schema's column set.
func (c *Client) BulkInsert(ctx context.Context, schema, tableName string, ts *table.Schema, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	names := ts.ColumnNames()
	placeholders := make([]string, len(names))
	for i := range names {
		placeholders[i] = c.Dialect.Placeholder(i + 1)
	}
	query := fmt.Sprintf("insert into \"%s\".\"%s\" (%s) values (%s)",
		schema, tableName,
		strings.Join(cdcsql.QuoteAll(names), ", "),
		strings.Join(placeholders, ", "))
	c.logSQL("bulk_insert", query)

	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin bulk insert: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare bulk insert: %w", err)
	}
	defer stmt.Close()

	for i, row := range rows {
		if len(row) != len(names) {
			tx.Rollback()
			return fmt.Errorf("bulk insert %s.%s: row %d has %d values, want %d",
				schema, tableName, i, len(row), len(names))
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			tx.Rollback()
			return fmt.Errorf("bulk insert %s.%s row %d: %w", schema, tableName, i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bulk insert: %w", err)
	}
	return nil
}

// Exec runs a statement (e.g. a synthesized merge) against the database.
func (c *Client) Exec(ctx context.Context, query string, args ...any) error {
	c.logSQL("exec", query)
	if _, err := c.DB.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("execute: %w", err)
	}
	return nil
}

// Query runs an extraction select and returns the cursor.
func (c *Client) Query(ctx context.Context, query string) (*sql.Rows, error) {
	c.logSQL("query", query)
	rows, err := c.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return rows, nil
}

func (c *Client) logSQL(command, query string) {
	log.Printf("sql(%s): %s", command, strings.ReplaceAll(query, "\n", `\n`))
}
