package queue

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nucleus/cdc-core/internal/metric"
)

// PostgresQueue stores the queue tables in the control database.
type PostgresQueue struct {
	db *pgxpool.Pool
}

// Bootstrap DDL is applied on open; the tables are tiny and the control
// database owns no other schema.
var bootstrapDDL = []string{
	`create table if not exists stage_arrival_queue (
		archive_file_name text primary key,
		job_id            integer not null,
		arrived_at        timestamp not null default now()
	)`,
	`create table if not exists stage_pending_queue (
		archive_file_name text primary key,
		created_at        timestamp not null default now()
	)`,
	`create table if not exists stat_log (
		script_name     text not null,
		script_instance text not null,
		server_name     text not null,
		dataset_id      text not null,
		job_id          integer not null,
		event_stage     text not null,
		event_name      text not null,
		start_time      timestamp not null,
		end_time        timestamp not null,
		run_time        double precision not null,
		row_count       bigint not null,
		data_size       bigint not null,
		primary key (script_instance, event_stage, event_name)
	)`,
}

// OpenPostgres connects to the control database and ensures the queue
// tables exist.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresQueue, error) {
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open control database: %w", err)
	}
	for _, ddl := range bootstrapDDL {
		if _, err := db.Exec(ctx, ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("bootstrap queue tables: %w", err)
		}
	}
	return &PostgresQueue{db: db}, nil
}

func (q *PostgresQueue) InsertArrival(ctx context.Context, archiveFileName string, jobID int) error {
	_, err := q.db.Exec(ctx,
		`insert into stage_arrival_queue (archive_file_name, job_id)
		 values ($1, $2)
		 on conflict (archive_file_name) do nothing`,
		archiveFileName, jobID)
	if err != nil {
		return fmt.Errorf("insert arrival %s: %w", archiveFileName, err)
	}
	return nil
}

func (q *PostgresQueue) NextArrival(ctx context.Context) (*Arrival, error) {
	var arrival Arrival
	err := q.db.QueryRow(ctx,
		`select archive_file_name, job_id
		 from stage_arrival_queue
		 order by job_id, archive_file_name
		 limit 1`).Scan(&arrival.ArchiveFileName, &arrival.JobID)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next arrival: %w", err)
	}
	return &arrival, nil
}

func (q *PostgresQueue) DeleteArrival(ctx context.Context, archiveFileName string) error {
	_, err := q.db.Exec(ctx,
		`delete from stage_arrival_queue where archive_file_name = $1`, archiveFileName)
	if err != nil {
		return fmt.Errorf("delete arrival %s: %w", archiveFileName, err)
	}
	return nil
}

func (q *PostgresQueue) InsertPending(ctx context.Context, archiveFileName string) error {
	_, err := q.db.Exec(ctx,
		`insert into stage_pending_queue (archive_file_name)
		 values ($1)
		 on conflict (archive_file_name) do nothing`,
		archiveFileName)
	if err != nil {
		return fmt.Errorf("insert pending %s: %w", archiveFileName, err)
	}
	return nil
}

func (q *PostgresQueue) DeletePending(ctx context.Context, archiveFileName string) error {
	_, err := q.db.Exec(ctx,
		`delete from stage_pending_queue where archive_file_name = $1`, archiveFileName)
	if err != nil {
		return fmt.Errorf("delete pending %s: %w", archiveFileName, err)
	}
	return nil
}

func (q *PostgresQueue) ListPending(ctx context.Context) ([]string, error) {
	rows, err := q.db.Query(ctx,
		`select archive_file_name from stage_pending_queue order by archive_file_name`)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (q *PostgresQueue) InsertStatRows(ctx context.Context, rows []metric.Row) (int, error) {
	inserted := 0
	for _, row := range rows {
		tag, err := q.db.Exec(ctx,
			`insert into stat_log (script_name, script_instance, server_name, dataset_id,
			 job_id, event_stage, event_name, start_time, end_time, run_time, row_count, data_size)
			 values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
			 on conflict (script_instance, event_stage, event_name) do nothing`,
			row.ScriptName, row.ScriptInstance, row.ServerName, row.DatasetID,
			row.JobID, row.EventStage, row.EventName, row.StartTime, row.EndTime,
			row.RunTime, row.RowCount, row.DataSize)
		if err != nil {
			return inserted, fmt.Errorf("insert stat row %s/%s: %w", row.EventStage, row.EventName, err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func (q *PostgresQueue) Close() {
	q.db.Close()
}
