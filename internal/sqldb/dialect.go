// Package sqldb wraps database/sql with the platform-specific SQL text the
// pipeline needs on both ends: schema/PK discovery and snapshot reads on the
// source, and table management plus bulk loading on the target warehouse.
package sqldb

import (
	"fmt"
	"time"
)

// Dialect carries the per-platform SQL fragments.
type Dialect struct {
	Name   string
	Driver string

	// Placeholder renders the i-th (1-based) query parameter.
	Placeholder func(i int) string
	// TimestampLiteral renders a database-generated timestamp expression for
	// full-pull load timestamps.
	TimestampLiteral func(t time.Time) string

	// DDL renderers; identifiers come from discovered schemas and validated
	// configuration, not user input.
	CreateSchemaSQL func(schema string) string
	DropTableSQL    func(schema, tableName string) string
	CreateTableSQL  func(schema, tableName, columnDefinitions string) string

	currentTimestampSQL string
	tableExistsSQL      string
	selectSchemaSQL     string
	selectPKSQL         string
}

const (
	postgresPrefix  = "$"
	sqlserverPrefix = "@p"
)

func informationSchemaColumns(p1, p2 string) string {
	return `select column_name, data_type, is_nullable,
	coalesce(character_maximum_length, 0),
	coalesce(numeric_precision, 0), coalesce(numeric_scale, 0),
	coalesce(datetime_precision, 0),
	coalesce(character_set_name, ''), coalesce(collation_name, '')
	from information_schema.columns
	where table_schema = ` + p1 + ` and table_name = ` + p2 + `
	order by ordinal_position`
}

func informationSchemaPK(p1, p2 string) string {
	return `select kcu.column_name
	from information_schema.table_constraints tc
	join information_schema.key_column_usage kcu
	  on kcu.constraint_name = tc.constraint_name
	 and kcu.table_schema = tc.table_schema
	where tc.constraint_type = 'PRIMARY KEY'
	  and tc.table_schema = ` + p1 + ` and tc.table_name = ` + p2
}

func informationSchemaExists(p1, p2 string) string {
	return `select 1 from information_schema.tables
	where table_schema = ` + p1 + ` and table_name = ` + p2
}

// Postgres returns the PostgreSQL dialect (lib/pq driver).
func Postgres() *Dialect {
	return &Dialect{
		Name:   "postgresql",
		Driver: "postgres",
		Placeholder: func(i int) string {
			return fmt.Sprintf("%s%d", postgresPrefix, i)
		},
		TimestampLiteral: func(t time.Time) string {
			return fmt.Sprintf("to_timestamp('%s', 'YYYY-MM-DD HH24:MI:SS')::timestamp without time zone",
				t.Format("2006-01-02 15:04:05"))
		},
		CreateSchemaSQL: func(schema string) string {
			return fmt.Sprintf(`create schema if not exists "%s"`, schema)
		},
		DropTableSQL: func(schema, tableName string) string {
			return fmt.Sprintf(`drop table if exists "%s"."%s"`, schema, tableName)
		},
		CreateTableSQL: func(schema, tableName, columnDefinitions string) string {
			return fmt.Sprintf("create table if not exists \"%s\".\"%s\" (\n%s\n)", schema, tableName, columnDefinitions)
		},
		currentTimestampSQL: "select now()::timestamp without time zone",
		tableExistsSQL:      informationSchemaExists("$1", "$2"),
		selectSchemaSQL:     informationSchemaColumns("$1", "$2"),
		selectPKSQL:         informationSchemaPK("$1", "$2"),
	}
}

// SQLServer returns the SQL Server dialect. The sqlserver driver must be
// registered by the importing binary.
func SQLServer() *Dialect {
	return &Dialect{
		Name:   "mssql",
		Driver: "sqlserver",
		Placeholder: func(i int) string {
			return fmt.Sprintf("%s%d", sqlserverPrefix, i)
		},
		TimestampLiteral: func(t time.Time) string {
			return fmt.Sprintf("cast('%s' as datetime2)", t.Format("2006-01-02 15:04:05"))
		},
		CreateSchemaSQL: func(schema string) string {
			return fmt.Sprintf(`if schema_id('%s') is null exec('create schema "%s"')`, schema, schema)
		},
		DropTableSQL: func(schema, tableName string) string {
			return fmt.Sprintf(`drop table if exists "%s"."%s"`, schema, tableName)
		},
		CreateTableSQL: func(schema, tableName, columnDefinitions string) string {
			return fmt.Sprintf("if object_id('%s.%s') is null create table \"%s\".\"%s\" (\n%s\n)",
				schema, tableName, schema, tableName, columnDefinitions)
		},
		currentTimestampSQL: "select sysdatetime()",
		tableExistsSQL:      informationSchemaExists("@p1", "@p2"),
		selectSchemaSQL:     informationSchemaColumns("@p1", "@p2"),
		selectPKSQL:         informationSchemaPK("@p1", "@p2"),
	}
}

// ForPlatform resolves a dialect by platform name.
func ForPlatform(platform string) (*Dialect, error) {
	switch platform {
	case "postgresql", "postgres":
		return Postgres(), nil
	case "mssql", "sqlserver":
		return SQLServer(), nil
	default:
		return nil, fmt.Errorf("unknown database platform (%s)", platform)
	}
}
