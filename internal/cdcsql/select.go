package cdcsql

import (
	"fmt"
	"strings"
	"time"

	"github.com/nucleus/cdc-core/internal/table"
)

// Names of the traceability columns appended to every extraction select and
// to every staged target table.
const (
	JobColumn       = "cdc_job_id"
	TimestampColumn = "cdc_timestamp"
)

// ExtendedDefinitions are the tracking column definitions appended to target
// tables and merge column sets at staging.
func ExtendedDefinitions() []string {
	return []string{JobColumn + " int", TimestampColumn + " datetime2"}
}

// TimestampFormat renders a time as a SQL timestamp literal body.
const TimestampFormat = "2006-01-02 15:04:05"

// Window carries the per-job CDC cursor values for one extraction select.
type Window struct {
	JobID            int64
	LastTimestamp    time.Time
	CurrentTimestamp time.Time
	LastSequence     int64
	CurrentSequence  int64

	// TimestampLiteral is the database-generated load-timestamp expression
	// used when the table has no timestamp column (full pulls).
	TimestampLiteral string
}

// SelectBuilder assembles the windowed extraction select for one table.
type SelectBuilder struct {
	Table    *table.Descriptor
	Strategy table.Strategy
}

// NewSelect creates a select builder for a table with a resolved strategy.
func NewSelect(desc *table.Descriptor, strategy table.Strategy) *SelectBuilder {
	return &SelectBuilder{Table: desc, Strategy: strategy}
}

// Build renders the extraction select. The statement always appends the job
// id and computed timestamp as extra output columns and ends with ';'.
func (b *SelectBuilder) Build(w Window) string {
	tsValue, tsCondition := b.timestampLogic(w)
	seqCondition := b.sequenceLogic(w)

	lines := []string{
		"select",
		b.columnList() + ",",
		fmt.Sprintf("%d as %s,", w.JobID, Quote(JobColumn)),
		fmt.Sprintf("%s as %s", tsValue, Quote(TimestampColumn)),
		fmt.Sprintf("from %s.%s as %s", Quote(b.Table.SchemaName), Quote(b.Table.TableName), Quote("s")),
		b.joinClause(),
		b.whereClause(tsCondition, seqCondition),
		b.orderClause(),
	}
	return deleteBlankLines(strings.TrimSpace(strings.Join(lines, "\n")) + ";")
}

func (b *SelectBuilder) columnList() string {
	if len(b.Table.ColumnNames) == 0 {
		return "*"
	}
	return strings.Join(AddAliases(b.Table.ColumnNames, "s"), ", ")
}

// timestampLogic returns the timestamp output expression and, for the
// timestamp strategy, the window condition over it.
func (b *SelectBuilder) timestampLogic(w Window) (value, condition string) {
	columns := table.SplitList(b.Table.TimestampColumns)
	if len(columns) == 0 {
		value = w.TimestampLiteral
		if value == "" {
			value = "'" + w.CurrentTimestamp.Format(TimestampFormat) + "'"
		}
		return value, ""
	}

	aliased := AddAliases(columns, "s")
	if len(aliased) == 1 {
		value = aliased[0]
	} else {
		// max over the per-row timestamp column values
		wrapped := make([]string, len(aliased))
		for i, column := range aliased {
			wrapped[i] = "(" + column + ")"
		}
		value = fmt.Sprintf(`(select max("v") from (values %s) as value("v"))`, strings.Join(wrapped, ", "))
	}

	if b.Strategy != table.StrategyTimestamp {
		return value, ""
	}

	condition = strings.Join([]string{
		"(",
		fmt.Sprintf("%s >= '%s' and", value, w.LastTimestamp.Format(TimestampFormat)),
		fmt.Sprintf("%s < '%s'", value, w.CurrentTimestamp.Format(TimestampFormat)),
		")",
	}, "\n")
	return value, condition
}

// sequenceLogic windows over the sequence column, or the rowversion column
// which behaves as a monotonic sequence.
func (b *SelectBuilder) sequenceLogic(w Window) string {
	var name string
	switch b.Strategy {
	case table.StrategySequence:
		name = b.Table.SequenceColumn
	case table.StrategyRowVersion:
		name = b.Table.RowVersionColumn
	}
	if name == "" {
		return ""
	}
	column := AddAlias(name, "s")
	return strings.Join([]string{
		"(",
		fmt.Sprintf("%s >= %d and", column, w.LastSequence),
		fmt.Sprintf("%s < %d", column, w.CurrentSequence),
		")",
	}, "\n")
}

func (b *SelectBuilder) joinClause() string {
	join := strings.Trim(b.Table.Join, "\\")
	if strings.TrimSpace(join) == "" {
		return ""
	}
	return "\n" + FormatJoin(join, b.Table.SchemaName)
}

func (b *SelectBuilder) whereClause(conditions ...string) string {
	var parts []string
	if where := strings.TrimSpace(b.Table.Where); where != "" {
		parts = append(parts, "("+where+")")
	}
	for _, condition := range conditions {
		if condition != "" {
			parts = append(parts, condition)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "where\n" + spaces(4) + strings.Join(parts, " and\n"+spaces(4))
}

func (b *SelectBuilder) orderClause() string {
	columns := table.SplitList(b.Table.Order)
	if len(columns) == 0 {
		return ""
	}
	return "order by " + strings.Join(AddAliases(columns, "s"), ", ")
}
