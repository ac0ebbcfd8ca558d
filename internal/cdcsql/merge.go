package cdcsql

import (
	"fmt"
	"strings"

	"github.com/nucleus/cdc-core/internal/table"
)

// MergeBuilder assembles the staging upsert for one table: matched rows are
// updated column by column, unmatched source rows are inserted. The source
// is the temp staging table the applier bulk-loads batches into.
type MergeBuilder struct {
	Table *table.Descriptor

	columnNames []string
}

// NewMerge creates a merge builder, appending any extended column
// definitions ("name type ...") missing from the table's column set.
func NewMerge(desc *table.Descriptor, extendedDefinitions []string) *MergeBuilder {
	names := append([]string(nil), desc.ColumnNames...)
	for _, definition := range extendedDefinitions {
		fields := strings.Fields(definition)
		if len(fields) == 0 {
			continue
		}
		name := fields[0]
		if !containsFold(names, name) {
			names = append(names, name)
		}
	}
	return &MergeBuilder{Table: desc, columnNames: names}
}

// Build renders the merge statement against schemaName.<table> using the
// temp staging table schemaName._<table> as source. keyColumns is the comma
// delimited natural key used for the match condition.
func (m *MergeBuilder) Build(schemaName, keyColumns string) string {
	tableName := m.Table.TableName
	lines := []string{
		"-- s:source, t:target",
		fmt.Sprintf("merge %s.%s with (serializable) as t", Quote(schemaName), Quote(tableName)),
		fmt.Sprintf("using %s.%s as s", Quote(schemaName), Quote("_"+tableName)),
		spaces(2) + "on " + m.matchCondition(keyColumns),
		"when matched then",
		spaces(2) + "update set",
		m.columnAssignments(keyColumns),
		"when not matched by target then",
		spaces(2) + "insert",
		spaces(4) + "(" + strings.Join(QuoteAll(m.columnNames), ", ") + ")",
		spaces(4) + "values",
		spaces(4) + "(" + strings.Join(AddAliases(m.columnNames, "s"), ", ") + ");",
	}
	return deleteBlankLines(strings.Join(lines, "\n"))
}

// matchCondition ANDs target-to-source equality over every key column.
func (m *MergeBuilder) matchCondition(keyColumns string) string {
	var conditions []string
	for _, key := range table.SplitList(keyColumns) {
		conditions = append(conditions, AddAlias(key, "t")+"="+AddAlias(key, "s"))
	}
	return strings.Join(conditions, " and ")
}

// columnAssignments assigns every non-key column from source to target.
func (m *MergeBuilder) columnAssignments(keyColumns string) string {
	keys := table.SplitList(keyColumns)
	var assignments []string
	for _, name := range m.columnNames {
		if containsFold(keys, name) {
			continue
		}
		assignments = append(assignments, spaces(6)+AddAlias(name, "t")+" = "+AddAlias(name, "s"))
	}
	return strings.Join(assignments, ",\n")
}

func containsFold(items []string, target string) bool {
	for _, item := range items {
		if strings.EqualFold(item, target) {
			return true
		}
	}
	return false
}
