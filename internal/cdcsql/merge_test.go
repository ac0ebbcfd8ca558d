package cdcsql

import (
	"strings"
	"testing"

	"github.com/nucleus/cdc-core/internal/table"
)

func mergeTable() *table.Descriptor {
	return &table.Descriptor{
		TableName:   "orders",
		ColumnNames: []string{"col1", "col2", "col3", "col4"},
	}
}

func TestMerge_MatchConditionAndSetList(t *testing.T) {
	sql := NewMerge(mergeTable(), nil).Build("sales", "col1, col3")

	if !strings.Contains(sql, `on "t"."col1"="s"."col1" and "t"."col3"="s"."col3"`) {
		t.Errorf("match condition wrong:\n%s", sql)
	}

	// every non-key column assigned exactly once
	for _, column := range []string{"col2", "col4"} {
		assignment := `"t"."` + column + `" = "s"."` + column + `"`
		if strings.Count(sql, assignment) != 1 {
			t.Errorf("expected exactly one assignment for %s:\n%s", column, sql)
		}
	}
	// key columns are matched, not assigned
	for _, key := range []string{"col1", "col3"} {
		assignment := `"t"."` + key + `" = "s"."` + key + `"`
		if strings.Contains(sql, assignment) {
			t.Errorf("key column %s must not appear in update set:\n%s", key, sql)
		}
	}
}

func TestMerge_InsertCoversFullColumnList(t *testing.T) {
	sql := NewMerge(mergeTable(), nil).Build("sales", "col1")

	if !strings.Contains(sql, `("col1", "col2", "col3", "col4")`) {
		t.Errorf("insert column list wrong:\n%s", sql)
	}
	if !strings.Contains(sql, `("s"."col1", "s"."col2", "s"."col3", "s"."col4");`) {
		t.Errorf("insert values list wrong:\n%s", sql)
	}
}

func TestMerge_TargetsTempStagingTable(t *testing.T) {
	sql := NewMerge(mergeTable(), nil).Build("sales", "col1")

	if !strings.Contains(sql, `merge "sales"."orders" with (serializable) as t`) {
		t.Errorf("merge target wrong:\n%s", sql)
	}
	if !strings.Contains(sql, `using "sales"."_orders" as s`) {
		t.Errorf("merge source must be the temp staging table:\n%s", sql)
	}
}

func TestMerge_ExtendedColumnsAppendedOnce(t *testing.T) {
	desc := mergeTable()
	desc.ColumnNames = append(desc.ColumnNames, JobColumn) // already present

	sql := NewMerge(desc, ExtendedDefinitions()).Build("sales", "col1")

	lines := strings.Split(sql, "\n")
	insertList := ""
	for i, line := range lines {
		if strings.TrimSpace(line) == "insert" && i+1 < len(lines) {
			insertList = lines[i+1]
			break
		}
	}
	if strings.Count(insertList, Quote(JobColumn)) != 1 {
		t.Errorf("extended column duplicated in insert list:\n%s", sql)
	}
	if !strings.Contains(sql, Quote(TimestampColumn)) {
		t.Errorf("missing extended timestamp column:\n%s", sql)
	}
}

func TestMerge_KeyOrderInsensitive(t *testing.T) {
	a := NewMerge(mergeTable(), nil).Build("sales", "col1, col3")
	b := NewMerge(mergeTable(), nil).Build("sales", "col1,col3")
	if a != b {
		t.Error("key list formatting must not change generated merge")
	}
}
