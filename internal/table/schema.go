package table

import (
	"fmt"
	"path"
	"strings"
)

// Column describes one column of a discovered table schema, in
// information_schema terms so it round-trips through the package artifacts
// without a database client.
type Column struct {
	Name          string `json:"column_name"`
	DataType      string `json:"data_type"`
	IsNullable    string `json:"is_nullable"` // YES|NO
	CharMaxLength int    `json:"character_maximum_length,omitempty"`
	NumericPrec   int    `json:"numeric_precision,omitempty"`
	NumericScale  int    `json:"numeric_scale,omitempty"`
	DatetimePrec  int    `json:"datetime_precision,omitempty"`
	CharacterSet  string `json:"character_set_name,omitempty"`
	Collation     string `json:"collation_name,omitempty"`
}

// Schema is the ordered column set discovered for one table.
type Schema struct {
	TableName string   `json:"table_name"`
	Columns   []Column `json:"columns"`
}

// ColumnNames returns column names in declaration order.
func (s *Schema) ColumnNames() []string {
	names := make([]string, 0, len(s.Columns))
	for _, c := range s.Columns {
		names = append(names, c.Name)
	}
	return names
}

// Column returns the named column, or nil.
func (s *Schema) Column(name string) *Column {
	for i := range s.Columns {
		if strings.EqualFold(s.Columns[i].Name, name) {
			return &s.Columns[i]
		}
	}
	return nil
}

// DropIgnored removes columns matching any of the given names or glob
// patterns and returns the names that were dropped.
func (s *Schema) DropIgnored(patterns []string) []string {
	if len(patterns) == 0 {
		return nil
	}
	var dropped []string
	kept := s.Columns[:0]
	for _, c := range s.Columns {
		ignored := false
		for _, pattern := range patterns {
			if ok, _ := path.Match(strings.ToLower(pattern), strings.ToLower(c.Name)); ok {
				ignored = true
				break
			}
		}
		if ignored {
			dropped = append(dropped, c.Name)
		} else {
			kept = append(kept, c)
		}
	}
	s.Columns = kept
	return dropped
}

// AddDefinition appends a column from a "name type [length]" definition,
// replacing an existing column of the same name.
func (s *Schema) AddDefinition(definition string) error {
	fields := strings.Fields(definition)
	if len(fields) < 2 {
		return fmt.Errorf("invalid column definition: %q", definition)
	}
	col := Column{Name: fields[0], DataType: fields[1], IsNullable: "YES"}
	if len(fields) > 2 {
		if _, err := fmt.Sscanf(fields[2], "%d", &col.CharMaxLength); err != nil {
			return fmt.Errorf("invalid column length in %q: %w", definition, err)
		}
	}
	if existing := s.Column(col.Name); existing != nil {
		*existing = col
		return nil
	}
	s.Columns = append(s.Columns, col)
	return nil
}

// ColumnDefinitions renders the schema as create-table column definitions,
// appending any extended definitions first.
func (s *Schema) ColumnDefinitions(extended []string) (string, error) {
	for _, definition := range extended {
		if err := s.AddDefinition(definition); err != nil {
			return "", err
		}
	}

	definitions := make([]string, 0, len(s.Columns))
	for _, c := range s.Columns {
		nullMode := "null"
		if c.IsNullable == "NO" {
			nullMode = "not null"
		}

		details := ""
		if c.CharMaxLength == -1 {
			details = "(max)"
		} else if c.CharMaxLength > 0 {
			details = fmt.Sprintf("(%d)", c.CharMaxLength)
		}

		switch c.DataType {
		case "datetime2":
			// highest precision regardless of source
			details = "(7)"
		case "decimal", "numeric", "money", "smallmoney":
			details = fmt.Sprintf("(%d, %d)", c.NumericPrec, c.NumericScale)
		case "float", "real":
			details = fmt.Sprintf("(%d)", c.NumericPrec)
		}

		definitions = append(definitions, fmt.Sprintf("  \"%s\" %s%s %s", c.Name, c.DataType, details, nullMode))
	}
	return strings.Join(definitions, ",\n"), nil
}
