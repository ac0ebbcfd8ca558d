// Package table defines the per-table capture configuration and the
// discovered schema shapes shared by capture and stage.
//
// A Descriptor is an already-resolved configuration value: section
// inheritance and file parsing happen upstream, the pipeline only sees the
// final field values.
package table

import (
	"log"
	"strings"
)

// Strategy identifies how changed rows are detected for one table.
type Strategy int

const (
	StrategyNone Strategy = iota
	StrategyFileHash
	StrategyRowHash
	StrategyRowVersion
	StrategySequence
	StrategyTimestamp
)

func (s Strategy) String() string {
	switch s {
	case StrategyFileHash:
		return "filehash"
	case StrategyRowHash:
		return "rowhash"
	case StrategyRowVersion:
		return "rowversion"
	case StrategySequence:
		return "sequence"
	case StrategyTimestamp:
		return "timestamp"
	default:
		return "none"
	}
}

// Descriptor is the capture configuration for one table.
type Descriptor struct {
	SchemaName string `json:"schema_name,omitempty"`
	TableName  string `json:"table_name"`

	// CDC strategy as configured: none|filehash|rowhash|rowversion|sequence|timestamp.
	CDC string `json:"cdc,omitempty"`

	// Strategy-specific column expressions.
	TimestampColumns string `json:"timestamp,omitempty"` // comma delimited, max() taken when multiple
	SequenceColumn   string `json:"sequence,omitempty"`
	RowVersionColumn string `json:"rowversion,omitempty"`
	RowHashColumns   string `json:"rowhash,omitempty"`
	FileHashColumns  string `json:"filehash,omitempty"`

	// First-run cursor defaults.
	FirstTimestamp string `json:"first_timestamp,omitempty"` // ISO date/datetime
	FirstSequence  int64  `json:"first_sequence,omitempty"`

	// Natural/primary key fallback when target has no discoverable PK.
	PrimaryKey string `json:"primary_key,omitempty"` // comma delimited

	// Free-text SQL fragments merged into the extraction select.
	Join  string `json:"join,omitempty"`
	Where string `json:"where,omitempty"`
	Order string `json:"order,omitempty"` // comma delimited order-by columns

	// Column filtering; comma delimited names or glob patterns.
	IgnoreColumns string `json:"ignore_columns,omitempty"`

	// Table level flags.
	IgnoreTable   bool `json:"ignore_table,omitempty"`
	DropTable     bool `json:"drop_table,omitempty"`
	OptionalTable bool `json:"optional_table,omitempty"`

	// Populated during capture once the live schema is discovered.
	ColumnNames []string `json:"column_names,omitempty"`
}

// ResolveStrategy normalizes the configured cdc setting to a closed variant.
// Unknown settings and key-less CDC degrade to StrategyNone with a logged
// warning; filehash is the only strategy that works without a key.
func (d *Descriptor) ResolveStrategy(keyColumns string) Strategy {
	setting := strings.ToLower(strings.TrimSpace(d.CDC))
	if setting == "none" {
		setting = ""
	}

	var strategy Strategy
	switch setting {
	case "":
		strategy = StrategyNone
	case "filehash":
		strategy = StrategyFileHash
	case "rowhash":
		strategy = StrategyRowHash
	case "rowversion":
		strategy = StrategyRowVersion
	case "sequence":
		strategy = StrategySequence
	case "timestamp":
		strategy = StrategyTimestamp
	default:
		log.Printf("warning: unknown CDC setting; CDC cleared (%s.cdc=%s)", d.TableName, setting)
		strategy = StrategyNone
	}

	if strategy != StrategyNone && strategy != StrategyFileHash && strings.TrimSpace(keyColumns) == "" {
		log.Printf("warning: CDC enabled but no key; CDC cleared (%s.cdc=%s)", d.TableName, setting)
		strategy = StrategyNone
	}

	if strategy == StrategyNone {
		// keep strategy-specific fields from leaking into SQL synthesis
		d.TimestampColumns = ""
		d.SequenceColumn = ""
		d.RowVersionColumn = ""
		d.RowHashColumns = ""
		d.FileHashColumns = ""
	}
	return strategy
}

// SplitList splits a comma (or whitespace) delimited config value into
// trimmed, non-empty items.
func SplitList(value string) []string {
	fields := strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	items := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			items = append(items, f)
		}
	}
	return items
}
