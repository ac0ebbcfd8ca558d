package stage

import (
	"strings"

	"github.com/nucleus/cdc-core/internal/table"
)

// TranslateColumn maps a source column type onto the warehouse type system.
// Types without a mapping pass through unchanged (int, bigint, date, ...).
func TranslateColumn(c *table.Column) {
	switch strings.ToLower(c.DataType) {
	case "array":
		c.DataType = "nvarchar"
		c.CharMaxLength = 512
	case "boolean":
		c.DataType = "tinyint"
		c.CharMaxLength = 0
	case "character varying":
		c.DataType = "nvarchar"
		if c.CharMaxLength <= 0 {
			c.CharMaxLength = 768
		}
	case "jsonb", "text":
		c.DataType = "nvarchar"
		c.CharMaxLength = -1 // (max)
	case "money", "smallmoney":
		c.DataType = "decimal"
		c.NumericPrec = 18
		c.NumericScale = 4
	case "timestamp without time zone", "timestamp with time zone", "datetime":
		c.DataType = "datetime2"
		c.CharMaxLength = 0
	case "uuid":
		c.DataType = "nvarchar"
		c.CharMaxLength = 36
	case "user defined", "user-defined":
		c.DataType = "nvarchar"
		c.CharMaxLength = 128
	case "integer":
		c.DataType = "int"
	}
}

// TranslateSchema maps every column of a packaged schema in place.
func TranslateSchema(s *table.Schema) {
	for i := range s.Columns {
		TranslateColumn(&s.Columns[i])
	}
}
