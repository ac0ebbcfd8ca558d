// Package cdcsql synthesizes the extraction SELECT and staging MERGE
// statements for one table's CDC strategy. Statements are assembled from
// explicit clause builders rendered to text, never by splicing caller input
// into templates, so generated SQL can be unit tested without a database.
package cdcsql

import "strings"

// Quote decorates an identifier with double-quotes to protect table/column
// names that may be reserved words. Already-quoted identifiers pass through.
func Quote(item string) string {
	if strings.HasPrefix(item, `"`) {
		return item
	}
	return `"` + item + `"`
}

// QuoteAll quotes a list of identifiers.
func QuoteAll(items []string) []string {
	quoted := make([]string, len(items))
	for i, item := range items {
		quoted[i] = Quote(item)
	}
	return quoted
}

// AddAlias qualifies a column with a table alias (when missing) and quotes
// both parts. An embedded alias ("a.col") wins over the default.
func AddAlias(columnName, tableAlias string) string {
	columnName = strings.ReplaceAll(columnName, `"`, "")
	if alias, column, found := strings.Cut(columnName, "."); found {
		return Quote(alias) + "." + Quote(column)
	}
	return Quote(tableAlias) + "." + Quote(columnName)
}

// AddAliases performs AddAlias on a list of column names.
func AddAliases(columnNames []string, tableAlias string) []string {
	aliased := make([]string, len(columnNames))
	for i, name := range columnNames {
		aliased[i] = AddAlias(name, tableAlias)
	}
	return aliased
}

// deleteBlankLines drops empty lines left behind by omitted clauses.
func deleteBlankLines(text string) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

func spaces(n int) string {
	return strings.Repeat(" ", n)
}
