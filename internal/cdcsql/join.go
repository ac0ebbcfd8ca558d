package cdcsql

import "strings"

// Free-text join fragments arrive in whatever shape the source system's
// report writers used: bracket quoting, NOLOCK hints, db..table shorthands,
// unqualified table names. cleanSQL and FormatJoin normalize them into
// quoted, schema-qualified, two-line join clauses.
//
// Embedded selects, unions and join ... using(...) are not supported; those
// must be implemented as views on the source side.

var joinKeywordPhrases = []string{
	"full inner join",
	"full outer join",
	"left inner join",
	"left outer join",
	"right inner join",
	"right outer join",
	"cross join",
	"full join",
	"left join",
	"right join",
	"inner join",
	"outer join",
	"join",
}

var joinKeywords = map[string]bool{
	"full": true, "left": true, "right": true, "inner": true, "outer": true,
	"cross": true, "join": true, "on": true, "and": true, "or": true, "not": true,
}

// cleanSQL lowercases a fragment, strips bracket quoting, -- comments and
// WITH (NOLOCK) hints, and space-delimits '=', '(' and ')' so they don't
// stick to adjacent tokens.
func cleanSQL(text string) string {
	text = strings.ToLower(text)

	// correct missing spaces before square-brackets, then drop the brackets;
	// identifiers are re-quoted later with ANSI double-quotes
	text = strings.ReplaceAll(text, "join[", "join [")
	text = strings.ReplaceAll(text, "[", "")
	text = strings.ReplaceAll(text, "]", "")

	text = strings.ReplaceAll(text, "=", " = ")
	text = strings.ReplaceAll(text, "(", " ( ")
	text = strings.ReplaceAll(text, ")", " ) ")

	// remove -- comments from each line
	var lines []string
	for _, line := range strings.Split(strings.TrimSpace(text), "\n") {
		line, _, _ = strings.Cut(line, "--")
		lines = append(lines, line)
	}
	text = strings.Join(lines, "\n")

	// normalize to a single-space delimited token stream
	text = strings.Join(strings.Fields(text), " ")

	text = strings.ReplaceAll(text, "with ( nolock )", "")
	return text
}

// FormatJoin rewrites a free-text join fragment: quotes every identifier,
// schema-qualifies unqualified table references after a JOIN keyword,
// normalizes db..table and dbo.table forms, and formats each join as a
// two-line JOIN/ON clause.
func FormatJoin(text, schemaName string) string {
	text = cleanSQL(text)

	var output []string
	lastToken := ""
	for _, token := range strings.Fields(text) {
		if joinKeywords[token] || !isAlpha(token[0]) {
			output = append(output, token)
		} else {
			switch {
			case strings.Contains(token, ".."):
				_, tableName, _ := strings.Cut(token, "..")
				token = Quote(tableName)
			case strings.HasPrefix(token, "dbo."):
				token = Quote(token[4:])
			case strings.Contains(token, "."):
				aliasName, tableName, _ := strings.Cut(token, ".")
				token = Quote(aliasName) + "." + Quote(tableName)
			default:
				token = Quote(token)
			}

			// add schema name when a table reference follows a join keyword
			if strings.HasSuffix(lastToken, "join") && !strings.Contains(token, ".") {
				token = Quote(schemaName) + "." + token
			}

			output = append(output, token)
		}
		lastToken = token
	}
	text = strings.Join(output, " ")

	// collapse multi-word join phrases into single tokens before layout
	for _, phrase := range joinKeywordPhrases {
		token := strings.ReplaceAll(phrase, " ", "::")
		text = strings.ReplaceAll(text, phrase, token)
	}

	// format joins into 2-line clauses
	var formatted strings.Builder
	for _, token := range strings.Fields(text) {
		if strings.HasSuffix(token, "join") {
			formatted.WriteString("\n" + spaces(2) + token + " ")
		} else if token == "on" {
			formatted.WriteString("\n" + spaces(4) + token + " ")
		} else {
			formatted.WriteString(token + " ")
		}
	}

	return strings.ReplaceAll(formatted.String(), "::", " ")
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
