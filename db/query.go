package db

import (
	"regexp"
	"strings"
)

// QueryType is the classified category of a SQL statement.
type QueryType string

const (
	QuerySelect   QueryType = "SELECT"
	QueryInsert   QueryType = "INSERT"
	QueryUpdate   QueryType = "UPDATE"
	QueryDelete   QueryType = "DELETE"
	QueryShow     QueryType = "SHOW"
	QuerySet      QueryType = "SET"
	QueryCreate   QueryType = "CREATE"
	QueryDrop     QueryType = "DROP"
	QueryAlter    QueryType = "ALTER"
	QueryDescribe QueryType = "DESCRIBE"
	QueryDesc     QueryType = "DESC"
	QueryExplain  QueryType = "EXPLAIN"
	QueryUse      QueryType = "USE"
	QueryBegin    QueryType = "BEGIN"
	QueryCommit   QueryType = "COMMIT"
	QueryRollback QueryType = "ROLLBACK"
	QueryGrant    QueryType = "GRANT"
	QueryRevoke   QueryType = "REVOKE"
	QueryTruncate QueryType = "TRUNCATE"
	QueryReplace  QueryType = "REPLACE"
	QuerySource   QueryType = "SOURCE"
	QueryOther    QueryType = "OTHER"
)

// queryTypePrefixes maps statement prefixes to query types, checked in order.
// WITH precedes SELECT so CTE queries classify as SELECT; START TRANSACTION
// precedes nothing it could shadow but maps to BEGIN.
var queryTypePrefixes = []struct {
	prefix string
	qt     QueryType
}{
	{"WITH", QuerySelect},
	{"SELECT", QuerySelect},
	{"INSERT", QueryInsert},
	{"UPDATE", QueryUpdate},
	{"DELETE", QueryDelete},
	{"SHOW", QueryShow},
	{"SET", QuerySet},
	{"CREATE", QueryCreate},
	{"DROP", QueryDrop},
	{"ALTER", QueryAlter},
	{"DESCRIBE", QueryDescribe},
	{"DESC", QueryDesc},
	{"EXPLAIN", QueryExplain},
	{"USE", QueryUse},
	{"BEGIN", QueryBegin},
	{"START TRANSACTION", QueryBegin},
	{"COMMIT", QueryCommit},
	{"ROLLBACK", QueryRollback},
	{"GRANT", QueryGrant},
	{"REVOKE", QueryRevoke},
	{"TRUNCATE", QueryTruncate},
	{"REPLACE", QueryReplace},
	{"SOURCE", QuerySource},
}

// resultSetQueryTypes are the types whose statements produce a result set;
// everything else reports an affected-row count.
var resultSetQueryTypes = map[QueryType]bool{
	QuerySelect:   true,
	QueryShow:     true,
	QueryDescribe: true,
	QueryDesc:     true,
	QueryExplain:  true,
}

// ReturnsRows reports whether statements of type qt produce a result set.
func (qt QueryType) ReturnsRows() bool {
	return resultSetQueryTypes[qt]
}

func isWordBoundary(c byte) bool {
	return !(c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9')
}

// ClassifyQuery maps a statement to its QueryType by longest-listed prefix
// match. A prefix only matches when followed by end-of-input or a
// non-alphanumeric byte, so SELECTION does not classify as SELECT.
func ClassifyQuery(sql string) QueryType {
	upper := strings.ToUpper(strings.TrimSpace(sql))
	for _, entry := range queryTypePrefixes {
		if !strings.HasPrefix(upper, entry.prefix) {
			continue
		}
		if len(upper) == len(entry.prefix) || isWordBoundary(upper[len(entry.prefix)]) {
			return entry.qt
		}
	}
	return QueryOther
}

// showModifiers are optional keywords allowed between SHOW and its target.
var showModifiers = map[string]bool{
	"FULL":     true,
	"EXTENDED": true,
	"GLOBAL":   true,
	"SESSION":  true,
	"MASTER":   true,
	"SLAVE":    true,
	"REPLICA":  true,
}

// showTargets are the SHOW targets accepted as real SQL.
var showTargets = map[string]bool{
	"TABLES":      true,
	"SCHEMAS":     true,
	"CREATE":      true,
	"INDEX":       true,
	"DATABASES":   true,
	"PROCESSLIST": true,
	"VARIABLES":   true,
	"STATUS":      true,
	"ENGINE":      true,
	"SLAVE":       true,
	"REPLICA":     true,
	"GRANTS":      true,
	"WARNINGS":    true,
	"ERRORS":      true,
	"TABLE":       true,
	"COLUMNS":     true,
	"FIELDS":      true,
	"KEYS":        true,
	"TRIGGERS":    true,
	"PROCEDURE":   true,
	"FUNCTION":    true,
}

// IsSQLStatement reports whether the input looks like SQL rather than free
// text meant for an agent. Classified statements pass, except SHOW, which is
// common English and therefore only passes when its first non-modifier word
// is a known SHOW target.
func IsSQLStatement(input string) bool {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return false
	}
	qt := ClassifyQuery(trimmed)
	if qt == QueryOther {
		return false
	}
	if qt != QueryShow {
		return true
	}
	words := strings.Fields(strings.ToUpper(trimmed))
	for _, word := range words[1:] {
		word = strings.TrimRight(word, ";")
		if showModifiers[word] {
			continue
		}
		return showTargets[word]
	}
	return false
}

// verticalPattern matches a trailing \G display directive, with an optional
// trailing semicolon, in either case.
var verticalPattern = regexp.MustCompile(`\s*\\[Gg]\s*;?\s*$`)

// HasVerticalDirective reports whether the statement ends with \G.
func HasVerticalDirective(sql string) bool {
	return verticalPattern.MatchString(sql)
}

// CleanDisplayDirectives strips a trailing \G before the statement is sent to
// the backend. When the directive carried the statement terminator, a bare
// ";" is restored so the statement stays terminated.
func CleanDisplayDirectives(sql string) string {
	return verticalPattern.ReplaceAllStringFunc(sql, func(match string) string {
		if strings.Contains(match, ";") {
			return ";"
		}
		return ""
	})
}

var usePattern = regexp.MustCompile("(?i)USE\\s+`?([^`;\\s]+)`?")

// ExtractDatabaseFromUse pulls the database name out of a USE statement,
// tolerating backtick quoting. Empty string when none is found.
func ExtractDatabaseFromUse(sql string) string {
	m := usePattern.FindStringSubmatch(strings.TrimSpace(sql))
	if m == nil {
		return ""
	}
	return m[1]
}

// IsTransactionControl reports whether the statement is transaction control
// (BEGIN, COMMIT, ROLLBACK) and, when it is, which kind.
func IsTransactionControl(sql string) (bool, QueryType) {
	qt := ClassifyQuery(sql)
	switch qt {
	case QueryBegin, QueryCommit, QueryRollback:
		return true, qt
	}
	return false, ""
}
