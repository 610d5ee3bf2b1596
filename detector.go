package orbit

import (
	"regexp"
	"strings"
)

var (
	reWhitespace = regexp.MustCompile(`\s+`)
	reString     = regexp.MustCompile(`(?:\b[Ee])?'(?:[^'\\]|\\.|'')*'`)
	reNumber     = regexp.MustCompile(`([^\w$%.]|^)-?\d+(?:\.\d+)?\b`)
	reInList     = regexp.MustCompile(`(?i)\bIN\s*\(\s*\?(?:\s*,\s*\?)*\s*\)`)
)

// Signature returns the normalized form of a query, with literal values
// replaced by placeholders, so that textually different executions of the same
// statement compare equal. Whitespace runs are collapsed, quoted string and
// numeric literals become ?, and IN lists of placeholders collapse to IN (?).
// Only single-quoted text is a string literal; double-quoted and backquoted
// identifiers are kept. Existing placeholders like ?, $1, and %s are
// preserved. Signature is idempotent.
func Signature(sql string) string {
	s := strings.TrimSpace(reWhitespace.ReplaceAllString(sql, " "))
	s = reString.ReplaceAllString(s, "?")
	s = reNumber.ReplaceAllString(s, "$1?")
	s = reInList.ReplaceAllString(s, "IN (?)")
	return s
}

// detect fills the duplicate and slow flags of the query op. Queries outside
// of an active scope are never flagged as duplicate, and carry a count of 0.
func detect(op *QueryOp, scope *Scope, durationMS float64, slowThresholdMS float64) {
	op.SQL = Signature(op.SQL)
	op.IsSlow = durationMS > slowThresholdMS
	op.IsDuplicate = false
	op.DuplicateCount = 0

	if scope == nil {
		return
	}

	n, ok := scope.count(op.SQL)
	if !ok {
		return
	}

	op.DuplicateCount = n
	op.IsDuplicate = n > 1
}
