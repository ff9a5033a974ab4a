package pg

import (
	"fmt"
	"strings"
)

func limitOffsetClause(page, limit int) string {
	switch {
	case limit <= 0:
		return ""
	case page <= 0:
		return fmt.Sprintf(" LIMIT %d", limit)
	}
	return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, page*limit)
}

// parseLike converts a pattern (* and ? wildcards, (?i) suffix for case-insensitivity)
// and returns the operator to use: =, LIKE or ILIKE
func parseLike(value string) (string, string) {
	operator := "LIKE"
	if strings.HasSuffix(value, "(?i)") {
		value, operator = strings.TrimSuffix(value, "(?i)"), "ILIKE"
	} else if !strings.ContainsAny(value, "*?") {
		return value, "="
	}
	value = strings.NewReplacer("_", "\\_", "%", "\\%", "*", "%", "?", "_").Replace(value)
	return value, operator
}

// joinClause builds a clause with positional parameters ($1, $2...)
type joinClause struct {
	Parameters []interface{}
	clauses    []string
}

// append a clause: each %d is replaced by the position of the corresponding parameter
func (jc *joinClause) append(clause string, parameters ...interface{}) {
	positions := make([]interface{}, len(parameters))
	for i := range parameters {
		positions[i] = len(jc.Parameters) + i + 1
	}
	jc.Parameters = append(jc.Parameters, parameters...)
	jc.clauses = append(jc.clauses, fmt.Sprintf(clause, positions...))
}

func (jc joinClause) WhereClause() string {
	if len(jc.clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(jc.clauses, " AND ")
}
