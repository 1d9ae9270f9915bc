package repository

import (
	"strings"
)

// Filter selects rows of an entity table. Where is a SQL boolean expression
// with ? placeholders bound to Args. Filters are plain values and can be
// reused across queries.
type Filter struct {
	Where   string
	Args    []any
	OrderBy string
	Limit   int
}

// Eq returns a filter matching rows where column equals value.
func Eq(column string, value any) Filter {
	return Filter{Where: quote(column) + ` = ?`, Args: []any{value}}
}

func (f Filter) render(table string) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT * FROM `)
	b.WriteString(table)

	args := append([]any(nil), f.Args...)
	if f.Where != "" {
		b.WriteString(` WHERE `)
		b.WriteString(f.Where)
	}
	if f.OrderBy != "" {
		b.WriteString(` ORDER BY `)
		b.WriteString(f.OrderBy)
	}
	if f.Limit > 0 {
		b.WriteString(` LIMIT ?`)
		args = append(args, f.Limit)
	}

	return b.String(), args
}
