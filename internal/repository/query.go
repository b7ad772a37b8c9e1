package repository

import (
	"fmt"
	"strings"
)

// whereBuilder accumulates positional conditions for list queries.
type whereBuilder struct {
	conditions []string
	args       []interface{}
}

// add appends a condition whose single placeholder is written as %d.
func (w *whereBuilder) add(format string, arg interface{}) {
	w.args = append(w.args, arg)
	w.conditions = append(w.conditions, fmt.Sprintf(format, len(w.args)))
}

func (w *whereBuilder) sql() string {
	if len(w.conditions) == 0 {
		return ""
	}
	return " AND " + strings.Join(w.conditions, " AND ")
}

func orderClause(sortBy, sortOrder string, allowed map[string]string, fallback string) string {
	column, ok := allowed[sortBy]
	if !ok {
		column = allowed[fallback]
	}
	order := strings.ToUpper(sortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	return fmt.Sprintf("ORDER BY %s %s", column, order)
}

func pageWindow(page, pageSize int) string {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	return fmt.Sprintf("LIMIT %d OFFSET %d", pageSize, (page-1)*pageSize)
}
