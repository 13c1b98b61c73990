package sqlutil

import (
	"fmt"
	"strings"

	"github.com/cookstagram/accounts/pkg/model"
)

// columns maps orderable fields to their SQL column expressions.
var columns = map[string]string{
	model.OrderCreatedAt:  "created_at",
	model.OrderUpdatedAt:  "updated_at",
	model.OrderEmail:      "email",
	model.OrderFirstName:  "first_name",
	model.OrderLastName:   "last_name",
	model.OrderTotalSpent: "total_spent",
}

// OrderBy renders an ORDER BY clause for o. Unknown fields fall back to the
// default ordering so user input never reaches the query text.
func OrderBy(o model.Ordering) string {
	col, ok := columns[o.Field]
	if !ok {
		o = model.DefaultOrdering
		col = columns[o.Field]
	}
	dir := "ASC"
	if o.Desc {
		dir = "DESC"
	}
	return fmt.Sprintf("ORDER BY %s %s, id ASC", col, dir)
}

// Where renders a WHERE clause for f using positional placeholders
// starting at $1. It returns an empty clause when f matches everything.
func Where(f model.UserFilter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	if f.IsActive != nil {
		args = append(args, *f.IsActive)
		conds = append(conds, fmt.Sprintf("is_active = $%d", len(args)))
	}
	if f.Gender != "" {
		args = append(args, string(f.Gender))
		conds = append(conds, fmt.Sprintf("gender = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

// NullString returns nil for the empty string, for nullable text columns.
func NullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
