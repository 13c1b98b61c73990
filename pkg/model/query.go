package model

import (
	"fmt"
	"sort"
	"strings"
)

// Sortable user fields
const (
	OrderCreatedAt  = "created_at"
	OrderUpdatedAt  = "updated_at"
	OrderEmail      = "email"
	OrderFirstName  = "first_name"
	OrderLastName   = "last_name"
	OrderTotalSpent = "total_spent"
)

var orderingFields = map[string]bool{
	OrderCreatedAt:  true,
	OrderUpdatedAt:  true,
	OrderEmail:      true,
	OrderFirstName:  true,
	OrderLastName:   true,
	OrderTotalSpent: true,
}

// Ordering is a sort over a single user field.
type Ordering struct {
	Field string
	Desc  bool
}

// DefaultOrdering lists newest users first.
var DefaultOrdering = Ordering{Field: OrderCreatedAt, Desc: true}

// StatsOrdering lists the biggest spenders first.
var StatsOrdering = Ordering{Field: OrderTotalSpent, Desc: true}

// ParseOrdering parses a field name, optionally prefixed with "-" for
// descending order. The empty string yields DefaultOrdering.
func ParseOrdering(s string) (Ordering, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultOrdering, nil
	}
	o := Ordering{Field: s}
	if strings.HasPrefix(s, "-") {
		o.Field = s[1:]
		o.Desc = true
	}
	if !orderingFields[o.Field] {
		return Ordering{}, ValidationFailed(
			fmt.Sprintf("cannot order by %q", o.Field),
			map[string]string{"ordering": "unknown field"},
		)
	}
	return o, nil
}

func (o Ordering) String() string {
	if o.Desc {
		return "-" + o.Field
	}
	return o.Field
}

func (o Ordering) less(a, b *User) bool {
	var less, equal bool
	switch o.Field {
	case OrderUpdatedAt:
		less, equal = a.UpdatedAt.Before(b.UpdatedAt), a.UpdatedAt.Equal(b.UpdatedAt)
	case OrderEmail:
		less, equal = a.Email < b.Email, a.Email == b.Email
	case OrderFirstName:
		less, equal = a.FirstName < b.FirstName, a.FirstName == b.FirstName
	case OrderLastName:
		less, equal = a.LastName < b.LastName, a.LastName == b.LastName
	case OrderTotalSpent:
		less, equal = a.TotalSpent < b.TotalSpent, a.TotalSpent == b.TotalSpent
	default:
		less, equal = a.CreatedAt.Before(b.CreatedAt), a.CreatedAt.Equal(b.CreatedAt)
	}
	if equal {
		// Keep results stable across backends
		return a.ID < b.ID
	}
	if o.Desc {
		return !less
	}
	return less
}

// Sort orders users in place.
func (o Ordering) Sort(users []*User) {
	sort.SliceStable(users, func(i, j int) bool {
		return o.less(users[i], users[j])
	})
}

// UserFilter narrows a user listing. Zero values match everything.
type UserFilter struct {
	IsActive *bool
	Gender   Gender
}

// Match returns true if u passes the filter.
func (f UserFilter) Match(u *User) bool {
	if f.IsActive != nil && u.IsActive != *f.IsActive {
		return false
	}
	if f.Gender != "" && u.Gender != f.Gender {
		return false
	}
	return true
}

// ListOptions controls a user listing.
type ListOptions struct {
	Filter   UserFilter
	Ordering Ordering
}
