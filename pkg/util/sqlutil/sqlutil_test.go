package sqlutil

import (
	"testing"

	"github.com/cookstagram/accounts/pkg/model"
	"github.com/stretchr/testify/assert"
)

func TestOrderBy(t *testing.T) {
	tt := []struct {
		input model.Ordering
		want  string
	}{
		{
			input: model.DefaultOrdering,
			want:  "ORDER BY created_at DESC, id ASC",
		},
		{
			input: model.Ordering{Field: model.OrderEmail},
			want:  "ORDER BY email ASC, id ASC",
		},
		{
			input: model.Ordering{Field: "password_hash; DROP TABLE users"},
			want:  "ORDER BY created_at DESC, id ASC",
		},
	}

	for _, test := range tt {
		got := OrderBy(test.input)
		assert.Equal(t, test.want, got)
	}
}

func TestWhere(t *testing.T) {
	active := false
	tt := []struct {
		input model.UserFilter
		want  string
		args  []interface{}
	}{
		{
			input: model.UserFilter{},
			want:  "",
		},
		{
			input: model.UserFilter{Gender: model.GenderOther},
			want:  "WHERE gender = $1",
			args:  []interface{}{"other"},
		},
		{
			input: model.UserFilter{IsActive: &active, Gender: model.GenderMale},
			want:  "WHERE is_active = $1 AND gender = $2",
			args:  []interface{}{false, "male"},
		},
	}

	for _, test := range tt {
		got, args := Where(test.input)
		assert.Equal(t, test.want, got)
		assert.Equal(t, test.args, args)
	}
}

func TestNullString(t *testing.T) {
	assert.Nil(t, NullString(""))
	assert.Equal(t, "x", NullString("x"))
}
