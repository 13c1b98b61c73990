package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_AuthorizationHeader(t *testing.T) {
	tt := []struct {
		header string
		token  string
		err    error
	}{
		{"Bearer A", "A", nil},
		{"Bearer 12345===", "12345===", nil},
		{"bearer eyJ.eyJ.sig", "eyJ.eyJ.sig", nil},
		{"Bearer        1456===", "1456===", nil},
		{"", "", ErrEmptyHeader},
		{"Bearer", "", ErrIncorrectHeaderFormat},
		{"Bearer ", "", ErrIncorrectHeaderFormat},
		{"Basic dXNlcjpwYXNz", "", ErrIncorrectHeaderFormat},
		{"Bearer a b", "", ErrIncorrectHeaderFormat},
		{"Bearer 😂😂", "", ErrInvalidToken},
	}

	for _, tc := range tt {
		t.Run(tc.header, func(t *testing.T) {
			token, err := ParseBearerAuthorizationHeader(tc.header)
			assert.Equal(t, tc.err, err)
			assert.Equal(t, tc.token, token)
		})
	}
}
