package passwordutil

import (
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// MinLength is the minimum number of characters in a password.
const MinLength = 8

// dummyHash is compared against when a login names an unknown account, so
// that the response time does not reveal whether the account exists.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("accounts-dummy-password"), bcrypt.DefaultCost)

// GeneratePasswordHash generates a bcrypt hash from a password.
func GeneratePasswordHash(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPasswordHash compares a hash and the provided password. An empty
// hash never matches.
func CheckPasswordHash(password, hash string) bool {
	if hash == "" {
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// IsLongEnough reports whether password has at least MinLength characters.
func IsLongEnough(password string) bool {
	return utf8.RuneCountInString(password) >= MinLength
}
