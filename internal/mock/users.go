package mock

import (
	"github.com/cookstagram/accounts/pkg/model"
)

// Password is the password of every fixture user which has one.
const Password = "correct-horse-battery"

// Claims returns verified claims for email.
func Claims(email, subject string) *model.Claims {
	return &model.Claims{
		Email:         email,
		EmailVerified: true,
		GivenName:     "Test",
		FamilyName:    "User",
		SubjectID:     subject,
	}
}
