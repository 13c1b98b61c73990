package database

import (
	"context"
	"time"

	"github.com/cookstagram/accounts/pkg/model"
	"github.com/cookstagram/accounts/pkg/util/passwordutil"
	"github.com/gofrs/uuid"
	"github.com/pkg/errors"
)

// prepareNewUser assigns an ID and timestamps to a user about to be
// inserted, and normalizes its email.
func prepareNewUser(user *model.User) error {
	if user.ID == "" {
		id, err := uuid.NewV4()
		if err != nil {
			return err
		}
		user.ID = id.String()
	}
	if user.Provider == "" {
		user.Provider = model.ProviderSelf
	}
	user.Email = model.NormalizeEmail(user.Email)
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	return nil
}

// CreateSuperuser creates an active staff account that logs in with email
// and password.
func CreateSuperuser(ctx context.Context, db UserDB, email, password string) (*model.User, error) {
	email, err := model.ParseEmail(email)
	if err != nil {
		return nil, err
	}
	if !passwordutil.IsLongEnough(password) {
		return nil, model.ValidationFailed("password too short", map[string]string{
			"password": "ensure this field has at least 8 characters",
		})
	}
	passwordHash, err := passwordutil.GeneratePasswordHash(password)
	if err != nil {
		return nil, errors.Wrap(err, "hashing password")
	}
	user := &model.User{
		Email:        email,
		PasswordHash: passwordHash,
		Provider:     model.ProviderSelf,
		IsActive:     true,
		IsStaff:      true,
		IsSuperuser:  true,
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	if err := db.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}
