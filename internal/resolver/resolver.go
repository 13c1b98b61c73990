// Package resolver maps a verified provider identity onto a local user,
// creating the user on first login and enforcing that an email address only
// ever logs in through the provider it was registered with.
package resolver

import (
	"context"

	"github.com/cookstagram/accounts/internal/database"
	"github.com/cookstagram/accounts/internal/logger"
	"github.com/cookstagram/accounts/pkg/model"
	"github.com/pkg/errors"
)

// maxNameLength matches the profile limit on first and last names.
const maxNameLength = 30

// AvatarFetcher stores a copy of a remote avatar and returns its key.
type AvatarFetcher interface {
	Fetch(ctx context.Context, userID, url string) (string, error)
}

// Resolver finds or creates users for provider logins.
type Resolver struct {
	db      database.UserDB
	avatars AvatarFetcher
}

// New returns a Resolver. avatars may be nil to skip avatar downloads.
func New(db database.UserDB, avatars AvatarFetcher) *Resolver {
	return &Resolver{db: db, avatars: avatars}
}

// Resolve returns the user for claims asserted by provider, and whether the
// user was created by this call.
//
// An email already registered through a different provider, or through
// email and password signup, is a ProviderConflict naming the provider to
// use instead. Existing users are never modified.
func (r *Resolver) Resolve(ctx context.Context, provider model.Provider, claims *model.Claims) (*model.User, bool, error) {
	if !provider.IsExternal() {
		return nil, false, model.ValidationFailed("unsupported provider", nil)
	}
	if err := claims.Valid(); err != nil {
		return nil, false, err
	}
	email, err := model.ParseEmail(claims.Email)
	if err != nil {
		return nil, false, model.IdentityVerificationFailed("provider returned an invalid email address")
	}

	user, err := r.lookup(ctx, email)
	switch {
	case err == nil:
		return r.existing(ctx, provider, claims, user)
	case !errors.Is(err, database.ErrNotFound):
		return nil, false, err
	}

	user = &model.User{
		Email:      email,
		Provider:   provider,
		ProviderID: claims.SubjectID,
		IsActive:   true,
		FirstName:  truncate(claims.GivenName),
		LastName:   truncate(claims.FamilyName),
	}
	if err := r.create(ctx, user); err != nil {
		if !errors.Is(err, database.ErrDuplicateEmail) {
			return nil, false, err
		}

		// Another request created the user first
		user, err = r.lookup(ctx, email)
		if err != nil {
			return nil, false, errors.Wrap(err, "reading user after duplicate insert")
		}
		return r.existing(ctx, provider, claims, user)
	}

	logger.FromContext(ctx).Info("created user",
		"user_id", user.ID,
		"provider", string(provider),
	)
	r.storeAvatar(ctx, user, claims.AvatarURL)
	return user, true, nil
}

func (r *Resolver) existing(ctx context.Context, provider model.Provider, claims *model.Claims, user *model.User) (*model.User, bool, error) {
	if user.Provider != provider {
		return nil, false, model.ProviderConflict(user.Provider.LoginHint())
	}
	if !user.IsActive {
		return nil, false, model.AuthenticationFailed("user account is disabled")
	}
	if user.ProviderID != "" && user.ProviderID != claims.SubjectID {
		logger.FromContext(ctx).Warn("provider subject changed for existing user",
			"user_id", user.ID,
			"provider", string(provider),
		)
	}
	return user, false, nil
}

func (r *Resolver) lookup(ctx context.Context, email string) (*model.User, error) {
	ctx, cancel := context.WithTimeout(ctx, database.DefaultTimeout)
	defer cancel()
	return r.db.GetUserByEmail(ctx, email)
}

func (r *Resolver) create(ctx context.Context, user *model.User) error {
	ctx, cancel := context.WithTimeout(ctx, database.DefaultTimeout)
	defer cancel()
	return r.db.CreateUser(ctx, user)
}

// storeAvatar copies the provider's avatar for a new user. Failures are
// logged and otherwise ignored.
func (r *Resolver) storeAvatar(ctx context.Context, user *model.User, url string) {
	if r.avatars == nil || url == "" {
		return
	}
	log := logger.FromContext(ctx).With("user_id", user.ID)

	key, err := r.avatars.Fetch(ctx, user.ID, url)
	if err != nil {
		log.Warn("failed to fetch avatar", "error", err)
		return
	}

	updated := *user
	updated.Avatar = key
	dbCtx, cancel := context.WithTimeout(ctx, database.DefaultTimeout)
	defer cancel()
	if err := r.db.UpdateUser(dbCtx, &updated); err != nil {
		log.Warn("failed to save avatar", "error", err)
		return
	}
	*user = updated
}

func truncate(name string) string {
	r := []rune(name)
	if len(r) > maxNameLength {
		return string(r[:maxNameLength])
	}
	return name
}
