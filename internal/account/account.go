// Package account implements email and password accounts and the profile,
// listing and stats operations shared by every user regardless of how they
// signed up.
package account

import (
	"context"
	"math"
	"strings"

	"github.com/cookstagram/accounts/internal/database"
	"github.com/cookstagram/accounts/internal/logger"
	"github.com/cookstagram/accounts/internal/token"
	"github.com/cookstagram/accounts/pkg/model"
	"github.com/cookstagram/accounts/pkg/util/passwordutil"
	"github.com/pkg/errors"
)

const (
	msgInvalidLogin = "invalid email or password"
	msgDisabled     = "user account is disabled"
)

// Service performs account operations against the identity store.
type Service struct {
	db     database.UserDB
	tokens *token.Issuer
}

// NewService creates a Service.
func NewService(db database.UserDB, tokens *token.Issuer) *Service {
	return &Service{db: db, tokens: tokens}
}

// SignupRequest holds the fields submitted on signup.
type SignupRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
	FirstName       string `json:"first_name"`
	LastName        string `json:"last_name"`
}

// Validate checks every field and reports all failures together.
func (r *SignupRequest) Validate() error {
	fields := make(map[string]string)
	if _, err := model.ParseEmail(r.Email); err != nil {
		fields["email"] = model.AsError(err).Fields["email"]
	}
	if r.Password == "" {
		fields["password"] = "this field is required"
	} else if !passwordutil.IsLongEnough(r.Password) {
		fields["password"] = "ensure this field has at least 8 characters"
	}
	if r.Password != r.ConfirmPassword {
		fields["confirm_password"] = "passwords do not match"
	}

	update := model.UserUpdate{FirstName: &r.FirstName, LastName: &r.LastName}
	if err := update.Validate(); err != nil {
		for k, v := range model.AsError(err).Fields {
			fields[k] = v
		}
	}
	if len(fields) > 0 {
		return model.ValidationFailed("invalid signup", fields)
	}
	return nil
}

// Signup registers an email and password account and logs it in.
func (s *Service) Signup(ctx context.Context, req *SignupRequest) (*model.User, *model.TokenPair, error) {
	if err := req.Validate(); err != nil {
		return nil, nil, err
	}
	email, _ := model.ParseEmail(req.Email)

	hash, err := passwordutil.GeneratePasswordHash(req.Password)
	if err != nil {
		return nil, nil, errors.Wrap(err, "hashing password")
	}
	user := &model.User{
		Email:        email,
		PasswordHash: hash,
		Provider:     model.ProviderSelf,
		IsActive:     true,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
	}

	dbCtx, cancel := context.WithTimeout(ctx, database.DefaultTimeout)
	defer cancel()
	if err := s.db.CreateUser(dbCtx, user); err != nil {
		if errors.Is(err, database.ErrDuplicateEmail) {
			return nil, nil, model.ValidationFailed("email already registered", map[string]string{
				"email": "a user with this email already exists",
			})
		}
		return nil, nil, errors.Wrap(err, "creating user")
	}
	logger.FromContext(ctx).Info("created user", "user_id", user.ID, "provider", string(model.ProviderSelf))

	pair, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// Login checks an email and password. Unknown emails, wrong passwords and
// accounts without a password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*model.User, *model.TokenPair, error) {
	dbCtx, cancel := context.WithTimeout(ctx, database.DefaultTimeout)
	defer cancel()

	user, err := s.db.GetUserByEmail(dbCtx, model.NormalizeEmail(email))
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return nil, nil, errors.Wrap(err, "looking up user")
	}

	var hash string
	if user != nil {
		hash = user.PasswordHash
	}
	if !passwordutil.CheckPasswordHash(password, hash) {
		return nil, nil, model.AuthenticationFailed(msgInvalidLogin)
	}
	if !user.IsActive {
		return nil, nil, model.AuthenticationFailed(msgDisabled)
	}

	pair, err := s.tokens.Issue(user.ID)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// Refresh exchanges a refresh token for a new access token, provided the
// account is still active.
func (s *Service) Refresh(ctx context.Context, refresh string) (*model.TokenPair, error) {
	claims, err := s.tokens.ParseRefresh(refresh)
	if err != nil {
		return nil, err
	}
	if _, err := s.Me(ctx, claims.Subject); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, model.InvalidCredential("token is invalid")
		}
		return nil, err
	}
	return s.tokens.Refresh(ctx, refresh)
}

// Logout revokes a refresh token.
func (s *Service) Logout(ctx context.Context, refresh string) error {
	return s.tokens.Revoke(ctx, refresh)
}

func (s *Service) get(ctx context.Context, id string) (*model.User, error) {
	ctx, cancel := context.WithTimeout(ctx, database.DefaultTimeout)
	defer cancel()

	user, err := s.db.GetUserByID(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, model.NotFound("user not found")
	}
	if err != nil {
		return nil, errors.Wrap(err, "retrieving user")
	}
	return user, nil
}

// Me returns the authenticated user. Deactivated accounts are rejected even
// while their access tokens remain valid.
func (s *Service) Me(ctx context.Context, id string) (*model.User, error) {
	user, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, model.AuthenticationFailed(msgDisabled)
	}
	return user, nil
}

// UpdateProfile applies a partial update to the authenticated user.
func (s *Service) UpdateProfile(ctx context.Context, id string, update *model.UserUpdate) (*model.User, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}
	user, err := s.Me(ctx, id)
	if err != nil {
		return nil, err
	}
	if update.Email != nil && user.Provider != model.ProviderSelf &&
		model.EmailKey(*update.Email) != model.EmailKey(user.Email) {
		return nil, model.ValidationFailed("email is managed by the login provider", map[string]string{
			"email": "cannot change the email of a " + string(user.Provider) + " account",
		})
	}
	user.Apply(update)

	dbCtx, cancel := context.WithTimeout(ctx, database.DefaultTimeout)
	defer cancel()
	err = s.db.UpdateUser(dbCtx, user)
	switch {
	case errors.Is(err, database.ErrDuplicateEmail):
		return nil, model.ValidationFailed("email already registered", map[string]string{
			"email": "a user with this email already exists",
		})
	case errors.Is(err, database.ErrDuplicatePhone):
		return nil, model.ValidationFailed("phone number already registered", map[string]string{
			"phone_number": "a user with this phone number already exists",
		})
	case err != nil:
		return nil, errors.Wrap(err, "updating user")
	}
	return user, nil
}

// Deactivate disables an account. Users are never deleted.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	user, err := s.get(ctx, id)
	if err != nil {
		return err
	}
	if !user.IsActive {
		return nil
	}
	user.IsActive = false

	dbCtx, cancel := context.WithTimeout(ctx, database.DefaultTimeout)
	defer cancel()
	if err := s.db.UpdateUser(dbCtx, user); err != nil {
		return errors.Wrap(err, "updating user")
	}
	logger.FromContext(ctx).Info("deactivated user", "user_id", id)
	return nil
}

// UserByEmail looks up a user regardless of status.
func (s *Service) UserByEmail(ctx context.Context, email string) (*model.User, error) {
	ctx, cancel := context.WithTimeout(ctx, database.DefaultTimeout)
	defer cancel()

	user, err := s.db.GetUserByEmail(ctx, model.NormalizeEmail(email))
	if errors.Is(err, database.ErrNotFound) {
		return nil, model.NotFound("user not found")
	}
	return user, errors.Wrap(err, "retrieving user")
}

// PublicProfile returns any user's profile.
func (s *Service) PublicProfile(ctx context.Context, id string) (*model.User, error) {
	return s.get(ctx, id)
}

// Address returns a user's postal address.
func (s *Service) Address(ctx context.Context, id string) (*model.Address, error) {
	user, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return user.Address(), nil
}

// List returns users matching opt. A zero ordering lists newest first.
func (s *Service) List(ctx context.Context, opt model.ListOptions) ([]*model.User, error) {
	if opt.Ordering.Field == "" {
		opt.Ordering = model.DefaultOrdering
	}
	if !opt.Filter.Gender.IsValid() {
		return nil, model.ValidationFailed("invalid gender filter", map[string]string{
			"gender": "gender must be one of male, female or other",
		})
	}

	ctx, cancel := context.WithTimeout(ctx, database.DefaultTimeout)
	defer cancel()
	users, err := s.db.ListUsers(ctx, opt)
	return users, errors.Wrap(err, "listing users")
}

// Get returns a single user for the public listing.
func (s *Service) Get(ctx context.Context, id string) (*model.User, error) {
	return s.get(ctx, id)
}

// Stats lists users by total spend, highest first.
func (s *Service) Stats(ctx context.Context) ([]*model.Stats, error) {
	users, err := s.List(ctx, model.ListOptions{Ordering: model.StatsOrdering})
	if err != nil {
		return nil, err
	}
	stats := make([]*model.Stats, len(users))
	for i, u := range users {
		stats[i] = u.Stats()
	}
	return stats, nil
}

// Stat returns the spend summary of one user.
func (s *Service) Stat(ctx context.Context, id string) (*model.Stats, error) {
	user, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return user.Stats(), nil
}

// AccrueSpend adds amount to a user's total spend.
func (s *Service) AccrueSpend(ctx context.Context, id string, amount float64) (*model.User, error) {
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return nil, model.ValidationFailed("invalid amount", map[string]string{
			"amount": "amount must be a non-negative number",
		})
	}

	dbCtx, cancel := context.WithTimeout(ctx, database.DefaultTimeout)
	defer cancel()
	user, err := s.db.AddSpend(dbCtx, id, amount)
	if errors.Is(err, database.ErrNotFound) {
		return nil, model.NotFound("user not found")
	}
	return user, errors.Wrap(err, "adding spend")
}

// CreateSuperuser creates an active staff account.
func (s *Service) CreateSuperuser(ctx context.Context, email, password string) (*model.User, error) {
	user, err := database.CreateSuperuser(ctx, s.db, email, password)
	if errors.Is(err, database.ErrDuplicateEmail) {
		return nil, model.ValidationFailed("email already registered", map[string]string{
			"email": "a user with this email already exists",
		})
	}
	return user, err
}
