package account

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"math"
	"strings"
	"testing"

	"github.com/cookstagram/accounts/internal/database"
	"github.com/cookstagram/accounts/internal/token"
	"github.com/cookstagram/accounts/pkg/model"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T) (*Service, *database.BadgerDB) {
	db, err := database.InitializeBadgerDB("", true)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	key, err := ecdsaKey()
	require.NoError(t, err)
	return NewService(db, token.NewIssuer(key, db)), db
}

func ecdsaKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

func signup(t *testing.T, s *Service, email string) *model.User {
	user, _, err := s.Signup(context.Background(), &SignupRequest{
		Email:           email,
		Password:        "password123",
		ConfirmPassword: "password123",
	})
	require.NoError(t, err)
	return user
}

func assertKind(t *testing.T, err error, kind error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, kind), "got %v", err)
}

func TestSignup(t *testing.T) {
	s, db := newService(t)

	user, pair, err := s.Signup(context.Background(), &SignupRequest{
		Email:           "a@x.com",
		Password:        "password123",
		ConfirmPassword: "password123",
		FirstName:       "Ada",
	})
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", user.Email)
	assert.Equal(t, model.ProviderSelf, user.Provider)
	assert.True(t, user.IsActive)
	assert.NotEmpty(t, pair.Access)
	assert.NotEmpty(t, pair.Refresh)

	stored, err := db.GetUserByEmail(context.Background(), "a@x.com")
	require.NoError(t, err)
	assert.NotEqual(t, "password123", stored.PasswordHash)
	assert.False(t, strings.Contains(stored.PasswordHash, "password123"))
	assert.True(t, stored.HasPassword())

	_, _, err = s.Signup(context.Background(), &SignupRequest{
		Email:           "A@X.com",
		Password:        "password123",
		ConfirmPassword: "password123",
	})
	assertKind(t, err, model.ErrValidationFailed)
	assert.Equal(t, "email already registered", model.AsError(err).Message)
}

func TestSignupValidation(t *testing.T) {
	s, _ := newService(t)

	tt := []struct {
		name   string
		req    SignupRequest
		fields []string
	}{
		{
			name:   "Mismatched confirmation",
			req:    SignupRequest{Email: "a@x.com", Password: "a-very-strong-password!", ConfirmPassword: "a-very-strong-password?"},
			fields: []string{"confirm_password"},
		},
		{
			name:   "Short password",
			req:    SignupRequest{Email: "a@x.com", Password: "short", ConfirmPassword: "short"},
			fields: []string{"password"},
		},
		{
			name:   "Bad email",
			req:    SignupRequest{Email: "Ada <a@x.com>", Password: "password123", ConfirmPassword: "password123"},
			fields: []string{"email"},
		},
		{
			name:   "Everything wrong",
			req:    SignupRequest{Password: "short", ConfirmPassword: "other", FirstName: strings.Repeat("a", 31)},
			fields: []string{"email", "password", "confirm_password", "first_name"},
		},
	}

	for _, test := range tt {
		t.Run(test.name, func(t *testing.T) {
			_, _, err := s.Signup(context.Background(), &test.req)
			assertKind(t, err, model.ErrValidationFailed)

			fields := model.AsError(err).Fields
			assert.Len(t, fields, len(test.fields))
			for _, f := range test.fields {
				assert.Contains(t, fields, f)
			}
		})
	}
}

func TestLogin(t *testing.T) {
	s, db := newService(t)
	user := signup(t, s, "a@x.com")

	require.NoError(t, db.CreateUser(context.Background(), &model.User{
		Email:      "g@x.com",
		Provider:   model.ProviderGoogle,
		ProviderID: "g",
		IsActive:   true,
	}))

	got, pair, err := s.Login(context.Background(), "a@X.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)
	assert.NotEmpty(t, pair.Access)

	tt := []struct {
		name     string
		email    string
		password string
	}{
		{"Wrong password", "a@x.com", "password124"},
		{"Unknown email", "nobody@x.com", "password123"},
		{"Provider account", "g@x.com", ""},
		{"Provider account with password", "g@x.com", "password123"},
	}
	for _, test := range tt {
		t.Run(test.name, func(t *testing.T) {
			_, _, err := s.Login(context.Background(), test.email, test.password)
			assertKind(t, err, model.ErrAuthenticationFailed)
			assert.Equal(t, msgInvalidLogin, model.AsError(err).Message)
		})
	}

	require.NoError(t, s.Deactivate(context.Background(), user.ID))
	_, _, err = s.Login(context.Background(), "a@x.com", "password123")
	assertKind(t, err, model.ErrAuthenticationFailed)
	assert.Equal(t, msgDisabled, model.AsError(err).Message)
}

func TestRefreshAndLogout(t *testing.T) {
	s, _ := newService(t)
	user, pair, err := s.Signup(context.Background(), &SignupRequest{
		Email:           "a@x.com",
		Password:        "password123",
		ConfirmPassword: "password123",
	})
	require.NoError(t, err)

	refreshed, err := s.Refresh(context.Background(), pair.Refresh)
	require.NoError(t, err)
	assert.Equal(t, pair.Refresh, refreshed.Refresh)

	require.NoError(t, s.Logout(context.Background(), pair.Refresh))
	_, err = s.Refresh(context.Background(), pair.Refresh)
	assertKind(t, err, model.ErrInvalidCredential)

	_, second, err := s.Login(context.Background(), "a@x.com", "password123")
	require.NoError(t, err)
	require.NoError(t, s.Deactivate(context.Background(), user.ID))
	_, err = s.Refresh(context.Background(), second.Refresh)
	assertKind(t, err, model.ErrAuthenticationFailed)
}

func TestUpdateProfile(t *testing.T) {
	s, db := newService(t)
	user := signup(t, s, "a@x.com")
	other := signup(t, s, "b@x.com")

	phone := "+8801712345678"
	city := "Dhaka"
	zip := 1207
	gender := model.GenderFemale
	updated, err := s.UpdateProfile(context.Background(), user.ID, &model.UserUpdate{
		PhoneNumber: &phone,
		City:        &city,
		ZipCode:     &zip,
		Gender:      &gender,
	})
	require.NoError(t, err)
	assert.Equal(t, phone, updated.PhoneNumber)
	assert.Equal(t, "Dhaka", updated.City)

	addr, err := s.Address(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, &model.Address{City: "Dhaka", ZipCode: &zip}, addr)

	_, err = s.UpdateProfile(context.Background(), other.ID, &model.UserUpdate{PhoneNumber: &phone})
	assertKind(t, err, model.ErrValidationFailed)
	assert.Contains(t, model.AsError(err).Fields, "phone_number")

	taken := "a@x.com"
	_, err = s.UpdateProfile(context.Background(), other.ID, &model.UserUpdate{Email: &taken})
	assertKind(t, err, model.ErrValidationFailed)
	assert.Contains(t, model.AsError(err).Fields, "email")

	badPhone := "01712345678"
	_, err = s.UpdateProfile(context.Background(), other.ID, &model.UserUpdate{PhoneNumber: &badPhone})
	assertKind(t, err, model.ErrValidationFailed)

	fresh := "new@x.com"
	moved, err := s.UpdateProfile(context.Background(), other.ID, &model.UserUpdate{Email: &fresh})
	require.NoError(t, err)
	assert.Equal(t, "new@x.com", moved.Email)

	// Provider accounts keep the provider's email
	g := &model.User{Email: "g@x.com", Provider: model.ProviderGoogle, ProviderID: "g", IsActive: true}
	require.NoError(t, db.CreateUser(context.Background(), g))
	_, err = s.UpdateProfile(context.Background(), g.ID, &model.UserUpdate{Email: &fresh})
	assertKind(t, err, model.ErrValidationFailed)

	_, err = s.UpdateProfile(context.Background(), "missing", &model.UserUpdate{City: &city})
	assertKind(t, err, model.ErrNotFound)
}

func TestDeactivate(t *testing.T) {
	s, _ := newService(t)
	user := signup(t, s, "a@x.com")

	require.NoError(t, s.Deactivate(context.Background(), user.ID))
	require.NoError(t, s.Deactivate(context.Background(), user.ID))

	_, err := s.Me(context.Background(), user.ID)
	assertKind(t, err, model.ErrAuthenticationFailed)

	// Still visible publicly
	profile, err := s.PublicProfile(context.Background(), user.ID)
	require.NoError(t, err)
	assert.False(t, profile.IsActive)

	assertKind(t, s.Deactivate(context.Background(), "missing"), model.ErrNotFound)
}

func TestListAndStats(t *testing.T) {
	s, _ := newService(t)
	a := signup(t, s, "a@x.com")
	b := signup(t, s, "b@x.com")
	c := signup(t, s, "c@x.com")

	_, err := s.AccrueSpend(context.Background(), b.ID, 50)
	require.NoError(t, err)
	_, err = s.AccrueSpend(context.Background(), c.ID, 10)
	require.NoError(t, err)
	got, err := s.AccrueSpend(context.Background(), c.ID, 5.5)
	require.NoError(t, err)
	assert.Equal(t, 15.5, got.TotalSpent)

	for _, amount := range []float64{-1, math.NaN(), math.Inf(1)} {
		_, err = s.AccrueSpend(context.Background(), a.ID, amount)
		assertKind(t, err, model.ErrValidationFailed)
	}
	_, err = s.AccrueSpend(context.Background(), "missing", 1)
	assertKind(t, err, model.ErrNotFound)

	stats, err := s.Stats(context.Background())
	require.NoError(t, err)
	require.Len(t, stats, 3)
	assert.Equal(t, b.ID, stats[0].ID)
	assert.Equal(t, c.ID, stats[1].ID)
	assert.Equal(t, a.ID, stats[2].ID)

	stat, err := s.Stat(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, 50.0, stat.TotalSpent)

	require.NoError(t, s.Deactivate(context.Background(), a.ID))
	active := true
	users, err := s.List(context.Background(), model.ListOptions{
		Filter:   model.UserFilter{IsActive: &active},
		Ordering: model.Ordering{Field: model.OrderEmail},
	})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "b@x.com", users[0].Email)

	_, err = s.List(context.Background(), model.ListOptions{Filter: model.UserFilter{Gender: "robot"}})
	assertKind(t, err, model.ErrValidationFailed)
}

func TestCreateSuperuser(t *testing.T) {
	s, _ := newService(t)

	user, err := s.CreateSuperuser(context.Background(), "admin@x.com", "password123")
	require.NoError(t, err)
	assert.True(t, user.IsSuperuser)
	assert.True(t, user.IsStaff)

	_, _, err = s.Login(context.Background(), "admin@x.com", "password123")
	require.NoError(t, err)

	_, err = s.CreateSuperuser(context.Background(), "admin@x.com", "password123")
	assertKind(t, err, model.ErrValidationFailed)

	found, err := s.UserByEmail(context.Background(), "admin@X.COM")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)

	_, err = s.UserByEmail(context.Background(), "nobody@x.com")
	assertKind(t, err, model.ErrNotFound)
}
