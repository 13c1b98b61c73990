package resolver

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/cookstagram/accounts/internal/database"
	"github.com/cookstagram/accounts/pkg/model"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDB(t *testing.T) *database.BadgerDB {
	db, err := database.InitializeBadgerDB("", true)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func claimsFor(email, subject string) *model.Claims {
	return &model.Claims{
		Email:         email,
		EmailVerified: true,
		GivenName:     "Bea",
		FamilyName:    "Exe",
		SubjectID:     subject,
	}
}

type fakeFetcher struct {
	key string
	err error

	mu    sync.Mutex
	calls int
}

func (f *fakeFetcher) Fetch(ctx context.Context, userID, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.key + userID, nil
}

func TestResolveCreatesThenReuses(t *testing.T) {
	db := newDB(t)
	r := New(db, nil)

	user, created, err := r.Resolve(context.Background(), model.ProviderGoogle, claimsFor("b@x.com", "g-1"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, model.ProviderGoogle, user.Provider)
	assert.Equal(t, "g-1", user.ProviderID)
	assert.Equal(t, "Bea", user.FirstName)
	assert.True(t, user.IsActive)
	assert.False(t, user.HasPassword())

	again, created, err := r.Resolve(context.Background(), model.ProviderGoogle, claimsFor("b@X.com", "g-1"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, user.ID, again.ID)
}

func TestResolveCollisions(t *testing.T) {
	tt := []struct {
		name     string
		existing model.Provider
		inactive bool
		login    model.Provider
		wantErr  error
		wantMsg  string
	}{
		{"Self account", model.ProviderSelf, false, model.ProviderGitHub, model.ErrProviderConflict, "use email/password login"},
		{"Google account via GitHub", model.ProviderGoogle, false, model.ProviderGitHub, model.ErrProviderConflict, "use google login"},
		{"Apple account via Facebook", model.ProviderApple, false, model.ProviderFacebook, model.ErrProviderConflict, "use apple login"},
		{"Disabled account", model.ProviderLinkedIn, true, model.ProviderLinkedIn, model.ErrAuthenticationFailed, "user account is disabled"},
	}

	for _, test := range tt {
		t.Run(test.name, func(t *testing.T) {
			db := newDB(t)
			existing := &model.User{
				Email:      "c@x.com",
				Provider:   test.existing,
				ProviderID: "sub",
				IsActive:   !test.inactive,
				FirstName:  "Orig",
			}
			require.NoError(t, db.CreateUser(context.Background(), existing))

			r := New(db, nil)
			_, _, err := r.Resolve(context.Background(), test.login, claimsFor("c@x.com", "sub"))
			require.Error(t, err)
			assert.True(t, errors.Is(err, test.wantErr), "got %v", err)
			assert.Equal(t, test.wantMsg, model.AsError(err).Message)

			stored, err := db.GetUserByID(context.Background(), existing.ID)
			require.NoError(t, err)
			assert.Equal(t, test.existing, stored.Provider)
			assert.Equal(t, "Orig", stored.FirstName)
			assert.Equal(t, existing.UpdatedAt.Unix(), stored.UpdatedAt.Unix())
		})
	}
}

func TestResolveRejectsBadInput(t *testing.T) {
	r := New(newDB(t), nil)

	unverified := claimsFor("d@x.com", "s")
	unverified.EmailVerified = false

	tt := []struct {
		name     string
		provider model.Provider
		claims   *model.Claims
		wantErr  error
	}{
		{"Unverified", model.ProviderGoogle, unverified, model.ErrIdentityVerificationFailed},
		{"No email", model.ProviderGoogle, claimsFor("", "s"), model.ErrIdentityVerificationFailed},
		{"Invalid email", model.ProviderGoogle, claimsFor("not-an-email", "s"), model.ErrIdentityVerificationFailed},
		{"Nil claims", model.ProviderGoogle, nil, model.ErrIdentityVerificationFailed},
		{"Self provider", model.ProviderSelf, claimsFor("d@x.com", "s"), model.ErrValidationFailed},
	}

	for _, test := range tt {
		t.Run(test.name, func(t *testing.T) {
			_, _, err := r.Resolve(context.Background(), test.provider, test.claims)
			assert.True(t, errors.Is(err, test.wantErr), "got %v", err)
		})
	}
}

func TestResolveConcurrent(t *testing.T) {
	db := newDB(t)
	r := New(db, nil)

	const n = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = make(map[string]bool)
		created int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			user, isNew, err := r.Resolve(context.Background(), model.ProviderGoogle, claimsFor("race@x.com", "g-race"))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[user.ID] = true
			if isNew {
				created++
			}
		}()
	}
	wg.Wait()

	assert.Len(t, ids, 1)
	assert.Equal(t, 1, created)

	users, err := db.ListUsers(context.Background(), model.ListOptions{})
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

// staleDB misses the first email lookup, as if another request inserted the
// user just after it.
type staleDB struct {
	database.UserDB
	missed bool
}

func (db *staleDB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	if !db.missed {
		db.missed = true
		return nil, database.ErrNotFound
	}
	return db.UserDB.GetUserByEmail(ctx, email)
}

func TestResolveDuplicateInsert(t *testing.T) {
	tt := []struct {
		name     string
		winner   model.Provider
		login    model.Provider
		wantErr  error
		wantSame bool
	}{
		{"Same provider", model.ProviderGoogle, model.ProviderGoogle, nil, true},
		{"Other provider", model.ProviderGitHub, model.ProviderGoogle, model.ErrProviderConflict, false},
	}

	for _, test := range tt {
		t.Run(test.name, func(t *testing.T) {
			db := newDB(t)
			winner := &model.User{Email: "e@x.com", Provider: test.winner, ProviderID: "s", IsActive: true}
			require.NoError(t, db.CreateUser(context.Background(), winner))

			r := New(&staleDB{UserDB: db}, nil)
			user, created, err := r.Resolve(context.Background(), test.login, claimsFor("e@x.com", "s"))
			if test.wantErr != nil {
				assert.True(t, errors.Is(err, test.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.False(t, created)
			assert.Equal(t, winner.ID, user.ID)
		})
	}
}

func TestResolveAvatar(t *testing.T) {
	t.Run("Stored", func(t *testing.T) {
		db := newDB(t)
		fetcher := &fakeFetcher{key: "avatars/"}
		r := New(db, fetcher)

		c := claimsFor("f@x.com", "s")
		c.AvatarURL = "https://example.com/a.png"
		user, created, err := r.Resolve(context.Background(), model.ProviderGoogle, c)
		require.NoError(t, err)
		require.True(t, created)
		assert.Equal(t, "avatars/"+user.ID, user.Avatar)

		stored, err := db.GetUserByID(context.Background(), user.ID)
		require.NoError(t, err)
		assert.Equal(t, user.Avatar, stored.Avatar)

		// Existing users are not refetched
		_, _, err = r.Resolve(context.Background(), model.ProviderGoogle, c)
		require.NoError(t, err)
		assert.Equal(t, 1, fetcher.calls)
	})

	t.Run("Failure ignored", func(t *testing.T) {
		fetcher := &fakeFetcher{err: errors.New("boom")}
		r := New(newDB(t), fetcher)

		c := claimsFor("g@x.com", "s")
		c.AvatarURL = "https://example.com/a.png"
		user, created, err := r.Resolve(context.Background(), model.ProviderGitHub, c)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Empty(t, user.Avatar)
	})

	t.Run("No URL", func(t *testing.T) {
		fetcher := &fakeFetcher{}
		r := New(newDB(t), fetcher)
		_, _, err := r.Resolve(context.Background(), model.ProviderGitHub, claimsFor("h@x.com", "s"))
		require.NoError(t, err)
		assert.Zero(t, fetcher.calls)
	})
}

func TestResolveTruncatesNames(t *testing.T) {
	c := claimsFor("i@x.com", "s")
	c.GivenName = strings.Repeat("é", 40)
	user, _, err := New(newDB(t), nil).Resolve(context.Background(), model.ProviderGoogle, c)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("é", 30), user.FirstName)
}
