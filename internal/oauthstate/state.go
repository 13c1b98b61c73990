// Package oauthstate keeps the short-lived state of redirect-based provider
// logins: the anti-forgery state value and the PKCE code verifier.
package oauthstate

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cookstagram/accounts/internal/database"
	"github.com/cookstagram/accounts/pkg/model"
	"github.com/cookstagram/accounts/pkg/util/base64url"
	"github.com/pkg/errors"
)

// DefaultTTL is how long a login may take between redirect and callback.
const DefaultTTL = 10 * time.Minute

// ErrStateNotFound is returned for unknown, expired or already used state.
var ErrStateNotFound = errors.New("state not found or expired")

// State is the server-side record of a pending redirect login.
type State struct {
	ID           string         `json:"id"`
	Provider     model.Provider `json:"provider"`
	CodeVerifier string         `json:"code_verifier"`
	CreatedAt    time.Time      `json:"created_at"`
}

// New creates state for a login through provider.
func New(provider model.Provider) (*State, error) {
	id, err := base64url.Random(32)
	if err != nil {
		return nil, err
	}
	// 48 random bytes encode to a 64 character verifier (RFC 7636 4.1)
	verifier, err := base64url.Random(48)
	if err != nil {
		return nil, err
	}
	return &State{
		ID:           id,
		Provider:     provider,
		CodeVerifier: verifier,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// CodeChallenge returns the S256 challenge for the verifier.
func (s *State) CodeChallenge() string {
	return base64url.SHA256(s.CodeVerifier)
}

// Store persists pending login state. Consume is single-use: a second call
// with the same ID returns ErrStateNotFound.
type Store interface {
	Save(ctx context.Context, state *State, ttl time.Duration) error
	Consume(ctx context.Context, id string) (*State, error)
}

// DatabaseStore keeps state in the identity store's backend.
type DatabaseStore struct {
	db database.StateDB
}

// NewDatabaseStore creates a store on top of db.
func NewDatabaseStore(db database.StateDB) *DatabaseStore {
	return &DatabaseStore{db: db}
}

// Save stores state until ttl elapses.
func (s *DatabaseStore) Save(ctx context.Context, state *State, ttl time.Duration) error {
	b, err := json.Marshal(state)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, database.DefaultTimeout)
	defer cancel()

	return errors.Wrap(s.db.SaveState(ctx, state.ID, b, ttl), "saving state")
}

// Consume returns and deletes the state with the given ID.
func (s *DatabaseStore) Consume(ctx context.Context, id string) (*State, error) {
	if id == "" {
		return nil, ErrStateNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, database.DefaultTimeout)
	defer cancel()

	b, err := s.db.ConsumeState(ctx, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "consuming state")
	}
	return decode(b)
}

func decode(b []byte) (*State, error) {
	var state State
	if err := json.Unmarshal(b, &state); err != nil {
		return nil, errors.Wrap(err, "decoding state")
	}
	return &state, nil
}
