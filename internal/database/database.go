package database

import (
	"context"
	"errors"
	"time"

	"github.com/cookstagram/accounts/pkg/model"
)

// DefaultTimeout is the default length of time to wait
// for a database operation to complete.
const DefaultTimeout = time.Second * 3

// Storage errors
var (
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEmail = errors.New("email already registered")
	ErrDuplicatePhone = errors.New("phone number already registered")
	ErrAlreadyRevoked = errors.New("token already revoked")
)

// maxConflictRetries bounds how often an optimistic transaction is retried
// after losing a write conflict.
const maxConflictRetries = 5

// Database handles all interactions with the data backend.
type Database interface {
	UserDB
	RevocationDB
	Close() error
}

// UserDB handles interactions with the identity store. Email addresses are
// unique case-insensitively and phone numbers are unique when present;
// violations are reported as ErrDuplicateEmail and ErrDuplicatePhone
// regardless of which concurrent writer lost.
type UserDB interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	UpdateUser(ctx context.Context, user *model.User) error
	ListUsers(ctx context.Context, opt model.ListOptions) ([]*model.User, error)
	AddSpend(ctx context.Context, id string, amount float64) (*model.User, error)
}

// RevocationDB records refresh tokens which may no longer be used.
type RevocationDB interface {
	// RevokeToken records jti as revoked until expiresAt. It returns
	// ErrAlreadyRevoked if jti was already recorded.
	RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// StateDB stores short-lived opaque records, such as OAuth redirect state.
// Records are single-use.
type StateDB interface {
	SaveState(ctx context.Context, id string, data []byte, ttl time.Duration) error
	// ConsumeState returns and deletes the record, or ErrNotFound if it
	// does not exist or has expired.
	ConsumeState(ctx context.Context, id string) ([]byte, error)
}
