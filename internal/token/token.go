// Package token issues and verifies the access and refresh tokens handed to
// clients after a successful login.
package token

import (
	"context"
	"crypto/ecdsa"
	"time"

	"github.com/cookstagram/accounts/internal/config"
	"github.com/cookstagram/accounts/internal/database"
	"github.com/cookstagram/accounts/pkg/model"
	"github.com/gofrs/uuid"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// Default lifetimes
const (
	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 7 * 24 * time.Hour
)

// Claims are the claims carried by both token types.
type Claims struct {
	jwt.RegisteredClaims
	Type model.TokenType `json:"typ"`
}

// Issuer signs tokens with an ES256 key and tracks revoked refresh tokens.
type Issuer struct {
	key         *ecdsa.PrivateKey
	jwk         *JWK
	revocations database.RevocationDB
	issuer      string
	accessTTL   time.Duration
	refreshTTL  time.Duration
	now         func() time.Time
}

// Option customizes an Issuer.
type Option func(*Issuer)

// WithIssuer sets the iss claim.
func WithIssuer(iss string) Option {
	return func(i *Issuer) {
		i.issuer = iss
	}
}

// WithTTL sets the access and refresh token lifetimes. Zero values keep the
// defaults.
func WithTTL(access, refresh time.Duration) Option {
	return func(i *Issuer) {
		if access > 0 {
			i.accessTTL = access
		}
		if refresh > 0 {
			i.refreshTTL = refresh
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		i.now = now
	}
}

// NewIssuer creates an Issuer.
func NewIssuer(key *ecdsa.PrivateKey, revocations database.RevocationDB, opts ...Option) *Issuer {
	i := &Issuer{
		key:         key,
		jwk:         newJWK(&key.PublicKey),
		revocations: revocations,
		accessTTL:   DefaultAccessTTL,
		refreshTTL:  DefaultRefreshTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// FromConfig creates an Issuer from the loaded token settings.
func FromConfig(cfg *config.TokensConfig, revocations database.RevocationDB) (*Issuer, error) {
	if cfg.SigningKey() == nil {
		return nil, errors.New("token signing key not loaded")
	}
	return NewIssuer(cfg.SigningKey(), revocations,
		WithIssuer(cfg.Issuer),
		WithTTL(cfg.AccessTTL, cfg.RefreshTTL),
	), nil
}

func (i *Issuer) sign(userID string, typ model.TokenType, ttl time.Duration) (string, error) {
	jti, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	now := i.now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodES256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   userID,
			ID:        jti.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Type: typ,
	})
	token.Header["kid"] = i.jwk.KeyID
	raw, err := token.SignedString(i.key)
	return raw, errors.Wrap(err, "signing token")
}

// Issue creates a new access and refresh token pair for userID.
func (i *Issuer) Issue(userID string) (*model.TokenPair, error) {
	if userID == "" {
		return nil, errors.New("missing user id")
	}
	access, err := i.sign(userID, model.TokenTypeAccess, i.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := i.sign(userID, model.TokenTypeRefresh, i.refreshTTL)
	if err != nil {
		return nil, err
	}
	return &model.TokenPair{Access: access, Refresh: refresh}, nil
}

func (i *Issuer) parse(raw string, typ model.TokenType) (*Claims, error) {
	if raw == "" {
		return nil, model.InvalidCredential("token is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodES256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(i.now),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return &i.key.PublicKey, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, model.InvalidCredential("token is expired").WithCause(err)
		}
		return nil, model.InvalidCredential("token is invalid").WithCause(err)
	}
	if claims.Type != typ {
		return nil, model.InvalidCredential("token has wrong type")
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, model.InvalidCredential("token is invalid")
	}
	return &claims, nil
}

// ParseAccess verifies an access token.
func (i *Issuer) ParseAccess(raw string) (*Claims, error) {
	return i.parse(raw, model.TokenTypeAccess)
}

// ParseRefresh verifies a refresh token without consulting revocations.
func (i *Issuer) ParseRefresh(raw string) (*Claims, error) {
	return i.parse(raw, model.TokenTypeRefresh)
}

// Refresh issues a new access token for a valid, unrevoked refresh token.
// The refresh token itself is returned unchanged.
func (i *Issuer) Refresh(ctx context.Context, raw string) (*model.TokenPair, error) {
	claims, err := i.ParseRefresh(raw)
	if err != nil {
		return nil, err
	}

	dbCtx, cancel := context.WithTimeout(ctx, database.DefaultTimeout)
	defer cancel()
	revoked, err := i.revocations.IsTokenRevoked(dbCtx, claims.ID)
	if err != nil {
		return nil, errors.Wrap(err, "checking revocation")
	}
	if revoked {
		return nil, model.InvalidCredential("token has been revoked")
	}

	access, err := i.sign(claims.Subject, model.TokenTypeAccess, i.accessTTL)
	if err != nil {
		return nil, err
	}
	return &model.TokenPair{Access: access, Refresh: raw}, nil
}

// Revoke blacklists a refresh token until it expires.
func (i *Issuer) Revoke(ctx context.Context, raw string) error {
	claims, err := i.ParseRefresh(raw)
	if err != nil {
		return err
	}

	dbCtx, cancel := context.WithTimeout(ctx, database.DefaultTimeout)
	defer cancel()
	err = i.revocations.RevokeToken(dbCtx, claims.ID, claims.ExpiresAt.Time)
	if errors.Is(err, database.ErrAlreadyRevoked) {
		return model.InvalidCredential("token has been revoked")
	}
	return errors.Wrap(err, "revoking token")
}
