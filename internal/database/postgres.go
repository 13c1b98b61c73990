package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cookstagram/accounts/pkg/model"
	"github.com/cookstagram/accounts/pkg/util/sqlutil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	id            TEXT PRIMARY KEY,
	email         TEXT NOT NULL,
	password_hash TEXT NOT NULL DEFAULT '',
	provider      TEXT NOT NULL DEFAULT 'self',
	provider_id   TEXT NOT NULL DEFAULT '',
	is_active     BOOLEAN NOT NULL DEFAULT TRUE,
	is_staff      BOOLEAN NOT NULL DEFAULT FALSE,
	is_superuser  BOOLEAN NOT NULL DEFAULT FALSE,
	first_name    TEXT NOT NULL DEFAULT '',
	last_name     TEXT NOT NULL DEFAULT '',
	phone_number  TEXT,
	avatar        TEXT NOT NULL DEFAULT '',
	gender        TEXT NOT NULL DEFAULT '',
	bio           TEXT NOT NULL DEFAULT '',
	street        TEXT NOT NULL DEFAULT '',
	city          TEXT NOT NULL DEFAULT '',
	zip_code      INTEGER,
	country       TEXT NOT NULL DEFAULT '',
	total_spent   DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS users_email_key ON users (lower(email));
CREATE UNIQUE INDEX IF NOT EXISTS users_phone_number_key ON users (phone_number) WHERE phone_number IS NOT NULL;

CREATE TABLE IF NOT EXISTS revoked_tokens (
	jti        TEXT PRIMARY KEY,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS oauth_states (
	id         TEXT PRIMARY KEY,
	data       BYTEA NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);
`

const userColumns = `id, email, password_hash, provider, provider_id,
	is_active, is_staff, is_superuser,
	first_name, last_name, phone_number, avatar, gender, bio,
	street, city, zip_code, country, total_spent,
	created_at, updated_at`

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// PostgresDB holds a connection pool to a PostgreSQL server.
type PostgresDB struct {
	Pool *pgxpool.Pool
}

// InitializePostgresDB connects to the server at url and creates the schema
// if it does not exist yet.
func InitializePostgresDB(ctx context.Context, url string) (*PostgresDB, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to postgres")
	}

	ctx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "pinging postgres")
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "creating schema")
	}
	return &PostgresDB{Pool: pool}, nil
}

// Close handles closing all connections to the database.
func (db *PostgresDB) Close() error {
	db.Pool.Close()
	return nil
}

// mapPostgresError translates constraint violations into storage errors.
func mapPostgresError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		switch {
		case strings.Contains(pgErr.ConstraintName, "email"):
			return ErrDuplicateEmail
		case strings.Contains(pgErr.ConstraintName, "phone"):
			return ErrDuplicatePhone
		}
	}
	return err
}

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		user     model.User
		provider string
		gender   string
		phone    *string
	)
	err := row.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &provider, &user.ProviderID,
		&user.IsActive, &user.IsStaff, &user.IsSuperuser,
		&user.FirstName, &user.LastName, &phone, &user.Avatar, &gender, &user.Bio,
		&user.Street, &user.City, &user.ZipCode, &user.Country, &user.TotalSpent,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return nil, mapPostgresError(err)
	}
	user.Provider = model.Provider(provider)
	user.Gender = model.Gender(gender)
	if phone != nil {
		user.PhoneNumber = *phone
	}
	return &user, nil
}

// CreateUser registers a new user. Uniqueness is enforced by the
// users_email_key and users_phone_number_key indexes.
func (db *PostgresDB) CreateUser(ctx context.Context, user *model.User) error {
	if err := prepareNewUser(user); err != nil {
		return err
	}
	_, err := db.Pool.Exec(ctx, `INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		user.ID, user.Email, user.PasswordHash, string(user.Provider), user.ProviderID,
		user.IsActive, user.IsStaff, user.IsSuperuser,
		user.FirstName, user.LastName, sqlutil.NullString(user.PhoneNumber), user.Avatar, string(user.Gender), user.Bio,
		user.Street, user.City, user.ZipCode, user.Country, user.TotalSpent,
		user.CreatedAt, user.UpdatedAt,
	)
	return mapPostgresError(err)
}

// GetUserByID retrieves user's info based off an ID.
func (db *PostgresDB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	row := db.Pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetUserByEmail retrieves user's info based off an email address.
func (db *PostgresDB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := db.Pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = $1`, model.EmailKey(email))
	return scanUser(row)
}

// UpdateUser replaces every mutable column of the stored user.
func (db *PostgresDB) UpdateUser(ctx context.Context, user *model.User) error {
	user.Email = model.NormalizeEmail(user.Email)
	user.UpdatedAt = time.Now().UTC()
	tag, err := db.Pool.Exec(ctx, `UPDATE users SET
		email = $2, password_hash = $3, is_active = $4, is_staff = $5, is_superuser = $6,
		first_name = $7, last_name = $8, phone_number = $9, avatar = $10, gender = $11, bio = $12,
		street = $13, city = $14, zip_code = $15, country = $16, updated_at = $17
		WHERE id = $1`,
		user.ID, user.Email, user.PasswordHash, user.IsActive, user.IsStaff, user.IsSuperuser,
		user.FirstName, user.LastName, sqlutil.NullString(user.PhoneNumber), user.Avatar, string(user.Gender), user.Bio,
		user.Street, user.City, user.ZipCode, user.Country, user.UpdatedAt,
	)
	if err != nil {
		return mapPostgresError(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUsers returns all users matching opt.Filter, sorted by opt.Ordering.
func (db *PostgresDB) ListUsers(ctx context.Context, opt model.ListOptions) ([]*model.User, error) {
	where, args := sqlutil.Where(opt.Filter)
	q := fmt.Sprintf(`SELECT %s FROM users %s %s`, userColumns, where, sqlutil.OrderBy(opt.Ordering))

	rows, err := db.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]*model.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// AddSpend atomically adds amount to the user's total spend.
func (db *PostgresDB) AddSpend(ctx context.Context, id string, amount float64) (*model.User, error) {
	row := db.Pool.QueryRow(ctx, `UPDATE users
		SET total_spent = total_spent + $2, updated_at = $3
		WHERE id = $1
		RETURNING `+userColumns, id, amount, time.Now().UTC())
	return scanUser(row)
}

// RevokeToken records the token ID until it expires.
func (db *PostgresDB) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	tag, err := db.Pool.Exec(ctx, `INSERT INTO revoked_tokens (jti, expires_at)
		VALUES ($1, $2) ON CONFLICT (jti) DO NOTHING`, jti, expiresAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyRevoked
	}
	return nil
}

// IsTokenRevoked returns true if jti was revoked.
func (db *PostgresDB) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := db.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM revoked_tokens WHERE jti = $1)`, jti,
	).Scan(&revoked)
	return revoked, err
}

// PurgeExpired deletes revocations and states which have expired.
func (db *PostgresDB) PurgeExpired(ctx context.Context) error {
	now := time.Now()
	if _, err := db.Pool.Exec(ctx, `DELETE FROM revoked_tokens WHERE expires_at < $1`, now); err != nil {
		return err
	}
	_, err := db.Pool.Exec(ctx, `DELETE FROM oauth_states WHERE expires_at < $1`, now)
	return err
}

// SaveState stores a short-lived record.
func (db *PostgresDB) SaveState(ctx context.Context, id string, data []byte, ttl time.Duration) error {
	_, err := db.Pool.Exec(ctx, `INSERT INTO oauth_states (id, data, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, expires_at = EXCLUDED.expires_at`,
		id, data, time.Now().Add(ttl))
	return err
}

// ConsumeState returns and deletes a stored record.
func (db *PostgresDB) ConsumeState(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := db.Pool.QueryRow(ctx,
		`DELETE FROM oauth_states WHERE id = $1 AND expires_at > $2 RETURNING data`,
		id, time.Now(),
	).Scan(&data)
	if err != nil {
		return nil, mapPostgresError(err)
	}
	return data, nil
}
