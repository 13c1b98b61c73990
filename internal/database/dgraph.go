package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cookstagram/accounts/pkg/model"
	dgo "github.com/dgraph-io/dgo/v200"
	"github.com/dgraph-io/dgo/v200/protos/api"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
)

const dgraphSchema = `
user.id: string @index(exact) .
user.email: string .
user.email_key: string @index(exact) @upsert .
user.password_hash: string .
user.provider: string .
user.provider_id: string .
user.is_active: bool @index(bool) .
user.is_staff: bool .
user.is_superuser: bool .
user.first_name: string .
user.last_name: string .
user.phone_number: string @index(exact) @upsert .
user.avatar: string .
user.gender: string @index(exact) .
user.bio: string .
user.street: string .
user.city: string .
user.zip_code: int .
user.country: string .
user.total_spent: float .
user.created_at: datetime .
user.updated_at: datetime .

revoked.jti: string @index(exact) @upsert .
revoked.expires_at: datetime .

type User {
	user.id
	user.email
	user.email_key
	user.password_hash
	user.provider
	user.provider_id
	user.is_active
	user.is_staff
	user.is_superuser
	user.first_name
	user.last_name
	user.phone_number
	user.avatar
	user.gender
	user.bio
	user.street
	user.city
	user.zip_code
	user.country
	user.total_spent
	user.created_at
	user.updated_at
}

type RevokedToken {
	revoked.jti
	revoked.expires_at
}
`

const dgraphUserFields = `
	uid
	user.id
	user.email
	user.password_hash
	user.provider
	user.provider_id
	user.is_active
	user.is_staff
	user.is_superuser
	user.first_name
	user.last_name
	user.phone_number
	user.avatar
	user.gender
	user.bio
	user.street
	user.city
	user.zip_code
	user.country
	user.total_spent
	user.created_at
	user.updated_at
`

// dgraphUser is the node representation of model.User.
type dgraphUser struct {
	UID          string    `json:"uid,omitempty"`
	Type         []string  `json:"dgraph.type,omitempty"`
	ID           string    `json:"user.id"`
	Email        string    `json:"user.email"`
	EmailKey     string    `json:"user.email_key,omitempty"`
	PasswordHash string    `json:"user.password_hash"`
	Provider     string    `json:"user.provider"`
	ProviderID   string    `json:"user.provider_id"`
	IsActive     bool      `json:"user.is_active"`
	IsStaff      bool      `json:"user.is_staff"`
	IsSuperuser  bool      `json:"user.is_superuser"`
	FirstName    string    `json:"user.first_name"`
	LastName     string    `json:"user.last_name"`
	PhoneNumber  string    `json:"user.phone_number,omitempty"`
	Avatar       string    `json:"user.avatar"`
	Gender       string    `json:"user.gender"`
	Bio          string    `json:"user.bio"`
	Street       string    `json:"user.street"`
	City         string    `json:"user.city"`
	ZipCode      *int      `json:"user.zip_code,omitempty"`
	Country      string    `json:"user.country"`
	TotalSpent   float64   `json:"user.total_spent"`
	CreatedAt    time.Time `json:"user.created_at"`
	UpdatedAt    time.Time `json:"user.updated_at"`
}

func newDgraphUser(uid string, u *model.User) *dgraphUser {
	return &dgraphUser{
		UID:          uid,
		Type:         []string{"User"},
		ID:           u.ID,
		Email:        u.Email,
		EmailKey:     model.EmailKey(u.Email),
		PasswordHash: u.PasswordHash,
		Provider:     string(u.Provider),
		ProviderID:   u.ProviderID,
		IsActive:     u.IsActive,
		IsStaff:      u.IsStaff,
		IsSuperuser:  u.IsSuperuser,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		PhoneNumber:  u.PhoneNumber,
		Avatar:       u.Avatar,
		Gender:       string(u.Gender),
		Bio:          u.Bio,
		Street:       u.Street,
		City:         u.City,
		ZipCode:      u.ZipCode,
		Country:      u.Country,
		TotalSpent:   u.TotalSpent,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func (d *dgraphUser) model() *model.User {
	return &model.User{
		ID:           d.ID,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		Provider:     model.Provider(d.Provider),
		ProviderID:   d.ProviderID,
		IsActive:     d.IsActive,
		IsStaff:      d.IsStaff,
		IsSuperuser:  d.IsSuperuser,
		FirstName:    d.FirstName,
		LastName:     d.LastName,
		PhoneNumber:  d.PhoneNumber,
		Avatar:       d.Avatar,
		Gender:       model.Gender(d.Gender),
		Bio:          d.Bio,
		Street:       d.Street,
		City:         d.City,
		ZipCode:      d.ZipCode,
		Country:      d.Country,
		TotalSpent:   d.TotalSpent,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

// DgraphDatabase holds connection to a Dgraph DB instance.
type DgraphDatabase struct {
	// The underlying gRPC connection.
	conn *grpc.ClientConn

	// The Dgraph client, wrapping conn.
	DB *dgo.Dgraph
}

// InitializeDgraphDatabase connects to the Dgraph alpha at addr and
// installs the schema.
func InitializeDgraphDatabase(ctx context.Context, addr string) (*DgraphDatabase, error) {
	dialCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()

	conn, err := grpc.DialContext(dialCtx, addr, grpc.WithInsecure(), grpc.WithBlock())
	if err != nil {
		return nil, errors.Wrap(err, "dialing dgraph")
	}

	dgraphClient := dgo.NewDgraphClient(api.NewDgraphClient(conn))
	db := &DgraphDatabase{DB: dgraphClient, conn: conn}
	if err := db.Seed(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Seed installs the schema.
func (db *DgraphDatabase) Seed(ctx context.Context) error {
	op := &api.Operation{Schema: dgraphSchema}
	return errors.Wrap(db.DB.Alter(ctx, op), "installing schema")
}

// DropAll removes all data and schema. Used by tests.
func (db *DgraphDatabase) DropAll(ctx context.Context) error {
	if err := db.DB.Alter(ctx, &api.Operation{DropAll: true}); err != nil {
		return err
	}
	return db.Seed(ctx)
}

// Close handles closing all connections to the database.
func (db *DgraphDatabase) Close() error {
	return db.conn.Close()
}

// upsert runs req in a fresh transaction, retrying when it is aborted by a
// concurrent commit.
func (db *DgraphDatabase) upsert(ctx context.Context, req *api.Request) (resp *api.Response, err error) {
	for i := 0; i < maxConflictRetries; i++ {
		resp, err = db.DB.NewTxn().Do(ctx, req)
		if err != dgo.ErrAborted {
			return
		}
	}
	return nil, errors.Wrap(err, "too many write conflicts")
}

// phoneVar returns a value no stored phone number can equal when phone is
// empty, so the uniqueness block matches nothing.
func phoneVar(phone string) string {
	if phone == "" {
		return "-"
	}
	return phone
}

type uniquenessResult struct {
	Emails []struct {
		UID string `json:"uid"`
	} `json:"emails"`
	Phones []struct {
		UID string `json:"uid"`
	} `json:"phones"`
}

func (r *uniquenessResult) err() error {
	if len(r.Emails) > 0 {
		return ErrDuplicateEmail
	}
	if len(r.Phones) > 0 {
		return ErrDuplicatePhone
	}
	return nil
}

// CreateUser registers a new user using a conditional upsert over the
// @upsert email and phone predicates.
func (db *DgraphDatabase) CreateUser(ctx context.Context, user *model.User) error {
	if err := prepareNewUser(user); err != nil {
		return err
	}
	node := newDgraphUser("_:user", user)
	b, err := json.Marshal(node)
	if err != nil {
		return err
	}

	q := `query Unique($email: string, $phone: string) {
		emails(func: eq(user.email_key, $email)) { e as uid }
		phones(func: eq(user.phone_number, $phone)) { p as uid }
	}`
	req := &api.Request{
		Query: q,
		Vars: map[string]string{
			"$email": node.EmailKey,
			"$phone": phoneVar(user.PhoneNumber),
		},
		Mutations: []*api.Mutation{{
			Cond:    "@if(eq(len(e), 0) AND eq(len(p), 0))",
			SetJson: b,
		}},
		CommitNow: true,
	}

	resp, err := db.upsert(ctx, req)
	if err != nil {
		return err
	}
	if _, ok := resp.Uids["user"]; ok {
		return nil
	}

	var result uniquenessResult
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return err
	}
	if err := result.err(); err != nil {
		return err
	}
	return errors.New("user mutation was not applied")
}

func (db *DgraphDatabase) queryUsers(ctx context.Context, q string, vars map[string]string) ([]*dgraphUser, error) {
	resp, err := db.DB.NewReadOnlyTxn().QueryWithVars(ctx, q, vars)
	if err != nil {
		return nil, err
	}

	var response struct {
		Users []*dgraphUser `json:"users"`
	}
	if err := json.Unmarshal(resp.Json, &response); err != nil {
		return nil, err
	}
	return response.Users, nil
}

func (db *DgraphDatabase) getUser(ctx context.Context, predicate, value string) (*dgraphUser, error) {
	q := `query User($value: string) {
		users(func: eq(` + predicate + `, $value)) {` + dgraphUserFields + `}
	}`
	users, err := db.queryUsers(ctx, q, map[string]string{"$value": value})
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, ErrNotFound
	}
	return users[0], nil
}

// GetUserByID retrieves user's info based off an ID.
func (db *DgraphDatabase) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	user, err := db.getUser(ctx, "user.id", id)
	if err != nil {
		return nil, err
	}
	return user.model(), nil
}

// GetUserByEmail retrieves user's info based off an email address.
func (db *DgraphDatabase) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := db.getUser(ctx, "user.email_key", model.EmailKey(email))
	if err != nil {
		return nil, err
	}
	return user.model(), nil
}

// UpdateUser replaces the stored user, failing if its new email or phone
// number belongs to another user.
func (db *DgraphDatabase) UpdateUser(ctx context.Context, user *model.User) error {
	existing, err := db.getUser(ctx, "user.id", user.ID)
	if err != nil {
		return err
	}
	user.Email = model.NormalizeEmail(user.Email)
	user.UpdatedAt = time.Now().UTC()

	node := newDgraphUser(existing.UID, user)
	b, err := json.Marshal(node)
	if err != nil {
		return err
	}
	mutations := []*api.Mutation{{
		Cond:    "@if(eq(len(e), 0) AND eq(len(p), 0))",
		SetJson: b,
	}}
	if user.PhoneNumber == "" && existing.PhoneNumber != "" {
		del, err := json.Marshal(map[string]interface{}{
			"uid":               existing.UID,
			"user.phone_number": nil,
		})
		if err != nil {
			return err
		}
		mutations = append(mutations, &api.Mutation{
			Cond:       "@if(eq(len(e), 0))",
			DeleteJson: del,
		})
	}
	if user.ZipCode == nil && existing.ZipCode != nil {
		del, err := json.Marshal(map[string]interface{}{
			"uid":           existing.UID,
			"user.zip_code": nil,
		})
		if err != nil {
			return err
		}
		mutations = append(mutations, &api.Mutation{
			Cond:       "@if(eq(len(e), 0) AND eq(len(p), 0))",
			DeleteJson: del,
		})
	}

	q := `query Unique($id: string, $email: string, $phone: string) {
		emails(func: eq(user.email_key, $email)) @filter(NOT eq(user.id, $id)) { e as uid }
		phones(func: eq(user.phone_number, $phone)) @filter(NOT eq(user.id, $id)) { p as uid }
	}`
	req := &api.Request{
		Query: q,
		Vars: map[string]string{
			"$id":    user.ID,
			"$email": node.EmailKey,
			"$phone": phoneVar(user.PhoneNumber),
		},
		Mutations: mutations,
		CommitNow: true,
	}

	resp, err := db.upsert(ctx, req)
	if err != nil {
		return err
	}
	var result uniquenessResult
	if err := json.Unmarshal(resp.Json, &result); err != nil {
		return err
	}
	return result.err()
}

// ListUsers returns all users matching opt.Filter, sorted by opt.Ordering.
func (db *DgraphDatabase) ListUsers(ctx context.Context, opt model.ListOptions) ([]*model.User, error) {
	q := `{
		users(func: type(User)) {` + dgraphUserFields + `}
	}`
	nodes, err := db.queryUsers(ctx, q, nil)
	if err != nil {
		return nil, err
	}

	users := make([]*model.User, 0, len(nodes))
	for _, node := range nodes {
		user := node.model()
		if opt.Filter.Match(user) {
			users = append(users, user)
		}
	}
	opt.Ordering.Sort(users)
	return users, nil
}

// AddSpend adds amount to the user's total spend. Concurrent updates abort
// the transaction, which is then retried.
func (db *DgraphDatabase) AddSpend(ctx context.Context, id string, amount float64) (*model.User, error) {
	q := `query User($value: string) {
		users(func: eq(user.id, $value)) {` + dgraphUserFields + `}
	}`
	for i := 0; i < maxConflictRetries; i++ {
		user, err := db.addSpend(ctx, q, id, amount)
		if err == dgo.ErrAborted {
			continue
		}
		return user, err
	}
	return nil, errors.New("too many write conflicts")
}

func (db *DgraphDatabase) addSpend(ctx context.Context, q, id string, amount float64) (*model.User, error) {
	txn := db.DB.NewTxn()
	defer txn.Discard(ctx)

	resp, err := txn.QueryWithVars(ctx, q, map[string]string{"$value": id})
	if err != nil {
		return nil, err
	}
	var response struct {
		Users []*dgraphUser `json:"users"`
	}
	if err := json.Unmarshal(resp.Json, &response); err != nil {
		return nil, err
	}
	if len(response.Users) == 0 {
		return nil, ErrNotFound
	}

	node := response.Users[0]
	node.TotalSpent += amount
	node.UpdatedAt = time.Now().UTC()
	b, err := json.Marshal(map[string]interface{}{
		"uid":              node.UID,
		"user.total_spent": node.TotalSpent,
		"user.updated_at":  node.UpdatedAt,
	})
	if err != nil {
		return nil, err
	}
	if _, err := txn.Mutate(ctx, &api.Mutation{SetJson: b}); err != nil {
		return nil, err
	}
	if err := txn.Commit(ctx); err != nil {
		return nil, err
	}
	return node.model(), nil
}

// RevokeToken records the token ID until it expires.
func (db *DgraphDatabase) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	b, err := json.Marshal(map[string]interface{}{
		"uid":                "_:token",
		"dgraph.type":        "RevokedToken",
		"revoked.jti":        jti,
		"revoked.expires_at": expiresAt.UTC(),
	})
	if err != nil {
		return err
	}
	req := &api.Request{
		Query: `query Revoked($jti: string) {
			tokens(func: eq(revoked.jti, $jti)) { t as uid }
		}`,
		Vars: map[string]string{"$jti": jti},
		Mutations: []*api.Mutation{{
			Cond:    "@if(eq(len(t), 0))",
			SetJson: b,
		}},
		CommitNow: true,
	}

	resp, err := db.upsert(ctx, req)
	if err != nil {
		return err
	}
	if _, ok := resp.Uids["token"]; !ok {
		return ErrAlreadyRevoked
	}
	return nil
}

// IsTokenRevoked returns true if jti was revoked.
func (db *DgraphDatabase) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	q := `query Revoked($jti: string) {
		tokens(func: eq(revoked.jti, $jti)) { uid }
	}`
	resp, err := db.DB.NewReadOnlyTxn().QueryWithVars(ctx, q, map[string]string{"$jti": jti})
	if err != nil {
		return false, err
	}
	var response struct {
		Tokens []struct {
			UID string `json:"uid"`
		} `json:"tokens"`
	}
	if err := json.Unmarshal(resp.Json, &response); err != nil {
		return false, err
	}
	return len(response.Tokens) > 0, nil
}
