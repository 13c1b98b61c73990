package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cookstagram/accounts/pkg/model"
	badger "github.com/dgraph-io/badger/v3"
	"github.com/pkg/errors"
)

// BadgerDB holds a connection to a Badger backend.
type BadgerDB struct {
	InMemory bool
	DB       *badger.DB
}

const (
	prefixUser    = "user"
	prefixEmail   = "email"
	prefixPhone   = "phone"
	prefixRevoked = "revoked"
	prefixState   = "state"
)

func makeUserKey(id string) []byte {
	return makeKey(prefixUser, id)
}

func makeEmailKey(email string) []byte {
	return makeKey(prefixEmail, model.EmailKey(email))
}

func makePhoneKey(phone string) []byte {
	return makeKey(prefixPhone, phone)
}

func makeRevokedKey(jti string) []byte {
	return makeKey(prefixRevoked, jti)
}

func makeStateKey(id string) []byte {
	return makeKey(prefixState, id)
}

func makeKey(prefix, id string) []byte {
	return []byte(fmt.Sprintf("%s_%s", prefix, id))
}

// InitializeBadgerDB creates a new database with a Badger backend stored in
// dir. Pass `true` to create an in-memory database (useful in tests, for
// example), in which case dir is ignored.
func InitializeBadgerDB(dir string, inMemory bool) (*BadgerDB, error) {
	path := dir
	if inMemory {
		path = ""
	}
	opts := badger.DefaultOptions(path).
		WithInMemory(inMemory).
		WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &BadgerDB{DB: db, InMemory: inMemory}, nil
}

// Close handles closing all connections to the database.
func (db *BadgerDB) Close() error {
	return db.DB.Close()
}

// update runs fn in a read-write transaction, retrying when a concurrent
// transaction committed a conflicting write first. The retry observes the
// winner's writes, so uniqueness checks inside fn report duplicates.
func (db *BadgerDB) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxConflictRetries; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err = db.DB.Update(fn)
		if err != badger.ErrConflict {
			return err
		}
	}
	return errors.Wrap(err, "too many write conflicts")
}

func getUser(txn *badger.Txn, id string) (*model.User, error) {
	item, err := txn.Get(makeUserKey(id))
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var user model.User
	err = item.Value(func(v []byte) error {
		return json.Unmarshal(v, &user)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func setUser(txn *badger.Txn, user *model.User) error {
	b, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return txn.Set(makeUserKey(user.ID), b)
}

// lookupIndex returns the user ID stored under an index key, or "" if the
// key is unset.
func lookupIndex(txn *badger.Txn, key []byte) (string, error) {
	item, err := txn.Get(key)
	if err == badger.ErrKeyNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	b, err := item.ValueCopy(nil)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CreateUser registers a new user. The email index key is read inside the
// transaction, so two concurrent creators for one email conflict and the
// loser observes ErrDuplicateEmail on retry.
func (db *BadgerDB) CreateUser(ctx context.Context, user *model.User) error {
	if err := prepareNewUser(user); err != nil {
		return err
	}
	return db.update(ctx, func(txn *badger.Txn) error {
		emailKey := makeEmailKey(user.Email)
		if id, err := lookupIndex(txn, emailKey); err != nil {
			return err
		} else if id != "" {
			return ErrDuplicateEmail
		}
		if user.PhoneNumber != "" {
			if id, err := lookupIndex(txn, makePhoneKey(user.PhoneNumber)); err != nil {
				return err
			} else if id != "" {
				return ErrDuplicatePhone
			}
			if err := txn.Set(makePhoneKey(user.PhoneNumber), []byte(user.ID)); err != nil {
				return err
			}
		}
		if err := txn.Set(emailKey, []byte(user.ID)); err != nil {
			return err
		}
		return setUser(txn, user)
	})
}

// GetUserByID retrieves user's info based off an ID.
func (db *BadgerDB) GetUserByID(ctx context.Context, id string) (user *model.User, err error) {
	err = db.DB.View(func(txn *badger.Txn) error {
		user, err = getUser(txn, id)
		return err
	})
	return
}

// GetUserByEmail retrieves user's info based off an email address.
func (db *BadgerDB) GetUserByEmail(ctx context.Context, email string) (user *model.User, err error) {
	err = db.DB.View(func(txn *badger.Txn) error {
		id, err := lookupIndex(txn, makeEmailKey(email))
		if err != nil {
			return err
		}
		if id == "" {
			return ErrNotFound
		}
		user, err = getUser(txn, id)
		return err
	})
	return
}

// UpdateUser replaces the stored user, moving its email and phone index
// entries when those change.
func (db *BadgerDB) UpdateUser(ctx context.Context, user *model.User) error {
	user.Email = model.NormalizeEmail(user.Email)
	user.UpdatedAt = time.Now().UTC()
	return db.update(ctx, func(txn *badger.Txn) error {
		old, err := getUser(txn, user.ID)
		if err != nil {
			return err
		}

		if model.EmailKey(old.Email) != model.EmailKey(user.Email) {
			newKey := makeEmailKey(user.Email)
			if id, err := lookupIndex(txn, newKey); err != nil {
				return err
			} else if id != "" && id != user.ID {
				return ErrDuplicateEmail
			}
			if err := txn.Delete(makeEmailKey(old.Email)); err != nil {
				return err
			}
			if err := txn.Set(newKey, []byte(user.ID)); err != nil {
				return err
			}
		}

		if old.PhoneNumber != user.PhoneNumber {
			if user.PhoneNumber != "" {
				newKey := makePhoneKey(user.PhoneNumber)
				if id, err := lookupIndex(txn, newKey); err != nil {
					return err
				} else if id != "" && id != user.ID {
					return ErrDuplicatePhone
				}
				if err := txn.Set(newKey, []byte(user.ID)); err != nil {
					return err
				}
			}
			if old.PhoneNumber != "" {
				if err := txn.Delete(makePhoneKey(old.PhoneNumber)); err != nil {
					return err
				}
			}
		}

		return setUser(txn, user)
	})
}

// ListUsers returns all users matching opt.Filter, sorted by opt.Ordering.
func (db *BadgerDB) ListUsers(ctx context.Context, opt model.ListOptions) ([]*model.User, error) {
	users := make([]*model.User, 0)
	err := db.DB.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := makeUserKey("")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()

			var user model.User
			err := item.Value(func(v []byte) error {
				return json.Unmarshal(v, &user)
			})
			if err != nil {
				return err
			}
			if opt.Filter.Match(&user) {
				users = append(users, &user)
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}
	opt.Ordering.Sort(users)
	return users, nil
}

// AddSpend atomically adds amount to the user's total spend.
func (db *BadgerDB) AddSpend(ctx context.Context, id string, amount float64) (user *model.User, err error) {
	err = db.update(ctx, func(txn *badger.Txn) error {
		user, err = getUser(txn, id)
		if err != nil {
			return err
		}
		user.TotalSpent += amount
		user.UpdatedAt = time.Now().UTC()
		return setUser(txn, user)
	})
	return
}

// RevokeToken records the token ID until it expires, after which Badger
// discards the entry.
func (db *BadgerDB) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	key := makeRevokedKey(jti)
	return db.update(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		if err == nil {
			return ErrAlreadyRevoked
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		return txn.SetEntry(&badger.Entry{
			Key:       key,
			Value:     []byte{},
			ExpiresAt: uint64(expiresAt.Unix()),
		})
	})
}

// IsTokenRevoked returns true if jti was revoked.
func (db *BadgerDB) IsTokenRevoked(ctx context.Context, jti string) (revoked bool, err error) {
	err = db.DB.View(func(txn *badger.Txn) error {
		_, err := txn.Get(makeRevokedKey(jti))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		revoked = true
		return nil
	})
	return
}

// SaveState stores a short-lived record which Badger expires after ttl.
func (db *BadgerDB) SaveState(ctx context.Context, id string, data []byte, ttl time.Duration) error {
	return db.DB.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(makeStateKey(id), data).WithTTL(ttl))
	})
}

// ConsumeState returns and deletes a stored record.
func (db *BadgerDB) ConsumeState(ctx context.Context, id string) (data []byte, err error) {
	key := makeStateKey(id)
	err = db.update(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return txn.Delete(key)
	})
	return
}
