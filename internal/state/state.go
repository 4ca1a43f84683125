package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/alexjbarnes/reddit-broker/internal/models"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory.
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var loginStatesBucket = []byte("login_states")

// ErrLoginStateNotFound is returned when a state nonce is unknown, was
// already used, or has expired.
var ErrLoginStateNotFound = errors.New("login state not found")

// nonceKey returns the SHA-256 hex digest of a state nonce. Used as the
// bbolt key so raw nonces are not stored on disk.
func nonceKey(nonce string) []byte {
	h := sha256.Sum256([]byte(nonce))
	dst := make([]byte, hex.EncodedLen(len(h)))
	hex.Encode(dst, h[:])

	return dst
}

// State wraps a bbolt database holding in-flight login redirects.
type State struct {
	db *bolt.DB
}

// Open opens the state database at path, creating it and its parent
// directory if they do not exist.
func Open(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(loginStatesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the underlying database.
func (s *State) Close() error {
	return s.db.Close()
}

// SaveLoginState records ls under nonce, replacing any previous entry.
func (s *State) SaveLoginState(nonce string, ls models.LoginState) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(ls)
		if err != nil {
			return err
		}

		return tx.Bucket(loginStatesBucket).Put(nonceKey(nonce), data)
	})
}

// ConsumeLoginState removes and returns the state stored under nonce. The
// entry is deleted before the expiry check, so a nonce can be redeemed at
// most once whether or not it is still valid.
func (s *State) ConsumeLoginState(nonce string, now time.Time) (*models.LoginState, error) {
	var ls *models.LoginState

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(loginStatesBucket)
		key := nonceKey(nonce)

		v := b.Get(key)
		if v == nil {
			return ErrLoginStateNotFound
		}

		found := &models.LoginState{}
		if err := json.Unmarshal(v, found); err != nil {
			return err
		}

		if err := b.Delete(key); err != nil {
			return err
		}

		ls = found

		return nil
	})
	if err != nil {
		return nil, err
	}

	if ls.Expired(now) {
		return nil, ErrLoginStateNotFound
	}

	return ls, nil
}

// PruneExpired deletes every login state that has expired at now and
// returns how many were removed. Entries that fail to decode are removed
// as well.
func (s *State) PruneExpired(now time.Time) (int, error) {
	removed := 0

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(loginStatesBucket)

		var stale [][]byte

		err := b.ForEach(func(k, v []byte) error {
			var ls models.LoginState
			if err := json.Unmarshal(v, &ls); err != nil || ls.Expired(now) {
				stale = append(stale, append([]byte(nil), k...))
			}

			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}

		removed = len(stale)

		return nil
	})

	return removed, err
}

// CountLoginStates returns the number of stored login states.
func (s *State) CountLoginStates() (int, error) {
	n := 0

	err := s.db.View(func(tx *bolt.Tx) error {
		n = tx.Bucket(loginStatesBucket).Stats().KeyN
		return nil
	})

	return n, err
}
