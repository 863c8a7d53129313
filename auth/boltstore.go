package auth

import (
	"fmt"

	"go.etcd.io/bbolt"
)

var (
	bucketAuth = []byte("auth")
	keyToken   = []byte("token")
)

// FileTokenStore persists the bearer token in a local bbolt file so it
// survives process restarts. The sync engine only reads it; writes happen when
// the host app logs in or out.
type FileTokenStore struct {
	db *bbolt.DB
}

// OpenFileTokenStore opens (or creates) the token file.
func OpenFileTokenStore(path string) (*FileTokenStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: open token store `%s`: %v", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketAuth)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("auth: init token store: %v", err)
	}
	return &FileTokenStore{db: db}, nil
}

// Token implements TokenSource.
func (s *FileTokenStore) Token() (string, error) {
	var token string
	if err := s.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketAuth).Get(keyToken); len(v) > 0 {
			token = string(v)
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("auth: read token: %v", err)
	}
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// SetToken stores a fresh token, replacing any previous one.
func (s *FileTokenStore) SetToken(token string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAuth).Put(keyToken, []byte(token))
	})
}

// ClearToken removes the stored token. Clearing an absent token is a no-op.
func (s *FileTokenStore) ClearToken() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAuth).Delete(keyToken)
	})
}

func (s *FileTokenStore) Close() error {
	return s.db.Close()
}
