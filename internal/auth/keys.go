// ABOUTME: Static API key validation against bcrypt hashes from config
// ABOUTME: Plaintext keys are never stored; config carries only the hashes

package auth

import (
	"golang.org/x/crypto/bcrypt"
)

// KeyEntry is one configured credential: a caller name and the bcrypt hash
// of its key.
type KeyEntry struct {
	Name string
	Hash string
}

// KeyStore validates presented API keys against the configured hash list.
type KeyStore struct {
	entries []KeyEntry
}

// NewKeyStore creates a KeyStore from the configured entries.
func NewKeyStore(entries []KeyEntry) *KeyStore {
	return &KeyStore{entries: entries}
}

// Len returns the number of configured keys.
func (s *KeyStore) Len() int {
	return len(s.entries)
}

// Validate checks the presented key against every configured hash and returns
// the matching entry's name. Linear scan: the key carries no identifier, and
// configured key counts are small.
func (s *KeyStore) Validate(key string) (name string, ok bool) {
	if key == "" {
		return "", false
	}
	for _, e := range s.entries {
		if bcrypt.CompareHashAndPassword([]byte(e.Hash), []byte(key)) == nil {
			return e.Name, true
		}
	}
	return "", false
}

// HashKey produces a bcrypt hash suitable for the api_keys config section.
func HashKey(key string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
