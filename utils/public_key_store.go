package utils

import (
	"crypto/rsa"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
)

const publicKeySuffix = "_public.pem"

// PublicKeyStore maps a key id to the RSA public key that verifies tokens
// signed with it.
type PublicKeyStore struct {
	keys map[string]*rsa.PublicKey
	mu   sync.RWMutex
}

func NewPublicKeyStore() *PublicKeyStore {
	return &PublicKeyStore{
		keys: make(map[string]*rsa.PublicKey),
	}
}

// AddOrUpdateKey parses a PEM encoded key and stores it under kid,
// replacing any previous key.
func (store *PublicKeyStore) AddOrUpdateKey(kid, pemStr string) error {
	pubKey, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pemStr))
	if err != nil {
		return fmt.Errorf("failed to parse RSA public key: %w", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	store.keys[kid] = pubKey
	return nil
}

// LoadDir reads every <kid>_public.pem file of dir. A missing dir is not an
// error; keys can still arrive through rotation notifications.
func (store *PublicKeyStore) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	loaded := 0
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, publicKeySuffix) {
			continue
		}
		kid := strings.TrimSuffix(name, publicKeySuffix)
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return loaded, fmt.Errorf("read public key %s: %w", name, err)
		}
		if err := store.AddOrUpdateKey(kid, string(data)); err != nil {
			return loaded, fmt.Errorf("load public key %s: %w", name, err)
		}
		loaded++
	}
	return loaded, nil
}

func (store *PublicKeyStore) RemoveKey(kid string) {
	store.mu.Lock()
	defer store.mu.Unlock()
	delete(store.keys, kid)
}

func (store *PublicKeyStore) GetKey(kid string) (*rsa.PublicKey, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	key, exists := store.keys[kid]
	if !exists {
		return nil, fmt.Errorf("public key not found for kid: %s", kid)
	}
	return key, nil
}

func (store *PublicKeyStore) Len() int {
	store.mu.RLock()
	defer store.mu.RUnlock()
	return len(store.keys)
}
