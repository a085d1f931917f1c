// Package credential provides a secret key/value store for connection
// credentials with a secure, encrypting backend and a plain in-memory
// fallback.
//
// The backend is selected once at construction based on cipher
// availability. Callers should check IsSecure and warn the user when the
// fallback is active: fallback credentials are never encrypted and never
// persist beyond the process.
package credential

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Cipher is the platform-provided encryption primitive consumed by the
// secure backend. Implementations live outside this package; AEADCipher is
// provided for platforms without a native keychain primitive.
type Cipher interface {
	// Available reports whether encryption can be used on this platform
	Available() bool

	// Encrypt seals a plaintext secret
	Encrypt(plaintext string) ([]byte, error)

	// Decrypt opens a sealed secret
	Decrypt(ciphertext []byte) (string, error)
}

// Store is the capability interface for credential storage
type Store interface {
	// Set stores a secret under a logical key. Empty values are stored
	// as given; use SetFields to skip empty values in batch writes.
	Set(key, value string) error

	// Get retrieves a secret. The second return is false when the key is
	// absent or the stored value cannot be decrypted.
	Get(key string) (string, bool)

	// Delete removes a secret. Unknown keys are a no-op.
	Delete(key string)

	// Has reports whether a secret exists under the key
	Has(key string) bool

	// DeleteForConnection removes every key scoped to a connection id
	DeleteForConnection(connectionID string)

	// IsSecure reports whether values are encrypted at rest
	IsSecure() bool
}

// ConnectionKey builds the logical key for one field of one connection:
// "conn:{connectionId}:{field}"
func ConnectionKey(connectionID, field string) string {
	return fmt.Sprintf("conn:%s:%s", connectionID, field)
}

// connectionPrefix returns the key prefix that scopes a connection's fields
func connectionPrefix(connectionID string) string {
	return fmt.Sprintf("conn:%s:", connectionID)
}

// NewStore selects a backend based on cipher availability, probed exactly
// once. A nil or unavailable cipher selects the plain in-memory fallback.
func NewStore(cipher Cipher, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.Default()
	}
	if cipher != nil && cipher.Available() {
		return &secureStore{
			cipher: cipher,
			values: make(map[string][]byte),
			logger: logger,
		}
	}
	logger.Warn("encryption unavailable, credentials held in plain memory")
	return &memoryStore{
		values: make(map[string]string),
	}
}

// secureStore encrypts values at rest using the platform cipher
type secureStore struct {
	mu     sync.RWMutex
	cipher Cipher
	values map[string][]byte
	logger *slog.Logger
}

func (s *secureStore) Set(key, value string) error {
	sealed, err := s.cipher.Encrypt(value)
	if err != nil {
		return fmt.Errorf("credential.Set: encrypt failed: %w", err)
	}

	s.mu.Lock()
	s.values[key] = sealed
	s.mu.Unlock()
	return nil
}

func (s *secureStore) Get(key string) (string, bool) {
	s.mu.RLock()
	sealed, exists := s.values[key]
	s.mu.RUnlock()
	if !exists {
		return "", false
	}

	value, err := s.cipher.Decrypt(sealed)
	if err != nil {
		// Corrupted or foreign data reads as absent rather than failing
		s.logger.Warn("credential decryption failed", "key", key)
		return "", false
	}
	return value, true
}

func (s *secureStore) Delete(key string) {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
}

func (s *secureStore) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.values[key]
	return exists
}

func (s *secureStore) DeleteForConnection(connectionID string) {
	prefix := connectionPrefix(connectionID)
	s.mu.Lock()
	for key := range s.values {
		if strings.HasPrefix(key, prefix) {
			delete(s.values, key)
		}
	}
	s.mu.Unlock()
}

func (s *secureStore) IsSecure() bool {
	return true
}

// memoryStore is the plain fallback backend. Values are never encrypted
// and never persist.
type memoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func (s *memoryStore) Set(key, value string) error {
	s.mu.Lock()
	s.values[key] = value
	s.mu.Unlock()
	return nil
}

func (s *memoryStore) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, exists := s.values[key]
	return value, exists
}

func (s *memoryStore) Delete(key string) {
	s.mu.Lock()
	delete(s.values, key)
	s.mu.Unlock()
}

func (s *memoryStore) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.values[key]
	return exists
}

func (s *memoryStore) DeleteForConnection(connectionID string) {
	prefix := connectionPrefix(connectionID)
	s.mu.Lock()
	for key := range s.values {
		if strings.HasPrefix(key, prefix) {
			delete(s.values, key)
		}
	}
	s.mu.Unlock()
}

func (s *memoryStore) IsSecure() bool {
	return false
}
