package credential

import (
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/virgilvox/clasp-flow-sub003/errors"
)

// AEADCipher implements Cipher using ChaCha20-Poly1305 over a caller
// supplied key. It serves platforms without a native keychain primitive;
// the key itself must come from outside the framework (OS keyring, KMS,
// derived from a machine secret).
type AEADCipher struct {
	aead interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	}
}

// NewAEADCipher creates a cipher from a 32-byte key
func NewAEADCipher(key []byte) (*AEADCipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.WrapInvalid(
			fmt.Errorf("key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key)),
			"AEADCipher", "NewAEADCipher", "key validation")
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, errors.WrapInvalid(err, "AEADCipher", "NewAEADCipher", "cipher construction")
	}

	return &AEADCipher{aead: aead}, nil
}

// Available always reports true for a constructed cipher
func (c *AEADCipher) Available() bool {
	return c != nil && c.aead != nil
}

// Encrypt seals the plaintext with a random nonce prefix
func (c *AEADCipher) Encrypt(plaintext string) ([]byte, error) {
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.WrapTransient(err, "AEADCipher", "Encrypt", "nonce generation")
	}

	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	return append(nonce, sealed...), nil
}

// Decrypt opens a value produced by Encrypt. Corrupted or foreign data
// returns ErrDecryptFailed.
func (c *AEADCipher) Decrypt(ciphertext []byte) (string, error) {
	if len(ciphertext) < chacha20poly1305.NonceSizeX {
		return "", errors.ErrDecryptFailed
	}

	nonce := ciphertext[:chacha20poly1305.NonceSizeX]
	sealed := ciphertext[chacha20poly1305.NonceSizeX:]

	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", errors.ErrDecryptFailed
	}
	return string(plaintext), nil
}
