// Package crypto protects sensitive configuration values. Secrets are
// stored as ENC(...) envelopes holding an AES-256-GCM ciphertext; the key
// is a base64url-encoded 32-byte value.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"strings"

	"github.com/pkg/errors"
)

const (
	encPrefix = "ENC("
	encSuffix = ")"
)

// Cipher encrypts and decrypts ENC(...) envelopes.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a cipher from a base64url-encoded 32-byte key.
func NewCipher(key string) (*Cipher, error) {
	raw, err := base64.URLEncoding.DecodeString(strings.TrimSpace(key))
	if err != nil {
		return nil, errors.Wrap(err, "decode key")
	}
	if len(raw) != 32 {
		return nil, errors.Errorf("key must be 32 bytes, got %d", len(raw))
	}

	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, errors.Wrap(err, "init cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, errors.Wrap(err, "init gcm")
	}

	return &Cipher{aead: aead}, nil
}

// GenerateKey returns a fresh base64url-encoded key.
func GenerateKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", errors.Wrap(err, "generate key")
	}
	return base64.URLEncoding.EncodeToString(raw), nil
}

// IsEncrypted reports whether a configuration value is an ENC(...) envelope.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, encPrefix) && strings.HasSuffix(value, encSuffix)
}

// EncryptValue seals a plaintext into an ENC(...) envelope.
func (c *Cipher) EncryptValue(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", errors.Wrap(err, "generate nonce")
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return encPrefix + base64.StdEncoding.EncodeToString(sealed) + encSuffix, nil
}

// DecryptValue opens an ENC(...) envelope.
func (c *Cipher) DecryptValue(value string) (string, error) {
	if !IsEncrypted(value) {
		return "", errors.New("value is not an ENC(...) envelope")
	}

	sealed, err := base64.StdEncoding.DecodeString(value[len(encPrefix) : len(value)-len(encSuffix)])
	if err != nil {
		return "", errors.Wrap(err, "decode envelope")
	}
	if len(sealed) < c.aead.NonceSize() {
		return "", errors.New("envelope too short")
	}

	nonce, ciphertext := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", errors.Wrap(err, "decrypt value")
	}
	return string(plaintext), nil
}
