package cachestore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
)

const (
	scryptN   = 32768
	scryptR   = 8
	scryptP   = 1
	keyLength = 32
	nonceSize = 12
)

// Cipher wraps an AES-256-GCM AEAD derived from a passphrase via scrypt,
// used by SecureCache to encrypt CachedObject bytes at rest.
type Cipher struct {
	gcm cipher.AEAD
}

// HashKey converts a cache key to its SHA-256 hash representation.
// SecureCache applies this before handing a key to the cache it wraps;
// the backends themselves store keys as given.
func HashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// NewCipher derives an AES-256-GCM cipher from passphrase using scrypt.
func NewCipher(passphrase string) (*Cipher, error) {
	salt := sha256.Sum256([]byte("cachestore-securecache-salt-v1"))
	key, err := scrypt.Key([]byte(passphrase), salt[:], scryptN, scryptR, scryptP, keyLength)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Cipher{gcm: gcm}, nil
}

// Encrypt seals data, prepending a freshly generated nonce.
func (c *Cipher) Encrypt(data []byte) ([]byte, error) {
	if c == nil || c.gcm == nil {
		return data, nil
	}
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return c.gcm.Seal(nonce, nonce, data, nil), nil
}

// Decrypt opens data previously sealed by Encrypt.
func (c *Cipher) Decrypt(data []byte) ([]byte, error) {
	if c == nil || c.gcm == nil {
		return data, nil
	}
	if len(data) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := c.gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}

// Enabled reports whether c actually encrypts (a nil *Cipher is the
// no-op "encryption disabled" case used by backends constructed without a
// passphrase).
func (c *Cipher) Enabled() bool {
	return c != nil && c.gcm != nil
}
