// Package crypto seals OAuth tokens at rest with AES-256-GCM. Each sealed
// value is bound to the row it belongs to through additional authenticated
// data, so a ciphertext copied to another provider's row fails to open.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// ErrOpen is returned when a sealed value fails authentication.
var ErrOpen = errors.New("decryption failed: authentication or integrity check failed")

// Encryptor seals and opens byte strings. KeyID identifies the key so rows
// written under an older key can be detected after rotation.
type Encryptor interface {
	KeyID() string
	Seal(plaintext, aad []byte) ([]byte, error)
	Open(sealed, aad []byte) ([]byte, error)
}

// AESGCM implements Encryptor. Output layout is nonce || ciphertext || tag.
type AESGCM struct {
	aead  cipher.AEAD
	keyID string
}

// NewAESGCM builds an encryptor from a base64-encoded 32-byte key
// (openssl rand -base64 32).
func NewAESGCM(base64Key string) (*AESGCM, error) {
	if base64Key == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: base64 decode failed: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key: must be 32 bytes (256 bits), got %d bytes", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	sum := sha256.Sum256(key)
	return &AESGCM{aead: aead, keyID: hex.EncodeToString(sum[:4])}, nil
}

// KeyID is a short fingerprint of the key; it reveals nothing usable.
func (e *AESGCM) KeyID() string { return e.keyID }

// Seal encrypts plaintext with a fresh random nonce.
func (e *AESGCM) Seal(plaintext, aad []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("plaintext is empty")
	}
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return e.aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Open authenticates and decrypts a value produced by Seal with the same aad.
func (e *AESGCM) Open(sealed, aad []byte) ([]byte, error) {
	n := e.aead.NonceSize()
	if len(sealed) < n+e.aead.Overhead() {
		return nil, fmt.Errorf("ciphertext too short: got %d bytes", len(sealed))
	}
	plaintext, err := e.aead.Open(nil, sealed[:n], sealed[n:], aad)
	if err != nil {
		return nil, ErrOpen
	}
	return plaintext, nil
}

// SealString seals s for storage in a text column. Empty strings stay empty.
func SealString(enc Encryptor, s, aad string) (string, error) {
	if s == "" {
		return "", nil
	}
	b, err := enc.Seal([]byte(s), []byte(aad))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// OpenString reverses SealString.
func OpenString(enc Encryptor, sealed, aad string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	b, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("base64 decode failed: %w", err)
	}
	p, err := enc.Open(b, []byte(aad))
	if err != nil {
		return "", err
	}
	return string(p), nil
}
