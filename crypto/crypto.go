// Package crypto seals secrets persisted by the service (currently the Twitch
// app access token) with AES-256-GCM. Sealed values are base64 text so they
// fit the text columns of the oauth_tokens table.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// ErrOpen is returned when a sealed value fails authentication or is malformed.
var ErrOpen = errors.New("crypto: cannot open sealed value")

// DefaultKeyID labels rows sealed with ENCRYPTION_KEY.
const DefaultKeyID = "v1"

// Sealer encrypts and decrypts short strings.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
	// KeyID identifies the key so rows sealed with an older key can be detected.
	KeyID() string
}

// AESSealer implements Sealer with AES-256-GCM; output is base64(nonce || ciphertext || tag).
type AESSealer struct {
	aead  cipher.AEAD
	keyID string
}

// NewAESSealer builds a sealer from a base64-encoded 32-byte key
// (generate one with `openssl rand -base64 32`).
func NewAESSealer(base64Key, keyID string) (*AESSealer, error) {
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
	if keyID == "" {
		keyID = "default"
	}
	return &AESSealer{aead: aead, keyID: keyID}, nil
}

// KeyID returns the identifier recorded next to sealed rows.
func (s *AESSealer) KeyID() string { return s.keyID }

// Seal encrypts plaintext with a fresh random nonce. Empty input seals to empty output.
func (s *AESSealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Tampered, truncated or foreign-key values return ErrOpen.
func (s *AESSealer) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: base64: %v", ErrOpen, err)
	}
	n := s.aead.NonceSize()
	if len(raw) < n+s.aead.Overhead() {
		return "", fmt.Errorf("%w: too short (%d bytes)", ErrOpen, len(raw))
	}
	plain, err := s.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		// Deliberately vague: do not leak which check failed.
		return "", ErrOpen
	}
	return string(plain), nil
}
