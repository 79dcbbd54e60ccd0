// Package vault provides symmetric encryption for provider credential blobs.
// Ciphertext is opaque to the store; the key lives only in process memory.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNoKey is returned when the vault was constructed without a key.
	// All secret writes fail closed in that state.
	ErrNoKey = errors.New("vault: encryption key not configured")

	// ErrCiphertext is returned for malformed or tampered ciphertext.
	ErrCiphertext = errors.New("vault: invalid ciphertext")
)

// Vault encrypts and decrypts structs with AES-256-GCM.
type Vault struct {
	aead cipher.AEAD
}

// New derives a 256-bit key from the configured secret. An empty secret
// yields a closed vault: every operation returns ErrNoKey.
func New(secret string) *Vault {
	if secret == "" {
		return &Vault{}
	}

	// SHA-256 of the configured secret gives a uniform 32-byte key
	// regardless of how the operator formatted it.
	key := sha256.Sum256([]byte(secret))

	block, err := aes.NewCipher(key[:])
	if err != nil {
		// aes.NewCipher only fails on bad key sizes; 32 bytes is always valid.
		return &Vault{}
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return &Vault{}
	}
	return &Vault{aead: aead}
}

// Ready reports whether the vault holds a usable key.
func (v *Vault) Ready() bool { return v.aead != nil }

// Encrypt serializes value as JSON and seals it. The returned string is
// base64(nonce || ciphertext).
func (v *Vault) Encrypt(value interface{}) (string, error) {
	if v.aead == nil {
		return "", ErrNoKey
	}

	plain, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("vault: marshal: %w", err)
	}

	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: nonce: %w", err)
	}

	sealed := v.aead.Seal(nonce, nonce, plain, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a ciphertext produced by Encrypt and unmarshals it into out.
func (v *Vault) Decrypt(cipherText string, out interface{}) error {
	if v.aead == nil {
		return ErrNoKey
	}

	raw, err := base64.StdEncoding.DecodeString(cipherText)
	if err != nil {
		return ErrCiphertext
	}
	if len(raw) < v.aead.NonceSize() {
		return ErrCiphertext
	}

	nonce, sealed := raw[:v.aead.NonceSize()], raw[v.aead.NonceSize():]
	plain, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return ErrCiphertext
	}

	if err := json.Unmarshal(plain, out); err != nil {
		return fmt.Errorf("vault: unmarshal: %w", err)
	}
	return nil
}
