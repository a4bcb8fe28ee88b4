package storage

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"authflow/core"

	"golang.org/x/crypto/hkdf"
)

var (
	ErrInvalidEncryptionKey = errors.New("encryption key must not be empty")
	ErrInvalidCiphertext    = errors.New("invalid ciphertext")
)

const hkdfInfo = "authflow local storage v1"

// EncryptedStorage seals every value with AES-256-GCM before handing it to
// the wrapped storage. Keys are stored in the clear.
type EncryptedStorage struct {
	inner core.Storage
	aead  cipher.AEAD
}

// NewEncryptedStorage derives a 32-byte AES key from secret with HKDF-SHA256.
func NewEncryptedStorage(inner core.Storage, secret string) (*EncryptedStorage, error) {
	if secret == "" {
		return nil, ErrInvalidEncryptionKey
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &EncryptedStorage{inner: inner, aead: gcm}, nil
}

func (e *EncryptedStorage) GetItem(ctx context.Context, key string) (string, error) {
	sealed, err := e.inner.GetItem(ctx, key)
	if err != nil {
		return "", err
	}
	return e.open(key, sealed)
}

func (e *EncryptedStorage) SetItem(ctx context.Context, key, value string) error {
	sealed, err := e.seal(key, value)
	if err != nil {
		return err
	}
	return e.inner.SetItem(ctx, key, sealed)
}

func (e *EncryptedStorage) RemoveItem(ctx context.Context, key string) error {
	return e.inner.RemoveItem(ctx, key)
}

// seal binds the ciphertext to its key through the additional data, so a
// value copied under another key fails to open.
func (e *EncryptedStorage) seal(key, plaintext string) (string, error) {
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := e.aead.Seal(nonce, nonce, []byte(plaintext), []byte(key))

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (e *EncryptedStorage) open(key, sealed string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}

	nonceSize := e.aead.NonceSize()
	if len(data) < nonceSize {
		return "", ErrInvalidCiphertext
	}

	nonce, cipherbytes := data[:nonceSize], data[nonceSize:]

	plaintext, err := e.aead.Open(nil, nonce, cipherbytes, []byte(key))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}

	return string(plaintext), nil
}
