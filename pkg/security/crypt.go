package security

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

var hkdfSalt = []byte("accounts")

// ErrMalformedCiphertext is returned when a token cannot be decrypted
var ErrMalformedCiphertext = errors.New("malformed ciphertext")

// Encryptor seals small payloads into URL-safe strings
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor derives a 256-bit key for info from rootKey
func NewEncryptor(rootKey, info string) (*Encryptor, error) {
	if rootKey == "" {
		return nil, fmt.Errorf("root key is required")
	}

	reader := hkdf.New(sha256.New, []byte(rootKey), hkdfSalt, []byte(info))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

// Encrypt returns base64url(nonce || ciphertext)
func (e *Encryptor) Encrypt(plaintext []byte) (string, error) {
	nonce := make([]byte, e.aead.NonceSize(), e.aead.NonceSize()+len(plaintext)+e.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := e.aead.Seal(nonce, nonce, plaintext, nil)
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt
func (e *Encryptor) Decrypt(token string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, ErrMalformedCiphertext
	}
	if len(raw) < e.aead.NonceSize()+e.aead.Overhead() {
		return nil, ErrMalformedCiphertext
	}
	nonce, ciphertext := raw[:e.aead.NonceSize()], raw[e.aead.NonceSize():]
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrMalformedCiphertext
	}
	return plaintext, nil
}
