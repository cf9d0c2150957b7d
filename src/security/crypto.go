package security

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

const cipherPrefix = "v1:"

var (
	ErrMissingKey    = errors.New("credentials encryption key is not configured")
	ErrInvalidKey    = errors.New("credentials encryption key must be 32 bytes")
	ErrMalformedData = errors.New("malformed encrypted value")
)

// Cipher encrypts credentials at rest with XChaCha20-Poly1305.
// Encrypted values look like "v1:<base64(nonce|ciphertext)>".
type Cipher struct {
	key []byte
}

// NewCipher builds a cipher from a base64 encoded 32 byte key.
func NewCipher(keyB64 string) (*Cipher, error) {
	if strings.TrimSpace(keyB64) == "" {
		return nil, ErrMissingKey
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(keyB64))
	if err != nil {
		return nil, fmt.Errorf("decode credentials key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKey
	}
	return &Cipher{key: key}, nil
}

// NewCipherFromEnv reads EXCHANGE_CREDENTIALS_KEY.
func NewCipherFromEnv() (*Cipher, error) {
	return NewCipher(GetConfig().ExchangeCRKey)
}

func (c *Cipher) EncryptString(plain string) (string, error) {
	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plain)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plain), nil)
	return cipherPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString reverses EncryptString. Empty input decrypts to an empty string.
func (c *Cipher) DecryptString(encrypted string) (string, error) {
	if encrypted == "" {
		return "", nil
	}
	if !strings.HasPrefix(encrypted, cipherPrefix) {
		return "", ErrMalformedData
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(encrypted, cipherPrefix))
	if err != nil {
		return "", ErrMalformedData
	}

	aead, err := chacha20poly1305.NewX(c.key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", ErrMalformedData
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt credentials: %w", err)
	}
	return string(plain), nil
}

// Mask keeps the last four characters of a secret for display.
func Mask(secret string) string {
	if len(secret) <= 4 {
		return strings.Repeat("*", len(secret))
	}
	return strings.Repeat("*", len(secret)-4) + secret[len(secret)-4:]
}
