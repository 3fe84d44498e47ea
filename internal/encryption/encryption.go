// Package encryption provides the authenticated cipher shared by push payloads
// and locally stored credentials: AES-256-GCM with a random nonce prefix.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// KeySize is the length of raw key material in bytes.
const KeySize = 32

const nonceSize = 12

var (
	// ErrAuthentication is returned for any ciphertext that cannot be opened:
	// tampered, truncated, badly encoded or sealed under a different key.
	ErrAuthentication = errors.New("encryption: message authentication failed")
	// ErrKeySize is returned when raw key material has the wrong length.
	ErrKeySize = errors.New("encryption: invalid key size")
)

// Key is an opaque handle to a device key. It exposes no key bytes; the raw
// material is consumed when the handle is built.
type Key struct {
	alias string
	aead  cipher.AEAD
}

// NewKey builds a handle from raw key material. The caller should zero raw
// afterwards if it owns it.
func NewKey(alias string, raw []byte) (*Key, error) {
	if len(raw) != KeySize {
		return nil, fmt.Errorf("%w: got %d bytes", ErrKeySize, len(raw))
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to create block cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}
	return &Key{alias: alias, aead: aead}, nil
}

// GenerateRaw returns fresh random key material.
func GenerateRaw() ([]byte, error) {
	raw := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return nil, fmt.Errorf("failed to read random key: %w", err)
	}
	return raw, nil
}

// Alias names the key inside its backend.
func (k *Key) Alias() string {
	return k.alias
}

// Encrypt seals plaintext as nonce || ciphertext || tag.
func Encrypt(key *Key, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, nonceSize, nonceSize+len(plaintext)+key.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to read nonce: %w", err)
	}
	return key.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a value produced by Encrypt.
func Decrypt(key *Key, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < nonceSize+key.aead.Overhead() {
		return nil, ErrAuthentication
	}
	plaintext, err := key.aead.Open(nil, ciphertext[:nonceSize], ciphertext[nonceSize:], nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

// EncryptString seals plaintext and applies the base64 transport encoding.
func EncryptString(key *Key, plaintext string) (string, error) {
	sealed, err := Encrypt(key, []byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString reverses EncryptString. Input that is not valid base64 is
// reported as ErrAuthentication like any other untrusted garbage.
func DecryptString(key *Key, encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: bad transport encoding", ErrAuthentication)
	}
	plaintext, err := Decrypt(key, sealed)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
