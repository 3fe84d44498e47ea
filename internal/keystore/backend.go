package keystore

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/tinywideclouds/go-push-receiver/internal/encryption"
)

// ErrNoSuchKey is returned by a Backend for an alias it does not hold.
var ErrNoSuchKey = errors.New("keystore: no such key")

// Backend is the secure boundary that holds key material. Raw bytes leave it
// only through Export; Open hands out an opaque handle.
type Backend interface {
	Generate(ctx context.Context, alias string) error
	Exists(ctx context.Context, alias string) (bool, error)
	Open(ctx context.Context, alias string) (*encryption.Key, error)
	Export(ctx context.Context, alias string) ([]byte, error)
}

// MemoryBackend keeps keys in process memory. Keys do not survive a restart.
type MemoryBackend struct {
	mu   sync.RWMutex
	keys map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{keys: make(map[string][]byte)}
}

func (b *MemoryBackend) Generate(_ context.Context, alias string) error {
	raw, err := encryption.GenerateRaw()
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keys[alias] = raw
	return nil
}

func (b *MemoryBackend) Exists(_ context.Context, alias string) (bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.keys[alias]
	return ok, nil
}

func (b *MemoryBackend) Open(_ context.Context, alias string) (*encryption.Key, error) {
	b.mu.RLock()
	raw, ok := b.keys[alias]
	b.mu.RUnlock()
	if !ok {
		return nil, ErrNoSuchKey
	}
	return encryption.NewKey(alias, raw)
}

func (b *MemoryBackend) Export(_ context.Context, alias string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	raw, ok := b.keys[alias]
	if !ok {
		return nil, ErrNoSuchKey
	}
	return append([]byte(nil), raw...), nil
}

// Argon2Params is the cost of deriving the key-encryption key. It is stored
// next to each sealed key so files stay readable after a policy change.
type Argon2Params struct {
	Time    uint32 `json:"t"`
	Memory  uint32 `json:"m"` // KiB
	Threads uint8  `json:"p"`
}

// DefaultArgon2Params is the policy for newly sealed keys.
var DefaultArgon2Params = Argon2Params{Time: 3, Memory: 64 * 1024, Threads: 1}

type sealedKey struct {
	Version int          `json:"v"`
	Params  Argon2Params `json:"kdf"`
	Salt    []byte       `json:"salt"`
	Nonce   []byte       `json:"nonce"`
	Sealed  []byte       `json:"sealed"`
}

var aliasPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// SealedFileBackend stores each key in <dir>/<alias>.key, sealed with
// XChaCha20-Poly1305 under a key derived from the host's master secret.
// The alias is bound as additional data so files cannot be swapped.
type SealedFileBackend struct {
	dir    string
	secret []byte
	params Argon2Params
}

// NewSealedFileBackend creates the directory if needed. The secret is
// whatever the host can keep out of the state directory.
func NewSealedFileBackend(dir string, secret []byte, params Argon2Params) (*SealedFileBackend, error) {
	if len(secret) == 0 {
		return nil, errors.New("keystore: sealed backend requires a master secret")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create key directory: %w", err)
	}
	return &SealedFileBackend{
		dir:    dir,
		secret: append([]byte(nil), secret...),
		params: params,
	}, nil
}

func (b *SealedFileBackend) path(alias string) (string, error) {
	if !aliasPattern.MatchString(alias) {
		return "", fmt.Errorf("keystore: invalid alias %q", alias)
	}
	return filepath.Join(b.dir, alias+".key"), nil
}

func (b *SealedFileBackend) kek(salt []byte, p Argon2Params) []byte {
	return argon2.IDKey(b.secret, salt, p.Time, p.Memory, p.Threads, chacha20poly1305.KeySize)
}

func (b *SealedFileBackend) Generate(_ context.Context, alias string) error {
	path, err := b.path(alias)
	if err != nil {
		return err
	}
	raw, err := encryption.GenerateRaw()
	if err != nil {
		return err
	}
	defer clear(raw)

	rec := sealedKey{
		Version: 1,
		Params:  b.params,
		Salt:    make([]byte, 16),
		Nonce:   make([]byte, chacha20poly1305.NonceSizeX),
	}
	if _, err := io.ReadFull(rand.Reader, rec.Salt); err != nil {
		return err
	}
	if _, err := io.ReadFull(rand.Reader, rec.Nonce); err != nil {
		return err
	}
	aead, err := chacha20poly1305.NewX(b.kek(rec.Salt, rec.Params))
	if err != nil {
		return err
	}
	rec.Sealed = aead.Seal(nil, rec.Nonce, raw, []byte(alias))

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write sealed key: %w", err)
	}
	return os.Rename(tmp, path)
}

func (b *SealedFileBackend) Exists(_ context.Context, alias string) (bool, error) {
	path, err := b.path(alias)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (b *SealedFileBackend) unseal(alias string) ([]byte, error) {
	path, err := b.path(alias)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSuchKey
	}
	if err != nil {
		return nil, err
	}
	var rec sealedKey
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("keystore: corrupt key file: %w", err)
	}
	aead, err := chacha20poly1305.NewX(b.kek(rec.Salt, rec.Params))
	if err != nil {
		return nil, err
	}
	raw, err := aead.Open(nil, rec.Nonce, rec.Sealed, []byte(alias))
	if err != nil {
		return nil, fmt.Errorf("keystore: failed to unseal %q: %w", alias, encryption.ErrAuthentication)
	}
	return raw, nil
}

func (b *SealedFileBackend) Open(_ context.Context, alias string) (*encryption.Key, error) {
	raw, err := b.unseal(alias)
	if err != nil {
		return nil, err
	}
	defer clear(raw)
	return encryption.NewKey(alias, raw)
}

func (b *SealedFileBackend) Export(_ context.Context, alias string) ([]byte, error) {
	return b.unseal(alias)
}

// LoadOrCreateSecret reads the master secret at path, creating a random one
// on first use. It lets a sealed backend run on hosts that provide no secret
// of their own; the keys then outlive restarts but not loss of the file.
func LoadOrCreateSecret(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) == 0 {
			return nil, fmt.Errorf("keystore: secret file %s is empty", path)
		}
		return data, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read secret file: %w", err)
	}

	secret := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create secret directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, secret, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write secret file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, fmt.Errorf("failed to write secret file: %w", err)
	}
	return secret, nil
}
