// Package keystore owns the device's push-encryption key. The key lives in a
// Backend; only its alias is written to the preferences store.
package keystore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-push-receiver/internal/encryption"
)

// AliasPreference is the default preferences key holding the backend alias.
const AliasPreference = "push_encryption_key_alias"

var (
	// ErrKeyUnavailable is returned by lookups when no key was ever created.
	ErrKeyUnavailable = errors.New("keystore: push encryption key unavailable")
	// ErrPushUnavailable is returned when a key cannot be created at all.
	// Push delivery is then disabled for the installation.
	ErrPushUnavailable = errors.New("keystore: push encryption unavailable")
)

// Preferences is the small key/value store the alias is kept in.
type Preferences interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// KeyStore hands out the device key. It is safe for concurrent use.
type KeyStore struct {
	backend   Backend
	prefs     Preferences
	aliasPref string
	logger    *slog.Logger

	mu       sync.Mutex
	key      *encryption.Key
	exported map[string][]byte
}

// Option configures a KeyStore.
type Option func(*KeyStore)

// WithAliasPreference stores the alias under name, so one preferences store
// can hold several independent keys.
func WithAliasPreference(name string) Option {
	return func(s *KeyStore) {
		s.aliasPref = name
	}
}

func New(backend Backend, prefs Preferences, logger *slog.Logger, opts ...Option) *KeyStore {
	s := &KeyStore{
		backend:   backend,
		prefs:     prefs,
		aliasPref: AliasPreference,
		exported:  make(map[string][]byte),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = logger.With("component", "KeyStore", "key", s.aliasPref)
	return s
}

// GetOrCreateKey returns the device key, generating it on first use.
// Repeated calls return the same key.
func (s *KeyStore) GetOrCreateKey(ctx context.Context) (*encryption.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, err := s.lookupLocked(ctx)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, ErrKeyUnavailable) {
		return nil, err
	}

	alias := uuid.NewString()
	if err := s.backend.Generate(ctx, alias); err != nil {
		s.logger.Error("Failed to generate push encryption key", "err", err)
		return nil, fmt.Errorf("%w: %v", ErrPushUnavailable, err)
	}
	key, err = s.backend.Open(ctx, alias)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPushUnavailable, err)
	}
	if err := s.prefs.Set(ctx, s.aliasPref, alias); err != nil {
		return nil, fmt.Errorf("failed to persist key alias: %w", err)
	}
	s.logger.Info("Generated push encryption key", "alias", alias)
	s.key = key
	return key, nil
}

// ExistingKey returns the device key without ever creating one.
func (s *KeyStore) ExistingKey(ctx context.Context) (*encryption.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookupLocked(ctx)
}

func (s *KeyStore) lookupLocked(ctx context.Context) (*encryption.Key, error) {
	if s.key != nil {
		return s.key, nil
	}
	alias, ok, err := s.prefs.Get(ctx, s.aliasPref)
	if err != nil {
		return nil, fmt.Errorf("failed to read key alias: %w", err)
	}
	if !ok || alias == "" {
		return nil, ErrKeyUnavailable
	}
	exists, err := s.backend.Exists(ctx, alias)
	if err != nil {
		return nil, fmt.Errorf("failed to query key backend: %w", err)
	}
	if !exists {
		s.logger.Warn("Key alias is recorded but the backend has no key", "alias", alias)
		return nil, ErrKeyUnavailable
	}
	key, err := s.backend.Open(ctx, alias)
	if err != nil {
		return nil, fmt.Errorf("failed to open key %q: %w", alias, err)
	}
	s.key = key
	return key, nil
}

// DropStaleAlias clears a recorded alias whose key the backend no longer
// holds, as happens when a memory backend is restarted over durable
// preferences. It reports whether an alias was cleared.
func (s *KeyStore) DropStaleAlias(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	alias, ok, err := s.prefs.Get(ctx, s.aliasPref)
	if err != nil {
		return false, fmt.Errorf("failed to read key alias: %w", err)
	}
	if !ok || alias == "" {
		return false, nil
	}
	exists, err := s.backend.Exists(ctx, alias)
	if err != nil {
		return false, fmt.Errorf("failed to query key backend: %w", err)
	}
	if exists {
		return false, nil
	}
	if err := s.prefs.Set(ctx, s.aliasPref, ""); err != nil {
		return false, fmt.Errorf("failed to clear key alias: %w", err)
	}
	s.key = nil
	s.logger.Warn("Cleared key alias with no backing key; a new key will be generated", "alias", alias)
	return true, nil
}

// ExportPortable returns the raw key bytes for registration with the server.
// The backend is asked once per key; later calls get the same bytes.
func (s *KeyStore) ExportPortable(ctx context.Context, key *encryption.Key) ([]byte, error) {
	if key == nil {
		return nil, ErrKeyUnavailable
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if raw, ok := s.exported[key.Alias()]; ok {
		return append([]byte(nil), raw...), nil
	}
	raw, err := s.backend.Export(ctx, key.Alias())
	if err != nil {
		return nil, fmt.Errorf("failed to export key: %w", err)
	}
	s.exported[key.Alias()] = raw
	return append([]byte(nil), raw...), nil
}
