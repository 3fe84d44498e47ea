// Package credentials stores the server login of the device. The password is
// sealed with a local key before it reaches the preferences store.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/tinywideclouds/go-push-receiver/internal/encryption"
	"github.com/tinywideclouds/go-push-receiver/internal/keystore"
)

const (
	PrefServerURL = "server_url"
	PrefUsername  = "username"
	PrefPassword  = "password"
)

var (
	// ErrNoCredentials is returned when no usable credentials are stored.
	ErrNoCredentials = errors.New("credentials: not configured")
	// ErrInvalid is returned by Save for incomplete or malformed input.
	ErrInvalid = errors.New("credentials: invalid")
)

// Credentials is a server login.
type Credentials struct {
	ServerURL string `json:"server_url"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

// Preferences is the key/value store credentials are kept in.
type Preferences interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// KeySource hands out the key that seals the password.
type KeySource interface {
	GetOrCreateKey(ctx context.Context) (*encryption.Key, error)
	ExistingKey(ctx context.Context) (*encryption.Key, error)
}

type Store struct {
	prefs  Preferences
	keys   KeySource
	logger *slog.Logger
}

func NewStore(prefs Preferences, keys KeySource, logger *slog.Logger) *Store {
	return &Store{prefs: prefs, keys: keys, logger: logger.With("component", "CredentialStore")}
}

// Save validates and stores c, replacing any previous login.
func (s *Store) Save(ctx context.Context, c Credentials) error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: server_url must be an absolute http(s) url", ErrInvalid)
	}
	if c.Username == "" || c.Password == "" {
		return fmt.Errorf("%w: username and password are required", ErrInvalid)
	}

	key, err := s.keys.GetOrCreateKey(ctx)
	if err != nil {
		return fmt.Errorf("failed to get credentials key: %w", err)
	}
	sealed, err := encryption.EncryptString(key, c.Password)
	if err != nil {
		return fmt.Errorf("failed to seal password: %w", err)
	}

	for _, kv := range [][2]string{
		{PrefServerURL, strings.TrimRight(c.ServerURL, "/")},
		{PrefUsername, c.Username},
		{PrefPassword, sealed},
	} {
		if err := s.prefs.Set(ctx, kv[0], kv[1]); err != nil {
			return fmt.Errorf("failed to store %s: %w", kv[0], err)
		}
	}
	s.logger.Info("Stored credentials", "server_url", c.ServerURL, "username", c.Username)
	return nil
}

// Load returns the stored login. A password that can no longer be unsealed
// is reported as ErrNoCredentials.
func (s *Store) Load(ctx context.Context) (Credentials, error) {
	var c Credentials
	var sealed string
	for _, f := range []struct {
		key  string
		dest *string
	}{
		{PrefServerURL, &c.ServerURL},
		{PrefUsername, &c.Username},
		{PrefPassword, &sealed},
	} {
		v, ok, err := s.prefs.Get(ctx, f.key)
		if err != nil {
			return Credentials{}, fmt.Errorf("failed to read %s: %w", f.key, err)
		}
		if !ok || v == "" {
			return Credentials{}, ErrNoCredentials
		}
		*f.dest = v
	}

	key, err := s.keys.ExistingKey(ctx)
	if err != nil {
		s.logger.Error("Credentials key unavailable", "err", err)
		return Credentials{}, ErrNoCredentials
	}
	password, err := encryption.DecryptString(key, sealed)
	if err != nil {
		s.logger.Error("Failed to decrypt password", "err", err)
		return Credentials{}, ErrNoCredentials
	}
	c.Password = password
	return c, nil
}

// DropUnreadable clears a stored password that can never be unsealed again
// because its key is gone or it fails authentication. The server url and
// username stay so the login can be re-entered. It reports whether anything
// was cleared; storage errors leave the password in place.
func (s *Store) DropUnreadable(ctx context.Context) (bool, error) {
	sealed, ok, err := s.prefs.Get(ctx, PrefPassword)
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", PrefPassword, err)
	}
	if !ok || sealed == "" {
		return false, nil
	}

	key, err := s.keys.ExistingKey(ctx)
	switch {
	case errors.Is(err, keystore.ErrKeyUnavailable):
	case err != nil:
		return false, fmt.Errorf("failed to get credentials key: %w", err)
	default:
		if _, derr := encryption.DecryptString(key, sealed); derr == nil {
			return false, nil
		}
	}

	if err := s.prefs.Set(ctx, PrefPassword, ""); err != nil {
		return false, fmt.Errorf("failed to clear %s: %w", PrefPassword, err)
	}
	s.logger.Warn("Stored password can no longer be unsealed and was cleared; credentials must be entered again")
	return true, nil
}

// ServerURL returns the stored server url without touching the password.
func (s *Store) ServerURL(ctx context.Context) (string, error) {
	v, ok, err := s.prefs.Get(ctx, PrefServerURL)
	if err != nil {
		return "", err
	}
	if !ok || v == "" {
		return "", ErrNoCredentials
	}
	return v, nil
}
