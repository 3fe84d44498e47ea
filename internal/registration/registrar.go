// Package registration tells the server where to deliver pushes for this
// device: the latest push token and the portable device key.
package registration

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tinywideclouds/go-push-receiver/internal/credentials"
	"github.com/tinywideclouds/go-push-receiver/internal/encryption"
)

// TokenPreference is the preferences key of the last received push token.
const TokenPreference = "push_token"

var errSuperseded = errors.New("registration: superseded by a newer token")

// Server accepts device registrations.
type Server interface {
	Register(ctx context.Context, creds credentials.Credentials, req Request) error
}

// TokenSource is the token broadcaster as seen by the registrar.
type TokenSource interface {
	Subscribe(ctx context.Context) <-chan string
	Latest() (string, uint64)
}

// KeyExporter creates the device key on first need and exports it.
type KeyExporter interface {
	GetOrCreateKey(ctx context.Context) (*encryption.Key, error)
	ExportPortable(ctx context.Context, key *encryption.Key) ([]byte, error)
}

// CredentialSource loads the server login.
type CredentialSource interface {
	Load(ctx context.Context) (credentials.Credentials, error)
}

// TokenStore persists the last token.
type TokenStore interface {
	Set(ctx context.Context, key, value string) error
}

// Config holds the retry policy of a Registrar.
type Config struct {
	DeviceID        string
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

type Registrar struct {
	tokens  TokenSource
	keys    KeyExporter
	creds   CredentialSource
	server  Server
	store   TokenStore
	cfg     Config
	refresh chan struct{}
	logger  *slog.Logger
}

func NewRegistrar(
	cfg Config,
	tokens TokenSource,
	keys KeyExporter,
	creds CredentialSource,
	server Server,
	store TokenStore,
	logger *slog.Logger,
) *Registrar {
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 5 * time.Minute
	}
	return &Registrar{
		tokens:  tokens,
		keys:    keys,
		creds:   creds,
		server:  server,
		store:   store,
		cfg:     cfg,
		refresh: make(chan struct{}, 1),
		logger:  logger.With("component", "Registrar"),
	}
}

// Refresh asks for the current token to be registered again, for example
// after the credentials changed. It never blocks.
func (r *Registrar) Refresh() {
	select {
	case r.refresh <- struct{}{}:
	default:
	}
}

// Run registers every new token until ctx ends. It returns ctx.Err().
func (r *Registrar) Run(ctx context.Context) error {
	tokens := r.tokens.Subscribe(ctx)
	var current string
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case t, ok := <-tokens:
			if !ok {
				return ctx.Err()
			}
			current = t
			if err := r.store.Set(ctx, TokenPreference, t); err != nil {
				r.logger.Warn("Failed to persist push token", "err", err)
			}
		case <-r.refresh:
			if current == "" {
				continue
			}
		}

		err := r.registerWithRetry(ctx, current)
		switch {
		case err == nil:
			r.logger.Info("Registered push token")
		case errors.Is(err, errSuperseded), errors.Is(err, context.Canceled):
			r.logger.Debug("Registration abandoned", "err", err)
		default:
			r.logger.Error("Registration failed permanently", "err", err)
		}
	}
}

func (r *Registrar) registerWithRetry(ctx context.Context, token string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.cfg.InitialInterval
	b.MaxInterval = r.cfg.MaxInterval
	b.MaxElapsedTime = 0

	op := func() error {
		if latest, _ := r.tokens.Latest(); latest != token {
			return backoff.Permanent(errSuperseded)
		}
		return r.Register(ctx, token)
	}
	notify := func(err error, next time.Duration) {
		r.logger.Warn("Registration attempt failed", "err", err, "retry_in", next)
	}
	return backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify)
}

// Register performs one registration attempt for token.
func (r *Registrar) Register(ctx context.Context, token string) error {
	creds, err := r.creds.Load(ctx)
	if err != nil {
		return fmt.Errorf("no credentials: %w", err)
	}
	key, err := r.keys.GetOrCreateKey(ctx)
	if err != nil {
		return backoff.Permanent(err)
	}
	raw, err := r.keys.ExportPortable(ctx, key)
	if err != nil {
		return backoff.Permanent(err)
	}

	return r.server.Register(ctx, creds, Request{
		Type:       "fcm",
		DeviceID:   r.cfg.DeviceID,
		Token:      token,
		Encryption: Encryption{Key: base64.StdEncoding.EncodeToString(raw)},
	})
}
