// Package pipeline turns opaque push deliveries into validated notification
// batches and hands them to the router. Anything that cannot be
// authenticated or parsed is dropped here and never reaches the user.
package pipeline

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tinywideclouds/go-push-receiver/internal/encryption"
	"github.com/tinywideclouds/go-push-receiver/pkg/notification"
)

// PayloadField is the data key carrying the encrypted batch.
const PayloadField = "payload"

// ErrMissingPayload is returned for deliveries without a payload field.
var ErrMissingPayload = errors.New("pipeline: delivery has no payload")

// RemoteMessage is a delivery as the push relay hands it over. Every field
// other than data.payload is untrusted and ignored.
type RemoteMessage struct {
	Data map[string]string `json:"data"`
}

// KeySource looks up the device key without creating one.
type KeySource interface {
	ExistingKey(ctx context.Context) (*encryption.Key, error)
}

// Decoder authenticates, decrypts and parses deliveries.
type Decoder struct {
	keys   KeySource
	logger *slog.Logger
}

func NewDecoder(keys KeySource, logger *slog.Logger) *Decoder {
	return &Decoder{keys: keys, logger: logger.With("component", "PayloadDecoder")}
}

// Decode returns the validated batch of a delivery. Every failure is logged
// at warn level and returned; the plaintext is never logged.
func (d *Decoder) Decode(ctx context.Context, msg RemoteMessage) (*notification.Batch, error) {
	payload, ok := msg.Data[PayloadField]
	if !ok || payload == "" {
		d.logger.Warn("Dropping push: no payload")
		return nil, ErrMissingPayload
	}
	key, err := d.keys.ExistingKey(ctx)
	if err != nil {
		d.logger.Warn("Dropping push: no device key", "err", err)
		return nil, err
	}
	batch, err := DecodePayload(key, payload)
	if err != nil {
		d.logger.Warn("Dropping push: undecodable payload", "err", err)
		return nil, err
	}
	d.logger.Debug("Decoded push", "messages", len(batch.Messages), "dismiss", len(batch.Dismiss))
	return batch, nil
}

// DecodePayload is the pure part of Decode: base64, then AES-GCM, then JSON.
func DecodePayload(key *encryption.Key, payload string) (*notification.Batch, error) {
	sealed, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: bad transport encoding", encryption.ErrAuthentication)
	}
	plaintext, err := encryption.Decrypt(key, sealed)
	if err != nil {
		return nil, err
	}
	var batch notification.Batch
	if err := json.Unmarshal(plaintext, &batch); err != nil {
		return nil, fmt.Errorf("%w: %v", notification.ErrSchema, err)
	}
	if err := batch.Validate(); err != nil {
		return nil, err
	}
	return &batch, nil
}

// EncodePayload seals a batch the way the server does. It exists for tools
// and tests that need to produce deliveries.
func EncodePayload(key *encryption.Key, batch *notification.Batch) (string, error) {
	plaintext, err := json.Marshal(batch)
	if err != nil {
		return "", err
	}
	return encryption.EncryptString(key, string(plaintext))
}
