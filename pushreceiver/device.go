package pushreceiver

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-push-receiver/internal/keystore"
)

// DeviceIDPreference is the preferences key of the installation's device id.
const DeviceIDPreference = "device_id"

// EnsureDeviceID returns the device id, creating and persisting one on first run.
func EnsureDeviceID(ctx context.Context, prefs keystore.Preferences) (string, error) {
	id, ok, err := prefs.Get(ctx, DeviceIDPreference)
	if err != nil {
		return "", fmt.Errorf("failed to read device id: %w", err)
	}
	if ok && id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := prefs.Set(ctx, DeviceIDPreference, id); err != nil {
		return "", fmt.Errorf("failed to persist device id: %w", err)
	}
	return id, nil
}
