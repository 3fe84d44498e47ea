// Package api is the local HTTP surface of the receiver: the push ingest
// endpoint, the platform token callback, credential setup and read-only
// listings of what is currently shown.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/tinywideclouds/go-microservice-base/pkg/response"

	"github.com/tinywideclouds/go-push-receiver/internal/credentials"
	"github.com/tinywideclouds/go-push-receiver/internal/pipeline"
	"github.com/tinywideclouds/go-push-receiver/internal/router"
	"github.com/tinywideclouds/go-push-receiver/pkg/surface"
)

// maxBodyBytes bounds every request body the API reads.
const maxBodyBytes = 1 << 20

// PushHandler decodes and routes a single delivery.
type PushHandler interface {
	Handle(ctx context.Context, msg pipeline.RemoteMessage) (router.Result, bool)
}

// TokenPublisher receives rotated push tokens.
type TokenPublisher interface {
	Publish(token string)
}

// CredentialSaver stores the server login.
type CredentialSaver interface {
	Save(ctx context.Context, c credentials.Credentials) error
}

// Refresher is poked after the credentials change.
type Refresher interface {
	Refresh()
}

type PushAPI struct {
	Pushes        PushHandler
	Tokens        TokenPublisher
	Credentials   CredentialSaver
	Registrar     Refresher
	Notifications surface.NotificationLister
	Shortcuts     surface.ShortcutLister
	Logger        *slog.Logger
}

// NewPushAPI creates the API. Either lister may be nil when the surface
// cannot enumerate its records.
func NewPushAPI(
	pushes PushHandler,
	tokens TokenPublisher,
	creds CredentialSaver,
	registrar Refresher,
	notifications surface.NotificationLister,
	shortcuts surface.ShortcutLister,
	logger *slog.Logger,
) *PushAPI {
	return &PushAPI{
		Pushes:        pushes,
		Tokens:        tokens,
		Credentials:   creds,
		Registrar:     registrar,
		Notifications: notifications,
		Shortcuts:     shortcuts,
		Logger:        logger.With("component", "PushAPI"),
	}
}

// Push accepts a delivery in the relay format. Once the body is read the
// answer is always 202: a payload that cannot be decoded is dropped, not
// rejected, so the relay never retries it.
func (api *PushAPI) Push(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	var msg pipeline.RemoteMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		api.Logger.Warn("Dropping push: body is not a relay message", "err", err)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	result, ok := api.Pushes.Handle(r.Context(), msg)
	if ok {
		api.Logger.Debug("Push routed", "posted", result.Posted, "cancelled", result.Cancelled, "suppressed", result.Suppressed)
	}
	w.WriteHeader(http.StatusAccepted)
}

type TokenRequest struct {
	Token string `json:"token"`
}

// UpdateToken is the platform's token rotation callback.
func (api *PushAPI) UpdateToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Token == "" {
		response.WriteJSONError(w, http.StatusBadRequest, "missing token")
		return
	}

	api.Tokens.Publish(req.Token)
	api.Logger.Info("Push token rotated")
	w.WriteHeader(http.StatusNoContent)
}

// SaveCredentials stores the server login and re-registers the current token.
func (api *PushAPI) SaveCredentials(w http.ResponseWriter, r *http.Request) {
	var req credentials.Credentials
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		response.WriteJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := api.Credentials.Save(r.Context(), req); err != nil {
		if errors.Is(err, credentials.ErrInvalid) {
			response.WriteJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		api.Logger.Error("Failed to save credentials", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "storage failed")
		return
	}

	if api.Registrar != nil {
		api.Registrar.Refresh()
	}
	api.Logger.Info("Credentials saved", "server_url", req.ServerURL, "username", req.Username)
	w.WriteHeader(http.StatusNoContent)
}

func (api *PushAPI) ListNotifications(w http.ResponseWriter, r *http.Request) {
	if api.Notifications == nil {
		response.WriteJSONError(w, http.StatusNotImplemented, "surface cannot list notifications")
		return
	}
	list, err := api.Notifications.Notifications(r.Context())
	if err != nil {
		api.Logger.Error("Failed to list notifications", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	if list == nil {
		list = []surface.Notification{}
	}
	writeJSON(w, list)
}

func (api *PushAPI) ListShortcuts(w http.ResponseWriter, r *http.Request) {
	if api.Shortcuts == nil {
		response.WriteJSONError(w, http.StatusNotImplemented, "surface cannot list shortcuts")
		return
	}
	list, err := api.Shortcuts.Shortcuts(r.Context())
	if err != nil {
		api.Logger.Error("Failed to list shortcuts", "err", err)
		response.WriteJSONError(w, http.StatusInternalServerError, "listing failed")
		return
	}
	if list == nil {
		list = []surface.Shortcut{}
	}
	writeJSON(w, list)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(v)
}
