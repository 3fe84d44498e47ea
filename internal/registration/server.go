package registration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cenkalti/backoff/v4"

	"github.com/tinywideclouds/go-push-receiver/internal/credentials"
)

// DefaultPath is where the server accepts push registrations.
const DefaultPath = "/_gomuks/push/fcm"

// Request is the registration body.
type Request struct {
	Type       string     `json:"type"`
	DeviceID   string     `json:"device_id"`
	Token      string     `json:"token"`
	Encryption Encryption `json:"encryption"`
}

// Encryption carries the portable device key, base64 standard encoded.
type Encryption struct {
	Key string `json:"key"`
}

// HTTPServer registers devices with a gomuks-style backend over HTTP.
type HTTPServer struct {
	client *http.Client
	path   string
}

func NewHTTPServer(client *http.Client, path string) *HTTPServer {
	if client == nil {
		client = http.DefaultClient
	}
	if path == "" {
		path = DefaultPath
	}
	return &HTTPServer{client: client, path: path}
}

// Register posts req with basic auth. Client errors other than 429 are
// permanent and stop the retry loop.
func (s *HTTPServer) Register(ctx context.Context, creds credentials.Credentials, req Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return backoff.Permanent(err)
	}
	target := strings.TrimRight(creds.ServerURL, "/") + "/" + strings.TrimLeft(s.path, "/")
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(creds.Username, creds.Password)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("registration failed with status %d", resp.StatusCode)
	default:
		return backoff.Permanent(fmt.Errorf("registration rejected with status %d", resp.StatusCode))
	}
}
