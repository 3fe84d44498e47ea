// Package avatar fetches conversation and participant images for
// notifications. Failures are logged and yield the default icon; they never
// hold up a notification.
package avatar

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/tinywideclouds/go-push-receiver/pkg/surface"
)

// AuthParam is the query parameter carrying the image token.
const AuthParam = "image_auth"

var errNoServer = errors.New("avatar: relative reference without a server url")

// ServerURLSource yields the server that relative references resolve against.
type ServerURLSource interface {
	ServerURL(ctx context.Context) (string, error)
}

// Options configure a Fetcher.
type Options struct {
	// Size is the edge of the square icon images are filled to.
	Size int
	// Timeout bounds one fetch.
	Timeout time.Duration
	// MaxBytes caps the response body.
	MaxBytes int64
}

// Fetcher downloads and fits avatars. It performs no retries.
type Fetcher struct {
	client  *http.Client
	servers ServerURLSource
	opts    Options
	logger  *slog.Logger
}

func NewFetcher(client *http.Client, servers ServerURLSource, opts Options, logger *slog.Logger) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if opts.Size <= 0 {
		opts.Size = 128
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 5 << 20
	}
	return &Fetcher{client: client, servers: servers, opts: opts, logger: logger.With("component", "AvatarFetcher")}
}

// Fetch returns the fitted image for ref, or nil on any failure.
func (f *Fetcher) Fetch(ctx context.Context, ref, authToken string) image.Image {
	if ref == "" {
		return nil
	}
	target, err := f.Resolve(ctx, ref)
	if err != nil {
		f.logger.Debug("Avatar not resolvable", "err", err)
		return nil
	}
	if authToken != "" && f.isServer(ctx, target) {
		q := target.Query()
		q.Set(AuthParam, authToken)
		target.RawQuery = q.Encode()
	}

	img, err := f.download(ctx, target.String())
	if err != nil {
		// Never log target: its query carries the image token.
		f.logger.Warn("Avatar fetch failed", "host", target.Host, "err", err)
		return nil
	}
	return imaging.Fill(img, f.opts.Size, f.opts.Size, imaging.Center, imaging.Lanczos)
}

// Icon is Fetch encoded for a notification surface.
func (f *Fetcher) Icon(ctx context.Context, ref, authToken string) surface.Icon {
	img := f.Fetch(ctx, ref, authToken)
	if img == nil {
		return surface.Icon{}
	}
	icon, err := encodeIcon(img)
	if err != nil {
		f.logger.Warn("Avatar encode failed", "err", err)
		return surface.Icon{}
	}
	return icon
}

// Resolve turns ref into an absolute URL without the auth token.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("avatar: bad reference: %w", err)
	}
	if u.Scheme == "http" || u.Scheme == "https" {
		return u, nil
	}
	if u.Scheme != "" {
		return nil, fmt.Errorf("avatar: unsupported scheme %q", u.Scheme)
	}
	if f.servers == nil {
		return nil, errNoServer
	}
	server, err := f.servers.ServerURL(ctx)
	if err != nil || server == "" {
		return nil, errNoServer
	}
	return url.Parse(strings.TrimRight(server, "/") + "/" + strings.TrimLeft(ref, "/"))
}

// isServer reports whether target is on the stored server. The image token
// is only ever sent there.
func (f *Fetcher) isServer(ctx context.Context, target *url.URL) bool {
	if f.servers == nil {
		return false
	}
	server, err := f.servers.ServerURL(ctx)
	if err != nil || server == "" {
		return false
	}
	u, err := url.Parse(server)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Scheme, target.Scheme) && strings.EqualFold(u.Host, target.Host)
}

func (f *Fetcher) download(ctx context.Context, target string) (image.Image, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Sec-Fetch-Mode", "no-cors")
	req.Header.Set("Sec-Fetch-Site", "cross-site")
	req.Header.Set("Sec-Fetch-Dest", "image")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.opts.MaxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > f.opts.MaxBytes {
		return nil, fmt.Errorf("image larger than %d bytes", f.opts.MaxBytes)
	}
	return imaging.Decode(bytes.NewReader(data))
}

func encodeIcon(img image.Image) (surface.Icon, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return surface.Icon{}, err
	}
	return surface.Icon{PNG: buf.Bytes()}, nil
}
