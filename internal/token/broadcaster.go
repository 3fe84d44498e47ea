// Package token carries push-token rotations from the platform callback to
// whoever registers them with the server. Only the latest token matters.
package token

import (
	"context"
	"sync"
)

// Broadcaster is a single-slot mailbox. Publishing never blocks and replaces
// any value that has not been taken yet.
type Broadcaster struct {
	mu      sync.Mutex
	value   string
	version uint64
	taken   uint64
	changed chan struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{changed: make(chan struct{})}
}

// Publish offers a new token. Empty tokens and repeats of the current value
// are ignored.
func (b *Broadcaster) Publish(token string) {
	if token == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.version > 0 && token == b.value {
		return
	}
	b.value = token
	b.version++
	close(b.changed)
	b.changed = make(chan struct{})
}

// Latest returns the current token and its version without consuming it.
func (b *Broadcaster) Latest() (string, uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value, b.version
}

// take consumes the newest untaken token. When there is none it returns the
// channel that closes on the next Publish.
func (b *Broadcaster) take() (string, bool, <-chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.version > b.taken {
		b.taken = b.version
		return b.value, true, b.changed
	}
	return "", false, b.changed
}

// Next blocks until a token newer than the last one taken exists and returns it.
func (b *Broadcaster) Next(ctx context.Context) (string, error) {
	for {
		v, ok, wait := b.take()
		if ok {
			return v, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-wait:
		}
	}
}

// Subscribe streams tokens until ctx ends. A token waiting for the reader is
// replaced when a newer one is published, so the reader only sees the newest.
func (b *Broadcaster) Subscribe(ctx context.Context) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		var pending string
		var has bool
		for {
			v, ok, wait := b.take()
			if ok {
				pending, has = v, true
			}
			if !has {
				select {
				case <-wait:
					continue
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- pending:
				has = false
			case <-wait:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
