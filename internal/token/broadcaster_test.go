package token_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-receiver/internal/token"
)

func TestBroadcaster_LatestWinsBeforeSubscribe(t *testing.T) {
	b := token.NewBroadcaster()
	b.Publish("t1")
	b.Publish("t2")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	got, err := b.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "t2", got)
}

func TestBroadcaster_NoRedelivery(t *testing.T) {
	b := token.NewBroadcaster()
	b.Publish("t1")

	ctx := context.Background()
	_, err := b.Next(ctx)
	require.NoError(t, err)

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = b.Next(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBroadcaster_IgnoresEmptyAndDuplicates(t *testing.T) {
	b := token.NewBroadcaster()
	b.Publish("")
	_, version := b.Latest()
	assert.Zero(t, version)

	b.Publish("t1")
	b.Publish("t1")
	value, version := b.Latest()
	assert.Equal(t, "t1", value)
	assert.Equal(t, uint64(1), version)
}

func TestBroadcaster_NextWakesOnPublish(t *testing.T) {
	b := token.NewBroadcaster()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	result := make(chan string, 1)
	go func() {
		v, err := b.Next(ctx)
		if err == nil {
			result <- v
		}
	}()

	time.Sleep(20 * time.Millisecond)
	b.Publish("fresh")

	select {
	case v := <-result:
		assert.Equal(t, "fresh", v)
	case <-ctx.Done():
		t.Fatal("Next did not wake up")
	}
}

func TestBroadcaster_Subscribe(t *testing.T) {
	b := token.NewBroadcaster()
	ctx, cancel := context.WithCancel(context.Background())

	b.Publish("t1")
	tokens := b.Subscribe(ctx)

	select {
	case v := <-tokens:
		assert.Equal(t, "t1", v)
	case <-time.After(time.Second):
		t.Fatal("no token")
	}

	b.Publish("t2")
	select {
	case v := <-tokens:
		assert.Equal(t, "t2", v)
	case <-time.After(time.Second):
		t.Fatal("no rotated token")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-tokens:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func TestBroadcaster_SubscribeReplacesUnreadToken(t *testing.T) {
	b := token.NewBroadcaster()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tokens := b.Subscribe(ctx)
	b.Publish("t1")
	// Let the subscriber take t1 and block on the send.
	time.Sleep(20 * time.Millisecond)
	b.Publish("t2")
	time.Sleep(20 * time.Millisecond)

	select {
	case v := <-tokens:
		assert.Equal(t, "t2", v, "the unread token is replaced by the newer one")
	case <-time.After(time.Second):
		t.Fatal("no token")
	}

	select {
	case v := <-tokens:
		t.Fatalf("unexpected second token %q", v)
	case <-time.After(50 * time.Millisecond):
	}
}
