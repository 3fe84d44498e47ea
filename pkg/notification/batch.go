// Package notification contains the domain model of a decrypted push delivery:
// the batch of new messages and dismissals a server sends to one device.
package notification

import (
	"errors"
	"fmt"
	"time"
)

// ErrSchema is returned when a decrypted payload is not a valid batch.
var ErrSchema = errors.New("notification: invalid batch schema")

// Batch is the plaintext of one push delivery.
// Messages are ordered oldest-first; the order of Dismiss is not significant.
type Batch struct {
	Dismiss  []Dismiss `json:"dismiss,omitempty"`
	Messages []Message `json:"messages,omitempty"`
	// ImageAuth is the batch-wide avatar token, used when a message carries none.
	ImageAuth string `json:"image_auth,omitempty"`
}

// Dismiss asks the device to drop everything it shows for a conversation.
type Dismiss struct {
	RoomID string `json:"room_id"`
}

// User identifies a participant of a conversation.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Avatar string `json:"avatar,omitempty"`
}

// Message is one new event to show in a conversation thread.
type Message struct {
	RoomID     string `json:"room_id"`
	RoomName   string `json:"room_name"`
	RoomAvatar string `json:"room_avatar,omitempty"`
	EventID    string `json:"event_id"`
	Sender     User   `json:"sender"`
	Self       User   `json:"self"`
	Text       string `json:"text"`
	Timestamp  int64  `json:"timestamp"`
	Sound      bool   `json:"sound"`
	ImageAuth  string `json:"image_auth,omitempty"`
}

// Kind is the conversation kind derived from a message.
type Kind int

const (
	KindUnknown Kind = iota
	KindDirect
	KindGroup
)

func (k Kind) String() string {
	switch k {
	case KindDirect:
		return "direct"
	case KindGroup:
		return "group"
	default:
		return "unknown"
	}
}

// Kind reports whether the message belongs to a group or a 1:1 conversation.
// A room whose name differs from the sender's name is a group. Without both
// names the distinction cannot be made.
func (m Message) Kind() Kind {
	if m.RoomName == "" || m.Sender.Name == "" {
		return KindUnknown
	}
	if m.RoomName != m.Sender.Name {
		return KindGroup
	}
	return KindDirect
}

// IsGroup is shorthand for Kind() == KindGroup.
func (m Message) IsGroup() bool {
	return m.Kind() == KindGroup
}

// SentAt converts the millisecond timestamp.
func (m Message) SentAt() time.Time {
	return time.UnixMilli(m.Timestamp)
}

// AvatarAuth returns the token to use for this message's avatar fetches.
func (b *Batch) AvatarAuth(m Message) string {
	if m.ImageAuth != "" {
		return m.ImageAuth
	}
	return b.ImageAuth
}

// Validate checks the fields the device relies on. Unknown fields are not an error.
func (b *Batch) Validate() error {
	for i, m := range b.Messages {
		switch {
		case m.RoomID == "":
			return fmt.Errorf("%w: messages[%d]: missing room_id", ErrSchema, i)
		case m.EventID == "":
			return fmt.Errorf("%w: messages[%d]: missing event_id", ErrSchema, i)
		case m.Sender.ID == "":
			return fmt.Errorf("%w: messages[%d]: missing sender.id", ErrSchema, i)
		case m.Self.ID == "":
			return fmt.Errorf("%w: messages[%d]: missing self.id", ErrSchema, i)
		}
	}
	for i, d := range b.Dismiss {
		if d.RoomID == "" {
			return fmt.Errorf("%w: dismiss[%d]: missing room_id", ErrSchema, i)
		}
	}
	return nil
}
