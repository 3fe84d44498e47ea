// Package surface defines what the push pipeline hands to the platform: the
// notification, shortcut and channel records, and the capability interfaces
// that accept them.
package surface

import "time"

const (
	// CategoryMessage marks a notification as a conversation message.
	CategoryMessage = "msg"
	// CategoryConversation marks a shortcut as a conversation shortcut.
	CategoryConversation = "conversation"
)

// Icon is an image ready for display. A zero Icon (no PNG data) means the
// platform default icon for the record it is attached to.
type Icon struct {
	// PNG holds the encoded bitmap.
	PNG []byte `json:"png,omitempty" firestore:"png,omitempty"`
}

// IsDefault reports whether the icon falls back to the platform default.
func (i Icon) IsDefault() bool {
	return len(i.PNG) == 0
}

// Person is a participant shown in a notification thread.
type Person struct {
	Key  string `json:"key"`
	Name string `json:"name"`
	URI  string `json:"uri,omitempty"`
	Icon Icon   `json:"icon"`
}

// ThreadMessage is one line of a conversation thread.
type ThreadMessage struct {
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
	Sender Person    `json:"sender"`
}

// Notification is the record of one visible, per-conversation notification.
type Notification struct {
	ID        int32  `json:"id"`
	ChannelID string `json:"channel_id"`
	// Title is the conversation title; empty for 1:1 conversations.
	Title      string          `json:"title,omitempty"`
	Self       Person          `json:"self"`
	Messages   []ThreadMessage `json:"messages"`
	When       time.Time       `json:"when"`
	DeepLink   string          `json:"deep_link"`
	ShortcutID string          `json:"shortcut_id"`
	GroupKey   string          `json:"group_key"`
	LargeIcon  Icon            `json:"large_icon"`
	Category   string          `json:"category"`
	AutoCancel bool            `json:"auto_cancel"`
}

// Latest returns the newest message of the thread.
func (n Notification) Latest() (ThreadMessage, bool) {
	if len(n.Messages) == 0 {
		return ThreadMessage{}, false
	}
	return n.Messages[len(n.Messages)-1], true
}

// Shortcut is a standing conversation shortcut.
type Shortcut struct {
	ID         string    `json:"id" firestore:"id"`
	ShortLabel string    `json:"short_label" firestore:"short_label"`
	LongLabel  string    `json:"long_label" firestore:"long_label"`
	Icon       Icon      `json:"icon" firestore:"icon"`
	DeepLink   string    `json:"deep_link" firestore:"deep_link"`
	Categories []string  `json:"categories" firestore:"categories"`
	UpdatedAt  time.Time `json:"updated_at" firestore:"updated_at"`
}

// Importance mirrors the platform importance levels used by channels.
type Importance int

const (
	ImportanceLow Importance = iota + 1
	ImportanceDefault
)

// Channel is a notification category with its sound and vibration defaults.
type Channel struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Importance Importance `json:"importance"`
	Sound      bool       `json:"sound"`
	Vibration  bool       `json:"vibration"`
	// ConversationID is set for per-conversation channels.
	ConversationID string `json:"conversation_id,omitempty"`
}
