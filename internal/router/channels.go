package router

import (
	"github.com/tinywideclouds/go-push-receiver/pkg/notification"
	"github.com/tinywideclouds/go-push-receiver/pkg/surface"
)

// Channel ids. The ids are persisted by platform surfaces and must not change.
const (
	ChannelSilent       = "silent_notification"
	ChannelNoisy        = "noisy_notification"
	ChannelDMSilent     = "dm_silent_notification"
	ChannelDMNoisy      = "dm_noisy_notification"
	ChannelGroupSilent  = "group_silent_notification"
	ChannelGroupNoisy   = "group_noisy_notification"
	ChannelConversation = "conversation_channel"
)

// Channels is the catalogue surfaces register at startup.
func Channels() []surface.Channel {
	return []surface.Channel{
		{ID: ChannelSilent, Name: "Silent notifications", Importance: surface.ImportanceLow},
		{ID: ChannelNoisy, Name: "Noisy notifications", Importance: surface.ImportanceDefault, Sound: true, Vibration: true},
		{ID: ChannelDMSilent, Name: "Direct messages (silent)", Importance: surface.ImportanceLow},
		{ID: ChannelDMNoisy, Name: "Direct messages", Importance: surface.ImportanceDefault, Sound: true, Vibration: true},
		{ID: ChannelGroupSilent, Name: "Group messages (silent)", Importance: surface.ImportanceLow},
		{ID: ChannelGroupNoisy, Name: "Group messages", Importance: surface.ImportanceDefault, Sound: true, Vibration: true},
		{ID: ChannelConversation, Name: "Conversations", Importance: surface.ImportanceDefault, Sound: true, Vibration: true},
	}
}

// ConversationChannel is the per-conversation channel for a room, for
// surfaces that support per-conversation settings.
func ConversationChannel(roomID, roomName string) surface.Channel {
	return surface.Channel{
		ID:             ChannelConversation + "_" + roomID,
		Name:           roomName,
		Importance:     surface.ImportanceDefault,
		Sound:          true,
		Vibration:      true,
		ConversationID: roomID,
	}
}

// ChannelFor picks the channel of a message from its conversation kind and
// sound flag.
func ChannelFor(m notification.Message) string {
	switch m.Kind() {
	case notification.KindGroup:
		if m.Sound {
			return ChannelGroupNoisy
		}
		return ChannelGroupSilent
	case notification.KindDirect:
		if m.Sound {
			return ChannelDMNoisy
		}
		return ChannelDMSilent
	default:
		if m.Sound {
			return ChannelNoisy
		}
		return ChannelSilent
	}
}
