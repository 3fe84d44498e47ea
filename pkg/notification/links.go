package notification

import (
	"strings"
	"unicode/utf16"
)

// DefaultScheme is the URI scheme of deep links and person URIs.
const DefaultScheme = "matrix"

const sigils = "!$@#+"

// StripSigil removes the leading type sigil of a room, event or user id.
func StripSigil(id string) string {
	if id != "" && strings.IndexByte(sigils, id[0]) >= 0 {
		return id[1:]
	}
	return id
}

// RoomLink is the deep link that opens a conversation.
func RoomLink(scheme, roomID string) string {
	return scheme + ":roomid/" + StripSigil(roomID)
}

// EventLink is the deep link that opens a conversation at an event. Without
// an event id it is the room link.
func EventLink(scheme, roomID, eventID string) string {
	if eventID == "" {
		return RoomLink(scheme, roomID)
	}
	return RoomLink(scheme, roomID) + "/e/" + StripSigil(eventID)
}

// UserURI identifies a participant.
func UserURI(scheme, userID string) string {
	return scheme + ":u/" + StripSigil(userID)
}

// NotificationID maps a room id to a stable notification id. It is the
// 31-multiplier string hash over UTF-16 code units, so ids match those a
// JVM client derives for the same room.
func NotificationID(roomID string) int32 {
	var h int32
	for _, c := range utf16.Encode([]rune(roomID)) {
		h = 31*h + int32(c)
	}
	return h
}
