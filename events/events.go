// Package events defines the typed notifications the realtime channel
// demultiplexes out of the server's push stream, and a small bus that fans
// them out to subscribers.
package events

import (
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/chat"
)

// Kind discriminates the event payload.
type Kind string

const (
	KindConnected    Kind = "connected"
	KindDisconnected Kind = "disconnected"
	KindMessage      Kind = "message"
	KindTyping       Kind = "typing"
	KindReadReceipt  Kind = "read_receipt"
	KindUserStatus   Kind = "user_status"
	KindGroupChanged Kind = "group_changed"
	KindStreamError  Kind = "stream_error"
)

// Event is one realtime notification. Exactly one payload pointer is set,
// matching Kind; connected/disconnected events carry none.
type Event struct {
	Kind Kind `json:"kind"`

	Message      *chat.Message  `json:"message,omitempty"`
	Typing       *TypingState   `json:"typing,omitempty"`
	ReadReceipt  *ReadReceipt   `json:"read_receipt,omitempty"`
	UserStatus   *chat.Presence `json:"user_status,omitempty"`
	GroupChanged *GroupChange   `json:"group_changed,omitempty"`
	StreamError  *StreamError   `json:"stream_error,omitempty"`
}

// TypingState reports a user starting or stopping typing in a group.
type TypingState struct {
	Group  chat.GroupId `json:"group"`
	UserID string       `json:"user_id"`
	Typing bool         `json:"typing"`
}

// ReadReceipt reports another participant's read position moving.
type ReadReceipt struct {
	Group         chat.GroupId `json:"group"`
	UserID        string       `json:"user_id"`
	ReadTimeMicro int64        `json:"read_time_micro"`
}

// GroupChange reports group metadata changing, such as a rename or a
// membership update.
type GroupChange struct {
	Group chat.GroupId `json:"group"`
	Name  string       `json:"name,omitempty"`
}

// StreamError surfaces a push frame the demultiplexer could not decode.
// The stream keeps running; the raw frame is preserved for debugging.
type StreamError struct {
	Reason string `json:"reason"`
	Raw    []any  `json:"-"`
}
