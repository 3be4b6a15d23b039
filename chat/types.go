// Package chat holds the typed entities of the service's domain and the
// mapper that translates them to and from the PBLite documents each known
// RPC speaks. The upstream schema is undocumented and drifts, so every
// decoder is best-effort: expected-but-missing fields are reported to the
// drift observer and never abort a decode, and every entity keeps the raw
// document it was decoded from in a sidecar field.
package chat

import "strings"

// spacePrefix distinguishes space identifiers from DM identifiers in the
// flattened string form used by URLs and persisted cursors.
const spacePrefix = "space/"

// GroupKind tags the two halves of the GroupId union.
type GroupKind string

const (
	KindSpace GroupKind = "space"
	KindDm    GroupKind = "dm"
)

// GroupId identifies a conversation: a space (multi-member room) or a direct
// message. ID is the opaque upstream identifier without any prefix.
type GroupId struct {
	Kind GroupKind `json:"kind"`
	ID   string    `json:"id"`
}

// SpaceID and DmID construct the two variants.
func SpaceID(id string) GroupId { return GroupId{Kind: KindSpace, ID: id} }
func DmID(id string) GroupId    { return GroupId{Kind: KindDm, ID: id} }

// ParseGroupID reads the flattened string form: ids carrying the space
// prefix are spaces, everything else is a DM.
func ParseGroupID(raw string) GroupId {
	if rest, ok := strings.CutPrefix(raw, spacePrefix); ok {
		return SpaceID(rest)
	}
	return DmID(raw)
}

// String returns the flattened form, the inverse of ParseGroupID.
func (g GroupId) String() string {
	if g.Kind == KindSpace {
		return spacePrefix + g.ID
	}
	return g.ID
}

// IsZero reports an unset GroupId.
func (g GroupId) IsZero() bool { return g.ID == "" }

// UserRef identifies a user. ID is stable; the other fields are best-effort
// and may be empty depending on which RPC produced the reference.
type UserRef struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// URLMeta is a link annotation on a message.
type URLMeta struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// ImageMeta is an inline image annotation.
type ImageMeta struct {
	URL    string `json:"url"`
	Width  int64  `json:"width,omitempty"`
	Height int64  `json:"height,omitempty"`
}

// AttachmentRef points at an uploaded attachment.
type AttachmentRef struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// Message is one chat message. Timestamp is microseconds since the epoch.
type Message struct {
	ID            string          `json:"id"`
	TopicID       string          `json:"topic_id"`
	Group         GroupId         `json:"group"`
	Text          string          `json:"text"`
	Timestamp     int64           `json:"timestamp"`
	Sender        UserRef         `json:"sender"`
	IsThreadReply bool            `json:"is_thread_reply"`
	Mentions      []UserRef       `json:"mentions,omitempty"`
	URLs          []URLMeta       `json:"urls,omitempty"`
	Images        []ImageMeta     `json:"images,omitempty"`
	Attachments   []AttachmentRef `json:"attachments,omitempty"`

	// Raw is the PBLite document this message was decoded from. Unknown
	// fields survive a decode/encode round-trip through it.
	Raw []any `json:"-"`
}

// Topic is a thread: the first reply is the topic root, later replies are
// ordered by timestamp ascending. SortTime is microseconds.
type Topic struct {
	TopicID        string    `json:"topic_id"`
	Group          GroupId   `json:"group"`
	SortTime       int64     `json:"sort_time"`
	Replies        []Message `json:"replies"`
	ReplyCount     int       `json:"reply_count"`
	HasMoreReplies bool      `json:"has_more_replies"`

	Raw []any `json:"-"`
}

// PresenceState is a user's presence, mapped from the wire enum.
type PresenceState string

const (
	PresenceUnknown         PresenceState = "unknown"
	PresenceActive          PresenceState = "active"
	PresenceInactive        PresenceState = "inactive"
	PresenceSharingDisabled PresenceState = "sharingDisabled"
)

// DNDState is a user's do-not-disturb setting.
type DNDState string

const (
	DNDUnknown   DNDState = "unknown"
	DNDAvailable DNDState = "available"
	DNDEnabled   DNDState = "dnd"
)

// Presence is one user's presence snapshot. ActiveUntil is microseconds.
type Presence struct {
	UserID       string        `json:"user_id"`
	State        PresenceState `json:"state"`
	DND          DNDState      `json:"dnd"`
	ActiveUntil  int64         `json:"active_until,omitempty"`
	CustomStatus string        `json:"custom_status,omitempty"`
}

// NotificationCategory classifies why a world item is unread.
type NotificationCategory string

const (
	CategoryNone             NotificationCategory = "none"
	CategoryDirectMention    NotificationCategory = "direct_mention"
	CategorySubscribedThread NotificationCategory = "subscribed_thread"
	CategorySubscribedSpace  NotificationCategory = "subscribed_space"
	CategoryDirectMessage    NotificationCategory = "direct_message"
)

// WorldItem is one row of the conversation list with its unread summary.
type WorldItem struct {
	Group                GroupId              `json:"group"`
	Name                 string               `json:"name,omitempty"`
	NotificationCategory NotificationCategory `json:"notification_category"`
	UnreadCount          int                  `json:"unread_count"`
	SubscribedThreadID   string               `json:"subscribed_thread_id,omitempty"`

	Raw []any `json:"-"`
}

// Cursors is the resumable pagination triple plus the group it belongs to.
// AnchorTimestamp is fixed for an entire pagination; the other two advance
// per page. A persisted Cursors value from a different group must be
// rejected on resume.
type Cursors struct {
	GroupID         string `json:"group_id"`
	SortTimeCursor  string `json:"sort_time_cursor,omitempty"`
	TimestampCursor string `json:"timestamp_cursor,omitempty"`
	AnchorTimestamp string `json:"anchor_timestamp,omitempty"`
}

// IsZero reports whether no pagination has started yet.
func (c Cursors) IsZero() bool {
	return c.SortTimeCursor == "" && c.TimestampCursor == "" && c.AnchorTimestamp == ""
}

// TopicListPage is one decoded page of a topic listing.
type TopicListPage struct {
	Topics             []Topic `json:"topics"`
	Cursors            Cursors `json:"cursors"`
	ContainsFirstTopic bool    `json:"contains_first_topic"`
	ContainsLastTopic  bool    `json:"contains_last_topic"`
}

// presenceStates maps the wire enum to labels.
var presenceStates = map[int64]PresenceState{
	0: PresenceUnknown,
	1: PresenceActive,
	2: PresenceInactive,
	3: PresenceSharingDisabled,
}

// dndStates maps the wire enum to labels.
var dndStates = map[int64]DNDState{
	0: DNDUnknown,
	1: DNDAvailable,
	2: DNDEnabled,
}

// notificationCategories maps the wire enum to labels.
var notificationCategories = map[int64]NotificationCategory{
	0: CategoryNone,
	1: CategoryDirectMention,
	2: CategorySubscribedThread,
	3: CategorySubscribedSpace,
	4: CategoryDirectMessage,
}
