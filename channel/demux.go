package channel

import (
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/chat"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/events"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/pblite"
)

// Push payload tags. The first element of every event payload names its
// kind; the rest is a PBLite body.
const (
	tagMessagePosted     = "MESSAGE_POSTED"
	tagTypingStateChange = "TYPING_STATE_CHANGED"
	tagReadReceiptChange = "READ_RECEIPT_CHANGED"
	tagUserStatusUpdated = "USER_STATUS_UPDATED"
	tagGroupChanged      = "GROUP_CHANGED"
)

// Demuxer translates raw push payloads into typed events. An unknown tag or
// an undecodable body becomes a stream_error event rather than killing the
// stream.
type Demuxer struct {
	mapper *chat.Mapper
}

// NewDemuxer creates a Demuxer decoding through the given mapper.
func NewDemuxer(mapper *chat.Mapper) *Demuxer {
	return &Demuxer{mapper: mapper}
}

// Demux decodes one event payload of the form [tag, body].
func (d *Demuxer) Demux(payload any) events.Event {
	arr, ok := payload.([]any)
	if !ok || len(arr) < 2 {
		return streamError("payload is not a tagged array", arr)
	}
	tag, ok := arr[0].(string)
	if !ok {
		return streamError("payload tag is not a string", arr)
	}
	body, ok := arr[1].([]any)
	if !ok {
		return streamError("payload body is not an array", arr)
	}

	switch tag {
	case tagMessagePosted:
		return d.demuxMessage(body)
	case tagTypingStateChange:
		return demuxTyping(body)
	case tagReadReceiptChange:
		return demuxReadReceipt(body)
	case tagUserStatusUpdated:
		return d.demuxUserStatus(body)
	case tagGroupChanged:
		return demuxGroupChanged(body)
	default:
		return streamError("unknown tag "+tag, arr)
	}
}

// demuxMessage decodes a posted-message body: field 1 the message, field 2
// the topic id message carrying the topic id (field 2) and the group
// reference (field 3).
func (d *Demuxer) demuxMessage(body []any) events.Event {
	msg, ok := d.mapper.DecodePostedMessage(body, "channel."+tagMessagePosted, chat.GroupId{})
	if !ok {
		return streamError("message body undecodable", body)
	}
	if idMsg, ok := pblite.Message(body, 2); ok {
		if group, ok := chat.DecodeGroupRef(pblite.Field(idMsg, 3)); ok {
			msg.Group = group
		}
	}
	return events.Event{Kind: events.KindMessage, Message: &msg}
}

// demuxTyping decodes a typing body: field 1 the group reference, field 2
// the user id message, field 3 the typing state (1 typing, 2 stopped).
func demuxTyping(body []any) events.Event {
	group, ok := chat.DecodeGroupRef(pblite.Field(body, 1))
	if !ok {
		return streamError("typing body missing group", body)
	}
	state, _ := pblite.Int(body, 3)
	ts := &events.TypingState{
		Group:  group,
		UserID: userID(body),
		Typing: state == 1,
	}
	return events.Event{Kind: events.KindTyping, Typing: ts}
}

// demuxReadReceipt decodes a read-receipt body: field 1 the group reference,
// field 2 the user id message, field 3 the read time in microseconds.
func demuxReadReceipt(body []any) events.Event {
	group, ok := chat.DecodeGroupRef(pblite.Field(body, 1))
	if !ok {
		return streamError("read receipt body missing group", body)
	}
	readTime, _ := pblite.Micros(body, 3)
	rr := &events.ReadReceipt{
		Group:         group,
		UserID:        userID(body),
		ReadTimeMicro: readTime,
	}
	return events.Event{Kind: events.KindReadReceipt, ReadReceipt: rr}
}

// demuxUserStatus decodes a presence body shaped like one row of the
// get_user_presence list.
func (d *Demuxer) demuxUserStatus(body []any) events.Event {
	presences := d.mapper.DecodePresences(pblite.Doc{[]any{body}})
	if len(presences) == 0 {
		return streamError("user status body undecodable", body)
	}
	return events.Event{Kind: events.KindUserStatus, UserStatus: &presences[0]}
}

// demuxGroupChanged decodes a group-change body: field 1 the group
// reference, field 2 the new display name when the change is a rename.
func demuxGroupChanged(body []any) events.Event {
	group, ok := chat.DecodeGroupRef(pblite.Field(body, 1))
	if !ok {
		return streamError("group change body missing group", body)
	}
	gc := &events.GroupChange{Group: group, Name: pblite.String(body, 2)}
	return events.Event{Kind: events.KindGroupChanged, GroupChanged: gc}
}

// userID reads the user id message at field 2 of a push body.
func userID(body []any) string {
	if idMsg, ok := pblite.Message(body, 2); ok {
		return pblite.String(idMsg, 1)
	}
	return ""
}

func streamError(reason string, raw []any) events.Event {
	return events.Event{
		Kind:        events.KindStreamError,
		StreamError: &events.StreamError{Reason: reason, Raw: raw},
	}
}
