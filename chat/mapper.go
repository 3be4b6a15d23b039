package chat

import (
	"sort"
	"strconv"

	"github.com/Schachte/gchat-api-reverse-engineer-sub002/pblite"
)

// Mapper decodes PBLite response documents into typed entities. Decoders are
// table-driven per rpc: each reads a fixed set of field paths and reports
// anything expected-but-absent to the drift observer instead of failing.
type Mapper struct {
	drift *DriftObserver
}

// NewMapper creates a Mapper reporting to drift (required).
func NewMapper(drift *DriftObserver) *Mapper {
	return &Mapper{drift: drift}
}

// ExtractUnit digs the payload for rpcID out of an envelope document of the
// shape [[rpcId, payload], …]. The payload arm is either an inline array or
// a JSON string that must be parsed a second time; both occur in captured
// traffic.
func ExtractUnit(doc pblite.Doc, rpcID string) (pblite.Doc, bool) {
	for _, raw := range doc {
		unit, ok := raw.([]any)
		if !ok || len(unit) < 2 {
			continue
		}
		if id, _ := unit[0].(string); id != rpcID {
			continue
		}
		switch payload := unit[1].(type) {
		case []any:
			return payload, true
		case string:
			parsed, err := pblite.Decode([]byte(payload))
			if err == nil {
				return parsed, true
			}
		}
	}
	return nil, false
}

// DecodeTopicListPage decodes a list_topics payload. Wire layout: field 1
// topics, fields 2/3 the advancing cursors, field 4 containsFirstTopic,
// field 5 containsLastTopic, field 6 the anchor timestamp.
func (m *Mapper) DecodeTopicListPage(payload pblite.Doc, group GroupId) TopicListPage {
	m.drift.Observe(rpcListTopics, payload)

	page := TopicListPage{
		Cursors: Cursors{
			GroupID:         group.String(),
			SortTimeCursor:  cursorString(payload, 2),
			TimestampCursor: cursorString(payload, 3),
			AnchorTimestamp: cursorString(payload, 6),
		},
		ContainsFirstTopic: pblite.Bool(payload, 4),
		ContainsLastTopic:  pblite.Bool(payload, 5),
	}

	rows, ok := pblite.Array(payload, 1)
	if !ok {
		m.drift.ReportMissing(rpcListTopics, "1", "topic list absent")
		return page
	}
	for _, row := range rows {
		topic, ok := m.decodeTopic(row, group)
		if !ok {
			continue
		}
		page.Topics = append(page.Topics, topic)
	}
	sort.SliceStable(page.Topics, func(i, j int) bool {
		return page.Topics[i].SortTime > page.Topics[j].SortTime
	})
	return page
}

// decodeTopic reads one topic row: field 1 the id message (topic id at its
// field 2, group at its field 3), field 2 the sort time, field 7 the
// embedded replies, field 8 the server-side reply count.
func (m *Mapper) decodeTopic(row any, group GroupId) (Topic, bool) {
	idMsg, ok := pblite.Message(row, 1)
	if !ok {
		m.drift.ReportMissing(rpcListTopics, "1.1", "topic id message absent")
		return Topic{}, false
	}
	topicID := pblite.String(idMsg, 2)
	if topicID == "" {
		m.drift.ReportMissing(rpcListTopics, "1.1.2", "topic id absent")
		return Topic{}, false
	}
	if wireGroup, ok := DecodeGroupRef(pblite.Field(idMsg, 3)); ok {
		group = wireGroup
	}

	topic := Topic{
		TopicID: topicID,
		Group:   group,
	}
	if raw, ok := row.([]any); ok {
		topic.Raw = raw
	}
	topic.SortTime, _ = pblite.Micros(row, 2)

	if replies, ok := pblite.Array(row, 7); ok {
		for _, r := range replies {
			msg, ok := m.decodeMessage(r, rpcListTopics)
			if !ok {
				continue
			}
			msg.TopicID = topicID
			msg.Group = group
			topic.Replies = append(topic.Replies, msg)
		}
	}
	sort.SliceStable(topic.Replies, func(i, j int) bool {
		return topic.Replies[i].Timestamp < topic.Replies[j].Timestamp
	})
	for i := range topic.Replies {
		topic.Replies[i].IsThreadReply = i > 0
	}

	if count, ok := pblite.Int(row, 8); ok {
		topic.ReplyCount = int(count)
	} else {
		topic.ReplyCount = len(topic.Replies)
	}
	topic.HasMoreReplies = topic.ReplyCount > len(topic.Replies)
	return topic, true
}

// decodeMessage reads one message: field 1 the id message (message id at its
// field 2), field 2 the sender, field 3 the timestamp, field 10 the text,
// field 11 the annotations.
func (m *Mapper) decodeMessage(row any, rpcID string) (Message, bool) {
	idMsg, ok := pblite.Message(row, 1)
	if !ok {
		m.drift.ReportMissing(rpcID, "1", "message id message absent")
		return Message{}, false
	}
	id := pblite.String(idMsg, 2)
	if id == "" {
		return Message{}, false
	}

	msg := Message{ID: id}
	if raw, ok := row.([]any); ok {
		msg.Raw = raw
	}
	if sender, ok := pblite.Message(row, 2); ok {
		msg.Sender = DecodeUserRef(sender)
	} else {
		m.drift.ReportMissing(rpcID, "2", "message sender absent")
	}
	msg.Timestamp, _ = pblite.Micros(row, 3)
	msg.Text = pblite.String(row, 10)

	if annotations, ok := pblite.Array(row, 11); ok {
		m.decodeAnnotations(annotations, &msg)
	}
	return msg, true
}

// decodeAnnotations distributes a message's annotation list into its typed
// slices. Field 1 of each annotation is the kind tag; the metadata lives at
// a kind-specific field.
func (m *Mapper) decodeAnnotations(annotations []any, msg *Message) {
	const (
		kindUserMention = 1
		kindURL         = 2
		kindImage       = 3
		kindAttachment  = 4
	)
	for _, a := range annotations {
		kind, ok := pblite.Int(a, 1)
		if !ok {
			continue
		}
		switch kind {
		case kindUserMention:
			if user, ok := pblite.Message(a, 5); ok {
				msg.Mentions = append(msg.Mentions, DecodeUserRef(user))
			}
		case kindURL:
			if meta, ok := pblite.Message(a, 7); ok {
				msg.URLs = append(msg.URLs, URLMeta{
					URL:   pblite.String(meta, 1),
					Title: pblite.String(meta, 2),
				})
			}
		case kindImage:
			if meta, ok := pblite.Message(a, 10); ok {
				width, _ := pblite.Int(meta, 2)
				height, _ := pblite.Int(meta, 3)
				msg.Images = append(msg.Images, ImageMeta{
					URL:    pblite.String(meta, 1),
					Width:  width,
					Height: height,
				})
			}
		case kindAttachment:
			if meta, ok := pblite.Message(a, 11); ok {
				msg.Attachments = append(msg.Attachments, AttachmentRef{
					ID:       pblite.String(meta, 1),
					Name:     pblite.String(meta, 2),
					MimeType: pblite.String(meta, 3),
				})
			}
		}
	}
}

// DecodeMessages decodes a list_messages payload: field 1 is the message
// list, ordered by timestamp ascending after decode.
func (m *Mapper) DecodeMessages(payload pblite.Doc, group GroupId, topicID string) []Message {
	m.drift.Observe(rpcListMessages, payload)

	rows, ok := pblite.Array(payload, 1)
	if !ok {
		m.drift.ReportMissing(rpcListMessages, "1", "message list absent")
		return nil
	}
	var out []Message
	for _, row := range rows {
		msg, ok := m.decodeMessage(row, rpcListMessages)
		if !ok {
			continue
		}
		msg.Group = group
		msg.TopicID = topicID
		out = append(out, msg)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	for i := range out {
		out[i].IsThreadReply = i > 0
	}
	return out
}

// DecodePostedMessage decodes the create_topic / create_message response:
// field 1 carries the posted message, field 2 its topic id message.
func (m *Mapper) DecodePostedMessage(payload pblite.Doc, rpcID string, group GroupId) (Message, bool) {
	m.drift.Observe(rpcID, payload)

	row, ok := pblite.Message(payload, 1)
	if !ok {
		m.drift.ReportMissing(rpcID, "1", "posted message absent")
		return Message{}, false
	}
	msg, ok := m.decodeMessage(row, rpcID)
	if !ok {
		return Message{}, false
	}
	msg.Group = group
	if idMsg, ok := pblite.Message(payload, 2); ok {
		msg.TopicID = pblite.String(idMsg, 2)
	}
	return msg, true
}

// DecodeWorldItems decodes a paginated_world payload: field 1 the item list,
// field 2 the next pagination cursor in microseconds.
func (m *Mapper) DecodeWorldItems(payload pblite.Doc) ([]WorldItem, int64) {
	m.drift.Observe(rpcPaginatedWorld, payload)

	nextCursor, _ := pblite.Micros(payload, 2)
	rows, ok := pblite.Array(payload, 1)
	if !ok {
		m.drift.ReportMissing(rpcPaginatedWorld, "1", "world item list absent")
		return nil, nextCursor
	}

	var out []WorldItem
	for _, row := range rows {
		group, ok := DecodeGroupRef(pblite.Field(row, 1))
		if !ok {
			m.drift.ReportMissing(rpcPaginatedWorld, "1.1", "world item group absent")
			continue
		}
		item := WorldItem{
			Group:                group,
			Name:                 pblite.String(row, 2),
			NotificationCategory: CategoryNone,
			SubscribedThreadID:   pblite.String(row, 5),
		}
		if raw, ok := row.([]any); ok {
			item.Raw = raw
		}
		if unread, ok := pblite.Int(row, 3); ok {
			item.UnreadCount = int(unread)
		}
		if cat, ok := pblite.Int(row, 4); ok {
			if label, known := notificationCategories[cat]; known {
				item.NotificationCategory = label
			}
		}
		out = append(out, item)
	}
	return out, nextCursor
}

// DecodePresences decodes a get_user_presence payload: field 1 is a list of
// per-user presence messages.
func (m *Mapper) DecodePresences(payload pblite.Doc) []Presence {
	m.drift.Observe(rpcGetUserPresence, payload)

	rows, ok := pblite.Array(payload, 1)
	if !ok {
		m.drift.ReportMissing(rpcGetUserPresence, "1", "presence list absent")
		return nil
	}
	var out []Presence
	for _, row := range rows {
		idMsg, ok := pblite.Message(row, 1)
		if !ok {
			continue
		}
		p := Presence{
			UserID: pblite.String(idMsg, 1),
			State:  PresenceUnknown,
			DND:    DNDUnknown,
		}
		if state, ok := pblite.Int(row, 2); ok {
			if label, known := presenceStates[state]; known {
				p.State = label
			}
		}
		if dnd, ok := pblite.Int(row, 3); ok {
			if label, known := dndStates[dnd]; known {
				p.DND = label
			}
		}
		p.ActiveUntil, _ = pblite.Micros(row, 4)
		p.CustomStatus = pblite.String(row, 5)
		out = append(out, p)
	}
	return out
}

// DecodeSelfUser decodes a get_self_user_status payload: field 1 carries the
// caller's own user message.
func (m *Mapper) DecodeSelfUser(payload pblite.Doc) (UserRef, bool) {
	m.drift.Observe(rpcGetSelfUserStatus, payload)

	user, ok := pblite.Message(payload, 1)
	if !ok {
		m.drift.ReportMissing(rpcGetSelfUserStatus, "1", "self user absent")
		return UserRef{}, false
	}
	return DecodeUserRef(user), true
}

// DecodeUserRef reads a user message: field 1 the id message (id at its
// field 1), field 2 display name, field 3 email, field 4 avatar URL.
func DecodeUserRef(msg any) UserRef {
	ref := UserRef{
		DisplayName: pblite.String(msg, 2),
		Email:       pblite.String(msg, 3),
		AvatarURL:   pblite.String(msg, 4),
	}
	if idMsg, ok := pblite.Message(msg, 1); ok {
		ref.ID = pblite.String(idMsg, 1)
	}
	return ref
}

// DecodeGroupRef reads the two-armed group union: field 1 a space reference
// (id at its field 1), field 3 a DM reference.
func DecodeGroupRef(v any) (GroupId, bool) {
	if space, ok := pblite.Message(v, 1); ok {
		if id := pblite.String(space, 1); id != "" {
			return SpaceID(id), true
		}
	}
	if dm, ok := pblite.Message(v, 3); ok {
		if id := pblite.String(dm, 1); id != "" {
			return DmID(id), true
		}
	}
	return GroupId{}, false
}

// cursorString reads a cursor field, normalising wire numbers to their
// decimal string form so cursors survive JSON persistence untouched.
func cursorString(payload pblite.Doc, fieldNum int) string {
	switch v := pblite.Field(payload, fieldNum).(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	default:
		return ""
	}
}

// LooksLikeMessage is the legacy discriminator for payloads arriving on
// unmapped RPCs: an array longer than 15 elements whose field-10 slot holds
// a short string is treated as a message. Mapped RPCs never consult it.
func LooksLikeMessage(v any) bool {
	arr, ok := v.([]any)
	if !ok || len(arr) <= 15 {
		return false
	}
	text, ok := arr[9].(string)
	return ok && len(text) > 0 && len(text) < 4096
}
