package channel_test

import (
	"testing"

	"github.com/Schachte/gchat-api-reverse-engineer-sub002/channel"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/chat"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/events"
)

func newDemuxer() *channel.Demuxer {
	return channel.NewDemuxer(chat.NewMapper(chat.NewDriftObserver(nil)))
}

func spaceRef(id string) []any { return []any{[]any{id}} }

func TestDemux_MessagePosted(t *testing.T) {
	msgRow := []any{
		[]any{nil, "msg_1"},
		[]any{[]any{"user_1"}, "Alice"},
		"1705000000000000",
		nil, nil, nil, nil, nil, nil,
		"hello there",
	}
	topicIDMsg := []any{nil, "topic_1", spaceRef("spc_1")}
	payload := []any{"MESSAGE_POSTED", []any{msgRow, topicIDMsg}}

	ev := newDemuxer().Demux(payload)
	if ev.Kind != events.KindMessage {
		t.Fatalf("kind: got %s, want %s", ev.Kind, events.KindMessage)
	}
	msg := ev.Message
	if msg.ID != "msg_1" || msg.Text != "hello there" {
		t.Errorf("message: got id=%s text=%q", msg.ID, msg.Text)
	}
	if msg.TopicID != "topic_1" {
		t.Errorf("topic id: got %s", msg.TopicID)
	}
	if msg.Group != chat.SpaceID("spc_1") {
		t.Errorf("group: got %v", msg.Group)
	}
	if msg.Sender.ID != "user_1" || msg.Sender.DisplayName != "Alice" {
		t.Errorf("sender: got %+v", msg.Sender)
	}
}

func TestDemux_TypingStateChanged(t *testing.T) {
	payload := []any{"TYPING_STATE_CHANGED", []any{spaceRef("spc_1"), []any{"user_2"}, float64(1)}}

	ev := newDemuxer().Demux(payload)
	if ev.Kind != events.KindTyping {
		t.Fatalf("kind: got %s", ev.Kind)
	}
	if ev.Typing.UserID != "user_2" || !ev.Typing.Typing {
		t.Errorf("typing: got %+v", ev.Typing)
	}

	stopped := newDemuxer().Demux([]any{"TYPING_STATE_CHANGED", []any{spaceRef("spc_1"), []any{"user_2"}, float64(2)}})
	if stopped.Typing.Typing {
		t.Error("state 2 should mean stopped typing")
	}
}

func TestDemux_ReadReceiptChanged(t *testing.T) {
	payload := []any{"READ_RECEIPT_CHANGED", []any{spaceRef("spc_1"), []any{"user_3"}, "1705000000000000"}}

	ev := newDemuxer().Demux(payload)
	if ev.Kind != events.KindReadReceipt {
		t.Fatalf("kind: got %s", ev.Kind)
	}
	if ev.ReadReceipt.UserID != "user_3" || ev.ReadReceipt.ReadTimeMicro != 1705000000000000 {
		t.Errorf("read receipt: got %+v", ev.ReadReceipt)
	}
}

func TestDemux_UserStatusUpdated(t *testing.T) {
	row := []any{[]any{"user_4"}, float64(1), float64(2)}
	ev := newDemuxer().Demux([]any{"USER_STATUS_UPDATED", row})
	if ev.Kind != events.KindUserStatus {
		t.Fatalf("kind: got %s", ev.Kind)
	}
	if ev.UserStatus.UserID != "user_4" {
		t.Errorf("user id: got %s", ev.UserStatus.UserID)
	}
	if ev.UserStatus.State != chat.PresenceActive || ev.UserStatus.DND != chat.DNDEnabled {
		t.Errorf("status: got state=%s dnd=%s", ev.UserStatus.State, ev.UserStatus.DND)
	}
}

func TestDemux_GroupChanged(t *testing.T) {
	ev := newDemuxer().Demux([]any{"GROUP_CHANGED", []any{spaceRef("spc_9"), "Renamed Room"}})
	if ev.Kind != events.KindGroupChanged {
		t.Fatalf("kind: got %s", ev.Kind)
	}
	if ev.GroupChanged.Group != chat.SpaceID("spc_9") || ev.GroupChanged.Name != "Renamed Room" {
		t.Errorf("group change: got %+v", ev.GroupChanged)
	}
}

func TestDemux_UnknownTagBecomesStreamError(t *testing.T) {
	ev := newDemuxer().Demux([]any{"SOMETHING_NEW", []any{}})
	if ev.Kind != events.KindStreamError {
		t.Fatalf("kind: got %s, want %s", ev.Kind, events.KindStreamError)
	}
	if ev.StreamError.Reason == "" {
		t.Error("stream error carries no reason")
	}
}
