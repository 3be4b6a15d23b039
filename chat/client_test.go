package chat_test

import (
	"context"
	"testing"

	"github.com/Schachte/gchat-api-reverse-engineer-sub002/chat"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/pblite"
)

// fakeCaller records dispatches and replays canned payloads.
type fakeCaller struct {
	protoCalls []string
	batchCalls []string
	requests   []any
	payload    pblite.Doc
	err        error
}

func (f *fakeCaller) CallProtoJSON(ctx context.Context, method string, request any) (pblite.Doc, error) {
	f.protoCalls = append(f.protoCalls, method)
	f.requests = append(f.requests, request)
	return f.payload, f.err
}

func (f *fakeCaller) CallBatch(ctx context.Context, rpcID string, request any) (pblite.Doc, error) {
	f.batchCalls = append(f.batchCalls, rpcID)
	f.requests = append(f.requests, request)
	return f.payload, f.err
}

func newClient(payload pblite.Doc) (*chat.Client, *fakeCaller) {
	f := &fakeCaller{payload: payload}
	return chat.NewClient(f, newMapper(), nil), f
}

// requestHeader digs the leading request-header message out of a recorded
// request document.
func requestHeader(t *testing.T, request any) []any {
	t.Helper()
	doc, ok := request.([]any)
	if !ok || len(doc) == 0 {
		t.Fatalf("request is not a document: %v", request)
	}
	header, ok := doc[0].([]any)
	if !ok {
		t.Fatalf("request has no leading header: %v", doc[0])
	}
	return header
}

func TestListTopics_DispatchesOnBatchEndpoint(t *testing.T) {
	c, f := newClient(pblite.Doc{[]any{}, "s1", "t1", false, false, "A"})

	page, err := c.ListTopics(context.Background(), chat.SpaceID("sp"), 50, chat.Cursors{})
	if err != nil {
		t.Fatalf("ListTopics: %v", err)
	}
	if len(f.batchCalls) != 1 || f.batchCalls[0] != "dfe.t.lt" {
		t.Errorf("batch calls: got %v, want [dfe.t.lt]", f.batchCalls)
	}
	if len(f.protoCalls) != 0 {
		t.Errorf("protojson calls: got %v, want none", f.protoCalls)
	}
	if page.Cursors.AnchorTimestamp != "A" {
		t.Errorf("anchor: got %q", page.Cursors.AnchorTimestamp)
	}

	header := requestHeader(t, f.requests[0])
	if header[0] != pblite.ClientTypeWeb || header[1] != pblite.ClientVersion {
		t.Errorf("request header: got %v", header)
	}
}

func TestListTopics_ResumeEchoesAnchor(t *testing.T) {
	c, f := newClient(pblite.Doc{[]any{}, "s2", "t2", false, false})

	resume := chat.Cursors{
		GroupID:         "space/sp",
		SortTimeCursor:  "s1",
		TimestampCursor: "t1",
		AnchorTimestamp: "A",
	}
	page, err := c.ListTopics(context.Background(), chat.SpaceID("sp"), 50, resume)
	if err != nil {
		t.Fatalf("ListTopics: %v", err)
	}

	doc := f.requests[0].([]any)
	if len(doc) < 6 || doc[3] != "s1" || doc[4] != "t1" || doc[5] != "A" {
		t.Errorf("resume request did not carry the cursor triple: %v", doc)
	}
	// The response omitted the anchor; the page must keep the caller's.
	if page.Cursors.AnchorTimestamp != "A" {
		t.Errorf("anchor after resume: got %q, want A", page.Cursors.AnchorTimestamp)
	}
	if page.Cursors.SortTimeCursor != "s2" || page.Cursors.TimestampCursor != "t2" {
		t.Errorf("advancing cursors: got %+v", page.Cursors)
	}
}

func TestWhoAmI_DispatchesOnProtoJSON(t *testing.T) {
	c, f := newClient(pblite.Doc{[]any{[]any{"me"}, "Self", "me@example.com"}})

	user, err := c.WhoAmI(context.Background())
	if err != nil {
		t.Fatalf("WhoAmI: %v", err)
	}
	if user.ID != "me" || user.DisplayName != "Self" || user.Email != "me@example.com" {
		t.Errorf("user: got %+v", user)
	}
	if len(f.protoCalls) != 1 || f.protoCalls[0] != "get_self_user_status" {
		t.Errorf("protojson calls: got %v", f.protoCalls)
	}
}

func TestNotifications_FiltersUnread(t *testing.T) {
	payload := pblite.Doc{[]any{
		[]any{[]any{[]any{"sp1"}}, "Loud", float64(3), float64(1)},
		[]any{[]any{[]any{"sp2"}}, "Quiet", float64(0), float64(0)},
	}}
	c, _ := newClient(payload)

	items, err := c.Notifications(context.Background())
	if err != nil {
		t.Fatalf("Notifications: %v", err)
	}
	if len(items) != 1 || items[0].Name != "Loud" {
		t.Errorf("notifications: got %+v", items)
	}
}

func TestPostReply_MarksThreadReply(t *testing.T) {
	payload := pblite.Doc{
		[]any{[]any{nil, "new_msg"}, []any{[]any{"me"}, "Self"}, float64(42), nil, nil, nil, nil, nil, nil, "hi"},
	}
	c, f := newClient(payload)

	msg, err := c.PostReply(context.Background(), chat.DmID("d1"), "top_1", "hi")
	if err != nil {
		t.Fatalf("PostReply: %v", err)
	}
	if msg.ID != "new_msg" || !msg.IsThreadReply || msg.TopicID != "top_1" {
		t.Errorf("reply: got %+v", msg)
	}
	if f.protoCalls[0] != "create_message" {
		t.Errorf("rpc: got %v", f.protoCalls)
	}
}

func TestMarkRead_RequestShape(t *testing.T) {
	c, f := newClient(pblite.Doc{})

	if err := c.MarkRead(context.Background(), chat.SpaceID("sp"), 1705000000000000); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	doc := f.requests[0].([]any)
	if doc[2] != int64(1705000000000000) {
		t.Errorf("last-read micros: got %v", doc[2])
	}
}

func TestPresence_EmptyInputSkipsRPC(t *testing.T) {
	c, f := newClient(pblite.Doc{})

	got, err := c.Presence(context.Background(), nil)
	if err != nil || got != nil {
		t.Errorf("empty presence: got %v, %v", got, err)
	}
	if len(f.protoCalls)+len(f.batchCalls) != 0 {
		t.Error("no RPC should be issued for an empty id list")
	}
}
