package cursor_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/Schachte/gchat-api-reverse-engineer-sub002/chat"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/cursor"
)

type fakeFetcher struct {
	mu      sync.Mutex
	replies map[string][]chat.Message
	failing map[string]bool
	fetched []string
}

func (f *fakeFetcher) ListMessages(ctx context.Context, group chat.GroupId, topicID string, pageSize int) ([]chat.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, topicID)
	if f.failing[topicID] {
		return nil, errors.New("fetch failed")
	}
	return f.replies[topicID], nil
}

func msg(id string) chat.Message { return chat.Message{ID: id} }

func truncated(id string, embedded int, total int) chat.Topic {
	t := chat.Topic{TopicID: id, Group: chat.SpaceID("sp"), ReplyCount: total, HasMoreReplies: true}
	for i := 0; i < embedded; i++ {
		t.Replies = append(t.Replies, msg(id+"-r"))
	}
	return t
}

func TestExpander_FetchesOnlyTruncatedTopics(t *testing.T) {
	fetcher := &fakeFetcher{replies: map[string][]chat.Message{
		"t2": {msg("a"), msg("b"), msg("c")},
	}}
	x := cursor.NewExpander(fetcher, 2, 50, nil)

	in := []chat.Topic{
		{TopicID: "t1", Group: chat.SpaceID("sp"), Replies: []chat.Message{msg("x")}, ReplyCount: 1},
		truncated("t2", 1, 3),
		{TopicID: "t3", Group: chat.SpaceID("sp")},
	}
	out := x.Expand(context.Background(), in)

	if len(fetcher.fetched) != 1 || fetcher.fetched[0] != "t2" {
		t.Fatalf("fetched: got %v, want [t2]", fetcher.fetched)
	}
	if out[0].TopicID != "t1" || out[1].TopicID != "t2" || out[2].TopicID != "t3" {
		t.Errorf("order not preserved: %v %v %v", out[0].TopicID, out[1].TopicID, out[2].TopicID)
	}
	if len(out[1].Replies) != 3 || out[1].HasMoreReplies {
		t.Errorf("t2 not expanded: %d replies, HasMoreReplies=%v", len(out[1].Replies), out[1].HasMoreReplies)
	}
	// The input slice must be untouched.
	if len(in[1].Replies) != 1 {
		t.Errorf("input mutated: t2 has %d replies", len(in[1].Replies))
	}
}

func TestExpander_FailureKeepsTruncatedReplies(t *testing.T) {
	fetcher := &fakeFetcher{failing: map[string]bool{"t1": true}}
	x := cursor.NewExpander(fetcher, 1, 50, nil)

	out := x.Expand(context.Background(), []chat.Topic{truncated("t1", 2, 5)})

	if len(out[0].Replies) != 2 {
		t.Errorf("truncated replies lost: got %d, want 2", len(out[0].Replies))
	}
	if !out[0].HasMoreReplies {
		t.Error("HasMoreReplies cleared despite the failed fetch")
	}
}

func TestExpander_ShrunkenFetchKeepsEmbedded(t *testing.T) {
	fetcher := &fakeFetcher{replies: map[string][]chat.Message{
		"t1": {msg("only")},
	}}
	x := cursor.NewExpander(fetcher, 1, 50, nil)

	out := x.Expand(context.Background(), []chat.Topic{truncated("t1", 2, 5)})

	if len(out[0].Replies) != 2 {
		t.Errorf("embedded replies replaced by shorter fetch: got %d", len(out[0].Replies))
	}
}
