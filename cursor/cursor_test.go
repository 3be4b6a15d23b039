package cursor_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/Schachte/gchat-api-reverse-engineer-sub002/chat"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/cursor"
)

// scriptedLister replays a fixed page sequence and records the cursors each
// request carried.
type scriptedLister struct {
	pages       []chat.TopicListPage
	gotCursors  []chat.Cursors
	gotPageSize int
	err         error
}

func (s *scriptedLister) ListTopics(ctx context.Context, group chat.GroupId, pageSize int, cursors chat.Cursors) (chat.TopicListPage, error) {
	s.gotPageSize = pageSize
	s.gotCursors = append(s.gotCursors, cursors)
	if s.err != nil {
		return chat.TopicListPage{}, s.err
	}
	if len(s.pages) == 0 {
		return chat.TopicListPage{ContainsFirstTopic: true}, nil
	}
	page := s.pages[0]
	s.pages = s.pages[1:]
	return page, nil
}

func topic(id string, sortTime int64) chat.Topic {
	return chat.Topic{TopicID: id, Group: chat.SpaceID("sp"), SortTime: sortTime}
}

func cursorsFor(s, ts, anchor string) chat.Cursors {
	return chat.Cursors{GroupID: "space/sp", SortTimeCursor: s, TimestampCursor: ts, AnchorTimestamp: anchor}
}

func TestEngine_WalksUntilFirstTopic(t *testing.T) {
	lister := &scriptedLister{pages: []chat.TopicListPage{
		{Topics: []chat.Topic{topic("t4", 400), topic("t3", 300)}, Cursors: cursorsFor("s1", "c1", "A")},
		{Topics: []chat.Topic{topic("t2", 200), topic("t1", 100)}, Cursors: cursorsFor("s2", "c2", "A"), ContainsFirstTopic: true},
	}}
	e, err := cursor.NewEngine(lister, cursor.Options{Group: chat.SpaceID("sp"), PageSize: 2}, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	var all []chat.Topic
	var lastNewest int64
	for pageNum := 0; ; pageNum++ {
		page, err := e.Next(context.Background())
		if errors.Is(err, cursor.ErrExhausted) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if len(page.Topics) > 0 {
			newest := page.Topics[0].SortTime
			if lastNewest != 0 && newest >= lastNewest {
				t.Errorf("page %d newest %d not below previous %d", pageNum, newest, lastNewest)
			}
			lastNewest = newest
		}
		all = append(all, page.Topics...)
	}

	if len(all) != 4 {
		t.Fatalf("topics: got %d, want 4", len(all))
	}
	seen := map[string]bool{}
	for _, tp := range all {
		if seen[tp.TopicID] {
			t.Errorf("duplicate topic %s", tp.TopicID)
		}
		seen[tp.TopicID] = true
	}
	// The second request must echo the first page's cursors, anchor intact.
	if lister.gotCursors[1] != cursorsFor("s1", "c1", "A") {
		t.Errorf("second request cursors: got %+v", lister.gotCursors[1])
	}
}

func TestEngine_DeduplicatesPageBoundary(t *testing.T) {
	lister := &scriptedLister{pages: []chat.TopicListPage{
		{Topics: []chat.Topic{topic("t3", 300), topic("t2", 200)}, Cursors: cursorsFor("s1", "c1", "A")},
		{Topics: []chat.Topic{topic("t2", 200), topic("t1", 100)}, ContainsFirstTopic: true},
	}}
	e, _ := cursor.NewEngine(lister, cursor.Options{Group: chat.SpaceID("sp")}, nil)

	var ids []string
	for {
		page, err := e.Next(context.Background())
		if errors.Is(err, cursor.ErrExhausted) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		for _, tp := range page.Topics {
			ids = append(ids, tp.TopicID)
		}
	}
	if fmt.Sprint(ids) != "[t3 t2 t1]" {
		t.Errorf("ids: got %v, want [t3 t2 t1]", ids)
	}
}

func TestEngine_ResumeFromPersistedCursors(t *testing.T) {
	const since = 50

	// First run: one page, then the caller stops and persists.
	first := &scriptedLister{pages: []chat.TopicListPage{
		{Topics: []chat.Topic{topic("t3", 300), topic("t2", 200)}, Cursors: cursorsFor("s1", "c1", "A")},
	}}
	e1, _ := cursor.NewEngine(first, cursor.Options{Group: chat.SpaceID("sp"), PageSize: 2, Since: since}, nil)
	page1, err := e1.Next(context.Background())
	if err != nil {
		t.Fatalf("first run Next: %v", err)
	}
	persisted := e1.Cursors()
	if persisted != cursorsFor("s1", "c1", "A") {
		t.Fatalf("persisted cursors: got %+v", persisted)
	}

	// Second run resumes with the persisted triple. The page crosses the
	// since bound, so the engine terminates with the boundary flag.
	second := &scriptedLister{pages: []chat.TopicListPage{
		{Topics: []chat.Topic{topic("t1", 100), topic("t0", 10)}, Cursors: cursorsFor("s2", "c2", "A")},
	}}
	e2, err := cursor.NewEngine(second, cursor.Options{
		Group: chat.SpaceID("sp"), PageSize: 2, Since: since, Resume: persisted,
	}, nil)
	if err != nil {
		t.Fatalf("NewEngine resume: %v", err)
	}
	page2, err := e2.Next(context.Background())
	if err != nil {
		t.Fatalf("resume Next: %v", err)
	}
	if second.gotCursors[0] != persisted {
		t.Errorf("resume request cursors: got %+v, want %+v", second.gotCursors[0], persisted)
	}
	if !page2.ReachedSinceBoundary {
		t.Error("expected the since boundary to be reported")
	}
	if _, err := e2.Next(context.Background()); !errors.Is(err, cursor.ErrExhausted) {
		t.Errorf("expected ErrExhausted after boundary, got %v", err)
	}

	var ids []string
	for _, tp := range append(page1.Topics, page2.Topics...) {
		ids = append(ids, tp.TopicID)
	}
	// t0 sits below since and is excluded; everything else accumulates
	// without duplicates.
	if fmt.Sprint(ids) != "[t3 t2 t1]" {
		t.Errorf("accumulated ids: got %v, want [t3 t2 t1]", ids)
	}
}

func TestEngine_RejectsForeignCursors(t *testing.T) {
	foreign := chat.Cursors{GroupID: "space/other", SortTimeCursor: "s", AnchorTimestamp: "A"}
	_, err := cursor.NewEngine(&scriptedLister{}, cursor.Options{
		Group: chat.SpaceID("sp"), Resume: foreign,
	}, nil)
	if !errors.Is(err, cursor.ErrCursorGroupMismatch) {
		t.Errorf("expected ErrCursorGroupMismatch, got %v", err)
	}
}

func TestEngine_MaxPages(t *testing.T) {
	lister := &scriptedLister{pages: []chat.TopicListPage{
		{Topics: []chat.Topic{topic("t9", 900)}, Cursors: cursorsFor("s1", "c1", "A")},
		{Topics: []chat.Topic{topic("t8", 800)}, Cursors: cursorsFor("s2", "c2", "A")},
		{Topics: []chat.Topic{topic("t7", 700)}, Cursors: cursorsFor("s3", "c3", "A")},
	}}
	e, _ := cursor.NewEngine(lister, cursor.Options{Group: chat.SpaceID("sp"), MaxPages: 2}, nil)

	pages := 0
	err := e.Run(context.Background(), func(cursor.Page) error {
		pages++
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pages != 2 {
		t.Errorf("pages: got %d, want 2", pages)
	}
}

func TestEngine_PageSizeBounds(t *testing.T) {
	lister := &scriptedLister{}
	e, _ := cursor.NewEngine(lister, cursor.Options{Group: chat.SpaceID("sp"), PageSize: 9999}, nil)
	e.Next(context.Background())
	if lister.gotPageSize != cursor.MaxPageSize {
		t.Errorf("page size: got %d, want capped at %d", lister.gotPageSize, cursor.MaxPageSize)
	}

	lister2 := &scriptedLister{}
	e2, _ := cursor.NewEngine(lister2, cursor.Options{Group: chat.SpaceID("sp")}, nil)
	e2.Next(context.Background())
	if lister2.gotPageSize != cursor.DefaultPageSize {
		t.Errorf("default page size: got %d, want %d", lister2.gotPageSize, cursor.DefaultPageSize)
	}
}
