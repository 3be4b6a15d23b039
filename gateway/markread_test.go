package gateway_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Schachte/gchat-api-reverse-engineer-sub002/chat"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/gateway"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/metrics"
)

type markCall struct {
	group    chat.GroupId
	readTime int64
	at       time.Time
}

type recordingMarker struct {
	mu    sync.Mutex
	calls []markCall
	fail  map[string]bool
	done  chan struct{}
	want  int
}

func (m *recordingMarker) MarkRead(ctx context.Context, group chat.GroupId, lastReadMicros int64) error {
	m.mu.Lock()
	m.calls = append(m.calls, markCall{group: group, readTime: lastReadMicros, at: time.Now()})
	n := len(m.calls)
	m.mu.Unlock()
	if n == m.want && m.done != nil {
		close(m.done)
	}
	if m.fail[group.String()] {
		return errors.New("upstream rejected")
	}
	return nil
}

func (m *recordingMarker) recorded() []markCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]markCall(nil), m.calls...)
}

func TestMarkReadQueue_CoalescesPerGroup(t *testing.T) {
	g1, g2, g3 := chat.SpaceID("g1"), chat.SpaceID("g2"), chat.SpaceID("g3")
	marker := &recordingMarker{done: make(chan struct{}), want: 3}
	const spacing = 20 * time.Millisecond
	q := gateway.NewMarkReadQueue(marker, spacing, nil, metrics.New())

	// A login burst touches g1 three times; only the newest value survives
	// and g1 moves behind the groups enqueued after it.
	q.Enqueue(g1, 3)
	q.Enqueue(g2, 1)
	q.Enqueue(g1, 5)
	q.Enqueue(g3, 2)
	q.Enqueue(g1, 7)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	select {
	case <-marker.done:
	case <-time.After(5 * time.Second):
		t.Fatalf("queue never drained, recorded %v", marker.recorded())
	}

	calls := marker.recorded()
	if len(calls) != 3 {
		t.Fatalf("dispatches: got %d, want 3", len(calls))
	}
	want := []markCall{
		{group: g2, readTime: 1},
		{group: g3, readTime: 2},
		{group: g1, readTime: 7},
	}
	for i, w := range want {
		if calls[i].group != w.group || calls[i].readTime != w.readTime {
			t.Errorf("dispatch %d: got (%s,%d), want (%s,%d)",
				i, calls[i].group.String(), calls[i].readTime, w.group.String(), w.readTime)
		}
	}
	for i := 1; i < len(calls); i++ {
		if gap := calls[i].at.Sub(calls[i-1].at); gap < spacing {
			t.Errorf("dispatch %d followed after %s, want at least %s", i, gap, spacing)
		}
	}
}

func TestMarkReadQueue_FailureDropsAndContinues(t *testing.T) {
	g1, g2 := chat.SpaceID("g1"), chat.SpaceID("g2")
	marker := &recordingMarker{
		fail: map[string]bool{g1.String(): true},
		done: make(chan struct{}),
		want: 2,
	}
	q := gateway.NewMarkReadQueue(marker, time.Millisecond, nil, metrics.New())
	q.Enqueue(g1, 1)
	q.Enqueue(g2, 2)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	select {
	case <-marker.done:
	case <-time.After(5 * time.Second):
		t.Fatal("queue stalled after a failed dispatch")
	}

	calls := marker.recorded()
	if calls[0].group != g1 || calls[1].group != g2 {
		t.Errorf("order: got %s then %s", calls[0].group.String(), calls[1].group.String())
	}
	if q.Len() != 0 {
		t.Errorf("queue still holds %d items", q.Len())
	}
}
