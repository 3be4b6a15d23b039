package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/Schachte/gchat-api-reverse-engineer-sub002/chat"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/logger"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/metrics"
)

// markReadSpacing is the pause between successive mark-as-read dispatches.
const markReadSpacing = 100 * time.Millisecond

// Marker dispatches one mark-as-read RPC. The chat client satisfies it.
type Marker interface {
	MarkRead(ctx context.Context, group chat.GroupId, lastReadMicros int64) error
}

type markReadItem struct {
	group    chat.GroupId
	readTime int64
}

// MarkReadQueue coalesces rapid-fire mark-as-read requests. Enqueueing a
// group already in the queue moves it to the tail and keeps the newest read
// time, so on-login bursts touch the upstream once per group. A single
// consumer dispatches one RPC at a time with a fixed spacing; failures are
// logged and dropped so the queue never stalls on retries.
type MarkReadQueue struct {
	marker  Marker
	spacing time.Duration
	log     *logger.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	order   []string
	pending map[string]markReadItem
	wake    chan struct{}
}

// NewMarkReadQueue creates a queue dispatching through marker. A zero
// spacing uses the 100 ms default.
func NewMarkReadQueue(marker Marker, spacing time.Duration, log *logger.Logger, m *metrics.Metrics) *MarkReadQueue {
	if spacing == 0 {
		spacing = markReadSpacing
	}
	if m == nil {
		m = metrics.New()
	}
	return &MarkReadQueue{
		marker:  marker,
		spacing: spacing,
		log:     log,
		metrics: m,
		pending: make(map[string]markReadItem),
		wake:    make(chan struct{}, 1),
	}
}

// Enqueue adds or refreshes a group's mark-as-read request.
func (q *MarkReadQueue) Enqueue(group chat.GroupId, readTimeMicros int64) {
	key := group.String()
	q.mu.Lock()
	if _, queued := q.pending[key]; queued {
		for i, k := range q.order {
			if k == key {
				q.order = append(q.order[:i], q.order[i+1:]...)
				break
			}
		}
	}
	q.order = append(q.order, key)
	q.pending[key] = markReadItem{group: group, readTime: readTimeMicros}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of queued groups.
func (q *MarkReadQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Run consumes the queue until ctx is cancelled.
func (q *MarkReadQueue) Run(ctx context.Context) {
	for {
		item, ok := q.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}

		if err := q.marker.MarkRead(ctx, item.group, item.readTime); err != nil {
			if q.log != nil {
				q.log.Errorf("gateway: mark read %s: %v", item.group.String(), err)
			}
		} else {
			q.metrics.MarkReadDispatched.Add(1)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(q.spacing):
		}
	}
}

func (q *MarkReadQueue) pop() (markReadItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.order) == 0 {
		return markReadItem{}, false
	}
	key := q.order[0]
	q.order = q.order[1:]
	item := q.pending[key]
	delete(q.pending, key)
	return item, true
}
