package cursor

import (
	"context"

	"github.com/Schachte/gchat-api-reverse-engineer-sub002/chat"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/logger"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/worker"
)

// DefaultParallelism is the expander's fan-out width.
const DefaultParallelism = 5

// ReplyFetcher fetches a topic's full reply list. The chat client
// satisfies it.
type ReplyFetcher interface {
	ListMessages(ctx context.Context, group chat.GroupId, topicID string, pageSize int) ([]chat.Message, error)
}

// Expander fills in the reply lists of topics whose embedded replies were
// truncated by the listing RPC.
type Expander struct {
	fetcher     ReplyFetcher
	parallelism int
	pageSize    int
	log         *logger.Logger
}

// NewExpander creates an Expander fetching up to pageSize replies per topic
// with the given fan-out width (defaulted when zero).
func NewExpander(fetcher ReplyFetcher, parallelism, pageSize int, log *logger.Logger) *Expander {
	if parallelism <= 0 {
		parallelism = DefaultParallelism
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Expander{fetcher: fetcher, parallelism: parallelism, pageSize: pageSize, log: log}
}

// Expand fetches full replies for every topic reporting more replies than
// it embeds and merges them in, preserving the input order. A failed fetch
// keeps the topic's truncated replies; expansion is never fatal.
func (x *Expander) Expand(ctx context.Context, topics []chat.Topic) []chat.Topic {
	out := make([]chat.Topic, len(topics))
	copy(out, topics)

	pool := worker.NewPool(x.parallelism)
	pool.Start()
	for i := range out {
		if !out[i].HasMoreReplies {
			continue
		}
		i := i
		pool.Submit(func() {
			topic := &out[i]
			replies, err := x.fetcher.ListMessages(ctx, topic.Group, topic.TopicID, x.pageSize)
			if err != nil {
				if x.log != nil {
					x.log.Errorf("cursor: expand %s: %v", topic.TopicID, err)
				}
				return
			}
			if len(replies) < len(topic.Replies) {
				// A shrunken reply list means the fetch raced a deletion;
				// the embedded copy is the better answer.
				return
			}
			topic.Replies = replies
			topic.ReplyCount = len(replies)
			topic.HasMoreReplies = false
		})
	}
	pool.Stop()
	return out
}
