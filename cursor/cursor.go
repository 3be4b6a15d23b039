// Package cursor drives the paginated topic listing: a cursor engine that
// walks a group's topics newest-first within an optional time range, and a
// thread expander that fills in truncated reply lists with bounded
// parallelism.
package cursor

import (
	"context"
	"errors"
	"fmt"

	"github.com/Schachte/gchat-api-reverse-engineer-sub002/chat"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/logger"
)

// Page size bounds for a single listing request.
const (
	DefaultPageSize = 100
	MaxPageSize     = 500
)

// ErrExhausted is returned by Next once the pagination has terminated.
var ErrExhausted = errors.New("cursor: pagination exhausted")

// ErrCursorGroupMismatch rejects resuming with cursors persisted for a
// different group.
var ErrCursorGroupMismatch = errors.New("cursor: persisted cursors belong to a different group")

// Lister fetches one page of topics. The chat client satisfies it.
type Lister interface {
	ListTopics(ctx context.Context, group chat.GroupId, pageSize int, cursors chat.Cursors) (chat.TopicListPage, error)
}

// Options configures one pagination.
type Options struct {
	// Group is the conversation to list. Required.
	Group chat.GroupId

	// PageSize per request; defaulted and capped by the bounds above.
	PageSize int

	// Since and Until bound the half-open range [Since, Until) in
	// microseconds. Zero disables a bound.
	Since int64
	Until int64

	// Resume continues a previous pagination from its persisted cursor
	// triple. Must carry the same group.
	Resume chat.Cursors

	// MaxPages stops the walk after this many pages. Zero means unbounded.
	MaxPages int
}

// Page is one engine step: the topics that survived the time bounds, the
// cursor triple to persist for resume, and the termination signals.
type Page struct {
	Topics               []chat.Topic
	NextCursors          chat.Cursors
	ReachedSinceBoundary bool
	ContainsFirstTopic   bool
	ContainsLastTopic    bool
}

// Engine walks one pagination. Not safe for concurrent use; each pagination
// owns one engine.
//
// The server returns topics newest-first. The anchor timestamp from the
// first response is echoed on every later request while the two advancing
// cursors move per page. Duplicate topics can appear at page boundaries, so
// the engine tracks seen topic ids and emits each topic exactly once.
type Engine struct {
	lister Lister
	opts   Options
	log    *logger.Logger

	cursors   chat.Cursors
	seen      map[string]struct{}
	pagesDone int
	done      bool
}

// NewEngine validates opts and prepares a pagination.
func NewEngine(lister Lister, opts Options, log *logger.Logger) (*Engine, error) {
	if opts.Group.IsZero() {
		return nil, errors.New("cursor: Options.Group is required")
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.PageSize > MaxPageSize {
		opts.PageSize = MaxPageSize
	}
	if !opts.Resume.IsZero() && opts.Resume.GroupID != opts.Group.String() {
		return nil, fmt.Errorf("%w: cursors for %q, listing %q",
			ErrCursorGroupMismatch, opts.Resume.GroupID, opts.Group.String())
	}
	return &Engine{
		lister:  lister,
		opts:    opts,
		log:     log,
		cursors: opts.Resume,
		seen:    make(map[string]struct{}),
	}, nil
}

// Cursors returns the triple to persist for resuming after the last
// delivered page.
func (e *Engine) Cursors() chat.Cursors { return e.cursors }

// Next fetches and returns the next page, or ErrExhausted once a
// termination condition has been met: the server reported the first (oldest)
// topic, the page crossed the since bound, or MaxPages was reached.
func (e *Engine) Next(ctx context.Context) (Page, error) {
	if e.done {
		return Page{}, ErrExhausted
	}

	raw, err := e.lister.ListTopics(ctx, e.opts.Group, e.opts.PageSize, e.cursors)
	if err != nil {
		return Page{}, err
	}
	e.pagesDone++
	e.cursors = raw.Cursors
	e.cursors.GroupID = e.opts.Group.String()

	// Pages arrive newest-first, so once the oldest topic of the raw page
	// falls below since there is nothing further back worth fetching.
	var oldest int64
	for _, t := range raw.Topics {
		if oldest == 0 || t.SortTime < oldest {
			oldest = t.SortTime
		}
	}

	page := Page{
		NextCursors:        e.cursors,
		ContainsFirstTopic: raw.ContainsFirstTopic,
		ContainsLastTopic:  raw.ContainsLastTopic,
	}
	for _, t := range raw.Topics {
		if e.opts.Since > 0 && t.SortTime < e.opts.Since {
			continue
		}
		if e.opts.Until > 0 && t.SortTime >= e.opts.Until {
			continue
		}
		if _, dup := e.seen[t.TopicID]; dup {
			continue
		}
		e.seen[t.TopicID] = struct{}{}
		page.Topics = append(page.Topics, t)
	}

	switch {
	case raw.ContainsFirstTopic:
		e.done = true
	case e.opts.Since > 0 && len(raw.Topics) > 0 && oldest < e.opts.Since:
		page.ReachedSinceBoundary = true
		e.done = true
	case e.opts.MaxPages > 0 && e.pagesDone >= e.opts.MaxPages:
		e.done = true
	case len(raw.Topics) == 0:
		e.done = true
	}

	if e.log != nil {
		e.log.Debugf("cursor: page %d for %s: %d topics (%d after bounds), done=%v",
			e.pagesDone, e.opts.Group.String(), len(raw.Topics), len(page.Topics), e.done)
	}
	return page, nil
}

// Run drives the pagination to completion, invoking fn per page. It stops
// early when fn returns an error or ctx is cancelled, leaving the engine
// resumable from Cursors().
func (e *Engine) Run(ctx context.Context, fn func(Page) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := e.Next(ctx)
		if errors.Is(err, ErrExhausted) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(page); err != nil {
			return err
		}
		if e.done {
			return nil
		}
	}
}
