// Package gateway exposes the client as a local HTTP service: REST routes
// over the chat RPCs, a WebSocket fan-out of the event bus, an authenticated
// media proxy, and a coalescing mark-as-read queue.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Schachte/gchat-api-reverse-engineer-sub002/auth"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/chat"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/cursor"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/events"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/logger"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/metrics"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/transport"
)

// ChatAPI is the slice of the chat client the REST handlers need. The
// concrete client satisfies it; tests substitute a fake.
type ChatAPI interface {
	WhoAmI(ctx context.Context) (chat.UserRef, error)
	ListWorld(ctx context.Context, cursorMicros int64) ([]chat.WorldItem, int64, error)
	Notifications(ctx context.Context) ([]chat.WorldItem, error)
	ListTopics(ctx context.Context, group chat.GroupId, pageSize int, cursors chat.Cursors) (chat.TopicListPage, error)
	ListMessages(ctx context.Context, group chat.GroupId, topicID string, pageSize int) ([]chat.Message, error)
	GetTopic(ctx context.Context, group chat.GroupId, topicID string, pageSize int) (chat.Topic, error)
	PostTopic(ctx context.Context, group chat.GroupId, text string) (chat.Message, error)
	PostReply(ctx context.Context, group chat.GroupId, topicID, text string) (chat.Message, error)
	MarkRead(ctx context.Context, group chat.GroupId, lastReadMicros int64) error
	Presence(ctx context.Context, userIDs []string) ([]chat.Presence, error)
}

// AuthSource supplies the credential snapshot the proxy needs.
// *auth.Manager satisfies it.
type AuthSource interface {
	Authenticate(ctx context.Context, force bool) (auth.AuthState, error)
}

// Options configures a Server. Client and Auth are required.
type Options struct {
	Client ChatAPI
	Auth   AuthSource
	Bus    *events.Bus

	Log     *logger.Logger
	Metrics *metrics.Metrics
	LogRing *LogRing

	// ProxyClient performs the media proxy's upstream fetches.
	ProxyClient *http.Client

	// MarkReadSpacing overrides the queue's dispatch spacing.
	MarkReadSpacing time.Duration

	// CacheDir holds persisted gateway state such as favorites.json.
	// Empty disables the favorites routes.
	CacheDir string

	// PageSize is the topics-per-page default when a request carries no
	// pageSize parameter. Zero means cursor.DefaultPageSize.
	PageSize int

	// MaxPages bounds how many upstream pages one thread-listing request
	// walks before answering. Zero means one.
	MaxPages int

	// ExpandParallelism is the thread expander's fan-out width. Zero lets
	// the expander choose.
	ExpandParallelism int

	Now func() time.Time
}

// Server is the local HTTP gateway.
type Server struct {
	client      ChatAPI
	auth        AuthSource
	hub         *Hub
	markRead    *MarkReadQueue
	log         *logger.Logger
	metrics     *metrics.Metrics
	logRing     *LogRing
	proxyClient *http.Client
	cacheDir    string
	pageSize    int
	maxPages    int
	expandWidth int
	now         func() time.Time
}

// New creates a Server from opts.
func New(opts Options) (*Server, error) {
	if opts.Client == nil {
		return nil, errors.New("gateway: Options.Client is required")
	}
	if opts.Auth == nil {
		return nil, errors.New("gateway: Options.Auth is required")
	}
	s := &Server{
		client:      opts.Client,
		auth:        opts.Auth,
		log:         opts.Log,
		metrics:     opts.Metrics,
		logRing:     opts.LogRing,
		proxyClient: opts.ProxyClient,
		cacheDir:    opts.CacheDir,
		pageSize:    opts.PageSize,
		maxPages:    opts.MaxPages,
		expandWidth: opts.ExpandParallelism,
		now:         opts.Now,
	}
	if s.pageSize == 0 {
		s.pageSize = cursor.DefaultPageSize
	}
	if s.maxPages == 0 {
		s.maxPages = 1
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	if s.proxyClient == nil {
		s.proxyClient = &http.Client{Timeout: 30 * time.Second}
	}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.Bus != nil {
		s.hub = NewHub(opts.Bus, opts.Log, s.metrics)
	}
	s.markRead = NewMarkReadQueue(opts.Client, opts.MarkReadSpacing, opts.Log, s.metrics)
	return s, nil
}

// Start launches the background consumers. Call once; they stop with ctx.
func (s *Server) Start(ctx context.Context) {
	go s.markRead.Run(ctx)
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/whoami", s.handleWhoAmI)
	mux.HandleFunc("GET /api/notifications", s.handleNotifications)
	mux.HandleFunc("GET /api/presence", s.handlePresence)
	// The id segment is the flattened group form, so "space/abc" spans two
	// path segments.
	mux.HandleFunc("POST /api/mark-read/{id...}", s.handleMarkRead)
	mux.HandleFunc("GET /api/proxy", s.handleProxy)
	mux.HandleFunc("GET /api/metrics", s.handleMetrics)
	mux.HandleFunc("GET /api/logs", s.handleLogs)
	mux.HandleFunc("GET /api/favorites", s.handleFavoritesGet)
	mux.HandleFunc("PUT /api/favorites", s.handleFavoritesPut)

	mux.HandleFunc("GET /api/spaces", s.groupList(chat.KindSpace))
	mux.HandleFunc("GET /api/spaces/{id}/threads", s.threadList(chat.SpaceID))
	mux.HandleFunc("GET /api/spaces/{id}/threads/{topicId}", s.threadGet(chat.SpaceID))
	mux.HandleFunc("POST /api/spaces/{id}/messages", s.topicPost(chat.SpaceID))
	mux.HandleFunc("POST /api/spaces/{id}/threads/{topicId}/replies", s.replyPost(chat.SpaceID))

	mux.HandleFunc("GET /api/dms", s.groupList(chat.KindDm))
	mux.HandleFunc("GET /api/dms/{id}/threads", s.threadList(chat.DmID))
	mux.HandleFunc("GET /api/dms/{id}/threads/{topicId}", s.threadGet(chat.DmID))
	mux.HandleFunc("POST /api/dms/{id}/messages", s.topicPost(chat.DmID))
	mux.HandleFunc("POST /api/dms/{id}/threads/{topicId}/replies", s.replyPost(chat.DmID))

	if s.hub != nil {
		mux.Handle("GET /ws", s.hub)
	}
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	user, err := s.client.WhoAmI(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// groupList serves /api/spaces and /api/dms: the world list filtered to one
// group kind, paginated by a microsecond cursor.
func (s *Server) groupList(kind chat.GroupKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var cursorMicros int64
		if raw := r.URL.Query().Get("cursor"); raw != "" {
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || n < 0 {
				http.Error(w, "bad cursor", http.StatusBadRequest)
				return
			}
			cursorMicros = n
		}
		items, next, err := s.client.ListWorld(r.Context(), cursorMicros)
		if err != nil {
			s.writeError(w, err)
			return
		}
		filtered := make([]chat.WorldItem, 0, len(items))
		for _, item := range items {
			if item.Group.Kind == kind {
				filtered = append(filtered, item)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items":       filtered,
			"next_cursor": next,
		})
	}
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	items, err := s.client.Notifications(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// threadList serves one page of a group's topics. Query parameters:
// pageSize, cursor (the next_cursors object from the previous page),
// since/until time bounds, and format=threaded|messages.
func (s *Server) threadList(makeGroup func(string) chat.GroupId) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		group := makeGroup(r.PathValue("id"))
		q := r.URL.Query()

		pageSize, err := parsePageSize(q.Get("pageSize"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if pageSize == 0 {
			pageSize = s.pageSize
		}
		since, err := parseTimeArg(q.Get("since"), s.now())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		until, err := parseTimeArg(q.Get("until"), s.now())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var resume chat.Cursors
		if raw := q.Get("cursor"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &resume); err != nil {
				http.Error(w, "unparseable cursor", http.StatusBadRequest)
				return
			}
		}

		engine, err := cursor.NewEngine(s.client, cursor.Options{
			Group:    group,
			PageSize: pageSize,
			Since:    since,
			Until:    until,
			Resume:   resume,
			MaxPages: s.maxPages,
		}, s.log)
		if err != nil {
			if errors.Is(err, cursor.ErrCursorGroupMismatch) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			s.writeError(w, err)
			return
		}
		var collected []chat.Topic
		var last cursor.Page
		err = engine.Run(r.Context(), func(p cursor.Page) error {
			collected = append(collected, p.Topics...)
			last = p
			return nil
		})
		if err != nil {
			s.writeError(w, err)
			return
		}

		expander := cursor.NewExpander(s.client, s.expandWidth, pageSize, s.log)
		topics := expander.Expand(r.Context(), collected)

		body := map[string]any{
			"next_cursors":           last.NextCursors,
			"reached_since_boundary": last.ReachedSinceBoundary,
			"contains_first_topic":   last.ContainsFirstTopic,
		}
		if q.Get("format") == "messages" {
			body["messages"] = flattenMessages(topics)
		} else {
			body["topics"] = topics
		}
		writeJSON(w, http.StatusOK, body)
	}
}

// flattenMessages collapses topics into one message list ordered by
// timestamp ascending.
func flattenMessages(topics []chat.Topic) []chat.Message {
	out := make([]chat.Message, 0, len(topics))
	for _, t := range topics {
		out = append(out, t.Replies...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

func (s *Server) threadGet(makeGroup func(string) chat.GroupId) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		group := makeGroup(r.PathValue("id"))
		topic, err := s.client.GetTopic(r.Context(), group, r.PathValue("topicId"), s.pageSize)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, topic)
	}
}

type postBody struct {
	Text string `json:"text"`
}

func readPostBody(r *http.Request) (postBody, error) {
	var body postBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return body, errors.New("unparseable request body")
	}
	if strings.TrimSpace(body.Text) == "" {
		return body, errors.New("text is required")
	}
	return body, nil
}

func (s *Server) topicPost(makeGroup func(string) chat.GroupId) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readPostBody(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		msg, err := s.client.PostTopic(r.Context(), makeGroup(r.PathValue("id")), body.Text)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	}
}

func (s *Server) replyPost(makeGroup func(string) chat.GroupId) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readPostBody(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		msg, err := s.client.PostReply(r.Context(), makeGroup(r.PathValue("id")), r.PathValue("topicId"), body.Text)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	}
}

// handleMarkRead enqueues a mark-as-read; the queue dispatches it with
// coalescing and spacing, so the response is 202, not a completion signal.
func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	group := chat.ParseGroupID(r.PathValue("id"))
	if group.IsZero() {
		http.Error(w, "bad group id", http.StatusBadRequest)
		return
	}
	readTime := s.now().UnixMicro()
	var body struct {
		ReadTime int64 `json:"read_time"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.ReadTime > 0 {
		readTime = body.ReadTime
	}
	s.markRead.Enqueue(group, readTime)
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": true})
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("userIds")
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		http.Error(w, "userIds is required", http.StatusBadRequest)
		return
	}
	presences, err := s.client.Presence(r.Context(), ids)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"presences": presences})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	var entries []LogEntry
	if s.logRing != nil {
		entries = s.logRing.Entries()
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// writeError maps transport failures onto gateway status codes.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var rateLimited *transport.RateLimitedError
	var upstream *transport.UpstreamError
	switch {
	case errors.Is(err, transport.ErrUnauthorized):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.As(err, &rateLimited):
		w.Header().Set("Retry-After", strconv.Itoa(int(rateLimited.RetryAfter/time.Second)))
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	case errors.As(err, &upstream):
		http.Error(w, err.Error(), http.StatusBadGateway)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
	if s.log != nil {
		s.log.Errorf("gateway: %v", err)
	}
}

func parsePageSize(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("bad pageSize")
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
