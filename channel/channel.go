package channel

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Schachte/gchat-api-reverse-engineer-sub002/auth"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/chat"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/events"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/logger"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/metrics"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/pblite"
)

const (
	channelPath = "/u/0/webchannel/events_encoded"

	// inactivityTimeout is the heartbeat-failure proxy: the server sends no
	// explicit heartbeats, so a stream with no frame for this long is dead.
	inactivityTimeout = 60 * time.Second

	// sendQueueDepth bounds the subscription/ping queue between the public
	// senders and the run loop.
	sendQueueDepth = 16
)

// ErrDisconnected is surfaced to senders whose request was pending when the
// stream went down or the channel was closed.
var ErrDisconnected = errors.New("channel: disconnected")

// Credentials supplies the auth snapshot attached to every channel request.
// *auth.Manager satisfies it.
type Credentials interface {
	Authenticate(ctx context.Context, force bool) (auth.AuthState, error)
}

// Options configures a Channel. Auth and Bus are required.
type Options struct {
	Auth    Credentials
	Bus     *events.Bus
	Mapper  *chat.Mapper
	Client  *http.Client
	BaseURL string
	Log     *logger.Logger
	Metrics *metrics.Metrics

	// Inactivity overrides the 60 s frame-inactivity timeout.
	Inactivity time.Duration

	// Sleep overrides the reconnect delay; tests inject a recorder.
	Sleep func(ctx context.Context, d time.Duration) error

	Now func() time.Time
}

type sendRequest struct {
	op   []any
	done chan error
}

// Channel owns one push stream. The run loop is the single owner of the
// Session: it reads frames, performs queued sends so the ack id on outgoing
// requests is always current, and reconnects with backoff when the stream
// drops. Public methods only enqueue.
type Channel struct {
	auth    Credentials
	bus     *events.Bus
	demux   *Demuxer
	client  *http.Client
	baseURL string
	log     *logger.Logger
	metrics *metrics.Metrics

	inactivity time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	now        func() time.Time

	sendQueue chan sendRequest
	session   *Session
	rid       int64
}

// New creates a Channel from opts.
func New(opts Options) (*Channel, error) {
	if opts.Auth == nil {
		return nil, errors.New("channel: Options.Auth is required")
	}
	if opts.Bus == nil {
		return nil, errors.New("channel: Options.Bus is required")
	}
	c := &Channel{
		auth:       opts.Auth,
		bus:        opts.Bus,
		client:     opts.Client,
		baseURL:    opts.BaseURL,
		log:        opts.Log,
		metrics:    opts.Metrics,
		inactivity: opts.Inactivity,
		sleep:      opts.Sleep,
		now:        opts.Now,
		sendQueue:  make(chan sendRequest, sendQueueDepth),
	}
	mapper := opts.Mapper
	if mapper == nil {
		mapper = chat.NewMapper(chat.NewDriftObserver(opts.Log))
	}
	c.demux = NewDemuxer(mapper)
	if c.client == nil {
		c.client = &http.Client{}
	}
	if c.baseURL == "" {
		c.baseURL = auth.ServiceOrigin
	}
	if c.metrics == nil {
		c.metrics = metrics.New()
	}
	if c.inactivity == 0 {
		c.inactivity = inactivityTimeout
	}
	if c.sleep == nil {
		c.sleep = func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		}
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c, nil
}

// SubscribeToAll registers the session for events across the given groups.
// Already-subscribed groups are skipped; subscribing twice is a no-op. The
// call blocks until the run loop has sent the registration or the stream
// went down.
func (c *Channel) SubscribeToAll(ctx context.Context, groups []chat.GroupId) error {
	ids := make([]any, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.String())
	}
	return c.enqueue(ctx, []any{"subscribe", ids})
}

// SendPing posts a small keepalive on the bidirectional endpoint.
func (c *Channel) SendPing(ctx context.Context) error {
	return c.enqueue(ctx, []any{"ping"})
}

func (c *Channel) enqueue(ctx context.Context, op []any) error {
	req := sendRequest{op: op, done: make(chan error, 1)}
	select {
	case c.sendQueue <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run connects and keeps the stream alive until ctx is cancelled. Each drop
// emits a disconnected event, waits out the backoff delay, and reconnects;
// the delay resets to 1 s after any successfully received frame.
func (c *Channel) Run(ctx context.Context) error {
	backoff := NewBackoff()
	for {
		err := c.connectOnce(ctx, backoff)
		c.drainSenders()
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.metrics.Reconnects.Add(1)
		delay := backoff.Next()
		c.logf("channel: stream dropped (%v), reconnecting in %s", err, delay)
		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// connectOnce performs one handshake and drives the stream until it drops.
// A disconnected event is emitted only if the stream reached the connected
// state first.
func (c *Channel) connectOnce(ctx context.Context, backoff *Backoff) (err error) {
	connected := false
	defer func() {
		if connected {
			c.bus.Publish(events.Event{Kind: events.KindDisconnected})
		}
	}()

	state, err := c.auth.Authenticate(ctx, false)
	if err != nil {
		return err
	}

	session, err := c.handshake(ctx, state)
	if err != nil {
		return err
	}
	c.session = session

	resp, err := c.openLongPoll(ctx, state)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	// The reader is scoped to this connection so it cannot outlive a
	// reconnect: closing the body fails its ReadFrame, and connCtx unblocks
	// a send in flight.
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	frames := make(chan []any)
	readErr := make(chan error, 1)
	go func() {
		r := bufio.NewReader(resp.Body)
		for {
			frame, err := ReadFrame(r)
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- frame:
			case <-connCtx.Done():
				return
			}
		}
	}()

	idle := time.NewTimer(c.inactivity)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErr:
			return err

		case <-idle.C:
			return fmt.Errorf("channel: no frame for %s", c.inactivity)

		case frame := <-frames:
			c.metrics.FramesReceived.Add(1)
			backoff.Reset()
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(c.inactivity)

			if !connected {
				connected = true
				c.bus.Publish(events.Event{Kind: events.KindConnected})
			}
			c.handleFrame(frame)

		case req := <-c.sendQueue:
			if !connected {
				req.done <- ErrDisconnected
				continue
			}
			req.done <- c.performSend(ctx, state, req.op)
		}
	}
}

// handshake establishes the session: a POST whose first framed chunk echoes
// the session and gsession identifiers as [[0, ["c", sid, gsessionId, 8]]].
func (c *Channel) handshake(ctx context.Context, state auth.AuthState) (*Session, error) {
	q := url.Values{
		"VER":  {"8"},
		"RID":  {strconv.FormatInt(c.nextRID(), 10)},
		"CVER": {"22"},
		"t":    {"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+channelPath+"?"+q.Encode(), strings.NewReader("count=0"))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.decorate(req, state)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("channel: handshake: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10)) //nolint:errcheck
		return nil, fmt.Errorf("channel: handshake returned HTTP %d", resp.StatusCode)
	}

	frame, err := ReadFrame(bufio.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("channel: handshake frame: %w", err)
	}
	sid, gsession, err := parseHandshake(frame)
	if err != nil {
		return nil, err
	}
	c.logf("channel: session established sid=%s", sid)
	return newSession(sid, gsession), nil
}

// parseHandshake extracts the identifiers from the handshake frame.
func parseHandshake(frame []any) (sid, gsession string, err error) {
	for _, el := range frame {
		pair, ok := el.([]any)
		if !ok || len(pair) < 2 {
			continue
		}
		body, ok := pair[1].([]any)
		if !ok || len(body) < 3 {
			continue
		}
		if tag, _ := body[0].(string); tag != "c" {
			continue
		}
		sid, _ = body[1].(string)
		gsession, _ = body[2].(string)
		if sid != "" {
			return sid, gsession, nil
		}
	}
	return "", "", errors.New("channel: handshake frame carries no session id")
}

// openLongPoll starts the receive stream for the current session.
func (c *Channel) openLongPoll(ctx context.Context, state auth.AuthState) (*http.Response, error) {
	q := url.Values{
		"VER":        {"8"},
		"gsessionid": {c.session.GSessionID()},
		"SID":        {c.session.SID()},
		"RID":        {"rpc"},
		"AID":        {strconv.FormatInt(c.session.AID(), 10)},
		"CI":         {"0"},
		"TYPE":       {"xmlhttp"},
		"t":          {"1"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+channelPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	c.decorate(req, state)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("channel: long poll: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("channel: long poll returned HTTP %d", resp.StatusCode)
	}
	return resp, nil
}

// handleFrame processes one received chunk: an array of [ackId, payload]
// pairs in ack order. Payloads of "noop" only advance the ack id.
func (c *Channel) handleFrame(frame []any) {
	for _, el := range frame {
		pair, ok := el.([]any)
		if !ok || len(pair) < 2 {
			continue
		}
		if id, ok := pair[0].(float64); ok {
			c.session.ack(int64(id))
		}
		if isNoop(pair[1]) {
			continue
		}
		ev := c.demux.Demux(pair[1])
		c.metrics.EventsPublished.Add(1)
		c.bus.Publish(ev)
	}
}

func isNoop(payload any) bool {
	if s, ok := payload.(string); ok {
		return s == "noop"
	}
	if arr, ok := payload.([]any); ok && len(arr) == 1 {
		s, ok := arr[0].(string)
		return ok && s == "noop"
	}
	return false
}

// performSend posts one queued operation on the bidirectional endpoint,
// echoing the current ack id.
func (c *Channel) performSend(ctx context.Context, state auth.AuthState, op []any) error {
	var newGroups []string
	if tag, _ := op[0].(string); tag == "subscribe" && len(op) > 1 {
		ids, _ := op[1].([]any)
		remaining := make([]any, 0, len(ids))
		for _, id := range ids {
			s, ok := id.(string)
			if !ok || c.session.isSubscribed(s) {
				continue
			}
			remaining = append(remaining, s)
			newGroups = append(newGroups, s)
		}
		// Everything already registered: subscribing again is a no-op.
		if len(remaining) == 0 {
			return nil
		}
		op = []any{"subscribe", remaining}
	}

	data, err := json.Marshal(op)
	if err != nil {
		return fmt.Errorf("channel: encode send: %w", err)
	}
	q := url.Values{
		"VER":        {"8"},
		"gsessionid": {c.session.GSessionID()},
		"SID":        {c.session.SID()},
		"RID":        {strconv.FormatInt(c.nextRID(), 10)},
		"AID":        {strconv.FormatInt(c.session.AID(), 10)},
		"t":          {"1"},
	}
	form := url.Values{
		"count":     {"1"},
		"ofs":       {"0"},
		"req0_data": {string(data)},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+channelPath+"?"+q.Encode(), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	c.decorate(req, state)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("channel: send: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10)) //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("channel: send returned HTTP %d", resp.StatusCode)
	}

	c.session.markSubscribed(newGroups)
	return nil
}

// drainSenders rejects every queued send after the stream dropped.
func (c *Channel) drainSenders() {
	for {
		select {
		case req := <-c.sendQueue:
			req.done <- ErrDisconnected
		default:
			return
		}
	}
}

// decorate attaches the credential headers the streaming endpoints require.
func (c *Channel) decorate(req *http.Request, state auth.AuthState) {
	req.Header.Set("Cookie", state.CookieHeader())
	req.Header.Set("Authorization", pblite.SAPISIDHash(c.now(), state.SAPISID(), auth.ServiceOrigin))
	req.Header.Set("X-Goog-Authuser", "0")
	req.Header.Set("Origin", auth.ServiceOrigin)
	req.Header.Set("Referer", auth.ServiceOrigin+"/")
}

func (c *Channel) nextRID() int64 {
	c.rid++
	return c.rid
}

func (c *Channel) logf(format string, args ...interface{}) {
	if c.log != nil {
		c.log.Debugf(format, args...)
	}
}

// PresenceSetter refreshes the server-side presence-shared flag. The chat
// client satisfies it.
type PresenceSetter interface {
	SetPresenceShared(ctx context.Context, timeoutSecs int) error
}

// StayOnline pings the channel and refreshes the presence-shared flag every
// interval until ctx is cancelled. presenceTimeout is the server-side flag
// timeout in seconds. Failures are logged and the loop keeps going; the run
// loop's reconnect handles a dead stream.
func (c *Channel) StayOnline(ctx context.Context, interval time.Duration, presenceTimeout int, presence PresenceSetter) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.SendPing(ctx); err != nil {
				c.logf("channel: keepalive ping: %v", err)
			}
			if presence != nil {
				if err := presence.SetPresenceShared(ctx, presenceTimeout); err != nil {
					c.logf("channel: presence refresh: %v", err)
				}
			}
		}
	}
}
