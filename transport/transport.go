package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Schachte/gchat-api-reverse-engineer-sub002/auth"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/logger"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/metrics"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/pblite"
)

const (
	protoJSONPath    = "/api/"
	batchExecutePath = "/_/DynamiteWebUi/data/batchexecute"

	protoJSONContentType = "application/json+protobuf"
	formContentType      = "application/x-www-form-urlencoded;charset=UTF-8"

	// serverErrorBackoff is the pause before the single 5xx retry.
	serverErrorBackoff = 500 * time.Millisecond

	// defaultRetryAfter is assumed when a 429 carries no Retry-After header.
	defaultRetryAfter = 30 * time.Second
)

// ErrUnauthorized means the upstream rejected the credentials even after a
// token refresh. The session cookies themselves are likely dead.
var ErrUnauthorized = errors.New("transport: unauthorized after credential refresh")

// RateLimitedError is returned for upstream 429 responses. Callers decide
// whether to honour RetryAfter or give up.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("transport: rate limited, retry after %s", e.RetryAfter)
}

// UpstreamError is a non-retryable upstream failure status.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("transport: upstream returned HTTP %d: %s", e.Status, e.Body)
}

// Options configures a Transport. Auth is required.
type Options struct {
	// Auth supplies credentials and handles 401-triggered refreshes.
	Auth *auth.Manager

	// Client overrides the HTTP client. The default is a Chrome-fingerprinted
	// HTTP/2 client; tests inject a plain one.
	Client *http.Client

	// BaseURL overrides the service origin.
	BaseURL string

	// Timeout bounds each request attempt. Applied to the default client
	// only; an injected Client keeps its own timeout. Defaults to 30 s.
	Timeout time.Duration

	Log     *logger.Logger
	Metrics *metrics.Metrics

	// Now overrides the clock used for the Authorization hash.
	Now func() time.Time
}

// Transport executes upstream RPCs with the credential headers attached and
// a small, fixed retry policy: one re-authenticated retry when the
// credentials are rejected (a 401, or a 200 serving the sign-in page), one
// delayed retry on 5xx, and no retry on 429 (the rate-limit error is
// surfaced so the caller can pace itself).
type Transport struct {
	auth    *auth.Manager
	client  *http.Client
	baseURL string
	log     *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a Transport from opts.
func New(opts Options) (*Transport, error) {
	if opts.Auth == nil {
		return nil, errors.New("transport: Options.Auth is required")
	}
	t := &Transport{
		auth:    opts.Auth,
		client:  opts.Client,
		baseURL: opts.BaseURL,
		log:     opts.Log,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
	if t.client == nil {
		timeout := opts.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		t.client = &http.Client{
			Transport: NewChromeH2Transport(H2Config{}),
			Timeout:   timeout,
		}
	}
	if t.baseURL == "" {
		t.baseURL = auth.ServiceOrigin
	}
	if t.metrics == nil {
		t.metrics = metrics.New()
	}
	if t.now == nil {
		t.now = time.Now
	}
	return t, nil
}

// CallProtoJSON invokes one RPC on the protojson endpoint: POST
// /api/{method}?alt=protojson&key=… with the PBLite request document as the
// body. It returns the decoded PBLite response document.
func (t *Transport) CallProtoJSON(ctx context.Context, method string, request any) (pblite.Doc, error) {
	encoded, err := pblite.Encode(request)
	if err != nil {
		return nil, fmt.Errorf("transport: encode %s request: %w", method, err)
	}
	url := t.baseURL + protoJSONPath + method + "?alt=protojson&key=" + auth.APIKey

	body, err := t.execute(ctx, method, func(auth.AuthState) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(encoded)))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", protoJSONContentType)
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	stripped, err := pblite.StripXSSI(body)
	if err != nil {
		return nil, fmt.Errorf("transport: %s response: %w", method, err)
	}
	doc, err := pblite.Decode(stripped)
	if err != nil {
		return nil, fmt.Errorf("transport: decode %s response: %w", method, err)
	}
	return doc, nil
}

// CallBatch invokes one RPC on the batchexecute endpoint and returns the
// payload document of the unit matching rpcID.
func (t *Transport) CallBatch(ctx context.Context, rpcID string, request any) (pblite.Doc, error) {
	url := t.baseURL + batchExecutePath

	// The form carries the xsrf token, so it is rebuilt per attempt with the
	// state the retry loop hands back.
	body, err := t.execute(ctx, rpcID, func(state auth.AuthState) (*http.Request, error) {
		form, err := pblite.BuildBatchForm(rpcID, request, state.XSRFToken)
		if err != nil {
			return nil, fmt.Errorf("build batch form: %w", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(form))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", formContentType)
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	stripped, err := pblite.StripXSSI(body)
	if err != nil {
		return nil, fmt.Errorf("transport: %s batch response: %w", rpcID, err)
	}
	units, err := pblite.ParseBatch(stripped)
	if err != nil {
		return nil, fmt.Errorf("transport: %s: %w", rpcID, err)
	}
	for _, u := range units {
		if u.RPCID == rpcID {
			return u.Payload, nil
		}
	}
	return nil, fmt.Errorf("transport: batch response missing unit for %s", rpcID)
}

// errSignedOut is attempt's internal signal that the credentials were
// rejected: an HTTP 401, or a 200 whose body is the sign-in page instead of
// an XSSI-guarded payload. execute answers it with one credential refresh.
var errSignedOut = errors.New("transport: credentials rejected")

// execute runs one RPC through the retry policy. build is invoked once per
// attempt so retried requests get a fresh body and fresh credential headers.
func (t *Transport) execute(ctx context.Context, name string, build func(auth.AuthState) (*http.Request, error)) ([]byte, error) {
	t.metrics.RPCTotal.Add(1)

	state, err := t.auth.Authenticate(ctx, false)
	if err != nil {
		t.metrics.RPCFailed.Add(1)
		return nil, err
	}

	body, err := t.attempt(ctx, name, build, state)
	if errors.Is(err, errSignedOut) {
		t.metrics.RPCRetried.Add(1)
		t.logf("transport: %s hit expired credentials, refreshing", name)
		state, err = t.auth.RefreshXSRF(ctx)
		if err != nil {
			t.metrics.RPCFailed.Add(1)
			return nil, err
		}
		body, err = t.attempt(ctx, name, build, state)
		if errors.Is(err, errSignedOut) {
			t.metrics.RPCFailed.Add(1)
			return nil, ErrUnauthorized
		}
	}
	if err != nil {
		t.metrics.RPCFailed.Add(1)
		return nil, err
	}
	t.metrics.RPCSuccess.Add(1)
	return body, nil
}

// attempt performs one credentialed try: dispatch, the single delayed 5xx
// retry, status mapping, and body decoding.
func (t *Transport) attempt(ctx context.Context, name string, build func(auth.AuthState) (*http.Request, error), state auth.AuthState) ([]byte, error) {
	resp, err := t.send(build, state)
	if err != nil {
		return nil, fmt.Errorf("transport: %s: %w", name, err)
	}

	if resp.StatusCode >= 500 {
		drain(resp)
		t.metrics.RPCRetried.Add(1)
		t.logf("transport: %s returned %d, retrying once", name, resp.StatusCode)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(serverErrorBackoff):
		}
		resp, err = t.send(build, state)
		if err != nil {
			return nil, fmt.Errorf("transport: %s: %w", name, err)
		}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		drain(resp)
		return nil, errSignedOut
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		drain(resp)
		return nil, &RateLimitedError{RetryAfter: retryAfter}
	case resp.StatusCode != http.StatusOK:
		body, _ := decodeBody(resp)
		resp.Body.Close()
		return nil, &UpstreamError{Status: resp.StatusCode, Body: truncateBody(body)}
	}

	body, err := decodeBody(resp)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	// Expired sessions also show up as a 200 carrying the HTML sign-in page.
	// Every real payload opens with the XSSI guard, so its absence is the
	// signed-out sentinel.
	if _, guardErr := pblite.StripXSSI(body); guardErr != nil {
		return nil, errSignedOut
	}
	return body, nil
}

// send builds a fresh request, decorates it with the credential headers, and
// dispatches it.
func (t *Transport) send(build func(auth.AuthState) (*http.Request, error), state auth.AuthState) (*http.Response, error) {
	req, err := build(state)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cookie", state.CookieHeader())
	req.Header.Set("Authorization", pblite.SAPISIDHash(t.now(), state.SAPISID(), auth.ServiceOrigin))
	req.Header.Set("X-Framework-Xsrf-Token", state.XSRFToken)
	req.Header.Set("X-Goog-Authuser", "0")
	req.Header.Set("Origin", auth.ServiceOrigin)
	req.Header.Set("Referer", auth.ServiceOrigin+"/")
	return t.client.Do(req)
}

func (t *Transport) logf(format string, args ...interface{}) {
	if t.log != nil {
		t.log.Debugf(format, args...)
	}
}

// drain discards and closes a response body so the connection can be reused.
func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10)) //nolint:errcheck
	resp.Body.Close()
}

// parseRetryAfter reads a Retry-After header given in seconds.
func parseRetryAfter(header string) time.Duration {
	if secs, err := strconv.Atoi(strings.TrimSpace(header)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	return defaultRetryAfter
}

// truncateBody bounds the body excerpt carried inside an UpstreamError.
func truncateBody(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max]) + "…"
	}
	return string(body)
}
