package transport_test

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Schachte/gchat-api-reverse-engineer-sub002/auth"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/metrics"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/transport"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/vault"
)

type stubSource struct{}

func (stubSource) Extract(required, optional []string) (map[string]vault.Cookie, error) {
	out := map[string]vault.Cookie{}
	for _, name := range []string{"SID", "HSID", "SSID", "OSID", "SAPISID"} {
		out[name] = vault.Cookie{Name: name, Value: strings.ToLower(name) + "-v"}
	}
	return out, nil
}

// testStack wires a bootstrap page and an API handler behind one test server
// and returns a transport pointed at it.
func testStack(t *testing.T, api http.HandlerFunc) (*transport.Transport, *metrics.Metrics) {
	t.Helper()

	var tokenSerial atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/u/0/mole/world", func(w http.ResponseWriter, r *http.Request) {
		n := tokenSerial.Add(1)
		page := `<script>window.WIZ_global_data = {"SMqcke":"tok-` +
			strings.Repeat("i", int(n)) + `","qwAQke":"DynamiteUi"};</script>`
		w.Write([]byte(page))
	})
	mux.HandleFunc("/", api)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	mgr, err := auth.NewManager(auth.ManagerOptions{
		Source:       stubSource{},
		BootstrapURL: srv.URL + "/u/0/mole/world",
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	m := metrics.New()
	// DisableCompression keeps net/http from transparently inflating gzip
	// responses so the transport's own decoder is what gets tested.
	client := &http.Client{Transport: &http.Transport{DisableCompression: true}}
	tr, err := transport.New(transport.Options{
		Auth:    mgr,
		Client:  client,
		BaseURL: srv.URL,
		Metrics: m,
	})
	if err != nil {
		t.Fatalf("transport.New: %v", err)
	}
	return tr, m
}

func TestCallProtoJSON_RequestShape(t *testing.T) {
	var got *http.Request
	var gotBody []byte
	tr, m := testStack(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(r.Context())
		gotBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(")]}'\n[\"pong\",7]"))
	})

	doc, err := tr.CallProtoJSON(context.Background(), "ping", []any{"ping", 1})
	if err != nil {
		t.Fatalf("CallProtoJSON error: %v", err)
	}
	if len(doc) != 2 || doc[0] != "pong" {
		t.Errorf("decoded doc: got %v", doc)
	}

	if got.URL.Path != "/api/ping" {
		t.Errorf("path: got %q", got.URL.Path)
	}
	q := got.URL.Query()
	if q.Get("alt") != "protojson" || q.Get("key") == "" {
		t.Errorf("query: got %q", got.URL.RawQuery)
	}
	if ct := got.Header.Get("Content-Type"); ct != "application/json+protobuf" {
		t.Errorf("content type: got %q", ct)
	}
	if !strings.HasPrefix(got.Header.Get("Authorization"), "SAPISIDHASH ") {
		t.Errorf("authorization: got %q", got.Header.Get("Authorization"))
	}
	if !strings.Contains(got.Header.Get("Cookie"), "SID=sid-v") {
		t.Errorf("cookie header: got %q", got.Header.Get("Cookie"))
	}
	if tok := got.Header.Get("X-Framework-Xsrf-Token"); tok != "tok-i" {
		t.Errorf("xsrf header: got %q", tok)
	}
	if au := got.Header.Get("X-Goog-Authuser"); au != "0" {
		t.Errorf("authuser: got %q", au)
	}
	if string(gotBody) != `["ping",1]` {
		t.Errorf("request body: got %s", gotBody)
	}
	if m.RPCSuccess.Load() != 1 {
		t.Errorf("RPCSuccess: got %d", m.RPCSuccess.Load())
	}
}

func TestCallBatch_RoundTrip(t *testing.T) {
	var gotForm map[string][]string
	tr, _ := testStack(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/_/DynamiteWebUi/data/batchexecute" {
			t.Errorf("batch path: got %q", r.URL.Path)
		}
		r.ParseForm()
		gotForm = r.PostForm

		payload, _ := json.Marshal([]any{"inner", 42})
		unit := []any{[]any{[]any{"listRpc", string(payload), nil, "generic"}}}
		line, _ := json.Marshal(unit)
		w.Write([]byte(")]}'\n\n42\n" + string(line) + "\n"))
	})

	doc, err := tr.CallBatch(context.Background(), "listRpc", []any{"req"})
	if err != nil {
		t.Fatalf("CallBatch error: %v", err)
	}
	if len(doc) != 2 || doc[0] != "inner" {
		t.Errorf("payload doc: got %v", doc)
	}

	if !strings.Contains(gotForm["f.req"][0], "listRpc") {
		t.Errorf("f.req missing rpc id: %v", gotForm["f.req"])
	}
	if gotForm["at"][0] != "tok-i" {
		t.Errorf("at token: got %q", gotForm["at"][0])
	}
}

func TestExecute_401RefreshesAndRetries(t *testing.T) {
	var apiHits atomic.Int32
	var secondToken string
	tr, m := testStack(t, func(w http.ResponseWriter, r *http.Request) {
		if apiHits.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		secondToken = r.Header.Get("X-Framework-Xsrf-Token")
		w.Write([]byte(")]}'\n[1]"))
	})

	if _, err := tr.CallProtoJSON(context.Background(), "ping", []any{}); err != nil {
		t.Fatalf("CallProtoJSON error: %v", err)
	}
	if apiHits.Load() != 2 {
		t.Errorf("api hits: got %d, want 2", apiHits.Load())
	}
	if secondToken != "tok-ii" {
		t.Errorf("retry token: got %q, want the refreshed tok-ii", secondToken)
	}
	if m.RPCRetried.Load() != 1 {
		t.Errorf("RPCRetried: got %d", m.RPCRetried.Load())
	}
}

func TestExecute_401TwiceSurfacesUnauthorized(t *testing.T) {
	tr, _ := testStack(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	if _, err := tr.CallProtoJSON(context.Background(), "ping", []any{}); !errors.Is(err, transport.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestExecute_RateLimited(t *testing.T) {
	tr, _ := testStack(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := tr.CallProtoJSON(context.Background(), "ping", []any{})
	var limited *transport.RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if limited.RetryAfter != 2*time.Minute {
		t.Errorf("RetryAfter: got %s, want 2m", limited.RetryAfter)
	}
}

func TestExecute_ServerErrorRetriesOnce(t *testing.T) {
	var apiHits atomic.Int32
	tr, _ := testStack(t, func(w http.ResponseWriter, r *http.Request) {
		if apiHits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(")]}'\n[1]"))
	})

	if _, err := tr.CallProtoJSON(context.Background(), "ping", []any{}); err != nil {
		t.Fatalf("CallProtoJSON error: %v", err)
	}
	if apiHits.Load() != 2 {
		t.Errorf("api hits: got %d, want 2", apiHits.Load())
	}
}

func TestExecute_PersistentServerError(t *testing.T) {
	tr, m := testStack(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := tr.CallProtoJSON(context.Background(), "ping", []any{})
	var upstream *transport.UpstreamError
	if !errors.As(err, &upstream) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if upstream.Status != http.StatusBadGateway {
		t.Errorf("status: got %d", upstream.Status)
	}
	if m.RPCFailed.Load() != 1 {
		t.Errorf("RPCFailed: got %d", m.RPCFailed.Load())
	}
}

func TestDecodeBody_Gzip(t *testing.T) {
	tr, _ := testStack(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		gz.Write([]byte(")]}'\n[\"compressed\"]"))
		gz.Close()
	})

	doc, err := tr.CallProtoJSON(context.Background(), "ping", []any{})
	if err != nil {
		t.Fatalf("CallProtoJSON error: %v", err)
	}
	if len(doc) != 1 || doc[0] != "compressed" {
		t.Errorf("decoded doc: got %v", doc)
	}
}

func TestExecute_SignInPageRefreshesAndRetries(t *testing.T) {
	signInPage := `<html><head><title>Sign in</title></head><body>...</body></html>`
	var apiHits atomic.Int32
	var secondToken string
	tr, m := testStack(t, func(w http.ResponseWriter, r *http.Request) {
		if apiHits.Add(1) == 1 {
			w.Header().Set("Content-Type", "text/html")
			w.Write([]byte(signInPage))
			return
		}
		secondToken = r.Header.Get("X-Framework-Xsrf-Token")
		w.Write([]byte(")]}'\n[1]"))
	})

	if _, err := tr.CallProtoJSON(context.Background(), "ping", []any{}); err != nil {
		t.Fatalf("CallProtoJSON error: %v", err)
	}
	if apiHits.Load() != 2 {
		t.Errorf("api hits: got %d, want 2", apiHits.Load())
	}
	if secondToken != "tok-ii" {
		t.Errorf("retry token: got %q, want the refreshed tok-ii", secondToken)
	}
	if m.RPCRetried.Load() != 1 {
		t.Errorf("RPCRetried: got %d", m.RPCRetried.Load())
	}
}

func TestExecute_PersistentSignInPageSurfacesUnauthorized(t *testing.T) {
	tr, _ := testStack(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`["no-guard"]`))
	})
	if _, err := tr.CallProtoJSON(context.Background(), "ping", []any{}); !errors.Is(err, transport.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}
