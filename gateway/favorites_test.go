package gateway_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Schachte/gchat-api-reverse-engineer-sub002/gateway"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/metrics"
)

func newFavoritesGateway(t *testing.T, cacheDir string) *httptest.Server {
	t.Helper()
	s, err := gateway.New(gateway.Options{
		Client:   &fakeAPI{},
		Auth:     gatewayAuth{},
		Metrics:  metrics.New(),
		CacheDir: cacheDir,
	})
	if err != nil {
		t.Fatalf("gateway.New: %v", err)
	}
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestFavorites_RoundTrip(t *testing.T) {
	srv := newFavoritesGateway(t, t.TempDir())

	resp, err := http.Get(srv.URL + "/api/favorites")
	if err != nil {
		t.Fatalf("GET favorites: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if got := strings.TrimSpace(string(body)); got != "{}" {
		t.Fatalf("empty favorites: got %q, want {}", got)
	}

	payload := `{"pinned":["space/spc_1","dm/dm_2"]}`
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/favorites", strings.NewReader(payload))
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT favorites: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT status: got %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/api/favorites")
	if err != nil {
		t.Fatalf("GET after PUT: %v", err)
	}
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != payload {
		t.Errorf("round trip: got %q, want %q", body, payload)
	}
}

func TestFavorites_RejectsInvalidJSON(t *testing.T) {
	srv := newFavoritesGateway(t, t.TempDir())

	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/api/favorites", strings.NewReader("{not json"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PUT favorites: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}
