package gateway

import (
	"io"
	"net/http"
	"net/url"
	"strings"
)

// proxyAllowedSuffixes are the upstream domains the authenticated proxy will
// fetch from. Anything else is rejected outright so the gateway cannot be
// used as an open proxy with the session cookies attached.
var proxyAllowedSuffixes = []string{
	"google.com",
	"googleusercontent.com",
	"ggpht.com",
}

// proxyAllowed reports whether the hostname belongs to a permitted upstream
// domain.
func proxyAllowed(host string) bool {
	host = strings.ToLower(host)
	for _, suffix := range proxyAllowedSuffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}

// handleProxy fetches the target URL with the session cookies attached and
// streams the response through. Media URLs on chat require the session, so
// a plain <img src> from a local UI cannot load them directly.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("url")
	if raw == "" {
		http.Error(w, "missing url parameter", http.StatusBadRequest)
		return
	}
	target, err := url.Parse(raw)
	if err != nil || (target.Scheme != "https" && target.Scheme != "http") {
		http.Error(w, "invalid url", http.StatusBadRequest)
		return
	}
	if !proxyAllowed(target.Hostname()) {
		http.Error(w, "domain not permitted", http.StatusForbidden)
		return
	}

	state, err := s.auth.Authenticate(r.Context(), false)
	if err != nil {
		http.Error(w, "authentication unavailable", http.StatusBadGateway)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target.String(), nil)
	if err != nil {
		http.Error(w, "invalid url", http.StatusBadRequest)
		return
	}
	req.Header.Set("Cookie", state.CookieHeader())

	resp, err := s.proxyClient.Do(req)
	if err != nil {
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		w.Header().Set("Content-Length", cl)
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body) //nolint:errcheck
}
