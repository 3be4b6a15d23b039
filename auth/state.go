// Package auth derives and caches the credentials every upstream call needs:
// the browser session cookies (extracted by the vault) and the short-lived
// CSRF token scraped from the service's bootstrap page.
//
// The two halves age differently. Cookies remain valid for as long as the
// browser session does, which in practice is months; the xsrf token expires
// after roughly a day. AuthState therefore records when the token was cached
// and the Manager re-scrapes once that age crosses 24 h, while cookies are
// only re-extracted when the upstream signals they went stale.
package auth

import (
	"sort"
	"strings"
	"time"
)

// XSRFLifetime is how long a scraped token is trusted before the manager
// re-scrapes the bootstrap page.
const XSRFLifetime = 24 * time.Hour

// Cookie names the upstream requires on every request. At least one of the
// SAPISID-family names must also be present for the Authorization header.
var (
	RequiredCookies = []string{"SID", "HSID", "SSID", "OSID"}
	SAPISIDCookies  = []string{"SAPISID", "__Secure-1PAPISID"}
)

// AuthState is the complete credential snapshot. It is exclusively owned by
// the Manager; every other component receives a by-value copy and must treat
// it as read-only.
type AuthState struct {
	// Cookies maps cookie name to sanitized value.
	Cookies map[string]string `json:"cookies"`

	// XSRFToken is the CSRF token required on state-changing RPCs.
	XSRFToken string `json:"xsrf_token"`

	// CachedAt is when XSRFToken was scraped.
	CachedAt time.Time `json:"cached_at"`
}

// clone returns an independent copy so callers can never mutate the
// manager-owned map.
func (s AuthState) clone() AuthState {
	out := s
	out.Cookies = make(map[string]string, len(s.Cookies))
	for k, v := range s.Cookies {
		out.Cookies[k] = v
	}
	return out
}

// XSRFValid reports whether the cached token is still inside its lifetime.
func (s AuthState) XSRFValid(now time.Time) bool {
	return s.XSRFToken != "" && now.Sub(s.CachedAt) < XSRFLifetime
}

// HasCookies reports whether every required cookie is present.
func (s AuthState) HasCookies() bool {
	for _, name := range RequiredCookies {
		if s.Cookies[name] == "" {
			return false
		}
	}
	return true
}

// CookieHeader assembles the Cookie request header value. Names are sorted
// so the header is stable across calls, which keeps request logs diffable.
func (s AuthState) CookieHeader() string {
	names := make([]string, 0, len(s.Cookies))
	for name, value := range s.Cookies {
		if value != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	var b strings.Builder
	for i, name := range names {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(s.Cookies[name])
	}
	return b.String()
}

// SAPISID returns the first present SAPISID-family cookie value, or "".
func (s AuthState) SAPISID() string {
	for _, name := range SAPISIDCookies {
		if v := s.Cookies[name]; v != "" {
			return v
		}
	}
	return ""
}

// Phase is the manager's lifecycle state, exposed for diagnostics.
type Phase string

const (
	PhaseEmpty         Phase = "empty"
	PhaseCookiesOnly   Phase = "cookies-only"
	PhaseAuthenticated Phase = "authenticated"
	PhaseStale         Phase = "stale"
)
