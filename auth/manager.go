package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Schachte/gchat-api-reverse-engineer-sub002/logger"
	"github.com/Schachte/gchat-api-reverse-engineer-sub002/vault"
)

// cacheFileName is the on-disk credential cache inside the cache directory.
const cacheFileName = "cached_auth.json"

// CookieSource supplies browser cookies. The vault satisfies it; tests swap
// in a fake so no browser profile is needed.
type CookieSource interface {
	Extract(requiredNames, optionalNames []string) (map[string]vault.Cookie, error)
}

// InvalidateScope selects which half of the credential state to discard.
type InvalidateScope string

const (
	// ScopeXSRF discards only the scraped token. The next Authenticate
	// re-scrapes the bootstrap page with the existing cookies.
	ScopeXSRF InvalidateScope = "xsrf"

	// ScopeCookies discards the cookies. The next Authenticate re-extracts
	// from the browser store.
	ScopeCookies InvalidateScope = "cookies"

	// ScopeAll discards everything.
	ScopeAll InvalidateScope = "all"
)

// ManagerOptions configures a Manager. Source is required; everything else
// has a working default.
type ManagerOptions struct {
	// Source provides cookies. Required.
	Source CookieSource

	// CacheDir is where the credential cache file lives. Empty disables
	// persistence.
	CacheDir string

	// Client is the HTTP client for the bootstrap fetch. It must not follow
	// redirects on its own; the default client is configured that way.
	Client *http.Client

	// BootstrapURL overrides the bootstrap page URL (without query string).
	BootstrapURL string

	// Log receives diagnostics. Nil disables logging.
	Log *logger.Logger

	// Now overrides the clock.
	Now func() time.Time
}

// Manager owns the credential state machine. All methods are safe for
// concurrent use; state transitions happen under one mutex so concurrent
// Authenticate calls never scrape the bootstrap page twice.
type Manager struct {
	source       CookieSource
	client       *http.Client
	bootstrapURL string
	cacheDir     string
	wiz          *WizParser
	log          *logger.Logger
	now          func() time.Time

	mu     sync.Mutex
	state  AuthState
	phase  Phase
	loaded bool // disk cache has been consulted
}

// NewManager creates a Manager from opts.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Source == nil {
		return nil, errors.New("auth: ManagerOptions.Source is required")
	}
	wiz, err := NewWizParser()
	if err != nil {
		return nil, err
	}
	m := &Manager{
		source:       opts.Source,
		client:       opts.Client,
		bootstrapURL: opts.BootstrapURL,
		cacheDir:     opts.CacheDir,
		wiz:          wiz,
		log:          opts.Log,
		now:          opts.Now,
		phase:        PhaseEmpty,
	}
	if m.client == nil {
		m.client = &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	if m.bootstrapURL == "" {
		m.bootstrapURL = defaultBootstrapURL
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// State returns a copy of the current credential snapshot without touching
// the network or the browser store.
func (m *Manager) State() AuthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// Phase returns the manager's lifecycle phase for diagnostics.
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Authenticate returns a credential snapshot ready for upstream calls.
//
// Unless force is set, a cached state whose token is still inside its 24 h
// lifetime is returned as-is with no network or browser-store access. When
// the token is missing or stale the bootstrap page is re-scraped; when the
// scrape reports the session is signed out, cookies are re-extracted from
// the browser once and the scrape retried.
func (m *Manager) Authenticate(ctx context.Context, force bool) (AuthState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.loadCacheLocked()

	if !force && m.state.HasCookies() && m.state.XSRFValid(m.now()) {
		m.phase = PhaseAuthenticated
		return m.state.clone(), nil
	}

	if force || !m.state.HasCookies() {
		if err := m.extractCookiesLocked(); err != nil {
			return AuthState{}, err
		}
	}

	err := m.scrapeTokenLocked(ctx)
	if errors.Is(err, ErrNotLoggedIn) {
		m.logInfo("auth: session signed out, re-extracting cookies")
		m.state.Cookies = nil
		m.phase = PhaseEmpty
		if err = m.extractCookiesLocked(); err != nil {
			return AuthState{}, err
		}
		err = m.scrapeTokenLocked(ctx)
	}
	if err != nil {
		m.phase = PhaseStale
		return AuthState{}, err
	}

	m.phase = PhaseAuthenticated
	if err := m.saveCacheLocked(); err != nil {
		m.logInfo("auth: persist credential cache: " + err.Error())
	}
	return m.state.clone(), nil
}

// RefreshXSRF discards the cached token and re-authenticates. The transport
// calls this after an upstream 401.
func (m *Manager) RefreshXSRF(ctx context.Context) (AuthState, error) {
	m.Invalidate(ScopeXSRF)
	return m.Authenticate(ctx, false)
}

// Invalidate discards the selected credential scope and updates the disk
// cache so a restart does not resurrect the discarded half.
func (m *Manager) Invalidate(scope InvalidateScope) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch scope {
	case ScopeXSRF:
		m.state.XSRFToken = ""
		m.state.CachedAt = time.Time{}
	case ScopeCookies:
		m.state.Cookies = nil
	case ScopeAll:
		m.state = AuthState{}
	}

	switch {
	case m.state.HasCookies() && m.state.XSRFValid(m.now()):
		m.phase = PhaseAuthenticated
	case m.state.HasCookies():
		m.phase = PhaseCookiesOnly
	default:
		m.phase = PhaseEmpty
	}

	m.loaded = true // the in-memory state is now authoritative
	if err := m.saveCacheLocked(); err != nil {
		m.logInfo("auth: persist credential cache: " + err.Error())
	}
}

// WatchLoop re-authenticates from scratch on every interval tick until ctx
// is cancelled. It keeps the cached credentials fresh for long-running
// gateways whose browser session rotates cookies underneath them.
func (m *Manager) WatchLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Invalidate(ScopeAll)
			if _, err := m.Authenticate(ctx, true); err != nil {
				m.logInfo("auth: scheduled refresh failed: " + err.Error())
			}
		}
	}
}

// extractCookiesLocked pulls the required cookies from the source and
// verifies at least one SAPISID-family cookie came along.
func (m *Manager) extractCookiesLocked() error {
	cookies, err := m.source.Extract(RequiredCookies, SAPISIDCookies)
	if err != nil {
		return err
	}
	values := make(map[string]string, len(cookies))
	for name, c := range cookies {
		values[name] = c.Value
	}
	m.state.Cookies = values
	if m.state.SAPISID() == "" {
		m.state.Cookies = nil
		return &vault.MissingCookieError{Name: SAPISIDCookies[0]}
	}
	m.phase = PhaseCookiesOnly
	return nil
}

// scrapeTokenLocked fetches the bootstrap page and extracts a fresh token.
func (m *Manager) scrapeTokenLocked(ctx context.Context) error {
	body, err := m.fetchBootstrap(ctx, m.state)
	if err != nil {
		return err
	}
	token, err := m.wiz.ExtractToken(body)
	if err != nil {
		return err
	}
	m.state.XSRFToken = token
	m.state.CachedAt = m.now()
	m.logInfo("auth: scraped fresh xsrf token")
	return nil
}

// loadCacheLocked populates the state from disk, once.
func (m *Manager) loadCacheLocked() {
	if m.loaded || m.cacheDir == "" {
		m.loaded = true
		return
	}
	m.loaded = true

	raw, err := os.ReadFile(filepath.Join(m.cacheDir, cacheFileName))
	if err != nil {
		return
	}
	var cached AuthState
	if err := json.Unmarshal(raw, &cached); err != nil {
		m.logInfo("auth: ignoring corrupt credential cache: " + err.Error())
		return
	}
	m.state = cached
	switch {
	case cached.HasCookies() && cached.XSRFValid(m.now()):
		m.phase = PhaseAuthenticated
	case cached.HasCookies():
		m.phase = PhaseStale
	}
}

// saveCacheLocked writes the state to disk atomically: a temp file in the
// same directory followed by a rename, so a crash mid-write never leaves a
// truncated cache behind.
func (m *Manager) saveCacheLocked() error {
	if m.cacheDir == "" {
		return nil
	}
	raw, err := json.MarshalIndent(m.state, "", "  ")
	if err != nil {
		return fmt.Errorf("auth: encode credential cache: %w", err)
	}

	target := filepath.Join(m.cacheDir, cacheFileName)
	tmp, err := os.CreateTemp(m.cacheDir, cacheFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("auth: create cache temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("auth: write cache temp file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("auth: chmod cache temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("auth: close cache temp file: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("auth: replace cache file: %w", err)
	}
	return nil
}

func (m *Manager) logInfo(msg string) {
	if m.log != nil {
		m.log.Info(msg)
	}
}
