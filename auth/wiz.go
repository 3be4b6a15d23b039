package auth

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/robertkrimen/otto"
)

// Errors surfaced from bootstrap-page parsing.
var (
	// ErrNotLoggedIn means the bootstrap page rendered the sign-in UI
	// instead of the app shell: the browser session behind the cookies has
	// expired or been revoked.
	ErrNotLoggedIn = errors.New("auth: not logged in (bootstrap page shows sign-in UI)")

	// ErrBootstrapUnavailable means the page did not contain the expected
	// WIZ_global_data script fragment, so no token could be scraped.
	ErrBootstrapUnavailable = errors.New("auth: bootstrap page did not contain WIZ data")
)

// Names of the WIZ_global_data fields this package reads. The keys are
// minified and change only when Google reships the frontend; they have been
// stable for years.
const (
	wizXSRFKey   = "SMqcke"
	wizUIKey     = "qwAQke"
	wizSignInUI  = "AccountsSignInUi"
	wizMarker    = "window.WIZ_global_data"
	scriptSuffix = "</script>"
)

// WizParser evaluates the bootstrap page's WIZ_global_data assignment with
// the otto JavaScript interpreter. The object literal is usually valid JSON,
// but Google occasionally emits unquoted keys, single-quoted strings, or
// trailing commas — all legal JavaScript — so evaluating it as a script is
// more robust than feeding it to encoding/json.
//
// A mutex serialises access to the shared VM; token refresh is rare enough
// that contention is irrelevant.
type WizParser struct {
	vm *otto.Otto
	mu sync.Mutex
}

// NewWizParser creates a parser with a minimal window global pre-seeded so
// the assignment statement runs unmodified.
func NewWizParser() (*WizParser, error) {
	vm := otto.New()
	if _, err := vm.Run("var window = this;"); err != nil {
		return nil, fmt.Errorf("auth: bootstrap JS globals: %w", err)
	}
	return &WizParser{vm: vm}, nil
}

// ExtractToken locates the WIZ_global_data fragment in the page HTML,
// evaluates it, and returns the xsrf token. It distinguishes the sign-in
// page (ErrNotLoggedIn) from a page without WIZ data (ErrBootstrapUnavailable).
func (p *WizParser) ExtractToken(html string) (string, error) {
	fragment, err := wizFragment(html)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.vm.Run(fragment); err != nil {
		return "", fmt.Errorf("%w: evaluate fragment: %v", ErrBootstrapUnavailable, err)
	}
	data, err := p.vm.Run(wizMarker)
	if err != nil || !data.IsObject() {
		return "", ErrBootstrapUnavailable
	}
	obj := data.Object()

	if ui, err := obj.Get(wizUIKey); err == nil && ui.IsString() {
		if s, _ := ui.ToString(); s == wizSignInUI {
			return "", ErrNotLoggedIn
		}
	}

	tok, err := obj.Get(wizXSRFKey)
	if err != nil || !tok.IsString() {
		return "", ErrBootstrapUnavailable
	}
	token, err := tok.ToString()
	if err != nil || token == "" {
		return "", ErrBootstrapUnavailable
	}
	return token, nil
}

// wizFragment cuts the `window.WIZ_global_data = {...};` statement out of
// the page, bounded by the enclosing script tag.
func wizFragment(html string) (string, error) {
	start := strings.Index(html, wizMarker)
	if start < 0 {
		return "", ErrBootstrapUnavailable
	}
	rest := html[start:]
	end := strings.Index(rest, scriptSuffix)
	if end < 0 {
		// The assignment always ends with "};" even when the closing tag is
		// truncated by a partial read.
		end = strings.LastIndex(rest, "};")
		if end < 0 {
			return "", ErrBootstrapUnavailable
		}
		end += len("};")
	}
	return rest[:end], nil
}
