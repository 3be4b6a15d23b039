package auth_test

import (
	"errors"
	"testing"

	"github.com/Schachte/gchat-api-reverse-engineer-sub002/auth"
)

func TestWizParser_ExtractToken(t *testing.T) {
	p, err := auth.NewWizParser()
	if err != nil {
		t.Fatalf("NewWizParser: %v", err)
	}
	html := `<html><head><script nonce="x">
		window.WIZ_global_data = {"SMqcke":"AE3_token_value:1700000000000","qwAQke":"DynamiteUi"};
	</script></head><body></body></html>`

	token, err := p.ExtractToken(html)
	if err != nil {
		t.Fatalf("ExtractToken error: %v", err)
	}
	if token != "AE3_token_value:1700000000000" {
		t.Errorf("token: got %q", token)
	}
}

func TestWizParser_NonJSONObjectLiteral(t *testing.T) {
	p, err := auth.NewWizParser()
	if err != nil {
		t.Fatalf("NewWizParser: %v", err)
	}
	// Unquoted keys, single quotes, and a trailing comma are legal JS but not
	// JSON; the parser must still read the token.
	html := `<script>window.WIZ_global_data = {SMqcke:'tok-js', qwAQke:'DynamiteUi',};</script>`

	token, err := p.ExtractToken(html)
	if err != nil {
		t.Fatalf("ExtractToken error: %v", err)
	}
	if token != "tok-js" {
		t.Errorf("token: got %q, want tok-js", token)
	}
}

func TestWizParser_SignInPage(t *testing.T) {
	p, err := auth.NewWizParser()
	if err != nil {
		t.Fatalf("NewWizParser: %v", err)
	}
	html := `<script>window.WIZ_global_data = {"qwAQke":"AccountsSignInUi"};</script>`

	if _, err := p.ExtractToken(html); !errors.Is(err, auth.ErrNotLoggedIn) {
		t.Errorf("expected ErrNotLoggedIn, got %v", err)
	}
}

func TestWizParser_NoWizData(t *testing.T) {
	p, err := auth.NewWizParser()
	if err != nil {
		t.Fatalf("NewWizParser: %v", err)
	}
	if _, err := p.ExtractToken("<html><body>maintenance</body></html>"); !errors.Is(err, auth.ErrBootstrapUnavailable) {
		t.Errorf("expected ErrBootstrapUnavailable, got %v", err)
	}
}

func TestWizParser_TruncatedPage(t *testing.T) {
	p, err := auth.NewWizParser()
	if err != nil {
		t.Fatalf("NewWizParser: %v", err)
	}
	// Partial read cut the page off after the assignment but before the
	// closing script tag.
	html := `<script>window.WIZ_global_data = {"SMqcke":"tok-truncated","qwAQke":"DynamiteUi"};`

	token, err := p.ExtractToken(html)
	if err != nil {
		t.Fatalf("ExtractToken error: %v", err)
	}
	if token != "tok-truncated" {
		t.Errorf("token: got %q, want tok-truncated", token)
	}
}
