// Package vault extracts the chat service's cookies from on-disk browser
// cookie stores.
//
// Chromium-family browsers keep cookies in a SQLite database whose values are
// encrypted at rest: AES-128-CBC with a key derived via PBKDF2-HMAC-SHA1 from
// either the OS keychain entry "Chrome Safe Storage" (macOS, 1003 iterations)
// or the hard-coded password "peanuts" (Linux, 1 iteration). Encrypted values
// carry a 3-byte version prefix ("v10" or "v11") followed by the ciphertext;
// rows without an encrypted_value column are read as-is.
//
// The browser holds an exclusive lock on the live database, so extraction
// always operates on a snapshot copy of the file.
package vault

import (
	"errors"
	"fmt"
	"time"

	"github.com/Schachte/gchat-api-reverse-engineer-sub002/logger"
)

// Errors surfaced unchanged to the auth manager.
var (
	// ErrStoreLocked means the cookie database is held by a running browser
	// and the snapshot copy could not be taken. Closing the browser clears it.
	ErrStoreLocked = errors.New("vault: cookie store is locked by a running browser")

	// ErrKeyUnavailable means the OS keychain denied access to the
	// decryption password.
	ErrKeyUnavailable = errors.New("vault: encryption key unavailable")
)

// MissingCookieError reports a required cookie absent from the store after
// extraction.
type MissingCookieError struct {
	Name string
}

func (e *MissingCookieError) Error() string {
	return fmt.Sprintf("vault: required cookie %q not found", e.Name)
}

// Cookie is one extracted browser cookie. Identity is (Domain, Name); the
// value is opaque ASCII after sanitization.
type Cookie struct {
	Name      string
	Value     string
	Domain    string
	Path      string
	Secure    bool
	HTTPOnly  bool
	ExpiresAt time.Time
}

// Vault reads cookies for one browser/profile pair.
type Vault struct {
	browser    Browser
	profile    string
	cookieFile string // explicit store path, bypasses discovery when set
	log        *logger.Logger
}

// New creates a Vault for the named browser and profile. cookieFile, when
// non-empty, points directly at a cookie store file (encrypted or plaintext)
// and bypasses path discovery.
func New(browser, profile, cookieFile string, log *logger.Logger) (*Vault, error) {
	b, ok := browserByName(browser)
	if !ok && cookieFile == "" {
		return nil, fmt.Errorf("vault: unsupported browser %q", browser)
	}
	if profile == "" {
		profile = "Default"
	}
	return &Vault{browser: b, profile: profile, cookieFile: cookieFile, log: log}, nil
}

// Extract reads the store snapshot and returns the requested cookies keyed by
// name. Every name in requiredNames must be present or a MissingCookieError
// is returned; names in optionalNames are included when found.
//
// When multiple rows match a name, the row whose host_key equals
// ".google.com" wins, except for OSID where the "chat.google.com" row wins
// (the chat-scoped OSID is the one the API accepts).
func (v *Vault) Extract(requiredNames, optionalNames []string) (map[string]Cookie, error) {
	storePath := v.cookieFile
	if storePath == "" {
		p, err := v.browser.cookiePath(v.profile)
		if err != nil {
			return nil, err
		}
		storePath = p
	}

	wanted := append(append([]string{}, requiredNames...), optionalNames...)
	rows, err := readStore(storePath, wanted)
	if err != nil {
		return nil, err
	}

	key, keyErr := v.decryptionKey(rows)
	out := make(map[string]Cookie, len(wanted))
	for _, name := range wanted {
		row, ok := selectRow(rows, name)
		if !ok {
			continue
		}
		value, err := row.plainValue(key, keyErr)
		if err != nil {
			return nil, err
		}
		out[name] = Cookie{
			Name:      name,
			Value:     Sanitize(value),
			Domain:    row.hostKey,
			Path:      row.path,
			Secure:    row.secure,
			HTTPOnly:  row.httpOnly,
			ExpiresAt: chromiumTime(row.expiresUTC),
		}
	}

	for _, name := range requiredNames {
		if _, ok := out[name]; !ok {
			return nil, &MissingCookieError{Name: name}
		}
	}
	if v.log != nil {
		v.log.Debugf("vault: extracted %d cookies from %s", len(out), storePath)
	}
	return out, nil
}

// decryptionKey derives the AES key lazily: stores whose matched rows are all
// plaintext never touch the keychain.
func (v *Vault) decryptionKey(rows []cookieRow) ([]byte, error) {
	encrypted := false
	for _, r := range rows {
		if len(r.encryptedValue) > 0 {
			encrypted = true
			break
		}
	}
	if !encrypted {
		return nil, nil
	}
	return deriveStoreKey()
}

// selectRow applies the domain-selection rule for name over all rows.
func selectRow(rows []cookieRow, name string) (cookieRow, bool) {
	preferred := ".google.com"
	if name == "OSID" {
		preferred = "chat.google.com"
	}
	var found cookieRow
	var any bool
	for _, r := range rows {
		if r.name != name {
			continue
		}
		if r.hostKey == preferred {
			return r, true
		}
		if !any {
			found, any = r, true
		}
	}
	return found, any
}

// chromiumTime converts the store's expires_utc (microseconds since
// 1601-01-01) to wall-clock time. Zero stays the zero time (session cookie).
func chromiumTime(micros int64) time.Time {
	if micros == 0 {
		return time.Time{}
	}
	const windowsToUnixMicros = 11644473600000000
	return time.UnixMicro(micros - windowsToUnixMicros)
}

// Sanitize keeps only printable ASCII bytes in the range 0x21–0x7E. A value
// dominated by non-printable bytes collapses to empty, which downstream
// treats as absent.
func Sanitize(value string) string {
	out := make([]byte, 0, len(value))
	for i := 0; i < len(value); i++ {
		if value[i] >= 0x21 && value[i] <= 0x7E {
			out = append(out, value[i])
		}
	}
	return string(out)
}
