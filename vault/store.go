package vault

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// cookieRow is one raw row from the cookies table before decryption.
type cookieRow struct {
	name           string
	value          string
	encryptedValue []byte
	hostKey        string
	path           string
	secure         bool
	httpOnly       bool
	expiresUTC     int64
}

// readStore snapshots the database at storePath and returns every row whose
// name is in wanted. The snapshot copy exists because the browser holds an
// exclusive lock on the live file; querying the copy never contends with it.
func readStore(storePath string, wanted []string) ([]cookieRow, error) {
	snap, cleanup, err := snapshotCopy(storePath)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	// immutable=1 tells SQLite the snapshot cannot change underneath it,
	// which also disables journal probing on the read-only copy.
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?immutable=1", snap))
	if err != nil {
		return nil, fmt.Errorf("vault: open cookie store: %w", err)
	}
	defer db.Close()

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(wanted)), ",")
	query := fmt.Sprintf(
		`SELECT name, value, encrypted_value, host_key, path, is_secure, is_httponly, expires_utc
		 FROM cookies WHERE name IN (%s)`, placeholders)

	args := make([]any, len(wanted))
	for i, n := range wanted {
		args[i] = n
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		if isLockedErr(err) {
			return nil, ErrStoreLocked
		}
		return nil, fmt.Errorf("vault: query cookie store: %w", err)
	}
	defer rows.Close()

	var out []cookieRow
	for rows.Next() {
		var r cookieRow
		var secure, httpOnly int
		if err := rows.Scan(&r.name, &r.value, &r.encryptedValue, &r.hostKey, &r.path, &secure, &httpOnly, &r.expiresUTC); err != nil {
			return nil, fmt.Errorf("vault: scan cookie row: %w", err)
		}
		r.secure = secure != 0
		r.httpOnly = httpOnly != 0
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		if isLockedErr(err) {
			return nil, ErrStoreLocked
		}
		return nil, fmt.Errorf("vault: iterate cookie rows: %w", err)
	}
	return out, nil
}

// snapshotCopy copies the store into a temp file and returns its path plus a
// cleanup function. A copy failure on a file that exists indicates the
// browser's exclusive lock.
func snapshotCopy(storePath string) (string, func(), error) {
	src, err := os.Open(storePath) // #nosec G304 – path comes from the build-time catalogue or operator config
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, fmt.Errorf("vault: cookie store %q: %w", storePath, err)
		}
		return "", nil, ErrStoreLocked
	}
	defer src.Close()

	tmpDir, err := os.MkdirTemp("", "gchat-cookies-")
	if err != nil {
		return "", nil, fmt.Errorf("vault: create snapshot dir: %w", err)
	}
	cleanup := func() { os.RemoveAll(tmpDir) }

	snap := filepath.Join(tmpDir, "Cookies")
	dst, err := os.OpenFile(snap, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("vault: create snapshot: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		cleanup()
		return "", nil, ErrStoreLocked
	}
	if err := dst.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("vault: finalise snapshot: %w", err)
	}
	return snap, cleanup, nil
}

// isLockedErr recognises SQLite's lock/busy errors, which surface when the
// snapshot caught the database mid-write.
func isLockedErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database is busy")
}
