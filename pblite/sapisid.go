package pblite

import (
	"crypto/sha1" // #nosec G505 – the upstream protocol mandates SHA-1 here
	"encoding/hex"
	"fmt"
	"time"
)

// SAPISIDHash computes the Authorization header value the upstream expects
// on API requests when an SAPISID-family cookie is present:
//
//	"SAPISIDHASH <unixSeconds>_hex(sha1("<unixSeconds> <sapisid> <origin>"))"
//
// Origin is the scheme+host of the target service. The value is
// deterministic for a given (time, cookie, origin) triple.
func SAPISIDHash(now time.Time, sapisid, origin string) string {
	secs := now.Unix()
	preImage := fmt.Sprintf("%d %s %s", secs, sapisid, origin)
	sum := sha1.Sum([]byte(preImage)) // #nosec G401
	return fmt.Sprintf("SAPISIDHASH %d_%s", secs, hex.EncodeToString(sum[:]))
}
