package transport

import (
	"net/http"
)

// headerEntry stores one header pair with its original casing.
type headerEntry struct {
	key   string
	value string
}

// OrderedHeader preserves the exact capitalisation and insertion order of
// HTTP headers. http.Header is a map and therefore unordered; servers that
// profile client fingerprints inspect both the casing (lowercase sec-ch-ua-*
// versus canonical) and the ordering, so the Chrome defaults are stored in a
// slice.
//
// OrderedHeader is not safe for concurrent use. The transport builds one set
// of defaults per request inside RoundTrip, so no locking is needed.
type OrderedHeader struct {
	entries []headerEntry
}

// Add appends key/value, preserving the casing of key. Repeated keys produce
// repeated entries, as with http.Header.Add.
func (h *OrderedHeader) Add(key, value string) {
	h.entries = append(h.entries, headerEntry{key: key, value: value})
}

// Set replaces the first case-insensitive match with key/value and drops any
// later duplicates; absent keys are appended. The surviving entry takes the
// casing of key.
func (h *OrderedHeader) Set(key, value string) {
	canonKey := http.CanonicalHeaderKey(key)
	replaced := false
	out := h.entries[:0]
	for _, e := range h.entries {
		if http.CanonicalHeaderKey(e.key) == canonKey {
			if !replaced {
				out = append(out, headerEntry{key: key, value: value})
				replaced = true
			}
		} else {
			out = append(out, e)
		}
	}
	if !replaced {
		out = append(out, headerEntry{key: key, value: value})
	}
	h.entries = out
}

// Del removes all entries matching key case-insensitively.
func (h *OrderedHeader) Del(key string) {
	canonKey := http.CanonicalHeaderKey(key)
	out := h.entries[:0]
	for _, e := range h.entries {
		if http.CanonicalHeaderKey(e.key) != canonKey {
			out = append(out, e)
		}
	}
	h.entries = out
}

// Get returns the first case-insensitive match, or "".
func (h *OrderedHeader) Get(key string) string {
	canonKey := http.CanonicalHeaderKey(key)
	for _, e := range h.entries {
		if http.CanonicalHeaderKey(e.key) == canonKey {
			return e.value
		}
	}
	return ""
}

// Len returns the number of entries, duplicates included.
func (h *OrderedHeader) Len() int { return len(h.entries) }

// Clone returns an independent copy.
func (h *OrderedHeader) Clone() *OrderedHeader {
	c := &OrderedHeader{entries: make([]headerEntry, len(h.entries))}
	copy(c.entries, h.entries)
	return c
}

// ApplyToRequest replaces req.Header with the entries of h, writing the raw
// key strings into the map directly so net/http's canonical-key
// normalisation never rewrites the casing on the wire.
func (h *OrderedHeader) ApplyToRequest(req *http.Request) {
	req.Header = make(http.Header, len(h.entries))
	for _, e := range h.entries {
		req.Header[e.key] = append(req.Header[e.key], e.value)
	}
}

// chromeXHRHeaders returns the header set a Chrome 120 fetch() call from the
// chat web app sends, in Chrome's order and casing. Per-request headers
// (Cookie, Authorization, Content-Type, the token header) are layered on top
// by the round tripper.
func chromeXHRHeaders() *OrderedHeader {
	h := &OrderedHeader{}
	h.Add("sec-ch-ua", `"Not_A Brand";v="8", "Chromium";v="120", "Google Chrome";v="120"`)
	h.Add("sec-ch-ua-mobile", "?0")
	h.Add("sec-ch-ua-platform", `"Windows"`)
	h.Add("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	h.Add("Accept", "*/*")
	h.Add("sec-fetch-site", "same-origin")
	h.Add("sec-fetch-mode", "cors")
	h.Add("sec-fetch-dest", "empty")
	h.Add("accept-encoding", "gzip, deflate, br")
	h.Add("accept-language", "en-US,en;q=0.9")
	return h
}
