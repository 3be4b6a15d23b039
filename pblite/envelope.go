package pblite

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// xssiGuard is the four-byte prefix every response begins with. Browsers
// cannot strip it, which is the point: it defeats cross-site script inclusion
// of the JSON body.
var xssiGuard = []byte(")]}'")

// ErrNoXSSIGuard is returned when a response body does not start with the
// expected guard, which usually means the request hit an error page or a
// sign-in redirect instead of the API.
var ErrNoXSSIGuard = errors.New("pblite: response missing XSSI guard")

// StripXSSI removes the `)]}'` guard and any following whitespace from a
// response body, returning the JSON payload.
func StripXSSI(body []byte) ([]byte, error) {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if !bytes.HasPrefix(trimmed, xssiGuard) {
		return nil, ErrNoXSSIGuard
	}
	return bytes.TrimLeft(trimmed[len(xssiGuard):], " \t\r\n"), nil
}

// BatchUnit is one RPC response inside a batch envelope. Payload is the
// already twice-parsed PBLite document: the envelope carries the payload as a
// JSON-encoded string which must itself be JSON-parsed.
type BatchUnit struct {
	RPCID   string
	Payload Doc
}

// ParseBatch decodes a batch endpoint response body (after XSSI stripping)
// into its units. The body is a newline-delimited sequence of JSON arrays of
// the shape:
//
//	[[[rpcId, payloadAsJsonString, null, "generic"], …], …]
//
// Lines that are not JSON arrays (the endpoint interleaves decimal length
// prefixes between chunks) are skipped. Units whose payload string fails to
// parse are skipped rather than fatal; the upstream schema drifts and a
// partially decodable batch is still useful.
func ParseBatch(body []byte) ([]BatchUnit, error) {
	var units []BatchUnit
	for _, line := range bytes.Split(body, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 || line[0] != '[' {
			continue
		}
		var outer []any
		if err := json.Unmarshal(line, &outer); err != nil {
			continue
		}
		for _, rawUnit := range outer {
			unit, ok := rawUnit.([]any)
			if ok && len(unit) == 1 {
				// Some responses wrap each unit once more.
				unit, ok = unit[0].([]any)
			}
			if !ok || len(unit) < 2 {
				continue
			}
			rpcID, _ := unit[0].(string)
			payloadStr, ok := unit[1].(string)
			if !ok || rpcID == "" {
				continue
			}
			payload, err := Decode([]byte(payloadStr))
			if err != nil {
				continue
			}
			units = append(units, BatchUnit{RPCID: rpcID, Payload: payload})
		}
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("pblite: batch envelope contained no decodable units")
	}
	return units, nil
}

// BuildBatchForm produces the form body for the batch endpoint: f.req is the
// rpc envelope (with the payload serialised to a JSON string, mirroring the
// double encoding the decoder reverses) and at is the xsrf token.
func BuildBatchForm(rpcID string, payload any, xsrfToken string) (string, error) {
	payloadJSON, err := Encode(payload)
	if err != nil {
		return "", err
	}
	envelope := []any{[]any{[]any{rpcID, string(payloadJSON), nil, "generic"}}}
	envelopeJSON, err := Encode(envelope)
	if err != nil {
		return "", err
	}
	form := url.Values{}
	form.Set("f.req", string(envelopeJSON))
	form.Set("at", xsrfToken)
	return form.Encode(), nil
}

// SplitNewlineDocs parses a response body that carries a newline-delimited
// sequence of top-level JSON arrays (the batch endpoint's outer shape) and
// returns each parsed array. Used by callers that need the raw sequence
// rather than rpc units.
func SplitNewlineDocs(body []byte) []Doc {
	var docs []Doc
	dec := json.NewDecoder(strings.NewReader(string(body)))
	for dec.More() {
		var doc Doc
		if err := dec.Decode(&doc); err != nil {
			break
		}
		docs = append(docs, doc)
	}
	return docs
}
