package pblite

// Constants the web client bakes into every request header message. The
// version string is an opaque literal captured from browser traffic; the
// upstream rejects requests carrying versions it considers too old.
const (
	// ClientTypeWeb is the client-type enum value for the web client.
	ClientTypeWeb = 2

	// ClientVersion is the web client's fixed version literal.
	ClientVersion = "2440378181258"
)

// RequestHeader builds the leading request-header message every RPC carries:
// field 1 is the client type, field 2 the client version, and field 4 a
// feature-capability sub-message whose second field is set.
func RequestHeader() []any {
	return []any{ClientTypeWeb, ClientVersion, nil, []any{nil, 1}}
}
