package transport

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	utls "github.com/refraction-networking/utls"
)

// Chrome 120 HTTP/2 SETTINGS values, captured from a real Windows Chrome 120
// client.
const (
	chrome120H2HeaderTableSize   uint32 = 65536
	chrome120H2MaxHeaderListSize uint32 = 262144
)

// H2Config groups the tunables for NewChromeH2Transport.
type H2Config struct {
	// HelloID is the uTLS fingerprint. Defaults to utls.HelloChrome_120.
	HelloID utls.ClientHelloID

	// IdleConnTimeout is how long an idle connection is kept. Defaults to
	// 90 s. The WebChannel long-poll keeps its connection busy, so this only
	// governs the RPC connection between calls.
	IdleConnTimeout time.Duration

	// ReadIdleTimeout enables ping health checks when > 0.
	ReadIdleTimeout time.Duration
}

// NewChromeH2Transport returns an http.RoundTripper whose TLS handshake and
// HTTP/2 SETTINGS mimic a Windows Chrome 120 client, and which applies the
// Chrome XHR header set (exact casing and order) to every outgoing request.
// Headers already present on a request win over the Chrome defaults, so the
// per-call Cookie, Authorization, and token headers pass through untouched.
func NewChromeH2Transport(cfg H2Config) http.RoundTripper {
	if cfg.HelloID == (utls.ClientHelloID{}) {
		cfg.HelloID = utls.HelloChrome_120
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = 90 * time.Second
	}

	dialFn := UTLSDialer(cfg.HelloID)

	h2t := &http2.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string, tlsCfg *tls.Config) (net.Conn, error) {
			return dialFn(ctx, network, addr, tlsCfg)
		},
		MaxDecoderHeaderTableSize: chrome120H2HeaderTableSize,
		MaxEncoderHeaderTableSize: chrome120H2HeaderTableSize,
		MaxHeaderListSize:         chrome120H2MaxHeaderListSize,

		// The transport must not add its own Accept-Encoding; the ordered
		// header set carries Chrome's value and decodeBody handles the
		// decompression.
		DisableCompression: true,

		IdleConnTimeout: cfg.IdleConnTimeout,
		ReadIdleTimeout: cfg.ReadIdleTimeout,
	}

	return &chromeRoundTripper{h2: h2t}
}

// chromeRoundTripper overlays the caller's headers on the Chrome XHR defaults
// before delegating to the http2 layer.
type chromeRoundTripper struct {
	h2 *http2.Transport
}

func (t *chromeRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())

	callerHeaders := r.Header
	chromeXHRHeaders().ApplyToRequest(r)
	for key, vals := range callerHeaders {
		r.Header[key] = append([]string(nil), vals...)
	}

	return t.h2.RoundTrip(r)
}
