// Package transport issues the upstream RPC calls. It speaks both of the
// service's HTTP surfaces: the protojson endpoint under /api/ and the
// batchexecute endpoint, with the cookie, token, and SAPISIDHASH headers the
// web client sends. The TLS and HTTP/2 layers parrot a Chrome 120 client so
// the traffic is indistinguishable from the browser session the cookies came
// from.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"

	utls "github.com/refraction-networking/utls"
)

// UTLSDialer returns a DialTLSContext function that handshakes with the uTLS
// library, parroting the browser fingerprint named by helloID. The returned
// dialer is safe for concurrent use and plugs directly into
// http2.Transport.DialTLSContext.
//
// tlsCfg may be nil; when provided, its ServerName overrides the SNI derived
// from addr.
func UTLSDialer(helloID utls.ClientHelloID) func(ctx context.Context, network, addr string, tlsCfg *tls.Config) (net.Conn, error) {
	return func(ctx context.Context, network, addr string, tlsCfg *tls.Config) (net.Conn, error) {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("transport: parse addr %q: %w", addr, err)
		}
		sni := host
		if tlsCfg != nil && tlsCfg.ServerName != "" {
			sni = tlsCfg.ServerName
		}

		var d net.Dialer
		rawConn, err := d.DialContext(ctx, network, addr)
		if err != nil {
			return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
		}

		// The ClientHelloSpec overrides cipher suites, curves, and extension
		// order, so only the fields uTLS still respects are forwarded.
		uCfg := &utls.Config{
			ServerName:         sni,
			InsecureSkipVerify: tlsCfg != nil && tlsCfg.InsecureSkipVerify, // #nosec G402 – caller-controlled
		}
		uConn := utls.UClient(rawConn, uCfg, helloID)

		spec := clientHelloSpec(helloID)
		if err := uConn.ApplyPreset(&spec); err != nil {
			_ = rawConn.Close()
			return nil, fmt.Errorf("transport: apply preset for %s: %w", helloID.Str(), err)
		}
		if err := uConn.HandshakeContext(ctx); err != nil {
			_ = uConn.Close()
			return nil, fmt.Errorf("transport: TLS handshake with %s: %w", addr, err)
		}
		return uConn, nil
	}
}

// clientHelloSpec resolves the parrot spec for helloID. The utls parrot table
// already encodes GREASE placeholders, the cipher-suite list, and Chrome's
// extension ordering; unrecognised IDs fall back to the library default.
func clientHelloSpec(helloID utls.ClientHelloID) utls.ClientHelloSpec {
	switch helloID {
	case utls.HelloChrome_120,
		utls.HelloChrome_120_PQ,
		utls.HelloChrome_131,
		utls.HelloChrome_Auto:
		spec, err := utls.UTLSIdToSpec(helloID)
		if err == nil {
			return spec
		}
	}
	return utls.ClientHelloSpec{}
}
