package transport

import (
	"fmt"
	"io"
	"net/http"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
)

// maxBodyBytes caps a decoded response body. The largest legitimate payloads
// are paginated topic listings, which stay well under this.
const maxBodyBytes = 32 << 20

// decodeBody reads and decompresses a response body according to its
// Content-Encoding header. The transport advertises "gzip, deflate, br" and
// disables net/http's automatic gzip, so every encoding the upstream may pick
// is handled here.
func decodeBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body

	switch enc := resp.Header.Get("Content-Encoding"); enc {
	case "", "identity":
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("transport: init gzip reader: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "deflate":
		fl := flate.NewReader(resp.Body)
		defer fl.Close()
		reader = fl
	case "br":
		reader = brotli.NewReader(resp.Body)
	default:
		return nil, fmt.Errorf("transport: unsupported content encoding %q", enc)
	}

	body, err := io.ReadAll(io.LimitReader(reader, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("transport: read response body: %w", err)
	}
	return body, nil
}
