// Package channel implements the long-polling push stream: a session
// handshake, a framed receive loop with inactivity detection, a serialized
// send path for subscriptions and pings, and reconnect with exponential
// backoff. Decoded push payloads are demultiplexed into typed events on the
// event bus.
package channel

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
)

// maxFrameBytes bounds a single framed chunk. Push payloads are small; a
// larger length prefix means the stream is corrupt.
const maxFrameBytes = 4 << 20

// ReadFrame reads one length-prefixed chunk from the stream. The wire form
// is "<decimalLength>\n" followed by exactly decimalLength bytes holding a
// JSON array.
func ReadFrame(r *bufio.Reader) ([]any, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return nil, err
	}
	n, err := strconv.Atoi(line[:len(line)-1])
	if err != nil {
		return nil, fmt.Errorf("channel: bad frame length %q: %w", line[:len(line)-1], err)
	}
	if n < 0 || n > maxFrameBytes {
		return nil, fmt.Errorf("channel: frame length %d out of range", n)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	var arr []any
	if err := json.Unmarshal(buf, &arr); err != nil {
		return nil, fmt.Errorf("channel: parse frame: %w", err)
	}
	return arr, nil
}

// EncodeFrame renders v as one framed chunk in the wire form ReadFrame
// expects.
func EncodeFrame(v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append([]byte(strconv.Itoa(len(body))+"\n"), body...), nil
}
