package channel_test

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/Schachte/gchat-api-reverse-engineer-sub002/channel"
)

func TestReadFrame_RoundTrip(t *testing.T) {
	payload := []any{[]any{float64(1), "noop"}}
	encoded, err := channel.EncodeFrame(payload)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}

	frame, err := channel.ReadFrame(bufio.NewReader(bytes.NewReader(encoded)))
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if len(frame) != 1 {
		t.Fatalf("frame length: got %d, want 1", len(frame))
	}
	pair, ok := frame[0].([]any)
	if !ok || len(pair) != 2 || pair[1] != "noop" {
		t.Errorf("frame content: got %v", frame[0])
	}
}

func TestReadFrame_ConsecutiveChunks(t *testing.T) {
	var buf bytes.Buffer
	first, _ := channel.EncodeFrame([]any{"a"})
	second, _ := channel.EncodeFrame([]any{"b"})
	buf.Write(first)
	buf.Write(second)

	r := bufio.NewReader(&buf)
	f1, err := channel.ReadFrame(r)
	if err != nil {
		t.Fatalf("first frame: %v", err)
	}
	f2, err := channel.ReadFrame(r)
	if err != nil {
		t.Fatalf("second frame: %v", err)
	}
	if f1[0] != "a" || f2[0] != "b" {
		t.Errorf("frames: got %v then %v", f1, f2)
	}
}

func TestReadFrame_BadLength(t *testing.T) {
	_, err := channel.ReadFrame(bufio.NewReader(strings.NewReader("nope\n[]")))
	if err == nil {
		t.Fatal("expected an error for a non-numeric length prefix")
	}
}

func TestReadFrame_TruncatedBody(t *testing.T) {
	_, err := channel.ReadFrame(bufio.NewReader(strings.NewReader("10\n[1]")))
	if err == nil {
		t.Fatal("expected an error for a truncated chunk")
	}
}
