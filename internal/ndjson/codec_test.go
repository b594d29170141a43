package ndjson

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"gembridge/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEncoderDecoderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	logger := testLogger()

	encoder := NewEncoder(&buf, logger)
	decoder := NewDecoder(&buf, logger)

	id := json.RawMessage(`1`)
	req := protocol.Request{
		JSONRPC: "2.0",
		ID:      &id,
		Method:  "tools/call",
		Params:  json.RawMessage(`{"name":"gemini_session_chat","arguments":{"session_id":"s1","message":"hello"}}`),
	}

	if err := encoder.Encode(req); err != nil {
		t.Fatalf("failed to encode request: %v", err)
	}

	var decoded protocol.Request
	if err := decoder.Decode(&decoded); err != nil {
		t.Fatalf("failed to decode request: %v", err)
	}

	if decoded.Method != req.Method {
		t.Errorf("method mismatch: got %s, want %s", decoded.Method, req.Method)
	}
	var call protocol.CallParams
	if err := json.Unmarshal(decoded.Params, &call); err != nil {
		t.Fatalf("failed to unmarshal params: %v", err)
	}
	if call.Name != "gemini_session_chat" {
		t.Errorf("tool name mismatch: got %s", call.Name)
	}
}

func TestEncodeProducesOneLinePerMessage(t *testing.T) {
	var buf bytes.Buffer
	encoder := NewEncoder(&buf, testLogger())

	for i := 0; i < 3; i++ {
		if err := encoder.Encode(map[string]int{"seq": i}); err != nil {
			t.Fatalf("encode %d: %v", i, err)
		}
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d: %q", len(lines), buf.String())
	}
	for _, line := range lines {
		if strings.Contains(line, "\n") {
			t.Errorf("line contains embedded newline: %q", line)
		}
	}
}

func TestEncodeRejectsOversizedMessage(t *testing.T) {
	var buf bytes.Buffer
	encoder := NewEncoder(&buf, testLogger())

	huge := map[string]string{"payload": strings.Repeat("x", MaxMessageSize)}
	if err := encoder.Encode(huge); err == nil {
		t.Fatal("expected size limit error")
	}
	if buf.Len() != 0 {
		t.Errorf("oversized message must not be written, got %d bytes", buf.Len())
	}
}

func TestDecodeSkipsEmptyLines(t *testing.T) {
	input := "\n\n{\"a\":1}\n\n{\"a\":2}\n"
	decoder := NewDecoder(strings.NewReader(input), testLogger())

	var msg map[string]int
	if err := decoder.Decode(&msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg["a"] != 1 {
		t.Errorf("first message: got %v", msg)
	}
	if err := decoder.Decode(&msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg["a"] != 2 {
		t.Errorf("second message: got %v", msg)
	}
	if err := decoder.Decode(&msg); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF, got %v", err)
	}
}

func TestDecodeMalformedJSON(t *testing.T) {
	decoder := NewDecoder(strings.NewReader("{not json}\n"), testLogger())

	var msg map[string]any
	err := decoder.Decode(&msg)
	if err == nil {
		t.Fatal("expected unmarshal error")
	}
	if !strings.Contains(err.Error(), "line 1") {
		t.Errorf("error should carry the line number: %v", err)
	}
}

func TestDecodeTracksLineNumbers(t *testing.T) {
	decoder := NewDecoder(strings.NewReader("{\"a\":1}\n{\"a\":2}\n"), testLogger())

	var msg map[string]int
	for i := 1; i <= 2; i++ {
		if err := decoder.Decode(&msg); err != nil {
			t.Fatalf("decode %d: %v", i, err)
		}
		if decoder.LineNum() != i {
			t.Errorf("LineNum = %d, want %d", decoder.LineNum(), i)
		}
	}
}
