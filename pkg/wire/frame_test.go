package wire

import "testing"

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte("hello request payload")
	buf, err := AppendFrame(nil, payload, DefaultMaxFrameLength)
	if err != nil {
		t.Fatalf("AppendFrame: %v", err)
	}

	got, rest, ok, err := ExtractFrame(buf, DefaultMaxFrameLength)
	if err != nil {
		t.Fatalf("ExtractFrame: %v", err)
	}
	if !ok {
		t.Fatal("expected a complete frame")
	}
	if string(got) != string(payload) {
		t.Errorf("payload = %q, want %q", got, payload)
	}
	if len(rest) != 0 {
		t.Errorf("expected no leftover bytes, got %d", len(rest))
	}
}

func TestExtractFramePartial(t *testing.T) {
	payload := []byte("a full frame of some length")
	buf, _ := AppendFrame(nil, payload, DefaultMaxFrameLength)

	// Feed everything except the last byte: should not yield a frame.
	_, _, ok, err := ExtractFrame(buf[:len(buf)-1], DefaultMaxFrameLength)
	if err != nil {
		t.Fatalf("unexpected error on partial frame: %v", err)
	}
	if ok {
		t.Fatal("expected partial frame to not be ready")
	}
}

func TestExtractFrameRejectsOversized(t *testing.T) {
	payload := make([]byte, 100)
	buf, err := AppendFrame(nil, payload, 1000)
	if err != nil {
		t.Fatalf("AppendFrame: %v", err)
	}

	_, _, _, err = ExtractFrame(buf, 10)
	if err == nil {
		t.Fatal("expected an error for a frame exceeding the configured maximum")
	}
}

func TestAppendFrameRejectsOversizedPayload(t *testing.T) {
	_, err := AppendFrame(nil, make([]byte, 100), 10)
	if err == nil {
		t.Fatal("expected an error encoding a payload over the maximum")
	}
}

func TestExtractFrameMultipleFrames(t *testing.T) {
	var buf []byte
	buf, _ = AppendFrame(buf, []byte("first"), DefaultMaxFrameLength)
	buf, _ = AppendFrame(buf, []byte("second"), DefaultMaxFrameLength)

	first, rest, ok, err := ExtractFrame(buf, DefaultMaxFrameLength)
	if err != nil || !ok {
		t.Fatalf("first frame: ok=%v err=%v", ok, err)
	}
	if string(first) != "first" {
		t.Errorf("first = %q", first)
	}

	second, rest, ok, err := ExtractFrame(rest, DefaultMaxFrameLength)
	if err != nil || !ok {
		t.Fatalf("second frame: ok=%v err=%v", ok, err)
	}
	if string(second) != "second" {
		t.Errorf("second = %q", second)
	}
	if len(rest) != 0 {
		t.Errorf("expected buffer drained, got %d bytes left", len(rest))
	}
}
