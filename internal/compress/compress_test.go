package compress

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestDeflateInflateRoundTrip(t *testing.T) {
	in := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog. ", 50))
	packed, err := Deflate(in)
	if err != nil {
		t.Fatalf("deflate: %v", err)
	}
	if len(packed) >= len(in) {
		t.Errorf("repetitive input should shrink: %d -> %d", len(in), len(packed))
	}
	out, err := Inflate(packed)
	if err != nil {
		t.Fatalf("inflate: %v", err)
	}
	if !bytes.Equal(out, in) {
		t.Error("round trip mismatch")
	}
}

func TestInflateRejectsGarbage(t *testing.T) {
	if _, err := Inflate([]byte("not gzip at all")); err == nil {
		t.Error("expected error for invalid input")
	}
}

func TestTruncatingSummarizer(t *testing.T) {
	ctx := context.Background()
	var s TruncatingSummarizer

	short, err := s.Summarize(ctx, "brief note", 100)
	if err != nil || short != "brief note" {
		t.Errorf("short text should pass through, got %q, %v", short, err)
	}

	long := strings.Repeat("word ", 100)
	got, err := s.Summarize(ctx, long, 40)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if len([]rune(got)) > 43 { // maxLen plus ellipsis
		t.Errorf("summary too long: %d runes", len([]rune(got)))
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("expected ellipsis suffix, got %q", got)
	}
	if strings.HasSuffix(strings.TrimSuffix(got, "..."), " ") {
		t.Errorf("should cut on a word boundary, got %q", got)
	}
}
