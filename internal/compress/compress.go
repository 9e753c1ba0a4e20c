// Package compress implements lossless compression of memory bodies, plus
// the summarizer contract used as a last-resort size reduction.
package compress

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// Deflate compresses b with gzip.
func Deflate(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(b); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	return buf.Bytes(), nil
}

// Inflate reverses Deflate.
func Inflate(b []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	return out, nil
}

// Summarizer reduces text to at most maxLen runes. It is invoked only when
// lossless compression alone cannot bring a record under the size
// threshold. Implementations backed by a language model plug in here; the
// store only depends on this contract.
type Summarizer interface {
	Summarize(ctx context.Context, text string, maxLen int) (string, error)
}

// TruncatingSummarizer is the default Summarizer: it cuts on a word
// boundary and appends an ellipsis. Lossy but dependency-free.
type TruncatingSummarizer struct{}

func (TruncatingSummarizer) Summarize(_ context.Context, text string, maxLen int) (string, error) {
	if maxLen <= 0 || len([]rune(text)) <= maxLen {
		return text, nil
	}
	runes := []rune(text)
	cut := string(runes[:maxLen])
	if i := strings.LastIndexByte(cut, ' '); i > maxLen/2 {
		cut = cut[:i]
	}
	return cut + "...", nil
}
