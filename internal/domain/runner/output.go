package runner

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
)

// TruncationMarker is appended to output cut at the configured limit.
const TruncationMarker = "\n... [output truncated]"

// capture is an io.Writer that keeps at most limit bytes and discards the
// rest while still reporting full writes, so the child never blocks on a
// full pipe.
type capture struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func newCapture(limit int) *capture {
	return &capture{limit: limit}
}

func (c *capture) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	space := c.limit - c.buf.Len()
	if space <= 0 {
		if len(p) > 0 {
			c.truncated = true
		}
		return len(p), nil
	}
	if len(p) > space {
		c.buf.Write(p[:space])
		c.truncated = true
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

func (c *capture) Bytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.buf.Bytes()...)
}

func (c *capture) Truncated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.truncated
}

// decodeOutput turns raw process output into display text. Valid UTF-8 is
// passed through, other text encodings are converted, and binary data is
// replaced by a short description.
func decodeOutput(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	if utf8.Valid(data) {
		return string(data)
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "text/") {
		return fmt.Sprintf("[%d bytes of binary output (%s)]", len(data), mt.String())
	}

	detected := "utf-8"
	if res, err := chardet.NewTextDetector().DetectBest(data); err == nil && res != nil {
		detected = strings.ToLower(res.Charset)
	}
	r, err := charset.NewReaderLabel(detected, bytes.NewReader(data))
	if err != nil {
		return strings.ToValidUTF8(string(data), "�")
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return strings.ToValidUTF8(string(data), "�")
	}
	return string(out)
}

// render decodes captured bytes, trims a trailing cut rune left by
// truncation, and appends the marker when needed.
func render(c *capture) (string, bool) {
	data := c.Bytes()
	truncated := c.Truncated()
	if truncated {
		for i := 0; i < utf8.UTFMax-1 && len(data) > 0 && !utf8.Valid(data); i++ {
			data = data[:len(data)-1]
		}
	}
	text := decodeOutput(data)
	if truncated {
		text += TruncationMarker
	}
	return text, truncated
}
