package runner

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestCaptureTruncates(t *testing.T) {
	c := newCapture(5)

	n, err := c.Write([]byte("abc"))
	assert.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.False(t, c.Truncated())

	n, err = c.Write([]byte("defgh"))
	assert.NoError(t, err)
	assert.Equal(t, 5, n, "writes report full length so the child never blocks")
	assert.True(t, c.Truncated())
	assert.Equal(t, "abcde", string(c.Bytes()))

	c.Write([]byte("more"))
	assert.Equal(t, "abcde", string(c.Bytes()))
}

func TestRenderAppendsMarker(t *testing.T) {
	c := newCapture(4)
	c.Write([]byte("hello"))

	text, truncated := render(c)
	assert.True(t, truncated)
	assert.Equal(t, "hell"+TruncationMarker, text)
}

func TestRenderDropsSplitRune(t *testing.T) {
	c := newCapture(4)
	c.Write([]byte("abcé"))

	text, truncated := render(c)
	assert.True(t, truncated)
	assert.True(t, utf8.ValidString(text))
	assert.True(t, strings.HasPrefix(text, "abc"+TruncationMarker))
}

func TestDecodeOutput(t *testing.T) {
	assert.Equal(t, "", decodeOutput(nil))
	assert.Equal(t, "héllo\n", decodeOutput([]byte("héllo\n")))

	binary := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d, 0xff, 0xfe}
	out := decodeOutput(binary)
	assert.Contains(t, out, "bytes of binary output")
	assert.Contains(t, out, "image/png")

	latin1 := []byte("caf\xe9 cr\xe8me br\xfbl\xe9e, na\xefve fa\xe7ade r\xe9sum\xe9\n")
	decoded := decodeOutput(latin1)
	assert.True(t, utf8.ValidString(decoded))
	assert.Contains(t, decoded, "caf")
}
