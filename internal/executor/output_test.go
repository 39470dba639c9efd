package executor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoundedBuffer(t *testing.T) {
	b := newBoundedBuffer(5)

	n, err := b.Write([]byte("abc"))
	assert.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.False(t, b.Truncated())

	n, err = b.Write([]byte("defgh"))
	assert.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "abcde", b.String())
	assert.True(t, b.Truncated())

	n, err = b.Write([]byte(strings.Repeat("x", 100)))
	assert.NoError(t, err)
	assert.Equal(t, 100, n)
	assert.Equal(t, "abcde", b.String())
}

func TestBoundedBufferExactFit(t *testing.T) {
	b := newBoundedBuffer(3)
	_, _ = b.Write([]byte("abc"))
	_, _ = b.Write(nil)
	assert.False(t, b.Truncated())
}
