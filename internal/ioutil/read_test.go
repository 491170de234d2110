package ioutil

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("boom")
}

func TestReadLimited(t *testing.T) {
	t.Run("reads whole body under limit", func(t *testing.T) {
		assert.Equal(t, "hello", ReadLimited(strings.NewReader("hello"), 1024))
	})

	t.Run("truncates at limit", func(t *testing.T) {
		assert.Equal(t, "hel", ReadLimited(strings.NewReader("hello"), 3))
	})

	t.Run("describes read failure", func(t *testing.T) {
		assert.Contains(t, ReadLimited(failingReader{}, 1024), "unreadable")
	})
}
