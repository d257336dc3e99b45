package durablestore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutAndGet(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put("call_1", "full payload"))
	content, ok := s.Get("call_1")
	assert.True(t, ok)
	assert.Equal(t, "full payload", content)
}

func TestGetMissingReturnsNotOK(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	_, ok := s.Get("missing")
	assert.False(t, ok)
}

func TestPutIsWriteOnce(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Put("call_1", "first"))
	require.NoError(t, s.Put("call_1", "second"))

	content, _ := s.Get("call_1")
	assert.Equal(t, "first", content, "first write wins")
}

func TestHas(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)

	assert.False(t, s.Has("call_1"))
	require.NoError(t, s.Put("call_1", "x"))
	assert.True(t, s.Has("call_1"))
}
