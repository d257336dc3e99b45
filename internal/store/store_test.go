package store

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T) *Cache {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	c, err := Open(dbPath, time.Hour)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCreateSessionAndSessionExists(t *testing.T) {
	c := openTestCache(t)

	ok, err := c.SessionExists("sess-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.CreateSession("sess-1"))

	ok, err = c.SessionExists("sess-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSaveAndLoadMessages(t *testing.T) {
	c := openTestCache(t)
	require.NoError(t, c.CreateSession("sess-1"))

	c.SaveMessage("sess-1", SessionMessage{Role: "user", Content: "hello", CreatedAt: time.Now()})
	c.SaveMessage("sess-1", SessionMessage{Role: "assistant", Content: "hi there", CreatedAt: time.Now()})

	msgs, err := c.LoadMessages("sess-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "assistant", msgs[1].Role)
}

func TestSaveMessagePreservesToolCalls(t *testing.T) {
	c := openTestCache(t)
	require.NoError(t, c.CreateSession("sess-1"))

	tc := json.RawMessage(`[{"id":"call_1","name":"Shell","arguments":{}}]`)
	c.SaveMessage("sess-1", SessionMessage{Role: "assistant", ToolCalls: tc, CreatedAt: time.Now()})

	msgs, err := c.LoadMessages("sess-1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.JSONEq(t, string(tc), string(msgs[0].ToolCalls))
}

func TestSaveMessageSyncReturnsID(t *testing.T) {
	c := openTestCache(t)
	require.NoError(t, c.CreateSession("sess-1"))

	id, err := c.SaveMessageSync("sess-1", SessionMessage{Role: "user", Content: "first", CreatedAt: time.Now()})
	require.NoError(t, err)
	assert.Positive(t, id)
}

func TestDeleteMessagesFrom(t *testing.T) {
	c := openTestCache(t)
	require.NoError(t, c.CreateSession("sess-1"))

	id1, err := c.SaveMessageSync("sess-1", SessionMessage{Role: "user", Content: "one", CreatedAt: time.Now()})
	require.NoError(t, err)
	_, err = c.SaveMessageSync("sess-1", SessionMessage{Role: "assistant", Content: "two", CreatedAt: time.Now()})
	require.NoError(t, err)

	require.NoError(t, c.DeleteMessagesFrom("sess-1", id1))

	msgs, err := c.LoadMessages("sess-1")
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestListSessionsAndLatestSessionID(t *testing.T) {
	c := openTestCache(t)
	require.NoError(t, c.CreateSession("sess-1"))
	require.NoError(t, c.CreateSession("sess-2"))

	c.SaveMessage("sess-1", SessionMessage{Role: "user", Content: "older", CreatedAt: time.Now().Add(-time.Hour)})
	c.SaveMessage("sess-2", SessionMessage{Role: "user", Content: "newer", CreatedAt: time.Now()})

	latest, err := c.LatestSessionID()
	require.NoError(t, err)
	assert.Equal(t, "sess-2", latest)

	summaries, err := c.ListSessions()
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Equal(t, "sess-2", summaries[0].ID)
}

func TestNilCacheIsSafe(t *testing.T) {
	var c *Cache
	assert.NoError(t, c.Close())
	assert.NoError(t, c.CreateSession("x"))
	c.SaveMessage("x", SessionMessage{})
	msgs, err := c.LoadMessages("x")
	assert.NoError(t, err)
	assert.Nil(t, msgs)
	ok, err := c.SessionExists("x")
	assert.NoError(t, err)
	assert.False(t, ok)
}
