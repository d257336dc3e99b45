package checkpoint

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func openTestManager(t *testing.T) *Manager {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "checkpoint.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(db))
	return New(db)
}

func TestRestoreRevertsModifyAndCreate(t *testing.T) {
	m := openTestManager(t)
	m.SetSession("sess-1")
	m.Begin(1)

	dir := t.TempDir()
	existing := filepath.Join(dir, "existing.txt")
	require.NoError(t, os.WriteFile(existing, []byte("original"), 0600))

	m.RecordModify(existing, []byte("original"))
	require.NoError(t, os.WriteFile(existing, []byte("modified"), 0600))

	created := filepath.Join(dir, "created.txt")
	m.RecordCreate(created)
	require.NoError(t, os.WriteFile(created, []byte("new file"), 0600))

	affected, err := m.Restore("sess-1", 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{created, existing}, affected)

	content, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "original", string(content))

	_, err = os.Stat(created)
	assert.True(t, os.IsNotExist(err))
}

func TestRecordModifyIsNoOpWithoutActiveCheckpoint(t *testing.T) {
	m := openTestManager(t)
	m.SetSession("sess-1")
	// No Begin() call — checkpointID is 0.
	m.RecordModify("/tmp/whatever.txt", []byte("x"))

	affected, err := m.Restore("sess-1", 0)
	require.NoError(t, err)
	assert.Empty(t, affected)
}

func TestRecordModifyDedupesWithinCheckpoint(t *testing.T) {
	m := openTestManager(t)
	m.SetSession("sess-1")
	m.Begin(1)

	m.RecordModify("/tmp/a.txt", []byte("first"))
	m.RecordModify("/tmp/a.txt", []byte("second"))

	var count int
	require.NoError(t, m.db.QueryRow(
		`SELECT COUNT(*) FROM file_deltas WHERE session_id = ? AND checkpoint_id = ? AND file_path = ?`,
		"sess-1", 1, "/tmp/a.txt",
	).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestDiscardRemovesRecords(t *testing.T) {
	m := openTestManager(t)
	m.SetSession("sess-1")
	m.Begin(1)
	m.RecordCreate("/tmp/a.txt")

	m.Discard("sess-1", 1)

	affected, err := m.Restore("sess-1", 1)
	require.NoError(t, err)
	assert.Empty(t, affected)
}
