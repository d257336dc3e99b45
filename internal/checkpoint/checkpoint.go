// Package checkpoint tracks filesystem changes made by tool calls so a
// turn can be reversed on demand. It is the kernel's reversibility
// mechanism: the Edit handler records a file before writing it, and the
// Shell handler records the files a command changed. Adapted from the teacher's internal/delta package: an undo
// snapshot and a pre-tool-call checkpoint are the same mechanism under a
// different name — record the world before a mutation, replay it backward
// on request.
package checkpoint

import (
	"database/sql"
	"os"
	"sync"

	"github.com/rs/zerolog/log"
)

// Manager records and restores filesystem checkpoints, persisted to
// SQLite and keyed by (session, checkpoint).
type Manager struct {
	mu           sync.Mutex
	db           *sql.DB
	sessionID    string
	checkpointID int64 // current checkpoint; 0 = none active
}

// New creates a Manager writing to db. The caller is responsible for
// having migrated the file_deltas table (see internal/costguard.Open for
// the shared migration pattern).
func New(db *sql.DB) *Manager {
	return &Manager{db: db}
}

// SetSession sets the active session ID.
func (m *Manager) SetSession(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionID = id
}

// Begin starts a new checkpoint. All subsequent Record* calls are
// associated with it until the next Begin.
func (m *Manager) Begin(checkpointID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpointID = checkpointID
}

// Current returns the active checkpoint ID, or 0 if none is active.
func (m *Manager) Current() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkpointID
}

// RecordModify stores the original content of a file before it is
// modified. Only the first snapshot per file per checkpoint is kept —
// subsequent edits to the same file within the same checkpoint are
// no-ops, since the original is already captured.
func (m *Manager) RecordModify(filePath string, oldContent []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checkpointID == 0 || m.sessionID == "" {
		return
	}
	var exists bool
	err := m.db.QueryRow(
		`SELECT 1 FROM file_deltas WHERE session_id = ? AND checkpoint_id = ? AND file_path = ? LIMIT 1`,
		m.sessionID, m.checkpointID, filePath,
	).Scan(&exists)
	if err == nil && exists {
		return
	}
	_, err = m.db.Exec(
		`INSERT INTO file_deltas (session_id, checkpoint_id, file_path, op, old_content, created)
		 VALUES (?, ?, ?, 'modify', ?, strftime('%s','now'))`,
		m.sessionID, m.checkpointID, filePath, oldContent,
	)
	if err != nil {
		log.Warn().Err(err).Str("file", filePath).Msg("checkpoint: failed to record modify")
	}
}

// RecordCreate records that a file was created (old_content is NULL).
func (m *Manager) RecordCreate(filePath string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.checkpointID == 0 || m.sessionID == "" {
		return
	}
	_, err := m.db.Exec(
		`INSERT INTO file_deltas (session_id, checkpoint_id, file_path, op, old_content, created)
		 VALUES (?, ?, ?, 'create', NULL, strftime('%s','now'))`,
		m.sessionID, m.checkpointID, filePath,
	)
	if err != nil {
		log.Warn().Err(err).Str("file", filePath).Msg("checkpoint: failed to record create")
	}
}

// Restore reverses all file changes recorded for the given checkpoint, in
// reverse order: modify ops restore old content, create ops delete the
// file. Returns the affected absolute paths.
func (m *Manager) Restore(sessionID string, checkpointID int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rows, err := m.db.Query(
		`SELECT file_path, op, old_content FROM file_deltas
		 WHERE session_id = ? AND checkpoint_id = ?
		 ORDER BY id DESC`,
		sessionID, checkpointID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var affected []string
	for rows.Next() {
		var filePath, op string
		var oldContent []byte
		if err := rows.Scan(&filePath, &op, &oldContent); err != nil {
			log.Warn().Err(err).Msg("checkpoint: failed to scan row")
			continue
		}
		affected = append(affected, filePath)
		switch op {
		case "modify":
			if err := os.WriteFile(filePath, oldContent, 0600); err != nil {
				log.Warn().Err(err).Str("file", filePath).Msg("checkpoint: failed to restore file")
			}
		case "create":
			if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
				log.Warn().Err(err).Str("file", filePath).Msg("checkpoint: failed to remove created file")
			}
		}
	}
	return affected, rows.Err()
}

// Discard removes all checkpoint records for a checkpoint without
// restoring anything (the turn committed successfully, nothing to undo).
func (m *Manager) Discard(sessionID string, checkpointID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.db.Exec(
		`DELETE FROM file_deltas WHERE session_id = ? AND checkpoint_id = ?`,
		sessionID, checkpointID,
	)
	if err != nil {
		log.Warn().Err(err).Int64("checkpoint", checkpointID).Msg("checkpoint: failed to discard")
	}
}

// Migrate creates the file_deltas table if it does not already exist.
func Migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS file_deltas (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id    TEXT NOT NULL,
		checkpoint_id INTEGER NOT NULL,
		file_path     TEXT NOT NULL,
		op            TEXT NOT NULL,
		old_content   BLOB,
		created       INTEGER NOT NULL
	)`)
	return err
}
