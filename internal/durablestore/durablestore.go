// Package durablestore persists large tool results to disk, write-once,
// keyed by tool_call_id, so a compacted history can reference a stub while
// the full payload stays retrievable via the RestoreContext tool.
package durablestore

import (
	"fmt"
	"os"
	"path/filepath"
)

// Store writes and reads tool-call payloads as `<tool_call_id>.txt` files
// under a directory.
type Store struct {
	dir string
}

// Open ensures dir exists and returns a Store rooted there.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("durablestore: create dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) pathFor(toolCallID string) string {
	return filepath.Join(s.dir, toolCallID+".txt")
}

// Put writes content for toolCallID. Write-once: if a file already exists
// for this ID, Put is a no-op — the first recorded payload for a given tool
// call is authoritative, matching the append-only history invariant.
func (s *Store) Put(toolCallID, content string) error {
	path := s.pathFor(toolCallID)
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	return os.WriteFile(path, []byte(content), 0600)
}

// Get retrieves the full payload for toolCallID, or ok=false if none was stored.
func (s *Store) Get(toolCallID string) (content string, ok bool) {
	data, err := os.ReadFile(s.pathFor(toolCallID))
	if err != nil {
		return "", false
	}
	return string(data), true
}

// Has reports whether a payload is stored for toolCallID.
func (s *Store) Has(toolCallID string) bool {
	_, err := os.Stat(s.pathFor(toolCallID))
	return err == nil
}
