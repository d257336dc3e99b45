package sandbox

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePath resolves file against root and rejects anything that
// escapes it, unless allowOutside is set. This is the single path-policy
// check every file-touching tool handler calls — the teacher's
// mcptools package had this logic duplicated (and subtly diverged)
// across helpers.go and open.go; it lives here once now.
func ValidatePath(file, root string, allowOutside bool) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("invalid root path: %w", err)
	}

	var absPath string
	if filepath.IsAbs(file) {
		absPath = file
	} else {
		absPath = filepath.Join(rootAbs, file)
	}
	absPath, err = filepath.Abs(absPath)
	if err != nil {
		return "", fmt.Errorf("invalid file path: %w", err)
	}

	if allowOutside {
		return absPath, nil
	}

	relPath, err := filepath.Rel(rootAbs, absPath)
	if err != nil || strings.HasPrefix(relPath, "..") || filepath.IsAbs(relPath) {
		return "", fmt.Errorf("access denied: %q is outside the workspace root", file)
	}
	return absPath, nil
}
