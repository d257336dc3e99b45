package sandbox

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForBackendNoneUsesInterpreterAndCountsSandboxed(t *testing.T) {
	sb := ForBackend("none", Policy{WorkspaceRoot: t.TempDir()})
	require.Equal(t, BackendNone, sb.Backend())

	_, err := sb.Exec(context.Background(), "echo hi")
	require.NoError(t, err)

	stats := sb.Stats()
	assert.Equal(t, int64(1), stats.CommandsRun)
	assert.Equal(t, int64(1), stats.CommandsSandboxed)
	assert.Equal(t, int64(0), stats.CommandsBypassed)
}

func TestFallbackWithoutAllowUnsandboxedReturnsUnavailable(t *testing.T) {
	sb := fallback(Policy{WorkspaceRoot: t.TempDir(), AllowUnsandboxed: false})

	_, err := sb.Exec(context.Background(), "echo hi")
	assert.True(t, errors.Is(err, ErrSandboxUnavailable))

	stats := sb.Stats()
	assert.Equal(t, int64(0), stats.CommandsRun)
}

func TestFallbackWithAllowUnsandboxedRunsAndCountsBypassed(t *testing.T) {
	sb := fallback(Policy{WorkspaceRoot: t.TempDir(), AllowUnsandboxed: true})
	require.Equal(t, BackendNone, sb.Backend())

	_, err := sb.Exec(context.Background(), "echo hi")
	require.NoError(t, err)

	stats := sb.Stats()
	assert.Equal(t, int64(1), stats.CommandsRun)
	assert.Equal(t, int64(0), stats.CommandsSandboxed)
	assert.Equal(t, int64(1), stats.CommandsBypassed)
}

func TestUnavailableSandboxExecStreamAlsoFails(t *testing.T) {
	sb := &unavailableSandbox{dir: "/tmp"}
	_, err := sb.ExecStream(context.Background(), "echo hi", nil, nil)
	assert.True(t, errors.Is(err, ErrSandboxUnavailable))
	assert.Equal(t, "/tmp", sb.Dir())
}
