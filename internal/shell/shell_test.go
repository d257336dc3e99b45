package shell

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests call /bin/echo rather than echo: echo is an interpreter
// builtin and never reaches the exec handler that counts processes.

func TestNewWithLimitsAllowsUpToMaxProcesses(t *testing.T) {
	sh := NewWithLimits(t.TempDir(), nil, 2)
	_, _, err := sh.Exec(context.Background(), "/bin/echo one; /bin/echo two")
	require.NoError(t, err)
}

func TestNewWithLimitsBlocksBeyondMaxProcesses(t *testing.T) {
	sh := NewWithLimits(t.TempDir(), nil, 1)
	_, _, err := sh.Exec(context.Background(), "/bin/echo one; /bin/echo two")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "process limit exceeded")
}

func TestNewWithLimitsZeroMeansUnlimited(t *testing.T) {
	sh := NewWithLimits(t.TempDir(), nil, 0)
	_, _, err := sh.Exec(context.Background(), "/bin/echo one; /bin/echo two; /bin/echo three; /bin/echo four")
	require.NoError(t, err)
}

func TestNewWithLimitsCounterResetsAcrossCalls(t *testing.T) {
	sh := NewWithLimits(t.TempDir(), nil, 1)
	_, _, err := sh.Exec(context.Background(), "/bin/echo one")
	require.NoError(t, err)
	_, _, err = sh.Exec(context.Background(), "/bin/echo two")
	require.NoError(t, err)
}
