package costguard

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestGuard(t *testing.T) *Guard {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "cost.db")
	g, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

func TestRecordUsageAccumulatesSpend(t *testing.T) {
	g := openTestGuard(t)

	first := g.RecordUsage("sess-1", "gpt-4o", 1_000_000, 0)
	assert.InDelta(t, 2.50, first, 1e-9)

	second := g.RecordUsage("sess-1", "gpt-4o", 0, 1_000_000)
	assert.InDelta(t, 10.00, second, 1e-9)

	assert.InDelta(t, 12.50, g.Spent("sess-1"), 1e-9)
}

func TestSpentIsPerSession(t *testing.T) {
	g := openTestGuard(t)
	g.RecordUsage("sess-a", "gpt-4o-mini", 1_000_000, 0)
	assert.Zero(t, g.Spent("sess-b"))
}

func TestResetClearsLedger(t *testing.T) {
	g := openTestGuard(t)
	g.RecordUsage("sess-1", "gpt-4o", 1_000_000, 0)
	require.NotZero(t, g.Spent("sess-1"))

	g.Reset("sess-1")
	assert.Zero(t, g.Spent("sess-1"))
}

func TestPriceForUnknownModelFallsBack(t *testing.T) {
	assert.Equal(t, fallbackPrice, PriceFor("some-unreleased-model"))
	assert.Equal(t, Price{InputPerMTok: 2.50, OutputPerMTok: 10.00}, PriceFor("gpt-4o"))
}
