// Package costguard tracks cumulative spend per session against a
// configured budget, persisting the ledger to SQLite so spend survives a
// process restart mid-session. Adapted from the teacher's internal/store
// cache: same sqlite-open-with-pragmas-and-migration shape, repurposed from
// a web-fetch cache into a cost ledger.
package costguard

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // register sqlite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS cost_ledger (
	session_id TEXT NOT NULL,
	model      TEXT NOT NULL,
	input_usd  REAL NOT NULL,
	output_usd REAL NOT NULL,
	created    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_session ON cost_ledger(session_id);
`

// Price is the per-million-token cost for a model, in USD.
type Price struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// defaultPrices covers the model families the pack's provider adapters
// target. An unrecognized model falls back to a conservative flat rate so
// CostGuard still enforces a ceiling rather than silently tracking $0.
var defaultPrices = map[string]Price{
	"gpt-4o":            {InputPerMTok: 2.50, OutputPerMTok: 10.00},
	"gpt-4o-mini":       {InputPerMTok: 0.15, OutputPerMTok: 0.60},
	"claude-3-5-sonnet": {InputPerMTok: 3.00, OutputPerMTok: 15.00},
	"claude-3-5-haiku":  {InputPerMTok: 0.80, OutputPerMTok: 4.00},
	"gemini-1.5-pro":    {InputPerMTok: 1.25, OutputPerMTok: 5.00},
	"gemini-1.5-flash":  {InputPerMTok: 0.075, OutputPerMTok: 0.30},
}

var fallbackPrice = Price{InputPerMTok: 1.00, OutputPerMTok: 3.00}

// PriceFor resolves a model's price, falling back to a conservative default
// for unrecognized model IDs.
func PriceFor(model string) Price {
	if p, ok := defaultPrices[model]; ok {
		return p
	}
	return fallbackPrice
}

// Guard tracks spend per session and enforces a budget ceiling.
type Guard struct {
	mu     sync.Mutex
	db     *sql.DB
	prices map[string]Price
}

// Open creates or opens a cost ledger database at dbPath.
func Open(dbPath string) (*Guard, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cost ledger db: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Guard{db: db, prices: defaultPrices}, nil
}

// Close closes the ledger database.
func (g *Guard) Close() error {
	if g == nil {
		return nil
	}
	return g.db.Close()
}

// RecordUsage prices and persists one LLM call's token usage against sessionID.
func (g *Guard) RecordUsage(sessionID, model string, inputTokens, outputTokens int) float64 {
	price := PriceFor(model)
	inputUSD := float64(inputTokens) / 1_000_000 * price.InputPerMTok
	outputUSD := float64(outputTokens) / 1_000_000 * price.OutputPerMTok

	g.mu.Lock()
	defer g.mu.Unlock()
	_, err := g.db.Exec(
		"INSERT INTO cost_ledger (session_id, model, input_usd, output_usd, created) VALUES (?, ?, ?, ?, ?)",
		sessionID, model, inputUSD, outputUSD, time.Now().Unix(),
	)
	if err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("costguard: failed to record usage")
	}
	return inputUSD + outputUSD
}

// Spent returns the cumulative USD spend recorded for sessionID.
func (g *Guard) Spent(sessionID string) float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	var total sql.NullFloat64
	err := g.db.QueryRow(
		"SELECT SUM(input_usd + output_usd) FROM cost_ledger WHERE session_id = ?",
		sessionID,
	).Scan(&total)
	if err != nil || !total.Valid {
		return 0
	}
	return total.Float64
}

// Reset clears the ledger for sessionID, e.g. when a session is explicitly
// rebudgeted by the operator.
func (g *Guard) Reset(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, err := g.db.Exec("DELETE FROM cost_ledger WHERE session_id = ?", sessionID); err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("costguard: failed to reset ledger")
	}
}
