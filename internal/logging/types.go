package logging

import "time"

// #region selection-entry
// SelectionEntry is a single row in the selection_log table.
type SelectionEntry struct {
	ID             string
	UserID         string
	Platform       string
	Path           string // terminal ranker state, e.g. "scored" | "scorer_fallback"
	CandidateCount int
	BestIndex      int
	Reason         string
	Quality        float32
	ElapsedMS      int64
	RankingsJSON   string
	CreatedAt      time.Time
}

// #endregion

// #region selection-schema
// SelectionSchema creates the selection_log table.
const SelectionSchema = `
CREATE TABLE IF NOT EXISTS selection_log (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	platform        TEXT NOT NULL,
	path            TEXT NOT NULL,
	candidate_count INTEGER NOT NULL,
	best_index      INTEGER NOT NULL,
	reason          TEXT,
	quality         REAL NOT NULL DEFAULT 0,
	elapsed_ms      INTEGER NOT NULL DEFAULT 0,
	rankings_json   TEXT,
	created_at      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_selection_log_user ON selection_log(user_id, created_at);
`

// #endregion
