package logging

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// timeLayout is fixed-width so created_at orders correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// #region log-selection
// LogSelection writes one generation outcome to the selection_log table.
func LogSelection(db *sql.DB, entry SelectionEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := db.Exec(
		`INSERT INTO selection_log (id, user_id, platform, path, candidate_count, best_index, reason, quality, elapsed_ms, rankings_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.UserID,
		entry.Platform,
		entry.Path,
		entry.CandidateCount,
		entry.BestIndex,
		nullIfEmpty(entry.Reason),
		entry.Quality,
		entry.ElapsedMS,
		nullIfEmpty(entry.RankingsJSON),
		entry.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("log selection: %w", err)
	}
	return nil
}

// #endregion

// #region list-selections
// ListSelections returns the most recent entries, newest first.
// An empty userID lists entries for every user.
func ListSelections(db *sql.DB, userID string, limit int) ([]SelectionEntry, error) {
	query := `SELECT id, user_id, platform, path, candidate_count, best_index, reason, quality, elapsed_ms, rankings_json, created_at
		FROM selection_log`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list selections: %w", err)
	}
	defer rows.Close()

	var out []SelectionEntry
	for rows.Next() {
		var e SelectionEntry
		var reason, rankings sql.NullString
		var created string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Platform, &e.Path, &e.CandidateCount, &e.BestIndex,
			&reason, &e.Quality, &e.ElapsedMS, &rankings, &created); err != nil {
			return nil, fmt.Errorf("scan selection: %w", err)
		}
		e.Reason = reason.String
		e.RankingsJSON = rankings.String
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, e)
	}
	return out, rows.Err()
}

// #endregion

// #region helpers
func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// #endregion
