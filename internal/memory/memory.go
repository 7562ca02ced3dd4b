package memory

// #region imports
import (
	"database/sql"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

// #endregion

// #region schema

const phraseMemorySchema = `
CREATE TABLE IF NOT EXISTS phrase_memory (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id     TEXT NOT NULL,
    platform    TEXT NOT NULL DEFAULT '',
    kind        TEXT NOT NULL,
    phrase      TEXT NOT NULL,
    weight      REAL NOT NULL,
    created_at  TEXT NOT NULL
);
`

const phraseMemoryIndex = `
CREATE INDEX IF NOT EXISTS idx_phrase_memory_user
ON phrase_memory(user_id, platform);
`

// #endregion

// #region types

// Kind says where a remembered phrase came from.
type Kind string

const (
	KindHashtag  Kind = "hashtag"
	KindOpening  Kind = "opening"
	KindClosing  Kind = "closing"
	KindFeedback Kind = "feedback"
)

// Phrase is one remembered phrase with its decayed score.
type Phrase struct {
	Text    string  `json:"text"`
	Kind    Kind    `json:"kind"`
	Score   float64 `json:"score"`
	Samples int     `json:"samples"`
}

const (
	halfLifeHours = 7 * 24
	maxLineRunes  = 140
)

var hashtagRe = regexp.MustCompile(`#[\p{L}\p{N}_]+`)

// #endregion

// #region memory-struct

// PhraseMemory remembers phrasing from selected posts and user feedback,
// and surfaces the phrases that worked best recently.
type PhraseMemory struct {
	db  *sql.DB
	now func() time.Time
}

// NewPhraseMemory initializes the phrase_memory table.
func NewPhraseMemory(db *sql.DB) (*PhraseMemory, error) {
	if _, err := db.Exec(phraseMemorySchema); err != nil {
		return nil, fmt.Errorf("phrase memory schema: %w", err)
	}
	if _, err := db.Exec(phraseMemoryIndex); err != nil {
		return nil, fmt.Errorf("phrase memory index: %w", err)
	}
	return &PhraseMemory{db: db, now: time.Now}, nil
}

// #endregion

// #region record

// RecordSelection stores the hashtags and the opening and closing lines of
// a chosen post, weighted by its quality score.
func (m *PhraseMemory) RecordSelection(userID, platform, text string, quality float32) error {
	phrases := ExtractPhrases(text)
	if len(phrases) == 0 {
		return nil
	}
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := m.now().UTC().Format(time.RFC3339)
	for _, p := range phrases {
		if _, err := tx.Exec(`
			INSERT INTO phrase_memory (user_id, platform, kind, phrase, weight, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			userID, platform, string(p.Kind), p.Text, float64(quality), now,
		); err != nil {
			return fmt.Errorf("insert phrase: %w", err)
		}
	}
	return tx.Commit()
}

// Feedback records an explicit like or dislike for a phrase on every platform.
func (m *PhraseMemory) Feedback(userID, phrase string, liked bool) error {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return fmt.Errorf("feedback: empty phrase")
	}
	weight := -1.0
	if liked {
		weight = 1.0
	}
	_, err := m.db.Exec(`
		INSERT INTO phrase_memory (user_id, platform, kind, phrase, weight, created_at)
		VALUES (?, '', ?, ?, ?, ?)`,
		userID, string(KindFeedback), phrase, weight, m.now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

// Forget deletes everything remembered for a user.
func (m *PhraseMemory) Forget(userID string) (int64, error) {
	res, err := m.db.Exec(`DELETE FROM phrase_memory WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("forget %s: %w", userID, err)
	}
	return res.RowsAffected()
}

// #endregion

// #region top-phrases

// TopPhrases returns up to k phrases for the user on platform, ranked by
// decayed evidence (7-day half-life). Phrases whose evidence nets out at or
// below zero are left out. Feedback rows count for every platform.
func (m *PhraseMemory) TopPhrases(userID, platform string, k int) ([]Phrase, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := m.db.Query(`
		SELECT kind, phrase, weight, created_at
		FROM phrase_memory
		WHERE user_id = ? AND (platform = ? OR platform = '')`,
		userID, platform,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type phraseAccum struct {
		text  string
		kind  Kind
		score float64
		count int
	}

	now := m.now()
	accum := make(map[string]*phraseAccum)

	for rows.Next() {
		var kind, phrase, createdAtStr string
		var weight float64
		if err := rows.Scan(&kind, &phrase, &weight, &createdAtStr); err != nil {
			return nil, err
		}
		createdAt, err := time.Parse(time.RFC3339, createdAtStr)
		if err != nil {
			continue
		}
		ageHours := math.Max(0, now.Sub(createdAt).Hours())
		decay := math.Pow(0.5, ageHours/halfLifeHours)

		key := strings.ToLower(phrase)
		a, ok := accum[key]
		if !ok {
			a = &phraseAccum{text: phrase, kind: Kind(kind)}
			accum[key] = a
		}
		if a.kind == KindFeedback && Kind(kind) != KindFeedback {
			a.kind = Kind(kind)
			a.text = phrase
		}
		a.score += weight * decay
		a.count++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Phrase, 0, len(accum))
	for _, a := range accum {
		if a.score <= 0 {
			continue
		}
		out = append(out, Phrase{Text: a.text, Kind: a.kind, Score: a.score, Samples: a.count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Text < out[j].Text
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// #endregion

// #region extract

// ExtractPhrases pulls the reusable bits out of a post: hashtags (lowercased,
// deduplicated) plus its first and last non-empty lines.
func ExtractPhrases(text string) []Phrase {
	var out []Phrase
	seen := make(map[string]bool)
	for _, tag := range hashtagRe.FindAllString(text, -1) {
		tag = strings.ToLower(tag)
		if seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, Phrase{Text: tag, Kind: KindHashtag})
	}

	var lines []string
	for _, l := range strings.Split(text, "\n") {
		l = strings.TrimSpace(hashtagRe.ReplaceAllString(l, ""))
		if l != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return out
	}
	out = append(out, Phrase{Text: clip(lines[0]), Kind: KindOpening})
	if len(lines) > 1 {
		out = append(out, Phrase{Text: clip(lines[len(lines)-1]), Kind: KindClosing})
	}
	return out
}

func clip(s string) string {
	if utf8.RuneCountInString(s) <= maxLineRunes {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:maxLineRunes]))
}

// #endregion
