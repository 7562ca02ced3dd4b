package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/partypen/go-backend/internal/logging"
)

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	user_id            TEXT PRIMARY KEY,
	created_at         TEXT NOT NULL,
	subscription_until TEXT,
	admin              INTEGER NOT NULL DEFAULT 0,
	verified           INTEGER NOT NULL DEFAULT 0,
	party              TEXT,
	updated_at         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id     TEXT NOT NULL,
	kind        TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	FOREIGN KEY (user_id) REFERENCES accounts(user_id)
);

CREATE INDEX IF NOT EXISTS idx_usage_events_user
ON usage_events(user_id, created_at);

CREATE TABLE IF NOT EXISTS verifications (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	filename    TEXT,
	mime_type   TEXT,
	status      TEXT NOT NULL,
	confidence  REAL NOT NULL DEFAULT 0,
	party       TEXT,
	reason      TEXT,
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS user_styles (
	user_id       TEXT PRIMARY KEY,
	profile_json  TEXT NOT NULL,
	sample_count  INTEGER NOT NULL DEFAULT 0,
	updated_at    TEXT NOT NULL
);
`

// #endregion

// timeLayout is fixed-width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// #region store-struct
// Store persists accounts, usage, verifications and style profiles in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// #endregion

// #region constructor
// NewStore opens a SQLite database and runs migrations.
// ":memory:" is pinned to a single connection so every query sees the same database.
// File databases set their pragmas per connection through the DSN, wait on
// busy writers, and begin transactions IMMEDIATE so concurrent writers queue
// instead of failing with SQLITE_BUSY.
func NewStore(dbPath string) (*Store, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		dsn = dbPath + "?" + filePragmas
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma fk: %w", err)
		}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if _, err := db.Exec(logging.SelectionSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate selection log: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// filePragmas applies to every pooled connection, not just the first.
const filePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"

// #endregion

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (logging, memory).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #region accounts

// EnsureAccount returns the user's account, creating it on first sight.
func (s *Store) EnsureAccount(userID string) (Account, error) {
	if userID == "" {
		return Account{}, fmt.Errorf("ensure account: empty user id")
	}
	now := s.now().Format(timeLayout)
	_, err := s.db.Exec(
		`INSERT INTO accounts (user_id, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO NOTHING`,
		userID, now, now,
	)
	if err != nil {
		return Account{}, fmt.Errorf("insert account: %w", err)
	}
	return s.GetAccount(userID)
}

// GetAccount reads one account. Missing accounts return ErrNotFound.
func (s *Store) GetAccount(userID string) (Account, error) {
	var a Account
	var createdStr, updatedStr string
	var subStr, party sql.NullString
	var admin, verified int

	err := s.db.QueryRow(
		`SELECT user_id, created_at, subscription_until, admin, verified, party, updated_at
		 FROM accounts WHERE user_id = ?`, userID,
	).Scan(&a.UserID, &createdStr, &subStr, &admin, &verified, &party, &updatedStr)
	if errors.Is(err, sql.ErrNoRows) {
		return Account{}, fmt.Errorf("account %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return Account{}, fmt.Errorf("get account %s: %w", userID, err)
	}

	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	a.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedStr)
	if subStr.Valid {
		a.SubscriptionUntil, _ = time.Parse(time.RFC3339Nano, subStr.String)
	}
	a.Admin = admin != 0
	a.Verified = verified != 0
	if party.Valid {
		a.Party = party.String
	}
	return a, nil
}

// SetSubscription sets the subscription end. A zero until clears it.
func (s *Store) SetSubscription(userID string, until time.Time) error {
	var untilPtr interface{}
	if !until.IsZero() {
		untilPtr = until.UTC().Format(timeLayout)
	}
	return s.updateAccount(userID, "subscription_until = ?", untilPtr)
}

// SetAdmin grants or revokes unlimited usage.
func (s *Store) SetAdmin(userID string, admin bool) error {
	return s.updateAccount(userID, "admin = ?", boolInt(admin))
}

// MarkVerified records an approved membership for the user.
func (s *Store) MarkVerified(userID, party string) error {
	return s.updateAccount(userID, "verified = 1, party = ?", nullIfEmpty(party))
}

func (s *Store) updateAccount(userID, set string, arg interface{}) error {
	res, err := s.db.Exec(
		`UPDATE accounts SET `+set+`, updated_at = ? WHERE user_id = ?`,
		arg, s.now().Format(timeLayout), userID,
	)
	if err != nil {
		return fmt.Errorf("update account %s: %w", userID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update account %s: %w", userID, err)
	}
	if n == 0 {
		return fmt.Errorf("account %s: %w", userID, ErrNotFound)
	}
	return nil
}

// ListAccounts returns accounts ordered by most recent activity.
func (s *Store) ListAccounts(limit int) ([]Account, error) {
	rows, err := s.db.Query(`SELECT user_id FROM accounts ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan account: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	accounts := make([]Account, 0, len(ids))
	for _, id := range ids {
		a, err := s.GetAccount(id)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}

// #endregion

// #region usage

// RecordUsage appends a usage event and touches the account.
func (s *Store) RecordUsage(userID, kind string) (UsageEvent, error) {
	now := s.now()
	tx, err := s.db.Begin()
	if err != nil {
		return UsageEvent{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO usage_events (user_id, kind, created_at) VALUES (?, ?, ?)`,
		userID, kind, now.Format(timeLayout),
	)
	if err != nil {
		return UsageEvent{}, fmt.Errorf("insert usage: %w", err)
	}
	id, _ := res.LastInsertId()

	if _, err := tx.Exec(
		`UPDATE accounts SET updated_at = ? WHERE user_id = ?`,
		now.Format(timeLayout), userID,
	); err != nil {
		return UsageEvent{}, fmt.Errorf("touch account: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return UsageEvent{}, fmt.Errorf("commit: %w", err)
	}
	return UsageEvent{ID: id, UserID: userID, Kind: kind, CreatedAt: now}, nil
}

// ReserveUsage appends a usage event only while fewer than limit events of
// kind exist at or after since. Count and insert are one statement inside an
// immediate transaction, so concurrent reservations cannot overshoot the
// limit. ok is false when the limit was already reached.
func (s *Store) ReserveUsage(userID, kind string, since time.Time, limit int) (UsageEvent, bool, error) {
	now := s.now()
	tx, err := s.db.Begin()
	if err != nil {
		return UsageEvent{}, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO usage_events (user_id, kind, created_at)
		 SELECT ?, ?, ?
		 WHERE (SELECT COUNT(*) FROM usage_events
		        WHERE user_id = ? AND kind = ? AND created_at >= ?) < ?`,
		userID, kind, now.Format(timeLayout),
		userID, kind, since.UTC().Format(timeLayout), limit,
	)
	if err != nil {
		return UsageEvent{}, false, fmt.Errorf("reserve usage: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return UsageEvent{}, false, nil
	}
	id, _ := res.LastInsertId()

	if _, err := tx.Exec(
		`UPDATE accounts SET updated_at = ? WHERE user_id = ?`,
		now.Format(timeLayout), userID,
	); err != nil {
		return UsageEvent{}, false, fmt.Errorf("touch account: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return UsageEvent{}, false, fmt.Errorf("commit: %w", err)
	}
	return UsageEvent{ID: id, UserID: userID, Kind: kind, CreatedAt: now}, true, nil
}

// ReleaseUsage deletes one usage event. Releasing an unknown id is not an error.
func (s *Store) ReleaseUsage(id int64) error {
	if _, err := s.db.Exec(`DELETE FROM usage_events WHERE id = ?`, id); err != nil {
		return fmt.Errorf("release usage: %w", err)
	}
	return nil
}

// CountUsage counts events of kind at or after since. An empty kind counts all kinds.
func (s *Store) CountUsage(userID, kind string, since time.Time) (int, error) {
	q := `SELECT COUNT(*) FROM usage_events WHERE user_id = ? AND created_at >= ?`
	args := []interface{}{userID, since.UTC().Format(timeLayout)}
	if kind != "" {
		q += ` AND kind = ?`
		args = append(args, kind)
	}
	var n int
	if err := s.db.QueryRow(q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count usage: %w", err)
	}
	return n, nil
}

// #endregion

// #region verifications

// SaveVerification inserts v, assigning an ID and timestamp when missing.
func (s *Store) SaveVerification(v Verification) (Verification, error) {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.now()
	}
	_, err := s.db.Exec(
		`INSERT INTO verifications (id, user_id, filename, mime_type, status, confidence, party, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.UserID, nullIfEmpty(v.Filename), nullIfEmpty(v.MimeType), string(v.Status),
		v.Confidence, nullIfEmpty(v.Party), nullIfEmpty(v.Reason), v.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return Verification{}, fmt.Errorf("insert verification: %w", err)
	}
	return v, nil
}

// ListVerifications returns a user's verifications, newest first.
func (s *Store) ListVerifications(userID string) ([]Verification, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, filename, mime_type, status, confidence, party, reason, created_at
		 FROM verifications WHERE user_id = ? ORDER BY created_at DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list verifications: %w", err)
	}
	defer rows.Close()

	var out []Verification
	for rows.Next() {
		var v Verification
		var filename, mime, party, reason sql.NullString
		var status, createdStr string
		if err := rows.Scan(&v.ID, &v.UserID, &filename, &mime, &status, &v.Confidence, &party, &reason, &createdStr); err != nil {
			return nil, fmt.Errorf("scan verification: %w", err)
		}
		v.Filename = filename.String
		v.MimeType = mime.String
		v.Party = party.String
		v.Reason = reason.String
		v.Status = VerificationStatus(status)
		v.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		out = append(out, v)
	}
	return out, rows.Err()
}

// #endregion

// #region styles

// SaveStyleProfile upserts the serialized style profile for a user.
func (s *Store) SaveStyleProfile(userID, profileJSON string, samples int) error {
	_, err := s.db.Exec(
		`INSERT INTO user_styles (user_id, profile_json, sample_count, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   profile_json = excluded.profile_json,
		   sample_count = excluded.sample_count,
		   updated_at = excluded.updated_at`,
		userID, profileJSON, samples, s.now().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("save style %s: %w", userID, err)
	}
	return nil
}

// LoadStyleProfile reads a user's style profile. Missing profiles return ErrNotFound.
func (s *Store) LoadStyleProfile(userID string) (StyleRecord, error) {
	var rec StyleRecord
	var updatedStr string
	err := s.db.QueryRow(
		`SELECT user_id, profile_json, sample_count, updated_at FROM user_styles WHERE user_id = ?`, userID,
	).Scan(&rec.UserID, &rec.ProfileJSON, &rec.SampleCount, &updatedStr)
	if errors.Is(err, sql.ErrNoRows) {
		return StyleRecord{}, fmt.Errorf("style %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return StyleRecord{}, fmt.Errorf("load style %s: %w", userID, err)
	}
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedStr)
	return rec, nil
}

// #endregion

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
