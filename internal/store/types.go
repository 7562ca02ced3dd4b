package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// #region account
// Account is one user of the service. Trial time counts from CreatedAt.
type Account struct {
	UserID            string
	CreatedAt         time.Time
	SubscriptionUntil time.Time // zero when never subscribed
	Admin             bool
	Verified          bool
	Party             string // set when a membership document is approved
	UpdatedAt         time.Time
}

// Subscribed reports whether the subscription is still running at now.
func (a Account) Subscribed(now time.Time) bool {
	return !a.SubscriptionUntil.IsZero() && now.Before(a.SubscriptionUntil)
}

// #endregion

// #region usage-event
// UsageEvent is one consumed unit of quota.
type UsageEvent struct {
	ID        int64
	UserID    string
	Kind      string // "generate" | "verify" | ...
	CreatedAt time.Time
}

// #endregion

// #region verification
// VerificationStatus is the outcome of a membership document check.
type VerificationStatus string

const (
	StatusApproved    VerificationStatus = "approved"
	StatusRejected    VerificationStatus = "rejected"
	StatusNeedsReview VerificationStatus = "needs_review"
)

// Verification is a persisted membership verification attempt.
type Verification struct {
	ID         string
	UserID     string
	Filename   string
	MimeType   string
	Status     VerificationStatus
	Confidence float64
	Party      string
	Reason     string
	CreatedAt  time.Time
}

// #endregion

// #region style-record
// StyleRecord holds a serialized writing-style profile for a user.
type StyleRecord struct {
	UserID      string
	ProfileJSON string
	SampleCount int
	UpdatedAt   time.Time
}

// #endregion
