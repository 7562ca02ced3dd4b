package quota

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/danielpatrickdp/partypen/go-backend/internal/store"
)

// accountStore is the slice of store.Store the gate needs.
type accountStore interface {
	EnsureAccount(userID string) (store.Account, error)
	SetSubscription(userID string, until time.Time) error
	RecordUsage(userID, kind string) (store.UsageEvent, error)
	ReserveUsage(userID, kind string, since time.Time, limit int) (store.UsageEvent, bool, error)
	ReleaseUsage(id int64) error
	CountUsage(userID, kind string, since time.Time) (int, error)
}

// #region gate
// Gate decides whether a user may spend another generation.
type Gate struct {
	store  accountStore
	config Config
	admins map[string]bool
	now    func() time.Time
}

// NewGate creates a gate over st.
func NewGate(st accountStore, config Config) *Gate {
	admins := make(map[string]bool, len(config.Admins))
	for _, id := range config.Admins {
		admins[id] = true
	}
	return &Gate{
		store:  st,
		config: config,
		admins: admins,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// window is the counting rule for one account at one moment.
type window struct {
	plan   Plan
	since  time.Time
	limit  int
	denied string
}

// resolve provisions the account and picks the plan that applies now.
func (g *Gate) resolve(userID string) (window, error) {
	acct, err := g.store.EnsureAccount(userID)
	if err != nil {
		return window{}, err
	}
	now := g.now()

	// Admins first; no counting needed.
	if acct.Admin || g.admins[userID] {
		return window{plan: PlanAdmin, limit: -1}, nil
	}
	if acct.Subscribed(now) {
		return window{plan: PlanSubscriber, since: monthStart(now), limit: g.config.MonthlyLimit, denied: "monthly limit reached"}, nil
	}
	if trialEnd := acct.CreatedAt.AddDate(0, 0, g.config.TrialDays); now.Before(trialEnd) {
		return window{plan: PlanTrial, since: acct.CreatedAt, limit: g.config.TrialLimit, denied: "trial limit reached"}, nil
	}

	reason := "trial expired"
	if !acct.SubscriptionUntil.IsZero() {
		reason = fmt.Sprintf("subscription ended %s", acct.SubscriptionUntil.Format("2006-01-02"))
	}
	return window{plan: PlanExpired, denied: reason}, nil
}

// Check resolves the user's plan and remaining allowance.
// Unknown users are provisioned onto a fresh trial.
func (g *Gate) Check(ctx context.Context, userID string) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	w, err := g.resolve(userID)
	if err != nil {
		return Decision{}, fmt.Errorf("quota check: %w", err)
	}
	switch w.plan {
	case PlanAdmin:
		return adminDecision(), nil
	case PlanExpired:
		return Decision{Allowed: false, Plan: PlanExpired, Reason: w.denied}, nil
	}
	used, err := g.store.CountUsage(userID, KindGenerate, w.since)
	if err != nil {
		return Decision{}, fmt.Errorf("quota check: %w", err)
	}
	return limited(w.plan, used, w.limit, w.denied), nil
}

// Reservation is one generation held against a user's allowance.
// A zero EventID holds nothing.
type Reservation struct {
	UserID  string
	EventID int64
}

// Reserve checks the plan and, when allowed, records one generation up
// front so concurrent requests cannot all pass the same check. The returned
// Decision counts the held unit. Release it if the generation yields nothing.
func (g *Gate) Reserve(ctx context.Context, userID string) (Decision, Reservation, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, Reservation{}, err
	}
	w, err := g.resolve(userID)
	if err != nil {
		return Decision{}, Reservation{}, fmt.Errorf("quota reserve: %w", err)
	}
	switch w.plan {
	case PlanAdmin:
		ev, err := g.store.RecordUsage(userID, KindGenerate)
		if err != nil {
			return Decision{}, Reservation{}, fmt.Errorf("quota reserve: %w", err)
		}
		return adminDecision(), Reservation{UserID: userID, EventID: ev.ID}, nil
	case PlanExpired:
		return Decision{Allowed: false, Plan: PlanExpired, Reason: w.denied}, Reservation{}, nil
	}

	ev, ok, err := g.store.ReserveUsage(userID, KindGenerate, w.since, w.limit)
	if err != nil {
		return Decision{}, Reservation{}, fmt.Errorf("quota reserve: %w", err)
	}
	used, err := g.store.CountUsage(userID, KindGenerate, w.since)
	if err != nil {
		used = w.limit
	}
	if !ok {
		return limited(w.plan, used, w.limit, w.denied), Reservation{}, nil
	}

	d := limited(w.plan, used, w.limit, w.denied)
	d.Allowed = true
	d.Reason = fmt.Sprintf("%s: %d of %d used", w.plan, used, w.limit)
	log.Printf("[QUOTA] reserved: user=%s event=%d used=%d/%d", userID, ev.ID, used, w.limit)
	return d, Reservation{UserID: userID, EventID: ev.ID}, nil
}

// Release returns a reserved unit. Releasing a zero Reservation is a no-op.
func (g *Gate) Release(ctx context.Context, r Reservation) error {
	if r.EventID == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := g.store.ReleaseUsage(r.EventID); err != nil {
		return fmt.Errorf("quota release: %w", err)
	}
	log.Printf("[QUOTA] released: user=%s event=%d", r.UserID, r.EventID)
	return nil
}

// Consume records one unit of usage of the given kind.
func (g *Gate) Consume(ctx context.Context, userID, kind string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := g.store.EnsureAccount(userID); err != nil {
		return fmt.Errorf("quota consume: %w", err)
	}
	if _, err := g.store.RecordUsage(userID, kind); err != nil {
		return fmt.Errorf("quota consume: %w", err)
	}
	log.Printf("[QUOTA] consumed: user=%s kind=%s", userID, kind)
	return nil
}

// Subscribe starts or extends a subscription until the given time.
func (g *Gate) Subscribe(ctx context.Context, userID string, until time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := g.store.EnsureAccount(userID); err != nil {
		return fmt.Errorf("quota subscribe: %w", err)
	}
	if err := g.store.SetSubscription(userID, until); err != nil {
		return fmt.Errorf("quota subscribe: %w", err)
	}
	log.Printf("[QUOTA] subscribed: user=%s until=%s", userID, until.Format(time.RFC3339))
	return nil
}

// #endregion

// #region helpers
func adminDecision() Decision {
	return Decision{Allowed: true, Plan: PlanAdmin, Limit: -1, Remaining: -1, Reason: "admin"}
}

func limited(plan Plan, used, limit int, deniedReason string) Decision {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	d := Decision{
		Allowed:   used < limit,
		Plan:      plan,
		Used:      used,
		Limit:     limit,
		Remaining: remaining,
		Reason:    fmt.Sprintf("%s: %d of %d used", plan, used, limit),
	}
	if !d.Allowed {
		d.Reason = deniedReason
	}
	return d
}

func monthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// #endregion
