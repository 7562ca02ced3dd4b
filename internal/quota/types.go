package quota

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

// ErrQuotaExceeded is returned by callers that turn a denied Decision into an error.
var ErrQuotaExceeded = errors.New("quota exceeded")

// Usage kinds. Only KindGenerate counts against plan limits.
const (
	KindGenerate = "generate"
	KindVerify   = "verify"
)

// #region plan
// Plan is the billing tier an account currently falls under.
type Plan string

const (
	PlanTrial      Plan = "trial"
	PlanSubscriber Plan = "subscriber"
	PlanAdmin      Plan = "admin"
	PlanExpired    Plan = "expired"
)

// #endregion

// #region config
// Config holds plan limits.
type Config struct {
	TrialLimit   int      // generations allowed during the trial window
	TrialDays    int      // trial window length from signup
	MonthlyLimit int      // generations per calendar month for subscribers
	Admins       []string // user ids with unlimited usage
}

// DefaultConfig returns defaults with env overrides:
// QUOTA_TRIAL_LIMIT, QUOTA_TRIAL_DAYS, QUOTA_MONTHLY_LIMIT, QUOTA_ADMINS (comma-separated).
func DefaultConfig() Config {
	cfg := Config{
		TrialLimit:   10,
		TrialDays:    7,
		MonthlyLimit: 300,
	}
	if n, ok := envInt("QUOTA_TRIAL_LIMIT"); ok {
		cfg.TrialLimit = n
	}
	if n, ok := envInt("QUOTA_TRIAL_DAYS"); ok {
		cfg.TrialDays = n
	}
	if n, ok := envInt("QUOTA_MONTHLY_LIMIT"); ok {
		cfg.MonthlyLimit = n
	}
	if v := os.Getenv("QUOTA_ADMINS"); v != "" {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				cfg.Admins = append(cfg.Admins, id)
			}
		}
	}
	return cfg
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// #endregion

// #region decision
// Decision is the result of a quota check.
type Decision struct {
	Allowed   bool   `json:"allowed"`
	Plan      Plan   `json:"plan"`
	Used      int    `json:"used"`
	Limit     int    `json:"limit"` // -1 = unlimited
	Remaining int    `json:"remaining"`
	Reason    string `json:"reason"`
}

// #endregion
