package ranker

import (
	"os"
	"strconv"
	"time"
)

// #region config

// Config holds process-wide ranking settings. Treated as read-only once built.
type Config struct {
	CandidateCount             int
	LightModel                 string
	HeavyModel                 string
	LightTimeout               time.Duration
	HeavyTimeout               time.Duration
	DirectTimeout              time.Duration // last-resort single-shot generation
	MinCandidatesForHeavyStage int
	LightTemperature           float32
	HeavyTemperature           float32
	DirectTemperature          float32 // heavy model writing the post itself, not judging
	LightMaxTokens             int
	HeavyMaxTokens             int
	DirectMaxTokens            int // zero falls back to LightMaxTokens
}

// DefaultConfig returns defaults with env overrides:
// RANKER_CANDIDATES, RANKER_LIGHT_MODEL, RANKER_HEAVY_MODEL,
// RANKER_LIGHT_TIMEOUT, RANKER_HEAVY_TIMEOUT, RANKER_DIRECT_TIMEOUT (seconds),
// RANKER_MIN_HEAVY.
func DefaultConfig() Config {
	cfg := Config{
		CandidateCount:             3,
		LightModel:                 "gemini-2.5-flash-lite",
		HeavyModel:                 "gemini-2.5-pro",
		LightTimeout:               25 * time.Second,
		HeavyTimeout:               60 * time.Second,
		DirectTimeout:              45 * time.Second,
		MinCandidatesForHeavyStage: 2,
		LightTemperature:           0.9,
		HeavyTemperature:           0.2,
		DirectTemperature:          0.7,
		LightMaxTokens:             1024,
		HeavyMaxTokens:             2048,
		DirectMaxTokens:            1024,
	}
	if v := os.Getenv("RANKER_CANDIDATES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.CandidateCount = n
		}
	}
	if v := os.Getenv("RANKER_LIGHT_MODEL"); v != "" {
		cfg.LightModel = v
	}
	if v := os.Getenv("RANKER_HEAVY_MODEL"); v != "" {
		cfg.HeavyModel = v
	}
	cfg.LightTimeout = envSeconds("RANKER_LIGHT_TIMEOUT", cfg.LightTimeout)
	cfg.HeavyTimeout = envSeconds("RANKER_HEAVY_TIMEOUT", cfg.HeavyTimeout)
	cfg.DirectTimeout = envSeconds("RANKER_DIRECT_TIMEOUT", cfg.DirectTimeout)
	if v := os.Getenv("RANKER_MIN_HEAVY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			cfg.MinCandidatesForHeavyStage = n
		}
	}
	return cfg
}

func envSeconds(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	sec, err := strconv.ParseFloat(v, 64)
	if err != nil || sec <= 0 {
		return fallback
	}
	return time.Duration(sec * float64(time.Second))
}

// normalized clamps fields that would break the pipeline.
func (c Config) normalized() Config {
	if c.CandidateCount < 1 {
		c.CandidateCount = 1
	}
	if c.MinCandidatesForHeavyStage < 1 {
		c.MinCandidatesForHeavyStage = 1
	}
	if c.DirectMaxTokens <= 0 {
		c.DirectMaxTokens = c.LightMaxTokens
	}
	return c
}

// #endregion
