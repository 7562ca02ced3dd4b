package news

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// #region types

// Item is one news entry after parsing.
type Item struct {
	Title     string    `json:"title"`
	Summary   string    `json:"summary,omitempty"`
	URL       string    `json:"url,omitempty"`
	Source    string    `json:"source,omitempty"`
	Published time.Time `json:"published"`
	Score     int       `json:"score"` // keyword overlap with the query
}

// Config holds news fetch and compression parameters.
type Config struct {
	Enabled         bool
	Feeds           []string
	MaxItems        int
	Timeout         time.Duration // per feed
	MaxChars        int           // budget for the formatted context block
	MaxSummaryChars int
	MinOverlap      int // keywords an item must share with the query
	Parallelism     int
}

// Result captures the outcome of the three compression gates.
type Result struct {
	Items      []Item `json:"items"`
	Considered int    `json:"considered"`
	Relevant   int    `json:"relevant"`   // after the relevance gate
	Consistent int    `json:"consistent"` // after the consistency gate
	Reason     string `json:"reason"`
}

// #endregion

// #region config

// DefaultConfig returns default news configuration.
// Reads from env vars: NEWS_ENABLED, NEWS_FEEDS (comma-separated URLs),
// NEWS_MAX_ITEMS, NEWS_TIMEOUT (seconds), NEWS_MAX_CHARS.
func DefaultConfig() Config {
	cfg := Config{
		Enabled:         false,
		MaxItems:        5,
		Timeout:         8 * time.Second,
		MaxChars:        2000,
		MaxSummaryChars: 280,
		MinOverlap:      1,
		Parallelism:     4,
	}
	if v := os.Getenv("NEWS_ENABLED"); v != "" {
		cfg.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("NEWS_FEEDS"); v != "" {
		for _, u := range strings.Split(v, ",") {
			if u = strings.TrimSpace(u); u != "" {
				cfg.Feeds = append(cfg.Feeds, u)
			}
		}
	}
	if v := os.Getenv("NEWS_MAX_ITEMS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxItems = n
		}
	}
	if v := os.Getenv("NEWS_TIMEOUT"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			cfg.Timeout = time.Duration(sec) * time.Second
		}
	}
	if v := os.Getenv("NEWS_MAX_CHARS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxChars = n
		}
	}
	return cfg
}

// #endregion
