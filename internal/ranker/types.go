package ranker

// #region imports
import (
	"errors"
	"time"
)

// #endregion

// #region errors

// Failure kinds absorbed inside the ranker. They surface only through
// SelectionResult.Cause and the rendered Reason.
var (
	ErrTimeout             = errors.New("timeout")
	ErrMalformedResponse   = errors.New("malformed response")
	ErrOutOfRangeSelection = errors.New("out-of-range selection")
	ErrNoCandidates        = errors.New("no candidates")
	ErrTransport           = errors.New("transport failure")
)

// #endregion

// #region path

// Path names the terminal state a selection ended in.
type Path string

const (
	PathScored         Path = "scored"
	PathSingle         Path = "single_candidate"
	PathInsufficient   Path = "insufficient_candidates"
	PathScorerFallback Path = "scorer_fallback"
	PathDirectFallback Path = "direct_fallback"
	PathNoCandidates   Path = "no_candidates"
	PathFailed         Path = "failed"
)

// #endregion

// #region ranking-entry

// RankingEntry is the judge's verdict on one candidate.
// TotalScore is not required to equal the sum of Scores.
type RankingEntry struct {
	CandidateIndex int                `json:"candidateIndex"`
	Scores         map[string]float64 `json:"scores"`
	TotalScore     float64            `json:"totalScore"`
	Strengths      string             `json:"strengths,omitempty"`
	Weaknesses     string             `json:"weaknesses,omitempty"`
}

// #endregion

// #region selection-result

// SelectionResult is the outcome of one selection call.
// BestCandidate == Candidates[BestIndex] when BestIndex >= 0, else "".
type SelectionResult struct {
	BestIndex     int            `json:"bestIndex"`
	BestCandidate string         `json:"bestCandidate,omitempty"`
	Rankings      []RankingEntry `json:"rankings"`
	Reason        string         `json:"reason"`
	Path          Path           `json:"path"`
	Candidates    []string       `json:"candidates,omitempty"`
	Elapsed       time.Duration  `json:"elapsedNs"`
	Cause         error          `json:"-"` // nil on the happy paths
}

// HasBest reports whether a candidate was chosen.
func (r SelectionResult) HasBest() bool {
	return r.BestIndex >= 0
}

// #endregion

// #region selection

// Selection is what RankAndSelect hands back to callers.
// Text is empty when every generation path failed.
type Selection struct {
	Text    string          `json:"text,omitempty"`
	Ranking SelectionResult `json:"ranking"`
}

// #endregion

// #region options

// Options tunes a single RankAndSelect call.
type Options struct {
	CandidateCount int            // 0 = Config.CandidateCount
	PlatformConfig map[string]any // embedded into the judge prompt
	UserInfo       map[string]any // embedded into the judge prompt
	Config         *Config        // full per-call override
}

// RankContext carries judge-prompt metadata for HeavyRank.
type RankContext struct {
	PlatformConfig map[string]any
	UserInfo       map[string]any
}

// #endregion
