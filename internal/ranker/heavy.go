package ranker

// #region imports
import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"

	"github.com/danielpatrickdp/partypen/go-backend/internal/model"
)

// #endregion

// maxTotalScore bounds a plausible judge total; anything above is treated as garbage.
const maxTotalScore = 1000

// #region criteria

// judgeCriteria are the named subscores the judge is asked for, 0-20 each.
var judgeCriteria = []string{
	"clarity",
	"persuasiveness",
	"platformFit",
	"faithfulness",
	"voice",
}

// #endregion

// #region heavy-rank

// HeavyRank scores candidates with one judge call and picks the best.
// It never fails: any problem degrades to the first candidate.
func (r *Ranker) HeavyRank(ctx context.Context, candidates []string, platform, originalContent string, rc RankContext) SelectionResult {
	switch len(candidates) {
	case 0:
		return SelectionResult{
			BestIndex: -1,
			Rankings:  []RankingEntry{},
			Reason:    "no candidates",
			Path:      PathNoCandidates,
			Cause:     ErrNoCandidates,
		}
	case 1:
		return SelectionResult{
			BestIndex:     0,
			BestCandidate: candidates[0],
			Rankings:      []RankingEntry{},
			Reason:        "single candidate, scoring skipped",
			Path:          PathSingle,
			Candidates:    candidates,
		}
	}

	prompt := buildJudgePrompt(candidates, platform, originalContent, rc)
	raw, err := WithTimeout(ctx, r.config.HeavyTimeout, "heavy scoring timed out",
		func(ctx context.Context) (string, error) {
			return r.gen.Generate(ctx, model.Request{
				Prompt:         prompt,
				Model:          r.config.HeavyModel,
				Temperature:    r.config.HeavyTemperature,
				MaxTokens:      r.config.HeavyMaxTokens,
				ResponseFormat: model.FormatJSON,
				Tag:            "judge",
			})
		})
	if err != nil {
		return scorerFallback(candidates, asTransport(err))
	}

	v, err := parseVerdict(raw, len(candidates))
	if err != nil {
		return scorerFallback(candidates, err)
	}

	return SelectionResult{
		BestIndex:     v.best,
		BestCandidate: candidates[v.best],
		Rankings:      v.rankings,
		Reason:        v.reason,
		Path:          PathScored,
		Candidates:    candidates,
	}
}

func scorerFallback(candidates []string, cause error) SelectionResult {
	log.Printf("[RANK] heavy scoring degraded: %v", cause)
	return SelectionResult{
		BestIndex:     0,
		BestCandidate: candidates[0],
		Rankings:      []RankingEntry{},
		Reason:        fmt.Sprintf("heavy scoring failed, using first candidate: %v", cause),
		Path:          PathScorerFallback,
		Candidates:    candidates,
		Cause:         cause,
	}
}

func asTransport(err error) error {
	if errors.Is(err, ErrTimeout) || errors.Is(err, ErrTransport) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTransport, err)
}

// #endregion

// #region judge-prompt

func buildJudgePrompt(candidates []string, platform, originalContent string, rc RankContext) string {
	var b strings.Builder
	b.WriteString("You are an editor for a political communications team. ")
	b.WriteString("Score each candidate post below and pick the best one.\n\n")
	fmt.Fprintf(&b, "Platform: %s\n", platform)
	if len(rc.PlatformConfig) > 0 {
		fmt.Fprintf(&b, "Platform settings: %s\n", compactJSON(rc.PlatformConfig))
	}
	if len(rc.UserInfo) > 0 {
		fmt.Fprintf(&b, "Author profile: %s\n", compactJSON(rc.UserInfo))
	}
	b.WriteString("\nSource material:\n<<<SOURCE>>>\n")
	b.WriteString(originalContent)
	b.WriteString("\n<<<END SOURCE>>>\n\n")

	for i, c := range candidates {
		fmt.Fprintf(&b, "<<<CANDIDATE %d>>>\n%s\n<<<END CANDIDATE %d>>>\n\n", i, c, i)
	}

	fmt.Fprintf(&b, "Score every candidate from 0 to 20 on each criterion: %s.\n", strings.Join(judgeCriteria, ", "))
	b.WriteString("totalScore is your overall judgement from 0 to 100.\n")
	b.WriteString("Respond with JSON only, in this shape:\n")
	b.WriteString(`{"rankings":[{"candidateIndex":0,"scores":{"clarity":0,"persuasiveness":0,"platformFit":0,"faithfulness":0,"voice":0},"totalScore":0,"strengths":"","weaknesses":""}],"bestIndex":0}`)
	b.WriteString("\n")
	return b.String()
}

func compactJSON(v map[string]any) string {
	data, err := json.Marshal(v) // map keys are sorted, so output is stable
	if err != nil {
		return "{}"
	}
	return string(data)
}

// #endregion

// #region judge-parse

// flexText accepts either a JSON string or an array of strings.
type flexText string

func (f *flexText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexText(s)
		return nil
	}
	var parts []string
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	*f = flexText(strings.Join(parts, "; "))
	return nil
}

type judgeEntry struct {
	CandidateIndex      *float64           `json:"candidateIndex"`
	CandidateIndexSnake *float64           `json:"candidate_index"`
	Index               *float64           `json:"index"`
	Scores              map[string]float64 `json:"scores"`
	TotalScore          *float64           `json:"totalScore"`
	TotalScoreSnake     *float64           `json:"total_score"`
	Strengths           flexText           `json:"strengths"`
	Weaknesses          flexText           `json:"weaknesses"`
}

type judgeResponse struct {
	Rankings       []judgeEntry `json:"rankings"`
	BestIndex      *float64     `json:"bestIndex"`
	BestIndexSnake *float64     `json:"best_index"`
}

type verdict struct {
	best     int
	rankings []RankingEntry
	reason   string
}

// parseVerdict validates and coerces the judge output for n candidates.
// The reported bestIndex is cross-checked against the scores; scores win.
func parseVerdict(raw string, n int) (verdict, error) {
	text, ok := ExtractFirstBalancedJSON(raw)
	if !ok {
		return verdict{}, fmt.Errorf("%w: no JSON object in judge output", ErrMalformedResponse)
	}
	var resp judgeResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return verdict{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	reported := -1
	if p := firstSet(resp.BestIndex, resp.BestIndexSnake); p != nil {
		idx, err := toIndex(*p, n, "bestIndex")
		if err != nil {
			return verdict{}, err
		}
		reported = idx
	}

	rankings := make([]RankingEntry, 0, len(resp.Rankings))
	seen := make(map[int]bool, len(resp.Rankings))
	for _, e := range resp.Rankings {
		entry, err := coerceEntry(e, n)
		if err != nil {
			return verdict{}, err
		}
		if seen[entry.CandidateIndex] {
			return verdict{}, fmt.Errorf("%w: candidate %d ranked twice", ErrMalformedResponse, entry.CandidateIndex)
		}
		seen[entry.CandidateIndex] = true
		rankings = append(rankings, entry)
	}

	if len(rankings) == 0 {
		if reported < 0 {
			return verdict{}, fmt.Errorf("%w: no rankings and no bestIndex", ErrMalformedResponse)
		}
		return verdict{
			best:     reported,
			rankings: rankings,
			reason:   fmt.Sprintf("judge returned no scores, using reported candidate %d", reported),
		}, nil
	}

	// Highest total first; equal totals keep the lower candidate index first.
	sort.SliceStable(rankings, func(i, j int) bool {
		if rankings[i].TotalScore != rankings[j].TotalScore {
			return rankings[i].TotalScore > rankings[j].TotalScore
		}
		return rankings[i].CandidateIndex < rankings[j].CandidateIndex
	})
	top := rankings[0]

	reason := fmt.Sprintf("judge selected candidate %d (totalScore %.1f)", top.CandidateIndex, top.TotalScore)
	if reported >= 0 && reported != top.CandidateIndex {
		reason = fmt.Sprintf("judge reported bestIndex %d but candidate %d has the highest totalScore (%.1f); corrected to score winner",
			reported, top.CandidateIndex, top.TotalScore)
	}
	return verdict{best: top.CandidateIndex, rankings: rankings, reason: reason}, nil
}

func coerceEntry(e judgeEntry, n int) (RankingEntry, error) {
	p := firstSet(e.CandidateIndex, e.CandidateIndexSnake, e.Index)
	if p == nil {
		return RankingEntry{}, fmt.Errorf("%w: ranking entry without candidateIndex", ErrMalformedResponse)
	}
	idx, err := toIndex(*p, n, "candidateIndex")
	if err != nil {
		return RankingEntry{}, err
	}

	scores := make(map[string]float64, len(e.Scores))
	var sum float64
	for k, v := range e.Scores {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return RankingEntry{}, fmt.Errorf("%w: candidate %d score %q not finite", ErrMalformedResponse, idx, k)
		}
		scores[k] = v
		sum += v
	}

	var total float64
	switch t := firstSet(e.TotalScore, e.TotalScoreSnake); {
	case t != nil:
		total = *t
	case len(scores) > 0:
		total = sum
	default:
		return RankingEntry{}, fmt.Errorf("%w: candidate %d has no totalScore", ErrMalformedResponse, idx)
	}
	if math.IsNaN(total) || math.IsInf(total, 0) || total < 0 || total > maxTotalScore {
		return RankingEntry{}, fmt.Errorf("%w: candidate %d totalScore %v out of range", ErrMalformedResponse, idx, total)
	}

	return RankingEntry{
		CandidateIndex: idx,
		Scores:         scores,
		TotalScore:     total,
		Strengths:      string(e.Strengths),
		Weaknesses:     string(e.Weaknesses),
	}, nil
}

func toIndex(f float64, n int, field string) (int, error) {
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: %s %v is not an integer", ErrMalformedResponse, field, f)
	}
	if f < 0 || f >= float64(n) {
		return 0, fmt.Errorf("%w: %s %v outside [0,%d)", ErrOutOfRangeSelection, field, f, n)
	}
	return int(f), nil
}

func firstSet(ps ...*float64) *float64 {
	for _, p := range ps {
		if p != nil {
			return p
		}
	}
	return nil
}

// #endregion
