package ranker

// #region imports
import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/partypen/go-backend/internal/logging"
	"github.com/danielpatrickdp/partypen/go-backend/internal/model"
)

// #endregion

// #region ranker-struct

// Ranker generates candidates with a light model and picks one with a
// heavy judge model. Safe for concurrent use.
type Ranker struct {
	gen    model.Generator
	config Config
	sink   logging.Sink
}

// New creates a Ranker. sink may be nil.
func New(gen model.Generator, config Config, sink logging.Sink) *Ranker {
	if sink == nil {
		sink = logging.NopSink{}
	}
	return &Ranker{gen: gen, config: config.normalized(), sink: sink}
}

// Config returns the ranker's settings.
func (r *Ranker) Config() Config {
	return r.config
}

func (r *Ranker) withConfig(cfg Config) *Ranker {
	return &Ranker{gen: r.gen, config: cfg.normalized(), sink: r.sink}
}

// #endregion

// #region light-rank

// LightRank runs count light-model calls concurrently. Failed, timed-out and
// empty calls are dropped. Survivors keep their dispatch order.
func (r *Ranker) LightRank(ctx context.Context, prompt string, count int) []string {
	if count <= 0 {
		return []string{}
	}

	slots := make([]string, count)
	var g errgroup.Group
	for i := 0; i < count; i++ {
		g.Go(func() error {
			text, err := WithTimeout(ctx, r.config.LightTimeout,
				fmt.Sprintf("light candidate %d timed out", i),
				func(ctx context.Context) (string, error) {
					return r.gen.Generate(ctx, model.Request{
						Prompt:         prompt,
						Model:          r.config.LightModel,
						Temperature:    r.config.LightTemperature,
						MaxTokens:      r.config.LightMaxTokens,
						ResponseFormat: model.FormatText,
						Tag:            fmt.Sprintf("light/%d", i),
					})
				})
			if err != nil {
				log.Printf("[RANK] light candidate %d dropped: %v", i, err)
				return nil
			}
			slots[i] = strings.TrimSpace(text)
			return nil
		})
	}
	_ = g.Wait() // goroutines never return errors

	out := make([]string, 0, count)
	for _, s := range slots {
		if s != "" {
			out = append(out, s)
		}
	}
	r.sink.Emit("ranker.light", map[string]any{
		"requested": count,
		"survivors": len(out),
	})
	return out
}

// #endregion

// #region rank-and-select

// RankAndSelect is the full generate, filter, score, pick pipeline.
// It never returns an error: every branch yields a labelled SelectionResult.
func (r *Ranker) RankAndSelect(ctx context.Context, prompt, platform, originalContent string, opts Options) Selection {
	rr := r
	if opts.Config != nil {
		rr = r.withConfig(*opts.Config)
	}
	cfg := rr.config
	start := time.Now()

	count := cfg.CandidateCount
	if opts.CandidateCount > 0 {
		count = opts.CandidateCount
	}

	candidates := rr.LightRank(ctx, prompt, count)

	var res SelectionResult
	switch {
	case len(candidates) == 0:
		res = rr.direct(ctx, prompt)
	case len(candidates) < cfg.MinCandidatesForHeavyStage:
		res = SelectionResult{
			BestIndex:     0,
			BestCandidate: candidates[0],
			Rankings:      []RankingEntry{},
			Reason:        "insufficient candidates, heavy stage skipped",
			Path:          PathInsufficient,
			Candidates:    candidates,
		}
	default:
		res = rr.HeavyRank(ctx, candidates, platform, originalContent, RankContext{
			PlatformConfig: opts.PlatformConfig,
			UserInfo:       opts.UserInfo,
		})
	}
	res.Elapsed = time.Since(start)

	r.sink.Emit("ranker.selection", map[string]any{
		"platform":   platform,
		"requested":  count,
		"survivors":  len(candidates),
		"best_index": res.BestIndex,
		"path":       string(res.Path),
		"elapsed_ms": res.Elapsed.Milliseconds(),
	})
	log.Printf("[RANK] select: platform=%s survivors=%d/%d path=%s best=%d elapsed=%s",
		platform, len(candidates), count, res.Path, res.BestIndex, res.Elapsed.Round(time.Millisecond))

	return Selection{Text: res.BestCandidate, Ranking: res}
}

// #endregion

// #region direct-fallback

// direct is the last resort when no light candidate survived: one plain
// generation on the heavy model.
func (r *Ranker) direct(ctx context.Context, prompt string) SelectionResult {
	text, err := WithTimeout(ctx, r.config.DirectTimeout, "direct generation timed out",
		func(ctx context.Context) (string, error) {
			return r.gen.Generate(ctx, model.Request{
				Prompt:         prompt,
				Model:          r.config.HeavyModel,
				Temperature:    r.config.DirectTemperature,
				MaxTokens:      r.config.DirectMaxTokens,
				ResponseFormat: model.FormatText,
				Tag:            "direct",
			})
		})
	text = strings.TrimSpace(text)
	switch {
	case err != nil:
		err = asTransport(err)
	case text == "":
		err = fmt.Errorf("%w: direct generation returned empty text", ErrNoCandidates)
	}
	if err != nil {
		log.Printf("[RANK] direct fallback failed: %v", err)
		return SelectionResult{
			BestIndex: -1,
			Rankings:  []RankingEntry{},
			Reason:    "all generation paths failed",
			Path:      PathFailed,
			Cause:     err,
		}
	}
	return SelectionResult{
		BestIndex:     0,
		BestCandidate: text,
		Rankings:      []RankingEntry{},
		Reason:        "no light candidates survived, used direct heavy generation",
		Path:          PathDirectFallback,
		Candidates:    []string{text},
		Cause:         ErrNoCandidates,
	}
}

// #endregion
