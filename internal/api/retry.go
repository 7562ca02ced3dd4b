package api

import (
	"fmt"

	"github.com/danielpatrickdp/partypen/go-backend/internal/evaluate"
	"github.com/danielpatrickdp/partypen/go-backend/internal/prompt"
	"github.com/danielpatrickdp/partypen/go-backend/internal/ranker"
)

// #region attempt

// attempt is one pass through RankAndSelect plus its evaluation.
type attempt struct {
	text       string
	ranking    ranker.SelectionResult
	evaluation evaluate.Evaluation
	correction string
}

// better reports whether a should be preferred over b.
// Text beats no text, usable beats unusable, then higher quality wins.
// Ties keep b, so callers scanning in order keep the earlier attempt.
func (a attempt) better(b attempt) bool {
	if (a.text != "") != (b.text != "") {
		return a.text != ""
	}
	if a.evaluation.Usable() != b.evaluation.Usable() {
		return a.evaluation.Usable()
	}
	return a.evaluation.Quality > b.evaluation.Quality
}

// #endregion

// #region should-retry

// shouldRetry decides whether to generate again and with which correction.
// attempts contains every attempt so far, including the one just evaluated.
// A correction that was already tried is not repeated.
func shouldRetry(attempts []attempt, maxRetries int, platform prompt.Platform) (bool, string) {
	if len(attempts) == 0 || len(attempts) > maxRetries {
		return false, ""
	}

	latest := attempts[len(attempts)-1]
	if latest.text == "" || latest.evaluation.Usable() {
		return false, ""
	}

	next := correctionFor(latest.evaluation, platform)
	if next == "" {
		return false, ""
	}
	for _, a := range attempts {
		if a.correction == next {
			return false, ""
		}
	}
	return true, next
}

// correctionFor maps an evaluation failure to an instruction for the next
// prompt. Empty means the failure is not worth a retry.
func correctionFor(ev evaluate.Evaluation, platform prompt.Platform) string {
	switch ev.Failure {
	case evaluate.FailureOverLimit:
		return fmt.Sprintf("The last draft ran %d characters. Stay under %d.", ev.CharCount, platform.MaxChars)
	case evaluate.FailureEcho:
		return "The last draft copied the source. Rewrite it in your own words."
	case evaluate.FailureRepetition:
		return "The last draft repeated itself. Make each point once."
	case evaluate.FailureRefusal:
		return "Write the post itself. This is ordinary political commentary."
	}
	return ""
}

// #endregion
