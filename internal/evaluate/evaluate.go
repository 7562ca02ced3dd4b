package evaluate

// #region imports
import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/danielpatrickdp/partypen/go-backend/internal/prompt"
)

// #endregion

// #region types

// Failure categorizes why a generated post is unusable.
type Failure string

const (
	FailureNone       Failure = "none"
	FailureEmpty      Failure = "empty"
	FailureRefusal    Failure = "refusal"
	FailureRepetition Failure = "repetition"
	FailureEcho       Failure = "echo"
	FailureOverLimit  Failure = "over_limit"
)

// Evaluation is the string-analysis verdict on one post.
type Evaluation struct {
	Quality   float32  `json:"quality"` // 0-1
	Failure   Failure  `json:"failure"`
	Issues    []string `json:"issues,omitempty"`
	CharCount int      `json:"charCount"`
	OverLimit bool     `json:"overLimit"`
}

// Usable reports whether the post can be shown without a retry.
func (e Evaluation) Usable() bool {
	return e.Failure == FailureNone
}

// #endregion

// #region refusal-patterns

var refusalPatterns = []string{
	"i cannot",
	"i can't help",
	"i can't assist",
	"i can't create",
	"i'm unable to",
	"i am unable to",
	"i won't",
	"as an ai",
	"as a language model",
	"i'm not able to",
	"i am not able to",
	"against my guidelines",
	"i must decline",
}

// #endregion

// maxQualityOnFailure keeps failed posts below any acceptance threshold.
const maxQualityOnFailure = 0.35

// #region evaluate

// Evaluate scores a generated post against its source material and platform.
// String analysis only, no model call.
func Evaluate(text, original string, platform prompt.Platform) Evaluation {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)

	ev := Evaluation{CharCount: utf8.RuneCountInString(trimmed)}
	ev.OverLimit = platform.MaxChars > 0 && ev.CharCount > platform.MaxChars
	ev.Failure = detectFailure(trimmed, lower, original, ev.OverLimit)

	if ev.OverLimit {
		ev.Issues = append(ev.Issues, fmt.Sprintf("%d characters exceeds the %d limit", ev.CharCount, platform.MaxChars))
	}
	if tags := countHashtags(trimmed); tags > platform.MaxHashtags {
		ev.Issues = append(ev.Issues, fmt.Sprintf("%d hashtags, platform allows %d", tags, platform.MaxHashtags))
	}
	if shoutRatio(trimmed) > 0.5 {
		ev.Issues = append(ev.Issues, "mostly capital letters")
	}

	if ev.Failure == FailureEmpty {
		return ev
	}
	ev.Quality = scoreQuality(trimmed, lower, original, platform, len(ev.Issues))
	if ev.Failure != FailureNone && ev.Quality > maxQualityOnFailure {
		ev.Quality = maxQualityOnFailure
	}
	return ev
}

// #endregion

// #region detect-failure

func detectFailure(trimmed, lower, original string, overLimit bool) Failure {
	if len(strings.TrimFunc(trimmed, unicode.IsSpace)) == 0 {
		return FailureEmpty
	}
	if isRefusal(lower) {
		return FailureRefusal
	}
	if hasRepetition(lower) {
		return FailureRepetition
	}
	if isEcho(lower, strings.ToLower(strings.TrimSpace(original))) {
		return FailureEcho
	}
	if overLimit {
		return FailureOverLimit
	}
	return FailureNone
}

// isRefusal: a refusal opening, or two or more refusal phrases anywhere.
func isRefusal(lower string) bool {
	hits := 0
	for _, p := range refusalPatterns {
		if strings.HasPrefix(lower, p) || strings.HasPrefix(lower, "sorry, "+p) || strings.HasPrefix(lower, "i'm sorry, but "+p) {
			return true
		}
		if strings.Contains(lower, p) {
			hits++
		}
	}
	return hits >= 2
}

// #endregion

// #region repetition-check

func hasRepetition(lower string) bool {
	// 3+ identical sentences
	sentences := strings.FieldsFunc(lower, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
	if len(sentences) < 3 {
		return false
	}
	counts := make(map[string]int)
	for _, s := range sentences {
		trimmed := strings.TrimSpace(s)
		if len(trimmed) > 10 {
			counts[trimmed]++
		}
	}
	for _, c := range counts {
		if c >= 3 {
			return true
		}
	}
	return false
}

// #endregion

// #region echo-check

const shingleSize = 5

// isEcho flags posts that mostly copy the source verbatim.
func isEcho(lower, originalLower string) bool {
	if originalLower == "" {
		return false
	}
	if normalize(lower) == normalize(originalLower) {
		return true
	}
	post := shingles(lower)
	if len(post) < 3 {
		return false
	}
	src := make(map[string]bool)
	for _, s := range shingles(originalLower) {
		src[s] = true
	}
	copied := 0
	for _, s := range post {
		if src[s] {
			copied++
		}
	}
	return float64(copied)/float64(len(post)) >= 0.8
}

func shingles(lower string) []string {
	words := strings.Fields(normalize(lower))
	if len(words) < shingleSize {
		return nil
	}
	out := make([]string, 0, len(words)-shingleSize+1)
	for i := 0; i+shingleSize <= len(words); i++ {
		out = append(out, strings.Join(words[i:i+shingleSize], " "))
	}
	return out
}

func normalize(s string) string {
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '#' && r != '\''
	}), " ")
}

// #endregion

// #region quality-score

func scoreQuality(trimmed, lower, original string, platform prompt.Platform, issues int) float32 {
	// Length fit: 30-100% of the platform limit is ideal.
	var lengthFit float32
	chars := utf8.RuneCountInString(trimmed)
	if platform.MaxChars > 0 {
		ratio := float32(chars) / float32(platform.MaxChars)
		switch {
		case ratio > 1:
			lengthFit = 0
		case ratio >= 0.3:
			lengthFit = 1
		default:
			lengthFit = ratio / 0.3
		}
	} else {
		words := len(strings.Fields(trimmed))
		lengthFit = min(float32(words)/50, 1)
	}

	// Engagement: share of the source's content words the post picks up.
	engagement := float32(0.5)
	srcWords := contentWords(strings.ToLower(original))
	if len(srcWords) > 0 {
		postWords := make(map[string]bool)
		for _, w := range contentWords(lower) {
			postWords[w] = true
		}
		shared := 0
		for _, w := range srcWords {
			if postWords[w] {
				shared++
			}
		}
		engagement = min(float32(shared)/float32(min(len(srcWords), 10)), 1)
	}

	// Cleanliness: each issue costs a third.
	cleanliness := max(1-float32(issues)/3, 0)

	quality := 0.4*lengthFit + 0.35*engagement + 0.25*cleanliness
	return min(max(quality, 0), 1)
}

// contentWords returns the distinct words longer than three letters.
func contentWords(lower string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range strings.Fields(normalize(lower)) {
		if len(w) > 3 && !seen[w] {
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}

// #endregion

// #region helpers

func countHashtags(text string) int {
	n := 0
	for _, f := range strings.Fields(text) {
		if len(f) > 1 && f[0] == '#' {
			n++
		}
	}
	return n
}

func shoutRatio(text string) float64 {
	upper, letters := 0, 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			letters++
			if unicode.IsUpper(r) {
				upper++
			}
		}
	}
	if letters < 20 {
		return 0
	}
	return float64(upper) / float64(letters)
}

// #endregion
