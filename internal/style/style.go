package style

// #region imports
import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/danielpatrickdp/partypen/go-backend/internal/store"
)

// #endregion

// #region types

// Tone is the dominant register of a writer's posts.
type Tone string

const (
	ToneUrgent      Tone = "urgent"
	ToneHopeful     Tone = "hopeful"
	ToneCombative   Tone = "combative"
	ToneInformative Tone = "informative"
	ToneNeutral     Tone = "neutral"
)

// Formality is how buttoned-up the writing is.
type Formality string

const (
	FormalityFormal Formality = "formal"
	FormalityCasual Formality = "casual"
	FormalityMixed  Formality = "mixed"
)

// Profile summarizes a writer's style from sample posts.
type Profile struct {
	Tone            Tone      `json:"tone"`
	Formality       Formality `json:"formality"`
	AvgSentenceLen  float64   `json:"avgSentenceLen"` // words per sentence
	EmojiRate       float64   `json:"emojiRate"`      // per sample
	HashtagRate     float64   `json:"hashtagRate"`    // per sample
	ExclamationRate float64   `json:"exclamationRate"`
	Samples         int       `json:"samples"`
}

// #endregion

// #region keywords

var toneKeywords = map[Tone][]string{
	ToneUrgent: {
		"now", "today", "urgent", "act", "deadline", "before it's too late",
		"call your", "don't wait", "immediately", "last chance", "must",
	},
	ToneHopeful: {
		"together", "future", "hope", "believe", "build", "better",
		"opportunity", "proud", "can do", "forward", "bright",
	},
	ToneCombative: {
		"fail", "failed", "lie", "lies", "corrupt", "shame", "disgrace",
		"betray", "reckless", "wrong", "enough is enough", "scandal",
	},
	ToneInformative: {
		"according to", "report", "data", "percent", "%", "study",
		"figures", "analysis", "budget", "statistics", "million", "billion",
	},
}

// toneOrder breaks ties between tones with equal hit counts.
var toneOrder = []Tone{ToneUrgent, ToneCombative, ToneHopeful, ToneInformative}

var casualMarkers = []string{
	"gonna", "wanna", "y'all", "folks", "lol", "omg", "tbh", "kinda",
	"let's", "can't", "won't", "don't", "it's", "we're", "you're",
}

var formalMarkers = []string{
	"therefore", "furthermore", "moreover", "consequently", "pursuant",
	"constituents", "legislation", "hereby", "in accordance", "whereas",
}

// #endregion

// #region classify-style

// ClassifyStyle builds a profile from sample posts. Keyword heuristics, no model call.
func ClassifyStyle(samples []string) Profile {
	var texts []string
	for _, s := range samples {
		if strings.TrimSpace(s) != "" {
			texts = append(texts, s)
		}
	}
	p := Profile{Tone: ToneNeutral, Formality: FormalityMixed, Samples: len(texts)}
	if len(texts) == 0 {
		return p
	}

	joined := strings.ToLower(strings.Join(texts, "\n"))
	var sentences, words, emoji, hashtags, bangs int
	for _, t := range texts {
		s, w := countSentences(t)
		sentences += s
		words += w
		emoji += countEmoji(t)
		hashtags += countHashtags(t)
		bangs += strings.Count(t, "!")
	}

	n := float64(len(texts))
	if sentences > 0 {
		p.AvgSentenceLen = round2(float64(words) / float64(sentences))
	}
	p.EmojiRate = round2(float64(emoji) / n)
	p.HashtagRate = round2(float64(hashtags) / n)
	p.ExclamationRate = round2(float64(bangs) / n)

	p.Tone = classifyTone(joined, p.ExclamationRate)
	p.Formality = classifyFormality(joined, p.AvgSentenceLen)
	return p
}

func classifyTone(lower string, exclamationRate float64) Tone {
	best, bestHits := ToneNeutral, 0
	for _, tone := range toneOrder {
		hits := 0
		for _, kw := range toneKeywords[tone] {
			hits += countWord(lower, kw)
		}
		if tone == ToneUrgent && exclamationRate >= 1.5 {
			hits++
		}
		if hits > bestHits {
			best, bestHits = tone, hits
		}
	}
	return best
}

func classifyFormality(lower string, avgSentenceLen float64) Formality {
	casual, formal := 0, 0
	for _, m := range casualMarkers {
		casual += countWord(lower, m)
	}
	for _, m := range formalMarkers {
		formal += countWord(lower, m)
	}
	if avgSentenceLen >= 22 {
		formal++
	} else if avgSentenceLen > 0 && avgSentenceLen <= 8 {
		casual++
	}
	switch {
	case formal > casual:
		return FormalityFormal
	case casual > formal:
		return FormalityCasual
	}
	return FormalityMixed
}

// #endregion

// #region describe

// Describe renders the profile as a short instruction for generation prompts.
func (p Profile) Describe() string {
	if p.Samples == 0 {
		return ""
	}
	var parts []string
	parts = append(parts, fmt.Sprintf("%s tone", p.Tone))
	parts = append(parts, fmt.Sprintf("%s register", p.Formality))
	if p.AvgSentenceLen > 0 {
		parts = append(parts, fmt.Sprintf("about %.0f words per sentence", p.AvgSentenceLen))
	}
	switch {
	case p.EmojiRate >= 1:
		parts = append(parts, "uses emoji freely")
	case p.EmojiRate == 0:
		parts = append(parts, "no emoji")
	}
	if p.HashtagRate >= 1 {
		parts = append(parts, fmt.Sprintf("around %.0f hashtags per post", p.HashtagRate))
	}
	return strings.Join(parts, ", ")
}

// #endregion

// #region persistence

// profileStore is the part of store.Store that holds style profiles.
type profileStore interface {
	SaveStyleProfile(userID, profileJSON string, samples int) error
	LoadStyleProfile(userID string) (store.StyleRecord, error)
}

// SaveProfile persists p for the user.
func SaveProfile(st profileStore, userID string, p Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal style profile: %w", err)
	}
	return st.SaveStyleProfile(userID, string(data), p.Samples)
}

// LoadProfile reads the user's profile. ok is false when none was saved.
func LoadProfile(st profileStore, userID string) (p Profile, ok bool, err error) {
	rec, err := st.LoadStyleProfile(userID)
	if errors.Is(err, store.ErrNotFound) {
		return Profile{}, false, nil
	}
	if err != nil {
		return Profile{}, false, err
	}
	if err := json.Unmarshal([]byte(rec.ProfileJSON), &p); err != nil {
		return Profile{}, false, fmt.Errorf("unmarshal style profile: %w", err)
	}
	return p, true, nil
}

// #endregion

// #region counting

func countSentences(text string) (sentences, words int) {
	words = len(strings.Fields(text))
	if words == 0 {
		return 0, 0
	}
	sentences = strings.Count(text, ".") + strings.Count(text, "!") + strings.Count(text, "?")
	// collapse "..." and "?!" runs
	sentences -= strings.Count(text, "..") + strings.Count(text, "?!") + strings.Count(text, "!!")
	if sentences < 1 {
		sentences = 1
	}
	return sentences, words
}

func countEmoji(text string) int {
	n := 0
	for _, r := range text {
		if r >= 0x1F300 && r <= 0x1FAFF || r >= 0x2600 && r <= 0x27BF {
			n++
		}
	}
	return n
}

func countHashtags(text string) int {
	n := 0
	for _, f := range strings.Fields(text) {
		if len(f) > 1 && f[0] == '#' {
			n++
		}
	}
	return n
}

// countWord counts occurrences of kw in lower on word boundaries.
// Keywords that contain no letters match anywhere.
func countWord(lower, kw string) int {
	n := 0
	for i := 0; ; {
		j := strings.Index(lower[i:], kw)
		if j < 0 {
			return n
		}
		start := i + j
		end := start + len(kw)
		if wordEdge(lower[:start], false) && wordEdge(lower[end:], true) || !strings.ContainsFunc(kw, unicode.IsLetter) {
			n++
		}
		i = end
	}
}

// wordEdge reports whether the rune next to a match (first rune of s when
// after is true, last rune otherwise) ends a word.
func wordEdge(s string, after bool) bool {
	if s == "" {
		return true
	}
	var r rune
	if after {
		r, _ = utf8.DecodeRuneInString(s)
	} else {
		r, _ = utf8.DecodeLastRuneInString(s)
	}
	return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

// #endregion
