package news

import (
	"fmt"
	"html"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// strict drops every tag; feed summaries are often full HTML fragments.
var strict = bluemonday.StrictPolicy()

// #region compress

// Compress runs the three gates over fetched items:
//  1. Relevance: items must share MinOverlap keywords with query (skipped for an empty query)
//  2. Consistency: HTML stripped, empty titles dropped, duplicates by title or URL dropped
//  3. Budget: best-scoring, then newest, items kept up to MaxItems and MaxChars
func Compress(items []Item, query string, cfg Config) Result {
	res := Result{Considered: len(items)}

	// Gate 1: relevance
	queryTokens := tokenize(query)
	var relevant []Item
	for _, it := range items {
		if len(queryTokens) > 0 {
			it.Score = sharedKeywords(queryTokens, tokenize(it.Title+" "+stripHTML(it.Summary)))
			if it.Score < cfg.MinOverlap {
				continue
			}
		}
		relevant = append(relevant, it)
	}
	res.Relevant = len(relevant)
	if res.Relevant == 0 {
		res.Reason = "relevance: no items share keywords with the query"
		return res
	}

	// Gate 2: consistency
	consistent := consistencyCheck(relevant, cfg.MaxSummaryChars)
	res.Consistent = len(consistent)
	if res.Consistent == 0 {
		res.Reason = "consistency: all items empty or duplicated"
		return res
	}

	// Gate 3: budget
	sort.SliceStable(consistent, func(i, j int) bool {
		if consistent[i].Score != consistent[j].Score {
			return consistent[i].Score > consistent[j].Score
		}
		return consistent[i].Published.After(consistent[j].Published)
	})
	used := len(header)
	for _, it := range consistent {
		if cfg.MaxItems > 0 && len(res.Items) >= cfg.MaxItems {
			break
		}
		cost := utf8.RuneCountInString(formatItem(len(res.Items)+1, it))
		if cfg.MaxChars > 0 && used+cost > cfg.MaxChars {
			break
		}
		used += cost
		res.Items = append(res.Items, it)
	}
	res.Reason = fmt.Sprintf("kept %d of %d items (relevant=%d, consistent=%d)",
		len(res.Items), res.Considered, res.Relevant, res.Consistent)
	return res
}

// consistencyCheck cleans items and drops empties and duplicates.
func consistencyCheck(items []Item, maxSummary int) []Item {
	seenTitle := make(map[string]bool)
	seenURL := make(map[string]bool)
	var valid []Item

	for _, it := range items {
		it.Title = collapse(stripHTML(it.Title))
		it.Summary = truncate(collapse(stripHTML(it.Summary)), maxSummary)
		it.URL = strings.TrimSpace(it.URL)

		if it.Title == "" {
			continue
		}
		key := strings.ToLower(it.Title)
		if seenTitle[key] {
			continue
		}
		if it.URL != "" && seenURL[it.URL] {
			continue
		}
		seenTitle[key] = true
		if it.URL != "" {
			seenURL[it.URL] = true
		}
		valid = append(valid, it)
	}
	return valid
}

// #endregion

// #region format

const header = "[News Context]\n"

// FormatAsContext renders items as a block suitable for prompt injection.
func FormatAsContext(items []Item) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(header)
	for i, it := range items {
		b.WriteString(formatItem(i+1, it))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatItem(n int, it Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d. %s", n, it.Title)
	if it.Source != "" || !it.Published.IsZero() {
		var meta []string
		if it.Source != "" {
			meta = append(meta, it.Source)
		}
		if !it.Published.IsZero() {
			meta = append(meta, it.Published.Format("2006-01-02"))
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(meta, ", "))
	}
	b.WriteString("\n")
	if it.Summary != "" {
		fmt.Fprintf(&b, "   %s\n", it.Summary)
	}
	if it.URL != "" {
		fmt.Fprintf(&b, "   Source: %s\n", it.URL)
	}
	return b.String()
}

// #endregion

// #region helpers

func stripHTML(s string) string {
	// bluemonday escapes entities in its output; undo that for plain text.
	return html.UnescapeString(strict.Sanitize(s))
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	r := []rune(s)
	if maxRunes <= 3 {
		return string(r[:maxRunes])
	}
	return strings.TrimSpace(string(r[:maxRunes-3])) + "..."
}

// #endregion
