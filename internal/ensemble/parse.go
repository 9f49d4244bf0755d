package ensemble

import (
	"encoding/json"
	"strings"

	"github.com/roastmylanding/roastpipe/internal/roast"
)

const (
	maxIssuesPerProvider    = 5
	maxQuickWinsPerProvider = 3
)

// rawAnalysis mirrors the JSON shape the prompt demands.
type rawAnalysis struct {
	Roast     string          `json:"roast"`
	Score     *int            `json:"score"`
	Breakdown *rawBreakdown   `json:"breakdown"`
	Issues    []rawIssue      `json:"issues"`
	QuickWins json.RawMessage `json:"quickWins"`
}

type rawBreakdown struct {
	Headline *int `json:"headline"`
	Trust    *int `json:"trust"`
	Visual   *int `json:"visual"`
	CTA      *int `json:"cta"`
	Speed    *int `json:"speed"`
}

type rawIssue struct {
	Issue    string `json:"issue"`
	Location string `json:"location"`
	Impact   string `json:"impact"`
	Fix      string `json:"fix"`
}

// parseAnalysis extracts and validates one provider's critique. Models
// wrap the JSON in prose or markdown fences often enough that we locate
// the first balanced object rather than unmarshalling the raw text. Any
// response we cannot parse degrades to a fixed fallback analysis instead
// of failing the provider.
func parseAnalysis(text string) roast.ProviderAnalysis {
	payload, ok := extractJSONObject(text)
	if !ok {
		return fallbackAnalysis()
	}
	var raw rawAnalysis
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return fallbackAnalysis()
	}
	if strings.TrimSpace(raw.Roast) == "" {
		return fallbackAnalysis()
	}

	analysis := roast.ProviderAnalysis{
		Roast: strings.TrimSpace(raw.Roast),
		Score: clampInt(derefOr(raw.Score, 5), 1, 10),
		Breakdown: roast.Breakdown{
			Headline: clampComponent(raw.Breakdown, func(b *rawBreakdown) *int { return b.Headline }),
			Trust:    clampComponent(raw.Breakdown, func(b *rawBreakdown) *int { return b.Trust }),
			Visual:   clampComponent(raw.Breakdown, func(b *rawBreakdown) *int { return b.Visual }),
			CTA:      clampComponent(raw.Breakdown, func(b *rawBreakdown) *int { return b.CTA }),
			Speed:    clampComponent(raw.Breakdown, func(b *rawBreakdown) *int { return b.Speed }),
		},
		Issues:    parseIssues(raw.Issues),
		QuickWins: parseQuickWins(raw.QuickWins),
	}
	return analysis
}

func parseIssues(raws []rawIssue) []roast.Issue {
	issues := make([]roast.Issue, 0, len(raws))
	for _, r := range raws {
		if len(issues) >= maxIssuesPerProvider {
			break
		}
		issue := strings.TrimSpace(r.Issue)
		if issue == "" {
			continue
		}
		issues = append(issues, roast.Issue{
			Issue:    issue,
			Location: strings.TrimSpace(r.Location),
			Impact:   parseImpact(r.Impact),
			Fix:      strings.TrimSpace(r.Fix),
		})
	}
	return issues
}

// parseQuickWins tolerates both the requested string array and the object
// array some models emit instead.
func parseQuickWins(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var plain []string
	if err := json.Unmarshal(raw, &plain); err != nil {
		var objects []map[string]string
		if err := json.Unmarshal(raw, &objects); err != nil {
			return nil
		}
		for _, o := range objects {
			for _, field := range []string{"win", "tip", "fix", "description"} {
				if v := strings.TrimSpace(o[field]); v != "" {
					plain = append(plain, v)
					break
				}
			}
		}
	}
	wins := make([]string, 0, maxQuickWinsPerProvider)
	for _, w := range plain {
		if len(wins) >= maxQuickWinsPerProvider {
			break
		}
		if w = strings.TrimSpace(w); w != "" {
			wins = append(wins, w)
		}
	}
	return wins
}

func parseImpact(s string) roast.Impact {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "high":
		return roast.ImpactHigh
	case "medium":
		return roast.ImpactMedium
	case "low":
		return roast.ImpactLow
	default:
		return roast.ImpactMedium
	}
}

// fallbackAnalysis is the neutral critique used when a provider responds
// but its output cannot be parsed. Keeping the provider in the ensemble
// with middling numbers beats discarding a paid response outright.
func fallbackAnalysis() roast.ProviderAnalysis {
	return roast.ProviderAnalysis{
		Roast: "This page left the critic speechless, and not in a good way.",
		Score: 5,
		Breakdown: roast.Breakdown{
			Headline: 1, Trust: 1, Visual: 1, CTA: 1, Speed: 1,
		},
		Issues: []roast.Issue{{
			Issue:    "Analysis could not be completed reliably",
			Location: "entire page",
			Impact:   roast.ImpactMedium,
			Fix:      "Re-run the roast to get a fresh take",
		}},
		QuickWins: []string{"Re-run the analysis"},
	}
}

// extractJSONObject returns the first balanced top-level JSON object in
// text, skipping braces inside string literals.
func extractJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

func clampComponent(b *rawBreakdown, pick func(*rawBreakdown) *int) int {
	if b == nil {
		return 1
	}
	return clampInt(derefOr(pick(b), 1), 0, 2)
}

func derefOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
