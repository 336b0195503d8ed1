package memory

import (
	"context"
	"regexp"
	"strings"
)

// heuristicRule maps a regex trigger to the Kind and base confidence/salience
// a match should be filed under. Ordered most-specific first; the first
// matching rule wins for a given line of text.
type heuristicRule struct {
	pattern    *regexp.Regexp
	kind       Kind
	confidence float64
	salience   float64
}

var heuristicRules = []heuristicRule{
	{regexp.MustCompile(`(?i)^i (prefer|like|love|hate|dislike|always|never) `), KindPreference, 0.8, 0.6},
	{regexp.MustCompile(`(?i)\b(i decided|we decided|let's go with|going with|decision:)\b`), KindDecision, 0.75, 0.6},
	{regexp.MustCompile(`(?i)\b(my name is|i work at|i live in|i am a|i'm a)\b`), KindSemantic, 0.7, 0.5},
	{regexp.MustCompile(`(?i)\b(remember that|don't forget|note that|FYI)\b`), KindEpisodic, 0.6, 0.4},
}

// HeuristicExtractor proposes memory candidates from sentence-level regex
// triggers, grounded in the same compiled-pattern-per-rule shape as
// security.Engine's stage rules; no LLM call is involved.
type HeuristicExtractor struct{}

// NewHeuristicExtractor builds a HeuristicExtractor.
func NewHeuristicExtractor() *HeuristicExtractor {
	return &HeuristicExtractor{}
}

// Extract splits text into sentences and runs each through heuristicRules,
// returning one Candidate per first matching rule.
func (HeuristicExtractor) Extract(_ context.Context, text string) ([]Candidate, error) {
	var candidates []Candidate
	for _, sentence := range splitSentences(text) {
		trimmed := strings.TrimSpace(sentence)
		if trimmed == "" {
			continue
		}
		for _, rule := range heuristicRules {
			if rule.pattern.MatchString(trimmed) {
				candidates = append(candidates, Candidate{
					Kind:       rule.kind,
					Text:       trimmed,
					Confidence: rule.confidence,
					Salience:   rule.salience,
				})
				break
			}
		}
	}
	return candidates, nil
}

var sentenceSplitter = regexp.MustCompile(`[.!?]\s+`)

func splitSentences(text string) []string {
	return sentenceSplitter.Split(text, -1)
}
