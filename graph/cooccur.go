package graph

import (
	"strings"

	"github.com/brunobiangulo/akg/resolve"
)

const (
	// CooccurrenceConfidence is assigned to cross-chunk relationships.
	CooccurrenceConfidence = 0.6
	// DefaultCooccurrenceWindow is the widest gap, in characters, between
	// two mentions in the full document text.
	DefaultCooccurrenceWindow = 200

	cooccurRadius = 100
)

// Cooccurrences links entities whose mentions sit within maxGap characters
// of each other anywhere in text, including across chunk boundaries. Each
// unordered pair yields at most one relationship, typed by rules. Pairs
// in skip (keyed by PairKey) are left out.
func Cooccurrences(text string, ents []resolve.EntityCandidate, domain string, rules *RuleSet, maxGap int, skip map[string]bool) []resolve.RelationshipCandidate {
	if rules == nil {
		rules = DefaultRuleSet()
	}
	if maxGap <= 0 {
		maxGap = DefaultCooccurrenceWindow
	}
	if domain == "" {
		domain = DetectDomain(text)
	}
	lower := strings.ToLower(text)
	mentions := make([][]Mention, len(ents))
	for i, e := range ents {
		mentions[i] = findMentions(lower, e)
	}

	var out []resolve.RelationshipCandidate
	for i := range ents {
		for j := i + 1; j < len(ents); j++ {
			if strings.EqualFold(ents[i].Name, ents[j].Name) || skip[PairKey(ents[i].Name, ents[j].Name)] {
				continue
			}
			a, b, ok := closestPair(mentions[i], mentions[j], maxGap)
			if !ok || b.Start-a.End <= 0 {
				continue
			}
			p := newPair(lower, a, b, cooccurRadius/2, domain)
			typ, rule := rules.Infer(p)
			out = append(out, resolve.RelationshipCandidate{
				Source: a.Name,
				Target: b.Name,
				Type:   typ,
				Properties: map[string]any{
					"extraction_method": MethodCooccurrence,
					"discovery_method":  rule,
					"cross_chunk":       true,
					"domain":            domain,
					"context":           strings.TrimSpace(p.Context),
				},
				Confidence: CooccurrenceConfidence,
			})
		}
	}
	return out
}

// PairKey identifies an unordered entity pair by lowercased name.
func PairKey(a, b string) string {
	a, b = strings.ToLower(strings.TrimSpace(a)), strings.ToLower(strings.TrimSpace(b))
	if b < a {
		a, b = b, a
	}
	return a + "\x00" + b
}
