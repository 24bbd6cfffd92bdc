package graph

import (
	"strings"

	ahocorasick "github.com/petar-dambovaliev/aho-corasick"
)

// Domains in detection order; ties go to the earlier one.
var Domains = []string{"technical", "business", "legal", "academic", "medical", "financial"}

// DefaultDomain is used when no domain keyword appears.
const DefaultDomain = "business"

var domainKeywords = map[string][]string{
	"technical": {"api", "code", "function", "class", "method", "algorithm", "implementation", "config", "setup"},
	"business":  {"meeting", "project", "budget", "team", "manager", "strategy", "goal", "objective"},
	"legal":     {"contract", "agreement", "clause", "term", "obligation", "party", "liability", "compliance"},
	"academic":  {"research", "study", "analysis", "methodology", "findings", "citation", "paper", "thesis"},
	"medical":   {"patient", "diagnosis", "treatment", "symptoms", "medication", "health", "clinical"},
	"financial": {"revenue", "cost", "budget", "investment", "profit", "financial", "accounting"},
}

type domainDetector struct {
	ac      ahocorasick.AhoCorasick
	domains [][]int // pattern index -> indexes into Domains
}

var detector = newDomainDetector()

func newDomainDetector() *domainDetector {
	index := make(map[string]int)
	d := &domainDetector{}
	var patterns []string
	for di, name := range Domains {
		for _, kw := range domainKeywords[name] {
			pi, ok := index[kw]
			if !ok {
				pi = len(patterns)
				index[kw] = pi
				patterns = append(patterns, kw)
				d.domains = append(d.domains, nil)
			}
			d.domains[pi] = append(d.domains[pi], di)
		}
	}
	b := ahocorasick.NewAhoCorasickBuilder(ahocorasick.Opts{
		AsciiCaseInsensitive: true,
		MatchOnlyWholeWords:  false,
		MatchKind:            ahocorasick.StandardMatch,
	})
	d.ac = b.Build(patterns)
	return d
}

// DetectDomain scores text by how many distinct keywords of each domain it
// contains and returns the best one, or DefaultDomain when nothing matches.
func DetectDomain(text string) string {
	seen := make(map[int]bool)
	iter := detector.ac.IterOverlapping(strings.ToLower(text))
	for m := iter.Next(); m != nil; m = iter.Next() {
		seen[m.Pattern()] = true
	}
	scores := make([]int, len(Domains))
	for pi := range seen {
		for _, di := range detector.domains[pi] {
			scores[di]++
		}
	}
	best, bestScore := DefaultDomain, 0
	for i, s := range scores {
		if s > bestScore {
			best, bestScore = Domains[i], s
		}
	}
	return best
}
