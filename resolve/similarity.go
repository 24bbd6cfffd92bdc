package resolve

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Similarity scores how alike two strings are, in [0,1].
type Similarity interface {
	Similarity(a, b string) float64
}

// SimilarityFunc adapts a plain function to Similarity.
type SimilarityFunc func(a, b string) float64

func (f SimilarityFunc) Similarity(a, b string) float64 { return f(a, b) }

// Built-in strategies. Inputs are trimmed and lowercased before scoring.
var (
	SequenceRatio     Similarity = SimilarityFunc(sequenceRatio)
	LevenshteinRatio  Similarity = SimilarityFunc(levenshteinRatio)
	TrigramSimilarity Similarity = SimilarityFunc(trigramSimilarity)
)

// SimilarityByName returns the strategy registered under name. An empty
// name selects SequenceRatio.
func SimilarityByName(name string) (Similarity, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "sequence", "ratio":
		return SequenceRatio, nil
	case "levenshtein", "edit":
		return LevenshteinRatio, nil
	case "trigram":
		return TrigramSimilarity, nil
	}
	return nil, fmt.Errorf("resolve: unknown similarity %q", name)
}

// prepare lowercases both sides and settles the trivial cases.
func prepare(a, b string) (string, string, float64, bool) {
	a, b = normalizeKey(a), normalizeKey(b)
	if a == b {
		return a, b, 1, true
	}
	if a == "" || b == "" {
		return a, b, 0, true
	}
	return a, b, 0, false
}

// sequenceRatio is the Ratcliff/Obershelp ratio 2*M/T, where M counts the
// characters in recursively found longest common blocks.
func sequenceRatio(a, b string) float64 {
	a, b, score, done := prepare(a, b)
	if done {
		return score
	}
	ra, rb := []rune(a), []rune(b)
	m := matchingRunes(ra, rb)
	return 2 * float64(m) / float64(len(ra)+len(rb))
}

func matchingRunes(a, b []rune) int {
	i, j, k := longestBlock(a, b)
	if k == 0 {
		return 0
	}
	return k + matchingRunes(a[:i], b[:j]) + matchingRunes(a[i+k:], b[j+k:])
}

// longestBlock finds the longest common substring, preferring the
// earliest start in a.
func longestBlock(a, b []rune) (int, int, int) {
	best, bi, bj := 0, 0, 0
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				cur[j] = prev[j-1] + 1
				if cur[j] > best {
					best = cur[j]
					bi, bj = i-best, j-best
				}
			} else {
				cur[j] = 0
			}
		}
		prev, cur = cur, prev
	}
	return bi, bj, best
}

func levenshteinRatio(a, b string) float64 {
	a, b, score, done := prepare(a, b)
	if done {
		return score
	}
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	d := levenshtein.ComputeDistance(a, b)
	return 1 - float64(d)/float64(longest)
}

// trigramSimilarity is the Jaccard index of padded character trigrams.
func trigramSimilarity(a, b string) float64 {
	a, b, score, done := prepare(a, b)
	if done {
		return score
	}
	ta, tb := trigrams(a), trigrams(b)
	inter := 0
	for g := range ta {
		if _, ok := tb[g]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func trigrams(s string) map[string]struct{} {
	r := []rune("  " + s + " ")
	out := make(map[string]struct{}, len(r))
	for i := 0; i+3 <= len(r); i++ {
		out[string(r[i:i+3])] = struct{}{}
	}
	return out
}
