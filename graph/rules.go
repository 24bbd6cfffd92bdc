package graph

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/jdkato/prose/v2"

	"github.com/brunobiangulo/akg/resolve"
)

const (
	// PatternConfidence is assigned to regex and NER entity matches.
	PatternConfidence = 0.6
	// ProximityConfidence is assigned to relationships inferred from nearness.
	ProximityConfidence = 0.4
	// DefaultProximityWindow is the widest gap, in characters, between two
	// mentions that still yields a relationship.
	DefaultProximityWindow = 100

	contextRadius = 20
	pairRadius    = 50
)

const properNoun = `([A-Z][a-zA-Z]*(?:\s[A-Z][a-zA-Z]*)*)`

type entityPattern struct {
	typ string
	re  *regexp.Regexp
}

// Specific shapes come before the bare two-word PERSON pattern; text
// claimed by an earlier match is not matched again. Group 1 is the name.
var entityPatterns = []entityPattern{
	{TypeOrganization, regexp.MustCompile(`\b(` + properNoun + `\s+(?:Inc|Corp|LLC|Ltd|Company|Organization))\b`)},
	{TypeOrganization, regexp.MustCompile(`\b(` + properNoun + `\s+Department)\b`)},
	{TypeOrganization, regexp.MustCompile(`\b(Department\s+of\s+` + properNoun + `)`)},
	{TypeProject, regexp.MustCompile(`\b(Project\s+` + properNoun + `)`)},
	{TypeProject, regexp.MustCompile(`\b(` + properNoun + `\s+Project)\b`)},
	{TypeMeeting, regexp.MustCompile(`\b(` + properNoun + `\s+Meeting)\b`)},
	{TypePolicy, regexp.MustCompile(`\b(` + properNoun + `\s+Policy)\b`)},
	{TypeDate, regexp.MustCompile(`\b(\d{1,2}/\d{1,2}/\d{4})\b`)},
	{TypeDate, regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)},
	{TypeDate, regexp.MustCompile(`\b((?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},?\s+\d{4})\b`)},
	{TypeLocation, regexp.MustCompile(`\b([A-Z][a-z]+(?:\s[A-Z][a-z]+)*),\s+[A-Z]{2}\b`)},
	{TypeLocation, regexp.MustCompile(`\b(` + properNoun + `\s+Office)\b`)},
	{TypePerson, regexp.MustCompile(`\b(?:Mr|Ms|Mrs|Dr)\.?\s+([A-Z][a-z]+(?:\s[A-Z][a-z]+)?)\b`)},
	{TypePerson, regexp.MustCompile(`\b([A-Z][a-z]+ [A-Z][a-z]+(?:\s[A-Z][a-z]+)?)\b`)},
}

var leadingArticle = regexp.MustCompile(`^(?:The|A|An)\s+`)

var commonWords = map[string]bool{}

func init() {
	for _, w := range strings.Fields(`the and or but in on at to for of with by this that these those
		all any some many much few more most other another such only own same so than too very
		can will just should now document meeting notes project alpha`) {
		commonWords[w] = true
	}
}

var nerLabels = map[string]string{
	"PERSON": TypePerson,
	"GPE":    TypeLocation,
	"ORG":    TypeOrganization,
}

// RuleExtractor finds entities with regular expressions (plus optional
// statistical NER) and infers relationships between nearby mentions.
// It needs no network and never fails on text.
type RuleExtractor struct {
	rules  *RuleSet
	ner    bool
	window int
	log    *slog.Logger
}

// RuleOption customises a RuleExtractor.
type RuleOption func(*RuleExtractor)

// WithNER enables prose named-entity recognition on top of the patterns.
func WithNER(on bool) RuleOption {
	return func(x *RuleExtractor) { x.ner = on }
}

// WithProximityWindow overrides DefaultProximityWindow.
func WithProximityWindow(chars int) RuleOption {
	return func(x *RuleExtractor) {
		if chars > 0 {
			x.window = chars
		}
	}
}

// WithRuleLogger sets the extractor's logger.
func WithRuleLogger(l *slog.Logger) RuleOption {
	return func(x *RuleExtractor) { x.log = l }
}

// NewRuleExtractor creates a RuleExtractor. A nil rules uses DefaultRuleSet.
func NewRuleExtractor(rules *RuleSet, opts ...RuleOption) *RuleExtractor {
	if rules == nil {
		rules = DefaultRuleSet()
	}
	x := &RuleExtractor{rules: rules, window: DefaultProximityWindow, log: slog.Default()}
	for _, o := range opts {
		o(x)
	}
	return x
}

// Extract implements Extractor.
func (x *RuleExtractor) Extract(ctx context.Context, c Chunk) (*Extraction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	text := c.Text
	if c.Title != "" {
		text = c.Title + "\n" + c.Text
	}
	ext := &Extraction{Method: MethodPattern}
	ext.Entities = x.entities(text)
	domain := c.Domain
	if domain == "" {
		domain = DetectDomain(text)
	}
	ext.Relationships = x.relationships(text, ext.Entities, domain)
	x.log.Debug("graph: rule extraction", "document", c.DocumentID, "chunk", c.Index,
		"entities", len(ext.Entities), "relationships", len(ext.Relationships), "domain", domain)
	return ext, nil
}

func (x *RuleExtractor) entities(text string) []resolve.EntityCandidate {
	type found struct {
		cand resolve.EntityCandidate
		pos  int
	}
	seen := make(map[string]bool)
	var claimed [][2]int
	var out []found
	add := func(name, typ, method string, pos int) bool {
		trimmed := leadingArticle.ReplaceAllString(strings.TrimSpace(name), "")
		if pos >= 0 {
			pos += strings.Index(name, trimmed)
		}
		name = trimmed
		key := strings.ToLower(name)
		if len(name) <= 2 || commonWords[key] || seen[key] {
			return false
		}
		seen[key] = true
		props := map[string]any{"extraction_method": method}
		if pos >= 0 {
			props["match_position"] = pos
			props["context"] = window(text, pos, pos+len(name), contextRadius)
		}
		out = append(out, found{pos: pos, cand: resolve.EntityCandidate{
			Name:       name,
			Type:       typ,
			Properties: props,
			Confidence: PatternConfidence,
		}})
		return true
	}
	overlaps := func(start, end int) bool {
		for _, c := range claimed {
			if start < c[1] && c[0] < end {
				return true
			}
		}
		return false
	}

	for _, p := range entityPatterns {
		for _, m := range p.re.FindAllStringSubmatchIndex(text, -1) {
			if len(m) < 4 || m[2] < 0 || overlaps(m[0], m[1]) {
				continue
			}
			if add(text[m[2]:m[3]], p.typ, MethodPattern, m[2]) {
				claimed = append(claimed, [2]int{m[0], m[1]})
			}
		}
	}

	if x.ner {
		doc, err := prose.NewDocument(text)
		if err != nil {
			x.log.Warn("graph: ner failed, using patterns only", "error", err)
		} else {
			for _, e := range doc.Entities() {
				if typ, ok := nerLabels[e.Label]; ok {
					add(e.Text, typ, MethodNER, strings.Index(text, e.Text))
				}
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].pos < out[j].pos })
	cands := make([]resolve.EntityCandidate, len(out))
	for i, f := range out {
		cands[i] = f.cand
	}
	return cands
}

func (x *RuleExtractor) relationships(text string, ents []resolve.EntityCandidate, domain string) []resolve.RelationshipCandidate {
	lower := strings.ToLower(text)
	mentions := make([][]Mention, len(ents))
	for i, e := range ents {
		mentions[i] = findMentions(lower, e)
	}

	var out []resolve.RelationshipCandidate
	for i := range ents {
		for j := i + 1; j < len(ents); j++ {
			a, b, ok := closestPair(mentions[i], mentions[j], x.window)
			if !ok {
				continue
			}
			p := newPair(lower, a, b, pairRadius, domain)
			typ, rule := x.rules.Infer(p)
			out = append(out, resolve.RelationshipCandidate{
				Source: p.Source.Name,
				Target: p.Target.Name,
				Type:   typ,
				Properties: map[string]any{
					"extraction_method": MethodProximity,
					"inference_rule":    rule,
					"distance":          p.Target.Start - p.Source.End,
				},
				Confidence: ProximityConfidence,
			})
		}
	}
	return out
}

// findMentions lists every case-insensitive occurrence of the entity's
// name and aliases in lower.
func findMentions(lower string, e resolve.EntityCandidate) []Mention {
	var out []Mention
	for _, n := range append([]string{e.Name}, e.Aliases...) {
		needle := strings.ToLower(strings.TrimSpace(n))
		if needle == "" {
			continue
		}
		for off := 0; ; {
			i := strings.Index(lower[off:], needle)
			if i < 0 {
				break
			}
			start := off + i
			out = append(out, Mention{Name: e.Name, Type: e.Type, Start: start, End: start + len(needle)})
			off = start + len(needle)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// closestPair returns the nearest non-overlapping pair of mentions, in
// text order, whose gap is at most maxGap characters.
func closestPair(as, bs []Mention, maxGap int) (Mention, Mention, bool) {
	var first, second Mention
	best := -1
	for _, a := range as {
		for _, b := range bs {
			x, y := a, b
			if y.Start < x.Start {
				x, y = y, x
			}
			gap := y.Start - x.End
			if gap < 0 || gap > maxGap {
				continue
			}
			if best < 0 || gap < best {
				best, first, second = gap, x, y
			}
		}
	}
	return first, second, best >= 0
}

func newPair(lower string, a, b Mention, radius int, domain string) Pair {
	return Pair{
		Source:  a,
		Target:  b,
		Between: lower[a.End:b.Start],
		Context: window(lower, a.Start, b.End, radius),
		Domain:  domain,
	}
}

// window returns text[start-radius : end+radius], clamped.
func window(text string, start, end, radius int) string {
	lo, hi := start-radius, end+radius
	if lo < 0 {
		lo = 0
	}
	if hi > len(text) {
		hi = len(text)
	}
	if lo > hi {
		return ""
	}
	return text[lo:hi]
}
