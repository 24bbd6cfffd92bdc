package graph

import (
	"strings"
	"unicode"

	ahocorasick "github.com/petar-dambovaliev/aho-corasick"
)

// Mention is one occurrence of an entity in a text.
type Mention struct {
	Name  string
	Type  string
	Start int
	End   int
}

// Pair is what relationship inference sees: two mentions in text order,
// the lowercased text between them and a lowercased window around both.
type Pair struct {
	Source  Mention
	Target  Mention
	Between string
	Context string
	Domain  string
}

// Rule proposes a relationship type for a pair.
type Rule struct {
	Name  string
	Match func(p Pair) (string, bool)
}

// RuleSet applies rules in order; the first match wins. Fallback runs when
// none match and always yields a type.
type RuleSet struct {
	rules    []Rule
	fallback func(p Pair) string
}

// NewRuleSet builds a RuleSet. A nil fallback selects GenericRelationship.
func NewRuleSet(fallback func(p Pair) string, rules ...Rule) *RuleSet {
	if fallback == nil {
		fallback = GenericRelationship
	}
	return &RuleSet{rules: rules, fallback: fallback}
}

// DefaultRuleSet returns verb extraction, the domain keyword tables and
// the type-pair table, with the generic connector fallback.
func DefaultRuleSet() *RuleSet {
	return NewRuleSet(GenericRelationship,
		Rule{Name: "verb", Match: VerbRelationship},
		Rule{Name: "domain_keywords", Match: newDomainKeywordRule(DefaultDomainRelations).match},
		Rule{Name: "type_pair", Match: TypePairRelationship},
	)
}

// Infer returns the relationship type and the name of the rule that chose
// it ("fallback" when none matched).
func (rs *RuleSet) Infer(p Pair) (string, string) {
	for _, r := range rs.rules {
		if t, ok := r.Match(p); ok && t != "" {
			return t, r.Name
		}
	}
	return rs.fallback(p), "fallback"
}

// --- verb extraction ---

// maxVerbGap is the widest gap, in words, still read as "A verb B".
const maxVerbGap = 6

var verbStopWords = map[string]bool{
	"the": true, "and": true, "or": true, "but": true, "in": true, "on": true, "at": true,
	"to": true, "for": true, "of": true, "with": true, "a": true, "an": true, "by": true,
	"from": true, "as": true, "is": true, "are": true, "was": true, "were": true, "be": true,
	"been": true, "has": true, "have": true, "had": true, "will": true, "would": true,
	"can": true, "could": true, "should": true, "may": true, "also": true, "not": true,
	"this": true, "that": true, "its": true, "their": true, "his": true, "her": true,
	"who": true, "which": true, "then": true, "than": true, "all": true, "both": true,
}

var verbParticles = map[string]bool{
	"on": true, "for": true, "to": true, "with": true, "in": true, "at": true,
	"from": true, "by": true, "of": true, "into": true,
}

// VerbRelationship reads "A <verb> [particle] B" from the text between two
// mentions and turns the verb into an upper snake case label.
func VerbRelationship(p Pair) (string, bool) {
	words := strings.FieldsFunc(p.Between, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '-'
	})
	if len(words) == 0 || len(words) > maxVerbGap {
		return "", false
	}
	for i, w := range words {
		if verbStopWords[w] {
			continue
		}
		if len(w) <= 2 {
			return "", false
		}
		label := NormalizeVerb(w)
		if i+1 < len(words) && verbParticles[words[i+1]] {
			label += "_" + strings.ToUpper(words[i+1])
		}
		return label, true
	}
	return "", false
}

// NormalizeVerb upper-cases w and strips a trailing S (not SS), ING or ED.
func NormalizeVerb(w string) string {
	v := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(w), " ", "_"))
	switch {
	case strings.HasSuffix(v, "ING") && len(v) > 5:
		return v[:len(v)-3]
	case strings.HasSuffix(v, "ED") && len(v) > 4:
		return v[:len(v)-2]
	case strings.HasSuffix(v, "S") && !strings.HasSuffix(v, "SS") && len(v) > 3:
		return v[:len(v)-1]
	}
	return v
}

// --- domain keyword tables ---

// Relation maps keywords found in context to a relationship type.
type Relation struct {
	Type     string
	Keywords []string
}

// DefaultDomainRelations are checked in order; the first type with a
// keyword present in the context wins. Unknown domains use "business".
var DefaultDomainRelations = map[string][]Relation{
	"technical": {
		{"CALLS", []string{"call", "invoke", "execute", "run"}},
		{"DEPENDS_ON", []string{"depend", "require", "need", "import"}},
		{"IMPLEMENTS", []string{"implement", "extend", "inherit"}},
		{"CONFIGURES", []string{"config", "setup", "configure", "initialize"}},
		{"RETURNS", []string{"return", "output", "produce", "yield"}},
		{"USES", []string{"use", "utilize", "employ", "apply"}},
	},
	"business": {
		{"MANAGES", []string{"manage", "lead", "supervise", "oversee"}},
		{"WORKS_ON", []string{"work on", "develop", "create", "build"}},
		{"REPORTS_TO", []string{"report", "report to", "under"}},
		{"ASSIGNED_TO", []string{"assign", "responsible", "task", "delegate"}},
		{"PARTICIPATES_IN", []string{"attend", "participate", "join", "meeting"}},
		{"APPROVES", []string{"approve", "authorize", "sign off", "endorse"}},
	},
	"legal": {
		{"BOUND_BY", []string{"bound", "obligated", "subject to", "governed"}},
		{"ENTITLED_TO", []string{"entitled", "right to", "privilege", "authorized"}},
		{"REFERS_TO", []string{"refer", "reference", "cite", "mention"}},
		{"MODIFIES", []string{"modify", "amend", "change", "alter"}},
		{"SUPERSEDES", []string{"supersede", "replace", "override", "cancel"}},
		{"EFFECTIVE_FROM", []string{"effective", "commence", "begin", "start"}},
	},
	"academic": {
		{"CITES", []string{"cite", "reference", "mention", "quote"}},
		{"STUDIES", []string{"study", "research", "investigate", "examine"}},
		{"PROPOSES", []string{"propose", "suggest", "recommend", "advocate"}},
		{"DEMONSTRATES", []string{"demonstrate", "show", "prove", "establish"}},
		{"BUILDS_ON", []string{"build", "extend", "develop", "advance"}},
		{"CONTRADICTS", []string{"contradict", "dispute", "challenge", "refute"}},
	},
	"medical": {
		{"DIAGNOSED_WITH", []string{"diagnose", "identified", "found", "detected"}},
		{"TREATED_WITH", []string{"treat", "therapy", "medicine", "drug"}},
		{"PRESCRIBED", []string{"prescribe", "recommend", "order", "administer"}},
		{"EXHIBITS", []string{"exhibit", "show", "display", "present"}},
		{"INDICATES", []string{"indicate", "suggest", "point to", "signal"}},
		{"CAUSES", []string{"cause", "result in", "lead to", "trigger"}},
	},
	"financial": {
		{"INVESTED_IN", []string{"invest", "fund", "finance", "back"}},
		{"COSTS", []string{"cost", "expense", "price", "charge"}},
		{"GENERATES", []string{"generate", "produce", "create", "earn"}},
		{"ALLOCATED_TO", []string{"allocate", "assign", "budget", "designate"}},
		{"TRANSFERS_TO", []string{"transfer", "move", "send", "pay"}},
		{"YIELDS", []string{"yield", "return", "profit", "gain"}},
	},
}

// keywordTable is one domain's relations compiled into an automaton.
type keywordTable struct {
	ac    ahocorasick.AhoCorasick
	order []int // pattern index -> position of its relation
	types []string
}

type domainKeywordRule struct {
	tables map[string]*keywordTable
}

func newDomainKeywordRule(domains map[string][]Relation) *domainKeywordRule {
	r := &domainKeywordRule{tables: make(map[string]*keywordTable, len(domains))}
	for domain, rels := range domains {
		t := &keywordTable{}
		var patterns []string
		for i, rel := range rels {
			t.types = append(t.types, rel.Type)
			for _, kw := range rel.Keywords {
				patterns = append(patterns, strings.ToLower(kw))
				t.order = append(t.order, i)
			}
		}
		// Overlapping matches matter here: "report" and "report to" both count.
		b := ahocorasick.NewAhoCorasickBuilder(ahocorasick.Opts{
			AsciiCaseInsensitive: true,
			MatchOnlyWholeWords:  false,
			MatchKind:            ahocorasick.StandardMatch,
		})
		t.ac = b.Build(patterns)
		r.tables[domain] = t
	}
	return r
}

func (r *domainKeywordRule) match(p Pair) (string, bool) {
	t, ok := r.tables[p.Domain]
	if !ok {
		t, ok = r.tables["business"]
		if !ok {
			return "", false
		}
	}
	best := -1
	iter := t.ac.IterOverlapping(p.Context)
	for m := iter.Next(); m != nil; m = iter.Next() {
		if pos := t.order[m.Pattern()]; best < 0 || pos < best {
			best = pos
		}
	}
	if best < 0 {
		return "", false
	}
	return t.types[best], true
}

// --- type pairs ---

var typePairs = []struct {
	source, target, rel string
}{
	{TypePerson, TypeProject, "WORKS_ON"},
	{TypePerson, TypeMeeting, "PARTICIPATES_IN"},
	{TypePerson, TypeOrganization, "WORKS_FOR"},
	{TypeOrganization, TypeProject, "OWNS"},
	{TypeProject, TypeMeeting, "REFERENCED_IN"},
}

// TypePairRelationship maps known (source type, target type) pairs to a
// relationship type. Types are matched by substring, upper-cased.
func TypePairRelationship(p Pair) (string, bool) {
	st, tt := strings.ToUpper(p.Source.Type), strings.ToUpper(p.Target.Type)
	for _, tp := range typePairs {
		if strings.Contains(st, tp.source) && strings.Contains(tt, tp.target) {
			return tp.rel, true
		}
	}
	return "", false
}

// --- fallback ---

// GenericRelationship picks a connector-based label from the words of the
// context window.
func GenericRelationship(p Pair) string {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(p.Context, func(r rune) bool { return !unicode.IsLetter(r) }) {
		words[w] = true
	}
	has := func(ws ...string) bool {
		for _, w := range ws {
			if words[w] {
				return true
			}
		}
		return false
	}
	switch {
	case has("with", "and", "together"):
		return "ASSOCIATED_WITH"
	case has("in", "at", "during"):
		return "OCCURRED_IN"
	case has("by", "from", "of"):
		return "RELATED_TO"
	}
	return "MENTIONED_WITH"
}
