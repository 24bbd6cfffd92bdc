package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeVerb(t *testing.T) {
	tests := []struct{ in, want string }{
		{"manages", "MANAGE"},
		{"uses", "USE"},
		{"address", "ADDRESS"},
		{"reported", "REPORT"},
		{"leading", "LEAD"},
		{"sing", "SING"},
		{"bus", "BUS"},
		{" reports to ", "REPORTS_TO"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeVerb(tt.in), tt.in)
	}
}

func TestVerbRelationship(t *testing.T) {
	tests := []struct {
		name    string
		between string
		want    string
		ok      bool
	}{
		{"single verb", " manages ", "MANAGE", true},
		{"verb with particle", " works on ", "WORK_ON", true},
		{"auxiliary is skipped", " is leading ", "LEAD", true},
		{"only connectors", " and ", "", false},
		{"empty gap", "", "", false},
		{"short word", " x ", "", false},
		{"too many words", " one two three four five six seven ", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := VerbRelationship(Pair{Between: tt.between})
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDomainKeywordRule(t *testing.T) {
	r := newDomainKeywordRule(DefaultDomainRelations)
	tests := []struct {
		name    string
		domain  string
		context string
		want    string
		ok      bool
	}{
		{"technical call", "technical", "the parser calls the lexer", "CALLS", true},
		{"earlier relation wins", "technical", "it will import and run the module", "CALLS", true},
		{"multi word keyword", "legal", "the tenant is subject to the lease", "BOUND_BY", true},
		{"unknown domain uses business", "cooking", "she will manage the kitchen", "MANAGES", true},
		{"no keyword", "business", "alice bob", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.match(Pair{Domain: tt.domain, Context: tt.context})
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTypePairRelationship(t *testing.T) {
	got, ok := TypePairRelationship(Pair{Source: Mention{Type: "person"}, Target: Mention{Type: TypeProject}})
	assert.True(t, ok)
	assert.Equal(t, "WORKS_ON", got)

	_, ok = TypePairRelationship(Pair{Source: Mention{Type: TypeProject}, Target: Mention{Type: TypePerson}})
	assert.False(t, ok, "pairs are directional")
}

func TestGenericRelationship(t *testing.T) {
	tests := []struct{ context, want string }{
		{"alice and bob", "ASSOCIATED_WITH"},
		{"held in paris", "OCCURRED_IN"},
		{"written by bob", "RELATED_TO"},
		{"alice bob", "MENTIONED_WITH"},
		{"the inner join", "MENTIONED_WITH"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, GenericRelationship(Pair{Context: tt.context}), tt.context)
	}
}

func TestRuleSetOrder(t *testing.T) {
	never := Rule{Name: "never", Match: func(Pair) (string, bool) { return "", false }}
	always := Rule{Name: "always", Match: func(Pair) (string, bool) { return "ALWAYS", true }}
	empty := Rule{Name: "empty", Match: func(Pair) (string, bool) { return "", true }}

	typ, rule := NewRuleSet(nil, never, empty, always).Infer(Pair{})
	assert.Equal(t, "ALWAYS", typ)
	assert.Equal(t, "always", rule)

	typ, rule = NewRuleSet(nil, never).Infer(Pair{Context: "x and y"})
	assert.Equal(t, "ASSOCIATED_WITH", typ)
	assert.Equal(t, "fallback", rule)

	typ, _ = NewRuleSet(func(Pair) string { return "CUSTOM" }).Infer(Pair{})
	assert.Equal(t, "CUSTOM", typ)
}

func TestDefaultRuleSetPrecedence(t *testing.T) {
	rs := DefaultRuleSet()
	p := Pair{
		Source:  Mention{Name: "Alice", Type: TypePerson},
		Target:  Mention{Name: "Apollo", Type: TypeProject},
		Between: " oversees ",
		Context: "alice oversees apollo",
		Domain:  "business",
	}
	typ, rule := rs.Infer(p)
	assert.Equal(t, "OVERSEE", typ)
	assert.Equal(t, "verb", rule)

	p.Between = " , "
	typ, rule = rs.Infer(p)
	assert.Equal(t, "MANAGES", typ)
	assert.Equal(t, "domain_keywords", rule)

	p.Context = "alice, apollo"
	typ, rule = rs.Infer(p)
	assert.Equal(t, "WORKS_ON", typ)
	assert.Equal(t, "type_pair", rule)
}

func TestDetectDomain(t *testing.T) {
	tests := []struct{ text, want string }{
		{"The API function returns the config value.", "technical"},
		{"Quarterly budget meeting with the team", "business"},
		{"Patient diagnosis and treatment notes", "medical"},
		{"The contract clause sets each party's liability.", "legal"},
		{"", DefaultDomain},
		{"nothing to see", DefaultDomain},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectDomain(tt.text), tt.text)
	}
}
