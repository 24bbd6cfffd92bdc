package resolve

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func names(cands []EntityCandidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.Name
	}
	return out
}

func TestNormalize_PrivacyPolicyPronouns(t *testing.T) {
	n := NewCoreferenceNormalizer()
	in := []EntityCandidate{
		{Name: "we", Type: "ORGANIZATION", Confidence: 0.95, DocumentID: "doc-1"},
		{Name: "OpenAI", Type: "ORGANIZATION", Confidence: 0.9, Properties: map[string]any{"hq": "San Francisco"}},
		{Name: "you", Type: "USER", Confidence: 0.8},
	}
	out := n.Normalize(in, ContextPrivacyPolicy)

	assert.Equal(t, []string{"OpenAI", "OpenAI"}, names(out.Entities))
	assert.Equal(t, []string{"you"}, out.Dropped)
	assert.Equal(t, map[string]string{"we": "OpenAI"}, out.Resolved)

	resolved := out.Entities[0]
	assert.Equal(t, "ORGANIZATION", resolved.Type)
	assert.Equal(t, "doc-1", resolved.DocumentID)
	assert.Equal(t, 0.95, resolved.Confidence)
	assert.Equal(t, "San Francisco", resolved.Properties["hq"])

	assert.Equal(t, in[1], out.Entities[1], "main candidate passes through unchanged")
	for _, c := range out.Entities {
		_, isRef := n.ReferringCategory(c.Name)
		assert.False(t, isRef, "no referring name survives: %s", c.Name)
	}
}

func TestNormalize_IsIdempotent(t *testing.T) {
	n := NewCoreferenceNormalizer()
	in := []EntityCandidate{
		{Name: "ChatGPT", Type: "SERVICE"},
		{Name: "the platform", Type: "SERVICE"},
		{Name: "OpenAI", Type: "ORGANIZATION"},
		{Name: "our", Type: ""},
	}
	once := n.Normalize(in, ContextTermsOfService)
	twice := n.Normalize(once.Entities, ContextTermsOfService)

	assert.Equal(t, once.Entities, twice.Entities)
	assert.Empty(t, twice.Dropped)
	assert.Empty(t, twice.Resolved)
}

func TestNormalize_FallsBackToCategoryWithoutContextTable(t *testing.T) {
	n := NewCoreferenceNormalizer()
	out := n.Normalize([]EntityCandidate{
		{Name: "Acme Company", Type: "ORGANIZATION"},
		{Name: "the company", Type: "ORGANIZATION"},
		{Name: "she", Type: "PERSON"},
	}, ContextGeneral)

	assert.Equal(t, []string{"Acme Company", "Acme Company"}, names(out.Entities))
	assert.Equal(t, []string{"she"}, out.Dropped)
}

func TestNormalize_TableMatchStaysInsideCategory(t *testing.T) {
	n := NewCoreferenceNormalizer()
	out := n.Normalize([]EntityCandidate{
		{Name: "User Data", Type: "DATA"},
		{Name: "Customer", Type: "USER"},
		{Name: "you", Type: "USER"},
	}, ContextPrivacyPolicy)

	assert.Equal(t, []string{"User Data", "Customer", "Customer"}, names(out.Entities))
	assert.Equal(t, map[string]string{"you": "Customer"}, out.Resolved)
	assert.Empty(t, out.Dropped)
}

func TestNormalize_GenericPhraseInsideLongerName(t *testing.T) {
	n := NewCoreferenceNormalizer()
	cat, ok := n.ReferringCategory("all of the users")
	require.True(t, ok)
	assert.Equal(t, CategoryUser, cat)

	_, ok = n.ReferringCategory("Theme Park")
	assert.False(t, ok)
}

func TestNormalize_CustomContextTable(t *testing.T) {
	n := NewCoreferenceNormalizer(WithContextTable("vendor_contract", map[Category][]string{
		CategoryOrganization: {"Initech"},
	}))
	out := n.Normalize([]EntityCandidate{
		{Name: "OpenAI", Type: "ORGANIZATION"},
		{Name: "Initech LLC", Type: "ORGANIZATION"},
		{Name: "us", Type: "ORGANIZATION"},
	}, "vendor_contract")

	assert.Equal(t, []string{"OpenAI", "Initech LLC", "Initech LLC"}, names(out.Entities))
}

func TestCategorize(t *testing.T) {
	n := NewCoreferenceNormalizer()
	cases := []struct {
		name, typ string
		want      Category
		ok        bool
	}{
		{"OpenAI", "ORGANIZATION", CategoryOrganization, true},
		{"Developer API", "PRODUCT", CategoryService, true},
		{"End User", "USER_ROLE", CategoryUser, true},
		{"End User", "ROLE", "", false},
		{"Privacy Policy", "DOCUMENT", CategoryPolicyDocument, true},
		{"Personal Data", "CONCEPT", CategoryData, true},
		{"Data", "CONCEPT", "", false},
		{"Grace Hopper", "PERSON", CategoryPerson, true},
		{"Initech LLC", "ORGANIZATION", CategoryOrganization, true},
		{"User Data", "DATA", CategoryData, true},
	}
	for _, tc := range cases {
		got, ok := n.Categorize(EntityCandidate{Name: tc.name, Type: tc.typ})
		assert.Equal(t, tc.ok, ok, tc.name)
		assert.Equal(t, tc.want, got, tc.name)
	}
}

func TestDetectDocumentContext(t *testing.T) {
	cases := []struct{ title, docType, want string }{
		{"ChatGPT Privacy Policy", "", ContextPrivacyPolicy},
		{"Data Protection Addendum", "", ContextPrivacyPolicy},
		{"Terms of Use", "", ContextTermsOfService},
		{"Software EULA", "", ContextLicenseAgreement},
		{"Master Contract", "legal", ContextLegalDocument},
		{"Quarterly Notes", "report", ContextGeneral},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, DetectDocumentContext(tc.title, tc.docType), tc.title)
	}
}

func TestSweepPersistedPronouns(t *testing.T) {
	s := newMemStore()
	s.put(Entity{ID: "we", Name: "We", Type: "ORGANIZATION"})
	s.put(Entity{ID: "openai", Name: "OpenAI", Type: "ORGANIZATION"})
	s.put(Entity{ID: "you", Name: "you", Type: "USER"})
	s.put(Entity{ID: "gpt", Name: "ChatGPT", Type: "SERVICE"})
	s.putRel(Relationship{ID: "e1", SourceID: "we", TargetID: "gpt", Type: "OPERATES"})

	n := NewCoreferenceNormalizer()
	m := NewMergeExecutor(s, time.Second)
	report, err := n.SweepPersistedPronouns(context.Background(), s, m, ContextPrivacyPolicy, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Found)
	assert.Equal(t, 1, report.Merged)
	assert.Equal(t, 1, report.Unresolved)
	assert.Zero(t, report.Failed)

	gone, _ := s.GetEntity(context.Background(), "we")
	assert.Nil(t, gone)
	kept, _ := s.GetEntity(context.Background(), "you")
	assert.NotNil(t, kept, "unresolved nodes are never deleted")

	edges, _ := s.IncidentRelationships(context.Background(), "openai")
	require.Len(t, edges, 1)
	assert.Equal(t, "gpt", edges[0].TargetID)
	assert.Equal(t, "we", edges[0].Properties[MergedFromProperty])
}

func TestSweepPersistedPronouns_FallsBackToStaticTargets(t *testing.T) {
	s := newMemStore()
	s.put(Entity{ID: "svc", Name: "the service", Type: "SERVICE"})
	s.put(Entity{ID: "gpt", Name: "ChatGPT", Type: "SERVICE"})

	n := NewCoreferenceNormalizer()
	report, err := n.SweepPersistedPronouns(context.Background(), s, NewMergeExecutor(s, time.Second), ContextGeneral, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Merged)
	assert.Equal(t, 1, s.entityCount())
}

func TestSweepPersistedPronouns_StalledListingGivesUp(t *testing.T) {
	s := newMemStore()
	s.put(Entity{ID: "we", Name: "We", Type: "ORGANIZATION"})

	start := time.Now()
	_, err := NewCoreferenceNormalizer().SweepPersistedPronouns(context.Background(),
		stallingStore{s}, NewMergeExecutor(s, 20*time.Millisecond), ContextPrivacyPolicy, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, s.entityCount())
}
