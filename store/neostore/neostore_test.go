package neostore

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/akg/resolve"
)

func TestTxTimeout(t *testing.T) {
	t.Run("falls back without a deadline", func(t *testing.T) {
		d, err := txTimeout(context.Background(), 3*time.Second)
		require.NoError(t, err)
		assert.Equal(t, 3*time.Second, d)
	})

	t.Run("uses the remaining deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		d, err := txTimeout(ctx, time.Second)
		require.NoError(t, err)
		assert.Greater(t, d, 50*time.Second)
		assert.LessOrEqual(t, d, time.Minute)
	})

	t.Run("reports a cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := txTimeout(ctx, time.Second)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("reports an expired deadline", func(t *testing.T) {
		ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
		defer cancel()
		_, err := txTimeout(ctx, time.Second)
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	})
}

func TestEntityPropsRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := &resolve.Entity{
		ID: "e1", Name: " OpenAI ", Type: "ORGANIZATION", DocumentID: "doc-1", Confidence: 0.9,
		Properties: map[string]any{"hq": "San Francisco"},
		Aliases:    []string{"Open AI"},
		CreatedAt:  now, UpdatedAt: now,
	}
	params, err := entityParams(in)
	require.NoError(t, err)
	assert.Equal(t, "openai", params["lower_name"])
	assert.Equal(t, `{"hq":"San Francisco"}`, params["props_json"])

	// The driver hands lists back as []interface{}.
	params["aliases"] = []interface{}{"Open AI"}
	out, err := entityFromProps(params)
	require.NoError(t, err)
	assert.Equal(t, "e1", out.ID)
	assert.Equal(t, 0.9, out.Confidence)
	assert.Equal(t, "San Francisco", out.Properties["hq"])
	assert.Equal(t, []string{"Open AI"}, out.Aliases)
	assert.True(t, out.CreatedAt.Equal(now))
}

func TestEntityParamsNormalizesEmptyFields(t *testing.T) {
	params, err := entityParams(&resolve.Entity{ID: "e1", Name: "x"})
	require.NoError(t, err)
	assert.Nil(t, params["document_id"])
	assert.Equal(t, "", params["props_json"])
	assert.Equal(t, []string{}, params["aliases"])
	assert.NotEmpty(t, params["created_at"])
}

func TestRelationshipPropsRoundTrip(t *testing.T) {
	params, err := relationshipParams(&resolve.Relationship{
		ID: "r1", SourceID: "a", TargetID: "b", Type: "Works_For", Confidence: 0.4,
		Properties: map[string]any{resolve.MergedFromProperty: "old"},
	})
	require.NoError(t, err)
	assert.Equal(t, "works_for", params["lower_type"])

	out, err := relationshipFromProps(params, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, "Works_For", out.Type)
	assert.Equal(t, "a", out.SourceID)
	assert.Equal(t, "old", out.Properties[resolve.MergedFromProperty])
}

func TestDecodePropsRejectsGarbage(t *testing.T) {
	_, err := entityFromProps(map[string]interface{}{"id": "e1", "props_json": "{not json"})
	assert.Error(t, err)
}

func TestScore(t *testing.T) {
	cands := []resolve.Entity{
		{ID: "far", Name: "Globex"},
		{ID: "near", Name: "Acme Corp"},
		{ID: "alias", Name: "ACME Holdings", Aliases: []string{"Acme Corp."}},
	}
	got := score(resolve.SequenceRatio, "Acme Corp", cands, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].ID)
	assert.Equal(t, 1.0, got[0].Score)
	assert.Equal(t, "alias", got[1].ID)
}

func TestSearchTerms(t *testing.T) {
	assert.Equal(t, []string{"acme corp.", "acme", "corp"}, searchTerms(" Acme Corp. "))
	assert.Equal(t, []string{"go"}, searchTerms("Go"))
	assert.Nil(t, searchTerms("  "))
}

func TestAppendWithinEdits(t *testing.T) {
	cands := []resolve.Entity{{ID: "acme", Name: "Acme"}}
	near := []resolve.Entity{
		{ID: "google", Name: "Google"},
		{ID: "globex", Name: "Globex"},
		{ID: "acme", Name: "Acme"},
	}
	got := appendWithinEdits(cands, "gogle", maxEdits(5), near)
	require.Len(t, got, 2)
	assert.Equal(t, "google", got[1].ID)

	assert.Zero(t, maxEdits(3), "short names need an exact or substring match")
	assert.Equal(t, 2, maxEdits(12))
}

func TestAsStrings(t *testing.T) {
	assert.Nil(t, asStrings(nil))
	assert.Nil(t, asStrings([]interface{}{}))
	assert.Equal(t, []string{"a"}, asStrings([]interface{}{"a", 3}))
	assert.Equal(t, []string{"b"}, asStrings([]string{"b"}))
}

func TestNewRequiresURI(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

// TestNeo4jIntegration runs against a live server when AKG_TEST_NEO4J_URI is set.
func TestNeo4jIntegration(t *testing.T) {
	uri := os.Getenv("AKG_TEST_NEO4J_URI")
	if uri == "" {
		t.Skip("AKG_TEST_NEO4J_URI not set")
	}
	s, err := New(Config{
		URI:      uri,
		Username: os.Getenv("AKG_TEST_NEO4J_USERNAME"),
		Password: os.Getenv("AKG_TEST_NEO4J_PASSWORD"),
	})
	require.NoError(t, err)
	defer s.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, s.EnsureSchema(ctx))

	// Unique names keep runs against a shared database independent.
	tag := uuid.NewString()[:8]
	a := &resolve.Entity{ID: uuid.NewString(), Name: "Alpha " + tag, Type: "CONCEPT", Confidence: 0.5}
	b := &resolve.Entity{ID: uuid.NewString(), Name: "Beta " + tag, Type: "CONCEPT", Confidence: 0.5}
	require.NoError(t, s.UpsertEntity(ctx, a))
	require.NoError(t, s.UpsertEntity(ctx, b))
	t.Cleanup(func() {
		_ = s.DeleteEntity(context.Background(), a.ID)
		_ = s.DeleteEntity(context.Background(), b.ID)
	})

	typo, err := s.SearchSimilarEntities(ctx, "Alpah "+tag, "CONCEPT", 5)
	require.NoError(t, err)
	require.NotEmpty(t, typo)
	assert.Equal(t, a.ID, typo[0].ID)

	got, err := s.FindEntityByName(ctx, "ALPHA "+tag, "concept")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, a.ID, got.ID)

	rel := &resolve.Relationship{ID: uuid.NewString(), SourceID: a.ID, TargetID: b.ID, Type: "USES", Confidence: 0.5}
	require.NoError(t, s.UpsertRelationship(ctx, rel))
	found, err := s.FindRelationship(ctx, a.ID, b.ID, "uses")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, rel.ID, found.ID)

	missing := &resolve.Relationship{ID: uuid.NewString(), SourceID: a.ID, TargetID: uuid.NewString(), Type: "USES"}
	assert.ErrorIs(t, s.UpsertRelationship(ctx, missing), resolve.ErrEntityNotFound)

	// Merge through the executor exercises the full contract.
	report, err := resolve.NewMergeExecutor(s, 10*time.Second).Merge(ctx, a.ID, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, report.SelfLoopsSkipped)
	gone, err := s.GetEntity(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}
