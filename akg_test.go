//go:build cgo

package akg

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/akg/llm"
	"github.com/brunobiangulo/akg/resolve"
	"github.com/brunobiangulo/akg/store"
)

const apolloText = "Alice Johnson manages Project Apollo at Acme Corp."

func newTestEngine(t *testing.T, mutate func(*Config), opts ...Option) Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "akg.db")
	cfg.Extraction.Mode = ModeRules
	cfg.Resolution.RetryBackoffBaseSeconds = 0
	if mutate != nil {
		mutate(&cfg)
	}
	eng, err := New(cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })
	return eng
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestEngineNew(t *testing.T) {
	eng := newTestEngine(t, nil)
	docs, err := eng.ListDocuments(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs, "fresh database")
}

func TestEngineNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolution.EntitySimilarityThreshold = 2
	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestIngest(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, nil)
	path := writeFile(t, t.TempDir(), "notes.txt", apolloText)

	res, err := eng.Ingest(ctx, path)
	require.NoError(t, err)
	assert.Positive(t, res.DocumentID)
	assert.Equal(t, 1, res.Chunks)
	assert.Equal(t, 3, res.EntitiesCreated)
	assert.NotZero(t, res.RelationshipsCreated, "mentions are linked")
	assert.Equal(t, resolve.ContextGeneral, res.DocumentContext)

	docs, err := eng.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, store.StatusReady, docs[0].Status)
	assert.Equal(t, "notes", docs[0].Title)

	t.Run("unchanged file is skipped", func(t *testing.T) {
		again, err := eng.Ingest(ctx, path)
		require.ErrorIs(t, err, ErrDocumentUnchanged)
		assert.True(t, again.Skipped)
		assert.Equal(t, res.DocumentID, again.DocumentID)
	})

	t.Run("forced reparse reuses every entity and edge", func(t *testing.T) {
		again, err := eng.Ingest(ctx, path, WithForceReparse())
		require.NoError(t, err)
		assert.Equal(t, res.DocumentID, again.DocumentID)
		assert.Zero(t, again.EntitiesCreated)
		assert.Equal(t, 3, again.EntitiesReused)
		assert.Zero(t, again.RelationshipsCreated)

		st, err := eng.Stats(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 3, st.Graph.Entities)
		assert.EqualValues(t, 1, st.Documents)
		assert.Equal(t, 1, st.ByStatus[store.StatusReady])
	})
}

func TestIngestDocumentContext(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, nil)
	dir := t.TempDir()

	res, err := eng.Ingest(ctx, writeFile(t, dir, "privacy-policy.md", "# Privacy Policy\n\n"+apolloText))
	require.NoError(t, err)
	assert.Equal(t, resolve.ContextPrivacyPolicy, res.DocumentContext)
	assert.Equal(t, "Privacy Policy", res.Title)

	res, err = eng.Ingest(ctx, writeFile(t, dir, "other.txt", apolloText), WithDocumentContext(resolve.ContextLegalDocument))
	require.NoError(t, err)
	assert.Equal(t, resolve.ContextLegalDocument, res.DocumentContext, "explicit context wins")
}

func TestIngestFailures(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, nil)
	dir := t.TempDir()

	_, err := eng.Ingest(ctx, writeFile(t, dir, "blob.bin", "\x00\x01"))
	require.ErrorIs(t, err, ErrUnsupportedFormat)
	_, err = eng.Ingest(ctx, filepath.Join(dir, "missing.txt"))
	require.Error(t, err)

	docs, err := eng.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, store.StatusError, docs[0].Status, "failed document is recorded")
}

type downChat struct{}

func (downChat) Chat(context.Context, llm.ChatRequest) (*llm.ChatResponse, error) {
	return nil, errors.New("connection refused")
}

func (downChat) Embed(context.Context, []string) ([][]float32, error) { return nil, nil }

func TestIngestLLMModes(t *testing.T) {
	ctx := context.Background()

	t.Run("llm mode reports the provider as unavailable", func(t *testing.T) {
		eng := newTestEngine(t, func(c *Config) { c.Extraction.Mode = ModeLLM }, WithChatProvider(downChat{}))
		_, err := eng.Ingest(ctx, writeFile(t, t.TempDir(), "notes.txt", apolloText))
		assert.ErrorIs(t, err, ErrLLMUnavailable)
	})

	t.Run("auto mode falls back to rules", func(t *testing.T) {
		eng := newTestEngine(t, func(c *Config) {
			c.Extraction.Mode = ModeAuto
			c.Extraction.RequestsPerMinute = 0
		}, WithChatProvider(downChat{}))
		res, err := eng.Ingest(ctx, writeFile(t, t.TempDir(), "notes.txt", apolloText))
		require.NoError(t, err)
		assert.Equal(t, 3, res.EntitiesCreated)
	})
}

func TestIngestDir(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, func(c *Config) { c.MaxConcurrentDocuments = 2 })
	dir := t.TempDir()
	writeFile(t, dir, "a.txt", apolloText)
	writeFile(t, dir, "sub/b.md", "# Roadmap\n\nBob Smith joined Acme Corp.")
	writeFile(t, dir, ".hidden.txt", apolloText)
	writeFile(t, dir, "scratch.log", apolloText)

	results, err := eng.IngestDir(ctx, dir)
	require.NoError(t, err)
	require.Len(t, results, 2)

	results, err = eng.IngestDir(ctx, dir)
	require.NoError(t, err)
	for _, r := range results {
		assert.True(t, r.Skipped, "%s should be unchanged", r.Path)
	}
}

func TestProcessTextAndMerge(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, nil)

	_, err := eng.ProcessText(ctx, TextDocument{ID: "t1", Text: apolloText})
	require.NoError(t, err)
	res, err := eng.ProcessText(ctx, TextDocument{Text: "Bob Smith met Alice Johnson."})
	require.NoError(t, err)
	assert.NotEmpty(t, res.SourceID, "a source id is generated")
	assert.Equal(t, 1, res.EntitiesCreated)
	assert.Equal(t, 1, res.EntitiesReused)

	report, err := eng.Merge(ctx, "Bob Smith", "Alice Johnson")
	require.NoError(t, err)
	assert.True(t, report.SourceDeleted)

	st, err := eng.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, st.Graph.Entities)

	_, err = eng.Merge(ctx, "Nobody Here", "Alice Johnson")
	assert.ErrorIs(t, err, resolve.ErrEntityNotFound)
	_, err = eng.Merge(ctx, "Alice Johnson", "alice johnson")
	assert.ErrorIs(t, err, resolve.ErrSelfMerge)
}

// stalledGraph never answers a read before its context ends.
type stalledGraph struct {
	resolve.GraphStore
}

func (stalledGraph) GetEntity(ctx context.Context, _ string) (*resolve.Entity, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (stalledGraph) FindEntityByName(ctx context.Context, _, _ string) (*resolve.Entity, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestLookupEntityHonoursLookupTimeout(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolution.LookupTimeoutSeconds = 0.02
	e := &engine{cfg: cfg, graph: stalledGraph{}}

	start := time.Now()
	_, err := e.lookupEntity(context.Background(), "Alice Johnson")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestTypesAndSweep(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, nil)
	_, err := eng.ProcessText(ctx, TextDocument{Text: apolloText})
	require.NoError(t, err)

	assert.Contains(t, eng.TypeStats().Entity, "PERSON")
	s := eng.SuggestTypes("person", 3)
	require.NotEmpty(t, s.Entity)
	assert.Equal(t, "PERSON", s.Entity[0])

	report, err := eng.SweepPronouns(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, report.Found, "no pronoun nodes were persisted")
}

func TestEngineMetrics(t *testing.T) {
	ctx := context.Background()
	eng := newTestEngine(t, nil)
	_, err := eng.Ingest(ctx, writeFile(t, t.TempDir(), "notes.txt", apolloText))
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(eng.Metrics(), "akg_documents_processed_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "one status series")
}

func TestEngineClosed(t *testing.T) {
	eng := newTestEngine(t, nil)
	require.NoError(t, eng.Close())

	_, err := eng.Ingest(context.Background(), "x.txt")
	assert.ErrorIs(t, err, ErrStoreClosed)
	_, err = eng.Stats(context.Background())
	assert.ErrorIs(t, err, ErrStoreClosed)
	assert.ErrorIs(t, eng.Close(), ErrStoreClosed)
}
