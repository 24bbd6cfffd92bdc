package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brunobiangulo/akg"
	"github.com/brunobiangulo/akg/resolve"
)

// stubEngine records calls and returns canned results.
type stubEngine struct {
	ingestErr error
	sweepErr  error
	mergeErr  error

	ingested []string
	texts    []akg.TextDocument
	merged   [2]string
	sweepCtx string
}

func (s *stubEngine) Ingest(_ context.Context, path string, _ ...akg.IngestOption) (*akg.DocumentResult, error) {
	s.ingested = append(s.ingested, path)
	res := &akg.DocumentResult{DocumentID: 1, Path: path, EntitiesCreated: 2}
	if s.ingestErr != nil {
		res.Skipped = true
	}
	return res, s.ingestErr
}

func (s *stubEngine) IngestDir(context.Context, string, ...akg.IngestOption) ([]*akg.DocumentResult, error) {
	return nil, nil
}

func (s *stubEngine) ProcessText(_ context.Context, doc akg.TextDocument) (*akg.DocumentResult, error) {
	s.texts = append(s.texts, doc)
	return &akg.DocumentResult{SourceID: doc.ID, EntitiesCreated: 1}, nil
}

func (s *stubEngine) SweepPronouns(_ context.Context, documentContext string) (resolve.SweepReport, error) {
	s.sweepCtx = documentContext
	return resolve.SweepReport{Found: 2, Merged: 1, Unresolved: 1}, s.sweepErr
}

func (s *stubEngine) Merge(_ context.Context, source, target string) (resolve.MergeReport, error) {
	s.merged = [2]string{source, target}
	if s.mergeErr != nil {
		return resolve.MergeReport{}, s.mergeErr
	}
	return resolve.MergeReport{SourceID: source, TargetID: target, Rewired: 3, SourceDeleted: true}, nil
}

func (s *stubEngine) TypeStats() resolve.TypeStats {
	return resolve.TypeStats{EntityTypes: 1, Entity: []string{"Person"}}
}

func (s *stubEngine) SuggestTypes(text string, limit int) akg.TypeSuggestions {
	return akg.TypeSuggestions{Entity: []string{fmt.Sprintf("%s/%d", text, limit)}}
}

func (s *stubEngine) Stats(context.Context) (*akg.Stats, error) {
	return &akg.Stats{Documents: 4, Backend: akg.BackendSQLite}, nil
}

func (s *stubEngine) ListDocuments(context.Context) ([]akg.Document, error) {
	return []akg.Document{{ID: 1, Filename: "a.txt"}}, nil
}

func (s *stubEngine) Metrics() prometheus.Gatherer {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "akg_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()
	return reg
}

func (s *stubEngine) Close() error { return nil }

func do(t *testing.T, h http.Handler, method, path, body string, hdr ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestIngestPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("Alice works at Acme."), 0o644))

	eng := &stubEngine{}
	srv := newServer(eng, "", "")

	rec := do(t, srv, http.MethodPost, "/ingest", fmt.Sprintf(`{"path":%q}`, path))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{path}, eng.ingested)
	assert.EqualValues(t, 2, decode(t, rec)["entities_created"])

	rec = do(t, srv, http.MethodPost, "/ingest", `{"path":"/does/not/exist.txt"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/ingest", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestUnchangedIsOK(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	srv := newServer(&stubEngine{ingestErr: akg.ErrDocumentUnchanged}, "", "")
	rec := do(t, srv, http.MethodPost, "/ingest", fmt.Sprintf(`{"path":%q}`, path))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["skipped"])
}

func TestIngestText(t *testing.T) {
	eng := &stubEngine{}
	srv := newServer(eng, "", "")

	rec := do(t, srv, http.MethodPost, "/ingest", `{"id":"memo-1","text":"Bob met Alice.","document_context":"general"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, eng.texts, 1)
	assert.Equal(t, "memo-1", eng.texts[0].ID)
	assert.Equal(t, "general", eng.texts[0].DocumentContext)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", akg.ErrUnsupportedFormat), http.StatusUnsupportedMediaType},
		{akg.ErrParsingFailed, http.StatusUnprocessableEntity},
		{resolve.ErrEntityNotFound, http.StatusNotFound},
		{resolve.ErrSelfMerge, http.StatusBadRequest},
		{akg.ErrSweepInProgress, http.StatusConflict},
		{akg.ErrStoreClosed, http.StatusServiceUnavailable},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestSweepAndMerge(t *testing.T) {
	eng := &stubEngine{}
	srv := newServer(eng, "", "")

	rec := do(t, srv, http.MethodPost, "/sweep", `{"document_context":"privacy_policy"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "privacy_policy", eng.sweepCtx)
	assert.EqualValues(t, 1, decode(t, rec)["merged"])

	rec = do(t, srv, http.MethodPost, "/sweep", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodPost, "/merge", `{"source":"Bob","target":"Alice"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, [2]string{"Bob", "Alice"}, eng.merged)

	rec = do(t, srv, http.MethodPost, "/merge", `{"source":"Bob"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	busy := newServer(&stubEngine{sweepErr: akg.ErrSweepInProgress}, "", "")
	assert.Equal(t, http.StatusConflict, do(t, busy, http.MethodPost, "/sweep", "").Code)

	missing := newServer(&stubEngine{mergeErr: resolve.ErrEntityNotFound}, "", "")
	assert.Equal(t, http.StatusNotFound, do(t, missing, http.MethodPost, "/merge", `{"source":"a","target":"b"}`).Code)
}

func TestReadEndpoints(t *testing.T) {
	srv := newServer(&stubEngine{}, "", "")

	rec := do(t, srv, http.MethodGet, "/types", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode(t, rec)["entity_types"])

	rec = do(t, srv, http.MethodGet, "/types?suggest=founder&limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"founder/2"}, decode(t, rec)["entity"])

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/types?suggest=x&limit=-1", "").Code)

	rec = do(t, srv, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 4, decode(t, rec)["documents"])

	rec = do(t, srv, http.MethodGet, "/documents", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "a.txt")

	rec = do(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "akg_test_total 1")
}

func TestMiddleware(t *testing.T) {
	srv := newServer(&stubEngine{}, "secret", "https://app.example.com")

	rec := do(t, srv, http.MethodGet, "/stats", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, srv, http.MethodGet, "/stats", "", "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	rec = do(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodOptions, "/ingest", "", "Origin", "https://app.example.com")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, srv, http.MethodOptions, "/ingest", "", "Origin", "https://evil.example.com")
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, srv, http.MethodGet, "/health", "", requestIDHeader, "req-42")
	assert.Equal(t, "req-42", rec.Header().Get(requestIDHeader))
}

func TestRecoveryMiddleware(t *testing.T) {
	h := recoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))
	rec := do(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", decode(t, rec)["error"])
}
