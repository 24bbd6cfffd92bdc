package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brunobiangulo/akg"
	"github.com/brunobiangulo/akg/resolve"
)

type handler struct {
	engine akg.Engine
}

func newHandler(e akg.Engine) *handler {
	return &handler{engine: e}
}

type ingestRequest struct {
	Path            string `json:"path"`
	Text            string `json:"text"`
	ID              string `json:"id,omitempty"`
	Title           string `json:"title,omitempty"`
	DocumentType    string `json:"document_type,omitempty"`
	DocumentContext string `json:"document_context,omitempty"`
	Force           bool   `json:"force,omitempty"`
}

func (r ingestRequest) options() []akg.IngestOption {
	var opts []akg.IngestOption
	if r.Force {
		opts = append(opts, akg.WithForceReparse())
	}
	if r.DocumentType != "" {
		opts = append(opts, akg.WithDocumentType(r.DocumentType))
	}
	if r.DocumentContext != "" {
		opts = append(opts, akg.WithDocumentContext(r.DocumentContext))
	}
	return opts
}

// POST /ingest
// Accepts a multipart file upload, JSON with a file path, or JSON with raw text.
func (h *handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	if err := r.ParseMultipartForm(100 << 20); err == nil { // 100MB max
		file, header, err := r.FormFile("file")
		if err == nil {
			defer file.Close()
			h.ingestUpload(ctx, w, file, header.Filename, ingestRequest{
				DocumentType:    r.FormValue("document_type"),
				DocumentContext: r.FormValue("document_context"),
				Force:           r.FormValue("force") == "true",
			})
			return
		}
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: expected multipart file or JSON with 'path' or 'text'")
		return
	}

	switch {
	case req.Text != "":
		res, err := h.engine.ProcessText(ctx, akg.TextDocument{
			ID:              req.ID,
			Title:           req.Title,
			DocumentType:    req.DocumentType,
			DocumentContext: req.DocumentContext,
			Text:            req.Text,
		})
		if err != nil {
			h.fail(w, "process text", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	case req.Path != "":
		// Only real files are accepted, to avoid directory probing.
		absPath, err := filepath.Abs(req.Path)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid path")
			return
		}
		info, err := os.Stat(absPath)
		if err != nil || info.IsDir() {
			writeError(w, http.StatusBadRequest, "path must be an existing file")
			return
		}
		res, err := h.engine.Ingest(ctx, absPath, req.options()...)
		if err != nil && !errors.Is(err, akg.ErrDocumentUnchanged) {
			h.fail(w, "ingest", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	default:
		writeError(w, http.StatusBadRequest, "path or text is required")
	}
}

func (h *handler) ingestUpload(ctx context.Context, w http.ResponseWriter, src io.Reader, filename string, req ingestRequest) {
	// Sanitise filename to prevent path traversal.
	safeName := filepath.Base(filename)

	tmpDir, err := os.MkdirTemp("", "akg-upload-")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to process file")
		slog.Error("creating temp dir", "error", err)
		return
	}
	defer os.RemoveAll(tmpDir)

	tmpPath := filepath.Join(tmpDir, safeName)
	dst, err := os.Create(tmpPath)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to process file")
		slog.Error("creating temp file", "error", err)
		return
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		writeError(w, http.StatusInternalServerError, "failed to save file")
		slog.Error("saving uploaded file", "error", err)
		return
	}
	dst.Close()

	res, err := h.engine.Ingest(ctx, tmpPath, req.options()...)
	if err != nil && !errors.Is(err, akg.ErrDocumentUnchanged) {
		h.fail(w, "ingest upload", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"filename": safeName,
		"result":   res,
	})
}

// POST /sweep
func (h *handler) handleSweep(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	var req struct {
		DocumentContext string `json:"document_context"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}

	report, err := h.engine.SweepPronouns(ctx, req.DocumentContext)
	if err != nil {
		h.fail(w, "sweep", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// POST /merge
func (h *handler) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Source string `json:"source"`
		Target string `json:"target"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Source == "" || req.Target == "" {
		writeError(w, http.StatusBadRequest, "source and target are required")
		return
	}

	report, err := h.engine.Merge(r.Context(), req.Source, req.Target)
	if err != nil {
		h.fail(w, "merge", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GET /types?suggest=text&limit=n
func (h *handler) handleTypes(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("suggest")
	if text == "" {
		writeJSON(w, http.StatusOK, h.engine.TypeStats())
		return
	}
	limit := 5
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > 100 {
			writeError(w, http.StatusBadRequest, "limit must be between 0 and 100")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, h.engine.SuggestTypes(text, limit))
}

// GET /stats
func (h *handler) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.Stats(r.Context())
	if err != nil {
		h.fail(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GET /documents
func (h *handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.ListDocuments(r.Context())
	if err != nil {
		h.fail(w, "list documents", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"documents": docs,
	})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// GET /metrics
func (h *handler) metricsHandler() http.Handler {
	return promhttp.HandlerFor(h.engine.Metrics(), promhttp.HandlerOpts{})
}

// fail maps engine errors onto HTTP statuses and logs the cause.
func (h *handler) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error(op+" error", "error", err)
	} else {
		slog.Warn(op+" rejected", "status", status, "error", err)
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, akg.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, akg.ErrParsingFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, resolve.ErrEntityNotFound):
		return http.StatusNotFound
	case errors.Is(err, resolve.ErrSelfMerge):
		return http.StatusBadRequest
	case errors.Is(err, akg.ErrSweepInProgress):
		return http.StatusConflict
	case errors.Is(err, akg.ErrStoreClosed), errors.Is(err, akg.ErrLLMUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
