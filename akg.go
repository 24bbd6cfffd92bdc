// Package akg builds a deduplicated knowledge graph from documents: it
// parses and chunks files, extracts entity and relationship candidates and
// reconciles them against the graph already stored.
package akg

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/brunobiangulo/akg/chunker"
	"github.com/brunobiangulo/akg/graph"
	"github.com/brunobiangulo/akg/llm"
	"github.com/brunobiangulo/akg/parser"
	"github.com/brunobiangulo/akg/resolve"
	"github.com/brunobiangulo/akg/store"
	"github.com/brunobiangulo/akg/store/neostore"
)

// Engine is the main entry point for building the knowledge graph.
type Engine interface {
	// Ingest parses, chunks, extracts and reconciles a document. It
	// returns ErrDocumentUnchanged, with the stored document id, when the
	// content hash matches the last successful run.
	Ingest(ctx context.Context, path string, opts ...IngestOption) (*DocumentResult, error)

	// IngestDir ingests every supported file under dir concurrently.
	IngestDir(ctx context.Context, dir string, opts ...IngestOption) ([]*DocumentResult, error)

	// ProcessText runs raw text through extraction and reconciliation
	// without touching the document registry.
	ProcessText(ctx context.Context, doc TextDocument) (*DocumentResult, error)

	// SweepPronouns merges persisted pronoun nodes into their canonical
	// counterparts.
	SweepPronouns(ctx context.Context, documentContext string) (resolve.SweepReport, error)

	// Merge folds source into target. Both may be an entity id or name.
	Merge(ctx context.Context, source, target string) (resolve.MergeReport, error)

	// TypeStats reports the canonical type labels in the registry.
	TypeStats() resolve.TypeStats

	// SuggestTypes ranks registry labels against free text.
	SuggestTypes(text string, limit int) TypeSuggestions

	// Stats returns graph and document counts.
	Stats(ctx context.Context) (*Stats, error)

	// ListDocuments returns all registered documents.
	ListDocuments(ctx context.Context) ([]Document, error)

	// Metrics exposes the engine's Prometheus collectors.
	Metrics() prometheus.Gatherer

	// Close cleanly shuts down the engine.
	Close() error
}

// Document represents a registered document.
type Document struct {
	ID              int64             `json:"id"`
	Path            string            `json:"path"`
	Filename        string            `json:"filename"`
	Format          string            `json:"format"`
	ContentHash     string            `json:"content_hash"`
	Title           string            `json:"title,omitempty"`
	DocumentType    string            `json:"document_type,omitempty"`
	DocumentContext string            `json:"document_context,omitempty"`
	Status          string            `json:"status"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       string            `json:"created_at"`
	UpdatedAt       string            `json:"updated_at"`
}

// TextDocument is raw text handed to ProcessText.
type TextDocument struct {
	// ID tags the graph nodes created from the text. Empty generates one.
	ID              string `json:"id,omitempty"`
	Title           string `json:"title,omitempty"`
	DocumentType    string `json:"document_type,omitempty"`
	DocumentContext string `json:"document_context,omitempty"`
	Text            string `json:"text"`
}

// DocumentResult summarises one ingested document.
type DocumentResult struct {
	DocumentID int64  `json:"document_id,omitempty"`
	SourceID   string `json:"source_id"`
	Path       string `json:"path,omitempty"`
	Title      string `json:"title,omitempty"`

	DocumentContext string `json:"document_context"`
	Domain          string `json:"domain"`
	Chunks          int    `json:"chunks"`
	Skipped         bool   `json:"skipped,omitempty"`

	EntitiesCreated           int `json:"entities_created"`
	EntitiesReused            int `json:"entities_reused"`
	RelationshipsCreated      int `json:"relationships_created"`
	RelationshipsSkipped      int `json:"relationships_skipped"`
	CooccurrenceRelationships int `json:"cooccurrence_relationships"`
	ExtractionFailures        int `json:"extraction_failures,omitempty"`

	Dropped []string             `json:"dropped,omitempty"`
	Failed  []resolve.FailedItem `json:"failed,omitempty"`
	Elapsed time.Duration        `json:"elapsed"`
}

func (r *DocumentResult) add(b *resolve.BatchResult) {
	r.EntitiesCreated += b.EntitiesCreated
	r.EntitiesReused += b.EntitiesReused
	r.RelationshipsCreated += b.RelationshipsCreated
	r.RelationshipsSkipped += b.RelationshipsSkipped
	r.Dropped = append(r.Dropped, b.Dropped...)
	r.Failed = append(r.Failed, b.Failed...)
}

// TypeSuggestions holds ranked labels per namespace.
type TypeSuggestions struct {
	Entity       []string `json:"entity"`
	Relationship []string `json:"relationship"`
}

// Stats summarises the engine's state.
type Stats struct {
	Graph     resolve.GraphStats `json:"graph"`
	Types     resolve.TypeStats  `json:"types"`
	Documents int                `json:"documents"`
	ByStatus  map[string]int     `json:"by_status"`
	Backend   string             `json:"backend"`
}

// IngestOption configures ingestion behavior.
type IngestOption func(*ingestOptions)

type ingestOptions struct {
	forceReparse    bool
	documentContext string
	documentType    string
	metadata        map[string]string
}

// WithForceReparse forces re-parsing even if the hash hasn't changed.
func WithForceReparse() IngestOption {
	return func(o *ingestOptions) { o.forceReparse = true }
}

// WithDocumentContext overrides the coreference context detected from
// the title and document type.
func WithDocumentContext(documentContext string) IngestOption {
	return func(o *ingestOptions) { o.documentContext = documentContext }
}

// WithDocumentType declares the document type, e.g. "contract".
func WithDocumentType(docType string) IngestOption {
	return func(o *ingestOptions) { o.documentType = docType }
}

// WithMetadata attaches custom metadata to the ingested document.
func WithMetadata(metadata map[string]string) IngestOption {
	return func(o *ingestOptions) { o.metadata = metadata }
}

// Option customises New.
type Option func(*engineOptions)

type engineOptions struct {
	log        *slog.Logger
	registerer *prometheus.Registry
	chat       llm.Provider
	embedder   llm.Provider
}

// WithLogger sets the logger used by the engine and its components.
func WithLogger(l *slog.Logger) Option {
	return func(o *engineOptions) { o.log = l }
}

// WithRegistry registers the engine's collectors on reg instead of a
// private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *engineOptions) { o.registerer = reg }
}

// WithChatProvider replaces the provider built from Config.Chat.
func WithChatProvider(p llm.Provider) Option {
	return func(o *engineOptions) { o.chat = p }
}

// WithEmbedder replaces the provider built from Config.Embedding.
func WithEmbedder(p llm.Provider) Option {
	return func(o *engineOptions) { o.embedder = p }
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg     Config
	log     *slog.Logger
	docs    *store.Store
	graph   resolve.GraphStore
	neo     *neostore.Store
	parsers *parser.Registry
	chunkr  *chunker.Chunker

	types      *resolve.TypeRegistry
	normalizer *resolve.CoreferenceNormalizer
	reconciler *resolve.Reconciler
	merger     *resolve.MergeExecutor
	extractor  graph.Extractor
	rules      *graph.RuleSet

	registry  *prometheus.Registry
	metrics   *resolve.Metrics
	processed *prometheus.CounterVec

	sweepMu sync.Mutex
	mu      sync.RWMutex
	closed  bool
}

// New creates an engine with the given configuration.
func New(cfg Config, opts ...Option) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := engineOptions{log: slog.Default()}
	for _, fn := range opts {
		fn(&o)
	}
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = 768
	}
	if cfg.Extraction.Mode == "" {
		cfg.Extraction.Mode = ModeAuto
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendSQLite
	}

	sim, err := resolve.SimilarityByName(cfg.Resolution.Similarity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	embedder := o.embedder
	if embedder == nil && cfg.Embedding.Provider != "" {
		embedder, err = llm.NewProvider(llm.Config(cfg.Embedding))
		if err != nil {
			return nil, fmt.Errorf("creating embedding provider: %w", err)
		}
	}

	storeOpts := []store.Option{store.WithSimilarity(sim), store.WithLogger(o.log)}
	if embedder != nil {
		storeOpts = append(storeOpts, store.WithEmbedder(embedder))
	}
	dbPath := cfg.resolveDBPath()
	docs, err := store.New(dbPath, cfg.EmbeddingDim, storeOpts...)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	e := &engine{
		cfg:     cfg,
		log:     o.log,
		docs:    docs,
		graph:   docs,
		parsers: parser.NewRegistry(),
		chunkr: chunker.New(chunker.Config{
			MaxTokens: cfg.MaxChunkTokens,
			Overlap:   cfg.ChunkOverlap,
		}),
		rules:    graph.DefaultRuleSet(),
		registry: o.registerer,
	}

	if cfg.Backend == BackendNeo4j {
		neo, err := neostore.New(cfg.Neo4j,
			neostore.WithSimilarity(sim),
			neostore.WithTimeout(cfg.Resolution.lookupTimeout()),
			neostore.WithLogger(o.log))
		if err != nil {
			docs.Close()
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = neo.EnsureSchema(ctx)
		cancel()
		if err != nil {
			neo.Close()
			docs.Close()
			return nil, fmt.Errorf("preparing neo4j schema: %w", err)
		}
		e.neo = neo
		e.graph = neo
	}

	if e.registry == nil {
		e.registry = prometheus.NewRegistry()
		e.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	e.metrics = resolve.NewMetrics(e.registry)
	e.processed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "akg_documents_processed_total",
		Help: "Documents handled by Ingest, by final status.",
	}, []string{"status"})
	e.registry.MustRegister(e.processed)

	e.types = resolve.NewTypeRegistry(sim, cfg.Resolution.TypeSimilarityThreshold, e.graph)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := e.types.Refresh(ctx); err != nil {
		o.log.Warn("akg: type registry refresh failed", "error", err)
	}
	cancel()

	e.normalizer = resolve.NewCoreferenceNormalizer()
	resolver := resolve.NewEntityResolver(e.graph, e.types, cfg.Resolution.resolverConfig(),
		resolve.WithResolverLogger(o.log), resolve.WithResolverMetrics(e.metrics))
	dedup := resolve.NewRelationshipDeduplicator(e.graph, e.types, cfg.Resolution.dedupConfig(),
		resolve.WithDedupLogger(o.log), resolve.WithDedupMetrics(e.metrics))
	e.reconciler = resolve.NewReconciler(e.normalizer, resolver, dedup,
		resolve.WithRetry(cfg.Resolution.retryConfig()),
		resolve.WithReconcilerLogger(o.log),
		resolve.WithReconcilerMetrics(e.metrics))
	e.merger = resolve.NewMergeExecutor(e.graph, cfg.Resolution.lookupTimeout(),
		resolve.WithMergeLogger(o.log), resolve.WithMergeMetrics(e.metrics))

	if err := e.buildExtractor(cfg, o.chat); err != nil {
		e.Close()
		return nil, err
	}

	o.log.Info("akg: engine ready", "db", dbPath, "backend", cfg.Backend,
		"extraction", cfg.Extraction.Mode, "similarity", cfg.Resolution.Similarity)
	return e, nil
}

func (e *engine) buildExtractor(cfg Config, chat llm.Provider) error {
	rules := graph.NewRuleExtractor(e.rules,
		graph.WithNER(cfg.Extraction.UseNER),
		graph.WithProximityWindow(cfg.Extraction.ProximityWindow),
		graph.WithRuleLogger(e.log))
	if cfg.Extraction.Mode == ModeRules {
		e.extractor = rules
		return nil
	}

	if chat == nil && cfg.Chat.Provider != "" {
		var err error
		chat, err = llm.NewProvider(llm.Config(cfg.Chat))
		if err != nil {
			if cfg.Extraction.Mode == ModeLLM {
				return fmt.Errorf("%w: %v", ErrLLMUnavailable, err)
			}
			e.log.Warn("akg: chat provider unavailable, using rule extraction", "error", err)
		}
	}
	if chat == nil {
		if cfg.Extraction.Mode == ModeLLM {
			return fmt.Errorf("%w: no chat provider configured", ErrLLMUnavailable)
		}
		e.extractor = rules
		return nil
	}

	x := graph.NewLLMExtractor(chat, e.types, cfg.Extraction.RequestsPerMinute, graph.WithLLMLogger(e.log))
	if cfg.Extraction.Mode == ModeLLM {
		e.extractor = x
		return nil
	}
	e.extractor = &graph.Chain{Primary: x, Fallback: rules, Log: e.log}
	return nil
}

// Ingest processes a document through the full pipeline.
func (e *engine) Ingest(ctx context.Context, path string, opts ...IngestOption) (*DocumentResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrStoreClosed
	}
	options := &ingestOptions{}
	for _, o := range opts {
		o(options)
	}
	return e.ingest(ctx, path, options)
}

func (e *engine) ingest(ctx context.Context, path string, options *ingestOptions) (*DocumentResult, error) {
	start := time.Now()
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	hash, err := fileHash(absPath)
	if err != nil {
		return nil, fmt.Errorf("hashing file: %w", err)
	}

	existing, err := e.docs.GetDocumentByPath(ctx, absPath)
	switch {
	case err == nil:
		if !options.forceReparse && existing.ContentHash == hash && existing.Status == store.StatusReady {
			e.processed.WithLabelValues("unchanged").Inc()
			return &DocumentResult{
				DocumentID:      existing.ID,
				SourceID:        strconv.FormatInt(existing.ID, 10),
				Path:            absPath,
				Title:           existing.Title,
				DocumentContext: existing.DocumentContext,
				Skipped:         true,
			}, ErrDocumentUnchanged
		}
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("looking up document: %w", err)
	}

	format := strings.ToLower(strings.TrimPrefix(filepath.Ext(absPath), "."))
	filename := filepath.Base(absPath)

	var metadataJSON string
	if options.metadata != nil {
		data, _ := json.Marshal(options.metadata)
		metadataJSON = string(data)
	}

	doc := store.Document{
		Path:         absPath,
		Filename:     filename,
		Format:       format,
		ContentHash:  hash,
		DocumentType: options.documentType,
		Status:       store.StatusProcessing,
		Metadata:     metadataJSON,
	}
	docID, err := e.docs.UpsertDocument(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("upserting document: %w", err)
	}
	fail := func(err error) (*DocumentResult, error) {
		// A cancelled ingest still gets its status recorded.
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if serr := e.docs.UpdateDocumentStatus(sctx, docID, store.StatusError); serr != nil {
			e.log.Warn("ingest: recording error status failed", "doc_id", docID, "error", serr)
		}
		e.processed.WithLabelValues(store.StatusError).Inc()
		return nil, err
	}

	e.log.Info("ingest: parsing document", "file", filename, "format", format, "doc_id", docID)
	p, err := e.parsers.Get(format)
	if err != nil {
		return fail(fmt.Errorf("%w: %s", ErrUnsupportedFormat, format))
	}
	parsed, err := p.Parse(ctx, absPath)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrParsingFailed, err))
	}
	e.log.Info("ingest: parsing complete",
		"file", filename, "method", parsed.Method,
		"sections", len(parsed.Sections), "elapsed", time.Since(start).Round(time.Millisecond))

	title := parsed.Title
	if title == "" {
		title = strings.TrimSuffix(filename, filepath.Ext(filename))
	}
	docCtx := options.documentContext
	if docCtx == "" {
		docCtx = resolve.DetectDocumentContext(title, options.documentType)
	}
	doc.Title, doc.DocumentContext = title, docCtx
	if _, err := e.docs.UpsertDocument(ctx, doc); err != nil {
		return fail(fmt.Errorf("upserting document: %w", err))
	}

	chunks := e.chunkr.Chunk(parsed.Sections)
	e.log.Info("ingest: chunking complete",
		"file", filename, "chunks", len(chunks),
		"max_tokens", e.cfg.MaxChunkTokens, "overlap", e.cfg.ChunkOverlap)

	res := &DocumentResult{
		DocumentID:      docID,
		SourceID:        strconv.FormatInt(docID, 10),
		Path:            absPath,
		Title:           title,
		DocumentContext: docCtx,
	}
	err = e.run(ctx, source{
		id:      res.SourceID,
		title:   title,
		docType: options.documentType,
		docCtx:  docCtx,
		text:    parsed.Text(),
		chunks:  chunks,
	}, res)
	res.Elapsed = time.Since(start)
	if err != nil {
		return fail(err)
	}

	if err := e.docs.UpdateDocumentStatus(ctx, docID, store.StatusReady); err != nil {
		return nil, fmt.Errorf("updating status: %w", err)
	}
	e.processed.WithLabelValues(store.StatusReady).Inc()
	e.log.Info("ingest: document ready",
		"file", filename, "doc_id", docID, "context", docCtx, "domain", res.Domain,
		"entities_created", res.EntitiesCreated, "entities_reused", res.EntitiesReused,
		"relationships_created", res.RelationshipsCreated, "failed", len(res.Failed),
		"total_elapsed", res.Elapsed.Round(time.Millisecond))
	return res, nil
}

// source is a parsed document ready for extraction.
type source struct {
	id, title, docType, docCtx string
	text                       string
	chunks                     []string
}

// run extracts and reconciles chunks in order, then links entities that
// co-occur across chunk boundaries. Chunks reconciled before a failure
// stay persisted.
func (e *engine) run(ctx context.Context, src source, res *DocumentResult) error {
	domain := e.cfg.Extraction.Domain
	if domain == "" {
		domain = graph.DetectDomain(src.text)
	}
	res.Domain = domain
	res.Chunks = len(src.chunks)

	known := make(map[string]string)
	seen := mapset.NewThreadUnsafeSet[string]()
	linked := make(map[string]bool)
	var mentioned []resolve.EntityCandidate
	var errs []error

	for i, text := range src.chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		ext, err := e.extractor.Extract(ctx, graph.Chunk{
			DocumentID:   src.id,
			Index:        i,
			Title:        src.title,
			DocumentType: src.docType,
			Domain:       domain,
			Text:         text,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if e.cfg.Extraction.Mode == ModeLLM && !errors.Is(err, graph.ErrMalformedResponse) {
				err = fmt.Errorf("%w: %v", ErrLLMUnavailable, err)
			}
			e.log.Warn("ingest: chunk extraction failed", "source", src.id, "chunk", i, "error", err)
			res.ExtractionFailures++
			errs = append(errs, fmt.Errorf("chunk %d: %w", i, err))
			continue
		}

		br := e.reconciler.Reconcile(ctx, resolve.Batch{
			DocumentID:      src.id,
			DocumentContext: src.docCtx,
			Entities:        ext.Entities,
			Relationships:   ext.Relationships,
			KnownEntities:   known,
		})
		res.add(br)
		if err := br.Err(); err != nil {
			e.log.Warn("ingest: chunk items failed to persist", "source", src.id, "chunk", i, "error", err)
		}
		for k, id := range br.EntityIDs {
			known[k] = id
		}
		for _, c := range ext.Entities {
			key := strings.ToLower(strings.TrimSpace(c.Name))
			if _, ok := br.EntityIDs[key]; ok && seen.Add(key) {
				mentioned = append(mentioned, c)
			}
		}
		for _, r := range ext.Relationships {
			linked[graph.PairKey(r.Source, r.Target)] = true
		}
	}

	if len(src.chunks) > 0 && res.ExtractionFailures == len(src.chunks) {
		return errors.Join(errs...)
	}

	if len(mentioned) > 1 {
		rels := graph.Cooccurrences(src.text, mentioned, domain, e.rules, e.cfg.Extraction.CooccurrenceGap, linked)
		if len(rels) > 0 {
			br := e.reconciler.Reconcile(ctx, resolve.Batch{
				DocumentID:      src.id,
				DocumentContext: src.docCtx,
				Relationships:   rels,
				KnownEntities:   known,
			})
			res.add(br)
			res.CooccurrenceRelationships = br.RelationshipsCreated
			e.log.Debug("ingest: cross-chunk co-occurrence", "source", src.id,
				"candidates", len(rels), "created", br.RelationshipsCreated)
		}
	}
	return ctx.Err()
}

// IngestDir walks dir and ingests every supported file, at most
// MaxConcurrentDocuments at a time. Unchanged files are reported as
// skipped results, not errors.
func (e *engine) IngestDir(ctx context.Context, dir string, opts ...IngestOption) ([]*DocumentResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrStoreClosed
	}
	options := &ingestOptions{}
	for _, o := range opts {
		o(options)
	}

	paths, err := e.collect(dir)
	if err != nil {
		return nil, err
	}
	e.log.Info("ingest: directory scan complete", "dir", dir, "files", len(paths))

	var (
		mu      sync.Mutex
		results = make([]*DocumentResult, len(paths))
		errs    []error
	)
	g, gctx := errgroup.WithContext(ctx)
	limit := e.cfg.MaxConcurrentDocuments
	if limit <= 0 {
		limit = 5
	}
	g.SetLimit(limit)
	for i, p := range paths {
		g.Go(func() error {
			res, err := e.ingest(gctx, p, options)
			results[i] = res
			if err != nil && !errors.Is(err, ErrDocumentUnchanged) {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				e.log.Warn("ingest: document failed", "path", p, "error", err)
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", p, err))
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}

	out := results[:0]
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out, errors.Join(errs...)
}

// collect lists the files under dir that pass the input filters.
func (e *engine) collect(dir string) ([]string, error) {
	allowed := mapset.NewThreadUnsafeSet[string]()
	for _, f := range e.cfg.Input.SupportedFileTypes {
		allowed.Add(strings.ToLower(strings.TrimPrefix(f, ".")))
	}
	known := mapset.NewThreadUnsafeSet(e.parsers.Formats()...)
	if allowed.Cardinality() == 0 {
		allowed = known
	} else {
		allowed = allowed.Intersect(known)
	}

	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, path)
		if d.IsDir() {
			if path == dir {
				return nil
			}
			if !e.cfg.Input.Recursive || e.excluded(d.Name(), rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if e.excluded(d.Name(), rel) {
			return nil
		}
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
		if allowed.Contains(ext) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", dir, err)
	}
	return paths, nil
}

func (e *engine) excluded(name, rel string) bool {
	return Excluded(e.cfg.Input.ExcludePatterns, name, rel)
}

// Excluded reports whether a file matches any exclude pattern, by base
// name or by slash-separated relative path.
func Excluded(patterns []string, name, rel string) bool {
	rel = filepath.ToSlash(rel)
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
		if ok, _ := filepath.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// ProcessText reconciles candidates extracted from raw text.
func (e *engine) ProcessText(ctx context.Context, doc TextDocument) (*DocumentResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrStoreClosed
	}
	start := time.Now()
	id := doc.ID
	if id == "" {
		id = uuid.NewString()
	}
	docCtx := doc.DocumentContext
	if docCtx == "" {
		docCtx = resolve.DetectDocumentContext(doc.Title, doc.DocumentType)
	}
	res := &DocumentResult{SourceID: id, Title: doc.Title, DocumentContext: docCtx}
	err := e.run(ctx, source{
		id:      id,
		title:   doc.Title,
		docType: doc.DocumentType,
		docCtx:  docCtx,
		text:    doc.Text,
		chunks:  e.chunkr.ChunkText(doc.Text),
	}, res)
	res.Elapsed = time.Since(start)
	return res, err
}

// SweepPronouns merges persisted pronoun nodes. Only one sweep runs at a
// time per engine.
func (e *engine) SweepPronouns(ctx context.Context, documentContext string) (resolve.SweepReport, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return resolve.SweepReport{}, ErrStoreClosed
	}
	if !e.sweepMu.TryLock() {
		return resolve.SweepReport{}, ErrSweepInProgress
	}
	defer e.sweepMu.Unlock()

	if documentContext == "" {
		documentContext = resolve.ContextGeneral
	}
	report, err := e.normalizer.SweepPersistedPronouns(ctx, e.graph, e.merger, documentContext, e.log)
	e.log.Info("sweep: pronoun sweep complete", "context", documentContext,
		"found", report.Found, "merged", report.Merged,
		"unresolved", report.Unresolved, "failed", report.Failed)
	return report, err
}

// Merge folds source into target.
func (e *engine) Merge(ctx context.Context, source, target string) (resolve.MergeReport, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return resolve.MergeReport{}, ErrStoreClosed
	}
	src, err := e.lookupEntity(ctx, source)
	if err != nil {
		return resolve.MergeReport{}, err
	}
	tgt, err := e.lookupEntity(ctx, target)
	if err != nil {
		return resolve.MergeReport{}, err
	}
	return e.merger.Merge(ctx, src.ID, tgt.ID)
}

// lookupEntity accepts an id or, failing that, a name of any type.
func (e *engine) lookupEntity(ctx context.Context, ref string) (*resolve.Entity, error) {
	ctx, cancel := e.lookupCtx(ctx)
	defer cancel()
	ent, err := e.graph.GetEntity(ctx, ref)
	if err != nil {
		return nil, err
	}
	if ent == nil {
		if ent, err = e.graph.FindEntityByName(ctx, ref, ""); err != nil {
			return nil, err
		}
	}
	if ent == nil {
		return nil, fmt.Errorf("%w: %s", resolve.ErrEntityNotFound, ref)
	}
	return ent, nil
}

// lookupCtx bounds a single graph read by the configured lookup timeout.
func (e *engine) lookupCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	d := e.cfg.Resolution.lookupTimeout()
	if d <= 0 {
		d = 5 * time.Second
	}
	return context.WithTimeout(ctx, d)
}

// TypeStats reports the registry contents.
func (e *engine) TypeStats() resolve.TypeStats {
	return e.types.Stats()
}

// SuggestTypes ranks known labels against text.
func (e *engine) SuggestTypes(text string, limit int) TypeSuggestions {
	return TypeSuggestions{
		Entity:       e.types.SuggestEntityTypes(text, limit),
		Relationship: e.types.SuggestRelationshipTypes(text, limit),
	}
}

// Stats returns graph and document counts.
func (e *engine) Stats(ctx context.Context) (*Stats, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrStoreClosed
	}
	gs, err := e.graph.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("graph stats: %w", err)
	}
	docs, err := e.docs.ListDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	st := &Stats{
		Graph:     gs,
		Types:     e.types.Stats(),
		Documents: len(docs),
		ByStatus:  make(map[string]int),
		Backend:   e.cfg.Backend,
	}
	for _, d := range docs {
		st.ByStatus[d.Status]++
	}
	return st, nil
}

// ListDocuments returns all registered documents.
func (e *engine) ListDocuments(ctx context.Context) ([]Document, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrStoreClosed
	}
	docs, err := e.docs.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]Document, len(docs))
	for i, d := range docs {
		result[i] = Document{
			ID:              d.ID,
			Path:            d.Path,
			Filename:        d.Filename,
			Format:          d.Format,
			ContentHash:     d.ContentHash,
			Title:           d.Title,
			DocumentType:    d.DocumentType,
			DocumentContext: d.DocumentContext,
			Status:          d.Status,
			CreatedAt:       d.CreatedAt,
			UpdatedAt:       d.UpdatedAt,
		}
		if d.Metadata != "" {
			_ = json.Unmarshal([]byte(d.Metadata), &result[i].Metadata)
		}
	}
	return result, nil
}

// Metrics exposes the engine's collectors.
func (e *engine) Metrics() prometheus.Gatherer {
	return e.registry
}

// Close shuts down the engine. Later calls return ErrStoreClosed.
func (e *engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrStoreClosed
	}
	e.closed = true
	var errs []error
	if e.neo != nil {
		errs = append(errs, e.neo.Close())
	}
	errs = append(errs, e.docs.Close())
	return errors.Join(errs...)
}

// fileHash computes the SHA-256 hash of a file's content.
func fileHash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
