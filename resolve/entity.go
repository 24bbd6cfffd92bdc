package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
)

// MatchStep names the cascade step that produced a resolution.
type MatchStep string

const (
	StepDisabled  MatchStep = "disabled"
	StepExact     MatchStep = "exact"
	StepFuzzy     MatchStep = "fuzzy"
	StepCrossType MatchStep = "cross_type"
	StepCreated   MatchStep = "created"
)

// CrossTypePolicy decides what happens to a stored entity's type when it
// is reused through a cross-type match.
type CrossTypePolicy string

const (
	// KeepStoredType leaves the stored type untouched.
	KeepStoredType CrossTypePolicy = "keep_stored_type"
	// AdoptCandidateType rewrites the stored type to the candidate's,
	// unless an entity with that name and type already exists.
	AdoptCandidateType CrossTypePolicy = "adopt_candidate_type"
)

// ResolverConfig tunes the find-or-create cascade.
type ResolverConfig struct {
	EnableDeduplication bool
	SimilarityThreshold float64
	// AutoReuseThreshold reuses a same-type match regardless of
	// SimilarityThreshold.
	AutoReuseThreshold float64
	CrossTypeThreshold float64
	CrossTypePolicy    CrossTypePolicy
	LookupTimeout      time.Duration
	SearchLimit        int
}

// DefaultResolverConfig returns the stock thresholds.
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		EnableDeduplication: true,
		SimilarityThreshold: 0.8,
		AutoReuseThreshold:  0.9,
		CrossTypeThreshold:  0.95,
		CrossTypePolicy:     KeepStoredType,
		LookupTimeout:       5 * time.Second,
		SearchLimit:         10,
	}
}

// Resolution is the outcome of FindOrCreate.
type Resolution struct {
	ID    string
	IsNew bool
	Step  MatchStep
	Score float64
}

// EntityResolver decides, per candidate, whether to reuse an existing
// node or create a new one. The whole cascade is serialised so that two
// concurrent callers cannot both miss and create duplicates.
type EntityResolver struct {
	store   GraphStore
	types   *TypeRegistry
	cfg     ResolverConfig
	log     *slog.Logger
	metrics *Metrics
	newID   func() string
	now     func() time.Time

	mu sync.Mutex
}

// ResolverOption customises an EntityResolver.
type ResolverOption func(*EntityResolver)

// WithResolverLogger sets the logger.
func WithResolverLogger(l *slog.Logger) ResolverOption {
	return func(r *EntityResolver) { r.log = l }
}

// WithResolverMetrics records cascade outcomes on m.
func WithResolverMetrics(m *Metrics) ResolverOption {
	return func(r *EntityResolver) { r.metrics = m }
}

// WithIDGenerator replaces the UUID generator.
func WithIDGenerator(fn func() string) ResolverOption {
	return func(r *EntityResolver) { r.newID = fn }
}

// NewEntityResolver creates a resolver over g. types may be nil.
func NewEntityResolver(g GraphStore, types *TypeRegistry, cfg ResolverConfig, opts ...ResolverOption) *EntityResolver {
	def := DefaultResolverConfig()
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = def.SimilarityThreshold
	}
	if cfg.AutoReuseThreshold <= 0 {
		cfg.AutoReuseThreshold = def.AutoReuseThreshold
	}
	if cfg.CrossTypeThreshold <= 0 {
		cfg.CrossTypeThreshold = def.CrossTypeThreshold
	}
	if cfg.CrossTypePolicy == "" {
		cfg.CrossTypePolicy = def.CrossTypePolicy
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = def.LookupTimeout
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = def.SearchLimit
	}
	r := &EntityResolver{
		store: g,
		types: types,
		cfg:   cfg,
		log:   slog.Default(),
		newID: uuid.NewString,
		now:   time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// FindOrCreate resolves c to a canonical entity id. Lookup failures are
// treated as misses; only a failed write is returned as an error.
func (r *EntityResolver) FindOrCreate(ctx context.Context, c EntityCandidate) (Resolution, error) {
	start := time.Now()
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return Resolution{}, errors.New("resolve.FindOrCreate: candidate has no name")
	}
	c.Name = name
	c.Type = r.canonicalType(c.Type)

	if !r.cfg.EnableDeduplication {
		res, err := r.create(ctx, c, StepDisabled)
		if err == nil {
			r.metrics.entityResolved(res.Step, start)
		}
		return res, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	res, err := r.cascade(ctx, c)
	if err == nil {
		r.metrics.entityResolved(res.Step, start)
	}
	return res, err
}

func (r *EntityResolver) cascade(ctx context.Context, c EntityCandidate) (Resolution, error) {
	if e := r.exact(ctx, c.Name, c.Type); e != nil {
		return r.reuse(ctx, e, c, StepExact, 1, false)
	}

	if hit, ok := r.sameType(ctx, c.Name, c.Type); ok {
		return r.reuse(ctx, &hit.Entity, c, StepFuzzy, hit.Score, false)
	}

	if hit, ok := r.crossType(ctx, c.Name, c.Type); ok {
		e := &hit.Entity
		retyped := false
		if r.cfg.CrossTypePolicy == AdoptCandidateType {
			retyped = r.adoptType(ctx, e, c.Type)
		}
		return r.reuse(ctx, e, c, StepCrossType, hit.Score, retyped)
	}

	return r.create(ctx, c, StepCreated)
}

func (r *EntityResolver) canonicalType(t string) string {
	t = strings.TrimSpace(t)
	if t == "" {
		t = DefaultEntityType
	}
	if r.types == nil {
		return t
	}
	if canon, _ := r.types.ResolveEntityType(t); canon != "" {
		return canon
	}
	return t
}

func (r *EntityResolver) lookupCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.cfg.LookupTimeout)
}

func (r *EntityResolver) exact(ctx context.Context, name, typ string) *Entity {
	lctx, cancel := r.lookupCtx(ctx)
	defer cancel()
	e, err := r.store.FindEntityByName(lctx, name, typ)
	if err != nil {
		r.log.Warn("resolve: exact lookup failed, treating as no match",
			"name", name, "type", typ, "error", err)
		return nil
	}
	return e
}

func (r *EntityResolver) search(ctx context.Context, name, typ string) []ScoredEntity {
	lctx, cancel := r.lookupCtx(ctx)
	defer cancel()
	hits, err := r.store.SearchSimilarEntities(lctx, name, typ, r.cfg.SearchLimit)
	if err != nil {
		r.log.Warn("resolve: similarity search failed, treating as no match",
			"name", name, "type", typ, "error", err)
		return nil
	}
	return hits
}

// rank orders hits by score, then by stored confidence.
func rank(hits []ScoredEntity) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Confidence > hits[j].Confidence
	})
}

func (r *EntityResolver) sameType(ctx context.Context, name, typ string) (ScoredEntity, bool) {
	var hits []ScoredEntity
	for _, h := range r.search(ctx, name, typ) {
		if strings.EqualFold(h.Type, typ) {
			hits = append(hits, h)
		}
	}
	if len(hits) == 0 {
		return ScoredEntity{}, false
	}
	rank(hits)
	best := hits[0]
	if best.Score >= r.cfg.AutoReuseThreshold || best.Score >= r.cfg.SimilarityThreshold {
		return best, true
	}
	return ScoredEntity{}, false
}

func (r *EntityResolver) crossType(ctx context.Context, name, typ string) (ScoredEntity, bool) {
	var hits []ScoredEntity
	for _, h := range r.search(ctx, name, "") {
		if !strings.EqualFold(h.Type, typ) {
			hits = append(hits, h)
		}
	}
	if len(hits) == 0 {
		return ScoredEntity{}, false
	}
	rank(hits)
	if hits[0].Score >= r.cfg.CrossTypeThreshold {
		return hits[0], true
	}
	return ScoredEntity{}, false
}

func (r *EntityResolver) adoptType(ctx context.Context, e *Entity, typ string) bool {
	if clash := r.exact(ctx, e.Name, typ); clash != nil {
		r.log.Debug("resolve: keeping stored type, candidate type already taken",
			"id", e.ID, "name", e.Name, "stored_type", e.Type, "candidate_type", typ)
		return false
	}
	e.Type = typ
	return true
}

// reuse folds the candidate into e: confidence is raised to the max,
// absent properties are filled, aliases are unioned. e is written back
// only when something changed.
func (r *EntityResolver) reuse(ctx context.Context, e *Entity, c EntityCandidate, step MatchStep, score float64, changed bool) (Resolution, error) {
	if conf := clamp01(maxFloat(e.Confidence, c.Confidence)); conf != e.Confidence {
		e.Confidence = conf
		changed = true
	}

	var propsChanged bool
	e.Properties, propsChanged = backfillProperties(e.Properties, c.Properties)
	changed = changed || propsChanged

	extra := append([]string(nil), c.Aliases...)
	if !strings.EqualFold(c.Name, e.Name) {
		extra = append(extra, c.Name)
	}
	var aliasesChanged bool
	e.Aliases, aliasesChanged = unionAliases(e.Name, e.Aliases, extra)
	changed = changed || aliasesChanged

	res := Resolution{ID: e.ID, IsNew: false, Step: step, Score: score}
	if !changed {
		return res, nil
	}

	e.UpdatedAt = r.now()
	wctx, cancel := r.lookupCtx(ctx)
	defer cancel()
	if err := r.store.UpsertEntity(wctx, e); err != nil {
		return res, fmt.Errorf("resolve.FindOrCreate: updating %s: %w", e.ID, err)
	}
	r.log.Debug("resolve: entity reused", "id", e.ID, "name", e.Name, "candidate", c.Name,
		"step", step, "score", score, "confidence", e.Confidence)
	return res, nil
}

func (r *EntityResolver) create(ctx context.Context, c EntityCandidate, step MatchStep) (Resolution, error) {
	now := r.now()
	aliases, _ := unionAliases(c.Name, nil, c.Aliases)
	e := &Entity{
		ID:         r.newID(),
		Name:       c.Name,
		Type:       c.Type,
		DocumentID: c.DocumentID,
		Confidence: clamp01(c.Confidence),
		Properties: copyProperties(c.Properties),
		Aliases:    aliases,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	wctx, cancel := r.lookupCtx(ctx)
	defer cancel()
	if err := r.store.UpsertEntity(wctx, e); err != nil {
		return Resolution{}, fmt.Errorf("resolve.FindOrCreate: creating %q: %w", c.Name, err)
	}
	if r.types != nil {
		r.types.RegisterEntityType(c.Type)
	}
	r.log.Debug("resolve: entity created", "id", e.ID, "name", e.Name, "type", e.Type, "step", step)
	return Resolution{ID: e.ID, IsNew: true, Step: step}, nil
}

// unionAliases appends extra to existing, skipping blanks, the entity's
// own name and case-insensitive repeats. Order is preserved.
func unionAliases(name string, existing, extra []string) ([]string, bool) {
	seen := mapset.NewThreadUnsafeSet[string](normalizeKey(name))
	out := make([]string, 0, len(existing)+len(extra))
	for _, a := range existing {
		if seen.Add(normalizeKey(a)) {
			out = append(out, a)
		}
	}
	kept := len(out)
	for _, a := range extra {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if seen.Add(normalizeKey(a)) {
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		return nil, len(existing) > 0
	}
	return out, len(out) > kept || kept != len(existing)
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
