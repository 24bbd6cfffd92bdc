package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RelationshipPolicy decides what happens when an identical edge exists.
type RelationshipPolicy string

const (
	// FirstWriterWins leaves the existing edge untouched.
	FirstWriterWins RelationshipPolicy = "first_writer_wins"
	// UpgradeConfidence raises the existing edge's confidence and fills
	// its missing properties.
	UpgradeConfidence RelationshipPolicy = "upgrade_confidence"
)

// Relationship outcomes, also used as metric labels.
const (
	OutcomeCreated  = "created"
	OutcomeSkipped  = "skipped"
	OutcomeUpgraded = "upgraded"
)

// ResolvedRelationship is a relationship candidate whose endpoints are
// canonical entity ids.
type ResolvedRelationship struct {
	SourceID   string
	TargetID   string
	Type       string
	DocumentID string
	Properties map[string]any
	Confidence float64
}

// DedupConfig tunes a RelationshipDeduplicator.
type DedupConfig struct {
	Enabled       bool
	Policy        RelationshipPolicy
	LookupTimeout time.Duration
}

// RelationshipDeduplicator creates an edge only when no edge with the same
// source, target and type exists.
type RelationshipDeduplicator struct {
	store   GraphStore
	types   *TypeRegistry
	cfg     DedupConfig
	log     *slog.Logger
	metrics *Metrics
	newID   func() string

	mu sync.Mutex
}

// DedupOption customises a RelationshipDeduplicator.
type DedupOption func(*RelationshipDeduplicator)

func WithDedupLogger(l *slog.Logger) DedupOption {
	return func(d *RelationshipDeduplicator) { d.log = l }
}

func WithDedupMetrics(m *Metrics) DedupOption {
	return func(d *RelationshipDeduplicator) { d.metrics = m }
}

// NewRelationshipDeduplicator creates a deduplicator over g. types may be nil.
func NewRelationshipDeduplicator(g GraphStore, types *TypeRegistry, cfg DedupConfig, opts ...DedupOption) *RelationshipDeduplicator {
	if cfg.Policy == "" {
		cfg.Policy = FirstWriterWins
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 5 * time.Second
	}
	d := &RelationshipDeduplicator{
		store: g,
		types: types,
		cfg:   cfg,
		log:   slog.Default(),
		newID: uuid.NewString,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// FindOrSkip persists rel unless an equal edge already exists. It reports
// whether a new edge was created.
func (d *RelationshipDeduplicator) FindOrSkip(ctx context.Context, rel ResolvedRelationship) (bool, error) {
	if rel.SourceID == "" || rel.TargetID == "" {
		return false, errors.New("resolve.FindOrSkip: relationship endpoint missing")
	}
	rel.Type = d.canonicalType(rel.Type)

	if !d.cfg.Enabled {
		if err := d.create(ctx, rel); err != nil {
			return false, err
		}
		d.metrics.relationship(OutcomeCreated)
		return true, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	existing := d.find(ctx, rel)
	if existing == nil {
		if err := d.create(ctx, rel); err != nil {
			return false, err
		}
		d.metrics.relationship(OutcomeCreated)
		return true, nil
	}

	if d.cfg.Policy != UpgradeConfidence {
		d.metrics.relationship(OutcomeSkipped)
		return false, nil
	}

	changed := false
	if conf := clamp01(maxFloat(existing.Confidence, rel.Confidence)); conf != existing.Confidence {
		existing.Confidence = conf
		changed = true
	}
	var propsChanged bool
	existing.Properties, propsChanged = backfillProperties(existing.Properties, rel.Properties)
	if !changed && !propsChanged {
		d.metrics.relationship(OutcomeSkipped)
		return false, nil
	}

	wctx, cancel := context.WithTimeout(ctx, d.cfg.LookupTimeout)
	defer cancel()
	if err := d.store.UpsertRelationship(wctx, existing); err != nil {
		return false, fmt.Errorf("resolve.FindOrSkip: upgrading %s: %w", existing.ID, err)
	}
	d.metrics.relationship(OutcomeUpgraded)
	return false, nil
}

func (d *RelationshipDeduplicator) canonicalType(t string) string {
	t = strings.TrimSpace(t)
	if t == "" {
		t = DefaultRelationshipType
	}
	if d.types == nil {
		return t
	}
	if canon, _ := d.types.ResolveRelationshipType(t); canon != "" {
		return canon
	}
	return t
}

func (d *RelationshipDeduplicator) find(ctx context.Context, rel ResolvedRelationship) *Relationship {
	lctx, cancel := context.WithTimeout(ctx, d.cfg.LookupTimeout)
	defer cancel()
	existing, err := d.store.FindRelationship(lctx, rel.SourceID, rel.TargetID, rel.Type)
	if err != nil {
		d.log.Warn("resolve: relationship lookup failed, treating as no match",
			"source_id", rel.SourceID, "target_id", rel.TargetID, "type", rel.Type, "error", err)
		return nil
	}
	return existing
}

func (d *RelationshipDeduplicator) create(ctx context.Context, rel ResolvedRelationship) error {
	r := &Relationship{
		ID:         d.newID(),
		SourceID:   rel.SourceID,
		TargetID:   rel.TargetID,
		Type:       rel.Type,
		DocumentID: rel.DocumentID,
		Properties: copyProperties(rel.Properties),
		Confidence: clamp01(rel.Confidence),
		CreatedAt:  time.Now(),
	}
	wctx, cancel := context.WithTimeout(ctx, d.cfg.LookupTimeout)
	defer cancel()
	if err := d.store.UpsertRelationship(wctx, r); err != nil {
		return fmt.Errorf("resolve.FindOrSkip: creating %s -[%s]-> %s: %w", rel.SourceID, rel.Type, rel.TargetID, err)
	}
	if d.types != nil {
		d.types.RegisterRelationshipType(rel.Type)
	}
	return nil
}
