package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brunobiangulo/akg/retry"
)

const defaultRetryBase = time.Second

// Batch is one extraction pass worth of candidates, typically one chunk.
type Batch struct {
	DocumentID      string
	DocumentContext string
	Entities        []EntityCandidate
	Relationships   []RelationshipCandidate
	// KnownEntities maps lowercased names resolved by earlier batches of
	// the same document to their entity ids.
	KnownEntities map[string]string
}

// FailedItem is a candidate whose persistence exhausted its retries.
type FailedItem struct {
	Kind string `json:"kind"` // "entity" or "relationship"
	Name string `json:"name"`
	Err  error  `json:"-"`
}

// BatchResult reports what Reconcile did with a batch.
type BatchResult struct {
	DocumentID           string                  `json:"document_id"`
	EntitiesCreated      int                     `json:"entities_created"`
	EntitiesReused       int                     `json:"entities_reused"`
	RelationshipsCreated int                     `json:"relationships_created"`
	RelationshipsSkipped int                     `json:"relationships_skipped"`
	Dropped              []string                `json:"dropped,omitempty"`
	Unresolved           []RelationshipCandidate `json:"unresolved,omitempty"`
	Failed               []FailedItem            `json:"failed,omitempty"`
	// EntityIDs maps each lowercased candidate name, alias and resolved
	// pronoun to its canonical id.
	EntityIDs map[string]string `json:"entity_ids"`
}

// Err joins the errors of every failed item, or returns nil.
func (r *BatchResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, f := range r.Failed {
		errs = append(errs, fmt.Errorf("%s %q: %w", f.Kind, f.Name, f.Err))
	}
	return errors.Join(errs...)
}

// Reconciler drives a batch through coreference normalization, entity
// resolution and relationship deduplication.
type Reconciler struct {
	normalizer *CoreferenceNormalizer
	entities   *EntityResolver
	edges      *RelationshipDeduplicator
	retry      retry.Config
	log        *slog.Logger
	metrics    *Metrics
}

// ReconcilerOption customises a Reconciler.
type ReconcilerOption func(*Reconciler)

func WithReconcilerLogger(l *slog.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.log = l }
}

func WithReconcilerMetrics(m *Metrics) ReconcilerOption {
	return func(r *Reconciler) { r.metrics = m }
}

// WithRetry replaces the persistence retry schedule.
func WithRetry(cfg retry.Config) ReconcilerOption {
	return func(r *Reconciler) { r.retry = cfg }
}

// NewReconciler wires the resolution components together. A nil
// normalizer disables coreference.
func NewReconciler(n *CoreferenceNormalizer, er *EntityResolver, rd *RelationshipDeduplicator, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		normalizer: n,
		entities:   er,
		edges:      rd,
		retry:      retry.Persist(3, defaultRetryBase),
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Reconcile persists b. Failures of individual items are collected in the
// result; items persisted before a failure stay persisted.
func (r *Reconciler) Reconcile(ctx context.Context, b Batch) *BatchResult {
	res := &BatchResult{DocumentID: b.DocumentID, EntityIDs: make(map[string]string)}

	cands := b.Entities
	resolvedRefs := map[string]string{}
	if r.normalizer != nil {
		norm := r.normalizer.Normalize(cands, b.DocumentContext)
		cands = norm.Entities
		resolvedRefs = norm.Resolved
		res.Dropped = append(res.Dropped, norm.Dropped...)
	}

	for _, c := range dedupEntities(cands, b.DocumentID) {
		if strings.TrimSpace(c.Name) == "" {
			continue
		}
		out, err := retry.DoWithResult(ctx, r.retry, func(ctx context.Context) (Resolution, error) {
			got, err := r.entities.FindOrCreate(ctx, c)
			return guardCancel(ctx, got, err)
		})
		if err != nil {
			r.fail(res, "entity", c.Name, err)
			continue
		}
		if out.IsNew {
			res.EntitiesCreated++
		} else {
			res.EntitiesReused++
		}
		res.EntityIDs[normalizeKey(c.Name)] = out.ID
		for _, a := range c.Aliases {
			if k := normalizeKey(a); k != "" {
				if _, taken := res.EntityIDs[k]; !taken {
					res.EntityIDs[k] = out.ID
				}
			}
		}
	}
	for ref, main := range resolvedRefs {
		if id, ok := res.EntityIDs[normalizeKey(main)]; ok {
			res.EntityIDs[ref] = id
		}
	}

	lookup := func(name string) (string, bool) {
		k := normalizeKey(name)
		if id, ok := res.EntityIDs[k]; ok {
			return id, true
		}
		id, ok := b.KnownEntities[k]
		return id, ok
	}

	seen := make(map[string]bool, len(b.Relationships))
	for _, rc := range b.Relationships {
		src, okS := lookup(rc.Source)
		tgt, okT := lookup(rc.Target)
		if !okS || !okT {
			res.Unresolved = append(res.Unresolved, rc)
			continue
		}
		if src == tgt {
			res.RelationshipsSkipped++
			continue
		}
		typ := strings.TrimSpace(rc.Type)
		key := src + "\x00" + tgt + "\x00" + strings.ToLower(typ)
		if seen[key] {
			res.RelationshipsSkipped++
			continue
		}
		seen[key] = true

		rel := ResolvedRelationship{
			SourceID:   src,
			TargetID:   tgt,
			Type:       typ,
			DocumentID: b.DocumentID,
			Properties: rc.Properties,
			Confidence: rc.Confidence,
		}
		created, err := retry.DoWithResult(ctx, r.retry, func(ctx context.Context) (bool, error) {
			ok, err := r.edges.FindOrSkip(ctx, rel)
			return guardCancel(ctx, ok, err)
		})
		if err != nil {
			r.fail(res, "relationship", fmt.Sprintf("%s -[%s]-> %s", rc.Source, typ, rc.Target), err)
			continue
		}
		if created {
			res.RelationshipsCreated++
		} else {
			res.RelationshipsSkipped++
		}
	}

	r.log.Debug("resolve: batch reconciled",
		"document_id", b.DocumentID,
		"entities_created", res.EntitiesCreated, "entities_reused", res.EntitiesReused,
		"relationships_created", res.RelationshipsCreated, "relationships_skipped", res.RelationshipsSkipped,
		"dropped", len(res.Dropped), "unresolved", len(res.Unresolved), "failed", len(res.Failed))
	return res
}

func (r *Reconciler) fail(res *BatchResult, kind, name string, err error) {
	res.Failed = append(res.Failed, FailedItem{Kind: kind, Name: name, Err: err})
	r.metrics.persistFailure(kind)
	r.log.Warn("resolve: persistence failed", "kind", kind, "name", name,
		"document_id", res.DocumentID, "error", err)
}

// guardCancel stops retries once the caller's context is done. Deadlines
// of individual store calls stay retryable.
func guardCancel[T any](ctx context.Context, v T, err error) (T, error) {
	if err != nil && ctx.Err() != nil {
		return v, retry.NonRetryable(err)
	}
	return v, err
}

// dedupEntities folds candidates sharing a lowercased (name, type) into
// the first occurrence, using the same rules as a store reuse.
func dedupEntities(cands []EntityCandidate, documentID string) []EntityCandidate {
	out := make([]EntityCandidate, 0, len(cands))
	index := make(map[string]int, len(cands))
	for _, c := range cands {
		c.Name = strings.TrimSpace(c.Name)
		if c.DocumentID == "" {
			c.DocumentID = documentID
		}
		key := normalizeKey(c.Name) + "\x00" + normalizeKey(c.Type)
		i, ok := index[key]
		if !ok {
			index[key] = len(out)
			c.Properties = copyProperties(c.Properties)
			out = append(out, c)
			continue
		}
		m := &out[i]
		m.Confidence = maxFloat(m.Confidence, c.Confidence)
		m.Properties, _ = backfillProperties(m.Properties, c.Properties)
		extra := c.Aliases
		if c.Name != m.Name {
			extra = append(append([]string(nil), extra...), c.Name)
		}
		m.Aliases, _ = unionAliases(m.Name, m.Aliases, extra)
	}
	return out
}
