package resolve

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/lithammer/fuzzysearch/fuzzy"
)

// Namespace selects one of the registry's independent label sets.
type Namespace int

const (
	NamespaceEntity Namespace = iota
	NamespaceRelationship
)

func (n Namespace) String() string {
	if n == NamespaceRelationship {
		return "relationship"
	}
	return "entity"
}

// labelSet keeps labels in registration order with a lowercase index.
type labelSet struct {
	labels []string
	index  map[string]int
}

func newLabelSet() *labelSet {
	return &labelSet{index: make(map[string]int)}
}

func (s *labelSet) lookup(label string) (string, bool) {
	i, ok := s.index[normalizeKey(label)]
	if !ok {
		return "", false
	}
	return s.labels[i], true
}

func (s *labelSet) add(label string) bool {
	key := normalizeKey(label)
	if key == "" {
		return false
	}
	if _, ok := s.index[key]; ok {
		return false
	}
	s.index[key] = len(s.labels)
	s.labels = append(s.labels, strings.TrimSpace(label))
	return true
}

// TypeStats reports the registry contents.
type TypeStats struct {
	EntityTypes       int      `json:"entity_types"`
	RelationshipTypes int      `json:"relationship_types"`
	Entity            []string `json:"entity"`
	Relationship      []string `json:"relationship"`
}

// TypeRegistry caches canonical entity and relationship type labels and
// maps proposed labels onto them. It is safe for concurrent use.
type TypeRegistry struct {
	mu        sync.Mutex
	sets      [2]*labelSet
	sim       Similarity
	threshold float64
	source    TypeSource
}

// NewTypeRegistry creates an empty registry. src may be nil, in which
// case Refresh is a no-op.
func NewTypeRegistry(sim Similarity, threshold float64, src TypeSource) *TypeRegistry {
	if sim == nil {
		sim = SequenceRatio
	}
	if threshold <= 0 {
		threshold = 0.8
	}
	return &TypeRegistry{
		sets:      [2]*labelSet{newLabelSet(), newLabelSet()},
		sim:       sim,
		threshold: threshold,
		source:    src,
	}
}

// ResolveEntityType maps label onto a canonical entity type.
func (r *TypeRegistry) ResolveEntityType(label string) (string, bool) {
	return r.Resolve(NamespaceEntity, label)
}

// ResolveRelationshipType maps label onto a canonical relationship type.
func (r *TypeRegistry) ResolveRelationshipType(label string) (string, bool) {
	return r.Resolve(NamespaceRelationship, label)
}

// Resolve returns the canonical label for proposed and whether it had to
// be registered as new. An exact case-insensitive hit wins; otherwise the
// most similar cached label is accepted when it clears the threshold,
// with ties going to the label registered first.
func (r *TypeRegistry) Resolve(ns Namespace, proposed string) (string, bool) {
	proposed = strings.TrimSpace(proposed)
	if proposed == "" {
		return "", false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.sets[ns]
	if existing, ok := set.lookup(proposed); ok {
		return existing, false
	}

	best, bestScore := -1, 0.0
	for i, label := range set.labels {
		score := r.sim.Similarity(proposed, label)
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best >= 0 && bestScore >= r.threshold {
		return set.labels[best], false
	}

	set.add(proposed)
	return proposed, true
}

// RegisterEntityType adds label verbatim unless an equal label exists.
func (r *TypeRegistry) RegisterEntityType(label string) bool {
	return r.register(NamespaceEntity, label)
}

// RegisterRelationshipType adds label verbatim unless an equal label exists.
func (r *TypeRegistry) RegisterRelationshipType(label string) bool {
	return r.register(NamespaceRelationship, label)
}

func (r *TypeRegistry) register(ns Namespace, label string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sets[ns].add(label)
}

// Labels returns a copy of the labels in registration order.
func (r *TypeRegistry) Labels(ns Namespace) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sets[ns].labels...)
}

// Refresh unions the store's distinct labels into the registry. Labels
// registered locally but not yet persisted are kept.
func (r *TypeRegistry) Refresh(ctx context.Context) error {
	if r.source == nil {
		return nil
	}
	var errs []error
	ents, err := r.source.EntityTypes(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("listing entity types: %w", err))
	}
	rels, err := r.source.RelationshipTypes(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("listing relationship types: %w", err))
	}

	r.mu.Lock()
	for _, l := range ents {
		r.sets[NamespaceEntity].add(l)
	}
	for _, l := range rels {
		r.sets[NamespaceRelationship].add(l)
	}
	r.mu.Unlock()

	if len(errs) > 0 {
		return fmt.Errorf("resolve.Refresh: %w", errors.Join(errs...))
	}
	return nil
}

// SuggestEntityTypes returns up to limit registered entity types relevant
// to text.
func (r *TypeRegistry) SuggestEntityTypes(text string, limit int) []string {
	return r.suggest(NamespaceEntity, text, limit)
}

// SuggestRelationshipTypes returns up to limit registered relationship
// types relevant to text.
func (r *TypeRegistry) SuggestRelationshipTypes(text string, limit int) []string {
	return r.suggest(NamespaceRelationship, text, limit)
}

// suggest ranks labels that appear in text ahead of labels whose words
// fuzzy-match it; registration order breaks ties.
func (r *TypeRegistry) suggest(ns Namespace, text string, limit int) []string {
	text = strings.ToLower(text)
	if strings.TrimSpace(text) == "" {
		return nil
	}
	labels := r.Labels(ns)

	type hit struct {
		label string
		tier  int
		dist  int
		order int
	}
	var hits []hit
	for i, label := range labels {
		needle := strings.ToLower(strings.ReplaceAll(label, "_", " "))
		if strings.Contains(text, needle) {
			hits = append(hits, hit{label, 0, 0, i})
			continue
		}
		if d := fuzzyDistance(needle, text); d >= 0 {
			hits = append(hits, hit{label, 1, d, i})
		}
	}
	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].tier != hits[b].tier {
			return hits[a].tier < hits[b].tier
		}
		if hits[a].dist != hits[b].dist {
			return hits[a].dist < hits[b].dist
		}
		return hits[a].order < hits[b].order
	})

	out := make([]string, 0, len(hits))
	for _, h := range hits {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, h.label)
	}
	return out
}

// fuzzyDistance returns the smallest rank distance of any word of needle
// (four letters or more) found as a subsequence of a word in text, or -1.
func fuzzyDistance(needle, text string) int {
	words := strings.Fields(text)
	best := -1
	for _, w := range strings.Fields(needle) {
		if len(w) < 4 {
			continue
		}
		for _, m := range fuzzy.RankFindFold(w, words) {
			if best < 0 || m.Distance < best {
				best = m.Distance
			}
		}
	}
	return best
}

// Stats returns the registry contents by namespace.
func (r *TypeRegistry) Stats() TypeStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	ent := append([]string(nil), r.sets[NamespaceEntity].labels...)
	rel := append([]string(nil), r.sets[NamespaceRelationship].labels...)
	return TypeStats{
		EntityTypes:       len(ent),
		RelationshipTypes: len(rel),
		Entity:            ent,
		Relationship:      rel,
	}
}
