// Package resolve reconciles noisy extraction candidates into a single
// canonical knowledge graph: type labels, coreference, entity reuse,
// relationship deduplication and retroactive node merges.
package resolve

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrEntityNotFound is returned when a merge target does not exist.
	ErrEntityNotFound = errors.New("resolve: entity not found")

	// ErrSelfMerge is returned when a node is merged into itself.
	ErrSelfMerge = errors.New("resolve: cannot merge an entity into itself")
)

// Default labels applied when an extractor leaves the type blank.
const (
	DefaultEntityType       = "CONCEPT"
	DefaultRelationshipType = "RELATED_TO"
)

// MergedFromProperty tags edges recreated by a merge with the id of the
// node they were moved away from.
const MergedFromProperty = "merged_from"

// EntityCandidate is a transient entity mention produced by one extraction pass.
type EntityCandidate struct {
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	DocumentID string         `json:"document_id,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Aliases    []string       `json:"aliases,omitempty"`
	Confidence float64        `json:"confidence"`
}

// RelationshipCandidate references its endpoints by entity name. Names are
// resolved to canonical ids within the batch being reconciled.
type RelationshipCandidate struct {
	Source     string         `json:"source"`
	Target     string         `json:"target"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	Confidence float64        `json:"confidence"`
}

// Entity is a canonical, persisted graph node.
type Entity struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Type       string         `json:"type"`
	DocumentID string         `json:"document_id,omitempty"`
	Confidence float64        `json:"confidence"`
	Properties map[string]any `json:"properties,omitempty"`
	Aliases    []string       `json:"aliases,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Relationship is a persisted, directed, typed edge.
type Relationship struct {
	ID         string         `json:"id"`
	SourceID   string         `json:"source_id"`
	TargetID   string         `json:"target_id"`
	Type       string         `json:"type"`
	DocumentID string         `json:"document_id,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Confidence float64        `json:"confidence"`
	CreatedAt  time.Time      `json:"created_at"`
}

// ScoredEntity is a fuzzy search hit.
type ScoredEntity struct {
	Entity
	Score float64 `json:"score"`
}

// GraphStats summarises the size of a graph backend.
type GraphStats struct {
	Entities          int `json:"entities"`
	Relationships     int `json:"relationships"`
	EntityTypes       int `json:"entity_types"`
	RelationshipTypes int `json:"relationship_types"`
}

// TypeSource lists the distinct type labels already persisted.
type TypeSource interface {
	EntityTypes(ctx context.Context) ([]string, error)
	RelationshipTypes(ctx context.Context) ([]string, error)
}

// GraphStore is the set of operations the resolution engine needs from a
// graph backend. Lookups return (nil, nil) when nothing matches.
type GraphStore interface {
	TypeSource

	UpsertEntity(ctx context.Context, e *Entity) error
	GetEntity(ctx context.Context, id string) (*Entity, error)
	// FindEntityByName matches name case-insensitively. An empty typ
	// matches any type.
	FindEntityByName(ctx context.Context, name, typ string) (*Entity, error)
	// SearchSimilarEntities returns fuzzy name matches with a similarity
	// score in [0,1]. An empty typ searches every type.
	SearchSimilarEntities(ctx context.Context, name, typ string, limit int) ([]ScoredEntity, error)
	EntitiesByNames(ctx context.Context, names []string) ([]Entity, error)
	DeleteEntity(ctx context.Context, id string) error

	FindRelationship(ctx context.Context, sourceID, targetID, typ string) (*Relationship, error)
	UpsertRelationship(ctx context.Context, r *Relationship) error
	IncidentRelationships(ctx context.Context, entityID string) ([]Relationship, error)
	DeleteRelationship(ctx context.Context, id string) error

	Stats(ctx context.Context) (GraphStats, error)
}

// clamp01 bounds a confidence value to [0,1].
func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// isEmptyValue reports whether a property value counts as absent for
// backfill purposes.
func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	}
	return false
}

// backfillProperties copies entries from src into dst only where dst has
// no value or an empty one. It reports whether dst changed.
func backfillProperties(dst map[string]any, src map[string]any) (map[string]any, bool) {
	if len(src) == 0 {
		return dst, false
	}
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	changed := false
	for k, v := range src {
		if isEmptyValue(v) {
			continue
		}
		if cur, ok := dst[k]; ok && !isEmptyValue(cur) {
			continue
		}
		dst[k] = v
		changed = true
	}
	return dst, changed
}

func copyProperties(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
