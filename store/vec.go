package store

import (
	"context"
	"fmt"
	"strings"
)

// embedName returns the embedding of name, or nil when no Embedder is set
// or the call fails. Failures are logged; an entity without a vector is
// still found through term matching.
func (s *Store) embedName(ctx context.Context, name string) []float32 {
	if s.embedder == nil || strings.TrimSpace(name) == "" {
		return nil
	}
	vecs, err := s.embedder.Embed(ctx, []string{name})
	if err != nil || len(vecs) == 0 {
		s.log.Warn("store: embedding entity name failed", "name", name, "error", err)
		return nil
	}
	if len(vecs[0]) != s.embeddingDim {
		s.log.Warn("store: embedding dimension mismatch, skipping vector",
			"name", name, "got", len(vecs[0]), "want", s.embeddingDim)
		return nil
	}
	return vecs[0]
}

// nearestEntities runs a KNN query over vec_entities for name.
func (s *Store) nearestEntities(ctx context.Context, name, typ string, k int) (map[string]seqEntity, error) {
	out := make(map[string]seqEntity)
	vec := s.embedName(ctx, name)
	if vec == nil {
		return out, nil
	}

	query := `
		SELECT e.seq, e.id, e.name, e.entity_type, COALESCE(e.document_id, ''), e.confidence,
			e.properties, e.aliases, e.created_at, e.updated_at
		FROM vec_entities v
		JOIN entities e ON e.seq = v.entity_seq
		WHERE v.embedding MATCH ? AND k = ?`
	args := []any{serializeFloat32(vec), k}
	if typ != "" {
		query += " AND lower(e.entity_type) = lower(?)"
		args = append(args, typ)
	}
	query += " ORDER BY v.distance"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return out, fmt.Errorf("knn query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		seq, e, err := scanEntity(rows)
		if err != nil {
			return out, err
		}
		out[e.ID] = seqEntity{seq, e}
	}
	return out, rows.Err()
}
