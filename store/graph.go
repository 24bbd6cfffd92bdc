package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/brunobiangulo/akg/resolve"
)

const entityColumns = `seq, id, name, entity_type, COALESCE(document_id, ''), confidence,
	properties, aliases, created_at, updated_at`

const relationshipColumns = `id, source_id, target_id, relation_type, COALESCE(document_id, ''),
	confidence, properties, created_at`

// candidateFactor widens the SQL prefilter relative to the requested limit
// so that Go-side scoring has room to reorder.
const candidateFactor = 5

// Typo recall scans same-type names of similar length. It only runs for
// names up to fuzzyMaxRunes long and reads at most fuzzyScanLimit rows.
const (
	fuzzyMaxRunes  = 32
	fuzzyScanLimit = 1000
)

type scanner interface{ Scan(...any) error }

func scanEntity(row scanner) (int64, *resolve.Entity, error) {
	var (
		seq                  int64
		e                    resolve.Entity
		props, aliases       sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&seq, &e.ID, &e.Name, &e.Type, &e.DocumentID, &e.Confidence,
		&props, &aliases, &createdAt, &updatedAt); err != nil {
		return 0, nil, err
	}
	if props.Valid && props.String != "" {
		if err := json.Unmarshal([]byte(props.String), &e.Properties); err != nil {
			return 0, nil, fmt.Errorf("decoding properties of %s: %w", e.ID, err)
		}
	}
	if aliases.Valid && aliases.String != "" {
		if err := json.Unmarshal([]byte(aliases.String), &e.Aliases); err != nil {
			return 0, nil, fmt.Errorf("decoding aliases of %s: %w", e.ID, err)
		}
	}
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)
	return seq, &e, nil
}

func scanRelationship(row scanner) (*resolve.Relationship, error) {
	var (
		r         resolve.Relationship
		props     sql.NullString
		createdAt string
	)
	if err := row.Scan(&r.ID, &r.SourceID, &r.TargetID, &r.Type, &r.DocumentID,
		&r.Confidence, &props, &createdAt); err != nil {
		return nil, err
	}
	if props.Valid && props.String != "" {
		if err := json.Unmarshal([]byte(props.String), &r.Properties); err != nil {
			return nil, fmt.Errorf("decoding properties of %s: %w", r.ID, err)
		}
	}
	r.CreatedAt = parseTime(createdAt)
	return &r, nil
}

func encodeJSON(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 0 {
			return nil, nil
		}
	case []string:
		if len(t) == 0 {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// --- Entity operations ---

// UpsertEntity inserts or replaces an entity by id. A new entity's name is
// embedded into vec_entities when an Embedder is configured.
func (s *Store) UpsertEntity(ctx context.Context, e *resolve.Entity) error {
	if e == nil || e.ID == "" {
		return errors.New("store.UpsertEntity: entity id required")
	}
	props, err := encodeJSON(e.Properties)
	if err != nil {
		return fmt.Errorf("store.UpsertEntity: encoding properties: %w", err)
	}
	aliases, err := encodeJSON(e.Aliases)
	if err != nil {
		return fmt.Errorf("store.UpsertEntity: encoding aliases: %w", err)
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM entities WHERE id = ?)", e.ID).Scan(&exists); err != nil {
		return fmt.Errorf("store.UpsertEntity: %w", err)
	}
	var vec []float32
	if !exists {
		vec = s.embedName(ctx, e.Name)
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO entities (id, name, lower_name, entity_type, document_id, confidence, properties, aliases, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				lower_name = excluded.lower_name,
				entity_type = excluded.entity_type,
				document_id = COALESCE(entities.document_id, excluded.document_id),
				confidence = excluded.confidence,
				properties = excluded.properties,
				aliases = excluded.aliases,
				updated_at = excluded.updated_at
		`, e.ID, e.Name, lowerName(e.Name), e.Type, nullString(e.DocumentID), e.Confidence,
			props, aliases, formatTime(e.CreatedAt), formatTime(e.UpdatedAt)); err != nil {
			return fmt.Errorf("store.UpsertEntity: %w", err)
		}
		if len(vec) == 0 {
			return nil
		}
		var seq int64
		if err := tx.QueryRowContext(ctx, "SELECT seq FROM entities WHERE id = ?", e.ID).Scan(&seq); err != nil {
			return fmt.Errorf("store.UpsertEntity: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO vec_entities (entity_seq, embedding) VALUES (?, ?)",
			seq, serializeFloat32(vec)); err != nil {
			return fmt.Errorf("store.UpsertEntity: storing embedding: %w", err)
		}
		return nil
	})
}

// GetEntity returns the entity with id, or nil when absent.
func (s *Store) GetEntity(ctx context.Context, id string) (*resolve.Entity, error) {
	_, e, err := scanEntity(s.db.QueryRowContext(ctx,
		"SELECT "+entityColumns+" FROM entities WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// FindEntityByName matches name case-insensitively, optionally restricted
// to typ. The most confident, then oldest, match wins.
func (s *Store) FindEntityByName(ctx context.Context, name, typ string) (*resolve.Entity, error) {
	query := "SELECT " + entityColumns + " FROM entities WHERE lower_name = ?"
	args := []any{lowerName(name)}
	if typ != "" {
		query += " AND lower(entity_type) = lower(?)"
		args = append(args, typ)
	}
	query += " ORDER BY confidence DESC, seq LIMIT 1"

	_, e, err := scanEntity(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// SearchSimilarEntities scores entities whose names share a term with name,
// plus vector neighbours when an Embedder is configured.
func (s *Store) SearchSimilarEntities(ctx context.Context, name, typ string, limit int) ([]resolve.ScoredEntity, error) {
	if limit <= 0 {
		limit = 10
	}
	pool := limit * candidateFactor

	cands, err := s.entitiesByTerms(ctx, searchTerms(name), typ, pool)
	if err != nil {
		return nil, fmt.Errorf("store.SearchSimilarEntities: %w", err)
	}
	if typ != "" {
		typos, err := s.entitiesByEditDistance(ctx, name, typ, pool)
		if err != nil {
			return nil, fmt.Errorf("store.SearchSimilarEntities: %w", err)
		}
		for id, e := range typos {
			if _, ok := cands[id]; !ok {
				cands[id] = e
			}
		}
	}
	if s.embedder != nil {
		near, err := s.nearestEntities(ctx, name, typ, pool)
		if err != nil {
			s.log.Warn("store: vector recall failed, using term matches only", "name", name, "error", err)
		}
		for id, e := range near {
			if _, ok := cands[id]; !ok {
				cands[id] = e
			}
		}
	}

	out := make([]resolve.ScoredEntity, 0, len(cands))
	for _, c := range cands {
		score := s.sim.Similarity(name, c.e.Name)
		for _, a := range c.e.Aliases {
			if v := s.sim.Similarity(name, a); v > score {
				score = v
			}
		}
		if score <= 0 {
			continue
		}
		out = append(out, resolve.ScoredEntity{Entity: *c.e, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return cands[out[i].ID].seq < cands[out[j].ID].seq
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type seqEntity struct {
	seq int64
	e   *resolve.Entity
}

// searchTerms returns the lowercased full name followed by its words of
// four or more characters.
func searchTerms(name string) []string {
	full := lowerName(name)
	if full == "" {
		return nil
	}
	terms := []string{full}
	seen := map[string]bool{full: true}
	for _, w := range strings.FieldsFunc(full, func(r rune) bool {
		return r == ' ' || r == ',' || r == '.' || r == '-' || r == '_' || r == '(' || r == ')'
	}) {
		if len([]rune(w)) >= 4 && !seen[w] {
			seen[w] = true
			terms = append(terms, w)
		}
	}
	return terms
}

func (s *Store) entitiesByTerms(ctx context.Context, terms []string, typ string, limit int) (map[string]seqEntity, error) {
	out := make(map[string]seqEntity)
	if len(terms) == 0 {
		return out, nil
	}

	conds := make([]string, 0, len(terms)*2)
	var args []any
	for _, t := range terms {
		conds = append(conds, "lower_name LIKE ? ESCAPE '\\'", "? LIKE '%' || lower_name || '%'")
		args = append(args, "%"+escapeLike(t)+"%", t)
	}
	query := "SELECT " + entityColumns + " FROM entities WHERE (" + strings.Join(conds, " OR ") + ")"
	if typ != "" {
		query += " AND lower(entity_type) = lower(?)"
		args = append(args, typ)
	}
	query += " ORDER BY confidence DESC, seq LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		seq, e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out[e.ID] = seqEntity{seq, e}
	}
	return out, rows.Err()
}

// maxEdits is the edit distance tolerated for a name of n runes.
func maxEdits(n int) int {
	switch {
	case n < 4:
		return 0
	case n < 8:
		return 1
	}
	return 2
}

// entitiesByEditDistance recalls same-type entities whose name is within
// a few edits of name, which LIKE matching misses ("Gogle" vs "Google").
func (s *Store) entitiesByEditDistance(ctx context.Context, name, typ string, limit int) (map[string]seqEntity, error) {
	out := make(map[string]seqEntity)
	want := lowerName(name)
	n := len([]rune(want))
	k := maxEdits(n)
	if k == 0 || n > fuzzyMaxRunes {
		return out, nil
	}

	rows, err := s.db.QueryContext(ctx, "SELECT "+entityColumns+` FROM entities
		WHERE lower(entity_type) = lower(?) AND length(lower_name) BETWEEN ? AND ?
		ORDER BY confidence DESC, seq LIMIT ?`, typ, n-k, n+k, fuzzyScanLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		seq, e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		if levenshtein.ComputeDistance(want, lowerName(e.Name)) > k {
			continue
		}
		out[e.ID] = seqEntity{seq, e}
		if len(out) >= limit {
			break
		}
	}
	return out, rows.Err()
}

// EntitiesByNames returns entities whose name matches any of names,
// case-insensitively.
func (s *Store) EntitiesByNames(ctx context.Context, names []string) ([]resolve.Entity, error) {
	if len(names) == 0 {
		return nil, nil
	}
	args := make([]any, len(names))
	for i, n := range names {
		args[i] = lowerName(n)
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+entityColumns+" FROM entities WHERE lower_name IN ("+placeholders(len(names))+") ORDER BY seq",
		args...)
	if err != nil {
		return nil, fmt.Errorf("store.EntitiesByNames: %w", err)
	}
	defer rows.Close()

	var out []resolve.Entity
	for rows.Next() {
		_, e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// DeleteEntity removes an entity, its embedding and, through the foreign
// keys, every incident relationship.
func (s *Store) DeleteEntity(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM vec_entities WHERE entity_seq IN (SELECT seq FROM entities WHERE id = ?)", id); err != nil {
			return fmt.Errorf("store.DeleteEntity: embedding: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM entities WHERE id = ?", id); err != nil {
			return fmt.Errorf("store.DeleteEntity: %w", err)
		}
		return nil
	})
}

// --- Relationship operations ---

// FindRelationship returns the edge matching the triple, comparing the
// type case-insensitively, or nil.
func (s *Store) FindRelationship(ctx context.Context, sourceID, targetID, typ string) (*resolve.Relationship, error) {
	r, err := scanRelationship(s.db.QueryRowContext(ctx,
		"SELECT "+relationshipColumns+` FROM relationships
		WHERE source_id = ? AND target_id = ? AND lower(relation_type) = lower(?)
		ORDER BY seq LIMIT 1`, sourceID, targetID, typ))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// UpsertRelationship inserts or replaces an edge by id.
func (s *Store) UpsertRelationship(ctx context.Context, r *resolve.Relationship) error {
	if r == nil || r.ID == "" {
		return errors.New("store.UpsertRelationship: relationship id required")
	}
	props, err := encodeJSON(r.Properties)
	if err != nil {
		return fmt.Errorf("store.UpsertRelationship: encoding properties: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO relationships (id, source_id, target_id, relation_type, document_id, confidence, properties, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_id = excluded.source_id,
			target_id = excluded.target_id,
			relation_type = excluded.relation_type,
			confidence = excluded.confidence,
			properties = excluded.properties
	`, r.ID, r.SourceID, r.TargetID, r.Type, nullString(r.DocumentID), r.Confidence, props, formatTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("store.UpsertRelationship: %w", err)
	}
	return nil
}

// IncidentRelationships returns every edge that starts or ends at entityID.
func (s *Store) IncidentRelationships(ctx context.Context, entityID string) ([]resolve.Relationship, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+relationshipColumns+" FROM relationships WHERE source_id = ? OR target_id = ? ORDER BY seq",
		entityID, entityID)
	if err != nil {
		return nil, fmt.Errorf("store.IncidentRelationships: %w", err)
	}
	defer rows.Close()

	var out []resolve.Relationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// DeleteRelationship removes an edge by id.
func (s *Store) DeleteRelationship(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM relationships WHERE id = ?", id); err != nil {
		return fmt.Errorf("store.DeleteRelationship: %w", err)
	}
	return nil
}

// --- Type listing ---

// EntityTypes lists distinct entity types in first-seen order.
func (s *Store) EntityTypes(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "SELECT entity_type FROM entities GROUP BY entity_type ORDER BY MIN(seq)")
}

// RelationshipTypes lists distinct relationship types in first-seen order.
func (s *Store) RelationshipTypes(ctx context.Context) ([]string, error) {
	return s.distinct(ctx, "SELECT relation_type FROM relationships GROUP BY relation_type ORDER BY MIN(seq)")
}

func (s *Store) distinct(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Stats returns graph-level counts.
func (s *Store) Stats(ctx context.Context) (resolve.GraphStats, error) {
	var st resolve.GraphStats
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM entities", &st.Entities},
		{"SELECT COUNT(*) FROM relationships", &st.Relationships},
		{"SELECT COUNT(DISTINCT entity_type) FROM entities", &st.EntityTypes},
		{"SELECT COUNT(DISTINCT relation_type) FROM relationships", &st.RelationshipTypes},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return st, fmt.Errorf("store.Stats: %s: %w", q.query, err)
		}
	}
	return st, nil
}

func lowerName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
