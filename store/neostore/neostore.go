// Package neostore is a Neo4j implementation of resolve.GraphStore.
//
// Entities are (:Entity) nodes and edges are [:RELATES_TO] relationships
// carrying the semantic label in a `type` property. Free-form properties
// are kept as a JSON string because Neo4j has no map-valued properties.
package neostore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/neo4j/neo4j-go-driver/v4/neo4j"

	"github.com/brunobiangulo/akg/resolve"
)

const defaultTimeout = 5 * time.Second

// Config holds connection settings.
type Config struct {
	URI      string `json:"uri" yaml:"uri"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	Database string `json:"database" yaml:"database"`
}

// Store talks to Neo4j through managed transactions. Sessions are opened
// per call; the driver pools connections.
type Store struct {
	driver   neo4j.Driver
	database string
	sim      resolve.Similarity
	timeout  time.Duration
	log      *slog.Logger
}

var _ resolve.GraphStore = (*Store)(nil)

// Option customises a Store.
type Option func(*Store)

// WithSimilarity sets the scorer applied to search candidates.
func WithSimilarity(sim resolve.Similarity) Option {
	return func(s *Store) { s.sim = sim }
}

// WithTimeout sets the transaction timeout used when a context carries no
// deadline.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

// WithLogger sets the store's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// New creates a driver for cfg. It does not contact the server; call
// VerifyConnectivity or EnsureSchema for that.
func New(cfg Config, opts ...Option) (*Store, error) {
	if cfg.URI == "" {
		return nil, errors.New("neostore: uri required")
	}
	driver, err := neo4j.NewDriver(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("neostore: creating driver: %w", err)
	}
	s := &Store{
		driver:   driver,
		database: cfg.Database,
		sim:      resolve.SequenceRatio,
		timeout:  defaultTimeout,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// VerifyConnectivity checks that the server is reachable.
func (s *Store) VerifyConnectivity() error {
	return s.driver.VerifyConnectivity()
}

// Close releases the driver.
func (s *Store) Close() error {
	return s.driver.Close()
}

var schemaStatements = []string{
	"CREATE CONSTRAINT entity_id IF NOT EXISTS FOR (e:Entity) REQUIRE e.id IS UNIQUE",
	"CREATE INDEX entity_lower_name IF NOT EXISTS FOR (e:Entity) ON (e.lower_name)",
	"CREATE INDEX entity_type IF NOT EXISTS FOR (e:Entity) ON (e.type)",
	"CREATE INDEX relates_to_id IF NOT EXISTS FOR ()-[r:RELATES_TO]-() ON (r.id)",
	"CREATE INDEX relates_to_type IF NOT EXISTS FOR ()-[r:RELATES_TO]-() ON (r.lower_type)",
}

// EnsureSchema creates the constraints and indexes the store relies on.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.write(ctx, func(tx neo4j.Transaction) (interface{}, error) {
			return nil, consume(tx.Run(stmt, nil))
		}); err != nil {
			return fmt.Errorf("neostore.EnsureSchema: %s: %w", stmt, err)
		}
	}
	s.log.Debug("neostore: schema ready", "statements", len(schemaStatements))
	return nil
}

// --- transaction helpers ---

// txTimeout derives a transaction timeout from ctx. The driver's sessions
// are not context aware, so the deadline is the only way to bound a call.
func txTimeout(ctx context.Context, fallback time.Duration) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if dl, ok := ctx.Deadline(); ok {
		d := time.Until(dl)
		if d <= 0 {
			return 0, context.DeadlineExceeded
		}
		return d, nil
	}
	return fallback, nil
}

func (s *Store) session(mode neo4j.AccessMode) neo4j.Session {
	return s.driver.NewSession(neo4j.SessionConfig{AccessMode: mode, DatabaseName: s.database})
}

func (s *Store) read(ctx context.Context, work neo4j.TransactionWork) (interface{}, error) {
	d, err := txTimeout(ctx, s.timeout)
	if err != nil {
		return nil, err
	}
	sess := s.session(neo4j.AccessModeRead)
	defer sess.Close()
	return sess.ReadTransaction(work, neo4j.WithTxTimeout(d))
}

func (s *Store) write(ctx context.Context, work neo4j.TransactionWork) (interface{}, error) {
	d, err := txTimeout(ctx, s.timeout)
	if err != nil {
		return nil, err
	}
	sess := s.session(neo4j.AccessModeWrite)
	defer sess.Close()
	return sess.WriteTransaction(work, neo4j.WithTxTimeout(d))
}

func consume(res neo4j.Result, err error) error {
	if err != nil {
		return err
	}
	_, err = res.Consume()
	return err
}

// collect runs cypher and decodes every record with fn.
func collect[T any](tx neo4j.Transaction, cypher string, params map[string]interface{}, fn func(*neo4j.Record) (T, error)) ([]T, error) {
	res, err := tx.Run(cypher, params)
	if err != nil {
		return nil, err
	}
	var out []T
	for res.Next() {
		v, err := fn(res.Record())
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, res.Err()
}

// --- entity operations ---

const upsertEntityCypher = `
MERGE (e:Entity {id: $id})
ON CREATE SET e.created_at = $created_at
SET e.name = $name,
    e.lower_name = $lower_name,
    e.type = $type,
    e.document_id = coalesce(e.document_id, $document_id),
    e.confidence = $confidence,
    e.props_json = $props_json,
    e.aliases = $aliases,
    e.updated_at = $updated_at`

// UpsertEntity inserts or replaces an entity by id.
func (s *Store) UpsertEntity(ctx context.Context, e *resolve.Entity) error {
	if e == nil || e.ID == "" {
		return errors.New("neostore.UpsertEntity: entity id required")
	}
	params, err := entityParams(e)
	if err != nil {
		return fmt.Errorf("neostore.UpsertEntity: %w", err)
	}
	if _, err := s.write(ctx, func(tx neo4j.Transaction) (interface{}, error) {
		return nil, consume(tx.Run(upsertEntityCypher, params))
	}); err != nil {
		return fmt.Errorf("neostore.UpsertEntity: %w", err)
	}
	return nil
}

// GetEntity returns the entity with id, or nil when absent.
func (s *Store) GetEntity(ctx context.Context, id string) (*resolve.Entity, error) {
	return s.oneEntity(ctx, "MATCH (e:Entity {id: $id}) RETURN e LIMIT 1", map[string]interface{}{"id": id})
}

// FindEntityByName matches name case-insensitively, optionally restricted
// to typ. The most confident, then oldest, match wins.
func (s *Store) FindEntityByName(ctx context.Context, name, typ string) (*resolve.Entity, error) {
	return s.oneEntity(ctx, `
		MATCH (e:Entity {lower_name: $name})
		WHERE $type = '' OR toLower(e.type) = toLower($type)
		RETURN e ORDER BY e.confidence DESC, e.created_at LIMIT 1`,
		map[string]interface{}{"name": lowerName(name), "type": typ})
}

func (s *Store) oneEntity(ctx context.Context, cypher string, params map[string]interface{}) (*resolve.Entity, error) {
	got, err := s.read(ctx, func(tx neo4j.Transaction) (interface{}, error) {
		return collect(tx, cypher, params, recordEntity)
	})
	if err != nil {
		return nil, fmt.Errorf("neostore: %w", err)
	}
	list := got.([]resolve.Entity)
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

// Typo recall bounds, see SearchSimilarEntities.
const (
	fuzzyMaxRunes  = 32
	fuzzyScanLimit = 1000
)

// SearchSimilarEntities prefilters with CONTAINS on lower_name in both
// directions and scores the candidates with the configured Similarity.
// With a type given, same-type names a few edits away are recalled too.
func (s *Store) SearchSimilarEntities(ctx context.Context, name, typ string, limit int) ([]resolve.ScoredEntity, error) {
	if limit <= 0 {
		limit = 10
	}
	terms := searchTerms(name)
	if len(terms) == 0 {
		return nil, nil
	}
	want := lowerName(name)
	n := len([]rune(want))
	k := maxEdits(n)
	fuzzy := typ != "" && k > 0 && n <= fuzzyMaxRunes

	got, err := s.read(ctx, func(tx neo4j.Transaction) (interface{}, error) {
		cands, err := collect(tx, `
			MATCH (e:Entity)
			WHERE ($type = '' OR toLower(e.type) = toLower($type))
			  AND any(t IN $terms WHERE e.lower_name CONTAINS t OR t CONTAINS e.lower_name)
			RETURN e ORDER BY e.confidence DESC LIMIT $pool`,
			map[string]interface{}{"type": typ, "terms": terms, "pool": int64(limit * 5)},
			recordEntity)
		if err != nil || !fuzzy {
			return cands, err
		}
		near, err := collect(tx, `
			MATCH (e:Entity)
			WHERE toLower(e.type) = toLower($type)
			  AND size(e.lower_name) >= $lo AND size(e.lower_name) <= $hi
			RETURN e ORDER BY e.confidence DESC LIMIT $scan`,
			map[string]interface{}{"type": typ, "lo": int64(n - k), "hi": int64(n + k), "scan": int64(fuzzyScanLimit)},
			recordEntity)
		if err != nil {
			return nil, err
		}
		return appendWithinEdits(cands, want, k, near), nil
	})
	if err != nil {
		return nil, fmt.Errorf("neostore.SearchSimilarEntities: %w", err)
	}
	return score(s.sim, name, got.([]resolve.Entity), limit), nil
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

// appendWithinEdits adds the entries of near whose name is at most k
// edits from want and that cands does not already hold.
func appendWithinEdits(cands []resolve.Entity, want string, k int, near []resolve.Entity) []resolve.Entity {
	seen := make(map[string]bool, len(cands))
	for _, c := range cands {
		seen[c.ID] = true
	}
	for _, e := range near {
		if seen[e.ID] || levenshtein.ComputeDistance(want, lowerName(e.Name)) > k {
			continue
		}
		seen[e.ID] = true
		cands = append(cands, e)
	}
	return cands
}

// score rates candidates by their best name or alias similarity, dropping
// zero scores and keeping the prefilter order on ties.
func score(sim resolve.Similarity, name string, cands []resolve.Entity, limit int) []resolve.ScoredEntity {
	out := make([]resolve.ScoredEntity, 0, len(cands))
	for _, c := range cands {
		best := sim.Similarity(name, c.Name)
		for _, a := range c.Aliases {
			if v := sim.Similarity(name, a); v > best {
				best = v
			}
		}
		if best <= 0 {
			continue
		}
		out = append(out, resolve.ScoredEntity{Entity: c, Score: best})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// EntitiesByNames returns entities whose name matches any of names,
// case-insensitively.
func (s *Store) EntitiesByNames(ctx context.Context, names []string) ([]resolve.Entity, error) {
	if len(names) == 0 {
		return nil, nil
	}
	lower := make([]string, len(names))
	for i, n := range names {
		lower[i] = lowerName(n)
	}
	got, err := s.read(ctx, func(tx neo4j.Transaction) (interface{}, error) {
		return collect(tx, "MATCH (e:Entity) WHERE e.lower_name IN $names RETURN e ORDER BY e.created_at",
			map[string]interface{}{"names": lower}, recordEntity)
	})
	if err != nil {
		return nil, fmt.Errorf("neostore.EntitiesByNames: %w", err)
	}
	return got.([]resolve.Entity), nil
}

// DeleteEntity removes an entity together with its relationships.
func (s *Store) DeleteEntity(ctx context.Context, id string) error {
	if _, err := s.write(ctx, func(tx neo4j.Transaction) (interface{}, error) {
		return nil, consume(tx.Run("MATCH (e:Entity {id: $id}) DETACH DELETE e", map[string]interface{}{"id": id}))
	}); err != nil {
		return fmt.Errorf("neostore.DeleteEntity: %w", err)
	}
	return nil
}

// --- relationship operations ---

const relReturn = "RETURN r, startNode(r).id AS source, endNode(r).id AS target"

// FindRelationship returns the edge matching the triple, comparing the
// type case-insensitively, or nil.
func (s *Store) FindRelationship(ctx context.Context, sourceID, targetID, typ string) (*resolve.Relationship, error) {
	got, err := s.read(ctx, func(tx neo4j.Transaction) (interface{}, error) {
		return collect(tx, `
			MATCH (:Entity {id: $source})-[r:RELATES_TO {lower_type: $type}]->(:Entity {id: $target})
			`+relReturn+` ORDER BY r.created_at LIMIT 1`,
			map[string]interface{}{"source": sourceID, "target": targetID, "type": strings.ToLower(typ)},
			recordRelationship)
	})
	if err != nil {
		return nil, fmt.Errorf("neostore.FindRelationship: %w", err)
	}
	list := got.([]resolve.Relationship)
	if len(list) == 0 {
		return nil, nil
	}
	return &list[0], nil
}

// An edge whose endpoints changed is dropped and recreated, since Neo4j
// cannot move a relationship between nodes.
const upsertRelationshipCypher = `
OPTIONAL MATCH (x)-[old:RELATES_TO {id: $id}]->(y)
WHERE x.id <> $source OR y.id <> $target
DELETE old
WITH count(*) AS dropped
MATCH (a:Entity {id: $source}), (b:Entity {id: $target})
MERGE (a)-[r:RELATES_TO {id: $id}]->(b)
ON CREATE SET r.created_at = $created_at, r.document_id = $document_id
SET r.type = $type,
    r.lower_type = $lower_type,
    r.confidence = $confidence,
    r.props_json = $props_json
RETURN r.id AS id`

// UpsertRelationship inserts or replaces an edge by id. Both endpoints
// must exist.
func (s *Store) UpsertRelationship(ctx context.Context, r *resolve.Relationship) error {
	if r == nil || r.ID == "" {
		return errors.New("neostore.UpsertRelationship: relationship id required")
	}
	params, err := relationshipParams(r)
	if err != nil {
		return fmt.Errorf("neostore.UpsertRelationship: %w", err)
	}
	got, err := s.write(ctx, func(tx neo4j.Transaction) (interface{}, error) {
		return collect(tx, upsertRelationshipCypher, params, func(rec *neo4j.Record) (string, error) {
			v, _ := rec.Get("id")
			return asString(v), nil
		})
	})
	if err != nil {
		return fmt.Errorf("neostore.UpsertRelationship: %w", err)
	}
	if len(got.([]string)) == 0 {
		return fmt.Errorf("neostore.UpsertRelationship: endpoint %s or %s: %w", r.SourceID, r.TargetID, resolve.ErrEntityNotFound)
	}
	return nil
}

// IncidentRelationships returns every edge that starts or ends at entityID.
func (s *Store) IncidentRelationships(ctx context.Context, entityID string) ([]resolve.Relationship, error) {
	got, err := s.read(ctx, func(tx neo4j.Transaction) (interface{}, error) {
		return collect(tx, "MATCH (:Entity {id: $id})-[r:RELATES_TO]-() "+relReturn+" ORDER BY r.created_at, r.id",
			map[string]interface{}{"id": entityID}, recordRelationship)
	})
	if err != nil {
		return nil, fmt.Errorf("neostore.IncidentRelationships: %w", err)
	}
	// An undirected match yields a self-loop once per direction.
	list := got.([]resolve.Relationship)
	seen := make(map[string]bool, len(list))
	out := list[:0]
	for _, r := range list {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	return out, nil
}

// DeleteRelationship removes an edge by id.
func (s *Store) DeleteRelationship(ctx context.Context, id string) error {
	if _, err := s.write(ctx, func(tx neo4j.Transaction) (interface{}, error) {
		return nil, consume(tx.Run("MATCH ()-[r:RELATES_TO {id: $id}]->() DELETE r", map[string]interface{}{"id": id}))
	}); err != nil {
		return fmt.Errorf("neostore.DeleteRelationship: %w", err)
	}
	return nil
}

// --- types and stats ---

// EntityTypes lists distinct entity types in first-seen order.
func (s *Store) EntityTypes(ctx context.Context) ([]string, error) {
	return s.labels(ctx, "MATCH (e:Entity) WITH e.type AS t, min(e.created_at) AS first RETURN t, first ORDER BY first")
}

// RelationshipTypes lists distinct relationship types in first-seen order.
func (s *Store) RelationshipTypes(ctx context.Context) ([]string, error) {
	return s.labels(ctx, "MATCH ()-[r:RELATES_TO]->() WITH r.type AS t, min(r.created_at) AS first RETURN t, first ORDER BY first")
}

func (s *Store) labels(ctx context.Context, cypher string) ([]string, error) {
	got, err := s.read(ctx, func(tx neo4j.Transaction) (interface{}, error) {
		return collect(tx, cypher, nil, func(rec *neo4j.Record) (string, error) {
			v, _ := rec.Get("t")
			return asString(v), nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("neostore: listing types: %w", err)
	}
	return got.([]string), nil
}

// Stats returns graph-level counts.
func (s *Store) Stats(ctx context.Context) (resolve.GraphStats, error) {
	var st resolve.GraphStats
	_, err := s.read(ctx, func(tx neo4j.Transaction) (interface{}, error) {
		counts := []struct {
			cypher string
			n, t   *int
		}{
			{"MATCH (e:Entity) RETURN count(e) AS n, count(DISTINCT e.type) AS t", &st.Entities, &st.EntityTypes},
			{"MATCH ()-[r:RELATES_TO]->() RETURN count(r) AS n, count(DISTINCT r.type) AS t", &st.Relationships, &st.RelationshipTypes},
		}
		for _, c := range counts {
			res, err := tx.Run(c.cypher, nil)
			if err != nil {
				return nil, err
			}
			rec, err := res.Single()
			if err != nil {
				return nil, err
			}
			n, _ := rec.Get("n")
			t, _ := rec.Get("t")
			*c.n, *c.t = int(asInt(n)), int(asInt(t))
		}
		return nil, nil
	})
	if err != nil {
		return st, fmt.Errorf("neostore.Stats: %w", err)
	}
	return st, nil
}

// --- encoding ---

func entityParams(e *resolve.Entity) (map[string]interface{}, error) {
	props, err := encodeProps(e.Properties)
	if err != nil {
		return nil, err
	}
	aliases := e.Aliases
	if aliases == nil {
		aliases = []string{}
	}
	return map[string]interface{}{
		"id":          e.ID,
		"name":        e.Name,
		"lower_name":  lowerName(e.Name),
		"type":        e.Type,
		"document_id": nullable(e.DocumentID),
		"confidence":  e.Confidence,
		"props_json":  props,
		"aliases":     aliases,
		"created_at":  formatTime(e.CreatedAt),
		"updated_at":  formatTime(e.UpdatedAt),
	}, nil
}

func relationshipParams(r *resolve.Relationship) (map[string]interface{}, error) {
	props, err := encodeProps(r.Properties)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"id":          r.ID,
		"source":      r.SourceID,
		"target":      r.TargetID,
		"type":        r.Type,
		"lower_type":  strings.ToLower(r.Type),
		"document_id": nullable(r.DocumentID),
		"confidence":  r.Confidence,
		"props_json":  props,
		"created_at":  formatTime(r.CreatedAt),
	}, nil
}

func recordEntity(rec *neo4j.Record) (resolve.Entity, error) {
	v, ok := rec.Get("e")
	if !ok {
		return resolve.Entity{}, errors.New("record has no e column")
	}
	node, ok := v.(neo4j.Node)
	if !ok {
		return resolve.Entity{}, fmt.Errorf("unexpected %T for entity node", v)
	}
	return entityFromProps(node.Props)
}

func recordRelationship(rec *neo4j.Record) (resolve.Relationship, error) {
	v, ok := rec.Get("r")
	if !ok {
		return resolve.Relationship{}, errors.New("record has no r column")
	}
	rel, ok := v.(neo4j.Relationship)
	if !ok {
		return resolve.Relationship{}, fmt.Errorf("unexpected %T for relationship", v)
	}
	src, _ := rec.Get("source")
	tgt, _ := rec.Get("target")
	return relationshipFromProps(rel.Props, asString(src), asString(tgt))
}

func entityFromProps(p map[string]interface{}) (resolve.Entity, error) {
	props, err := decodeProps(asString(p["props_json"]))
	if err != nil {
		return resolve.Entity{}, fmt.Errorf("entity %s: %w", asString(p["id"]), err)
	}
	return resolve.Entity{
		ID:         asString(p["id"]),
		Name:       asString(p["name"]),
		Type:       asString(p["type"]),
		DocumentID: asString(p["document_id"]),
		Confidence: asFloat(p["confidence"]),
		Properties: props,
		Aliases:    asStrings(p["aliases"]),
		CreatedAt:  parseTime(asString(p["created_at"])),
		UpdatedAt:  parseTime(asString(p["updated_at"])),
	}, nil
}

func relationshipFromProps(p map[string]interface{}, source, target string) (resolve.Relationship, error) {
	props, err := decodeProps(asString(p["props_json"]))
	if err != nil {
		return resolve.Relationship{}, fmt.Errorf("relationship %s: %w", asString(p["id"]), err)
	}
	return resolve.Relationship{
		ID:         asString(p["id"]),
		SourceID:   source,
		TargetID:   target,
		Type:       asString(p["type"]),
		DocumentID: asString(p["document_id"]),
		Properties: props,
		Confidence: asFloat(p["confidence"]),
		CreatedAt:  parseTime(asString(p["created_at"])),
	}, nil
}

func encodeProps(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("encoding properties: %w", err)
	}
	return string(b), nil
}

func decodeProps(s string) (map[string]any, error) {
	if s == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("decoding properties: %w", err)
	}
	return m, nil
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}

func asFloat(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int64:
		return float64(t)
	}
	return 0
}

func asInt(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case float64:
		return int64(t)
	}
	return 0
}

func asStrings(v interface{}) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []interface{}:
		out := make([]string, 0, len(t))
		for _, x := range t {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	}
	return nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
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

func lowerName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
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
