package resolve

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
)

// memStore is an in-memory GraphStore. score overrides the similarity
// used by SearchSimilarEntities so tests can pin exact values.
type memStore struct {
	mu sync.Mutex

	entities map[string]*Entity
	order    []string
	rels     map[string]*Relationship
	relOrder []string
	known    map[string]bool

	score func(query string, e Entity) float64

	failEntityUpserts int
	failRelUpserts    int
	findErr           error
	searchErr         error
	relFindErr        error
	entityUpserts     int
}

func newMemStore() *memStore {
	return &memStore{
		entities: make(map[string]*Entity),
		rels:     make(map[string]*Relationship),
		known:    make(map[string]bool),
	}
}

var errInjected = errors.New("injected failure")

func cloneEntity(e *Entity) Entity {
	out := *e
	out.Properties = copyProperties(e.Properties)
	out.Aliases = append([]string(nil), e.Aliases...)
	return out
}

func cloneRel(r *Relationship) Relationship {
	out := *r
	out.Properties = copyProperties(r.Properties)
	return out
}

func (s *memStore) put(e Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.known["e:"+e.ID] {
		s.known["e:"+e.ID] = true
		s.order = append(s.order, e.ID)
	}
	s.entities[e.ID] = &e
}

func (s *memStore) putRel(r Relationship) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.known["r:"+r.ID] {
		s.known["r:"+r.ID] = true
		s.relOrder = append(s.relOrder, r.ID)
	}
	s.rels[r.ID] = &r
}

func (s *memStore) UpsertEntity(_ context.Context, e *Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failEntityUpserts > 0 {
		s.failEntityUpserts--
		return errInjected
	}
	s.entityUpserts++
	if !s.known["e:"+e.ID] {
		s.known["e:"+e.ID] = true
		s.order = append(s.order, e.ID)
	}
	c := cloneEntity(e)
	s.entities[e.ID] = &c
	return nil
}

func (s *memStore) GetEntity(_ context.Context, id string) (*Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if !ok {
		return nil, nil
	}
	c := cloneEntity(e)
	return &c, nil
}

func (s *memStore) FindEntityByName(_ context.Context, name, typ string) (*Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findErr != nil {
		return nil, s.findErr
	}
	for _, id := range s.order {
		e, ok := s.entities[id]
		if !ok {
			continue
		}
		if strings.EqualFold(e.Name, name) && (typ == "" || strings.EqualFold(e.Type, typ)) {
			c := cloneEntity(e)
			return &c, nil
		}
	}
	return nil, nil
}

func (s *memStore) SearchSimilarEntities(_ context.Context, name, typ string, limit int) ([]ScoredEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.searchErr != nil {
		return nil, s.searchErr
	}
	var out []ScoredEntity
	for _, id := range s.order {
		e, ok := s.entities[id]
		if !ok || (typ != "" && !strings.EqualFold(e.Type, typ)) {
			continue
		}
		var score float64
		if s.score != nil {
			score = s.score(name, *e)
		} else {
			score = SequenceRatio.Similarity(name, e.Name)
		}
		if score > 0 {
			out = append(out, ScoredEntity{Entity: cloneEntity(e), Score: score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) EntitiesByNames(_ context.Context, names []string) ([]Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[normalizeKey(n)] = true
	}
	var out []Entity
	for _, id := range s.order {
		if e, ok := s.entities[id]; ok && want[normalizeKey(e.Name)] {
			out = append(out, cloneEntity(e))
		}
	}
	return out, nil
}

func (s *memStore) DeleteEntity(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entities, id)
	for rid, r := range s.rels {
		if r.SourceID == id || r.TargetID == id {
			delete(s.rels, rid)
		}
	}
	return nil
}

func (s *memStore) FindRelationship(_ context.Context, src, tgt, typ string) (*Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.relFindErr != nil {
		return nil, s.relFindErr
	}
	for _, id := range s.relOrder {
		r, ok := s.rels[id]
		if ok && r.SourceID == src && r.TargetID == tgt && strings.EqualFold(r.Type, typ) {
			c := cloneRel(r)
			return &c, nil
		}
	}
	return nil, nil
}

func (s *memStore) UpsertRelationship(_ context.Context, r *Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failRelUpserts > 0 {
		s.failRelUpserts--
		return errInjected
	}
	if !s.known["r:"+r.ID] {
		s.known["r:"+r.ID] = true
		s.relOrder = append(s.relOrder, r.ID)
	}
	c := cloneRel(r)
	s.rels[r.ID] = &c
	return nil
}

func (s *memStore) IncidentRelationships(_ context.Context, id string) ([]Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Relationship
	for _, rid := range s.relOrder {
		r, ok := s.rels[rid]
		if ok && (r.SourceID == id || r.TargetID == id) {
			out = append(out, cloneRel(r))
		}
	}
	return out, nil
}

func (s *memStore) DeleteRelationship(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rels, id)
	return nil
}

func (s *memStore) EntityTypes(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, id := range s.order {
		if e, ok := s.entities[id]; ok && !seen[e.Type] {
			seen[e.Type] = true
			out = append(out, e.Type)
		}
	}
	return out, nil
}

func (s *memStore) RelationshipTypes(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, id := range s.relOrder {
		if r, ok := s.rels[id]; ok && !seen[r.Type] {
			seen[r.Type] = true
			out = append(out, r.Type)
		}
	}
	return out, nil
}

func (s *memStore) Stats(context.Context) (GraphStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return GraphStats{Entities: len(s.entities), Relationships: len(s.rels)}, nil
}

func (s *memStore) entityCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entities)
}

func (s *memStore) relCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rels)
}

func (s *memStore) namedCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.entities {
		if strings.EqualFold(e.Name, name) {
			n++
		}
	}
	return n
}

// scoreTable scores stored entities by id; unknown ids score zero.
func scoreTable(scores map[string]float64) func(string, Entity) float64 {
	return func(_ string, e Entity) float64 {
		return scores[e.ID]
	}
}

// stallingStore blocks every read until the caller's context ends.
// Writes go straight to the embedded memStore.
type stallingStore struct {
	*memStore
}

func (s stallingStore) FindEntityByName(ctx context.Context, _, _ string) (*Entity, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s stallingStore) SearchSimilarEntities(ctx context.Context, _, _ string, _ int) ([]ScoredEntity, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s stallingStore) EntitiesByNames(ctx context.Context, _ []string) ([]Entity, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s stallingStore) FindRelationship(ctx context.Context, _, _, _ string) (*Relationship, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}
