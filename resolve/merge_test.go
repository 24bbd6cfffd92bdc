package resolve

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func graphForMerge() *memStore {
	s := newMemStore()
	for _, id := range []string{"a", "b", "c1", "c2", "c3", "d1", "d2", "e"} {
		s.put(Entity{ID: id, Name: "node " + id, Type: "CONCEPT"})
	}
	s.putRel(Relationship{ID: "a-c1", SourceID: "a", TargetID: "c1", Type: "USES", Properties: map[string]any{"weight": 2}})
	s.putRel(Relationship{ID: "a-c2", SourceID: "a", TargetID: "c2", Type: "USES"})
	s.putRel(Relationship{ID: "a-c3", SourceID: "a", TargetID: "c3", Type: "CALLS"})
	s.putRel(Relationship{ID: "d1-a", SourceID: "d1", TargetID: "a", Type: "DEPENDS_ON"})
	s.putRel(Relationship{ID: "d2-a", SourceID: "d2", TargetID: "a", Type: "DEPENDS_ON"})
	s.putRel(Relationship{ID: "b-e", SourceID: "b", TargetID: "e", Type: "USES"})
	return s
}

func TestMerge_PreservesEdges(t *testing.T) {
	s := graphForMerge()
	ctx := context.Background()
	before, _ := s.IncidentRelationships(ctx, "b")

	report, err := NewMergeExecutor(s, time.Second).Merge(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, 5, report.Rewired)
	assert.True(t, report.SourceDeleted)

	after, _ := s.IncidentRelationships(ctx, "b")
	assert.Len(t, after, len(before)+5)

	gone, _ := s.GetEntity(ctx, "a")
	assert.Nil(t, gone)

	var out, in int
	for _, e := range after {
		if e.ID == "b-e" {
			continue
		}
		assert.Equal(t, "a", e.Properties[MergedFromProperty])
		switch {
		case e.SourceID == "b":
			out++
		case e.TargetID == "b":
			in++
		}
		if e.TargetID == "c1" {
			assert.Equal(t, 2, e.Properties["weight"])
		}
	}
	assert.Equal(t, 3, out)
	assert.Equal(t, 2, in)
}

func TestMerge_SkipsSelfLoops(t *testing.T) {
	s := newMemStore()
	s.put(Entity{ID: "a", Name: "A"})
	s.put(Entity{ID: "b", Name: "B"})
	s.putRel(Relationship{ID: "ab", SourceID: "a", TargetID: "b", Type: "RELATED_TO"})
	s.putRel(Relationship{ID: "ba", SourceID: "b", TargetID: "a", Type: "RELATED_TO"})

	report, err := NewMergeExecutor(s, time.Second).Merge(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.Zero(t, report.Rewired)
	assert.Equal(t, 2, report.SelfLoopsSkipped)
	assert.Zero(t, s.relCount())
}

func TestMerge_IsSafeToRepeat(t *testing.T) {
	s := graphForMerge()
	m := NewMergeExecutor(s, time.Second)
	ctx := context.Background()

	_, err := m.Merge(ctx, "a", "b")
	require.NoError(t, err)
	edges := s.relCount()

	report, err := m.Merge(ctx, "a", "b")
	require.NoError(t, err)
	assert.Zero(t, report.Rewired)
	assert.False(t, report.SourceDeleted)
	assert.Equal(t, edges, s.relCount())
}

func TestMerge_PartialFailureKeepsSourceAndResumes(t *testing.T) {
	s := graphForMerge()
	s.failRelUpserts = 1
	m := NewMergeExecutor(s, time.Second)
	ctx := context.Background()

	report, err := m.Merge(ctx, "a", "b")
	require.Error(t, err)
	assert.ErrorIs(t, err, errInjected)
	assert.Equal(t, 4, report.Rewired)
	assert.False(t, report.SourceDeleted)
	src, _ := s.GetEntity(ctx, "a")
	assert.NotNil(t, src)

	report, err = m.Merge(ctx, "a", "b")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Rewired)
	assert.True(t, report.SourceDeleted)

	after, _ := s.IncidentRelationships(ctx, "b")
	assert.Len(t, after, 6)
}

func TestMerge_RecreatedEdgeIDsAreDeterministic(t *testing.T) {
	first := graphForMerge()
	second := graphForMerge()
	ctx := context.Background()
	_, err := NewMergeExecutor(first, time.Second).Merge(ctx, "a", "b")
	require.NoError(t, err)
	_, err = NewMergeExecutor(second, time.Second).Merge(ctx, "a", "b")
	require.NoError(t, err)

	a, _ := first.IncidentRelationships(ctx, "b")
	b, _ := second.IncidentRelationships(ctx, "b")
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].ID, b[i].ID)
	}
}

func TestMerge_Rejections(t *testing.T) {
	s := graphForMerge()
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	m := NewMergeExecutor(s, time.Second, WithMergeMetrics(metrics))
	ctx := context.Background()

	_, err := m.Merge(ctx, "a", "a")
	assert.ErrorIs(t, err, ErrSelfMerge)

	_, err = m.Merge(ctx, "a", "missing")
	assert.ErrorIs(t, err, ErrEntityNotFound)

	report, err := m.Merge(ctx, "missing", "b")
	require.NoError(t, err)
	assert.Zero(t, report.Rewired)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Merges.WithLabelValues("rejected")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Merges.WithLabelValues("noop")))
}
