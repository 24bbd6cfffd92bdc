package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// mergeNamespace seeds the deterministic ids of rewired edges, so that
// re-running an interrupted merge overwrites instead of duplicating.
var mergeNamespace = uuid.MustParse("5b0c6f64-2f8e-4a63-9d0e-6b1f3c9a7e21")

// MergeReport describes what a merge did.
type MergeReport struct {
	SourceID         string `json:"source_id"`
	TargetID         string `json:"target_id"`
	Rewired          int    `json:"rewired"`
	SelfLoopsSkipped int    `json:"self_loops_skipped"`
	SourceDeleted    bool   `json:"source_deleted"`
}

// MergeExecutor moves every edge of one node onto another and deletes the
// emptied node.
type MergeExecutor struct {
	store   GraphStore
	timeout time.Duration
	log     *slog.Logger
	metrics *Metrics
}

// MergeOption customises a MergeExecutor.
type MergeOption func(*MergeExecutor)

func WithMergeLogger(l *slog.Logger) MergeOption {
	return func(m *MergeExecutor) { m.log = l }
}

func WithMergeMetrics(mt *Metrics) MergeOption {
	return func(m *MergeExecutor) { m.metrics = mt }
}

// NewMergeExecutor creates a merge executor. Each store call is bounded
// by timeout.
func NewMergeExecutor(g GraphStore, timeout time.Duration, opts ...MergeOption) *MergeExecutor {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	m := &MergeExecutor{store: g, timeout: timeout, log: slog.Default()}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *MergeExecutor) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.timeout)
}

// Merge folds sourceID into targetID. A missing source is a no-op. When
// any edge fails to move the source is kept and the joined error returned
// alongside a partial report; calling Merge again finishes the job.
func (m *MergeExecutor) Merge(ctx context.Context, sourceID, targetID string) (MergeReport, error) {
	report := MergeReport{SourceID: sourceID, TargetID: targetID}
	if sourceID == targetID {
		m.metrics.merge("rejected")
		return report, ErrSelfMerge
	}

	cctx, cancel := m.bounded(ctx)
	target, err := m.store.GetEntity(cctx, targetID)
	cancel()
	if err != nil {
		m.metrics.merge("failed")
		return report, fmt.Errorf("resolve.Merge: loading target %s: %w", targetID, err)
	}
	if target == nil {
		m.metrics.merge("rejected")
		return report, fmt.Errorf("resolve.Merge: target %s: %w", targetID, ErrEntityNotFound)
	}

	cctx, cancel = m.bounded(ctx)
	source, err := m.store.GetEntity(cctx, sourceID)
	cancel()
	if err != nil {
		m.metrics.merge("failed")
		return report, fmt.Errorf("resolve.Merge: loading source %s: %w", sourceID, err)
	}
	if source == nil {
		m.metrics.merge("noop")
		return report, nil
	}

	cctx, cancel = m.bounded(ctx)
	edges, err := m.store.IncidentRelationships(cctx, sourceID)
	cancel()
	if err != nil {
		m.metrics.merge("failed")
		return report, fmt.Errorf("resolve.Merge: listing edges of %s: %w", sourceID, err)
	}

	var errs []error
	for _, e := range edges {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		moved, err := m.rewire(ctx, e, sourceID, targetID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if moved {
			report.Rewired++
		} else {
			report.SelfLoopsSkipped++
		}
	}

	if len(errs) > 0 {
		m.metrics.merge("partial")
		m.log.Warn("resolve: merge incomplete, source kept",
			"source_id", sourceID, "target_id", targetID, "rewired", report.Rewired, "failures", len(errs))
		return report, fmt.Errorf("resolve.Merge: %s into %s: %w", sourceID, targetID, errors.Join(errs...))
	}

	cctx, cancel = m.bounded(ctx)
	err = m.store.DeleteEntity(cctx, sourceID)
	cancel()
	if err != nil {
		m.metrics.merge("partial")
		return report, fmt.Errorf("resolve.Merge: deleting %s: %w", sourceID, err)
	}
	report.SourceDeleted = true
	m.metrics.merge("merged")
	m.log.Info("resolve: merged entity",
		"source_id", sourceID, "source_name", source.Name,
		"target_id", targetID, "target_name", target.Name,
		"rewired", report.Rewired, "self_loops", report.SelfLoopsSkipped)
	return report, nil
}

// rewire recreates e with sourceID replaced by targetID and deletes the
// original. It reports false when the edge would become a self-loop on
// the target, in which case it is only deleted.
func (m *MergeExecutor) rewire(ctx context.Context, e Relationship, sourceID, targetID string) (bool, error) {
	src, tgt := e.SourceID, e.TargetID
	if src == sourceID {
		src = targetID
	}
	if tgt == sourceID {
		tgt = targetID
	}

	if src == tgt {
		cctx, cancel := m.bounded(ctx)
		defer cancel()
		if err := m.store.DeleteRelationship(cctx, e.ID); err != nil {
			return false, fmt.Errorf("dropping self-loop %s: %w", e.ID, err)
		}
		return false, nil
	}

	props := copyProperties(e.Properties)
	if props == nil {
		props = make(map[string]any, 1)
	}
	props[MergedFromProperty] = sourceID

	moved := &Relationship{
		ID:         uuid.NewSHA1(mergeNamespace, []byte(e.ID)).String(),
		SourceID:   src,
		TargetID:   tgt,
		Type:       e.Type,
		DocumentID: e.DocumentID,
		Properties: props,
		Confidence: e.Confidence,
		CreatedAt:  e.CreatedAt,
	}

	cctx, cancel := m.bounded(ctx)
	err := m.store.UpsertRelationship(cctx, moved)
	cancel()
	if err != nil {
		return false, fmt.Errorf("recreating edge %s: %w", e.ID, err)
	}

	cctx, cancel = m.bounded(ctx)
	defer cancel()
	if err := m.store.DeleteRelationship(cctx, e.ID); err != nil {
		return false, fmt.Errorf("deleting edge %s: %w", e.ID, err)
	}
	return true, nil
}
