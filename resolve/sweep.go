package resolve

import (
	"context"
	"fmt"
	"log/slog"
)

// SweepReport summarises a pass over persisted pronoun nodes.
type SweepReport struct {
	Found      int           `json:"found"`
	Merged     int           `json:"merged"`
	Unresolved int           `json:"unresolved"`
	Failed     int           `json:"failed"`
	Merges     []MergeReport `json:"merges,omitempty"`
}

// SweepPersistedPronouns merges nodes that were persisted under a pronoun
// or generic phrase into their canonical counterpart. Nodes without a
// target are left alone. Per-node failures are logged and counted.
func (n *CoreferenceNormalizer) SweepPersistedPronouns(ctx context.Context, g GraphStore, m *MergeExecutor, documentContext string, log *slog.Logger) (SweepReport, error) {
	if log == nil {
		log = slog.Default()
	}
	var report SweepReport

	lctx, cancel := m.bounded(ctx)
	nodes, err := g.EntitiesByNames(lctx, n.PersistedPhrases())
	cancel()
	if err != nil {
		return report, fmt.Errorf("resolve.SweepPersistedPronouns: listing nodes: %w", err)
	}
	report.Found = len(nodes)

	for _, node := range nodes {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		target := n.sweepTarget(ctx, g, m, node, documentContext, log)
		if target == nil {
			report.Unresolved++
			log.Info("resolve: no canonical target for pronoun node",
				"id", node.ID, "name", node.Name, "context", documentContext)
			continue
		}

		mr, err := m.Merge(ctx, node.ID, target.ID)
		if err != nil {
			report.Failed++
			log.Warn("resolve: pronoun merge failed",
				"id", node.ID, "name", node.Name, "target_id", target.ID, "error", err)
			continue
		}
		report.Merged++
		report.Merges = append(report.Merges, mr)
	}

	log.Info("resolve: pronoun sweep finished",
		"found", report.Found, "merged", report.Merged,
		"unresolved", report.Unresolved, "failed", report.Failed)
	return report, nil
}

func (n *CoreferenceNormalizer) sweepTarget(ctx context.Context, g GraphStore, m *MergeExecutor, node Entity, documentContext string, log *slog.Logger) *Entity {
	for _, name := range n.sweepTargets(node.Name, documentContext) {
		lctx, cancel := m.bounded(ctx)
		e, err := g.FindEntityByName(lctx, name, "")
		cancel()
		if err != nil {
			log.Warn("resolve: sweep target lookup failed", "name", name, "error", err)
			continue
		}
		if e != nil && e.ID != node.ID {
			return e
		}
	}
	return nil
}
