package coordinator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tenonworks/tenon/internal/worker"
	"github.com/tenonworks/tenon/pkg/drawingboard"
)

// ruleEngineName attributes automatic corrective transactions on the board.
const ruleEngineName = "rule_engine"

// resolveConflicts runs the evaluate-resolve loop: each pass evaluates the
// rule set, applies automatic fixes, and arbitrates rule violations that two
// or more of the turn's proposals caused. The loop stops when the board is
// clean, when a pass makes no progress, or after MaxResolutionPasses.
// Whatever is left is returned for the caller to surface.
func (c *Coordinator) resolveConflicts(ctx context.Context, snap *drawingboard.Snapshot, candidates []worker.Candidate) (*drawingboard.Snapshot, []drawingboard.Conflict, error) {
	for pass := 0; pass < c.opts.MaxResolutionPasses; pass++ {
		conflicts := c.engine.Evaluate(snap.Document)
		if len(conflicts) == 0 {
			return snap, nil, nil
		}

		progress := false
		for _, conflict := range conflicts {
			newSnap, resolved, err := c.resolveOne(ctx, snap, conflict, candidates)
			if err != nil {
				return nil, nil, err
			}
			if resolved {
				snap = newSnap
				progress = true
				c.bus.InvalidateCache()
			}
		}

		c.logEvent("resolution_pass", map[string]any{
			"pass":      pass + 1,
			"conflicts": len(conflicts),
			"progress":  progress,
		})
		if !progress {
			break
		}
	}

	unresolved := c.engine.Evaluate(snap.Document)
	for i := range unresolved {
		unresolved[i].InvolvedWorkers = c.involvedWorkers(unresolved[i], candidates)
	}
	return snap, unresolved, nil
}

// resolveOne settles a single conflict: an automatic fix when the rule
// carries one, arbitration when two or more proposals are implicated,
// otherwise nothing.
func (c *Coordinator) resolveOne(ctx context.Context, snap *drawingboard.Snapshot, conflict drawingboard.Conflict, candidates []worker.Candidate) (*drawingboard.Snapshot, bool, error) {
	if conflict.AutoFix != nil {
		fixed := conflict.AutoFix(snap.Document)
		updates := diffDocuments(snap.Document, fixed)
		if len(updates) == 0 {
			return snap, false, nil
		}

		newSnap, applied, err := c.commit(ctx, drawingboard.Transaction{
			Worker:          ruleEngineName,
			Updates:         updates,
			ExpectedVersion: snap.Version,
			Reason:          fmt.Sprintf("automatic fix for %s", conflict.Rule),
		})
		if err != nil || !applied {
			return snap, false, err
		}
		c.logEvent("conflict_fixed", map[string]any{
			"rule":    conflict.Rule,
			"updates": len(updates),
		})
		return newSnap, true, nil
	}

	involved := involvedCandidates(c.involvedWorkers(conflict, candidates), candidates)
	if len(involved) < 2 {
		return snap, false, nil
	}

	winner, err := c.bus.ResolveConflict(ctx, conflict.Description, involved)
	if err != nil {
		return snap, false, nil
	}
	newSnap, applied, err := c.commit(ctx, drawingboard.Transaction{
		Worker:          winner.Worker,
		Updates:         winner.Updates,
		ExpectedVersion: snap.Version,
		Reason:          fmt.Sprintf("arbitration winner for %s", conflict.Rule),
	})
	if err != nil || !applied {
		return snap, false, err
	}
	return newSnap, true, nil
}

// involvedWorkers attributes a rule conflict to the turn proposals that
// wrote the paths the rule reads.
func (c *Coordinator) involvedWorkers(conflict drawingboard.Conflict, candidates []worker.Candidate) []string {
	if len(conflict.InvolvedWorkers) > 0 {
		return conflict.InvolvedWorkers
	}

	var reads []string
	for _, r := range c.engine.Rules() {
		if r.Name() == conflict.Rule {
			reads = r.Reads()
			break
		}
	}
	if len(reads) == 0 {
		return nil
	}

	var out []string
	for _, cand := range candidates {
		for path := range cand.Updates {
			if overlapsAny(path, reads) {
				out = append(out, cand.Worker)
				break
			}
		}
	}
	return out
}

func involvedCandidates(workers []string, candidates []worker.Candidate) []worker.Candidate {
	named := make(map[string]bool, len(workers))
	for _, w := range workers {
		named[w] = true
	}
	var out []worker.Candidate
	for _, cand := range candidates {
		if named[cand.Worker] {
			out = append(out, cand)
		}
	}
	return out
}

func overlapsAny(path string, reads []string) bool {
	for _, r := range reads {
		if drawingboard.PathsOverlap(path, r) {
			return true
		}
	}
	return false
}

// diffDocuments returns the dotted-path updates that turn before into after.
// Fixes only change values; removed leaves are not diffed.
func diffDocuments(before, after drawingboard.Document) map[string]any {
	updates := make(map[string]any)
	for _, leaf := range drawingboard.FlattenUpdates(after) {
		prev, had := drawingboard.GetPath(before, leaf.Path)
		if !had || !leafEqual(prev, leaf.Value) {
			updates[leaf.Path] = leaf.Value
		}
	}
	return updates
}

func leafEqual(a, b any) bool {
	rawA, errA := json.Marshal(a)
	rawB, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(rawA) == string(rawB)
}
