package drawingboard

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// constraintsPrefix routes transaction update paths into the constraints
// record instead of the design document.
const constraintsPrefix = "constraints."

// Transact applies one atomic, versioned write to the drawing board.
//
// The transaction is rejected (Accepted=false, no partial application) when:
//   - ExpectedVersion is set and differs from the current version
//     (one stale_version conflict; caller must re-read and retry), or
//   - any touched path overlaps a live lock owned by a different worker
//     (one property_locked conflict per locked path).
//
// On success all field writes apply atomically, one ChangeRecord is appended
// per leaf field actually changed, the version increments by exactly one, a
// change event is published, and pending in-process subscribers are notified
// via a debounced batch.
func (s *Store) Transact(ctx context.Context, tx Transaction) (*TransactResult, error) {
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transaction: %w", err)
	}

	if err := s.acquireGate(ctx); err != nil {
		return nil, err
	}
	defer s.releaseGate()

	cur, err := s.readState(ctx)
	if err != nil {
		return nil, err
	}

	if tx.ExpectedVersion != VersionAny && tx.ExpectedVersion != cur.Version {
		return &TransactResult{
			Accepted:   false,
			NewVersion: cur.Version,
			Conflicts: []Conflict{{
				Type:            ConflictStaleVersion,
				Severity:        SeverityMedium,
				InvolvedWorkers: []string{tx.Worker},
				Description: fmt.Sprintf("stale version: expected %d, current is %d",
					tx.ExpectedVersion, cur.Version),
			}},
		}, nil
	}

	leaves := FlattenUpdates(tx.Updates)

	lockConflicts, err := s.lockConflicts(ctx, tx.Worker, leaves)
	if err != nil {
		return nil, err
	}
	if len(lockConflicts) > 0 {
		return &TransactResult{
			Accepted:   false,
			NewVersion: cur.Version,
			Conflicts:  lockConflicts,
		}, nil
	}

	newVersion := cur.Version + 1
	nowMs := time.Now().UnixMilli()

	var records []ChangeRecord
	var changedPaths []string
	for _, leaf := range leaves {
		target := map[string]any(cur.Document)
		relPath := leaf.Path
		if strings.HasPrefix(leaf.Path, constraintsPrefix) {
			target = map[string]any(cur.Constraints)
			relPath = strings.TrimPrefix(leaf.Path, constraintsPrefix)
		} else if leaf.Path == "constraints" {
			return nil, fmt.Errorf("constraints updates must address a leaf path under %q", constraintsPrefix)
		}

		prev, existed := GetPath(target, relPath)
		value := normalize(leaf.Value)
		if existed && valuesEqual(prev, value) {
			continue
		}
		SetPath(target, relPath, value)

		records = append(records, ChangeRecord{
			Worker:        tx.Worker,
			TimestampMs:   nowMs,
			Path:          leaf.Path,
			PreviousValue: prev,
			NewValue:      value,
			Reason:        tx.Reason,
			Version:       newVersion,
		})
		changedPaths = append(changedPaths, leaf.Path)
	}

	next := &Snapshot{Document: cur.Document, Constraints: cur.Constraints, Version: newVersion}
	hash, err := stateToHash(next)
	if err != nil {
		return nil, err
	}

	var snapJSON []byte
	if newVersion%s.snapshotInterval == 0 {
		snapJSON, err = json.Marshal(next)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
		}
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, StateKey(s.session), hash)
		for _, r := range records {
			raw, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("failed to marshal change record: %w", err)
			}
			pipe.LPush(ctx, HistoryKey(s.session), raw)
		}
		pipe.LTrim(ctx, HistoryKey(s.session), 0, int64(s.historyCapacity)-1)
		if snapJSON != nil {
			pipe.Set(ctx, SnapshotKey(s.session, newVersion), snapJSON, 0)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.publishChangeEvent(ctx, ChangeEvent{
		Worker:  tx.Worker,
		Version: newVersion,
		Paths:   changedPaths,
		Reason:  tx.Reason,
		AtMs:    nowMs,
	})
	s.notifier.notify(next, records)

	return &TransactResult{Accepted: true, NewVersion: newVersion}, nil
}

// lockConflicts returns one property_locked conflict per live locked path
// (owned by another worker) that overlaps any touched leaf path.
func (s *Store) lockConflicts(ctx context.Context, worker string, leaves []PathValue) ([]Conflict, error) {
	live, err := s.liveLocks(ctx)
	if err != nil {
		return nil, err
	}

	var conflicts []Conflict
	for _, lock := range live {
		if lock.Owner == worker {
			continue
		}
		for _, lockedPath := range lock.Paths {
			for _, leaf := range leaves {
				if PathsOverlap(lockedPath, leaf.Path) {
					conflicts = append(conflicts, Conflict{
						Type:            ConflictPropertyLocked,
						Severity:        SeverityMedium,
						InvolvedWorkers: []string{worker, lock.Owner},
						Path:            lockedPath,
						Description: fmt.Sprintf("property %q is locked by %q until lock %s expires",
							lockedPath, lock.Owner, lock.ID),
					})
					break
				}
			}
		}
	}
	return conflicts, nil
}
