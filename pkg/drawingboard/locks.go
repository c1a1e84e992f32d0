package drawingboard

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// AcquireLock claims advisory write exclusion over a set of dotted property
// paths. Acquisition is all-or-nothing: if any requested path overlaps a live
// lock, the grant is refused and Conflicts lists every already-locked path
// with its current owner. Acquisition never blocks or queues; backoff and
// retry policy is the caller's.
//
// Ownership is time-boxed: the lock auto-expires after the store's lock TTL
// even if the owner never calls ReleaseLock, so a crashed or hung worker
// cannot deadlock the session.
func (s *Store) AcquireLock(ctx context.Context, worker string, paths []string) (*LockGrant, error) {
	if worker == "" {
		return nil, fmt.Errorf("lock owner cannot be empty")
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("lock must cover at least one path")
	}
	for _, p := range paths {
		if p == "" {
			return nil, fmt.Errorf("lock path cannot be empty")
		}
	}

	if err := s.acquireGate(ctx); err != nil {
		return nil, err
	}
	defer s.releaseGate()

	live, err := s.liveLocks(ctx)
	if err != nil {
		return nil, err
	}

	var conflicts []Conflict
	for _, lock := range live {
		for _, lockedPath := range lock.Paths {
			for _, requested := range paths {
				if PathsOverlap(lockedPath, requested) {
					conflicts = append(conflicts, Conflict{
						Type:            ConflictPropertyLocked,
						Severity:        SeverityMedium,
						InvolvedWorkers: []string{worker, lock.Owner},
						Path:            lockedPath,
						Description: fmt.Sprintf("property %q is already locked by %q",
							lockedPath, lock.Owner),
					})
					break
				}
			}
		}
	}
	if len(conflicts) > 0 {
		return &LockGrant{Granted: false, Conflicts: conflicts}, nil
	}

	now := time.Now()
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)

	lock := Lock{
		ID:           uuid.New().String(),
		Owner:        worker,
		Paths:        sorted,
		AcquiredAtMs: now.UnixMilli(),
		ExpiresAtMs:  now.Add(s.lockTTL).UnixMilli(),
	}

	raw, err := json.Marshal(lock)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock: %w", err)
	}
	if err := s.rdb.HSet(ctx, LocksKey(s.session), lock.ID, raw).Err(); err != nil {
		return nil, fmt.Errorf("failed to write lock: %w", err)
	}

	return &LockGrant{Granted: true, LockID: lock.ID}, nil
}

// ReleaseLock releases a lock by id. Idempotent: releasing an unknown or
// already-expired id is a no-op returning false, not an error.
func (s *Store) ReleaseLock(ctx context.Context, lockID string) (bool, error) {
	if err := s.acquireGate(ctx); err != nil {
		return false, err
	}
	defer s.releaseGate()

	raw, err := s.rdb.HGet(ctx, LocksKey(s.session), lockID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read lock: %w", err)
	}

	var lock Lock
	if err := json.Unmarshal([]byte(raw), &lock); err != nil {
		return false, fmt.Errorf("failed to unmarshal lock: %w", err)
	}

	if err := s.rdb.HDel(ctx, LocksKey(s.session), lockID).Err(); err != nil {
		return false, fmt.Errorf("failed to delete lock: %w", err)
	}

	// An expired lock was already released from the callers' point of view.
	if lock.ExpiresAtMs <= time.Now().UnixMilli() {
		return false, nil
	}
	return true, nil
}

// Locks returns all live locks, oldest first. Expired locks are pruned.
func (s *Store) Locks(ctx context.Context) ([]Lock, error) {
	if err := s.acquireGate(ctx); err != nil {
		return nil, err
	}
	defer s.releaseGate()
	return s.liveLocks(ctx)
}

// liveLocks reads the lock registry, prunes expired entries, and returns the
// remaining live locks sorted by acquisition time. Caller must hold the gate.
func (s *Store) liveLocks(ctx context.Context) ([]Lock, error) {
	raw, err := s.rdb.HGetAll(ctx, LocksKey(s.session)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read locks: %w", err)
	}

	nowMs := time.Now().UnixMilli()
	var live []Lock
	var expired []string
	for id, v := range raw {
		var lock Lock
		if err := json.Unmarshal([]byte(v), &lock); err != nil {
			return nil, fmt.Errorf("failed to unmarshal lock %s: %w", id, err)
		}
		if lock.ExpiresAtMs <= nowMs {
			expired = append(expired, id)
			continue
		}
		live = append(live, lock)
	}

	if len(expired) > 0 {
		if err := s.rdb.HDel(ctx, LocksKey(s.session), expired...).Err(); err != nil {
			return nil, fmt.Errorf("failed to prune expired locks: %w", err)
		}
	}

	sort.Slice(live, func(i, j int) bool {
		if live[i].AcquiredAtMs != live[j].AcquiredAtMs {
			return live[i].AcquiredAtMs < live[j].AcquiredAtMs
		}
		return live[i].ID < live[j].ID
	})
	return live, nil
}
