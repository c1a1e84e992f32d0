package drawingboard

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options configures a Store. Zero values fall back to the defaults below.
type Options struct {
	// Redis holds the connection options (address, password, DB, etc.).
	Redis *redis.Options

	// Session is the design session identifier used to namespace all keys.
	Session string

	// LockTTL bounds lock ownership; expired locks auto-release. Default 5s.
	LockTTL time.Duration

	// HistoryCapacity bounds the change record ring. Default 100.
	HistoryCapacity int

	// SnapshotInterval controls how often rollback snapshots are captured:
	// one snapshot every N accepted transactions. Default 10.
	SnapshotInterval int64

	// DebounceWindow coalesces subscriber notifications arriving within the
	// window into one batched event. Default 50ms.
	DebounceWindow time.Duration
}

const (
	defaultLockTTL          = 5 * time.Second
	defaultHistoryCapacity  = 100
	defaultSnapshotInterval = 10
	defaultDebounceWindow   = 50 * time.Millisecond
)

// Store is the single source of truth for one design session. It is safe for
// concurrent use: an internal mutation gate serializes all writes, so no two
// transactions apply concurrently and the version counter increments by
// exactly one per accepted transaction.
type Store struct {
	rdb     *redis.Client
	session string

	lockTTL          time.Duration
	historyCapacity  int
	snapshotInterval int64

	// gate serializes all mutations (transactions, locks, rollback, reset).
	gate chan struct{}

	notifier *notifier
	closed   chan struct{}
}

// NewStore creates a drawing board store for the given session. The session
// has an explicit lifecycle: call Init once at session start, Reset between
// designs, and Close at session end.
func NewStore(opts Options) (*Store, error) {
	if opts.Session == "" {
		return nil, fmt.Errorf("session name cannot be empty")
	}
	if opts.Redis == nil {
		return nil, fmt.Errorf("redis options cannot be nil")
	}

	if opts.LockTTL <= 0 {
		opts.LockTTL = defaultLockTTL
	}
	if opts.HistoryCapacity <= 0 {
		opts.HistoryCapacity = defaultHistoryCapacity
	}
	if opts.SnapshotInterval <= 0 {
		opts.SnapshotInterval = defaultSnapshotInterval
	}
	if opts.DebounceWindow <= 0 {
		opts.DebounceWindow = defaultDebounceWindow
	}

	s := &Store{
		rdb:              redis.NewClient(opts.Redis),
		session:          opts.Session,
		lockTTL:          opts.LockTTL,
		historyCapacity:  opts.HistoryCapacity,
		snapshotInterval: opts.SnapshotInterval,
		gate:             make(chan struct{}, 1),
		notifier:         newNotifier(opts.DebounceWindow),
		closed:           make(chan struct{}),
	}
	return s, nil
}

// Close flushes pending subscriber notifications and closes the Redis
// connection. After Close the store must not be used. Implements io.Closer.
func (s *Store) Close() error {
	select {
	case <-s.closed:
		return nil
	default:
	}
	close(s.closed)
	s.notifier.stop()
	return s.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// Session returns the session name this store is scoped to.
func (s *Store) Session() string {
	return s.session
}

// Init writes the initial empty state (version 0) and its rollback snapshot
// if the session does not exist yet. Idempotent: an existing session is left
// untouched.
func (s *Store) Init(ctx context.Context) error {
	if err := s.acquireGate(ctx); err != nil {
		return err
	}
	defer s.releaseGate()

	exists, err := s.rdb.Exists(ctx, StateKey(s.session)).Result()
	if err != nil {
		return fmt.Errorf("failed to check session state: %w", err)
	}
	if exists > 0 {
		return nil
	}
	return s.writeInitialState(ctx)
}

// Reset clears every key belonging to the session and re-creates the initial
// empty state. Used between designs: the document's lifetime is one session.
func (s *Store) Reset(ctx context.Context) error {
	if err := s.acquireGate(ctx); err != nil {
		return err
	}
	defer s.releaseGate()

	keys, err := s.rdb.Keys(ctx, SessionPrefix(s.session)+"*").Result()
	if err != nil {
		return fmt.Errorf("failed to enumerate session keys: %w", err)
	}
	if len(keys) > 0 {
		if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to clear session keys: %w", err)
		}
	}
	return s.writeInitialState(ctx)
}

// writeInitialState writes the version-0 state hash and its snapshot.
// Caller must hold the gate.
func (s *Store) writeInitialState(ctx context.Context) error {
	initial := &Snapshot{Document: Document{}, Constraints: Constraints{}, Version: 0}
	hash, err := stateToHash(initial)
	if err != nil {
		return err
	}

	snapJSON, err := json.Marshal(initial)
	if err != nil {
		return fmt.Errorf("failed to marshal initial snapshot: %w", err)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, StateKey(s.session), hash)
		pipe.Set(ctx, SnapshotKey(s.session, 0), snapJSON, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write initial state: %w", err)
	}
	return nil
}

// Read returns a consistent point-in-time snapshot of the document,
// constraints and version. The snapshot is a deep copy; callers may mutate
// it freely without affecting the store.
func (s *Store) Read(ctx context.Context) (*Snapshot, error) {
	return s.readState(ctx)
}

// readState fetches and decodes the state hash. HGETALL is atomic, so the
// result is always a consistent view.
func (s *Store) readState(ctx context.Context) (*Snapshot, error) {
	hash, err := s.rdb.HGetAll(ctx, StateKey(s.session)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session state: %w", err)
	}
	if len(hash) == 0 {
		// Session not initialized yet; present the empty version-0 state.
		return &Snapshot{Document: Document{}, Constraints: Constraints{}, Version: 0}, nil
	}
	return hashToState(hash)
}

// RecordDecision stores a worker's live decision, overwriting any previous
// decision with the same (worker, decision type) key.
func (s *Store) RecordDecision(ctx context.Context, d Decision) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("invalid decision: %w", err)
	}

	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}

	field := decisionField(d.Worker, d.DecisionType)
	if err := s.rdb.HSet(ctx, DecisionsKey(s.session), field, raw).Err(); err != nil {
		return fmt.Errorf("failed to write decision: %w", err)
	}
	return nil
}

// Decision retrieves the live decision for a (worker, decision type) key.
// Returns (nil, nil) if no decision is recorded.
func (s *Store) Decision(ctx context.Context, worker, decisionType string) (*Decision, error) {
	raw, err := s.rdb.HGet(ctx, DecisionsKey(s.session), decisionField(worker, decisionType)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read decision: %w", err)
	}

	var d Decision
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decision: %w", err)
	}
	return &d, nil
}

// Decisions returns all live decisions, sorted by worker then decision type.
func (s *Store) Decisions(ctx context.Context) ([]Decision, error) {
	raw, err := s.rdb.HGetAll(ctx, DecisionsKey(s.session)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read decisions: %w", err)
	}

	decisions := make([]Decision, 0, len(raw))
	for _, v := range raw {
		var d Decision
		if err := json.Unmarshal([]byte(v), &d); err != nil {
			return nil, fmt.Errorf("failed to unmarshal decision: %w", err)
		}
		decisions = append(decisions, d)
	}

	sort.Slice(decisions, func(i, j int) bool {
		if decisions[i].Worker != decisions[j].Worker {
			return decisions[i].Worker < decisions[j].Worker
		}
		return decisions[i].DecisionType < decisions[j].DecisionType
	})
	return decisions, nil
}

// History returns up to limit change records, newest first. A limit <= 0
// returns the full ring.
func (s *Store) History(ctx context.Context, limit int) ([]ChangeRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	raw, err := s.rdb.LRange(ctx, HistoryKey(s.session), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	records := make([]ChangeRecord, 0, len(raw))
	for _, v := range raw {
		var r ChangeRecord
		if err := json.Unmarshal([]byte(v), &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal change record: %w", err)
		}
		records = append(records, r)
	}
	return records, nil
}

// acquireGate takes the mutation gate, respecting context cancellation.
func (s *Store) acquireGate(ctx context.Context) error {
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}

	select {
	case s.gate <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
		return ErrSessionClosed
	}
}

func (s *Store) releaseGate() {
	<-s.gate
}

// publishChangeEvent publishes a committed transaction to the session's
// change events channel. Publish failures are non-fatal: the transaction has
// already committed.
func (s *Store) publishChangeEvent(ctx context.Context, ev ChangeEvent) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	s.rdb.Publish(ctx, ChangeEventsChannel(s.session), raw)
}

// SubscribeChangeEvents subscribes to the session's committed-transaction
// channel. Returns the raw go-redis PubSub; callers own its lifecycle.
// Intended for ops tooling (tenon watch), not for in-process subscribers,
// which should use Subscribe.
func (s *Store) SubscribeChangeEvents(ctx context.Context) *redis.PubSub {
	return s.rdb.Subscribe(ctx, ChangeEventsChannel(s.session))
}
