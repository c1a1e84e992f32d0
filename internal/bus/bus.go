// Package bus implements the in-process message bus that routes queries,
// broadcasts, and arbitration between registered workers. Delivery is
// asynchronous: messages queue in priority order and a ticker loop drains
// them in batches, dispatching each to its target in its own goroutine.
package bus

import (
	"container/heap"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tenonworks/tenon/internal/worker"
	"github.com/tenonworks/tenon/pkg/drawingboard"
)

// Options tunes bus behavior. Zero values take the defaults below.
type Options struct {
	// TickInterval is how often the drain loop wakes up.
	TickInterval time.Duration

	// BatchSize caps how many messages one tick dispatches.
	BatchSize int

	// MaxRetries is the total delivery attempts per message.
	MaxRetries int

	// DefaultTimeout applies to queries that carry no TimeoutMs.
	DefaultTimeout time.Duration

	// CacheTTL bounds how long a successful query response is reused.
	CacheTTL time.Duration
}

func (o *Options) withDefaults() {
	if o.TickInterval <= 0 {
		o.TickInterval = 10 * time.Millisecond
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 8
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = 5 * time.Second
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = 5 * time.Minute
	}
}

// RegisterOptions configures one worker's registration.
type RegisterOptions struct {
	// Priority orders both queue drain and two-way conflict arbitration.
	Priority int

	// Defaults, when set, are the dotted-path updates synthesized into a
	// fallback proposal if the worker keeps failing. Workers without
	// defaults dead-letter instead.
	Defaults map[string]any

	// SafetyCritical marks validators whose failures must surface rather
	// than degrade silently.
	SafetyCritical bool
}

type registration struct {
	worker  worker.Worker
	handler worker.MessageHandler
	topics  []string
	opts    RegisterOptions

	queries     int64
	failures    int64
	retries     int64
	deadLetters int64
}

// DeadLetter records a message that exhausted its delivery attempts.
type DeadLetter struct {
	Message   drawingboard.Message `json:"message"`
	Attempts  int                  `json:"attempts"`
	LastError string               `json:"last_error"`
	AtMs      int64                `json:"at_ms"`
}

// WorkerStatus is one worker's registration and delivery counters.
type WorkerStatus struct {
	Priority       int   `json:"priority"`
	SafetyCritical bool  `json:"safety_critical"`
	Queries        int64 `json:"queries"`
	Failures       int64 `json:"failures"`
	Retries        int64 `json:"retries"`
	DeadLetters    int64 `json:"dead_letters"`
}

// Status is a point-in-time view of the bus for ops tooling.
type Status struct {
	RegisteredWorkers int                     `json:"registered_workers"`
	QueueDepth        int                     `json:"queue_depth"`
	CacheSize         int                     `json:"cache_size"`
	DeadLetters       int                     `json:"dead_letters"`
	Workers           map[string]WorkerStatus `json:"workers"`
}

// Bus routes messages between registered workers. Safe for concurrent use.
type Bus struct {
	opts Options

	mu          sync.Mutex
	workers     map[string]*registration
	queue       messageQueue
	seq         uint64
	deadLetters []DeadLetter
	closed      bool

	cache *responseCache
	trace *callTrace
}

// New creates a bus. Call Run to start delivery.
func New(opts Options) *Bus {
	opts.withDefaults()
	return &Bus{
		opts:    opts,
		workers: make(map[string]*registration),
		cache:   newResponseCache(opts.CacheTTL),
		trace:   newCallTrace(),
	}
}

// RegisterWorker adds a worker under its own name. Names are unique; a
// second registration under the same name fails with ErrDuplicateWorker.
func (b *Bus) RegisterWorker(w worker.Worker, opts RegisterOptions) error {
	if w == nil || w.Name() == "" {
		return fmt.Errorf("worker must have a non-empty name")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	name := w.Name()
	if _, exists := b.workers[name]; exists {
		return fmt.Errorf("%w: %q", ErrDuplicateWorker, name)
	}

	reg := &registration{worker: w, opts: opts}
	if h, ok := w.(worker.MessageHandler); ok {
		reg.handler = h
	}
	if ts, ok := w.(worker.TopicSubscriber); ok {
		reg.topics = ts.Topics()
	}
	b.workers[name] = reg

	b.logEvent("worker_registered", map[string]any{
		"worker":   name,
		"priority": opts.Priority,
		"topics":   reg.topics,
	})
	return nil
}

// Workers returns the registered worker names, sorted.
func (b *Bus) Workers() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.workers))
	for name := range b.workers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PriorityOf reports a registered worker's arbitration priority.
func (b *Bus) PriorityOf(name string) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	reg, ok := b.workers[name]
	if !ok {
		return 0, false
	}
	return reg.opts.Priority, true
}

// Run drains the queue until ctx is done. Each tick dispatches up to
// BatchSize messages, each in its own goroutine, highest priority first.
func (b *Bus) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.opts.TickInterval)
	defer ticker.Stop()

	b.logEvent("bus_started", map[string]any{
		"tick_interval": b.opts.TickInterval.String(),
		"batch_size":    b.opts.BatchSize,
	})

	for {
		select {
		case <-ctx.Done():
			b.shutdown()
			return ctx.Err()
		case <-ticker.C:
			b.drain(ctx)
		}
	}
}

// shutdown fails all queued waiters so nothing blocks forever.
func (b *Bus) shutdown() {
	b.mu.Lock()
	pending := make([]*envelope, len(b.queue))
	copy(pending, b.queue)
	b.queue = nil
	b.closed = true
	b.mu.Unlock()

	for _, env := range pending {
		deliver(env, outcome{err: ErrBusClosed})
	}
	b.logEvent("bus_stopped", map[string]any{"pending_failed": len(pending)})
}

func (b *Bus) drain(ctx context.Context) {
	b.mu.Lock()
	batch := make([]*envelope, 0, b.opts.BatchSize)
	for len(batch) < b.opts.BatchSize && len(b.queue) > 0 {
		batch = append(batch, heap.Pop(&b.queue).(*envelope))
	}
	b.mu.Unlock()

	for _, env := range batch {
		go b.dispatch(ctx, env)
	}
}

// enqueue adds an envelope for the next tick to drain.
func (b *Bus) enqueue(env *envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}
	b.seq++
	env.seq = b.seq
	heap.Push(&b.queue, env)
	return nil
}

func deliver(env *envelope, out outcome) {
	if env.result == nil {
		return
	}
	select {
	case env.result <- out:
	default:
	}
}

// dispatch invokes the target worker's handler, retrying failures until the
// attempt budget is spent, then falling back to the worker's registered
// defaults (proposal queries only) or the dead-letter list.
func (b *Bus) dispatch(ctx context.Context, env *envelope) {
	b.mu.Lock()
	reg, ok := b.workers[env.msg.ToWorker]
	if ok {
		reg.queries++
	}
	b.mu.Unlock()

	if !ok || reg.handler == nil {
		deliver(env, outcome{err: fmt.Errorf("%w: %q", ErrTargetNotFound, env.msg.ToWorker)})
		return
	}

	value, err := b.invoke(ctx, reg, env)
	if err == nil {
		deliver(env, outcome{value: value})
		return
	}

	// A cycle does not heal with retries; surface it to the waiter as is.
	if errors.Is(err, ErrCyclicQuery) {
		deliver(env, outcome{err: err})
		return
	}

	b.mu.Lock()
	reg.failures++
	env.attempts++
	exhausted := env.attempts >= b.opts.MaxRetries
	if !exhausted {
		reg.retries++
	}
	b.mu.Unlock()

	if !exhausted {
		b.logEvent("delivery_retry", map[string]any{
			"worker":  env.msg.ToWorker,
			"attempt": env.attempts,
			"error":   err.Error(),
		})
		if qerr := b.enqueue(env); qerr != nil {
			deliver(env, outcome{err: qerr})
		}
		return
	}

	if fallback, ok := b.fallbackProposal(reg, env.msg); ok {
		b.logEvent("default_provider_used", map[string]any{
			"worker": env.msg.ToWorker,
			"error":  err.Error(),
		})
		deliver(env, outcome{value: fallback})
		return
	}

	b.mu.Lock()
	reg.deadLetters++
	b.deadLetters = append(b.deadLetters, DeadLetter{
		Message:   env.msg,
		Attempts:  env.attempts,
		LastError: err.Error(),
		AtMs:      time.Now().UnixMilli(),
	})
	b.mu.Unlock()

	b.logEvent("message_dead_lettered", map[string]any{
		"worker":   env.msg.ToWorker,
		"attempts": env.attempts,
		"error":    err.Error(),
	})
	deliver(env, outcome{err: fmt.Errorf("%w: %s", ErrDeadLettered, err)})
}

// invoke calls the handler with the envelope's timeout and converts panics
// into errors so one misbehaving worker cannot take the bus down.
func (b *Bus) invoke(ctx context.Context, reg *registration, env *envelope) (value any, err error) {
	callCtx := ctx
	if env.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, env.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker %q panicked: %v", env.msg.ToWorker, r)
		}
	}()
	return reg.handler.HandleMessage(callCtx, env.msg)
}

// fallbackProposal synthesizes a proposal from the worker's registered
// defaults. Only proposal queries degrade this way.
func (b *Bus) fallbackProposal(reg *registration, msg drawingboard.Message) (*worker.Proposal, bool) {
	if len(reg.opts.Defaults) == 0 {
		return nil, false
	}
	if _, ok := msg.Payload.(worker.ProposalRequest); !ok {
		return nil, false
	}

	updates := make(map[string]any, len(reg.opts.Defaults))
	for path, v := range reg.opts.Defaults {
		updates[path] = v
	}
	return &worker.Proposal{
		Success:    true,
		Updates:    updates,
		Reasoning:  fmt.Sprintf("registered defaults for %q (worker unreachable)", reg.worker.Name()),
		Confidence: 0.3,
	}, true
}

// Query sends a payload to a target worker and waits for its response. The
// target must be registered; queries to unknown workers fail immediately
// rather than queueing. Identical queries within the cache window reuse the
// prior response. A proposal query that times out against a non-critical
// worker with registered defaults returns a synthesized default proposal
// instead of an error.
func (b *Bus) Query(ctx context.Context, msg drawingboard.Message) (any, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Kind == "" {
		msg.Kind = drawingboard.MessageKindQuery
	}
	msg.RequiresResponse = true

	if err := msg.Validate(); err != nil {
		return nil, err
	}
	if err := worker.ValidatePayload(msg.Payload); err != nil {
		return nil, err
	}

	b.mu.Lock()
	reg, registered := b.workers[msg.ToWorker]
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, ErrBusClosed
	}
	if !registered || reg.handler == nil {
		return nil, fmt.Errorf("%w: %q", ErrTargetNotFound, msg.ToWorker)
	}

	if err := b.trace.begin(msg.FromWorker, msg.ToWorker); err != nil {
		return nil, fmt.Errorf("%w: %s -> %s", err, msg.FromWorker, msg.ToWorker)
	}
	defer b.trace.end(msg.FromWorker, msg.ToWorker)

	key, cacheable := cacheKey(msg)
	if cacheable {
		if value, hit := b.cache.get(key); hit {
			return value, nil
		}
	}

	timeout := b.opts.DefaultTimeout
	if msg.TimeoutMs > 0 {
		timeout = time.Duration(msg.TimeoutMs) * time.Millisecond
	}

	env := &envelope{
		msg:      msg,
		priority: b.effectivePriority(msg),
		timeout:  timeout,
		result:   make(chan outcome, 1),
	}
	if err := b.enqueue(env); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-env.result:
		if out.err != nil {
			return nil, out.err
		}
		if cacheable {
			b.cache.put(key, out.value)
		}
		return out.value, nil
	case <-timer.C:
		// A hung non-critical worker degrades to its registered defaults
		// instead of stalling the caller. Safety-critical workers must fail
		// loudly, never silently substitute.
		if !reg.opts.SafetyCritical {
			if fallback, ok := b.fallbackProposal(reg, msg); ok {
				b.logEvent("default_provider_used", map[string]any{
					"worker": msg.ToWorker,
					"error":  fmt.Sprintf("query timed out after %s", timeout),
				})
				return fallback, nil
			}
		}
		return nil, fmt.Errorf("%w: no response from %q within %s", ErrTimeout, msg.ToWorker, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// effectivePriority prefers the message's own priority, falling back to the
// target worker's registered priority.
func (b *Bus) effectivePriority(msg drawingboard.Message) int {
	if msg.Priority != 0 {
		return msg.Priority
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if reg, ok := b.workers[msg.ToWorker]; ok {
		return reg.opts.Priority
	}
	return 0
}

// Broadcast fans a topic message out to every subscribed worker except the
// sender. Fire and forget: no responses, no retries. Returns how many
// workers were notified.
func (b *Bus) Broadcast(ctx context.Context, from, topic string, payload any) (int, error) {
	if topic == "" {
		return 0, fmt.Errorf("broadcast topic cannot be empty")
	}
	if from == "" {
		return 0, fmt.Errorf("broadcast sender cannot be empty")
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0, ErrBusClosed
	}
	var targets []string
	for name, reg := range b.workers {
		if name == from || reg.handler == nil {
			continue
		}
		for _, t := range reg.topics {
			if t == topic {
				targets = append(targets, name)
				break
			}
		}
	}
	b.mu.Unlock()
	sort.Strings(targets)

	for _, name := range targets {
		env := &envelope{
			msg: drawingboard.Message{
				ID:         uuid.New().String(),
				FromWorker: from,
				ToWorker:   name,
				Topic:      topic,
				Kind:       drawingboard.MessageKindBroadcast,
				Payload:    payload,
			},
			priority: b.effectivePriority(drawingboard.Message{ToWorker: name}),
		}
		if err := b.enqueue(env); err != nil {
			return 0, err
		}
	}

	b.logEvent("broadcast_sent", map[string]any{
		"from":      from,
		"topic":     topic,
		"delivered": len(targets),
	})
	return len(targets), nil
}

// RequestValidation queries the given validators in parallel and collects
// one result per validator. A validator that errors or times out yields a
// synthesized failed result instead of aborting the batch; targets defaults
// to every registered worker when empty.
func (b *Bus) RequestValidation(ctx context.Context, from string, req worker.ValidationRequest, targets ...string) []worker.ValidationResult {
	if len(targets) == 0 {
		targets = b.Workers()
	}

	results := make([]worker.ValidationResult, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range targets {
		i, name := i, name
		g.Go(func() error {
			out, err := b.Query(gctx, drawingboard.Message{
				FromWorker: from,
				ToWorker:   name,
				Payload:    req,
			})
			if err != nil {
				results[i] = worker.ValidationResult{Worker: name, Valid: false, Err: err.Error()}
				return nil
			}
			res, ok := out.(worker.ValidationResult)
			if !ok {
				results[i] = worker.ValidationResult{
					Worker: name,
					Valid:  false,
					Err:    fmt.Sprintf("unexpected validation response type %T", out),
				}
				return nil
			}
			results[i] = res
			return nil
		})
	}
	// Goroutines never return errors; failures become synthesized results.
	_ = g.Wait()

	return results
}

// ResolveConflict arbitrates between candidate proposals. One candidate wins
// by default; two candidates resolve by registered worker priority; more
// than two go to a vote among uninvolved workers. Every tie falls back to
// the first candidate submitted, so arbitration is deterministic.
func (b *Bus) ResolveConflict(ctx context.Context, description string, candidates []worker.Candidate) (worker.Candidate, error) {
	switch len(candidates) {
	case 0:
		return worker.Candidate{}, fmt.Errorf("no candidates to arbitrate")
	case 1:
		return candidates[0], nil
	case 2:
		winner := b.resolveByPriority(candidates)
		b.logEvent("conflict_resolved", map[string]any{
			"description": description,
			"method":      "priority",
			"winner":      winner.Worker,
		})
		return winner, nil
	default:
		winner := b.resolveByVote(ctx, description, candidates)
		b.logEvent("conflict_resolved", map[string]any{
			"description": description,
			"method":      "vote",
			"winner":      winner.Worker,
		})
		return winner, nil
	}
}

func (b *Bus) resolveByPriority(candidates []worker.Candidate) worker.Candidate {
	best := candidates[0]
	bestPriority, _ := b.PriorityOf(best.Worker)
	for _, cand := range candidates[1:] {
		p, _ := b.PriorityOf(cand.Worker)
		if p > bestPriority || (p == bestPriority && cand.Submitted < best.Submitted) {
			best, bestPriority = cand, p
		}
	}
	return best
}

func (b *Bus) resolveByVote(ctx context.Context, description string, candidates []worker.Candidate) worker.Candidate {
	involved := make(map[string]bool, len(candidates))
	for _, cand := range candidates {
		involved[cand.Worker] = true
	}

	var voters []string
	for _, name := range b.Workers() {
		if !involved[name] {
			voters = append(voters, name)
		}
	}

	tally := make([]int, len(candidates))
	req := worker.VoteRequest{Description: description, Candidates: candidates}
	for _, name := range voters {
		out, err := b.Query(ctx, drawingboard.Message{
			FromWorker: "arbiter",
			ToWorker:   name,
			Payload:    req,
		})
		if err != nil {
			continue
		}
		vote, ok := out.(worker.Vote)
		if !ok || vote.Candidate < 0 || vote.Candidate >= len(candidates) {
			continue
		}
		tally[vote.Candidate]++
	}

	winner := 0
	for i := 1; i < len(candidates); i++ {
		switch {
		case tally[i] > tally[winner]:
			winner = i
		case tally[i] == tally[winner] && candidates[i].Submitted < candidates[winner].Submitted:
			winner = i
		}
	}
	return candidates[winner]
}

// DeadLettered returns a copy of the dead-letter list.
func (b *Bus) DeadLettered() []DeadLetter {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]DeadLetter, len(b.deadLetters))
	copy(out, b.deadLetters)
	return out
}

// Status reports the bus's registration and delivery counters.
func (b *Bus) Status() Status {
	b.mu.Lock()
	defer b.mu.Unlock()

	workers := make(map[string]WorkerStatus, len(b.workers))
	for name, reg := range b.workers {
		workers[name] = WorkerStatus{
			Priority:       reg.opts.Priority,
			SafetyCritical: reg.opts.SafetyCritical,
			Queries:        reg.queries,
			Failures:       reg.failures,
			Retries:        reg.retries,
			DeadLetters:    reg.deadLetters,
		}
	}
	return Status{
		RegisteredWorkers: len(b.workers),
		QueueDepth:        len(b.queue),
		CacheSize:         b.cache.size(),
		DeadLetters:       len(b.deadLetters),
		Workers:           workers,
	}
}

// IsSafetyCritical reports whether a worker was registered safety-critical.
func (b *Bus) IsSafetyCritical(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	reg, ok := b.workers[name]
	return ok && reg.opts.SafetyCritical
}

// InvalidateCache drops all cached query responses, typically after a
// transaction changes the board state a cached answer was derived from.
func (b *Bus) InvalidateCache() {
	b.cache.clear()
}

// logEvent logs a structured event in JSON format.
func (b *Bus) logEvent(eventType string, data map[string]any) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "bus"
	data["event_type"] = eventType

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Bus] Failed to marshal log event: %v", err)
		return
	}
	log.Println(string(jsonData))
}
