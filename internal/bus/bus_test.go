package bus

import (
	"container/heap"
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenonworks/tenon/internal/worker"
	"github.com/tenonworks/tenon/pkg/drawingboard"
)

// stubWorker is a scriptable worker for bus tests.
type stubWorker struct {
	name   string
	topics []string
	handle func(ctx context.Context, msg drawingboard.Message) (any, error)
	calls  atomic.Int64
}

func (s *stubWorker) Name() string               { return s.name }
func (s *stubWorker) CanHandle(string) bool      { return true }
func (s *stubWorker) Topics() []string           { return s.topics }
func (s *stubWorker) Propose(ctx context.Context, input string, wctx worker.Context) (*worker.Proposal, error) {
	return &worker.Proposal{Success: true}, nil
}

func (s *stubWorker) HandleMessage(ctx context.Context, msg drawingboard.Message) (any, error) {
	s.calls.Add(1)
	if s.handle != nil {
		return s.handle(ctx, msg)
	}
	return &worker.Proposal{Success: true, Reasoning: "stub"}, nil
}

// startBus runs the drain loop for the duration of the test.
func startBus(t *testing.T, opts Options) *Bus {
	t.Helper()
	if opts.TickInterval == 0 {
		opts.TickInterval = time.Millisecond
	}
	b := New(opts)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return b
}

func proposalQuery(from, to string) drawingboard.Message {
	return drawingboard.Message{
		FromWorker: from,
		ToWorker:   to,
		Payload:    worker.ProposalRequest{Input: "design"},
	}
}

func TestRegisterWorker(t *testing.T) {
	b := New(Options{})

	require.NoError(t, b.RegisterWorker(&stubWorker{name: "dimension"}, RegisterOptions{Priority: 30}))
	assert.Equal(t, []string{"dimension"}, b.Workers())

	err := b.RegisterWorker(&stubWorker{name: "dimension"}, RegisterOptions{})
	assert.ErrorIs(t, err, ErrDuplicateWorker)

	p, ok := b.PriorityOf("dimension")
	require.True(t, ok)
	assert.Equal(t, 30, p)
}

func TestQueryRoundtrip(t *testing.T) {
	b := startBus(t, Options{})
	require.NoError(t, b.RegisterWorker(&stubWorker{name: "dimension"}, RegisterOptions{}))

	out, err := b.Query(context.Background(), proposalQuery("coordinator", "dimension"))
	require.NoError(t, err)

	prop, ok := out.(*worker.Proposal)
	require.True(t, ok)
	assert.True(t, prop.Success)
}

func TestQueryUnregisteredTargetFailsFast(t *testing.T) {
	b := startBus(t, Options{DefaultTimeout: 5 * time.Second})

	start := time.Now()
	_, err := b.Query(context.Background(), proposalQuery("coordinator", "nobody"))
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrTargetNotFound)
	assert.Less(t, elapsed, time.Second, "missing targets must fail immediately, not hang")
}

func TestQueryInvalidPayloadRejected(t *testing.T) {
	b := startBus(t, Options{})
	require.NoError(t, b.RegisterWorker(&stubWorker{name: "dimension"}, RegisterOptions{}))

	_, err := b.Query(context.Background(), drawingboard.Message{
		FromWorker: "coordinator",
		ToWorker:   "dimension",
		Payload:    map[string]any{"free": "form"},
	})
	assert.Error(t, err)
}

func TestQueryTimeout(t *testing.T) {
	b := startBus(t, Options{})
	slow := &stubWorker{
		name: "slow",
		handle: func(ctx context.Context, msg drawingboard.Message) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	require.NoError(t, b.RegisterWorker(slow, RegisterOptions{}))

	msg := proposalQuery("coordinator", "slow")
	msg.TimeoutMs = 30
	_, err := b.Query(context.Background(), msg)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestQueryTimeoutFallsBackToDefaults(t *testing.T) {
	b := startBus(t, Options{})
	slow := &stubWorker{
		name: "material",
		handle: func(ctx context.Context, msg drawingboard.Message) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	require.NoError(t, b.RegisterWorker(slow, RegisterOptions{
		Defaults: map[string]any{"materials": []string{"plywood"}},
	}))

	msg := proposalQuery("coordinator", "material")
	msg.TimeoutMs = 30
	out, err := b.Query(context.Background(), msg)
	require.NoError(t, err)

	prop, ok := out.(*worker.Proposal)
	require.True(t, ok)
	assert.True(t, prop.Success)
	assert.Equal(t, map[string]any{"materials": []string{"plywood"}}, prop.Updates)
	assert.Contains(t, prop.Reasoning, "registered defaults")
}

func TestQueryTimeoutSafetyCriticalNeverSubstitutes(t *testing.T) {
	b := startBus(t, Options{})
	slow := &stubWorker{
		name: "validation",
		handle: func(ctx context.Context, msg drawingboard.Message) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	require.NoError(t, b.RegisterWorker(slow, RegisterOptions{
		SafetyCritical: true,
		Defaults:       map[string]any{"materials": []string{"plywood"}},
	}))

	msg := proposalQuery("coordinator", "validation")
	msg.TimeoutMs = 30
	_, err := b.Query(context.Background(), msg)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestRetrySucceedsEventually(t *testing.T) {
	b := startBus(t, Options{MaxRetries: 3})
	var attempts atomic.Int64
	flaky := &stubWorker{
		name: "flaky",
		handle: func(ctx context.Context, msg drawingboard.Message) (any, error) {
			if attempts.Add(1) < 3 {
				return nil, fmt.Errorf("transient failure")
			}
			return &worker.Proposal{Success: true}, nil
		},
	}
	require.NoError(t, b.RegisterWorker(flaky, RegisterOptions{}))

	out, err := b.Query(context.Background(), proposalQuery("coordinator", "flaky"))
	require.NoError(t, err)
	assert.True(t, out.(*worker.Proposal).Success)
	assert.Equal(t, int64(3), attempts.Load())

	status := b.Status()
	assert.Equal(t, int64(2), status.Workers["flaky"].Retries)
}

func TestExhaustedRetriesDeadLetter(t *testing.T) {
	b := startBus(t, Options{MaxRetries: 2})
	broken := &stubWorker{
		name: "broken",
		handle: func(ctx context.Context, msg drawingboard.Message) (any, error) {
			return nil, fmt.Errorf("permanently broken")
		},
	}
	require.NoError(t, b.RegisterWorker(broken, RegisterOptions{}))

	_, err := b.Query(context.Background(), proposalQuery("coordinator", "broken"))
	assert.ErrorIs(t, err, ErrDeadLettered)

	letters := b.DeadLettered()
	require.Len(t, letters, 1)
	assert.Equal(t, "broken", letters[0].Message.ToWorker)
	assert.Equal(t, 2, letters[0].Attempts)
	assert.Contains(t, letters[0].LastError, "permanently broken")
}

func TestExhaustedRetriesFallBackToDefaults(t *testing.T) {
	b := startBus(t, Options{MaxRetries: 2})
	broken := &stubWorker{
		name: "material",
		handle: func(ctx context.Context, msg drawingboard.Message) (any, error) {
			return nil, fmt.Errorf("model unavailable")
		},
	}
	require.NoError(t, b.RegisterWorker(broken, RegisterOptions{
		Defaults: map[string]any{"materials": []string{"plywood"}, "boardThickness": 0.75},
	}))

	out, err := b.Query(context.Background(), proposalQuery("coordinator", "material"))
	require.NoError(t, err)

	prop := out.(*worker.Proposal)
	assert.True(t, prop.Success)
	assert.Equal(t, []string{"plywood"}, prop.Updates["materials"])
	assert.Contains(t, prop.Reasoning, "defaults")
	assert.Empty(t, b.DeadLettered())
}

func TestPanickingWorkerIsIsolated(t *testing.T) {
	b := startBus(t, Options{MaxRetries: 1})
	require.NoError(t, b.RegisterWorker(&stubWorker{
		name: "panicky",
		handle: func(ctx context.Context, msg drawingboard.Message) (any, error) {
			panic("boom")
		},
	}, RegisterOptions{}))
	require.NoError(t, b.RegisterWorker(&stubWorker{name: "healthy"}, RegisterOptions{}))

	_, err := b.Query(context.Background(), proposalQuery("coordinator", "panicky"))
	assert.ErrorIs(t, err, ErrDeadLettered)
	assert.Contains(t, err.Error(), "panicked")

	out, err := b.Query(context.Background(), proposalQuery("coordinator", "healthy"))
	require.NoError(t, err)
	assert.True(t, out.(*worker.Proposal).Success)
}

func TestQueryResponseCache(t *testing.T) {
	b := startBus(t, Options{CacheTTL: time.Minute})
	w := &stubWorker{name: "dimension"}
	require.NoError(t, b.RegisterWorker(w, RegisterOptions{}))

	for i := 0; i < 3; i++ {
		_, err := b.Query(context.Background(), proposalQuery("coordinator", "dimension"))
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), w.calls.Load(), "identical queries should hit the cache")
	assert.Equal(t, 1, b.Status().CacheSize)

	b.InvalidateCache()
	_, err := b.Query(context.Background(), proposalQuery("coordinator", "dimension"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), w.calls.Load())
}

func TestCyclicQueryDetected(t *testing.T) {
	b := startBus(t, Options{MaxRetries: 1})

	// a asks b, and b asks a back while a is still waiting.
	require.NoError(t, b.RegisterWorker(&stubWorker{
		name: "a",
		handle: func(ctx context.Context, msg drawingboard.Message) (any, error) {
			return b.Query(ctx, proposalQuery("a", "b"))
		},
	}, RegisterOptions{}))
	require.NoError(t, b.RegisterWorker(&stubWorker{
		name: "b",
		handle: func(ctx context.Context, msg drawingboard.Message) (any, error) {
			return b.Query(ctx, proposalQuery("b", "a"))
		},
	}, RegisterOptions{}))

	_, err := b.Query(context.Background(), proposalQuery("coordinator", "a"))
	assert.ErrorIs(t, err, ErrCyclicQuery)
}

func TestCallTrace(t *testing.T) {
	trace := newCallTrace()

	require.NoError(t, trace.begin("a", "b"))
	require.NoError(t, trace.begin("b", "c"))

	assert.ErrorIs(t, trace.begin("c", "a"), ErrCyclicQuery)
	assert.ErrorIs(t, trace.begin("b", "a"), ErrCyclicQuery)
	assert.ErrorIs(t, trace.begin("a", "a"), ErrCyclicQuery)

	trace.end("b", "c")
	assert.NoError(t, trace.begin("c", "a"))
}

func TestBroadcastFanOut(t *testing.T) {
	b := startBus(t, Options{})
	var delivered atomic.Int64
	handle := func(ctx context.Context, msg drawingboard.Message) (any, error) {
		if msg.Kind == drawingboard.MessageKindBroadcast {
			delivered.Add(1)
		}
		return nil, nil
	}
	require.NoError(t, b.RegisterWorker(&stubWorker{name: "dimension", topics: []string{"design_updated"}, handle: handle}, RegisterOptions{}))
	require.NoError(t, b.RegisterWorker(&stubWorker{name: "material", topics: []string{"design_updated"}, handle: handle}, RegisterOptions{}))
	require.NoError(t, b.RegisterWorker(&stubWorker{name: "joinery", topics: []string{"materials_updated"}, handle: handle}, RegisterOptions{}))

	n, err := b.Broadcast(context.Background(), "coordinator", "design_updated", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Eventually(t, func() bool {
		return delivered.Load() == 2
	}, time.Second, 5*time.Millisecond)

	// Sender never receives its own broadcast.
	n, err = b.Broadcast(context.Background(), "dimension", "design_updated", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRequestValidation(t *testing.T) {
	b := startBus(t, Options{MaxRetries: 1})
	require.NoError(t, b.RegisterWorker(&stubWorker{
		name: "validation",
		handle: func(ctx context.Context, msg drawingboard.Message) (any, error) {
			return worker.ValidationResult{Worker: "validation", Valid: false, Score: 0.6, Issues: []string{"shelf sags"}}, nil
		},
	}, RegisterOptions{SafetyCritical: true}))
	require.NoError(t, b.RegisterWorker(&stubWorker{
		name: "dimension",
		handle: func(ctx context.Context, msg drawingboard.Message) (any, error) {
			return worker.ValidationResult{Worker: "dimension", Valid: true, Score: 1}, nil
		},
	}, RegisterOptions{}))
	require.NoError(t, b.RegisterWorker(&stubWorker{
		name: "material",
		handle: func(ctx context.Context, msg drawingboard.Message) (any, error) {
			return nil, fmt.Errorf("validator offline")
		},
	}, RegisterOptions{}))

	results := b.RequestValidation(context.Background(), "coordinator", worker.ValidationRequest{},
		"validation", "dimension", "material")
	require.Len(t, results, 3)

	byWorker := map[string]worker.ValidationResult{}
	for _, r := range results {
		byWorker[r.Worker] = r
	}
	assert.False(t, byWorker["validation"].Valid)
	assert.Equal(t, 0.6, byWorker["validation"].Score)
	assert.True(t, byWorker["dimension"].Valid)
	assert.False(t, byWorker["material"].Valid)
	assert.NotEmpty(t, byWorker["material"].Err, "failed validator yields a synthesized result")

	assert.True(t, b.IsSafetyCritical("validation"))
	assert.False(t, b.IsSafetyCritical("dimension"))
}

func TestResolveConflict(t *testing.T) {
	ctx := context.Background()

	t.Run("single candidate wins by default", func(t *testing.T) {
		b := startBus(t, Options{})
		cand := worker.Candidate{Worker: "dimension", Updates: map[string]any{"dimensions.width": 40.0}}

		winner, err := b.ResolveConflict(ctx, "width dispute", []worker.Candidate{cand})
		require.NoError(t, err)
		assert.Equal(t, cand, winner)
	})

	t.Run("two candidates resolve by priority", func(t *testing.T) {
		b := startBus(t, Options{})
		require.NoError(t, b.RegisterWorker(&stubWorker{name: "validation"}, RegisterOptions{Priority: 40}))
		require.NoError(t, b.RegisterWorker(&stubWorker{name: "material"}, RegisterOptions{Priority: 20}))

		winner, err := b.ResolveConflict(ctx, "material dispute", []worker.Candidate{
			{Worker: "material", Submitted: 0},
			{Worker: "validation", Submitted: 1},
		})
		require.NoError(t, err)
		assert.Equal(t, "validation", winner.Worker)
	})

	t.Run("equal priority falls back to first submitted", func(t *testing.T) {
		b := startBus(t, Options{})
		require.NoError(t, b.RegisterWorker(&stubWorker{name: "material"}, RegisterOptions{Priority: 20}))
		require.NoError(t, b.RegisterWorker(&stubWorker{name: "joinery"}, RegisterOptions{Priority: 20}))

		winner, err := b.ResolveConflict(ctx, "tie", []worker.Candidate{
			{Worker: "joinery", Submitted: 0},
			{Worker: "material", Submitted: 1},
		})
		require.NoError(t, err)
		assert.Equal(t, "joinery", winner.Worker)
	})

	t.Run("three or more candidates go to a vote", func(t *testing.T) {
		b := startBus(t, Options{})
		voteFor := func(idx int) func(context.Context, drawingboard.Message) (any, error) {
			return func(ctx context.Context, msg drawingboard.Message) (any, error) {
				if _, ok := msg.Payload.(worker.VoteRequest); ok {
					return worker.Vote{Candidate: idx}, nil
				}
				return nil, fmt.Errorf("unexpected payload")
			}
		}
		require.NoError(t, b.RegisterWorker(&stubWorker{name: "voter1", handle: voteFor(1)}, RegisterOptions{}))
		require.NoError(t, b.RegisterWorker(&stubWorker{name: "voter2", handle: voteFor(1)}, RegisterOptions{}))
		require.NoError(t, b.RegisterWorker(&stubWorker{name: "voter3", handle: voteFor(2)}, RegisterOptions{}))

		winner, err := b.ResolveConflict(ctx, "three-way", []worker.Candidate{
			{Worker: "a", Submitted: 0},
			{Worker: "b", Submitted: 1},
			{Worker: "c", Submitted: 2},
		})
		require.NoError(t, err)
		assert.Equal(t, "b", winner.Worker)
	})

	t.Run("no candidates is an error", func(t *testing.T) {
		b := startBus(t, Options{})
		_, err := b.ResolveConflict(ctx, "nothing", nil)
		assert.Error(t, err)
	})
}

func TestQueueOrdering(t *testing.T) {
	var q messageQueue
	heap.Push(&q, &envelope{priority: 10, seq: 1})
	heap.Push(&q, &envelope{priority: 40, seq: 2})
	heap.Push(&q, &envelope{priority: 40, seq: 3})
	heap.Push(&q, &envelope{priority: 20, seq: 4})

	var order []uint64
	for q.Len() > 0 {
		order = append(order, heap.Pop(&q).(*envelope).seq)
	}
	assert.Equal(t, []uint64{2, 3, 4, 1}, order, "highest priority first, FIFO among equals")
}

func TestBusShutdownFailsPendingWaiters(t *testing.T) {
	b := New(Options{TickInterval: time.Hour}) // never drains
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = b.Run(ctx)
	}()
	require.NoError(t, b.RegisterWorker(&stubWorker{name: "dimension"}, RegisterOptions{}))

	errCh := make(chan error, 1)
	go func() {
		_, err := b.Query(context.Background(), proposalQuery("coordinator", "dimension"))
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	<-done

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrBusClosed)
	case <-time.After(time.Second):
		t.Fatal("queued query was not failed on shutdown")
	}
}
