package bus

import (
	"time"

	"github.com/tenonworks/tenon/pkg/drawingboard"
)

// outcome is the terminal result of a queued message, delivered at most once
// to the waiter's buffered channel.
type outcome struct {
	value any
	err   error
}

// envelope wraps a message on the queue with its delivery bookkeeping. The
// result channel is nil for fire-and-forget broadcasts; for queries it is
// buffered so delivery never blocks on an abandoned waiter.
type envelope struct {
	msg      drawingboard.Message
	priority int
	seq      uint64
	attempts int
	timeout  time.Duration
	result   chan outcome
	index    int
}

// messageQueue is a max-heap over (priority, seq): higher priority first,
// and first-enqueued first among equals so ordering stays deterministic.
type messageQueue []*envelope

func (q messageQueue) Len() int { return len(q) }

func (q messageQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q messageQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *messageQueue) Push(x any) {
	env := x.(*envelope)
	env.index = len(*q)
	*q = append(*q, env)
}

func (q *messageQueue) Pop() any {
	old := *q
	n := len(old)
	env := old[n-1]
	old[n-1] = nil
	env.index = -1
	*q = old[:n-1]
	return env
}
