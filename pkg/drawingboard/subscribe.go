package drawingboard

import (
	"log"
	"sync"
	"time"
)

// SubscriberFunc receives the newest snapshot plus the batch of change
// records committed since the previous notification, in causal order.
type SubscriberFunc func(Snapshot, []ChangeRecord)

// FilterFunc selects which change records a subscriber receives. A nil
// filter receives everything.
type FilterFunc func(ChangeRecord) bool

// Subscribe registers an in-process subscriber. Notifications are debounced:
// records from transactions committing within the store's debounce window
// coalesce into one batched callback, preserving causal order. A panicking
// subscriber is logged and never prevents other subscribers from being
// notified.
//
// The returned function unsubscribes; it is safe to call more than once.
func (s *Store) Subscribe(id string, fn SubscriberFunc, filter FilterFunc) func() {
	return s.notifier.subscribe(id, fn, filter)
}

type subscriber struct {
	id     string
	fn     SubscriberFunc
	filter FilterFunc
}

// notifier batches change records and delivers them to subscribers after a
// quiet debounce window, so rapid successive writes produce one event
// instead of a notification storm.
type notifier struct {
	window time.Duration

	mu      sync.Mutex
	subs    map[string]*subscriber
	pending []ChangeRecord
	latest  *Snapshot
	timer   *time.Timer
	stopped bool
}

func newNotifier(window time.Duration) *notifier {
	return &notifier{
		window: window,
		subs:   make(map[string]*subscriber),
	}
}

func (n *notifier) subscribe(id string, fn SubscriberFunc, filter FilterFunc) func() {
	n.mu.Lock()
	n.subs[id] = &subscriber{id: id, fn: fn, filter: filter}
	n.mu.Unlock()

	return func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
	}
}

// notify queues a committed batch. The first record after a flush arms the
// debounce timer; records arriving before it fires join the same batch.
func (n *notifier) notify(snap *Snapshot, records []ChangeRecord) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped {
		return
	}

	n.pending = append(n.pending, records...)
	n.latest = snap
	if n.timer == nil {
		n.timer = time.AfterFunc(n.window, n.flush)
	}
}

// flush delivers the pending batch to every subscriber.
func (n *notifier) flush() {
	n.mu.Lock()
	records := n.pending
	latest := n.latest
	n.pending = nil
	n.latest = nil
	n.timer = nil
	subs := make([]*subscriber, 0, len(n.subs))
	for _, sub := range n.subs {
		subs = append(subs, sub)
	}
	n.mu.Unlock()

	if latest == nil {
		return
	}
	deliver(subs, latest, records)
}

// stop flushes any pending batch synchronously and rejects further
// notifications.
func (n *notifier) stop() {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}
	n.stopped = true
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	records := n.pending
	latest := n.latest
	n.pending = nil
	n.latest = nil
	subs := make([]*subscriber, 0, len(n.subs))
	for _, sub := range n.subs {
		subs = append(subs, sub)
	}
	n.mu.Unlock()

	if latest != nil {
		deliver(subs, latest, records)
	}
}

func deliver(subs []*subscriber, latest *Snapshot, records []ChangeRecord) {
	for _, sub := range subs {
		batch := records
		if sub.filter != nil {
			batch = nil
			for _, r := range records {
				if sub.filter(r) {
					batch = append(batch, r)
				}
			}
		}

		// Each subscriber gets its own copies so one subscriber mutating the
		// snapshot cannot corrupt what the others see.
		snap := Snapshot{
			Document:    latest.Document.Clone(),
			Constraints: latest.Constraints.Clone(),
			Version:     latest.Version,
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[DrawingBoard] Subscriber %q panicked: %v", sub.id, r)
				}
			}()
			sub.fn(snap, batch)
		}()
	}
}
