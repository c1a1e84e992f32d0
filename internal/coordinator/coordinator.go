// Package coordinator drives a design session: it plans which workers a user
// request needs, gathers their proposals over the bus, commits accepted
// updates to the drawing board, resolves rule conflicts, and reports a
// validation summary plus design variations for each turn.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/tenonworks/tenon/internal/bus"
	"github.com/tenonworks/tenon/internal/rules"
	"github.com/tenonworks/tenon/internal/worker"
	"github.com/tenonworks/tenon/pkg/drawingboard"
)

// Options tunes turn processing. Zero values take the defaults below.
type Options struct {
	// MaxResolutionPasses bounds the evaluate-resolve loop per turn.
	MaxResolutionPasses int

	// MaxTransactRetries bounds re-reads after a stale-version rejection.
	MaxTransactRetries int

	// MaxVariations caps how many design variations a turn reports.
	MaxVariations int

	// QueryTimeout is the per-worker proposal deadline.
	QueryTimeout time.Duration
}

func (o *Options) withDefaults() {
	if o.MaxResolutionPasses <= 0 {
		o.MaxResolutionPasses = 3
	}
	if o.MaxTransactRetries <= 0 {
		o.MaxTransactRetries = 3
	}
	if o.MaxVariations <= 0 {
		o.MaxVariations = 3
	}
	if o.QueryTimeout <= 0 {
		o.QueryTimeout = 5 * time.Second
	}
}

// registered pairs a worker with its bus registration so the coordinator can
// plan by capability and priority.
type registered struct {
	worker worker.Worker
	opts   bus.RegisterOptions
}

// Coordinator owns one design session over a store and a bus.
type Coordinator struct {
	store  *drawingboard.Store
	bus    *bus.Bus
	engine *rules.Engine
	opts   Options

	mu      sync.Mutex
	workers []registered
	turns   int64
}

// New creates a coordinator over an initialized store and a running bus.
func New(store *drawingboard.Store, b *bus.Bus, engine *rules.Engine, opts Options) *Coordinator {
	opts.withDefaults()
	return &Coordinator{
		store:  store,
		bus:    b,
		engine: engine,
		opts:   opts,
	}
}

// RegisterWorker registers a worker on the bus and adds it to the turn plan.
// Safety-critical workers validate rather than propose and are kept out of
// the proposal plan.
func (c *Coordinator) RegisterWorker(w worker.Worker, opts bus.RegisterOptions) error {
	if err := c.bus.RegisterWorker(w, opts); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.workers = append(c.workers, registered{worker: w, opts: opts})
	sort.SliceStable(c.workers, func(i, j int) bool {
		if c.workers[i].opts.Priority != c.workers[j].opts.Priority {
			return c.workers[i].opts.Priority > c.workers[j].opts.Priority
		}
		return c.workers[i].worker.Name() < c.workers[j].worker.Name()
	})
	return nil
}

// plan returns the proposing workers for an intent, highest priority first.
func (c *Coordinator) plan(intent string) []registered {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []registered
	for _, reg := range c.workers {
		if reg.opts.SafetyCritical {
			continue
		}
		if reg.worker.CanHandle(intent) {
			out = append(out, reg)
		}
	}
	return out
}

// validators returns the safety-critical worker names, falling back to every
// registered worker when none is marked.
func (c *Coordinator) validators() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []string
	for _, reg := range c.workers {
		if reg.opts.SafetyCritical {
			out = append(out, reg.worker.Name())
		}
	}
	if len(out) == 0 {
		for _, reg := range c.workers {
			out = append(out, reg.worker.Name())
		}
	}
	sort.Strings(out)
	return out
}

// Status reports session and bus state for ops tooling.
type Status struct {
	Session string     `json:"session"`
	Version int64      `json:"version"`
	Turns   int64      `json:"turns"`
	Bus     bus.Status `json:"bus"`
}

// Status reads the current session status.
func (c *Coordinator) Status(ctx context.Context) (*Status, error) {
	snap, err := c.store.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading board state: %w", err)
	}

	c.mu.Lock()
	turns := c.turns
	c.mu.Unlock()

	return &Status{
		Session: c.store.Session(),
		Version: snap.Version,
		Turns:   turns,
		Bus:     c.bus.Status(),
	}, nil
}

// logEvent logs a structured event in JSON format.
func (c *Coordinator) logEvent(eventType string, data map[string]any) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "coordinator"
	data["event_type"] = eventType
	data["session"] = c.store.Session()

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Coordinator] Failed to marshal log event: %v", err)
		return
	}
	log.Println(string(jsonData))
}
