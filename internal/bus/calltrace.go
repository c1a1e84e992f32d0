package bus

import "sync"

// callTrace tracks in-flight query edges between workers so the bus can
// refuse a query that would close a wait cycle: if B is already waiting on a
// query from A, a new query A<-B deadlocks both and is rejected instead.
type callTrace struct {
	mu    sync.Mutex
	edges map[string]map[string]int
}

func newCallTrace() *callTrace {
	return &callTrace{edges: make(map[string]map[string]int)}
}

// begin records the edge from->to, failing if it would create a cycle among
// the currently active edges. A worker querying itself is the trivial cycle.
func (t *callTrace) begin(from, to string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if from == to || t.reaches(to, from, map[string]bool{}) {
		return ErrCyclicQuery
	}

	if t.edges[from] == nil {
		t.edges[from] = make(map[string]int)
	}
	t.edges[from][to]++
	return nil
}

// end releases an edge recorded by begin.
func (t *callTrace) end(from, to string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	targets, ok := t.edges[from]
	if !ok {
		return
	}
	targets[to]--
	if targets[to] <= 0 {
		delete(targets, to)
	}
	if len(targets) == 0 {
		delete(t.edges, from)
	}
}

// reaches reports whether goal is reachable from start over active edges.
func (t *callTrace) reaches(start, goal string, seen map[string]bool) bool {
	if start == goal {
		return true
	}
	if seen[start] {
		return false
	}
	seen[start] = true
	for next := range t.edges[start] {
		if t.reaches(next, goal, seen) {
			return true
		}
	}
	return false
}
