package bus

import "errors"

// Sentinel errors returned by bus operations. Callers match them with
// errors.Is after unwrapping.
var (
	// ErrDuplicateWorker is returned when a worker name is registered twice.
	ErrDuplicateWorker = errors.New("worker already registered")

	// ErrTargetNotFound is returned immediately when a query targets a worker
	// that is not registered. Queries to missing workers never queue.
	ErrTargetNotFound = errors.New("target worker not registered")

	// ErrTimeout is returned when a query's response deadline passes.
	ErrTimeout = errors.New("query timed out")

	// ErrCyclicQuery is returned when a query would close a cycle in the
	// in-flight query graph (A asks B while B is still waiting on A).
	ErrCyclicQuery = errors.New("cyclic query detected")

	// ErrDeadLettered is returned when a query exhausted its retries and the
	// target has no default to fall back on.
	ErrDeadLettered = errors.New("message dead-lettered after retries")

	// ErrBusClosed is returned for operations on a stopped bus.
	ErrBusClosed = errors.New("bus is closed")
)
