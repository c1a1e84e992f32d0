package drawingboard

import (
	"encoding/json"
	"fmt"
)

// Document is the partial record of furniture attributes being designed:
// type, dimensions, materials, joinery, features and derived artifacts.
// Documents are nested string-keyed maps addressed by dotted property paths
// (for example "dimensions.width"). A Document is only ever mutated through
// Store.Transact; workers receive copies and propose updates.
type Document map[string]any

// Constraints are structured limits (dimensional, material, structural,
// aesthetic, budget) that narrow which proposals are acceptable. Constraints
// merge additively; within a transaction the last writer wins per leaf field.
type Constraints map[string]any

// Snapshot is a consistent point-in-time view of the drawing board.
// All fields are deep copies: mutating a snapshot never affects the store.
type Snapshot struct {
	Document    Document    `json:"document"`
	Constraints Constraints `json:"constraints"`
	Version     int64       `json:"version"`
}

// VersionAny disables the optimistic version check on a transaction.
const VersionAny int64 = -1

// Transaction describes one atomic write against the drawing board.
// Update keys are dotted property paths into the design document; keys under
// the reserved "constraints." prefix are routed into the constraints record
// instead. ExpectedVersion enables optimistic concurrency control: when it is
// not VersionAny and differs from the current version, the transaction is
// rejected with a stale-version conflict.
type Transaction struct {
	Worker          string
	Updates         map[string]any
	ExpectedVersion int64
	Reason          string
}

// TransactResult reports the outcome of a Transact call. When Accepted is
// false, Conflicts explains every reason the write was rejected and no field
// has been applied.
type TransactResult struct {
	Accepted   bool       `json:"accepted"`
	NewVersion int64      `json:"new_version"`
	Conflicts  []Conflict `json:"conflicts,omitempty"`
}

// ChangeRecord is the immutable audit entry appended for every leaf field a
// transaction changed. Records live in a bounded ring; the oldest entries
// drop silently once the ring is full.
type ChangeRecord struct {
	Worker        string `json:"worker"`
	TimestampMs   int64  `json:"timestamp_ms"`
	Path          string `json:"path"`
	PreviousValue any    `json:"previous_value"`
	NewValue      any    `json:"new_value"`
	Reason        string `json:"reason,omitempty"`
	Version       int64  `json:"version"`
}

// Decision records a worker's live choice for one decision type. Decisions
// are keyed by (worker, decision type); a redecision overwrites the previous
// entry.
type Decision struct {
	Worker                 string   `json:"worker"`
	DecisionType           string   `json:"decision_type"`
	Value                  any      `json:"value"`
	Reasoning              string   `json:"reasoning,omitempty"`
	Confidence             float64  `json:"confidence"`
	AlternativesConsidered []map[string]any `json:"alternatives_considered,omitempty"`
}

// Lock is a time-boxed advisory write exclusion over a set of dotted property
// paths. At most one lock may cover a given path at a time. Locks auto-expire
// at ExpiresAtMs even if the owner never releases them.
type Lock struct {
	ID           string   `json:"id"`
	Owner        string   `json:"owner"`
	Paths        []string `json:"paths"`
	AcquiredAtMs int64    `json:"acquired_at_ms"`
	ExpiresAtMs  int64    `json:"expires_at_ms"`
}

// LockGrant reports the outcome of an AcquireLock call. Acquisition is
// all-or-nothing: when Granted is false, Conflicts lists every requested path
// already covered by a live lock together with its current owner.
type LockGrant struct {
	Granted   bool       `json:"granted"`
	LockID    string     `json:"lock_id,omitempty"`
	Conflicts []Conflict `json:"conflicts,omitempty"`
}

// Severity classifies how strongly a conflict blocks design validity.
// Structural and safety violations are high and block validity; aesthetic
// findings are low and only generate suggestions.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank returns an ordering weight for resolution scheduling (high first).
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Validate checks if the Severity is a valid enum value.
func (s Severity) Validate() error {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return nil
	default:
		return fmt.Errorf("unknown severity: %q", s)
	}
}

// ConflictType identifies the category of a detected conflict.
type ConflictType string

const (
	// ConflictStaleVersion indicates an optimistic version check failed.
	ConflictStaleVersion ConflictType = "stale_version"

	// ConflictPropertyLocked indicates a transaction touched a path covered
	// by a live lock owned by a different worker.
	ConflictPropertyLocked ConflictType = "property_locked"

	// ConflictRuleViolation indicates a design rule evaluated to invalid.
	ConflictRuleViolation ConflictType = "rule_violation"

	// ConflictRuleError indicates a rule itself failed to evaluate. One
	// broken rule never blocks evaluation of the others.
	ConflictRuleError ConflictType = "rule_error"

	// ConflictWorkerUnreachable indicates a safety-critical worker could not
	// be consulted. These are surfaced explicitly, never silently defaulted.
	ConflictWorkerUnreachable ConflictType = "worker_unreachable"
)

// FixFunc is a pure corrective transform: given a copy of the current
// document it returns a corrected document. Fixes never mutate their input.
type FixFunc func(Document) Document

// Conflict describes a detected violation: either a concurrent-write
// collision reported by the store or a rule failure reported by evaluation.
// Conflicts are derived values, recomputed each evaluation pass and never
// persisted.
type Conflict struct {
	Type            ConflictType `json:"type"`
	Severity        Severity     `json:"severity"`
	InvolvedWorkers []string     `json:"involved_workers,omitempty"`
	Description     string       `json:"description"`
	Path            string       `json:"path,omitempty"`
	Rule            string       `json:"rule,omitempty"`
	AutoFix         FixFunc      `json:"-"`
}

// MessageKind distinguishes the three message shapes carried by the bus.
type MessageKind string

const (
	MessageKindQuery     MessageKind = "query"
	MessageKindResponse  MessageKind = "response"
	MessageKindBroadcast MessageKind = "broadcast"
)

// Validate checks if the MessageKind is a valid enum value.
func (k MessageKind) Validate() error {
	switch k {
	case MessageKindQuery, MessageKindResponse, MessageKindBroadcast:
		return nil
	default:
		return fmt.Errorf("unknown message kind: %q", k)
	}
}

// Message is one unit of communication between workers. Messages are
// immutable once sent. Broadcasts carry a Topic and no target; queries carry
// a target worker and expect a response within TimeoutMs.
type Message struct {
	ID               string      `json:"id"`
	FromWorker       string      `json:"from_worker"`
	ToWorker         string      `json:"to_worker,omitempty"`
	Topic            string      `json:"topic,omitempty"`
	Kind             MessageKind `json:"kind"`
	Payload          any         `json:"payload"`
	RequiresResponse bool        `json:"requires_response"`
	TimeoutMs        int64       `json:"timeout_ms"`
	Priority         int         `json:"priority"`
}

// ChangeEvent is the JSON payload published to the session's change events
// channel after every committed transaction. Ops tooling (tenon watch)
// subscribes to this channel to stream commits in real time.
type ChangeEvent struct {
	Worker  string   `json:"worker"`
	Version int64    `json:"version"`
	Paths   []string `json:"paths"`
	Reason  string   `json:"reason,omitempty"`
	AtMs    int64    `json:"at_ms"`
}

// Clone returns a deep copy of the document via a JSON round trip. Numeric
// leaves come back as float64, matching what Read returns.
func (d Document) Clone() Document {
	if d == nil {
		return Document{}
	}
	raw, err := json.Marshal(d)
	if err != nil {
		// Documents are built from JSON-decoded values; marshal cannot fail
		// for well-formed documents. Fall back to an empty copy.
		return Document{}
	}
	var out Document
	if err := json.Unmarshal(raw, &out); err != nil {
		return Document{}
	}
	return out
}

// Clone returns a deep copy of the constraints via a JSON round trip.
func (c Constraints) Clone() Constraints {
	out := Document(c).Clone()
	return Constraints(out)
}

// Validate checks if the Transaction has valid field values.
func (t *Transaction) Validate() error {
	if t.Worker == "" {
		return fmt.Errorf("transaction worker cannot be empty")
	}
	if len(t.Updates) == 0 {
		return fmt.Errorf("transaction must contain at least one update")
	}
	for path := range t.Updates {
		if path == "" {
			return fmt.Errorf("transaction update path cannot be empty")
		}
	}
	if t.ExpectedVersion < VersionAny {
		return fmt.Errorf("invalid expected version: %d", t.ExpectedVersion)
	}
	return nil
}

// Validate checks if the Decision has valid field values.
func (d *Decision) Validate() error {
	if d.Worker == "" {
		return fmt.Errorf("decision worker cannot be empty")
	}
	if d.DecisionType == "" {
		return fmt.Errorf("decision type cannot be empty")
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("decision confidence must be in [0,1], got %v", d.Confidence)
	}
	return nil
}

// Validate checks if the Message has valid field values.
func (m *Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("message ID cannot be empty")
	}
	if m.FromWorker == "" {
		return fmt.Errorf("message from_worker cannot be empty")
	}
	if err := m.Kind.Validate(); err != nil {
		return err
	}
	switch m.Kind {
	case MessageKindQuery:
		if m.ToWorker == "" {
			return fmt.Errorf("query message requires a target worker")
		}
	case MessageKindBroadcast:
		if m.Topic == "" {
			return fmt.Errorf("broadcast message requires a topic")
		}
	}
	return nil
}
