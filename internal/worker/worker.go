// Package worker defines the contract between the coordination substrate and
// the capability-specific workers that turn user input plus context into
// proposed partial design updates. A worker's internal reasoning (an LLM, a
// lookup table, a solver) is opaque to the rest of the system; only the
// contract below is relied upon.
//
// The package also ships a deterministic table-driven worker set (dimension,
// material, joinery, validation) so a session runs end to end without any
// external model.
package worker

import (
	"context"
	"fmt"

	"github.com/tenonworks/tenon/pkg/drawingboard"
)

// Context carries everything a worker may consult when proposing an update:
// the current board snapshot, constraints gathered from prior workers within
// this turn, and the live decisions recorded so far.
type Context struct {
	Intent          string
	Snapshot        drawingboard.Snapshot
	TurnConstraints map[string]any
	Decisions       []drawingboard.Decision
}

// Proposal is a worker's typed answer to a propose request. Updates are
// dotted-path design document updates suitable for a drawing board
// transaction; they are merged only through Store.Transact, never applied
// directly.
type Proposal struct {
	Success                bool             `json:"success"`
	Updates                map[string]any   `json:"updates,omitempty"`
	Reasoning              string           `json:"reasoning,omitempty"`
	Confidence             float64          `json:"confidence"`
	Suggestions            []string         `json:"suggestions,omitempty"`
	Issues                 []string         `json:"issues,omitempty"`
	NextSteps              []string         `json:"next_steps,omitempty"`
	AlternativesConsidered []map[string]any `json:"alternatives_considered,omitempty"`
}

// Worker is a capability-specific unit that turns input plus context into a
// proposed partial design update.
type Worker interface {
	// Name returns the unique worker name used for registration and routing.
	Name() string

	// CanHandle reports whether this worker contributes to the given intent.
	CanHandle(intent string) bool

	// Propose produces a typed partial update for the given input and
	// context. Implementations must not mutate the context's snapshot.
	Propose(ctx context.Context, input string, wctx Context) (*Proposal, error)
}

// MessageHandler is implemented by workers that accept bus-delivered
// queries. Workers without it can only be driven through Propose.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg drawingboard.Message) (any, error)
}

// TopicSubscriber is implemented by workers that declare broadcast topics of
// interest; the bus subscribes them at registration.
type TopicSubscriber interface {
	Topics() []string
}

// Candidate is one competing proposal under conflict arbitration, tagged
// with its submission order so ties resolve deterministically to the first
// proposal submitted.
type Candidate struct {
	Worker    string         `json:"worker"`
	Updates   map[string]any `json:"updates"`
	Submitted int            `json:"submitted"`
}

// Query payloads form a tagged union: every payload the bus will dispatch
// declares its kind, and the bus validates the payload shape before
// dispatch. Free-form payloads are rejected.

// Payload is the marker for dispatchable query payloads.
type Payload interface {
	PayloadKind() string
}

// ProposalRequest asks a worker to propose an update.
type ProposalRequest struct {
	Input   string  `json:"input"`
	Context Context `json:"context"`
}

func (ProposalRequest) PayloadKind() string { return "proposal_request" }

// ValidationRequest asks a worker to judge a candidate document.
type ValidationRequest struct {
	Document    drawingboard.Document    `json:"document"`
	Constraints drawingboard.Constraints `json:"constraints"`
}

func (ValidationRequest) PayloadKind() string { return "validation_request" }

// ValidationResult is a worker's judgement of a candidate document. When a
// validator errors out, the bus synthesizes a failed result carrying Err so
// one bad validator cannot abort a batch.
type ValidationResult struct {
	Worker string   `json:"worker"`
	Valid  bool     `json:"valid"`
	Score  float64  `json:"score"`
	Issues []string `json:"issues,omitempty"`
	Err    string   `json:"error,omitempty"`
}

// VoteRequest asks an uninvolved worker to cast one vote among candidate
// proposals during conflict arbitration.
type VoteRequest struct {
	Description string      `json:"description"`
	Candidates  []Candidate `json:"candidates"`
}

func (VoteRequest) PayloadKind() string { return "vote_request" }

// Vote is the answer to a VoteRequest: the index of the chosen candidate.
type Vote struct {
	Candidate int    `json:"candidate"`
	Reason    string `json:"reason,omitempty"`
}

// ValidatePayload checks that a query payload belongs to the declared union.
func ValidatePayload(payload any) error {
	if payload == nil {
		return fmt.Errorf("query payload cannot be nil")
	}
	if _, ok := payload.(Payload); !ok {
		return fmt.Errorf("unsupported query payload type %T", payload)
	}
	return nil
}
