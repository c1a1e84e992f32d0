package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tenonworks/tenon/internal/bus"
	"github.com/tenonworks/tenon/internal/worker"
	"github.com/tenonworks/tenon/pkg/drawingboard"
)

// coordinatorName attributes seed and constraint writes on the board.
const coordinatorName = "coordinator"

// ErrBoardMoved is returned when a turn names a base version and the board
// has already moved past it.
var ErrBoardMoved = errors.New("board version moved")

// TurnRequest describes one user turn. Intent is optional: when empty, the
// coordinator classifies the input itself, so callers with their own intent
// classifier can pass theirs through. BaseVersion is optional: when set, the
// turn is rejected with ErrBoardMoved if the board no longer sits at that
// version, letting a chat layer detect concurrent sessions at the turn
// boundary instead of mid-commit.
type TurnRequest struct {
	Intent      string
	Input       string
	Constraints map[string]any
	BaseVersion int64
}

// WorkerReport is one worker's outcome within a turn.
type WorkerReport struct {
	Worker    string   `json:"worker"`
	Applied   bool     `json:"applied"`
	Reasoning string   `json:"reasoning,omitempty"`
	Issues    []string `json:"issues,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// ValidationSummary aggregates the validators' final judgement of the turn.
type ValidationSummary struct {
	Valid   bool                      `json:"valid"`
	Score   float64                   `json:"score"`
	Issues  []string                  `json:"issues,omitempty"`
	Results []worker.ValidationResult `json:"results,omitempty"`
}

// Variation is an alternative take on the committed design, already checked
// against the rule engine.
type Variation struct {
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Document    drawingboard.Document `json:"document"`
	Score       float64               `json:"score"`
}

// TurnResult is everything one turn produced.
type TurnResult struct {
	Intent      string                   `json:"intent"`
	Document    drawingboard.Document    `json:"document"`
	Constraints drawingboard.Constraints `json:"constraints"`
	Version     int64                    `json:"version"`
	Workers     []WorkerReport           `json:"workers"`
	Conflicts   []drawingboard.Conflict  `json:"conflicts,omitempty"`
	Validation  ValidationSummary        `json:"validation"`
	Variations  []Variation              `json:"variations,omitempty"`
}

// ProcessTurn runs one full request cycle: plan the workers for the turn's
// intent, gather and commit their proposals, resolve rule conflicts, validate
// the result, and sketch variations when the design is valid. Constraints in
// the request are persisted to the board before any worker runs.
func (c *Coordinator) ProcessTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	intent := req.Intent
	if intent == "" {
		intent = inferIntent(req.Input)
	}
	c.logEvent("turn_started", map[string]any{"intent": intent, "input": req.Input})

	snap, err := c.store.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading board state: %w", err)
	}
	if req.BaseVersion > 0 && snap.Version != req.BaseVersion {
		return nil, fmt.Errorf("%w: board is at v%d, turn expected v%d",
			ErrBoardMoved, snap.Version, req.BaseVersion)
	}

	if err := c.seedBoard(ctx, req.Input, req.Constraints); err != nil {
		return nil, err
	}

	snap, err = c.store.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading board state: %w", err)
	}

	result := &TurnResult{Intent: intent}
	var candidates []worker.Candidate

	for _, reg := range c.plan(intent) {
		name := reg.worker.Name()
		report := WorkerReport{Worker: name}

		prop, err := c.requestProposal(ctx, name, req.Input, intent, req.Constraints, snap)
		if err != nil {
			prop = c.substituteDecision(ctx, name, intent, err)
			if prop == nil {
				report.Error = err.Error()
				result.Workers = append(result.Workers, report)
				result.Conflicts = append(result.Conflicts, drawingboard.Conflict{
					Type:            drawingboard.ConflictWorkerUnreachable,
					Severity:        drawingboard.SeverityMedium,
					InvolvedWorkers: []string{name},
					Description:     fmt.Sprintf("worker %q did not answer: %v", name, err),
				})
				continue
			}
		}

		report.Reasoning = prop.Reasoning
		report.Issues = prop.Issues
		if !prop.Success || len(prop.Updates) == 0 {
			result.Workers = append(result.Workers, report)
			continue
		}

		newSnap, applied, err := c.commit(ctx, drawingboard.Transaction{
			Worker:          name,
			Updates:         prop.Updates,
			ExpectedVersion: snap.Version,
			Reason:          prop.Reasoning,
		})
		if err != nil {
			return nil, err
		}
		snap = newSnap
		report.Applied = applied

		if applied {
			candidates = append(candidates, worker.Candidate{
				Worker:    name,
				Updates:   prop.Updates,
				Submitted: len(candidates),
			})
			c.recordDecision(ctx, name, intent, prop)
			c.bus.InvalidateCache()
			if _, err := c.bus.Broadcast(ctx, coordinatorName, "design_updated", nil); err != nil {
				c.logEvent("broadcast_failed", map[string]any{"error": err.Error()})
			}
		}
		result.Workers = append(result.Workers, report)
	}

	snap, unresolved, err := c.resolveConflicts(ctx, snap, candidates)
	if err != nil {
		return nil, err
	}
	result.Conflicts = append(result.Conflicts, unresolved...)

	result.Validation = c.validate(ctx, snap, result.Conflicts)
	// Variations are only worth exploring from a valid base design.
	if result.Validation.Valid {
		result.Variations = c.variations(snap)
	}
	result.Document = snap.Document
	result.Constraints = snap.Constraints
	result.Version = snap.Version

	c.mu.Lock()
	c.turns++
	c.mu.Unlock()

	c.logEvent("turn_completed", map[string]any{
		"intent":     intent,
		"version":    result.Version,
		"valid":      result.Validation.Valid,
		"score":      result.Validation.Score,
		"conflicts":  len(result.Conflicts),
		"variations": len(result.Variations),
	})
	return result, nil
}

// seedBoard writes the furniture type inferred from the input (if the board
// has none yet) and any turn constraints, so workers see them in snapshots.
func (c *Coordinator) seedBoard(ctx context.Context, input string, constraints map[string]any) error {
	snap, err := c.store.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading board state: %w", err)
	}

	updates := make(map[string]any)
	if _, has := snap.Document["type"]; !has {
		if t, ok := inferType(input); ok {
			updates["type"] = t
		}
	}
	for path, v := range constraints {
		updates["constraints."+path] = v
	}
	if len(updates) == 0 {
		return nil
	}

	_, _, err = c.commit(ctx, drawingboard.Transaction{
		Worker:          coordinatorName,
		Updates:         updates,
		ExpectedVersion: snap.Version,
		Reason:          "turn setup",
	})
	return err
}

// requestProposal queries one worker over the bus with a fresh snapshot.
func (c *Coordinator) requestProposal(ctx context.Context, name, input, intent string, constraints map[string]any, snap *drawingboard.Snapshot) (*worker.Proposal, error) {
	decisions, err := c.store.Decisions(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading decisions: %w", err)
	}

	out, err := c.bus.Query(ctx, drawingboard.Message{
		FromWorker: coordinatorName,
		ToWorker:   name,
		TimeoutMs:  c.opts.QueryTimeout.Milliseconds(),
		Payload: worker.ProposalRequest{
			Input: input,
			Context: worker.Context{
				Intent:          intent,
				Snapshot:        *snap,
				TurnConstraints: constraints,
				Decisions:       decisions,
			},
		},
	})
	if err != nil {
		return nil, err
	}
	prop, ok := out.(*worker.Proposal)
	if !ok {
		return nil, fmt.Errorf("worker %q returned %T, expected a proposal", name, out)
	}
	return prop, nil
}

// commit applies a transaction with optimistic retries: a stale-version
// rejection re-reads and reapplies on top of the new state. Lock rejections
// are not retried; the update is dropped and reported as not applied.
func (c *Coordinator) commit(ctx context.Context, tx drawingboard.Transaction) (*drawingboard.Snapshot, bool, error) {
	for attempt := 0; attempt < c.opts.MaxTransactRetries; attempt++ {
		res, err := c.store.Transact(ctx, tx)
		if err != nil {
			return nil, false, fmt.Errorf("committing %s update: %w", tx.Worker, err)
		}
		if res.Accepted {
			snap, err := c.store.Read(ctx)
			if err != nil {
				return nil, false, fmt.Errorf("reading board state: %w", err)
			}
			return snap, true, nil
		}

		stale := false
		for _, conflict := range res.Conflicts {
			if conflict.Type == drawingboard.ConflictStaleVersion {
				stale = true
				break
			}
		}
		if !stale {
			// Locked paths: drop the update rather than fight the lock.
			snap, err := c.store.Read(ctx)
			if err != nil {
				return nil, false, fmt.Errorf("reading board state: %w", err)
			}
			c.logEvent("update_dropped", map[string]any{
				"worker": tx.Worker,
				"reason": "locked paths",
			})
			return snap, false, nil
		}

		snap, err := c.store.Read(ctx)
		if err != nil {
			return nil, false, fmt.Errorf("reading board state: %w", err)
		}
		tx.ExpectedVersion = snap.Version
	}
	return nil, false, fmt.Errorf("committing %s update: version moved %d times", tx.Worker, c.opts.MaxTransactRetries)
}

// recordDecision persists an applied proposal as the worker's live decision.
func (c *Coordinator) recordDecision(ctx context.Context, name, intent string, prop *worker.Proposal) {
	err := c.store.RecordDecision(ctx, drawingboard.Decision{
		Worker:                 name,
		DecisionType:           intent,
		Value:                  prop.Updates,
		Reasoning:              prop.Reasoning,
		Confidence:             prop.Confidence,
		AlternativesConsidered: prop.AlternativesConsidered,
	})
	if err != nil {
		c.logEvent("decision_record_failed", map[string]any{"worker": name, "error": err.Error()})
	}
}

// substituteDecision degrades a timed-out worker to its last-known decision
// so one hung worker never stalls the turn. Safety-critical workers are
// never substituted, and only timeouts qualify: a worker that answered with
// an error keeps its unreachable conflict.
func (c *Coordinator) substituteDecision(ctx context.Context, name, intent string, cause error) *worker.Proposal {
	if !errors.Is(cause, bus.ErrTimeout) || c.bus.IsSafetyCritical(name) {
		return nil
	}

	dec, err := c.store.Decision(ctx, name, intent)
	if err != nil || dec == nil {
		return nil
	}
	updates, ok := dec.Value.(map[string]any)
	if !ok || len(updates) == 0 {
		return nil
	}

	c.logEvent("decision_substituted", map[string]any{"worker": name, "intent": intent})
	return &worker.Proposal{
		Success:    true,
		Updates:    updates,
		Reasoning:  fmt.Sprintf("last-known %s decision (worker timed out: %v)", intent, cause),
		Confidence: dec.Confidence,
	}
}

// validate asks the safety-critical validators for a final judgement. A
// validator that cannot be reached fails the turn loudly instead of passing
// it silently.
func (c *Coordinator) validate(ctx context.Context, snap *drawingboard.Snapshot, unresolved []drawingboard.Conflict) ValidationSummary {
	results := c.bus.RequestValidation(ctx, coordinatorName, worker.ValidationRequest{
		Document:    snap.Document,
		Constraints: snap.Constraints,
	}, c.validators()...)

	summary := ValidationSummary{Valid: true, Score: 1, Results: results}
	for _, res := range results {
		if res.Err != "" {
			summary.Valid = false
			summary.Score = 0
			summary.Issues = append(summary.Issues,
				fmt.Sprintf("validator %q unreachable: %s", res.Worker, res.Err))
			continue
		}
		if !res.Valid {
			summary.Valid = false
		}
		if res.Score < summary.Score {
			summary.Score = res.Score
		}
		summary.Issues = append(summary.Issues, res.Issues...)
	}

	for _, conflict := range unresolved {
		if conflict.Severity == drawingboard.SeverityHigh {
			summary.Valid = false
		}
	}
	return summary
}

// inferIntent maps free-form input onto the worker capability vocabulary.
func inferIntent(input string) string {
	lower := strings.ToLower(input)
	switch {
	case containsAny(lower, "validate", "check", "verify"):
		return "validate"
	case containsAny(lower, "resize", "bigger", "smaller", "wider", "narrower", "taller", "shorter"):
		return "resize"
	case containsAny(lower, "material", "wood", "plywood", "oak", "maple"):
		return "material"
	case containsAny(lower, "joinery", "joint", "fasten"):
		return "joinery"
	default:
		return "design"
	}
}

// knownTypes are the furniture types recognized in free-form input, most
// specific first so "bookshelf" does not match as "shelf".
var knownTypes = []string{"bookshelf", "shelf", "cabinet", "table", "desk", "chair", "bench", "stool"}

func inferType(input string) (string, bool) {
	lower := strings.ToLower(input)
	for _, t := range knownTypes {
		if strings.Contains(lower, t) {
			return t, true
		}
	}
	return "", false
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
