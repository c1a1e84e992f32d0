package drawingboard

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for converting between Go structs and Redis values.
//
// The session state lives in a single Redis hash so reads are consistent
// point-in-time snapshots: HGETALL is atomic. The document and constraints
// are JSON-encoded into individual hash fields next to the plain version
// counter. Locks, decisions and history entries are JSON-encoded whole.

// stateToHash converts a snapshot to the state hash format.
func stateToHash(s *Snapshot) (map[string]any, error) {
	docJSON, err := json.Marshal(s.Document)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}

	constraintsJSON, err := json.Marshal(s.Constraints)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal constraints: %w", err)
	}

	hash := map[string]any{
		"document":    string(docJSON),
		"constraints": string(constraintsJSON),
		"version":     s.Version,
	}

	return hash, nil
}

// hashToState converts the state hash back to a snapshot. Decoding from JSON
// yields fresh maps, so every snapshot is naturally a deep copy.
func hashToState(hash map[string]string) (*Snapshot, error) {
	version, err := strconv.ParseInt(hash["version"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid version field: %w", err)
	}

	doc := Document{}
	if raw := hash["document"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("failed to unmarshal document: %w", err)
		}
	}

	constraints := Constraints{}
	if raw := hash["constraints"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &constraints); err != nil {
			return nil, fmt.Errorf("failed to unmarshal constraints: %w", err)
		}
	}

	return &Snapshot{
		Document:    doc,
		Constraints: constraints,
		Version:     version,
	}, nil
}

// decisionField returns the decisions hash field for a (worker, type) key.
// At most one live decision exists per key; redecisions overwrite.
func decisionField(worker, decisionType string) string {
	return worker + "|" + decisionType
}
