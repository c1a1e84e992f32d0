package drawingboard

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by session name so that
// multiple design sessions can safely coexist on a single Redis server.
//
// Key pattern: tenon:{session}:{entity}
// Channel pattern: tenon:{session}:{event_type}_events

// SessionPrefix returns the key prefix shared by all of a session's keys.
// Pattern: tenon:{session}:
func SessionPrefix(session string) string {
	return fmt.Sprintf("tenon:%s:", session)
}

// StateKey returns the Redis key for the session state hash, which holds the
// JSON-encoded document, the JSON-encoded constraints and the version.
// Pattern: tenon:{session}:state
func StateKey(session string) string {
	return fmt.Sprintf("tenon:%s:state", session)
}

// LocksKey returns the Redis key for the lock registry hash
// (lock id -> JSON-encoded Lock).
// Pattern: tenon:{session}:locks
func LocksKey(session string) string {
	return fmt.Sprintf("tenon:%s:locks", session)
}

// HistoryKey returns the Redis key for the change history ring (a list,
// newest first, trimmed to the configured capacity).
// Pattern: tenon:{session}:history
func HistoryKey(session string) string {
	return fmt.Sprintf("tenon:%s:history", session)
}

// DecisionsKey returns the Redis key for the decisions hash
// ("worker|decision_type" -> JSON-encoded Decision).
// Pattern: tenon:{session}:decisions
func DecisionsKey(session string) string {
	return fmt.Sprintf("tenon:%s:decisions", session)
}

// SnapshotKey returns the Redis key for the rollback snapshot captured at an
// exact version.
// Pattern: tenon:{session}:snapshot:{version}
func SnapshotKey(session string, version int64) string {
	return fmt.Sprintf("tenon:%s:snapshot:%d", session, version)
}

// ChangeEventsChannel returns the Pub/Sub channel name for committed
// transaction events.
// Pattern: tenon:{session}:change_events
func ChangeEventsChannel(session string) string {
	return fmt.Sprintf("tenon:%s:change_events", session)
}
