// Package drawingboard provides type-safe Go definitions and Redis schema
// patterns for the Tenon drawing board: the versioned shared state that all
// Tenon components (coordinator, workers, CLI) mutate through transactions.
//
// The drawing board holds one furniture design session: the evolving design
// document, the accumulated constraints, path-scoped advisory locks, the
// change history ring, and recorded worker decisions. All Redis keys and
// channels are namespaced by session name so multiple design sessions can
// safely coexist on a single Redis server.
//
// Mutation happens only through Store.Transact, which applies optimistic
// version checks and lock checks before committing atomically. Reads always
// return point-in-time snapshots decoded fresh from Redis; callers never see
// the store's internal state.
package drawingboard
