package drawingboard

import "errors"

// ErrSnapshotNotFound is returned by RollbackTo when no snapshot was captured
// at the requested version. Snapshots are taken periodically, not on every
// transaction, so only some versions are restorable.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// ErrSessionClosed is returned by store operations after Close.
var ErrSessionClosed = errors.New("drawing board session closed")

// IsSnapshotNotFound returns true if the error indicates a missing rollback
// snapshot.
func IsSnapshotNotFound(err error) bool {
	return errors.Is(err, ErrSnapshotNotFound)
}
