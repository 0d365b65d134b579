// Package storage holds what all committed output store backends share.
//
// A backend exposes Snapshot, returning the last committed output tables, and
// Commit, applying a delta.Delta as one atomic unit: either the whole round's
// change set becomes visible or none of it does.
package storage

import "errors"

var (
	// ErrNotLeader is returned by Commit when this instance lost the
	// right to write between the round start and the commit.
	ErrNotLeader = errors.New("instance is not the leader")
	// ErrPartialCommit is returned when only a prefix of the delta fit
	// into one transaction of the backend. The written part is committed,
	// the next round diffs against it and writes the rest.
	ErrPartialCommit = errors.New("delta committed partially")
	// ErrConstraint means the store rejected the delta as inconsistent
	// with its committed rows, retrying the same delta cannot succeed.
	ErrConstraint = errors.New("delta violates store constraint")
)
