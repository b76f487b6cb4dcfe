package optimistic

import (
	"context"
	"errors"

	"organizer/internal/core"
)

const (
	OpAdded        Op = "added"
	OpUpdated      Op = "updated"
	OpRemoved      Op = "removed"
	OpCommitted    Op = "committed"
	OpCommitFailed Op = "commit_failed"
	OpRolledBack   Op = "rolled_back"
	OpReplaced     Op = "replaced"
)

type (
	Op string

	// Event describes how one operation settled.
	Event struct {
		Op     Op
		ID     string
		TempID string      // set for adds
		Entity core.Entity // canonical record, when there is one
		Err    error
	}
)

var errQueueAbandoned = errors.New("abandoned while queued")

// abandonedError is a context error raised while waiting in the
// per-identifier queue; the queue slot is handed on asynchronously.
type abandonedError struct{ err error }

func (e abandonedError) Error() string   { return e.err.Error() }
func (e abandonedError) Unwrap() []error { return []error{e.err, errQueueAbandoned} }

func unwrapAbandoned(err error) error {
	var a abandonedError
	if errors.As(err, &a) {
		return a.err
	}
	return err
}

// waitTurn blocks until every persist call queued before ours on id has
// reconciled. If ctx ends first, our slot is released once the predecessor
// finishes so later callers keep their order.
func (s *Store) waitTurn(ctx context.Context, id string, t *track, prev <-chan struct{}, done chan struct{}) error {
	if prev == nil {
		return nil
	}
	select {
	case <-prev:
		return nil
	case <-ctx.Done():
		go func() {
			<-prev
			s.mu.Lock()
			s.releaseTurn(id, t, done)
			s.mu.Unlock()
		}()
		return abandonedError{err: ctx.Err()}
	}
}
