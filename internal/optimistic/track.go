package optimistic

import (
	"reflect"

	"organizer/internal/core"
)

// mutation is one optimistic operation still waiting for the gateway.
type mutation struct {
	patch  core.Patch
	remove bool
	index  int // position before removal
}

// track is the per-identifier bookkeeping. The record shown to readers is
// always confirmed + outstanding patches (issue order) + draft, so a
// failing mutation drops out without disturbing the ones issued after it.
type track struct {
	confirmed core.Entity
	ops       []*mutation
	draft     core.Patch    // local edits owned by the write coalescer
	tail      chan struct{} // closed when the last queued persist call finishes
}

func newTrack(e core.Entity) *track {
	return &track{confirmed: e.Clone()}
}

func (t *track) view() core.Entity {
	e := t.confirmed.Clone()
	for _, m := range t.ops {
		if !m.remove {
			e.Fields.Merge(m.patch)
		}
	}
	e.Fields.Merge(t.draft)
	return e
}

func (t *track) removing() bool {
	for _, m := range t.ops {
		if m.remove {
			return true
		}
	}
	return false
}

func (t *track) drop(m *mutation) {
	for i, op := range t.ops {
		if op == m {
			t.ops = append(t.ops[:i], t.ops[i+1:]...)
			return
		}
	}
}

// settleDraft forgets draft fields whose value went out with patch. Fields
// edited again since then keep their newer value.
func (t *track) settleDraft(patch core.Patch) {
	for k, v := range patch {
		if dv, ok := t.draft[k]; ok && reflect.DeepEqual(dv, v) {
			delete(t.draft, k)
		}
	}
}

// enqueue puts a persist call at the back of this identifier's queue. The
// caller waits on prev and must release done once reconciled.
func (t *track) enqueue() (prev <-chan struct{}, done chan struct{}) {
	if t.tail != nil {
		prev = t.tail
	}
	done = make(chan struct{})
	t.tail = done
	return prev, done
}

func (t *track) release(done chan struct{}) {
	close(done)
	if t.tail == done {
		t.tail = nil
	}
}

func (t *track) idle() bool {
	return len(t.ops) == 0 && len(t.draft) == 0 && t.tail == nil
}
