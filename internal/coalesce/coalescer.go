// Package coalesce batches rapid field edits into one persist call per
// record once input pauses, and tracks a SaveState per record for display.
package coalesce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"organizer/internal/core"
	"organizer/internal/log"
)

const (
	DefaultWindow        = 500 * time.Millisecond
	DefaultSavedDisplay  = 2 * time.Second
	DefaultMaxConcurrent = 8
)

var (
	// ErrClosed is returned by QueuePatch after Close.
	ErrClosed = errors.New("coalescer closed")
	// ErrDiscarded is returned by a PersistFunc when the record is gone.
	// The edits are dropped and the record goes back to idle.
	ErrDiscarded = errors.New("edits discarded")
)

type (
	// PersistFunc saves one record's accumulated patch.
	PersistFunc func(ctx context.Context, id string, patch core.Patch) error
	// ApplyFunc shows a patch locally before it is persisted.
	ApplyFunc func(id string, patch core.Patch) error
)

// Options tunes a Coalescer. Zero values take the defaults above.
type Options struct {
	Window        time.Duration
	SavedDisplay  time.Duration
	MaxConcurrent int
	Apply         ApplyFunc
	Logger        *slog.Logger
}

// Coalescer owns the pending patch set. Edits are merged per record and
// field, last write wins, until the quiet window passes.
type Coalescer struct {
	persist PersistFunc
	opts    Options
	logger  *slog.Logger
	timer   *Timer

	mu       sync.Mutex
	pending  map[string]core.Patch
	states   map[string]SaveState
	errs     map[string]error
	stateGen map[string]uint64
	reverts  map[string]*time.Timer
	closed   bool

	// ctx bounds timer-driven flushes. running counts them; drained is
	// closed when it drops back to zero.
	ctx     context.Context
	cancel  context.CancelFunc
	running int
	drained chan struct{}

	subMu   sync.Mutex
	subs    map[int]chan StateChange
	nextSub int
}

// New creates a coalescer that persists through persist.
func New(persist PersistFunc, opts Options) *Coalescer {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.SavedDisplay <= 0 {
		opts.SavedDisplay = DefaultSavedDisplay
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coalescer{
		persist:  persist,
		opts:     opts,
		logger:   logger.With(log.FieldComponent, log.ComponentCoalescer),
		pending:  make(map[string]core.Patch),
		states:   make(map[string]SaveState),
		errs:     make(map[string]error),
		stateGen: make(map[string]uint64),
		reverts:  make(map[string]*time.Timer),
		ctx:      ctx,
		cancel:   cancel,
		subs:     make(map[int]chan StateChange),
	}
	c.timer = NewTimer(opts.Window, c.onTimer)
	return c
}

// QueuePatch merges fields into the pending patch for id and restarts the
// quiet window. A sticky error state on id is cleared by the new edit.
func (c *Coalescer) QueuePatch(id string, fields core.Patch) error {
	if err := fields.Validate(); err != nil {
		return fmt.Errorf("queue %s: %w", id, err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.mu.Unlock()

	if c.opts.Apply != nil {
		if err := c.opts.Apply(id, fields.Clone()); err != nil {
			return fmt.Errorf("queue %s: %w", id, err)
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending[id] = c.pending[id].Merge(fields.Clone())
	var change *StateChange
	if c.states[id] == StateError {
		change = c.setState(id, StateIdle, nil)
	}
	c.mu.Unlock()

	if change != nil {
		c.publish(*change)
	}
	c.timer.Reset()
	return nil
}

// Flush persists everything queued so far right away and waits for it,
// and for any timer-driven flush already running. Failures of this flush
// are returned joined; all failures are recorded per record.
func (c *Coalescer) Flush(ctx context.Context) error {
	c.timer.Stop()
	err := c.flush(ctx)
	if werr := c.waitRunning(ctx); werr != nil && err == nil {
		err = werr
	}
	return err
}

// Discard drops queued edits for id and resets its state to idle. Used
// once the record itself has been removed.
func (c *Coalescer) Discard(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	var change *StateChange
	if _, ok := c.states[id]; ok {
		change = c.setState(id, StateIdle, nil)
	}
	delete(c.stateGen, id)
	c.mu.Unlock()

	if change != nil {
		c.publish(*change)
	}
}

// Close stops the timer, flushes what is left and waits for running flushes.
func (c *Coalescer) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.timer.Stop()
	err := c.flush(ctx)
	if werr := c.waitRunning(ctx); werr != nil {
		c.cancel()
		_ = c.waitRunning(context.Background())
		if err == nil {
			err = werr
		}
	}
	c.cancel()

	c.mu.Lock()
	for id, t := range c.reverts {
		t.Stop()
		delete(c.reverts, id)
	}
	c.mu.Unlock()

	c.subMu.Lock()
	for id, ch := range c.subs {
		delete(c.subs, id)
		close(ch)
	}
	c.subMu.Unlock()
	return err
}

// State returns the SaveState for id; records never edited are idle.
func (c *Coalescer) State(id string) SaveState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.states[id]; ok {
		return s
	}
	return StateIdle
}

// Err returns the error behind a StateError, or nil.
func (c *Coalescer) Err(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errs[id]
}

// States returns every record whose state is not idle.
func (c *Coalescer) States() map[string]SaveState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]SaveState, len(c.states))
	for id, s := range c.states {
		out[id] = s
	}
	return out
}

// Pending returns the ids with edits not yet handed to a flush.
func (c *Coalescer) Pending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.pending))
	for id := range c.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Subscribe streams state changes. A reader that falls far behind misses
// changes rather than stalling flushes. The channel closes on Close.
func (c *Coalescer) Subscribe() (<-chan StateChange, func()) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	id := c.nextSub
	c.nextSub++
	ch := make(chan StateChange, 64)
	c.subs[id] = ch
	return ch, func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if ch, ok := c.subs[id]; ok {
			delete(c.subs, id)
			close(ch)
		}
	}
}

func (c *Coalescer) onTimer() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if c.running == 0 {
		c.drained = make(chan struct{})
	}
	c.running++
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running--
		if c.running == 0 {
			close(c.drained)
		}
		c.mu.Unlock()
	}()
	if err := c.flush(c.ctx); err != nil {
		c.logger.Warn("Batched flush had failures", log.FieldError, err)
	}
}

// waitRunning blocks until no timer-driven flush is running.
func (c *Coalescer) waitRunning(ctx context.Context) error {
	for {
		c.mu.Lock()
		if c.running == 0 {
			c.mu.Unlock()
			return nil
		}
		drained := c.drained
		c.mu.Unlock()

		select {
		case <-drained:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// flush takes the whole pending set and persists each record on its own.
func (c *Coalescer) flush(ctx context.Context) error {
	c.mu.Lock()
	batch := c.pending
	c.pending = make(map[string]core.Patch)
	ids := make([]string, 0, len(batch))
	changes := make([]StateChange, 0, len(batch))
	for id := range batch {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		changes = append(changes, *c.setState(id, StateSaving, nil))
	}
	c.mu.Unlock()

	if len(ids) == 0 {
		return nil
	}
	for _, ch := range changes {
		c.publish(ch)
	}
	c.logger.Debug("Flushing pending patches", log.FieldOperation, log.OpFlush, log.FieldBatchSize, len(ids))

	var (
		g      errgroup.Group
		errMu  sync.Mutex
		failed []error
	)
	g.SetLimit(c.opts.MaxConcurrent)
	for _, id := range ids {
		id := id
		patch := batch[id]
		g.Go(func() error {
			err := c.persist(ctx, id, patch)
			if errors.Is(err, ErrDiscarded) {
				c.logger.Debug("Edits discarded", log.FieldEntityID, id)
				c.Discard(id)
				return nil
			}
			c.finish(id, err)
			if err != nil {
				errMu.Lock()
				failed = append(failed, fmt.Errorf("%s: %w", id, err))
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(failed...)
}

func (c *Coalescer) finish(id string, err error) {
	c.mu.Lock()
	var change *StateChange
	if err != nil {
		change = c.setState(id, StateError, err)
	} else {
		change = c.setState(id, StateSaved, nil)
		gen := c.stateGen[id]
		if !c.closed {
			c.reverts[id] = time.AfterFunc(c.opts.SavedDisplay, func() { c.revert(id, gen) })
		}
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn("Saving record failed", log.FieldEntityID, id, log.FieldSaveState, change.State.String(), log.FieldError, err)
	}
	c.publish(*change)
}

// revert moves a saved record back to idle unless something else happened
// to it in the meantime.
func (c *Coalescer) revert(id string, gen uint64) {
	c.mu.Lock()
	if c.stateGen[id] != gen || c.states[id] != StateSaved {
		c.mu.Unlock()
		return
	}
	change := c.setState(id, StateIdle, nil)
	c.mu.Unlock()
	c.publish(*change)
}

// setState expects c.mu to be held.
func (c *Coalescer) setState(id string, s SaveState, err error) *StateChange {
	c.stateGen[id]++
	if t, ok := c.reverts[id]; ok {
		t.Stop()
		delete(c.reverts, id)
	}
	if s == StateIdle {
		delete(c.states, id)
		delete(c.errs, id)
	} else {
		c.states[id] = s
		if err != nil {
			c.errs[id] = err
		} else {
			delete(c.errs, id)
		}
	}
	return &StateChange{ID: id, State: s, Err: err}
}

func (c *Coalescer) publish(change StateChange) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- change:
		default:
		}
	}
}
