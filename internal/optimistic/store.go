// Package optimistic keeps a collection of entities usable ahead of the
// gateway: mutations land locally first and are reconciled with the
// canonical record, or rolled back, once the gateway answers.
package optimistic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"organizer/internal/core"
	"organizer/internal/log"
)

type (
	// CreateFunc persists a new entity and returns the canonical record.
	CreateFunc func(ctx context.Context, e core.Entity) (core.Entity, error)
	// UpdateFunc persists a partial update and returns the full canonical record.
	UpdateFunc func(ctx context.Context, id string, patch core.Patch) (core.Entity, error)
	// DeleteFunc deletes an entity.
	DeleteFunc func(ctx context.Context, id string) error

	// Record is what readers see: the current local entity and whether a
	// mutation on it is still in flight.
	Record struct {
		core.Entity
		Pending   bool
		Tentative bool
	}

	// Option configures a Store.
	Option func(*Store)
)

// ErrNoCanonicalID is returned by Add when the gateway answered without an id.
var ErrNoCanonicalID = errors.New("gateway returned a record without id")

// Store is the optimistic collection for one resource. It is safe for
// concurrent use; persist calls always run outside the lock.
type Store struct {
	mu        sync.Mutex
	records   []core.Entity
	pending   map[string]int
	tentative map[string]struct{}
	tracks    map[string]*track

	ids       *TempIDs
	logger    *slog.Logger
	listeners []func(Event)

	subMu   sync.Mutex
	subs    map[int]chan struct{}
	nextSub int
}

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithListener registers a callback for reconciliation events. Listeners
// run on the goroutine that completed the operation, outside the lock.
func WithListener(fn func(Event)) Option {
	return func(s *Store) {
		if fn != nil {
			s.listeners = append(s.listeners, fn)
		}
	}
}

// WithTempIDs shares a tentative id generator between stores.
func WithTempIDs(ids *TempIDs) Option {
	return func(s *Store) {
		if ids != nil {
			s.ids = ids
		}
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		pending:   make(map[string]int),
		tentative: make(map[string]struct{}),
		tracks:    make(map[string]*track),
		ids:       &TempIDs{},
		logger:    slog.Default(),
		subs:      make(map[int]chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(log.FieldComponent, log.ComponentStore)
	return s
}

// Add inserts a tentative copy of entity at the head of the collection and
// persists it. On success the tentative record is replaced in place by the
// canonical one; on failure it is removed and the error returned.
func (s *Store) Add(ctx context.Context, entity core.Entity, persist CreateFunc) (core.Entity, error) {
	s.mu.Lock()
	tempID := s.nextTempID()
	local := entity.Clone()
	local.ID = tempID
	s.records = append([]core.Entity{local}, s.records...)
	s.tentative[tempID] = struct{}{}
	s.pending[tempID]++
	s.mu.Unlock()
	s.notify()

	payload := entity.Clone()
	payload.ID = ""
	canonical, err := persist(ctx, payload)
	if err == nil && canonical.ID == "" {
		err = ErrNoCanonicalID
	}

	s.mu.Lock()
	delete(s.tentative, tempID)
	s.release(tempID)
	idx := s.indexOf(tempID)
	if err != nil {
		if idx >= 0 {
			s.removeAt(idx)
		}
		s.mu.Unlock()
		s.notify()
		s.logger.WarnContext(ctx, "Optimistic add rolled back", log.FieldTempID, tempID, log.FieldError, err)
		s.emit(Event{Op: OpRolledBack, ID: tempID, TempID: tempID, Err: err})
		return core.Entity{}, fmt.Errorf("add: %w", err)
	}

	canonical = canonical.Clone()
	existing := s.indexOf(canonical.ID)
	switch {
	case idx >= 0 && existing >= 0:
		// A refetch already brought the canonical record in.
		s.records[existing] = canonical.Clone()
		s.removeAt(idx)
	case idx >= 0:
		s.records[idx] = canonical.Clone()
	case existing >= 0:
		s.records[existing] = canonical.Clone()
	default:
		s.records = append([]core.Entity{canonical.Clone()}, s.records...)
	}
	s.mu.Unlock()
	s.notify()

	s.logger.DebugContext(ctx, "Optimistic add confirmed", log.FieldTempID, tempID, log.FieldEntityID, canonical.ID)
	s.emit(Event{Op: OpAdded, ID: canonical.ID, TempID: tempID, Entity: canonical.Clone()})
	return canonical, nil
}

// Update applies patch locally right away and persists it. Persist calls
// for one identifier run one at a time in issue order. On failure the
// record goes back to what it would be without this patch.
func (s *Store) Update(ctx context.Context, id string, patch core.Patch, persist UpdateFunc) (core.Entity, error) {
	if err := patch.Validate(); err != nil {
		return core.Entity{}, fmt.Errorf("update %s: %w", id, err)
	}

	s.mu.Lock()
	idx, err := s.lookup(id)
	if err != nil {
		s.mu.Unlock()
		return core.Entity{}, fmt.Errorf("update %s: %w", id, err)
	}
	t := s.trackAt(id, idx)
	m := &mutation{patch: patch.Clone()}
	t.ops = append(t.ops, m)
	s.records[idx] = t.view()
	s.pending[id]++
	prev, done := t.enqueue()
	s.mu.Unlock()
	s.notify()

	var canonical core.Entity
	if err = s.waitTurn(ctx, id, t, prev, done); err == nil {
		canonical, err = persist(ctx, id, patch.Clone())
	}

	s.mu.Lock()
	t.drop(m)
	if err == nil {
		if canonical.ID == "" {
			canonical.ID = id
		}
		t.confirmed = canonical.Clone()
	}
	s.refresh(id, t)
	s.release(id)
	if err == nil || !errors.Is(err, errQueueAbandoned) {
		s.releaseTurn(id, t, done)
	}
	s.mu.Unlock()
	s.notify()

	if err != nil {
		err = unwrapAbandoned(err)
		s.logger.WarnContext(ctx, "Optimistic update rolled back", log.FieldEntityID, id, log.FieldError, err)
		s.emit(Event{Op: OpRolledBack, ID: id, Err: err})
		return core.Entity{}, fmt.Errorf("update %s: %w", id, err)
	}
	s.emit(Event{Op: OpUpdated, ID: id, Entity: canonical.Clone()})
	return canonical, nil
}

// Remove drops the record right away and persists the deletion. On failure
// the record is put back at the position it had.
func (s *Store) Remove(ctx context.Context, id string, persist DeleteFunc) error {
	s.mu.Lock()
	idx, err := s.lookup(id)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("remove %s: %w", id, err)
	}
	t := s.trackAt(id, idx)
	m := &mutation{remove: true, index: idx}
	t.ops = append(t.ops, m)
	s.removeAt(idx)
	s.pending[id]++
	prev, done := t.enqueue()
	s.mu.Unlock()
	s.notify()

	if err = s.waitTurn(ctx, id, t, prev, done); err == nil {
		err = persist(ctx, id)
	}

	s.mu.Lock()
	t.drop(m)
	if err != nil && s.indexOf(id) < 0 && !t.removing() {
		s.insertAt(min(m.index, len(s.records)), t.view())
	}
	if err == nil {
		t.draft = nil
	}
	s.release(id)
	if err == nil || !errors.Is(err, errQueueAbandoned) {
		s.releaseTurn(id, t, done)
	}
	s.mu.Unlock()
	s.notify()

	if err != nil {
		err = unwrapAbandoned(err)
		s.logger.WarnContext(ctx, "Optimistic remove rolled back", log.FieldEntityID, id, log.FieldError, err)
		s.emit(Event{Op: OpRolledBack, ID: id, Err: err})
		return fmt.Errorf("remove %s: %w", id, err)
	}
	s.emit(Event{Op: OpRemoved, ID: id})
	return nil
}

// ReplaceAll swaps in an authoritative collection, typically a refetch.
// Tentative records from adds still in flight stay at the head, and
// outstanding optimistic patches are laid over the fresh records.
// Bookkeeping for identifiers missing from entities is left alone.
func (s *Store) ReplaceAll(entities []core.Entity) {
	s.mu.Lock()
	next := make([]core.Entity, 0, len(entities)+len(s.tentative))
	for _, r := range s.records {
		if _, ok := s.tentative[r.ID]; ok {
			next = append(next, r)
		}
	}
	seen := make(map[string]struct{}, len(entities))
	for _, e := range entities {
		if e.ID == "" {
			continue
		}
		if _, dup := seen[e.ID]; dup {
			continue
		}
		seen[e.ID] = struct{}{}

		t, ok := s.tracks[e.ID]
		if !ok {
			next = append(next, e.Clone())
			continue
		}
		t.confirmed = e.Clone()
		if t.removing() {
			continue
		}
		next = append(next, t.view())
	}
	s.records = next
	count := len(next)
	s.mu.Unlock()
	s.notify()

	s.logger.Debug("Collection replaced", "count", count)
	s.emit(Event{Op: OpReplaced})
}

// ApplyLocal sets fields on a record without persisting them. The write
// coalescer uses it for keystroke edits; these are never rolled back.
func (s *Store) ApplyLocal(id string, patch core.Patch) error {
	if err := patch.Validate(); err != nil {
		return fmt.Errorf("apply %s: %w", id, err)
	}

	s.mu.Lock()
	idx, err := s.lookup(id)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("apply %s: %w", id, err)
	}
	t := s.trackAt(id, idx)
	t.draft = t.draft.Merge(patch)
	s.records[idx] = t.view()
	s.mu.Unlock()
	s.notify()
	return nil
}

// Commit persists fields already applied with ApplyLocal. It shares the
// per-identifier queue with Update and Remove. On success the canonical
// record is taken; on failure the local values stay as they are. A record
// removed before its turn comes yields core.ErrUnknownID without a call.
func (s *Store) Commit(ctx context.Context, id string, patch core.Patch, persist UpdateFunc) (core.Entity, error) {
	if err := patch.Validate(); err != nil {
		return core.Entity{}, fmt.Errorf("commit %s: %w", id, err)
	}

	s.mu.Lock()
	if _, ok := s.tentative[id]; ok {
		s.mu.Unlock()
		return core.Entity{}, fmt.Errorf("commit %s: %w", id, core.ErrTentativeID)
	}
	t, ok := s.tracks[id]
	idx := s.indexOf(id)
	if idx < 0 && (!ok || !t.removing()) {
		s.mu.Unlock()
		return core.Entity{}, fmt.Errorf("commit %s: %w", id, core.ErrUnknownID)
	}
	if !ok {
		t = s.trackAt(id, idx)
	}
	s.pending[id]++
	prev, done := t.enqueue()
	s.mu.Unlock()
	s.notify()

	var canonical core.Entity
	err := s.waitTurn(ctx, id, t, prev, done)
	if err == nil {
		s.mu.Lock()
		gone := s.indexOf(id) < 0 && !t.removing()
		s.mu.Unlock()
		if gone {
			err = core.ErrUnknownID
		} else {
			canonical, err = persist(ctx, id, patch.Clone())
		}
	}

	s.mu.Lock()
	if err == nil {
		if canonical.ID == "" {
			canonical.ID = id
		}
		t.confirmed = canonical.Clone()
	} else {
		t.confirmed = t.confirmed.Apply(patch)
	}
	t.settleDraft(patch)
	s.refresh(id, t)
	s.release(id)
	if err == nil || !errors.Is(err, errQueueAbandoned) {
		s.releaseTurn(id, t, done)
	}
	s.mu.Unlock()
	s.notify()

	if err != nil {
		err = unwrapAbandoned(err)
		s.logger.WarnContext(ctx, "Commit failed, keeping local values",
			log.FieldEntityID, id, log.FieldFields, patch.Keys(), log.FieldError, err)
		s.emit(Event{Op: OpCommitFailed, ID: id, Err: err})
		return core.Entity{}, fmt.Errorf("commit %s: %w", id, err)
	}
	s.emit(Event{Op: OpCommitted, ID: id, Entity: canonical.Clone()})
	return canonical, nil
}

// Snapshot returns a copy of the collection in display order.
func (s *Store) Snapshot() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	for i, e := range s.records {
		out[i] = s.record(e)
	}
	return out
}

// Entities returns the confirmed-or-optimistic entities, leaving out
// tentative ones.
func (s *Store) Entities() []core.Entity {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Entity, 0, len(s.records))
	for _, e := range s.records {
		if _, ok := s.tentative[e.ID]; ok {
			continue
		}
		out = append(out, e.Clone())
	}
	return out
}

// Get returns the record with the given id.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexOf(id)
	if idx < 0 {
		return Record{}, false
	}
	return s.record(s.records[idx]), true
}

// Pending reports whether id has a mutation in flight.
func (s *Store) Pending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending[id] > 0
}

// Len returns the number of records, tentative ones included.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Subscribe returns a channel that receives a value whenever the
// collection changes. Notifications coalesce: a slow reader sees one.
func (s *Store) Subscribe() (<-chan struct{}, func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	ch := make(chan struct{}, 1)
	s.subs[id] = ch
	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (s *Store) emit(ev Event) {
	for _, fn := range s.listeners {
		fn(ev)
	}
}

// The helpers below expect s.mu to be held.

func (s *Store) record(e core.Entity) Record {
	_, tentative := s.tentative[e.ID]
	return Record{Entity: e.Clone(), Pending: s.pending[e.ID] > 0, Tentative: tentative}
}

func (s *Store) lookup(id string) (int, error) {
	if _, ok := s.tentative[id]; ok {
		return -1, core.ErrTentativeID
	}
	idx := s.indexOf(id)
	if idx < 0 {
		return -1, core.ErrUnknownID
	}
	return idx, nil
}

func (s *Store) indexOf(id string) int {
	for i, e := range s.records {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) removeAt(idx int) {
	s.records = append(s.records[:idx], s.records[idx+1:]...)
}

func (s *Store) insertAt(idx int, e core.Entity) {
	s.records = append(s.records, core.Entity{})
	copy(s.records[idx+1:], s.records[idx:])
	s.records[idx] = e
}

func (s *Store) trackAt(id string, idx int) *track {
	t, ok := s.tracks[id]
	if !ok {
		t = newTrack(s.records[idx])
		s.tracks[id] = t
	}
	return t
}

// refresh rewrites the visible record from its track, if still visible.
func (s *Store) refresh(id string, t *track) {
	if idx := s.indexOf(id); idx >= 0 {
		s.records[idx] = t.view()
	}
}

func (s *Store) release(id string) {
	if s.pending[id] <= 1 {
		delete(s.pending, id)
		return
	}
	s.pending[id]--
}

func (s *Store) releaseTurn(id string, t *track, done chan struct{}) {
	t.release(done)
	if t.idle() {
		delete(s.tracks, id)
	}
}

func (s *Store) nextTempID() string {
	for {
		id := s.ids.Next()
		if _, ok := s.tentative[id]; ok {
			continue
		}
		if s.indexOf(id) >= 0 {
			continue
		}
		return id
	}
}
