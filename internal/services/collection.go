package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"organizer/internal/amqp"
	"organizer/internal/coalesce"
	"organizer/internal/core"
	"organizer/internal/log"
	"organizer/internal/optimistic"
)

// Collection is one resource as the user sees it: discrete actions go
// straight through the optimistic store, field edits through the
// coalescer, and both reconcile against the gateway.
type Collection struct {
	session   *Session
	resource  core.Resource
	store     *optimistic.Store
	coalescer *coalesce.Coalescer
	logger    *log.Logger
}

func newCollection(s *Session, r core.Resource) *Collection {
	c := &Collection{
		session:  s,
		resource: r,
		logger:   s.logger.With(log.FieldResource, r.Key()),
	}
	c.store = optimistic.New(
		optimistic.WithLogger(c.logger.Logger),
		optimistic.WithTempIDs(s.ids),
		optimistic.WithListener(c.onEvent),
	)
	c.coalescer = coalesce.New(c.persistEdit, coalesce.Options{
		Window:        s.cfg.DebounceWindow,
		SavedDisplay:  s.cfg.SavedDisplay,
		MaxConcurrent: s.cfg.FlushConcurrency,
		Apply:         c.store.ApplyLocal,
		Logger:        c.logger.Logger,
	})
	return c
}

func (c *Collection) Resource() core.Resource {
	return c.resource
}

// Add validates fields and adds a record optimistically.
func (c *Collection) Add(ctx context.Context, fields core.Fields) (core.Entity, error) {
	e := core.NewEntity("", fields)
	if err := core.ValidateEntity(c.resource.Kind, e); err != nil {
		return core.Entity{}, fmt.Errorf("add %s: %w", c.resource, err)
	}
	return c.store.Add(ctx, e, func(ctx context.Context, e core.Entity) (core.Entity, error) {
		return c.session.gw.Create(ctx, c.resource, e)
	})
}

// Update patches a record optimistically. The merged record is validated
// before anything is shown.
func (c *Collection) Update(ctx context.Context, id string, patch core.Patch) (core.Entity, error) {
	if err := c.validatePatch(id, patch); err != nil {
		return core.Entity{}, err
	}
	return c.store.Update(ctx, id, patch, func(ctx context.Context, id string, patch core.Patch) (core.Entity, error) {
		return c.session.gw.Update(ctx, c.resource, id, patch)
	})
}

// Remove deletes a record optimistically; on failure it comes back where
// it was. Once deleted, its unsaved edits and any recorded save error go.
func (c *Collection) Remove(ctx context.Context, id string) error {
	err := c.store.Remove(ctx, id, func(ctx context.Context, id string) error {
		return c.session.gw.Delete(ctx, c.resource, id)
	})
	if err != nil {
		return err
	}
	c.coalescer.Discard(id)
	c.recordSaveOutcome(ctx, id, nil)
	return nil
}

// Edit queues a field edit; it shows at once and is saved when edits
// pause. Tentative records cannot be edited until their add settles.
func (c *Collection) Edit(id string, patch core.Patch) error {
	if optimistic.IsTentative(id) {
		return fmt.Errorf("edit %s: %w", id, core.ErrTentativeID)
	}
	if err := c.validatePatch(id, patch); err != nil {
		return err
	}
	return c.coalescer.QueuePatch(id, patch)
}

// Flush saves queued edits now.
func (c *Collection) Flush(ctx context.Context) error {
	return c.coalescer.Flush(ctx)
}

// Refresh replaces the collection with the gateway's and snapshots it.
func (c *Collection) Refresh(ctx context.Context) error {
	entities, err := c.session.gw.List(ctx, c.resource)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", c.resource, err)
	}
	c.store.ReplaceAll(entities)
	c.logger.DebugContext(ctx, "Collection refreshed", log.FieldOperation, log.OpRefresh, "count", len(entities))
	c.saveSnapshot(ctx)
	return nil
}

// Restore loads the last snapshot into an empty collection and returns
// when it was taken. Zero means there was nothing to restore.
func (c *Collection) Restore(ctx context.Context) (time.Time, error) {
	if c.session.snapshots == nil || c.store.Len() > 0 {
		return time.Time{}, nil
	}
	snap, err := c.session.snapshots.LoadSnapshot(ctx, c.resource.Key())
	if err != nil {
		return time.Time{}, fmt.Errorf("restore %s: %w", c.resource, err)
	}
	if len(snap.Entities) == 0 {
		return time.Time{}, nil
	}
	c.store.ReplaceAll(snap.Entities)
	c.logger.DebugContext(ctx, "Snapshot restored", log.FieldOperation, log.OpRestore,
		"count", len(snap.Entities), "saved_at", snap.SavedAt)
	return snap.SavedAt, nil
}

// View returns the records matching q in display order.
func (c *Collection) View(q core.Query) []optimistic.Record {
	records := c.store.Snapshot()
	byID := make(map[string]optimistic.Record, len(records))
	entities := make([]core.Entity, len(records))
	for i, r := range records {
		byID[r.ID] = r
		entities[i] = r.Entity
	}
	matched := q.Apply(entities)
	out := make([]optimistic.Record, len(matched))
	for i, e := range matched {
		out[i] = byID[e.ID]
	}
	return out
}

// Get returns one record.
func (c *Collection) Get(id string) (optimistic.Record, bool) {
	return c.store.Get(id)
}

// SaveStates returns every record whose save indicator is not idle.
func (c *Collection) SaveStates() map[string]coalesce.SaveState {
	return c.coalescer.States()
}

// SaveState returns the save indicator for id and the error behind it.
func (c *Collection) SaveState(id string) (coalesce.SaveState, error) {
	return c.coalescer.State(id), c.coalescer.Err(id)
}

// Subscribe notifies whenever the visible collection changes.
func (c *Collection) Subscribe() (<-chan struct{}, func()) {
	return c.store.Subscribe()
}

// SubscribeStates streams save indicator changes.
func (c *Collection) SubscribeStates() (<-chan coalesce.StateChange, func()) {
	return c.coalescer.Subscribe()
}

// Close saves queued edits and writes a final snapshot.
func (c *Collection) Close(ctx context.Context) error {
	err := c.coalescer.Close(ctx)
	c.saveSnapshot(ctx)
	return err
}

// persistEdit is the coalescer's persist step: commit through the store
// and remember the outcome so later sessions can show failures. Edits to a
// record removed meanwhile are discarded.
func (c *Collection) persistEdit(ctx context.Context, id string, patch core.Patch) error {
	_, err := c.store.Commit(ctx, id, patch, func(ctx context.Context, id string, patch core.Patch) (core.Entity, error) {
		return c.session.gw.Update(ctx, c.resource, id, patch)
	})
	if errors.Is(err, core.ErrUnknownID) {
		c.recordSaveOutcome(ctx, id, nil)
		return fmt.Errorf("%w: %w", coalesce.ErrDiscarded, err)
	}
	c.recordSaveOutcome(ctx, id, err)
	return err
}

func (c *Collection) recordSaveOutcome(ctx context.Context, id string, err error) {
	snaps := c.session.snapshots
	if snaps == nil {
		return
	}
	// The flush context may already be done at shutdown.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	var serr error
	if err != nil {
		serr = snaps.MarkSaveError(sctx, c.resource.Key(), id, err.Error())
	} else {
		serr = snaps.ClearSaveError(sctx, c.resource.Key(), id)
	}
	if serr != nil {
		c.logger.WarnContext(ctx, "Recording save outcome failed", log.FieldEntityID, id, log.FieldError, serr)
	}
}

// onEvent publishes reconciled mutations.
func (c *Collection) onEvent(ev optimistic.Event) {
	switch ev.Op {
	case optimistic.OpAdded:
		c.session.publish(c.resource, amqp.ChangeCreated, ev.ID)
	case optimistic.OpUpdated, optimistic.OpCommitted:
		c.session.publish(c.resource, amqp.ChangeUpdated, ev.ID)
	case optimistic.OpRemoved:
		c.session.publish(c.resource, amqp.ChangeDeleted, ev.ID)
		if c.resource.Kind == core.KindLists && c.session.snapshots != nil {
			items := core.Resource{Kind: core.KindItems, ListID: ev.ID}
			if err := c.session.snapshots.DeleteSnapshot(context.Background(), items.Key()); err != nil {
				c.logger.Warn("Dropping item snapshot failed", log.FieldEntityID, ev.ID, log.FieldError, err)
			}
		}
	}
}

func (c *Collection) validatePatch(id string, patch core.Patch) error {
	if err := patch.Validate(); err != nil {
		return fmt.Errorf("update %s: %w", id, err)
	}
	rec, ok := c.store.Get(id)
	if !ok {
		return fmt.Errorf("update %s: %w", id, core.ErrUnknownID)
	}
	if err := core.ValidateEntity(c.resource.Kind, rec.Entity.Apply(patch)); err != nil {
		return fmt.Errorf("update %s: %w", id, err)
	}
	return nil
}

func (c *Collection) saveSnapshot(ctx context.Context) {
	snaps := c.session.snapshots
	if snaps == nil {
		return
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := snaps.SaveSnapshot(sctx, c.resource.Key(), c.store.Entities()); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.WarnContext(ctx, "Saving snapshot failed", log.FieldError, err)
	}
}
