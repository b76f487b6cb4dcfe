// Package worker keeps the local snapshot database current in the
// background so a CLI session can start from fresh data even offline.
package worker

import (
	"context"
	"fmt"
	"time"

	"organizer/internal/amqp"
	"organizer/internal/core"
	"organizer/internal/gateway"
	"organizer/internal/log"
)

// Snapshots is the part of the side store the worker writes.
type Snapshots interface {
	SaveSnapshot(ctx context.Context, resource string, entities []core.Entity) error
	DeleteSnapshot(ctx context.Context, resource string) error
}

// ChangeSource streams change notifications.
type ChangeSource interface {
	ConsumeWithReconnect(ctx context.Context, handler func(*amqp.ChangeMessage) error) error
}

// SnapshotWorker refetches resources from the gateway and stores them as
// snapshots: on startup, on every change notification and periodically
// as a backstop for lost messages.
type SnapshotWorker struct {
	gw        gateway.Gateway
	snapshots Snapshots
	logger    *log.Logger
}

func NewSnapshotWorker(gw gateway.Gateway, snapshots Snapshots, logger *log.Logger) *SnapshotWorker {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &SnapshotWorker{
		gw:        gw,
		snapshots: snapshots,
		logger:    logger.WithComponent(log.ComponentWorker),
	}
}

// HandleChange refreshes the snapshot a change message points at.
func (w *SnapshotWorker) HandleChange(ctx context.Context, msg *amqp.ChangeMessage) error {
	fields := log.NewFields().
		WithEntity(msg.Target().Key(), msg.ID).
		WithOperation(string(msg.Op))
	fields[log.FieldSource] = msg.Source
	w.logger.InfoContext(ctx, "Processing change message", fields.ToSlice()...)

	if msg.Resource == core.KindLists && msg.Op == amqp.ChangeDeleted {
		items := core.Resource{Kind: core.KindItems, ListID: msg.ID}
		if err := w.snapshots.DeleteSnapshot(ctx, items.Key()); err != nil {
			return fmt.Errorf("drop items of list %s: %w", msg.ID, err)
		}
	}

	if _, err := w.refresh(ctx, msg.Target()); err != nil {
		return err
	}
	return nil
}

// SyncAll refreshes every top-level resource and the items of every list.
// Failures are logged and counted; the returned error reports the first.
func (w *SnapshotWorker) SyncAll(ctx context.Context) error {
	start := time.Now()
	var (
		firstErr error
		synced   int
		failed   int
	)
	note := func(err error) {
		if err == nil {
			synced++
			return
		}
		failed++
		if firstErr == nil {
			firstErr = err
		}
		w.logger.ErrorContext(ctx, "Snapshot refresh failed", log.FieldError, err)
	}

	for _, kind := range []core.Kind{core.KindLists, core.KindExpenses, core.KindTodos} {
		entities, err := w.refresh(ctx, core.Resource{Kind: kind})
		note(err)
		if kind != core.KindLists || err != nil {
			continue
		}
		for _, list := range entities {
			_, err := w.refresh(ctx, core.Resource{Kind: core.KindItems, ListID: list.ID})
			note(err)
		}
	}

	w.logger.InfoContext(ctx, "Snapshot sync completed",
		"synced", synced,
		"errors", failed,
		log.FieldDuration, time.Since(start).Milliseconds())
	return firstErr
}

// Run consumes changes from src and resyncs everything every interval
// until ctx ends. A zero interval disables the periodic pass.
func (w *SnapshotWorker) Run(ctx context.Context, src ChangeSource, interval time.Duration) error {
	if interval > 0 {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					_ = w.SyncAll(ctx)
				}
			}
		}()
	}

	if src == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	return src.ConsumeWithReconnect(ctx, func(msg *amqp.ChangeMessage) error {
		return w.HandleChange(ctx, msg)
	})
}

func (w *SnapshotWorker) refresh(ctx context.Context, r core.Resource) ([]core.Entity, error) {
	entities, err := w.gw.List(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", r, err)
	}
	if err := w.snapshots.SaveSnapshot(ctx, r.Key(), entities); err != nil {
		return nil, fmt.Errorf("save snapshot %s: %w", r, err)
	}
	return entities, nil
}
