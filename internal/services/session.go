// Package services wires the optimistic store, the write coalescer, the
// gateway and the local side stores into per-resource collections.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"organizer/internal/amqp"
	"organizer/internal/core"
	"organizer/internal/gateway"
	"organizer/internal/log"
	"organizer/internal/optimistic"
	"organizer/internal/storage"
)

// ErrSessionClosed is returned for collections requested after Close.
var ErrSessionClosed = errors.New("session closed")

type (
	// SnapshotStore keeps reconciled collections and sticky save errors.
	SnapshotStore interface {
		SaveSnapshot(ctx context.Context, resource string, entities []core.Entity) error
		LoadSnapshot(ctx context.Context, resource string) (storage.Snapshot, error)
		DeleteSnapshot(ctx context.Context, resource string) error
		MarkSaveError(ctx context.Context, resource, entityID, message string) error
		ClearSaveError(ctx context.Context, resource, entityID string) error
		SaveErrors(ctx context.Context, resource string) ([]storage.SaveError, error)
	}

	// Publisher announces reconciled mutations to other clients.
	Publisher interface {
		Publish(ctx context.Context, msg *amqp.ChangeMessage) error
	}

	// ChangeSource streams changes made elsewhere.
	ChangeSource interface {
		ConsumeWithReconnect(ctx context.Context, handler func(*amqp.ChangeMessage) error) error
	}

	// cacheInvalidator is implemented by gateways that cache List answers.
	cacheInvalidator interface {
		Invalidate(r core.Resource)
	}
)

// SessionConfig holds the knobs shared by every collection of a session.
type SessionConfig struct {
	DebounceWindow   time.Duration
	SavedDisplay     time.Duration
	FlushConcurrency int
	// Source tags published changes so a session ignores its own echoes.
	// Empty generates one.
	Source         string
	PublishTimeout time.Duration
	Logger         *log.Logger
}

// Session owns one Collection per resource.
type Session struct {
	gw        gateway.Gateway
	snapshots SnapshotStore
	publisher Publisher
	cfg       SessionConfig
	logger    *log.Logger
	ids       *optimistic.TempIDs

	mu          sync.Mutex
	collections map[string]*Collection
	closed      bool
}

// NewSession creates a session. snapshots and publisher may be nil.
func NewSession(gw gateway.Gateway, snapshots SnapshotStore, publisher Publisher, cfg SessionConfig) *Session {
	if cfg.Source == "" {
		cfg.Source = "organizer-" + uuid.NewString()
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &Session{
		gw:          gw,
		snapshots:   snapshots,
		publisher:   publisher,
		cfg:         cfg,
		logger:      logger.WithComponent(log.ComponentSession),
		ids:         &optimistic.TempIDs{},
		collections: make(map[string]*Collection),
	}
}

// Source is the tag this session puts on the changes it publishes.
func (s *Session) Source() string {
	return s.cfg.Source
}

// Collection returns the collection for r, creating it on first use.
func (s *Session) Collection(r core.Resource) (*Collection, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if c, ok := s.collections[r.Key()]; ok {
		return c, nil
	}
	c := newCollection(s, r)
	s.collections[r.Key()] = c
	return c, nil
}

// Open returns the collection for r with its last snapshot restored, then
// refreshes it from the gateway. A failed refresh leaves the snapshot
// visible and is returned alongside the collection.
func (s *Session) Open(ctx context.Context, r core.Resource) (*Collection, error) {
	c, err := s.Collection(r)
	if err != nil {
		return nil, err
	}
	if _, err := c.Restore(ctx); err != nil {
		s.logger.WarnContext(ctx, "Restoring snapshot failed", log.FieldResource, r.Key(), log.FieldError, err)
	}
	if err := c.Refresh(ctx); err != nil {
		return c, err
	}
	return c, nil
}

func (s *Session) lookup(r core.Resource) (*Collection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[r.Key()]
	return c, ok
}

// HandleChange refreshes the affected collection when another client
// changed it. Collections this session never opened are ignored.
func (s *Session) HandleChange(ctx context.Context, msg *amqp.ChangeMessage) error {
	if msg.Source == s.cfg.Source {
		return nil
	}
	r := msg.Target()
	if inv, ok := s.gw.(cacheInvalidator); ok {
		inv.Invalidate(r)
	}

	s.logger.InfoContext(ctx, "Change from another client",
		log.FieldResource, r.Key(), log.FieldEntityID, msg.ID,
		log.FieldOperation, string(msg.Op), log.FieldSource, msg.Source)

	c, ok := s.lookup(r)
	if !ok {
		return nil
	}
	return c.Refresh(ctx)
}

// Follow applies changes from src until ctx ends.
func (s *Session) Follow(ctx context.Context, src ChangeSource) error {
	return src.ConsumeWithReconnect(ctx, func(msg *amqp.ChangeMessage) error {
		return s.HandleChange(ctx, msg)
	})
}

// SaveErrors lists persisted save failures; empty resource lists all.
func (s *Session) SaveErrors(ctx context.Context, resource string) ([]storage.SaveError, error) {
	if s.snapshots == nil {
		return nil, nil
	}
	return s.snapshots.SaveErrors(ctx, resource)
}

// Close flushes and snapshots every collection.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cols := make([]*Collection, 0, len(s.collections))
	for _, c := range s.collections {
		cols = append(cols, c)
	}
	s.mu.Unlock()

	var (
		g      errgroup.Group
		errMu  sync.Mutex
		failed []error
	)
	for _, c := range cols {
		c := c
		g.Go(func() error {
			if err := c.Close(ctx); err != nil {
				errMu.Lock()
				failed = append(failed, fmt.Errorf("%s: %w", c.resource.Key(), err))
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	s.logger.DebugContext(ctx, "Session closed", log.FieldOperation, log.OpShutdown, "collections", len(cols))
	return errors.Join(failed...)
}

func (s *Session) publish(r core.Resource, op amqp.ChangeOp, id string) {
	if s.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.PublishTimeout)
	defer cancel()

	msg := amqp.NewChangeMessage(r, op, id, s.cfg.Source)
	if err := s.publisher.Publish(ctx, msg); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish change",
			log.FieldResource, r.Key(), log.FieldEntityID, id, log.FieldError, err)
	}
}
