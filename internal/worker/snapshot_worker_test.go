package worker

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"organizer/internal/amqp"
	"organizer/internal/core"
	"organizer/internal/gateway"
	"organizer/internal/gateway/memory"
	"organizer/internal/log"
	"organizer/internal/storage"
)

func setup(t *testing.T) (*memory.Store, *storage.SQLiteRepository, *SnapshotWorker) {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "organizer.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	gw := memory.New()
	return gw, repo, NewSnapshotWorker(gw, repo, nil)
}

func create(t *testing.T, gw *memory.Store, r core.Resource, fields core.Fields) core.Entity {
	t.Helper()
	e, err := gw.Create(context.Background(), r, core.NewEntity("", fields))
	require.NoError(t, err)
	return e
}

func TestSyncAllIncludesItemsOfEveryList(t *testing.T) {
	gw, repo, w := setup(t)
	ctx := context.Background()
	list := create(t, gw, core.Resource{Kind: core.KindLists}, core.Fields{"name": "Groceries"})
	items := core.Resource{Kind: core.KindItems, ListID: list.ID}
	create(t, gw, items, core.Fields{"name": "Milk"})
	create(t, gw, core.Resource{Kind: core.KindTodos}, core.Fields{"title": "Call plumber"})

	require.NoError(t, w.SyncAll(ctx))

	for key, want := range map[string]int{"lists": 1, items.Key(): 1, "todos": 1, "expenses": 0} {
		snap, err := repo.LoadSnapshot(ctx, key)
		require.NoError(t, err)
		assert.Len(t, snap.Entities, want, key)
	}
}

func TestSyncAllContinuesPastFailures(t *testing.T) {
	gw, repo, w := setup(t)
	ctx := context.Background()
	create(t, gw, core.Resource{Kind: core.KindTodos}, core.Fields{"title": "Call plumber"})

	gw.FailWhen(func(op memory.Op, r core.Resource, _ string) error {
		if r.Kind == core.KindExpenses {
			return gateway.NewError(503, "down")
		}
		return nil
	})
	err := w.SyncAll(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrUnavailable)

	snap, err := repo.LoadSnapshot(ctx, "todos")
	require.NoError(t, err)
	assert.Len(t, snap.Entities, 1)
}

func TestHandleChangeRefreshesTarget(t *testing.T) {
	gw, repo, w := setup(t)
	ctx := context.Background()
	todos := core.Resource{Kind: core.KindTodos}
	todo := create(t, gw, todos, core.Fields{"title": "Call plumber"})

	require.NoError(t, w.HandleChange(ctx, amqp.NewChangeMessage(todos, amqp.ChangeCreated, todo.ID, "phone")))

	snap, err := repo.LoadSnapshot(ctx, "todos")
	require.NoError(t, err)
	require.Len(t, snap.Entities, 1)
	assert.Equal(t, todo.ID, snap.Entities[0].ID)
}

func TestHandleChangeLogsEntity(t *testing.T) {
	gw, repo, _ := setup(t)
	var buf bytes.Buffer
	w := NewSnapshotWorker(gw, repo, log.New(log.Config{Level: slog.LevelInfo, Output: &buf}))
	todos := core.Resource{Kind: core.KindTodos}

	require.NoError(t, w.HandleChange(context.Background(), amqp.NewChangeMessage(todos, amqp.ChangeUpdated, "12", "phone")))

	out := buf.String()
	for _, want := range []string{"component=worker", "resource=todos", "entity_id=12", "source=phone"} {
		assert.Contains(t, out, want)
	}
}

func TestHandleListDeletionDropsItems(t *testing.T) {
	gw, repo, w := setup(t)
	ctx := context.Background()
	lists := core.Resource{Kind: core.KindLists}
	list := create(t, gw, lists, core.Fields{"name": "Groceries"})
	items := core.Resource{Kind: core.KindItems, ListID: list.ID}
	create(t, gw, items, core.Fields{"name": "Milk"})
	require.NoError(t, w.SyncAll(ctx))

	require.NoError(t, gw.Delete(ctx, lists, list.ID))
	require.NoError(t, w.HandleChange(ctx, amqp.NewChangeMessage(lists, amqp.ChangeDeleted, list.ID, "web")))

	snap, err := repo.LoadSnapshot(ctx, items.Key())
	require.NoError(t, err)
	assert.Empty(t, snap.Entities)
	snap, err = repo.LoadSnapshot(ctx, "lists")
	require.NoError(t, err)
	assert.Empty(t, snap.Entities)
}

type staticSource struct {
	msgs []*amqp.ChangeMessage
}

func (s staticSource) ConsumeWithReconnect(ctx context.Context, handler func(*amqp.ChangeMessage) error) error {
	for _, m := range s.msgs {
		if err := handler(m); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestRunConsumesUntilCancelled(t *testing.T) {
	gw, repo, w := setup(t)
	todos := core.Resource{Kind: core.KindTodos}
	todo := create(t, gw, todos, core.Fields{"title": "Call plumber"})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	src := staticSource{msgs: []*amqp.ChangeMessage{amqp.NewChangeMessage(todos, amqp.ChangeUpdated, todo.ID, "web")}}
	err := w.Run(ctx, src, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	snap, err := repo.LoadSnapshot(context.Background(), "todos")
	require.NoError(t, err)
	assert.Len(t, snap.Entities, 1)
}

func TestRunPeriodicWithoutBroker(t *testing.T) {
	gw, repo, w := setup(t)
	create(t, gw, core.Resource{Kind: core.KindTodos}, core.Fields{"title": "Call plumber"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, nil, 10*time.Millisecond) }()

	require.Eventually(t, func() bool {
		snap, err := repo.LoadSnapshot(context.Background(), "todos")
		return err == nil && len(snap.Entities) == 1
	}, time.Second, 10*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
