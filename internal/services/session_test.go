package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"organizer/internal/amqp"
	"organizer/internal/coalesce"
	"organizer/internal/core"
	"organizer/internal/gateway"
	"organizer/internal/gateway/memory"
	"organizer/internal/storage"
)

var (
	lists = core.Resource{Kind: core.KindLists}
	todos = core.Resource{Kind: core.KindTodos}
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*amqp.ChangeMessage
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, msg *amqp.ChangeMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return p.err
}

func (p *recordingPublisher) ops() []amqp.ChangeOp {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]amqp.ChangeOp, len(p.msgs))
	for i, m := range p.msgs {
		out[i] = m.Op
	}
	return out
}

type fixture struct {
	gw    *memory.Store
	repo  *storage.SQLiteRepository
	pub   *recordingPublisher
	sess  *Session
	dbDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	repo, err := storage.NewSQLiteRepository(filepath.Join(dir, "organizer.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	f := &fixture{gw: memory.New(), repo: repo, pub: &recordingPublisher{}, dbDir: dir}
	f.sess = NewSession(f.gw, repo, f.pub, SessionConfig{
		DebounceWindow: 30 * time.Millisecond,
		SavedDisplay:   50 * time.Millisecond,
		Source:         "test-session",
	})
	t.Cleanup(func() { f.sess.Close(context.Background()) })
	return f
}

func TestAddShowsTentativeThenCanonical(t *testing.T) {
	f := newFixture(t)
	f.gw.SetLatency(50 * time.Millisecond)
	ctx := context.Background()

	col, err := f.sess.Collection(lists)
	require.NoError(t, err)

	done := make(chan core.Entity, 1)
	go func() {
		e, err := col.Add(ctx, core.Fields{"name": "Groceries", "description": "Weekly"})
		assert.NoError(t, err)
		done <- e
	}()

	require.Eventually(t, func() bool { return len(col.View(core.Query{})) == 1 }, time.Second, 2*time.Millisecond)
	view := col.View(core.Query{})
	assert.True(t, view[0].Tentative)
	assert.True(t, view[0].Pending)
	assert.Equal(t, "Groceries", view[0].Fields["name"])

	canonical := <-done
	view = col.View(core.Query{})
	require.Len(t, view, 1)
	assert.Equal(t, canonical.ID, view[0].ID)
	assert.False(t, view[0].Tentative)
	assert.False(t, view[0].Pending)
	assert.Equal(t, []amqp.ChangeOp{amqp.ChangeCreated}, f.pub.ops())
}

func TestAddRejectsInvalidLocally(t *testing.T) {
	f := newFixture(t)
	col, err := f.sess.Collection(todos)
	require.NoError(t, err)

	_, err = col.Add(context.Background(), core.Fields{"title": ""})
	assert.ErrorIs(t, err, core.ErrEmptyTitle)
	assert.Equal(t, 0, f.gw.Calls(memory.OpCreate))
	assert.Empty(t, col.View(core.Query{}))
}

func TestRemoveFailureRestoresPosition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	col, err := f.sess.Collection(lists)
	require.NoError(t, err)
	for _, name := range []string{"A", "B", "C"} {
		_, err := col.Add(ctx, core.Fields{"name": name})
		require.NoError(t, err)
	}
	before := col.View(core.Query{})
	middle := before[1].ID

	f.gw.FailNext(gateway.NewError(403, "Forbidden"))
	err = col.Remove(ctx, middle)
	require.Error(t, err)
	assert.ErrorIs(t, err, gateway.ErrForbidden)
	assert.Contains(t, err.Error(), "403 Forbidden")

	after := col.View(core.Query{})
	require.Len(t, after, 3)
	assert.Equal(t, middle, after[1].ID)
}

func TestUpdateValidatesMergedRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	col, _ := f.sess.Collection(todos)
	todo, err := col.Add(ctx, core.Fields{"title": "Call plumber"})
	require.NoError(t, err)

	_, err = col.Update(ctx, todo.ID, core.Patch{"priority": "urgent"})
	assert.ErrorIs(t, err, core.ErrInvalidPriority)

	_, err = col.Update(ctx, "404", core.Patch{"title": "x"})
	assert.ErrorIs(t, err, core.ErrUnknownID)

	got, err := col.Update(ctx, todo.ID, core.Patch{"completed": true})
	require.NoError(t, err)
	assert.Equal(t, true, got.Fields["completed"])
}

func TestEditCoalescesIntoOneGatewayCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	listsCol, _ := f.sess.Collection(lists)
	list, err := listsCol.Add(ctx, core.Fields{"name": "Groceries"})
	require.NoError(t, err)

	items := core.Resource{Kind: core.KindItems, ListID: list.ID}
	col, err := f.sess.Collection(items)
	require.NoError(t, err)
	item, err := col.Add(ctx, core.Fields{"name": "Milk", "quantity": "1"})
	require.NoError(t, err)

	for _, q := range []string{"1", "3", "5"} {
		require.NoError(t, col.Edit(item.ID, core.Patch{"quantity": q}))
	}
	rec, _ := col.Get(item.ID)
	assert.Equal(t, "5", rec.Fields["quantity"], "edits show immediately")
	assert.Equal(t, 0, f.gw.Calls(memory.OpUpdate))

	require.Eventually(t, func() bool { return f.gw.Calls(memory.OpUpdate) == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		s, _ := col.SaveState(item.ID)
		return s == coalesce.StateSaved || s == coalesce.StateIdle
	}, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, f.gw.Calls(memory.OpUpdate))

	remote, err := f.gw.List(ctx, items)
	require.NoError(t, err)
	assert.Equal(t, "5", remote[0].Fields["quantity"])
}

func TestEditFailurePersistsSaveError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	col, _ := f.sess.Collection(todos)
	todo, err := col.Add(ctx, core.Fields{"title": "Call plumber"})
	require.NoError(t, err)

	f.gw.FailNext(gateway.NewError(503, "maintenance"))
	require.NoError(t, col.Edit(todo.ID, core.Patch{"notes": "after 5pm"}))
	err = col.Flush(ctx)
	require.Error(t, err)

	state, stateErr := col.SaveState(todo.ID)
	assert.Equal(t, coalesce.StateError, state)
	assert.ErrorIs(t, stateErr, gateway.ErrUnavailable)

	rec, _ := col.Get(todo.ID)
	assert.Equal(t, "after 5pm", rec.Fields["notes"], "failed batched edits are not rolled back")

	saved, err := f.sess.SaveErrors(ctx, todos.Key())
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, todo.ID, saved[0].EntityID)
	assert.Contains(t, saved[0].Message, "503")

	require.NoError(t, col.Edit(todo.ID, core.Patch{"notes": "after 6pm"}))
	require.NoError(t, col.Flush(ctx))
	saved, err = f.sess.SaveErrors(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, saved)
}

func TestRemoveDiscardsUnsavedEdits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	col, _ := f.sess.Collection(lists)
	list, err := col.Add(ctx, core.Fields{"name": "Groceries"})
	require.NoError(t, err)

	require.NoError(t, col.Edit(list.ID, core.Patch{"name": "Weekly groceries"}))
	require.NoError(t, col.Remove(ctx, list.ID))
	require.NoError(t, col.Flush(ctx))

	assert.Equal(t, 0, f.gw.Calls(memory.OpUpdate))
	state, stateErr := col.SaveState(list.ID)
	assert.Equal(t, coalesce.StateIdle, state)
	assert.NoError(t, stateErr)
	saved, err := f.sess.SaveErrors(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, saved)
}

func TestRemoveClearsEarlierSaveError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	col, _ := f.sess.Collection(todos)
	todo, err := col.Add(ctx, core.Fields{"title": "Call plumber"})
	require.NoError(t, err)

	f.gw.FailNext(gateway.NewError(503, "maintenance"))
	require.NoError(t, col.Edit(todo.ID, core.Patch{"notes": "after 5pm"}))
	require.Error(t, col.Flush(ctx))
	saved, err := f.sess.SaveErrors(ctx, todos.Key())
	require.NoError(t, err)
	require.Len(t, saved, 1)

	require.NoError(t, col.Remove(ctx, todo.ID))
	state, _ := col.SaveState(todo.ID)
	assert.Equal(t, coalesce.StateIdle, state)
	saved, err = f.sess.SaveErrors(ctx, todos.Key())
	require.NoError(t, err)
	assert.Empty(t, saved)
}

func TestEditRejectsTentativeAndUnknown(t *testing.T) {
	f := newFixture(t)
	col, _ := f.sess.Collection(todos)

	assert.ErrorIs(t, col.Edit("tmp-1-abcdef", core.Patch{"title": "x"}), core.ErrTentativeID)
	assert.ErrorIs(t, col.Edit("12", core.Patch{"title": "x"}), core.ErrUnknownID)
}

func TestRefreshSnapshotsAndRestore(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, name := range []string{"Groceries", "Hardware"} {
		_, err := f.gw.Create(ctx, lists, core.NewEntity("", core.Fields{"name": name}))
		require.NoError(t, err)
	}

	col, err := f.sess.Open(ctx, lists)
	require.NoError(t, err)
	assert.Len(t, col.View(core.Query{}), 2)

	// A second session against an unreachable gateway still sees the snapshot.
	other := NewSession(f.gw, f.repo, nil, SessionConfig{})
	defer other.Close(ctx)
	f.gw.FailNext(gateway.NewError(503, "down"))
	restored, err := other.Open(ctx, lists)
	require.Error(t, err)
	require.NotNil(t, restored)
	view := restored.View(core.Query{SortBy: "name"})
	require.Len(t, view, 2)
	assert.Equal(t, "Groceries", view[0].Fields["name"])
}

func TestViewAppliesQuery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	col, _ := f.sess.Collection(todos)
	for _, title := range []string{"Buy milk", "Call plumber", "Buy nails"} {
		_, err := col.Add(ctx, core.Fields{"title": title})
		require.NoError(t, err)
	}

	got := col.View(core.Query{Search: "buy", SortBy: "title"})
	require.Len(t, got, 2)
	assert.Equal(t, "Buy milk", got[0].Fields["title"])
	assert.Equal(t, "Buy nails", got[1].Fields["title"])
}

func TestHandleChangeRefreshesOpenCollections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	col, err := f.sess.Open(ctx, todos)
	require.NoError(t, err)
	assert.Empty(t, col.View(core.Query{}))

	created, err := f.gw.Create(ctx, todos, core.NewEntity("", core.Fields{"title": "From phone"}))
	require.NoError(t, err)

	own := amqp.NewChangeMessage(todos, amqp.ChangeCreated, created.ID, f.sess.Source())
	require.NoError(t, f.sess.HandleChange(ctx, own))
	assert.Empty(t, col.View(core.Query{}), "own echoes are ignored")

	foreign := amqp.NewChangeMessage(todos, amqp.ChangeCreated, created.ID, "phone")
	require.NoError(t, f.sess.HandleChange(ctx, foreign))
	assert.Len(t, col.View(core.Query{}), 1)

	unopened := amqp.NewChangeMessage(core.Resource{Kind: core.KindExpenses}, amqp.ChangeCreated, "1", "phone")
	assert.NoError(t, f.sess.HandleChange(ctx, unopened))
}

type fakeSource struct {
	msgs []*amqp.ChangeMessage
}

func (s *fakeSource) ConsumeWithReconnect(ctx context.Context, handler func(*amqp.ChangeMessage) error) error {
	for _, m := range s.msgs {
		if err := handler(m); err != nil {
			return err
		}
	}
	return nil
}

func TestFollowFeedsHandleChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	col, err := f.sess.Open(ctx, lists)
	require.NoError(t, err)
	created, _ := f.gw.Create(ctx, lists, core.NewEntity("", core.Fields{"name": "Shared"}))

	src := &fakeSource{msgs: []*amqp.ChangeMessage{amqp.NewChangeMessage(lists, amqp.ChangeCreated, created.ID, "web")}}
	require.NoError(t, f.sess.Follow(ctx, src))
	assert.Len(t, col.View(core.Query{}), 1)
}

func TestPublishFailureDoesNotFailMutation(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("broker down")
	col, _ := f.sess.Collection(lists)

	_, err := col.Add(context.Background(), core.Fields{"name": "Groceries"})
	assert.NoError(t, err)
	assert.Len(t, f.pub.ops(), 1)
}

func TestRemoveListDropsItemSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	listsCol, _ := f.sess.Collection(lists)
	list, err := listsCol.Add(ctx, core.Fields{"name": "Groceries"})
	require.NoError(t, err)

	items := core.Resource{Kind: core.KindItems, ListID: list.ID}
	itemsCol, err := f.sess.Open(ctx, items)
	require.NoError(t, err)
	_, err = itemsCol.Add(ctx, core.Fields{"name": "Milk"})
	require.NoError(t, err)
	require.NoError(t, itemsCol.Refresh(ctx))

	snap, err := f.repo.LoadSnapshot(ctx, items.Key())
	require.NoError(t, err)
	require.Len(t, snap.Entities, 1)

	require.NoError(t, listsCol.Remove(ctx, list.ID))
	snap, err = f.repo.LoadSnapshot(ctx, items.Key())
	require.NoError(t, err)
	assert.Empty(t, snap.Entities)
}

func TestCloseFlushesAndRejectsNewCollections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	col, _ := f.sess.Collection(todos)
	todo, err := col.Add(ctx, core.Fields{"title": "Call plumber"})
	require.NoError(t, err)

	require.NoError(t, col.Edit(todo.ID, core.Patch{"notes": "urgent"}))
	require.NoError(t, f.sess.Close(ctx))

	remote, err := f.gw.List(ctx, todos)
	require.NoError(t, err)
	assert.Equal(t, "urgent", remote[0].Fields["notes"])

	_, err = f.sess.Collection(lists)
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.NoError(t, f.sess.Close(ctx))
}

func TestCollectionIsSharedPerResource(t *testing.T) {
	f := newFixture(t)
	a, err := f.sess.Collection(lists)
	require.NoError(t, err)
	b, err := f.sess.Collection(lists)
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = f.sess.Collection(core.Resource{Kind: core.KindItems})
	assert.Error(t, err)
}
