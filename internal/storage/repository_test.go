package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"organizer/internal/core"
)

func newRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "nested", "organizer.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSnapshotRoundTripKeepsOrder(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	entities := []core.Entity{
		core.NewEntity("42", core.Fields{"name": "Groceries", "description": "Weekly"}),
		core.NewEntity("7", core.Fields{"name": "Hardware", "archived": false}),
	}
	require.NoError(t, repo.SaveSnapshot(ctx, "lists", entities))

	snap, err := repo.LoadSnapshot(ctx, "lists")
	require.NoError(t, err)
	require.Len(t, snap.Entities, 2)
	assert.Equal(t, "42", snap.Entities[0].ID)
	assert.Equal(t, "7", snap.Entities[1].ID)
	assert.Equal(t, "Groceries", snap.Entities[0].Fields["name"])
	assert.Equal(t, false, snap.Entities[1].Fields["archived"])
	assert.False(t, snap.SavedAt.IsZero())
	_, hasID := snap.Entities[0].Fields["id"]
	assert.False(t, hasID, "id must not leak into fields")
}

func TestSnapshotIsReplaced(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveSnapshot(ctx, "items:1", []core.Entity{
		core.NewEntity("1", core.Fields{"name": "Milk", "quantity": "1"}),
		core.NewEntity("2", core.Fields{"name": "Eggs"}),
	}))
	require.NoError(t, repo.SaveSnapshot(ctx, "items:1", []core.Entity{
		core.NewEntity("2", core.Fields{"name": "Eggs", "quantity": "12"}),
	}))
	require.NoError(t, repo.SaveSnapshot(ctx, "items:2", []core.Entity{
		core.NewEntity("3", core.Fields{"name": "Nails"}),
	}))

	snap, err := repo.LoadSnapshot(ctx, "items:1")
	require.NoError(t, err)
	require.Len(t, snap.Entities, 1)
	assert.Equal(t, "12", snap.Entities[0].Fields["quantity"])

	require.NoError(t, repo.DeleteSnapshot(ctx, "items:1"))
	snap, err = repo.LoadSnapshot(ctx, "items:1")
	require.NoError(t, err)
	assert.Empty(t, snap.Entities)
	assert.True(t, snap.SavedAt.IsZero())

	other, err := repo.LoadSnapshot(ctx, "items:2")
	require.NoError(t, err)
	assert.Len(t, other.Entities, 1)
}

func TestSaveErrorsLifecycle(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	tick := 0
	repo.now = func() time.Time { tick++; return base.Add(time.Duration(tick) * time.Minute) }

	require.NoError(t, repo.MarkSaveError(ctx, "items:1", "7", "503 Service Unavailable"))
	require.NoError(t, repo.MarkSaveError(ctx, "todos", "3", "409 Conflict"))
	require.NoError(t, repo.MarkSaveError(ctx, "items:1", "7", "504 Gateway Timeout"))

	all, err := repo.SaveErrors(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "todos", all[0].Resource)
	assert.Equal(t, "504 Gateway Timeout", all[1].Message)
	assert.Equal(t, base.Add(3*time.Minute), all[1].FailedAt)

	items, err := repo.SaveErrors(ctx, "items:1")
	require.NoError(t, err)
	require.Len(t, items, 1)

	require.NoError(t, repo.ClearSaveError(ctx, "items:1", "7"))
	require.NoError(t, repo.ClearSaveError(ctx, "items:1", "7"))
	items, err = repo.SaveErrors(ctx, "items:1")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "organizer.db")
	repo, err := NewSQLiteRepository(path, nil)
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	require.NoError(t, RunMigrations(path))
	repo, err = NewSQLiteRepository(path, nil)
	require.NoError(t, err)
	defer repo.Close()
}
