// Package storage keeps the last reconciled collections and sticky save
// errors in a local SQLite database so a new session can start from them.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"organizer/internal/core"
	"organizer/internal/log"

	_ "modernc.org/sqlite"
)

const timeLayout = time.RFC3339Nano

// SaveError is a failed batched save that has not been fixed yet.
type SaveError struct {
	Resource string
	EntityID string
	Message  string
	FailedAt time.Time
}

// Snapshot is a collection as it was last reconciled.
type Snapshot struct {
	Resource string
	Entities []core.Entity
	SavedAt  time.Time
}

type SQLiteRepository struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewSQLiteRepository(dbPath string, logger *slog.Logger) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteRepository{
		db:     db,
		logger: logger.With(log.FieldComponent, log.ComponentStorage),
		now:    time.Now,
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// SaveSnapshot replaces the stored snapshot of resource with entities, in
// order. Tentative records are never passed in.
func (r *SQLiteRepository) SaveSnapshot(ctx context.Context, resource string, entities []core.Entity) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE resource = ?`, resource); err != nil {
		return fmt.Errorf("clear snapshot %s: %w", resource, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO snapshots (resource, id, position, fields, saved_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	savedAt := r.now().UTC().Format(timeLayout)
	for i, e := range entities {
		data, err := json.Marshal(core.Entity{Fields: e.Fields})
		if err != nil {
			return fmt.Errorf("encode %s/%s: %w", resource, e.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, resource, e.ID, i, string(data), savedAt); err != nil {
			return fmt.Errorf("insert %s/%s: %w", resource, e.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}

	r.logger.DebugContext(ctx, "Snapshot saved", log.FieldResource, resource, "count", len(entities))
	return nil
}

// LoadSnapshot returns the stored snapshot. A resource never saved yields
// an empty snapshot with a zero SavedAt.
func (r *SQLiteRepository) LoadSnapshot(ctx context.Context, resource string) (Snapshot, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, fields, saved_at FROM snapshots WHERE resource = ? ORDER BY position`, resource)
	if err != nil {
		return Snapshot{}, fmt.Errorf("query snapshot %s: %w", resource, err)
	}
	defer rows.Close()

	snap := Snapshot{Resource: resource}
	for rows.Next() {
		var (
			id, fields, savedAt string
			e                   core.Entity
		)
		if err := rows.Scan(&id, &fields, &savedAt); err != nil {
			return Snapshot{}, fmt.Errorf("scan snapshot row: %w", err)
		}
		if err := json.Unmarshal([]byte(fields), &e); err != nil {
			return Snapshot{}, fmt.Errorf("decode %s/%s: %w", resource, id, err)
		}
		e.ID = id
		snap.Entities = append(snap.Entities, e)
		snap.SavedAt = parseTime(savedAt)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot %s: %w", resource, err)
	}
	return snap, nil
}

// DeleteSnapshot forgets a resource, for example a deleted list's items.
func (r *SQLiteRepository) DeleteSnapshot(ctx context.Context, resource string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM snapshots WHERE resource = ?`, resource); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", resource, err)
	}
	return nil
}

// MarkSaveError records (or refreshes) the failure for one record.
func (r *SQLiteRepository) MarkSaveError(ctx context.Context, resource, entityID, message string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO save_errors (resource, entity_id, message, failed_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(resource, entity_id) DO UPDATE SET message = excluded.message, failed_at = excluded.failed_at`,
		resource, entityID, message, r.now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("mark save error %s/%s: %w", resource, entityID, err)
	}
	r.logger.InfoContext(ctx, "Save error recorded",
		log.FieldResource, resource, log.FieldEntityID, entityID, log.FieldError, message)
	return nil
}

// ClearSaveError drops the failure for one record, if any.
func (r *SQLiteRepository) ClearSaveError(ctx context.Context, resource, entityID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM save_errors WHERE resource = ? AND entity_id = ?`, resource, entityID)
	if err != nil {
		return fmt.Errorf("clear save error %s/%s: %w", resource, entityID, err)
	}
	return nil
}

// SaveErrors lists outstanding failures, oldest first. An empty resource
// lists every resource.
func (r *SQLiteRepository) SaveErrors(ctx context.Context, resource string) ([]SaveError, error) {
	query := `SELECT resource, entity_id, message, failed_at FROM save_errors`
	var args []any
	if resource != "" {
		query += ` WHERE resource = ?`
		args = append(args, resource)
	}
	query += ` ORDER BY failed_at, resource, entity_id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query save errors: %w", err)
	}
	defer rows.Close()

	var out []SaveError
	for rows.Next() {
		var (
			se       SaveError
			failedAt string
		)
		if err := rows.Scan(&se.Resource, &se.EntityID, &se.Message, &failedAt); err != nil {
			return nil, fmt.Errorf("scan save error: %w", err)
		}
		se.FailedAt = parseTime(failedAt)
		out = append(out, se)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read save errors: %w", err)
	}
	return out, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
