// Package watermark maintains the singleton des_archive_config row that
// tracks how far the migration has archived the source table, and computes
// the archive window each migration cycle consumes. The source table is
// never written; every piece of ingest state lives in this one row.
package watermark

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/datavisioneasystore/des/errs"
	_ "github.com/mattn/go-sqlite3"
)

// Window is the half-open archive window (window_start, window_end] a
// migration cycle should sweep.
type Window struct {
	Start   time.Time
	End     time.Time
	LagDays int
}

// FloorToMidnight truncates t to 00:00:00 UTC of the same day.
func FloorToMidnight(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Repository reads and advances the des_archive_config singleton row.
type Repository struct {
	db *sql.DB
}

// Open opens (or creates) a sqlite3 database at dsn for the watermark
// table. Callers owning a *sql.DB already (e.g. sharing it with other
// tables) should use NewRepository instead.
func Open(dsn string) (*Repository, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: opening watermark database: %v", errs.ErrTransient, err)
	}
	return &Repository{db: db}, nil
}

// NewRepository wraps an existing *sql.DB.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Close releases the underlying database handle. A no-op when the
// Repository was built with NewRepository over a handle owned elsewhere is
// the caller's responsibility to decide; Close always closes what it holds.
func (r *Repository) Close() error {
	return r.db.Close()
}

// EnsureInitialized creates the des_archive_config table and seeds its
// singleton row if missing.
func (r *Repository) EnsureInitialized(ctx context.Context, defaultArchivedUntil time.Time, defaultLagDays int) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS des_archive_config (
			id INTEGER PRIMARY KEY,
			archived_until TIMESTAMP NOT NULL,
			lag_days INTEGER NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("%w: creating des_archive_config table: %v", errs.ErrTransient, err)
	}

	row := r.db.QueryRowContext(ctx, `SELECT archived_until FROM des_archive_config WHERE id = 1`)
	var existing string
	if err := row.Scan(&existing); err == sql.ErrNoRows {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO des_archive_config (id, archived_until, lag_days) VALUES (1, ?, ?)`,
			defaultArchivedUntil.UTC().Format(time.RFC3339Nano), defaultLagDays)
		if err != nil {
			return fmt.Errorf("%w: seeding des_archive_config row: %v", errs.ErrTransient, err)
		}
		return nil
	} else if err != nil {
		return fmt.Errorf("%w: reading des_archive_config row: %v", errs.ErrTransient, err)
	}
	return nil
}

// GetConfig returns (archived_until, lag_days) from the singleton row.
func (r *Repository) GetConfig(ctx context.Context) (time.Time, int, error) {
	row := r.db.QueryRowContext(ctx, `SELECT archived_until, lag_days FROM des_archive_config WHERE id = 1`)
	var archivedUntilStr string
	var lagDays int
	if err := row.Scan(&archivedUntilStr, &lagDays); err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, 0, fmt.Errorf("%w: des_archive_config not initialized; call EnsureInitialized first", errs.ErrInvalidState)
		}
		return time.Time{}, 0, fmt.Errorf("%w: reading des_archive_config: %v", errs.ErrTransient, err)
	}
	archivedUntil, err := time.Parse(time.RFC3339Nano, archivedUntilStr)
	if err != nil {
		archivedUntil, err = time.Parse(time.RFC3339, archivedUntilStr)
		if err != nil {
			return time.Time{}, 0, fmt.Errorf("%w: parsing archived_until %q: %v", errs.ErrCorruptMetadata, archivedUntilStr, err)
		}
	}
	return archivedUntil.UTC(), lagDays, nil
}

func computeTargetCutoff(now time.Time, lagDays int) time.Time {
	return FloorToMidnight(now.Add(-time.Duration(lagDays) * 24 * time.Hour))
}

// ComputeWindow returns the window a cycle would sweep without persisting
// anything.
func (r *Repository) ComputeWindow(ctx context.Context, now time.Time) (Window, error) {
	archivedUntil, lagDays, err := r.GetConfig(ctx)
	if err != nil {
		return Window{}, err
	}
	target := computeTargetCutoff(now, lagDays)
	return Window{Start: archivedUntil, End: target, LagDays: lagDays}, nil
}

// AdvanceCutoff recomputes the target cutoff from the current lag_days and
// advances archived_until only if the new cutoff is strictly later than the
// current one. It returns the window that was (or would have been) swept;
// callers should treat Start == End as "nothing to advance".
func (r *Repository) AdvanceCutoff(ctx context.Context, now time.Time) (Window, error) {
	archivedUntil, lagDays, err := r.GetConfig(ctx)
	if err != nil {
		return Window{}, err
	}
	target := computeTargetCutoff(now, lagDays)
	if !target.After(archivedUntil) {
		return Window{Start: archivedUntil, End: archivedUntil, LagDays: lagDays}, nil
	}

	_, err = r.db.ExecContext(ctx, `UPDATE des_archive_config SET archived_until = ? WHERE id = 1`,
		target.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return Window{}, fmt.Errorf("%w: advancing archived_until: %v", errs.ErrTransient, err)
	}
	return Window{Start: archivedUntil, End: target, LagDays: lagDays}, nil
}
