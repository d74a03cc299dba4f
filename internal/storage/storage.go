// Package storage caches downloaded uptake datasets in SQLite.
//
// Each dataset is the full series fetched for one area on one calendar day. Saving
// a dataset for a key that already exists replaces it, and PruneDatasets keeps
// only the newest few per area so the cache does not grow without bound.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/rewired-gh/vaxoracle/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS datasets (
	id         TEXT PRIMARY KEY,
	area       TEXT NOT NULL,
	fetched_on TEXT NOT NULL,
	saved_at   INTEGER NOT NULL,
	row_count  INTEGER NOT NULL,
	UNIQUE (area, fetched_on)
);
CREATE TABLE IF NOT EXISTS dataset_rows (
	dataset_id TEXT NOT NULL,
	date       TEXT NOT NULL,
	cum_first  REAL NOT NULL,
	cum_second REAL NOT NULL,
	PRIMARY KEY (dataset_id, date)
);
`

// DatasetInfo describes one cached dataset.
type DatasetInfo struct {
	ID        string
	Area      string
	FetchedOn string
	SavedAt   time.Time
	RowCount  int
}

// Storage is a SQLite-backed dataset cache.
type Storage struct {
	db *sql.DB
}

// New opens (creating if needed) the cache at dbPath. ":memory:" opens a
// private in-memory database.
func New(dbPath string) (*Storage, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	dsn := dbPath
	if dbPath != ":memory:" {
		cleanPath := filepath.Clean(dbPath)
		if err := os.MkdirAll(filepath.Dir(cleanPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		dsn = cleanPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close closes the database handle.
func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func dayKey(day time.Time) string {
	return day.Format(models.DateLayout)
}

// SaveDataset stores rows as the dataset for area on day, replacing any
// existing one.
func (s *Storage) SaveDataset(ctx context.Context, area string, day time.Time, rows []models.Row) error {
	if area == "" {
		return fmt.Errorf("area is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := deleteDatasets(ctx, tx, `WHERE area = ? AND fetched_on = ?`, area, dayKey(day)); err != nil {
		return err
	}

	id := uuid.New().String()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO datasets (id, area, fetched_on, saved_at, row_count) VALUES (?, ?, ?, ?, ?)`,
		id, area, dayKey(day), time.Now().UTC().UnixMilli(), len(rows),
	); err != nil {
		return fmt.Errorf("insert dataset: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO dataset_rows (dataset_id, date, cum_first, cum_second) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare row insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, id, row.Date, row.CumFirstDosePct, row.CumSecondDosePct); err != nil {
			return fmt.Errorf("insert row %s: %w", row.Date, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LoadDataset returns the rows cached for area on day. found is false when no
// dataset exists for that key.
func (s *Storage) LoadDataset(ctx context.Context, area string, day time.Time) ([]models.Row, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM datasets WHERE area = ? AND fetched_on = ?`, area, dayKey(day),
	).Scan(&id)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("find dataset: %w", err)
	}

	rs, err := s.db.QueryContext(ctx,
		`SELECT date, cum_first, cum_second FROM dataset_rows WHERE dataset_id = ? ORDER BY date`, id)
	if err != nil {
		return nil, false, fmt.Errorf("query rows: %w", err)
	}
	defer rs.Close()

	rows := []models.Row{}
	for rs.Next() {
		var row models.Row
		if err := rs.Scan(&row.Date, &row.CumFirstDosePct, &row.CumSecondDosePct); err != nil {
			return nil, false, fmt.Errorf("scan row: %w", err)
		}
		rows = append(rows, row)
	}
	if err := rs.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate rows: %w", err)
	}
	return rows, true, nil
}

// ListDatasets returns cached datasets for area, newest first.
func (s *Storage) ListDatasets(ctx context.Context, area string) ([]DatasetInfo, error) {
	rs, err := s.db.QueryContext(ctx,
		`SELECT id, area, fetched_on, saved_at, row_count FROM datasets WHERE area = ? ORDER BY fetched_on DESC`, area)
	if err != nil {
		return nil, fmt.Errorf("query datasets: %w", err)
	}
	defer rs.Close()

	var out []DatasetInfo
	for rs.Next() {
		var info DatasetInfo
		var savedAt int64
		if err := rs.Scan(&info.ID, &info.Area, &info.FetchedOn, &savedAt, &info.RowCount); err != nil {
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		info.SavedAt = time.UnixMilli(savedAt).UTC()
		out = append(out, info)
	}
	return out, rs.Err()
}

// PruneDatasets removes all but the newest keep datasets for area.
func (s *Storage) PruneDatasets(ctx context.Context, area string, keep int) error {
	if keep < 1 {
		return fmt.Errorf("keep must be at least 1, got %d", keep)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := deleteDatasets(ctx, tx,
		`WHERE area = ? AND id NOT IN (SELECT id FROM datasets WHERE area = ? ORDER BY fetched_on DESC LIMIT ?)`,
		area, area, keep,
	); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// deleteDatasets removes datasets matching where, rows first.
func deleteDatasets(ctx context.Context, tx *sql.Tx, where string, args ...any) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM dataset_rows WHERE dataset_id IN (SELECT id FROM datasets `+where+`)`, args...,
	); err != nil {
		return fmt.Errorf("delete dataset rows: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM datasets `+where, args...); err != nil {
		return fmt.Errorf("delete datasets: %w", err)
	}
	return nil
}
