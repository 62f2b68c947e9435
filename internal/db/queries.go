package db

import (
	"context"
	"database/sql"
	"strings"

	"github.com/hpungsan/convoset/internal/errors"
)

// Row is one stored dataset.
type Row struct {
	Name        string
	RecordsJSON string
	Revision    string
	CreatedAt   int64
	UpdatedAt   int64
}

// InsertDataset stores a new dataset row. ALREADY_EXISTS when the name is taken.
func InsertDataset(ctx context.Context, db *sql.DB, r *Row) error {
	query := `
		INSERT INTO datasets (name, records_json, revision, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query, r.Name, r.RecordsJSON, r.Revision, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		if isUniqueConstraintError(err) {
			return errors.NewAlreadyExists(r.Name)
		}
		return errors.NewInternal(err)
	}
	return nil
}

// isUniqueConstraintError checks if the error is a SQLite UNIQUE constraint violation.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	// SQLite reports both UNIQUE and PRIMARY KEY violations this way.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// GetDataset retrieves a dataset row by name. A missing dataset returns
// (nil, nil).
func GetDataset(ctx context.Context, db *sql.DB, name string) (*Row, error) {
	query := `
		SELECT name, records_json, revision, created_at, updated_at
		FROM datasets
		WHERE name = ?
	`
	var r Row
	err := db.QueryRowContext(ctx, query, name).Scan(
		&r.Name, &r.RecordsJSON, &r.Revision, &r.CreatedAt, &r.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return &r, nil
}

// CheckNameExists reports whether a dataset row exists.
func CheckNameExists(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var exists int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM datasets WHERE name = ? LIMIT 1`, name).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return true, nil
}

// ListNames returns every dataset name in ascending order.
func ListNames(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT name FROM datasets ORDER BY name ASC`)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.NewInternal(err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return names, nil
}

// UpsertDataset writes records unconditionally, creating the row if needed.
// created_at is kept on overwrite.
func UpsertDataset(ctx context.Context, db *sql.DB, r *Row) error {
	query := `
		INSERT INTO datasets (name, records_json, revision, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			records_json = excluded.records_json,
			revision = excluded.revision,
			updated_at = excluded.updated_at
	`
	_, err := db.ExecContext(ctx, query, r.Name, r.RecordsJSON, r.Revision, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// UpdateIfRevision replaces records only when the stored revision still
// equals expected. CONFLICT when another writer got there first.
func UpdateIfRevision(ctx context.Context, db *sql.DB, r *Row, expected string) error {
	query := `
		UPDATE datasets
		SET records_json = ?, revision = ?, updated_at = ?
		WHERE name = ? AND revision = ?
	`
	result, err := db.ExecContext(ctx, query, r.RecordsJSON, r.Revision, r.UpdatedAt, r.Name, expected)
	if err != nil {
		return errors.NewInternal(err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if rowsAffected == 0 {
		return errors.NewConflict("dataset " + r.Name + " was modified concurrently; reload and retry")
	}
	return nil
}
