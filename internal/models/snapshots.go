package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DefaultSnapshotRetention keeps the same rolling window the farm uses for
// its daily on-time records.
const DefaultSnapshotRetention = 35

// SnapshotModel is the durable Store for SystemState.
type SnapshotModel struct {
	DB        *sql.DB
	Retention int
}

func (m *SnapshotModel) CreateTable(ctx context.Context) error {
	stmt := `
		CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created DATETIME NOT NULL,
			state TEXT NOT NULL
		);
	`
	_, err := m.DB.ExecContext(ctx, stmt)
	return err
}

// Save writes s as the newest snapshot and deletes anything older than the
// retention window.
func (m *SnapshotModel) Save(ctx context.Context, s SystemState) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tx, err := m.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO snapshots (created, state) VALUES (?, ?)`, time.Now().UTC(), string(data))
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}

	retention := m.Retention
	if retention <= 0 {
		retention = DefaultSnapshotRetention
	}
	_, err = tx.ExecContext(ctx, `
		DELETE FROM snapshots WHERE id NOT IN (
			SELECT id FROM snapshots ORDER BY id DESC LIMIT ?
		)`, retention)
	if err != nil {
		return fmt.Errorf("trim snapshots: %w", err)
	}

	return tx.Commit()
}

// Load returns the newest snapshot, or ErrNoRecord when none was ever saved.
func (m *SnapshotModel) Load(ctx context.Context) (SystemState, error) {
	var data string
	err := m.DB.QueryRowContext(ctx, `SELECT state FROM snapshots ORDER BY id DESC LIMIT 1`).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SystemState{}, ErrNoRecord
		}
		return SystemState{}, err
	}

	s := NewSystemState()
	if err := json.Unmarshal([]byte(data), &s); err != nil {
		return SystemState{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}

// Count returns the number of stored snapshots.
func (m *SnapshotModel) Count(ctx context.Context) (int, error) {
	var n int
	err := m.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&n)
	return n, err
}
