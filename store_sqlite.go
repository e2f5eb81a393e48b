package codeflow

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists workflow records and checkpoints in a single-file
// SQLite database. It implements both WorkflowStore and Checkpointer, which
// keeps local deployments to one data file. The connection pool is capped at
// one writer; combined with a transaction per UpdateWorkflow this gives the
// atomic read-modify-write the store contract requires.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (and migrates) a SQLite database at path. Use
// ":memory:" for an ephemeral database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	store := &SQLiteStore{db: db, path: path}
	if err := store.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	workflowsTable := `
		CREATE TABLE IF NOT EXISTS workflows (
			id TEXT NOT NULL PRIMARY KEY,
			record TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, workflowsTable); err != nil {
		return fmt.Errorf("failed to create workflows table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS idx_workflows_status ON workflows(status)"); err != nil {
		return fmt.Errorf("failed to create idx_workflows_status: %w", err)
	}

	checkpointsTable := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			workflow_id TEXT NOT NULL PRIMARY KEY,
			checkpoint TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`
	if _, err := s.db.ExecContext(ctx, checkpointsTable); err != nil {
		return fmt.Errorf("failed to create checkpoints table: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateWorkflow(ctx context.Context, record *WorkflowRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow record: %w", err)
	}
	query := `INSERT INTO workflows (id, record, status, created_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, record.ID, string(data), string(record.Status), record.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert workflow: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetWorkflow(ctx context.Context, id string) (*WorkflowRecord, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM workflows WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}
	var record WorkflowRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow record: %w", err)
	}
	return &record, nil
}

func (s *SQLiteStore) UpdateWorkflow(ctx context.Context, id string, update func(*WorkflowRecord) error) (*WorkflowRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var data string
	err = tx.QueryRowContext(ctx, `SELECT record FROM workflows WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}

	var record WorkflowRecord
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow record: %w", err)
	}
	if err := update(&record); err != nil {
		return nil, err
	}
	record.UpdatedAt = time.Now()

	updated, err := json.Marshal(&record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal workflow record: %w", err)
	}
	query := `UPDATE workflows SET record = ?, status = ? WHERE id = ?`
	if _, err := tx.ExecContext(ctx, query, string(updated), string(record.Status), id); err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &record, nil
}

func (s *SQLiteStore) ListWorkflows(ctx context.Context) ([]*WorkflowRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM workflows ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*WorkflowRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan workflow row: %w", err)
		}
		var record WorkflowRecord
		if err := json.Unmarshal([]byte(data), &record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal workflow record: %w", err)
		}
		records = append(records, &record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow rows: %w", err)
	}
	return records, nil
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, checkpoint *Checkpoint) error {
	data, err := json.Marshal(checkpoint)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	query := `
		INSERT INTO checkpoints (workflow_id, checkpoint, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(workflow_id) DO UPDATE SET
			checkpoint = excluded.checkpoint,
			updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.ExecContext(ctx, query, checkpoint.WorkflowID, string(data)); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LoadCheckpoint(ctx context.Context, workflowID string) (*Checkpoint, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT checkpoint FROM checkpoints WHERE workflow_id = ?`, workflowID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	var checkpoint Checkpoint
	if err := json.Unmarshal([]byte(data), &checkpoint); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &checkpoint, nil
}

func (s *SQLiteStore) DeleteCheckpoint(ctx context.Context, workflowID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE workflow_id = ?`, workflowID); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
