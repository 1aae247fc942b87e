package conductor

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS executions (
	execution_id             TEXT PRIMARY KEY,
	workflow_id              TEXT NOT NULL,
	user_id                  TEXT NOT NULL DEFAULT '',
	status                   TEXT NOT NULL,
	input                    JSONB NOT NULL DEFAULT '{}',
	variables                JSONB NOT NULL DEFAULT '{}',
	results                  JSONB NOT NULL DEFAULT '{}',
	history                  JSONB NOT NULL DEFAULT '[]',
	error_message            TEXT NOT NULL DEFAULT '',
	forked_from_execution_id TEXT NOT NULL DEFAULT '',
	forked_from_step_id      TEXT NOT NULL DEFAULT '',
	created_at               TIMESTAMPTZ NOT NULL,
	updated_at               TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshots (
	id           TEXT PRIMARY KEY,
	execution_id TEXT NOT NULL,
	step_id      TEXT NOT NULL,
	step_order   INTEGER NOT NULL,
	status       TEXT NOT NULL,
	variables    JSONB NOT NULL DEFAULT '{}',
	results      JSONB NOT NULL DEFAULT '{}',
	history      JSONB NOT NULL DEFAULT '[]',
	created_at   TIMESTAMPTZ NOT NULL,
	UNIQUE (execution_id, step_order)
);

CREATE INDEX IF NOT EXISTS idx_executions_status ON executions (status);
CREATE INDEX IF NOT EXISTS idx_snapshots_execution ON snapshots (execution_id, step_order);
`

// uniqueViolation is the PostgreSQL error code for unique constraint
// violations.
const uniqueViolation = "23505"

// PostgresStore is a Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store on an existing database handle and
// ensures the required tables exist.
func NewPostgresStore(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) InsertExecution(ctx context.Context, record *ExecutionRecord) error {
	input, err := marshalJSON(record.Input)
	if err != nil {
		return err
	}
	variables, err := marshalJSON(record.Variables)
	if err != nil {
		return err
	}
	results, err := marshalJSON(record.Results)
	if err != nil {
		return err
	}
	history, err := marshalHistory(record.History)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions (
			execution_id, workflow_id, user_id, status,
			input, variables, results, history, error_message,
			forked_from_execution_id, forked_from_step_id,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		record.ExecutionID, record.WorkflowID, record.UserID, string(record.Status),
		input, variables, results, history, record.ErrorMessage,
		record.ForkedFromExecutionID, record.ForkedFromStepID,
		record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("execution %q already exists", record.ExecutionID)
		}
		return fmt.Errorf("failed to insert execution: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateExecution(ctx context.Context, executionID string, update ExecutionUpdate) error {
	sets := []string{"updated_at = $1"}
	args := []any{time.Now()}

	addSet := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if update.Status != nil {
		addSet("status", string(*update.Status))
	}
	if update.ErrorMessage != nil {
		addSet("error_message", *update.ErrorMessage)
	}
	if update.Variables != nil {
		data, err := marshalJSON(update.Variables)
		if err != nil {
			return err
		}
		addSet("variables", data)
	}
	if update.Results != nil {
		data, err := marshalJSON(update.Results)
		if err != nil {
			return err
		}
		addSet("results", data)
	}
	if update.History != nil {
		data, err := marshalHistory(update.History)
		if err != nil {
			return err
		}
		addSet("history", data)
	}

	args = append(args, executionID)
	query := fmt.Sprintf("UPDATE executions SET %s WHERE execution_id = $%d",
		strings.Join(sets, ", "), len(args))

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("execution %q not found", executionID)
	}
	return nil
}

func (s *PostgresStore) GetExecution(ctx context.Context, executionID string) (*ExecutionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT execution_id, workflow_id, user_id, status,
		       input, variables, results, history, error_message,
		       forked_from_execution_id, forked_from_step_id,
		       created_at, updated_at
		FROM executions WHERE execution_id = $1`, executionID)

	record, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return record, err
}

func (s *PostgresStore) InsertSnapshot(ctx context.Context, snapshot *Snapshot) error {
	variables, err := marshalJSON(snapshot.Variables)
	if err != nil {
		return err
	}
	results, err := marshalJSON(snapshot.Results)
	if err != nil {
		return err
	}
	history, err := marshalHistory(snapshot.History)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (
			id, execution_id, step_id, step_order, status,
			variables, results, history, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		snapshot.ID, snapshot.ExecutionID, snapshot.StepID, snapshot.StepOrder,
		string(snapshot.Status), variables, results, history, snapshot.CreatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("snapshot for execution %q at step order %d already exists",
				snapshot.ExecutionID, snapshot.StepOrder)
		}
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context, executionID, atOrBeforeStepID string) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, execution_id, step_id, step_order, status,
		       variables, results, history, created_at
		FROM snapshots
		WHERE execution_id = $1
		  AND step_order <= (
			SELECT MAX(step_order) FROM snapshots
			WHERE execution_id = $1 AND step_id = $2
		  )
		ORDER BY step_order DESC
		LIMIT 1`, executionID, atOrBeforeStepID)

	snapshot, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return snapshot, err
}

func (s *PostgresStore) RunningExecutions(ctx context.Context) ([]*ExecutionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT execution_id, workflow_id, user_id, status,
		       input, variables, results, history, error_message,
		       forked_from_execution_id, forked_from_step_id,
		       created_at, updated_at
		FROM executions WHERE status = $1
		ORDER BY created_at ASC`, string(ExecutionStatusRunning))
	if err != nil {
		return nil, fmt.Errorf("failed to query running executions: %w", err)
	}
	defer rows.Close()

	var records []*ExecutionRecord
	for rows.Next() {
		record, err := scanExecution(rows)
		if err != nil {
			// Skip executions we can't read
			continue
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *PostgresStore) ListExecutions(ctx context.Context) ([]*ExecutionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT execution_id, workflow_id, status, error_message, created_at, updated_at
		FROM executions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var summaries []*ExecutionSummary
	for rows.Next() {
		var summary ExecutionSummary
		var status string
		if err := rows.Scan(&summary.ExecutionID, &summary.WorkflowID, &status,
			&summary.Error, &summary.CreatedAt, &summary.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan execution summary: %w", err)
		}
		summary.Status = ExecutionStatus(status)
		summaries = append(summaries, &summary)
	}
	return summaries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*ExecutionRecord, error) {
	var record ExecutionRecord
	var status string
	var input, variables, results, history []byte
	if err := row.Scan(
		&record.ExecutionID, &record.WorkflowID, &record.UserID, &status,
		&input, &variables, &results, &history, &record.ErrorMessage,
		&record.ForkedFromExecutionID, &record.ForkedFromStepID,
		&record.CreatedAt, &record.UpdatedAt,
	); err != nil {
		return nil, err
	}
	record.Status = ExecutionStatus(status)
	if err := json.Unmarshal(input, &record.Input); err != nil {
		return nil, &DeserializationError{ExecutionID: record.ExecutionID, Err: err}
	}
	if err := json.Unmarshal(variables, &record.Variables); err != nil {
		return nil, &DeserializationError{ExecutionID: record.ExecutionID, Err: err}
	}
	if err := json.Unmarshal(results, &record.Results); err != nil {
		return nil, &DeserializationError{ExecutionID: record.ExecutionID, Err: err}
	}
	if err := json.Unmarshal(history, &record.History); err != nil {
		return nil, &DeserializationError{ExecutionID: record.ExecutionID, Err: err}
	}
	return &record, nil
}

func scanSnapshot(row rowScanner) (*Snapshot, error) {
	var snapshot Snapshot
	var status string
	var variables, results, history []byte
	if err := row.Scan(
		&snapshot.ID, &snapshot.ExecutionID, &snapshot.StepID, &snapshot.StepOrder,
		&status, &variables, &results, &history, &snapshot.CreatedAt,
	); err != nil {
		return nil, err
	}
	snapshot.Status = ExecutionStatus(status)
	if err := json.Unmarshal(variables, &snapshot.Variables); err != nil {
		return nil, &DeserializationError{ExecutionID: snapshot.ExecutionID, Err: err}
	}
	if err := json.Unmarshal(results, &snapshot.Results); err != nil {
		return nil, &DeserializationError{ExecutionID: snapshot.ExecutionID, Err: err}
	}
	if err := json.Unmarshal(history, &snapshot.History); err != nil {
		return nil, &DeserializationError{ExecutionID: snapshot.ExecutionID, Err: err}
	}
	return &snapshot, nil
}

func marshalJSON(m map[string]any) ([]byte, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	return data, nil
}

func marshalHistory(history []*HistoryEntry) ([]byte, error) {
	if history == nil {
		return []byte("[]"), nil
	}
	data, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal history: %w", err)
	}
	return data, nil
}
