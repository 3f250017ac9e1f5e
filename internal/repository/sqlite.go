package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/taskforge/warden/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS instances (
			instance_id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			task_list_id TEXT NOT NULL,
			status TEXT NOT NULL,
			pid INTEGER,
			started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_heartbeat_at DATETIME,
			termination_reason TEXT,
			archived_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_instances_status ON instances(status, last_heartbeat_at)`,
		`CREATE INDEX IF NOT EXISTS idx_instances_task_list ON instances(task_list_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS executions (
			execution_id TEXT PRIMARY KEY,
			instance_id TEXT NOT NULL UNIQUE,
			task_id TEXT NOT NULL,
			started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME,
			outcome TEXT,
			FOREIGN KEY (instance_id) REFERENCES instances(instance_id)
		)`,
		`CREATE TABLE IF NOT EXISTS transcript_entries (
			entry_id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL,
			instance_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			entry_type TEXT NOT NULL,
			category TEXT,
			summary TEXT,
			payload TEXT,
			dropped_before INTEGER NOT NULL DEFAULT 0,
			committed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (execution_id, sequence),
			FOREIGN KEY (execution_id) REFERENCES executions(execution_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entries_execution ON transcript_entries(execution_id, sequence)`,
		`CREATE TABLE IF NOT EXISTS tool_uses (
			entry_id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			tool_name TEXT NOT NULL,
			args TEXT,
			result TEXT,
			duration_ms INTEGER,
			committed_at DATETIME NOT NULL,
			FOREIGN KEY (entry_id) REFERENCES transcript_entries(entry_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_uses_execution ON tool_uses(execution_id, sequence)`,
		`CREATE TABLE IF NOT EXISTS assertion_results (
			entry_id TEXT PRIMARY KEY,
			execution_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			name TEXT NOT NULL,
			passed INTEGER NOT NULL,
			detail TEXT,
			committed_at DATETIME NOT NULL,
			FOREIGN KEY (entry_id) REFERENCES transcript_entries(entry_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_assertions_execution ON assertion_results(execution_id, sequence)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateInstance creates an instance and its one-to-one execution in a
// single transaction.
func (s *SQLiteStore) CreateInstance(ctx context.Context, instance *domain.Instance, execution *domain.Execution) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var pid sql.NullInt64
	if instance.PID != nil {
		pid = sql.NullInt64{Int64: int64(*instance.PID), Valid: true}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO instances (instance_id, task_id, task_list_id, status, pid, started_at) VALUES (?, ?, ?, ?, ?, ?)`,
		instance.InstanceID, instance.TaskID, instance.TaskListID, instance.Status, pid, instance.StartedAt); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO executions (execution_id, instance_id, task_id, started_at) VALUES (?, ?, ?, ?)`,
		execution.ExecutionID, execution.InstanceID, execution.TaskID, execution.StartedAt); err != nil {
		return err
	}
	return tx.Commit()
}

// GetInstance retrieves an instance by ID.
func (s *SQLiteStore) GetInstance(ctx context.Context, instanceID string) (*domain.Instance, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT instance_id, task_id, task_list_id, status, pid, started_at, last_heartbeat_at, termination_reason, archived_at
		 FROM instances WHERE instance_id = ?`, instanceID)
	instance, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return instance, nil
}

// UpdateInstanceStatus performs a compare-and-swap status transition.
// Returns false when the row was not in the expected `from` status.
func (s *SQLiteStore) UpdateInstanceStatus(ctx context.Context, instanceID string, from, to domain.InstanceStatus) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE instances SET status = ? WHERE instance_id = ? AND status = ?`,
		to, instanceID, from)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// TerminateInstance moves a running instance to a terminal status and sets
// the termination reason, guarded on the current status still being running.
func (s *SQLiteStore) TerminateInstance(ctx context.Context, instanceID string, status domain.InstanceStatus, reason string) (bool, error) {
	var reasonStr sql.NullString
	if reason != "" {
		reasonStr = sql.NullString{String: reason, Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE instances SET status = ?, termination_reason = ? WHERE instance_id = ? AND status = ?`,
		status, reasonStr, instanceID, domain.InstanceStatusRunning)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// UpdateHeartbeat advances last_heartbeat_at. The write is a no-op when the
// instance is not running or the timestamp does not move forward.
func (s *SQLiteStore) UpdateHeartbeat(ctx context.Context, instanceID string, ts time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE instances SET last_heartbeat_at = ?
		 WHERE instance_id = ? AND status = ? AND (last_heartbeat_at IS NULL OR last_heartbeat_at < ?)`,
		ts, instanceID, domain.InstanceStatusRunning, ts)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ListInstances retrieves instances matching the filter.
func (s *SQLiteStore) ListInstances(ctx context.Context, filter domain.InstanceFilter) ([]domain.Instance, error) {
	query := `SELECT instance_id, task_id, task_list_id, status, pid, started_at, last_heartbeat_at, termination_reason, archived_at
	          FROM instances WHERE 1=1`
	args := []interface{}{}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	if filter.TaskListID != "" {
		query += ` AND task_list_id = ?`
		args = append(args, filter.TaskListID)
	}
	if !filter.IncludeArchived {
		query += ` AND archived_at IS NULL`
	}

	query += ` ORDER BY started_at ASC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []domain.Instance
	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, *instance)
	}
	return instances, rows.Err()
}

// ListStaleInstances retrieves running instances whose last heartbeat is
// older than the cutoff. An instance that never heartbeated after entering
// running is judged by its startup time instead, so a worker that died
// before its first recorded beat is still listed.
func (s *SQLiteStore) ListStaleInstances(ctx context.Context, cutoff time.Time, limit int) ([]domain.Instance, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT instance_id, task_id, task_list_id, status, pid, started_at, last_heartbeat_at, termination_reason, archived_at
		 FROM instances
		 WHERE status = ?
		   AND ((last_heartbeat_at IS NOT NULL AND last_heartbeat_at < ?)
		     OR (last_heartbeat_at IS NULL AND started_at < ?))
		 ORDER BY COALESCE(last_heartbeat_at, started_at) ASC
		 LIMIT ?`,
		domain.InstanceStatusRunning, cutoff, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []domain.Instance
	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, *instance)
	}
	return instances, rows.Err()
}

// ArchiveInstances sets archived_at on terminal, not-yet-archived instances
// whose execution completed before the cutoff. Returns the number archived.
func (s *SQLiteStore) ArchiveInstances(ctx context.Context, terminalBefore time.Time, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE instances SET archived_at = ?
		 WHERE archived_at IS NULL
		   AND status IN (?, ?, ?)
		   AND instance_id IN (
		       SELECT instance_id FROM executions WHERE completed_at IS NOT NULL AND completed_at < ?
		   )`,
		at, domain.InstanceStatusCompleted, domain.InstanceStatusFailed, domain.InstanceStatusTerminated, terminalBefore)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetExecution retrieves an execution by ID.
func (s *SQLiteStore) GetExecution(ctx context.Context, executionID string) (*domain.Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT execution_id, instance_id, task_id, started_at, completed_at, outcome FROM executions WHERE execution_id = ?`,
		executionID)
	execution, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return execution, nil
}

// GetExecutionByInstance retrieves the execution owned by an instance.
func (s *SQLiteStore) GetExecutionByInstance(ctx context.Context, instanceID string) (*domain.Execution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT execution_id, instance_id, task_id, started_at, completed_at, outcome FROM executions WHERE instance_id = ?`,
		instanceID)
	execution, err := scanExecution(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return execution, nil
}

// CompleteExecution records the execution outcome, guarded against double
// completion.
func (s *SQLiteStore) CompleteExecution(ctx context.Context, executionID string, outcome domain.ExecutionOutcome, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE executions SET completed_at = ?, outcome = ? WHERE execution_id = ? AND completed_at IS NULL`,
		at, outcome, executionID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// CreateEntry assigns the next sequence for the execution and writes the
// entry plus its typed projection in one transaction. The caller serializes
// per execution; the UNIQUE(execution_id, sequence) constraint backs that up.
func (s *SQLiteStore) CreateEntry(ctx context.Context, entry *domain.TranscriptEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var maxSeq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM transcript_entries WHERE execution_id = ?`,
		entry.ExecutionID).Scan(&maxSeq); err != nil {
		return err
	}
	entry.Sequence = maxSeq + 1

	payload := ""
	if entry.Payload != nil {
		payload = string(entry.Payload)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO transcript_entries (entry_id, execution_id, instance_id, task_id, sequence, entry_type, category, summary, payload, dropped_before, committed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.EntryID, entry.ExecutionID, entry.InstanceID, entry.TaskID, entry.Sequence,
		entry.EntryType, entry.Category, entry.Summary, payload, entry.DroppedBefore, entry.CommittedAt); err != nil {
		return err
	}

	switch entry.EntryType {
	case domain.EntryTypeToolUse:
		var p domain.ToolUsePayload
		if err := json.Unmarshal(entry.Payload, &p); err == nil {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO tool_uses (entry_id, execution_id, sequence, tool_name, args, result, duration_ms, committed_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				entry.EntryID, entry.ExecutionID, entry.Sequence, p.ToolName,
				nullStringBytes(p.Args), nullStringBytes(p.Result), p.DurationMs, entry.CommittedAt); err != nil {
				return err
			}
		}
	case domain.EntryTypeAssertion:
		var p domain.AssertionPayload
		if err := json.Unmarshal(entry.Payload, &p); err == nil {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO assertion_results (entry_id, execution_id, sequence, name, passed, detail, committed_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				entry.EntryID, entry.ExecutionID, entry.Sequence, p.Name, p.Passed, p.Detail, entry.CommittedAt); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// GetEntries retrieves ordered entries with sequence >= fromSequence.
func (s *SQLiteStore) GetEntries(ctx context.Context, executionID string, fromSequence int64, limit int) ([]domain.TranscriptEntry, error) {
	query := `SELECT entry_id, execution_id, instance_id, task_id, sequence, entry_type, category, summary, payload, dropped_before, committed_at
	          FROM transcript_entries WHERE execution_id = ?`
	args := []interface{}{executionID}

	if fromSequence > 0 {
		query += ` AND sequence >= ?`
		args = append(args, fromSequence)
	}

	query += ` ORDER BY sequence ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.TranscriptEntry
	for rows.Next() {
		var entry domain.TranscriptEntry
		var category, summary, payload sql.NullString
		if err := rows.Scan(&entry.EntryID, &entry.ExecutionID, &entry.InstanceID, &entry.TaskID, &entry.Sequence,
			&entry.EntryType, &category, &summary, &payload, &entry.DroppedBefore, &entry.CommittedAt); err != nil {
			return nil, err
		}
		if category.Valid {
			entry.Category = category.String
		}
		if summary.Valid {
			entry.Summary = summary.String
		}
		if payload.Valid && payload.String != "" {
			entry.Payload = json.RawMessage(payload.String)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ListToolUses retrieves the tool-use projection for an execution.
func (s *SQLiteStore) ListToolUses(ctx context.Context, executionID string) ([]domain.ToolUse, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_id, execution_id, sequence, tool_name, args, result, duration_ms, committed_at
		 FROM tool_uses WHERE execution_id = ? ORDER BY sequence ASC`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uses []domain.ToolUse
	for rows.Next() {
		var u domain.ToolUse
		var args, result sql.NullString
		var durationMs sql.NullInt64
		if err := rows.Scan(&u.EntryID, &u.ExecutionID, &u.Sequence, &u.ToolName, &args, &result, &durationMs, &u.CommittedAt); err != nil {
			return nil, err
		}
		if args.Valid {
			u.Args = json.RawMessage(args.String)
		}
		if result.Valid {
			u.Result = json.RawMessage(result.String)
		}
		if durationMs.Valid {
			u.DurationMs = durationMs.Int64
		}
		uses = append(uses, u)
	}
	return uses, rows.Err()
}

// ListAssertions retrieves the assertion projection for an execution.
func (s *SQLiteStore) ListAssertions(ctx context.Context, executionID string) ([]domain.AssertionResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_id, execution_id, sequence, name, passed, detail, committed_at
		 FROM assertion_results WHERE execution_id = ? ORDER BY sequence ASC`, executionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.AssertionResult
	for rows.Next() {
		var r domain.AssertionResult
		var detail sql.NullString
		if err := rows.Scan(&r.EntryID, &r.ExecutionID, &r.Sequence, &r.Name, &r.Passed, &detail, &r.CommittedAt); err != nil {
			return nil, err
		}
		if detail.Valid {
			r.Detail = detail.String
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanInstance(row rowScanner) (*domain.Instance, error) {
	var instance domain.Instance
	var pid sql.NullInt64
	var lastHeartbeat, archivedAt sql.NullTime
	var reason sql.NullString
	if err := row.Scan(&instance.InstanceID, &instance.TaskID, &instance.TaskListID, &instance.Status,
		&pid, &instance.StartedAt, &lastHeartbeat, &reason, &archivedAt); err != nil {
		return nil, err
	}
	if pid.Valid {
		p := int(pid.Int64)
		instance.PID = &p
	}
	if lastHeartbeat.Valid {
		instance.LastHeartbeatAt = &lastHeartbeat.Time
	}
	if reason.Valid {
		instance.TerminationReason = reason.String
	}
	if archivedAt.Valid {
		instance.ArchivedAt = &archivedAt.Time
	}
	return &instance, nil
}

func scanExecution(row rowScanner) (*domain.Execution, error) {
	var execution domain.Execution
	var completedAt sql.NullTime
	var outcome sql.NullString
	if err := row.Scan(&execution.ExecutionID, &execution.InstanceID, &execution.TaskID,
		&execution.StartedAt, &completedAt, &outcome); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		execution.CompletedAt = &completedAt.Time
	}
	if outcome.Valid {
		execution.Outcome = domain.ExecutionOutcome(outcome.String)
	}
	return &execution, nil
}

func nullStringBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
