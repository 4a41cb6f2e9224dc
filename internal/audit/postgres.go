package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/credential-engine/go-core/pkg/types"
)

// PostgresEventStore implements EventStore using PostgreSQL
type PostgresEventStore struct {
	db *sql.DB
}

// NewPostgresEventStore creates a new PostgreSQL event store
func NewPostgresEventStore(db *sql.DB) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

const eventColumns = `
	event_id, timestamp, subject_id, task_id, parent_task_id,
	credential_id, event_type, status, details, prev_hash, hash
`

// Append durably stores an event
func (s *PostgresEventStore) Append(ctx context.Context, event *types.AuditEvent) error {
	detailsJSON, err := json.Marshal(event.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}

	query := `
		INSERT INTO audit_events (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = s.db.ExecContext(ctx, query,
		event.EventID,
		event.Timestamp,
		event.SubjectID,
		nullString(event.TaskID),
		nullString(event.ParentTaskID),
		nullString(event.CredentialID),
		string(event.EventType),
		string(event.Status),
		detailsJSON,
		nullString(event.PrevHash),
		event.Hash,
	)
	if err != nil {
		return types.WrapError(types.ErrKindTransient, "append audit event", err)
	}
	return nil
}

// ListByTask returns all events for a task in append order
func (s *PostgresEventStore) ListByTask(ctx context.Context, taskID string) ([]*types.AuditEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM audit_events
		WHERE task_id = $1
		ORDER BY seq ASC
	`
	return s.queryEvents(ctx, query, taskID)
}

// ListChildren returns events of tasks whose parent is the given task
func (s *PostgresEventStore) ListChildren(ctx context.Context, parentTaskID string) ([]*types.AuditEvent, error) {
	query := `
		SELECT ` + eventColumns + `
		FROM audit_events
		WHERE parent_task_id = $1
		ORDER BY seq ASC
	`
	return s.queryEvents(ctx, query, parentTaskID)
}

// LastHash returns the hash of the most recently appended event
func (s *PostgresEventStore) LastHash(ctx context.Context) (string, error) {
	var hash string
	err := s.db.QueryRowContext(ctx,
		`SELECT hash FROM audit_events ORDER BY seq DESC LIMIT 1`,
	).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", types.WrapError(types.ErrKindTransient, "load last hash", err)
	}
	return hash, nil
}

// ListAll returns every event in append order
func (s *PostgresEventStore) ListAll(ctx context.Context) ([]*types.AuditEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM audit_events ORDER BY seq ASC`
	return s.queryEvents(ctx, query)
}

func (s *PostgresEventStore) queryEvents(ctx context.Context, query string, args ...interface{}) ([]*types.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.WrapError(types.ErrKindTransient, "query audit events", err)
	}
	defer rows.Close()

	var events []*types.AuditEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, types.WrapError(types.ErrKindTransient, "iterate audit events", err)
	}
	return events, nil
}

func scanEvent(rows *sql.Rows) (*types.AuditEvent, error) {
	var (
		event       types.AuditEvent
		taskID      sql.NullString
		parentTask  sql.NullString
		credID      sql.NullString
		prevHash    sql.NullString
		detailsJSON []byte
	)

	err := rows.Scan(
		&event.EventID,
		&event.Timestamp,
		&event.SubjectID,
		&taskID,
		&parentTask,
		&credID,
		&event.EventType,
		&event.Status,
		&detailsJSON,
		&prevHash,
		&event.Hash,
	)
	if err != nil {
		return nil, fmt.Errorf("scan audit event: %w", err)
	}

	event.TaskID = taskID.String
	event.ParentTaskID = parentTask.String
	event.CredentialID = credID.String
	event.PrevHash = prevHash.String

	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &event.Details); err != nil {
			return nil, fmt.Errorf("unmarshal details: %w", err)
		}
	}

	return &event, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
