// Package audit provides the append-only event log and delegation chain
// reconstruction
package audit

import (
	"context"

	"github.com/credential-engine/go-core/pkg/types"
)

// EventStore persists audit events. Append is durable before it returns;
// events are never mutated or deleted.
type EventStore interface {
	// Append durably stores an event
	Append(ctx context.Context, event *types.AuditEvent) error

	// ListByTask returns all events for a task in append order
	ListByTask(ctx context.Context, taskID string) ([]*types.AuditEvent, error)

	// ListChildren returns the events of tasks whose parent_task_id equals
	// the given task id, grouped in append order
	ListChildren(ctx context.Context, parentTaskID string) ([]*types.AuditEvent, error)

	// LastHash returns the hash of the most recently appended event, or
	// empty for a fresh log
	LastHash(ctx context.Context) (string, error)

	// ListAll returns every event in append order (integrity verification)
	ListAll(ctx context.Context) ([]*types.AuditEvent, error)
}

// CredentialSource is the read surface the indexer uses to answer
// delegation activity queries. Implemented by the credential store.
type CredentialSource interface {
	ListByDelegator(ctx context.Context, principalID string) ([]*types.Credential, error)
	ListBySubject(ctx context.Context, subjectID string) ([]*types.Credential, error)
}
