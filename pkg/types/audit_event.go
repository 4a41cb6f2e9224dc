package types

import (
	"time"
)

// AuditEventType represents the type of audit event
type AuditEventType string

const (
	// Task lifecycle
	EventTask AuditEventType = "task"

	// Credential lifecycle
	EventCredentialIssued       AuditEventType = "credential.issued"
	EventCredentialVerified     AuditEventType = "credential.verified"
	EventCredentialIntrospected AuditEventType = "credential.introspected"
	EventCredentialRevoked      AuditEventType = "credential.revoked"

	// Delegation lifecycle
	EventDelegationGranted AuditEventType = "delegation.granted"
	EventDelegationDenied  AuditEventType = "delegation.denied"
	EventStepUpChallenged  AuditEventType = "delegation.stepup.challenged"
	EventStepUpVerified    AuditEventType = "delegation.stepup.verified"

	// Policy decisions
	EventPolicyCheck  AuditEventType = "policy.check"
	EventPolicyDenied AuditEventType = "policy.denied"
)

// AuditStatus is the outcome recorded on an event
type AuditStatus string

const (
	AuditSuccess AuditStatus = "success"
	AuditFailure AuditStatus = "failure"
)

// AuditEvent is an immutable record of one lifecycle transition. Events are
// append-only and hash-chained for tamper detection; they are the sole
// source of truth for chain reconstruction.
type AuditEvent struct {
	EventID      string         `json:"event_id" db:"event_id"`
	Timestamp    time.Time      `json:"timestamp" db:"timestamp"`
	SubjectID    string         `json:"subject_id" db:"subject_id"`
	TaskID       string         `json:"task_id,omitempty" db:"task_id"`
	ParentTaskID string         `json:"parent_task_id,omitempty" db:"parent_task_id"`
	CredentialID string         `json:"credential_id,omitempty" db:"credential_id"`
	EventType    AuditEventType `json:"event_type" db:"event_type"`
	Status       AuditStatus    `json:"status" db:"status"`

	// Details is an opaque structured payload; never secrets
	Details map[string]interface{} `json:"details,omitempty" db:"details"`

	// Tamper detection (hash chain)
	PrevHash string `json:"prev_hash" db:"prev_hash"`
	Hash     string `json:"hash" db:"hash"`
}

// AuditEventBuilder provides a fluent interface for building audit events
type AuditEventBuilder struct {
	event *AuditEvent
}

// NewAuditEventBuilder creates a builder for the given event type and subject
func NewAuditEventBuilder(eventType AuditEventType, subjectID string) *AuditEventBuilder {
	return &AuditEventBuilder{
		event: &AuditEvent{
			EventType: eventType,
			SubjectID: subjectID,
			Timestamp: time.Now().UTC(),
			Status:    AuditSuccess,
			Details:   make(map[string]interface{}),
		},
	}
}

// WithTask sets the task lineage
func (b *AuditEventBuilder) WithTask(taskID, parentTaskID string) *AuditEventBuilder {
	b.event.TaskID = taskID
	b.event.ParentTaskID = parentTaskID
	return b
}

// WithCredential sets the credential id
func (b *AuditEventBuilder) WithCredential(credentialID string) *AuditEventBuilder {
	b.event.CredentialID = credentialID
	return b
}

// WithStatus sets the outcome
func (b *AuditEventBuilder) WithStatus(status AuditStatus) *AuditEventBuilder {
	b.event.Status = status
	return b
}

// WithFailure marks the event failed and records the error kind
func (b *AuditEventBuilder) WithFailure(kind ErrorKind, reason string) *AuditEventBuilder {
	b.event.Status = AuditFailure
	b.event.Details["error_kind"] = string(kind)
	b.event.Details["error_reason"] = reason
	return b
}

// WithDetail adds a detail key-value pair
func (b *AuditEventBuilder) WithDetail(key string, value interface{}) *AuditEventBuilder {
	b.event.Details[key] = value
	return b
}

// Build returns the constructed event
func (b *AuditEventBuilder) Build() *AuditEvent {
	return b.event
}

// TaskSummary is the per-task digest used in chain reconstruction
type TaskSummary struct {
	TaskID       string        `json:"task_id"`
	ParentTaskID string        `json:"parent_task_id,omitempty"`
	SubjectID    string        `json:"subject_id"`
	FirstSeen    time.Time     `json:"first_seen"`
	EventCount   int           `json:"event_count"`
	Events       []*AuditEvent `json:"events"`
	Summary      *AuditEvent   `json:"summary"`
}

// ChainResult is the reconstructed ancestry of a task
type ChainResult struct {
	TaskChain  []string       `json:"task_chain"`
	RootTaskID string         `json:"root_task_id"`
	Details    []*TaskSummary `json:"details"`
	Truncated  bool           `json:"truncated,omitempty"`
}

// DelegationActivity lists credentials a principal delegated or received
type DelegationActivity struct {
	PrincipalID string            `json:"principal_id"`
	AsPrincipal []*CredentialView `json:"as_principal"`
	AsDelegate  []*CredentialView `json:"as_delegate"`
}
