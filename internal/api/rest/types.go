package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/credential-engine/go-core/pkg/types"
)

// IssueCredentialRequest is the wire request for credential issuance
type IssueCredentialRequest struct {
	ClientID     string `json:"client_id,omitempty"`
	ClientSecret string `json:"client_secret,omitempty"`

	SubjectID          string   `json:"subject_id"`
	Scopes             []string `json:"scopes"`
	Tools              []string `json:"tools,omitempty"`
	Resources          []string `json:"resources,omitempty"`
	TaskID             string   `json:"task_id,omitempty"`
	ParentCredentialID string   `json:"parent_credential_id,omitempty"`
	TTLSeconds         int      `json:"ttl_seconds,omitempty"`
	Purpose            string   `json:"purpose,omitempty"`
	RequestID          string   `json:"request_id,omitempty"`

	Context map[string]interface{} `json:"context,omitempty"`
}

// VerifyCredentialRequest is the wire request for token verification
type VerifyCredentialRequest struct {
	Token        string `json:"token"`
	TaskID       string `json:"task_id,omitempty"`
	ParentTaskID string `json:"parent_task_id,omitempty"`
}

// RevokeCredentialRequest carries the revocation reason
type RevokeCredentialRequest struct {
	Reason string `json:"reason,omitempty"`
}

// CreateGrantRequest is the wire request for grant creation
type CreateGrantRequest struct {
	PrincipalID string                       `json:"principal_id"`
	AgentID     string                       `json:"agent_id"`
	Scopes      []string                     `json:"scopes"`
	Constraints *types.DelegationConstraints `json:"constraints,omitempty"`
	TTLSeconds  int                          `json:"ttl_seconds,omitempty"`
}

// DelegationRequest is the wire request for delegated issuance
type DelegationRequest struct {
	PrincipalID        string   `json:"principal_id"`
	AgentID            string   `json:"agent_id"`
	ParentCredentialID string   `json:"parent_credential_id"`
	Scopes             []string `json:"scopes"`
	Resource           string   `json:"resource,omitempty"`
	Purpose            string   `json:"purpose,omitempty"`
	TTLSeconds         int      `json:"ttl_seconds,omitempty"`
	StepUpChallengeID  string   `json:"step_up_challenge_id,omitempty"`

	Context map[string]interface{} `json:"context,omitempty"`
}

// PolicyCheckRequest asks for a dry-run policy evaluation of a request
// context. Evaluation is side-effect free; no credential is issued.
type PolicyCheckRequest struct {
	Context map[string]interface{} `json:"context"`
}

// StepUpChallengeRequest asks for a new step-up challenge
type StepUpChallengeRequest struct {
	PrincipalID string `json:"principal_id"`
}

// StepUpChallengeResponse returns the challenge id and one-time code.
// In production the code is delivered out of band; the API returns it
// directly for principals acting programmatically.
type StepUpChallengeResponse struct {
	ChallengeID string `json:"challenge_id"`
	Code        string `json:"code"`
}

// StepUpVerifyRequest submits a step-up code
type StepUpVerifyRequest struct {
	ChallengeID string `json:"challenge_id"`
	Code        string `json:"code"`
}

// HealthResponse is returned by the health endpoint
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// StatusResponse is returned by the status endpoint
type StatusResponse struct {
	Status          string    `json:"status"`
	Version         string    `json:"version"`
	StartTime       time.Time `json:"start_time"`
	PolicyCount     int       `json:"policy_count"`
	ScopeCacheHits  int64     `json:"scope_cache_hits"`
	ScopeCacheMiss  int64     `json:"scope_cache_misses"`
	AuditChainValid *bool     `json:"audit_chain_valid,omitempty"`
}

// ErrorResponse is the wire error envelope
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// WriteJSON writes a JSON response with the given status
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteError writes the error envelope for a classified error, mapping
// the taxonomy kind to an HTTP status
func WriteError(w http.ResponseWriter, err error) {
	kind := types.KindOf(err)
	if kind == "" {
		kind = types.ErrKindTransient
	}

	description := err.Error()
	var se *types.Error
	if errors.As(err, &se) {
		description = se.Reason
	}

	WriteJSON(w, statusForKind(kind), ErrorResponse{
		Error:            string(kind),
		ErrorDescription: description,
	})
}

// WriteBadRequest writes a plain invalid_request error
func WriteBadRequest(w http.ResponseWriter, description string) {
	WriteJSON(w, http.StatusBadRequest, ErrorResponse{
		Error:            string(types.ErrKindInvalidRequest),
		ErrorDescription: description,
	})
}

func statusForKind(kind types.ErrorKind) int {
	switch kind {
	case types.ErrKindInvalidRequest:
		return http.StatusBadRequest
	case types.ErrKindInvalidGrant, types.ErrKindTokenExpired, types.ErrKindTokenRevoked:
		return http.StatusUnauthorized
	case types.ErrKindInvalidScope, types.ErrKindInsufficientScope,
		types.ErrKindPolicyDenied, types.ErrKindInvalidDelegation:
		return http.StatusForbidden
	case types.ErrKindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
