// Package types provides shared types for the credential service
package types

import (
	"time"
)

// CredentialStatus is the computed lifecycle state of a credential
type CredentialStatus string

const (
	StatusActive  CredentialStatus = "active"
	StatusExpired CredentialStatus = "expired"
	StatusRevoked CredentialStatus = "revoked"
)

// DelegationHop records one principal->agent step in a delegation chain
type DelegationHop struct {
	PrincipalID string    `json:"principal_id"`
	AgentID     string    `json:"agent_id"`
	Scopes      []string  `json:"scopes"`
	Timestamp   time.Time `json:"timestamp"`
}

// DelegationConstraints bound what a delegated credential may be used for
type DelegationConstraints struct {
	TimeWindow       *TimeWindow `json:"time_window,omitempty"`
	AllowedResources []string    `json:"allowed_resources,omitempty"`
}

// TimeWindow restricts use to a daily wall-clock window. Windows may wrap
// midnight (e.g. 22-06).
type TimeWindow struct {
	StartHour int `json:"start_hour"`
	EndHour   int `json:"end_hour"`
}

// Contains reports whether the given hour falls inside the window
func (w *TimeWindow) Contains(hour int) bool {
	if w.StartHour <= w.EndHour {
		return hour >= w.StartHour && hour < w.EndHour
	}
	// Wrap-around window
	return hour >= w.StartHour || hour < w.EndHour
}

// Credential is a bearer artifact granting scoped authority to act.
// Credentials form a forest via ParentCredentialID; children never hold
// more authority than their parent held at issuance time.
type Credential struct {
	CredentialID string `json:"credential_id"`
	SubjectID    string `json:"subject_id"`
	Issuer       string `json:"issuer"`
	Audience     string `json:"audience"`

	// Lineage
	ParentCredentialID string `json:"parent_credential_id,omitempty"`
	TaskID             string `json:"task_id"`
	ParentTaskID       string `json:"parent_task_id,omitempty"`

	// Authority
	GrantedScopes    []string `json:"granted_scopes"`
	GrantedTools     []string `json:"granted_tools,omitempty"`
	GrantedResources []string `json:"granted_resources,omitempty"`

	// Delegation metadata
	DelegatorSubject      string                 `json:"delegator_subject,omitempty"`
	DelegationChain       []DelegationHop        `json:"delegation_chain,omitempty"`
	DelegationPurpose     string                 `json:"delegation_purpose,omitempty"`
	DelegationConstraints *DelegationConstraints `json:"delegation_constraints,omitempty"`

	// Lifecycle
	IssuedAt         time.Time  `json:"issued_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	IsRevoked        bool       `json:"is_revoked"`
	RevokedAt        *time.Time `json:"revoked_at,omitempty"`
	RevocationReason string     `json:"revocation_reason,omitempty"`

	// Token is the signed bearer token. Populated only on issuance
	// responses, never stored or introspected back out.
	Token string `json:"token,omitempty"`
}

// IsExpired reports whether the credential has passed its expiry.
// Expiry is computed at read time, not a stored transition.
func (c *Credential) IsExpired() bool {
	return time.Now().After(c.ExpiresAt)
}

// IsActive reports whether the credential is neither revoked nor expired
func (c *Credential) IsActive() bool {
	return !c.IsRevoked && !c.IsExpired()
}

// Status returns the computed lifecycle state
func (c *Credential) Status() CredentialStatus {
	if c.IsRevoked {
		return StatusRevoked
	}
	if c.IsExpired() {
		return StatusExpired
	}
	return StatusActive
}

// HasScope checks exact membership of a scope in the granted set
func (c *Credential) HasScope(scope string) bool {
	for _, s := range c.GrantedScopes {
		if s == scope {
			return true
		}
	}
	return false
}

// View returns the metadata projection exposed to resource servers.
// It never includes the bearer token.
func (c *Credential) View() *CredentialView {
	return &CredentialView{
		CredentialID:      c.CredentialID,
		SubjectID:         c.SubjectID,
		Issuer:            c.Issuer,
		Audience:          c.Audience,
		TaskID:            c.TaskID,
		ParentTaskID:      c.ParentTaskID,
		GrantedScopes:     append([]string(nil), c.GrantedScopes...),
		GrantedTools:      append([]string(nil), c.GrantedTools...),
		GrantedResources:  append([]string(nil), c.GrantedResources...),
		DelegatorSubject:  c.DelegatorSubject,
		DelegationChain:   append([]DelegationHop(nil), c.DelegationChain...),
		DelegationPurpose: c.DelegationPurpose,
		IssuedAt:          c.IssuedAt,
		ExpiresAt:         c.ExpiresAt,
		Status:            c.Status(),
	}
}

// CredentialView is the read-only projection returned by introspection
type CredentialView struct {
	CredentialID      string           `json:"credential_id"`
	SubjectID         string           `json:"subject_id"`
	Issuer            string           `json:"issuer"`
	Audience          string           `json:"audience,omitempty"`
	TaskID            string           `json:"task_id"`
	ParentTaskID      string           `json:"parent_task_id,omitempty"`
	GrantedScopes     []string         `json:"granted_scopes"`
	GrantedTools      []string         `json:"granted_tools,omitempty"`
	GrantedResources  []string         `json:"granted_resources,omitempty"`
	DelegatorSubject  string           `json:"delegator_subject,omitempty"`
	DelegationChain   []DelegationHop  `json:"delegation_chain,omitempty"`
	DelegationPurpose string           `json:"delegation_purpose,omitempty"`
	IssuedAt          time.Time        `json:"issued_at"`
	ExpiresAt         time.Time        `json:"expires_at"`
	Status            CredentialStatus `json:"status"`
}

// ValidationResult is the outcome of verifying a credential
type ValidationResult struct {
	Valid      bool             `json:"valid"`
	Reason     string           `json:"reason,omitempty"`
	Credential *CredentialView  `json:"credential,omitempty"`
	Status     CredentialStatus `json:"status,omitempty"`
}
