// Package credential implements the credential lifecycle engine: issuance,
// verification, introspection, revocation and the lineage invariants that
// bind delegated credentials to their parents.
package credential

import (
	"context"
	"time"

	"github.com/credential-engine/go-core/pkg/types"
)

// Store persists credentials. Lookups return (nil, nil) when no credential
// matches; errors are reserved for store failures.
type Store interface {
	// Create stores a new credential. When the credential names a parent,
	// the insert succeeds only while that parent is active; a concurrent
	// revocation yields an invalid_grant error. requestID, when non-empty,
	// is recorded for idempotent issuance and must be unique.
	Create(ctx context.Context, cred *types.Credential, requestID string) error

	// Get returns a credential by id
	Get(ctx context.Context, credentialID string) (*types.Credential, error)

	// GetByRequestID returns the credential previously issued for an
	// idempotency request id
	GetByRequestID(ctx context.Context, requestID string) (*types.Credential, error)

	// Update persists lifecycle changes (revocation)
	Update(ctx context.Context, cred *types.Credential) error

	// ListChildren returns credentials whose parent is the given credential
	ListChildren(ctx context.Context, parentCredentialID string) ([]*types.Credential, error)

	// ListByDelegator returns credentials the principal delegated to others
	ListByDelegator(ctx context.Context, principalID string) ([]*types.Credential, error)

	// ListBySubject returns credentials issued to the subject
	ListBySubject(ctx context.Context, subjectID string) ([]*types.Credential, error)
}

// RevocationCache is a fast-path lookup for revoked credential ids,
// consulted before the store on the verification hot path
type RevocationCache interface {
	MarkRevoked(ctx context.Context, credentialID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, credentialID string) (bool, error)
}
