// Package delegation manages principal-to-agent authorization grants and
// turns delegation requests into child credential issuance
package delegation

import (
	"context"

	"github.com/credential-engine/go-core/pkg/types"
)

// GrantStore persists authorization grants. Lookups return (nil, nil) when
// no grant matches.
type GrantStore interface {
	// Add creates a new grant
	Add(ctx context.Context, grant *types.AuthorizationGrant) error

	// Get retrieves a grant by id
	Get(ctx context.Context, grantID string) (*types.AuthorizationGrant, error)

	// Find returns the usable grants a principal holds for an agent
	Find(ctx context.Context, principalID, agentID string) ([]*types.AuthorizationGrant, error)

	// ListByPrincipal returns all grants issued by a principal
	ListByPrincipal(ctx context.Context, principalID string) ([]*types.AuthorizationGrant, error)

	// Deactivate marks a grant inactive. Grants are never widened or
	// reactivated; replacement requires a new grant.
	Deactivate(ctx context.Context, grantID string) error
}
