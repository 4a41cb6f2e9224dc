package types

import (
	"time"
)

// AuthorizationGrant records that a principal has pre-authorized an agent
// to receive delegated credentials within bounded scope/time/resource
// constraints. Grants are deactivated, never widened; widening requires
// a new grant.
type AuthorizationGrant struct {
	GrantID          string                 `json:"grant_id"`
	PrincipalID      string                 `json:"principal_id"`
	AgentID          string                 `json:"agent_id"`
	AuthorizedScopes []string               `json:"authorized_scopes"`
	Constraints      *DelegationConstraints `json:"constraints,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	ExpiresAt        time.Time              `json:"expires_at"`
	IsActive         bool                   `json:"is_active"`
}

// IsExpired reports whether the grant has passed its expiry
func (g *AuthorizationGrant) IsExpired() bool {
	return !g.ExpiresAt.IsZero() && time.Now().After(g.ExpiresAt)
}

// IsUsable reports whether the grant can back a delegation request right now
func (g *AuthorizationGrant) IsUsable() bool {
	return g.IsActive && !g.IsExpired()
}

// AllowsResource checks the resource allowlist. An empty allowlist allows
// any resource; membership is exact.
func (g *AuthorizationGrant) AllowsResource(resource string) bool {
	if g.Constraints == nil || len(g.Constraints.AllowedResources) == 0 {
		return true
	}
	for _, r := range g.Constraints.AllowedResources {
		if r == resource {
			return true
		}
	}
	return false
}

// AllowsTime checks the time-window constraint against the given instant
func (g *AuthorizationGrant) AllowsTime(now time.Time) bool {
	if g.Constraints == nil || g.Constraints.TimeWindow == nil {
		return true
	}
	return g.Constraints.TimeWindow.Contains(now.Hour())
}
