package delegation

import (
	"context"
	"sync"

	"github.com/credential-engine/go-core/pkg/types"
)

// MemoryGrantStore is an in-memory grant store for development and tests
type MemoryGrantStore struct {
	mu     sync.RWMutex
	grants map[string]*types.AuthorizationGrant
	order  []string
}

// NewMemoryGrantStore creates a new in-memory grant store
func NewMemoryGrantStore() *MemoryGrantStore {
	return &MemoryGrantStore{grants: make(map[string]*types.AuthorizationGrant)}
}

// Add creates a new grant
func (s *MemoryGrantStore) Add(ctx context.Context, grant *types.AuthorizationGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.grants[grant.GrantID]; exists {
		return types.NewError(types.ErrKindInvalidRequest, "grant already exists")
	}
	s.grants[grant.GrantID] = cloneGrant(grant)
	s.order = append(s.order, grant.GrantID)
	return nil
}

// Get retrieves a grant by id, or (nil, nil) if absent
func (s *MemoryGrantStore) Get(ctx context.Context, grantID string) (*types.AuthorizationGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	grant, ok := s.grants[grantID]
	if !ok {
		return nil, nil
	}
	return cloneGrant(grant), nil
}

// Find returns the usable grants a principal holds for an agent
func (s *MemoryGrantStore) Find(ctx context.Context, principalID, agentID string) ([]*types.AuthorizationGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.AuthorizationGrant
	for _, id := range s.order {
		g := s.grants[id]
		if g.PrincipalID == principalID && g.AgentID == agentID && g.IsUsable() {
			out = append(out, cloneGrant(g))
		}
	}
	return out, nil
}

// ListByPrincipal returns all grants issued by a principal
func (s *MemoryGrantStore) ListByPrincipal(ctx context.Context, principalID string) ([]*types.AuthorizationGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.AuthorizationGrant
	for _, id := range s.order {
		if g := s.grants[id]; g.PrincipalID == principalID {
			out = append(out, cloneGrant(g))
		}
	}
	return out, nil
}

// Deactivate marks a grant inactive
func (s *MemoryGrantStore) Deactivate(ctx context.Context, grantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	grant, ok := s.grants[grantID]
	if !ok {
		return types.NewError(types.ErrKindInvalidRequest, "grant not found")
	}
	grant.IsActive = false
	return nil
}

func cloneGrant(g *types.AuthorizationGrant) *types.AuthorizationGrant {
	out := *g
	out.AuthorizedScopes = append([]string(nil), g.AuthorizedScopes...)
	if g.Constraints != nil {
		c := *g.Constraints
		c.AllowedResources = append([]string(nil), g.Constraints.AllowedResources...)
		if g.Constraints.TimeWindow != nil {
			tw := *g.Constraints.TimeWindow
			c.TimeWindow = &tw
		}
		out.Constraints = &c
	}
	return &out
}
