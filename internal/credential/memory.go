package credential

import (
	"context"
	"sync"

	"github.com/credential-engine/go-core/pkg/types"
)

// MemoryStore is an in-memory credential store for development and tests
type MemoryStore struct {
	mu          sync.RWMutex
	credentials map[string]*types.Credential
	byRequestID map[string]string
	order       []string
}

// NewMemoryStore creates a new in-memory credential store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		credentials: make(map[string]*types.Credential),
		byRequestID: make(map[string]string),
	}
}

// Create stores a new credential
func (s *MemoryStore) Create(ctx context.Context, cred *types.Credential, requestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.credentials[cred.CredentialID]; exists {
		return types.NewError(types.ErrKindInvalidRequest, "credential already exists")
	}
	// Parent liveness is checked under the same lock revocations take, so
	// a revoked parent can never gain a child
	if cred.ParentCredentialID != "" {
		parent, ok := s.credentials[cred.ParentCredentialID]
		if !ok || parent.IsRevoked || parent.IsExpired() {
			return types.NewError(types.ErrKindInvalidGrant, "parent credential is no longer active")
		}
	}
	if requestID != "" {
		if _, exists := s.byRequestID[requestID]; exists {
			return types.NewError(types.ErrKindInvalidRequest, "request id already used")
		}
		s.byRequestID[requestID] = cred.CredentialID
	}

	s.credentials[cred.CredentialID] = cloneCredential(cred)
	s.order = append(s.order, cred.CredentialID)
	return nil
}

// Get returns a credential by id, or (nil, nil) if absent
func (s *MemoryStore) Get(ctx context.Context, credentialID string) (*types.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.credentials[credentialID]
	if !ok {
		return nil, nil
	}
	return cloneCredential(cred), nil
}

// GetByRequestID returns the credential issued for an idempotency request id
func (s *MemoryStore) GetByRequestID(ctx context.Context, requestID string) (*types.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byRequestID[requestID]
	if !ok {
		return nil, nil
	}
	cred, ok := s.credentials[id]
	if !ok {
		return nil, nil
	}
	return cloneCredential(cred), nil
}

// Update persists lifecycle changes
func (s *MemoryStore) Update(ctx context.Context, cred *types.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.credentials[cred.CredentialID]; !ok {
		return types.NewError(types.ErrKindInvalidRequest, "credential not found")
	}
	s.credentials[cred.CredentialID] = cloneCredential(cred)
	return nil
}

// ListChildren returns credentials whose parent is the given credential
func (s *MemoryStore) ListChildren(ctx context.Context, parentCredentialID string) ([]*types.Credential, error) {
	return s.filter(func(c *types.Credential) bool {
		return c.ParentCredentialID == parentCredentialID
	}), nil
}

// ListByDelegator returns credentials the principal delegated to others
func (s *MemoryStore) ListByDelegator(ctx context.Context, principalID string) ([]*types.Credential, error) {
	return s.filter(func(c *types.Credential) bool {
		return c.DelegatorSubject == principalID
	}), nil
}

// ListBySubject returns credentials issued to the subject
func (s *MemoryStore) ListBySubject(ctx context.Context, subjectID string) ([]*types.Credential, error) {
	return s.filter(func(c *types.Credential) bool {
		return c.SubjectID == subjectID
	}), nil
}

func (s *MemoryStore) filter(match func(*types.Credential) bool) []*types.Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*types.Credential
	for _, id := range s.order {
		if cred := s.credentials[id]; match(cred) {
			out = append(out, cloneCredential(cred))
		}
	}
	return out
}

// cloneCredential copies a credential so callers cannot mutate store state
func cloneCredential(c *types.Credential) *types.Credential {
	out := *c
	out.GrantedScopes = append([]string(nil), c.GrantedScopes...)
	out.GrantedTools = append([]string(nil), c.GrantedTools...)
	out.GrantedResources = append([]string(nil), c.GrantedResources...)
	out.DelegationChain = append([]types.DelegationHop(nil), c.DelegationChain...)
	if c.RevokedAt != nil {
		t := *c.RevokedAt
		out.RevokedAt = &t
	}
	if c.DelegationConstraints != nil {
		dc := *c.DelegationConstraints
		dc.AllowedResources = append([]string(nil), c.DelegationConstraints.AllowedResources...)
		if c.DelegationConstraints.TimeWindow != nil {
			tw := *c.DelegationConstraints.TimeWindow
			dc.TimeWindow = &tw
		}
		out.DelegationConstraints = &dc
	}
	return &out
}
