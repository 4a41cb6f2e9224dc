package policy

import (
	"fmt"
	"sync"

	"github.com/credential-engine/go-core/pkg/types"
)

// MemoryStore implements an in-memory policy store
type MemoryStore struct {
	policies map[string]*types.Policy
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory policy store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		policies: make(map[string]*types.Policy),
	}
}

// Get retrieves a policy by id
func (s *MemoryStore) Get(id string) (*types.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	policy, ok := s.policies[id]
	if !ok {
		return nil, fmt.Errorf("policy not found: %s", id)
	}
	return policy, nil
}

// List returns a snapshot of all policies
func (s *MemoryStore) List() []*types.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()

	policies := make([]*types.Policy, 0, len(s.policies))
	for _, p := range s.policies {
		policies = append(policies, p)
	}
	return policies
}

// Add adds a policy to the store
func (s *MemoryStore) Add(policy *types.Policy) error {
	if err := policy.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.policies[policy.ID]; exists {
		return fmt.Errorf("policy already exists: %s", policy.ID)
	}
	s.policies[policy.ID] = policy
	return nil
}

// Update replaces an existing policy
func (s *MemoryStore) Update(policy *types.Policy) error {
	if err := policy.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.policies[policy.ID]; !exists {
		return fmt.Errorf("policy not found: %s", policy.ID)
	}
	s.policies[policy.ID] = policy
	return nil
}

// Remove removes a policy from the store
func (s *MemoryStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.policies[id]; !ok {
		return fmt.Errorf("policy not found: %s", id)
	}
	delete(s.policies, id)
	return nil
}

// Replace swaps the full policy set atomically
func (s *MemoryStore) Replace(policies []*types.Policy) error {
	next := make(map[string]*types.Policy, len(policies))
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return err
		}
		next[p.ID] = p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies = next
	return nil
}

// Count returns the number of policies
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.policies)
}
