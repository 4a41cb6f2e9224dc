// Package policy provides policy storage and attribute-based evaluation
package policy

import (
	"github.com/credential-engine/go-core/pkg/types"
)

// Store defines the interface for policy storage. Evaluation reads a
// consistent snapshot via List; mutations never affect an evaluation in
// flight.
type Store interface {
	// Get retrieves a policy by id
	Get(id string) (*types.Policy, error)

	// List returns a snapshot of all policies
	List() []*types.Policy

	// Add adds a policy to the store
	Add(policy *types.Policy) error

	// Update replaces an existing policy
	Update(policy *types.Policy) error

	// Remove removes a policy from the store
	Remove(id string) error

	// Replace swaps the full policy set atomically (used by hot reload)
	Replace(policies []*types.Policy) error

	// Count returns the number of policies
	Count() int
}
