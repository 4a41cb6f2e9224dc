package credential

import (
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/credential-engine/go-core/pkg/types"
)

// ClientRegistry authenticates the registered clients allowed to request
// root credentials. Secrets are stored bcrypt-hashed.
type ClientRegistry struct {
	mu      sync.RWMutex
	clients map[string][]byte
}

// NewClientRegistry creates an empty client registry
func NewClientRegistry() *ClientRegistry {
	return &ClientRegistry{clients: make(map[string][]byte)}
}

// Register adds a client with a plaintext secret, hashing it before storage
func (r *ClientRegistry) Register(clientID, secret string) error {
	if clientID == "" || secret == "" {
		return types.NewError(types.ErrKindInvalidRequest, "client id and secret are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[clientID] = hash
	return nil
}

// RegisterHash adds a client with a precomputed bcrypt hash
func (r *ClientRegistry) RegisterHash(clientID string, hash []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[clientID] = append([]byte(nil), hash...)
}

// Authenticate verifies a client's credentials. Unknown clients and bad
// secrets return the same error.
func (r *ClientRegistry) Authenticate(clientID, secret string) error {
	r.mu.RLock()
	hash, ok := r.clients[clientID]
	r.mu.RUnlock()

	if !ok {
		// Burn comparable time for unknown clients
		_ = bcrypt.CompareHashAndPassword(
			[]byte("$2a$10$0000000000000000000000000000000000000000000000000000"),
			[]byte(secret))
		return types.NewError(types.ErrKindInvalidGrant, "client authentication failed")
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(secret)); err != nil {
		return types.NewError(types.ErrKindInvalidGrant, "client authentication failed")
	}
	return nil
}
