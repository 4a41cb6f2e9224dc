package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/credential-engine/go-core/pkg/types"
)

// HashChain manages the cryptographic hash chain for audit log integrity
type HashChain struct {
	mu       sync.RWMutex
	lastHash string
}

// NewHashChain creates a new hash chain manager. The genesis event has an
// empty prev hash.
func NewHashChain() *HashChain {
	return &HashChain{}
}

// InitializeWithHash seeds the chain from the stored tail (startup/recovery)
func (hc *HashChain) InitializeWithHash(hash string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.lastHash = hash
}

// hashInput is the canonical serialization hashed for each event
type hashInput struct {
	Timestamp    string                 `json:"timestamp"`
	EventType    string                 `json:"event_type"`
	SubjectID    string                 `json:"subject_id"`
	TaskID       string                 `json:"task_id,omitempty"`
	ParentTaskID string                 `json:"parent_task_id,omitempty"`
	CredentialID string                 `json:"credential_id,omitempty"`
	Status       string                 `json:"status"`
	Details      map[string]interface{} `json:"details,omitempty"`
	PrevHash     string                 `json:"prev_hash"`
}

func canonicalHash(event *types.AuditEvent, prevHash string) (string, error) {
	input := hashInput{
		Timestamp:    event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z"),
		EventType:    string(event.EventType),
		SubjectID:    event.SubjectID,
		TaskID:       event.TaskID,
		ParentTaskID: event.ParentTaskID,
		CredentialID: event.CredentialID,
		Status:       string(event.Status),
		Details:      event.Details,
		PrevHash:     prevHash,
	}

	jsonData, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("marshal event for hashing: %w", err)
	}

	sum := sha256.Sum256(jsonData)
	return hex.EncodeToString(sum[:]), nil
}

// ComputeEventHash links the event to the chain tail and sets its hash
func (hc *HashChain) ComputeEventHash(event *types.AuditEvent) (string, error) {
	hc.mu.RLock()
	prevHash := hc.lastHash
	hc.mu.RUnlock()

	hash, err := canonicalHash(event, prevHash)
	if err != nil {
		return "", err
	}

	event.PrevHash = prevHash
	event.Hash = hash
	return hash, nil
}

// UpdateLastHash advances the chain tail
func (hc *HashChain) UpdateLastHash(hash string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.lastHash = hash
}

// GetLastHash returns the current chain tail
func (hc *HashChain) GetLastHash() string {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.lastHash
}

// VerifyEventHash recomputes an event's hash from its recorded prev hash
func VerifyEventHash(event *types.AuditEvent) (bool, error) {
	computed, err := canonicalHash(event, event.PrevHash)
	if err != nil {
		return false, err
	}
	return computed == event.Hash, nil
}

// VerifyChain verifies the integrity of a sequence of events in append order
func VerifyChain(events []*types.AuditEvent) (bool, error) {
	prevHash := ""
	for i, event := range events {
		valid, err := VerifyEventHash(event)
		if err != nil {
			return false, fmt.Errorf("verify event %d: %w", i, err)
		}
		if !valid {
			return false, fmt.Errorf("event %d has invalid hash", i)
		}
		if event.PrevHash != prevHash {
			return false, fmt.Errorf("event %d has broken chain: expected prev_hash %s, got %s",
				i, prevHash, event.PrevHash)
		}
		prevHash = event.Hash
	}
	return true, nil
}
