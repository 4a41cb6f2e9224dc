package audit

import (
	"context"
	"sync"

	"github.com/credential-engine/go-core/pkg/types"
)

// MemoryEventStore is an in-memory append-only event store
type MemoryEventStore struct {
	mu       sync.RWMutex
	events   []*types.AuditEvent
	byTask   map[string][]*types.AuditEvent
	byParent map[string][]*types.AuditEvent
}

// NewMemoryEventStore creates a new in-memory event store
func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{
		byTask:   make(map[string][]*types.AuditEvent),
		byParent: make(map[string][]*types.AuditEvent),
	}
}

// Append durably stores an event
func (s *MemoryEventStore) Append(ctx context.Context, event *types.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, event)
	if event.TaskID != "" {
		s.byTask[event.TaskID] = append(s.byTask[event.TaskID], event)
	}
	if event.ParentTaskID != "" {
		s.byParent[event.ParentTaskID] = append(s.byParent[event.ParentTaskID], event)
	}
	return nil
}

// ListByTask returns all events for a task in append order
func (s *MemoryEventStore) ListByTask(ctx context.Context, taskID string) ([]*types.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.byTask[taskID]
	out := make([]*types.AuditEvent, len(events))
	copy(out, events)
	return out, nil
}

// ListChildren returns events of tasks whose parent is the given task
func (s *MemoryEventStore) ListChildren(ctx context.Context, parentTaskID string) ([]*types.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.byParent[parentTaskID]
	out := make([]*types.AuditEvent, len(events))
	copy(out, events)
	return out, nil
}

// LastHash returns the hash of the last appended event
func (s *MemoryEventStore) LastHash(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.events) == 0 {
		return "", nil
	}
	return s.events[len(s.events)-1].Hash, nil
}

// ListAll returns every event in append order
func (s *MemoryEventStore) ListAll(ctx context.Context) ([]*types.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*types.AuditEvent, len(s.events))
	copy(out, s.events)
	return out, nil
}
