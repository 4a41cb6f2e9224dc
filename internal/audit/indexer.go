package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/credential-engine/go-core/pkg/types"
)

// Config for the audit indexer
type Config struct {
	// MaxChainDepth bounds ancestor traversal. The credential engine's
	// invariants should keep chains shorter; the bound is the integrity
	// backstop against corrupted data.
	MaxChainDepth int

	// StoreTimeout bounds each store call
	StoreTimeout time.Duration
}

// DefaultConfig returns default indexer configuration
func DefaultConfig() Config {
	return Config{
		MaxChainDepth: 100,
		StoreTimeout:  5 * time.Second,
	}
}

// Indexer appends immutable lifecycle events and reconstructs task
// ancestry and delegation activity from the log
type Indexer struct {
	config      Config
	store       EventStore
	credentials CredentialSource
	chain       *HashChain
	mirror      *FileWriter
	logger      *zap.Logger

	// appendMu serializes hash computation with persistence so the chain
	// order matches the store order
	appendMu sync.Mutex
}

// NewIndexer creates an indexer over the given event store. credentials
// may be nil if delegation activity queries are not needed; mirror may be
// nil to disable the file mirror.
func NewIndexer(config Config, store EventStore, credentials CredentialSource, mirror *FileWriter, logger *zap.Logger) (*Indexer, error) {
	if store == nil {
		return nil, fmt.Errorf("event store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxChainDepth <= 0 {
		config.MaxChainDepth = 100
	}
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = 5 * time.Second
	}

	idx := &Indexer{
		config:      config,
		store:       store,
		credentials: credentials,
		chain:       NewHashChain(),
		mirror:      mirror,
		logger:      logger,
	}

	// Seed the hash chain from the stored tail
	ctx, cancel := context.WithTimeout(context.Background(), config.StoreTimeout)
	defer cancel()
	last, err := store.LastHash(ctx)
	if err != nil {
		return nil, fmt.Errorf("seed hash chain: %w", err)
	}
	idx.chain.InitializeWithHash(last)

	return idx, nil
}

// Append durably stores an event. It assigns the event id and timestamp if
// missing, links it into the hash chain, and returns only after the store
// write succeeds, so callers report success only for audited operations.
func (i *Indexer) Append(ctx context.Context, event *types.AuditEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	i.appendMu.Lock()
	defer i.appendMu.Unlock()

	hash, err := i.chain.ComputeEventHash(event)
	if err != nil {
		return err
	}

	storeCtx, cancel := context.WithTimeout(ctx, i.config.StoreTimeout)
	defer cancel()
	if err := i.store.Append(storeCtx, event); err != nil {
		return err
	}
	i.chain.UpdateLastHash(hash)

	if i.mirror != nil {
		if err := i.mirror.Write(event); err != nil {
			i.logger.Warn("Audit file mirror write failed", zap.Error(err))
		}
	}

	return nil
}

// GetChain reconstructs the ancestor chain of a task in root-to-leaf order,
// plus per-task summaries for every chain member and all of its
// descendants. Traversal is bounded and cycle-safe: corrupted lineage data
// truncates the walk instead of looping.
func (i *Indexer) GetChain(ctx context.Context, taskID string) (*types.ChainResult, error) {
	if taskID == "" {
		return nil, types.NewError(types.ErrKindInvalidRequest, "task_id is required")
	}

	visited := make(map[string]bool)
	var reversed []string
	truncated := false

	current := taskID
	for current != "" {
		if visited[current] {
			i.logger.Warn("Cycle detected in task lineage", zap.String("task_id", current))
			truncated = true
			break
		}
		if len(reversed) >= i.config.MaxChainDepth {
			truncated = true
			break
		}
		visited[current] = true
		reversed = append(reversed, current)

		events, err := i.listByTask(ctx, current)
		if err != nil {
			return nil, err
		}
		if len(events) == 0 {
			// Unknown task: if it is the query target, report not found;
			// otherwise the chain ends here.
			if current == taskID {
				return nil, types.NewError(types.ErrKindInvalidRequest, fmt.Sprintf("unknown task: %s", taskID))
			}
			reversed = reversed[:len(reversed)-1]
			break
		}
		current = parentOf(events)
	}

	// Reverse into root-to-leaf order
	chain := make([]string, len(reversed))
	for j, id := range reversed {
		chain[len(reversed)-1-j] = id
	}

	result := &types.ChainResult{
		TaskChain: chain,
		Truncated: truncated,
	}
	if len(chain) > 0 {
		result.RootTaskID = chain[0]
	}

	// Gather per-task summaries for chain members and the full subtree
	// under each, breadth-first with the same depth bound as the ancestor
	// walk
	type frame struct {
		id    string
		depth int
	}
	seen := make(map[string]bool)
	queue := make([]frame, 0, len(chain))
	for _, id := range chain {
		queue = append(queue, frame{id: id})
	}
	for len(queue) > 0 {
		f := queue[0]
		queue = queue[1:]
		if seen[f.id] {
			continue
		}
		seen[f.id] = true

		summary, err := i.summarizeTask(ctx, f.id)
		if err != nil {
			return nil, err
		}
		result.Details = append(result.Details, summary)

		if f.depth >= i.config.MaxChainDepth {
			result.Truncated = true
			continue
		}
		childEvents, err := i.listChildren(ctx, f.id)
		if err != nil {
			return nil, err
		}
		for _, childID := range taskIDsOf(childEvents) {
			if !seen[childID] {
				queue = append(queue, frame{id: childID, depth: f.depth + 1})
			}
		}
	}

	return result, nil
}

// GetDelegationActivity returns the credentials a principal delegated out
// and the credentials issued to it as a delegate
func (i *Indexer) GetDelegationActivity(ctx context.Context, principalID string) (*types.DelegationActivity, error) {
	if principalID == "" {
		return nil, types.NewError(types.ErrKindInvalidRequest, "principal_id is required")
	}
	if i.credentials == nil {
		return nil, types.NewError(types.ErrKindInvalidRequest, "delegation activity queries not configured")
	}

	asPrincipal, err := i.credentials.ListByDelegator(ctx, principalID)
	if err != nil {
		return nil, err
	}
	asDelegate, err := i.credentials.ListBySubject(ctx, principalID)
	if err != nil {
		return nil, err
	}

	activity := &types.DelegationActivity{
		PrincipalID: principalID,
		AsPrincipal: make([]*types.CredentialView, 0, len(asPrincipal)),
		AsDelegate:  make([]*types.CredentialView, 0, len(asDelegate)),
	}
	for _, c := range asPrincipal {
		activity.AsPrincipal = append(activity.AsPrincipal, c.View())
	}
	for _, c := range asDelegate {
		activity.AsDelegate = append(activity.AsDelegate, c.View())
	}
	return activity, nil
}

// VerifyIntegrity verifies the hash chain over the full log
func (i *Indexer) VerifyIntegrity(ctx context.Context) (bool, error) {
	storeCtx, cancel := context.WithTimeout(ctx, i.config.StoreTimeout)
	defer cancel()

	events, err := i.store.ListAll(storeCtx)
	if err != nil {
		return false, err
	}
	return VerifyChain(events)
}

func (i *Indexer) summarizeTask(ctx context.Context, taskID string) (*types.TaskSummary, error) {
	events, err := i.listByTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return &types.TaskSummary{TaskID: taskID}, nil
	}

	// Prefer the first event of type "task" as the summary; fall back to
	// the first event
	summary := events[0]
	for _, e := range events {
		if e.EventType == types.EventTask {
			summary = e
			break
		}
	}

	return &types.TaskSummary{
		TaskID:       taskID,
		ParentTaskID: parentOf(events),
		SubjectID:    summary.SubjectID,
		FirstSeen:    events[0].Timestamp,
		EventCount:   len(events),
		Events:       events,
		Summary:      summary,
	}, nil
}

func (i *Indexer) listByTask(ctx context.Context, taskID string) ([]*types.AuditEvent, error) {
	storeCtx, cancel := context.WithTimeout(ctx, i.config.StoreTimeout)
	defer cancel()
	return i.store.ListByTask(storeCtx, taskID)
}

func (i *Indexer) listChildren(ctx context.Context, taskID string) ([]*types.AuditEvent, error) {
	storeCtx, cancel := context.WithTimeout(ctx, i.config.StoreTimeout)
	defer cancel()
	return i.store.ListChildren(storeCtx, taskID)
}

// parentOf returns the parent task recorded on a task's events
func parentOf(events []*types.AuditEvent) string {
	for _, e := range events {
		if e.ParentTaskID != "" {
			return e.ParentTaskID
		}
	}
	return ""
}

// taskIDsOf returns the distinct task ids of a set of events in order
func taskIDsOf(events []*types.AuditEvent) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, e := range events {
		if e.TaskID == "" || seen[e.TaskID] {
			continue
		}
		seen[e.TaskID] = true
		ids = append(ids, e.TaskID)
	}
	return ids
}
