package delegation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/credential-engine/go-core/internal/audit"
	"github.com/credential-engine/go-core/internal/credential"
	"github.com/credential-engine/go-core/internal/scope"
	"github.com/credential-engine/go-core/pkg/types"
)

// Config for the delegation manager
type Config struct {
	// DefaultGrantTTL is applied to grants created without an expiry
	DefaultGrantTTL time.Duration

	// SensitiveScopes require a verified step-up challenge before a
	// delegation carrying them is issued
	SensitiveScopes []string
}

// DefaultConfig returns default manager configuration
func DefaultConfig() Config {
	return Config{
		DefaultGrantTTL: 24 * time.Hour,
	}
}

// Request asks for a delegated credential backed by an authorization
// grant. ParentCredentialID is optional: without one the grant itself
// authorizes a fresh root credential for the agent.
type Request struct {
	PrincipalID        string
	AgentID            string
	ParentCredentialID string
	Scopes             []string
	Resource           string
	Purpose            string
	TTL                time.Duration

	// StepUpChallengeID proves a completed step-up when sensitive scopes
	// are requested
	StepUpChallengeID string

	Context types.RequestContext
}

// Manager validates delegation requests against grants and turns approved
// requests into child credential issuance
type Manager struct {
	config    Config
	grants    GrantStore
	engine    *credential.Engine
	registry  *scope.Registry
	stepup    *StepUpService
	auditor   *audit.Indexer
	logger    *zap.Logger
	sensitive map[string]bool
}

// NewManager creates a delegation manager. stepup may be nil when no
// scopes are configured sensitive.
func NewManager(
	config Config,
	grants GrantStore,
	engine *credential.Engine,
	registry *scope.Registry,
	stepup *StepUpService,
	auditor *audit.Indexer,
	logger *zap.Logger,
) (*Manager, error) {
	if grants == nil || engine == nil || registry == nil || auditor == nil {
		return nil, fmt.Errorf("grant store, engine, scope registry and auditor are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.DefaultGrantTTL <= 0 {
		config.DefaultGrantTTL = 24 * time.Hour
	}
	if len(config.SensitiveScopes) > 0 && stepup == nil {
		return nil, fmt.Errorf("sensitive scopes configured without a step-up service")
	}

	sensitive := make(map[string]bool, len(config.SensitiveScopes))
	for _, s := range config.SensitiveScopes {
		sensitive[s] = true
	}

	return &Manager{
		config:    config,
		grants:    grants,
		engine:    engine,
		registry:  registry,
		stepup:    stepup,
		auditor:   auditor,
		logger:    logger,
		sensitive: sensitive,
	}, nil
}

// CreateGrant records a principal's pre-authorization of an agent. Scopes
// must be known to the registry.
func (m *Manager) CreateGrant(ctx context.Context, principalID, agentID string, scopes []string, constraints *types.DelegationConstraints, ttl time.Duration) (*types.AuthorizationGrant, error) {
	if principalID == "" || agentID == "" {
		return nil, types.NewError(types.ErrKindInvalidRequest, "principal_id and agent_id are required")
	}
	if len(scopes) == 0 {
		return nil, types.NewError(types.ErrKindInvalidRequest, "at least one scope is required")
	}
	for _, s := range scopes {
		if !m.registry.IsKnown(s) {
			return nil, types.NewError(types.ErrKindInvalidScope, fmt.Sprintf("unknown scope: %s", s))
		}
	}
	if ttl <= 0 {
		ttl = m.config.DefaultGrantTTL
	}

	now := time.Now().UTC()
	grant := &types.AuthorizationGrant{
		GrantID:          uuid.NewString(),
		PrincipalID:      principalID,
		AgentID:          agentID,
		AuthorizedScopes: append([]string(nil), scopes...),
		Constraints:      constraints,
		CreatedAt:        now,
		ExpiresAt:        now.Add(ttl),
		IsActive:         true,
	}
	if err := m.grants.Add(ctx, grant); err != nil {
		return nil, err
	}
	return grant, nil
}

// RevokeGrant deactivates a grant
func (m *Manager) RevokeGrant(ctx context.Context, grantID string) error {
	return m.grants.Deactivate(ctx, grantID)
}

// RequestDelegation validates a delegation request against the principal's
// grants and, when approved, issues a narrowed child credential under the
// parent. Without a parent the grant's authority backs a fresh root
// credential carrying a single initial hop. Denials are audited with the
// failure reason.
func (m *Manager) RequestDelegation(ctx context.Context, req *Request) (*types.Credential, error) {
	if req.PrincipalID == "" || req.AgentID == "" {
		return nil, m.deny(ctx, req, types.NewError(types.ErrKindInvalidRequest,
			"principal_id and agent_id are required"))
	}
	if len(req.Scopes) == 0 {
		return nil, m.deny(ctx, req, types.NewError(types.ErrKindInvalidRequest,
			"at least one scope is required"))
	}

	grant, err := m.matchGrant(ctx, req)
	if err != nil {
		return nil, m.deny(ctx, req, err)
	}

	if err := m.checkStepUp(req); err != nil {
		return nil, m.deny(ctx, req, err)
	}

	var chain []types.DelegationHop
	if req.ParentCredentialID != "" {
		parent, err := m.engine.Introspect(ctx, req.ParentCredentialID)
		if err != nil {
			return nil, m.deny(ctx, req, err)
		}
		chain = append(chain, parent.DelegationChain...)
	}
	chain = append(chain, types.DelegationHop{
		PrincipalID: req.PrincipalID,
		AgentID:     req.AgentID,
		Scopes:      append([]string(nil), req.Scopes...),
		Timestamp:   time.Now().UTC(),
	})

	cred, err := m.engine.Issue(ctx, &credential.IssueRequest{
		SubjectID:          req.AgentID,
		Scopes:             req.Scopes,
		TaskID:             uuid.NewString(),
		ParentCredentialID: req.ParentCredentialID,
		TTL:                req.TTL,
		DelegatorSubject:   req.PrincipalID,
		Purpose:            req.Purpose,
		Constraints:        grant.Constraints,
		DelegationChain:    chain,
		GrantID:            grant.GrantID,
		Context:            req.Context,
	})
	if err != nil {
		// Issuance denials are audited by the engine under the issuance
		// event; record the delegation-level outcome too
		return nil, m.deny(ctx, req, err)
	}

	event := types.NewAuditEventBuilder(types.EventDelegationGranted, req.PrincipalID).
		WithTask(cred.TaskID, cred.ParentTaskID).
		WithCredential(cred.CredentialID).
		WithDetail("agent_id", req.AgentID).
		WithDetail("grant_id", grant.GrantID).
		WithDetail("scopes", req.Scopes).
		Build()
	if err := m.auditor.Append(ctx, event); err != nil {
		return nil, types.WrapError(types.ErrKindTransient, "audit delegation", err)
	}

	return cred, nil
}

// matchGrant finds a usable grant covering the request
func (m *Manager) matchGrant(ctx context.Context, req *Request) (*types.AuthorizationGrant, error) {
	grants, err := m.grants.Find(ctx, req.PrincipalID, req.AgentID)
	if err != nil {
		return nil, err
	}
	if len(grants) == 0 {
		return nil, types.NewError(types.ErrKindInvalidDelegation,
			fmt.Sprintf("no active grant from %s to %s", req.PrincipalID, req.AgentID))
	}

	now := time.Now()
	var lastReason string
	for _, g := range grants {
		if missing := m.registry.Uncovered(req.Scopes, g.AuthorizedScopes); len(missing) > 0 {
			lastReason = fmt.Sprintf("scopes not authorized by grant %s: %s",
				g.GrantID, strings.Join(missing, ", "))
			continue
		}
		if !g.AllowsTime(now) {
			lastReason = fmt.Sprintf("grant %s not usable at this hour", g.GrantID)
			continue
		}
		if req.Resource != "" && !g.AllowsResource(req.Resource) {
			lastReason = fmt.Sprintf("resource %s not allowed by grant %s", req.Resource, g.GrantID)
			continue
		}
		return g, nil
	}
	return nil, types.NewError(types.ErrKindInvalidDelegation, lastReason)
}

// checkStepUp requires a consumed verified challenge when the request
// carries sensitive scopes
func (m *Manager) checkStepUp(req *Request) error {
	needed := false
	for _, s := range req.Scopes {
		if m.sensitive[s] {
			needed = true
			break
		}
	}
	if !needed {
		return nil
	}
	if req.StepUpChallengeID == "" {
		return types.NewError(types.ErrKindInvalidDelegation,
			"step-up verification required for requested scopes")
	}
	if !m.stepup.ConsumeVerified(req.PrincipalID, req.StepUpChallengeID) {
		return types.NewError(types.ErrKindInvalidDelegation,
			"step-up challenge not verified")
	}
	return nil
}

// deny audits a delegation denial and passes the cause through
func (m *Manager) deny(ctx context.Context, req *Request, cause error) error {
	event := types.NewAuditEventBuilder(types.EventDelegationDenied, req.PrincipalID).
		WithFailure(types.KindOf(cause), cause.Error()).
		WithDetail("agent_id", req.AgentID).
		WithDetail("scopes", req.Scopes).
		Build()
	if err := m.auditor.Append(ctx, event); err != nil {
		m.logger.Error("Failed to audit delegation denial", zap.Error(err))
	}
	return cause
}
