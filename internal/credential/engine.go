package credential

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/credential-engine/go-core/internal/audit"
	"github.com/credential-engine/go-core/internal/policy"
	"github.com/credential-engine/go-core/internal/scope"
	"github.com/credential-engine/go-core/pkg/types"
)

// Config for the credential engine
type Config struct {
	Issuer             string
	DefaultTTL         time.Duration
	MaxTTL             time.Duration
	MaxDelegationDepth int

	// RevocationCascade revokes the subtree under a revoked credential.
	// Off by default: children issued before a revocation remain valid
	// until they expire or are revoked individually.
	RevocationCascade bool
}

// DefaultConfig returns default engine configuration
func DefaultConfig() Config {
	return Config{
		Issuer:             "credential-engine",
		DefaultTTL:         15 * time.Minute,
		MaxTTL:             time.Hour,
		MaxDelegationDepth: 10,
	}
}

// IssueRequest carries the parameters for credential issuance. Root
// issuance authenticates with client credentials; delegated issuance
// presents the parent credential id instead.
type IssueRequest struct {
	ClientID     string
	ClientSecret string

	SubjectID          string
	Scopes             []string
	Tools              []string
	Resources          []string
	TaskID             string
	ParentCredentialID string
	TTL                time.Duration

	DelegatorSubject string
	Purpose          string
	Constraints      *types.DelegationConstraints
	DelegationChain  []types.DelegationHop

	// GrantID marks issuance pre-authorized by a validated authorization
	// grant. Root issuance backed by a grant skips client authentication;
	// the delegation manager sets this after matching the grant.
	GrantID string

	// RequestID makes issuance idempotent: retries with the same id
	// return the originally issued credential
	RequestID string

	// Context carries request attributes for policy evaluation
	Context types.RequestContext
}

// VerifyRequest carries a bearer token plus optional lineage hints that
// must match the stored credential exactly when present
type VerifyRequest struct {
	Token        string
	TaskID       string
	ParentTaskID string
}

// Engine implements the credential lifecycle: issuance with scope
// narrowing, verification, introspection and revocation. Every lifecycle
// transition is audited before success is reported.
type Engine struct {
	config    Config
	store     Store
	registry  *scope.Registry
	policies  policy.Store
	evaluator *policy.Evaluator
	tokens    *TokenIssuer
	clients   *ClientRegistry
	auditor   *audit.Indexer
	revCache  RevocationCache
	logger    *zap.Logger
}

// NewEngine creates a credential engine. revCache may be nil to disable
// the revocation fast path.
func NewEngine(
	config Config,
	store Store,
	registry *scope.Registry,
	policies policy.Store,
	evaluator *policy.Evaluator,
	tokens *TokenIssuer,
	clients *ClientRegistry,
	auditor *audit.Indexer,
	revCache RevocationCache,
	logger *zap.Logger,
) (*Engine, error) {
	if store == nil || registry == nil || tokens == nil || auditor == nil {
		return nil, fmt.Errorf("store, scope registry, token issuer and auditor are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 15 * time.Minute
	}
	if config.MaxTTL <= 0 {
		config.MaxTTL = time.Hour
	}
	if config.MaxDelegationDepth <= 0 {
		config.MaxDelegationDepth = 10
	}
	if config.Issuer == "" {
		config.Issuer = "credential-engine"
	}

	return &Engine{
		config:    config,
		store:     store,
		registry:  registry,
		policies:  policies,
		evaluator: evaluator,
		tokens:    tokens,
		clients:   clients,
		auditor:   auditor,
		revCache:  revCache,
		logger:    logger,
	}, nil
}

// Issue mints a credential. For delegated issuance the requested authority
// must be a subset of the parent's, the parent must be active, and the
// chain must stay under the depth bound. The parent is revalidated at
// commit time so a revocation racing the issuance wins.
func (e *Engine) Issue(ctx context.Context, req *IssueRequest) (*types.Credential, error) {
	if req.SubjectID == "" {
		return nil, e.denyIssue(ctx, req, types.NewError(types.ErrKindInvalidRequest, "subject_id is required"))
	}
	if len(req.Scopes) == 0 {
		return nil, e.denyIssue(ctx, req, types.NewError(types.ErrKindInvalidRequest, "at least one scope is required"))
	}

	// Idempotent retry
	if req.RequestID != "" {
		existing, err := e.store.GetByRequestID(ctx, req.RequestID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			// Stored copies never hold the token; re-sign from the stored
			// claims so the retry receives a usable bearer token
			token, err := e.tokens.Sign(existing)
			if err != nil {
				return nil, types.WrapError(types.ErrKindTransient, "sign credential token", err)
			}
			existing.Token = token
			return existing, nil
		}
	}

	for _, s := range req.Scopes {
		if !e.registry.IsKnown(s) {
			return nil, e.denyIssue(ctx, req, types.NewError(types.ErrKindInvalidScope,
				fmt.Sprintf("unknown scope: %s", s)))
		}
	}

	var parent *types.Credential
	if req.ParentCredentialID != "" {
		var err error
		parent, err = e.checkParent(ctx, req)
		if err != nil {
			return nil, e.denyIssue(ctx, req, err)
		}
	} else if req.GrantID == "" {
		if e.clients == nil {
			return nil, e.denyIssue(ctx, req, types.NewError(types.ErrKindInvalidGrant,
				"root issuance not configured"))
		}
		if err := e.clients.Authenticate(req.ClientID, req.ClientSecret); err != nil {
			return nil, e.denyIssue(ctx, req, err)
		}
	}

	if err := e.consultPolicy(req); err != nil {
		return nil, e.denyIssue(ctx, req, err)
	}

	ttl := req.TTL
	if ttl <= 0 {
		ttl = e.config.DefaultTTL
	}
	if ttl > e.config.MaxTTL {
		ttl = e.config.MaxTTL
	}
	if parent != nil {
		// A child never outlives its parent
		if remaining := time.Until(parent.ExpiresAt); ttl > remaining {
			ttl = remaining
		}
	}

	now := time.Now().UTC()
	cred := &types.Credential{
		CredentialID:          uuid.NewString(),
		SubjectID:             req.SubjectID,
		Issuer:                e.config.Issuer,
		TaskID:                req.TaskID,
		GrantedScopes:         append([]string(nil), req.Scopes...),
		GrantedTools:          append([]string(nil), req.Tools...),
		GrantedResources:      append([]string(nil), req.Resources...),
		DelegatorSubject:      req.DelegatorSubject,
		DelegationChain:       append([]types.DelegationHop(nil), req.DelegationChain...),
		DelegationPurpose:     req.Purpose,
		DelegationConstraints: req.Constraints,
		IssuedAt:              now,
		ExpiresAt:             now.Add(ttl),
	}
	if cred.TaskID == "" {
		cred.TaskID = uuid.NewString()
	}
	if parent != nil {
		cred.ParentCredentialID = parent.CredentialID
		cred.ParentTaskID = parent.TaskID
	}

	token, err := e.tokens.Sign(cred)
	if err != nil {
		return nil, types.WrapError(types.ErrKindTransient, "sign credential token", err)
	}

	// The store enforces parent liveness atomically at insert time, so a
	// revocation racing this issuance wins
	if err := e.store.Create(ctx, cred, req.RequestID); err != nil {
		if types.KindOf(err) == types.ErrKindInvalidGrant {
			return nil, e.denyIssue(ctx, req, err)
		}
		return nil, err
	}

	event := types.NewAuditEventBuilder(types.EventCredentialIssued, cred.SubjectID).
		WithTask(cred.TaskID, cred.ParentTaskID).
		WithCredential(cred.CredentialID).
		WithDetail("scopes", cred.GrantedScopes).
		WithDetail("expires_at", cred.ExpiresAt.Format(time.RFC3339)).
		Build()
	if cred.DelegatorSubject != "" {
		event.Details["delegator"] = cred.DelegatorSubject
	}
	if req.GrantID != "" {
		event.Details["grant_id"] = req.GrantID
	}
	if err := e.auditor.Append(ctx, event); err != nil {
		// Audit is durable before success. Roll the credential back so an
		// unaudited credential cannot circulate.
		e.rollback(ctx, cred)
		return nil, types.WrapError(types.ErrKindTransient, "audit issuance", err)
	}

	cred.Token = token
	return cred, nil
}

// checkParent validates parent lineage and scope narrowing for delegated
// issuance
func (e *Engine) checkParent(ctx context.Context, req *IssueRequest) (*types.Credential, error) {
	parent, err := e.store.Get(ctx, req.ParentCredentialID)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, types.NewError(types.ErrKindInvalidGrant, "parent credential not found")
	}
	if parent.IsRevoked {
		return nil, types.NewError(types.ErrKindInvalidGrant, "parent credential is revoked")
	}
	if parent.IsExpired() {
		return nil, types.NewError(types.ErrKindInvalidGrant, "parent credential has expired")
	}
	depth, err := e.lineageDepth(ctx, parent)
	if err != nil {
		return nil, err
	}
	if depth > e.config.MaxDelegationDepth {
		return nil, types.NewError(types.ErrKindInvalidDelegation,
			fmt.Sprintf("delegation depth exceeds maximum of %d", e.config.MaxDelegationDepth))
	}

	if missing := e.registry.Uncovered(req.Scopes, parent.GrantedScopes); len(missing) > 0 {
		return nil, types.NewError(types.ErrKindInvalidScope,
			fmt.Sprintf("requested scopes not covered by parent: %s", strings.Join(missing, ", ")))
	}
	if missing := uncoveredExact(req.Tools, parent.GrantedTools); len(missing) > 0 {
		return nil, types.NewError(types.ErrKindInvalidScope,
			fmt.Sprintf("requested tools not granted to parent: %s", strings.Join(missing, ", ")))
	}
	if len(parent.GrantedResources) > 0 {
		if missing := uncoveredExact(req.Resources, parent.GrantedResources); len(missing) > 0 {
			return nil, types.NewError(types.ErrKindInvalidScope,
				fmt.Sprintf("requested resources not granted to parent: %s", strings.Join(missing, ", ")))
		}
	}

	return parent, nil
}

// lineageDepth counts the credentials from the lineage root down to and
// including the given credential by walking stored parent links. The
// stored ancestry is authoritative; caller-supplied delegation chains are
// never trusted for depth accounting. The walk stops early once the depth
// bound is already exceeded.
func (e *Engine) lineageDepth(ctx context.Context, cred *types.Credential) (int, error) {
	depth := 1
	seen := map[string]bool{cred.CredentialID: true}
	current := cred
	for current.ParentCredentialID != "" {
		if seen[current.ParentCredentialID] {
			return 0, types.NewError(types.ErrKindInvalidDelegation,
				"credential lineage contains a cycle")
		}
		if depth > e.config.MaxDelegationDepth {
			return depth, nil
		}
		next, err := e.store.Get(ctx, current.ParentCredentialID)
		if err != nil {
			return 0, err
		}
		if next == nil {
			break
		}
		seen[next.CredentialID] = true
		depth++
		current = next
	}
	return depth, nil
}

// consultPolicy evaluates the policy set against the issuance context
func (e *Engine) consultPolicy(req *IssueRequest) error {
	if e.policies == nil || e.evaluator == nil {
		return nil
	}

	// Evaluate against a merged copy so the caller's context is never
	// mutated
	reqCtx := make(types.RequestContext, len(req.Context)+1)
	for k, v := range req.Context {
		reqCtx[k] = v
	}
	scopes := make([]interface{}, len(req.Scopes))
	for i, s := range req.Scopes {
		scopes[i] = s
	}
	reqCtx["request"] = map[string]interface{}{
		"subject_id": req.SubjectID,
		"scopes":     scopes,
		"delegated":  req.ParentCredentialID != "",
		"purpose":    req.Purpose,
	}

	decision := e.evaluator.Evaluate(reqCtx, e.policies.List())
	if !decision.Allowed {
		return types.NewError(types.ErrKindPolicyDenied, decision.Reason)
	}
	return nil
}

// Verify validates a bearer token against the store's lifecycle state.
// Invalid tokens yield an invalid result, not an error; errors are
// reserved for store failures.
func (e *Engine) Verify(ctx context.Context, req *VerifyRequest) (*types.ValidationResult, error) {
	claims, err := e.tokens.Parse(req.Token)
	if err != nil {
		if types.IsTransient(err) {
			return nil, err
		}
		return e.invalid(ctx, "", claims, err), nil
	}

	// Fast-path revocation check before touching the store
	if e.revCache != nil {
		revoked, cacheErr := e.revCache.IsRevoked(ctx, claims.ID)
		if cacheErr != nil {
			e.logger.Warn("Revocation cache lookup failed", zap.Error(cacheErr))
		} else if revoked {
			return e.invalid(ctx, claims.ID, claims,
				types.NewError(types.ErrKindTokenRevoked, "credential has been revoked")), nil
		}
	}

	cred, err := e.store.Get(ctx, claims.ID)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return e.invalid(ctx, claims.ID, claims,
			types.NewError(types.ErrKindInvalidGrant, "credential not found")), nil
	}
	if cred.IsRevoked {
		return e.invalid(ctx, cred.CredentialID, claims,
			types.NewError(types.ErrKindTokenRevoked, "credential has been revoked")), nil
	}
	if cred.IsExpired() {
		return e.invalid(ctx, cred.CredentialID, claims,
			types.NewError(types.ErrKindTokenExpired, "credential has expired")), nil
	}

	// Lineage hints must match exactly when present
	if req.TaskID != "" && req.TaskID != cred.TaskID {
		return e.invalid(ctx, cred.CredentialID, claims,
			types.NewError(types.ErrKindInvalidGrant, "task_id does not match credential")), nil
	}
	if req.ParentTaskID != "" && req.ParentTaskID != cred.ParentTaskID {
		return e.invalid(ctx, cred.CredentialID, claims,
			types.NewError(types.ErrKindInvalidGrant, "parent_task_id does not match credential")), nil
	}

	event := types.NewAuditEventBuilder(types.EventCredentialVerified, cred.SubjectID).
		WithTask(cred.TaskID, cred.ParentTaskID).
		WithCredential(cred.CredentialID).
		Build()
	if err := e.auditor.Append(ctx, event); err != nil {
		return nil, types.WrapError(types.ErrKindTransient, "audit verification", err)
	}

	return &types.ValidationResult{
		Valid:      true,
		Credential: cred.View(),
		Status:     cred.Status(),
	}, nil
}

// invalid audits a failed verification and builds the invalid result
func (e *Engine) invalid(ctx context.Context, credentialID string, claims *TokenClaims, cause error) *types.ValidationResult {
	kind := types.KindOf(cause)
	subjectID := "unknown"
	taskID, parentTaskID := "", ""
	if claims != nil {
		if claims.Subject != "" {
			subjectID = claims.Subject
		}
		taskID = claims.TaskID
		parentTaskID = claims.ParentTaskID
	}

	event := types.NewAuditEventBuilder(types.EventCredentialVerified, subjectID).
		WithTask(taskID, parentTaskID).
		WithCredential(credentialID).
		WithFailure(kind, cause.Error()).
		Build()
	if err := e.auditor.Append(ctx, event); err != nil {
		e.logger.Error("Failed to audit verification failure", zap.Error(err))
	}

	result := &types.ValidationResult{Valid: false, Reason: string(kind)}
	switch kind {
	case types.ErrKindTokenRevoked:
		result.Status = types.StatusRevoked
	case types.ErrKindTokenExpired:
		result.Status = types.StatusExpired
	}
	return result
}

// Introspect returns the metadata projection of a credential. The bearer
// token is never included.
func (e *Engine) Introspect(ctx context.Context, credentialID string) (*types.CredentialView, error) {
	cred, err := e.store.Get(ctx, credentialID)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, types.NewError(types.ErrKindInvalidRequest, "credential not found")
	}

	event := types.NewAuditEventBuilder(types.EventCredentialIntrospected, cred.SubjectID).
		WithTask(cred.TaskID, cred.ParentTaskID).
		WithCredential(cred.CredentialID).
		WithDetail("status", string(cred.Status())).
		Build()
	if err := e.auditor.Append(ctx, event); err != nil {
		return nil, types.WrapError(types.ErrKindTransient, "audit introspection", err)
	}

	return cred.View(), nil
}

// Revoke marks a credential revoked. Revoking an already revoked
// credential is an idempotent no-op. When RevocationCascade is enabled the
// entire subtree is revoked with reason parent_revoked.
func (e *Engine) Revoke(ctx context.Context, credentialID, reason string) error {
	cred, err := e.store.Get(ctx, credentialID)
	if err != nil {
		return err
	}
	if cred == nil {
		return types.NewError(types.ErrKindInvalidRequest, "credential not found")
	}
	if cred.IsRevoked {
		return nil
	}

	if err := e.revokeOne(ctx, cred, reason); err != nil {
		return err
	}

	if e.config.RevocationCascade {
		return e.cascade(ctx, cred.CredentialID)
	}
	return nil
}

// cascade revokes the active subtree under a credential breadth-first
func (e *Engine) cascade(ctx context.Context, rootID string) error {
	queue := []string{rootID}
	visited := map[string]bool{rootID: true}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		children, err := e.store.ListChildren(ctx, current)
		if err != nil {
			return err
		}
		for _, child := range children {
			if visited[child.CredentialID] {
				continue
			}
			visited[child.CredentialID] = true
			if !child.IsRevoked {
				if err := e.revokeOne(ctx, child, "parent_revoked"); err != nil {
					return err
				}
			}
			queue = append(queue, child.CredentialID)
		}
	}
	return nil
}

func (e *Engine) revokeOne(ctx context.Context, cred *types.Credential, reason string) error {
	now := time.Now().UTC()
	cred.IsRevoked = true
	cred.RevokedAt = &now
	cred.RevocationReason = reason

	if err := e.store.Update(ctx, cred); err != nil {
		return err
	}

	if e.revCache != nil {
		ttl := time.Until(cred.ExpiresAt)
		if ttl > 0 {
			if err := e.revCache.MarkRevoked(ctx, cred.CredentialID, ttl); err != nil {
				e.logger.Warn("Failed to cache revocation", zap.Error(err))
			}
		}
	}

	event := types.NewAuditEventBuilder(types.EventCredentialRevoked, cred.SubjectID).
		WithTask(cred.TaskID, cred.ParentTaskID).
		WithCredential(cred.CredentialID).
		WithDetail("reason", reason).
		Build()
	if err := e.auditor.Append(ctx, event); err != nil {
		return types.WrapError(types.ErrKindTransient, "audit revocation", err)
	}
	return nil
}

// denyIssue audits a failed issuance and passes the cause through
func (e *Engine) denyIssue(ctx context.Context, req *IssueRequest, cause error) error {
	subjectID := req.SubjectID
	if subjectID == "" {
		subjectID = "unknown"
	}

	event := types.NewAuditEventBuilder(types.EventCredentialIssued, subjectID).
		WithTask(req.TaskID, "").
		WithFailure(types.KindOf(cause), cause.Error()).
		WithDetail("scopes", req.Scopes).
		Build()
	if err := e.auditor.Append(ctx, event); err != nil {
		e.logger.Error("Failed to audit issuance denial", zap.Error(err))
	}
	return cause
}

// rollback revokes a credential whose issuance could not be audited
func (e *Engine) rollback(ctx context.Context, cred *types.Credential) {
	now := time.Now().UTC()
	cred.IsRevoked = true
	cred.RevokedAt = &now
	cred.RevocationReason = "issuance_audit_failed"
	if err := e.store.Update(ctx, cred); err != nil {
		e.logger.Error("Failed to roll back unaudited credential",
			zap.String("credential_id", cred.CredentialID), zap.Error(err))
	}
}

// uncoveredExact returns requested entries absent from granted (exact
// string match, no implication)
func uncoveredExact(requested, granted []string) []string {
	set := make(map[string]bool, len(granted))
	for _, g := range granted {
		set[g] = true
	}
	var missing []string
	for _, r := range requested {
		if !set[r] {
			missing = append(missing, r)
		}
	}
	return missing
}
