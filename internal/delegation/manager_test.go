package delegation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/credential-engine/go-core/internal/audit"
	"github.com/credential-engine/go-core/internal/credential"
	"github.com/credential-engine/go-core/internal/policy"
	"github.com/credential-engine/go-core/internal/scope"
	"github.com/credential-engine/go-core/pkg/types"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type managerFixture struct {
	manager *Manager
	engine  *credential.Engine
	grants  *MemoryGrantStore
	stepup  *StepUpService
	events  *audit.MemoryEventStore
	parent  *types.Credential
}

func newManagerFixture(t *testing.T, cfg Config) *managerFixture {
	t.Helper()
	ctx := context.Background()

	registry, err := scope.NewRegistry(scope.DefaultConfig(), &scope.Table{
		Implications: map[string][]string{
			"email:read": {"email:read:headers"},
		},
		Scopes: []string{"email:send", "calendar:read"},
	})
	require.NoError(t, err)

	events := audit.NewMemoryEventStore()
	auditor, err := audit.NewIndexer(audit.DefaultConfig(), events, nil, nil, zap.NewNop())
	require.NoError(t, err)

	evaluator, err := policy.NewEvaluator(policy.Config{DefaultAllow: true}, zap.NewNop())
	require.NoError(t, err)
	tokens, err := credential.NewTokenIssuer(testSecret, "test-issuer")
	require.NoError(t, err)
	clients := credential.NewClientRegistry()
	require.NoError(t, clients.Register("client", "secret"))

	engine, err := credential.NewEngine(credential.DefaultConfig(),
		credential.NewMemoryStore(), registry, policy.NewMemoryStore(), evaluator,
		tokens, clients, auditor, nil, zap.NewNop())
	require.NoError(t, err)

	grants := NewMemoryGrantStore()
	stepup := NewStepUpService(time.Minute, auditor)

	manager, err := NewManager(cfg, grants, engine, registry, stepup, auditor, zap.NewNop())
	require.NoError(t, err)

	parent, err := engine.Issue(ctx, &credential.IssueRequest{
		ClientID:     "client",
		ClientSecret: "secret",
		SubjectID:    "principal-1",
		Scopes:       []string{"email:read", "email:send", "calendar:read"},
		TTL:          time.Hour,
	})
	require.NoError(t, err)

	return &managerFixture{
		manager: manager,
		engine:  engine,
		grants:  grants,
		stepup:  stepup,
		events:  events,
		parent:  parent,
	}
}

func TestRequestDelegation_GrantBacked(t *testing.T) {
	f := newManagerFixture(t, DefaultConfig())
	ctx := context.Background()

	grant, err := f.manager.CreateGrant(ctx, "principal-1", "agent-reader",
		[]string{"email:read"}, nil, time.Hour)
	require.NoError(t, err)
	assert.True(t, grant.IsUsable())

	// email:read covers the implied email:read:headers
	cred, err := f.manager.RequestDelegation(ctx, &Request{
		PrincipalID:        "principal-1",
		AgentID:            "agent-reader",
		ParentCredentialID: f.parent.CredentialID,
		Scopes:             []string{"email:read:headers"},
		Purpose:            "summarize inbox",
	})
	require.NoError(t, err)
	assert.Equal(t, "agent-reader", cred.SubjectID)
	assert.Equal(t, "principal-1", cred.DelegatorSubject)
	require.NotEmpty(t, cred.DelegationChain)
	lastHop := cred.DelegationChain[len(cred.DelegationChain)-1]
	assert.Equal(t, "principal-1", lastHop.PrincipalID)
	assert.Equal(t, "agent-reader", lastHop.AgentID)

	// email:send is outside the grant even though the parent holds it
	_, err = f.manager.RequestDelegation(ctx, &Request{
		PrincipalID:        "principal-1",
		AgentID:            "agent-reader",
		ParentCredentialID: f.parent.CredentialID,
		Scopes:             []string{"email:send"},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrKindInvalidDelegation, types.KindOf(err))
}

func TestRequestDelegation_RootWithoutParent(t *testing.T) {
	f := newManagerFixture(t, DefaultConfig())
	ctx := context.Background()

	_, err := f.manager.CreateGrant(ctx, "human-1", "agent-reader",
		[]string{"email:read"}, nil, time.Hour)
	require.NoError(t, err)

	// A grant-backed delegation with no prior credential starts a fresh
	// lineage under the grant's authority
	cred, err := f.manager.RequestDelegation(ctx, &Request{
		PrincipalID: "human-1",
		AgentID:     "agent-reader",
		Scopes:      []string{"email:read"},
		Purpose:     "triage inbox",
	})
	require.NoError(t, err)

	assert.Empty(t, cred.ParentCredentialID)
	assert.Equal(t, "agent-reader", cred.SubjectID)
	assert.Equal(t, "human-1", cred.DelegatorSubject)
	require.Len(t, cred.DelegationChain, 1)
	assert.Equal(t, "human-1", cred.DelegationChain[0].PrincipalID)
	assert.Equal(t, "agent-reader", cred.DelegationChain[0].AgentID)

	// Scopes outside the grant are still refused
	_, err = f.manager.RequestDelegation(ctx, &Request{
		PrincipalID: "human-1",
		AgentID:     "agent-reader",
		Scopes:      []string{"email:send"},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrKindInvalidDelegation, types.KindOf(err))
}

func TestRequestDelegation_NoGrant(t *testing.T) {
	f := newManagerFixture(t, DefaultConfig())

	_, err := f.manager.RequestDelegation(context.Background(), &Request{
		PrincipalID:        "principal-1",
		AgentID:            "agent-unknown",
		ParentCredentialID: f.parent.CredentialID,
		Scopes:             []string{"email:read"},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrKindInvalidDelegation, types.KindOf(err))
}

func TestRequestDelegation_DeactivatedGrant(t *testing.T) {
	f := newManagerFixture(t, DefaultConfig())
	ctx := context.Background()

	grant, err := f.manager.CreateGrant(ctx, "principal-1", "agent-reader",
		[]string{"email:read"}, nil, time.Hour)
	require.NoError(t, err)
	require.NoError(t, f.manager.RevokeGrant(ctx, grant.GrantID))

	_, err = f.manager.RequestDelegation(ctx, &Request{
		PrincipalID:        "principal-1",
		AgentID:            "agent-reader",
		ParentCredentialID: f.parent.CredentialID,
		Scopes:             []string{"email:read"},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrKindInvalidDelegation, types.KindOf(err))
}

func TestRequestDelegation_TimeWindow(t *testing.T) {
	f := newManagerFixture(t, DefaultConfig())
	ctx := context.Background()

	hour := time.Now().Hour()
	closed := &types.DelegationConstraints{
		TimeWindow: &types.TimeWindow{StartHour: (hour + 2) % 24, EndHour: (hour + 3) % 24},
	}
	_, err := f.manager.CreateGrant(ctx, "principal-1", "agent-reader",
		[]string{"email:read"}, closed, time.Hour)
	require.NoError(t, err)

	_, err = f.manager.RequestDelegation(ctx, &Request{
		PrincipalID:        "principal-1",
		AgentID:            "agent-reader",
		ParentCredentialID: f.parent.CredentialID,
		Scopes:             []string{"email:read"},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrKindInvalidDelegation, types.KindOf(err))
}

func TestRequestDelegation_ResourceAllowlist(t *testing.T) {
	f := newManagerFixture(t, DefaultConfig())
	ctx := context.Background()

	constraints := &types.DelegationConstraints{
		AllowedResources: []string{"inbox/work"},
	}
	_, err := f.manager.CreateGrant(ctx, "principal-1", "agent-reader",
		[]string{"email:read"}, constraints, time.Hour)
	require.NoError(t, err)

	_, err = f.manager.RequestDelegation(ctx, &Request{
		PrincipalID:        "principal-1",
		AgentID:            "agent-reader",
		ParentCredentialID: f.parent.CredentialID,
		Scopes:             []string{"email:read"},
		Resource:           "inbox/personal",
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrKindInvalidDelegation, types.KindOf(err))

	cred, err := f.manager.RequestDelegation(ctx, &Request{
		PrincipalID:        "principal-1",
		AgentID:            "agent-reader",
		ParentCredentialID: f.parent.CredentialID,
		Scopes:             []string{"email:read"},
		Resource:           "inbox/work",
	})
	require.NoError(t, err)
	assert.NotNil(t, cred.DelegationConstraints)
}

func TestRequestDelegation_StepUp(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SensitiveScopes = []string{"email:send"}
	f := newManagerFixture(t, cfg)
	ctx := context.Background()

	_, err := f.manager.CreateGrant(ctx, "principal-1", "agent-mailer",
		[]string{"email:send"}, nil, time.Hour)
	require.NoError(t, err)

	// Without step-up the sensitive delegation is refused
	_, err = f.manager.RequestDelegation(ctx, &Request{
		PrincipalID:        "principal-1",
		AgentID:            "agent-mailer",
		ParentCredentialID: f.parent.CredentialID,
		Scopes:             []string{"email:send"},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrKindInvalidDelegation, types.KindOf(err))

	challengeID, code, err := f.stepup.Challenge(ctx, "principal-1")
	require.NoError(t, err)
	require.NoError(t, f.stepup.VerifyCode(ctx, challengeID, code))

	cred, err := f.manager.RequestDelegation(ctx, &Request{
		PrincipalID:        "principal-1",
		AgentID:            "agent-mailer",
		ParentCredentialID: f.parent.CredentialID,
		Scopes:             []string{"email:send"},
		StepUpChallengeID:  challengeID,
	})
	require.NoError(t, err)
	assert.Equal(t, "agent-mailer", cred.SubjectID)

	// The challenge is one-time
	_, err = f.manager.RequestDelegation(ctx, &Request{
		PrincipalID:        "principal-1",
		AgentID:            "agent-mailer",
		ParentCredentialID: f.parent.CredentialID,
		Scopes:             []string{"email:send"},
		StepUpChallengeID:  challengeID,
	})
	require.Error(t, err)
}

func TestStepUp_WrongCodeBurnsChallenge(t *testing.T) {
	f := newManagerFixture(t, DefaultConfig())
	ctx := context.Background()

	challengeID, _, err := f.stepup.Challenge(ctx, "principal-1")
	require.NoError(t, err)

	err = f.stepup.VerifyCode(ctx, challengeID, "wrong-code")
	require.Error(t, err)

	// The same challenge cannot be retried
	err = f.stepup.VerifyCode(ctx, challengeID, "wrong-code")
	require.Error(t, err)
	assert.False(t, f.stepup.ConsumeVerified("principal-1", challengeID))
}

func TestRequestDelegation_DenialIsAudited(t *testing.T) {
	f := newManagerFixture(t, DefaultConfig())
	ctx := context.Background()

	_, err := f.manager.RequestDelegation(ctx, &Request{
		PrincipalID:        "principal-1",
		AgentID:            "agent-unknown",
		ParentCredentialID: f.parent.CredentialID,
		Scopes:             []string{"email:read"},
	})
	require.Error(t, err)

	events, err := f.events.ListAll(ctx)
	require.NoError(t, err)

	found := false
	for _, e := range events {
		if e.EventType == types.EventDelegationDenied {
			found = true
			assert.Equal(t, types.AuditFailure, e.Status)
		}
	}
	assert.True(t, found, "denial must appear in the audit log")
}

func TestCreateGrant_UnknownScope(t *testing.T) {
	f := newManagerFixture(t, DefaultConfig())

	_, err := f.manager.CreateGrant(context.Background(), "principal-1", "agent-x",
		[]string{"nuclear:launch"}, nil, time.Hour)
	require.Error(t, err)
	assert.Equal(t, types.ErrKindInvalidScope, types.KindOf(err))
}
