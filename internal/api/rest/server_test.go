package rest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/credential-engine/go-core/internal/audit"
	"github.com/credential-engine/go-core/internal/credential"
	"github.com/credential-engine/go-core/internal/delegation"
	"github.com/credential-engine/go-core/internal/metrics"
	"github.com/credential-engine/go-core/internal/policy"
	"github.com/credential-engine/go-core/internal/scope"
	"github.com/credential-engine/go-core/pkg/types"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestServer(t *testing.T) *Server {
	t.Helper()

	registry, err := scope.NewRegistry(scope.DefaultConfig(), &scope.Table{
		Implications: map[string][]string{
			"calendar:read": {"calendar:read:freebusy"},
		},
		Scopes: []string{"email:send"},
	})
	require.NoError(t, err)

	credStore := credential.NewMemoryStore()
	auditor, err := audit.NewIndexer(audit.DefaultConfig(), audit.NewMemoryEventStore(), credStore, nil, zap.NewNop())
	require.NoError(t, err)

	policyStore := policy.NewMemoryStore()
	evaluator, err := policy.NewEvaluator(policy.Config{DefaultAllow: true}, zap.NewNop())
	require.NoError(t, err)

	tokens, err := credential.NewTokenIssuer(testSecret, "test-issuer")
	require.NoError(t, err)
	clients := credential.NewClientRegistry()
	require.NoError(t, clients.Register("client", "secret"))

	engine, err := credential.NewEngine(credential.DefaultConfig(),
		credStore, registry, policyStore, evaluator,
		tokens, clients, auditor, nil, zap.NewNop())
	require.NoError(t, err)

	stepup := delegation.NewStepUpService(time.Minute, auditor)
	manager, err := delegation.NewManager(delegation.DefaultConfig(),
		delegation.NewMemoryGrantStore(), engine, registry, stepup, auditor, zap.NewNop())
	require.NoError(t, err)

	srv, err := New(DefaultConfig(), engine, manager, stepup, policyStore, evaluator,
		registry, auditor, metrics.New("credsvc_test"), zap.NewNop())
	require.NoError(t, err)
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func issueRoot(t *testing.T, srv *Server, subjectID string, scopes []string) *types.Credential {
	t.Helper()
	rec := doJSON(t, srv, "POST", "/v1/credentials", IssueCredentialRequest{
		ClientID:     "client",
		ClientSecret: "secret",
		SubjectID:    subjectID,
		Scopes:       scopes,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var cred types.Credential
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cred))
	return &cred
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
}

func TestIssueAndVerify(t *testing.T) {
	srv := newTestServer(t)

	cred := issueRoot(t, srv, "agent-main", []string{"calendar:read"})
	assert.NotEmpty(t, cred.Token)

	rec := doJSON(t, srv, "POST", "/v1/credentials/verify", VerifyCredentialRequest{
		Token: cred.Token,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result types.ValidationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Valid)
	require.NotNil(t, result.Credential)
	assert.Empty(t, result.Credential.DelegationChain)
}

func TestIssue_ErrorEnvelope(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, "POST", "/v1/credentials", IssueCredentialRequest{
		ClientID:     "client",
		ClientSecret: "secret",
		SubjectID:    "agent-main",
		Scopes:       []string{"unknown:scope"},
	})
	require.Equal(t, http.StatusForbidden, rec.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "invalid_scope", errResp.Error)
	assert.NotEmpty(t, errResp.ErrorDescription)
}

func TestIssue_BadClientMapsTo401(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, "POST", "/v1/credentials", IssueCredentialRequest{
		ClientID:     "client",
		ClientSecret: "nope",
		SubjectID:    "agent-main",
		Scopes:       []string{"email:send"},
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	assert.Equal(t, "invalid_grant", errResp.Error)
}

func TestIntrospectAndRevoke(t *testing.T) {
	srv := newTestServer(t)

	cred := issueRoot(t, srv, "agent-main", []string{"email:send"})

	rec := doJSON(t, srv, "GET", "/v1/credentials/"+cred.CredentialID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view types.CredentialView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, types.StatusActive, view.Status)

	rec = doJSON(t, srv, "POST", "/v1/credentials/"+cred.CredentialID+"/revoke",
		RevokeCredentialRequest{Reason: "done"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, "POST", "/v1/credentials/verify", VerifyCredentialRequest{Token: cred.Token})
	require.Equal(t, http.StatusOK, rec.Code)
	var result types.ValidationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Valid)
	assert.Equal(t, "token_revoked", result.Reason)
}

func TestDelegationFlow(t *testing.T) {
	srv := newTestServer(t)

	parent := issueRoot(t, srv, "principal-1", []string{"calendar:read"})

	rec := doJSON(t, srv, "POST", "/v1/grants", CreateGrantRequest{
		PrincipalID: "principal-1",
		AgentID:     "agent-scheduler",
		Scopes:      []string{"calendar:read"},
		TTLSeconds:  3600,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, srv, "POST", "/v1/delegations", DelegationRequest{
		PrincipalID:        "principal-1",
		AgentID:            "agent-scheduler",
		ParentCredentialID: parent.CredentialID,
		Scopes:             []string{"calendar:read:freebusy"},
		Purpose:            "find meeting slots",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var child types.Credential
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &child))
	assert.Equal(t, "agent-scheduler", child.SubjectID)
	assert.Equal(t, parent.CredentialID, child.ParentCredentialID)

	// Scope outside the grant is refused with 403
	rec = doJSON(t, srv, "POST", "/v1/delegations", DelegationRequest{
		PrincipalID:        "principal-1",
		AgentID:            "agent-scheduler",
		ParentCredentialID: parent.CredentialID,
		Scopes:             []string{"email:send"},
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestStepUpEndpoints(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, "POST", "/v1/stepup/challenge", StepUpChallengeRequest{
		PrincipalID: "principal-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var challenge StepUpChallengeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &challenge))
	require.NotEmpty(t, challenge.ChallengeID)
	require.NotEmpty(t, challenge.Code)

	rec = doJSON(t, srv, "POST", "/v1/stepup/verify", StepUpVerifyRequest{
		ChallengeID: challenge.ChallengeID,
		Code:        challenge.Code,
	})
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPolicyCRUD(t *testing.T) {
	srv := newTestServer(t)

	p := types.Policy{
		ID:       "deny-late-night",
		Effect:   types.EffectDeny,
		Priority: 50,
		Condition: &types.Condition{
			Kind:      types.ConditionLeaf,
			Attribute: "request.hour",
			Operator:  types.OpGte,
			Value:     22,
		},
		IsActive: true,
	}

	rec := doJSON(t, srv, "POST", "/v1/policies", p)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = doJSON(t, srv, "GET", "/v1/policies/deny-late-night", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, "GET", "/v1/policies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "deny-late-night")

	rec = doJSON(t, srv, "DELETE", "/v1/policies/deny-late-night", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv, "GET", "/v1/policies/deny-late-night", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPolicyCheckEndpoint(t *testing.T) {
	srv := newTestServer(t)

	p := types.Policy{
		ID:       "deny-mailer",
		Effect:   types.EffectDeny,
		Priority: 100,
		Condition: &types.Condition{
			Kind:      types.ConditionLeaf,
			Attribute: "request.subject_id",
			Operator:  types.OpEq,
			Value:     "agent-mailer",
		},
		IsActive: true,
	}
	rec := doJSON(t, srv, "POST", "/v1/policies", p)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// Dry-run matching the deny policy
	rec = doJSON(t, srv, "POST", "/v1/policies/check", PolicyCheckRequest{
		Context: map[string]interface{}{
			"request": map[string]interface{}{"subject_id": "agent-mailer"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var decision types.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	assert.False(t, decision.Allowed)
	assert.Equal(t, "deny-mailer", decision.MatchedPolicyID)

	// A non-matching context falls through to the default
	rec = doJSON(t, srv, "POST", "/v1/policies/check", PolicyCheckRequest{
		Context: map[string]interface{}{
			"request": map[string]interface{}{"subject_id": "agent-main"},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	decision = types.Decision{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.MatchedPolicyID)
}

func TestAuditEndpoints(t *testing.T) {
	srv := newTestServer(t)

	parent := issueRoot(t, srv, "principal-1", []string{"calendar:read"})

	rec := doJSON(t, srv, "POST", "/v1/grants", CreateGrantRequest{
		PrincipalID: "principal-1",
		AgentID:     "agent-scheduler",
		Scopes:      []string{"calendar:read"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, srv, "POST", "/v1/delegations", DelegationRequest{
		PrincipalID:        "principal-1",
		AgentID:            "agent-scheduler",
		ParentCredentialID: parent.CredentialID,
		Scopes:             []string{"calendar:read"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var child types.Credential
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &child))

	// Chain reconstruction from the child's task
	rec = doJSON(t, srv, "GET", "/v1/audit/chain/"+child.TaskID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var chain types.ChainResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chain))
	assert.Equal(t, []string{parent.TaskID, child.TaskID}, chain.TaskChain)
	assert.Equal(t, parent.TaskID, chain.RootTaskID)

	// Delegation activity
	rec = doJSON(t, srv, "GET", "/v1/audit/delegations/principal-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var activity types.DelegationActivity
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &activity))
	assert.Equal(t, "principal-1", activity.PrincipalID)
	require.Len(t, activity.AsPrincipal, 1)
	assert.Equal(t, child.CredentialID, activity.AsPrincipal[0].CredentialID)

	// Chain integrity
	rec = doJSON(t, srv, "GET", "/v1/audit/verify", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"valid":true`)
}

func TestUnknownTaskChainIs400(t *testing.T) {
	srv := newTestServer(t)

	rec := doJSON(t, srv, "GET", "/v1/audit/chain/no-such-task", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	issueRoot(t, srv, "agent-main", []string{"email:send"})

	rec := doJSON(t, srv, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), fmt.Sprintf("%s_credentials_issued_total", "credsvc_test"))
}
