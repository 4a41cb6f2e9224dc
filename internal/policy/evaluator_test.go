package policy_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credential-engine/go-core/internal/policy"
	"github.com/credential-engine/go-core/pkg/types"
)

func newEvaluator(t *testing.T) *policy.Evaluator {
	t.Helper()
	e, err := policy.NewEvaluator(policy.Config{}, nil)
	require.NoError(t, err)
	return e
}

func leaf(attr string, op types.Operator, value interface{}) *types.Condition {
	return &types.Condition{
		Kind:      types.ConditionLeaf,
		Attribute: attr,
		Operator:  op,
		Value:     value,
	}
}

func testContext() types.RequestContext {
	return types.RequestContext{
		"agent": map[string]interface{}{
			"id":   "agent-1",
			"role": "scheduler",
		},
		"resource": map[string]interface{}{
			"owner_id": "user-7",
			"kind":     "calendar",
		},
		"environment": map[string]interface{}{
			"time": map[string]interface{}{
				"hour": 14,
			},
		},
		"request": map[string]interface{}{
			"scopes": []string{"calendar:read"},
		},
	}
}

func TestEvaluator_Operators(t *testing.T) {
	e := newEvaluator(t)
	ctx := testContext()

	tests := []struct {
		name string
		cond *types.Condition
		want bool
	}{
		{name: "eq match", cond: leaf("agent.role", types.OpEq, "scheduler"), want: true},
		{name: "eq mismatch", cond: leaf("agent.role", types.OpEq, "admin"), want: false},
		{name: "neq", cond: leaf("agent.role", types.OpNeq, "admin"), want: true},
		{name: "gt", cond: leaf("environment.time.hour", types.OpGt, 9), want: true},
		{name: "gte boundary", cond: leaf("environment.time.hour", types.OpGte, 14), want: true},
		{name: "lt fails", cond: leaf("environment.time.hour", types.OpLt, 14), want: false},
		{name: "lte boundary", cond: leaf("environment.time.hour", types.OpLte, 14), want: true},
		{name: "in", cond: leaf("agent.role", types.OpIn, []interface{}{"scheduler", "planner"}), want: true},
		{name: "in miss", cond: leaf("agent.role", types.OpIn, []interface{}{"admin"}), want: false},
		{name: "starts_with", cond: leaf("agent.id", types.OpStartsWith, "agent-"), want: true},
		{name: "numeric eq across types", cond: leaf("environment.time.hour", types.OpEq, 14.0), want: true},
		{name: "unresolved path is false", cond: leaf("agent.missing.deep", types.OpEq, "x"), want: false},
		{name: "type mismatch is false", cond: leaf("agent.role", types.OpGt, 5), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &types.Policy{
				ID:        "p1",
				Effect:    types.EffectAllow,
				Priority:  1,
				Condition: tt.cond,
				IsActive:  true,
			}
			decision := e.Evaluate(ctx, []*types.Policy{p})
			assert.Equal(t, tt.want, decision.Allowed)
		})
	}
}

func TestEvaluator_CompositeShortCircuit(t *testing.T) {
	e := newEvaluator(t)
	ctx := testContext()

	cond := &types.Condition{
		Kind: types.ConditionOr,
		Children: []*types.Condition{
			leaf("agent.role", types.OpEq, "admin"),
			{
				Kind: types.ConditionAnd,
				Children: []*types.Condition{
					leaf("agent.role", types.OpEq, "scheduler"),
					leaf("environment.time.hour", types.OpGte, 9),
				},
			},
		},
	}

	p := &types.Policy{ID: "composite", Effect: types.EffectAllow, Condition: cond, IsActive: true}
	decision := e.Evaluate(ctx, []*types.Policy{p})
	assert.True(t, decision.Allowed)
	assert.Equal(t, "composite", decision.MatchedPolicyID)
}

func TestEvaluator_CELCondition(t *testing.T) {
	e := newEvaluator(t)
	ctx := testContext()

	p := &types.Policy{
		ID:     "cel-owner",
		Effect: types.EffectAllow,
		Condition: &types.Condition{
			Kind:       types.ConditionCEL,
			Expression: `context.resource.owner_id == "user-7" && context.agent.role == "scheduler"`,
		},
		IsActive: true,
	}

	decision := e.Evaluate(ctx, []*types.Policy{p})
	assert.True(t, decision.Allowed)

	// A broken expression must evaluate false, not error
	broken := &types.Policy{
		ID:     "cel-broken",
		Effect: types.EffectAllow,
		Condition: &types.Condition{
			Kind:       types.ConditionCEL,
			Expression: `context.nonexistent.deep.path == 1`,
		},
		IsActive: true,
	}
	decision = e.Evaluate(ctx, []*types.Policy{broken})
	assert.False(t, decision.Allowed)
}

func TestEvaluator_PriorityOrdering(t *testing.T) {
	e := newEvaluator(t)
	ctx := testContext()

	allow := &types.Policy{
		ID:       "allow-low",
		Effect:   types.EffectAllow,
		Priority: 50,
		IsActive: true,
	}
	deny := &types.Policy{
		ID:       "deny-high",
		Effect:   types.EffectDeny,
		Priority: 100,
		IsActive: true,
	}

	// Priority 100 wins regardless of list order
	d1 := e.Evaluate(ctx, []*types.Policy{allow, deny})
	d2 := e.Evaluate(ctx, []*types.Policy{deny, allow})
	assert.False(t, d1.Allowed)
	assert.False(t, d2.Allowed)
	assert.Equal(t, "deny-high", d1.MatchedPolicyID)
	assert.Equal(t, d1.MatchedPolicyID, d2.MatchedPolicyID)
}

func TestEvaluator_PriorityTieBreaksOnCreation(t *testing.T) {
	e := newEvaluator(t)
	ctx := testContext()

	earlier := &types.Policy{
		ID:        "earlier",
		Effect:    types.EffectDeny,
		Priority:  10,
		IsActive:  true,
		CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	later := &types.Policy{
		ID:        "later",
		Effect:    types.EffectAllow,
		Priority:  10,
		IsActive:  true,
		CreatedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}

	decision := e.Evaluate(ctx, []*types.Policy{later, earlier})
	assert.Equal(t, "earlier", decision.MatchedPolicyID)
	assert.False(t, decision.Allowed)
}

func TestEvaluator_Determinism(t *testing.T) {
	e := newEvaluator(t)
	ctx := testContext()

	policies := []*types.Policy{
		{ID: "a", Effect: types.EffectAllow, Priority: 5, IsActive: true,
			Condition: leaf("agent.role", types.OpEq, "scheduler")},
		{ID: "b", Effect: types.EffectDeny, Priority: 5, IsActive: true},
	}

	first := e.Evaluate(ctx, policies)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, e.Evaluate(ctx, policies))
	}
}

func TestEvaluator_ScopeFiltering(t *testing.T) {
	e := newEvaluator(t)
	ctx := testContext() // request.scopes = ["calendar:read"]

	scoped := &types.Policy{
		ID:               "email-only",
		Effect:           types.EffectAllow,
		Priority:         100,
		ApplicableScopes: []string{"email:send"},
		IsActive:         true,
	}
	universal := &types.Policy{
		ID:       "universal-deny",
		Effect:   types.EffectDeny,
		Priority: 1,
		IsActive: true,
	}

	decision := e.Evaluate(ctx, []*types.Policy{scoped, universal})
	assert.False(t, decision.Allowed)
	assert.Equal(t, "universal-deny", decision.MatchedPolicyID)
}

func TestEvaluator_DefaultDeny(t *testing.T) {
	e := newEvaluator(t)

	decision := e.Evaluate(testContext(), nil)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "default deny")
}

func TestEvaluator_DefaultAllowConfigured(t *testing.T) {
	e, err := policy.NewEvaluator(policy.Config{DefaultAllow: true}, nil)
	require.NoError(t, err)

	decision := e.Evaluate(testContext(), nil)
	assert.True(t, decision.Allowed)
}

func TestEvaluator_InactivePoliciesSkipped(t *testing.T) {
	e := newEvaluator(t)

	inactive := &types.Policy{ID: "off", Effect: types.EffectAllow, Priority: 100, IsActive: false}
	decision := e.Evaluate(testContext(), []*types.Policy{inactive})
	assert.False(t, decision.Allowed)
	assert.Zero(t, decision.PoliciesEvaluated)
}
