package policy

import (
	"reflect"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/credential-engine/go-core/pkg/types"
)

// Config for the policy evaluator
type Config struct {
	// DefaultAllow flips the no-match default from deny to allow.
	// Fail-closed deny is the default.
	DefaultAllow bool
}

// Evaluator decides allow/deny for a request context against a prioritized
// policy set. Evaluation is pure: no state is read beyond the arguments and
// no side effects occur, so dry-run calls with speculative context are
// always safe.
type Evaluator struct {
	config Config
	cel    *CELEngine
	logger *zap.Logger
}

// NewEvaluator creates a policy evaluator
func NewEvaluator(config Config, logger *zap.Logger) (*Evaluator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}

	return &Evaluator{
		config: config,
		cel:    celEngine,
		logger: logger,
	}, nil
}

// Evaluate returns the decision of the first matching policy in priority
// order. Inactive policies and policies whose applicable_scopes do not
// intersect the request's scopes are filtered out first. Ties on priority
// break on CreatedAt ascending, then ID, for determinism.
func (e *Evaluator) Evaluate(ctx types.RequestContext, policies []*types.Policy) types.Decision {
	scopes := ctx.Scopes()

	applicable := make([]*types.Policy, 0, len(policies))
	for _, p := range policies {
		if !p.IsActive {
			continue
		}
		if !p.AppliesToScopes(scopes) {
			continue
		}
		applicable = append(applicable, p)
	}

	sort.SliceStable(applicable, func(i, j int) bool {
		if applicable[i].Priority != applicable[j].Priority {
			return applicable[i].Priority > applicable[j].Priority
		}
		if !applicable[i].CreatedAt.Equal(applicable[j].CreatedAt) {
			return applicable[i].CreatedAt.Before(applicable[j].CreatedAt)
		}
		return applicable[i].ID < applicable[j].ID
	})

	evaluated := 0
	for _, p := range applicable {
		evaluated++
		if !e.evalCondition(p.Condition, ctx) {
			continue
		}

		allowed := p.Effect == types.EffectAllow
		reason := "matched policy " + p.ID
		if !allowed {
			reason = "denied by policy " + p.ID
		}
		return types.Decision{
			Allowed:           allowed,
			Reason:            reason,
			MatchedPolicyID:   p.ID,
			PoliciesEvaluated: evaluated,
		}
	}

	if e.config.DefaultAllow {
		return types.Decision{
			Allowed:           true,
			Reason:            "no matching policy; default allow",
			PoliciesEvaluated: evaluated,
		}
	}
	return types.Decision{
		Allowed:           false,
		Reason:            "no matching policy; default deny",
		PoliciesEvaluated: evaluated,
	}
}

// evalCondition evaluates a condition tree by structural recursion with
// short-circuit semantics. A nil condition matches unconditionally.
func (e *Evaluator) evalCondition(c *types.Condition, ctx types.RequestContext) bool {
	if c == nil {
		return true
	}

	switch c.Kind {
	case types.ConditionLeaf:
		return evalLeaf(c, ctx)
	case types.ConditionAnd:
		for _, child := range c.Children {
			if !e.evalCondition(child, ctx) {
				return false
			}
		}
		return true
	case types.ConditionOr:
		for _, child := range c.Children {
			if e.evalCondition(child, ctx) {
				return true
			}
		}
		return false
	case types.ConditionCEL:
		return e.cel.EvaluateBool(c.Expression, ctx)
	default:
		return false
	}
}

// evalLeaf compares a resolved attribute against the leaf value.
// Unresolved paths and type mismatches evaluate false, never error.
func evalLeaf(c *types.Condition, ctx types.RequestContext) bool {
	actual, ok := ctx.Resolve(c.Attribute)
	if !ok {
		return false
	}

	switch c.Operator {
	case types.OpEq:
		return valuesEqual(actual, c.Value)
	case types.OpNeq:
		return !valuesEqual(actual, c.Value)
	case types.OpGt, types.OpGte, types.OpLt, types.OpLte:
		a, aok := toFloat(actual)
		b, bok := toFloat(c.Value)
		if !aok || !bok {
			return false
		}
		switch c.Operator {
		case types.OpGt:
			return a > b
		case types.OpGte:
			return a >= b
		case types.OpLt:
			return a < b
		default:
			return a <= b
		}
	case types.OpIn:
		return valueIn(actual, c.Value)
	case types.OpStartsWith:
		as, aok := actual.(string)
		bs, bok := c.Value.(string)
		return aok && bok && strings.HasPrefix(as, bs)
	default:
		return false
	}
}

// valuesEqual compares with numeric normalization so that YAML ints and
// JSON floats compare equal
func valuesEqual(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// valueIn checks membership of actual in a list value
func valueIn(actual, list interface{}) bool {
	switch items := list.(type) {
	case []interface{}:
		for _, item := range items {
			if valuesEqual(actual, item) {
				return true
			}
		}
	case []string:
		for _, item := range items {
			if valuesEqual(actual, item) {
				return true
			}
		}
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case uint:
		return float64(n), true
	}
	return 0, false
}
