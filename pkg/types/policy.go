package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Effect represents the authorization decision of a policy
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// ConditionKind tags the variant of a condition node
type ConditionKind string

const (
	ConditionLeaf ConditionKind = "leaf"
	ConditionAnd  ConditionKind = "and"
	ConditionOr   ConditionKind = "or"
	ConditionCEL  ConditionKind = "cel"
)

// Operator is a comparison operator for leaf conditions
type Operator string

const (
	OpEq         Operator = "eq"
	OpNeq        Operator = "neq"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpIn         Operator = "in"
	OpStartsWith Operator = "starts_with"
)

// Condition is a tagged variant: a leaf compares an attribute path against a
// value, composites combine children with and/or, and cel nodes evaluate a
// CEL expression against the request context.
type Condition struct {
	Kind ConditionKind `json:"kind" yaml:"kind"`

	// Leaf fields
	Attribute string      `json:"attribute,omitempty" yaml:"attribute,omitempty"`
	Operator  Operator    `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value     interface{} `json:"value,omitempty" yaml:"value,omitempty"`

	// Composite fields
	Children []*Condition `json:"children,omitempty" yaml:"children,omitempty"`

	// CEL fields
	Expression string `json:"expression,omitempty" yaml:"expression,omitempty"`
}

// Validate checks structural well-formedness of the condition tree
func (c *Condition) Validate() error {
	if c == nil {
		return nil
	}
	switch c.Kind {
	case ConditionLeaf:
		if c.Attribute == "" {
			return errors.New("leaf condition requires attribute")
		}
		switch c.Operator {
		case OpEq, OpNeq, OpGt, OpGte, OpLt, OpLte, OpIn, OpStartsWith:
		default:
			return fmt.Errorf("unsupported operator: %s", c.Operator)
		}
	case ConditionAnd, ConditionOr:
		if len(c.Children) == 0 {
			return fmt.Errorf("%s condition requires children", c.Kind)
		}
		for i, child := range c.Children {
			if err := child.Validate(); err != nil {
				return fmt.Errorf("child[%d]: %w", i, err)
			}
		}
	case ConditionCEL:
		if c.Expression == "" {
			return errors.New("cel condition requires expression")
		}
	default:
		return fmt.Errorf("unknown condition kind: %s", c.Kind)
	}
	return nil
}

// Policy is a declarative allow/deny rule. Policies are evaluated in
// priority order (higher first); ties break on CreatedAt then ID.
type Policy struct {
	ID               string     `json:"id" yaml:"id"`
	Description      string     `json:"description,omitempty" yaml:"description,omitempty"`
	Effect           Effect     `json:"effect" yaml:"effect"`
	Priority         int        `json:"priority" yaml:"priority"`
	ApplicableScopes []string   `json:"applicable_scopes,omitempty" yaml:"applicable_scopes,omitempty"`
	Condition        *Condition `json:"condition,omitempty" yaml:"condition,omitempty"`
	IsActive         bool       `json:"is_active" yaml:"is_active"`
	CreatedAt        time.Time  `json:"created_at" yaml:"created_at"`
}

// Validate checks the policy is well-formed
func (p *Policy) Validate() error {
	if p.ID == "" {
		return errors.New("policy id is required")
	}
	if p.Effect != EffectAllow && p.Effect != EffectDeny {
		return fmt.Errorf("policy %s: effect must be allow or deny", p.ID)
	}
	if err := p.Condition.Validate(); err != nil {
		return fmt.Errorf("policy %s: %w", p.ID, err)
	}
	return nil
}

// AppliesToScopes reports whether the policy is in play for a request
// carrying the given scopes. Policies without applicable_scopes apply
// universally.
func (p *Policy) AppliesToScopes(scopes []string) bool {
	if len(p.ApplicableScopes) == 0 {
		return true
	}
	for _, ps := range p.ApplicableScopes {
		for _, rs := range scopes {
			if ps == rs {
				return true
			}
		}
	}
	return false
}

// Decision is the outcome of a policy evaluation
type Decision struct {
	Allowed           bool   `json:"allowed"`
	Reason            string `json:"reason"`
	MatchedPolicyID   string `json:"matched_policy_id,omitempty"`
	PoliciesEvaluated int    `json:"policies_evaluated"`
}

// RequestContext is the attribute bag a policy evaluates against. Nested
// objects are nested maps; attribute paths use dot notation.
type RequestContext map[string]interface{}

// Resolve walks a dot-notation path (e.g. "agent.role") through nested
// maps. The second return is false when any segment is missing or a
// non-map is traversed.
func (c RequestContext) Resolve(path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}
	segments := strings.Split(path, ".")
	var current interface{} = map[string]interface{}(c)
	for _, seg := range segments {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// Scopes extracts the request scope list from the context, if present
func (c RequestContext) Scopes() []string {
	v, ok := c.Resolve("request.scopes")
	if !ok {
		return nil
	}
	switch scopes := v.(type) {
	case []string:
		return scopes
	case []interface{}:
		out := make([]string, 0, len(scopes))
		for _, s := range scopes {
			if str, ok := s.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
