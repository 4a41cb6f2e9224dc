package delegation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/credential-engine/go-core/pkg/types"
)

// PostgresGrantStore implements GrantStore using PostgreSQL
type PostgresGrantStore struct {
	db *sql.DB
}

// NewPostgresGrantStore creates a new PostgreSQL grant store
func NewPostgresGrantStore(db *sql.DB) *PostgresGrantStore {
	return &PostgresGrantStore{db: db}
}

const grantColumns = `
	grant_id, principal_id, agent_id, authorized_scopes, constraints,
	created_at, expires_at, is_active
`

// Add creates a new grant
func (s *PostgresGrantStore) Add(ctx context.Context, grant *types.AuthorizationGrant) error {
	scopesJSON, err := json.Marshal(grant.AuthorizedScopes)
	if err != nil {
		return fmt.Errorf("marshal scopes: %w", err)
	}
	var constraintsJSON []byte
	if grant.Constraints != nil {
		constraintsJSON, err = json.Marshal(grant.Constraints)
		if err != nil {
			return fmt.Errorf("marshal constraints: %w", err)
		}
	}

	query := `
		INSERT INTO authorization_grants (` + grantColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = s.db.ExecContext(ctx, query,
		grant.GrantID,
		grant.PrincipalID,
		grant.AgentID,
		scopesJSON,
		constraintsJSON,
		grant.CreatedAt,
		grant.ExpiresAt,
		grant.IsActive,
	)
	if err != nil {
		return types.WrapError(types.ErrKindTransient, "create grant", err)
	}
	return nil
}

// Get retrieves a grant by id, or (nil, nil) if absent
func (s *PostgresGrantStore) Get(ctx context.Context, grantID string) (*types.AuthorizationGrant, error) {
	query := `SELECT ` + grantColumns + ` FROM authorization_grants WHERE grant_id = $1`
	grants, err := s.queryGrants(ctx, query, grantID)
	if err != nil {
		return nil, err
	}
	if len(grants) == 0 {
		return nil, nil
	}
	return grants[0], nil
}

// Find returns the usable grants a principal holds for an agent
func (s *PostgresGrantStore) Find(ctx context.Context, principalID, agentID string) ([]*types.AuthorizationGrant, error) {
	query := `
		SELECT ` + grantColumns + `
		FROM authorization_grants
		WHERE principal_id = $1 AND agent_id = $2 AND is_active = TRUE
		  AND expires_at > NOW()
		ORDER BY created_at ASC
	`
	return s.queryGrants(ctx, query, principalID, agentID)
}

// ListByPrincipal returns all grants issued by a principal
func (s *PostgresGrantStore) ListByPrincipal(ctx context.Context, principalID string) ([]*types.AuthorizationGrant, error) {
	query := `
		SELECT ` + grantColumns + `
		FROM authorization_grants
		WHERE principal_id = $1
		ORDER BY created_at ASC
	`
	return s.queryGrants(ctx, query, principalID)
}

// Deactivate marks a grant inactive
func (s *PostgresGrantStore) Deactivate(ctx context.Context, grantID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE authorization_grants SET is_active = FALSE WHERE grant_id = $1`, grantID)
	if err != nil {
		return types.WrapError(types.ErrKindTransient, "deactivate grant", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return types.WrapError(types.ErrKindTransient, "deactivate grant", err)
	}
	if rows == 0 {
		return types.NewError(types.ErrKindInvalidRequest, "grant not found")
	}
	return nil
}

func (s *PostgresGrantStore) queryGrants(ctx context.Context, query string, args ...interface{}) ([]*types.AuthorizationGrant, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.WrapError(types.ErrKindTransient, "query grants", err)
	}
	defer rows.Close()

	var grants []*types.AuthorizationGrant
	for rows.Next() {
		var (
			grant           types.AuthorizationGrant
			scopesJSON      []byte
			constraintsJSON []byte
		)
		err := rows.Scan(
			&grant.GrantID,
			&grant.PrincipalID,
			&grant.AgentID,
			&scopesJSON,
			&constraintsJSON,
			&grant.CreatedAt,
			&grant.ExpiresAt,
			&grant.IsActive,
		)
		if err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		if err := json.Unmarshal(scopesJSON, &grant.AuthorizedScopes); err != nil {
			return nil, fmt.Errorf("unmarshal scopes: %w", err)
		}
		if len(constraintsJSON) > 0 {
			if err := json.Unmarshal(constraintsJSON, &grant.Constraints); err != nil {
				return nil, fmt.Errorf("unmarshal constraints: %w", err)
			}
		}
		grants = append(grants, &grant)
	}
	if err := rows.Err(); err != nil {
		return nil, types.WrapError(types.ErrKindTransient, "iterate grants", err)
	}
	return grants, nil
}
