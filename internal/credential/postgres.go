package credential

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/credential-engine/go-core/pkg/types"
)

// PostgresStore implements Store using PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL credential store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const credentialColumns = `
	credential_id, subject_id, issuer, audience,
	parent_credential_id, task_id, parent_task_id,
	granted_scopes, granted_tools, granted_resources,
	delegator_subject, delegation_chain, delegation_purpose, delegation_constraints,
	issued_at, expires_at, is_revoked, revoked_at, revocation_reason
`

// Create stores a new credential
func (s *PostgresStore) Create(ctx context.Context, cred *types.Credential, requestID string) error {
	scopesJSON, err := json.Marshal(cred.GrantedScopes)
	if err != nil {
		return fmt.Errorf("marshal scopes: %w", err)
	}
	toolsJSON, err := json.Marshal(cred.GrantedTools)
	if err != nil {
		return fmt.Errorf("marshal tools: %w", err)
	}
	resourcesJSON, err := json.Marshal(cred.GrantedResources)
	if err != nil {
		return fmt.Errorf("marshal resources: %w", err)
	}
	chainJSON, err := json.Marshal(cred.DelegationChain)
	if err != nil {
		return fmt.Errorf("marshal delegation chain: %w", err)
	}
	var constraintsJSON []byte
	if cred.DelegationConstraints != nil {
		constraintsJSON, err = json.Marshal(cred.DelegationConstraints)
		if err != nil {
			return fmt.Errorf("marshal delegation constraints: %w", err)
		}
	}

	query := `
		INSERT INTO credentials (` + credentialColumns + `, request_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		        $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`
	if cred.ParentCredentialID != "" {
		// Conditional insert: the row lands only while the parent is still
		// active, so a revocation racing the issuance wins
		query = `
			INSERT INTO credentials (` + credentialColumns + `, request_id)
			SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			       $11, $12, $13, $14, $15, $16, $17, $18, $19, $20
			WHERE EXISTS (
				SELECT 1 FROM credentials
				WHERE credential_id = $5 AND is_revoked = FALSE AND expires_at > NOW()
			)
		`
	}
	result, err := s.db.ExecContext(ctx, query,
		cred.CredentialID,
		cred.SubjectID,
		cred.Issuer,
		nullStr(cred.Audience),
		nullStr(cred.ParentCredentialID),
		cred.TaskID,
		nullStr(cred.ParentTaskID),
		scopesJSON,
		toolsJSON,
		resourcesJSON,
		nullStr(cred.DelegatorSubject),
		chainJSON,
		nullStr(cred.DelegationPurpose),
		constraintsJSON,
		cred.IssuedAt,
		cred.ExpiresAt,
		cred.IsRevoked,
		cred.RevokedAt,
		nullStr(cred.RevocationReason),
		nullStr(requestID),
	)
	if err != nil {
		return types.WrapError(types.ErrKindTransient, "create credential", err)
	}
	if cred.ParentCredentialID != "" {
		rows, err := result.RowsAffected()
		if err != nil {
			return types.WrapError(types.ErrKindTransient, "create credential", err)
		}
		if rows == 0 {
			return types.NewError(types.ErrKindInvalidGrant, "parent credential is no longer active")
		}
	}
	return nil
}

// Get returns a credential by id, or (nil, nil) if absent
func (s *PostgresStore) Get(ctx context.Context, credentialID string) (*types.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE credential_id = $1`
	creds, err := s.queryCredentials(ctx, query, credentialID)
	if err != nil {
		return nil, err
	}
	if len(creds) == 0 {
		return nil, nil
	}
	return creds[0], nil
}

// GetByRequestID returns the credential issued for an idempotency request id
func (s *PostgresStore) GetByRequestID(ctx context.Context, requestID string) (*types.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM credentials WHERE request_id = $1`
	creds, err := s.queryCredentials(ctx, query, requestID)
	if err != nil {
		return nil, err
	}
	if len(creds) == 0 {
		return nil, nil
	}
	return creds[0], nil
}

// Update persists lifecycle changes
func (s *PostgresStore) Update(ctx context.Context, cred *types.Credential) error {
	query := `
		UPDATE credentials
		SET is_revoked = $2, revoked_at = $3, revocation_reason = $4
		WHERE credential_id = $1
	`
	result, err := s.db.ExecContext(ctx, query,
		cred.CredentialID,
		cred.IsRevoked,
		cred.RevokedAt,
		nullStr(cred.RevocationReason),
	)
	if err != nil {
		return types.WrapError(types.ErrKindTransient, "update credential", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return types.WrapError(types.ErrKindTransient, "update credential", err)
	}
	if rows == 0 {
		return types.NewError(types.ErrKindInvalidRequest, "credential not found")
	}
	return nil
}

// ListChildren returns credentials whose parent is the given credential
func (s *PostgresStore) ListChildren(ctx context.Context, parentCredentialID string) ([]*types.Credential, error) {
	query := `
		SELECT ` + credentialColumns + `
		FROM credentials
		WHERE parent_credential_id = $1
		ORDER BY issued_at ASC
	`
	return s.queryCredentials(ctx, query, parentCredentialID)
}

// ListByDelegator returns credentials the principal delegated to others
func (s *PostgresStore) ListByDelegator(ctx context.Context, principalID string) ([]*types.Credential, error) {
	query := `
		SELECT ` + credentialColumns + `
		FROM credentials
		WHERE delegator_subject = $1
		ORDER BY issued_at ASC
	`
	return s.queryCredentials(ctx, query, principalID)
}

// ListBySubject returns credentials issued to the subject
func (s *PostgresStore) ListBySubject(ctx context.Context, subjectID string) ([]*types.Credential, error) {
	query := `
		SELECT ` + credentialColumns + `
		FROM credentials
		WHERE subject_id = $1
		ORDER BY issued_at ASC
	`
	return s.queryCredentials(ctx, query, subjectID)
}

func (s *PostgresStore) queryCredentials(ctx context.Context, query string, args ...interface{}) ([]*types.Credential, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, types.WrapError(types.ErrKindTransient, "query credentials", err)
	}
	defer rows.Close()

	var creds []*types.Credential
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, types.WrapError(types.ErrKindTransient, "iterate credentials", err)
	}
	return creds, nil
}

func scanCredential(rows *sql.Rows) (*types.Credential, error) {
	var (
		cred            types.Credential
		audience        sql.NullString
		parentCredID    sql.NullString
		parentTaskID    sql.NullString
		delegator       sql.NullString
		purpose         sql.NullString
		revocationWhy   sql.NullString
		scopesJSON      []byte
		toolsJSON       []byte
		resourcesJSON   []byte
		chainJSON       []byte
		constraintsJSON []byte
	)

	err := rows.Scan(
		&cred.CredentialID,
		&cred.SubjectID,
		&cred.Issuer,
		&audience,
		&parentCredID,
		&cred.TaskID,
		&parentTaskID,
		&scopesJSON,
		&toolsJSON,
		&resourcesJSON,
		&delegator,
		&chainJSON,
		&purpose,
		&constraintsJSON,
		&cred.IssuedAt,
		&cred.ExpiresAt,
		&cred.IsRevoked,
		&cred.RevokedAt,
		&revocationWhy,
	)
	if err != nil {
		return nil, fmt.Errorf("scan credential: %w", err)
	}

	cred.Audience = audience.String
	cred.ParentCredentialID = parentCredID.String
	cred.ParentTaskID = parentTaskID.String
	cred.DelegatorSubject = delegator.String
	cred.DelegationPurpose = purpose.String
	cred.RevocationReason = revocationWhy.String

	if err := json.Unmarshal(scopesJSON, &cred.GrantedScopes); err != nil {
		return nil, fmt.Errorf("unmarshal scopes: %w", err)
	}
	if err := json.Unmarshal(toolsJSON, &cred.GrantedTools); err != nil {
		return nil, fmt.Errorf("unmarshal tools: %w", err)
	}
	if err := json.Unmarshal(resourcesJSON, &cred.GrantedResources); err != nil {
		return nil, fmt.Errorf("unmarshal resources: %w", err)
	}
	if err := json.Unmarshal(chainJSON, &cred.DelegationChain); err != nil {
		return nil, fmt.Errorf("unmarshal delegation chain: %w", err)
	}
	if len(constraintsJSON) > 0 {
		if err := json.Unmarshal(constraintsJSON, &cred.DelegationConstraints); err != nil {
			return nil, fmt.Errorf("unmarshal delegation constraints: %w", err)
		}
	}

	return &cred, nil
}

func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
