package credential

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/credential-engine/go-core/pkg/types"
)

const minSigningSecretLen = 32

// TokenClaims are the JWT claims carried by a credential token. The token
// is a pointer into the credential store; verification always consults the
// store for lifecycle state.
type TokenClaims struct {
	TaskID       string   `json:"task_id,omitempty"`
	ParentTaskID string   `json:"parent_task_id,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and parses credential bearer tokens (HS256)
type TokenIssuer struct {
	secret []byte
	issuer string
}

// NewTokenIssuer creates a token issuer. The signing secret must be at
// least 32 bytes.
func NewTokenIssuer(secret, issuer string) (*TokenIssuer, error) {
	if len(secret) < minSigningSecretLen {
		return nil, fmt.Errorf("signing secret must be at least %d bytes", minSigningSecretLen)
	}
	if issuer == "" {
		return nil, fmt.Errorf("issuer is required")
	}
	return &TokenIssuer{secret: []byte(secret), issuer: issuer}, nil
}

// Sign produces the bearer token for a credential
func (t *TokenIssuer) Sign(cred *types.Credential) (string, error) {
	claims := TokenClaims{
		TaskID:       cred.TaskID,
		ParentTaskID: cred.ParentTaskID,
		Scopes:       cred.GrantedScopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        cred.CredentialID,
			Subject:   cred.SubjectID,
			Issuer:    t.issuer,
			IssuedAt:  jwt.NewNumericDate(cred.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(cred.ExpiresAt),
		},
	}
	if cred.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cred.Audience}
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse validates a bearer token's signature and time claims and returns
// its claims. Expired tokens map to the token_expired kind, all other
// parse failures to invalid_grant.
func (t *TokenIssuer) Parse(tokenString string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithIssuer(t.issuer))

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, types.NewError(types.ErrKindTokenExpired, "token has expired")
		}
		return nil, types.WrapError(types.ErrKindInvalidGrant, "invalid token", err)
	}
	if !token.Valid {
		return nil, types.NewError(types.ErrKindInvalidGrant, "invalid token")
	}
	if claims.ID == "" {
		return nil, types.NewError(types.ErrKindInvalidGrant, "token missing credential id")
	}
	return claims, nil
}
