package delegation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/credential-engine/go-core/internal/audit"
	"github.com/credential-engine/go-core/pkg/types"
)

// StepUpService issues and verifies short-lived one-time challenges used
// to confirm principal presence before sensitive delegations. Codes are
// delivered out of band; only bcrypt hashes are held in memory.
type StepUpService struct {
	ttl     time.Duration
	auditor *audit.Indexer

	mu         sync.Mutex
	challenges map[string]*stepUpChallenge
}

type stepUpChallenge struct {
	principalID string
	codeHash    []byte
	expiresAt   time.Time
	verified    bool
}

// NewStepUpService creates a step-up service. auditor may be nil in tests.
func NewStepUpService(ttl time.Duration, auditor *audit.Indexer) *StepUpService {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &StepUpService{
		ttl:        ttl,
		auditor:    auditor,
		challenges: make(map[string]*stepUpChallenge),
	}
}

// Challenge creates a challenge for a principal and returns the challenge
// id plus the one-time code for out-of-band delivery
func (s *StepUpService) Challenge(ctx context.Context, principalID string) (challengeID, code string, err error) {
	if principalID == "" {
		return "", "", types.NewError(types.ErrKindInvalidRequest, "principal_id is required")
	}

	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return "", "", types.WrapError(types.ErrKindTransient, "generate step-up code", err)
	}
	code = hex.EncodeToString(raw)

	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", "", types.WrapError(types.ErrKindTransient, "hash step-up code", err)
	}

	challengeID = uuid.NewString()
	s.mu.Lock()
	s.challenges[challengeID] = &stepUpChallenge{
		principalID: principalID,
		codeHash:    hash,
		expiresAt:   time.Now().Add(s.ttl),
	}
	s.mu.Unlock()

	if s.auditor != nil {
		event := types.NewAuditEventBuilder(types.EventStepUpChallenged, principalID).
			WithDetail("challenge_id", challengeID).
			Build()
		if err := s.auditor.Append(ctx, event); err != nil {
			return "", "", types.WrapError(types.ErrKindTransient, "audit step-up challenge", err)
		}
	}

	return challengeID, code, nil
}

// VerifyCode checks the code against a pending challenge and marks it
// verified on success. A wrong code burns the challenge.
func (s *StepUpService) VerifyCode(ctx context.Context, challengeID, code string) error {
	s.mu.Lock()
	challenge, ok := s.challenges[challengeID]
	if ok && time.Now().After(challenge.expiresAt) {
		delete(s.challenges, challengeID)
		ok = false
	}
	if !ok {
		s.mu.Unlock()
		return types.NewError(types.ErrKindInvalidGrant, "unknown or expired challenge")
	}
	match := bcrypt.CompareHashAndPassword(challenge.codeHash, []byte(code)) == nil
	if match {
		challenge.verified = true
	} else {
		delete(s.challenges, challengeID)
	}
	principalID := challenge.principalID
	s.mu.Unlock()

	if s.auditor != nil {
		builder := types.NewAuditEventBuilder(types.EventStepUpVerified, principalID).
			WithDetail("challenge_id", challengeID)
		if !match {
			builder.WithFailure(types.ErrKindInvalidGrant, "step-up code mismatch")
		}
		if err := s.auditor.Append(ctx, builder.Build()); err != nil {
			return types.WrapError(types.ErrKindTransient, "audit step-up verification", err)
		}
	}

	if !match {
		return types.NewError(types.ErrKindInvalidGrant, "step-up code mismatch")
	}
	return nil
}

// ConsumeVerified consumes a verified challenge for a principal. Each
// challenge backs at most one delegation.
func (s *StepUpService) ConsumeVerified(principalID, challengeID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	challenge, ok := s.challenges[challengeID]
	if !ok || !challenge.verified || challenge.principalID != principalID {
		return false
	}
	if time.Now().After(challenge.expiresAt) {
		delete(s.challenges, challengeID)
		return false
	}
	delete(s.challenges, challengeID)
	return true
}
