package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/credential-engine/go-core/internal/delegation"
	"github.com/credential-engine/go-core/pkg/types"
)

func (s *Server) createGrantHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateGrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid JSON body")
		return
	}

	grant, err := s.manager.CreateGrant(r.Context(),
		req.PrincipalID, req.AgentID, req.Scopes, req.Constraints,
		time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, grant)
}

func (s *Server) revokeGrantHandler(w http.ResponseWriter, r *http.Request) {
	grantID := mux.Vars(r)["id"]

	if err := s.manager.RevokeGrant(r.Context(), grantID); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (s *Server) requestDelegationHandler(w http.ResponseWriter, r *http.Request) {
	var req DelegationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid JSON body")
		return
	}

	cred, err := s.manager.RequestDelegation(r.Context(), &delegation.Request{
		PrincipalID:        req.PrincipalID,
		AgentID:            req.AgentID,
		ParentCredentialID: req.ParentCredentialID,
		Scopes:             req.Scopes,
		Resource:           req.Resource,
		Purpose:            req.Purpose,
		TTL:                time.Duration(req.TTLSeconds) * time.Second,
		StepUpChallengeID:  req.StepUpChallengeID,
		Context:            types.RequestContext(req.Context),
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordDelegation("denied")
		}
		WriteError(w, err)
		return
	}

	if s.metrics != nil {
		s.metrics.RecordDelegation("granted")
	}
	WriteJSON(w, http.StatusCreated, cred)
}

func (s *Server) stepUpChallengeHandler(w http.ResponseWriter, r *http.Request) {
	var req StepUpChallengeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid JSON body")
		return
	}

	challengeID, code, err := s.stepup.Challenge(r.Context(), req.PrincipalID)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, StepUpChallengeResponse{
		ChallengeID: challengeID,
		Code:        code,
	})
}

func (s *Server) stepUpVerifyHandler(w http.ResponseWriter, r *http.Request) {
	var req StepUpVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid JSON body")
		return
	}

	if err := s.stepup.VerifyCode(r.Context(), req.ChallengeID, req.Code); err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}
