package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/credential-engine/go-core/internal/credential"
	"github.com/credential-engine/go-core/pkg/types"
)

func (s *Server) issueCredentialHandler(w http.ResponseWriter, r *http.Request) {
	var req IssueCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid JSON body")
		return
	}

	cred, err := s.engine.Issue(r.Context(), &credential.IssueRequest{
		ClientID:           req.ClientID,
		ClientSecret:       req.ClientSecret,
		SubjectID:          req.SubjectID,
		Scopes:             req.Scopes,
		Tools:              req.Tools,
		Resources:          req.Resources,
		TaskID:             req.TaskID,
		ParentCredentialID: req.ParentCredentialID,
		TTL:                time.Duration(req.TTLSeconds) * time.Second,
		Purpose:            req.Purpose,
		RequestID:          req.RequestID,
		Context:            types.RequestContext(req.Context),
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordIssuance(string(types.KindOf(err)), req.ParentCredentialID != "")
		}
		WriteError(w, err)
		return
	}

	if s.metrics != nil {
		s.metrics.RecordIssuance("success", req.ParentCredentialID != "")
	}
	WriteJSON(w, http.StatusCreated, cred)
}

func (s *Server) verifyCredentialHandler(w http.ResponseWriter, r *http.Request) {
	var req VerifyCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid JSON body")
		return
	}
	if req.Token == "" {
		WriteBadRequest(w, "token is required")
		return
	}

	result, err := s.engine.Verify(r.Context(), &credential.VerifyRequest{
		Token:        req.Token,
		TaskID:       req.TaskID,
		ParentTaskID: req.ParentTaskID,
	})
	if err != nil {
		WriteError(w, err)
		return
	}

	if s.metrics != nil {
		outcome := "valid"
		if !result.Valid {
			outcome = result.Reason
		}
		s.metrics.RecordVerification(outcome)
	}
	WriteJSON(w, http.StatusOK, result)
}

func (s *Server) introspectCredentialHandler(w http.ResponseWriter, r *http.Request) {
	credentialID := mux.Vars(r)["id"]

	view, err := s.engine.Introspect(r.Context(), credentialID)
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, view)
}

func (s *Server) revokeCredentialHandler(w http.ResponseWriter, r *http.Request) {
	credentialID := mux.Vars(r)["id"]

	var req RevokeCredentialRequest
	if r.Body != nil {
		// Body is optional for revocation
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Reason == "" {
		req.Reason = "revoked via API"
	}

	if err := s.engine.Revoke(r.Context(), credentialID, req.Reason); err != nil {
		WriteError(w, err)
		return
	}

	if s.metrics != nil {
		s.metrics.RecordRevocation()
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
