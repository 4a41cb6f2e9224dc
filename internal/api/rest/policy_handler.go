package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/credential-engine/go-core/pkg/types"
)

func (s *Server) listPoliciesHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"policies": s.policyStore.List(),
		"count":    s.policyStore.Count(),
	})
}

func (s *Server) getPolicyHandler(w http.ResponseWriter, r *http.Request) {
	p, err := s.policyStore.Get(mux.Vars(r)["id"])
	if err != nil {
		WriteError(w, types.NewError(types.ErrKindInvalidRequest, "policy not found"))
		return
	}
	WriteJSON(w, http.StatusOK, p)
}

func (s *Server) createPolicyHandler(w http.ResponseWriter, r *http.Request) {
	var p types.Policy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		WriteBadRequest(w, "invalid JSON body")
		return
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	if err := s.policyStore.Add(&p); err != nil {
		WriteError(w, types.WrapError(types.ErrKindInvalidRequest, "invalid policy", err))
		return
	}
	WriteJSON(w, http.StatusCreated, &p)
}

func (s *Server) updatePolicyHandler(w http.ResponseWriter, r *http.Request) {
	var p types.Policy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		WriteBadRequest(w, "invalid JSON body")
		return
	}
	p.ID = mux.Vars(r)["id"]

	if err := s.policyStore.Update(&p); err != nil {
		WriteError(w, types.WrapError(types.ErrKindInvalidRequest, "update policy", err))
		return
	}
	WriteJSON(w, http.StatusOK, &p)
}

func (s *Server) checkPolicyHandler(w http.ResponseWriter, r *http.Request) {
	var req PolicyCheckRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid JSON body")
		return
	}

	decision := s.evaluator.Evaluate(types.RequestContext(req.Context), s.policyStore.List())
	WriteJSON(w, http.StatusOK, decision)
}

func (s *Server) deletePolicyHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.policyStore.Remove(mux.Vars(r)["id"]); err != nil {
		WriteError(w, types.WrapError(types.ErrKindInvalidRequest, "remove policy", err))
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
