package rest

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/credential-engine/go-core/pkg/types"
)

func (s *Server) auditChainHandler(w http.ResponseWriter, r *http.Request) {
	result, err := s.auditor.GetChain(r.Context(), mux.Vars(r)["task_id"])
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, result)
}

func (s *Server) delegationActivityHandler(w http.ResponseWriter, r *http.Request) {
	activity, err := s.auditor.GetDelegationActivity(r.Context(), mux.Vars(r)["principal_id"])
	if err != nil {
		WriteError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, activity)
}

func (s *Server) auditVerifyHandler(w http.ResponseWriter, r *http.Request) {
	valid, err := s.auditor.VerifyIntegrity(r.Context())
	if err != nil && types.IsTransient(err) {
		WriteError(w, err)
		return
	}

	resp := map[string]interface{}{"valid": valid}
	if err != nil {
		resp["detail"] = err.Error()
	}
	WriteJSON(w, http.StatusOK, resp)
}
