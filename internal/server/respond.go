package server

import (
	"encoding/json"
	"net/http"

	"github.com/agentlease/leaseguard/internal/routing"
	rentaltypes "github.com/agentlease/leaseguard/modules/rental/domain/types"
	"github.com/agentlease/leaseguard/pkg/httperr"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDomainError maps the error taxonomy onto HTTP statuses. Every
// rejection is synchronous and final; nothing here suggests a retry.
func writeDomainError(w http.ResponseWriter, r *http.Request, rc routing.RouteClass, err error) {
	switch {
	case rentaltypes.IsAuthorization(err):
		routing.WriteError(w, r, rc, http.StatusForbidden, "not_authorized", err.Error())
	case rentaltypes.IsLeaseExpired(err):
		routing.WriteError(w, r, rc, http.StatusForbidden, "lease_expired", err.Error())
	case rentaltypes.IsPolicyViolation(err):
		routing.WriteError(w, r, rc, http.StatusForbidden, "policy_violation", err.Error())
	case rentaltypes.IsEntityState(err):
		routing.WriteError(w, r, rc, http.StatusConflict, "entity_state", err.Error())
	case rentaltypes.IsDelegation(err):
		routing.WriteError(w, r, rc, http.StatusForbidden, "delegation_rejected", err.Error())
	case rentaltypes.IsConfiguration(err):
		routing.WriteError(w, r, rc, http.StatusUnprocessableEntity, "configuration_error", err.Error())
	case httperr.IsBadRequest(err):
		routing.WriteError(w, r, rc, http.StatusBadRequest, "bad_request", err.Error())
	case httperr.IsNotFound(err):
		routing.WriteError(w, r, rc, http.StatusNotFound, "not_found", err.Error())
	case httperr.IsConflict(err):
		routing.WriteError(w, r, rc, http.StatusConflict, "conflict", err.Error())
	default:
		routing.WriteError(w, r, rc, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return httperr.NewBadRequest("invalid request body: " + err.Error())
	}
	if dec.More() {
		return httperr.NewBadRequest("invalid request body: trailing data")
	}
	return nil
}
