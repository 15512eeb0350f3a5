package server

import (
	"net/http"
	"sort"

	"github.com/agentlease/leaseguard/internal/routing"
	policytypes "github.com/agentlease/leaseguard/modules/policy/domain/types"
	rentaltypes "github.com/agentlease/leaseguard/modules/rental/domain/types"
	"github.com/agentlease/leaseguard/pkg/httperr"
)

// Policy list mutations carry the caller address like execute does; the
// rental service resolves their standing (owner for the ceiling, renter
// for the override) before anything reaches the engine.

func (h *handler) handleSetCeiling(w http.ResponseWriter, r *http.Request) {
	rc := routing.RouteClassPublicAPI
	var req struct {
		EntityID string                     `json:"entity_id"`
		Caller   string                     `json:"caller"`
		Entries  []policytypes.PluginConfig `json:"entries"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	caller, err := parseAddr("caller", req.Caller)
	if err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	if err := h.rental.SetCeiling(r.Context(), rentaltypes.EntityID(req.EntityID), caller, req.Entries); err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ceiling_set"})
}

func (h *handler) handleAppendCeiling(w http.ResponseWriter, r *http.Request) {
	rc := routing.RouteClassPublicAPI
	var req struct {
		EntityID string                   `json:"entity_id"`
		Caller   string                   `json:"caller"`
		Entry    policytypes.PluginConfig `json:"entry"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	caller, err := parseAddr("caller", req.Caller)
	if err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	if err := h.rental.AppendCeiling(r.Context(), rentaltypes.EntityID(req.EntityID), caller, req.Entry); err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ceiling_appended"})
}

func (h *handler) handleRemoveCeiling(w http.ResponseWriter, r *http.Request) {
	rc := routing.RouteClassPublicAPI
	var req struct {
		EntityID string `json:"entity_id"`
		Caller   string `json:"caller"`
		Plugin   string `json:"plugin"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	if req.Plugin == "" {
		writeDomainError(w, r, rc, httperr.NewBadRequest("plugin is required"))
		return
	}
	caller, err := parseAddr("caller", req.Caller)
	if err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	if err := h.rental.RemoveCeiling(r.Context(), rentaltypes.EntityID(req.EntityID), caller, req.Plugin); err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ceiling_removed"})
}

func (h *handler) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	rc := routing.RouteClassPublicAPI
	var req struct {
		EntityID string                     `json:"entity_id"`
		Caller   string                     `json:"caller"`
		Entries  []policytypes.PluginConfig `json:"entries"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	caller, err := parseAddr("caller", req.Caller)
	if err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	if err := h.rental.SetOverride(r.Context(), rentaltypes.EntityID(req.EntityID), caller, req.Entries); err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "override_set"})
}

func (h *handler) handleClearOverride(w http.ResponseWriter, r *http.Request) {
	rc := routing.RouteClassPublicAPI
	var req struct {
		EntityID string `json:"entity_id"`
		Caller   string `json:"caller"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	caller, err := parseAddr("caller", req.Caller)
	if err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	if err := h.rental.ClearOverride(r.Context(), rentaltypes.EntityID(req.EntityID), caller); err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "override_cleared"})
}

func (h *handler) handleListPlugins(w http.ResponseWriter, r *http.Request) {
	approved := h.engine.ApprovedPlugins()
	sort.Strings(approved)
	writeJSON(w, http.StatusOK, map[string]any{"approved": approved})
}

func (h *handler) handleApprovePlugin(w http.ResponseWriter, r *http.Request) {
	rc := routing.RouteClassAdminAPI
	var req struct {
		Plugin string `json:"plugin"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	if err := h.engine.Approve(req.Plugin); err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "approved"})
}

func (h *handler) handleRevokePlugin(w http.ResponseWriter, r *http.Request) {
	rc := routing.RouteClassAdminAPI
	var req struct {
		Plugin string `json:"plugin"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	if err := h.engine.Revoke(req.Plugin); err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (h *handler) handleRegisterTemplate(w http.ResponseWriter, r *http.Request) {
	rc := routing.RouteClassAdminAPI
	var req struct {
		TemplateID string `json:"template_id"`
		FromEntity string `json:"from_entity"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	if err := h.engine.RegisterTemplate(r.Context(), req.TemplateID, rentaltypes.EntityID(req.FromEntity)); err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "template_registered"})
}
