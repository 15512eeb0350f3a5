package server

import (
	"context"
	"encoding/hex"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/agentlease/leaseguard/internal/routing"
	rentaltypes "github.com/agentlease/leaseguard/modules/rental/domain/types"
	"github.com/agentlease/leaseguard/pkg/calldata"
	"github.com/agentlease/leaseguard/pkg/httperr"
)

type entityResponse struct {
	ID             string `json:"id"`
	Owner          string `json:"owner"`
	VaultAddress   string `json:"vault_address"`
	Renter         string `json:"renter,omitempty"`
	LeaseExpiry    string `json:"lease_expiry,omitempty"`
	Operator       string `json:"operator,omitempty"`
	OperatorExpiry string `json:"operator_expiry,omitempty"`
	OperatorNonce  uint64 `json:"operator_nonce"`
	Paused         bool   `json:"paused"`
	Terminated     bool   `json:"terminated"`
	TemplateID     string `json:"template_id,omitempty"`
	InitParamsHash string `json:"init_params_hash,omitempty"`
}

func toEntityResponse(e rentaltypes.Entity) entityResponse {
	resp := entityResponse{
		ID:             string(e.ID),
		Owner:          e.Owner.Hex(),
		VaultAddress:   e.VaultAddress.Hex(),
		OperatorNonce:  e.OperatorNonce,
		Paused:         e.Paused,
		Terminated:     e.Terminated,
		TemplateID:     e.TemplateID,
		InitParamsHash: e.InitParamsHash,
	}
	if !e.Renter.IsZero() {
		resp.Renter = e.Renter.Hex()
		resp.LeaseExpiry = e.LeaseExpiry.UTC().Format(time.RFC3339)
	}
	if !e.Operator.IsZero() {
		resp.Operator = e.Operator.Hex()
		resp.OperatorExpiry = e.OperatorExpiry.UTC().Format(time.RFC3339)
	}
	return resp
}

func parseAddr(field, s string) (calldata.Address, error) {
	a, err := calldata.ParseAddress(s)
	if err != nil {
		return calldata.ZeroAddress, httperr.NewBadRequest(field + ": " + err.Error())
	}
	return a, nil
}

func parseAmount(field, s string) (*big.Int, error) {
	if s == "" {
		return nil, httperr.NewBadRequest(field + " is required")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, httperr.NewBadRequest(field + ": invalid decimal amount")
	}
	return v, nil
}

func parseTime(field, s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, httperr.NewBadRequest(field + ": invalid RFC3339 timestamp")
	}
	return t, nil
}

func parseHex(field, s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, httperr.NewBadRequest(field + ": invalid hex")
	}
	return b, nil
}

func (h *handler) handleMint(w http.ResponseWriter, r *http.Request) {
	rc := routing.RouteClassPublicAPI
	var req struct {
		Owner string `json:"owner"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	owner, err := parseAddr("owner", req.Owner)
	if err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	e, err := h.rental.Mint(r.Context(), owner)
	if err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntityResponse(e))
}

func (h *handler) handleMintInstance(w http.ResponseWriter, r *http.Request) {
	rc := routing.RouteClassPublicAPI
	var req struct {
		Owner      string `json:"owner"`
		TemplateID string `json:"template_id"`
		InitParams string `json:"init_params,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	owner, err := parseAddr("owner", req.Owner)
	if err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	initParams, err := parseHex("init_params", req.InitParams)
	if err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	e, err := h.rental.MintInstance(r.Context(), owner, req.TemplateID, initParams)
	if err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEntityResponse(e))
}

func (h *handler) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	rc := routing.RouteClassPublicAPI
	id := r.URL.Query().Get("id")
	if id == "" {
		writeDomainError(w, r, rc, httperr.NewBadRequest("id is required"))
		return
	}
	e, err := h.rental.Get(r.Context(), rentaltypes.EntityID(id))
	if err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntityResponse(e))
}

func (h *handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	rc := routing.RouteClassPublicAPI
	id := r.URL.Query().Get("id")
	if id == "" {
		writeDomainError(w, r, rc, httperr.NewBadRequest("id is required"))
		return
	}
	balance, err := h.rental.Balance(r.Context(), rentaltypes.EntityID(id))
	if err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"entity_id": id, "balance": balance.String()})
}

func (h *handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	rc := routing.RouteClassPublicAPI
	var req struct {
		EntityID    string `json:"entity_id"`
		Caller      string `json:"caller"`
		Destination string `json:"destination"`
		Value       string `json:"value"`
		Payload     string `json:"payload,omitempty"`
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
	dest, err := parseAddr("destination", req.Destination)
	if err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	value, err := parseAmount("value", req.Value)
	if err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	payload, err := parseHex("payload", req.Payload)
	if err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	action := rentaltypes.Action{Destination: dest, Value: value, Payload: payload}
	if err := h.rental.Execute(r.Context(), rentaltypes.EntityID(req.EntityID), caller, action); err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "executed"})
}

func (h *handler) handleDeposit(w http.ResponseWriter, r *http.Request) {
	rc := routing.RouteClassPublicAPI
	var req struct {
		EntityID string `json:"entity_id"`
		Amount   string `json:"amount"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	if err := h.rental.Deposit(r.Context(), rentaltypes.EntityID(req.EntityID), amount); err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deposited"})
}

func (h *handler) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	rc := routing.RouteClassPublicAPI
	var req struct {
		EntityID    string `json:"entity_id"`
		Caller      string `json:"caller"`
		Destination string `json:"destination"`
		Amount      string `json:"amount"`
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
	dest, err := parseAddr("destination", req.Destination)
	if err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	if err := h.rental.Withdraw(r.Context(), rentaltypes.EntityID(req.EntityID), caller, dest, amount); err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "withdrawn"})
}

func (h *handler) handleAssignLease(w http.ResponseWriter, r *http.Request) {
	rc := routing.RouteClassPublicAPI
	var req struct {
		EntityID string `json:"entity_id"`
		Caller   string `json:"caller"`
		Renter   string `json:"renter"`
		Expiry   string `json:"expiry"`
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
	renter, err := parseAddr("renter", req.Renter)
	if err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	expiry, err := parseTime("expiry", req.Expiry)
	if err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	if err := h.rental.AssignLease(r.Context(), rentaltypes.EntityID(req.EntityID), caller, renter, expiry); err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "leased"})
}

func (h *handler) handleExtendLease(w http.ResponseWriter, r *http.Request) {
	rc := routing.RouteClassPublicAPI
	var req struct {
		EntityID string `json:"entity_id"`
		Caller   string `json:"caller"`
		Expiry   string `json:"expiry"`
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
	expiry, err := parseTime("expiry", req.Expiry)
	if err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	if err := h.rental.ExtendLease(r.Context(), rentaltypes.EntityID(req.EntityID), caller, expiry); err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "extended"})
}

func (h *handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	rc := routing.RouteClassPublicAPI
	var req struct {
		EntityID string `json:"entity_id"`
		Caller   string `json:"caller"`
		NewOwner string `json:"new_owner"`
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
	newOwner, err := parseAddr("new_owner", req.NewOwner)
	if err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	if err := h.rental.Transfer(r.Context(), rentaltypes.EntityID(req.EntityID), caller, newOwner); err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "transferred"})
}

func (h *handler) handlePause(w http.ResponseWriter, r *http.Request) {
	h.handleLifecycle(w, r, h.rental.Pause, "paused")
}

func (h *handler) handleUnpause(w http.ResponseWriter, r *http.Request) {
	h.handleLifecycle(w, r, h.rental.Unpause, "unpaused")
}

func (h *handler) handleTerminate(w http.ResponseWriter, r *http.Request) {
	h.handleLifecycle(w, r, h.rental.Terminate, "terminated")
}

func (h *handler) handleLifecycle(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id rentaltypes.EntityID, caller calldata.Address) error, status string) {
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
	if err := op(r.Context(), rentaltypes.EntityID(req.EntityID), caller); err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (h *handler) handleSetOperator(w http.ResponseWriter, r *http.Request) {
	rc := routing.RouteClassPublicAPI
	var req struct {
		EntityID string `json:"entity_id"`
		Caller   string `json:"caller"`
		Operator string `json:"operator"`
		Expiry   string `json:"expiry,omitempty"`
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
	operator, err := parseAddr("operator", req.Operator)
	if err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	var expiry time.Time
	if req.Expiry != "" {
		if expiry, err = parseTime("expiry", req.Expiry); err != nil {
			writeDomainError(w, r, rc, err)
			return
		}
	}
	if err := h.rental.SetOperator(r.Context(), rentaltypes.EntityID(req.EntityID), caller, operator, expiry); err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "operator_set"})
}

func (h *handler) handleSubmitPermit(w http.ResponseWriter, r *http.Request) {
	rc := routing.RouteClassPublicAPI
	var req struct {
		Submitter string `json:"submitter"`
		Permit    struct {
			EntityID          string `json:"entity_id"`
			Renter            string `json:"renter"`
			Operator          string `json:"operator"`
			Expiry            string `json:"expiry"`
			Nonce             uint64 `json:"nonce"`
			SignatureDeadline string `json:"signature_deadline"`
		} `json:"permit"`
		Signature string `json:"signature"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	submitter, err := parseAddr("submitter", req.Submitter)
	if err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	renter, err := parseAddr("permit.renter", req.Permit.Renter)
	if err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	operator, err := parseAddr("permit.operator", req.Permit.Operator)
	if err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	expiry, err := parseTime("permit.expiry", req.Permit.Expiry)
	if err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	deadline, err := parseTime("permit.signature_deadline", req.Permit.SignatureDeadline)
	if err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	sig, err := parseHex("signature", req.Signature)
	if err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	permit := rentaltypes.OperatorPermit{
		EntityID:          rentaltypes.EntityID(req.Permit.EntityID),
		Renter:            renter,
		Operator:          operator,
		Expiry:            expiry,
		Nonce:             req.Permit.Nonce,
		SignatureDeadline: deadline,
	}
	if err := h.rental.SubmitPermit(r.Context(), submitter, permit, sig); err != nil {
		writeDomainError(w, r, rc, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "permit_accepted"})
}
