package services

import (
	"context"
	"fmt"
	"time"

	"github.com/agentlease/leaseguard/modules/rental/domain/types"
	"github.com/agentlease/leaseguard/pkg/calldata"
	"github.com/agentlease/leaseguard/pkg/typeddata"
)

// SetOperator grants (or, with the zero address, revokes) an operator
// delegation directly. Only the active renter may call it, and the
// delegation can never outlive the lease.
func (s *Service) SetOperator(ctx context.Context, entityID types.EntityID, caller, operator calldata.Address, expiry time.Time) error {
	defer s.locks.lock(entityID).Unlock()
	e, err := s.load(ctx, entityID)
	if err != nil {
		return err
	}
	if err := s.requireActive(e); err != nil {
		return err
	}
	now := s.now()
	renter, ok := e.RenterAt(now)
	if !ok || caller != renter {
		return types.NewAuthorization(caller)
	}
	if operator.IsZero() {
		e.Operator = calldata.ZeroAddress
		e.OperatorExpiry = time.Time{}
		if err := s.entities.Update(ctx, e); err != nil {
			return err
		}
		s.emit(ctx, "operator_set", entityID, map[string]string{"operator": operator.Hex()})
		return nil
	}
	if !expiry.After(now) {
		return types.NewDelegation(types.DelegationExpired)
	}
	if expiry.After(e.LeaseExpiry) {
		return types.NewDelegation(types.DelegationExceedsLease)
	}
	e.Operator = operator
	e.OperatorExpiry = expiry
	if err := s.entities.Update(ctx, e); err != nil {
		return err
	}
	s.emit(ctx, "operator_set", entityID, map[string]string{
		"operator": operator.Hex(),
		"expiry":   expiry.UTC().Format(time.RFC3339),
	})
	return nil
}

// SubmitPermit installs an operator from a renter-signed permit. The
// submitter must be the permit's operator; the signature must recover
// to the current renter under the service's signing domain; the nonce
// is single-use and strictly sequential. Every failure mode carries
// its own delegation cause.
func (s *Service) SubmitPermit(ctx context.Context, submitter calldata.Address, permit types.OperatorPermit, sig []byte) error {
	defer s.locks.lock(permit.EntityID).Unlock()
	e, err := s.load(ctx, permit.EntityID)
	if err != nil {
		return err
	}
	if err := s.requireActive(e); err != nil {
		return err
	}
	now := s.now()

	if submitter != permit.Operator {
		return types.NewDelegation(types.DelegationSubmitterMismatch)
	}
	if !now.Before(permit.SignatureDeadline) {
		return types.NewDelegation(types.DelegationStaleSignature)
	}
	if !permit.Expiry.After(now) {
		return types.NewDelegation(types.DelegationExpired)
	}
	renter, ok := e.RenterAt(now)
	if !ok {
		return types.NewLeaseExpired(e.LeaseExpiry)
	}
	if permit.Expiry.After(e.LeaseExpiry) {
		return types.NewDelegation(types.DelegationExceedsLease)
	}
	if permit.Renter != renter {
		return types.NewDelegation(types.DelegationBadSignature)
	}
	if permit.Nonce != e.OperatorNonce {
		return types.NewDelegation(types.DelegationReplayed)
	}

	digest, err := typeddata.Digest(s.domain, types.PermitMessageType, permit.Wire())
	if err != nil {
		return fmt.Errorf("permit digest: %w", err)
	}
	signer, err := typeddata.Recover(digest, sig)
	if err != nil {
		return types.NewDelegation(types.DelegationBadSignature)
	}
	if signer != renter {
		return types.NewDelegation(types.DelegationBadSignature)
	}

	e.Operator = permit.Operator
	e.OperatorExpiry = permit.Expiry
	e.OperatorNonce++
	if err := s.entities.Update(ctx, e); err != nil {
		return err
	}
	s.emit(ctx, "operator_permit_accepted", permit.EntityID, map[string]string{
		"operator": permit.Operator.Hex(),
		"expiry":   permit.Expiry.UTC().Format(time.RFC3339),
		"nonce":    fmt.Sprintf("%d", permit.Nonce),
	})
	return nil
}
