package services

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/agentlease/leaseguard/modules/rental/domain/types"
	"github.com/agentlease/leaseguard/pkg/calldata"
	"github.com/agentlease/leaseguard/pkg/typeddata"
)

// permitFixture is a funded, leased entity whose renter's private key
// the test holds.
type permitFixture struct {
	*fixture
	entity    types.Entity
	owner     calldata.Address
	renterKey []byte
	renter    calldata.Address
	operator  calldata.Address
	leaseEnd  time.Time
}

func newPermitFixture(t *testing.T) *permitFixture {
	t.Helper()
	f := newFixture(t)
	ctx := context.Background()

	key, renter, err := typeddata.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	owner := addr(t, "01")
	e := mintFunded(t, f, owner, 1000)
	if err := f.engine.SetCeiling(ctx, e.ID, spendCfg(t, `{"per_call":"100"}`)); err != nil {
		t.Fatalf("set ceiling: %v", err)
	}
	leaseEnd := f.clock.Now().Add(24 * time.Hour)
	if err := f.svc.AssignLease(ctx, e.ID, owner, renter, leaseEnd); err != nil {
		t.Fatalf("assign lease: %v", err)
	}
	return &permitFixture{
		fixture:   f,
		entity:    e,
		owner:     owner,
		renterKey: key,
		renter:    renter,
		operator:  addr(t, "0b"),
		leaseEnd:  leaseEnd,
	}
}

func (pf *permitFixture) permit(t *testing.T, nonce uint64) types.OperatorPermit {
	t.Helper()
	return types.OperatorPermit{
		EntityID:          pf.entity.ID,
		Renter:            pf.renter,
		Operator:          pf.operator,
		Expiry:            pf.clock.Now().Add(12 * time.Hour),
		Nonce:             nonce,
		SignatureDeadline: pf.clock.Now().Add(time.Hour),
	}
}

func (pf *permitFixture) sign(t *testing.T, p types.OperatorPermit) []byte {
	t.Helper()
	return pf.signWith(t, p, pf.renterKey)
}

func (pf *permitFixture) signWith(t *testing.T, p types.OperatorPermit, key []byte) []byte {
	t.Helper()
	digest, err := typeddata.Digest(testDomain, types.PermitMessageType, p.Wire())
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	sig, err := typeddata.Sign(key, digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return sig
}

func TestSetOperator_DirectGrant(t *testing.T) {
	pf := newPermitFixture(t)
	ctx := context.Background()

	// Only the active renter may grant.
	err := pf.svc.SetOperator(ctx, pf.entity.ID, pf.owner, pf.operator, pf.clock.Now().Add(time.Hour))
	if !types.IsAuthorization(err) {
		t.Fatalf("owner granted an operator: %v", err)
	}

	// The delegation cannot outlive the lease.
	err = pf.svc.SetOperator(ctx, pf.entity.ID, pf.renter, pf.operator, pf.leaseEnd.Add(time.Hour))
	if cause, _ := types.DelegationCauseOf(err); cause != types.DelegationExceedsLease {
		t.Fatalf("cause = %v, want exceeds-lease", err)
	}

	if err := pf.svc.SetOperator(ctx, pf.entity.ID, pf.renter, pf.operator, pf.clock.Now().Add(time.Hour)); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := pf.svc.Execute(ctx, pf.entity.ID, pf.operator, payAction(t, 10)); err != nil {
		t.Fatalf("operator execute: %v", err)
	}

	// Revoke with the zero address.
	if err := pf.svc.SetOperator(ctx, pf.entity.ID, pf.renter, calldata.ZeroAddress, time.Time{}); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	err = pf.svc.Execute(ctx, pf.entity.ID, pf.operator, payAction(t, 10))
	if !types.IsAuthorization(err) {
		t.Fatalf("revoked operator still active: %v", err)
	}
}

func TestOperatorExpiry_LazyAndLeaseCapped(t *testing.T) {
	pf := newPermitFixture(t)
	ctx := context.Background()

	if err := pf.svc.SetOperator(ctx, pf.entity.ID, pf.renter, pf.operator, pf.clock.Now().Add(time.Hour)); err != nil {
		t.Fatalf("grant: %v", err)
	}
	pf.clock.Advance(2 * time.Hour)
	err := pf.svc.Execute(ctx, pf.entity.ID, pf.operator, payAction(t, 10))
	if cause, _ := types.DelegationCauseOf(err); cause != types.DelegationExpired {
		t.Fatalf("cause = %v, want expired", err)
	}
}

func TestSubmitPermit_HappyPathAndNonceConsumption(t *testing.T) {
	pf := newPermitFixture(t)
	ctx := context.Background()

	p := pf.permit(t, 0)
	sig := pf.sign(t, p)
	if err := pf.svc.SubmitPermit(ctx, pf.operator, p, sig); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := pf.svc.Execute(ctx, pf.entity.ID, pf.operator, payAction(t, 10)); err != nil {
		t.Fatalf("operator execute: %v", err)
	}

	// The same permit replays against the consumed nonce.
	err := pf.svc.SubmitPermit(ctx, pf.operator, p, sig)
	if cause, _ := types.DelegationCauseOf(err); cause != types.DelegationReplayed {
		t.Fatalf("cause = %v, want replayed", err)
	}

	// The next nonce works.
	p2 := pf.permit(t, 1)
	if err := pf.svc.SubmitPermit(ctx, pf.operator, p2, pf.sign(t, p2)); err != nil {
		t.Fatalf("next nonce: %v", err)
	}
}

func TestSubmitPermit_FailureCauses(t *testing.T) {
	pf := newPermitFixture(t)
	ctx := context.Background()

	strangerKey, _, err := typeddata.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	overLease := pf.permit(t, 0)
	overLease.Expiry = pf.leaseEnd.Add(time.Hour)

	stale := pf.permit(t, 0)
	stale.SignatureDeadline = pf.clock.Now().Add(-time.Minute)

	dead := pf.permit(t, 0)
	dead.Expiry = pf.clock.Now().Add(-time.Minute)

	tests := []struct {
		name      string
		submitter calldata.Address
		permit    types.OperatorPermit
		key       []byte
		want      types.DelegationCause
	}{
		{"submitter mismatch", addr(t, "99"), pf.permit(t, 0), pf.renterKey, types.DelegationSubmitterMismatch},
		{"stale signature", pf.operator, stale, pf.renterKey, types.DelegationStaleSignature},
		{"expired delegation", pf.operator, dead, pf.renterKey, types.DelegationExpired},
		{"exceeds lease", pf.operator, overLease, pf.renterKey, types.DelegationExceedsLease},
		{"mis-signed", pf.operator, pf.permit(t, 0), strangerKey, types.DelegationBadSignature},
		{"wrong nonce", pf.operator, pf.permit(t, 7), pf.renterKey, types.DelegationReplayed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := pf.svc.SubmitPermit(ctx, tt.submitter, tt.permit, pf.signWith(t, tt.permit, tt.key))
			cause, ok := types.DelegationCauseOf(err)
			if !ok || cause != tt.want {
				t.Fatalf("error = %v, want cause %s", err, tt.want)
			}
		})
	}
}

func TestSubmitPermit_TamperedFieldFailsRecovery(t *testing.T) {
	pf := newPermitFixture(t)
	ctx := context.Background()

	p := pf.permit(t, 0)
	sig := pf.sign(t, p)
	// Swap in a different operator after signing. The submitter matches
	// the tampered permit, but the digest no longer recovers the renter.
	p.Operator = addr(t, "42")
	err := pf.svc.SubmitPermit(ctx, addr(t, "42"), p, sig)
	if cause, _ := types.DelegationCauseOf(err); cause != types.DelegationBadSignature {
		t.Fatalf("cause = %v, want mis-signed", err)
	}
}

func TestSubmitPermit_AfterLeaseExpiry(t *testing.T) {
	pf := newPermitFixture(t)
	ctx := context.Background()

	p := pf.permit(t, 0)
	p.SignatureDeadline = pf.leaseEnd.Add(48 * time.Hour)
	p.Expiry = pf.leaseEnd.Add(2 * time.Hour)
	sig := pf.sign(t, p)

	pf.clock.Advance(25 * time.Hour)
	err := pf.svc.SubmitPermit(ctx, pf.operator, p, sig)
	if !types.IsLeaseExpired(err) {
		t.Fatalf("expected lease-expired, got %v", err)
	}
}

func TestOperatorSpendsThroughPolicy(t *testing.T) {
	pf := newPermitFixture(t)
	ctx := context.Background()

	p := pf.permit(t, 0)
	if err := pf.svc.SubmitPermit(ctx, pf.operator, p, pf.sign(t, p)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	err := pf.svc.Execute(ctx, pf.entity.ID, pf.operator, types.Action{
		Destination: addr(t, "d1"),
		Value:       big.NewInt(101),
	})
	if !types.IsPolicyViolation(err) {
		t.Fatalf("operator escaped the spend limit: %v", err)
	}
}
