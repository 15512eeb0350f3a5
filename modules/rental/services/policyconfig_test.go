package services

import (
	"context"
	"testing"
	"time"

	"github.com/agentlease/leaseguard/modules/rental/domain/types"
	"github.com/agentlease/leaseguard/pkg/calldata"
)

func TestPolicyConfig_CeilingIsOwnerOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := addr(t, "01")
	renter := addr(t, "02")
	stranger := addr(t, "03")
	e := mintFunded(t, f, owner, 1000)
	if err := f.svc.AssignLease(ctx, e.ID, owner, renter, f.clock.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("assign lease: %v", err)
	}

	entries := spendCfg(t, `{"per_call":"5"}`)
	for _, caller := range []calldata.Address{stranger, renter} {
		if err := f.svc.SetCeiling(ctx, e.ID, caller, entries); !types.IsAuthorization(err) {
			t.Fatalf("SetCeiling by %s got %v, want authorization error", caller.Hex(), err)
		}
		if err := f.svc.AppendCeiling(ctx, e.ID, caller, entries[0]); !types.IsAuthorization(err) {
			t.Fatalf("AppendCeiling by %s got %v, want authorization error", caller.Hex(), err)
		}
		if err := f.svc.RemoveCeiling(ctx, e.ID, caller, "spendlimit"); !types.IsAuthorization(err) {
			t.Fatalf("RemoveCeiling by %s got %v, want authorization error", caller.Hex(), err)
		}
	}
	if err := f.svc.SetCeiling(ctx, e.ID, owner, entries); err != nil {
		t.Fatalf("SetCeiling by owner: %v", err)
	}
}

func TestPolicyConfig_OverrideIsRenterOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := addr(t, "01")
	renter := addr(t, "02")
	stranger := addr(t, "03")
	e := mintFunded(t, f, owner, 1000)
	if err := f.svc.SetCeiling(ctx, e.ID, owner, spendCfg(t, `{"per_call":"10"}`)); err != nil {
		t.Fatalf("set ceiling: %v", err)
	}
	if err := f.svc.AssignLease(ctx, e.ID, owner, renter, f.clock.Now().Add(24*time.Hour)); err != nil {
		t.Fatalf("assign lease: %v", err)
	}

	tighter := spendCfg(t, `{"per_call":"5"}`)
	for _, caller := range []calldata.Address{stranger, owner} {
		if err := f.svc.SetOverride(ctx, e.ID, caller, tighter); !types.IsAuthorization(err) {
			t.Fatalf("SetOverride by %s got %v, want authorization error", caller.Hex(), err)
		}
	}
	if err := f.svc.SetOverride(ctx, e.ID, renter, tighter); err != nil {
		t.Fatalf("SetOverride by renter: %v", err)
	}

	// Either side of the lease may drop the customization.
	if err := f.svc.ClearOverride(ctx, e.ID, stranger); !types.IsAuthorization(err) {
		t.Fatalf("ClearOverride by stranger got %v, want authorization error", err)
	}
	if err := f.svc.ClearOverride(ctx, e.ID, renter); err != nil {
		t.Fatalf("ClearOverride by renter: %v", err)
	}
	if err := f.svc.SetOverride(ctx, e.ID, renter, tighter); err != nil {
		t.Fatalf("reinstall override: %v", err)
	}
	if err := f.svc.ClearOverride(ctx, e.ID, owner); err != nil {
		t.Fatalf("ClearOverride by owner: %v", err)
	}
}

func TestPolicyConfig_OverrideBlockedAfterLeaseExpiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	owner := addr(t, "01")
	renter := addr(t, "02")
	e := mintFunded(t, f, owner, 1000)
	if err := f.svc.SetCeiling(ctx, e.ID, owner, spendCfg(t, `{"per_call":"10"}`)); err != nil {
		t.Fatalf("set ceiling: %v", err)
	}
	if err := f.svc.AssignLease(ctx, e.ID, owner, renter, f.clock.Now().Add(time.Hour)); err != nil {
		t.Fatalf("assign lease: %v", err)
	}
	f.clock.Advance(2 * time.Hour)
	if err := f.svc.SetOverride(ctx, e.ID, renter, spendCfg(t, `{"per_call":"5"}`)); !types.IsAuthorization(err) {
		t.Fatalf("SetOverride past lease got %v, want authorization error", err)
	}
}
