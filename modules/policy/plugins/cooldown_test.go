package plugins

import (
	"context"
	"testing"
	"time"

	"github.com/agentlease/leaseguard/pkg/calldata"
)

func TestCooldown_FirstActionPasses(t *testing.T) {
	ctx := context.Background()
	p := NewCooldown(newTestStore(), newFakeClock().Now)
	req := baseReq(t, `{"min_interval_seconds":60}`, calldata.Instruction{Kind: calldata.KindNone}, 1)
	mustAllow(t, mustCheck(t, p, ctx, req), nil)
}

func TestCooldown_RejectsWithinInterval(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	p := NewCooldown(newTestStore(), clock.Now)
	req := baseReq(t, `{"min_interval_seconds":60}`, calldata.Instruction{Kind: calldata.KindNone}, 1)

	if err := p.Commit(ctx, toCommit(req)); err != nil {
		t.Fatalf("commit: %v", err)
	}

	clock.Advance(30 * time.Second)
	d, err := p.Check(ctx, req)
	mustDeny(t, d, err, "cooldown active")

	clock.Advance(31 * time.Second)
	mustAllow(t, mustCheck(t, p, ctx, req), nil)
}

func TestCooldown_ZeroIntervalAllows(t *testing.T) {
	ctx := context.Background()
	p := NewCooldown(newTestStore(), newFakeClock().Now)
	req := baseReq(t, `{"min_interval_seconds":0}`, calldata.Instruction{Kind: calldata.KindNone}, 1)
	if err := p.Commit(ctx, toCommit(req)); err != nil {
		t.Fatalf("commit: %v", err)
	}
	mustAllow(t, mustCheck(t, p, ctx, req), nil)
}

func TestCooldown_OnBindClearsStamp(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	p := NewCooldown(newTestStore(), clock.Now)
	req := baseReq(t, `{"min_interval_seconds":600}`, calldata.Instruction{Kind: calldata.KindNone}, 1)

	if err := p.Commit(ctx, toCommit(req)); err != nil {
		t.Fatalf("commit: %v", err)
	}
	d, err := p.Check(ctx, req)
	mustDeny(t, d, err, "cooldown active")

	if err := p.OnBind(ctx, req.EntityID, nil); err != nil {
		t.Fatalf("onbind: %v", err)
	}
	mustAllow(t, mustCheck(t, p, ctx, req), nil)
}

func TestCooldown_CheckBounds(t *testing.T) {
	p := NewCooldown(newTestStore(), nil)
	ceiling := []byte(`{"min_interval_seconds":60}`)

	if err := p.CheckBounds(ceiling, []byte(`{"min_interval_seconds":120}`)); err != nil {
		t.Fatalf("longer cooldown rejected: %v", err)
	}
	if err := p.CheckBounds(ceiling, []byte(`{"min_interval_seconds":30}`)); err == nil {
		t.Fatalf("shorter cooldown accepted")
	}
}
