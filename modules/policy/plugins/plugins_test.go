package plugins

import (
	"context"
	"encoding/json"
	"math/big"
	"testing"

	"github.com/agentlease/leaseguard/modules/policy/domain/types"
	"github.com/agentlease/leaseguard/pkg/calldata"
	"github.com/agentlease/leaseguard/pkg/statestore"
)

func addr(t *testing.T, s string) calldata.Address {
	t.Helper()
	a, err := calldata.ParseAddress(s)
	if err != nil {
		t.Fatalf("ParseAddress(%q): %v", s, err)
	}
	return a
}

var (
	hexVault  = "0x00000000000000000000000000000000000000aa"
	hexDex    = "0x00000000000000000000000000000000000000bb"
	hexTokenA = "0x00000000000000000000000000000000000000c1"
	hexTokenB = "0x00000000000000000000000000000000000000c2"
	hexOther  = "0x00000000000000000000000000000000000000dd"
)

func baseReq(t *testing.T, cfg string, in calldata.Instruction, value int64) types.CheckRequest {
	t.Helper()
	var raw json.RawMessage
	if cfg != "" {
		raw = json.RawMessage(cfg)
	}
	return types.CheckRequest{
		EntityID:     "entity-1",
		Caller:       addr(t, hexOther),
		Destination:  addr(t, hexDex),
		Value:        big.NewInt(value),
		Instruction:  in,
		VaultAddress: addr(t, hexVault),
		Config:       raw,
	}
}

func mustAllow(t *testing.T, d types.Decision, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("check err=%v", err)
	}
	if !d.Allowed {
		t.Fatalf("denied: %s", d.Reason)
	}
}

func mustDeny(t *testing.T, d types.Decision, err error, wantReason string) {
	t.Helper()
	if err != nil {
		t.Fatalf("check err=%v", err)
	}
	if d.Allowed {
		t.Fatalf("allowed, want deny %q", wantReason)
	}
	if wantReason != "" && d.Reason != wantReason {
		t.Fatalf("reason=%q want=%q", d.Reason, wantReason)
	}
}

func TestFailClosed_AllPlugins(t *testing.T) {
	ctx := context.Background()
	in := calldata.Instruction{Kind: calldata.KindUnknown, Selector: "0xdeadbeef"}
	for _, p := range []types.Plugin{NewCounterparty(), NewDestination(), NewSpendLimit(newTestStore(), nil), NewCooldown(newTestStore(), nil), NewCELRule(), NewRegoRule()} {
		d, err := p.Check(ctx, baseReq(t, "", in, 5))
		if err != nil {
			t.Fatalf("%s: err=%v", p.Type(), err)
		}
		if d.Allowed {
			t.Fatalf("%s: unconfigured plugin allowed a value-bearing action", p.Type())
		}
		if d.Reason != "no configuration for entity" {
			t.Fatalf("%s: reason=%q", p.Type(), d.Reason)
		}
	}
}

func TestFailClosed_PureNoopAllowed(t *testing.T) {
	ctx := context.Background()
	p := NewCounterparty()
	req := baseReq(t, "", calldata.Instruction{Kind: calldata.KindNone}, 0)
	mustAllow(t, mustCheck(t, p, ctx, req), nil)
}

func TestCounterparty_PathHops(t *testing.T) {
	ctx := context.Background()
	p := NewCounterparty()
	cfg := `{"allowed":["` + hexTokenA + `","` + hexTokenB + `"]}`
	in := calldata.Instruction{
		Kind: calldata.KindSwapExactIn,
		Path: []calldata.Address{addr(t, hexTokenA), addr(t, hexTokenB)},
	}
	mustAllow(t, mustCheck(t, p, ctx, baseReq(t, cfg, in, 0)), nil)

	in.Path = append(in.Path, addr(t, hexOther))
	mustDeny(t, mustCheck(t, p, ctx, baseReq(t, cfg, in, 0)), nil, "counter-party "+hexOther+" not approved")
}

func TestCounterparty_DecreaseAllowanceSpenderStillChecked(t *testing.T) {
	ctx := context.Background()
	p := NewCounterparty()
	cfg := `{"allowed":["` + hexTokenA + `"]}`
	in := calldata.Instruction{Kind: calldata.KindDecreaseAllowance, Spender: addr(t, hexOther), Amount: big.NewInt(1)}
	d, err := p.Check(ctx, baseReq(t, cfg, in, 0))
	mustDeny(t, d, err, "counter-party "+hexOther+" not approved")

	in.Spender = addr(t, hexTokenA)
	mustAllow(t, mustCheck(t, p, ctx, baseReq(t, cfg, in, 0)), nil)
}

func TestCounterparty_BadConfig(t *testing.T) {
	p := NewCounterparty()
	in := calldata.Instruction{Kind: calldata.KindTransfer, Recipient: mustParse(hexOther), HasRecipient: true, Amount: big.NewInt(1)}
	if _, err := p.Check(context.Background(), baseReq(t, `{"allowed":["nope"]}`, in, 0)); err == nil {
		t.Fatalf("expected config error")
	}
}

func TestDestination_AllowsVaultImplicitly(t *testing.T) {
	ctx := context.Background()
	p := NewDestination()
	req := baseReq(t, `{"allowed":[]}`, calldata.Instruction{Kind: calldata.KindNone}, 3)
	req.Destination = req.VaultAddress
	mustAllow(t, mustCheck(t, p, ctx, req), nil)
}

func TestDestination_RejectsUnlisted(t *testing.T) {
	ctx := context.Background()
	p := NewDestination()
	cfg := `{"allowed":["` + hexDex + `"]}`
	in := calldata.Instruction{Kind: calldata.KindUnknown, Selector: "0x01020304"}
	mustAllow(t, mustCheck(t, p, ctx, baseReq(t, cfg, in, 0)), nil)

	req := baseReq(t, cfg, in, 0)
	req.Destination = addr(t, hexOther)
	d, err := p.Check(ctx, req)
	mustDeny(t, d, err, "destination "+hexOther+" not approved")
}

func TestProceeds_SwapMustReturnToVault(t *testing.T) {
	ctx := context.Background()
	p := NewProceeds()
	in := calldata.Instruction{
		Kind:         calldata.KindSwapExactIn,
		Recipient:    mustParse(hexVault),
		HasRecipient: true,
	}
	req := baseReq(t, "", in, 0)
	mustAllow(t, mustCheck(t, p, ctx, req), nil)

	in.Recipient = mustParse(hexOther)
	req = baseReq(t, "", in, 0)
	d, err := p.Check(ctx, req)
	mustDeny(t, d, err, "swap proceeds must return to the vault")
}

func TestProceeds_TransferAndRawValue(t *testing.T) {
	ctx := context.Background()
	p := NewProceeds()

	in := calldata.Instruction{Kind: calldata.KindTransfer, Recipient: mustParse(hexOther), HasRecipient: true, Amount: big.NewInt(1)}
	d, err := p.Check(ctx, baseReq(t, "", in, 0))
	mustDeny(t, d, err, "transfer recipient must be the vault")

	raw := baseReq(t, "", calldata.Instruction{Kind: calldata.KindNone}, 9)
	d, err = p.Check(ctx, raw)
	mustDeny(t, d, err, "raw value transfer must target the vault")

	raw.Destination = raw.VaultAddress
	mustAllow(t, mustCheck(t, p, ctx, raw), nil)
}

func mustParse(s string) calldata.Address {
	a, err := calldata.ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func mustCheck(t *testing.T, p types.Plugin, ctx context.Context, req types.CheckRequest) types.Decision {
	t.Helper()
	d, err := p.Check(ctx, req)
	if err != nil {
		t.Fatalf("check err=%v", err)
	}
	return d
}

func newTestStore() *statestore.Memory { return statestore.NewMemory() }

func TestProceeds_ValueBearingUnknownCallMustTargetVault(t *testing.T) {
	ctx := context.Background()
	p := NewProceeds()

	for _, kind := range []calldata.Kind{calldata.KindUnknown, calldata.KindApprove} {
		req := baseReq(t, "", calldata.Instruction{Kind: kind}, 9)
		d, err := p.Check(ctx, req)
		mustDeny(t, d, err, "value-bearing call must target the vault")

		req.Destination = req.VaultAddress
		mustAllow(t, mustCheck(t, p, ctx, req), nil)

		// Without attached value there is nothing to misdirect.
		req = baseReq(t, "", calldata.Instruction{Kind: kind}, 0)
		mustAllow(t, mustCheck(t, p, ctx, req), nil)
	}
}

func TestCounterparty_CheckBounds(t *testing.T) {
	p := NewCounterparty()
	ceiling := json.RawMessage(`{"allowed":["` + hexTokenA + `","` + hexTokenB + `"]}`)

	cases := []struct {
		name     string
		override json.RawMessage
		ok       bool
	}{
		{"subset", json.RawMessage(`{"allowed":["` + hexTokenA + `"]}`), true},
		{"equal", ceiling, true},
		{"widened", json.RawMessage(`{"allowed":["` + hexTokenA + `","` + hexOther + `"]}`), false},
		{"unconfigured", nil, true},
		{"garbage", json.RawMessage(`{"allowed":["nope"]}`), false},
	}
	for _, tc := range cases {
		err := p.CheckBounds(ceiling, tc.override)
		if tc.ok && err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s: bounds check passed, want error", tc.name)
		}
	}
}
