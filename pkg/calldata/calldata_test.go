package calldata

import (
	"bytes"
	"encoding/hex"
	"math/big"
	"testing"
)

func addr(t *testing.T, s string) Address {
	t.Helper()
	a, err := ParseAddress(s)
	if err != nil {
		t.Fatalf("ParseAddress(%q): %v", s, err)
	}
	return a
}

func selBytes(t *testing.T, sel Selector) []byte {
	t.Helper()
	b, err := hex.DecodeString(string(sel[2:]))
	if err != nil {
		t.Fatalf("selector %q: %v", sel, err)
	}
	return b
}

func uintArg(v *big.Int) []byte {
	var w [32]byte
	v.FillBytes(w[:])
	return w[:]
}

func addrArg(a Address) []byte {
	var w [32]byte
	copy(w[12:], a[:])
	return w[:]
}

// EncodeTokenSwap builds a five-argument token swap payload with the
// path array placed after the head words.
func encodeTokenSwap(t *testing.T, sel Selector, first, second *big.Int, path []Address, to Address, deadline *big.Int) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(selBytes(t, sel))
	buf.Write(uintArg(first))
	buf.Write(uintArg(second))
	buf.Write(uintArg(big.NewInt(5 * 32))) // offset to path
	buf.Write(addrArg(to))
	buf.Write(uintArg(deadline))
	buf.Write(uintArg(big.NewInt(int64(len(path)))))
	for _, a := range path {
		buf.Write(addrArg(a))
	}
	return buf.Bytes()
}

func encodeNativeSwap(t *testing.T, sel Selector, first *big.Int, path []Address, to Address, deadline *big.Int) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(selBytes(t, sel))
	buf.Write(uintArg(first))
	buf.Write(uintArg(big.NewInt(4 * 32)))
	buf.Write(addrArg(to))
	buf.Write(uintArg(deadline))
	buf.Write(uintArg(big.NewInt(int64(len(path)))))
	for _, a := range path {
		buf.Write(addrArg(a))
	}
	return buf.Bytes()
}

func encodeSpenderAmount(t *testing.T, sel Selector, spender Address, amount *big.Int) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(selBytes(t, sel))
	buf.Write(addrArg(spender))
	buf.Write(uintArg(amount))
	return buf.Bytes()
}

func TestDecode_EmptyAndShortPayloads(t *testing.T) {
	for _, payload := range [][]byte{nil, {}, {0x09}, {0x09, 0x5e, 0xa7}} {
		in, err := Decode(payload)
		if err != nil {
			t.Fatalf("payload=%x err=%v", payload, err)
		}
		if in.Kind != KindNone || in.Selector != "" {
			t.Fatalf("payload=%x kind=%s selector=%q", payload, in.Kind, in.Selector)
		}
	}
}

func TestDecode_Approve(t *testing.T) {
	spender := addr(t, "0x1111111111111111111111111111111111111111")
	in, err := Decode(encodeSpenderAmount(t, SelApprove, spender, big.NewInt(42)))
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if in.Kind != KindApprove || in.Spender != spender || in.Amount.Cmp(big.NewInt(42)) != 0 {
		t.Fatalf("decoded=%+v", in)
	}
	cps := in.CounterParties()
	if len(cps) != 1 || cps[0] != spender {
		t.Fatalf("counterparties=%v", cps)
	}
}

func TestDecode_TransferRecipientIsNotSpender(t *testing.T) {
	to := addr(t, "0x2222222222222222222222222222222222222222")
	in, err := Decode(encodeSpenderAmount(t, SelTransfer, to, big.NewInt(7)))
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if in.Kind != KindTransfer || !in.HasRecipient || in.Recipient != to {
		t.Fatalf("decoded=%+v", in)
	}
	if !in.Spender.IsZero() {
		t.Fatalf("spender leaked: %s", in.Spender.Hex())
	}
}

func TestDecode_AllowanceKinds(t *testing.T) {
	spender := addr(t, "0x3333333333333333333333333333333333333333")
	tests := []struct {
		sel  Selector
		want Kind
	}{
		{SelIncreaseAllowance, KindIncreaseAllowance},
		{SelDecreaseAllowance, KindDecreaseAllowance},
	}
	for _, tt := range tests {
		in, err := Decode(encodeSpenderAmount(t, tt.sel, spender, big.NewInt(1)))
		if err != nil {
			t.Fatalf("sel=%s err=%v", tt.sel, err)
		}
		if in.Kind != tt.want || in.Spender != spender {
			t.Fatalf("sel=%s decoded=%+v", tt.sel, in)
		}
	}
}

func TestDecode_Permit(t *testing.T) {
	owner := addr(t, "0x4444444444444444444444444444444444444444")
	spender := addr(t, "0x5555555555555555555555555555555555555555")
	var buf bytes.Buffer
	buf.Write(selBytes(t, SelPermit))
	buf.Write(addrArg(owner))
	buf.Write(addrArg(spender))
	buf.Write(uintArg(big.NewInt(100)))
	buf.Write(uintArg(big.NewInt(9999)))
	buf.Write(uintArg(big.NewInt(27)))
	buf.Write(make([]byte, 64)) // r, s
	in, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if in.Kind != KindPermit || in.Spender != spender || in.Amount.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("decoded=%+v", in)
	}
}

func TestDecode_SwapExactIn(t *testing.T) {
	path := []Address{
		addr(t, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		addr(t, "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"),
		addr(t, "0xcccccccccccccccccccccccccccccccccccccccc"),
	}
	to := addr(t, "0xdddddddddddddddddddddddddddddddddddddddd")
	payload := encodeTokenSwap(t, SelSwapExactTokens, big.NewInt(500), big.NewInt(490), path, to, big.NewInt(1700000000))
	in, err := Decode(payload)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if in.Kind != KindSwapExactIn || !in.IsSwap() {
		t.Fatalf("kind=%s", in.Kind)
	}
	if in.AmountIn.Cmp(big.NewInt(500)) != 0 || in.AmountInMax != nil {
		t.Fatalf("amountIn=%v amountInMax=%v", in.AmountIn, in.AmountInMax)
	}
	if len(in.Path) != 3 || in.Path[1] != path[1] {
		t.Fatalf("path=%v", in.Path)
	}
	if !in.HasRecipient || in.Recipient != to {
		t.Fatalf("recipient=%+v", in)
	}
}

func TestDecode_SwapExactOutChargesMaxInput(t *testing.T) {
	path := []Address{
		addr(t, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		addr(t, "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"),
	}
	to := addr(t, "0xdddddddddddddddddddddddddddddddddddddddd")
	payload := encodeTokenSwap(t, SelSwapForExactTokens, big.NewInt(100), big.NewInt(130), path, to, big.NewInt(1700000000))
	in, err := Decode(payload)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if in.Kind != KindSwapExactOut {
		t.Fatalf("kind=%s", in.Kind)
	}
	if in.AmountInMax.Cmp(big.NewInt(130)) != 0 || in.AmountIn != nil {
		t.Fatalf("amountInMax=%v amountIn=%v", in.AmountInMax, in.AmountIn)
	}
}

func TestDecode_NativeSwaps(t *testing.T) {
	path := []Address{
		addr(t, "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"),
		addr(t, "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"),
	}
	to := addr(t, "0xdddddddddddddddddddddddddddddddddddddddd")
	tests := []struct {
		sel  Selector
		want Kind
	}{
		{SelSwapExactNativeIn, KindSwapExactIn},
		{SelSwapNativeForExact, KindSwapExactOut},
	}
	for _, tt := range tests {
		in, err := Decode(encodeNativeSwap(t, tt.sel, big.NewInt(90), path, to, big.NewInt(1700000000)))
		if err != nil {
			t.Fatalf("sel=%s err=%v", tt.sel, err)
		}
		if in.Kind != tt.want || !in.NativeInput {
			t.Fatalf("sel=%s decoded=%+v", tt.sel, in)
		}
		if in.AmountIn != nil || in.AmountInMax != nil {
			t.Fatalf("sel=%s native swap carries decoded input amounts", tt.sel)
		}
	}
}

func TestDecode_TruncatedKnownSelectorFails(t *testing.T) {
	spender := addr(t, "0x1111111111111111111111111111111111111111")
	full := encodeSpenderAmount(t, SelApprove, spender, big.NewInt(1))
	if _, err := Decode(full[:len(full)-1]); err == nil {
		t.Fatalf("expected error for truncated approve")
	}
	swap := encodeTokenSwap(t, SelSwapExactTokens, big.NewInt(1), big.NewInt(1),
		[]Address{spender, spender}, spender, big.NewInt(1))
	if _, err := Decode(swap[:4+3*32]); err == nil {
		t.Fatalf("expected error for truncated swap")
	}
}

func TestDecode_BogusPathOffset(t *testing.T) {
	spender := addr(t, "0x1111111111111111111111111111111111111111")
	payload := encodeTokenSwap(t, SelSwapExactTokens, big.NewInt(1), big.NewInt(1),
		[]Address{spender, spender}, spender, big.NewInt(1))
	// Point the path offset past the payload.
	copy(payload[4+2*32:4+3*32], uintArg(big.NewInt(1<<20)))
	if _, err := Decode(payload); err == nil {
		t.Fatalf("expected error for out-of-range path offset")
	}
}

func TestDecode_WrappingPathOffset(t *testing.T) {
	spender := addr(t, "0x1111111111111111111111111111111111111111")
	payload := encodeTokenSwap(t, SelSwapExactTokens, big.NewInt(1), big.NewInt(1),
		[]Address{spender, spender}, spender, big.NewInt(1))
	// 2^64-32 is word-aligned and wraps to zero when the word length is
	// added; it must fail the bounds check, not panic.
	huge := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 64), big.NewInt(32))
	copy(payload[4+2*32:4+3*32], uintArg(huge))
	if _, err := Decode(payload); err == nil {
		t.Fatalf("expected error for wrapping path offset")
	}
}

func TestDecode_UnknownSelector(t *testing.T) {
	in, err := Decode([]byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x02})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if in.Kind != KindUnknown || in.Selector != "0xdeadbeef" {
		t.Fatalf("decoded=%+v", in)
	}
	if in.CounterParties() != nil {
		t.Fatalf("unknown instruction implies no counterparties")
	}
}

func TestParseAddress(t *testing.T) {
	a, err := ParseAddress("0xAbCd111111111111111111111111111111111111")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if a.Hex() != "0xabcd111111111111111111111111111111111111" {
		t.Fatalf("hex=%s", a.Hex())
	}
	if _, err := ParseAddress("0x1234"); err == nil {
		t.Fatalf("expected error for short address")
	}
	if _, err := ParseAddress("0xzz11111111111111111111111111111111111111"); err == nil {
		t.Fatalf("expected error for non-hex address")
	}
}

func TestDecode_DirtyAddressWord(t *testing.T) {
	spender := addr(t, "0x1111111111111111111111111111111111111111")
	payload := encodeSpenderAmount(t, SelApprove, spender, big.NewInt(1))
	payload[4] = 0xff // upper byte of the address word
	if _, err := Decode(payload); err == nil {
		t.Fatalf("expected error for dirty address word")
	}
}
