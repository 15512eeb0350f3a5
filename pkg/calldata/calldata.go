// Package calldata decodes opaque action payloads into structured
// instructions. Decoding is pure: no state, no side effects. Every
// instruction kind inspected by a policy plugin is handled here; a
// selector this package does not know decodes to KindUnknown with only
// the selector populated.
package calldata

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	selectorLen = 4
	wordLen     = 32
)

// Address is a 20-byte account or contract address.
type Address [20]byte

var ZeroAddress Address

func ParseAddress(s string) (Address, error) {
	var a Address
	raw := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	if len(raw) != 40 {
		return a, errors.New("calldata: address must be 20 bytes of hex")
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return a, fmt.Errorf("calldata: invalid address hex: %w", err)
	}
	copy(a[:], b)
	return a, nil
}

func (a Address) Hex() string { return "0x" + hex.EncodeToString(a[:]) }

func (a Address) IsZero() bool { return a == ZeroAddress }

// Selector is the 4-byte instruction identifier, lowercase hex with 0x
// prefix, or empty for payloads too short to carry one.
type Selector string

const (
	SelApprove            Selector = "0x095ea7b3"
	SelTransfer           Selector = "0xa9059cbb"
	SelIncreaseAllowance  Selector = "0x39509351"
	SelDecreaseAllowance  Selector = "0xa457c2d7"
	SelPermit             Selector = "0xd505accf"
	SelSwapExactTokens    Selector = "0x38ed1739"
	SelSwapForExactTokens Selector = "0x8803dbee"
	SelSwapExactNativeIn  Selector = "0x7ff36ab5"
	SelSwapExactForNative Selector = "0x18cbafe5"
	SelSwapNativeForExact Selector = "0xfb3bdb41"
)

// Kind classifies an instruction for plugin dispatch.
type Kind string

const (
	// KindNone is a raw value transfer: the payload carries no selector.
	KindNone              Kind = "none"
	KindApprove           Kind = "approve"
	KindTransfer          Kind = "transfer"
	KindIncreaseAllowance Kind = "increase_allowance"
	KindDecreaseAllowance Kind = "decrease_allowance"
	KindPermit            Kind = "permit"
	KindSwapExactIn       Kind = "swap_exact_in"
	KindSwapExactOut      Kind = "swap_exact_out"
	KindUnknown           Kind = "unknown"
)

// Instruction is the decoded form of an action payload. Fields are
// populated per kind; unset big.Int fields are nil.
type Instruction struct {
	Selector Selector
	Kind     Kind

	// Allowance-style fields.
	Spender Address
	Amount  *big.Int

	// Swap fields.
	AmountIn    *big.Int // exact-input swaps; nil when input is the call value
	AmountInMax *big.Int // exact-output swaps; nil when input is the call value
	Path        []Address
	Deadline    *big.Int

	// Recipient of transferred value or swap proceeds.
	Recipient    Address
	HasRecipient bool

	// NativeInput marks swaps funded by the call value rather than a
	// decoded token amount.
	NativeInput bool
}

// IsSwap reports whether the instruction moves funds through a path.
func (in Instruction) IsSwap() bool {
	return in.Kind == KindSwapExactIn || in.Kind == KindSwapExactOut
}

// CounterParties returns every address the instruction implies value or
// trust flows through: path hops for swaps, the spender for
// allowance-style instructions, the recipient for transfers.
func (in Instruction) CounterParties() []Address {
	switch in.Kind {
	case KindSwapExactIn, KindSwapExactOut:
		return in.Path
	case KindApprove, KindIncreaseAllowance, KindDecreaseAllowance, KindPermit:
		return []Address{in.Spender}
	case KindTransfer:
		return []Address{in.Recipient}
	default:
		return nil
	}
}

// Decode turns a payload into an Instruction. Payloads shorter than four
// bytes decode to KindNone (a raw value transfer carries no
// instruction). A known selector with a truncated body is an error:
// plugins must never see a half-decoded known instruction.
func Decode(payload []byte) (Instruction, error) {
	if len(payload) < selectorLen {
		return Instruction{Kind: KindNone}, nil
	}
	sel := Selector("0x" + hex.EncodeToString(payload[:selectorLen]))
	args := payload[selectorLen:]

	switch sel {
	case SelApprove:
		return decodeSpenderAmount(sel, KindApprove, args)
	case SelIncreaseAllowance:
		return decodeSpenderAmount(sel, KindIncreaseAllowance, args)
	case SelDecreaseAllowance:
		return decodeSpenderAmount(sel, KindDecreaseAllowance, args)
	case SelTransfer:
		in, err := decodeSpenderAmount(sel, KindTransfer, args)
		if err != nil {
			return Instruction{}, err
		}
		// transfer(to, amount): the first word is the recipient, not a
		// spender.
		in.Recipient, in.HasRecipient = in.Spender, true
		in.Spender = ZeroAddress
		return in, nil
	case SelPermit:
		return decodePermit(sel, args)
	case SelSwapExactTokens:
		return decodeTokenSwap(sel, KindSwapExactIn, args)
	case SelSwapForExactTokens:
		return decodeTokenSwap(sel, KindSwapExactOut, args)
	case SelSwapExactNativeIn:
		return decodeNativeSwap(sel, KindSwapExactIn, args)
	case SelSwapNativeForExact:
		return decodeNativeSwap(sel, KindSwapExactOut, args)
	case SelSwapExactForNative:
		return decodeTokenSwap(sel, KindSwapExactIn, args)
	default:
		return Instruction{Selector: sel, Kind: KindUnknown}, nil
	}
}

func decodeSpenderAmount(sel Selector, kind Kind, args []byte) (Instruction, error) {
	spender, err := addressWord(args, 0)
	if err != nil {
		return Instruction{}, decodeErr(sel, err)
	}
	amount, err := uintWord(args, 1)
	if err != nil {
		return Instruction{}, decodeErr(sel, err)
	}
	return Instruction{Selector: sel, Kind: kind, Spender: spender, Amount: amount}, nil
}

// permit(owner, spender, value, deadline, v, r, s)
func decodePermit(sel Selector, args []byte) (Instruction, error) {
	spender, err := addressWord(args, 1)
	if err != nil {
		return Instruction{}, decodeErr(sel, err)
	}
	amount, err := uintWord(args, 2)
	if err != nil {
		return Instruction{}, decodeErr(sel, err)
	}
	deadline, err := uintWord(args, 3)
	if err != nil {
		return Instruction{}, decodeErr(sel, err)
	}
	return Instruction{Selector: sel, Kind: KindPermit, Spender: spender, Amount: amount, Deadline: deadline}, nil
}

// swapExactTokensForTokens(amountIn, amountOutMin, path, to, deadline)
// swapTokensForExactTokens(amountOut, amountInMax, path, to, deadline)
// swapExactTokensForETH(amountIn, amountOutMin, path, to, deadline)
func decodeTokenSwap(sel Selector, kind Kind, args []byte) (Instruction, error) {
	first, err := uintWord(args, 0)
	if err != nil {
		return Instruction{}, decodeErr(sel, err)
	}
	second, err := uintWord(args, 1)
	if err != nil {
		return Instruction{}, decodeErr(sel, err)
	}
	path, err := addressArrayAt(args, 2)
	if err != nil {
		return Instruction{}, decodeErr(sel, err)
	}
	to, err := addressWord(args, 3)
	if err != nil {
		return Instruction{}, decodeErr(sel, err)
	}
	deadline, err := uintWord(args, 4)
	if err != nil {
		return Instruction{}, decodeErr(sel, err)
	}
	in := Instruction{
		Selector:     sel,
		Kind:         kind,
		Path:         path,
		Recipient:    to,
		HasRecipient: true,
		Deadline:     deadline,
	}
	if kind == KindSwapExactOut {
		// The true worst-case spend is the maximum-input bound, not the
		// nominal output in the first word.
		in.AmountInMax = second
	} else {
		in.AmountIn = first
	}
	return in, nil
}

// swapExactETHForTokens(amountOutMin, path, to, deadline)
// swapETHForExactTokens(amountOut, path, to, deadline)
// Input is the call value for both.
func decodeNativeSwap(sel Selector, kind Kind, args []byte) (Instruction, error) {
	path, err := addressArrayAt(args, 1)
	if err != nil {
		return Instruction{}, decodeErr(sel, err)
	}
	to, err := addressWord(args, 2)
	if err != nil {
		return Instruction{}, decodeErr(sel, err)
	}
	deadline, err := uintWord(args, 3)
	if err != nil {
		return Instruction{}, decodeErr(sel, err)
	}
	return Instruction{
		Selector:     sel,
		Kind:         kind,
		Path:         path,
		Recipient:    to,
		HasRecipient: true,
		Deadline:     deadline,
		NativeInput:  true,
	}, nil
}

func decodeErr(sel Selector, err error) error {
	return fmt.Errorf("calldata: %s: %w", sel, err)
}

var errTruncated = errors.New("truncated payload")

func word(args []byte, idx int) ([]byte, error) {
	off := idx * wordLen
	if off+wordLen > len(args) {
		return nil, errTruncated
	}
	return args[off : off+wordLen], nil
}

func uintWord(args []byte, idx int) (*big.Int, error) {
	w, err := word(args, idx)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(w), nil
}

func addressWord(args []byte, idx int) (Address, error) {
	w, err := word(args, idx)
	if err != nil {
		return ZeroAddress, err
	}
	for _, b := range w[:wordLen-20] {
		if b != 0 {
			return ZeroAddress, errors.New("address word has dirty upper bytes")
		}
	}
	var a Address
	copy(a[:], w[wordLen-20:])
	return a, nil
}

// addressArrayAt reads a dynamic address array whose offset sits in word
// idx of the argument block.
func addressArrayAt(args []byte, idx int) ([]Address, error) {
	offWord, err := uintWord(args, idx)
	if err != nil {
		return nil, err
	}
	if !offWord.IsUint64() {
		return nil, errors.New("array offset out of range")
	}
	off := offWord.Uint64()
	// Compare against len(args) before any arithmetic on off; a huge
	// offset would wrap off+wordLen around zero.
	if off%wordLen != 0 || off >= uint64(len(args)) || off+wordLen > uint64(len(args)) {
		return nil, errors.New("array offset out of range")
	}
	length := new(big.Int).SetBytes(args[off : off+wordLen])
	if !length.IsUint64() || length.Uint64() > uint64(len(args))/wordLen {
		return nil, errors.New("array length out of range")
	}
	n := int(length.Uint64())
	if n == 0 {
		return nil, errors.New("empty address array")
	}
	body := args[off+wordLen:]
	path := make([]Address, 0, n)
	for i := 0; i < n; i++ {
		a, err := addressWord(body, i)
		if err != nil {
			return nil, err
		}
		path = append(path, a)
	}
	return path, nil
}
