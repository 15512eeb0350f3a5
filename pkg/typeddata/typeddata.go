// Package typeddata implements domain-separated typed-message signing
// for off-line authorizations. A message is deterministically encoded,
// hashed under a domain separator (protocol name, version, chain,
// verifying component), signed with a recoverable secp256k1 signature,
// and verified by public-key recovery against an expected signer
// address. The separator makes a digest unusable in any other protocol,
// chain, or component.
package typeddata

import (
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/sha3"

	"github.com/agentlease/leaseguard/pkg/calldata"
)

// SignatureLen is the compact recoverable signature size: one recovery
// byte followed by R and S.
const SignatureLen = 65

// Domain scopes every digest produced under it.
type Domain struct {
	Name              string `cbor:"1,keyasint"`
	Version           string `cbor:"2,keyasint"`
	ChainID           uint64 `cbor:"3,keyasint"`
	VerifyingContract string `cbor:"4,keyasint"`
}

var encMode cbor.EncMode

func init() {
	m, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	encMode = m
}

func keccak(chunks ...[]byte) [32]byte {
	h := sha3.NewLegacyKeccak256()
	for _, c := range chunks {
		h.Write(c)
	}
	var out [32]byte
	h.Sum(out[:0])
	return out
}

// Separator returns the domain's 32-byte separator.
func (d Domain) Separator() ([32]byte, error) {
	if d.Name == "" || d.Version == "" || d.VerifyingContract == "" {
		return [32]byte{}, errors.New("typeddata: incomplete domain")
	}
	b, err := encMode.Marshal(d)
	if err != nil {
		return [32]byte{}, fmt.Errorf("typeddata: encode domain: %w", err)
	}
	return keccak(b), nil
}

// Digest hashes a typed message under the domain. messageType names the
// structure being signed so two message kinds with identical field
// layouts can never collide.
func Digest(d Domain, messageType string, message any) ([32]byte, error) {
	sep, err := d.Separator()
	if err != nil {
		return [32]byte{}, err
	}
	if messageType == "" {
		return [32]byte{}, errors.New("typeddata: empty message type")
	}
	body, err := encMode.Marshal(message)
	if err != nil {
		return [32]byte{}, fmt.Errorf("typeddata: encode message: %w", err)
	}
	msgHash := keccak([]byte(messageType), body)
	return keccak([]byte{0x19, 0x01}, sep[:], msgHash[:]), nil
}

// Sign produces a compact recoverable signature over a digest.
func Sign(privKey []byte, digest [32]byte) ([]byte, error) {
	if len(privKey) != 32 {
		return nil, errors.New("typeddata: private key must be 32 bytes")
	}
	priv := secp256k1.PrivKeyFromBytes(privKey)
	return secpecdsa.SignCompact(priv, digest[:], false), nil
}

// Recover returns the address whose key produced the signature.
func Recover(digest [32]byte, sig []byte) (calldata.Address, error) {
	if len(sig) != SignatureLen {
		return calldata.ZeroAddress, errors.New("typeddata: signature must be 65 bytes")
	}
	pub, _, err := secpecdsa.RecoverCompact(sig, digest[:])
	if err != nil {
		return calldata.ZeroAddress, fmt.Errorf("typeddata: recover: %w", err)
	}
	return pubKeyAddress(pub), nil
}

// GenerateKey returns a fresh private key and its address.
func GenerateKey() ([]byte, calldata.Address, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, calldata.ZeroAddress, err
	}
	return priv.Serialize(), pubKeyAddress(priv.PubKey()), nil
}

// AddressOfKey derives the address of a serialized private key.
func AddressOfKey(privKey []byte) (calldata.Address, error) {
	if len(privKey) != 32 {
		return calldata.ZeroAddress, errors.New("typeddata: private key must be 32 bytes")
	}
	return pubKeyAddress(secp256k1.PrivKeyFromBytes(privKey).PubKey()), nil
}

func pubKeyAddress(pub *secp256k1.PublicKey) calldata.Address {
	raw := pub.SerializeUncompressed()
	h := keccak(raw[1:])
	var a calldata.Address
	copy(a[:], h[12:])
	return a
}
