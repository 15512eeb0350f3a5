// permitctl signs and verifies operator permits offline: generate a
// renter keypair, sign a permit for an operator, or recover the signer
// of an existing permit signature.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	rentaltypes "github.com/agentlease/leaseguard/modules/rental/domain/types"
	"github.com/agentlease/leaseguard/pkg/calldata"
	"github.com/agentlease/leaseguard/pkg/typeddata"
)

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage()
	}
	switch os.Args[1] {
	case "keygen":
		keygen()
	case "sign":
		sign(os.Args[2:])
	case "recover":
		recoverSigner(os.Args[2:])
	default:
		usage()
	}
}

func usage() {
	log.Fatal("usage: permitctl keygen | sign | recover")
}

func keygen() {
	key, addr, err := typeddata.GenerateKey()
	if err != nil {
		log.Fatalf("keygen: %v", err)
	}
	fmt.Printf("private_key: %s\naddress: %s\n", hex.EncodeToString(key), addr.Hex())
}

func domainFlags(fs *flag.FlagSet) *typeddata.Domain {
	d := &typeddata.Domain{}
	fs.StringVar(&d.Name, "domain-name", "leaseguard", "signing domain name")
	fs.StringVar(&d.Version, "domain-version", "1", "signing domain version")
	fs.Uint64Var(&d.ChainID, "chain-id", 1, "signing domain chain id")
	fs.StringVar(&d.VerifyingContract, "verifying-contract", "0x0000000000000000000000000000000000000101", "signing domain verifying contract")
	return d
}

func permitFlags(fs *flag.FlagSet) (entityID, renter, operator, expiry, deadline *string, nonce *uint64) {
	entityID = fs.String("entity", "", "entity id")
	renter = fs.String("renter", "", "renter address")
	operator = fs.String("operator", "", "operator address")
	expiry = fs.String("expiry", "", "delegation expiry, RFC3339")
	deadline = fs.String("deadline", "", "signature deadline, RFC3339")
	nonce = fs.Uint64("nonce", 0, "entity operator nonce")
	return
}

func buildPermit(entityID, renter, operator, expiry, deadline string, nonce uint64) rentaltypes.OperatorPermit {
	r, err := calldata.ParseAddress(renter)
	if err != nil {
		log.Fatalf("renter: %v", err)
	}
	o, err := calldata.ParseAddress(operator)
	if err != nil {
		log.Fatalf("operator: %v", err)
	}
	exp, err := time.Parse(time.RFC3339, expiry)
	if err != nil {
		log.Fatalf("expiry: %v", err)
	}
	dl, err := time.Parse(time.RFC3339, deadline)
	if err != nil {
		log.Fatalf("deadline: %v", err)
	}
	return rentaltypes.OperatorPermit{
		EntityID:          rentaltypes.EntityID(entityID),
		Renter:            r,
		Operator:          o,
		Expiry:            exp,
		Nonce:             nonce,
		SignatureDeadline: dl,
	}
}

func sign(args []string) {
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	d := domainFlags(fs)
	entityID, renter, operator, expiry, deadline, nonce := permitFlags(fs)
	keyHex := fs.String("key", "", "renter private key, hex")
	_ = fs.Parse(args)

	key, err := hex.DecodeString(*keyHex)
	if err != nil {
		log.Fatalf("key: %v", err)
	}
	p := buildPermit(*entityID, *renter, *operator, *expiry, *deadline, *nonce)
	digest, err := typeddata.Digest(*d, rentaltypes.PermitMessageType, p.Wire())
	if err != nil {
		log.Fatalf("digest: %v", err)
	}
	sig, err := typeddata.Sign(key, digest)
	if err != nil {
		log.Fatalf("sign: %v", err)
	}
	fmt.Printf("signature: %s\n", hex.EncodeToString(sig))
}

func recoverSigner(args []string) {
	fs := flag.NewFlagSet("recover", flag.ExitOnError)
	d := domainFlags(fs)
	entityID, renter, operator, expiry, deadline, nonce := permitFlags(fs)
	sigHex := fs.String("signature", "", "permit signature, hex")
	_ = fs.Parse(args)

	sig, err := hex.DecodeString(*sigHex)
	if err != nil {
		log.Fatalf("signature: %v", err)
	}
	p := buildPermit(*entityID, *renter, *operator, *expiry, *deadline, *nonce)
	digest, err := typeddata.Digest(*d, rentaltypes.PermitMessageType, p.Wire())
	if err != nil {
		log.Fatalf("digest: %v", err)
	}
	signer, err := typeddata.Recover(digest, sig)
	if err != nil {
		log.Fatalf("recover: %v", err)
	}
	fmt.Printf("signer: %s\n", signer.Hex())
}
