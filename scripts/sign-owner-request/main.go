// Command sign-owner-request produces the X-Owner-Signature and
// X-Owner-Timestamp headers for a control-plane call, signing
// "METHOD PATH TIMESTAMP" with the owner's private key.
//
// Usage:
//
//	sign-owner-request -key <hex-private-key> -method POST -path /admin/owner
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

func main() {
	keyHex := flag.String("key", "", "owner private key, hex")
	method := flag.String("method", "POST", "HTTP method")
	path := flag.String("path", "/", "request path")
	flag.Parse()

	if *keyHex == "" {
		log.Fatal("-key is required")
	}
	key, err := crypto.HexToECDSA(*keyHex)
	if err != nil {
		log.Fatalf("parse private key: %v", err)
	}

	ts := fmt.Sprintf("%d", time.Now().Unix())
	message := fmt.Sprintf("%s %s %s", *method, *path, ts)
	prefixed := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(message), message)
	sig, err := crypto.Sign(crypto.Keccak256Hash([]byte(prefixed)).Bytes(), key)
	if err != nil {
		log.Fatalf("sign: %v", err)
	}

	fmt.Printf("X-Owner-Signature: %s\n", hex.EncodeToString(sig))
	fmt.Printf("X-Owner-Timestamp: %s\n", ts)
	fmt.Printf("signer address: %s\n", crypto.PubkeyToAddress(key.PublicKey).Hex())
}
