// Package signer holds the bridge's own signing key: the ECDSA key that
// signs mint orders and destination-chain transactions, and the BIP32
// derivation used to hand out unique per-recipient Bitcoin deposit
// addresses. Two backends are supported: a local key sealed with
// AES-256-GCM under a master key, and a platform-managed signing
// sidecar reached over HTTP.
package signer

import (
	"context"
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/omnibridge/bridge-runtime/pkg/bridgeerr"
)

// Signer produces signatures over 32-byte digests using the bridge's
// own key, without exposing the private key material to callers.
type Signer interface {
	// Sign returns a 65-byte ECDSA r||s||v signature over digest, v
	// normalized to 27/28.
	Sign(ctx context.Context, digest [32]byte) ([65]byte, error)
	// SignSchnorr returns a 64-byte BIP-340 signature over digest.
	// Backends without Schnorr support return a Signing error.
	SignSchnorr(ctx context.Context, digest [32]byte) ([64]byte, error)
	// Address returns the EVM address corresponding to the signer's public key.
	Address() common.Address
}

// normalizeV adjusts go-ethereum's 0/1 recovery id to the 27/28 Ethereum
// convention expected on-chain, matching pkg/mintorder.SignWithKey.
func normalizeV(sig []byte) [65]byte {
	var out [65]byte
	copy(out[:], sig)
	if out[64] < 27 {
		out[64] += 27
	}
	return out
}

// PublicKeyToAddress derives an EVM address from an ECDSA public key.
func PublicKeyToAddress(pub *ecdsa.PublicKey) common.Address {
	return crypto.PubkeyToAddress(*pub)
}

// signingErr wraps signing failures from either backend as a Signing error.
func signingErr(err error, msg string) error {
	return bridgeerr.Signing(err, msg)
}
