package signer

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// depositAddressPurpose is the fixed prefix byte that opens every
// recipient-derivation path, keeping it disjoint from any other use of
// this HD tree.
const depositAddressPurpose = 0x07

// MasterExtendedKey builds the root BIP32 extended key the bridge uses
// to hand out a unique P2WPKH deposit address per EVM recipient, seeded
// from the same key material backing the signer's EVM key.
func MasterExtendedKey(seed []byte, net *chaincfg.Params) (*hdkeychain.ExtendedKey, error) {
	if len(seed) < hdkeychain.MinSeedBytes {
		return nil, fmt.Errorf("seed too short: need at least %d bytes, got %d", hdkeychain.MinSeedBytes, len(seed))
	}
	return hdkeychain.NewMaster(seed, net)
}

// DeriveChildIndices splits a recipient address into a purpose byte
// followed by 3-byte big-endian child indices, so an arbitrarily long
// recipient identifier becomes a deterministic BIP32 derivation path.
func DeriveChildIndices(recipient []byte) []uint32 {
	payload := append([]byte{depositAddressPurpose}, recipient...)
	// pad to a multiple of 3 bytes
	for len(payload)%3 != 0 {
		payload = append(payload, 0)
	}
	indices := make([]uint32, 0, len(payload)/3)
	for i := 0; i < len(payload); i += 3 {
		idx := uint32(payload[i])<<16 | uint32(payload[i+1])<<8 | uint32(payload[i+2])
		indices = append(indices, idx)
	}
	return indices
}

// DeriveDepositAddress walks master down the recipient's derivation
// path and returns the resulting P2WPKH Bitcoin deposit address.
func DeriveDepositAddress(master *hdkeychain.ExtendedKey, recipient []byte, net *chaincfg.Params) (btcutil.Address, *hdkeychain.ExtendedKey, error) {
	key := master
	for _, idx := range DeriveChildIndices(recipient) {
		child, err := key.Derive(idx)
		if err != nil {
			return nil, nil, fmt.Errorf("derive child %d: %w", idx, err)
		}
		key = child
	}

	pub, err := key.ECPubKey()
	if err != nil {
		return nil, nil, fmt.Errorf("derive public key: %w", err)
	}
	hash := btcutil.Hash160(pub.SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(hash, net)
	if err != nil {
		return nil, nil, fmt.Errorf("build witness address: %w", err)
	}
	return addr, key, nil
}

// NetParams resolves a configured network name to chaincfg parameters.
func NetParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet", "":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown bitcoin network %q", network)
	}
}
