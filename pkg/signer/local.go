package signer

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"fmt"
	"io"
	"os"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/hkdf"

	"github.com/omnibridge/bridge-runtime/pkg/bridgeerr"
	"github.com/omnibridge/bridge-runtime/pkg/config"
	"github.com/omnibridge/bridge-runtime/pkg/db"
)

// LocalSigner holds the bridge's ECDSA private key decrypted in process
// memory, sealed at rest in the master_key table under a master key
// supplied via the environment.
type LocalSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewLocalSigner loads the sealed key from store, generating and
// persisting a fresh one on first run.
func NewLocalSigner(ctx context.Context, store *db.Store, cfg config.SignerConfig) (*LocalSigner, error) {
	encoded := os.Getenv(cfg.MasterKeyEnv)
	if encoded == "" {
		return nil, bridgeerr.Initialization(fmt.Sprintf("environment variable %s is not set", cfg.MasterKeyEnv))
	}
	masterKey, err := MasterKeyFromBase64(encoded)
	if err != nil {
		return nil, bridgeerr.Initialization(fmt.Sprintf("invalid master key: %v", err))
	}
	cipherBox, err := NewMasterKeyCipher(masterKey)
	if err != nil {
		return nil, bridgeerr.Initialization(err.Error())
	}

	sealed, err := store.LoadMasterKey(ctx)
	if err == db.ErrNotFound {
		priv, err := crypto.GenerateKey()
		if err != nil {
			return nil, signingErr(err, "generate signing key")
		}
		raw := crypto.FromECDSA(priv)
		sealedNew, err := cipherBox.Seal(raw)
		if err != nil {
			return nil, signingErr(err, "seal signing key")
		}
		if err := store.SaveMasterKey(ctx, sealedNew); err != nil {
			return nil, err
		}
		return &LocalSigner{key: priv, address: crypto.PubkeyToAddress(priv.PublicKey)}, nil
	}
	if err != nil {
		return nil, err
	}

	raw, err := cipherBox.Open(sealed)
	if err != nil {
		return nil, signingErr(err, "open sealed signing key")
	}
	priv, err := crypto.ToECDSA(raw)
	if err != nil {
		return nil, signingErr(err, "reconstruct signing key")
	}
	return &LocalSigner{key: priv, address: crypto.PubkeyToAddress(priv.PublicKey)}, nil
}

// Sign implements Signer.
func (s *LocalSigner) Sign(_ context.Context, digest [32]byte) ([65]byte, error) {
	sig, err := crypto.Sign(digest[:], s.key)
	if err != nil {
		return [65]byte{}, signingErr(err, "sign digest")
	}
	return normalizeV(sig), nil
}

// SignSchnorr implements Signer. The local backend has no Schnorr
// engine wired; taproot-based flows require the platform backend.
func (s *LocalSigner) SignSchnorr(context.Context, [32]byte) ([64]byte, error) {
	return [64]byte{}, signingErr(nil, "schnorr signing is not supported by the local backend")
}

// Address implements Signer.
func (s *LocalSigner) Address() common.Address { return s.address }

// BitcoinPrivateKey re-expresses the signer's secp256k1 key as a btcec
// key for Bitcoin-side script signing; the two libraries share the curve,
// only the type differs.
func (s *LocalSigner) BitcoinPrivateKey() *btcec.PrivateKey {
	priv, _ := btcec.PrivKeyFromBytes(crypto.FromECDSA(s.key))
	return priv
}

// BitcoinFundingAddress is the P2WPKH address of the signer's own key on
// the given network, the wallet that funds inscription commits and
// receives change.
func (s *LocalSigner) BitcoinFundingAddress(network string) (string, error) {
	net, err := NetParams(network)
	if err != nil {
		return "", err
	}
	key := s.BitcoinPrivateKey()
	hash := btcutil.Hash160(key.PubKey().SerializeCompressed())
	addr, err := btcutil.NewAddressWitnessPubKeyHash(hash, net)
	if err != nil {
		return "", err
	}
	return addr.String(), nil
}

// ExtendedKeySeed derives the 32 bytes used to seed a BIP32 master
// extended key for Bitcoin deposit-address derivation. HKDF with a
// fixed info string keeps the HD tree's seed domain-separated from the
// raw EVM signing key, while both still come from the one sealed secret.
func (s *LocalSigner) ExtendedKeySeed() []byte {
	reader := hkdf.New(sha256.New, crypto.FromECDSA(s.key), nil, []byte("bridge-bip32-seed"))
	seed := make([]byte, 32)
	if _, err := io.ReadFull(reader, seed); err != nil {
		// The HKDF reader over a fixed-size key cannot fail before 255
		// blocks; reaching this means memory corruption.
		panic(err)
	}
	return seed
}
