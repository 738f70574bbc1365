package signer

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/omnibridge/bridge-runtime/pkg/config"
)

// PlatformSigner delegates signing to a sidecar process over HTTP,
// keeping the private key out of this process entirely.
type PlatformSigner struct {
	httpClient *http.Client
	baseURL    string
	address    common.Address
}

type platformSignRequest struct {
	DigestHex string `json:"digest_hex"`
}

type platformSignResponse struct {
	SignatureHex string `json:"signature_hex"`
}

type platformAddressResponse struct {
	AddressHex string `json:"address_hex"`
}

// NewPlatformSigner queries the sidecar once for its address, then signs
// over HTTP for each subsequent digest.
func NewPlatformSigner(ctx context.Context, cfg config.SignerConfig) (*PlatformSigner, error) {
	s := &PlatformSigner{
		httpClient: &http.Client{Timeout: cfg.SidecarTimeout},
		baseURL:    cfg.SidecarURL,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/address", nil)
	if err != nil {
		return nil, signingErr(err, "build sidecar address request")
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, signingErr(err, "query sidecar address")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, signingErr(fmt.Errorf("status %d", resp.StatusCode), "sidecar address request failed")
	}

	var out platformAddressResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, signingErr(err, "decode sidecar address response")
	}
	s.address = common.HexToAddress(out.AddressHex)
	return s, nil
}

// Sign implements Signer by posting the digest to the sidecar's /sign endpoint.
func (s *PlatformSigner) Sign(ctx context.Context, digest [32]byte) ([65]byte, error) {
	body, err := json.Marshal(platformSignRequest{DigestHex: hex.EncodeToString(digest[:])})
	if err != nil {
		return [65]byte{}, signingErr(err, "encode sidecar sign request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/sign", bytes.NewReader(body))
	if err != nil {
		return [65]byte{}, signingErr(err, "build sidecar sign request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return [65]byte{}, signingErr(err, "call sidecar sign endpoint")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return [65]byte{}, signingErr(fmt.Errorf("status %d", resp.StatusCode), "sidecar sign request failed")
	}

	var out platformSignResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return [65]byte{}, signingErr(err, "decode sidecar sign response")
	}
	sigBytes, err := hex.DecodeString(out.SignatureHex)
	if err != nil || len(sigBytes) != 65 {
		return [65]byte{}, signingErr(err, "sidecar returned malformed signature")
	}
	var sig [65]byte
	copy(sig[:], sigBytes)
	return sig, nil
}

// SignSchnorr implements Signer by posting the digest to the sidecar's
// /sign-schnorr endpoint; the sidecar decides whether its key supports it.
func (s *PlatformSigner) SignSchnorr(ctx context.Context, digest [32]byte) ([64]byte, error) {
	body, err := json.Marshal(platformSignRequest{DigestHex: hex.EncodeToString(digest[:])})
	if err != nil {
		return [64]byte{}, signingErr(err, "encode sidecar schnorr request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/sign-schnorr", bytes.NewReader(body))
	if err != nil {
		return [64]byte{}, signingErr(err, "build sidecar schnorr request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return [64]byte{}, signingErr(err, "call sidecar schnorr endpoint")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return [64]byte{}, signingErr(fmt.Errorf("status %d", resp.StatusCode), "sidecar schnorr request failed")
	}

	var out platformSignResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return [64]byte{}, signingErr(err, "decode sidecar schnorr response")
	}
	sigBytes, err := hex.DecodeString(out.SignatureHex)
	if err != nil || len(sigBytes) != 64 {
		return [64]byte{}, signingErr(err, "sidecar returned malformed schnorr signature")
	}
	var sig [64]byte
	copy(sig[:], sigBytes)
	return sig, nil
}

// Address implements Signer.
func (s *PlatformSigner) Address() common.Address { return s.address }
