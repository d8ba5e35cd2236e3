package signer

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Attestor is the off-chain counterpart of SolaceSigner: it holds a
// secp256k1 key and signs price and premium data for a given domain.
type Attestor struct {
	key    *ecdsa.PrivateKey
	domain Domain
}

// NewAttestor parses a hex private key (with or without 0x).
func NewAttestor(hexKey string, domain Domain) (*Attestor, error) {
	if len(hexKey) > 1 && hexKey[:2] == "0x" {
		hexKey = hexKey[2:]
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("attestor key: %w", err)
	}
	return &Attestor{key: key, domain: domain}, nil
}

func NewAttestorFromKey(key *ecdsa.PrivateKey, domain Domain) *Attestor {
	return &Attestor{key: key, domain: domain}
}

// Address returns the signer address.
func (a *Attestor) Address() common.Address {
	return crypto.PubkeyToAddress(a.key.PublicKey)
}

func (a *Attestor) SignPrice(token common.Address, price, deadline *uint256.Int) ([]byte, error) {
	return SignDigest(a.key, a.domain.Digest(PriceHash(token, price, deadline)))
}

func (a *Attestor) SignPremium(premium *uint256.Int, policyholder common.Address, deadline *uint256.Int) ([]byte, error) {
	return SignDigest(a.key, a.domain.Digest(PremiumHash(premium, policyholder, deadline)))
}
