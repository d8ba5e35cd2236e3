package signer

import (
	"CoverLedger/internal/chain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

const (
	DomainName    = "Solace.fi-SolaceSigner"
	DomainVersion = "1"
)

var (
	PriceDataTypeHash   = crypto.Keccak256Hash([]byte("PriceData(address token,uint256 price,uint256 deadline)"))
	PremiumDataTypeHash = crypto.Keccak256Hash([]byte("PremiumData(uint256 premium,address policyholder,uint256 deadline)"))
)

var ErrZeroAddressSigner = chain.Revert("zero address signer")

// PriceHash returns the struct hash of a PriceData attestation.
func PriceHash(token common.Address, price, deadline *uint256.Int) common.Hash {
	return crypto.Keccak256Hash(PriceDataTypeHash.Bytes(), AddressWord(token), Word(price), Word(deadline))
}

// PremiumHash returns the struct hash of a PremiumData attestation.
func PremiumHash(premium *uint256.Int, policyholder common.Address, deadline *uint256.Int) common.Hash {
	return crypto.Keccak256Hash(PremiumDataTypeHash.Bytes(), Word(premium), AddressWord(policyholder), Word(deadline))
}

// SolaceSigner verifies off-chain price and premium attestations against a
// governance-managed signer set.
type SolaceSigner struct {
	*chain.Governable

	env     *chain.Env
	address common.Address
	signers *chain.AddressSet
}

func NewSolaceSigner(env *chain.Env, address, governance common.Address) (*SolaceSigner, error) {
	gov, err := chain.NewGovernable(env, address, governance)
	if err != nil {
		return nil, err
	}
	return &SolaceSigner{
		Governable: gov,
		env:        env,
		address:    address,
		signers:    chain.NewAddressSet(env.Journal),
	}, nil
}

func (s *SolaceSigner) Address() common.Address { return s.address }

// Domain returns the EIP-712 domain bound to this contract.
func (s *SolaceSigner) Domain() Domain {
	return Domain{
		Name:              DomainName,
		Version:           DomainVersion,
		ChainID:           s.env.ChainID,
		VerifyingContract: s.address,
	}
}

// VerifyPrice reports whether signature attests (token, price, deadline) from
// a registered signer and the deadline has not passed.
func (s *SolaceSigner) VerifyPrice(token common.Address, price, deadline *uint256.Int, signature []byte) bool {
	return s.verify(PriceHash(token, price, deadline), deadline, signature)
}

// VerifyPremium reports whether signature attests (premium, policyholder,
// deadline) from a registered signer and the deadline has not passed.
func (s *SolaceSigner) VerifyPremium(premium *uint256.Int, policyholder common.Address, deadline *uint256.Int, signature []byte) bool {
	return s.verify(PremiumHash(premium, policyholder, deadline), deadline, signature)
}

func (s *SolaceSigner) verify(structHash common.Hash, deadline *uint256.Int, signature []byte) bool {
	if deadline == nil || uint256.NewInt(s.env.Now()).Gt(deadline) {
		return false
	}
	signer, err := Recover(s.Domain().Digest(structHash), signature)
	if err != nil {
		return false
	}
	return s.signers.Contains(signer)
}

func (s *SolaceSigner) IsSigner(account common.Address) bool { return s.signers.Contains(account) }
func (s *SolaceSigner) NumSigners() int                      { return s.signers.Len() }

// GetSigner returns the signer at 1-based index i.
func (s *SolaceSigner) GetSigner(i int) (common.Address, error) {
	a, ok := s.signers.At(i)
	if !ok {
		return common.Address{}, chain.ErrIndexOutOfBounds
	}
	return a, nil
}

func (s *SolaceSigner) AddSigner(caller, signer common.Address) error {
	if err := s.OnlyGovernance(caller); err != nil {
		return err
	}
	if signer == (common.Address{}) {
		return ErrZeroAddressSigner
	}
	s.signers.Add(signer)
	s.env.Emit(s.address, "SignerAdded", chain.Fields{"signer": signer})
	return nil
}

// RemoveSigner is a no-op for unknown signers.
func (s *SolaceSigner) RemoveSigner(caller, signer common.Address) error {
	if err := s.OnlyGovernance(caller); err != nil {
		return err
	}
	if s.signers.Remove(signer) {
		s.env.Emit(s.address, "SignerRemoved", chain.Fields{"signer": signer})
	}
	return nil
}

// AppendState appends governance and the signer set.
func (s *SolaceSigner) AppendState(b []byte) []byte {
	b = s.Governable.AppendState(b)
	return chain.AppendAddressSet(b, s.signers)
}
