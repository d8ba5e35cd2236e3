package event

import "github.com/ethereum/go-ethereum/common"

// SetPendingGovernance starts a governance transfer on contract To.
type SetPendingGovernance struct {
	TxHeader
	Pending common.Address `json:"pending"`
}

func (*SetPendingGovernance) TxType() TxType { return TxTypeSetPendingGovernance }

type AcceptGovernance struct {
	TxHeader
}

func (*AcceptGovernance) TxType() TxType { return TxTypeAcceptGovernance }

type LockGovernance struct {
	TxHeader
}

func (*LockGovernance) TxType() TxType { return TxTypeLockGovernance }

// RegistrySet binds keys to contract addresses on the registry at To.
// Addresses with no deployed contract are bound as plain accounts.
type RegistrySet struct {
	TxHeader
	Keys   []string         `json:"keys"`
	Values []common.Address `json:"values"`
}

func (*RegistrySet) TxType() TxType { return TxTypeRegistrySet }

// SetRegistry points a registry-backed contract (RiskManager,
// CoverPaymentManager) at a registry and re-resolves its dependencies.
type SetRegistry struct {
	TxHeader
	Registry common.Address `json:"registry"`
}

func (*SetRegistry) TxType() TxType { return TxTypeSetRegistry }

type AddSigner struct {
	TxHeader
	Signer common.Address `json:"signer"`
}

func (*AddSigner) TxType() TxType { return TxTypeAddSigner }

type RemoveSigner struct {
	TxHeader
	Signer common.Address `json:"signer"`
}

func (*RemoveSigner) TxType() TxType { return TxTypeRemoveSigner }
