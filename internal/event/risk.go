package event

import (
	"CoverLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type AddRiskStrategy struct {
	TxHeader
	Strategy common.Address `json:"strategy"`
}

func (*AddRiskStrategy) TxType() TxType { return TxTypeAddRiskStrategy }

type SetStrategyStatus struct {
	TxHeader
	Strategy common.Address `json:"strategy"`
	Status   uint8          `json:"status"`
}

func (*SetStrategyStatus) TxType() TxType { return TxTypeSetStrategyStatus }

type SetWeightAllocation struct {
	TxHeader
	Strategy common.Address `json:"strategy"`
	Weight   uint32         `json:"weight"`
}

func (*SetWeightAllocation) TxType() TxType { return TxTypeSetWeightAllocation }

type SetPartialReservesFactor struct {
	TxHeader
	Factor uint16 `json:"factor"`
}

func (*SetPartialReservesFactor) TxType() TxType { return TxTypeSetPartialReservesFactor }

type AddCoverLimitUpdater struct {
	TxHeader
	Updater common.Address `json:"updater"`
}

func (*AddCoverLimitUpdater) TxType() TxType { return TxTypeAddCoverLimitUpdater }

type RemoveCoverLimitUpdater struct {
	TxHeader
	Updater common.Address `json:"updater"`
}

func (*RemoveCoverLimitUpdater) TxType() TxType { return TxTypeRemoveCoverLimitUpdater }

// SetProductRiskParams upserts per-product weights on the strategy at To.
type SetProductRiskParams struct {
	TxHeader
	Products []common.Address          `json:"products"`
	Params   []state.ProductRiskParams `json:"params"`
}

func (*SetProductRiskParams) TxType() TxType { return TxTypeSetProductRiskParams }

type RemoveProductRiskParams struct {
	TxHeader
	Product common.Address `json:"product"`
}

func (*RemoveProductRiskParams) TxType() TxType { return TxTypeRemoveProductRiskParams }

// AddPolicyProduct lets Product sell cover assessed by Strategy.
type AddPolicyProduct struct {
	TxHeader
	Product  common.Address `json:"product"`
	Strategy common.Address `json:"strategy"`
}

func (*AddPolicyProduct) TxType() TxType { return TxTypeAddPolicyProduct }

type RemovePolicyProduct struct {
	TxHeader
	Product common.Address `json:"product"`
}

func (*RemovePolicyProduct) TxType() TxType { return TxTypeRemovePolicyProduct }

type SetMinScpRatio struct {
	TxHeader
	Bps uint16 `json:"bps"`
}

func (*SetMinScpRatio) TxType() TxType { return TxTypeSetMinScpRatio }

// CreatePolicy is sent by a product (From) to the policy manager.
type CreatePolicy struct {
	TxHeader
	Policyholder common.Address `json:"policyholder"`
	CoverLimit   *uint256.Int   `json:"coverLimit"`
}

func (*CreatePolicy) TxType() TxType { return TxTypeCreatePolicy }

type UpdatePolicy struct {
	TxHeader
	PolicyID   uint64       `json:"policyId"`
	CoverLimit *uint256.Int `json:"coverLimit"`
}

func (*UpdatePolicy) TxType() TxType { return TxTypeUpdatePolicy }

type BurnPolicy struct {
	TxHeader
	PolicyID uint64 `json:"policyId"`
}

func (*BurnPolicy) TxType() TxType { return TxTypeBurnPolicy }
