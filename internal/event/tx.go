package event

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

var (
	ErrUnknownTxType    = errors.New("unknown tx type")
	ErrMalformedPayload = errors.New("malformed payload")
)

// TxType discriminator for transaction payloads
type TxType int32

const (
	TxTypeUnknown TxType = iota

	// Governance and wiring (any governable contract)
	TxTypeSetPendingGovernance
	TxTypeAcceptGovernance
	TxTypeLockGovernance
	TxTypeRegistrySet
	TxTypeSetRegistry

	// CoverageDataProvider V1 / V2
	TxTypeUwpSet
	TxTypeUwpReset
	TxTypeUwpRemove
	TxTypeSetUwpUpdater
	TxTypeUwpBatchSet
	TxTypeUwpBatchRemove
	TxTypeAddUwpUpdater
	TxTypeRemoveUwpUpdater

	// RiskManager / RiskStrategy
	TxTypeAddRiskStrategy
	TxTypeSetStrategyStatus
	TxTypeSetWeightAllocation
	TxTypeSetPartialReservesFactor
	TxTypeAddCoverLimitUpdater
	TxTypeRemoveCoverLimitUpdater
	TxTypeSetProductRiskParams
	TxTypeRemoveProductRiskParams

	// PolicyManager
	TxTypeAddPolicyProduct
	TxTypeRemovePolicyProduct
	TxTypeSetMinScpRatio
	TxTypeCreatePolicy
	TxTypeUpdatePolicy
	TxTypeBurnPolicy

	// SCP
	TxTypeScpMint
	TxTypeScpTransfer
	TxTypeScpTransferFrom
	TxTypeScpBurn
	TxTypeScpWithdraw
	TxTypeScpMulticall
	TxTypeSetScpMoverStatuses
	TxTypeSetScpRetainerStatuses

	// CoverPaymentManager
	TxTypeDepositStable
	TxTypeDepositSignedStable
	TxTypeDepositNonStable
	TxTypeWithdraw
	TxTypeSetTokenInfo
	TxTypeSetPaused
	TxTypeAddPaymentProduct
	TxTypeRemovePaymentProduct
	TxTypeChargePremiums

	// SolaceSigner
	TxTypeAddSigner
	TxTypeRemoveSigner

	// ERC-20 collaborators
	TxTypeTokenTransfer
	TxTypeTokenApprove
	TxTypeTokenMint

	txTypeCount
)

var txTypeNames = [...]string{
	TxTypeUnknown:                  "Unknown",
	TxTypeSetPendingGovernance:     "SetPendingGovernance",
	TxTypeAcceptGovernance:         "AcceptGovernance",
	TxTypeLockGovernance:           "LockGovernance",
	TxTypeRegistrySet:              "RegistrySet",
	TxTypeSetRegistry:              "SetRegistry",
	TxTypeUwpSet:                   "UwpSet",
	TxTypeUwpReset:                 "UwpReset",
	TxTypeUwpRemove:                "UwpRemove",
	TxTypeSetUwpUpdater:            "SetUwpUpdater",
	TxTypeUwpBatchSet:              "UwpBatchSet",
	TxTypeUwpBatchRemove:           "UwpBatchRemove",
	TxTypeAddUwpUpdater:            "AddUwpUpdater",
	TxTypeRemoveUwpUpdater:         "RemoveUwpUpdater",
	TxTypeAddRiskStrategy:          "AddRiskStrategy",
	TxTypeSetStrategyStatus:        "SetStrategyStatus",
	TxTypeSetWeightAllocation:      "SetWeightAllocation",
	TxTypeSetPartialReservesFactor: "SetPartialReservesFactor",
	TxTypeAddCoverLimitUpdater:     "AddCoverLimitUpdater",
	TxTypeRemoveCoverLimitUpdater:  "RemoveCoverLimitUpdater",
	TxTypeSetProductRiskParams:     "SetProductRiskParams",
	TxTypeRemoveProductRiskParams:  "RemoveProductRiskParams",
	TxTypeAddPolicyProduct:         "AddPolicyProduct",
	TxTypeRemovePolicyProduct:      "RemovePolicyProduct",
	TxTypeSetMinScpRatio:           "SetMinScpRatio",
	TxTypeCreatePolicy:             "CreatePolicy",
	TxTypeUpdatePolicy:             "UpdatePolicy",
	TxTypeBurnPolicy:               "BurnPolicy",
	TxTypeScpMint:                  "ScpMint",
	TxTypeScpTransfer:              "ScpTransfer",
	TxTypeScpTransferFrom:          "ScpTransferFrom",
	TxTypeScpBurn:                  "ScpBurn",
	TxTypeScpWithdraw:              "ScpWithdraw",
	TxTypeScpMulticall:             "ScpMulticall",
	TxTypeSetScpMoverStatuses:      "SetScpMoverStatuses",
	TxTypeSetScpRetainerStatuses:   "SetScpRetainerStatuses",
	TxTypeDepositStable:            "DepositStable",
	TxTypeDepositSignedStable:      "DepositSignedStable",
	TxTypeDepositNonStable:         "DepositNonStable",
	TxTypeWithdraw:                 "Withdraw",
	TxTypeSetTokenInfo:             "SetTokenInfo",
	TxTypeSetPaused:                "SetPaused",
	TxTypeAddPaymentProduct:        "AddPaymentProduct",
	TxTypeRemovePaymentProduct:     "RemovePaymentProduct",
	TxTypeChargePremiums:           "ChargePremiums",
	TxTypeAddSigner:                "AddSigner",
	TxTypeRemoveSigner:             "RemoveSigner",
	TxTypeTokenTransfer:            "TokenTransfer",
	TxTypeTokenApprove:             "TokenApprove",
	TxTypeTokenMint:                "TokenMint",
}

func (t TxType) String() string {
	if t <= TxTypeUnknown || t >= txTypeCount {
		return "Unknown"
	}
	return txTypeNames[t]
}

// ParseTxType maps a wire name back to its TxType.
func ParseTxType(s string) (TxType, error) {
	for t := TxTypeUnknown + 1; t < txTypeCount; t++ {
		if txTypeNames[t] == s {
			return t, nil
		}
	}
	return TxTypeUnknown, fmt.Errorf("%w: %s", ErrUnknownTxType, s)
}

// AllTxTypes lists every routable transaction type.
func AllTxTypes() []TxType {
	out := make([]TxType, 0, int(txTypeCount)-1)
	for t := TxTypeUnknown + 1; t < txTypeCount; t++ {
		out = append(out, t)
	}
	return out
}

// TxHeader is carried by every transaction.
type TxHeader struct {
	// Stable idempotency key from upstream
	TxID uuid.UUID `json:"txId"`

	// Caller (msg.sender)
	From common.Address `json:"from"`

	// Target contract
	To common.Address `json:"to"`

	// Per-sender nonce, strictly sequential from 0
	Nonce uint64 `json:"nonce"`

	// Block timestamp in seconds. Never regresses.
	Timestamp uint64 `json:"timestamp"`
}

func (h *TxHeader) Header() *TxHeader { return h }

func (h *TxHeader) IdempotencyKey() string { return h.TxID.String() }

// Tx is the interface all transaction payloads implement
type Tx interface {
	Header() *TxHeader
	IdempotencyKey() string
	TxType() TxType
}

// New returns an empty transaction of type t, ready to be decoded into.
func New(t TxType) (Tx, error) {
	switch t {
	case TxTypeSetPendingGovernance:
		return &SetPendingGovernance{}, nil
	case TxTypeAcceptGovernance:
		return &AcceptGovernance{}, nil
	case TxTypeLockGovernance:
		return &LockGovernance{}, nil
	case TxTypeRegistrySet:
		return &RegistrySet{}, nil
	case TxTypeSetRegistry:
		return &SetRegistry{}, nil
	case TxTypeUwpSet:
		return &UwpSet{}, nil
	case TxTypeUwpReset:
		return &UwpReset{}, nil
	case TxTypeUwpRemove:
		return &UwpRemove{}, nil
	case TxTypeSetUwpUpdater:
		return &SetUwpUpdater{}, nil
	case TxTypeUwpBatchSet:
		return &UwpBatchSet{}, nil
	case TxTypeUwpBatchRemove:
		return &UwpBatchRemove{}, nil
	case TxTypeAddUwpUpdater:
		return &AddUwpUpdater{}, nil
	case TxTypeRemoveUwpUpdater:
		return &RemoveUwpUpdater{}, nil
	case TxTypeAddRiskStrategy:
		return &AddRiskStrategy{}, nil
	case TxTypeSetStrategyStatus:
		return &SetStrategyStatus{}, nil
	case TxTypeSetWeightAllocation:
		return &SetWeightAllocation{}, nil
	case TxTypeSetPartialReservesFactor:
		return &SetPartialReservesFactor{}, nil
	case TxTypeAddCoverLimitUpdater:
		return &AddCoverLimitUpdater{}, nil
	case TxTypeRemoveCoverLimitUpdater:
		return &RemoveCoverLimitUpdater{}, nil
	case TxTypeSetProductRiskParams:
		return &SetProductRiskParams{}, nil
	case TxTypeRemoveProductRiskParams:
		return &RemoveProductRiskParams{}, nil
	case TxTypeAddPolicyProduct:
		return &AddPolicyProduct{}, nil
	case TxTypeRemovePolicyProduct:
		return &RemovePolicyProduct{}, nil
	case TxTypeSetMinScpRatio:
		return &SetMinScpRatio{}, nil
	case TxTypeCreatePolicy:
		return &CreatePolicy{}, nil
	case TxTypeUpdatePolicy:
		return &UpdatePolicy{}, nil
	case TxTypeBurnPolicy:
		return &BurnPolicy{}, nil
	case TxTypeScpMint:
		return &ScpMint{}, nil
	case TxTypeScpTransfer:
		return &ScpTransfer{}, nil
	case TxTypeScpTransferFrom:
		return &ScpTransferFrom{}, nil
	case TxTypeScpBurn:
		return &ScpBurn{}, nil
	case TxTypeScpWithdraw:
		return &ScpWithdraw{}, nil
	case TxTypeScpMulticall:
		return &ScpMulticall{}, nil
	case TxTypeSetScpMoverStatuses:
		return &SetScpMoverStatuses{}, nil
	case TxTypeSetScpRetainerStatuses:
		return &SetScpRetainerStatuses{}, nil
	case TxTypeDepositStable:
		return &DepositStable{}, nil
	case TxTypeDepositSignedStable:
		return &DepositSignedStable{}, nil
	case TxTypeDepositNonStable:
		return &DepositNonStable{}, nil
	case TxTypeWithdraw:
		return &Withdraw{}, nil
	case TxTypeSetTokenInfo:
		return &SetTokenInfo{}, nil
	case TxTypeSetPaused:
		return &SetPaused{}, nil
	case TxTypeAddPaymentProduct:
		return &AddPaymentProduct{}, nil
	case TxTypeRemovePaymentProduct:
		return &RemovePaymentProduct{}, nil
	case TxTypeChargePremiums:
		return &ChargePremiums{}, nil
	case TxTypeAddSigner:
		return &AddSigner{}, nil
	case TxTypeRemoveSigner:
		return &RemoveSigner{}, nil
	case TxTypeTokenTransfer:
		return &TokenTransfer{}, nil
	case TxTypeTokenApprove:
		return &TokenApprove{}, nil
	case TxTypeTokenMint:
		return &TokenMint{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownTxType, t)
	}
}
