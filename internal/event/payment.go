package event

import (
	"CoverLedger/internal/payment"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

type DepositStable struct {
	TxHeader
	Token    common.Address `json:"token"`
	Receiver common.Address `json:"receiver"`
	Amount   *uint256.Int   `json:"amount"`
}

func (*DepositStable) TxType() TxType { return TxTypeDepositStable }

type DepositSignedStable struct {
	TxHeader
	Token    common.Address `json:"token"`
	Receiver common.Address `json:"receiver"`
	Amount   *uint256.Int   `json:"amount"`
	Deadline *uint256.Int   `json:"deadline"`
	V        uint8          `json:"v"`
	R        common.Hash    `json:"r"`
	S        common.Hash    `json:"s"`
}

func (*DepositSignedStable) TxType() TxType { return TxTypeDepositSignedStable }

func (d *DepositSignedStable) PermitSig() payment.PermitSig {
	return payment.PermitSig{V: d.V, R: d.R, S: d.S}
}

type DepositNonStable struct {
	TxHeader
	Token     common.Address `json:"token"`
	Receiver  common.Address `json:"receiver"`
	Amount    *uint256.Int   `json:"amount"`
	Price     *uint256.Int   `json:"price"`
	Deadline  *uint256.Int   `json:"deadline"`
	Signature hexutil.Bytes  `json:"signature"`
}

func (*DepositNonStable) TxType() TxType { return TxTypeDepositNonStable }

// Withdraw redeems Amount SOLACE worth of refundable SCP.
type Withdraw struct {
	TxHeader
	Amount    *uint256.Int   `json:"amount"`
	Receiver  common.Address `json:"receiver"`
	Price     *uint256.Int   `json:"price"`
	Deadline  *uint256.Int   `json:"deadline"`
	Signature hexutil.Bytes  `json:"signature"`
}

func (*Withdraw) TxType() TxType { return TxTypeWithdraw }

type SetTokenInfo struct {
	TxHeader
	Tokens []payment.TokenInfo `json:"tokens"`
}

func (*SetTokenInfo) TxType() TxType { return TxTypeSetTokenInfo }

type SetPaused struct {
	TxHeader
	Paused bool `json:"paused"`
}

func (*SetPaused) TxType() TxType { return TxTypeSetPaused }

type AddPaymentProduct struct {
	TxHeader
	Product common.Address `json:"product"`
}

func (*AddPaymentProduct) TxType() TxType { return TxTypeAddPaymentProduct }

type RemovePaymentProduct struct {
	TxHeader
	Product common.Address `json:"product"`
}

func (*RemovePaymentProduct) TxType() TxType { return TxTypeRemovePaymentProduct }

type ChargePremiums struct {
	TxHeader
	Accounts []common.Address `json:"accounts"`
	Premiums []*uint256.Int   `json:"premiums"`
}

func (*ChargePremiums) TxType() TxType { return TxTypeChargePremiums }
