package event

import (
	"CoverLedger/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type ScpMint struct {
	TxHeader
	Account      common.Address `json:"account"`
	Amount       *uint256.Int   `json:"amount"`
	IsRefundable bool           `json:"isRefundable"`
}

func (*ScpMint) TxType() TxType { return TxTypeScpMint }

type ScpTransfer struct {
	TxHeader
	Recipient common.Address `json:"recipient"`
	Amount    *uint256.Int   `json:"amount"`
}

func (*ScpTransfer) TxType() TxType { return TxTypeScpTransfer }

type ScpTransferFrom struct {
	TxHeader
	Sender    common.Address `json:"sender"`
	Recipient common.Address `json:"recipient"`
	Amount    *uint256.Int   `json:"amount"`
}

func (*ScpTransferFrom) TxType() TxType { return TxTypeScpTransferFrom }

type ScpBurn struct {
	TxHeader
	Account common.Address `json:"account"`
	Amount  *uint256.Int   `json:"amount"`
}

func (*ScpBurn) TxType() TxType { return TxTypeScpBurn }

type ScpWithdraw struct {
	TxHeader
	Account common.Address `json:"account"`
	Amount  *uint256.Int   `json:"amount"`
}

func (*ScpWithdraw) TxType() TxType { return TxTypeScpWithdraw }

type ScpMulticall struct {
	TxHeader
	Ops []ledger.Op `json:"ops"`
}

func (*ScpMulticall) TxType() TxType { return TxTypeScpMulticall }

type SetScpMoverStatuses struct {
	TxHeader
	Movers   []common.Address `json:"movers"`
	Statuses []bool           `json:"statuses"`
}

func (*SetScpMoverStatuses) TxType() TxType { return TxTypeSetScpMoverStatuses }

// SetScpRetainerStatuses names retainers by address; each must resolve to
// a deployed contract that reports a minimum SCP requirement.
type SetScpRetainerStatuses struct {
	TxHeader
	Retainers []common.Address `json:"retainers"`
	Statuses  []bool           `json:"statuses"`
}

func (*SetScpRetainerStatuses) TxType() TxType { return TxTypeSetScpRetainerStatuses }
