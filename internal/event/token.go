package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type TokenTransfer struct {
	TxHeader
	Recipient common.Address `json:"recipient"`
	Amount    *uint256.Int   `json:"amount"`
}

func (*TokenTransfer) TxType() TxType { return TxTypeTokenTransfer }

type TokenApprove struct {
	TxHeader
	Spender common.Address `json:"spender"`
	Amount  *uint256.Int   `json:"amount"`
}

func (*TokenApprove) TxType() TxType { return TxTypeTokenApprove }

type TokenMint struct {
	TxHeader
	Account common.Address `json:"account"`
	Amount  *uint256.Int   `json:"amount"`
}

func (*TokenMint) TxType() TxType { return TxTypeTokenMint }
