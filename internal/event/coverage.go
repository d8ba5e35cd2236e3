package event

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// UwpSet writes a single pool valuation (V1).
type UwpSet struct {
	TxHeader
	Name   string       `json:"name"`
	Amount *uint256.Int `json:"amount"`
}

func (*UwpSet) TxType() TxType { return TxTypeUwpSet }

// UwpReset replaces every pool valuation (V1).
type UwpReset struct {
	TxHeader
	Names   []string       `json:"names"`
	Amounts []*uint256.Int `json:"amounts"`
}

func (*UwpReset) TxType() TxType { return TxTypeUwpReset }

type UwpRemove struct {
	TxHeader
	Name string `json:"name"`
}

func (*UwpRemove) TxType() TxType { return TxTypeUwpRemove }

type SetUwpUpdater struct {
	TxHeader
	Updater common.Address `json:"updater"`
}

func (*SetUwpUpdater) TxType() TxType { return TxTypeSetUwpUpdater }

// UwpBatchSet replaces every pool valuation (V2).
type UwpBatchSet struct {
	TxHeader
	Names   []string       `json:"names"`
	Amounts []*uint256.Int `json:"amounts"`
}

func (*UwpBatchSet) TxType() TxType { return TxTypeUwpBatchSet }

type UwpBatchRemove struct {
	TxHeader
	Names []string `json:"names"`
}

func (*UwpBatchRemove) TxType() TxType { return TxTypeUwpBatchRemove }

type AddUwpUpdater struct {
	TxHeader
	Updater common.Address `json:"updater"`
}

func (*AddUwpUpdater) TxType() TxType { return TxTypeAddUwpUpdater }

type RemoveUwpUpdater struct {
	TxHeader
	Updater common.Address `json:"updater"`
}

func (*RemoveUwpUpdater) TxType() TxType { return TxTypeRemoveUwpUpdater }
