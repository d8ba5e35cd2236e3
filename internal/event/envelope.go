package event

import (
	"CoverLedger/internal/chain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// TxStatus is the outcome of applying a transaction.
type TxStatus int8

const (
	TxStatusApplied  TxStatus = 1
	TxStatusReverted TxStatus = 2
)

func (s TxStatus) String() string {
	switch s {
	case TxStatusApplied:
		return "applied"
	case TxStatusReverted:
		return "reverted"
	default:
		return "unknown"
	}
}

// TxEnvelope wraps every transaction in the log
type TxEnvelope struct {
	// Global monotonic sequence assigned by core
	Sequence int64

	TxID      uuid.UUID
	TxType    TxType
	From      common.Address
	To        common.Address
	Nonce     uint64
	Timestamp uint64

	// JSON-encoded transaction, replayable through Decode
	Payload []byte

	Status       TxStatus
	RevertReason string

	// Logs emitted by the transaction (empty when reverted)
	Logs []chain.Log

	// SHA-256 of state AFTER applying this transaction
	StateHash [32]byte

	// Previous transaction's state hash (chain integrity)
	PrevHash [32]byte
}

// Receipt is the outbound summary of a processed transaction.
type Receipt struct {
	Sequence     int64          `json:"sequence"`
	TxID         uuid.UUID      `json:"txId"`
	TxType       string         `json:"txType"`
	From         common.Address `json:"from"`
	To           common.Address `json:"to"`
	Nonce        uint64         `json:"nonce"`
	Status       string         `json:"status"`
	RevertReason string         `json:"revertReason,omitempty"`
	Logs         []chain.Log    `json:"logs"`
	StateHash    common.Hash    `json:"stateHash"`
	Timestamp    uint64         `json:"timestamp"`
}

// Receipt builds the outbound receipt for env.
func (env *TxEnvelope) Receipt() Receipt {
	logs := env.Logs
	if logs == nil {
		logs = []chain.Log{}
	}
	return Receipt{
		Sequence:     env.Sequence,
		TxID:         env.TxID,
		TxType:       env.TxType.String(),
		From:         env.From,
		To:           env.To,
		Nonce:        env.Nonce,
		Status:       env.Status.String(),
		RevertReason: env.RevertReason,
		Logs:         logs,
		StateHash:    common.Hash(env.StateHash),
		Timestamp:    env.Timestamp,
	}
}
