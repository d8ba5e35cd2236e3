package ledger

import (
	"CoverLedger/internal/chain"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// OpKind names a sub-call of Multicall.
type OpKind uint8

const (
	OpMint OpKind = iota + 1
	OpTransfer
	OpTransferFrom
	OpBurn
	OpWithdraw
)

var opKindNames = map[OpKind]string{
	OpMint:         "mint",
	OpTransfer:     "transfer",
	OpTransferFrom: "transferFrom",
	OpBurn:         "burn",
	OpWithdraw:     "withdraw",
}

func (k OpKind) String() string {
	if n, ok := opKindNames[k]; ok {
		return n
	}
	return fmt.Sprintf("op(%d)", uint8(k))
}

func (k OpKind) MarshalText() ([]byte, error) {
	n, ok := opKindNames[k]
	if !ok {
		return nil, fmt.Errorf("unknown op kind %d", uint8(k))
	}
	return []byte(n), nil
}

func (k *OpKind) UnmarshalText(b []byte) error {
	for kind, n := range opKindNames {
		if n == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown op kind %q", string(b))
}

// Op is one sub-call of a Multicall. Fields not used by Kind are ignored.
type Op struct {
	Kind         OpKind         `json:"kind"`
	From         common.Address `json:"from,omitempty"`
	To           common.Address `json:"to,omitempty"`
	Amount       *uint256.Int   `json:"amount"`
	IsRefundable bool           `json:"isRefundable,omitempty"`
}

// Multicall executes ops in order on behalf of caller. If any op fails the
// whole batch is rolled back and the error of the failing op is returned.
func (s *SCP) Multicall(caller common.Address, ops []Op) error {
	return s.env.Atomic(func() error {
		for i, op := range ops {
			if err := s.call(caller, op); err != nil {
				return fmt.Errorf("multicall op %d (%s): %w", i, op.Kind, err)
			}
		}
		return nil
	})
}

func (s *SCP) call(caller common.Address, op Op) error {
	if op.Amount == nil {
		return ErrInvalidOp
	}
	switch op.Kind {
	case OpMint:
		return s.Mint(caller, op.To, op.Amount, op.IsRefundable)
	case OpTransfer:
		return s.Transfer(caller, op.To, op.Amount)
	case OpTransferFrom:
		return s.TransferFrom(caller, op.From, op.To, op.Amount)
	case OpBurn:
		return s.Burn(caller, op.From, op.Amount)
	case OpWithdraw:
		return s.Withdraw(caller, op.From, op.Amount)
	default:
		return ErrInvalidOp
	}
}

var _ chain.Contract = (*SCP)(nil)
