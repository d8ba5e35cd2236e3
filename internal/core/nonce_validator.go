package core

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNonceTooLow = errors.New("nonce too low")
	ErrNonceGap    = errors.New("nonce gap")
)

// NonceValidator enforces strictly sequential nonces per sender, starting
// at zero. Reverted transactions consume their nonce; rejected ones do not.
type NonceValidator struct {
	next map[common.Address]uint64
}

func NewNonceValidator() *NonceValidator {
	return &NonceValidator{next: make(map[common.Address]uint64)}
}

// Validate consumes nonce if it is exactly the sender's next one.
func (nv *NonceValidator) Validate(sender common.Address, nonce uint64) error {
	switch expected := nv.next[sender]; {
	case nonce < expected:
		return fmt.Errorf("%w: sender=%s, expected=%d, got=%d", ErrNonceTooLow, sender.Hex(), expected, nonce)
	case nonce > expected:
		return fmt.Errorf("%w: sender=%s, expected=%d, got=%d", ErrNonceGap, sender.Hex(), expected, nonce)
	default:
		nv.next[sender] = expected + 1
		return nil
	}
}

// Next returns the nonce the sender must use next.
func (nv *NonceValidator) Next(sender common.Address) uint64 {
	return nv.next[sender]
}
