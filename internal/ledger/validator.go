package ledger

import (
	"fmt"

	"github.com/holiman/uint256"
)

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidateSupply verifies Σ holder balances == issuance (== totalSupply)
func (v *InvariantValidator) ValidateSupply() error {
	sum := new(uint256.Int)
	for _, k := range v.tracker.SortedKeys() {
		if k.Scope != AccountScopeUser {
			continue
		}
		bal := v.tracker.GetBalance(k)
		if _, overflow := sum.AddOverflow(sum, bal); overflow {
			return fmt.Errorf("holder balances overflow")
		}
	}

	issuance := v.tracker.GetIssuance()
	if !sum.Eq(issuance) {
		return fmt.Errorf("holder balances %s do not match issuance %s", sum.Dec(), issuance.Dec())
	}
	return nil
}

// ValidateNonRefundableWithinBalance checks nonRefundable <= balance for
// every holder.
func (v *InvariantValidator) ValidateNonRefundableWithinBalance() error {
	for _, h := range v.tracker.Holders() {
		if v.tracker.GetNonRefundable(h).Gt(v.tracker.GetHolderBalance(h)) {
			return fmt.Errorf("holder %s has non-refundable above balance", h.Hex())
		}
	}
	return nil
}

// ValidateAll runs every global invariant.
func (v *InvariantValidator) ValidateAll() error {
	if err := v.ValidateSupply(); err != nil {
		return err
	}
	return v.ValidateNonRefundableWithinBalance()
}
