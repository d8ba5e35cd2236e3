package projection

import (
	"fmt"
	"sort"

	"CoverLedger/internal/chain"
	"CoverLedger/internal/core"
	"CoverLedger/internal/event"
	"CoverLedger/internal/ledger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// BalanceDelta is the signed change of one holder's SCP sub-balances.
type BalanceDelta struct {
	Holder        common.Address
	Refundable    decimal.Decimal
	NonRefundable decimal.Decimal
}

// PoolChange is one underwriting pool write. Removed pools have a zero
// Amount and Removed set.
type PoolChange struct {
	Provider common.Address
	Name     string
	Amount   decimal.Decimal
	Removed  bool
}

// Update is everything the projections derive from one transaction.
type Update struct {
	Sequence int64
	Receipt  event.Receipt
	Balances []BalanceDelta
	Pools    []PoolChange
}

// BuildUpdate derives projection changes from a core output. User
// accounts are debit-normal: a debit raises the balance.
func BuildUpdate(out core.CoreOutput) (Update, error) {
	env := out.Envelope
	u := Update{Sequence: env.Sequence, Receipt: env.Receipt()}

	deltas := make(map[common.Address]*BalanceDelta)
	apply := func(k ledger.AccountKey, amt decimal.Decimal) {
		if k.Scope != ledger.AccountScopeUser {
			return
		}
		d, ok := deltas[k.Holder]
		if !ok {
			d = &BalanceDelta{Holder: k.Holder}
			deltas[k.Holder] = d
		}
		if k.SubType == ledger.SubTypeRefundable {
			d.Refundable = d.Refundable.Add(amt)
		} else {
			d.NonRefundable = d.NonRefundable.Add(amt)
		}
	}
	for _, b := range out.Batches {
		for _, j := range b.Journals {
			amt := decimal.NewFromBigInt(j.Amount.ToBig(), 0)
			apply(j.DebitAccount, amt)
			apply(j.CreditAccount, amt.Neg())
		}
	}
	for _, d := range deltas {
		if d.Refundable.IsZero() && d.NonRefundable.IsZero() {
			continue
		}
		u.Balances = append(u.Balances, *d)
	}
	sort.Slice(u.Balances, func(i, j int) bool {
		return u.Balances[i].Holder.Cmp(u.Balances[j].Holder) < 0
	})

	for _, l := range env.Logs {
		switch l.Name {
		case "UnderwritingPoolSet":
			name, amount, err := poolFields(l, true)
			if err != nil {
				return Update{}, err
			}
			u.Pools = append(u.Pools, PoolChange{Provider: l.Address, Name: name, Amount: amount})
		case "UnderwritingPoolRemoved":
			name, _, err := poolFields(l, false)
			if err != nil {
				return Update{}, err
			}
			u.Pools = append(u.Pools, PoolChange{Provider: l.Address, Name: name, Removed: true})
		}
	}

	return u, nil
}

func poolFields(l chain.Log, withAmount bool) (string, decimal.Decimal, error) {
	name, ok := l.Data["uwpName"].(string)
	if !ok {
		return "", decimal.Zero, fmt.Errorf("%s: missing uwpName", l.Name)
	}
	if !withAmount {
		return name, decimal.Zero, nil
	}
	amt, ok := l.Data["amount"].(*uint256.Int)
	if !ok {
		return "", decimal.Zero, fmt.Errorf("%s %q: missing amount", l.Name, name)
	}
	return name, decimal.NewFromBigInt(amt.ToBig(), 0), nil
}
