package ledger

import (
	"CoverLedger/internal/chain"
	"bytes"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// BalanceTracker maintains in-memory account balances on their normal side.
// Zero balances are not stored, so two trackers with the same balances have
// identical maps. Every write is journaled.
type BalanceTracker struct {
	journal  *chain.Journal
	balances map[AccountKey]uint256.Int
}

func NewBalanceTracker(j *chain.Journal) *BalanceTracker {
	return &BalanceTracker{
		journal:  j,
		balances: make(map[AccountKey]uint256.Int),
	}
}

// ApplyBatch applies all journals in a batch. Either every journal applies or
// none does.
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	next := make(map[AccountKey]uint256.Int)
	read := func(k AccountKey) uint256.Int {
		if v, ok := next[k]; ok {
			return v
		}
		return bt.balances[k]
	}

	for _, j := range batch.Journals {
		debit, err := post(read(j.DebitAccount), &j.Amount, j.DebitAccount.DebitNormal())
		if err != nil {
			return fmt.Errorf("journal %s debit %s: %w", j.JournalID, j.DebitAccount.AccountPath(), err)
		}
		next[j.DebitAccount] = debit

		credit, err := post(read(j.CreditAccount), &j.Amount, !j.CreditAccount.DebitNormal())
		if err != nil {
			return fmt.Errorf("journal %s credit %s: %w", j.JournalID, j.CreditAccount.AccountPath(), err)
		}
		next[j.CreditAccount] = credit
	}

	for _, k := range sortedKeys(next) {
		v := next[k]
		if v.IsZero() {
			chain.MapDelete(bt.journal, bt.balances, k)
		} else {
			chain.MapSet(bt.journal, bt.balances, k, v)
		}
	}
	return nil
}

// post adds amount to bal when the entry is on the account's normal side and
// subtracts it otherwise.
func post(bal uint256.Int, amount *uint256.Int, increase bool) (uint256.Int, error) {
	var out uint256.Int
	if increase {
		if _, overflow := out.AddOverflow(&bal, amount); overflow {
			return bal, fmt.Errorf("balance overflow")
		}
		return out, nil
	}
	if _, underflow := out.SubOverflow(&bal, amount); underflow {
		return bal, fmt.Errorf("insufficient balance: have=%s, need=%s", bal.Dec(), amount.Dec())
	}
	return out, nil
}

// GetBalance returns the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) *uint256.Int {
	v := bt.balances[key]
	return new(uint256.Int).Set(&v)
}

// === Holder Balance Queries ===

// GetHolderBalance returns refundable + non-refundable
func (bt *BalanceTracker) GetHolderBalance(holder common.Address) *uint256.Int {
	r := bt.GetRefundable(holder)
	return r.Add(r, bt.GetNonRefundable(holder))
}

func (bt *BalanceTracker) GetRefundable(holder common.Address) *uint256.Int {
	return bt.GetBalance(NewUserAccountKey(holder, SubTypeRefundable))
}

func (bt *BalanceTracker) GetNonRefundable(holder common.Address) *uint256.Int {
	return bt.GetBalance(NewUserAccountKey(holder, SubTypeNonRefundable))
}

// GetIssuance returns the issuance balance, which equals totalSupply
func (bt *BalanceTracker) GetIssuance() *uint256.Int {
	return bt.GetBalance(NewIssuanceAccountKey())
}

// ValidateSufficientRefundable checks that holder can release required from
// the refundable sub-account.
func (bt *BalanceTracker) ValidateSufficientRefundable(holder common.Address, required *uint256.Int) error {
	r := bt.GetRefundable(holder)
	if r.Lt(required) {
		return fmt.Errorf("insufficient refundable balance: have=%s, need=%s", r.Dec(), required.Dec())
	}
	return nil
}

// Holders returns every holder with a non-zero balance, sorted by address.
func (bt *BalanceTracker) Holders() []common.Address {
	seen := make(map[common.Address]struct{})
	var out []common.Address
	for k := range bt.balances {
		if k.Scope != AccountScopeUser {
			continue
		}
		if _, ok := seen[k.Holder]; ok {
			continue
		}
		seen[k.Holder] = struct{}{}
		out = append(out, k.Holder)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

// SortedKeys returns all non-zero accounts in a canonical order (for state hashing)
func (bt *BalanceTracker) SortedKeys() []AccountKey {
	return sortedKeys(bt.balances)
}

func sortedKeys(m map[AccountKey]uint256.Int) []AccountKey {
	keys := make([]AccountKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.Scope != b.Scope {
			return a.Scope < b.Scope
		}
		if c := bytes.Compare(a.Holder[:], b.Holder[:]); c != 0 {
			return c < 0
		}
		return a.SubType < b.SubType
	})
	return keys
}
