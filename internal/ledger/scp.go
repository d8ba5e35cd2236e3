package ledger

import (
	"CoverLedger/internal/chain"
	fpmath "CoverLedger/internal/math"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrNotScpMover            = chain.Revert("!scp mover")
	ErrMintToZero             = chain.Revert("SCP: mint to the zero address")
	ErrBurnFromZero           = chain.Revert("SCP: burn from the zero address")
	ErrBurnExceedsBalance     = chain.Revert("SCP: burn amount exceeds balance")
	ErrTransferFromZero       = chain.Revert("SCP: transfer from the zero address")
	ErrTransferToZero         = chain.Revert("SCP: transfer to the zero address")
	ErrTransferExceedsBalance = chain.Revert("SCP: transfer amount exceeds balance")
	ErrWithdrawFromZero       = chain.Revert("SCP: withdraw from the zero address")
	ErrWithdrawExceedsBalance = chain.Revert("SCP: withdraw amount exceeds balance")
	ErrWithdrawBelowMin       = chain.Revert("SCP: withdraw to below min")
	ErrApproveNotAllowed      = chain.Revert("SCP: approve not allowed")
	ErrZeroAddressMover       = chain.Revert("zero address mover")
	ErrZeroAddressRetainer    = chain.Revert("zero address retainer")
	ErrInvalidOp              = chain.Revert("SCP: invalid op")
)

const (
	Name     = "scp"
	Symbol   = "SCP"
	Decimals = 18
)

// Retainer imposes a minimum SCP balance on holders, e.g. to back active
// policies. Retainers are queried live on every withdraw.
type Retainer interface {
	chain.Contract
	MinScpRequired(holder common.Address) (*uint256.Int, error)
}

// SCP is the Stable Credit Point ledger: a mover-gated credit balance split
// into refundable and non-refundable sub-accounts, backed by the
// double-entry tracker. totalSupply is the issuance account.
type SCP struct {
	*chain.Governable

	env     *chain.Env
	address common.Address

	tracker   *BalanceTracker
	validator *InvariantValidator
	generator *JournalGenerator

	movers        *chain.AddressSet
	retainers     *chain.AddressSet
	retainerImpls map[common.Address]Retainer

	batches []*Batch
}

func NewSCP(env *chain.Env, address, governance common.Address) (*SCP, error) {
	gov, err := chain.NewGovernable(env, address, governance)
	if err != nil {
		return nil, err
	}
	tracker := NewBalanceTracker(env.Journal)
	return &SCP{
		Governable:    gov,
		env:           env,
		address:       address,
		tracker:       tracker,
		validator:     NewInvariantValidator(tracker),
		generator:     NewJournalGenerator(),
		movers:        chain.NewAddressSet(env.Journal),
		retainers:     chain.NewAddressSet(env.Journal),
		retainerImpls: make(map[common.Address]Retainer),
	}, nil
}

func (s *SCP) Address() common.Address { return s.address }

// Generator exposes the journal generator so the executing core can bind it
// to the current transaction.
func (s *SCP) Generator() *JournalGenerator { return s.generator }

// Validator exposes the invariant validator for audits.
func (s *SCP) Validator() *InvariantValidator { return s.validator }

// DrainBatches returns the journal batches applied since the last drain.
func (s *SCP) DrainBatches() []*Batch {
	out := s.batches
	s.batches = nil
	return out
}

// === ERC20 view surface ===

func (s *SCP) Name() string    { return Name }
func (s *SCP) Symbol() string  { return Symbol }
func (s *SCP) Decimals() uint8 { return Decimals }

func (s *SCP) TotalSupply() *uint256.Int {
	return s.tracker.GetIssuance()
}

func (s *SCP) BalanceOf(holder common.Address) *uint256.Int {
	return s.tracker.GetHolderBalance(holder)
}

func (s *SCP) BalanceOfNonRefundable(holder common.Address) *uint256.Int {
	return s.tracker.GetNonRefundable(holder)
}

// Allowance is always zero. Movement is exclusively mover-gated.
func (s *SCP) Allowance(_, _ common.Address) *uint256.Int {
	return fpmath.Zero()
}

// Approve is disabled.
func (s *SCP) Approve(_, _ common.Address, _ *uint256.Int) error {
	return ErrApproveNotAllowed
}

// === Movement ===

func (s *SCP) onlyMover(caller common.Address) error {
	if !s.movers.Contains(caller) {
		return ErrNotScpMover
	}
	return nil
}

func (s *SCP) apply(b *Batch) error {
	if len(b.Journals) == 0 {
		return nil
	}
	if err := s.tracker.ApplyBatch(b); err != nil {
		// Callers check balances before generating; reaching this is a bug.
		panic(fmt.Sprintf("FATAL: scp batch %s rejected: %v", b.BatchID, err))
	}
	s.batches = append(s.batches, b)
	s.env.Journal.Append(func() {
		s.batches = s.batches[:len(s.batches)-1]
	})
	return nil
}

// Mint issues amount to to. Non-refundable mints raise the holder's
// non-refundable balance by the same amount.
func (s *SCP) Mint(caller, to common.Address, amount *uint256.Int, isRefundable bool) error {
	if err := s.onlyMover(caller); err != nil {
		return err
	}
	return s.mint(to, amount, isRefundable)
}

func (s *SCP) mint(to common.Address, amount *uint256.Int, isRefundable bool) error {
	if to == (common.Address{}) {
		return ErrMintToZero
	}
	if _, err := fpmath.Add(s.TotalSupply(), amount); err != nil {
		return err
	}
	if err := s.apply(s.generator.GenerateMint(to, amount, isRefundable)); err != nil {
		return err
	}
	s.env.Emit(s.address, "Transfer", chain.Fields{"from": common.Address{}, "to": to, "value": fpmath.Clone(amount)})
	return nil
}

// MintMultiple mints to each account in order. Any failure reverts all.
func (s *SCP) MintMultiple(caller common.Address, accounts []common.Address, amounts []*uint256.Int, isRefundables []bool) error {
	if err := s.onlyMover(caller); err != nil {
		return err
	}
	if len(accounts) != len(amounts) || len(accounts) != len(isRefundables) {
		return chain.ErrLengthMismatch
	}
	return s.env.Atomic(func() error {
		for i := range accounts {
			if err := s.mint(accounts[i], amounts[i], isRefundables[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// Transfer moves the caller's own SCP. Only movers may hold and move SCP
// on their own behalf.
func (s *SCP) Transfer(caller, to common.Address, amount *uint256.Int) error {
	if err := s.onlyMover(caller); err != nil {
		return err
	}
	return s.transfer(caller, to, amount)
}

// TransferFrom moves SCP between any two holders. There is no allowance
// check; the mover role is the authorization.
func (s *SCP) TransferFrom(caller, from, to common.Address, amount *uint256.Int) error {
	if err := s.onlyMover(caller); err != nil {
		return err
	}
	return s.transfer(from, to, amount)
}

func (s *SCP) transfer(from, to common.Address, amount *uint256.Int) error {
	if from == (common.Address{}) {
		return ErrTransferFromZero
	}
	if to == (common.Address{}) {
		return ErrTransferToZero
	}
	if s.BalanceOf(from).Lt(amount) {
		return ErrTransferExceedsBalance
	}

	if from != to {
		// Non-refundable units move first.
		nr := fpmath.Min(amount, s.BalanceOfNonRefundable(from))
		r := new(uint256.Int).Sub(amount, nr)
		if err := s.apply(s.generator.GenerateTransfer(from, to, nr, r)); err != nil {
			return err
		}
	}
	s.env.Emit(s.address, "Transfer", chain.Fields{"from": from, "to": to, "value": fpmath.Clone(amount)})
	return nil
}

// Burn retires amount from holder with no minimum-balance floor.
func (s *SCP) Burn(caller, from common.Address, amount *uint256.Int) error {
	if err := s.onlyMover(caller); err != nil {
		return err
	}
	return s.burn(from, amount)
}

func (s *SCP) burn(from common.Address, amount *uint256.Int) error {
	if from == (common.Address{}) {
		return ErrBurnFromZero
	}
	if s.BalanceOf(from).Lt(amount) {
		return ErrBurnExceedsBalance
	}
	nr := fpmath.Min(amount, s.BalanceOfNonRefundable(from))
	r := new(uint256.Int).Sub(amount, nr)
	if err := s.apply(s.generator.GenerateBurn(from, nr, r)); err != nil {
		return err
	}
	s.env.Emit(s.address, "Transfer", chain.Fields{"from": from, "to": common.Address{}, "value": fpmath.Clone(amount)})
	return nil
}

// BurnMultiple burns from each account in order. Any failure reverts all.
func (s *SCP) BurnMultiple(caller common.Address, accounts []common.Address, amounts []*uint256.Int) error {
	if err := s.onlyMover(caller); err != nil {
		return err
	}
	if len(accounts) != len(amounts) {
		return chain.ErrLengthMismatch
	}
	return s.env.Atomic(func() error {
		for i := range accounts {
			if err := s.burn(accounts[i], amounts[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// Withdraw retires refundable SCP from holder. The amount must fit in the
// refundable portion and the remaining balance must stay at or above
// MinScpRequired(holder).
func (s *SCP) Withdraw(caller, from common.Address, amount *uint256.Int) error {
	if err := s.onlyMover(caller); err != nil {
		return err
	}
	return s.withdraw(from, amount)
}

func (s *SCP) withdraw(from common.Address, amount *uint256.Int) error {
	if from == (common.Address{}) {
		return ErrWithdrawFromZero
	}
	balance := s.BalanceOf(from)
	if err := s.tracker.ValidateSufficientRefundable(from, amount); err != nil {
		return ErrWithdrawExceedsBalance
	}
	minRequired, err := s.MinScpRequired(from)
	if err != nil {
		return err
	}
	remaining := new(uint256.Int).Sub(balance, amount)
	if remaining.Lt(minRequired) {
		return ErrWithdrawBelowMin
	}
	if err := s.apply(s.generator.GenerateWithdraw(from, amount)); err != nil {
		return err
	}
	s.env.Emit(s.address, "Transfer", chain.Fields{"from": from, "to": common.Address{}, "value": fpmath.Clone(amount)})
	return nil
}

// MinScpRequired sums every registered retainer's minimum for holder.
func (s *SCP) MinScpRequired(holder common.Address) (*uint256.Int, error) {
	total := fpmath.Zero()
	for _, addr := range s.retainers.Keys() {
		r, ok := s.retainerImpls[addr]
		if !ok {
			continue
		}
		m, err := r.MinScpRequired(holder)
		if err != nil {
			return nil, err
		}
		if total, err = fpmath.Add(total, m); err != nil {
			return nil, err
		}
	}
	return total, nil
}

// === Roles ===

func (s *SCP) IsScpMover(account common.Address) bool { return s.movers.Contains(account) }
func (s *SCP) ScpMoverLength() int                    { return s.movers.Len() }

// ScpMoverList returns the mover at 1-based index i.
func (s *SCP) ScpMoverList(i int) (common.Address, error) {
	m, ok := s.movers.At(i)
	if !ok {
		return common.Address{}, chain.ErrIndexOutOfBounds
	}
	return m, nil
}

func (s *SCP) IsScpRetainer(account common.Address) bool { return s.retainers.Contains(account) }
func (s *SCP) ScpRetainerLength() int                    { return s.retainers.Len() }

// ScpRetainerList returns the retainer at 1-based index i.
func (s *SCP) ScpRetainerList(i int) (common.Address, error) {
	r, ok := s.retainers.At(i)
	if !ok {
		return common.Address{}, chain.ErrIndexOutOfBounds
	}
	return r, nil
}

// SetScpMoverStatuses adds or removes movers.
func (s *SCP) SetScpMoverStatuses(caller common.Address, movers []common.Address, statuses []bool) error {
	if err := s.OnlyGovernance(caller); err != nil {
		return err
	}
	if len(movers) != len(statuses) {
		return chain.ErrLengthMismatch
	}
	for _, m := range movers {
		if m == (common.Address{}) {
			return ErrZeroAddressMover
		}
	}
	for i, m := range movers {
		if statuses[i] {
			s.movers.Add(m)
		} else {
			s.movers.Remove(m)
		}
		s.env.Emit(s.address, "ScpMoverStatusSet", chain.Fields{"scpMover": m, "status": statuses[i]})
	}
	return nil
}

// SetScpRetainerStatuses adds or removes retainers.
func (s *SCP) SetScpRetainerStatuses(caller common.Address, retainers []Retainer, statuses []bool) error {
	if err := s.OnlyGovernance(caller); err != nil {
		return err
	}
	if len(retainers) != len(statuses) {
		return chain.ErrLengthMismatch
	}
	for _, r := range retainers {
		if r == nil || r.Address() == (common.Address{}) {
			return ErrZeroAddressRetainer
		}
	}
	for i, r := range retainers {
		addr := r.Address()
		if statuses[i] {
			s.retainers.Add(addr)
			chain.MapSet(s.env.Journal, s.retainerImpls, addr, r)
		} else {
			s.retainers.Remove(addr)
			chain.MapDelete(s.env.Journal, s.retainerImpls, addr)
		}
		s.env.Emit(s.address, "ScpRetainerStatusSet", chain.Fields{"scpRetainer": addr, "status": statuses[i]})
	}
	return nil
}

// AppendState appends governance, the role sets and every non-zero account
// balance in canonical key order.
func (s *SCP) AppendState(b []byte) []byte {
	b = s.Governable.AppendState(b)
	b = chain.AppendAddressSet(b, s.movers)
	b = chain.AppendAddressSet(b, s.retainers)
	keys := s.tracker.SortedKeys()
	b = chain.AppendUint64(b, uint64(len(keys)))
	for _, k := range keys {
		b = chain.AppendString(b, AccountPath(k))
		b = chain.AppendWord(b, s.tracker.GetBalance(k))
	}
	return b
}
