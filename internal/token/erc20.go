package token

import (
	"CoverLedger/internal/chain"
	fpmath "CoverLedger/internal/math"
	"CoverLedger/internal/signer"
	"bytes"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

var (
	ErrTransferExceedsBalance = chain.Revert("ERC20: transfer amount exceeds balance")
	ErrInsufficientAllowance  = chain.Revert("ERC20: insufficient allowance")
	ErrTransferFromZero       = chain.Revert("ERC20: transfer from the zero address")
	ErrTransferToZero         = chain.Revert("ERC20: transfer to the zero address")
	ErrMintToZero             = chain.Revert("ERC20: mint to the zero address")
	ErrApproveZero            = chain.Revert("ERC20: approve to the zero address")
	ErrPermitExpired          = chain.Revert("ERC20Permit: expired deadline")
	ErrPermitInvalidSignature = chain.Revert("ERC20Permit: invalid signature")
	ErrNotMinter              = chain.Revert("!minter")
)

var PermitTypeHash = crypto.Keccak256Hash([]byte("Permit(address owner,address spender,uint256 value,uint256 nonce,uint256 deadline)"))

// Receiver is notified after tokens land on a contract address. Tokens with
// transfer hooks can reenter the recipient here.
type Receiver interface {
	OnTokenReceived(token, from common.Address, amount *uint256.Int) error
}

// ERC20 is an in-memory journaled token with EIP-2612 permits. It stands in
// for the stablecoins and the SOLACE refund token that the payment manager
// pulls from and pays out.
type ERC20 struct {
	*chain.Governable

	env      *chain.Env
	address  common.Address
	name     string
	symbol   string
	decimals uint8

	totalSupply uint256.Int
	balances    map[common.Address]uint256.Int
	allowances  map[[2]common.Address]uint256.Int
	nonces      map[common.Address]uint64
	minters     *chain.AddressSet
	receivers   map[common.Address]Receiver
}

func NewERC20(env *chain.Env, address, governance common.Address, name, symbol string, decimals uint8) (*ERC20, error) {
	gov, err := chain.NewGovernable(env, address, governance)
	if err != nil {
		return nil, err
	}
	return &ERC20{
		Governable: gov,
		env:        env,
		address:    address,
		name:       name,
		symbol:     symbol,
		decimals:   decimals,
		balances:   make(map[common.Address]uint256.Int),
		allowances: make(map[[2]common.Address]uint256.Int),
		nonces:     make(map[common.Address]uint64),
		minters:    chain.NewAddressSet(env.Journal),
		receivers:  make(map[common.Address]Receiver),
	}, nil
}

func (t *ERC20) Address() common.Address { return t.address }
func (t *ERC20) Name() string            { return t.name }
func (t *ERC20) Symbol() string          { return t.symbol }
func (t *ERC20) Decimals() uint8         { return t.decimals }

func (t *ERC20) TotalSupply() *uint256.Int {
	return fpmath.Clone(&t.totalSupply)
}

func (t *ERC20) BalanceOf(account common.Address) *uint256.Int {
	v := t.balances[account]
	return fpmath.Clone(&v)
}

func (t *ERC20) Allowance(owner, spender common.Address) *uint256.Int {
	v := t.allowances[[2]common.Address{owner, spender}]
	return fpmath.Clone(&v)
}

func (t *ERC20) Nonces(owner common.Address) uint64 {
	return t.nonces[owner]
}

// RegisterReceiver installs a transfer hook for a contract address. Not
// journaled; wiring happens at genesis.
func (t *ERC20) RegisterReceiver(addr common.Address, r Receiver) {
	t.receivers[addr] = r
}

func (t *ERC20) Transfer(caller, to common.Address, amount *uint256.Int) error {
	return t.transfer(caller, to, amount)
}

func (t *ERC20) Approve(caller, spender common.Address, amount *uint256.Int) error {
	return t.approve(caller, spender, amount)
}

func (t *ERC20) TransferFrom(caller, from, to common.Address, amount *uint256.Int) error {
	if err := t.spendAllowance(from, caller, amount); err != nil {
		return err
	}
	return t.transfer(from, to, amount)
}

// Permit sets an allowance from an owner's EIP-712 signature.
func (t *ERC20) Permit(owner, spender common.Address, value, deadline *uint256.Int, v uint8, r, s [32]byte) error {
	if uint256.NewInt(t.env.Now()).Gt(deadline) {
		return ErrPermitExpired
	}
	nonce := t.nonces[owner]
	sig := make([]byte, 0, 65)
	sig = append(sig, r[:]...)
	sig = append(sig, s[:]...)
	sig = append(sig, v)

	recovered, err := signer.Recover(t.PermitDigest(owner, spender, value, nonce, deadline), sig)
	if err != nil || recovered != owner {
		return ErrPermitInvalidSignature
	}
	chain.MapSet(t.env.Journal, t.nonces, owner, nonce+1)
	return t.approve(owner, spender, value)
}

// Domain returns the token's EIP-712 permit domain.
func (t *ERC20) Domain() signer.Domain {
	return signer.Domain{
		Name:              t.name,
		Version:           "1",
		ChainID:           t.env.ChainID,
		VerifyingContract: t.address,
	}
}

// PermitDigest returns the digest an owner signs to grant a permit.
func (t *ERC20) PermitDigest(owner, spender common.Address, value *uint256.Int, nonce uint64, deadline *uint256.Int) common.Hash {
	structHash := crypto.Keccak256Hash(
		PermitTypeHash.Bytes(),
		signer.AddressWord(owner),
		signer.AddressWord(spender),
		signer.Word(value),
		signer.Word(uint256.NewInt(nonce)),
		signer.Word(deadline),
	)
	return t.Domain().Digest(structHash)
}

// Mint is restricted to minters.
func (t *ERC20) Mint(caller, to common.Address, amount *uint256.Int) error {
	if !t.minters.Contains(caller) {
		return ErrNotMinter
	}
	return t.mint(to, amount)
}

func (t *ERC20) AddMinter(caller, minter common.Address) error {
	if err := t.OnlyGovernance(caller); err != nil {
		return err
	}
	t.minters.Add(minter)
	t.env.Emit(t.address, "MinterAdded", chain.Fields{"minter": minter})
	return nil
}

func (t *ERC20) IsMinter(account common.Address) bool {
	return t.minters.Contains(account)
}

func (t *ERC20) mint(to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrMintToZero
	}
	supply, err := fpmath.Add(&t.totalSupply, amount)
	if err != nil {
		return err
	}
	bal := t.balances[to]
	newBal, err := fpmath.Add(&bal, amount)
	if err != nil {
		return err
	}
	chain.Assign(t.env.Journal, &t.totalSupply, *supply)
	chain.MapSet(t.env.Journal, t.balances, to, *newBal)
	t.env.Emit(t.address, "Transfer", chain.Fields{"from": common.Address{}, "to": to, "value": fpmath.Clone(amount)})
	return nil
}

func (t *ERC20) transfer(from, to common.Address, amount *uint256.Int) error {
	if from == (common.Address{}) {
		return ErrTransferFromZero
	}
	if to == (common.Address{}) {
		return ErrTransferToZero
	}
	fromBal := t.balances[from]
	if fromBal.Lt(amount) {
		return ErrTransferExceedsBalance
	}
	chain.MapSet(t.env.Journal, t.balances, from, *new(uint256.Int).Sub(&fromBal, amount))
	toBal := t.balances[to]
	chain.MapSet(t.env.Journal, t.balances, to, *new(uint256.Int).Add(&toBal, amount))
	t.env.Emit(t.address, "Transfer", chain.Fields{"from": from, "to": to, "value": fpmath.Clone(amount)})

	if r, ok := t.receivers[to]; ok {
		return r.OnTokenReceived(t.address, from, amount)
	}
	return nil
}

func (t *ERC20) approve(owner, spender common.Address, amount *uint256.Int) error {
	if spender == (common.Address{}) {
		return ErrApproveZero
	}
	chain.MapSet(t.env.Journal, t.allowances, [2]common.Address{owner, spender}, *fpmath.Clone(amount))
	t.env.Emit(t.address, "Approval", chain.Fields{"owner": owner, "spender": spender, "value": fpmath.Clone(amount)})
	return nil
}

func (t *ERC20) spendAllowance(owner, spender common.Address, amount *uint256.Int) error {
	key := [2]common.Address{owner, spender}
	current := t.allowances[key]
	if current.Eq(maxAllowance) {
		return nil
	}
	if current.Lt(amount) {
		return ErrInsufficientAllowance
	}
	chain.MapSet(t.env.Journal, t.allowances, key, *new(uint256.Int).Sub(&current, amount))
	return nil
}

var maxAllowance = new(uint256.Int).SetAllOne()

func (t *ERC20) AppendState(b []byte) []byte {
	b = t.Governable.AppendState(b)
	b = chain.AppendWord(b, &t.totalSupply)
	b = chain.AppendAddressSet(b, t.minters)

	holders := make([]common.Address, 0, len(t.balances))
	for a := range t.balances {
		holders = append(holders, a)
	}
	slices.SortFunc(holders, func(x, y common.Address) int { return bytes.Compare(x[:], y[:]) })
	b = chain.AppendUint64(b, uint64(len(holders)))
	for _, a := range holders {
		v := t.balances[a]
		b = chain.AppendAddress(b, a)
		b = chain.AppendWord(b, &v)
	}

	pairs := make([][2]common.Address, 0, len(t.allowances))
	for p := range t.allowances {
		pairs = append(pairs, p)
	}
	slices.SortFunc(pairs, func(x, y [2]common.Address) int {
		if c := bytes.Compare(x[0][:], y[0][:]); c != 0 {
			return c
		}
		return bytes.Compare(x[1][:], y[1][:])
	})
	b = chain.AppendUint64(b, uint64(len(pairs)))
	for _, p := range pairs {
		v := t.allowances[p]
		b = chain.AppendAddress(b, p[0])
		b = chain.AppendAddress(b, p[1])
		b = chain.AppendWord(b, &v)
	}

	nonced := make([]common.Address, 0, len(t.nonces))
	for a := range t.nonces {
		nonced = append(nonced, a)
	}
	slices.SortFunc(nonced, func(x, y common.Address) int { return bytes.Compare(x[:], y[:]) })
	b = chain.AppendUint64(b, uint64(len(nonced)))
	for _, a := range nonced {
		b = chain.AppendAddress(b, a)
		b = chain.AppendUint64(b, t.nonces[a])
	}
	return b
}
