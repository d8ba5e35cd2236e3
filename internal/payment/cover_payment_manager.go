package payment

import (
	"CoverLedger/internal/chain"
	fpmath "CoverLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrZeroAddressSCP          = chain.Revert("zero address scp")
	ErrZeroAddressSolace       = chain.Revert("zero address solace")
	ErrZeroAddressPremiumPool  = chain.Revert("zero address premium pool")
	ErrZeroAddressSigner       = chain.Revert("zero address signer")
	ErrZeroAddressToken        = chain.Revert("zero address token")
	ErrZeroAddressReceiver     = chain.Revert("zero address receiver")
	ErrUnknownToken            = chain.Revert("unknown token contract")
	ErrTokenNotAccepted        = chain.Revert("token not accepted")
	ErrTokenNotStable          = chain.Revert("token not stable")
	ErrTokenNotNonStable       = chain.Revert("token not non-stable")
	ErrTokenNotPermittable     = chain.Revert("token not permittable")
	ErrInvalidTokenPrice       = chain.Revert("invalid token price")
	ErrInvalidSolacePrice      = chain.Revert("invalid solace price")
	ErrZeroAmountWithdraw      = chain.Revert("zero amount withdraw")
	ErrWithdrawExceedsBalance  = chain.Revert("withdraw amount exceeds balance")
	ErrInsufficientPoolBalance = chain.Revert("insufficient pool liquidity")
	ErrPaused                  = chain.Revert("contract paused")
	ErrInvalidProductCaller    = chain.Revert("invalid product caller")
	ErrZeroAddressProduct      = chain.Revert("zero address product")
)

// Token is the ERC-20 surface the manager pulls deposits through and pays
// refunds out of.
type Token interface {
	chain.Contract
	BalanceOf(account common.Address) *uint256.Int
	TransferFrom(caller, from, to common.Address, amount *uint256.Int) error
	Permit(owner, spender common.Address, value, deadline *uint256.Int, v uint8, r, s [32]byte) error
}

// Ledger is the SCP surface. The manager must be an SCP mover.
type Ledger interface {
	chain.Contract
	Mint(caller, to common.Address, amount *uint256.Int, isRefundable bool) error
	Withdraw(caller, from common.Address, amount *uint256.Int) error
	BurnMultiple(caller common.Address, accounts []common.Address, amounts []*uint256.Int) error
	BalanceOf(holder common.Address) *uint256.Int
	BalanceOfNonRefundable(holder common.Address) *uint256.Int
	MinScpRequired(holder common.Address) (*uint256.Int, error)
}

// PriceVerifier checks signed price attestations.
type PriceVerifier interface {
	chain.Contract
	VerifyPrice(token common.Address, price, deadline *uint256.Int, signature []byte) bool
}

// Directory resolves token addresses to their contracts.
type Directory interface {
	Lookup(addr common.Address) (chain.Contract, bool)
}

// TokenInfo describes how a deposit token is treated.
type TokenInfo struct {
	Token       common.Address `json:"token" yaml:"token"`
	Accepted    bool           `json:"accepted" yaml:"accepted"`
	Permittable bool           `json:"permittable" yaml:"permittable"`
	Refundable  bool           `json:"refundable" yaml:"refundable"`
	Stable      bool           `json:"stable" yaml:"stable"`
}

// PermitSig is an EIP-2612 signature split into its components.
type PermitSig struct {
	V uint8    `json:"v"`
	R [32]byte `json:"r"`
	S [32]byte `json:"s"`
}

// CoverPaymentManager converts deposited tokens into SCP and pays SOLACE
// refunds out of the premium pool.
type CoverPaymentManager struct {
	*chain.Governable

	env       *chain.Env
	address   common.Address
	directory Directory
	guard     chain.ReentrancyGuard

	registry    *chain.Registry
	scp         Ledger
	solace      Token
	premiumPool common.Address
	verifier    PriceVerifier

	tokens     []TokenInfo
	tokenIndex map[common.Address]int // index+1, 0 = absent
	products   *chain.AddressSet
	paused     bool
}

func NewCoverPaymentManager(env *chain.Env, address, governance common.Address, registry *chain.Registry, directory Directory) (*CoverPaymentManager, error) {
	gov, err := chain.NewGovernable(env, address, governance)
	if err != nil {
		return nil, err
	}
	m := &CoverPaymentManager{
		Governable: gov,
		env:        env,
		address:    address,
		directory:  directory,
		tokenIndex: make(map[common.Address]int),
		products:   chain.NewAddressSet(env.Journal),
	}
	if err := m.resolve(registry); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *CoverPaymentManager) Address() common.Address { return m.address }

func (m *CoverPaymentManager) resolve(registry *chain.Registry) error {
	if registry == nil {
		return chain.ErrZeroAddressValue
	}
	scp, err := lookup[Ledger](registry, chain.KeySCP, ErrZeroAddressSCP)
	if err != nil {
		return err
	}
	solace, err := lookup[Token](registry, chain.KeySolace, ErrZeroAddressSolace)
	if err != nil {
		return err
	}
	pool, err := lookup[chain.Contract](registry, chain.KeyPremiumPool, ErrZeroAddressPremiumPool)
	if err != nil {
		return err
	}
	verifier, err := lookup[PriceVerifier](registry, chain.KeySolaceSigner, ErrZeroAddressSigner)
	if err != nil {
		return err
	}

	chain.Assign(m.env.Journal, &m.registry, registry)
	chain.Assign(m.env.Journal, &m.scp, scp)
	chain.Assign(m.env.Journal, &m.solace, solace)
	chain.Assign(m.env.Journal, &m.premiumPool, pool.Address())
	chain.Assign(m.env.Journal, &m.verifier, verifier)
	m.env.Emit(m.address, "RegistrySet", chain.Fields{"registry": registry.Address()})
	return nil
}

// lookup fetches key from the registry and checks it has the wanted shape.
// A missing or zero entry reverts with zeroErr.
func lookup[T chain.Contract](registry *chain.Registry, key string, zeroErr error) (T, error) {
	var zero T
	c, ok := registry.TryGet(key)
	if !ok || c == nil || c.Address() == (common.Address{}) {
		return zero, zeroErr
	}
	v, ok := c.(T)
	if !ok {
		return zero, zeroErr
	}
	return v, nil
}

// SetRegistry re-resolves scp, solace, premium pool and signer.
func (m *CoverPaymentManager) SetRegistry(caller common.Address, registry *chain.Registry) error {
	if err := m.OnlyGovernance(caller); err != nil {
		return err
	}
	return m.resolve(registry)
}

func (m *CoverPaymentManager) Registry() *chain.Registry    { return m.registry }
func (m *CoverPaymentManager) SCP() common.Address          { return m.scp.Address() }
func (m *CoverPaymentManager) Solace() common.Address       { return m.solace.Address() }
func (m *CoverPaymentManager) PremiumPool() common.Address  { return m.premiumPool }
func (m *CoverPaymentManager) SolaceSigner() common.Address { return m.verifier.Address() }

// === Deposits ===

// DepositStable pulls amount of a stable token into the premium pool and
// mints the same amount of SCP to receiver.
func (m *CoverPaymentManager) DepositStable(caller, token, receiver common.Address, amount *uint256.Int) error {
	return m.nonReentrant(func() error {
		info, t, err := m.stableToken(token)
		if err != nil {
			return err
		}
		return m.deposit(caller, t, info, receiver, amount, amount)
	})
}

// DepositSignedStable is DepositStable with an EIP-2612 permit in place of
// a standing allowance.
func (m *CoverPaymentManager) DepositSignedStable(caller, token, receiver common.Address, amount, deadline *uint256.Int, sig PermitSig) error {
	return m.nonReentrant(func() error {
		info, t, err := m.stableToken(token)
		if err != nil {
			return err
		}
		if !info.Permittable {
			return ErrTokenNotPermittable
		}
		if err := t.Permit(caller, m.address, amount, deadline, sig.V, sig.R, sig.S); err != nil {
			return err
		}
		return m.deposit(caller, t, info, receiver, amount, amount)
	})
}

// DepositNonStable prices amount with a signed attestation and mints
// amount*price/1e18 SCP to receiver.
func (m *CoverPaymentManager) DepositNonStable(caller, token, receiver common.Address, amount, price, deadline *uint256.Int, signature []byte) error {
	return m.nonReentrant(func() error {
		info, t, err := m.acceptedToken(token)
		if err != nil {
			return err
		}
		if info.Stable {
			return ErrTokenNotNonStable
		}
		if price == nil || price.IsZero() || !m.verifier.VerifyPrice(token, price, deadline, signature) {
			return ErrInvalidTokenPrice
		}
		scpAmount, err := fpmath.MulDiv(amount, price, fpmath.Wad())
		if err != nil {
			return err
		}
		return m.deposit(caller, t, info, receiver, amount, scpAmount)
	})
}

// deposit mints before pulling the tokens. A failed pull reverts the mint.
func (m *CoverPaymentManager) deposit(caller common.Address, t Token, info TokenInfo, receiver common.Address, amount, scpAmount *uint256.Int) error {
	if receiver == (common.Address{}) {
		return ErrZeroAddressReceiver
	}
	return m.env.Atomic(func() error {
		if err := m.scp.Mint(m.address, receiver, scpAmount, info.Refundable); err != nil {
			return err
		}
		if err := t.TransferFrom(m.address, caller, m.premiumPool, amount); err != nil {
			return err
		}
		m.env.Emit(m.address, "TokenDeposited", chain.Fields{
			"token":     t.Address(),
			"depositor": caller,
			"receiver":  receiver,
			"amount":    fpmath.Clone(amount),
		})
		return nil
	})
}

// === Withdraw ===

// Withdraw burns the caller's refundable SCP worth amount SOLACE at the
// attested price and pays the SOLACE out of the premium pool.
func (m *CoverPaymentManager) Withdraw(caller common.Address, amount *uint256.Int, receiver common.Address, price, deadline *uint256.Int, signature []byte) error {
	return m.nonReentrant(func() error {
		if amount == nil || amount.IsZero() {
			return ErrZeroAmountWithdraw
		}
		if receiver == (common.Address{}) {
			return ErrZeroAddressReceiver
		}
		if price == nil || price.IsZero() || !m.verifier.VerifyPrice(m.solace.Address(), price, deadline, signature) {
			return ErrInvalidSolacePrice
		}
		refundable, err := m.GetRefundableSOLACEAmount(caller, price)
		if err != nil {
			return err
		}
		if amount.Gt(refundable) {
			return ErrWithdrawExceedsBalance
		}
		if m.solace.BalanceOf(m.premiumPool).Lt(amount) {
			return ErrInsufficientPoolBalance
		}
		scpAmount, err := fpmath.MulDiv(amount, price, fpmath.Wad())
		if err != nil {
			return err
		}

		return m.env.Atomic(func() error {
			if err := m.scp.Withdraw(m.address, caller, scpAmount); err != nil {
				return err
			}
			if err := m.solace.TransferFrom(m.address, m.premiumPool, receiver, amount); err != nil {
				return err
			}
			m.env.Emit(m.address, "TokenWithdrawn", chain.Fields{
				"depositor": caller,
				"receiver":  receiver,
				"amount":    fpmath.Clone(amount),
			})
			return nil
		})
	})
}

// GetRefundableSOLACEAmount is the SOLACE the holder could withdraw at
// price: the SCP that is both refundable and above the retainers' minimum,
// converted at 1e18/price.
func (m *CoverPaymentManager) GetRefundableSOLACEAmount(holder common.Address, price *uint256.Int) (*uint256.Int, error) {
	if price == nil || price.IsZero() {
		return nil, ErrInvalidSolacePrice
	}
	balance := m.scp.BalanceOf(holder)
	refundable := new(uint256.Int).Sub(balance, m.scp.BalanceOfNonRefundable(holder))
	minRequired, err := m.scp.MinScpRequired(holder)
	if err != nil {
		return nil, err
	}
	if minRequired.Gt(balance) {
		return fpmath.Zero(), nil
	}
	free := fpmath.Min(refundable, new(uint256.Int).Sub(balance, minRequired))
	return fpmath.MulDiv(free, fpmath.Wad(), price)
}

// === Premiums ===

// ChargePremiums burns each account's premium. Only registered products
// may charge.
func (m *CoverPaymentManager) ChargePremiums(caller common.Address, accounts []common.Address, premiums []*uint256.Int) error {
	if !m.products.Contains(caller) {
		return ErrInvalidProductCaller
	}
	if m.paused {
		return ErrPaused
	}
	if err := m.scp.BurnMultiple(m.address, accounts, premiums); err != nil {
		return err
	}
	m.env.Emit(m.address, "PremiumsCharged", chain.Fields{"product": caller, "accounts": len(accounts)})
	return nil
}

func (m *CoverPaymentManager) AddProduct(caller, product common.Address) error {
	if err := m.OnlyGovernance(caller); err != nil {
		return err
	}
	if product == (common.Address{}) {
		return ErrZeroAddressProduct
	}
	if _, added := m.products.Add(product); added {
		m.env.Emit(m.address, "ProductAdded", chain.Fields{"product": product})
	}
	return nil
}

func (m *CoverPaymentManager) RemoveProduct(caller, product common.Address) error {
	if err := m.OnlyGovernance(caller); err != nil {
		return err
	}
	if m.products.Remove(product) {
		m.env.Emit(m.address, "ProductRemoved", chain.Fields{"product": product})
	}
	return nil
}

func (m *CoverPaymentManager) ProductIsActive(product common.Address) bool {
	return m.products.Contains(product)
}

func (m *CoverPaymentManager) NumProducts() int { return m.products.Len() }

// === Tokens ===

// SetTokenInfo upserts each entry. Re-registering a token overwrites it in
// place.
func (m *CoverPaymentManager) SetTokenInfo(caller common.Address, tokens []TokenInfo) error {
	if err := m.OnlyGovernance(caller); err != nil {
		return err
	}
	for _, info := range tokens {
		if info.Token == (common.Address{}) {
			return ErrZeroAddressToken
		}
		if _, err := m.tokenContract(info.Token); err != nil {
			return err
		}
	}
	for _, info := range tokens {
		if idx := m.tokenIndex[info.Token]; idx > 0 {
			i := idx - 1
			old := m.tokens[i]
			m.tokens[i] = info
			m.env.Journal.Append(func() { m.tokens[i] = old })
		} else {
			m.tokens = append(m.tokens, info)
			m.env.Journal.Append(func() { m.tokens = m.tokens[:len(m.tokens)-1] })
			chain.MapSet(m.env.Journal, m.tokenIndex, info.Token, len(m.tokens))
		}
		m.env.Emit(m.address, "TokenInfoSet", chain.Fields{
			"token":       info.Token,
			"accepted":    info.Accepted,
			"permittable": info.Permittable,
			"refundable":  info.Refundable,
			"stable":      info.Stable,
		})
	}
	return nil
}

func (m *CoverPaymentManager) TokensLength() int { return len(m.tokens) }

// GetTokenInfo returns the token at 0-based index i.
func (m *CoverPaymentManager) GetTokenInfo(i int) (TokenInfo, error) {
	if i < 0 || i >= len(m.tokens) {
		return TokenInfo{}, chain.ErrIndexOutOfBounds
	}
	return m.tokens[i], nil
}

func (m *CoverPaymentManager) TokenInfoOf(token common.Address) (TokenInfo, bool) {
	idx := m.tokenIndex[token]
	if idx == 0 {
		return TokenInfo{}, false
	}
	return m.tokens[idx-1], true
}

func (m *CoverPaymentManager) tokenContract(addr common.Address) (Token, error) {
	if m.directory == nil {
		return nil, ErrUnknownToken
	}
	c, ok := m.directory.Lookup(addr)
	if !ok {
		return nil, ErrUnknownToken
	}
	t, ok := c.(Token)
	if !ok {
		return nil, ErrUnknownToken
	}
	return t, nil
}

func (m *CoverPaymentManager) acceptedToken(addr common.Address) (TokenInfo, Token, error) {
	info, ok := m.TokenInfoOf(addr)
	if !ok || !info.Accepted {
		return TokenInfo{}, nil, ErrTokenNotAccepted
	}
	t, err := m.tokenContract(addr)
	if err != nil {
		return TokenInfo{}, nil, err
	}
	return info, t, nil
}

func (m *CoverPaymentManager) stableToken(addr common.Address) (TokenInfo, Token, error) {
	info, t, err := m.acceptedToken(addr)
	if err != nil {
		return TokenInfo{}, nil, err
	}
	if !info.Stable {
		return TokenInfo{}, nil, ErrTokenNotStable
	}
	return info, t, nil
}

// === Pause ===

func (m *CoverPaymentManager) SetPaused(caller common.Address, paused bool) error {
	if err := m.OnlyGovernance(caller); err != nil {
		return err
	}
	chain.Assign(m.env.Journal, &m.paused, paused)
	m.env.Emit(m.address, "PauseSet", chain.Fields{"paused": paused})
	return nil
}

func (m *CoverPaymentManager) Paused() bool { return m.paused }

func (m *CoverPaymentManager) nonReentrant(fn func() error) error {
	if m.paused {
		return ErrPaused
	}
	release, err := m.guard.Enter()
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

func (m *CoverPaymentManager) AppendState(b []byte) []byte {
	b = m.Governable.AppendState(b)
	b = chain.AppendAddress(b, m.scp.Address())
	b = chain.AppendAddress(b, m.solace.Address())
	b = chain.AppendAddress(b, m.premiumPool)
	b = chain.AppendAddress(b, m.verifier.Address())
	b = chain.AppendBool(b, m.paused)
	b = chain.AppendAddressSet(b, m.products)
	b = chain.AppendUint64(b, uint64(len(m.tokens)))
	for _, t := range m.tokens {
		b = chain.AppendAddress(b, t.Token)
		b = chain.AppendBool(b, t.Accepted)
		b = chain.AppendBool(b, t.Permittable)
		b = chain.AppendBool(b, t.Refundable)
		b = chain.AppendBool(b, t.Stable)
	}
	return b
}
