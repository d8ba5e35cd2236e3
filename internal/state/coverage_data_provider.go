package state

import (
	"CoverLedger/internal/chain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var ErrZeroAddressUwpUpdater = chain.Revert("zero address uwp updater")

// CoverageSource is the read side RiskManager needs from a coverage data
// provider.
type CoverageSource interface {
	chain.Contract
	MaxCover() *uint256.Int
}

// CoverageDataProvider holds the USD balances of the underwriting pools that
// back sold cover. Governance or a single designated updater may write.
type CoverageDataProvider struct {
	*chain.Governable

	env     *chain.Env
	address common.Address
	pools   *poolBook
	updater common.Address
}

func NewCoverageDataProvider(env *chain.Env, address, governance common.Address) (*CoverageDataProvider, error) {
	gov, err := chain.NewGovernable(env, address, governance)
	if err != nil {
		return nil, err
	}
	return &CoverageDataProvider{
		Governable: gov,
		env:        env,
		address:    address,
		pools:      newPoolBook(env),
	}, nil
}

func (c *CoverageDataProvider) Address() common.Address { return c.address }

func (c *CoverageDataProvider) canUpdate(caller common.Address) error {
	if caller == c.Governance() || (c.updater != (common.Address{}) && caller == c.updater) {
		return nil
	}
	return chain.ErrUnauthorizedCaller
}

// Set creates or overwrites one pool balance.
func (c *CoverageDataProvider) Set(caller common.Address, name string, amount *uint256.Int) error {
	if err := c.canUpdate(caller); err != nil {
		return err
	}
	if err := c.pools.set(name, amount); err != nil {
		return err
	}
	c.env.Emit(c.address, "UnderwritingPoolSet", chain.Fields{"uwpName": name, "amount": new(uint256.Int).Set(amount)})
	return nil
}

// Reset replaces the whole pool set.
func (c *CoverageDataProvider) Reset(caller common.Address, names []string, amounts []*uint256.Int) error {
	if err := c.canUpdate(caller); err != nil {
		return err
	}
	if len(names) != len(amounts) {
		return chain.ErrLengthMismatch
	}
	return c.env.Atomic(func() error {
		for _, name := range c.pools.wipe() {
			c.env.Emit(c.address, "UnderwritingPoolRemoved", chain.Fields{"uwpName": name})
		}
		for i, name := range names {
			if err := c.pools.set(name, amounts[i]); err != nil {
				return err
			}
			c.env.Emit(c.address, "UnderwritingPoolSet", chain.Fields{"uwpName": name, "amount": new(uint256.Int).Set(amounts[i])})
		}
		return nil
	})
}

// Remove deletes a pool. Unknown names are ignored.
func (c *CoverageDataProvider) Remove(caller common.Address, name string) error {
	if err := c.canUpdate(caller); err != nil {
		return err
	}
	if c.pools.remove(name) {
		c.env.Emit(c.address, "UnderwritingPoolRemoved", chain.Fields{"uwpName": name})
	}
	return nil
}

func (c *CoverageDataProvider) MaxCover() *uint256.Int             { return c.pools.maxCover() }
func (c *CoverageDataProvider) BalanceOf(name string) *uint256.Int { return c.pools.balanceOf(name) }
func (c *CoverageDataProvider) PoolOf(index int) string            { return c.pools.poolOf(index) }
func (c *CoverageDataProvider) PoolIndex(name string) int          { return c.pools.names.IndexOf(name) }
func (c *CoverageDataProvider) NumOfPools() int                    { return c.pools.names.Len() }

func (c *CoverageDataProvider) UwpUpdater() common.Address { return c.updater }

func (c *CoverageDataProvider) SetUwpUpdater(caller, updater common.Address) error {
	if err := c.OnlyGovernance(caller); err != nil {
		return err
	}
	if updater == (common.Address{}) {
		return ErrZeroAddressUwpUpdater
	}
	chain.Assign(c.env.Journal, &c.updater, updater)
	c.env.Emit(c.address, "UwpUpdaterSet", chain.Fields{"uwpUpdater": updater})
	return nil
}

func (c *CoverageDataProvider) AppendState(b []byte) []byte {
	b = c.Governable.AppendState(b)
	b = chain.AppendAddress(b, c.updater)
	return c.pools.appendState(b)
}
