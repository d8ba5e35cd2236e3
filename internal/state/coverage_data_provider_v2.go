package state

import (
	"CoverLedger/internal/chain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var ErrZeroAddressUpdater = chain.Revert("zero address updater")

// PoolListener is called after each pool write in a batch. An error aborts
// the whole batch.
type PoolListener interface {
	OnPoolSet(name string, amount *uint256.Int) error
}

// CoverageDataProviderV2 generalizes the single updater to an enumerable
// updater set and writes pools in batches. The batch setter is reachable
// from an external bot and is reentrancy guarded.
type CoverageDataProviderV2 struct {
	*chain.Governable

	env      *chain.Env
	address  common.Address
	pools    *poolBook
	updaters *chain.AddressSet
	guard    chain.ReentrancyGuard
	listener PoolListener
}

func NewCoverageDataProviderV2(env *chain.Env, address, governance common.Address) (*CoverageDataProviderV2, error) {
	gov, err := chain.NewGovernable(env, address, governance)
	if err != nil {
		return nil, err
	}
	return &CoverageDataProviderV2{
		Governable: gov,
		env:        env,
		address:    address,
		pools:      newPoolBook(env),
		updaters:   chain.NewAddressSet(env.Journal),
	}, nil
}

func (c *CoverageDataProviderV2) Address() common.Address { return c.address }

// SetListener installs the pool write hook. Not journaled; wiring happens
// at genesis.
func (c *CoverageDataProviderV2) SetListener(l PoolListener) { c.listener = l }

func (c *CoverageDataProviderV2) canUpdate(caller common.Address) error {
	if caller == c.Governance() || c.updaters.Contains(caller) {
		return nil
	}
	return chain.ErrUnauthorizedCaller
}

// Set replaces the entire pool set with the given lists.
func (c *CoverageDataProviderV2) Set(caller common.Address, names []string, amounts []*uint256.Int) error {
	if err := c.canUpdate(caller); err != nil {
		return err
	}
	release, err := c.guard.Enter()
	if err != nil {
		return err
	}
	defer release()

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
			if c.listener != nil {
				if err := c.listener.OnPoolSet(name, new(uint256.Int).Set(amounts[i])); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Remove deletes each named pool. Unknown names are ignored.
func (c *CoverageDataProviderV2) Remove(caller common.Address, names []string) error {
	if err := c.canUpdate(caller); err != nil {
		return err
	}
	for _, name := range names {
		if c.pools.remove(name) {
			c.env.Emit(c.address, "UnderwritingPoolRemoved", chain.Fields{"uwpName": name})
		}
	}
	return nil
}

func (c *CoverageDataProviderV2) MaxCover() *uint256.Int             { return c.pools.maxCover() }
func (c *CoverageDataProviderV2) BalanceOf(name string) *uint256.Int { return c.pools.balanceOf(name) }
func (c *CoverageDataProviderV2) PoolOf(index int) string            { return c.pools.poolOf(index) }
func (c *CoverageDataProviderV2) PoolIndex(name string) int          { return c.pools.names.IndexOf(name) }
func (c *CoverageDataProviderV2) NumOfPools() int                    { return c.pools.names.Len() }

func (c *CoverageDataProviderV2) IsUpdater(account common.Address) bool {
	return c.updaters.Contains(account)
}
func (c *CoverageDataProviderV2) NumsOfUpdater() int { return c.updaters.Len() }

// UpdaterAt returns the updater at 1-based index i.
func (c *CoverageDataProviderV2) UpdaterAt(i int) (common.Address, error) {
	a, ok := c.updaters.At(i)
	if !ok {
		return common.Address{}, chain.ErrIndexOutOfBounds
	}
	return a, nil
}

func (c *CoverageDataProviderV2) AddUpdater(caller, updater common.Address) error {
	if err := c.OnlyGovernance(caller); err != nil {
		return err
	}
	if updater == (common.Address{}) {
		return ErrZeroAddressUpdater
	}
	if _, added := c.updaters.Add(updater); added {
		c.env.Emit(c.address, "UwpUpdaterAdded", chain.Fields{"uwpUpdater": updater})
	}
	return nil
}

// RemoveUpdater is a no-op for unknown updaters.
func (c *CoverageDataProviderV2) RemoveUpdater(caller, updater common.Address) error {
	if err := c.OnlyGovernance(caller); err != nil {
		return err
	}
	if updater == (common.Address{}) {
		return ErrZeroAddressUpdater
	}
	if c.updaters.Remove(updater) {
		c.env.Emit(c.address, "UwpUpdaterRemoved", chain.Fields{"uwpUpdater": updater})
	}
	return nil
}

func (c *CoverageDataProviderV2) AppendState(b []byte) []byte {
	b = c.Governable.AppendState(b)
	b = chain.AppendAddressSet(b, c.updaters)
	return c.pools.appendState(b)
}
