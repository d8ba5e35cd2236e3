package state_test

import (
	"CoverLedger/internal/chain"
	"CoverLedger/internal/state"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	gov       = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	bot       = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	nobody    = common.HexToAddress("0x00000000000000000000000000000000000000ff")
	cdpAddr   = common.HexToAddress("0x0000000000000000000000000000000000000c01")
	regAddr   = common.HexToAddress("0x0000000000000000000000000000000000000c02")
	rmAddr    = common.HexToAddress("0x0000000000000000000000000000000000000c03")
	pmAddr    = common.HexToAddress("0x0000000000000000000000000000000000000c04")
	stratA    = common.HexToAddress("0x0000000000000000000000000000000000000d01")
	stratB    = common.HexToAddress("0x0000000000000000000000000000000000000d02")
	productX  = common.HexToAddress("0x0000000000000000000000000000000000000e01")
	productY  = common.HexToAddress("0x0000000000000000000000000000000000000e02")
	holderOne = common.HexToAddress("0x0000000000000000000000000000000000000f01")
)

func wad(v uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(v), uint256.NewInt(1e18))
}

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

// ============================================================================
// Test: CoverageDataProvider (V1)
// ============================================================================

func newCDP(t *testing.T) (*chain.Env, *state.CoverageDataProvider) {
	t.Helper()
	env := chain.NewEnv(1, nil)
	c, err := state.NewCoverageDataProvider(env, cdpAddr, gov)
	require.NoError(t, err)
	return env, c
}

func TestCDP_SetAndReset(t *testing.T) {
	_, c := newCDP(t)

	require.NoError(t, c.Set(gov, "uwp1", wad(1_000_000)))
	assert.Equal(t, wad(1_000_000), c.MaxCover())
	assert.Equal(t, 1, c.NumOfPools())

	require.NoError(t, c.Reset(gov, nil, nil))
	assert.True(t, c.MaxCover().IsZero())
	assert.Equal(t, 0, c.NumOfPools())
}

func TestCDP_SetIsIdempotentPerName(t *testing.T) {
	_, c := newCDP(t)
	require.NoError(t, c.Set(gov, "uwp1", u(5)))
	require.NoError(t, c.Set(gov, "uwp1", u(7)))
	assert.Equal(t, 1, c.NumOfPools())
	assert.Equal(t, uint64(7), c.MaxCover().Uint64())
}

func TestCDP_RemoveRoundTripAndSwap(t *testing.T) {
	_, c := newCDP(t)
	require.NoError(t, c.Set(gov, "a", u(1)))
	require.NoError(t, c.Set(gov, "b", u(2)))
	before := c.MaxCover()

	require.NoError(t, c.Set(gov, "poolA", u(100)))
	require.NoError(t, c.Remove(gov, "poolA"))
	assert.Equal(t, before, c.MaxCover())

	// removing a non-last pool moves the last pool into its slot
	require.NoError(t, c.Set(gov, "c", u(3)))
	require.NoError(t, c.Remove(gov, "a"))
	assert.Equal(t, "c", c.PoolOf(1))
	assert.Equal(t, "b", c.PoolOf(2))
	assert.Equal(t, 1, c.PoolIndex("c"))
	assert.Equal(t, 0, c.PoolIndex("a"))
}

func TestCDP_RemoveUnknownIsNoop(t *testing.T) {
	env, c := newCDP(t)
	require.NoError(t, c.Remove(gov, "missing"))
	require.NoError(t, c.Set(gov, "a", u(1)))
	env.DrainLogs()
	require.NoError(t, c.Remove(gov, "missing"))
	assert.Empty(t, env.PendingLogs())
	assert.Equal(t, 1, c.NumOfPools())
}

func TestCDP_Validation(t *testing.T) {
	_, c := newCDP(t)
	assert.ErrorIs(t, c.Set(gov, "", u(1)), state.ErrEmptyPoolName)
	assert.ErrorIs(t, c.Reset(gov, []string{"a"}, nil), chain.ErrLengthMismatch)
	assert.ErrorIs(t, c.Set(nobody, "a", u(1)), chain.ErrUnauthorizedCaller)
	// authorization precedes validation
	assert.ErrorIs(t, c.Set(nobody, "", u(1)), chain.ErrUnauthorizedCaller)
}

func TestCDP_ResetIsAtomic(t *testing.T) {
	_, c := newCDP(t)
	require.NoError(t, c.Set(gov, "keep", u(9)))

	err := c.Reset(gov, []string{"x", ""}, []*uint256.Int{u(1), u(2)})
	require.ErrorIs(t, err, state.ErrEmptyPoolName)
	assert.Equal(t, uint64(9), c.MaxCover().Uint64())
	assert.Equal(t, "keep", c.PoolOf(1))
}

func TestCDP_UwpUpdater(t *testing.T) {
	_, c := newCDP(t)
	assert.ErrorIs(t, c.SetUwpUpdater(gov, common.Address{}), state.ErrZeroAddressUwpUpdater)
	assert.ErrorIs(t, c.SetUwpUpdater(bot, bot), chain.ErrNotGovernance)

	require.NoError(t, c.SetUwpUpdater(gov, bot))
	assert.Equal(t, bot, c.UwpUpdater())
	require.NoError(t, c.Set(bot, "a", u(1)))
}

// ============================================================================
// Test: CoverageDataProviderV2
// ============================================================================

func TestCDPV2_UpdaterSetAndBatchReplace(t *testing.T) {
	env := chain.NewEnv(1, nil)
	c, err := state.NewCoverageDataProviderV2(env, cdpAddr, gov)
	require.NoError(t, err)

	assert.ErrorIs(t, c.Set(bot, []string{"a"}, []*uint256.Int{u(1)}), chain.ErrUnauthorizedCaller)
	assert.ErrorIs(t, c.AddUpdater(gov, common.Address{}), state.ErrZeroAddressUpdater)
	require.NoError(t, c.AddUpdater(gov, bot))
	assert.True(t, c.IsUpdater(bot))
	assert.Equal(t, 1, c.NumsOfUpdater())

	require.NoError(t, c.Set(bot, []string{"a", "b"}, []*uint256.Int{u(1), u(2)}))
	assert.Equal(t, uint64(3), c.MaxCover().Uint64())

	require.NoError(t, c.Set(bot, []string{"c"}, []*uint256.Int{u(10)}))
	assert.Equal(t, 1, c.NumOfPools())
	assert.Equal(t, uint64(10), c.MaxCover().Uint64())
	assert.True(t, c.BalanceOf("a").IsZero())

	require.NoError(t, c.Remove(bot, []string{"c", "missing"}))
	assert.Equal(t, 0, c.NumOfPools())

	require.NoError(t, c.RemoveUpdater(gov, nobody))
	require.NoError(t, c.RemoveUpdater(gov, bot))
	assert.False(t, c.IsUpdater(bot))
}

type reenteringUpdater struct {
	cdp    *state.CoverageDataProviderV2
	caller common.Address
	err    error
}

func (r *reenteringUpdater) OnPoolSet(_ string, _ *uint256.Int) error {
	r.err = r.cdp.Set(r.caller, []string{"nested"}, []*uint256.Int{u(1)})
	return r.err
}

func TestCDPV2_BatchSetRejectsReentry(t *testing.T) {
	env := chain.NewEnv(1, nil)
	c, err := state.NewCoverageDataProviderV2(env, cdpAddr, gov)
	require.NoError(t, err)
	require.NoError(t, c.AddUpdater(gov, bot))
	require.NoError(t, c.Set(bot, []string{"a"}, []*uint256.Int{u(5)}))
	env.Journal.Commit()

	hook := &reenteringUpdater{cdp: c, caller: bot}
	c.SetListener(hook)

	err = c.Set(bot, []string{"b", "c"}, []*uint256.Int{u(1), u(2)})
	require.ErrorIs(t, err, chain.ErrReentrantCall)
	assert.ErrorIs(t, hook.err, chain.ErrReentrantCall)

	// The batch is all-or-nothing: the previous pool set survives.
	assert.Equal(t, 1, c.NumOfPools())
	assert.Equal(t, uint64(5), c.BalanceOf("a").Uint64())
	assert.True(t, c.BalanceOf("nested").IsZero())

	// The guard is released after the failed batch.
	c.SetListener(nil)
	require.NoError(t, c.Set(bot, []string{"b"}, []*uint256.Int{u(1)}))
	assert.Equal(t, uint64(1), c.MaxCover().Uint64())
}

// ============================================================================
// Test: RiskManager
// ============================================================================

type riskFixture struct {
	env *chain.Env
	cdp *state.CoverageDataProvider
	rm  *state.RiskManager
}

func newRisk(t *testing.T, capital *uint256.Int) *riskFixture {
	t.Helper()
	env := chain.NewEnv(1, chain.NewManualClock(1_000))
	cdp, err := state.NewCoverageDataProvider(env, cdpAddr, gov)
	require.NoError(t, err)
	require.NoError(t, cdp.Set(gov, "uwp", capital))

	reg, err := chain.NewRegistry(env, regAddr, gov)
	require.NoError(t, err)
	require.NoError(t, reg.Set(gov, []string{chain.KeyCoverageDataProvider}, []chain.Contract{cdp}))

	rm, err := state.NewRiskManager(env, rmAddr, gov, reg)
	require.NoError(t, err)
	env.Journal.Commit()
	return &riskFixture{env: env, cdp: cdp, rm: rm}
}

func (f *riskFixture) activate(t *testing.T, s common.Address, weight uint32) {
	t.Helper()
	_, err := f.rm.AddRiskStrategy(gov, s)
	require.NoError(t, err)
	require.NoError(t, f.rm.SetStrategyStatus(gov, s, uint8(state.StrategyActive)))
	require.NoError(t, f.rm.SetWeightAllocation(gov, s, weight))
}

func TestRiskManager_RequiresCoverageProvider(t *testing.T) {
	env := chain.NewEnv(1, nil)
	reg, err := chain.NewRegistry(env, regAddr, gov)
	require.NoError(t, err)
	_, err = state.NewRiskManager(env, rmAddr, gov, reg)
	assert.ErrorIs(t, err, chain.ErrKeyNotInMapping)
}

func TestRiskManager_SingleStrategyGetsAllCover(t *testing.T) {
	f := newRisk(t, wad(10_000))
	f.activate(t, stratA, 1000)

	mc, err := f.rm.MaxCoverPerStrategy(stratA)
	require.NoError(t, err)
	assert.Equal(t, wad(10_000), mc)
	assert.Equal(t, uint32(1000), f.rm.WeightSum())
}

func TestRiskManager_WeightSumZeroIsMaxUint32(t *testing.T) {
	f := newRisk(t, wad(1))
	assert.Equal(t, uint32(4294967295), f.rm.WeightSum())

	_, err := f.rm.AddRiskStrategy(gov, stratA)
	require.NoError(t, err)
	mc, err := f.rm.MaxCoverPerStrategy(stratA)
	require.NoError(t, err)
	assert.True(t, mc.IsZero())
}

func TestRiskManager_AddRiskStrategy(t *testing.T) {
	f := newRisk(t, wad(1))

	id, err := f.rm.AddRiskStrategy(gov, stratA)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
	id, err = f.rm.AddRiskStrategy(gov, stratB)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), id)

	info, ok := f.rm.StrategyInfo(stratA)
	require.True(t, ok)
	assert.Equal(t, state.StrategyInactive, info.Status)
	assert.Equal(t, uint32(0), info.Weight)
	assert.Equal(t, uint64(1_000), info.Timestamp)

	_, err = f.rm.AddRiskStrategy(gov, stratA)
	assert.ErrorIs(t, err, state.ErrDuplicateStrategy)
	_, err = f.rm.AddRiskStrategy(gov, common.Address{})
	assert.ErrorIs(t, err, state.ErrZeroAddressStrategy)
	_, err = f.rm.AddRiskStrategy(nobody, stratA)
	assert.ErrorIs(t, err, chain.ErrNotGovernance)

	s, err := f.rm.StrategyAt(2)
	require.NoError(t, err)
	assert.Equal(t, stratB, s)
	assert.Equal(t, 2, f.rm.NumStrategies())
}

func TestRiskManager_SetStrategyStatus(t *testing.T) {
	f := newRisk(t, wad(100))
	assert.ErrorIs(t, f.rm.SetStrategyStatus(gov, stratA, 1), state.ErrNonExistStrategy)

	f.activate(t, stratA, 300)
	assert.ErrorIs(t, f.rm.SetStrategyStatus(gov, stratA, 2), state.ErrInvalidStatus)

	require.NoError(t, f.rm.SetStrategyStatus(gov, stratA, uint8(state.StrategyInactive)))
	assert.Equal(t, uint32(4294967295), f.rm.WeightSum())
	require.NoError(t, f.rm.CheckWeightSumInvariant())

	require.NoError(t, f.rm.SetStrategyStatus(gov, stratA, uint8(state.StrategyActive)))
	assert.Equal(t, uint32(300), f.rm.WeightSum())
	require.NoError(t, f.rm.CheckWeightSumInvariant())
}

func TestRiskManager_SetWeightAllocationValidation(t *testing.T) {
	f := newRisk(t, wad(100))
	_, err := f.rm.AddRiskStrategy(gov, stratA)
	require.NoError(t, err)

	assert.ErrorIs(t, f.rm.SetWeightAllocation(gov, stratA, 0), state.ErrInvalidWeight)
	assert.ErrorIs(t, f.rm.SetWeightAllocation(gov, stratA, 5), state.ErrInactiveStrategy)
	assert.ErrorIs(t, f.rm.SetWeightAllocation(gov, stratB, 5), state.ErrNonExistStrategy)
}

func TestRiskManager_WeightAllocationRespectsMCR(t *testing.T) {
	f := newRisk(t, wad(1_000))
	f.activate(t, stratA, 1)
	f.activate(t, stratB, 1)
	require.NoError(t, f.rm.AddCoverLimitUpdater(gov, pmAddr))

	// A sells 400 of its 500 share.
	require.NoError(t, f.rm.UpdateActiveCoverLimitForStrategy(pmAddr, stratA, u(0), wad(400)))

	// Giving B weight 3 would leave A with 1000*1/4 = 250 < 400.
	err := f.rm.SetWeightAllocation(gov, stratB, 3)
	assert.ErrorIs(t, err, state.ErrInvalidWeightAllocation)
	assert.Equal(t, uint32(1), f.rm.WeightPerStrategy(stratB))

	// Weight 1 -> A keeps 500.
	ok, err := f.rm.ValidateAllocation(stratB, 1)
	require.NoError(t, err)
	assert.True(t, ok)

	// After allocation, every active strategy covers its MCR.
	for _, s := range []common.Address{stratA, stratB} {
		mc, err := f.rm.MaxCoverPerStrategy(s)
		require.NoError(t, err)
		assert.False(t, mc.Lt(f.rm.MinCapitalRequirementPerStrategy(s)))
	}
}

func TestRiskManager_ReactivationSkipsMCRCheck(t *testing.T) {
	f := newRisk(t, wad(1_000))
	f.activate(t, stratA, 1)
	f.activate(t, stratB, 1)
	require.NoError(t, f.rm.AddCoverLimitUpdater(gov, pmAddr))

	// With B off, A holds all 1000 and sells 800.
	require.NoError(t, f.rm.SetStrategyStatus(gov, stratB, uint8(state.StrategyInactive)))
	require.NoError(t, f.rm.UpdateActiveCoverLimitForStrategy(pmAddr, stratA, u(0), wad(800)))

	// Turning B back on is allowed even though A drops to 500 < 800.
	require.NoError(t, f.rm.SetStrategyStatus(gov, stratB, uint8(state.StrategyActive)))
	assert.Equal(t, uint32(2), f.rm.WeightSum())
	require.NoError(t, f.rm.CheckWeightSumInvariant())

	mc, err := f.rm.MaxCoverPerStrategy(stratA)
	require.NoError(t, err)
	assert.True(t, mc.Lt(f.rm.MinCapitalRequirementPerStrategy(stratA)))

	// A weight change from here is still gated.
	assert.ErrorIs(t, f.rm.SetWeightAllocation(gov, stratB, 2), state.ErrInvalidWeightAllocation)
}

func TestRiskManager_CoverLimitInvariant(t *testing.T) {
	f := newRisk(t, wad(1_000))
	f.activate(t, stratA, 1)
	f.activate(t, stratB, 1)

	assert.ErrorIs(t, f.rm.UpdateActiveCoverLimitForStrategy(pmAddr, stratA, u(0), u(1)), chain.ErrUnauthorizedCaller)
	require.NoError(t, f.rm.AddCoverLimitUpdater(gov, pmAddr))

	require.NoError(t, f.rm.UpdateActiveCoverLimitForStrategy(pmAddr, stratA, u(0), u(100)))
	require.NoError(t, f.rm.UpdateActiveCoverLimitForStrategy(pmAddr, stratB, u(0), u(50)))
	require.NoError(t, f.rm.UpdateActiveCoverLimitForStrategy(pmAddr, stratA, u(100), u(30)))

	assert.Equal(t, uint64(80), f.rm.ActiveCoverLimit().Uint64())
	assert.Equal(t, uint64(30), f.rm.ActiveCoverLimitPerStrategy(stratA).Uint64())
	require.NoError(t, f.rm.CheckCoverLimitInvariant())

	err := f.rm.UpdateActiveCoverLimitForStrategy(pmAddr, stratB, u(51), u(0))
	assert.ErrorIs(t, err, state.ErrCoverLimitUnderflow)
	require.NoError(t, f.rm.CheckCoverLimitInvariant())

	require.NoError(t, f.rm.SetStrategyStatus(gov, stratB, 0))
	assert.ErrorIs(t, f.rm.UpdateActiveCoverLimitForStrategy(pmAddr, stratB, u(50), u(0)), state.ErrInactiveStrategy)
	// MCR still counts cover sold under a disabled strategy
	assert.Equal(t, uint64(50), f.rm.MinCapitalRequirementPerStrategy(stratB).Uint64())
}

func TestRiskManager_PartialReservesFactor(t *testing.T) {
	f := newRisk(t, wad(1_000))
	require.NoError(t, f.rm.AddCoverLimitUpdater(gov, pmAddr))
	f.activate(t, stratA, 1)
	require.NoError(t, f.rm.UpdateActiveCoverLimitForStrategy(pmAddr, stratA, u(0), wad(100)))

	assert.ErrorIs(t, f.rm.SetPartialReservesFactor(gov, 0), state.ErrInvalidFactor)
	assert.ErrorIs(t, f.rm.SetPartialReservesFactor(gov, 10_001), state.ErrInvalidFactor)
	require.NoError(t, f.rm.SetPartialReservesFactor(gov, 5_000))

	mc, err := f.rm.MaxCover()
	require.NoError(t, err)
	assert.Equal(t, wad(2_000), mc)
	assert.Equal(t, wad(50), f.rm.MinCapitalRequirement())
}

func TestRiskManager_RevertedTxRestoresState(t *testing.T) {
	f := newRisk(t, wad(1_000))
	f.activate(t, stratA, 10)
	f.env.Journal.Commit()

	err := f.env.Atomic(func() error {
		if err := f.rm.SetWeightAllocation(gov, stratA, 20); err != nil {
			return err
		}
		return f.rm.SetWeightAllocation(gov, stratA, 0)
	})
	require.ErrorIs(t, err, state.ErrInvalidWeight)
	assert.Equal(t, uint32(10), f.rm.WeightSum())
	assert.Equal(t, uint32(10), f.rm.WeightPerStrategy(stratA))
}

// ============================================================================
// Test: RiskStrategy + PolicyManager
// ============================================================================

type policyFixture struct {
	*riskFixture
	strat *state.RiskStrategy
	pm    *state.PolicyManager
}

func newPolicy(t *testing.T) *policyFixture {
	t.Helper()
	f := newRisk(t, wad(1_000))
	f.activate(t, stratA, 1)

	rs, err := state.NewRiskStrategy(f.env, stratA, gov, f.rm)
	require.NoError(t, err)
	require.NoError(t, rs.AddProduct(gov, productX, state.ProductRiskParams{Weight: 1, Price: 100, Divisor: 2}))
	require.NoError(t, rs.AddProduct(gov, productY, state.ProductRiskParams{Weight: 3, Price: 200, Divisor: 1}))

	pm, err := state.NewPolicyManager(f.env, pmAddr, gov, f.rm)
	require.NoError(t, err)
	require.NoError(t, f.rm.AddCoverLimitUpdater(gov, pmAddr))
	require.NoError(t, pm.AddProduct(gov, productX, rs))
	require.NoError(t, pm.AddProduct(gov, productY, rs))
	require.NoError(t, pm.SetMinScpRatio(gov, 1_000))
	f.env.Journal.Commit()
	return &policyFixture{riskFixture: f, strat: rs, pm: pm}
}

func TestRiskStrategy_ProductCaps(t *testing.T) {
	f := newPolicy(t)

	perProduct, err := f.strat.MaxCoverPerProduct(productX)
	require.NoError(t, err)
	assert.Equal(t, wad(250), perProduct)

	perPolicy, err := f.strat.MaxCoverPerPolicy(productX)
	require.NoError(t, err)
	assert.Equal(t, wad(125), perPolicy)

	ok, price, err := f.strat.AssessRisk(productX, u(0), wad(125))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint32(100), price)

	ok, _, err = f.strat.AssessRisk(productX, u(0), new(uint256.Int).AddUint64(wad(125), 1))
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = f.strat.AssessRisk(nobody, u(0), u(1))
	assert.ErrorIs(t, err, state.ErrInvalidProduct)
}

func TestRiskStrategy_ProductValidation(t *testing.T) {
	f := newPolicy(t)
	assert.ErrorIs(t, f.strat.AddProduct(gov, common.Address{}, state.ProductRiskParams{Weight: 1, Price: 1, Divisor: 1}), state.ErrZeroAddressProduct)
	assert.ErrorIs(t, f.strat.AddProduct(gov, productX, state.ProductRiskParams{Price: 1, Divisor: 1}), state.ErrProductWeight)
	assert.ErrorIs(t, f.strat.AddProduct(gov, productX, state.ProductRiskParams{Weight: 1, Divisor: 1}), state.ErrInvalidPrice)
	assert.ErrorIs(t, f.strat.AddProduct(gov, productX, state.ProductRiskParams{Weight: 1, Price: 1}), state.ErrInvalidDivisor)

	require.NoError(t, f.strat.SetProductParams(gov, []common.Address{productY}, []state.ProductRiskParams{{Weight: 5, Price: 1, Divisor: 1}}))
	assert.Equal(t, 1, f.strat.NumProducts())
	assert.Equal(t, uint32(5), f.strat.WeightSum())
	_, ok := f.strat.ProductRiskParams(productX)
	assert.False(t, ok)
}

func TestRiskStrategy_InactiveStrategy(t *testing.T) {
	f := newPolicy(t)
	require.NoError(t, f.rm.SetStrategyStatus(gov, stratA, 0))
	_, _, err := f.strat.AssessRisk(productX, u(0), u(1))
	assert.ErrorIs(t, err, state.ErrStrategyInactive)
}

func TestPolicyManager_Lifecycle(t *testing.T) {
	f := newPolicy(t)

	id, err := f.pm.CreatePolicy(productY, holderOne, wad(300))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
	assert.Equal(t, wad(300), f.rm.ActiveCoverLimit())

	min, err := f.pm.MinScpRequired(holderOne)
	require.NoError(t, err)
	assert.Equal(t, wad(30), min)

	require.NoError(t, f.pm.UpdatePolicy(productY, id, wad(500)))
	assert.Equal(t, wad(500), f.rm.ActiveCoverLimitPerStrategy(stratA))

	// product Y cap is 750; total strategy cap is 1000 with 500 sold
	assert.ErrorIs(t, f.pm.UpdatePolicy(productY, id, wad(751)), state.ErrCoverLimitExceedsRisk)
	assert.ErrorIs(t, f.pm.UpdatePolicy(productX, id, wad(1)), state.ErrNotPolicyProduct)

	require.NoError(t, f.pm.BurnPolicy(productY, id))
	assert.True(t, f.rm.ActiveCoverLimit().IsZero())
	assert.True(t, f.pm.ActiveCoverLimitOf(holderOne).IsZero())
	assert.False(t, f.pm.PolicyExists(id))
	assert.ErrorIs(t, f.pm.BurnPolicy(productY, id), state.ErrPolicyNotExist)
	require.NoError(t, f.rm.CheckCoverLimitInvariant())
}

func TestPolicyManager_Guards(t *testing.T) {
	f := newPolicy(t)
	_, err := f.pm.CreatePolicy(nobody, holderOne, u(1))
	assert.ErrorIs(t, err, state.ErrProductInactive)
	_, err = f.pm.CreatePolicy(productX, common.Address{}, u(1))
	assert.ErrorIs(t, err, state.ErrZeroAddressHolder)

	require.NoError(t, f.rm.RemoveCoverLimitUpdater(gov, pmAddr))
	_, err = f.pm.CreatePolicy(productX, holderOne, u(1))
	assert.ErrorIs(t, err, chain.ErrUnauthorizedCaller)
}

func TestPolicyManager_SellableCoverSharedAcrossProducts(t *testing.T) {
	f := newPolicy(t)

	_, err := f.pm.CreatePolicy(productY, holderOne, wad(750))
	require.NoError(t, err)
	_, err = f.pm.CreatePolicy(productX, holderOne, wad(125))
	require.NoError(t, err)

	sellable, err := f.strat.SellableCover()
	require.NoError(t, err)
	assert.Equal(t, wad(125), sellable)

	_, err = f.pm.CreatePolicy(productX, holderOne, wad(125))
	require.NoError(t, err)
	_, err = f.pm.CreatePolicy(productX, holderOne, u(1))
	assert.ErrorIs(t, err, state.ErrCoverLimitExceedsRisk)
}

func TestPolicyManager_RebindKeepsPolicyStrategy(t *testing.T) {
	f := newPolicy(t)
	f.activate(t, stratB, 1)
	rsB, err := state.NewRiskStrategy(f.env, stratB, gov, f.rm)
	require.NoError(t, err)
	require.NoError(t, rsB.AddProduct(gov, productY, state.ProductRiskParams{Weight: 1, Price: 100, Divisor: 1}))

	first, err := f.pm.CreatePolicy(productY, holderOne, wad(100))
	require.NoError(t, err)

	require.NoError(t, f.pm.AddProduct(gov, productY, rsB))
	second, err := f.pm.CreatePolicy(productY, holderOne, wad(200))
	require.NoError(t, err)
	assert.Equal(t, wad(100), f.rm.ActiveCoverLimitPerStrategy(stratA))
	assert.Equal(t, wad(200), f.rm.ActiveCoverLimitPerStrategy(stratB))

	p, err := f.pm.GetPolicy(first)
	require.NoError(t, err)
	assert.Equal(t, stratA, p.Strategy)
	p, err = f.pm.GetPolicy(second)
	require.NoError(t, err)
	assert.Equal(t, stratB, p.Strategy)

	require.NoError(t, f.pm.UpdatePolicy(productY, first, wad(50)))
	assert.Equal(t, wad(50), f.rm.ActiveCoverLimitPerStrategy(stratA))

	require.NoError(t, f.pm.BurnPolicy(productY, first))
	assert.True(t, f.rm.ActiveCoverLimitPerStrategy(stratA).IsZero())
	assert.Equal(t, wad(200), f.rm.ActiveCoverLimitPerStrategy(stratB))
	require.NoError(t, f.rm.CheckCoverLimitInvariant())
}
