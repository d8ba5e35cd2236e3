package state

import (
	"CoverLedger/internal/chain"
	fpmath "CoverLedger/internal/math"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrZeroAddressStrategy          = chain.Revert("zero address strategy")
	ErrDuplicateStrategy            = chain.Revert("duplicate strategy")
	ErrNonExistStrategy             = chain.Revert("non-exist strategy")
	ErrInvalidWeight                = chain.Revert("invalid weight!")
	ErrInactiveStrategy             = chain.Revert("inactive strategy")
	ErrInvalidWeightAllocation      = chain.Revert("invalid weight allocation")
	ErrInvalidStatus                = chain.Revert("invalid status")
	ErrInvalidFactor                = chain.Revert("invalid factor")
	ErrZeroAddressCoverLimitUpdater = chain.Revert("zero address coverlimit updater")
	ErrCoverLimitUnderflow          = chain.Revert("cover limit underflow")
	ErrWeightSumOverflow            = chain.Revert("weight sum overflow")
	ErrInvalidCoverageProvider      = chain.Revert("invalid coverage data provider")
)

// StrategyStatus is the lifecycle flag of a registered risk strategy.
type StrategyStatus uint8

const (
	StrategyInactive StrategyStatus = iota
	StrategyActive
)

func (s StrategyStatus) String() string {
	switch s {
	case StrategyInactive:
		return "inactive"
	case StrategyActive:
		return "active"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Strategy is the RiskManager's record of a risk strategy.
type Strategy struct {
	ID        uint64         `json:"id"`
	Weight    uint32         `json:"weight"`
	Status    StrategyStatus `json:"status"`
	Timestamp uint64         `json:"timestamp"`
}

// RiskManager apportions the capital reported by the coverage data provider
// across weighted risk strategies and tracks the cover sold against each.
//
// Invariants:
//   - weightSum == Σ weight over active strategies
//   - activeCoverLimit == Σ activeCoverLimitPerStrategy
type RiskManager struct {
	*chain.Governable

	env      *chain.Env
	address  common.Address
	registry *chain.Registry
	coverage CoverageSource

	strategies    *chain.AddressSet
	info          map[common.Address]Strategy
	strategyCount uint64
	weightSum     uint64

	activeCoverLimit            uint256.Int
	activeCoverLimitPerStrategy map[common.Address]uint256.Int
	partialReservesFactor       uint64
	coverLimitUpdaters          *chain.AddressSet
}

func NewRiskManager(env *chain.Env, address, governance common.Address, registry *chain.Registry) (*RiskManager, error) {
	gov, err := chain.NewGovernable(env, address, governance)
	if err != nil {
		return nil, err
	}
	rm := &RiskManager{
		Governable:                  gov,
		env:                         env,
		address:                     address,
		strategies:                  chain.NewAddressSet(env.Journal),
		info:                        make(map[common.Address]Strategy),
		activeCoverLimitPerStrategy: make(map[common.Address]uint256.Int),
		partialReservesFactor:       fpmath.BPS,
		coverLimitUpdaters:          chain.NewAddressSet(env.Journal),
	}
	if err := rm.resolve(registry); err != nil {
		return nil, err
	}
	return rm, nil
}

func (rm *RiskManager) Address() common.Address { return rm.address }

func (rm *RiskManager) resolve(registry *chain.Registry) error {
	if registry == nil {
		return chain.ErrZeroAddressValue
	}
	c, err := registry.Get(chain.KeyCoverageDataProvider)
	if err != nil {
		return err
	}
	src, ok := c.(CoverageSource)
	if !ok {
		return ErrInvalidCoverageProvider
	}
	chain.Assign(rm.env.Journal, &rm.registry, registry)
	chain.Assign(rm.env.Journal, &rm.coverage, src)
	return nil
}

// SetRegistry re-resolves the coverage data provider.
func (rm *RiskManager) SetRegistry(caller common.Address, registry *chain.Registry) error {
	if err := rm.OnlyGovernance(caller); err != nil {
		return err
	}
	if err := rm.resolve(registry); err != nil {
		return err
	}
	rm.env.Emit(rm.address, "RegistrySet", chain.Fields{"registry": registry.Address()})
	return nil
}

func (rm *RiskManager) Registry() *chain.Registry { return rm.registry }

// === Strategies ===

// AddRiskStrategy registers strategy as inactive with zero weight.
func (rm *RiskManager) AddRiskStrategy(caller, strategy common.Address) (uint64, error) {
	if err := rm.OnlyGovernance(caller); err != nil {
		return 0, err
	}
	if strategy == (common.Address{}) {
		return 0, ErrZeroAddressStrategy
	}
	if rm.strategies.Contains(strategy) {
		return 0, ErrDuplicateStrategy
	}
	id := rm.strategyCount + 1
	chain.Assign(rm.env.Journal, &rm.strategyCount, id)
	rm.strategies.Add(strategy)
	chain.MapSet(rm.env.Journal, rm.info, strategy, Strategy{
		ID:        id,
		Status:    StrategyInactive,
		Timestamp: rm.env.Now(),
	})
	rm.env.Emit(rm.address, "StrategyAdded", chain.Fields{"strategy": strategy, "id": id})
	return id, nil
}

// SetStrategyStatus sets any valid status. Policies sold under a strategy
// survive its deactivation and still count toward its MCR. Reactivation is
// not checked against other strategies' MCR; only SetWeightAllocation is.
func (rm *RiskManager) SetStrategyStatus(caller, strategy common.Address, status uint8) error {
	if err := rm.OnlyGovernance(caller); err != nil {
		return err
	}
	if strategy == (common.Address{}) {
		return ErrZeroAddressStrategy
	}
	if !rm.strategies.Contains(strategy) {
		return ErrNonExistStrategy
	}
	next := StrategyStatus(status)
	if next != StrategyInactive && next != StrategyActive {
		return ErrInvalidStatus
	}

	s := rm.info[strategy]
	sum := rm.weightSum
	switch {
	case s.Status == StrategyActive && next == StrategyInactive:
		sum -= uint64(s.Weight)
	case s.Status == StrategyInactive && next == StrategyActive:
		sum += uint64(s.Weight)
		if sum > fpmath.MaxUint32Val {
			return ErrWeightSumOverflow
		}
	}
	s.Status = next
	chain.Assign(rm.env.Journal, &rm.weightSum, sum)
	chain.MapSet(rm.env.Journal, rm.info, strategy, s)
	rm.env.Emit(rm.address, "StrategyStatusUpdated", chain.Fields{"strategy": strategy, "status": status})
	return nil
}

// SetWeightAllocation changes an active strategy's weight. The change is
// rejected if any active strategy would end up below its MCR.
func (rm *RiskManager) SetWeightAllocation(caller, strategy common.Address, weight uint32) error {
	if err := rm.OnlyGovernance(caller); err != nil {
		return err
	}
	if weight == 0 {
		return ErrInvalidWeight
	}
	if !rm.strategies.Contains(strategy) {
		return ErrNonExistStrategy
	}
	s := rm.info[strategy]
	if s.Status != StrategyActive {
		return ErrInactiveStrategy
	}
	sum := rm.weightSum + uint64(weight) - uint64(s.Weight)
	if sum > fpmath.MaxUint32Val {
		return ErrWeightSumOverflow
	}
	ok, err := rm.ValidateAllocation(strategy, weight)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidWeightAllocation
	}

	s.Weight = weight
	chain.Assign(rm.env.Journal, &rm.weightSum, sum)
	chain.MapSet(rm.env.Journal, rm.info, strategy, s)
	rm.env.Emit(rm.address, "RiskStrategyWeightAllocationSet", chain.Fields{"strategy": strategy, "weight": weight})
	return nil
}

// ValidateAllocation simulates giving strategy the new weight and checks
// that every active, weighted strategy's share of MaxCover still meets its
// own minimum capital requirement.
func (rm *RiskManager) ValidateAllocation(strategy common.Address, weight uint32) (bool, error) {
	old := rm.info[strategy]
	sum := rm.weightSum + uint64(weight)
	if old.Status == StrategyActive {
		sum -= uint64(old.Weight)
	}
	if sum == 0 {
		return false, nil
	}
	mc, err := rm.MaxCover()
	if err != nil {
		return false, err
	}
	denom := uint256.NewInt(sum)

	meets := func(s common.Address, w uint32) (bool, error) {
		share, err := fpmath.MulDiv(mc, uint256.NewInt(uint64(w)), denom)
		if err != nil {
			return false, err
		}
		return !share.Lt(rm.MinCapitalRequirementPerStrategy(s)), nil
	}

	for _, s := range rm.strategies.Keys() {
		info := rm.info[s]
		if s == strategy || info.Weight == 0 || info.Status != StrategyActive {
			continue
		}
		ok, err := meets(s, info.Weight)
		if err != nil || !ok {
			return false, err
		}
	}
	return meets(strategy, weight)
}

// === Cover limits ===

// UpdateActiveCoverLimitForStrategy applies new-current to both the global
// and the per-strategy counters. Callers must pass the exact previous limit.
func (rm *RiskManager) UpdateActiveCoverLimitForStrategy(caller, strategy common.Address, currentCoverLimit, newCoverLimit *uint256.Int) error {
	if !rm.coverLimitUpdaters.Contains(caller) {
		return chain.ErrUnauthorizedCaller
	}
	if !rm.StrategyIsActive(strategy) {
		return ErrInactiveStrategy
	}

	global, err := applyDelta(&rm.activeCoverLimit, currentCoverLimit, newCoverLimit)
	if err != nil {
		return err
	}
	prev := rm.activeCoverLimitPerStrategy[strategy]
	per, err := applyDelta(&prev, currentCoverLimit, newCoverLimit)
	if err != nil {
		return err
	}

	chain.Assign(rm.env.Journal, &rm.activeCoverLimit, *global)
	chain.MapSet(rm.env.Journal, rm.activeCoverLimitPerStrategy, strategy, *per)
	rm.env.Emit(rm.address, "ActiveCoverLimitUpdated", chain.Fields{
		"strategy":          strategy,
		"currentCoverLimit": fpmath.Clone(currentCoverLimit),
		"newCoverLimit":     fpmath.Clone(newCoverLimit),
	})
	return nil
}

func applyDelta(base, current, next *uint256.Int) (*uint256.Int, error) {
	v, err := fpmath.Sub(base, current)
	if err != nil {
		return nil, ErrCoverLimitUnderflow
	}
	return fpmath.Add(v, next)
}

func (rm *RiskManager) AddCoverLimitUpdater(caller, updater common.Address) error {
	if err := rm.OnlyGovernance(caller); err != nil {
		return err
	}
	if updater == (common.Address{}) {
		return ErrZeroAddressCoverLimitUpdater
	}
	rm.coverLimitUpdaters.Add(updater)
	rm.env.Emit(rm.address, "CoverLimitUpdaterAdded", chain.Fields{"updater": updater})
	return nil
}

func (rm *RiskManager) RemoveCoverLimitUpdater(caller, updater common.Address) error {
	if err := rm.OnlyGovernance(caller); err != nil {
		return err
	}
	if updater == (common.Address{}) {
		return ErrZeroAddressCoverLimitUpdater
	}
	if rm.coverLimitUpdaters.Remove(updater) {
		rm.env.Emit(rm.address, "CoverLimitUpdaterDeleted", chain.Fields{"updater": updater})
	}
	return nil
}

func (rm *RiskManager) CanUpdateCoverLimit(account common.Address) bool {
	return rm.coverLimitUpdaters.Contains(account)
}

// SetPartialReservesFactor sets the reserve factor in basis points.
func (rm *RiskManager) SetPartialReservesFactor(caller common.Address, factor uint16) error {
	if err := rm.OnlyGovernance(caller); err != nil {
		return err
	}
	if factor == 0 || factor > fpmath.BPS {
		return ErrInvalidFactor
	}
	chain.Assign(rm.env.Journal, &rm.partialReservesFactor, uint64(factor))
	rm.env.Emit(rm.address, "PartialReservesFactorSet", chain.Fields{"partialReservesFactor": factor})
	return nil
}

// === Views ===

// MaxCover is capital * 10000 / partialReservesFactor.
func (rm *RiskManager) MaxCover() (*uint256.Int, error) {
	return fpmath.MulDiv(rm.coverage.MaxCover(), fpmath.BPSInt(), uint256.NewInt(rm.partialReservesFactor))
}

// MaxCoverPerStrategy is zero for inactive strategies, otherwise
// MaxCover * weight / WeightSum.
func (rm *RiskManager) MaxCoverPerStrategy(strategy common.Address) (*uint256.Int, error) {
	s, ok := rm.info[strategy]
	if !ok || s.Status != StrategyActive {
		return fpmath.Zero(), nil
	}
	mc, err := rm.MaxCover()
	if err != nil {
		return nil, err
	}
	return fpmath.MulDiv(mc, uint256.NewInt(uint64(s.Weight)), uint256.NewInt(uint64(rm.WeightSum())))
}

// WeightSum returns the active weight sum, or type(uint32).max when it is 0.
func (rm *RiskManager) WeightSum() uint32 {
	if rm.weightSum == 0 {
		return fpmath.MaxUint32Val
	}
	return uint32(rm.weightSum)
}

func (rm *RiskManager) WeightPerStrategy(strategy common.Address) uint32 {
	return rm.info[strategy].Weight
}

func (rm *RiskManager) StrategyIsActive(strategy common.Address) bool {
	return rm.info[strategy].Status == StrategyActive
}

func (rm *RiskManager) StrategyInfo(strategy common.Address) (Strategy, bool) {
	s, ok := rm.info[strategy]
	return s, ok
}

// StrategyAt returns the strategy at 1-based index i.
func (rm *RiskManager) StrategyAt(i int) (common.Address, error) {
	a, ok := rm.strategies.At(i)
	if !ok {
		return common.Address{}, chain.ErrIndexOutOfBounds
	}
	return a, nil
}

func (rm *RiskManager) NumStrategies() int { return rm.strategies.Len() }

func (rm *RiskManager) ActiveCoverLimit() *uint256.Int {
	return fpmath.Clone(&rm.activeCoverLimit)
}

func (rm *RiskManager) ActiveCoverLimitPerStrategy(strategy common.Address) *uint256.Int {
	v := rm.activeCoverLimitPerStrategy[strategy]
	return fpmath.Clone(&v)
}

func (rm *RiskManager) PartialReservesFactor() uint16 {
	return uint16(rm.partialReservesFactor)
}

// MinCapitalRequirement is activeCoverLimit * partialReservesFactor / 10000.
func (rm *RiskManager) MinCapitalRequirement() *uint256.Int {
	return rm.mcr(&rm.activeCoverLimit)
}

func (rm *RiskManager) MinCapitalRequirementPerStrategy(strategy common.Address) *uint256.Int {
	v := rm.activeCoverLimitPerStrategy[strategy]
	return rm.mcr(&v)
}

func (rm *RiskManager) mcr(limit *uint256.Int) *uint256.Int {
	// factor <= 10000, so the product divided by 10000 never exceeds limit.
	out, _ := fpmath.MulDiv(limit, uint256.NewInt(rm.partialReservesFactor), fpmath.BPSInt())
	return out
}

// CheckCoverLimitInvariant verifies activeCoverLimit == Σ per-strategy limits.
func (rm *RiskManager) CheckCoverLimitInvariant() error {
	sum := fpmath.Zero()
	for _, s := range rm.strategies.Keys() {
		v := rm.activeCoverLimitPerStrategy[s]
		sum.Add(sum, &v)
	}
	if !sum.Eq(&rm.activeCoverLimit) {
		return fmt.Errorf("active cover limit %s != Σ per-strategy %s", rm.activeCoverLimit.Dec(), sum.Dec())
	}
	return nil
}

// CheckWeightSumInvariant verifies weightSum == Σ active weights.
func (rm *RiskManager) CheckWeightSumInvariant() error {
	var sum uint64
	for _, s := range rm.strategies.Keys() {
		if info := rm.info[s]; info.Status == StrategyActive {
			sum += uint64(info.Weight)
		}
	}
	if sum != rm.weightSum {
		return fmt.Errorf("weight sum %d != Σ active weights %d", rm.weightSum, sum)
	}
	return nil
}

func (rm *RiskManager) AppendState(b []byte) []byte {
	b = rm.Governable.AppendState(b)
	b = chain.AppendUint64(b, rm.strategyCount)
	b = chain.AppendUint64(b, rm.weightSum)
	b = chain.AppendUint64(b, rm.partialReservesFactor)
	b = chain.AppendWord(b, &rm.activeCoverLimit)
	b = chain.AppendUint64(b, uint64(rm.strategies.Len()))
	for _, s := range rm.strategies.Keys() {
		info := rm.info[s]
		per := rm.activeCoverLimitPerStrategy[s]
		b = chain.AppendAddress(b, s)
		b = chain.AppendUint64(b, info.ID)
		b = chain.AppendUint64(b, uint64(info.Weight))
		b = append(b, byte(info.Status))
		b = chain.AppendUint64(b, info.Timestamp)
		b = chain.AppendWord(b, &per)
	}
	return chain.AppendAddressSet(b, rm.coverLimitUpdaters)
}
