package state

import (
	"CoverLedger/internal/chain"
	fpmath "CoverLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrZeroAddressProduct = chain.Revert("zero address product")
	ErrInvalidProduct     = chain.Revert("invalid product")
	ErrInvalidPrice       = chain.Revert("invalid price")
	ErrInvalidDivisor     = chain.Revert("invalid divisor")
	ErrProductWeight      = chain.Revert("invalid weight")
	ErrStrategyInactive   = chain.Revert("strategy inactive")
)

// ProductRiskParams configures one product inside a strategy.
type ProductRiskParams struct {
	Weight  uint32 `json:"weight"`
	Price   uint32 `json:"price"`
	Divisor uint16 `json:"divisor"`
}

// Assessor decides whether a cover change fits a strategy.
type Assessor interface {
	chain.Contract
	AssessRisk(product common.Address, currentCover, newCover *uint256.Int) (acceptable bool, price uint32, err error)
}

// RiskStrategy splits the cover RiskManager grants it across its products
// and caps individual policies.
type RiskStrategy struct {
	*chain.Governable

	env         *chain.Env
	address     common.Address
	riskManager *RiskManager

	products  *chain.AddressSet
	params    map[common.Address]ProductRiskParams
	weightSum uint64
}

func NewRiskStrategy(env *chain.Env, address, governance common.Address, riskManager *RiskManager) (*RiskStrategy, error) {
	gov, err := chain.NewGovernable(env, address, governance)
	if err != nil {
		return nil, err
	}
	if riskManager == nil {
		return nil, chain.ErrZeroAddressValue
	}
	return &RiskStrategy{
		Governable:  gov,
		env:         env,
		address:     address,
		riskManager: riskManager,
		products:    chain.NewAddressSet(env.Journal),
		params:      make(map[common.Address]ProductRiskParams),
	}, nil
}

func (rs *RiskStrategy) Address() common.Address { return rs.address }

func validateProduct(product common.Address, p ProductRiskParams) error {
	switch {
	case product == (common.Address{}):
		return ErrZeroAddressProduct
	case p.Weight == 0:
		return ErrProductWeight
	case p.Price == 0:
		return ErrInvalidPrice
	case p.Divisor == 0:
		return ErrInvalidDivisor
	}
	return nil
}

func (rs *RiskStrategy) upsert(product common.Address, p ProductRiskParams) error {
	if err := validateProduct(product, p); err != nil {
		return err
	}
	old := rs.params[product]
	sum := rs.weightSum + uint64(p.Weight) - uint64(old.Weight)
	if sum > fpmath.MaxUint32Val {
		return ErrWeightSumOverflow
	}
	rs.products.Add(product)
	chain.MapSet(rs.env.Journal, rs.params, product, p)
	chain.Assign(rs.env.Journal, &rs.weightSum, sum)
	rs.env.Emit(rs.address, "ProductRiskParamsSet", chain.Fields{
		"product": product, "weight": p.Weight, "price": p.Price, "divisor": p.Divisor,
	})
	return nil
}

// AddProduct adds a product or overwrites its parameters.
func (rs *RiskStrategy) AddProduct(caller, product common.Address, p ProductRiskParams) error {
	if err := rs.OnlyGovernance(caller); err != nil {
		return err
	}
	return rs.upsert(product, p)
}

// SetProductParams replaces the whole product list.
func (rs *RiskStrategy) SetProductParams(caller common.Address, products []common.Address, params []ProductRiskParams) error {
	if err := rs.OnlyGovernance(caller); err != nil {
		return err
	}
	if len(products) != len(params) {
		return chain.ErrLengthMismatch
	}
	return rs.env.Atomic(func() error {
		for _, p := range rs.products.Keys() {
			rs.remove(p)
		}
		for i, p := range products {
			if err := rs.upsert(p, params[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveProduct is a no-op for unknown products.
func (rs *RiskStrategy) RemoveProduct(caller, product common.Address) error {
	if err := rs.OnlyGovernance(caller); err != nil {
		return err
	}
	rs.remove(product)
	return nil
}

func (rs *RiskStrategy) remove(product common.Address) {
	old, ok := rs.params[product]
	if !ok {
		return
	}
	rs.products.Remove(product)
	chain.MapDelete(rs.env.Journal, rs.params, product)
	chain.Assign(rs.env.Journal, &rs.weightSum, rs.weightSum-uint64(old.Weight))
	rs.env.Emit(rs.address, "ProductRiskParamsRemoved", chain.Fields{"product": product})
}

// AssessRisk accepts a cover change when the new cover fits under the
// per-policy ceiling and the increase fits in the strategy's sellable cover.
func (rs *RiskStrategy) AssessRisk(product common.Address, currentCover, newCover *uint256.Int) (bool, uint32, error) {
	if !rs.Status() {
		return false, 0, ErrStrategyInactive
	}
	p, ok := rs.params[product]
	if !ok {
		return false, 0, ErrInvalidProduct
	}
	perPolicy, err := rs.MaxCoverPerPolicy(product)
	if err != nil {
		return false, p.Price, err
	}
	if newCover.Gt(perPolicy) {
		return false, p.Price, nil
	}
	if newCover.Gt(currentCover) {
		diff := new(uint256.Int).Sub(newCover, currentCover)
		sellable, err := rs.SellableCover()
		if err != nil {
			return false, p.Price, err
		}
		if diff.Gt(sellable) {
			return false, p.Price, nil
		}
	}
	return true, p.Price, nil
}

// MaxCover is the strategy's share of RiskManager.MaxCover.
func (rs *RiskStrategy) MaxCover() (*uint256.Int, error) {
	return rs.riskManager.MaxCoverPerStrategy(rs.address)
}

// SellableCover is MaxCover minus the cover already sold, floored at zero.
func (rs *RiskStrategy) SellableCover() (*uint256.Int, error) {
	mc, err := rs.MaxCover()
	if err != nil {
		return nil, err
	}
	sold := rs.riskManager.ActiveCoverLimitPerStrategy(rs.address)
	if sold.Gt(mc) {
		return fpmath.Zero(), nil
	}
	return mc.Sub(mc, sold), nil
}

func (rs *RiskStrategy) MaxCoverPerProduct(product common.Address) (*uint256.Int, error) {
	p, ok := rs.params[product]
	if !ok {
		return fpmath.Zero(), nil
	}
	mc, err := rs.MaxCover()
	if err != nil {
		return nil, err
	}
	return fpmath.MulDiv(mc, uint256.NewInt(uint64(p.Weight)), uint256.NewInt(uint64(rs.WeightSum())))
}

func (rs *RiskStrategy) SellableCoverPerProduct(product common.Address) (*uint256.Int, error) {
	perProduct, err := rs.MaxCoverPerProduct(product)
	if err != nil {
		return nil, err
	}
	sellable, err := rs.SellableCover()
	if err != nil {
		return nil, err
	}
	return fpmath.Min(perProduct, sellable), nil
}

func (rs *RiskStrategy) MaxCoverPerPolicy(product common.Address) (*uint256.Int, error) {
	p, ok := rs.params[product]
	if !ok {
		return fpmath.Zero(), nil
	}
	perProduct, err := rs.MaxCoverPerProduct(product)
	if err != nil {
		return nil, err
	}
	return perProduct.Div(perProduct, uint256.NewInt(uint64(p.Divisor))), nil
}

// WeightSum returns Σ product weights, or type(uint32).max when it is 0.
func (rs *RiskStrategy) WeightSum() uint32 {
	if rs.weightSum == 0 {
		return fpmath.MaxUint32Val
	}
	return uint32(rs.weightSum)
}

func (rs *RiskStrategy) WeightAllocation() uint32 {
	return rs.riskManager.WeightPerStrategy(rs.address)
}

func (rs *RiskStrategy) Status() bool {
	return rs.riskManager.StrategyIsActive(rs.address)
}

func (rs *RiskStrategy) NumProducts() int { return rs.products.Len() }

// ProductAt returns the product at 1-based index i.
func (rs *RiskStrategy) ProductAt(i int) (common.Address, error) {
	a, ok := rs.products.At(i)
	if !ok {
		return common.Address{}, chain.ErrIndexOutOfBounds
	}
	return a, nil
}

func (rs *RiskStrategy) ProductRiskParams(product common.Address) (ProductRiskParams, bool) {
	p, ok := rs.params[product]
	return p, ok
}

func (rs *RiskStrategy) AppendState(b []byte) []byte {
	b = rs.Governable.AppendState(b)
	b = chain.AppendUint64(b, rs.weightSum)
	b = chain.AppendUint64(b, uint64(rs.products.Len()))
	for _, p := range rs.products.Keys() {
		params := rs.params[p]
		b = chain.AppendAddress(b, p)
		b = chain.AppendUint64(b, uint64(params.Weight))
		b = chain.AppendUint64(b, uint64(params.Price))
		b = chain.AppendUint64(b, uint64(params.Divisor))
	}
	return b
}
