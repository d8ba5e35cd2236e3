package state

import (
	"CoverLedger/internal/chain"
	fpmath "CoverLedger/internal/math"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

var (
	ErrProductInactive       = chain.Revert("product inactive")
	ErrPolicyNotExist        = chain.Revert("policy does not exist")
	ErrCoverLimitExceedsRisk = chain.Revert("cover limit exceeds risk")
	ErrZeroAddressHolder     = chain.Revert("zero address policyholder")
	ErrInvalidStrategy       = chain.Revert("invalid strategy")
	ErrNotPolicyProduct      = chain.Revert("!product")
)

// CoverLimitUpdater is the RiskManager surface PolicyManager writes through.
type CoverLimitUpdater interface {
	UpdateActiveCoverLimitForStrategy(caller, strategy common.Address, currentCoverLimit, newCoverLimit *uint256.Int) error
}

// Policy is a record in the policy book.
type Policy struct {
	ID           uint64         `json:"id"`
	Policyholder common.Address `json:"policyholder"`
	Product      common.Address `json:"product"`
	Strategy     common.Address `json:"strategy"`
	CoverLimit   *uint256.Int   `json:"coverLimit"`
	CreatedAt    uint64         `json:"createdAt"`
}

// policyRecord keeps the strategy the policy was written against. Re-binding
// a product later does not move cover that is already sold.
type policyRecord struct {
	holder     common.Address
	product    common.Address
	strategy   Assessor
	coverLimit uint256.Int
	createdAt  uint64
}

// PolicyManager keeps the policy book and keeps RiskManager's active cover
// limits in step with it. It doubles as an SCP retainer: a holder must keep
// minScpRatio of their active cover in SCP.
type PolicyManager struct {
	*chain.Governable

	env         *chain.Env
	address     common.Address
	riskManager CoverLimitUpdater

	products        *chain.AddressSet
	productStrategy map[common.Address]Assessor
	policies        map[uint64]policyRecord
	policyCount     uint64
	coverByHolder   map[common.Address]uint256.Int
	totalCoverLimit uint256.Int
	minScpRatioBps  uint64
}

func NewPolicyManager(env *chain.Env, address, governance common.Address, riskManager CoverLimitUpdater) (*PolicyManager, error) {
	gov, err := chain.NewGovernable(env, address, governance)
	if err != nil {
		return nil, err
	}
	if riskManager == nil {
		return nil, chain.ErrZeroAddressValue
	}
	return &PolicyManager{
		Governable:      gov,
		env:             env,
		address:         address,
		riskManager:     riskManager,
		products:        chain.NewAddressSet(env.Journal),
		productStrategy: make(map[common.Address]Assessor),
		policies:        make(map[uint64]policyRecord),
		coverByHolder:   make(map[common.Address]uint256.Int),
	}, nil
}

func (pm *PolicyManager) Address() common.Address { return pm.address }

// AddProduct registers product and binds it to a strategy. Re-binding only
// affects policies written afterwards.
func (pm *PolicyManager) AddProduct(caller, product common.Address, strategy Assessor) error {
	if err := pm.OnlyGovernance(caller); err != nil {
		return err
	}
	if product == (common.Address{}) {
		return ErrZeroAddressProduct
	}
	if strategy == nil || strategy.Address() == (common.Address{}) {
		return ErrInvalidStrategy
	}
	pm.products.Add(product)
	chain.MapSet(pm.env.Journal, pm.productStrategy, product, strategy)
	pm.env.Emit(pm.address, "ProductAdded", chain.Fields{"product": product, "strategy": strategy.Address()})
	return nil
}

// RemoveProduct stops product from writing policies. Existing policies stay.
func (pm *PolicyManager) RemoveProduct(caller, product common.Address) error {
	if err := pm.OnlyGovernance(caller); err != nil {
		return err
	}
	if pm.products.Remove(product) {
		pm.env.Emit(pm.address, "ProductRemoved", chain.Fields{"product": product})
	}
	return nil
}

func (pm *PolicyManager) ProductIsActive(product common.Address) bool {
	return pm.products.Contains(product)
}

func (pm *PolicyManager) NumProducts() int { return pm.products.Len() }

// SetMinScpRatio sets the share of active cover, in basis points, that a
// holder must keep in SCP.
func (pm *PolicyManager) SetMinScpRatio(caller common.Address, bps uint16) error {
	if err := pm.OnlyGovernance(caller); err != nil {
		return err
	}
	if bps > fpmath.BPS {
		return ErrInvalidFactor
	}
	chain.Assign(pm.env.Journal, &pm.minScpRatioBps, uint64(bps))
	pm.env.Emit(pm.address, "MinScpRatioSet", chain.Fields{"minScpRatio": bps})
	return nil
}

func (pm *PolicyManager) MinScpRatio() uint16 { return uint16(pm.minScpRatioBps) }

// CreatePolicy writes a new policy for policyholder on behalf of the calling
// product.
func (pm *PolicyManager) CreatePolicy(caller, policyholder common.Address, coverLimit *uint256.Int) (uint64, error) {
	if !pm.products.Contains(caller) {
		return 0, ErrProductInactive
	}
	if policyholder == (common.Address{}) {
		return 0, ErrZeroAddressHolder
	}
	strategy := pm.productStrategy[caller]
	if err := pm.assess(strategy, caller, fpmath.Zero(), coverLimit); err != nil {
		return 0, err
	}
	if err := pm.riskManager.UpdateActiveCoverLimitForStrategy(pm.address, strategy.Address(), fpmath.Zero(), coverLimit); err != nil {
		return 0, err
	}

	id := pm.policyCount + 1
	chain.Assign(pm.env.Journal, &pm.policyCount, id)
	chain.MapSet(pm.env.Journal, pm.policies, id, policyRecord{
		holder:     policyholder,
		product:    caller,
		strategy:   strategy,
		coverLimit: *fpmath.Clone(coverLimit),
		createdAt:  pm.env.Now(),
	})
	if err := pm.shiftHolderCover(policyholder, fpmath.Zero(), coverLimit); err != nil {
		return 0, err
	}
	pm.env.Emit(pm.address, "PolicyCreated", chain.Fields{"policyID": id, "policyholder": policyholder, "coverLimit": fpmath.Clone(coverLimit)})
	return id, nil
}

// UpdatePolicy changes a policy's cover limit. Only the product that wrote
// the policy may update it.
func (pm *PolicyManager) UpdatePolicy(caller common.Address, policyID uint64, newCoverLimit *uint256.Int) error {
	rec, err := pm.ownedPolicy(caller, policyID)
	if err != nil {
		return err
	}
	strategy := rec.strategy
	current := fpmath.Clone(&rec.coverLimit)
	if err := pm.assess(strategy, rec.product, current, newCoverLimit); err != nil {
		return err
	}
	if err := pm.riskManager.UpdateActiveCoverLimitForStrategy(pm.address, strategy.Address(), current, newCoverLimit); err != nil {
		return err
	}
	rec.coverLimit = *fpmath.Clone(newCoverLimit)
	chain.MapSet(pm.env.Journal, pm.policies, policyID, rec)
	if err := pm.shiftHolderCover(rec.holder, current, newCoverLimit); err != nil {
		return err
	}
	pm.env.Emit(pm.address, "PolicyUpdated", chain.Fields{"policyID": policyID, "coverLimit": fpmath.Clone(newCoverLimit)})
	return nil
}

// BurnPolicy closes a policy and releases its cover.
func (pm *PolicyManager) BurnPolicy(caller common.Address, policyID uint64) error {
	rec, err := pm.ownedPolicy(caller, policyID)
	if err != nil {
		return err
	}
	current := fpmath.Clone(&rec.coverLimit)
	if err := pm.riskManager.UpdateActiveCoverLimitForStrategy(pm.address, rec.strategy.Address(), current, fpmath.Zero()); err != nil {
		return err
	}
	chain.MapDelete(pm.env.Journal, pm.policies, policyID)
	if err := pm.shiftHolderCover(rec.holder, current, fpmath.Zero()); err != nil {
		return err
	}
	pm.env.Emit(pm.address, "PolicyBurned", chain.Fields{"policyID": policyID})
	return nil
}

func (pm *PolicyManager) ownedPolicy(caller common.Address, policyID uint64) (policyRecord, error) {
	rec, ok := pm.policies[policyID]
	if !ok {
		return policyRecord{}, ErrPolicyNotExist
	}
	if rec.product != caller {
		return policyRecord{}, ErrNotPolicyProduct
	}
	return rec, nil
}

func (pm *PolicyManager) assess(strategy Assessor, product common.Address, current, next *uint256.Int) error {
	ok, _, err := strategy.AssessRisk(product, current, next)
	if err != nil {
		return err
	}
	if !ok {
		return ErrCoverLimitExceedsRisk
	}
	return nil
}

func (pm *PolicyManager) shiftHolderCover(holder common.Address, current, next *uint256.Int) error {
	prev := pm.coverByHolder[holder]
	v, err := applyDelta(&prev, current, next)
	if err != nil {
		return err
	}
	total, err := applyDelta(&pm.totalCoverLimit, current, next)
	if err != nil {
		return err
	}
	if v.IsZero() {
		chain.MapDelete(pm.env.Journal, pm.coverByHolder, holder)
	} else {
		chain.MapSet(pm.env.Journal, pm.coverByHolder, holder, *v)
	}
	chain.Assign(pm.env.Journal, &pm.totalCoverLimit, *total)
	return nil
}

// MinScpRequired implements the SCP retainer contract.
func (pm *PolicyManager) MinScpRequired(holder common.Address) (*uint256.Int, error) {
	cover := pm.coverByHolder[holder]
	return fpmath.MulDiv(&cover, uint256.NewInt(pm.minScpRatioBps), fpmath.BPSInt())
}

// === Views ===

func (pm *PolicyManager) PolicyExists(policyID uint64) bool {
	_, ok := pm.policies[policyID]
	return ok
}

func (pm *PolicyManager) GetPolicy(policyID uint64) (Policy, error) {
	rec, ok := pm.policies[policyID]
	if !ok {
		return Policy{}, ErrPolicyNotExist
	}
	return Policy{
		ID:           policyID,
		Policyholder: rec.holder,
		Product:      rec.product,
		Strategy:     rec.strategy.Address(),
		CoverLimit:   fpmath.Clone(&rec.coverLimit),
		CreatedAt:    rec.createdAt,
	}, nil
}

func (pm *PolicyManager) TotalPolicyCount() uint64 { return pm.policyCount }

func (pm *PolicyManager) ActiveCoverLimitOf(holder common.Address) *uint256.Int {
	v := pm.coverByHolder[holder]
	return fpmath.Clone(&v)
}

func (pm *PolicyManager) TotalCoverLimit() *uint256.Int {
	return fpmath.Clone(&pm.totalCoverLimit)
}

func (pm *PolicyManager) AppendState(b []byte) []byte {
	b = pm.Governable.AppendState(b)
	b = chain.AppendUint64(b, pm.policyCount)
	b = chain.AppendUint64(b, pm.minScpRatioBps)
	b = chain.AppendWord(b, &pm.totalCoverLimit)
	b = chain.AppendUint64(b, uint64(pm.products.Len()))
	for _, p := range pm.products.Keys() {
		b = chain.AppendAddress(b, p)
		b = chain.AppendAddress(b, pm.productStrategy[p].Address())
	}
	for id := uint64(1); id <= pm.policyCount; id++ {
		rec, ok := pm.policies[id]
		if !ok {
			continue
		}
		b = chain.AppendUint64(b, id)
		b = chain.AppendAddress(b, rec.holder)
		b = chain.AppendAddress(b, rec.product)
		b = chain.AppendAddress(b, rec.strategy.Address())
		b = chain.AppendWord(b, &rec.coverLimit)
	}
	return b
}
