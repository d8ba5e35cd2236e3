package chain

import "github.com/ethereum/go-ethereum/common"

// Well-known registry keys.
const (
	KeyCoverageDataProvider = "coverageDataProvider"
	KeySCP                  = "scp"
	KeySolace               = "solace"
	KeyPremiumPool          = "premiumPool"
	KeyRiskManager          = "riskManager"
	KeySolaceSigner         = "solaceSigner"
	KeyPolicyManager        = "policyManager"
)

// Registry maps string keys to deployed contracts. Consumers resolve their
// dependencies from it explicitly in SetRegistry rather than on every call.
type Registry struct {
	*Governable

	env     *Env
	address common.Address
	keys    *Enumerable[string]
	values  map[string]Contract
}

func NewRegistry(env *Env, address, governance common.Address) (*Registry, error) {
	gov, err := NewGovernable(env, address, governance)
	if err != nil {
		return nil, err
	}
	return &Registry{
		Governable: gov,
		env:        env,
		address:    address,
		keys:       NewEnumerable[string](env.Journal),
		values:     make(map[string]Contract),
	}, nil
}

func (r *Registry) Address() common.Address {
	return r.address
}

// Get returns the contract registered under key.
func (r *Registry) Get(key string) (Contract, error) {
	c, ok := r.values[key]
	if !ok {
		return nil, ErrKeyNotInMapping
	}
	return c, nil
}

func (r *Registry) TryGet(key string) (Contract, bool) {
	c, ok := r.values[key]
	return c, ok
}

func (r *Registry) Length() int {
	return r.keys.Len()
}

// GetByIndex returns the key/value pair at 1-based index.
func (r *Registry) GetByIndex(index int) (string, Contract, error) {
	key, ok := r.keys.At(index)
	if !ok {
		return "", nil, ErrIndexOutOfBounds
	}
	return key, r.values[key], nil
}

// Set upserts key/value pairs.
func (r *Registry) Set(caller common.Address, keys []string, values []Contract) error {
	if err := r.OnlyGovernance(caller); err != nil {
		return err
	}
	if len(keys) != len(values) {
		return ErrLengthMismatch
	}
	for _, v := range values {
		if v == nil || v.Address() == (common.Address{}) {
			return ErrZeroAddressValue
		}
	}
	for i, key := range keys {
		r.keys.Add(key)
		MapSet(r.env.Journal, r.values, key, values[i])
		r.env.Emit(r.address, "RecordSet", Fields{"key": key, "value": values[i].Address()})
	}
	return nil
}

func (r *Registry) AppendState(b []byte) []byte {
	b = r.Governable.AppendState(b)
	b = AppendUint64(b, uint64(r.keys.Len()))
	for _, k := range r.keys.keys {
		b = AppendString(b, k)
		b = AppendAddress(b, r.values[k].Address())
	}
	return b
}
