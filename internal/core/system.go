package core

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"CoverLedger/internal/chain"
	"CoverLedger/internal/genesis"
	"CoverLedger/internal/ledger"
	"CoverLedger/internal/payment"
	"CoverLedger/internal/signer"
	"CoverLedger/internal/state"
	"CoverLedger/internal/token"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// System is the deployed contract set plus the environment they share.
// Contracts are addressed through Lookup; the typed fields are shortcuts
// for views and audits.
type System struct {
	Env   *chain.Env
	Clock *chain.ManualClock

	Registry      *chain.Registry
	Coverage      *state.CoverageDataProviderV2
	CoverageV1    *state.CoverageDataProvider // nil unless deployed
	RiskManager   *state.RiskManager
	PolicyManager *state.PolicyManager
	SCP           *ledger.SCP
	Payment       *payment.CoverPaymentManager
	Signer        *signer.SolaceSigner
	Solace        *token.ERC20
	PremiumPool   common.Address

	Strategies map[common.Address]*state.RiskStrategy
	Tokens     map[common.Address]*token.ERC20

	contracts map[common.Address]chain.Contract
}

// Lookup resolves a deployed contract by address.
func (s *System) Lookup(addr common.Address) (chain.Contract, bool) {
	c, ok := s.contracts[addr]
	return c, ok
}

// Addresses returns every deployed contract address in byte order.
func (s *System) Addresses() []common.Address {
	out := make([]common.Address, 0, len(s.contracts))
	for a := range s.contracts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}

func (s *System) deploy(c chain.Contract) error {
	addr := c.Address()
	if _, dup := s.contracts[addr]; dup {
		return fmt.Errorf("address %s already deployed", addr.Hex())
	}
	s.contracts[addr] = c
	return nil
}

// AppendState appends every contract's storage in address order. This is
// the digest fed into the state hash chain.
func (s *System) AppendState(b []byte) []byte {
	for _, addr := range s.Addresses() {
		sa, ok := s.contracts[addr].(chain.StateAppender)
		if !ok {
			continue
		}
		b = chain.AppendAddress(b, addr)
		b = sa.AppendState(b)
	}
	return b
}

// AuditInvariants checks the global ledger and risk invariants.
func (s *System) AuditInvariants() error {
	var errs []error
	if err := s.SCP.Validator().ValidateAll(); err != nil {
		errs = append(errs, fmt.Errorf("scp: %w", err))
	}
	if err := s.RiskManager.CheckCoverLimitInvariant(); err != nil {
		errs = append(errs, fmt.Errorf("risk manager: %w", err))
	}
	if err := s.RiskManager.CheckWeightSumInvariant(); err != nil {
		errs = append(errs, fmt.Errorf("risk manager: %w", err))
	}
	return errors.Join(errs...)
}

// NewSystem deploys and wires every contract described by g. Genesis
// actions run as governance before sequence 0; their logs are discarded
// and the journal is committed.
func NewSystem(g *genesis.Genesis) (*System, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}

	clock := chain.NewManualClock(g.Timestamp)
	env := chain.NewEnv(g.ChainID, clock)
	gov := g.Governance
	c := g.Contracts

	s := &System{
		Env:         env,
		Clock:       clock,
		PremiumPool: c.PremiumPool,
		Strategies:  make(map[common.Address]*state.RiskStrategy),
		Tokens:      make(map[common.Address]*token.ERC20),
		contracts:   make(map[common.Address]chain.Contract),
	}

	step := func(what string, err error) error {
		if err != nil {
			return fmt.Errorf("genesis %s: %w", what, err)
		}
		return nil
	}

	var err error

	// Tokens first, so the registry and the payment manager can resolve them.
	for _, t := range g.Tokens {
		tok, err := token.NewERC20(env, t.Address, gov, t.Name, t.Symbol, t.Decimals)
		if err := step("token "+t.Symbol, err); err != nil {
			return nil, err
		}
		if err := s.deploy(tok); err != nil {
			return nil, err
		}
		s.Tokens[t.Address] = tok

		minters := t.Minters
		if len(t.Balances) > 0 {
			minters = append([]common.Address{gov}, minters...)
		}
		for _, m := range minters {
			if err := step("add minter", tok.AddMinter(gov, m)); err != nil {
				return nil, err
			}
		}
		holders := make([]common.Address, 0, len(t.Balances))
		for h := range t.Balances {
			holders = append(holders, h)
		}
		sort.Slice(holders, func(i, j int) bool {
			return bytes.Compare(holders[i][:], holders[j][:]) < 0
		})
		for _, h := range holders {
			amt := t.Balances[h]
			if err := step("mint "+t.Symbol, tok.Mint(gov, h, amt.Value())); err != nil {
				return nil, err
			}
		}
	}
	s.Solace = s.Tokens[g.Solace]

	for _, a := range g.Allowances {
		tok, ok := s.Tokens[a.Token]
		if !ok {
			return nil, fmt.Errorf("genesis allowance: unknown token %s", a.Token.Hex())
		}
		if err := step("approve", tok.Approve(a.Owner, a.Spender, a.Amount.Value())); err != nil {
			return nil, err
		}
	}

	if s.Registry, err = chain.NewRegistry(env, c.Registry, gov); err != nil {
		return nil, step("registry", err)
	}
	if s.Coverage, err = state.NewCoverageDataProviderV2(env, c.CoverageDataProvider, gov); err != nil {
		return nil, step("coverage data provider", err)
	}
	if c.CoverageDataProviderV1 != (common.Address{}) {
		if s.CoverageV1, err = state.NewCoverageDataProvider(env, c.CoverageDataProviderV1, gov); err != nil {
			return nil, step("coverage data provider v1", err)
		}
	}
	if s.SCP, err = ledger.NewSCP(env, c.SCP, gov); err != nil {
		return nil, step("scp", err)
	}
	if s.Signer, err = signer.NewSolaceSigner(env, c.SolaceSigner, gov); err != nil {
		return nil, step("solace signer", err)
	}

	if err := step("registry set", s.Registry.Set(gov,
		[]string{chain.KeyCoverageDataProvider, chain.KeySCP, chain.KeySolace, chain.KeyPremiumPool, chain.KeySolaceSigner},
		[]chain.Contract{s.Coverage, s.SCP, s.Solace, chain.Account(c.PremiumPool), s.Signer},
	)); err != nil {
		return nil, err
	}

	if s.RiskManager, err = state.NewRiskManager(env, c.RiskManager, gov, s.Registry); err != nil {
		return nil, step("risk manager", err)
	}
	if s.PolicyManager, err = state.NewPolicyManager(env, c.PolicyManager, gov, s.RiskManager); err != nil {
		return nil, step("policy manager", err)
	}
	if err := step("registry set", s.Registry.Set(gov,
		[]string{chain.KeyRiskManager, chain.KeyPolicyManager},
		[]chain.Contract{s.RiskManager, s.PolicyManager},
	)); err != nil {
		return nil, err
	}
	if s.Payment, err = payment.NewCoverPaymentManager(env, c.CoverPaymentManager, gov, s.Registry, s); err != nil {
		return nil, step("cover payment manager", err)
	}

	for _, dc := range []chain.Contract{s.Registry, s.Coverage, s.SCP, s.Signer, s.RiskManager, s.PolicyManager, s.Payment} {
		if err := s.deploy(dc); err != nil {
			return nil, err
		}
	}
	if s.CoverageV1 != nil {
		if err := s.deploy(s.CoverageV1); err != nil {
			return nil, err
		}
	}

	// Pools and updaters
	if len(g.Pools) > 0 {
		names := make([]string, len(g.Pools))
		amounts := make([]*uint256.Int, len(g.Pools))
		for i, p := range g.Pools {
			names[i] = p.Name
			amounts[i] = p.Amount.Value()
		}
		if err := step("pools", s.Coverage.Set(gov, names, amounts)); err != nil {
			return nil, err
		}
	}
	for _, u := range g.UwpUpdaters {
		if err := step("uwp updater", s.Coverage.AddUpdater(gov, u)); err != nil {
			return nil, err
		}
	}

	// Strategies and their products
	if g.PartialReservesFactor != 0 {
		if err := step("partial reserves factor", s.RiskManager.SetPartialReservesFactor(gov, g.PartialReservesFactor)); err != nil {
			return nil, err
		}
	}
	if err := step("cover limit updater", s.RiskManager.AddCoverLimitUpdater(gov, s.PolicyManager.Address())); err != nil {
		return nil, err
	}
	for _, u := range g.CoverLimitUpdaters {
		if err := step("cover limit updater", s.RiskManager.AddCoverLimitUpdater(gov, u)); err != nil {
			return nil, err
		}
	}
	for _, st := range g.Strategies {
		rs, err := state.NewRiskStrategy(env, st.Address, gov, s.RiskManager)
		if err := step("strategy", err); err != nil {
			return nil, err
		}
		if err := s.deploy(rs); err != nil {
			return nil, err
		}
		s.Strategies[st.Address] = rs

		if _, err := s.RiskManager.AddRiskStrategy(gov, st.Address); err != nil {
			return nil, step("add strategy", err)
		}
		if st.Active {
			if err := step("activate strategy", s.RiskManager.SetStrategyStatus(gov, st.Address, uint8(state.StrategyActive))); err != nil {
				return nil, err
			}
			if st.Weight > 0 {
				if err := step("strategy weight", s.RiskManager.SetWeightAllocation(gov, st.Address, st.Weight)); err != nil {
					return nil, err
				}
			}
		}

		products := make([]common.Address, len(st.Products))
		params := make([]state.ProductRiskParams, len(st.Products))
		for i, p := range st.Products {
			products[i] = p.Address
			params[i] = p.Params()
		}
		if len(products) > 0 {
			if err := step("product params", rs.SetProductParams(gov, products, params)); err != nil {
				return nil, err
			}
		}
		for _, p := range products {
			if err := step("policy product", s.PolicyManager.AddProduct(gov, p, rs)); err != nil {
				return nil, err
			}
		}
	}
	if g.MinScpRatioBps != 0 {
		if err := step("min scp ratio", s.PolicyManager.SetMinScpRatio(gov, g.MinScpRatioBps)); err != nil {
			return nil, err
		}
	}

	// SCP capabilities: the payment manager moves SCP, the policy manager
	// retains it.
	movers := append([]common.Address{s.Payment.Address()}, g.ScpMovers...)
	statuses := make([]bool, len(movers))
	for i := range statuses {
		statuses[i] = true
	}
	if err := step("scp movers", s.SCP.SetScpMoverStatuses(gov, movers, statuses)); err != nil {
		return nil, err
	}
	if err := step("scp retainers", s.SCP.SetScpRetainerStatuses(gov, []ledger.Retainer{s.PolicyManager}, []bool{true})); err != nil {
		return nil, err
	}

	for _, a := range g.Signers {
		if err := step("signer", s.Signer.AddSigner(gov, a)); err != nil {
			return nil, err
		}
	}

	infos := make([]payment.TokenInfo, 0, len(g.Tokens))
	for _, t := range g.Tokens {
		if !t.Accepted && !t.Refundable && !t.Permittable && !t.Stable {
			continue
		}
		infos = append(infos, payment.TokenInfo{
			Token:       t.Address,
			Accepted:    t.Accepted,
			Permittable: t.Permittable,
			Refundable:  t.Refundable,
			Stable:      t.Stable,
		})
	}
	if len(infos) > 0 {
		if err := step("token info", s.Payment.SetTokenInfo(gov, infos)); err != nil {
			return nil, err
		}
	}
	for _, p := range g.PaymentProducts {
		if err := step("payment product", s.Payment.AddProduct(gov, p)); err != nil {
			return nil, err
		}
	}

	env.DrainLogs()
	s.SCP.DrainBatches()
	env.Journal.Commit()
	return s, nil
}

func (s *System) payment(addr common.Address) (*payment.CoverPaymentManager, error) {
	return target[*payment.CoverPaymentManager](s, addr)
}

func (s *System) token(addr common.Address) (*token.ERC20, error) {
	return target[*token.ERC20](s, addr)
}
