package core

import (
	"CoverLedger/internal/chain"
	"CoverLedger/internal/event"
	"CoverLedger/internal/ledger"
	"CoverLedger/internal/state"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnknownContract = chain.Revert("unknown contract")
	ErrUnsupportedCall = chain.Revert("unsupported call")
	ErrInvalidRetainer = chain.Revert("invalid retainer")
	ErrInvalidStrategy = chain.Revert("invalid strategy")
	ErrInvalidRegistry = chain.Revert("invalid registry")
)

type governable interface {
	SetPendingGovernance(caller, pending common.Address) error
	AcceptGovernance(caller common.Address) error
	LockGovernance(caller common.Address) error
}

type registryUser interface {
	SetRegistry(caller common.Address, registry *chain.Registry) error
}

// target resolves addr to a contract implementing T.
func target[T any](s *System, addr common.Address) (T, error) {
	var zero T
	c, ok := s.Lookup(addr)
	if !ok {
		return zero, ErrUnknownContract
	}
	t, ok := c.(T)
	if !ok {
		return zero, ErrUnsupportedCall
	}
	return t, nil
}

// dispatch executes tx against the contract at tx.To. Any error is a revert.
func (s *System) dispatch(tx event.Tx) error {
	h := tx.Header()
	from := h.From

	switch t := tx.(type) {

	// --- governance & wiring ---
	case *event.SetPendingGovernance:
		g, err := target[governable](s, h.To)
		if err != nil {
			return err
		}
		return g.SetPendingGovernance(from, t.Pending)

	case *event.AcceptGovernance:
		g, err := target[governable](s, h.To)
		if err != nil {
			return err
		}
		return g.AcceptGovernance(from)

	case *event.LockGovernance:
		g, err := target[governable](s, h.To)
		if err != nil {
			return err
		}
		return g.LockGovernance(from)

	case *event.RegistrySet:
		r, err := target[*chain.Registry](s, h.To)
		if err != nil {
			return err
		}
		values := make([]chain.Contract, len(t.Values))
		for i, addr := range t.Values {
			if c, ok := s.Lookup(addr); ok {
				values[i] = c
			} else {
				values[i] = chain.Account(addr)
			}
		}
		return r.Set(from, t.Keys, values)

	case *event.SetRegistry:
		u, err := target[registryUser](s, h.To)
		if err != nil {
			return err
		}
		r, err := target[*chain.Registry](s, t.Registry)
		if err != nil {
			return ErrInvalidRegistry
		}
		return u.SetRegistry(from, r)

	case *event.AddSigner:
		c, err := target[interface {
			AddSigner(caller, signer common.Address) error
		}](s, h.To)
		if err != nil {
			return err
		}
		return c.AddSigner(from, t.Signer)

	case *event.RemoveSigner:
		c, err := target[interface {
			RemoveSigner(caller, signer common.Address) error
		}](s, h.To)
		if err != nil {
			return err
		}
		return c.RemoveSigner(from, t.Signer)

	// --- coverage data providers ---
	case *event.UwpSet:
		c, err := target[*state.CoverageDataProvider](s, h.To)
		if err != nil {
			return err
		}
		return c.Set(from, t.Name, t.Amount)

	case *event.UwpReset:
		c, err := target[*state.CoverageDataProvider](s, h.To)
		if err != nil {
			return err
		}
		return c.Reset(from, t.Names, t.Amounts)

	case *event.UwpRemove:
		c, err := target[*state.CoverageDataProvider](s, h.To)
		if err != nil {
			return err
		}
		return c.Remove(from, t.Name)

	case *event.SetUwpUpdater:
		c, err := target[*state.CoverageDataProvider](s, h.To)
		if err != nil {
			return err
		}
		return c.SetUwpUpdater(from, t.Updater)

	case *event.UwpBatchSet:
		c, err := target[*state.CoverageDataProviderV2](s, h.To)
		if err != nil {
			return err
		}
		return c.Set(from, t.Names, t.Amounts)

	case *event.UwpBatchRemove:
		c, err := target[*state.CoverageDataProviderV2](s, h.To)
		if err != nil {
			return err
		}
		return c.Remove(from, t.Names)

	case *event.AddUwpUpdater:
		c, err := target[*state.CoverageDataProviderV2](s, h.To)
		if err != nil {
			return err
		}
		return c.AddUpdater(from, t.Updater)

	case *event.RemoveUwpUpdater:
		c, err := target[*state.CoverageDataProviderV2](s, h.To)
		if err != nil {
			return err
		}
		return c.RemoveUpdater(from, t.Updater)

	// --- risk manager ---
	case *event.AddRiskStrategy:
		rm, err := target[*state.RiskManager](s, h.To)
		if err != nil {
			return err
		}
		_, err = rm.AddRiskStrategy(from, t.Strategy)
		return err

	case *event.SetStrategyStatus:
		rm, err := target[*state.RiskManager](s, h.To)
		if err != nil {
			return err
		}
		return rm.SetStrategyStatus(from, t.Strategy, t.Status)

	case *event.SetWeightAllocation:
		rm, err := target[*state.RiskManager](s, h.To)
		if err != nil {
			return err
		}
		return rm.SetWeightAllocation(from, t.Strategy, t.Weight)

	case *event.SetPartialReservesFactor:
		rm, err := target[*state.RiskManager](s, h.To)
		if err != nil {
			return err
		}
		return rm.SetPartialReservesFactor(from, t.Factor)

	case *event.AddCoverLimitUpdater:
		rm, err := target[*state.RiskManager](s, h.To)
		if err != nil {
			return err
		}
		return rm.AddCoverLimitUpdater(from, t.Updater)

	case *event.RemoveCoverLimitUpdater:
		rm, err := target[*state.RiskManager](s, h.To)
		if err != nil {
			return err
		}
		return rm.RemoveCoverLimitUpdater(from, t.Updater)

	// --- risk strategy ---
	case *event.SetProductRiskParams:
		rs, err := target[*state.RiskStrategy](s, h.To)
		if err != nil {
			return err
		}
		return rs.SetProductParams(from, t.Products, t.Params)

	case *event.RemoveProductRiskParams:
		rs, err := target[*state.RiskStrategy](s, h.To)
		if err != nil {
			return err
		}
		return rs.RemoveProduct(from, t.Product)

	// --- policy manager ---
	case *event.AddPolicyProduct:
		pm, err := target[*state.PolicyManager](s, h.To)
		if err != nil {
			return err
		}
		rs, err := target[state.Assessor](s, t.Strategy)
		if err != nil {
			return ErrInvalidStrategy
		}
		return pm.AddProduct(from, t.Product, rs)

	case *event.RemovePolicyProduct:
		pm, err := target[*state.PolicyManager](s, h.To)
		if err != nil {
			return err
		}
		return pm.RemoveProduct(from, t.Product)

	case *event.SetMinScpRatio:
		pm, err := target[*state.PolicyManager](s, h.To)
		if err != nil {
			return err
		}
		return pm.SetMinScpRatio(from, t.Bps)

	case *event.CreatePolicy:
		pm, err := target[*state.PolicyManager](s, h.To)
		if err != nil {
			return err
		}
		_, err = pm.CreatePolicy(from, t.Policyholder, t.CoverLimit)
		return err

	case *event.UpdatePolicy:
		pm, err := target[*state.PolicyManager](s, h.To)
		if err != nil {
			return err
		}
		return pm.UpdatePolicy(from, t.PolicyID, t.CoverLimit)

	case *event.BurnPolicy:
		pm, err := target[*state.PolicyManager](s, h.To)
		if err != nil {
			return err
		}
		return pm.BurnPolicy(from, t.PolicyID)

	// --- SCP ---
	case *event.ScpMint:
		scp, err := target[*ledger.SCP](s, h.To)
		if err != nil {
			return err
		}
		return scp.Mint(from, t.Account, t.Amount, t.IsRefundable)

	case *event.ScpTransfer:
		scp, err := target[*ledger.SCP](s, h.To)
		if err != nil {
			return err
		}
		return scp.Transfer(from, t.Recipient, t.Amount)

	case *event.ScpTransferFrom:
		scp, err := target[*ledger.SCP](s, h.To)
		if err != nil {
			return err
		}
		return scp.TransferFrom(from, t.Sender, t.Recipient, t.Amount)

	case *event.ScpBurn:
		scp, err := target[*ledger.SCP](s, h.To)
		if err != nil {
			return err
		}
		return scp.Burn(from, t.Account, t.Amount)

	case *event.ScpWithdraw:
		scp, err := target[*ledger.SCP](s, h.To)
		if err != nil {
			return err
		}
		return scp.Withdraw(from, t.Account, t.Amount)

	case *event.ScpMulticall:
		scp, err := target[*ledger.SCP](s, h.To)
		if err != nil {
			return err
		}
		return scp.Multicall(from, t.Ops)

	case *event.SetScpMoverStatuses:
		scp, err := target[*ledger.SCP](s, h.To)
		if err != nil {
			return err
		}
		return scp.SetScpMoverStatuses(from, t.Movers, t.Statuses)

	case *event.SetScpRetainerStatuses:
		scp, err := target[*ledger.SCP](s, h.To)
		if err != nil {
			return err
		}
		retainers := make([]ledger.Retainer, len(t.Retainers))
		for i, addr := range t.Retainers {
			r, err := target[ledger.Retainer](s, addr)
			if err != nil {
				return ErrInvalidRetainer
			}
			retainers[i] = r
		}
		return scp.SetScpRetainerStatuses(from, retainers, t.Statuses)

	// --- cover payment manager ---
	case *event.DepositStable:
		m, err := s.payment(h.To)
		if err != nil {
			return err
		}
		return m.DepositStable(from, t.Token, t.Receiver, t.Amount)

	case *event.DepositSignedStable:
		m, err := s.payment(h.To)
		if err != nil {
			return err
		}
		return m.DepositSignedStable(from, t.Token, t.Receiver, t.Amount, t.Deadline, t.PermitSig())

	case *event.DepositNonStable:
		m, err := s.payment(h.To)
		if err != nil {
			return err
		}
		return m.DepositNonStable(from, t.Token, t.Receiver, t.Amount, t.Price, t.Deadline, t.Signature)

	case *event.Withdraw:
		m, err := s.payment(h.To)
		if err != nil {
			return err
		}
		return m.Withdraw(from, t.Amount, t.Receiver, t.Price, t.Deadline, t.Signature)

	case *event.SetTokenInfo:
		m, err := s.payment(h.To)
		if err != nil {
			return err
		}
		return m.SetTokenInfo(from, t.Tokens)

	case *event.SetPaused:
		m, err := s.payment(h.To)
		if err != nil {
			return err
		}
		return m.SetPaused(from, t.Paused)

	case *event.AddPaymentProduct:
		m, err := s.payment(h.To)
		if err != nil {
			return err
		}
		return m.AddProduct(from, t.Product)

	case *event.RemovePaymentProduct:
		m, err := s.payment(h.To)
		if err != nil {
			return err
		}
		return m.RemoveProduct(from, t.Product)

	case *event.ChargePremiums:
		m, err := s.payment(h.To)
		if err != nil {
			return err
		}
		return m.ChargePremiums(from, t.Accounts, t.Premiums)

	// --- ERC-20 ---
	case *event.TokenTransfer:
		tok, err := s.token(h.To)
		if err != nil {
			return err
		}
		return tok.Transfer(from, t.Recipient, t.Amount)

	case *event.TokenApprove:
		tok, err := s.token(h.To)
		if err != nil {
			return err
		}
		return tok.Approve(from, t.Spender, t.Amount)

	case *event.TokenMint:
		tok, err := s.token(h.To)
		if err != nil {
			return err
		}
		return tok.Mint(from, t.Account, t.Amount)

	default:
		return ErrUnsupportedCall
	}
}
