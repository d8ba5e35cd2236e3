package chain

import "github.com/ethereum/go-ethereum/common"

// GovernanceState is the phase of the two-step governance handshake.
type GovernanceState uint8

const (
	GovernanceCurrent GovernanceState = iota
	GovernancePendingTransfer
	GovernanceLocked
)

func (s GovernanceState) String() string {
	switch s {
	case GovernanceCurrent:
		return "current"
	case GovernancePendingTransfer:
		return "pending_transfer"
	case GovernanceLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// LockedGovernanceAddress is the sentinel governance of a locked contract.
// No key controls it, so every governance-gated call fails forever.
var LockedGovernanceAddress = common.BigToAddress(common.Big1)

// Governable implements the setPendingGovernance / acceptGovernance /
// lockGovernance handshake. Contracts embed it to inherit the entry points.
type Governable struct {
	env      *Env
	contract common.Address

	governance common.Address
	pending    common.Address
}

func NewGovernable(env *Env, contract, governance common.Address) (*Governable, error) {
	if governance == (common.Address{}) {
		return nil, ErrZeroAddressGovernance
	}
	return &Governable{
		env:        env,
		contract:   contract,
		governance: governance,
	}, nil
}

func (g *Governable) Governance() common.Address {
	return g.governance
}

func (g *Governable) PendingGovernance() common.Address {
	return g.pending
}

func (g *Governable) GovernanceIsLocked() bool {
	return g.governance == LockedGovernanceAddress
}

func (g *Governable) GovernanceState() GovernanceState {
	switch {
	case g.GovernanceIsLocked():
		return GovernanceLocked
	case g.pending != (common.Address{}):
		return GovernancePendingTransfer
	default:
		return GovernanceCurrent
	}
}

// OnlyGovernance fails unless caller is the current governor.
func (g *Governable) OnlyGovernance(caller common.Address) error {
	if g.GovernanceIsLocked() {
		return ErrGovernanceLocked
	}
	if caller != g.governance {
		return ErrNotGovernance
	}
	return nil
}

// SetPendingGovernance nominates a successor. Setting the zero address
// cancels a pending transfer.
func (g *Governable) SetPendingGovernance(caller, pending common.Address) error {
	if err := g.OnlyGovernance(caller); err != nil {
		return err
	}
	Assign(g.env.Journal, &g.pending, pending)
	g.env.Emit(g.contract, "GovernancePending", Fields{"pendingGovernance": pending})
	return nil
}

// AcceptGovernance completes the transfer; only the nominee may call it.
func (g *Governable) AcceptGovernance(caller common.Address) error {
	if g.GovernanceIsLocked() {
		return ErrGovernanceLocked
	}
	if g.pending == (common.Address{}) {
		return ErrZeroAddressGovernance
	}
	if caller != g.pending {
		return ErrNotPendingGovernance
	}
	old := g.governance
	Assign(g.env.Journal, &g.governance, g.pending)
	Assign(g.env.Journal, &g.pending, common.Address{})
	g.env.Emit(g.contract, "GovernanceTransferred", Fields{"oldGovernance": old, "newGovernance": caller})
	return nil
}

// LockGovernance permanently disables every governance-gated entry point.
func (g *Governable) LockGovernance(caller common.Address) error {
	if err := g.OnlyGovernance(caller); err != nil {
		return err
	}
	Assign(g.env.Journal, &g.governance, LockedGovernanceAddress)
	Assign(g.env.Journal, &g.pending, LockedGovernanceAddress)
	g.env.Emit(g.contract, "GovernanceLocked", nil)
	return nil
}
