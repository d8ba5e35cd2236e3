package chain_test

import (
	"CoverLedger/internal/chain"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	gov     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	nominee = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	nobody  = common.HexToAddress("0x00000000000000000000000000000000000000ff")
	self    = common.HexToAddress("0x0000000000000000000000000000000000000c01")
)

// ============================================================================
// Journal
// ============================================================================

func TestJournal_RevertRestoresValuesAndMapEntries(t *testing.T) {
	j := chain.NewJournal()
	x := 1
	m := map[string]int{"a": 1}

	rev := j.Snapshot()
	chain.Assign(j, &x, 2)
	chain.MapSet(j, m, "a", 10)
	chain.MapSet(j, m, "b", 20)
	chain.MapDelete(j, m, "a")

	j.RevertToSnapshot(rev)

	assert.Equal(t, 1, x)
	assert.Equal(t, map[string]int{"a": 1}, m)
	assert.Equal(t, 0, j.Len())
}

func TestJournal_NestedSnapshots(t *testing.T) {
	j := chain.NewJournal()
	x := 0

	outer := j.Snapshot()
	chain.Assign(j, &x, 1)
	inner := j.Snapshot()
	chain.Assign(j, &x, 2)

	j.RevertToSnapshot(inner)
	assert.Equal(t, 1, x)

	j.RevertToSnapshot(outer)
	assert.Equal(t, 0, x)
}

func TestJournal_CommitDropsUndo(t *testing.T) {
	j := chain.NewJournal()
	x := 0
	chain.Assign(j, &x, 5)
	j.Commit()
	assert.Equal(t, 0, j.Len())
	assert.Equal(t, 5, x)
}

// ============================================================================
// Enumerable
// ============================================================================

func TestEnumerable_SwapAndPop(t *testing.T) {
	e := chain.NewEnumerable[string](chain.NewJournal())
	e.Add("a")
	e.Add("b")
	e.Add("c")

	require.True(t, e.Remove("a"))

	assert.Equal(t, 2, e.Len())
	assert.Equal(t, 1, e.IndexOf("c"), "last key moves into the vacated slot")
	assert.Equal(t, 2, e.IndexOf("b"))
	assert.Equal(t, 0, e.IndexOf("a"))

	k, ok := e.At(1)
	require.True(t, ok)
	assert.Equal(t, "c", k)

	_, ok = e.At(0)
	assert.False(t, ok, "index 0 is reserved")
}

func TestEnumerable_IndexBijectionHoldsAfterRevert(t *testing.T) {
	j := chain.NewJournal()
	e := chain.NewEnumerable[string](j)
	e.Add("a")
	e.Add("b")
	e.Add("c")
	j.Commit()

	rev := j.Snapshot()
	e.Remove("a")
	e.Add("d")
	e.Remove("c")
	e.Clear()
	e.Add("z")
	j.RevertToSnapshot(rev)

	assert.Equal(t, []string{"a", "b", "c"}, e.Keys())
	for i, k := range e.Keys() {
		assert.Equal(t, i+1, e.IndexOf(k))
	}
	assert.False(t, e.Contains("d"))
	assert.False(t, e.Contains("z"))
}

func TestEnumerable_AddIsIdempotent(t *testing.T) {
	e := chain.NewEnumerable[string](chain.NewJournal())
	i1, added1 := e.Add("a")
	i2, added2 := e.Add("a")
	assert.True(t, added1)
	assert.False(t, added2)
	assert.Equal(t, i1, i2)
	assert.False(t, e.Remove("missing"))
}

// ============================================================================
// Governance
// ============================================================================

func newGovernable(t *testing.T) (*chain.Env, *chain.Governable) {
	t.Helper()
	env := chain.NewEnv(1, nil)
	g, err := chain.NewGovernable(env, self, gov)
	require.NoError(t, err)
	return env, g
}

func TestGovernance_ZeroAddressRejected(t *testing.T) {
	_, err := chain.NewGovernable(chain.NewEnv(1, nil), self, common.Address{})
	assert.ErrorIs(t, err, chain.ErrZeroAddressGovernance)
}

func TestGovernance_Handshake(t *testing.T) {
	env, g := newGovernable(t)

	assert.ErrorIs(t, g.SetPendingGovernance(nobody, nominee), chain.ErrNotGovernance)
	require.NoError(t, g.SetPendingGovernance(gov, nominee))
	assert.Equal(t, chain.GovernancePendingTransfer, g.GovernanceState())

	assert.ErrorIs(t, g.AcceptGovernance(nobody), chain.ErrNotPendingGovernance)
	require.NoError(t, g.AcceptGovernance(nominee))

	assert.Equal(t, nominee, g.Governance())
	assert.Equal(t, common.Address{}, g.PendingGovernance())
	assert.Equal(t, chain.GovernanceCurrent, g.GovernanceState())

	names := []string{}
	for _, l := range env.DrainLogs() {
		names = append(names, l.Name)
	}
	assert.Equal(t, []string{"GovernancePending", "GovernanceTransferred"}, names)
}

func TestGovernance_LockIsAbsorbing(t *testing.T) {
	_, g := newGovernable(t)
	require.NoError(t, g.SetPendingGovernance(gov, nominee))
	require.NoError(t, g.LockGovernance(gov))

	assert.True(t, g.GovernanceIsLocked())
	assert.Equal(t, chain.GovernanceLocked, g.GovernanceState())
	assert.Equal(t, chain.LockedGovernanceAddress, g.Governance())

	assert.ErrorIs(t, g.OnlyGovernance(gov), chain.ErrGovernanceLocked)
	assert.ErrorIs(t, g.SetPendingGovernance(gov, nominee), chain.ErrGovernanceLocked)
	assert.ErrorIs(t, g.AcceptGovernance(nominee), chain.ErrGovernanceLocked)
	assert.ErrorIs(t, g.LockGovernance(gov), chain.ErrGovernanceLocked)
}

func TestGovernance_RevertedLockLeavesGovernanceIntact(t *testing.T) {
	env, g := newGovernable(t)
	err := env.Atomic(func() error {
		if err := g.LockGovernance(gov); err != nil {
			return err
		}
		return chain.Revert("boom")
	})
	require.Error(t, err)
	assert.False(t, g.GovernanceIsLocked())
	assert.Empty(t, env.PendingLogs())
}

// ============================================================================
// ReentrancyGuard & Registry
// ============================================================================

func TestReentrancyGuard(t *testing.T) {
	var g chain.ReentrancyGuard
	release, err := g.Enter()
	require.NoError(t, err)

	_, err = g.Enter()
	assert.ErrorIs(t, err, chain.ErrReentrantCall)

	release()
	_, err = g.Enter()
	assert.NoError(t, err)
}

func TestRegistry_SetAndGet(t *testing.T) {
	env := chain.NewEnv(1, nil)
	r, err := chain.NewRegistry(env, self, gov)
	require.NoError(t, err)

	pool := chain.Account(common.HexToAddress("0x0000000000000000000000000000000000000b01"))

	assert.ErrorIs(t, r.Set(nobody, []string{chain.KeyPremiumPool}, []chain.Contract{pool}), chain.ErrNotGovernance)
	assert.ErrorIs(t, r.Set(gov, []string{chain.KeyPremiumPool}, nil), chain.ErrLengthMismatch)
	assert.ErrorIs(t, r.Set(gov, []string{chain.KeySCP}, []chain.Contract{chain.Account{}}), chain.ErrZeroAddressValue)

	require.NoError(t, r.Set(gov, []string{chain.KeyPremiumPool}, []chain.Contract{pool}))

	got, err := r.Get(chain.KeyPremiumPool)
	require.NoError(t, err)
	assert.Equal(t, pool.Address(), got.Address())

	_, err = r.Get(chain.KeySolace)
	assert.ErrorIs(t, err, chain.ErrKeyNotInMapping)

	key, _, err := r.GetByIndex(1)
	require.NoError(t, err)
	assert.Equal(t, chain.KeyPremiumPool, key)
	assert.Equal(t, 1, r.Length())
}

func TestRevertError_MatchesByReason(t *testing.T) {
	err := chain.Revert("!governance")
	assert.ErrorIs(t, err, chain.ErrNotGovernance)
	assert.Equal(t, "!governance", chain.ReasonOf(err))
	assert.Equal(t, "", chain.ReasonOf(assert.AnError))
}
