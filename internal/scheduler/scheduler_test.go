package scheduler_test

import (
	"context"
	"errors"
	"testing"

	"CoverLedger/internal/core"
	"CoverLedger/internal/observability"
	"CoverLedger/internal/scheduler"
	"CoverLedger/internal/testutil"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ====================================================================
// Audit
// ====================================================================

func TestRunAudit_CountsResults(t *testing.T) {
	eng := &fakeEngine{}
	m := observability.NewMetricsWith(prometheus.NewRegistry())
	s := scheduler.NewScheduler(context.Background(), eng, nil, m)

	require.NoError(t, s.RunAudit())
	assert.NoError(t, s.LastAudit())

	eng.auditErr = errors.New("scp supply mismatch")
	require.Error(t, s.RunAudit())
	assert.EqualError(t, s.LastAudit(), "scp supply mismatch")

	assert.Equal(t, 1.0, promtest.ToFloat64(m.InvariantAudits.WithLabelValues("ok")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.InvariantAudits.WithLabelValues("violated")))
}

func TestRunAudit_SamplesRiskGauges(t *testing.T) {
	sys, err := core.NewSystem(testutil.Genesis(t))
	require.NoError(t, err)
	m := observability.NewMetricsWith(prometheus.NewRegistry())
	s := scheduler.NewScheduler(context.Background(), core.NewEngine(sys, nil, nil, nil, nil), nil, m)

	require.NoError(t, s.RunAudit())
	assert.InDelta(t, 1e-15, promtest.ToFloat64(m.UwpMaxCover), 1e-18, "genesis pool holds 1000 base units")
	assert.InDelta(t, 1e-15, promtest.ToFloat64(m.RiskMaxCover), 1e-18)
	assert.Zero(t, promtest.ToFloat64(m.ScpTotalSupply))
}

// ====================================================================
// Checkpoints
// ====================================================================

func TestRunCheckpoint_SkipsEmptyAndUnchanged(t *testing.T) {
	eng := &fakeEngine{}
	saver := &fakeSaver{}
	m := observability.NewMetricsWith(prometheus.NewRegistry())
	s := scheduler.NewScheduler(context.Background(), eng, saver, m)

	require.NoError(t, s.RunCheckpoint(context.Background()))
	assert.Empty(t, saver.saved, "nothing to checkpoint before the first tx")

	eng.cp = core.Checkpoint{Sequence: 4, StateHash: [32]byte{0xaa}}
	eng.ok = true
	require.NoError(t, s.RunCheckpoint(context.Background()))
	require.NoError(t, s.RunCheckpoint(context.Background()))
	require.Len(t, saver.saved, 1)
	assert.Equal(t, int64(4), saver.saved[0].Sequence)

	eng.cp.Sequence = 9
	require.NoError(t, s.RunCheckpoint(context.Background()))
	require.Len(t, saver.saved, 2)

	assert.Equal(t, 2.0, promtest.ToFloat64(m.CheckpointTaken))
	assert.Equal(t, 9.0, promtest.ToFloat64(m.CheckpointLastSeq))
}

func TestRunCheckpoint_RetriesAfterFailure(t *testing.T) {
	eng := &fakeEngine{cp: core.Checkpoint{Sequence: 2}, ok: true}
	saver := &fakeSaver{err: errors.New("connection refused")}
	s := scheduler.NewScheduler(context.Background(), eng, saver, nil)

	require.Error(t, s.RunCheckpoint(context.Background()))

	saver.err = nil
	require.NoError(t, s.RunCheckpoint(context.Background()))
	assert.Len(t, saver.saved, 1)
}

func TestRegisterAll(t *testing.T) {
	s := scheduler.NewScheduler(context.Background(), &fakeEngine{}, &fakeSaver{}, nil)
	require.NoError(t, s.RegisterAll("*/10 * * * * *", "0 */5 * * * *"))
	require.Error(t, s.RegisterAll("not a spec", ""))

	s.Start()
	s.Stop()
}

// --- Test helpers ---

type fakeEngine struct {
	auditErr error
	cp       core.Checkpoint
	ok       bool
}

func (f *fakeEngine) AuditInvariants() error              { return f.auditErr }
func (f *fakeEngine) Checkpoint() (core.Checkpoint, bool) { return f.cp, f.ok }
func (f *fakeEngine) View(func(*core.System))             {}

type fakeSaver struct {
	saved []core.Checkpoint
	err   error
}

func (f *fakeSaver) Save(_ context.Context, cp core.Checkpoint) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, cp)
	return nil
}
