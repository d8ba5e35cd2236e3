package persistence_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"CoverLedger/internal/core"
	"CoverLedger/internal/event"
	"CoverLedger/internal/observability"
	"CoverLedger/internal/persistence"
	"CoverLedger/internal/testutil"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

// runEngine applies a short scenario and returns every core output.
func runEngine(t *testing.T) []core.CoreOutput {
	t.Helper()
	sys, err := core.NewSystem(testutil.Genesis(t))
	require.NoError(t, err)

	out := make(chan core.CoreOutput, 16)
	eng := core.NewEngine(sys, out, nil, nil, nil)

	ts := testutil.GenesisTimestamp
	next := func(from, to common.Address) event.TxHeader {
		ts++
		return event.TxHeader{TxID: uuid.New(), From: from, To: to, Nonce: eng.NextNonce(from), Timestamp: ts}
	}

	txs := []event.Tx{
		&event.UwpBatchSet{
			TxHeader: next(testutil.Updater, testutil.CoverageAddr),
			Names:    []string{"a", "b"},
			Amounts:  []*uint256.Int{uint256.NewInt(700), uint256.NewInt(300)},
		},
		&event.DepositStable{
			TxHeader: next(testutil.User, testutil.PaymentAddr),
			Token:    testutil.USDCAddr,
			Receiver: testutil.User,
			Amount:   testutil.Wad(25),
		},
		&event.SetPartialReservesFactor{
			TxHeader: next(testutil.User, testutil.RiskManagerAddr),
			Factor:   5000,
		},
	}
	for _, tx := range txs {
		_, err := eng.ProcessTransaction(tx)
		require.NoError(t, err)
	}
	close(out)

	var outputs []core.CoreOutput
	for o := range out {
		outputs = append(outputs, o)
	}
	require.Len(t, outputs, len(txs))
	return outputs
}

type memLog struct {
	envs []*event.TxEnvelope
	cps  map[int64][32]byte
	ver  []int64
}

func (m *memLog) LoadTransactionsFrom(_ context.Context, from int64, limit int) ([]*event.TxEnvelope, error) {
	var out []*event.TxEnvelope
	for _, e := range m.envs {
		if e.Sequence >= from && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memLog) All(context.Context) (map[int64][32]byte, error) { return m.cps, nil }

func (m *memLog) MarkVerified(_ context.Context, seq int64) error {
	m.ver = append(m.ver, seq)
	return nil
}

// toLog round-trips outputs through rows, as a restart would see them.
func toLog(t *testing.T, outputs []core.CoreOutput) *memLog {
	t.Helper()
	m := &memLog{cps: map[int64][32]byte{}}
	for _, o := range outputs {
		rec, err := persistence.NewRecord(o)
		require.NoError(t, err)
		env, err := rec.Tx.Envelope()
		require.NoError(t, err)
		m.envs = append(m.envs, env)
	}
	return m
}

func freshEngine(t *testing.T) *core.Engine {
	t.Helper()
	sys, err := core.NewSystem(testutil.Genesis(t))
	require.NoError(t, err)
	return core.NewEngine(sys, nil, nil, nil, nil)
}

// ============================================================================
// Records
// ============================================================================

func TestNewRecord(t *testing.T) {
	outputs := runEngine(t)

	pools, err := persistence.NewRecord(outputs[0])
	require.NoError(t, err)
	assert.Equal(t, "UwpBatchSet", pools.Tx.TxType)
	assert.Equal(t, int16(event.TxStatusApplied), pools.Tx.Status)
	assert.Len(t, pools.Tx.StateHash, 32)
	require.Len(t, pools.Logs, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{pools.Logs[0].LogIndex, pools.Logs[1].LogIndex, pools.Logs[2].LogIndex})
	assert.JSONEq(t, `{"uwpName":"a","amount":"700"}`, string(pools.Logs[1].Data))
	assert.Empty(t, pools.Journals)

	deposit, err := persistence.NewRecord(outputs[1])
	require.NoError(t, err)
	require.Len(t, deposit.Journals, 1)
	j := deposit.Journals[0]
	assert.Equal(t, "25000000000000000000", j.Amount)
	assert.Equal(t, "external:issuance", j.CreditAccount)
	assert.Contains(t, j.DebitAccount, ":refundable")
	assert.Equal(t, deposit.Tx.TxID, j.EventRef)

	reverted, err := persistence.NewRecord(outputs[2])
	require.NoError(t, err)
	assert.Equal(t, int16(event.TxStatusReverted), reverted.Tx.Status)
	assert.Equal(t, "!governance", reverted.Tx.RevertReason)
	assert.Equal(t, "reverted", reverted.Receipt.Status)
}

func TestTxRow_EnvelopeRoundTrip(t *testing.T) {
	out := runEngine(t)[1]
	rec, err := persistence.NewRecord(out)
	require.NoError(t, err)

	env, err := rec.Tx.Envelope()
	require.NoError(t, err)
	assert.Equal(t, out.Envelope.TxID, env.TxID)
	assert.Equal(t, out.Envelope.TxType, env.TxType)
	assert.Equal(t, out.Envelope.From, env.From)
	assert.Equal(t, out.Envelope.StateHash, env.StateHash)
	assert.Equal(t, out.Envelope.PrevHash, env.PrevHash)
	assert.Equal(t, out.Envelope.Payload, env.Payload)

	bad := rec.Tx
	bad.TxType = "TradeFill"
	_, err = bad.Envelope()
	require.Error(t, err)
}

// ============================================================================
// Replay
// ============================================================================

func TestReplayLog_VerifiesCheckpoints(t *testing.T) {
	outputs := runEngine(t)
	log := toLog(t, outputs)
	log.cps[1] = outputs[1].Envelope.StateHash
	log.cps[2] = outputs[2].Envelope.StateHash

	eng := freshEngine(t)
	res, err := persistence.ReplayLog(context.Background(), eng, log, log)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Replayed)
	assert.Equal(t, 2, res.Checkpoints)
	assert.Equal(t, []int64{1, 2}, log.ver)
	assert.Equal(t, outputs[2].Envelope.StateHash, eng.GetStateHash())
	assert.Equal(t, int64(3), eng.GetSequence())
}

func TestReplayLog_BadCheckpointAborts(t *testing.T) {
	outputs := runEngine(t)
	log := toLog(t, outputs)
	log.cps[0] = [32]byte{0xde, 0xad}

	res, err := persistence.ReplayLog(context.Background(), freshEngine(t), log, log)
	require.Error(t, err)
	assert.Equal(t, int64(1), res.Replayed)
	assert.Empty(t, log.ver)
}

func TestReplayLog_Empty(t *testing.T) {
	log := &memLog{}
	res, err := persistence.ReplayLog(context.Background(), freshEngine(t), log, log)
	require.NoError(t, err)
	assert.Zero(t, res.Replayed)
	assert.Equal(t, core.GenesisHash(), freshEngine(t).GetStateHash())
}

// ============================================================================
// Migrations
// ============================================================================

func TestMigrator_EmbeddedSet(t *testing.T) {
	migs, err := persistence.NewMigrator(nil, "").Migrations()
	require.NoError(t, err)
	require.Len(t, migs, 2)
	assert.Equal(t, "000001", migs[0].Version)
	assert.Equal(t, "event_log", migs[0].Name)
	assert.Equal(t, "projections", migs[1].Name)
}

func TestMigrator_DirSource(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	write("000002_b.up.sql", "SELECT 2;")
	write("000001_a.up.sql", "SELECT 1;")
	write("000001_a.down.sql", "SELECT -1;")
	write("README.md", "ignored")

	migs, err := persistence.NewMigrator(nil, dir).Migrations()
	require.NoError(t, err)
	require.Len(t, migs, 2)
	assert.Equal(t, []string{"000001", "000002"}, []string{migs[0].Version, migs[1].Version})

	write("000003_c.down.sql", "SELECT -3;")
	_, err = persistence.NewMigrator(nil, dir).Migrations()
	assert.ErrorContains(t, err, "000003 has no up file")
}

// ============================================================================
// Postgres (integration)
// ============================================================================

func TestPostgres_WriteCheckpointDedup(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, persistence.NewMigrator(db, "").Up(ctx))

	outputs := runEngine(t)
	var batch []persistence.Record
	for _, o := range outputs {
		rec, err := persistence.NewRecord(o)
		require.NoError(t, err)
		batch = append(batch, rec)
	}

	receipts := make(chan event.Receipt, 8)
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	w := persistence.NewPersistenceWorker(db, nil, 10, time.Second, metrics)
	w.PublishReceipts(receipts)
	require.NoError(t, w.Flush(ctx, batch))
	require.NoError(t, w.Flush(ctx, batch), "rewrites are idempotent")
	assert.Len(t, receipts, 2*len(batch))
	assert.Equal(t, float64(2*len(batch)), promtest.ToFloat64(metrics.PersistTxWritten))
	assert.Equal(t, 1, promtest.CollectAndCount(metrics.ApplyToPersist))

	store := persistence.NewCheckpointStore(db)
	last, err := store.LatestSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), last)

	envs, err := store.LoadTransactionsFrom(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, envs, 2)
	assert.Equal(t, outputs[1].Envelope.StateHash, envs[0].StateHash)
	assert.Equal(t, event.TxStatusReverted, envs[1].Status)

	cp := core.Checkpoint{Sequence: 2, StateHash: outputs[2].Envelope.StateHash}
	require.NoError(t, store.Save(ctx, cp))
	got, err := store.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, cp, *got)

	dedup := persistence.NewPostgresIdempotencyChecker(db)
	dup, err := dedup.IsDuplicate("DepositStable", outputs[1].Envelope.TxID.String())
	require.NoError(t, err)
	assert.True(t, dup)
	dup, err = dedup.IsDuplicate("DepositStable", uuid.NewString())
	require.NoError(t, err)
	assert.False(t, dup)

	var sum string
	require.NoError(t, db.QueryRowContext(ctx,
		`SELECT SUM(amount)::TEXT FROM event_log.journal`).Scan(&sum))
	assert.Equal(t, "25000000000000000000", sum)
}

func TestPostgres_MigratorUpIsIdempotent(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	m := persistence.NewMigrator(db, "")
	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Up(ctx), "second run is a no-op")

	pending, err := m.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
