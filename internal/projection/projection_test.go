package projection_test

import (
	"context"
	"testing"
	"time"

	"CoverLedger/internal/core"
	"CoverLedger/internal/event"
	"CoverLedger/internal/persistence"
	"CoverLedger/internal/projection"
	"CoverLedger/internal/testutil"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

// scenario sets two pools, deposits, then resets the pools to one.
func scenario(t *testing.T) []core.CoreOutput {
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
		&event.UwpBatchSet{
			TxHeader: next(testutil.Updater, testutil.CoverageAddr),
			Names:    []string{"a"},
			Amounts:  []*uint256.Int{uint256.NewInt(900)},
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

// ====================================
// BuildUpdate
// ====================================

func TestBuildUpdate_PoolWrites(t *testing.T) {
	outputs := scenario(t)

	u, err := projection.BuildUpdate(outputs[0])
	require.NoError(t, err)
	assert.Equal(t, int64(0), u.Sequence)
	assert.Empty(t, u.Balances)
	require.Len(t, u.Pools, 3)
	assert.Equal(t, "uwp-a", u.Pools[0].Name, "genesis pool is wiped first")
	assert.True(t, u.Pools[0].Removed)
	assert.Equal(t, "a", u.Pools[1].Name)
	assert.True(t, u.Pools[1].Amount.Equal(decimal.NewFromInt(700)))
	assert.Equal(t, testutil.CoverageAddr, u.Pools[1].Provider)
	assert.Equal(t, "b", u.Pools[2].Name)

	u, err = projection.BuildUpdate(outputs[2])
	require.NoError(t, err)
	var removed, set []string
	for _, p := range u.Pools {
		if p.Removed {
			removed = append(removed, p.Name)
		} else {
			set = append(set, p.Name)
		}
	}
	assert.ElementsMatch(t, []string{"a", "b"}, removed)
	assert.Equal(t, []string{"a"}, set)
}

func TestBuildUpdate_MintCreditsHolder(t *testing.T) {
	outputs := scenario(t)

	u, err := projection.BuildUpdate(outputs[1])
	require.NoError(t, err)
	require.Len(t, u.Balances, 1)

	d := u.Balances[0]
	assert.Equal(t, testutil.User, d.Holder)
	assert.Equal(t, "25000000000000000000", d.Refundable.String())
	assert.True(t, d.NonRefundable.IsZero())
	assert.Equal(t, "applied", u.Receipt.Status)
}

func TestBuildUpdate_MalformedPoolLog(t *testing.T) {
	outputs := scenario(t)
	env := *outputs[0].Envelope
	env.Logs = append(env.Logs[:0:0], env.Logs...)
	env.Logs[1].Data = map[string]any{"amount": uint256.NewInt(1)}

	_, err := projection.BuildUpdate(core.CoreOutput{Envelope: &env})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing uwpName")
}

// ====================================
// Postgres
// ====================================

func TestPostgres_ApplyIsIdempotentAndMatchesRebuild(t *testing.T) {
	testutil.RequireIntegration(t)
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	require.NoError(t, persistence.NewMigrator(db, "").Up(ctx))

	outputs := scenario(t)
	pw := projection.NewProjectionWorker(db, nil, nil)
	for _, o := range outputs {
		u, err := projection.BuildUpdate(o)
		require.NoError(t, err)
		require.NoError(t, pw.Apply(ctx, u))
		require.NoError(t, pw.Apply(ctx, u), "second apply is skipped by the watermark")
	}

	snapshot := func() (string, map[string]string) {
		var bal string
		require.NoError(t, db.QueryRowContext(ctx,
			`SELECT refundable::TEXT FROM projections.scp_balances WHERE holder = $1`,
			hexLower(testutil.User)).Scan(&bal))

		rows, err := db.QueryContext(ctx, `SELECT uwp_name, amount::TEXT FROM projections.pool_valuations`)
		require.NoError(t, err)
		defer rows.Close()
		pools := map[string]string{}
		for rows.Next() {
			var name, amt string
			require.NoError(t, rows.Scan(&name, &amt))
			pools[name] = amt
		}
		return bal, pools
	}

	bal, pools := snapshot()
	assert.Equal(t, "25000000000000000000", bal)
	assert.Equal(t, map[string]string{"a": "900"}, pools)

	var batch []persistence.Record
	for _, o := range outputs {
		rec, err := persistence.NewRecord(o)
		require.NoError(t, err)
		batch = append(batch, rec)
	}
	require.NoError(t, persistence.NewPersistenceWorker(db, nil, 10, time.Second, nil).Flush(ctx, batch))

	require.NoError(t, projection.RebuildProjections(ctx, db))
	rbal, rpools := snapshot()
	assert.Equal(t, bal, rbal)
	assert.Equal(t, pools, rpools)

	var receipts int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM projections.receipts`).Scan(&receipts))
	assert.Equal(t, len(outputs), receipts)

	marks, err := projection.Watermarks(ctx, db)
	require.NoError(t, err)
	for _, name := range projection.Names {
		assert.Equal(t, int64(2), marks[name], name)
	}
}

func hexLower(a common.Address) string {
	b := []byte(a.Hex())
	for i, c := range b {
		if c >= 'A' && c <= 'F' {
			b[i] = c + 32
		}
	}
	return string(b)
}
