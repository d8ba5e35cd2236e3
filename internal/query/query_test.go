package query_test

import (
	"context"
	"testing"

	"CoverLedger/internal/core"
	"CoverLedger/internal/query"
	"CoverLedger/internal/testutil"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func newLiveService(t *testing.T) *query.QueryService {
	t.Helper()
	sys, err := core.NewSystem(testutil.Genesis(t))
	require.NoError(t, err)
	return query.NewQueryService(nil, core.NewEngine(sys, nil, nil, nil, nil))
}

// ====================================
// Formatting
// ====================================

func TestFormatUnits(t *testing.T) {
	cases := []struct {
		raw      string
		decimals int32
		want     string
	}{
		{"0", 18, "0"},
		{"1500000000000000000", 18, "1.5"},
		{"1000", 18, "0.000000000000001"},
		{"-2000000", 6, "-2"},
		{"123456789", 0, "123456789"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, query.FormatUnits(decimal.RequireFromString(tc.raw), tc.decimals), tc.raw)
	}
	assert.Equal(t, "0", query.FormatUint256(nil, 18))
	assert.Equal(t, "25", query.FormatUint256(testutil.Wad(25), 18))
}

// ====================================
// Live state views
// ====================================

func TestGetRisk(t *testing.T) {
	qs := newLiveService(t)

	risk, err := qs.GetRisk(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.000000000000001", risk.MaxCover)
	assert.Equal(t, "0", risk.ActiveCoverLimit)
	assert.Equal(t, uint32(1), risk.WeightSum)
	assert.Equal(t, uint16(10000), risk.PartialReservesFactor)
	require.Len(t, risk.Strategies, 1)
	assert.Equal(t, testutil.StrategyAddr.Hex(), risk.Strategies[0].Address)
	assert.Equal(t, "active", risk.Strategies[0].Status)
	assert.Empty(t, risk.Strategies[0].Products, "summary omits products")
	assert.Zero(t, risk.PolicyCount)
	assert.Equal(t, "0", risk.TotalPolicyCover)
}

func TestGetStrategy(t *testing.T) {
	qs := newLiveService(t)

	st, err := qs.GetStrategy(context.Background(), testutil.StrategyAddr)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), st.ID)
	require.Len(t, st.Products, 1)
	assert.Equal(t, query.ProductResponse{
		Product: testutil.ProductAddr.Hex(), Weight: 1, Price: 100, Divisor: 1,
		MaxCover: "0.000000000000001", SellableCover: "0.000000000000001", MaxCoverPerPolicy: "0.000000000000001",
	}, st.Products[0])

	_, err = qs.GetStrategy(context.Background(), common.HexToAddress("0xdead"))
	assert.ErrorIs(t, err, query.ErrNotFound)
}

func TestGetStatus_WithoutDatabase(t *testing.T) {
	qs := newLiveService(t)

	st, err := qs.GetStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(-1), st.Sequence)
	assert.Len(t, st.StateHash, 66)
	assert.Nil(t, st.Watermarks)

	_, err = qs.GetPools(context.Background())
	assert.Error(t, err)
}

func TestVerifyIntegrity_LiveOnly(t *testing.T) {
	report, err := newLiveService(t).VerifyIntegrity(context.Background())
	require.NoError(t, err)
	assert.True(t, report.IsHealthy)
	assert.Equal(t, "0", report.SupplyImbalance)
}

func TestLiveViewsNeedEngine(t *testing.T) {
	qs := query.NewQueryService(nil, nil)
	_, err := qs.GetRisk(context.Background())
	assert.Error(t, err)
	_, err = qs.GetStrategy(context.Background(), testutil.StrategyAddr)
	assert.Error(t, err)
}
