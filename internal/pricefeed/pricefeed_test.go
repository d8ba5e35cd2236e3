package pricefeed_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"CoverLedger/internal/core"
	"CoverLedger/internal/observability"
	"CoverLedger/internal/pricefeed"
	"CoverLedger/internal/signer"
	"CoverLedger/internal/testutil"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

type memStore struct {
	mu   sync.Mutex
	m    map[common.Address]pricefeed.Attestation
	ttls map[common.Address]time.Duration
	gets int
}

func newMemStore() *memStore {
	return &memStore{m: map[common.Address]pricefeed.Attestation{}, ttls: map[common.Address]time.Duration{}}
}

func (s *memStore) Put(_ context.Context, a pricefeed.Attestation, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[a.Token] = a
	s.ttls[a.Token] = ttl
	return nil
}

func (s *memStore) Get(_ context.Context, token common.Address) (pricefeed.Attestation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	a, ok := s.m[token]
	if !ok {
		return pricefeed.Attestation{}, pricefeed.ErrNoPrice
	}
	return a, nil
}

func newFeed(t *testing.T) (*pricefeed.Feed, *memStore, *core.Engine, *observability.Metrics) {
	t.Helper()
	sys, err := core.NewSystem(testutil.Genesis(t))
	require.NoError(t, err)
	eng := core.NewEngine(sys, nil, nil, nil, nil)
	store := newMemStore()
	m := observability.NewMetricsWith(prometheus.NewRegistry())
	return pricefeed.NewFeed(store, pricefeed.NewEngineVerifier(eng), m), store, eng, m
}

func attestation(t *testing.T, price, deadline uint64) pricefeed.Attestation {
	p, d := uint256.NewInt(price), uint256.NewInt(deadline)
	return pricefeed.Attestation{
		Token:     testutil.USDCAddr,
		Price:     p,
		Deadline:  d,
		Signature: testutil.SignPrice(t, testutil.USDCAddr, p, d),
	}
}

// ====================================
// Submit / Latest
// ====================================

func TestSubmit_StoresUntilDeadline(t *testing.T) {
	feed, store, _, m := newFeed(t)
	ctx := context.Background()

	a := attestation(t, 5e17, testutil.GenesisTimestamp+60)
	require.NoError(t, feed.Submit(ctx, a))
	assert.Equal(t, 60*time.Second, store.ttls[testutil.USDCAddr])
	assert.Equal(t, float64(1), promtest.ToFloat64(m.PriceAttestations.WithLabelValues("accepted")))

	got, err := feed.Latest(ctx, testutil.USDCAddr)
	require.NoError(t, err)
	assert.Equal(t, a.Price, got.Price)
	assert.Equal(t, 0, store.gets, "served from cache")
}

func TestSubmit_Rejects(t *testing.T) {
	feed, _, _, m := newFeed(t)
	ctx := context.Background()

	expired := attestation(t, 5e17, testutil.GenesisTimestamp-1)
	assert.ErrorIs(t, feed.Submit(ctx, expired), pricefeed.ErrExpired)

	forged := attestation(t, 5e17, testutil.GenesisTimestamp+60)
	forged.Price = uint256.NewInt(1)
	assert.ErrorIs(t, feed.Submit(ctx, forged), pricefeed.ErrInvalidAttestation)

	zero := attestation(t, 0, testutil.GenesisTimestamp+60)
	assert.ErrorIs(t, feed.Submit(ctx, zero), pricefeed.ErrInvalidAttestation)

	assert.Equal(t, float64(1), promtest.ToFloat64(m.PriceAttestations.WithLabelValues("expired")))
	assert.Equal(t, float64(2), promtest.ToFloat64(m.PriceAttestations.WithLabelValues("rejected")))
}

func TestSubmit_NewestQuoteWins(t *testing.T) {
	feed, store, _, _ := newFeed(t)
	ctx := context.Background()

	long := attestation(t, 5e17, testutil.GenesisTimestamp+600)
	short := attestation(t, 6e17, testutil.GenesisTimestamp+60)
	require.NoError(t, feed.Submit(ctx, long))
	require.NoError(t, feed.Submit(ctx, short))

	got, err := feed.Latest(ctx, testutil.USDCAddr)
	require.NoError(t, err)
	assert.Equal(t, uint256.NewInt(6e17), got.Price)
	assert.Equal(t, uint256.NewInt(6e17), store.m[testutil.USDCAddr].Price, "store and cache agree")
}

func TestSubmit_FarDeadlineCapsStoreTTL(t *testing.T) {
	feed, store, _, _ := newFeed(t)

	far := attestation(t, 5e17, 1<<62)
	require.NoError(t, feed.Submit(context.Background(), far))
	assert.Equal(t, pricefeed.MaxStoreTTL, store.ttls[testutil.USDCAddr])
}

func TestLatest_FallsBackToStore(t *testing.T) {
	feed, store, _, _ := newFeed(t)
	ctx := context.Background()

	_, err := feed.Latest(ctx, testutil.USDCAddr)
	assert.ErrorIs(t, err, pricefeed.ErrNoPrice)

	a := attestation(t, 5e17, testutil.GenesisTimestamp+60)
	require.NoError(t, store.Put(ctx, a, time.Minute))
	got, err := feed.Latest(ctx, testutil.USDCAddr)
	require.NoError(t, err)
	assert.Equal(t, a.Deadline, got.Deadline)

	stale := attestation(t, 5e17, testutil.GenesisTimestamp-5)
	stale.Token = common.HexToAddress("0x01")
	require.NoError(t, store.Put(ctx, stale, time.Minute))
	_, err = feed.Latest(ctx, stale.Token)
	assert.ErrorIs(t, err, pricefeed.ErrNoPrice)
}

func TestPublish_SignsWithAttestor(t *testing.T) {
	feed, _, eng, _ := newFeed(t)
	ctx := context.Background()

	_, err := feed.Publish(ctx, testutil.USDCAddr, uint256.NewInt(1e18), time.Minute)
	assert.ErrorIs(t, err, pricefeed.ErrNoAttestor)

	var domain signer.Domain
	eng.View(func(s *core.System) { domain = s.Signer.Domain() })
	feed.SetAttestor(signer.NewAttestorFromKey(testutil.AttestorKey(t), domain))

	a, err := feed.Publish(ctx, testutil.USDCAddr, uint256.NewInt(1e18), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, uint64(testutil.GenesisTimestamp+60), a.Deadline.Uint64())
	assert.Equal(t, testutil.SignPrice(t, testutil.USDCAddr, a.Price, a.Deadline), []byte(a.Signature))
}

// ====================================
// Redis
// ====================================

func TestRedisStore_RoundTrip(t *testing.T) {
	testutil.RequireIntegration(t)
	ctx := context.Background()

	rdb, err := pricefeed.NewRedisClient(ctx, pricefeed.RedisConfig{Addr: testutil.TestRedisAddr()}, zerolog.Nop())
	if err != nil {
		t.Skipf("test redis not available: %v", err)
	}
	defer rdb.Close()

	store := pricefeed.NewRedisStore(rdb, zerolog.Nop())
	a := attestation(t, 5e17, testutil.GenesisTimestamp+60)
	require.NoError(t, store.Put(ctx, a, time.Minute))

	got, err := store.Get(ctx, a.Token)
	require.NoError(t, err)
	assert.Equal(t, a.Price, got.Price)
	assert.Equal(t, a.Signature, got.Signature)

	_, err = store.Get(ctx, common.HexToAddress("0x02"))
	assert.ErrorIs(t, err, pricefeed.ErrNoPrice)
}
