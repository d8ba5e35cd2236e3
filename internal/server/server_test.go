package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"CoverLedger/internal/core"
	"CoverLedger/internal/ingestion"
	"CoverLedger/internal/observability"
	"CoverLedger/internal/pricefeed"
	"CoverLedger/internal/query"
	"CoverLedger/internal/server"
	"CoverLedger/internal/testutil"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const testSecret = "test-secret"

// --- Test helpers ---

type memStore struct {
	mu sync.Mutex
	m  map[common.Address]pricefeed.Attestation
}

func (s *memStore) Put(_ context.Context, a pricefeed.Attestation, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[a.Token] = a
	return nil
}

func (s *memStore) Get(_ context.Context, token common.Address) (pricefeed.Attestation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.m[token]
	if !ok {
		return pricefeed.Attestation{}, pricefeed.ErrNoPrice
	}
	return a, nil
}

type harness struct {
	eng     *core.Engine
	metrics *observability.Metrics
	conn    *grpc.ClientConn
	gw      http.Handler
	token   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	sys, err := core.NewSystem(testutil.Genesis(t))
	require.NoError(t, err)
	eng := core.NewEngine(sys, nil, nil, nil, nil)

	auth := server.NewAdminAuth(testSecret)
	metrics := observability.NewMetricsWith(prometheus.NewRegistry())
	deps := &server.ServerDeps{
		QueryService:  query.NewQueryService(nil, eng),
		IngestService: ingestion.NewIngestService(eng),
		Prices: pricefeed.NewFeed(&memStore{m: map[common.Address]pricefeed.Attestation{}},
			pricefeed.NewEngineVerifier(eng), nil),
		Engine:    eng,
		Auth:      auth,
		StartTime: time.Now(),
		Metrics:   metrics,
	}

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(server.ServerOptions(deps)...)
	server.Register(srv, deps)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	gw, err := server.NewGateway(conn)
	require.NoError(t, err)

	token, err := auth.Issue("ops", time.Hour)
	require.NoError(t, err)

	return &harness{eng: eng, metrics: metrics, conn: conn, gw: gw, token: token}
}

func (h *harness) do(t *testing.T, method, path string, body any, withToken bool) (int, map[string]any) {
	t.Helper()
	var rdr *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	} else {
		rdr = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rdr)
	if withToken {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	rec := httptest.NewRecorder()
	h.gw.ServeHTTP(rec, req)

	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec.Code, out
}

func uwpBatchSet(eng *core.Engine) map[string]any {
	return map[string]any{
		"tx_type": "UwpBatchSet",
		"payload": map[string]any{
			"txId":      uuid.NewString(),
			"from":      testutil.Updater.Hex(),
			"to":        testutil.CoverageAddr.Hex(),
			"nonce":     eng.NextNonce(testutil.Updater),
			"timestamp": testutil.GenesisTimestamp + 1,
			"names":     []string{"a"},
			"amounts":   []string{"2000000000000000000"},
		},
	}
}

// ====================================
// Query routes
// ====================================

func TestGateway_Risk(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(t, "GET", "/v1/risk", nil, false)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "0.000000000000001", body["max_cover"])
	assert.Len(t, body["strategies"], 1)
}

func TestGateway_Strategy(t *testing.T) {
	h := newHarness(t)

	code, body := h.do(t, "GET", "/v1/strategies/"+testutil.StrategyAddr.Hex(), nil, false)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, "active", body["status"])

	code, _ = h.do(t, "GET", "/v1/strategies/not-an-address", nil, false)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = h.do(t, "GET", "/v1/strategies/0x000000000000000000000000000000000000dead", nil, false)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NotFound", body["code"])
}

func TestGRPC_RecordsRequestMetrics(t *testing.T) {
	h := newHarness(t)

	code, _ := h.do(t, "GET", "/v1/risk", nil, false)
	require.Equal(t, http.StatusOK, code)
	code, _ = h.do(t, "GET", "/v1/strategies/0x000000000000000000000000000000000000dead", nil, false)
	require.Equal(t, http.StatusNotFound, code)

	assert.Equal(t, 1.0, promtest.ToFloat64(h.metrics.QueryRequests.WithLabelValues("GetRisk", "ok")))
	assert.Equal(t, 1.0, promtest.ToFloat64(h.metrics.QueryRequests.WithLabelValues("GetStrategy", "error")))
	assert.Equal(t, 1.0, promtest.ToFloat64(h.metrics.QueryErrors.WithLabelValues("GetStrategy", "NotFound")))
}

func TestGateway_ProjectionsUnavailableWithoutDB(t *testing.T) {
	h := newHarness(t)
	code, _ := h.do(t, "GET", "/v1/pools", nil, false)
	assert.Equal(t, http.StatusInternalServerError, code)
}

// ====================================
// Ingest routes
// ====================================

func TestGateway_SubmitTxRequiresAdmin(t *testing.T) {
	h := newHarness(t)

	code, _ := h.do(t, "POST", "/v1/tx", uwpBatchSet(h.eng), false)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, int64(0), h.eng.GetSequence())

	code, body := h.do(t, "POST", "/v1/tx", uwpBatchSet(h.eng), true)
	require.Equal(t, http.StatusOK, code, body)
	receipt := body["receipt"].(map[string]any)
	assert.Equal(t, "applied", receipt["status"])

	code, body = h.do(t, "GET", "/v1/status", nil, false)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), body["sequence"])

	code, body = h.do(t, "GET", "/v1/risk", nil, false)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "2", body["max_cover"])
}

func TestGateway_SubmitTxErrors(t *testing.T) {
	h := newHarness(t)

	code, _ := h.do(t, "POST", "/v1/tx", map[string]any{"tx_type": "Liquidate", "payload": map[string]any{}}, true)
	assert.Equal(t, http.StatusBadRequest, code)

	tx := uwpBatchSet(h.eng)
	tx["payload"].(map[string]any)["nonce"] = 7
	code, _ = h.do(t, "POST", "/v1/tx", tx, true)
	assert.Equal(t, http.StatusBadRequest, code, "nonce gap is a failed precondition")
}

func TestGateway_Prices(t *testing.T) {
	h := newHarness(t)
	price, deadline := uint256.NewInt(5e17), uint256.NewInt(testutil.GenesisTimestamp+60)
	sig := testutil.SignPrice(t, testutil.USDCAddr, price, deadline)

	code, _ := h.do(t, "GET", "/v1/prices/"+testutil.USDCAddr.Hex(), nil, false)
	assert.Equal(t, http.StatusNotFound, code)

	code, body := h.do(t, "POST", "/v1/prices", map[string]any{
		"token":     testutil.USDCAddr.Hex(),
		"price":     price.Dec(),
		"deadline":  deadline.Dec(),
		"signature": fmt.Sprintf("0x%x", sig),
	}, false)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["accepted"])

	code, body = h.do(t, "GET", "/v1/prices/"+testutil.USDCAddr.Hex(), nil, false)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, price.Dec(), body["price"])

	code, _ = h.do(t, "POST", "/v1/prices", map[string]any{
		"token":     testutil.USDCAddr.Hex(),
		"price":     "1",
		"deadline":  deadline.Dec(),
		"signature": fmt.Sprintf("0x%x", sig),
	}, false)
	assert.Equal(t, http.StatusBadRequest, code)
}

// ====================================
// Admin routes
// ====================================

func TestGateway_Admin(t *testing.T) {
	h := newHarness(t)

	code, _ := h.do(t, "GET", "/v1/admin/integrity", nil, false)
	assert.Equal(t, http.StatusUnauthorized, code)

	code, body := h.do(t, "GET", "/v1/admin/integrity", nil, true)
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, true, body["is_healthy"])

	code, _ = h.do(t, "POST", "/v1/admin/checkpoint", nil, true)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	code, _ = h.do(t, "POST", "/v1/admin/prices", map[string]any{"token": testutil.USDCAddr.Hex(), "price": "0.5"}, true)
	assert.Equal(t, http.StatusServiceUnavailable, code, "no attestor key")
}

func TestGRPC_DirectInvoke(t *testing.T) {
	h := newHarness(t)

	var risk query.RiskResponse
	require.NoError(t, server.Invoke(context.Background(), h.conn,
		"/"+server.QueryServiceName+"/GetRisk", &server.GetRiskRequest{}, &risk))
	assert.Equal(t, uint32(1), risk.WeightSum)

	var report query.IntegrityReport
	err := server.Invoke(context.Background(), h.conn,
		"/"+server.AdminServiceName+"/VerifyIntegrity", &server.VerifyIntegrityRequest{}, &report)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

// ====================================
// AdminAuth
// ====================================

func TestAdminAuth(t *testing.T) {
	auth := server.NewAdminAuth(testSecret)

	tok, err := auth.Issue("ops", time.Hour)
	require.NoError(t, err)
	sub, err := auth.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, "ops", sub)

	expired, err := auth.Issue("ops", -time.Minute)
	require.NoError(t, err)
	_, err = auth.Validate(expired)
	assert.ErrorIs(t, err, server.ErrUnauthorized)

	_, err = server.NewAdminAuth("other").Validate(tok)
	assert.ErrorIs(t, err, server.ErrUnauthorized)

	viewer := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "v", "role": "viewer", "iss": "coverledger", "exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := viewer.SignedString([]byte(testSecret))
	require.NoError(t, err)
	_, err = auth.Validate(signed)
	assert.ErrorIs(t, err, server.ErrUnauthorized)
}
