package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"CoverLedger/internal/core"
	"CoverLedger/internal/event"
	"CoverLedger/internal/ingestion"
	fpmath "CoverLedger/internal/math"
	"CoverLedger/internal/observability"
	"CoverLedger/internal/persistence"
	"CoverLedger/internal/pricefeed"
	"CoverLedger/internal/projection"
	"CoverLedger/internal/query"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// GRPCServer wraps the gRPC server and the HTTP gateway in front of it.
type GRPCServer struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	healthChecker *observability.HealthChecker
	log           zerolog.Logger
}

// Checkpointer is the engine's checkpoint source.
type Checkpointer interface {
	Checkpoint() (core.Checkpoint, bool)
}

// ServerDeps holds all dependencies needed by the gRPC services. DB,
// Prices, Checkpoints and Auth may be nil; the calls needing them then
// return Unavailable (or PermissionDenied for Auth).
type ServerDeps struct {
	DB            *sql.DB
	QueryService  *query.QueryService
	IngestService *ingestion.IngestService
	Prices        *pricefeed.Feed
	Engine        Checkpointer
	Checkpoints   *persistence.CheckpointStore
	Auth          *AdminAuth
	StartTime     time.Time
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
	Logger        zerolog.Logger
}

// NewGRPCServer creates a new gRPC server with all services registered.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) *GRPCServer {
	grpcServer := grpc.NewServer(ServerOptions(deps)...)
	Register(grpcServer, deps)

	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	return &GRPCServer{
		grpcServer:    grpcServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		healthChecker: deps.HealthChecker,
		log:           deps.Logger,
	}
}

// ServerOptions returns the interceptor chain: request metrics outermost,
// then admin auth.
func ServerOptions(deps *ServerDeps) []grpc.ServerOption {
	return []grpc.ServerOption{grpc.ChainUnaryInterceptor(
		metricsInterceptor(deps.Metrics),
		deps.Auth.UnaryInterceptor(),
	)}
}

func metricsInterceptor(m *observability.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if m == nil {
			return handler(ctx, req)
		}
		endpoint := info.FullMethod[strings.LastIndexByte(info.FullMethod, '/')+1:]
		start := time.Now()
		resp, err := handler(ctx, req)
		m.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

		result := "ok"
		if err != nil {
			result = "error"
			m.QueryErrors.WithLabelValues(endpoint, status.Code(err).String()).Inc()
		}
		m.QueryRequests.WithLabelValues(endpoint, result).Inc()
		return resp, err
	}
}

// Register adds the three coverledger.v1 services to s.
func Register(s grpc.ServiceRegistrar, deps *ServerDeps) {
	RegisterQueryServer(s, &queryServer{
		qs:     deps.QueryService,
		prices: deps.Prices,
		start:  deps.StartTime,
	})
	RegisterIngestServer(s, &ingestServer{svc: deps.IngestService, prices: deps.Prices})
	RegisterAdminServer(s, &adminServer{
		db:          deps.DB,
		qs:          deps.QueryService,
		prices:      deps.Prices,
		engine:      deps.Engine,
		checkpoints: deps.Checkpoints,
	})
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.log.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTPGateway serves the HTTP/JSON mirror of the gRPC services
// (blocking). Requests are proxied to the gRPC listener.
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	conn, err := grpc.NewClient(s.grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial grpc: %w", err)
	}
	defer conn.Close()

	gw, err := NewGateway(conn)
	if err != nil {
		return fmt.Errorf("register gateway: %w", err)
	}

	httpMux := http.NewServeMux()
	if s.healthChecker != nil {
		httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
		httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	}
	httpMux.Handle("/", gw)

	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           httpMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.log.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.httpAddr).Str("grpc", s.grpcAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ============================================================================
// Query service
// ============================================================================

type queryServer struct {
	qs     *query.QueryService
	prices *pricefeed.Feed
	start  time.Time
}

func (s *queryServer) GetScpBalance(ctx context.Context, req *GetScpBalanceRequest) (*query.ScpBalanceResponse, error) {
	holder, err := parseAddress("holder", req.Holder)
	if err != nil {
		return nil, err
	}
	resp, err := s.qs.GetScpBalance(ctx, holder)
	if err != nil {
		return nil, toStatus("get scp balance", err)
	}
	return resp, nil
}

func (s *queryServer) GetPools(ctx context.Context, _ *GetPoolsRequest) (*query.PoolsResponse, error) {
	resp, err := s.qs.GetPools(ctx)
	if err != nil {
		return nil, toStatus("get pools", err)
	}
	return resp, nil
}

func (s *queryServer) GetRisk(ctx context.Context, _ *GetRiskRequest) (*query.RiskResponse, error) {
	resp, err := s.qs.GetRisk(ctx)
	if err != nil {
		return nil, toStatus("get risk", err)
	}
	return resp, nil
}

func (s *queryServer) GetStrategy(ctx context.Context, req *GetStrategyRequest) (*query.StrategyResponse, error) {
	addr, err := parseAddress("address", req.Address)
	if err != nil {
		return nil, err
	}
	resp, err := s.qs.GetStrategy(ctx, addr)
	if err != nil {
		return nil, toStatus("get strategy", err)
	}
	return resp, nil
}

func (s *queryServer) GetPrice(ctx context.Context, req *GetPriceRequest) (*pricefeed.Attestation, error) {
	token, err := parseAddress("token", req.Token)
	if err != nil {
		return nil, err
	}
	if s.prices == nil {
		return nil, status.Error(codes.Unavailable, "price feed disabled")
	}
	a, err := s.prices.Latest(ctx, token)
	if err != nil {
		return nil, toStatus("get price", err)
	}
	return &a, nil
}

func (s *queryServer) GetReceipt(ctx context.Context, req *GetReceiptRequest) (*GetReceiptResponse, error) {
	if _, err := uuid.Parse(req.TxID); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid tx_id: %v", err)
	}
	body, err := s.qs.GetReceipt(ctx, req.TxID)
	if err != nil {
		return nil, toStatus("get receipt", err)
	}
	return &GetReceiptResponse{Receipt: body}, nil
}

func (s *queryServer) ListJournals(ctx context.Context, req *ListJournalsRequest) (*ListJournalsResponse, error) {
	holder, err := parseAddress("holder", req.Holder)
	if err != nil {
		return nil, err
	}

	pageSize := req.PageSize
	if pageSize <= 0 || pageSize > 500 {
		pageSize = 100
	}
	var afterSeq *int64
	if req.FromSequence > 0 {
		afterSeq = &req.FromSequence
	}

	entries, err := s.qs.GetJournalHistory(ctx, holder, pageSize, afterSeq)
	if err != nil {
		return nil, toStatus("get journals", err)
	}
	if entries == nil {
		entries = []query.JournalHistoryEntry{}
	}
	return &ListJournalsResponse{Journals: entries}, nil
}

func (s *queryServer) GetStatus(ctx context.Context, _ *GetStatusRequest) (*GetStatusResponse, error) {
	st, err := s.qs.GetStatus(ctx)
	if err != nil {
		return nil, toStatus("get status", err)
	}
	return &GetStatusResponse{StatusResponse: st, Uptime: time.Since(s.start).Truncate(time.Second).String()}, nil
}

// ============================================================================
// Ingest service
// ============================================================================

type ingestServer struct {
	svc    *ingestion.IngestService
	prices *pricefeed.Feed
}

func (s *ingestServer) SubmitTx(ctx context.Context, req *SubmitTxRequest) (*SubmitTxResponse, error) {
	if req.TxType == "" {
		return nil, status.Error(codes.InvalidArgument, "tx_type is required")
	}
	if s.svc == nil {
		return nil, status.Error(codes.Unavailable, "ingest disabled")
	}
	r, err := s.svc.Submit(ctx, req.TxType, req.Payload)
	if err != nil {
		return nil, toStatus("submit tx", err)
	}
	return &SubmitTxResponse{Receipt: r}, nil
}

func (s *ingestServer) SubmitPrice(ctx context.Context, req *SubmitPriceRequest) (*SubmitPriceResponse, error) {
	if s.prices == nil {
		return nil, status.Error(codes.Unavailable, "price feed disabled")
	}
	if err := s.prices.Submit(ctx, req.Attestation); err != nil {
		return nil, toStatus("submit price", err)
	}
	return &SubmitPriceResponse{Accepted: true}, nil
}

// ============================================================================
// Admin service
// ============================================================================

type adminServer struct {
	db          *sql.DB
	qs          *query.QueryService
	prices      *pricefeed.Feed
	engine      Checkpointer
	checkpoints *persistence.CheckpointStore
}

func (s *adminServer) VerifyIntegrity(ctx context.Context, _ *VerifyIntegrityRequest) (*query.IntegrityReport, error) {
	report, err := s.qs.VerifyIntegrity(ctx)
	if err != nil {
		return nil, toStatus("verify integrity", err)
	}
	return report, nil
}

func (s *adminServer) RebuildProjections(ctx context.Context, _ *RebuildProjectionsRequest) (*RebuildProjectionsResponse, error) {
	if s.db == nil {
		return nil, status.Error(codes.Unavailable, "database unavailable")
	}
	if err := projection.RebuildProjections(ctx, s.db); err != nil {
		return nil, status.Errorf(codes.Internal, "rebuild failed: %v", err)
	}
	marks, err := projection.Watermarks(ctx, s.db)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "watermarks: %v", err)
	}
	return &RebuildProjectionsResponse{Watermarks: marks}, nil
}

func (s *adminServer) TakeCheckpoint(ctx context.Context, _ *TakeCheckpointRequest) (*TakeCheckpointResponse, error) {
	if s.engine == nil || s.checkpoints == nil {
		return nil, status.Error(codes.Unavailable, "checkpoints unavailable")
	}
	cp, ok := s.engine.Checkpoint()
	if !ok {
		return nil, status.Error(codes.FailedPrecondition, "no transactions applied yet")
	}
	if err := s.checkpoints.Save(ctx, cp); err != nil {
		return nil, status.Errorf(codes.Internal, "save checkpoint: %v", err)
	}
	return &TakeCheckpointResponse{Sequence: cp.Sequence, StateHash: common.Hash(cp.StateHash).Hex()}, nil
}

func (s *adminServer) PublishPrice(ctx context.Context, req *PublishPriceRequest) (*pricefeed.Attestation, error) {
	token, err := parseAddress("token", req.Token)
	if err != nil {
		return nil, err
	}
	if s.prices == nil {
		return nil, status.Error(codes.Unavailable, "price feed disabled")
	}
	price, err := fpmath.ParseUnits(req.Price, fpmath.WADDecimals)
	if err != nil || price.IsZero() {
		return nil, status.Errorf(codes.InvalidArgument, "invalid price %q", req.Price)
	}
	validFor := 10 * time.Minute
	if req.ValidFor != "" {
		if validFor, err = time.ParseDuration(req.ValidFor); err != nil || validFor < time.Second {
			return nil, status.Errorf(codes.InvalidArgument, "invalid valid_for %q", req.ValidFor)
		}
	}
	a, err := s.prices.Publish(ctx, token, price, validFor)
	if err != nil {
		return nil, toStatus("publish price", err)
	}
	return &a, nil
}

// ============================================================================
// Helpers
// ============================================================================

func parseAddress(field, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, status.Errorf(codes.InvalidArgument, "invalid %s %q", field, s)
	}
	return common.HexToAddress(s), nil
}

// toStatus maps domain errors onto gRPC codes.
func toStatus(op string, err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, query.ErrNotFound), errors.Is(err, pricefeed.ErrNoPrice):
		code = codes.NotFound
	case errors.Is(err, core.ErrDuplicateTx):
		code = codes.AlreadyExists
	case errors.Is(err, core.ErrNonceTooLow), errors.Is(err, core.ErrNonceGap):
		code = codes.FailedPrecondition
	case errors.Is(err, core.ErrInvalidTx),
		errors.Is(err, event.ErrUnknownTxType),
		errors.Is(err, event.ErrMalformedPayload),
		errors.Is(err, pricefeed.ErrInvalidAttestation),
		errors.Is(err, pricefeed.ErrExpired):
		code = codes.InvalidArgument
	case errors.Is(err, pricefeed.ErrNoAttestor), errors.Is(err, ingestion.ErrIngestClosed):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	default:
		code = codes.Internal
	}
	return status.Errorf(code, "%s: %v", op, err)
}
