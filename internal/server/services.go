package server

import (
	"context"

	"CoverLedger/internal/pricefeed"
	"CoverLedger/internal/query"

	"google.golang.org/grpc"
)

const (
	QueryServiceName  = "coverledger.v1.Query"
	IngestServiceName = "coverledger.v1.Ingest"
	AdminServiceName  = "coverledger.v1.Admin"
)

// QueryServer serves read-only views.
type QueryServer interface {
	GetScpBalance(context.Context, *GetScpBalanceRequest) (*query.ScpBalanceResponse, error)
	GetPools(context.Context, *GetPoolsRequest) (*query.PoolsResponse, error)
	GetRisk(context.Context, *GetRiskRequest) (*query.RiskResponse, error)
	GetStrategy(context.Context, *GetStrategyRequest) (*query.StrategyResponse, error)
	GetPrice(context.Context, *GetPriceRequest) (*pricefeed.Attestation, error)
	GetReceipt(context.Context, *GetReceiptRequest) (*GetReceiptResponse, error)
	ListJournals(context.Context, *ListJournalsRequest) (*ListJournalsResponse, error)
	GetStatus(context.Context, *GetStatusRequest) (*GetStatusResponse, error)
}

// IngestServer accepts transactions and price attestations.
type IngestServer interface {
	SubmitTx(context.Context, *SubmitTxRequest) (*SubmitTxResponse, error)
	SubmitPrice(context.Context, *SubmitPriceRequest) (*SubmitPriceResponse, error)
}

// AdminServer is operator tooling; every method requires an admin token.
type AdminServer interface {
	VerifyIntegrity(context.Context, *VerifyIntegrityRequest) (*query.IntegrityReport, error)
	RebuildProjections(context.Context, *RebuildProjectionsRequest) (*RebuildProjectionsResponse, error)
	TakeCheckpoint(context.Context, *TakeCheckpointRequest) (*TakeCheckpointResponse, error)
	PublishPrice(context.Context, *PublishPriceRequest) (*pricefeed.Attestation, error)
}

func fullMethod(service, method string) string {
	return "/" + service + "/" + method
}

// unary builds the method descriptor the protobuf generator would emit,
// for a plain Go request type.
func unary[S any, Req any, Resp any](service, method string, call func(S, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(S), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(service, method)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(S), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var queryServiceDesc = grpc.ServiceDesc{
	ServiceName: QueryServiceName,
	HandlerType: (*QueryServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(QueryServiceName, "GetScpBalance", QueryServer.GetScpBalance),
		unary(QueryServiceName, "GetPools", QueryServer.GetPools),
		unary(QueryServiceName, "GetRisk", QueryServer.GetRisk),
		unary(QueryServiceName, "GetStrategy", QueryServer.GetStrategy),
		unary(QueryServiceName, "GetPrice", QueryServer.GetPrice),
		unary(QueryServiceName, "GetReceipt", QueryServer.GetReceipt),
		unary(QueryServiceName, "ListJournals", QueryServer.ListJournals),
		unary(QueryServiceName, "GetStatus", QueryServer.GetStatus),
	},
	Metadata: "coverledger/v1/query",
}

var ingestServiceDesc = grpc.ServiceDesc{
	ServiceName: IngestServiceName,
	HandlerType: (*IngestServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(IngestServiceName, "SubmitTx", IngestServer.SubmitTx),
		unary(IngestServiceName, "SubmitPrice", IngestServer.SubmitPrice),
	},
	Metadata: "coverledger/v1/ingest",
}

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: AdminServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(AdminServiceName, "VerifyIntegrity", AdminServer.VerifyIntegrity),
		unary(AdminServiceName, "RebuildProjections", AdminServer.RebuildProjections),
		unary(AdminServiceName, "TakeCheckpoint", AdminServer.TakeCheckpoint),
		unary(AdminServiceName, "PublishPrice", AdminServer.PublishPrice),
	},
	Metadata: "coverledger/v1/admin",
}

func RegisterQueryServer(s grpc.ServiceRegistrar, srv QueryServer) {
	s.RegisterService(&queryServiceDesc, srv)
}

func RegisterIngestServer(s grpc.ServiceRegistrar, srv IngestServer) {
	s.RegisterService(&ingestServiceDesc, srv)
}

func RegisterAdminServer(s grpc.ServiceRegistrar, srv AdminServer) {
	s.RegisterService(&adminServiceDesc, srv)
}
