package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const maxBodyBytes = 1 << 20

// route maps an HTTP path onto one gRPC method. build fills the request
// message from path parameters, query string and body.
type route struct {
	method  string
	pattern string
	rpc     string
	build   func(r *http.Request, params map[string]string) (any, error)
}

func routes() []route {
	return []route{
		{"GET", "/v1/scp/{holder}", fullMethod(QueryServiceName, "GetScpBalance"),
			func(_ *http.Request, p map[string]string) (any, error) {
				return &GetScpBalanceRequest{Holder: p["holder"]}, nil
			}},
		{"GET", "/v1/scp/{holder}/journals", fullMethod(QueryServiceName, "ListJournals"),
			func(r *http.Request, p map[string]string) (any, error) {
				req := &ListJournalsRequest{Holder: p["holder"]}
				q := r.URL.Query()
				if v := q.Get("page_size"); v != "" {
					n, err := strconv.Atoi(v)
					if err != nil {
						return nil, status.Errorf(codes.InvalidArgument, "invalid page_size %q", v)
					}
					req.PageSize = n
				}
				if v := q.Get("from_sequence"); v != "" {
					n, err := strconv.ParseInt(v, 10, 64)
					if err != nil {
						return nil, status.Errorf(codes.InvalidArgument, "invalid from_sequence %q", v)
					}
					req.FromSequence = n
				}
				return req, nil
			}},
		{"GET", "/v1/pools", fullMethod(QueryServiceName, "GetPools"),
			empty[GetPoolsRequest]},
		{"GET", "/v1/risk", fullMethod(QueryServiceName, "GetRisk"),
			empty[GetRiskRequest]},
		{"GET", "/v1/strategies/{address}", fullMethod(QueryServiceName, "GetStrategy"),
			func(_ *http.Request, p map[string]string) (any, error) {
				return &GetStrategyRequest{Address: p["address"]}, nil
			}},
		{"GET", "/v1/prices/{token}", fullMethod(QueryServiceName, "GetPrice"),
			func(_ *http.Request, p map[string]string) (any, error) {
				return &GetPriceRequest{Token: p["token"]}, nil
			}},
		{"GET", "/v1/receipts/{tx_id}", fullMethod(QueryServiceName, "GetReceipt"),
			func(_ *http.Request, p map[string]string) (any, error) {
				return &GetReceiptRequest{TxID: p["tx_id"]}, nil
			}},
		{"GET", "/v1/status", fullMethod(QueryServiceName, "GetStatus"),
			empty[GetStatusRequest]},

		{"POST", "/v1/tx", fullMethod(IngestServiceName, "SubmitTx"),
			body[SubmitTxRequest]},
		{"POST", "/v1/prices", fullMethod(IngestServiceName, "SubmitPrice"),
			body[SubmitPriceRequest]},

		{"GET", "/v1/admin/integrity", fullMethod(AdminServiceName, "VerifyIntegrity"),
			empty[VerifyIntegrityRequest]},
		{"POST", "/v1/admin/rebuild", fullMethod(AdminServiceName, "RebuildProjections"),
			empty[RebuildProjectionsRequest]},
		{"POST", "/v1/admin/checkpoint", fullMethod(AdminServiceName, "TakeCheckpoint"),
			empty[TakeCheckpointRequest]},
		{"POST", "/v1/admin/prices", fullMethod(AdminServiceName, "PublishPrice"),
			body[PublishPriceRequest]},
	}
}

func empty[T any](*http.Request, map[string]string) (any, error) { return new(T), nil }

func body[T any](r *http.Request, _ map[string]string) (any, error) {
	req := new(T)
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "read body: %v", err)
	}
	if err := json.Unmarshal(data, req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode body: %v", err)
	}
	return req, nil
}

// NewGateway returns the HTTP/JSON mirror of the coverledger.v1 services.
// Every route is proxied over conn; the Authorization header is forwarded
// as gRPC metadata.
func NewGateway(conn grpc.ClientConnInterface) (http.Handler, error) {
	mux := runtime.NewServeMux()
	for _, rt := range routes() {
		if err := mux.HandlePath(rt.method, rt.pattern, proxy(conn, rt)); err != nil {
			return nil, err
		}
	}
	return mux, nil
}

func proxy(conn grpc.ClientConnInterface, rt route) runtime.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
		req, err := rt.build(r, params)
		if err != nil {
			writeError(w, err)
			return
		}

		ctx := r.Context()
		if auth := r.Header.Get("Authorization"); auth != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, "authorization", auth)
		}

		var resp json.RawMessage
		if err := Invoke(ctx, conn, rt.rpc, req, &resp); err != nil {
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(resp)
	}
}

// Invoke calls a coverledger.v1 method with the JSON codec.
func Invoke(ctx context.Context, conn grpc.ClientConnInterface, method string, req, resp any) error {
	return conn.Invoke(ctx, method, req, resp, grpc.CallContentSubtype(CodecName))
}

func writeError(w http.ResponseWriter, err error) {
	st := status.Convert(err)
	writeJSON(w, runtime.HTTPStatusFromCode(st.Code()), map[string]any{
		"code":    st.Code().String(),
		"message": st.Message(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
