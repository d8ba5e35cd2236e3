package server

import (
	"encoding/json"

	"CoverLedger/internal/event"
	"CoverLedger/internal/pricefeed"
	"CoverLedger/internal/query"
)

// --- coverledger.v1.Query ---

type GetScpBalanceRequest struct {
	Holder string `json:"holder"`
}

type GetPoolsRequest struct{}

type GetRiskRequest struct{}

type GetStrategyRequest struct {
	Address string `json:"address"`
}

type GetPriceRequest struct {
	Token string `json:"token"`
}

type GetReceiptRequest struct {
	TxID string `json:"tx_id"`
}

type GetReceiptResponse struct {
	Receipt json.RawMessage `json:"receipt"`
}

type ListJournalsRequest struct {
	Holder       string `json:"holder"`
	PageSize     int    `json:"page_size,omitempty"`
	FromSequence int64  `json:"from_sequence,omitempty"`
}

type ListJournalsResponse struct {
	Journals []query.JournalHistoryEntry `json:"journals"`
}

type GetStatusRequest struct{}

type GetStatusResponse struct {
	*query.StatusResponse
	Uptime string `json:"uptime"`
}

// --- coverledger.v1.Ingest ---

type SubmitTxRequest struct {
	TxType  string          `json:"tx_type"`
	Payload json.RawMessage `json:"payload"`
}

type SubmitTxResponse struct {
	Receipt *event.Receipt `json:"receipt"`
}

type SubmitPriceRequest struct {
	pricefeed.Attestation
}

type SubmitPriceResponse struct {
	Accepted bool `json:"accepted"`
}

// --- coverledger.v1.Admin ---

type VerifyIntegrityRequest struct{}

type RebuildProjectionsRequest struct{}

type RebuildProjectionsResponse struct {
	Watermarks map[string]int64 `json:"watermarks"`
}

type TakeCheckpointRequest struct{}

type TakeCheckpointResponse struct {
	Sequence  int64  `json:"sequence"`
	StateHash string `json:"state_hash"`
}

type PublishPriceRequest struct {
	Token string `json:"token"`
	// Price is SOLACE per token, in 18-decimal units ("0.5").
	Price    string `json:"price"`
	ValidFor string `json:"valid_for,omitempty"`
}
