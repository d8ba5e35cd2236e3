package ingestion

import (
	"context"
	"errors"
	"fmt"

	"CoverLedger/internal/event"
)

var ErrIngestClosed = errors.New("ingest service closed")

// IngestService submits single transactions outside NATS (admin tooling,
// the HTTP gateway). The core serializes them with the NATS stream.
type IngestService struct {
	proc Processor
}

func NewIngestService(proc Processor) *IngestService {
	return &IngestService{proc: proc}
}

// Submit decodes payload as txType, applies it and returns its receipt.
// A reverted transaction is not an error; rejections are.
func (s *IngestService) Submit(ctx context.Context, txType string, payload []byte) (*event.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.proc == nil {
		return nil, ErrIngestClosed
	}

	t, err := event.ParseTxType(txType)
	if err != nil {
		return nil, err
	}
	tx, err := ParsePayload(t, payload)
	if err != nil {
		return nil, err
	}

	env, err := s.proc.ProcessTransaction(tx)
	if err != nil {
		return nil, fmt.Errorf("submit %s: %w", txType, err)
	}
	r := env.Receipt()
	return &r, nil
}
