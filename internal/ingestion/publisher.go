package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"CoverLedger/internal/event"
	"CoverLedger/internal/observability"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	ReceiptStream        = "COVER_LEDGER_RECEIPTS"
	ReceiptSubjectPrefix = "cover.ledger.receipts."
)

// JetStreamPublisher is the subset of jetstream.JetStream the publisher uses.
type JetStreamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// ReceiptPublisher publishes receipts of persisted transactions to
// cover.ledger.receipts.<TxType>.
type ReceiptPublisher struct {
	js        JetStreamPublisher
	inputChan <-chan event.Receipt
	metrics   *observability.Metrics
	log       zerolog.Logger
}

func NewReceiptPublisher(js JetStreamPublisher, inputChan <-chan event.Receipt, metrics *observability.Metrics) *ReceiptPublisher {
	return &ReceiptPublisher{
		js:        js,
		inputChan: inputChan,
		metrics:   metrics,
		log:       observability.NewLogger("receipt-publisher"),
	}
}

// Run publishes until ctx is done or the input channel closes.
func (p *ReceiptPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case r, ok := <-p.inputChan:
			if !ok {
				return nil
			}

			if err := p.Publish(ctx, r); err != nil {
				// Non-fatal: consumers can read the transaction log directly.
				p.log.Warn().Err(err).Int64("sequence", r.Sequence).Msg("receipt publish failed")
				if p.metrics != nil {
					p.metrics.PublishDrops.Inc()
				}
			}
		}
	}
}

// Publish sends one receipt. The tx id doubles as the JetStream message id
// so a retried publish is deduplicated by the server.
func (p *ReceiptPublisher) Publish(ctx context.Context, r event.Receipt) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal receipt: %w", err)
	}
	_, err = p.js.Publish(ctx, ReceiptSubjectPrefix+r.TxType, data, jetstream.WithMsgID(r.TxID.String()))
	return err
}

func EnsureReceiptStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       ReceiptStream,
		Subjects:   []string{ReceiptSubjectPrefix + ">"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create receipt stream: %w", err)
	}
	return nil
}
