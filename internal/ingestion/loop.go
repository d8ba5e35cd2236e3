package ingestion

import (
	"context"
	"time"

	"CoverLedger/internal/event"
	"CoverLedger/internal/observability"

	"github.com/rs/zerolog"
)

// Processor is the core's entry point. *core.Engine satisfies it.
type Processor interface {
	ProcessTransaction(tx event.Tx) (*event.TxEnvelope, error)
}

// RunIngestionLoop parses raw messages and feeds them to proc in arrival
// order. Messages are acked once parsed and queued, not after the core
// runs: a slow core must not trip AckWait, and backpressure still reaches
// NATS through the blocking channel send. Unparseable messages are acked
// and dropped so they do not loop through redelivery. metrics may be nil.
func RunIngestionLoop(ctx context.Context, rawChan <-chan RawTx, proc Processor, metrics *observability.Metrics, log zerolog.Logger) {
	type queued struct {
		tx       event.Tx
		received time.Time
	}
	typed := make(chan queued, cap(rawChan))

	go func() {
		defer close(typed)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-rawChan:
				if !ok {
					return
				}

				tx, err := ParseRawTx(raw)
				if err != nil {
					log.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping unparseable transaction")
					ack(raw)
					continue
				}

				select {
				case typed <- queued{tx: tx, received: raw.Timestamp}:
					ack(raw)
				case <-ctx.Done():
					if raw.NakFunc != nil {
						raw.NakFunc()
					}
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case q, ok := <-typed:
			if !ok {
				return
			}
			tx := q.tx
			_, err := proc.ProcessTransaction(tx)
			if metrics != nil && !q.received.IsZero() {
				metrics.IngestToApply.WithLabelValues(tx.TxType().String()).Observe(time.Since(q.received).Seconds())
			}
			if err != nil {
				// Rejections (duplicate, nonce) are final; the message is already acked.
				log.Warn().Err(err).
					Str("tx_type", tx.TxType().String()).
					Str("tx_id", tx.IdempotencyKey()).
					Msg("transaction rejected")
			}
		}
	}
}

func ack(raw RawTx) {
	if raw.AckFunc != nil {
		raw.AckFunc()
	}
}
