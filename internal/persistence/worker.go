package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"CoverLedger/internal/core"
	"CoverLedger/internal/event"
	"CoverLedger/internal/observability"

	"github.com/rs/zerolog"
)

// PersistenceWorker drains the persist channel and batch-writes to Postgres.
// The core sends to it with a blocking send, so if this worker falls
// behind the core stalls and no transaction is lost.
type PersistenceWorker struct {
	db           *sql.DB
	writer       *TxLogWriter
	inputChan    <-chan core.CoreOutput
	receiptChan  chan<- event.Receipt
	batchSize    int
	flushTimeout time.Duration
	metrics      *observability.Metrics
	log          zerolog.Logger
}

func NewPersistenceWorker(
	db *sql.DB,
	inputChan <-chan core.CoreOutput,
	batchSize int,
	flushTimeout time.Duration,
	metrics *observability.Metrics,
) *PersistenceWorker {
	return &PersistenceWorker{
		db:           db,
		writer:       NewTxLogWriter(),
		inputChan:    inputChan,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
		metrics:      metrics,
		log:          observability.NewLogger("persistence"),
	}
}

// PublishReceipts makes the worker forward receipts of committed batches.
// Sends never block; a full channel drops the receipt.
func (pw *PersistenceWorker) PublishReceipts(ch chan<- event.Receipt) {
	pw.receiptChan = ch
}

// Run batches incoming outputs and flushes when the batch is full or the
// flush timeout expires. It returns when ctx is cancelled or the input
// channel closes, after a final flush.
func (pw *PersistenceWorker) Run(ctx context.Context) error {
	batch := make([]Record, 0, pw.batchSize)

	timer := time.NewTimer(pw.flushTimeout)
	defer timer.Stop()

	flush := func(ctx context.Context) {
		if len(batch) == 0 {
			return
		}
		if err := pw.flushWithRetry(ctx, batch); err != nil {
			pw.log.Error().Err(err).Int("records", len(batch)).Msg("flush failed")
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush(context.Background())
			return ctx.Err()

		case out, ok := <-pw.inputChan:
			if !ok {
				flush(context.Background())
				return nil
			}

			rec, err := NewRecord(out)
			if err != nil {
				// Cannot happen for engine output; a gap here breaks replay.
				return fmt.Errorf("seq %d: %w", out.Envelope.Sequence, err)
			}
			batch = append(batch, rec)

			if len(batch) >= pw.batchSize {
				flush(ctx)
				timer.Reset(pw.flushTimeout)
			}

		case <-timer.C:
			flush(ctx)
			timer.Reset(pw.flushTimeout)
		}
	}
}

// flushWithRetry retries with exponential backoff until the write succeeds
// or ctx is cancelled. On cancellation it makes one last attempt with a
// fresh context so the batch is not lost on shutdown.
func (pw *PersistenceWorker) flushWithRetry(ctx context.Context, batch []Record) error {
	backoff := 100 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			pw.log.Warn().Int("attempt", attempt).Dur("backoff", backoff).Int("records", len(batch)).Msg("persistence retry")
			if pw.metrics != nil {
				pw.metrics.PersistRetry.Inc()
			}
			select {
			case <-ctx.Done():
				if err := pw.Flush(context.Background(), batch); err != nil {
					return fmt.Errorf("final flush on shutdown: %w", err)
				}
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, maxBackoff)
		}

		if err := pw.Flush(ctx, batch); err == nil {
			if attempt > 0 {
				pw.log.Info().Int("retries", attempt).Msg("persistence flush succeeded")
			}
			return nil
		}
	}
}

// Flush writes batch in one database transaction.
func (pw *PersistenceWorker) Flush(ctx context.Context, batch []Record) error {
	if len(batch) == 0 {
		return nil
	}
	start := time.Now()

	var (
		txs      = make([]TxRow, 0, len(batch))
		logs     []LogRow
		journals []JournalRow
	)
	for _, r := range batch {
		txs = append(txs, r.Tx)
		logs = append(logs, r.Logs...)
		journals = append(journals, r.Journals...)
	}

	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		pw.countError("tx_begin")
		return err
	}
	defer tx.Rollback()

	if err := pw.writer.WriteTransactions(ctx, tx, txs); err != nil {
		pw.countError("write_transactions")
		return err
	}
	if err := pw.writer.WriteLogs(ctx, tx, logs); err != nil {
		pw.countError("write_logs")
		return err
	}
	if err := pw.writer.WriteJournals(ctx, tx, journals); err != nil {
		pw.countError("write_journals")
		return err
	}
	if err := tx.Commit(); err != nil {
		pw.countError("tx_commit")
		return err
	}

	if pw.metrics != nil {
		pw.metrics.PersistBatchDur.Observe(time.Since(start).Seconds())
		pw.metrics.PersistBatchSize.Observe(float64(len(batch)))
		pw.metrics.PersistTxWritten.Add(float64(len(txs)))
		pw.metrics.PersistJournalsWritten.Add(float64(len(journals)))
		pw.metrics.PersistLastSequence.Set(float64(txs[len(txs)-1].Sequence))
		committed := time.Now()
		for _, r := range batch {
			if !r.emittedAt.IsZero() {
				pw.metrics.ApplyToPersist.Observe(committed.Sub(r.emittedAt).Seconds())
			}
		}
	}

	if pw.receiptChan != nil {
		for _, r := range batch {
			select {
			case pw.receiptChan <- r.Receipt:
			default:
				if pw.metrics != nil {
					pw.metrics.PublishDrops.Inc()
				}
			}
		}
	}

	return nil
}

func (pw *PersistenceWorker) countError(kind string) {
	if pw.metrics != nil {
		pw.metrics.PersistErrors.WithLabelValues(kind).Inc()
	}
}
