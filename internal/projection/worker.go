package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"CoverLedger/internal/core"
	"CoverLedger/internal/observability"

	"github.com/alitto/pond/v2"
	"github.com/rs/zerolog"
)

// Projection names double as watermark keys.
const (
	ScpBalances    = "scp_balances"
	PoolValuations = "pool_valuations"
	Receipts       = "receipts"
)

var Names = []string{ScpBalances, PoolValuations, Receipts}

// ProjectionWorker keeps the read tables up to date. The core sends to it
// without blocking, so projections may lag or miss updates; each table
// tracks its own watermark and can be rebuilt from the transaction log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan core.CoreOutput
	pool      pond.Pool
	metrics   *observability.Metrics
	log       zerolog.Logger
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan core.CoreOutput, metrics *observability.Metrics) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		pool:      pond.NewPool(len(Names)),
		metrics:   metrics,
		log:       observability.NewLogger("projection"),
	}
}

// Run applies outputs in order until ctx is done or the channel closes.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	defer pw.pool.StopAndWait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			u, err := BuildUpdate(out)
			if err != nil {
				pw.log.Warn().Err(err).Int64("sequence", out.Envelope.Sequence).Msg("skipping projection update")
				continue
			}
			if err := pw.Apply(ctx, u); err != nil {
				// Eventually consistent: a failed table lags until rebuilt.
				pw.log.Warn().Err(err).Int64("sequence", u.Sequence).Msg("projection update failed")
			}
		}
	}
}

// Apply writes u to the three projections in parallel. Each table is
// updated in its own transaction together with its watermark.
func (pw *ProjectionWorker) Apply(ctx context.Context, u Update) error {
	writers := []func(context.Context, *sql.Tx, Update) error{writeBalances, writePools, writeReceipt}
	errs := make([]error, len(Names))

	group := pw.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for i, name := range Names {
		group.Submit(func() {
			if err := groupCtx.Err(); err != nil {
				errs[i] = err
				return
			}
			start := time.Now()
			errs[i] = pw.applyOne(groupCtx, name, u, writers[i])
			if pw.metrics != nil {
				pw.metrics.ProjectionUpdateDur.WithLabelValues(name).Observe(time.Since(start).Seconds())
			}
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		return err
	}
	for i, err := range errs {
		if err != nil {
			if pw.metrics != nil {
				pw.metrics.ProjectionDrops.WithLabelValues(Names[i]).Inc()
			}
			return fmt.Errorf("%s: %w", Names[i], err)
		}
	}
	return nil
}

func (pw *ProjectionWorker) applyOne(ctx context.Context, name string, u Update, write func(context.Context, *sql.Tx, Update) error) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	advanced, err := advanceWatermark(ctx, tx, name, u.Sequence)
	if err != nil {
		return fmt.Errorf("watermark: %w", err)
	}
	if !advanced {
		// Already applied. Balance deltas must not be applied twice.
		return nil
	}
	if err := write(ctx, tx, u); err != nil {
		return err
	}
	return tx.Commit()
}

// advanceWatermark moves the projection's watermark to seq and reports
// whether it moved.
func advanceWatermark(ctx context.Context, tx *sql.Tx, name string, seq int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (projection, last_sequence, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (projection) DO UPDATE
			SET last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
			WHERE projections.watermark.last_sequence < EXCLUDED.last_sequence
	`, name, seq)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func writeBalances(ctx context.Context, tx *sql.Tx, u Update) error {
	for _, d := range u.Balances {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.scp_balances (holder, refundable, non_refundable, last_sequence, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (holder) DO UPDATE SET
				refundable = projections.scp_balances.refundable + EXCLUDED.refundable,
				non_refundable = projections.scp_balances.non_refundable + EXCLUDED.non_refundable,
				last_sequence = EXCLUDED.last_sequence,
				updated_at = NOW()
		`, strings.ToLower(d.Holder.Hex()), d.Refundable.String(), d.NonRefundable.String(), u.Sequence); err != nil {
			return err
		}
	}
	return nil
}

func writePools(ctx context.Context, tx *sql.Tx, u Update) error {
	for _, p := range u.Pools {
		provider := strings.ToLower(p.Provider.Hex())
		if p.Removed {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM projections.pool_valuations WHERE provider = $1 AND uwp_name = $2`,
				provider, p.Name); err != nil {
				return err
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projections.pool_valuations (provider, uwp_name, amount, last_sequence, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (provider, uwp_name) DO UPDATE SET
				amount = EXCLUDED.amount, last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
		`, provider, p.Name, p.Amount.String(), u.Sequence); err != nil {
			return err
		}
	}
	return nil
}

func writeReceipt(ctx context.Context, tx *sql.Tx, u Update) error {
	r := u.Receipt
	data, err := json.Marshal(r)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO projections.receipts (tx_id, sequence, tx_type, from_address, status, revert_reason, receipt, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (tx_id) DO NOTHING
	`, r.TxID.String(), r.Sequence, r.TxType, strings.ToLower(r.From.Hex()), r.Status, r.RevertReason, string(data))
	return err
}
