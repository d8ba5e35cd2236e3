package persistence

import (
	"context"
	"fmt"
	"time"

	"CoverLedger/internal/core"
	"CoverLedger/internal/event"
)

const replayPageSize = 1000

// TxSource pages through the persisted transaction log.
type TxSource interface {
	LoadTransactionsFrom(ctx context.Context, from int64, limit int) ([]*event.TxEnvelope, error)
}

// CheckpointSource lists recorded checkpoints and marks them verified.
type CheckpointSource interface {
	All(ctx context.Context) (map[int64][32]byte, error)
	MarkVerified(ctx context.Context, sequence int64) error
}

// ReplayResult summarizes a cold-start replay.
type ReplayResult struct {
	Replayed    int64
	Checkpoints int
	Duration    time.Duration
}

// ReplayLog re-applies the whole log to eng, which must be freshly built
// from genesis. Every checkpoint on the way is verified against the hash
// chain; any divergence aborts the replay.
func ReplayLog(ctx context.Context, eng *core.Engine, txs TxSource, cps CheckpointSource) (ReplayResult, error) {
	start := time.Now()
	var res ReplayResult

	checkpoints, err := cps.All(ctx)
	if err != nil {
		return res, fmt.Errorf("load checkpoints: %w", err)
	}

	next := int64(0)
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		page, err := txs.LoadTransactionsFrom(ctx, next, replayPageSize)
		if err != nil {
			return res, fmt.Errorf("load transactions from %d: %w", next, err)
		}
		if len(page) == 0 {
			break
		}

		for _, env := range page {
			if err := eng.Replay(env); err != nil {
				return res, err
			}
			res.Replayed++

			if hash, ok := checkpoints[env.Sequence]; ok {
				if err := eng.VerifyCheckpoint(core.Checkpoint{Sequence: env.Sequence, StateHash: hash}); err != nil {
					return res, err
				}
				if err := cps.MarkVerified(ctx, env.Sequence); err != nil {
					return res, fmt.Errorf("mark checkpoint %d: %w", env.Sequence, err)
				}
				res.Checkpoints++
			}
		}
		next = page[len(page)-1].Sequence + 1
	}

	res.Duration = time.Since(start)
	return res, nil
}
