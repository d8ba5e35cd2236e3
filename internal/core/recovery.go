package core

import (
	"fmt"

	"CoverLedger/internal/event"
)

// Checkpoint is a state hash recorded at a sequence.
type Checkpoint struct {
	Sequence  int64
	StateHash [32]byte
}

// Replay re-executes a persisted transaction and checks it reproduces the
// recorded sequence, status and state hash. Replayed transactions are
// marked in the LRU but not emitted to persistence or projections.
func (e *Engine) Replay(recorded *event.TxEnvelope) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if recorded.Sequence != e.sequence {
		return fmt.Errorf("replay out of order: expected sequence %d, got %d", e.sequence, recorded.Sequence)
	}

	tx, err := event.Decode(recorded.TxType, recorded.Payload)
	if err != nil {
		return fmt.Errorf("replay seq=%d: %w", recorded.Sequence, err)
	}

	env, _, err := e.apply(tx)
	if err != nil {
		return fmt.Errorf("replay seq=%d: %w", recorded.Sequence, err)
	}
	if env.Status != recorded.Status {
		return fmt.Errorf("replay seq=%d: status %s, recorded %s", recorded.Sequence, env.Status, recorded.Status)
	}
	if env.StateHash != recorded.StateHash {
		return fmt.Errorf("%w at seq=%d: computed %x, recorded %x", ErrHashMismatch, recorded.Sequence, env.StateHash, recorded.StateHash)
	}

	e.idempotency.MarkProcessed(recorded.TxType.String(), recorded.TxID.String())
	if e.metrics != nil {
		e.metrics.ReplayTxTotal.Inc()
	}
	return nil
}

// VerifyCheckpoint compares the hash chain against a recorded checkpoint.
// The checkpoint must cover the last replayed sequence.
func (e *Engine) VerifyCheckpoint(cp Checkpoint) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cp.Sequence != e.sequence-1 {
		return fmt.Errorf("checkpoint seq=%d does not match last applied %d", cp.Sequence, e.sequence-1)
	}
	if tip := e.hasher.GetPrevHash(); tip != cp.StateHash {
		return fmt.Errorf("%w at checkpoint seq=%d: tip %x, recorded %x", ErrHashMismatch, cp.Sequence, tip, cp.StateHash)
	}
	return nil
}

// Checkpoint returns the current chain tip and the last applied sequence,
// or ok=false before the first transaction.
func (e *Engine) Checkpoint() (cp Checkpoint, ok bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sequence == 0 {
		return Checkpoint{}, false
	}
	return Checkpoint{Sequence: e.sequence - 1, StateHash: e.hasher.GetPrevHash()}, true
}
