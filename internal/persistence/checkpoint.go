package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"CoverLedger/internal/core"
	"CoverLedger/internal/event"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// CheckpointStore records hash checkpoints and reads the transaction log
// back for replay.
type CheckpointStore struct {
	db *sql.DB
}

func NewCheckpointStore(db *sql.DB) *CheckpointStore {
	return &CheckpointStore{db: db}
}

// Save records cp. Saving the same sequence twice keeps the first hash;
// a differing hash is reported by Verify during the next replay.
func (cs *CheckpointStore) Save(ctx context.Context, cp core.Checkpoint) error {
	_, err := cs.db.ExecContext(ctx, `
		INSERT INTO event_log.checkpoints (sequence, state_hash)
		VALUES ($1, $2)
		ON CONFLICT (sequence) DO NOTHING
	`, cp.Sequence, cp.StateHash[:])
	return err
}

// MarkVerified flags a checkpoint as reproduced by replay.
func (cs *CheckpointStore) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := cs.db.ExecContext(ctx,
		`UPDATE event_log.checkpoints SET verified = TRUE WHERE sequence = $1`, sequence)
	return err
}

// Latest returns the newest checkpoint, or nil if there is none.
func (cs *CheckpointStore) Latest(ctx context.Context) (*core.Checkpoint, error) {
	var (
		seq  int64
		hash []byte
	)
	err := cs.db.QueryRowContext(ctx, `
		SELECT sequence, state_hash FROM event_log.checkpoints
		ORDER BY sequence DESC
		LIMIT 1
	`).Scan(&seq, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	cp := &core.Checkpoint{Sequence: seq}
	copy(cp.StateHash[:], hash)
	return cp, nil
}

// All returns every checkpoint keyed by sequence.
func (cs *CheckpointStore) All(ctx context.Context) (map[int64][32]byte, error) {
	rows, err := cs.db.QueryContext(ctx, `SELECT sequence, state_hash FROM event_log.checkpoints`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][32]byte)
	for rows.Next() {
		var (
			seq  int64
			hash []byte
			h    [32]byte
		)
		if err := rows.Scan(&seq, &hash); err != nil {
			return nil, err
		}
		copy(h[:], hash)
		out[seq] = h
	}
	return out, rows.Err()
}

// LoadTransactionsFrom returns up to limit envelopes with sequence >= from.
// Logs are not loaded; replay regenerates them.
func (cs *CheckpointStore) LoadTransactionsFrom(ctx context.Context, from int64, limit int) ([]*event.TxEnvelope, error) {
	rows, err := cs.db.QueryContext(ctx, `
		SELECT sequence, tx_id, tx_type, from_address, to_address, nonce, block_time,
		       payload, status, revert_reason, state_hash, prev_hash
		FROM event_log.transactions
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, from, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var envs []*event.TxEnvelope
	for rows.Next() {
		var r TxRow
		if err := rows.Scan(
			&r.Sequence, &r.TxID, &r.TxType, &r.From, &r.To, &r.Nonce, &r.BlockTime,
			&r.Payload, &r.Status, &r.RevertReason, &r.StateHash, &r.PrevHash,
		); err != nil {
			return nil, err
		}

		env, err := r.Envelope()
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return envs, rows.Err()
}

// Envelope rebuilds the envelope a row was written from, without logs.
func (r TxRow) Envelope() (*event.TxEnvelope, error) {
	id, err := uuid.Parse(r.TxID)
	if err != nil {
		return nil, fmt.Errorf("seq %d: tx id: %w", r.Sequence, err)
	}
	t, err := event.ParseTxType(r.TxType)
	if err != nil {
		return nil, fmt.Errorf("seq %d: %w", r.Sequence, err)
	}
	env := &event.TxEnvelope{
		Sequence:     r.Sequence,
		TxID:         id,
		TxType:       t,
		From:         common.HexToAddress(r.From),
		To:           common.HexToAddress(r.To),
		Nonce:        uint64(r.Nonce),
		Timestamp:    uint64(r.BlockTime),
		Payload:      r.Payload,
		Status:       event.TxStatus(r.Status),
		RevertReason: r.RevertReason,
	}
	copy(env.StateHash[:], r.StateHash)
	copy(env.PrevHash[:], r.PrevHash)
	return env, nil
}

// LatestSequence returns the highest persisted sequence, or -1 for an
// empty log.
func (cs *CheckpointStore) LatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := cs.db.QueryRowContext(ctx,
		`SELECT MAX(sequence) FROM event_log.transactions`).Scan(&seq); err != nil {
		return 0, err
	}
	if !seq.Valid {
		return -1, nil
	}
	return seq.Int64, nil
}
