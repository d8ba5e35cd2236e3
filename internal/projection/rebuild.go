package projection

import (
	"context"
	"database/sql"
	"fmt"
)

// rebuildStatements recompute each projection from the transaction log.
// They run after the table is truncated, in the same transaction.
var rebuildStatements = map[string]string{
	ScpBalances: `
		INSERT INTO projections.scp_balances (holder, refundable, non_refundable, last_sequence)
		SELECT split_part(account, ':', 2),
		       COALESCE(SUM(amount) FILTER (WHERE split_part(account, ':', 3) = 'refundable'), 0),
		       COALESCE(SUM(amount) FILTER (WHERE split_part(account, ':', 3) = 'non_refundable'), 0),
		       MAX(sequence)
		FROM (
			SELECT debit_account AS account, amount, sequence
			FROM event_log.journal WHERE debit_account LIKE 'user:%'
			UNION ALL
			SELECT credit_account, -amount, sequence
			FROM event_log.journal WHERE credit_account LIKE 'user:%'
		) legs
		GROUP BY 1`,

	// Last write per (provider, pool) wins; a trailing removal drops the row.
	PoolValuations: `
		INSERT INTO projections.pool_valuations (provider, uwp_name, amount, last_sequence)
		SELECT address, uwp_name, amount, sequence
		FROM (
			SELECT DISTINCT ON (address, data->>'uwpName')
			       address, data->>'uwpName' AS uwp_name, name,
			       (data->>'amount')::NUMERIC AS amount, sequence
			FROM event_log.logs
			WHERE name IN ('UnderwritingPoolSet', 'UnderwritingPoolRemoved')
			ORDER BY address, data->>'uwpName', sequence DESC, log_index DESC
		) last_write
		WHERE name = 'UnderwritingPoolSet'`,

	Receipts: `
		INSERT INTO projections.receipts (tx_id, sequence, tx_type, from_address, status, revert_reason, receipt)
		SELECT t.tx_id, t.sequence, t.tx_type, t.from_address,
		       CASE t.status WHEN 1 THEN 'applied' WHEN 2 THEN 'reverted' ELSE 'unknown' END,
		       t.revert_reason,
		       jsonb_strip_nulls(jsonb_build_object(
		           'sequence', t.sequence,
		           'txId', t.tx_id,
		           'txType', t.tx_type,
		           'from', t.from_address,
		           'to', t.to_address,
		           'nonce', t.nonce,
		           'status', CASE t.status WHEN 1 THEN 'applied' WHEN 2 THEN 'reverted' ELSE 'unknown' END,
		           'revertReason', NULLIF(t.revert_reason, ''),
		           'logs', COALESCE((
		               SELECT jsonb_agg(jsonb_build_object('address', l.address, 'name', l.name, 'data', l.data) ORDER BY l.log_index)
		               FROM event_log.logs l WHERE l.sequence = t.sequence
		           ), '[]'::jsonb),
		           'stateHash', '0x' || encode(t.state_hash, 'hex'),
		           'timestamp', t.block_time
		       ))
		FROM event_log.transactions t`,
}

// RebuildProjections truncates and recomputes every projection from the
// persisted log, then resets each watermark to the log tip.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	for _, name := range Names {
		if err := rebuild(ctx, db, name); err != nil {
			return fmt.Errorf("rebuild %s: %w", name, err)
		}
	}
	return nil
}

func rebuild(ctx context.Context, db *sql.DB, name string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "TRUNCATE projections."+name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, rebuildStatements[name]); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (projection, last_sequence, updated_at)
		SELECT $1, COALESCE(MAX(sequence), -1), NOW() FROM event_log.transactions
		ON CONFLICT (projection) DO UPDATE
			SET last_sequence = EXCLUDED.last_sequence, updated_at = NOW()
	`, name); err != nil {
		return err
	}
	return tx.Commit()
}

// Watermarks returns the last applied sequence per projection.
func Watermarks(ctx context.Context, db *sql.DB) (map[string]int64, error) {
	rows, err := db.QueryContext(ctx, `SELECT projection, last_sequence FROM projections.watermark`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64, len(Names))
	for rows.Next() {
		var name string
		var seq int64
		if err := rows.Scan(&name, &seq); err != nil {
			return nil, err
		}
		out[name] = seq
	}
	return out, rows.Err()
}
