package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// maxParams stays under Postgres' 65535 bind-parameter limit.
const maxParams = 60_000

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// TxLogWriter writes transactions, logs and journals with multi-row
// INSERTs. Every write is idempotent (ON CONFLICT DO NOTHING) so a retried
// batch after a partial failure is harmless.
type TxLogWriter struct{}

func NewTxLogWriter() *TxLogWriter {
	return &TxLogWriter{}
}

func (w *TxLogWriter) WriteTransactions(ctx context.Context, ex execer, rows []TxRow) error {
	vals := make([][]any, len(rows))
	for i, r := range rows {
		vals[i] = []any{
			r.Sequence, r.TxID, r.TxType, r.From, r.To, r.Nonce, r.BlockTime,
			string(r.Payload), r.Status, r.RevertReason, r.StateHash, r.PrevHash,
		}
	}
	return insertRows(ctx, ex,
		`INSERT INTO event_log.transactions
		(sequence, tx_id, tx_type, from_address, to_address, nonce, block_time,
		 payload, status, revert_reason, state_hash, prev_hash) VALUES `,
		" ON CONFLICT (sequence) DO NOTHING", vals)
}

func (w *TxLogWriter) WriteLogs(ctx context.Context, ex execer, rows []LogRow) error {
	vals := make([][]any, len(rows))
	for i, r := range rows {
		vals[i] = []any{r.Sequence, r.LogIndex, r.Address, r.Name, string(r.Data)}
	}
	return insertRows(ctx, ex,
		`INSERT INTO event_log.logs (sequence, log_index, address, name, data) VALUES `,
		" ON CONFLICT (sequence, log_index) DO NOTHING", vals)
}

func (w *TxLogWriter) WriteJournals(ctx context.Context, ex execer, rows []JournalRow) error {
	vals := make([][]any, len(rows))
	for i, j := range rows {
		vals[i] = []any{
			j.JournalID, j.BatchID, j.EventRef, j.Sequence,
			j.DebitAccount, j.CreditAccount, j.Amount, j.JournalType, j.BlockTime,
		}
	}
	return insertRows(ctx, ex,
		`INSERT INTO event_log.journal
		(journal_id, batch_id, event_ref, sequence, debit_account, credit_account,
		 amount, journal_type, block_time) VALUES `,
		" ON CONFLICT (journal_id) DO NOTHING", vals)
}

// insertRows issues prefix + "($1, ...), (...)" + suffix, split into
// chunks that fit the parameter limit. All rows must have the same arity.
func insertRows(ctx context.Context, ex execer, prefix, suffix string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	cols := len(rows[0])
	per := maxParams / cols

	for start := 0; start < len(rows); start += per {
		end := min(start+per, len(rows))
		chunk := rows[start:end]

		var sb strings.Builder
		sb.WriteString(prefix)
		args := make([]any, 0, len(chunk)*cols)
		for i, r := range chunk {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteByte('(')
			for c := range cols {
				if c > 0 {
					sb.WriteString(", ")
				}
				fmt.Fprintf(&sb, "$%d", i*cols+c+1)
			}
			sb.WriteByte(')')
			args = append(args, r...)
		}
		sb.WriteString(suffix)

		if _, err := ex.ExecContext(ctx, sb.String(), args...); err != nil {
			return err
		}
	}
	return nil
}
