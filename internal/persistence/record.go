package persistence

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"CoverLedger/internal/core"
	"CoverLedger/internal/event"
)

// TxRow is a row of event_log.transactions.
type TxRow struct {
	Sequence     int64
	TxID         string
	TxType       string
	From         string
	To           string
	Nonce        int64
	BlockTime    int64
	Payload      []byte
	Status       int16
	RevertReason string
	StateHash    []byte
	PrevHash     []byte
}

// LogRow is a row of event_log.logs.
type LogRow struct {
	Sequence int64
	LogIndex int
	Address  string
	Name     string
	Data     []byte
}

// JournalRow is a row of event_log.journal. Amount is a base-10 string so
// it round-trips through NUMERIC(78,0) without precision loss.
type JournalRow struct {
	JournalID     string
	BatchID       string
	EventRef      string
	Sequence      int64
	DebitAccount  string
	CreditAccount string
	Amount        string
	JournalType   int16
	BlockTime     int64
}

// Record is everything persisted for one transaction.
type Record struct {
	Tx       TxRow
	Logs     []LogRow
	Journals []JournalRow
	Receipt  event.Receipt

	emittedAt time.Time
}

func hexLower(s string) string { return strings.ToLower(s) }

// NewRecord flattens a core output into table rows.
func NewRecord(out core.CoreOutput) (Record, error) {
	env := out.Envelope
	rec := Record{
		emittedAt: out.EmittedAt,
		Tx: TxRow{
			Sequence:     env.Sequence,
			TxID:         env.TxID.String(),
			TxType:       env.TxType.String(),
			From:         hexLower(env.From.Hex()),
			To:           hexLower(env.To.Hex()),
			Nonce:        int64(env.Nonce),
			BlockTime:    int64(env.Timestamp),
			Payload:      env.Payload,
			Status:       int16(env.Status),
			RevertReason: env.RevertReason,
			StateHash:    append([]byte(nil), env.StateHash[:]...),
			PrevHash:     append([]byte(nil), env.PrevHash[:]...),
		},
		Receipt: env.Receipt(),
	}

	for i, l := range env.Logs {
		data, err := json.Marshal(l.Data)
		if err != nil {
			return Record{}, fmt.Errorf("marshal log %s: %w", l.Name, err)
		}
		rec.Logs = append(rec.Logs, LogRow{
			Sequence: env.Sequence,
			LogIndex: i,
			Address:  hexLower(l.Address.Hex()),
			Name:     l.Name,
			Data:     data,
		})
	}

	for _, b := range out.Batches {
		for _, j := range b.Journals {
			rec.Journals = append(rec.Journals, JournalRow{
				JournalID:     j.JournalID.String(),
				BatchID:       j.BatchID.String(),
				EventRef:      j.EventRef,
				Sequence:      j.Sequence,
				DebitAccount:  j.DebitAccount.AccountPath(),
				CreditAccount: j.CreditAccount.AccountPath(),
				Amount:        j.Amount.Dec(),
				JournalType:   int16(j.JournalType),
				BlockTime:     int64(j.Timestamp),
			})
		}
	}

	return rec, nil
}
