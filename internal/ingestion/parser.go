package ingestion

import (
	"errors"
	"fmt"
	"strings"

	"CoverLedger/internal/event"

	"github.com/google/uuid"
)

var ErrUnknownSubject = errors.New("unknown subject")

// TxTypeFromSubject resolves cover.tx.<TxType> to its TxType.
func TxTypeFromSubject(subject string) (event.TxType, error) {
	name, ok := strings.CutPrefix(subject, SubjectPrefix)
	if !ok || name == "" || strings.Contains(name, ".") {
		return event.TxTypeUnknown, fmt.Errorf("%w: %s", ErrUnknownSubject, subject)
	}
	return event.ParseTxType(name)
}

// ParseRawTx decodes a NATS message into a typed transaction.
func ParseRawTx(raw RawTx) (event.Tx, error) {
	t, err := TxTypeFromSubject(raw.Subject)
	if err != nil {
		return nil, err
	}
	return ParsePayload(t, raw.Data)
}

// ParsePayload decodes and validates a JSON payload of type t.
func ParsePayload(t event.TxType, data []byte) (event.Tx, error) {
	tx, err := event.Decode(t, data)
	if err != nil {
		return nil, err
	}
	if tx.Header().TxID == uuid.Nil {
		return nil, fmt.Errorf("parse %s: missing txId", t)
	}
	return tx, nil
}
