package core

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"CoverLedger/internal/chain"
	"CoverLedger/internal/event"
	"CoverLedger/internal/ledger"
	"CoverLedger/internal/observability"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const DefaultLRUCapacity = 1_000_000

var (
	ErrDuplicateTx  = errors.New("duplicate transaction")
	ErrInvalidTx    = errors.New("invalid transaction")
	ErrHashMismatch = errors.New("state hash mismatch")
)

// Engine is the single-writer transaction processor. Every transaction either
// applies fully or is recorded as reverted with no state change.
type Engine struct {
	mu sync.Mutex

	sys         *System
	sequence    int64
	hasher      *StateHasher
	idempotency *IdempotencyChecker
	nonces      *NonceValidator
	metrics     *observability.Metrics
	log         zerolog.Logger

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput

	buf []byte
}

// CoreOutput is what the engine hands to persistence and projections.
type CoreOutput struct {
	Envelope  *event.TxEnvelope
	Batches   []*ledger.Batch
	EmittedAt time.Time
}

// NewEngine wraps sys. Either channel may be nil (replay, tests).
func NewEngine(
	sys *System,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *Engine {
	idempotency := NewIdempotencyChecker(DefaultLRUCapacity, dbChecker)
	idempotency.metrics = metrics
	return &Engine{
		sys:            sys,
		hasher:         NewStateHasher(),
		idempotency:    idempotency,
		nonces:         NewNonceValidator(),
		metrics:        metrics,
		log:            zerolog.Nop(),
		persistChan:    persistChan,
		projectionChan: projectionChan,
	}
}

func (e *Engine) SetLogger(l zerolog.Logger) {
	e.log = l
}

// ProcessTransaction runs the pipeline: dedup, nonce, clock, execute,
// hash, emit. Rejected transactions (duplicate, bad nonce, malformed)
// return an error and leave no trace; reverted ones return an envelope
// with Status reverted.
func (e *Engine) ProcessTransaction(tx event.Tx) (*event.TxEnvelope, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	txType := tx.TxType().String()
	h := tx.Header()

	if h.TxID == uuid.Nil {
		e.reject(txType, "invalid")
		return nil, fmt.Errorf("%w: missing tx id", ErrInvalidTx)
	}

	if dup, tier := e.idempotency.IsDuplicate(txType, h.IdempotencyKey()); dup {
		if e.metrics != nil {
			e.metrics.IdempotencyDuplicates.WithLabelValues(txType, tier).Inc()
		}
		e.reject(txType, "duplicate")
		return nil, fmt.Errorf("%w: %s", ErrDuplicateTx, h.TxID)
	}

	env, outputs, err := e.apply(tx)
	if err != nil {
		switch {
		case errors.Is(err, ErrNonceTooLow):
			if e.metrics != nil {
				e.metrics.NonceOutOfOrder.WithLabelValues(txType).Inc()
			}
			e.reject(txType, "nonce_too_low")
		case errors.Is(err, ErrNonceGap):
			if e.metrics != nil {
				e.metrics.NonceGap.WithLabelValues(txType).Inc()
			}
			e.reject(txType, "nonce_gap")
		default:
			e.reject(txType, "invalid")
		}
		return nil, err
	}

	// Persistence: blocking send, the core stalls until the worker drains.
	// Projections: non-blocking, they can rebuild from the log.
	for _, out := range outputs {
		if e.persistChan != nil {
			select {
			case e.persistChan <- out:
			default:
				if e.metrics != nil {
					e.metrics.PersistBackpressure.Inc()
				}
				e.persistChan <- out
			}
		}
		if e.projectionChan != nil {
			select {
			case e.projectionChan <- out:
			default:
				if e.metrics != nil {
					e.metrics.ProjectionDrops.WithLabelValues("core").Inc()
				}
			}
		}
	}

	e.idempotency.MarkProcessed(txType, h.IdempotencyKey())

	if e.metrics != nil {
		if env.Status == event.TxStatusApplied {
			e.metrics.CoreTxApplied.WithLabelValues(txType).Inc()
		} else {
			e.metrics.CoreTxReverted.WithLabelValues(txType, env.RevertReason).Inc()
		}
		for _, l := range env.Logs {
			e.metrics.CoreLogsEmitted.WithLabelValues(l.Name).Inc()
		}
		for _, b := range outputs[0].Batches {
			for _, j := range b.Journals {
				e.metrics.CoreJournals.WithLabelValues(j.JournalType.String()).Inc()
			}
		}
		e.metrics.CoreTxDuration.WithLabelValues(txType).Observe(time.Since(start).Seconds())
		e.metrics.CoreSequence.Set(float64(e.sequence))
		e.metrics.DedupLRUSize.Set(float64(e.idempotency.Size()))
	}

	if env.Status == event.TxStatusReverted {
		e.log.Debug().
			Int64("sequence", env.Sequence).
			Str("tx_type", txType).
			Str("from", h.From.Hex()).
			Str("reason", env.RevertReason).
			Msg("transaction reverted")
	}

	return env, nil
}

// apply executes tx and builds its envelope. It does not touch the
// idempotency tier or the output channels, so replay can share it.
func (e *Engine) apply(tx event.Tx) (*event.TxEnvelope, []CoreOutput, error) {
	h := tx.Header()
	event.Normalize(tx)

	payload, err := event.Encode(tx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidTx, err)
	}

	if err := e.nonces.Validate(h.From, h.Nonce); err != nil {
		return nil, nil, err
	}

	// Block time never regresses. An older timestamp executes at the
	// current block time.
	e.sys.Clock.Set(h.Timestamp)
	now := e.sys.Clock.Now()

	seq := e.sequence
	sysEnv := e.sys.Env
	e.sys.SCP.Generator().SetContext(h.TxID.String(), seq, now)

	status := event.TxStatusApplied
	reason := ""
	rev := sysEnv.Journal.Snapshot()
	if execErr := e.sys.dispatch(tx); execErr != nil {
		sysEnv.Journal.RevertToSnapshot(rev)
		status = event.TxStatusReverted
		if reason = chain.ReasonOf(execErr); reason == "" {
			reason = execErr.Error()
		}
	}

	logs := sysEnv.DrainLogs()
	batches := e.sys.SCP.DrainBatches()

	for _, b := range batches {
		if err := e.sys.SCP.Validator().ValidateBatchBalance(b); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
	}

	prev := e.hasher.GetPrevHash()
	stateHash := prev
	if status == event.TxStatusApplied {
		if err := e.sys.AuditInvariants(); err != nil {
			panic(fmt.Sprintf("FATAL: invariant violated after %s seq=%d: %v", tx.TxType(), seq, err))
		}

		hashStart := time.Now()
		e.buf = e.sys.AppendState(e.buf[:0])
		stateHash = e.hasher.ComputeHash(seq, e.buf)
		if e.metrics != nil {
			e.metrics.CoreStateHashDur.Observe(time.Since(hashStart).Seconds())
		}
	}
	sysEnv.Journal.Commit()

	env := &event.TxEnvelope{
		Sequence:     seq,
		TxID:         h.TxID,
		TxType:       tx.TxType(),
		From:         h.From,
		To:           h.To,
		Nonce:        h.Nonce,
		Timestamp:    now,
		Payload:      payload,
		Status:       status,
		RevertReason: reason,
		Logs:         logs,
		StateHash:    stateHash,
		PrevHash:     prev,
	}
	e.sequence++

	return env, []CoreOutput{{Envelope: env, Batches: batches, EmittedAt: time.Now()}}, nil
}

func (e *Engine) reject(txType, reason string) {
	if e.metrics != nil {
		e.metrics.CoreTxRejected.WithLabelValues(txType, reason).Inc()
	}
}

// View runs fn with read access to the system under the engine lock.
func (e *Engine) View(fn func(s *System)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.sys)
}

// AuditInvariants checks global invariants under the engine lock.
func (e *Engine) AuditInvariants() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sys.AuditInvariants()
}

// SetLRUCapacity resizes the in-memory dedup tier. It drops the current
// entries, so call it before replay.
func (e *Engine) SetLRUCapacity(capacity int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ic := NewIdempotencyChecker(capacity, e.idempotency.dbChecker)
	ic.metrics = e.metrics
	e.idempotency = ic
}

// GetSequence returns the sequence the next transaction will get.
func (e *Engine) GetSequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}

// GetStateHash returns the current chain tip.
func (e *Engine) GetStateHash() [32]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasher.GetPrevHash()
}

// NextNonce returns the nonce sender must use next.
func (e *Engine) NextNonce(sender common.Address) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nonces.Next(sender)
}
