package chain

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Contract is anything addressable in the host environment.
type Contract interface {
	Address() common.Address
}

// Account is a plain externally owned address (premium pool, treasury).
type Account common.Address

func (a Account) Address() common.Address {
	return common.Address(a)
}

// Fields carries the indexed/unindexed arguments of a log.
type Fields map[string]any

// Log is an event emitted by a contract during a transaction.
type Log struct {
	Address common.Address `json:"address"`
	Name    string         `json:"name"`
	Data    Fields         `json:"data"`
}

// Env is the execution environment shared by all contracts: the undo
// journal, the block clock, the chain id and the pending log buffer.
type Env struct {
	Journal *Journal
	Clock   Clock
	ChainID *uint256.Int

	logs []Log
}

func NewEnv(chainID uint64, clock Clock) *Env {
	if clock == nil {
		clock = NewManualClock(0)
	}
	return &Env{
		Journal: NewJournal(),
		Clock:   clock,
		ChainID: uint256.NewInt(chainID),
	}
}

// Now returns the current block timestamp in seconds.
func (e *Env) Now() uint64 {
	return e.Clock.Now()
}

// Emit appends a log. Logs emitted inside a reverted call frame are dropped.
func (e *Env) Emit(addr common.Address, name string, data Fields) {
	e.logs = append(e.logs, Log{Address: addr, Name: name, Data: data})
	e.Journal.Append(func() {
		e.logs = e.logs[:len(e.logs)-1]
	})
}

// PendingLogs returns the logs emitted since the last DrainLogs.
func (e *Env) PendingLogs() []Log {
	return e.logs
}

// DrainLogs returns and clears the pending logs.
func (e *Env) DrainLogs() []Log {
	out := e.logs
	e.logs = nil
	return out
}

// Atomic runs fn inside a journal snapshot and rolls back every mutation fn
// made if it returns an error.
func (e *Env) Atomic(fn func() error) error {
	rev := e.Journal.Snapshot()
	if err := fn(); err != nil {
		e.Journal.RevertToSnapshot(rev)
		return err
	}
	return nil
}
