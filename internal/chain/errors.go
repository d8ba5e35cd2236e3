package chain

import "errors"

// RevertError is the failure of a state transition. A transaction that returns
// one leaves no trace in state, logs or ledger batches.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	return e.Reason
}

// Is matches on the reason string so that sentinels declared in different
// packages for the same reason compare equal.
func (e *RevertError) Is(target error) bool {
	t, ok := target.(*RevertError)
	return ok && t.Reason == e.Reason
}

// Revert builds a RevertError for reason.
func Revert(reason string) *RevertError {
	return &RevertError{Reason: reason}
}

// ReasonOf extracts the revert reason from err, or "" if err is not a revert.
func ReasonOf(err error) string {
	var re *RevertError
	if errors.As(err, &re) {
		return re.Reason
	}
	return ""
}

var (
	ErrNotGovernance         = Revert("!governance")
	ErrNotPendingGovernance  = Revert("!pending governance")
	ErrZeroAddressGovernance = Revert("zero address governance")
	ErrGovernanceLocked      = Revert("governance locked")
	ErrLengthMismatch        = Revert("length mismatch")
	ErrKeyNotInMapping       = Revert("key not in mapping")
	ErrZeroAddressValue      = Revert("cannot set zero address")
	ErrUnauthorizedCaller    = Revert("unauthorized caller")
	ErrReentrantCall         = Revert("ReentrancyGuard: reentrant call")
	ErrIndexOutOfBounds      = Revert("index out of bounds")
)
