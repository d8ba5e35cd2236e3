package chain

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// StateAppender is implemented by every contract whose storage contributes
// to the state hash. Implementations must append in a deterministic order.
type StateAppender interface {
	AppendState(b []byte) []byte
}

func AppendUint64(b []byte, v uint64) []byte {
	return binary.BigEndian.AppendUint64(b, v)
}

func AppendWord(b []byte, v *uint256.Int) []byte {
	if v == nil {
		v = new(uint256.Int)
	}
	w := v.Bytes32()
	return append(b, w[:]...)
}

func AppendAddress(b []byte, a common.Address) []byte {
	return append(b, a[:]...)
}

// AppendString appends a length-prefixed string.
func AppendString(b []byte, s string) []byte {
	b = AppendUint64(b, uint64(len(s)))
	return append(b, s...)
}

func AppendBool(b []byte, v bool) []byte {
	if v {
		return append(b, 1)
	}
	return append(b, 0)
}

// AppendAddressSet appends the set's members in index order.
func AppendAddressSet(b []byte, s *AddressSet) []byte {
	b = AppendUint64(b, uint64(s.Len()))
	for _, a := range s.keys {
		b = AppendAddress(b, a)
	}
	return b
}

// AppendState appends governance and pending governance.
func (g *Governable) AppendState(b []byte) []byte {
	b = AppendAddress(b, g.governance)
	return AppendAddress(b, g.pending)
}
