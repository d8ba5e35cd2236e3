package math

import (
	"errors"
	"fmt"
	gomath "math"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Fixed-point conventions: amounts are 18-decimal integers (WAD); ratios are
// basis points out of BPS. All division truncates toward zero.
const (
	BPS          = 10_000
	WADDecimals  = 18
	MaxUint32Val = gomath.MaxUint32
)

var (
	ErrOverflow   = errors.New("arithmetic overflow")
	ErrUnderflow  = errors.New("arithmetic underflow")
	ErrDivByZero  = errors.New("division by zero")
	ErrBadAmount  = errors.New("invalid amount")
	ErrNegAmount  = errors.New("negative amount")
	ErrFractional = errors.New("amount has more decimals than the token supports")
)

// Zero returns a fresh zero value.
func Zero() *uint256.Int {
	return new(uint256.Int)
}

// Wad returns 1e18.
func Wad() *uint256.Int {
	return uint256.NewInt(1_000_000_000_000_000_000)
}

// BPSInt returns 10000 as a uint256.
func BPSInt() *uint256.Int {
	return uint256.NewInt(BPS)
}

// MaxUint32 returns type(uint32).max as a uint256.
func MaxUint32() *uint256.Int {
	return uint256.NewInt(MaxUint32Val)
}

// Clone returns a copy of x; nil is treated as zero.
func Clone(x *uint256.Int) *uint256.Int {
	if x == nil {
		return Zero()
	}
	return new(uint256.Int).Set(x)
}

func Add(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

func Sub(x, y *uint256.Int) (*uint256.Int, error) {
	z, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		return nil, ErrUnderflow
	}
	return z, nil
}

func Mul(x, y *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(x, y)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// MulDiv computes x*y/d with a 512-bit intermediate, truncating.
func MulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrDivByZero
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrOverflow
	}
	return z, nil
}

// Min returns a copy of the smaller operand.
func Min(x, y *uint256.Int) *uint256.Int {
	if x.Lt(y) {
		return Clone(x)
	}
	return Clone(y)
}

// ApplyBPS returns x * bps / 10000.
func ApplyBPS(x *uint256.Int, bps uint64) (*uint256.Int, error) {
	return MulDiv(x, uint256.NewInt(bps), BPSInt())
}

// ParseAmount parses a base-unit integer in decimal or 0x-hex notation.
func ParseAmount(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrBadAmount
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := uint256.FromHex(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadAmount, err)
		}
		return v, nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadAmount, err)
	}
	return v, nil
}

// ParseUnits converts a human decimal string ("12.5") into base units with
// the given number of decimals.
func ParseUnits(s string, decimals int32) (*uint256.Int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadAmount, err)
	}
	if d.IsNegative() {
		return nil, ErrNegAmount
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, ErrFractional
	}
	v, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, ErrOverflow
	}
	return v, nil
}

// ToDecimal converts base units into a decimal with the given precision.
func ToDecimal(x *uint256.Int, decimals int32) decimal.Decimal {
	if x == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(x.ToBig(), -decimals)
}

// FormatUnits renders base units as a human decimal string.
func FormatUnits(x *uint256.Int, decimals int32) string {
	return ToDecimal(x, decimals).String()
}
