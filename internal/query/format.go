package query

import (
	fpmath "CoverLedger/internal/math"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// ScpDecimals is the fixed SCP precision.
const ScpDecimals = fpmath.WADDecimals

// FormatUnits renders a base-unit amount with the given number of decimals,
// trimming trailing zeros ("1500000000000000000", 18 -> "1.5").
func FormatUnits(raw decimal.Decimal, decimals int32) string {
	return raw.Shift(-decimals).String()
}

// FormatUint256 is FormatUnits for on-chain integers. A nil value is zero.
func FormatUint256(x *uint256.Int, decimals int32) string {
	return fpmath.FormatUnits(x, decimals)
}
