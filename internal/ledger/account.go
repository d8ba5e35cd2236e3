package ledger

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types. balanceOf(holder) = refundable + non_refundable.
	SubTypeRefundable AccountSubType = iota
	SubTypeNonRefundable

	// External sub-types. Issuance mirrors totalSupply.
	SubTypeIssuance
)

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope   AccountScope
	Holder  common.Address
	SubType AccountSubType
}

// NewUserAccountKey creates a key for a holder's SCP sub-account
func NewUserAccountKey(holder common.Address, subType AccountSubType) AccountKey {
	return AccountKey{
		Scope:   AccountScopeUser,
		Holder:  holder,
		SubType: subType,
	}
}

// NewIssuanceAccountKey creates the key of the issuance boundary account
func NewIssuanceAccountKey() AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: SubTypeIssuance,
	}
}

// DebitNormal reports whether debits increase the account's balance.
// User accounts are assets of the holder; issuance is the liability side.
func (k AccountKey) DebitNormal() bool {
	return k.Scope == AccountScopeUser
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s", strings.ToLower(k.Holder.Hex()), k.subTypeName())
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s", k.subTypeName())
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeRefundable:
		return "refundable"
	case SubTypeNonRefundable:
		return "non_refundable"
	case SubTypeIssuance:
		return "issuance"
	default:
		return "unknown"
	}
}

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")
	switch {
	case len(parts) == 2 && parts[0] == "external" && parts[1] == "issuance":
		return NewIssuanceAccountKey(), nil
	case len(parts) == 3 && parts[0] == "user":
		if !common.IsHexAddress(parts[1]) {
			return AccountKey{}, fmt.Errorf("account path %q: bad holder", path)
		}
		holder := common.HexToAddress(parts[1])
		switch parts[2] {
		case "refundable":
			return NewUserAccountKey(holder, SubTypeRefundable), nil
		case "non_refundable":
			return NewUserAccountKey(holder, SubTypeNonRefundable), nil
		}
	}
	return AccountKey{}, fmt.Errorf("account path %q: unknown account", path)
}
