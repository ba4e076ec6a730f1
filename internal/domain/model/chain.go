package model

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NativeToken is the canonical sentinel for the chain's native currency.
const NativeToken = "native"

// ZeroAddress is the null address that mints originate from.
var ZeroAddress = common.Address{}

// IsNativeToken reports whether token denotes the native currency rather
// than a token contract.
func IsNativeToken(token string) bool {
	t := strings.TrimSpace(token)
	if t == "" || strings.EqualFold(t, NativeToken) {
		return true
	}
	return common.IsHexAddress(t) && common.HexToAddress(t) == ZeroAddress
}

// IsHexAddress reports whether s is a 20-byte hex address.
func IsHexAddress(s string) bool {
	return common.IsHexAddress(strings.TrimSpace(s))
}

// NormalizeAddress lower-cases a hex address for use as a map or DB key.
func NormalizeAddress(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ShortAddress renders 0x1234…abcd for display.
func ShortAddress(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 12 {
		return s
	}
	return s[:6] + "…" + s[len(s)-4:]
}
