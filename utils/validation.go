package utils

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	txHashPattern    = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
	addressPattern   = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	signaturePattern = regexp.MustCompile(`^0x([0-9a-fA-F]{2})+$`)
)

// IsTransactionHash reports whether hash is a 0x-prefixed 32-byte hex string.
func IsTransactionHash(hash string) bool {
	return txHashPattern.MatchString(hash)
}

// ValidateTransactionHash validates an EVM transaction hash.
func ValidateTransactionHash(hash string) error {
	if hash == "" {
		return fmt.Errorf("transaction hash cannot be empty")
	}
	if !IsTransactionHash(hash) {
		return fmt.Errorf("transaction hash must be 0x followed by 64 hex characters")
	}
	return nil
}

// IsAddress reports whether address is a 0x-prefixed 20-byte hex string.
// Checksums are not enforced.
func IsAddress(address string) bool {
	return addressPattern.MatchString(address)
}

// ValidateAddress validates an EVM address.
func ValidateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}
	if !IsAddress(address) {
		return fmt.Errorf("address must be 0x followed by 40 hex characters")
	}
	return nil
}

// IsHexSignature reports whether sig is non-empty 0x-prefixed hex.
func IsHexSignature(sig string) bool {
	return signaturePattern.MatchString(sig)
}

// SameAddress compares two addresses case-insensitively. Both must be well formed.
func SameAddress(a, b string) bool {
	return IsAddress(a) && IsAddress(b) && strings.EqualFold(a, b)
}

// NormalizeAddress ensures an address is properly checksummed
func NormalizeAddress(address string) string {
	if !IsAddress(address) {
		return ""
	}
	return common.HexToAddress(address).Hex()
}

// ValidateBigInt parses a non-negative base-10 integer.
func ValidateBigInt(value string) (*big.Int, error) {
	if value == "" {
		return nil, fmt.Errorf("value cannot be empty")
	}

	bigInt, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("invalid big integer format")
	}
	if bigInt.Sign() < 0 {
		return nil, fmt.Errorf("value cannot be negative")
	}

	return bigInt, nil
}

// FormatAmountFromBigInt formats a big.Int amount to decimal string with specified decimals
func FormatAmountFromBigInt(amount *big.Int, decimals int) string {
	return AmountFromBigInt(amount, decimals).String()
}

// AmountFromBigInt converts atomic units into a decimal amount.
func AmountFromBigInt(amount *big.Int, decimals int) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -int32(decimals))
}
