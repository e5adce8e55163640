// Package amount converts between human decimal amounts and integer base units.
package amount

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// DisplayPlaces is the number of fractional digits shown to users.
const DisplayPlaces = 6

var ErrInvalidAmount = errors.New("invalid amount")

// FormatAmount converts a decimal string into base units, rounding toward
// zero. FormatAmount("1.5", 6) == "1500000".
func FormatAmount(value string, decimals uint8) (string, error) {
	d, err := parseDecimal(value)
	if err != nil {
		return "", err
	}
	return d.Shift(int32(decimals)).Truncate(0).String(), nil
}

// ParseAmount converts base units into a decimal string with DisplayPlaces
// fractional digits, rounding toward zero. ParseAmount("1500000", 6) == "1.500000".
func ParseAmount(baseUnits string, decimals uint8) (string, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(baseUnits), 10)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidAmount, baseUnits)
	}
	return FormatUnits(v, decimals), nil
}

// FormatUnits renders a base-unit integer for display.
func FormatUnits(value *big.Int, decimals uint8) string {
	if value == nil {
		return decimal.Zero.StringFixed(DisplayPlaces)
	}
	return decimal.NewFromBigInt(value, -int32(decimals)).Truncate(DisplayPlaces).StringFixed(DisplayPlaces)
}

// ToBaseUnits is FormatAmount returning a big.Int.
func ToBaseUnits(value string, decimals uint8) (*big.Int, error) {
	d, err := parseDecimal(value)
	if err != nil {
		return nil, err
	}
	return d.Shift(int32(decimals)).Truncate(0).BigInt(), nil
}

// ParseBaseUnits parses an integer string in base 10 or 0x-prefixed hex.
func ParseBaseUnits(value string) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	base := 10
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		value = value[2:]
		base = 16
	}
	v, ok := new(big.Int).SetString(value, base)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}
	return v, nil
}

// IsPositive reports whether value parses as a decimal greater than zero.
func IsPositive(value string) bool {
	d, err := parseDecimal(value)
	return err == nil && d.IsPositive()
}

func parseDecimal(value string) (decimal.Decimal, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, value)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: negative %q", ErrInvalidAmount, value)
	}
	return d, nil
}
