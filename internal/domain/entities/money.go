package entities

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Currency is a supported settlement currency code.
type Currency string

const (
	CurrencyHTG Currency = "HTG"
	CurrencyUSD Currency = "USD"
)

var supportedCurrencies = map[Currency]struct{}{
	CurrencyHTG: {},
	CurrencyUSD: {},
}

// ErrUnsupportedCurrency is returned for codes outside the supported set.
var ErrUnsupportedCurrency = errors.New("unsupported currency")

// ParseCurrency normalizes and validates a currency code.
func ParseCurrency(s string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedCurrency, s)
	}
	return c, nil
}

// Valid reports whether c is supported.
func (c Currency) Valid() bool {
	_, ok := supportedCurrencies[c]
	return ok
}

// Amount is a fixed-point monetary value in minor units (hundredths). Every
// supported currency has two minor digits.
type Amount int64

const (
	amountMinorDigits = 2
	amountScale       = 100
	// 15 integer digits keeps any value far from int64 overflow.
	maxAmountIntegerDigits = 15
)

// ErrInvalidAmount is returned for strings that are not a plain decimal amount.
var ErrInvalidAmount = errors.New("invalid amount")

// ParseAmount parses a decimal string such as "500", "12.5" or "0.99". More than two
// fractional digits, exponents, and separators are rejected rather than rounded.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}

	negative := false
	if s[0] == '-' {
		negative = true
		s = s[1:]
	}

	intPart, fracPart, hasDot := strings.Cut(s, ".")
	if intPart == "" || (hasDot && fracPart == "") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if len(intPart) > maxAmountIntegerDigits {
		return 0, fmt.Errorf("%w: too large", ErrInvalidAmount)
	}
	if len(fracPart) > amountMinorDigits {
		return 0, fmt.Errorf("%w: at most %d decimal places", ErrInvalidAmount, amountMinorDigits)
	}
	if !allDigits(intPart) || !allDigits(fracPart) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}

	for len(fracPart) < amountMinorDigits {
		fracPart += "0"
	}
	whole, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	minor, err := strconv.ParseInt(fracPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}

	v := whole*amountScale + minor
	if negative {
		v = -v
	}
	return Amount(v), nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// MinorUnits returns the raw minor-unit value.
func (a Amount) MinorUnits() int64 {
	return int64(a)
}

// IsPositive reports a > 0.
func (a Amount) IsPositive() bool {
	return a > 0
}

// String renders the amount with exactly two decimals.
func (a Amount) String() string {
	v := int64(a)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/amountScale, v%amountScale)
}

// MarshalJSON encodes the amount as a decimal string to keep floats off the wire.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts a decimal string.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: amount must be a decimal string", ErrInvalidAmount)
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
