// Package types provides common types used across Ledger.
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits carried by the ledger unit.
const Decimals = 2

// unitFactor converts whole units to minor units (10^Decimals).
const unitFactor = 100

// Money represents a ledger amount in minor units (hundredths of a unit).
// All arithmetic is integer-only.
//
// Examples:
//   - Units(100) = 100.00 (10000 minor units)
//   - Minor(2550) = 25.50
//
// The ledger is single-currency, so Money carries no currency code.
type Money struct {
	Amount int64 // Minor units
}

// Constructors

// Units creates a Money value from whole units.
func Units(units int64) Money { return Money{Amount: units * unitFactor} }

// Minor creates a Money value from minor units.
func Minor(amount int64) Money { return Money{Amount: amount} }

// Zero returns a zero Money value.
func Zero() Money { return Money{} }

// ParseMoney parses a decimal string such as "40", "12.5" or "0.01".
// More than Decimals fractional digits is an error rather than a rounding.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return FromDecimal(d)
}

// FromDecimal converts a decimal amount of whole units to Money.
func FromDecimal(d decimal.Decimal) (Money, error) {
	minor := d.Shift(Decimals)
	if !minor.IsInteger() {
		return Money{}, fmt.Errorf("money: %s has more than %d decimal places", d.String(), Decimals)
	}
	if !minor.BigInt().IsInt64() {
		return Money{}, fmt.Errorf("money: %s out of range", d.String())
	}
	return Money{Amount: minor.IntPart()}, nil
}

// Arithmetic operations

// Add adds two Money values.
func (m Money) Add(other Money) Money {
	return Money{Amount: m.Amount + other.Amount}
}

// Subtract subtracts another Money value.
func (m Money) Subtract(other Money) Money {
	return Money{Amount: m.Amount - other.Amount}
}

// Multiply multiplies the Money by a quantity.
func (m Money) Multiply(qty int64) Money {
	return Money{Amount: m.Amount * qty}
}

// CheckedAdd adds other to m and reports false when the sum leaves the
// int64 range.
func (m Money) CheckedAdd(other Money) (Money, bool) {
	sum := m.Amount + other.Amount
	if (other.Amount > 0 && sum < m.Amount) || (other.Amount < 0 && sum > m.Amount) {
		return Money{}, false
	}
	return Money{Amount: sum}, true
}

// CheckedSubtract subtracts other from m and reports false on overflow.
func (m Money) CheckedSubtract(other Money) (Money, bool) {
	diff := m.Amount - other.Amount
	if (other.Amount > 0 && diff > m.Amount) || (other.Amount < 0 && diff < m.Amount) {
		return Money{}, false
	}
	return Money{Amount: diff}, true
}

// CheckedMultiply multiplies m by qty and reports false on overflow.
func (m Money) CheckedMultiply(qty int64) (Money, bool) {
	if m.Amount == 0 || qty == 0 {
		return Money{}, true
	}
	p := m.Amount * qty
	if p/qty != m.Amount || (m.Amount == -1 && qty == math.MinInt64) || (qty == -1 && m.Amount == math.MinInt64) {
		return Money{}, false
	}
	return Money{Amount: p}, true
}

// Divide divides the Money by a divisor. Uses integer division.
func (m Money) Divide(divisor int64) Money {
	if divisor == 0 {
		panic("money: division by zero")
	}
	return Money{Amount: m.Amount / divisor}
}

// Split divides m into n shares of equal size in minor units. The remainder
// of the integer division is added to the last share, so the shares always
// sum to m exactly.
func (m Money) Split(n int) []Money {
	if n <= 0 {
		panic("money: split into non-positive share count")
	}
	share := m.Divide(int64(n))
	shares := make([]Money, n)
	for i := range shares {
		shares[i] = share
	}
	remainder := m.Subtract(share.Multiply(int64(n)))
	shares[n-1] = shares[n-1].Add(remainder)
	return shares
}

// Negate returns the negative of the Money value.
func (m Money) Negate() Money {
	return Money{Amount: -m.Amount}
}

// Abs returns the absolute value.
func (m Money) Abs() Money {
	if m.Amount < 0 {
		return Money{Amount: -m.Amount}
	}
	return m
}

// Comparison methods

// IsZero returns true if the amount is zero.
func (m Money) IsZero() bool { return m.Amount == 0 }

// IsPositive returns true if the amount is greater than zero.
func (m Money) IsPositive() bool { return m.Amount > 0 }

// IsNegative returns true if the amount is less than zero.
func (m Money) IsNegative() bool { return m.Amount < 0 }

// Equal returns true if both Money values are equal.
func (m Money) Equal(other Money) bool { return m.Amount == other.Amount }

// LessThan returns true if this Money is less than other.
func (m Money) LessThan(other Money) bool { return m.Amount < other.Amount }

// GreaterThan returns true if this Money is greater than other.
func (m Money) GreaterThan(other Money) bool { return m.Amount > other.Amount }

// Min returns the smaller of two Money values.
func (m Money) Min(other Money) Money {
	if m.Amount < other.Amount {
		return m
	}
	return other
}

// Max returns the larger of two Money values.
func (m Money) Max(other Money) Money {
	if m.Amount > other.Amount {
		return m
	}
	return other
}

// Formatting methods

// Decimal returns the amount in whole units as a decimal.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Amount, -Decimals)
}

// String returns the amount in whole units with Decimals fractional digits.
// Examples: "100.00", "-0.01", "12.50"
func (m Money) String() string {
	return m.Decimal().StringFixed(Decimals)
}

// MarshalJSON implements json.Marshaler. Amounts are encoded as JSON numbers
// in whole units.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalJSON implements json.Unmarshaler. It accepts a JSON number
// (40, 12.5) or a quoted decimal string ("12.50").
func (m *Money) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*m = Money{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("money: %w", err)
		}
		data = []byte(s)
	}
	parsed, err := ParseMoney(string(data))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler (YAML/TOML config values).
func (m Money) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Money) UnmarshalText(data []byte) error {
	parsed, err := ParseMoney(string(data))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Sum calculates the sum of multiple Money values.
func Sum(values ...Money) Money {
	var result Money
	for _, v := range values {
		result = result.Add(v)
	}
	return result
}
