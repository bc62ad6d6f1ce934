package values

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// MaxAmountCents is the sanity ceiling on any monetary amount the system
// accepts (1,000,000.00 in major units).
const MaxAmountCents int64 = 100_000_000

// Money represents a monetary amount in integer minor units ("cents").
// All arithmetic is closed over integers; decimal strings are only parsed
// and formatted at the API boundary. On the wire Money is a plain integer
// cent count.
type Money struct {
	cents int64
}

// Cents constructs Money from an integer cent count.
func Cents(cents int64) Money {
	return Money{cents: cents}
}

// Zero is the zero amount.
func Zero() Money {
	return Money{}
}

// ParseMoney parses a decimal string ("123.45") into Money, truncating any
// sub-cent precision toward zero.
func ParseMoney(s string) (Money, error) {
	dec, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return Money{cents: dec.Mul(decimal.NewFromInt(100)).IntPart()}, nil
}

// Cents returns the integer cent count.
func (m Money) Cents() int64 {
	return m.cents
}

// Validate checks the money invariant: non-negative and within the ceiling.
func (m Money) Validate() error {
	if m.cents < 0 {
		return fmt.Errorf("amount must not be negative: %d", m.cents)
	}
	if m.cents > MaxAmountCents {
		return fmt.Errorf("amount exceeds ceiling of %d cents: %d", MaxAmountCents, m.cents)
	}
	return nil
}

// String formats the amount as a decimal major-unit string, e.g. "123.45".
func (m Money) String() string {
	return decimal.NewFromInt(m.cents).Div(decimal.NewFromInt(100)).StringFixed(2)
}

func (m Money) IsZero() bool {
	return m.cents == 0
}

func (m Money) IsPositive() bool {
	return m.cents > 0
}

// Add returns the sum of two amounts.
func (m Money) Add(other Money) Money {
	return Money{cents: m.cents + other.cents}
}

// AddCents returns the amount increased by the given cent count.
func (m Money) AddCents(cents int64) Money {
	return Money{cents: m.cents + cents}
}

// Compare returns -1, 0, or 1.
func (m Money) Compare(other Money) int {
	switch {
	case m.cents < other.cents:
		return -1
	case m.cents > other.cents:
		return 1
	default:
		return 0
	}
}

func (m Money) Equal(other Money) bool {
	return m.cents == other.cents
}

func (m Money) LessThan(other Money) bool {
	return m.cents < other.cents
}

func (m Money) GreaterThan(other Money) bool {
	return m.cents > other.cents
}

func (m Money) GreaterOrEqual(other Money) bool {
	return m.cents >= other.cents
}

// Min returns the smaller of two amounts.
func Min(a, b Money) Money {
	if a.cents <= b.cents {
		return a
	}
	return b
}

// Max returns the larger of two amounts.
func Max(a, b Money) Money {
	if a.cents >= b.cents {
		return a
	}
	return b
}

// JSON marshaling: Money is an integer cent count on the wire.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.cents)
}

func (m *Money) UnmarshalJSON(data []byte) error {
	var cents int64
	if err := json.Unmarshal(data, &cents); err != nil {
		return fmt.Errorf("money must be an integer cent count: %w", err)
	}
	m.cents = cents
	return nil
}

// Database scanning (implements sql.Scanner); stored as BIGINT cents.
func (m *Money) Scan(value interface{}) error {
	if value == nil {
		*m = Money{}
		return nil
	}
	switch v := value.(type) {
	case int64:
		m.cents = v
		return nil
	case int32:
		m.cents = int64(v)
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Money", value)
	}
}

// Database value (implements driver.Valuer)
func (m Money) Value() (driver.Value, error) {
	return m.cents, nil
}
