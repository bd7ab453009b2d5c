package domain

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// ErrInvalidDecimal is returned when text cannot be read as a decimal number.
var ErrInvalidDecimal = errors.New("invalid decimal")

const maxDecimalExponent = 18

// Fixed2 is a signed fixed-point number with two decimal places, stored as hundredths.
type Fixed2 int64

// NewFixed2 builds a value from whole units and hundredths, e.g. NewFixed2(12, 35) == 12.35.
func NewFixed2(units, hundredths int64) Fixed2 {
	if units < 0 {
		return Fixed2(units*100 - hundredths)
	}
	return Fixed2(units*100 + hundredths)
}

// ParseFixed2 reads a decimal literal exactly and rounds it half-up (away from zero)
// to two decimal places. Exponent notation such as "1.5E-2" is accepted.
func ParseFixed2(raw string) (Fixed2, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return 0, ErrInvalidDecimal
	}
	if idx := strings.IndexAny(text, "eE"); idx >= 0 {
		exp, err := strconv.Atoi(text[idx+1:])
		if err != nil || exp > maxDecimalExponent || exp < -maxDecimalExponent {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDecimal, raw)
		}
	}
	if strings.ContainsAny(text, "/") {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDecimal, raw)
	}

	r, ok := new(big.Rat).SetString(text)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDecimal, raw)
	}
	r.Mul(r, big.NewRat(100, 1))

	negative := r.Sign() < 0
	if negative {
		r.Neg(r)
	}
	r.Add(r, big.NewRat(1, 2))
	q := new(big.Int).Quo(r.Num(), r.Denom())
	if !q.IsInt64() {
		return 0, fmt.Errorf("%w: %q out of range", ErrInvalidDecimal, raw)
	}

	v := q.Int64()
	if negative {
		v = -v
	}
	return Fixed2(v), nil
}

// Hundredths returns the raw scaled value.
func (f Fixed2) Hundredths() int64 {
	return int64(f)
}

func (f Fixed2) String() string {
	v := int64(f)
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// MarshalJSON renders the value as a JSON number with two decimals.
func (f Fixed2) MarshalJSON() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalJSON accepts a JSON number or a quoted decimal string.
func (f *Fixed2) UnmarshalJSON(data []byte) error {
	text := strings.Trim(string(data), `"`)
	parsed, err := ParseFixed2(text)
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
