package ingestion

import (
	"math"
	"strconv"
	"strings"

	"github.com/rpattn/bulkorders/internal/domain"
)

const maxExactInteger = 1 << 53

// coerceCell converts a cell to the column's kind. Numeric cells that cannot be
// read become nil; the raw text is kept alongside for error reporting.
func coerceCell(kind ColumnKind, raw string) any {
	switch kind {
	case KindInteger:
		v, ok := coerceInteger(raw)
		if !ok {
			return nil
		}
		return v
	case KindDecimal:
		v, err := domain.ParseFixed2(raw)
		if err != nil {
			return nil
		}
		return v
	default:
		return raw
	}
}

// coerceInteger accepts "3", "3.0" and "3E0"; fractional values are unreadable.
func coerceInteger(raw string) (int64, bool) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return 0, false
	}
	if v, err := strconv.ParseInt(text, 10, 64); err == nil {
		return v, true
	}

	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	if math.Trunc(f) != f || math.Abs(f) > maxExactInteger {
		return 0, false
	}
	return int64(f), true
}
