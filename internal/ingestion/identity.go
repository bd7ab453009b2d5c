package ingestion

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/rpattn/bulkorders/internal/domain"
)

// hashDelimiter separates hashed segments; it does not occur in typed spreadsheet text.
const hashDelimiter = "\x1f"

// hashedFields are the fields that make two rows the same shipment, in hash order.
var hashedFields = []string{
	FieldSenderName,
	FieldSenderPhone,
	FieldReceiverName,
	FieldReceiverPhone,
	FieldReceiverAddress,
	FieldReceiverCity,
	FieldPackageCount,
	FieldPackageWeight,
	FieldServiceType,
	FieldCarrier,
}

// ResolveIdentity derives the deduplication key of a row. A non-blank client
// reference is used verbatim; otherwise the key is a content hash.
func ResolveIdentity(row RawRow) domain.IdentityKey {
	if ref, ok := row.Fields[FieldClientReference].(string); ok && strings.TrimSpace(ref) != "" {
		return domain.IdentityKey{Value: ref, Basis: domain.BasisClientReference}
	}
	return domain.IdentityKey{Value: contentHash(row), Basis: domain.BasisContentHash}
}

func contentHash(row RawRow) string {
	h := sha256.New()
	for _, field := range hashedFields {
		h.Write([]byte(hashSegment(row, field)))
		h.Write([]byte(hashDelimiter))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func hashSegment(row RawRow, field string) string {
	switch field {
	case FieldPackageCount:
		if v, ok := row.Int(field); ok {
			return strconv.FormatInt(v, 10)
		}
		return strings.TrimSpace(row.Raw[field])
	case FieldPackageWeight:
		if v, ok := row.Decimal(field); ok {
			return v.String()
		}
		return strings.TrimSpace(row.Raw[field])
	case FieldServiceType:
		if tier, err := domain.ParseServiceTier(row.Text(field)); err == nil {
			return string(tier)
		}
		return row.Text(field)
	default:
		return row.Text(field)
	}
}
