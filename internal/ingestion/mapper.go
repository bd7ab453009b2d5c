package ingestion

import (
	"github.com/rpattn/bulkorders/internal/domain"
	"github.com/rpattn/bulkorders/pkg/validator"
)

// Row error codes raised outside field validation.
const (
	CodeUnknownServiceType = "UNKNOWN_SERVICE_TYPE"
	CodeCreateFailed       = "CREATE_FAILED"
)

const (
	maxTextLength  = 255
	maxNotesLength = 1000
	maxPackages    = 999
)

var orderFieldRules = []validator.FieldDefinition{
	{Name: FieldSenderName, Type: validator.FieldTypeString, Required: true, MaxLength: maxTextLength},
	{Name: FieldSenderPhone, Type: validator.FieldTypePhone, Required: true},
	{Name: FieldReceiverName, Type: validator.FieldTypeString, Required: true, MaxLength: maxTextLength},
	{Name: FieldReceiverPhone, Type: validator.FieldTypePhone, Required: true},
	{Name: FieldReceiverAddress, Type: validator.FieldTypeString, Required: true, MaxLength: maxTextLength},
	{Name: FieldReceiverCity, Type: validator.FieldTypeString, Required: true, MaxLength: maxTextLength},
	{Name: FieldPackageCount, Type: validator.FieldTypeInteger, Required: true, Min: validator.Int64(1), Max: validator.Int64(maxPackages)},
	{Name: FieldPackageWeight, Type: validator.FieldTypeDecimal, Required: true, Min: validator.Int64(1)},
	{Name: FieldServiceType, Type: validator.FieldTypeString, Required: true},
	{Name: FieldCarrier, Type: validator.FieldTypeString, MaxLength: maxTextLength},
	{Name: FieldDeclaredValue, Type: validator.FieldTypeDecimal, Min: validator.Int64(0)},
	{Name: FieldCODAmount, Type: validator.FieldTypeDecimal, Min: validator.Int64(0)},
	{Name: FieldNotes, Type: validator.FieldTypeString, MaxLength: maxNotesLength},
}

// rowMapper validates a row and builds the order draft it describes.
type rowMapper struct {
	validator *validator.RowValidator
}

func newRowMapper() *rowMapper {
	return &rowMapper{validator: validator.NewRowValidator()}
}

// toOrder returns the draft, or the reasons the row cannot become an order.
func (m *rowMapper) toOrder(row RawRow, key domain.IdentityKey) (domain.Order, []domain.RowError) {
	result := m.validator.Validate(row.Fields, row.Raw, orderFieldRules)
	rowErrors := make([]domain.RowError, 0, len(result.Errors))
	for _, verr := range result.Errors {
		rowErrors = append(rowErrors, domain.RowError{Code: verr.Code, Field: verr.Field, Message: verr.Message})
	}

	tier, tierErr := domain.ParseServiceTier(row.Text(FieldServiceType))
	if tierErr != nil && row.Text(FieldServiceType) != "" {
		rowErrors = append(rowErrors, domain.RowError{
			Code:    CodeUnknownServiceType,
			Field:   FieldServiceType,
			Message: tierErr.Error(),
		})
	}
	if len(rowErrors) > 0 {
		return domain.Order{}, rowErrors
	}

	count, _ := row.Int(FieldPackageCount)
	weight, _ := row.Decimal(FieldPackageWeight)

	order := domain.Order{
		IdempotencyKey: key.Value,
		IdentityBasis:  key.Basis,
		Sender: domain.Party{
			Name:  row.Text(FieldSenderName),
			Phone: row.Text(FieldSenderPhone),
		},
		Receiver: domain.Party{
			Name:    row.Text(FieldReceiverName),
			Phone:   row.Text(FieldReceiverPhone),
			Address: row.Text(FieldReceiverAddress),
			City:    row.Text(FieldReceiverCity),
		},
		PackageCount:  int(count),
		PackageWeight: weight,
		ServiceType:   tier,
		Carrier:       optionalText(row, FieldCarrier),
		DeclaredValue: optionalDecimal(row, FieldDeclaredValue),
		CODAmount:     optionalDecimal(row, FieldCODAmount),
		Notes:         optionalText(row, FieldNotes),
	}
	if key.Basis == domain.BasisClientReference {
		ref := key.Value
		order.ClientReference = &ref
	}
	return order, nil
}

func optionalText(row RawRow, field string) *string {
	if v := row.Text(field); v != "" {
		return &v
	}
	return nil
}

func optionalDecimal(row RawRow, field string) *domain.Fixed2 {
	if v, ok := row.Decimal(field); ok {
		return &v
	}
	return nil
}
