package validator

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// FieldType is the expected shape of a coerced row value.
type FieldType string

const (
	FieldTypeString  FieldType = "STRING"
	FieldTypePhone   FieldType = "PHONE"
	FieldTypeInteger FieldType = "INTEGER"
	FieldTypeDecimal FieldType = "DECIMAL"
)

// Error codes reported by the validator.
const (
	CodeRequired      = "REQUIRED_FIELD"
	CodeInvalidNumber = "INVALID_NUMBER"
	CodeInvalidValue  = "INVALID_VALUE"
)

const minPhoneDigits = 6

// Number is implemented by numeric values that can be range checked.
type Number interface {
	Hundredths() int64
}

// FieldDefinition represents a field definition for validation.
// Min and Max are expressed in hundredths for decimals and in units for integers.
type FieldDefinition struct {
	Name      string
	Type      FieldType
	Required  bool
	MaxLength int
	Min       *int64
	Max       *int64
}

// ValidationError represents a validation error
type ValidationError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// ValidationResult represents the result of validation
type ValidationResult struct {
	IsValid bool              `json:"is_valid"`
	Errors  []ValidationError `json:"errors"`
}

// RowValidator checks coerced spreadsheet values against field definitions.
type RowValidator struct{}

// NewRowValidator creates a new row validator
func NewRowValidator() *RowValidator {
	return &RowValidator{}
}

// Validate checks values in definition order. raw carries the original cell text so
// that unreadable numbers can be told apart from empty cells.
func (rv *RowValidator) Validate(values map[string]any, raw map[string]string, definitions []FieldDefinition) ValidationResult {
	result := ValidationResult{IsValid: true, Errors: []ValidationError{}}

	for _, def := range definitions {
		value := values[def.Name]
		rawText := strings.TrimSpace(raw[def.Name])

		if isEmpty(value) {
			if rawText != "" && (def.Type == FieldTypeInteger || def.Type == FieldTypeDecimal) {
				result.add(CodeInvalidNumber, def.Name, fmt.Sprintf("field '%s' is not a valid number", def.Name), rawText)
				continue
			}
			if def.Required {
				result.add(CodeRequired, def.Name, fmt.Sprintf("required field '%s' is missing", def.Name), nil)
			}
			continue
		}

		if err := rv.validateFieldType(def, value); err != nil {
			result.add(CodeInvalidValue, def.Name, err.Error(), value)
		}
	}

	return result
}

func (r *ValidationResult) add(code, field, message string, value any) {
	r.IsValid = false
	r.Errors = append(r.Errors, ValidationError{Code: code, Field: field, Message: message, Value: value})
}

func isEmpty(value any) bool {
	if value == nil {
		return true
	}
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

func (rv *RowValidator) validateFieldType(def FieldDefinition, value any) error {
	switch def.Type {
	case FieldTypeString, FieldTypePhone:
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("field '%s' must be text", def.Name)
		}
		s = strings.TrimSpace(s)
		if def.MaxLength > 0 && utf8.RuneCountInString(s) > def.MaxLength {
			return fmt.Errorf("field '%s' exceeds %d characters", def.Name, def.MaxLength)
		}
		if def.Type == FieldTypePhone && !rv.isPhone(s) {
			return fmt.Errorf("field '%s' is not a valid phone number", def.Name)
		}
		return nil
	case FieldTypeInteger:
		n, ok := value.(int64)
		if !ok {
			return fmt.Errorf("field '%s' must be an integer", def.Name)
		}
		return rv.checkRange(def, n)
	case FieldTypeDecimal:
		n, ok := value.(Number)
		if !ok {
			return fmt.Errorf("field '%s' must be a decimal", def.Name)
		}
		return rv.checkRange(def, n.Hundredths())
	default:
		return fmt.Errorf("unknown field type %s", def.Type)
	}
}

func (rv *RowValidator) checkRange(def FieldDefinition, n int64) error {
	if def.Min != nil && n < *def.Min {
		return fmt.Errorf("field '%s' is below the minimum", def.Name)
	}
	if def.Max != nil && n > *def.Max {
		return fmt.Errorf("field '%s' is above the maximum", def.Name)
	}
	return nil
}

// isPhone accepts digits with common separators and an optional leading plus.
func (rv *RowValidator) isPhone(s string) bool {
	digits := 0
	for i, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == '+' && i == 0:
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.':
		default:
			return false
		}
	}
	return digits >= minPhoneDigits
}

// Int64 returns a pointer to n, for use in FieldDefinition bounds.
func Int64(n int64) *int64 {
	return &n
}
