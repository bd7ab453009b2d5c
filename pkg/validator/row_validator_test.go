package validator

import "testing"

type hundredths int64

func (h hundredths) Hundredths() int64 { return int64(h) }

func TestRowValidatorRequiredAndNumbers(t *testing.T) {
	v := NewRowValidator()

	definitions := []FieldDefinition{
		{Name: "name", Type: FieldTypeString, Required: true},
		{Name: "count", Type: FieldTypeInteger, Required: true, Min: Int64(1)},
		{Name: "weight", Type: FieldTypeDecimal, Required: true, Min: Int64(1)},
	}

	result := v.Validate(
		map[string]any{"name": "  ", "count": nil, "weight": hundredths(0)},
		map[string]string{"name": "  ", "count": "three", "weight": "0"},
		definitions,
	)
	if result.IsValid {
		t.Fatalf("expected validation to fail")
	}
	if len(result.Errors) != 3 {
		t.Fatalf("expected 3 errors, got %+v", result.Errors)
	}

	wantCodes := []string{CodeRequired, CodeInvalidNumber, CodeInvalidValue}
	for i, code := range wantCodes {
		if result.Errors[i].Code != code {
			t.Fatalf("error %d: expected code %s, got %s", i, code, result.Errors[i].Code)
		}
	}
}

func TestRowValidatorPhone(t *testing.T) {
	v := NewRowValidator()
	definitions := []FieldDefinition{{Name: "phone", Type: FieldTypePhone, Required: true}}

	for _, phone := range []string{"+1 (555) 010-2030", "0712345678"} {
		result := v.Validate(map[string]any{"phone": phone}, nil, definitions)
		if !result.IsValid {
			t.Fatalf("expected %q to be accepted, got %+v", phone, result.Errors)
		}
	}

	for _, phone := range []string{"call me", "12-34", "555+1234567"} {
		result := v.Validate(map[string]any{"phone": phone}, nil, definitions)
		if result.IsValid {
			t.Fatalf("expected %q to be rejected", phone)
		}
	}
}

func TestRowValidatorSkipsMissingOptionalFields(t *testing.T) {
	v := NewRowValidator()
	definitions := []FieldDefinition{{Name: "notes", Type: FieldTypeString, MaxLength: 5}}

	if result := v.Validate(map[string]any{}, nil, definitions); !result.IsValid {
		t.Fatalf("expected missing optional field to pass, got %+v", result.Errors)
	}
	if result := v.Validate(map[string]any{"notes": "too long"}, nil, definitions); result.IsValid {
		t.Fatalf("expected length limit to be enforced")
	}
}
