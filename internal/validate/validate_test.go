package validate_test

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/ganad831/doc-helper-sub004/internal/domain"
	"github.com/ganad831/doc-helper-sub004/internal/validate"
)

func f64(v float64) *float64 { return &v }

func testSchema(fields ...domain.FieldDefinition) *domain.Schema {
	return &domain.Schema{
		ProjectID: "p1",
		Entities:  []domain.EntityDefinition{{ID: "doc", Fields: fields}},
	}
}

func TestRequiredEmptyAndWhitespace(t *testing.T) {
	s := testSchema(domain.FieldDefinition{
		ID: "title", Type: domain.FieldText,
		Constraints: []domain.Constraint{{Kind: domain.ConstraintRequired}},
	})
	for _, v := range []any{nil, "", "   "} {
		res := validate.Evaluate(s, "doc", domain.Snapshot{"title": v})
		if !res.Success {
			t.Fatalf("value %q: success=false: %s", v, res.Message)
		}
		if len(res.Errors) != 1 || res.Errors[0].Code != validate.CodeRequired {
			t.Fatalf("value %q: errors = %v", v, res.Errors)
		}
		if !res.Blocking {
			t.Fatalf("value %q: required error must block", v)
		}
	}
	res := validate.Evaluate(s, "doc", domain.Snapshot{"title": "ok"})
	if len(res.Errors) != 0 || res.Blocking {
		t.Fatalf("non-empty value flagged: %v", res.Errors)
	}
}

func TestNonRequiredConstraintsSkipEmpty(t *testing.T) {
	s := testSchema(domain.FieldDefinition{
		ID: "code", Type: domain.FieldText,
		Constraints: []domain.Constraint{{Kind: domain.ConstraintMinLength, MinLength: 5}},
	})
	for _, v := range []any{nil, ""} {
		res := validate.Evaluate(s, "doc", domain.Snapshot{"code": v})
		if len(res.Errors)+len(res.Warnings)+len(res.Infos) != 0 {
			t.Fatalf("value %v: constraint not skipped: %+v", v, res)
		}
	}
	res := validate.Evaluate(s, "doc", domain.Snapshot{"code": "ab"})
	if len(res.Errors) != 1 || res.Errors[0].Code != validate.CodeMinLength {
		t.Fatalf("errors = %v", res.Errors)
	}
	if res.Errors[0].Details["actual_length"] != 2 {
		t.Fatalf("details = %v", res.Errors[0].Details)
	}
}

func TestNoImplicitCoercion(t *testing.T) {
	s := testSchema(
		domain.FieldDefinition{
			ID: "amount", Type: domain.FieldNumber,
			Constraints: []domain.Constraint{{Kind: domain.ConstraintMinLength, MinLength: 3}},
		},
		domain.FieldDefinition{
			ID: "name", Type: domain.FieldText,
			Constraints: []domain.Constraint{{Kind: domain.ConstraintMaxValue, MaxValue: f64(10)}},
		},
	)
	// Length constraint on a number and numeric constraint on a string are
	// both non-applicable, not violations.
	res := validate.Evaluate(s, "doc", domain.Snapshot{"amount": 12, "name": "zzzz"})
	if len(res.Errors) != 0 {
		t.Fatalf("type-mismatched constraints produced issues: %v", res.Errors)
	}
}

func TestNumericBounds(t *testing.T) {
	s := testSchema(domain.FieldDefinition{
		ID: "qty", Type: domain.FieldNumber,
		Constraints: []domain.Constraint{
			{Kind: domain.ConstraintMinValue, MinValue: f64(1)},
			{Kind: domain.ConstraintMaxValue, MaxValue: f64(100)},
		},
	})
	res := validate.Evaluate(s, "doc", domain.Snapshot{"qty": 0})
	if len(res.Errors) != 1 || res.Errors[0].Code != validate.CodeMinValue {
		t.Fatalf("errors = %v", res.Errors)
	}
	want := map[string]any{"min_value": 1.0, "actual_value": 0.0}
	if !reflect.DeepEqual(res.Errors[0].Details, want) {
		t.Fatalf("details = %v", res.Errors[0].Details)
	}
	res = validate.Evaluate(s, "doc", domain.Snapshot{"qty": 250})
	if len(res.Errors) != 1 || res.Errors[0].Code != validate.CodeMaxValue {
		t.Fatalf("errors = %v", res.Errors)
	}
}

func TestNumericBoundsOnStoredValues(t *testing.T) {
	// Values loaded from the store arrive as json.Number, not float64.
	s := testSchema(domain.FieldDefinition{
		ID: "qty", Type: domain.FieldNumber,
		Constraints: []domain.Constraint{
			{Kind: domain.ConstraintMinValue, MinValue: f64(1)},
			{Kind: domain.ConstraintMaxValue, MaxValue: f64(100)},
		},
	})
	res := validate.Evaluate(s, "doc", domain.Snapshot{"qty": json.Number("0")})
	if len(res.Errors) != 1 || res.Errors[0].Code != validate.CodeMinValue {
		t.Fatalf("errors = %v", res.Errors)
	}
	if res.Errors[0].Details["actual_value"] != 0.0 {
		t.Fatalf("details = %v", res.Errors[0].Details)
	}
	res = validate.Evaluate(s, "doc", domain.Snapshot{"qty": json.Number("250")})
	if len(res.Errors) != 1 || res.Errors[0].Code != validate.CodeMaxValue {
		t.Fatalf("errors = %v", res.Errors)
	}
	res = validate.Evaluate(s, "doc", domain.Snapshot{"qty": json.Number("50")})
	if len(res.Errors) != 0 {
		t.Fatalf("in-range stored value flagged: %v", res.Errors)
	}
}

func TestMixedSeverities(t *testing.T) {
	s := testSchema(domain.FieldDefinition{
		ID: "summary", Type: domain.FieldText,
		Constraints: []domain.Constraint{
			{Kind: domain.ConstraintMinLength, MinLength: 10},
			{Kind: domain.ConstraintMaxLength, MaxLength: 3, Severity: domain.SeverityWarning},
			{Kind: domain.ConstraintPattern, Pattern: `^\d+$`, Severity: domain.SeverityInfo},
		},
	})
	res := validate.Evaluate(s, "doc", domain.Snapshot{"summary": "abcd"})
	if len(res.Errors) != 1 || len(res.Warnings) != 1 || len(res.Infos) != 1 {
		t.Fatalf("partition = %d/%d/%d", len(res.Errors), len(res.Warnings), len(res.Infos))
	}
	if !res.Blocking {
		t.Fatal("error severity must block")
	}
	if !reflect.DeepEqual(res.Failed, []string{"summary"}) {
		t.Fatalf("failed = %v", res.Failed)
	}
}

func TestWarningsAloneDoNotBlock(t *testing.T) {
	s := testSchema(domain.FieldDefinition{
		ID: "summary", Type: domain.FieldText,
		Constraints: []domain.Constraint{
			{Kind: domain.ConstraintMaxLength, MaxLength: 2, Severity: domain.SeverityWarning},
		},
	})
	res := validate.Evaluate(s, "doc", domain.Snapshot{"summary": "abc"})
	if res.Blocking {
		t.Fatal("warning must not block")
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("warnings = %v", res.Warnings)
	}
}

func TestAllowedValuesAndFiles(t *testing.T) {
	s := testSchema(
		domain.FieldDefinition{
			ID: "status", Type: domain.FieldSingleSelect,
			Options:     []string{"draft", "final"},
			Constraints: []domain.Constraint{{Kind: domain.ConstraintAllowedValues, Allowed: []string{"draft", "final"}}},
		},
		domain.FieldDefinition{
			ID: "attachment", Type: domain.FieldFile,
			Constraints: []domain.Constraint{{Kind: domain.ConstraintFileExtension, Extensions: []string{"pdf", ".docx"}}},
		},
		domain.FieldDefinition{
			ID: "attachment_size", Type: domain.FieldNumber,
			Constraints: []domain.Constraint{{Kind: domain.ConstraintMaxFileSize, MaxFileBytes: 1024}},
		},
	)
	res := validate.Evaluate(s, "doc", domain.Snapshot{
		"status":          "pending",
		"attachment":      "scan.PDF",
		"attachment_size": 2048,
	})
	codes := map[string]bool{}
	for _, e := range res.Errors {
		codes[e.Code] = true
	}
	if !codes[validate.CodeNotAllowed] {
		t.Fatalf("missing VALUE_NOT_ALLOWED: %v", res.Errors)
	}
	if codes[validate.CodeFileExtension] {
		t.Fatalf("extension match should be case-insensitive: %v", res.Errors)
	}
	if !codes[validate.CodeMaxFileSize] {
		t.Fatalf("missing MAX_FILE_SIZE: %v", res.Errors)
	}
}

func TestUnknownEntityIsInternalFailure(t *testing.T) {
	s := testSchema()
	res := validate.Evaluate(s, "nope", domain.Snapshot{})
	if res.Success {
		t.Fatal("unknown entity should be an internal failure")
	}
	if res.Blocking {
		t.Fatal("internal failure is not a blocking validation outcome")
	}
}

func TestInvalidPatternIsInternalFailure(t *testing.T) {
	s := testSchema(domain.FieldDefinition{
		ID: "x", Type: domain.FieldText,
		Constraints: []domain.Constraint{{Kind: domain.ConstraintPattern, Pattern: `([`}},
	})
	res := validate.Evaluate(s, "doc", domain.Snapshot{"x": "val"})
	if res.Success {
		t.Fatal("invalid pattern should set success=false")
	}
	if len(res.Errors) != 0 {
		t.Fatalf("invalid pattern must not blame the value: %v", res.Errors)
	}
}

func TestDeterministicResults(t *testing.T) {
	s := testSchema(
		domain.FieldDefinition{ID: "a", Type: domain.FieldText, Constraints: []domain.Constraint{{Kind: domain.ConstraintRequired}}},
		domain.FieldDefinition{ID: "b", Type: domain.FieldNumber, Constraints: []domain.Constraint{{Kind: domain.ConstraintMinValue, MinValue: f64(5)}}},
	)
	snap := domain.Snapshot{"a": "", "b": 1}
	first := validate.Evaluate(s, "doc", snap)
	for i := 0; i < 5; i++ {
		if got := validate.Evaluate(s, "doc", snap); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d differs: %+v vs %+v", i, got, first)
		}
	}
}
