// Package validate is the pull-based constraint evaluator. It is read-only
// and deterministic: same schema, entity and snapshot always produce the same
// result. Violations are data, never errors; the Success flag is reserved for
// unexpected internal failures.
package validate

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ganad831/doc-helper-sub004/internal/domain"
)

// Issue codes, one per constraint kind.
const (
	CodeRequired      = "REQUIRED_FIELD_EMPTY"
	CodeMinLength     = "MIN_LENGTH"
	CodeMaxLength     = "MAX_LENGTH"
	CodeMinValue      = "MIN_VALUE"
	CodeMaxValue      = "MAX_VALUE"
	CodePattern       = "PATTERN_MISMATCH"
	CodeNotAllowed    = "VALUE_NOT_ALLOWED"
	CodeFileExtension = "FILE_EXTENSION"
	CodeMaxFileSize   = "MAX_FILE_SIZE"
)

// Evaluate checks every field of the entity against its declared constraints.
// Only Required enforces presence: all other constraint kinds are skipped when
// the value is null or the empty string. There is no implicit coercion; a
// constraint that does not apply to the value's type is non-applicable, not a
// violation.
func Evaluate(schema *domain.Schema, entityID string, snap domain.Snapshot) (result domain.EvaluationResult) {
	result = domain.EvaluationResult{EntityID: entityID, Success: true}

	// Internal bugs surface as success=false, never as a panic to the caller
	// and never as an ordinary validation failure.
	defer func() {
		if r := recover(); r != nil {
			result.Success = false
			result.Message = fmt.Sprintf("internal validation failure: %v", r)
		}
	}()

	if schema == nil {
		result.Success = false
		result.Message = "no schema loaded"
		return result
	}
	entity, ok := schema.Entity(entityID)
	if !ok {
		result.Success = false
		result.Message = fmt.Sprintf("unknown entity %q", entityID)
		return result
	}

	failed := map[string]struct{}{}
	for _, field := range entity.Fields {
		result.Evaluated = append(result.Evaluated, field.ID)
		value := snap[field.ID]
		for _, c := range field.Constraints {
			issue, violated, err := checkConstraint(field, c, value)
			if err != nil {
				result.Success = false
				result.Message = err.Error()
				continue
			}
			if !violated {
				continue
			}
			failed[field.ID] = struct{}{}
			switch issue.Severity {
			case domain.SeverityWarning:
				result.Warnings = append(result.Warnings, issue)
			case domain.SeverityInfo:
				result.Infos = append(result.Infos, issue)
			default:
				result.Errors = append(result.Errors, issue)
			}
		}
	}

	for _, id := range result.Evaluated {
		if _, ok := failed[id]; ok {
			result.Failed = append(result.Failed, id)
		}
	}
	result.Blocking = len(result.Errors) > 0
	return result
}

func checkConstraint(field domain.FieldDefinition, c domain.Constraint, value any) (domain.ValidationIssue, bool, error) {
	severity := c.Severity.OrDefault()

	if c.Kind == domain.ConstraintRequired {
		if isEmpty(value) {
			return issue(field, c, severity, CodeRequired,
				fmt.Sprintf("field %q is required", field.ID), nil), true, nil
		}
		return domain.ValidationIssue{}, false, nil
	}

	// Every non-Required constraint skips null and empty-string values.
	if value == nil {
		return domain.ValidationIssue{}, false, nil
	}
	if s, ok := value.(string); ok && s == "" {
		return domain.ValidationIssue{}, false, nil
	}

	switch c.Kind {
	case domain.ConstraintMinLength:
		s, ok := value.(string)
		if !ok {
			return domain.ValidationIssue{}, false, nil
		}
		if n := len([]rune(s)); n < c.MinLength {
			return issue(field, c, severity, CodeMinLength,
				fmt.Sprintf("field %q must be at least %d characters", field.ID, c.MinLength),
				map[string]any{"min_length": c.MinLength, "actual_length": n}), true, nil
		}

	case domain.ConstraintMaxLength:
		s, ok := value.(string)
		if !ok {
			return domain.ValidationIssue{}, false, nil
		}
		if n := len([]rune(s)); n > c.MaxLength {
			return issue(field, c, severity, CodeMaxLength,
				fmt.Sprintf("field %q must be at most %d characters", field.ID, c.MaxLength),
				map[string]any{"max_length": c.MaxLength, "actual_length": n}), true, nil
		}

	case domain.ConstraintMinValue:
		n, ok := toNumber(value)
		if !ok || c.MinValue == nil {
			return domain.ValidationIssue{}, false, nil
		}
		if n < *c.MinValue {
			return issue(field, c, severity, CodeMinValue,
				fmt.Sprintf("field %q must be at least %v", field.ID, *c.MinValue),
				map[string]any{"min_value": *c.MinValue, "actual_value": n}), true, nil
		}

	case domain.ConstraintMaxValue:
		n, ok := toNumber(value)
		if !ok || c.MaxValue == nil {
			return domain.ValidationIssue{}, false, nil
		}
		if n > *c.MaxValue {
			return issue(field, c, severity, CodeMaxValue,
				fmt.Sprintf("field %q must be at most %v", field.ID, *c.MaxValue),
				map[string]any{"max_value": *c.MaxValue, "actual_value": n}), true, nil
		}

	case domain.ConstraintPattern:
		s, ok := value.(string)
		if !ok {
			return domain.ValidationIssue{}, false, nil
		}
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			// An unparseable authored pattern reaching evaluation is an
			// internal failure, not a violation against the user's value.
			return domain.ValidationIssue{}, false,
				fmt.Errorf("invalid pattern for field %q: %v", field.ID, err)
		}
		if !re.MatchString(s) {
			return issue(field, c, severity, CodePattern,
				fmt.Sprintf("field %q does not match the required pattern", field.ID),
				map[string]any{"pattern": c.Pattern, "actual_value": s}), true, nil
		}

	case domain.ConstraintAllowedValues:
		s, ok := asComparableString(value)
		if !ok {
			return domain.ValidationIssue{}, false, nil
		}
		for _, allowed := range c.Allowed {
			if s == allowed {
				return domain.ValidationIssue{}, false, nil
			}
		}
		return issue(field, c, severity, CodeNotAllowed,
			fmt.Sprintf("field %q value %q is not one of the allowed values", field.ID, s),
			map[string]any{"allowed": c.Allowed, "actual_value": s}), true, nil

	case domain.ConstraintFileExtension:
		name, ok := value.(string)
		if !ok {
			return domain.ValidationIssue{}, false, nil
		}
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
		for _, allowed := range c.Extensions {
			if ext == strings.ToLower(strings.TrimPrefix(allowed, ".")) {
				return domain.ValidationIssue{}, false, nil
			}
		}
		return issue(field, c, severity, CodeFileExtension,
			fmt.Sprintf("field %q file extension %q is not allowed", field.ID, ext),
			map[string]any{"extensions": c.Extensions, "actual_extension": ext}), true, nil

	case domain.ConstraintMaxFileSize:
		n, ok := toNumber(value)
		if !ok {
			return domain.ValidationIssue{}, false, nil
		}
		if int64(n) > c.MaxFileBytes {
			return issue(field, c, severity, CodeMaxFileSize,
				fmt.Sprintf("field %q exceeds the maximum file size of %d bytes", field.ID, c.MaxFileBytes),
				map[string]any{"max_file_bytes": c.MaxFileBytes, "actual_bytes": int64(n)}), true, nil
		}
	}
	return domain.ValidationIssue{}, false, nil
}

func issue(field domain.FieldDefinition, c domain.Constraint, severity domain.Severity, code, message string, details map[string]any) domain.ValidationIssue {
	return domain.ValidationIssue{
		FieldID:  field.ID,
		Kind:     c.Kind,
		Severity: severity,
		Code:     code,
		Message:  message,
		Details:  details,
	}
}

// isEmpty implements the Required rule: null, empty string and whitespace-only
// strings are all empty. Empty lists count as empty for multi-select fields.
func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	}
	return false
}

func asComparableString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
