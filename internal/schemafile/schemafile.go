// Package schemafile loads and checks the YAML schema-authoring format. It is
// the schema-authoring side of the system: whenever a schema changes, callers
// re-parse it here and rebuild the engine so the cached dependency graph can
// never go stale.
package schemafile

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/ganad831/doc-helper-sub004/internal/depgraph"
	"github.com/ganad831/doc-helper-sub004/internal/domain"
	"github.com/ganad831/doc-helper-sub004/internal/engine"
)

// FromYAML parses a schema document. Structural YAML errors fail here;
// semantic problems are reported by Check.
func FromYAML(data []byte) (*domain.Schema, error) {
	var s domain.Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("invalid schema yaml: %w", err)
	}
	if len(s.Entities) == 0 {
		return nil, fmt.Errorf("schema defines no entities")
	}
	return &s, nil
}

// FromFile reads a schema document from the given path.
func FromFile(path string) (*domain.Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// ToYAML renders a schema back to the authoring format.
func ToYAML(s *domain.Schema) ([]byte, error) {
	return yaml.Marshal(s)
}

// Issue is one author-facing finding from Check.
type Issue struct {
	Severity domain.Severity `json:"severity"`
	Code     string          `json:"code"`
	Ref      string          `json:"ref"`
	Message  string          `json:"message"`
}

// Check codes.
const (
	CodeDuplicateEntity    = "DUPLICATE_ENTITY"
	CodeDuplicateField     = "DUPLICATE_FIELD"
	CodeUnknownFieldType   = "UNKNOWN_FIELD_TYPE"
	CodeFormulaOnPlain     = "FORMULA_ON_NON_CALCULATED"
	CodeMissingFormula     = "MISSING_FORMULA"
	CodeOptionsMissing     = "OPTIONS_MISSING"
	CodeInvalidPattern     = "INVALID_PATTERN"
	CodeInvalidBounds      = "INVALID_BOUNDS"
	CodeRuleNoConditions   = "RULE_NO_CONDITIONS"
	CodeRuleUnknownField   = "RULE_UNKNOWN_FIELD"
	CodeRuleUnknownOp      = "RULE_UNKNOWN_OP"
	CodeRuleUnknownEffect  = "RULE_UNKNOWN_EFFECT"
	CodeConflictingTargets = "CONFLICTING_RULE_TARGETS"
)

// Check verifies a parsed schema for authoring mistakes. Errors make the
// schema unusable for the affected field or rule; warnings are advisory.
// Formula parse failures, cycles and unresolved references come back from the
// graph build so authors see the same issues the engine will act on.
func Check(s *domain.Schema, limits engine.Limits) []Issue {
	var issues []Issue
	add := func(sev domain.Severity, code, ref, msg string) {
		issues = append(issues, Issue{Severity: sev, Code: code, Ref: ref, Message: msg})
	}

	fieldIDs := map[string]struct{}{}
	entityIDs := map[string]struct{}{}
	for _, entity := range s.Entities {
		if _, dup := entityIDs[entity.ID]; dup {
			add(domain.SeverityError, CodeDuplicateEntity, entity.ID, fmt.Sprintf("duplicate entity id %q", entity.ID))
		}
		entityIDs[entity.ID] = struct{}{}

		for _, f := range entity.Fields {
			if _, dup := fieldIDs[f.ID]; dup {
				add(domain.SeverityError, CodeDuplicateField, f.ID, fmt.Sprintf("duplicate field id %q", f.ID))
			}
			fieldIDs[f.ID] = struct{}{}

			if !f.Type.Valid() {
				add(domain.SeverityError, CodeUnknownFieldType, f.ID, fmt.Sprintf("field %q has unknown type %q", f.ID, f.Type))
			}
			if f.Type == domain.FieldCalculated && f.Formula == "" {
				add(domain.SeverityError, CodeMissingFormula, f.ID, fmt.Sprintf("calculated field %q has no formula", f.ID))
			}
			if f.Type != domain.FieldCalculated && f.Formula != "" {
				add(domain.SeverityError, CodeFormulaOnPlain, f.ID, fmt.Sprintf("field %q has a formula but is not calculated", f.ID))
			}
			if (f.Type == domain.FieldSingleSelect || f.Type == domain.FieldMultiSelect) && len(f.Options) == 0 {
				add(domain.SeverityWarning, CodeOptionsMissing, f.ID, fmt.Sprintf("select field %q declares no options", f.ID))
			}
			issues = append(issues, checkConstraints(f)...)
		}
	}

	targetKinds := map[string]string{}
	for _, rule := range s.Rules {
		if len(rule.Conditions) == 0 {
			add(domain.SeverityError, CodeRuleNoConditions, rule.ID, fmt.Sprintf("rule %q has no conditions", rule.ID))
		}
		for _, cond := range rule.Conditions {
			if _, ok := fieldIDs[cond.Field]; !ok {
				add(domain.SeverityError, CodeRuleUnknownField, rule.ID, fmt.Sprintf("rule %q reads unknown field %q", rule.ID, cond.Field))
			}
			switch cond.Op {
			case domain.OpEquals, domain.OpNotEquals, domain.OpIn, domain.OpRange, domain.OpNonEmpty:
			default:
				add(domain.SeverityError, CodeRuleUnknownOp, rule.ID, fmt.Sprintf("rule %q has unknown operator %q", rule.ID, cond.Op))
			}
		}
		if _, ok := fieldIDs[rule.Target]; !ok {
			add(domain.SeverityError, CodeRuleUnknownField, rule.ID, fmt.Sprintf("rule %q targets unknown field %q", rule.ID, rule.Target))
		}
		switch rule.Effect {
		case domain.EffectSetValue, domain.EffectSetVisibility, domain.EffectSetEnabled:
		default:
			add(domain.SeverityError, CodeRuleUnknownEffect, rule.ID, fmt.Sprintf("rule %q has unknown effect %q", rule.ID, rule.Effect))
		}

		// Overlapping (target, kind) pairs resolve last-write-wins at
		// runtime; flag them so authors notice the ordering dependency.
		key := rule.Target + "/" + string(rule.Effect)
		if prev, ok := targetKinds[key]; ok {
			add(domain.SeverityWarning, CodeConflictingTargets, rule.ID,
				fmt.Sprintf("rules %q and %q both set %s on field %q; the later registration wins", prev, rule.ID, rule.Effect, rule.Target))
		} else {
			targetKinds[key] = rule.ID
		}
	}

	graph, err := depgraph.Build(s, limits.MaxExprDepth)
	if err == nil {
		for _, gi := range graph.Issues() {
			add(domain.SeverityError, gi.Code, gi.FieldID, gi.Message)
		}
	}
	return issues
}

func checkConstraints(f domain.FieldDefinition) []Issue {
	var issues []Issue
	for _, c := range f.Constraints {
		switch c.Kind {
		case domain.ConstraintPattern:
			if _, err := regexp.Compile(c.Pattern); err != nil {
				issues = append(issues, Issue{
					Severity: domain.SeverityError,
					Code:     CodeInvalidPattern,
					Ref:      f.ID,
					Message:  fmt.Sprintf("field %q pattern does not compile: %v", f.ID, err),
				})
			}
		case domain.ConstraintMinLength, domain.ConstraintMaxLength:
			if c.MinLength < 0 || c.MaxLength < 0 {
				issues = append(issues, Issue{
					Severity: domain.SeverityError,
					Code:     CodeInvalidBounds,
					Ref:      f.ID,
					Message:  fmt.Sprintf("field %q has a negative length bound", f.ID),
				})
			}
		case domain.ConstraintMinValue, domain.ConstraintMaxValue:
		case domain.ConstraintRequired, domain.ConstraintAllowedValues,
			domain.ConstraintFileExtension, domain.ConstraintMaxFileSize:
		default:
			issues = append(issues, Issue{
				Severity: domain.SeverityError,
				Code:     CodeInvalidBounds,
				Ref:      f.ID,
				Message:  fmt.Sprintf("field %q has unknown constraint kind %q", f.ID, c.Kind),
			})
		}
	}
	return issues
}

// HasErrors reports whether any issue is error severity.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity.OrDefault() == domain.SeverityError {
			return true
		}
	}
	return false
}
