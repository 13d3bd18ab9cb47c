package domain

// FieldType is the closed set of field types a schema author can declare.
type FieldType string

const (
	FieldText         FieldType = "text"
	FieldLongText     FieldType = "long_text"
	FieldNumber       FieldType = "number"
	FieldDate         FieldType = "date"
	FieldBoolean      FieldType = "boolean"
	FieldSingleSelect FieldType = "single_select"
	FieldMultiSelect  FieldType = "multi_select"
	FieldCalculated   FieldType = "calculated"
	FieldReference    FieldType = "reference"
	FieldFile         FieldType = "file"
	FieldImage        FieldType = "image"
	FieldTable        FieldType = "table"
)

// Valid reports whether t is one of the declared field types.
func (t FieldType) Valid() bool {
	switch t {
	case FieldText, FieldLongText, FieldNumber, FieldDate, FieldBoolean,
		FieldSingleSelect, FieldMultiSelect, FieldCalculated, FieldReference,
		FieldFile, FieldImage, FieldTable:
		return true
	}
	return false
}

// Severity classifies validation issues. Only Error blocks downstream workflows.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// OrDefault returns the severity, defaulting to Error when unset.
func (s Severity) OrDefault() Severity {
	if s == "" {
		return SeverityError
	}
	return s
}

// ConstraintKind tags a constraint variant.
type ConstraintKind string

const (
	ConstraintRequired      ConstraintKind = "required"
	ConstraintMinLength     ConstraintKind = "min_length"
	ConstraintMaxLength     ConstraintKind = "max_length"
	ConstraintMinValue      ConstraintKind = "min_value"
	ConstraintMaxValue      ConstraintKind = "max_value"
	ConstraintPattern       ConstraintKind = "pattern"
	ConstraintAllowedValues ConstraintKind = "allowed_values"
	ConstraintFileExtension ConstraintKind = "file_extension"
	ConstraintMaxFileSize   ConstraintKind = "max_file_size"
)

// Constraint is one declared check on a field. Parameter fields are used
// according to Kind; unused ones stay zero.
type Constraint struct {
	Kind     ConstraintKind `json:"kind" yaml:"kind"`
	Severity Severity       `json:"severity,omitempty" yaml:"severity,omitempty"`

	MinLength    int      `json:"min_length,omitempty" yaml:"min_length,omitempty"`
	MaxLength    int      `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	MinValue     *float64 `json:"min_value,omitempty" yaml:"min_value,omitempty"`
	MaxValue     *float64 `json:"max_value,omitempty" yaml:"max_value,omitempty"`
	Pattern      string   `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Allowed      []string `json:"allowed,omitempty" yaml:"allowed,omitempty"`
	Extensions   []string `json:"extensions,omitempty" yaml:"extensions,omitempty"`
	MaxFileBytes int64    `json:"max_file_bytes,omitempty" yaml:"max_file_bytes,omitempty"`
}

// FieldDefinition describes one typed data slot on an entity. It is immutable
// during an evaluation pass; schema-authoring operations replace the whole
// schema version instead of mutating in place.
type FieldDefinition struct {
	ID          string       `json:"id" yaml:"id"`
	Label       string       `json:"label,omitempty" yaml:"label,omitempty"`
	Type        FieldType    `json:"type" yaml:"type"`
	Formula     string       `json:"formula,omitempty" yaml:"formula,omitempty"`
	Constraints []Constraint `json:"constraints,omitempty" yaml:"constraints,omitempty"`
	Options     []string     `json:"options,omitempty" yaml:"options,omitempty"`
}

// EntityDefinition is the namespace in which field ids are unique.
type EntityDefinition struct {
	ID     string            `json:"id" yaml:"id"`
	Parent string            `json:"parent,omitempty" yaml:"parent,omitempty"`
	Fields []FieldDefinition `json:"fields" yaml:"fields"`
}

// ConditionOp is a control-rule predicate kind.
type ConditionOp string

const (
	OpEquals    ConditionOp = "equals"
	OpNotEquals ConditionOp = "not_equals"
	OpIn        ConditionOp = "in"
	OpRange     ConditionOp = "range"
	OpNonEmpty  ConditionOp = "non_empty"
)

// Condition is one predicate over a single source field. Conditions on a rule
// are conjunctive.
type Condition struct {
	Field  string      `json:"field" yaml:"field"`
	Op     ConditionOp `json:"op" yaml:"op"`
	Value  any         `json:"value,omitempty" yaml:"value,omitempty"`
	Values []any       `json:"values,omitempty" yaml:"values,omitempty"`
	Min    *float64    `json:"min,omitempty" yaml:"min,omitempty"`
	Max    *float64    `json:"max,omitempty" yaml:"max,omitempty"`
}

// EffectKind is what a control rule does to its target when it fires.
type EffectKind string

const (
	EffectSetValue      EffectKind = "set_value"
	EffectSetVisibility EffectKind = "set_visibility"
	EffectSetEnabled    EffectKind = "set_enabled"
)

// ControlRule alters a target field's value, visibility or enabled state when
// its conditions hold. Rules fire in registration order; for the same
// (target, kind) the last rule to fire wins.
type ControlRule struct {
	ID         string      `json:"id" yaml:"id"`
	Conditions []Condition `json:"conditions" yaml:"conditions"`
	Target     string      `json:"target" yaml:"target"`
	Effect     EffectKind  `json:"effect" yaml:"effect"`

	// Effect parameters, used according to Effect.
	Value   any  `json:"value,omitempty" yaml:"value,omitempty"`
	Visible bool `json:"visible,omitempty" yaml:"visible,omitempty"`
	Enabled bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
}

// Sources returns the distinct source field ids the rule's conditions read,
// in condition order.
func (r ControlRule) Sources() []string {
	seen := make(map[string]struct{}, len(r.Conditions))
	var out []string
	for _, c := range r.Conditions {
		if _, ok := seen[c.Field]; ok {
			continue
		}
		seen[c.Field] = struct{}{}
		out = append(out, c.Field)
	}
	return out
}

// Schema is one read-only schema version: entities, their fields, and control
// rules. Version is the serialization token callers use to fence evaluation
// against schema mutation.
type Schema struct {
	ProjectID string             `json:"project_id" yaml:"project_id"`
	Version   int                `json:"version,omitempty" yaml:"version,omitempty"`
	Entities  []EntityDefinition `json:"entities" yaml:"entities"`
	Rules     []ControlRule      `json:"rules,omitempty" yaml:"rules,omitempty"`
}

// Field looks up a field definition by id across all entities.
func (s *Schema) Field(id string) (FieldDefinition, bool) {
	for _, e := range s.Entities {
		for _, f := range e.Fields {
			if f.ID == id {
				return f, true
			}
		}
	}
	return FieldDefinition{}, false
}

// Entity looks up an entity definition by id.
func (s *Schema) Entity(id string) (EntityDefinition, bool) {
	for _, e := range s.Entities {
		if e.ID == id {
			return e, true
		}
	}
	return EntityDefinition{}, false
}

// FieldIDs returns every field id in entity order, then field order.
func (s *Schema) FieldIDs() []string {
	var out []string
	for _, e := range s.Entities {
		for _, f := range e.Fields {
			out = append(out, f.ID)
		}
	}
	return out
}

// Snapshot maps field id to current value for one evaluation pass. The engine
// never retains a snapshot between calls.
type Snapshot map[string]any

// Clone returns a shallow copy; values themselves are treated as immutable.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Effect is one instruction for the caller to apply to its own state or UI.
type Effect struct {
	RuleID  string     `json:"rule_id"`
	Target  string     `json:"target"`
	Kind    EffectKind `json:"kind"`
	Value   any        `json:"value,omitempty"`
	Visible *bool      `json:"visible,omitempty"`
	Enabled *bool      `json:"enabled,omitempty"`
}

// FieldError is a per-field computation failure recovered during a pass.
type FieldError struct {
	FieldID string `json:"field_id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationIssue is one violated constraint, never an exception.
type ValidationIssue struct {
	FieldID  string         `json:"field_id"`
	Kind     ConstraintKind `json:"kind"`
	Severity Severity       `json:"severity"`
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
}

// EvaluationResult is the outcome of one validation pass. Success is false
// only for unexpected internal failures, never for ordinary violations.
type EvaluationResult struct {
	EntityID  string            `json:"entity_id"`
	Evaluated []string          `json:"evaluated"`
	Failed    []string          `json:"failed,omitempty"`
	Errors    []ValidationIssue `json:"errors,omitempty"`
	Warnings  []ValidationIssue `json:"warnings,omitempty"`
	Infos     []ValidationIssue `json:"infos,omitempty"`
	Blocking  bool              `json:"blocking"`
	Success   bool              `json:"success"`
	Message   string            `json:"message,omitempty"`
}
