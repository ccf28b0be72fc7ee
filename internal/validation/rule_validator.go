package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"
	"strings"

	"confhub/internal/constants"
	"confhub/internal/rules"
	pkgerrors "confhub/pkg/errors"
)

// FieldType declares what kind of attribute a condition field carries.
type FieldType string

const (
	FieldTypeString  FieldType = "STRING"
	FieldTypeNumber  FieldType = "NUMBER"
	FieldTypeBoolean FieldType = "BOOLEAN"
	FieldTypeIP      FieldType = "IP"
)

// ParseFieldTypes converts a raw field->type mapping, as configured,
// into declared field types. Unknown type names are rejected.
func ParseFieldTypes(raw map[string]string) (map[string]FieldType, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]FieldType, len(raw))
	for field, name := range raw {
		switch ft := FieldType(strings.ToUpper(name)); ft {
		case FieldTypeString, FieldTypeNumber, FieldTypeBoolean, FieldTypeIP:
			out[field] = ft
		default:
			return nil, fmt.Errorf("unknown field type %q for field %q", name, field)
		}
	}
	return out, nil
}

// RuleValidator rejects malformed label application rules before they
// reach storage: unknown operators, uncompilable regexes, bad CIDRs,
// unbounded condition trees and operators applied to fields of an
// incompatible declared type all fail here, never at evaluation time.
// Fields without a declared type accept any operator; the attribute
// space is open.
type RuleValidator struct {
	maxDepth    int
	maxChildren int
	fieldTypes  map[string]FieldType
}

func NewRuleValidator(fieldTypes map[string]FieldType) *RuleValidator {
	return &RuleValidator{
		maxDepth:    constants.MaxConditionDepth,
		maxChildren: constants.MaxConditionChildren,
		fieldTypes:  fieldTypes,
	}
}

func (v *RuleValidator) Validate(_ context.Context, value map[string]interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return pkgerrors.ErrValidation.WithCause(err)
	}

	var rule rules.Rule
	if err := json.Unmarshal(raw, &rule); err != nil {
		return pkgerrors.ErrValidation.
			WithViolation("value", "payload does not decode as a label application rule").
			WithCause(err)
	}

	var violations []pkgerrors.FieldViolation

	if rule.Priority < 0 {
		violations = append(violations, pkgerrors.FieldViolation{
			Field:       "priority",
			Description: "priority must be non-negative",
		})
	}

	if len(rule.LabelOperations) == 0 {
		violations = append(violations, pkgerrors.FieldViolation{
			Field:       "labelOperations",
			Description: "at least one label operation is required",
		})
	}
	for i, op := range rule.LabelOperations {
		field := fmt.Sprintf("labelOperations[%d]", i)
		if op.Action != rules.LabelActionAdd && op.Action != rules.LabelActionRemove {
			violations = append(violations, pkgerrors.FieldViolation{
				Field:       field + ".action",
				Description: fmt.Sprintf("unknown action %q (valid: ADD, REMOVE)", op.Action),
			})
		}
		if op.Key == "" {
			violations = append(violations, pkgerrors.FieldViolation{
				Field:       field + ".key",
				Description: "label key is required",
			})
		}
	}

	violations = append(violations, v.validateCondition(&rule.Condition, "condition", 1)...)

	if len(violations) > 0 {
		return pkgerrors.ErrValidation.WithViolations(violations)
	}
	return nil
}

func (v *RuleValidator) validateCondition(c *rules.Condition, path string, depth int) []pkgerrors.FieldViolation {
	if depth > v.maxDepth {
		return []pkgerrors.FieldViolation{{
			Field:       path,
			Description: fmt.Sprintf("condition tree exceeds maximum depth %d", v.maxDepth),
		}}
	}

	kind, err := c.Kind()
	if err != nil {
		return []pkgerrors.FieldViolation{{
			Field:       path,
			Description: err.Error(),
		}}
	}

	var violations []pkgerrors.FieldViolation

	switch kind {
	case "leaf":
		violations = append(violations, v.validateLeaf(c.Leaf, path)...)
	case "and", "or":
		children := c.And
		if kind == "or" {
			children = c.Or
		}
		if len(children) == 0 {
			violations = append(violations, pkgerrors.FieldViolation{
				Field:       path,
				Description: kind + " requires at least one child condition",
			})
		}
		if len(children) > v.maxChildren {
			violations = append(violations, pkgerrors.FieldViolation{
				Field:       path,
				Description: fmt.Sprintf("condition node exceeds maximum fan-out %d", v.maxChildren),
			})
		}
		for i := range children {
			childPath := fmt.Sprintf("%s.%s[%d]", path, kind, i)
			violations = append(violations, v.validateCondition(&children[i], childPath, depth+1)...)
		}
	case "not":
		violations = append(violations, v.validateCondition(c.Not, path+".not", depth+1)...)
	}

	return violations
}

func (v *RuleValidator) validateLeaf(leaf *rules.LeafCondition, path string) []pkgerrors.FieldViolation {
	var violations []pkgerrors.FieldViolation

	if leaf.Field == "" {
		violations = append(violations, pkgerrors.FieldViolation{
			Field:       path + ".field",
			Description: "field name is required",
		})
	}

	if declared, ok := v.fieldTypes[leaf.Field]; ok && !operatorAllowsFieldType(leaf.Operator, declared) {
		violations = append(violations, pkgerrors.FieldViolation{
			Field:       path + ".operator",
			Description: fmt.Sprintf("operator %s cannot apply to %s field %q", leaf.Operator, declared, leaf.Field),
		})
	}

	switch leaf.Operator {
	case rules.OperatorEquals:
		switch leaf.Value.(type) {
		case string, float64, float32, int, int32, int64, bool:
		default:
			violations = append(violations, pkgerrors.FieldViolation{
				Field:       path + ".value",
				Description: "EQUALS requires a scalar value",
			})
		}

	case rules.OperatorContains:
		if _, ok := leaf.Value.(string); !ok {
			violations = append(violations, pkgerrors.FieldViolation{
				Field:       path + ".value",
				Description: "CONTAINS requires a string value",
			})
		}

	case rules.OperatorRegexMatch:
		pattern, ok := leaf.Value.(string)
		if !ok {
			violations = append(violations, pkgerrors.FieldViolation{
				Field:       path + ".value",
				Description: "REGEX_MATCH requires a string pattern",
			})
			break
		}
		if _, err := rules.CompilePattern(pattern); err != nil {
			violations = append(violations, pkgerrors.FieldViolation{
				Field:       path + ".value",
				Description: fmt.Sprintf("invalid regex pattern: %v", err),
			})
		}

	case rules.OperatorIPInRange:
		cidr, ok := leaf.Value.(string)
		if !ok {
			violations = append(violations, pkgerrors.FieldViolation{
				Field:       path + ".value",
				Description: "IP_IN_RANGE requires a CIDR string",
			})
			break
		}
		if _, err := netip.ParsePrefix(cidr); err != nil {
			violations = append(violations, pkgerrors.FieldViolation{
				Field:       path + ".value",
				Description: fmt.Sprintf("invalid CIDR range: %v", err),
			})
		}

	case rules.OperatorNumericRange:
		bounds, ok := leaf.Value.(map[string]interface{})
		if !ok {
			violations = append(violations, pkgerrors.FieldViolation{
				Field:       path + ".value",
				Description: "NUMERIC_RANGE requires {min, max} bounds",
			})
			break
		}
		min, minOK := toFloat(bounds["min"])
		max, maxOK := toFloat(bounds["max"])
		if !minOK || !maxOK {
			violations = append(violations, pkgerrors.FieldViolation{
				Field:       path + ".value",
				Description: "NUMERIC_RANGE bounds must be numeric",
			})
			break
		}
		if min > max {
			violations = append(violations, pkgerrors.FieldViolation{
				Field:       path + ".value",
				Description: "NUMERIC_RANGE min must not exceed max",
			})
		}

	default:
		violations = append(violations, pkgerrors.FieldViolation{
			Field:       path + ".operator",
			Description: fmt.Sprintf("unknown operator %q", leaf.Operator),
		})
	}

	return violations
}

func operatorAllowsFieldType(op rules.Operator, ft FieldType) bool {
	switch op {
	case rules.OperatorEquals:
		return true
	case rules.OperatorContains, rules.OperatorRegexMatch:
		return ft == FieldTypeString
	case rules.OperatorIPInRange:
		return ft == FieldTypeIP
	case rules.OperatorNumericRange:
		return ft == FieldTypeNumber
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
