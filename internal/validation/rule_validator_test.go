package validation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "confhub/pkg/errors"
)

func validRulePayload() map[string]interface{} {
	return map[string]interface{}{
		"priority": 10,
		"enabled":  true,
		"condition": map[string]interface{}{
			"leaf": map[string]interface{}{
				"field":    "env",
				"operator": "EQUALS",
				"value":    "production",
			},
		},
		"labelOperations": []interface{}{
			map[string]interface{}{"action": "ADD", "key": "tier", "value": "gold"},
		},
	}
}

func TestRuleValidator_ValidRule(t *testing.T) {
	v := NewRuleValidator(nil)
	err := v.Validate(context.Background(), validRulePayload())
	assert.NoError(t, err)
}

func TestRuleValidator_InvalidRegex(t *testing.T) {
	v := NewRuleValidator(nil)

	payload := validRulePayload()
	payload["condition"] = map[string]interface{}{
		"leaf": map[string]interface{}{
			"field":    "service",
			"operator": "REGEX_MATCH",
			"value":    "(a+",
		},
	}

	err := v.Validate(context.Background(), payload)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestRuleValidator_InvalidCIDR(t *testing.T) {
	v := NewRuleValidator(nil)

	payload := validRulePayload()
	payload["condition"] = map[string]interface{}{
		"leaf": map[string]interface{}{
			"field":    "client_ip",
			"operator": "IP_IN_RANGE",
			"value":    "10.0.0/8",
		},
	}

	err := v.Validate(context.Background(), payload)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestRuleValidator_UnknownOperator(t *testing.T) {
	v := NewRuleValidator(nil)

	payload := validRulePayload()
	payload["condition"] = map[string]interface{}{
		"leaf": map[string]interface{}{
			"field":    "env",
			"operator": "STARTS_WITH",
			"value":    "prod",
		},
	}

	err := v.Validate(context.Background(), payload)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestRuleValidator_NumericRangeBounds(t *testing.T) {
	v := NewRuleValidator(nil)

	tests := []struct {
		name    string
		value   interface{}
		wantErr bool
	}{
		{
			name:    "valid bounds",
			value:   map[string]interface{}{"min": 1, "max": 10},
			wantErr: false,
		},
		{
			name:    "min exceeds max",
			value:   map[string]interface{}{"min": 10, "max": 1},
			wantErr: true,
		},
		{
			name:    "non-numeric bounds",
			value:   map[string]interface{}{"min": "low", "max": "high"},
			wantErr: true,
		},
		{
			name:    "missing bounds object",
			value:   "1-10",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := validRulePayload()
			payload["condition"] = map[string]interface{}{
				"leaf": map[string]interface{}{
					"field":    "latency_ms",
					"operator": "NUMERIC_RANGE",
					"value":    tt.value,
				},
			}

			err := v.Validate(context.Background(), payload)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRuleValidator_DepthBound(t *testing.T) {
	v := NewRuleValidator(nil)

	// Nest NOT nodes past the depth limit.
	condition := map[string]interface{}{
		"leaf": map[string]interface{}{
			"field":    "env",
			"operator": "EQUALS",
			"value":    "production",
		},
	}
	for i := 0; i < v.maxDepth+1; i++ {
		condition = map[string]interface{}{"not": condition}
	}

	payload := validRulePayload()
	payload["condition"] = condition

	err := v.Validate(context.Background(), payload)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestRuleValidator_FanOutBound(t *testing.T) {
	v := NewRuleValidator(nil)

	children := make([]interface{}, v.maxChildren+1)
	for i := range children {
		children[i] = map[string]interface{}{
			"leaf": map[string]interface{}{
				"field":    "env",
				"operator": "EQUALS",
				"value":    "production",
			},
		}
	}

	payload := validRulePayload()
	payload["condition"] = map[string]interface{}{"and": children}

	err := v.Validate(context.Background(), payload)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestRuleValidator_EmptyBranchNode(t *testing.T) {
	v := NewRuleValidator(nil)

	payload := validRulePayload()
	payload["condition"] = map[string]interface{}{"or": []interface{}{}}

	err := v.Validate(context.Background(), payload)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestRuleValidator_MissingLabelOperations(t *testing.T) {
	v := NewRuleValidator(nil)

	payload := validRulePayload()
	payload["labelOperations"] = []interface{}{}

	err := v.Validate(context.Background(), payload)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
}

func TestRuleValidator_BadLabelOperation(t *testing.T) {
	v := NewRuleValidator(nil)

	payload := validRulePayload()
	payload["labelOperations"] = []interface{}{
		map[string]interface{}{"action": "UPSERT", "key": ""},
	}

	err := v.Validate(context.Background(), payload)
	require.Error(t, err)

	var verr *pkgerrors.Error
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Violations, 2)
}

func TestRuleValidator_FieldTypeCompatibility(t *testing.T) {
	fieldTypes, err := ParseFieldTypes(map[string]string{
		"client_ip":  "ip",
		"latency_ms": "NUMBER",
		"service":    "string",
		"canary":     "BOOLEAN",
	})
	require.NoError(t, err)
	v := NewRuleValidator(fieldTypes)

	tests := []struct {
		name    string
		leaf    map[string]interface{}
		wantErr bool
	}{
		{
			name:    "IP_IN_RANGE on ip field",
			leaf:    map[string]interface{}{"field": "client_ip", "operator": "IP_IN_RANGE", "value": "10.0.0.0/8"},
			wantErr: false,
		},
		{
			name:    "IP_IN_RANGE on string field",
			leaf:    map[string]interface{}{"field": "service", "operator": "IP_IN_RANGE", "value": "10.0.0.0/8"},
			wantErr: true,
		},
		{
			name:    "NUMERIC_RANGE on ip field",
			leaf:    map[string]interface{}{"field": "client_ip", "operator": "NUMERIC_RANGE", "value": map[string]interface{}{"min": 1, "max": 2}},
			wantErr: true,
		},
		{
			name:    "REGEX_MATCH on number field",
			leaf:    map[string]interface{}{"field": "latency_ms", "operator": "REGEX_MATCH", "value": "[0-9]+"},
			wantErr: true,
		},
		{
			name:    "CONTAINS on boolean field",
			leaf:    map[string]interface{}{"field": "canary", "operator": "CONTAINS", "value": "tr"},
			wantErr: true,
		},
		{
			name:    "EQUALS works on any declared type",
			leaf:    map[string]interface{}{"field": "canary", "operator": "EQUALS", "value": true},
			wantErr: false,
		},
		{
			name:    "undeclared field stays open",
			leaf:    map[string]interface{}{"field": "user_agent", "operator": "REGEX_MATCH", "value": "Mozilla.*"},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := validRulePayload()
			payload["condition"] = map[string]interface{}{"leaf": tt.leaf}

			err := v.Validate(context.Background(), payload)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, pkgerrors.IsValidation(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseFieldTypes_UnknownType(t *testing.T) {
	_, err := ParseFieldTypes(map[string]string{"env": "ENUM"})
	assert.Error(t, err)

	parsed, err := ParseFieldTypes(nil)
	require.NoError(t, err)
	assert.Nil(t, parsed)
}

func TestRuleValidator_NegativePriority(t *testing.T) {
	v := NewRuleValidator(nil)

	payload := validRulePayload()
	payload["priority"] = -1

	err := v.Validate(context.Background(), payload)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsValidation(err))
}
