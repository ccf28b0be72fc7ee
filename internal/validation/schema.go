package validation

import (
	"context"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	pkgerrors "confhub/pkg/errors"
)

// SchemaValidator validates a config type's payload against a JSON
// schema compiled at startup.
type SchemaValidator struct {
	schema *jsonschema.Schema
}

func NewSchemaValidator(schemaPath string) (*SchemaValidator, error) {
	schema, err := jsonschema.Compile(schemaPath)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", schemaPath, err)
	}
	return &SchemaValidator{schema: schema}, nil
}

func NewSchemaValidatorFromString(name, schemaJSON string) (*SchemaValidator, error) {
	schema, err := jsonschema.CompileString(name, schemaJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	return &SchemaValidator{schema: schema}, nil
}

func (v *SchemaValidator) Validate(_ context.Context, value map[string]interface{}) error {
	if err := v.schema.Validate(toJSONValue(value)); err != nil {
		return pkgerrors.ErrValidation.
			WithViolation("value", err.Error()).
			WithCause(err)
	}
	return nil
}

// toJSONValue normalizes Go values into the shapes the schema library
// expects (map[string]interface{}, []interface{}, float64, etc).
func toJSONValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[k] = toJSONValue(item)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = toJSONValue(item)
		}
		return out
	case int:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	default:
		return val
	}
}
