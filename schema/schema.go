// Package schema validates node parameter payloads against the JSON-Schema
// documents nodes expose via ParameterSchema. Validation is opt-in: the
// engine only consults it when strict parameter validation is enabled.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validate checks params against the JSON-Schema-shaped document. A nil or
// empty schema accepts everything. The params value is round-tripped through
// JSON so Go-native values (ints, structs) normalize to the forms the schema
// library expects.
func Validate(params map[string]any, schemaDoc map[string]any) error {
	if len(schemaDoc) == 0 {
		return nil
	}

	compiled, err := compile(schemaDoc)
	if err != nil {
		return err
	}

	normalized, err := normalize(params)
	if err != nil {
		return err
	}
	if err := compiled.Validate(normalized); err != nil {
		return fmt.Errorf("parameters do not match schema: %w", err)
	}
	return nil
}

// compile turns a schema document into a compiled schema.
func compile(schemaDoc map[string]any) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

// normalize round-trips a value through JSON so numbers and nested structures
// take the generic forms the validator expects.
func normalize(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal parameters: %w", err)
	}
	decoded, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode parameters: %w", err)
	}
	return decoded, nil
}
