package workflow

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Parse decodes a YAML definition document in strict mode: unknown keys at
// any level of the document are rejected. Parsing performs no graph checks;
// callers validate the result with Validate or ValidateWithRegistry.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return nil, fmt.Errorf("parse workflow definition: %w", err)
	}
	return &def, nil
}

// Marshal encodes the definition back to YAML. Parse and Marshal round-trip:
// semantic content is preserved, field order follows the struct declaration.
func (d *Definition) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return nil, fmt.Errorf("marshal workflow definition: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("marshal workflow definition: %w", err)
	}
	return buf.Bytes(), nil
}
