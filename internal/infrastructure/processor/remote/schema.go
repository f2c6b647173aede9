package remote

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var ErrSchemaViolation = errors.New("response does not match schema")

const extractResponseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["text", "confidence"],
  "properties": {
    "text": {"type": "string"},
    "confidence": {"type": "number", "minimum": 0, "maximum": 100},
    "document_type": {"type": "string", "maxLength": 64}
  }
}`

type responseValidator struct {
	schema *jsonschema.Schema
}

func newResponseValidator() (*responseValidator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("extract_response.json", strings.NewReader(extractResponseSchema)); err != nil {
		return nil, fmt.Errorf("add extract response schema: %w", err)
	}
	schema, err := compiler.Compile("extract_response.json")
	if err != nil {
		return nil, fmt.Errorf("compile extract response schema: %w", err)
	}
	return &responseValidator{schema: schema}, nil
}

func (v *responseValidator) validate(raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("%w: %w", ErrSchemaViolation, err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %w", ErrSchemaViolation, err)
	}
	return nil
}
