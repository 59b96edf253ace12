package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ValidateArgs checks argsJSON (the LLM-supplied tool call arguments, as
// the raw JSON object text the provider sent) against a tool's JSON Schema
// parameters, per spec §4.E's "execute() validates args against the tool's
// parameters schema before invocation."
func ValidateArgs(schema map[string]interface{}, argsJSON string) error {
	if strings.TrimSpace(argsJSON) == "" {
		argsJSON = "{}"
	}

	schemaLoader := gojsonschema.NewGoLoader(schema)
	docLoader := gojsonschema.NewStringLoader(argsJSON)

	result, err := gojsonschema.Validate(schemaLoader, docLoader)
	if err != nil {
		return fmt.Errorf("arguments are not valid JSON: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("argument validation failed: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// DecodeArgs unmarshals argsJSON into a map for tools that want map access
// rather than a typed struct, after ValidateArgs has already confirmed the
// shape matches the schema.
func DecodeArgs(argsJSON string) (map[string]interface{}, error) {
	if strings.TrimSpace(argsJSON) == "" {
		return map[string]interface{}{}, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(argsJSON), &m); err != nil {
		return nil, fmt.Errorf("decoding arguments: %w", err)
	}
	return m, nil
}
