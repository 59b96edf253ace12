package tools

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// schemaFor reflects a Go struct into the plain JSON Schema object shape
// both ValidateArgs and a provider's tool-definition wire format expect
// (spec §4.E: "parameters: JSON Schema"). Called from a tool's
// Parameters(), so the reflection runs on every Parameters() call,
// including the one Registry.Execute makes to validate each call.
//
// Used by the two tools in this package whose arguments are simple enough
// for struct-tag reflection to read cleanly — web and write_memory. The
// filesystem/exec/skills/cron tools keep their hand-written schema
// literals, where conditional-required fields (e.g. cron's schedule_type
// branching) don't map cleanly onto one flat struct.
func schemaFor(v interface{}) map[string]interface{} {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(v)

	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]interface{}{"type": "object"}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]interface{}{"type": "object"}
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out
}
