package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/dripline/dripline/pkg/schema"
)

// definitionSchemaJSON is the JSON Schema for the workflow definition document.
// Embedded as a constant to avoid filesystem dependencies. It checks document
// shape only; graph semantics are covered by the five validator passes.
const definitionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://dripline.dev/schemas/workflow-definition.json",
  "type": "object",
  "required": ["id", "org_id", "name", "nodes", "edges"],
  "properties": {
    "id": { "type": "string", "minLength": 1 },
    "org_id": { "type": "string", "minLength": 1 },
    "name": { "type": "string", "minLength": 1 },
    "industry": { "type": "string" },
    "is_active": { "type": "boolean" },
    "version": { "type": "integer", "minimum": 0 },
    "created_at": { "type": "string" },
    "updated_at": { "type": "string" },
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/node" }
    },
    "edges": {
      "type": "array",
      "items": { "$ref": "#/$defs/edge" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "type": {
          "type": "string",
          "enum": ["START", "END", "SMS_TEMPLATE", "SMS_AI", "DELAY", "CONDITION"]
        },
        "config": {},
        "position": {
          "type": "object",
          "properties": {
            "x": { "type": "number" },
            "y": { "type": "number" }
          },
          "additionalProperties": false
        }
      },
      "additionalProperties": false
    },
    "edge": {
      "type": "object",
      "required": ["id", "source", "target"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "source": { "type": "string", "minLength": 1 },
        "target": { "type": "string", "minLength": 1 },
        "label": { "type": "string", "enum": ["true", "false"] }
      },
      "additionalProperties": false
    }
  }
}`

var (
	compileOnce      sync.Once
	compiledSchema   *jsonschema.Schema
	compileSchemaErr error
)

func definitionSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(definitionSchemaJSON))
		if err != nil {
			compileSchemaErr = fmt.Errorf("unmarshal definition schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("workflow-definition.json", doc); err != nil {
			compileSchemaErr = fmt.Errorf("add definition schema: %w", err)
			return
		}
		compiledSchema, compileSchemaErr = c.Compile("workflow-definition.json")
	})
	return compiledSchema, compileSchemaErr
}

// validateDocument checks the serialized definition against the embedded JSON
// Schema. Violations are reported as SCHEMA_VIOLATION issues; the graph passes
// still run afterwards so that all errors surface in one result.
func validateDocument(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	compiled, err := definitionSchema()
	if err != nil {
		result.AddError(schema.VErrSchema, err.Error())
		return result
	}

	doc, err := toJSONValue(def)
	if err != nil {
		result.AddError(schema.VErrSchema, fmt.Sprintf("serialize definition: %s", err.Error()))
		return result
	}

	if err := compiled.Validate(doc); err != nil {
		verr, ok := err.(*jsonschema.ValidationError)
		if !ok {
			result.AddError(schema.VErrSchema, err.Error())
			return result
		}
		for _, violation := range collectViolations(verr) {
			result.AddError(schema.VErrSchema, violation)
		}
	}
	return result
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
