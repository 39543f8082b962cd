package schema

import (
	"encoding/json"
	"fmt"
)

const jsonSchemaDraft = "http://json-schema.org/draft-07/schema#"

// JSONSchemaGenerator renders rules as JSON Schema documents so producers
// can check their payloads before calling the gateway.
type JSONSchemaGenerator struct {
	registry *Registry
}

// NewJSONSchemaGenerator creates a new JSON schema generator
func NewJSONSchemaGenerator(registry *Registry) *JSONSchemaGenerator {
	return &JSONSchemaGenerator{registry: registry}
}

// GenerateForOperation generates the schema of one operation's message
func (g *JSONSchemaGenerator) GenerateForOperation(operationID string) (json.RawMessage, error) {
	rule, ok := g.registry.Rule(operationID)
	if !ok {
		return nil, fmt.Errorf("schema not found for operation id: %s", operationID)
	}

	schema := objectSchema(rule.Checks)
	schema["$schema"] = jsonSchemaDraft
	schema["title"] = rule.OperationID
	schema["description"] = fmt.Sprintf("Message of operation %s", rule.OperationID)

	return json.Marshal(schema)
}

// GenerateAll generates one schema per registered operation, keyed by id
func (g *JSONSchemaGenerator) GenerateAll() (map[string]json.RawMessage, error) {
	out := make(map[string]json.RawMessage, g.registry.Len())
	for _, id := range g.registry.OperationIDs() {
		schema, err := g.GenerateForOperation(id)
		if err != nil {
			return nil, err
		}
		out[id] = schema
	}
	return out, nil
}

// objectSchema folds the checks of a rule into an object schema. A field
// constrained by several checks gets an allOf of their fragments.
func objectSchema(checks []Check) map[string]interface{} {
	fragments := make(map[string][]map[string]interface{})
	var order []string
	required := make([]string, 0)
	isRequired := make(map[string]bool)

	for _, check := range checks {
		for _, field := range check.Fields {
			if _, seen := fragments[field]; !seen {
				order = append(order, field)
			}
			fragments[field] = append(fragments[field], constraintSchema(check.Constraint))

			switch check.Constraint.(type) {
			case present, defined, nonEmptyArray, each:
				if !isRequired[field] {
					isRequired[field] = true
					required = append(required, field)
				}
			}
		}
	}

	properties := make(map[string]interface{}, len(order))
	for _, field := range order {
		frags := fragments[field]
		if len(frags) == 1 {
			properties[field] = frags[0]
			continue
		}
		properties[field] = map[string]interface{}{"allOf": frags}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func constraintSchema(c Constraint) map[string]interface{} {
	switch c := c.(type) {
	case present:
		return map[string]interface{}{
			"not": map[string]interface{}{"enum": []interface{}{nil, "", []interface{}{}}},
		}
	case defined:
		return map[string]interface{}{}
	case arrayIfSet:
		return map[string]interface{}{
			"anyOf": []interface{}{
				map[string]interface{}{"type": "array"},
				map[string]interface{}{"enum": []interface{}{nil, ""}},
			},
		}
	case nonEmptyArray:
		return map[string]interface{}{"type": "array", "minItems": 1}
	case oneOf:
		return map[string]interface{}{"type": "string", "enum": c.values}
	case intRange:
		types := []string{"integer"}
		if c.nullable {
			types = append(types, "null")
		}
		return map[string]interface{}{"type": types, "minimum": c.min, "maximum": c.max}
	case each:
		return map[string]interface{}{
			"type":     "array",
			"minItems": 1,
			"items":    objectSchema(c.checks),
		}
	default:
		return map[string]interface{}{
			"description": fmt.Sprintf("Custom constraint: %s", c.Name()),
		}
	}
}
