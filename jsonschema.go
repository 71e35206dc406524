package stoker

import (
	"fmt"
)

// CollectionJSONSchema renders a collection schema as a JSON Schema document
// (draft 2020-12 shaped map). Relation fields become reference objects or
// keyed reference maps according to their cardinality; scalar constraints map
// onto the standard keywords. The result is consumed by the validator and by
// admin tooling.
func CollectionJSONSchema(c *CollectionSchema) (map[string]any, error) {
	if c == nil {
		return nil, fmt.Errorf("collection schema cannot be nil")
	}

	properties := make(map[string]any, len(c.Fields))
	var required []string

	for i := range c.Fields {
		field := &c.Fields[i]
		prop, err := fieldJSONSchema(field)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", field.Name, err)
		}
		properties[field.Name] = prop
		if field.Required {
			required = append(required, field.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"title":      c.Name,
		"properties": properties,
	}
	if c.Label != "" {
		schema["description"] = c.Label
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema, nil
}

// referenceObjectSchema is the shape of a single stored reference.
func referenceObjectSchema(target string) map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"ID":    map[string]any{"type": "string"},
			"Title": map[string]any{"type": "string"},
		},
		"required":     []string{"ID"},
		"x-ref-target": target,
	}
}

func fieldJSONSchema(field *FieldSchema) (map[string]any, error) {
	switch field.Type {
	case FieldTypeString:
		prop := map[string]any{"type": "string"}
		if field.Pattern != "" {
			prop["pattern"] = field.Pattern
		}
		if field.MaxLength > 0 {
			prop["maxLength"] = field.MaxLength
		}
		if len(field.Values) > 0 {
			enum := make([]any, len(field.Values))
			for i, v := range field.Values {
				enum[i] = v
			}
			prop["enum"] = enum
		}
		return prop, nil
	case FieldTypeNumber:
		return map[string]any{"type": "number"}, nil
	case FieldTypeBoolean:
		return map[string]any{"type": "boolean"}, nil
	case FieldTypeTimestamp:
		return map[string]any{"type": "string", "format": "date-time"}, nil
	case FieldTypeArray:
		prop := map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		}
		return prop, nil
	case FieldTypeOneToOne, FieldTypeManyToOne:
		// Single reference object.
		return referenceObjectSchema(field.Target), nil
	case FieldTypeOneToMany, FieldTypeManyToMany:
		// Keyed map of reference objects, keyed by the related doc ID.
		return map[string]any{
			"type":                 "object",
			"additionalProperties": referenceObjectSchema(field.Target),
			"x-ref-target":         field.Target,
		}, nil
	}
	return nil, fmt.Errorf("unknown field type %q", field.Type)
}
