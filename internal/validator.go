package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/stokerhq/stoker"
)

// schemaValidator checks merged records against collection field constraints
// (required, pattern, enum, maxlength, type) by rendering the collection as a
// JSON Schema and validating through the resolved schema. Uniqueness is
// checked separately by the uniqueness maintainer before commit.
type schemaValidator struct {
	cache *schemaCache

	mu       sync.RWMutex
	resolved map[string]*jsonschema.Resolved
}

// NewValidator creates the default validator over the shared schema cache.
func NewValidator(cache *schemaCache) stoker.Validator {
	return &schemaValidator{
		cache:    cache,
		resolved: make(map[string]*jsonschema.Resolved),
	}
}

func (v *schemaValidator) resolvedFor(collection *stoker.CollectionSchema) (*jsonschema.Resolved, error) {
	v.mu.RLock()
	resolved, ok := v.resolved[collection.Name]
	v.mu.RUnlock()
	if ok {
		return resolved, nil
	}

	schemaMap, err := v.cache.jsonSchemaFor(collection)
	if err != nil {
		return nil, err
	}

	schemaBytes, err := json.Marshal(schemaMap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema for validation: %w", err)
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(schemaBytes, &schema); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into jsonschema.Schema: %w", err)
	}
	resolved, err = schema.Resolve(&jsonschema.ResolveOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve JSON schema: %w", err)
	}

	v.mu.Lock()
	if existing, ok := v.resolved[collection.Name]; ok {
		resolved = existing
	} else {
		v.resolved[collection.Name] = resolved
	}
	v.mu.Unlock()
	return resolved, nil
}

// Validate checks the merged record. Violations surface as
// VALIDATION_ERROR-tagged errors; infrastructure failures stay distinct.
func (v *schemaValidator) Validate(ctx context.Context, op stoker.Operation, merged stoker.Record, collection *stoker.CollectionSchema, schema *stoker.CollectionsSchema) error {
	if collection == nil {
		return stoker.NewCollectionNotFoundError("")
	}

	resolved, err := v.resolvedFor(collection)
	if err != nil {
		return stoker.NewInternalError("validator could not prepare schema", err)
	}

	// Validate only declared fields; system fields and unknown extras are the
	// pipeline's concern.
	subject := make(map[string]any, len(merged))
	for i := range collection.Fields {
		name := collection.Fields[i].Name
		if value, ok := merged[name]; ok {
			subject[name] = value
		}
	}
	// Required fields must be present in the merged view regardless of which
	// partial introduced them.
	if err := resolved.Validate(subject); err != nil {
		return stoker.NewValidationError("", err.Error()).WithCause(err)
	}

	// Relation integrity: referenced collection must exist in the schema.
	for i := range collection.Fields {
		field := &collection.Fields[i]
		if !IsRelationField(field) {
			continue
		}
		if _, ok := merged[field.Name]; !ok {
			continue
		}
		if schema.Collection(field.Target) == nil {
			return stoker.NewValidationError(field.Name,
				fmt.Sprintf("relation targets unknown collection %q", field.Target))
		}
	}
	return nil
}
