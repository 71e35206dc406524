package internal

import (
	"fmt"
	"sync"

	"github.com/stokerhq/stoker"
)

// schemaCache centralizes derived schema metadata (dependency index, role
// groups, JSON Schema renderings) so the engine's components share one
// memoized view. It is owned by the engine instance, not process-global, and
// Clear gives tests and schema reloads deterministic invalidation.
type schemaCache struct {
	schema *stoker.CollectionsSchema

	mu         sync.RWMutex
	depIndex   DependencyIndex
	roleGroups map[string][]RoleGroup
	jsonSchema map[string]map[string]any
}

func newSchemaCache(schema *stoker.CollectionsSchema) *schemaCache {
	return &schemaCache{
		schema:     schema,
		roleGroups: make(map[string][]RoleGroup),
		jsonSchema: make(map[string]map[string]any),
	}
}

// Clear drops every memoized value.
func (c *schemaCache) Clear() {
	c.mu.Lock()
	c.depIndex = nil
	c.roleGroups = make(map[string][]RoleGroup)
	c.jsonSchema = make(map[string]map[string]any)
	c.mu.Unlock()
}

func (c *schemaCache) dependencyIndex() DependencyIndex {
	c.mu.RLock()
	idx := c.depIndex
	c.mu.RUnlock()
	if idx != nil {
		return idx
	}

	built := BuildDependencyIndex(c.schema)

	c.mu.Lock()
	if c.depIndex == nil {
		c.depIndex = built
	}
	idx = c.depIndex
	c.mu.Unlock()
	return idx
}

func (c *schemaCache) groupsFor(collection *stoker.CollectionSchema) []RoleGroup {
	c.mu.RLock()
	groups, ok := c.roleGroups[collection.Name]
	c.mu.RUnlock()
	if ok {
		return groups
	}

	computed := ComputeRoleGroups(collection)

	c.mu.Lock()
	if existing, ok := c.roleGroups[collection.Name]; ok {
		computed = existing
	} else {
		c.roleGroups[collection.Name] = computed
	}
	c.mu.Unlock()
	return computed
}

func (c *schemaCache) jsonSchemaFor(collection *stoker.CollectionSchema) (map[string]any, error) {
	c.mu.RLock()
	js, ok := c.jsonSchema[collection.Name]
	c.mu.RUnlock()
	if ok {
		return js, nil
	}

	rendered, err := stoker.CollectionJSONSchema(collection)
	if err != nil {
		return nil, fmt.Errorf("render JSON schema for %s: %w", collection.Name, err)
	}

	c.mu.Lock()
	if existing, ok := c.jsonSchema[collection.Name]; ok {
		rendered = existing
	} else {
		c.jsonSchema[collection.Name] = rendered
	}
	c.mu.Unlock()
	return rendered, nil
}
