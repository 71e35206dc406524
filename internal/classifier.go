package internal

import (
	"sort"
	"strings"

	"github.com/stokerhq/stoker"
)

// IsRelationField reports whether the field stores references to another
// collection rather than a scalar value.
func IsRelationField(field *stoker.FieldSchema) bool {
	if field == nil {
		return false
	}
	switch field.Type {
	case stoker.FieldTypeOneToOne, stoker.FieldTypeOneToMany,
		stoker.FieldTypeManyToOne, stoker.FieldTypeManyToMany:
		return true
	}
	return false
}

// IsSingleRelation reports whether the stored value is a single reference
// object. Multi relations store a keyed map of references.
func IsSingleRelation(field *stoker.FieldSchema) bool {
	if field == nil {
		return false
	}
	return field.Type == stoker.FieldTypeOneToOne || field.Type == stoker.FieldTypeManyToOne
}

// DependencyConsumer identifies a relation field on another collection that
// declared a dependency on one of this collection's fields.
type DependencyConsumer struct {
	Collection string
	Relation   string
	Roles      []string
}

// DependencyIndex is the reverse index of dependency declarations: for each
// collection, the set of its fields whose values must be mirrored into shadow
// subcollections, with the consumers that declared them.
type DependencyIndex map[string]map[string][]DependencyConsumer

// BuildDependencyIndex scans every relation field in the schema and inverts
// its dependencyFields declarations onto the target collection.
func BuildDependencyIndex(schema *stoker.CollectionsSchema) DependencyIndex {
	idx := make(DependencyIndex)
	if schema == nil {
		return idx
	}
	for _, collection := range schema.Collections {
		for i := range collection.Fields {
			field := &collection.Fields[i]
			if !IsRelationField(field) || field.Target == "" {
				continue
			}
			for _, dep := range field.DependencyFields {
				byField := idx[field.Target]
				if byField == nil {
					byField = make(map[string][]DependencyConsumer)
					idx[field.Target] = byField
				}
				byField[dep.Field] = append(byField[dep.Field], DependencyConsumer{
					Collection: collection.Name,
					Relation:   field.Name,
					Roles:      dep.Roles,
				})
			}
		}
	}
	return idx
}

// IsDependencyField reports whether any relation field elsewhere in the schema
// declares a dependency on this collection's field.
func (idx DependencyIndex) IsDependencyField(collection, field string) bool {
	byField, ok := idx[collection]
	if !ok {
		return false
	}
	_, ok = byField[field]
	return ok
}

// DependencyFields returns the sorted dependency field names of a collection.
func (idx DependencyIndex) DependencyFields(collection string) []string {
	byField, ok := idx[collection]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(byField))
	for name := range byField {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// readRoles returns the set of roles with read visibility on the collection:
// the read allow-list plus assignable roles, which may be granted read through
// an explicit permission record.
func readRoles(c *stoker.CollectionSchema) []string {
	seen := make(map[string]struct{})
	var roles []string
	add := func(rs []string) {
		for _, r := range rs {
			if _, ok := seen[r]; ok {
				continue
			}
			seen[r] = struct{}{}
			roles = append(roles, r)
		}
	}
	add(c.Access.Operations[stoker.OperationRead])
	add(c.Access.Assignable)
	sort.Strings(roles)
	return roles
}

// fieldReadRoles returns the roles that can read one field: the collection's
// read roles, narrowed by the field's own access list when present.
func fieldReadRoles(c *stoker.CollectionSchema, field *stoker.FieldSchema) []string {
	base := readRoles(c)
	if len(field.Access) == 0 {
		return base
	}
	var narrowed []string
	for _, role := range base {
		if stoker.ContainsRole(field.Access, role) {
			narrowed = append(narrowed, role)
		}
	}
	return narrowed
}

// IsLowercaseEligible reports whether the field gets a lowercase shadow value.
// Lowercase values exist purely to support case-insensitive range queries the
// store cannot run natively; only the record title field and server-readable
// String sorting fields qualify.
func IsLowercaseEligible(c *stoker.CollectionSchema, field *stoker.FieldSchema) bool {
	if field == nil || field.Type != stoker.FieldTypeString {
		return false
	}
	if c.TitleField != "" && field.Name == c.TitleField {
		return true
	}
	if !field.Sorting {
		return false
	}
	return len(fieldReadRoles(c, field)) > 0
}

// IsSingleProjectionEligible reports whether a relation field gets a flattened
// _Single projection beside its keyed _Array projection. The store can filter
// and sort on scalar-shaped shadow fields but not on map keys, so only fields
// referenced by an explicit query or marked sorting are flattened.
func IsSingleProjectionEligible(field *stoker.FieldSchema) bool {
	if field == nil {
		return false
	}
	if field.Type != stoker.FieldTypeOneToOne && field.Type != stoker.FieldTypeOneToMany {
		return false
	}
	return field.Query || field.Sorting
}

// RoleGroup is a computed partition of a collection's fields: every field in
// the group is readable by exactly the same set of roles. One shadow
// subcollection exists per group.
type RoleGroup struct {
	Key    string
	Roles  []string
	Fields []string
}

// roleGroupKey derives a deterministic subcollection key from the sorted
// member roles. Whitespace is collapsed so keys stay valid store identifiers.
func roleGroupKey(roles []string) string {
	parts := make([]string, len(roles))
	for i, role := range roles {
		parts[i] = strings.Join(strings.Fields(role), "_")
	}
	return strings.Join(parts, ".")
}

// ComputeRoleGroups partitions the collection's non-system fields by identical
// role read visibility. Groups and their member fields come back in
// deterministic order. Fields visible to no role are excluded; they have no
// shadow consumers.
func ComputeRoleGroups(c *stoker.CollectionSchema) []RoleGroup {
	byKey := make(map[string]*RoleGroup)
	var order []string

	for i := range c.Fields {
		field := &c.Fields[i]
		roles := fieldReadRoles(c, field)
		if len(roles) == 0 {
			continue
		}
		key := roleGroupKey(roles)
		group, ok := byKey[key]
		if !ok {
			group = &RoleGroup{Key: key, Roles: roles}
			byKey[key] = group
			order = append(order, key)
		}
		group.Fields = append(group.Fields, field.Name)
	}

	sort.Strings(order)
	groups := make([]RoleGroup, 0, len(order))
	for _, key := range order {
		groups = append(groups, *byKey[key])
	}
	return groups
}

// GroupsForField returns the role groups a field belongs to.
func GroupsForField(groups []RoleGroup, field string) []RoleGroup {
	var out []RoleGroup
	for _, g := range groups {
		for _, f := range g.Fields {
			if f == field {
				out = append(out, g)
				break
			}
		}
	}
	return out
}
