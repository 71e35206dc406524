package internal

import (
	"context"
	"fmt"

	"github.com/stokerhq/stoker"
)

// recordLoader fetches a record of a top-level collection by ID. The resolver
// uses it to follow parent references during entity-restriction checks.
type recordLoader func(ctx context.Context, tenant, collection, docID string) (stoker.Record, error)

// Resolver expands a role's attribute and entity restrictions into concrete
// authorization and query constraints.
type Resolver struct {
	schema *stoker.CollectionsSchema
	load   recordLoader
}

// NewResolver creates a restriction resolver. load may be nil when parent
// lookups are not needed (pure query-constraint expansion).
func NewResolver(schema *stoker.CollectionsSchema, load recordLoader) *Resolver {
	return &Resolver{schema: schema, load: load}
}

// restrictionActive implements the assignable/active rule shared by attribute
// and entity restrictions: the restriction applies when the role is listed AND
// it is either baked into the role (not assignable to it) or the caller's
// snapshot has the matching flag switched on.
func restrictionActive(roles, assignable []string, role string, flagActive bool) bool {
	if !stoker.ContainsRole(roles, role) {
		return false
	}
	if stoker.ContainsRole(assignable, role) {
		return flagActive
	}
	return true
}

func attributeFlag(perms *stoker.CollectionPermissions, t stoker.AttributeRestrictionType) bool {
	if perms == nil {
		return false
	}
	switch t {
	case stoker.RestrictionRecordOwner:
		return perms.RecordOwnerActive
	case stoker.RestrictionRecordUser:
		return perms.RecordUserActive
	case stoker.RestrictionRecordProperty:
		return perms.RecordPropertyActive
	}
	return false
}

// ActiveAttributeRestrictions returns the attribute restrictions in force for
// the role given the caller's snapshot.
func (r *Resolver) ActiveAttributeRestrictions(collection *stoker.CollectionSchema, role string, perms *stoker.CollectionPermissions) []stoker.AttributeRestriction {
	var active []stoker.AttributeRestriction
	for _, rest := range collection.Access.AttributeRestrictions {
		if restrictionActive(rest.Roles, rest.Assignable, role, attributeFlag(perms, rest.Type)) {
			active = append(active, rest)
		}
	}
	return active
}

// ResolvedEntityRestriction is an entity restriction ready for evaluation.
// Restrictions resolved through a parent filter carry the child relation field
// to follow and the parent collection to evaluate against.
type ResolvedEntityRestriction struct {
	stoker.EntityRestriction
	ViaField         string
	ParentCollection string
}

// ActiveEntityRestrictions returns the entity restrictions in force for the
// role, with parent filters resolved against the parent collection's own
// declarations. A parent filter whose parent declares no restriction of the
// filter's type fails closed with PermissionDenied.
func (r *Resolver) ActiveEntityRestrictions(collection *stoker.CollectionSchema, role string, perms *stoker.CollectionPermissions) ([]ResolvedEntityRestriction, error) {
	block := collection.Access.EntityRestrictions
	if block == nil {
		return nil, nil
	}

	flag := perms != nil && perms.RestrictEntities
	var active []ResolvedEntityRestriction
	for _, rest := range block.Restrictions {
		if restrictionActive(rest.Roles, block.Assignable, role, flag) {
			active = append(active, ResolvedEntityRestriction{EntityRestriction: rest})
		}
	}

	for _, filter := range block.ParentFilters {
		parent := r.schema.Collection(filter.Collection)
		if parent == nil {
			return nil, stoker.NewPermissionDeniedError(collection.Name,
				fmt.Sprintf("parent filter references unknown collection %q", filter.Collection))
		}
		matched, err := r.matchParentRestriction(parent, filter.Type, role)
		if err != nil {
			return nil, err
		}
		if matched == nil {
			// The parent declares the restriction type but does not restrict
			// this role.
			continue
		}
		if restrictionActive(matched.Roles, parentAssignable(parent), role, flag) {
			via := filter.Field
			if via == "" {
				via = relationFieldFor(collection, filter.Collection)
			}
			active = append(active, ResolvedEntityRestriction{
				EntityRestriction: *matched,
				ViaField:          via,
				ParentCollection:  parent.Name,
			})
		}
	}

	return active, nil
}

// relationFieldFor finds the collection's relation field targeting the given
// collection, for parent filters that do not name one.
func relationFieldFor(c *stoker.CollectionSchema, target string) string {
	for i := range c.Fields {
		if IsRelationField(&c.Fields[i]) && c.Fields[i].Target == target {
			return c.Fields[i].Name
		}
	}
	return ""
}

func parentAssignable(parent *stoker.CollectionSchema) []string {
	if parent.Access.EntityRestrictions == nil {
		return nil
	}
	return parent.Access.EntityRestrictions.Assignable
}

// matchParentRestriction locates the parent collection's restriction matching
// the filter's type for the given role. A chain whose parent declares no
// restriction of the type at all fails closed rather than degrading to "no
// restriction"; a declared type that simply does not list the role returns
// nil, meaning the role is unrestricted.
func (r *Resolver) matchParentRestriction(parent *stoker.CollectionSchema, t stoker.EntityRestrictionType, role string) (*stoker.EntityRestriction, error) {
	block := parent.Access.EntityRestrictions
	declared := false
	if block != nil {
		for i := range block.Restrictions {
			rest := &block.Restrictions[i]
			if rest.Type != t {
				continue
			}
			declared = true
			if stoker.ContainsRole(rest.Roles, role) {
				return rest, nil
			}
		}
	}
	if declared {
		return nil, nil
	}
	return nil, stoker.NewPermissionDeniedError(parent.Name,
		fmt.Sprintf("no %s entity restriction declared on parent collection", t))
}

// RecordSatisfiesAttribute checks one attribute restriction against a record.
func (r *Resolver) RecordSatisfiesAttribute(rest stoker.AttributeRestriction, record stoker.Record, identity stoker.Identity) bool {
	if record == nil {
		// Nothing to inspect yet (e.g. create); the stamped record satisfies
		// ownership by construction.
		return rest.Type == stoker.RestrictionRecordOwner
	}
	switch rest.Type {
	case stoker.RestrictionRecordOwner:
		field := rest.CollectionField
		if field == "" {
			field = stoker.FieldCreatedBy
		}
		owner, _ := record[field].(string)
		return owner != "" && owner == identity.CurrentUserID
	case stoker.RestrictionRecordUser:
		return referencesUser(record[rest.CollectionField], identity.CurrentUserID)
	case stoker.RestrictionRecordProperty:
		return valuesEqual(record[rest.PropertyField], rest.PropertyValue)
	}
	return false
}

// RecordSatisfiesEntity checks one resolved entity restriction against a
// record. Restrictions resolved through a parent filter, and Parent-shaped
// restrictions generally, follow a relation reference and check the referenced
// record, so a loader must be configured for them.
func (r *Resolver) RecordSatisfiesEntity(ctx context.Context, rest ResolvedEntityRestriction, collection *stoker.CollectionSchema, docID string, record stoker.Record, identity stoker.Identity) (bool, error) {
	if rest.ViaField != "" {
		// Filtered through a parent: follow the relation and evaluate against
		// the parent record. A missing reference fails closed.
		if record == nil {
			return false, nil
		}
		ids := refIDs(record[rest.ViaField])
		if len(ids) == 0 {
			return false, nil
		}
		parent, err := r.loadParent(ctx, identity.Tenant, rest.ParentCollection, record[rest.ViaField])
		if err != nil {
			return false, err
		}
		if parent == nil {
			return false, nil
		}
		return r.satisfiesDirect(ctx, rest.EntityRestriction, r.schema.Collection(rest.ParentCollection), ids[0], parent, identity)
	}
	return r.satisfiesDirect(ctx, rest.EntityRestriction, collection, docID, record, identity)
}

func (r *Resolver) satisfiesDirect(ctx context.Context, rest stoker.EntityRestriction, collection *stoker.CollectionSchema, docID string, record stoker.Record, identity stoker.Identity) (bool, error) {
	switch rest.Type {
	case stoker.RestrictionIndividual:
		if docID != "" && docID == identity.CurrentUserID {
			return true, nil
		}
		if rest.CollectionField != "" && record != nil {
			return referencesUser(record[rest.CollectionField], identity.CurrentUserID), nil
		}
		return false, nil

	case stoker.RestrictionParent, stoker.RestrictionParentProperty:
		if record == nil || rest.CollectionField == "" {
			return false, nil
		}
		field := collection.Field(rest.CollectionField)
		if field == nil || !IsRelationField(field) {
			return false, nil
		}
		parent, err := r.loadParent(ctx, identity.Tenant, field.Target, record[rest.CollectionField])
		if err != nil {
			return false, err
		}
		if parent == nil {
			return false, nil
		}
		if rest.Type == stoker.RestrictionParentProperty {
			return referencesUser(parent[rest.PropertyField], identity.CurrentUserID), nil
		}
		owner, _ := parent[stoker.FieldCreatedBy].(string)
		if owner != "" && owner == identity.CurrentUserID {
			return true, nil
		}
		return referencesUser(parent[rest.PropertyField], identity.CurrentUserID), nil
	}
	return false, nil
}

func (r *Resolver) loadParent(ctx context.Context, tenant, collection string, relationValue any) (stoker.Record, error) {
	if r.load == nil {
		return nil, fmt.Errorf("parent restriction requires a record loader")
	}
	ids := refIDs(relationValue)
	if len(ids) == 0 {
		return nil, nil
	}
	parent, err := r.load(ctx, tenant, collection, ids[0])
	if err != nil {
		return nil, fmt.Errorf("load parent %s/%s: %w", collection, ids[0], err)
	}
	return parent, nil
}

// QueryConstraints expands the role's active restrictions into store filters
// for pre-filtered queries. Restrictions that cannot be expressed as a filter
// (parent chains) are enforced per-record at read time instead.
func (r *Resolver) QueryConstraints(collection *stoker.CollectionSchema, role string, perms *stoker.CollectionPermissions, identity stoker.Identity) []stoker.Where {
	var wheres []stoker.Where
	for _, rest := range r.ActiveAttributeRestrictions(collection, role, perms) {
		switch rest.Type {
		case stoker.RestrictionRecordOwner:
			field := rest.CollectionField
			if field == "" {
				field = stoker.FieldCreatedBy
			}
			wheres = append(wheres, stoker.Where{Field: field, Op: stoker.WhereEquals, Value: identity.CurrentUserID})
		case stoker.RestrictionRecordUser:
			wheres = append(wheres, stoker.Where{Field: rest.CollectionField, Op: stoker.WhereContains, Value: identity.CurrentUserID})
		case stoker.RestrictionRecordProperty:
			wheres = append(wheres, stoker.Where{Field: rest.PropertyField, Op: stoker.WhereEquals, Value: rest.PropertyValue})
		}
	}
	return wheres
}
