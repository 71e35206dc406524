package stoker

import (
	"time"
)

// Operation represents the CRUD operations the engine authorizes.
type Operation string

const (
	OperationRead   Operation = "read"
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Record is a document payload as stored in or read from the document store.
type Record map[string]any

// DeleteSentinel marks a field for removal in an update payload. The pipeline
// strips sentinels before merge evaluation and translates them into store-level
// field deletes.
const DeleteSentinel = "__stoker_delete__"

// System field names stamped server-side by the write pipeline. Hooks may not
// alter these.
const (
	FieldCollectionPath = "Collection_Path"
	FieldCreatedAt      = "Created_At"
	FieldCreatedBy      = "Created_By"
	FieldSavedAt        = "Saved_At"
	FieldLastWriteAt    = "Last_Write_At"
	FieldLastWriteBy    = "Last_Write_By"
	FieldLastSaveAt     = "Last_Save_At"
)

// SystemFields lists every server-stamped field name.
var SystemFields = []string{
	FieldCollectionPath,
	FieldCreatedAt,
	FieldCreatedBy,
	FieldSavedAt,
	FieldLastWriteAt,
	FieldLastWriteBy,
	FieldLastSaveAt,
}

// AuthIdentityFields are the fields of an auth collection that double as the
// login principal's identity. Updating them requires explicit auth permission
// on the collection, independent of any field-level rule.
var AuthIdentityFields = []string{"Enabled", "Role", "Name", "Email", "Photo_URL"}

// FieldType enumerates scalar and relation field kinds.
type FieldType string

const (
	FieldTypeString    FieldType = "String"
	FieldTypeNumber    FieldType = "Number"
	FieldTypeBoolean   FieldType = "Boolean"
	FieldTypeTimestamp FieldType = "Timestamp"
	FieldTypeArray     FieldType = "Array"

	FieldTypeOneToOne   FieldType = "OneToOne"
	FieldTypeOneToMany  FieldType = "OneToMany"
	FieldTypeManyToOne  FieldType = "ManyToOne"
	FieldTypeManyToMany FieldType = "ManyToMany"
)

// DependencyField declares that a field of the related collection must be
// mirrored, for the listed roles, into a shadow subcollection keyed by the
// consumers of the relation.
type DependencyField struct {
	Field string   `json:"field"`
	Roles []string `json:"roles"`
}

// RoleRestriction is a bool-or-role-list restriction on supplying a field
// value. All=true locks the field for every caller, including system writes.
type RoleRestriction struct {
	All   bool     `json:"all,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// Allows reports whether the restriction permits the given role.
func (r *RoleRestriction) Allows(role string) bool {
	if r == nil {
		return true
	}
	if r.All {
		return false
	}
	for _, allowed := range r.Roles {
		if allowed == role {
			return true
		}
	}
	return false
}

// FieldSchema describes one field of a collection. Exactly one of the scalar
// or relation shapes applies, governed by Type.
type FieldSchema struct {
	Name  string    `json:"name"`
	Label string    `json:"label,omitempty"`
	Type  FieldType `json:"type"`

	// Scalar constraints.
	Required  bool     `json:"required,omitempty"`
	Unique    bool     `json:"unique,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
	MaxLength int      `json:"maxLength,omitempty"`
	Values    []string `json:"values,omitempty"`

	// Query/sort participation drives lowercase and _Single projections.
	Sorting bool `json:"sorting,omitempty"`
	Query   bool `json:"query,omitempty"`

	// Relation shape.
	Target           string            `json:"target,omitempty"`
	IncludeFields    []string          `json:"includeFields,omitempty"`
	DependencyFields []DependencyField `json:"dependencyFields,omitempty"`

	// Field-level access rules.
	Access         []string         `json:"access,omitempty"`
	RestrictCreate *RoleRestriction `json:"restrictCreate,omitempty"`
	RestrictUpdate *RoleRestriction `json:"restrictUpdate,omitempty"`
}

// AttributeRestrictionType narrows visibility by a relationship between the
// record and the caller.
type AttributeRestrictionType string

const (
	RestrictionRecordOwner    AttributeRestrictionType = "Record_Owner"
	RestrictionRecordUser     AttributeRestrictionType = "Record_User"
	RestrictionRecordProperty AttributeRestrictionType = "Record_Property"
)

// AttributeRestriction scopes an operation to records the caller owns, is
// referenced by, or that match a property value.
type AttributeRestriction struct {
	Type            AttributeRestrictionType `json:"type"`
	Roles           []string                 `json:"roles"`
	Assignable      []string                 `json:"assignable,omitempty"`
	CollectionField string                   `json:"collectionField,omitempty"`
	PropertyField   string                   `json:"propertyField,omitempty"`
	PropertyValue   any                      `json:"propertyValue,omitempty"`
}

// EntityRestrictionType narrows visibility by identity or ancestry.
type EntityRestrictionType string

const (
	RestrictionIndividual     EntityRestrictionType = "Individual"
	RestrictionParent         EntityRestrictionType = "Parent"
	RestrictionParentProperty EntityRestrictionType = "Parent_Property"
)

// EntityRestriction limits access to a specific record or to records under a
// restricted parent.
type EntityRestriction struct {
	Type            EntityRestrictionType `json:"type"`
	Roles           []string              `json:"roles"`
	CollectionField string                `json:"collectionField,omitempty"`
	PropertyField   string                `json:"propertyField,omitempty"`
	SingleQuery     bool                  `json:"singleQuery,omitempty"`
}

// ParentFilter scopes an entity restriction on this collection through a
// restriction declared on a related parent collection. Resolution fails closed
// when the parent declares no matching restriction.
type ParentFilter struct {
	Collection string                `json:"collection"`
	Type       EntityRestrictionType `json:"type"`
	Field      string                `json:"field"`
}

// EntityRestrictions is the entity-restriction block of a collection.
type EntityRestrictions struct {
	Assignable    []string            `json:"assignable,omitempty"`
	Restrictions  []EntityRestriction `json:"restrictions,omitempty"`
	ParentFilters []ParentFilter      `json:"parentFilters,omitempty"`
}

// AccessBlock is the per-collection access rule block.
type AccessBlock struct {
	// Operations maps each operation to its role allow-list.
	Operations map[Operation][]string `json:"operations"`
	// Assignable roles may be granted any operation through an explicit
	// permission record instead of the static allow-list.
	Assignable []string `json:"assignable,omitempty"`
	// Auth lists roles allowed to act as the collection's login principal.
	Auth []string `json:"auth,omitempty"`
	// ServerReadOnly/ServerWriteOnly roles are limited to server-issued
	// reads/writes.
	ServerReadOnly  []string `json:"serverReadOnly,omitempty"`
	ServerWriteOnly []string `json:"serverWriteOnly,omitempty"`

	AttributeRestrictions []AttributeRestriction `json:"attributeRestrictions,omitempty"`
	EntityRestrictions    *EntityRestrictions    `json:"entityRestrictions,omitempty"`
}

// SoftDeleteConfig enables archive-instead-of-remove semantics for a
// collection.
type SoftDeleteConfig struct {
	ArchivedField  string `json:"archivedField"`
	TimestampField string `json:"timestampField"`
	RetentionDays  int    `json:"retentionDays,omitempty"`
}

// CollectionSchema describes one collection: identity, hierarchy, access
// rules, and its ordered field list.
type CollectionSchema struct {
	Name       string            `json:"name"`
	Label      string            `json:"label,omitempty"`
	Parent     string            `json:"parent,omitempty"`
	Singleton  bool              `json:"singleton,omitempty"`
	Auth       bool              `json:"auth,omitempty"`
	TitleField string            `json:"titleField,omitempty"`
	SoftDelete *SoftDeleteConfig `json:"softDelete,omitempty"`
	Access     AccessBlock       `json:"access"`
	Fields     []FieldSchema     `json:"fields"`
}

// Field returns the named field schema, or nil if the collection does not
// declare it.
func (c *CollectionSchema) Field(name string) *FieldSchema {
	for i := range c.Fields {
		if c.Fields[i].Name == name {
			return &c.Fields[i]
		}
	}
	return nil
}

// CollectionsSchema is the fully resolved schema consumed by the engine. It is
// produced by an external schema provider, versioned, and immutable at a given
// version.
type CollectionsSchema struct {
	Version     int                          `json:"version"`
	Collections map[string]*CollectionSchema `json:"collections"`
	Config      *SchemaGlobalConfig          `json:"config,omitempty"`
}

// SchemaGlobalConfig carries schema-wide settings that are not per-collection.
type SchemaGlobalConfig struct {
	WriteLogTTLDays int    `json:"writeLogTTLDays,omitempty"`
	Timezone        string `json:"timezone,omitempty"`
}

// Collection returns the named collection schema, or nil.
func (s *CollectionsSchema) Collection(name string) *CollectionSchema {
	if s == nil {
		return nil
	}
	return s.Collections[name]
}

// CollectionPermissions is the caller's cached grant state for one collection.
type CollectionPermissions struct {
	Auth                 bool        `json:"auth,omitempty"`
	Operations           []Operation `json:"operations,omitempty"`
	RecordOwnerActive    bool        `json:"recordOwnerActive,omitempty"`
	RecordUserActive     bool        `json:"recordUserActive,omitempty"`
	RecordPropertyActive bool        `json:"recordPropertyActive,omitempty"`
	RestrictEntities     bool        `json:"restrictEntities,omitempty"`
}

// Grants reports whether the snapshot explicitly grants the operation.
func (p *CollectionPermissions) Grants(op Operation) bool {
	if p == nil {
		return false
	}
	for _, granted := range p.Operations {
		if granted == op {
			return true
		}
	}
	return false
}

// StokerPermissions is the per-user, per-tenant permission snapshot. It is
// written by an external permission-management process and read-only here. The
// collections map is keyed by collection name validated against the schema,
// never by arbitrary caller-supplied strings.
type StokerPermissions struct {
	Role        string                           `json:"role"`
	Collections map[string]CollectionPermissions `json:"collections"`
}

// Collection returns the snapshot for the named collection, or nil when the
// user holds no explicit grant there.
func (p *StokerPermissions) Collection(name string) *CollectionPermissions {
	if p == nil {
		return nil
	}
	if cp, ok := p.Collections[name]; ok {
		return &cp
	}
	return nil
}

// Identity describes the caller of an operation. An empty CurrentUserID marks
// a trusted system-initiated write.
type Identity struct {
	Tenant        string `json:"tenant"`
	CurrentUserID string `json:"currentUserId,omitempty"`
	Role          string `json:"role,omitempty"`
}

// IsSystem reports whether the operation is server-initiated (no acting user).
func (id Identity) IsSystem() bool {
	return id.CurrentUserID == ""
}

// WriteStatus tracks a write's lifecycle in the audit log.
type WriteStatus string

const (
	WriteStatusStarted WriteStatus = "started"
	WriteStatusWritten WriteStatus = "written"
	WriteStatusSuccess WriteStatus = "success"
	WriteStatusFailed  WriteStatus = "failed"
)

// WriteLogData holds the payload snapshots of one audit entry.
type WriteLogData struct {
	Data           Record `json:"data,omitempty"`
	OriginalRecord Record `json:"originalRecord,omitempty"`
	Error          string `json:"error,omitempty"`
}

// WriteLogEntry is one append-only audit record per write attempt, keyed by
// {writerId}-{writeTimestamp}.
type WriteLogEntry struct {
	Operation      Operation    `json:"operation"`
	Collection     string       `json:"collection"`
	DocID          string       `json:"docId"`
	User           string       `json:"user,omitempty"`
	Status         WriteStatus  `json:"status"`
	CollectionPath []string     `json:"collectionPath"`
	StartedAt      time.Time    `json:"startedAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
	Data           WriteLogData `json:"data"`
	ExpiresAt      *time.Time   `json:"expiresAt,omitempty"`
}

// RetryPolicy bounds optimistic-transaction retries for shadow and
// unique-index maintenance.
type RetryPolicy struct {
	MaxAttempts int           `json:"maxAttempts"`
	Backoff     time.Duration `json:"backoff"`
}

// StripDeleteSentinels returns a copy of the record with delete-sentinel
// fields removed. The second return lists the stripped field names.
func StripDeleteSentinels(record Record) (Record, []string) {
	if record == nil {
		return nil, nil
	}
	out := make(Record, len(record))
	var stripped []string
	for k, v := range record {
		if s, ok := v.(string); ok && s == DeleteSentinel {
			stripped = append(stripped, k)
			continue
		}
		out[k] = v
	}
	return out, stripped
}

// MergeRecords produces the merged view {...original, ...partial} used for
// update-time access and validation checks. Delete sentinels in the partial
// remove the field from the merged view.
func MergeRecords(original, partial Record) Record {
	merged := make(Record, len(original)+len(partial))
	for k, v := range original {
		merged[k] = v
	}
	for k, v := range partial {
		if s, ok := v.(string); ok && s == DeleteSentinel {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	return merged
}

// ContainsRole reports whether the role appears in the list.
func ContainsRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
