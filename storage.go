package stoker

import (
	"context"
	"time"
)

// WhereOp defines supported query filter operations.
type WhereOp string

const (
	WhereEquals      WhereOp = "equals"
	WhereNotEquals   WhereOp = "not_equals"
	WhereGreaterThan WhereOp = "gt"
	WhereLessThan    WhereOp = "lt"
	WhereGreaterEq   WhereOp = "gte"
	WhereLessEq      WhereOp = "lte"
	WhereIn          WhereOp = "in"
	WhereContains    WhereOp = "contains"
)

// Where is a single query filter.
type Where struct {
	Field string  `json:"field"`
	Op    WhereOp `json:"op"`
	Value any     `json:"value"`
}

// DocPath addresses one document: the collection path holds alternating
// collection and document segments ending on a collection name, e.g.
// ["Buildings", "b1", "Units"], and ID names the document inside it.
type DocPath struct {
	Collection []string `json:"collection"`
	ID         string   `json:"id"`
}

// NewDocPath builds a document path.
func NewDocPath(collection []string, id string) DocPath {
	return DocPath{Collection: collection, ID: id}
}

// CollectionName returns the leaf collection name of the path.
func (p DocPath) CollectionName() string {
	if len(p.Collection) == 0 {
		return ""
	}
	return p.Collection[len(p.Collection)-1]
}

// Sibling returns the path of the same document inside a sibling collection,
// used for shadow subcollections named {collection}-{key}.
func (p DocPath) Sibling(collectionName string) DocPath {
	segments := make([]string, len(p.Collection))
	copy(segments, p.Collection)
	if len(segments) > 0 {
		segments[len(segments)-1] = collectionName
	}
	return DocPath{Collection: segments, ID: p.ID}
}

// Child returns a path inside a subcollection of this document.
func (p DocPath) Child(subcollection, id string) DocPath {
	segments := make([]string, 0, len(p.Collection)+2)
	segments = append(segments, p.Collection...)
	segments = append(segments, p.ID, subcollection)
	return DocPath{Collection: segments, ID: id}
}

// Document is a stored document snapshot.
type Document struct {
	Path       DocPath   `json:"path"`
	Data       Record    `json:"data"`
	UpdateTime time.Time `json:"updateTime"`
	Exists     bool      `json:"exists"`
}

// Transaction exposes the operations available inside a store transaction.
// Reads are tracked for conflict detection; writes apply atomically on commit.
type Transaction interface {
	Get(path DocPath) (*Document, error)
	Set(path DocPath, data Record)
	Delete(path DocPath)
}

// TTLField is the document field the store's native TTL mechanism watches.
// Documents carrying a time value here are expired automatically.
const TTLField = "Expires_At"

// DocumentStore is the underlying multi-tenant document store. It must provide
// per-document reads/writes with server-side timestamps, collection-group
// queries, and optimistic transactions with conflict detection and a
// configurable attempt ceiling.
type DocumentStore interface {
	// Get reads one document. A missing document returns Exists=false, not an
	// error.
	Get(ctx context.Context, tenant string, path DocPath) (*Document, error)

	// Set writes the full document and returns the store-acknowledged write
	// time. Downstream state derives from this committed value only.
	Set(ctx context.Context, tenant string, path DocPath, data Record) (time.Time, error)

	// Delete removes one document. Deleting a missing document is a no-op.
	Delete(ctx context.Context, tenant string, path DocPath) error

	// Query runs filters against one collection path.
	Query(ctx context.Context, tenant string, collection []string, wheres []Where, limit int) ([]*Document, error)

	// QueryGroup runs filters against every collection of the given name,
	// regardless of nesting.
	QueryGroup(ctx context.Context, tenant string, collectionName string, wheres []Where, limit int) ([]*Document, error)

	// RunTransaction executes fn inside an optimistic transaction, retrying on
	// detected conflicts up to policy.MaxAttempts. Any other error from fn
	// aborts without retry.
	RunTransaction(ctx context.Context, tenant string, policy RetryPolicy, fn func(tx Transaction) error) error
}

// ReadRequest describes a read of one record.
type ReadRequest struct {
	Identity       Identity           `json:"identity"`
	Permissions    *StokerPermissions `json:"permissions,omitempty"`
	CollectionPath []string           `json:"collectionPath"`
	DocID          string             `json:"docId"`
}

// WriteRequest describes a create, update, or delete of one record.
type WriteRequest struct {
	Identity       Identity           `json:"identity"`
	Permissions    *StokerPermissions `json:"permissions,omitempty"`
	CollectionPath []string           `json:"collectionPath"`
	// DocID is generated on create when empty; the generated value is
	// written back to the request.
	DocID string `json:"docId,omitempty"`
	Data  Record `json:"data,omitempty"`
}

// Engine is the schema-driven authorization and consistency engine.
type Engine interface {
	CreateRecord(ctx context.Context, req *WriteRequest) (Record, error)
	UpdateRecord(ctx context.Context, req *WriteRequest) (Record, error)
	DeleteRecord(ctx context.Context, req *WriteRequest) error
	GetRecord(ctx context.Context, req *ReadRequest) (Record, error)

	// RebuildShadows recomputes every shadow projection of one record from its
	// current committed state. Repair primitive for shadow staleness.
	RebuildShadows(ctx context.Context, identity Identity, collectionPath []string, docID string) error
}

// SchemaProvider supplies the fully resolved schema. The engine never parses
// schema source files.
type SchemaProvider interface {
	Schema(ctx context.Context) (*CollectionsSchema, error)
}

// PermissionsProvider supplies a point-in-time permission snapshot for a
// (tenant, user) pair. The engine has no obligation to refresh mid-operation.
type PermissionsProvider interface {
	Permissions(ctx context.Context, tenant, userID string) (*StokerPermissions, error)
}

// Validator checks a merged record against the collection's field constraints.
// Violations surface as VALIDATION_ERROR-tagged errors.
type Validator interface {
	Validate(ctx context.Context, op Operation, merged Record, collection *CollectionSchema, schema *CollectionsSchema) error
}
