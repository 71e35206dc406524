package internal

import (
	"context"
	"fmt"
	"strings"

	"github.com/stokerhq/stoker"
)

type engine struct {
	schema    *stoker.CollectionsSchema
	store     stoker.DocumentStore
	cache     *schemaCache
	resolver  *Resolver
	access    *AccessEngine
	validator stoker.Validator
	hooks     stoker.HookSet
	sync      *Synchronizer
	unique    *UniquenessMaintainer
	audit     *AuditLog
	config    *stoker.Config
}

// NewEngine wires the access engine, write pipeline, and maintenance
// subsystems over the resolved schema and document store. A nil validator
// falls back to the schema validator; a nil config falls back to defaults.
func NewEngine(schema *stoker.CollectionsSchema, store stoker.DocumentStore, validator stoker.Validator, hooks stoker.HookSet, config *stoker.Config) stoker.Engine {
	if config == nil {
		config = stoker.DefaultConfig()
	}
	cache := newSchemaCache(schema)
	e := &engine{
		schema: schema,
		store:  store,
		cache:  cache,
		hooks:  hooks,
		config: config,
	}
	e.resolver = NewResolver(schema, e.loadTopLevel)
	e.access = NewAccessEngine(schema, e.resolver)
	if validator == nil {
		validator = NewValidator(cache)
	}
	e.validator = validator
	e.sync = NewSynchronizer(store, cache, config.Sync.ShadowRetry)
	e.unique = NewUniquenessMaintainer(store, config.Sync.UniqueRetry)
	e.audit = NewAuditLog(store, config.AuditLog)
	return e
}

// loadTopLevel backs the resolver's parent-reference lookups.
func (e *engine) loadTopLevel(ctx context.Context, tenant, collection, docID string) (stoker.Record, error) {
	doc, err := e.store.Get(ctx, tenant, stoker.NewDocPath([]string{collection}, docID))
	if err != nil {
		return nil, err
	}
	if !doc.Exists {
		return nil, nil
	}
	return doc.Data, nil
}

// resolveCollection validates the collection path against the schema: the
// path alternates collection and document segments, every named collection
// must exist, and nested collections must declare the matching parent.
func (e *engine) resolveCollection(path []string) (*stoker.CollectionSchema, error) {
	if len(path) == 0 || len(path)%2 == 0 {
		return nil, stoker.NewCollectionNotFoundError(strings.Join(path, "/"))
	}
	var parent string
	for i := 0; i < len(path); i += 2 {
		name := path[i]
		collection := e.schema.Collection(name)
		if collection == nil {
			return nil, stoker.NewCollectionNotFoundError(name)
		}
		if collection.Parent != parent {
			return nil, stoker.NewCollectionNotFoundError(name).
				WithDetail("reason", fmt.Sprintf("collection %q is not nested under %q", name, parent))
		}
		parent = name
	}
	return e.schema.Collection(path[len(path)-1]), nil
}

func (e *engine) GetRecord(ctx context.Context, req *stoker.ReadRequest) (stoker.Record, error) {
	collection, err := e.resolveCollection(req.CollectionPath)
	if err != nil {
		return nil, err
	}
	path := stoker.NewDocPath(req.CollectionPath, req.DocID)
	doc, err := e.store.Get(ctx, req.Identity.Tenant, path)
	if err != nil {
		return nil, stoker.NewInternalError("read failed", err)
	}
	if !doc.Exists {
		return nil, stoker.NewRecordNotFoundError(collection.Name, req.DocID)
	}

	if err := e.access.Authorize(ctx, &AccessRequest{
		Operation:   stoker.OperationRead,
		Collection:  collection,
		Identity:    req.Identity,
		Permissions: req.Permissions,
		DocID:       req.DocID,
		Original:    doc.Data,
	}); err != nil {
		return nil, err
	}

	return e.filterReadable(collection, req.Identity, doc.Data), nil
}

// filterReadable strips fields the caller's role may not see. System callers
// see everything.
func (e *engine) filterReadable(collection *stoker.CollectionSchema, identity stoker.Identity, record stoker.Record) stoker.Record {
	if identity.IsSystem() {
		return record
	}
	out := make(stoker.Record, len(record))
	for name, value := range record {
		base := strings.TrimSuffix(strings.TrimSuffix(strings.TrimSuffix(name,
			SuffixLowercase), SuffixSingle), SuffixArray)
		field := collection.Field(base)
		if field != nil && len(field.Access) > 0 && !stoker.ContainsRole(field.Access, identity.Role) {
			continue
		}
		out[name] = value
	}
	return out
}

func (e *engine) RebuildShadows(ctx context.Context, identity stoker.Identity, collectionPath []string, docID string) error {
	if !identity.IsSystem() {
		return stoker.NewPermissionDeniedError(strings.Join(collectionPath, "/"),
			"shadow rebuild is a server-only operation")
	}
	collection, err := e.resolveCollection(collectionPath)
	if err != nil {
		return err
	}
	path := stoker.NewDocPath(collectionPath, docID)
	doc, err := e.store.Get(ctx, identity.Tenant, path)
	if err != nil {
		return stoker.NewInternalError("read failed", err)
	}
	if !doc.Exists {
		return e.sync.Rebuild(ctx, identity.Tenant, path, collection, nil)
	}
	return e.sync.Rebuild(ctx, identity.Tenant, path, collection, doc.Data)
}

// ClearCaches drops the engine's memoized schema metadata. Exposed for tests
// and schema-reload wiring.
func (e *engine) ClearCaches() {
	e.cache.Clear()
}
