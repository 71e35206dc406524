package internal

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stokerhq/stoker"
)

// The write pipeline executes every mutation through the same fixed stages:
// audit open, pre-operation hook, authorization, system-field stamping,
// soft-delete handling, pre-write hook, projection recomputation, validation,
// uniqueness pre-check, commit, then post-commit maintenance (shadow sync,
// unique index, post-write hook). Authorization always precedes any hook that
// can observe stored data.

func (e *engine) CreateRecord(ctx context.Context, req *stoker.WriteRequest) (stoker.Record, error) {
	started := time.Now()
	collection, err := e.resolveCollection(req.CollectionPath)
	if err != nil {
		return nil, err
	}

	docID := req.DocID
	if collection.Singleton {
		docID = collection.Name
	} else if docID == "" {
		docID = newDocID()
	}
	// Write the effective ID back so callers learn a generated one.
	req.DocID = docID
	path := stoker.NewDocPath(req.CollectionPath, docID)

	existing, err := e.store.Get(ctx, req.Identity.Tenant, path)
	if err != nil {
		return nil, stoker.NewInternalError("read failed", err)
	}
	if existing.Exists && !collection.Singleton {
		return nil, stoker.NewValidationError("", "record already exists").WithDocID(docID)
	}
	if existing.Exists {
		// Singleton creates degrade to updates of the one record.
		upd := *req
		upd.DocID = docID
		return e.UpdateRecord(ctx, &upd)
	}

	payload := stripSystemFields(req.Data)
	audit := e.audit.Begin(ctx, req.Identity.Tenant, path, stoker.OperationCreate, req.Identity, payload, nil)

	record, err := e.runCreate(ctx, collection, path, req, payload, audit)
	if err != nil {
		audit.MarkFailed(ctx, err)
		e.fireErrorHook(ctx, collection, path, stoker.OperationCreate, req.Identity, payload, nil, err)
		return nil, err
	}
	audit.MarkSuccess(ctx)
	EmitWriteLatency(collection.Name, string(stoker.OperationCreate), time.Since(started).Milliseconds())
	return record, nil
}

func (e *engine) runCreate(ctx context.Context, collection *stoker.CollectionSchema, path stoker.DocPath, req *stoker.WriteRequest, payload stoker.Record, audit *AuditEntry) (stoker.Record, error) {
	args := &stoker.HookArgs{
		Operation:      stoker.OperationCreate,
		Collection:     collection.Name,
		CollectionPath: path.Collection,
		DocID:          path.ID,
		Identity:       req.Identity,
		Record:         payload,
	}
	if err := e.fireHook(ctx, preOperationHook(e.hooks.For(collection.Name)), "preOperation", args, true); err != nil {
		return nil, err
	}

	if err := e.access.Authorize(ctx, &AccessRequest{
		Operation:   stoker.OperationCreate,
		Collection:  collection,
		Identity:    req.Identity,
		Permissions: req.Permissions,
		DocID:       path.ID,
		Payload:     args.Record,
	}); err != nil {
		return nil, err
	}

	record, _ := stoker.StripDeleteSentinels(args.Record)
	now := time.Now().UTC()
	e.stampCreate(record, path, req.Identity, now)

	if err := applySoftDelete(collection, nil, record, now); err != nil {
		return nil, err
	}

	args.Record = record
	if err := e.fireHook(ctx, preWriteHook(e.hooks.For(collection.Name)), "preWrite", args, true); err != nil {
		return nil, err
	}
	record = args.Record

	record = ComputeProjections(collection, record)

	if err := e.validator.Validate(ctx, stoker.OperationCreate, record, collection, e.schema); err != nil {
		return nil, err
	}
	if err := e.checkUniqueFields(ctx, req.Identity.Tenant, path, collection, nil, record); err != nil {
		return nil, err
	}

	if _, err := e.store.Set(ctx, req.Identity.Tenant, path, record); err != nil {
		return nil, stoker.NewInternalError("write failed", err)
	}
	audit.MarkWritten(ctx)

	args.Record = record
	e.afterCommit(ctx, collection, path, req.Identity, nil, record, args)
	return record, nil
}

func (e *engine) UpdateRecord(ctx context.Context, req *stoker.WriteRequest) (stoker.Record, error) {
	started := time.Now()
	collection, err := e.resolveCollection(req.CollectionPath)
	if err != nil {
		return nil, err
	}
	path := stoker.NewDocPath(req.CollectionPath, req.DocID)

	existing, err := e.store.Get(ctx, req.Identity.Tenant, path)
	if err != nil {
		return nil, stoker.NewInternalError("read failed", err)
	}
	if !existing.Exists {
		return nil, stoker.NewRecordNotFoundError(collection.Name, req.DocID)
	}
	original := existing.Data

	payload := stripSystemFields(req.Data)
	audit := e.audit.Begin(ctx, req.Identity.Tenant, path, stoker.OperationUpdate, req.Identity, payload, original)

	record, err := e.runUpdate(ctx, collection, path, req, payload, original, audit)
	if err != nil {
		audit.MarkFailed(ctx, err)
		e.fireErrorHook(ctx, collection, path, stoker.OperationUpdate, req.Identity, payload, original, err)
		return nil, err
	}
	audit.MarkSuccess(ctx)
	EmitWriteLatency(collection.Name, string(stoker.OperationUpdate), time.Since(started).Milliseconds())
	return record, nil
}

func (e *engine) runUpdate(ctx context.Context, collection *stoker.CollectionSchema, path stoker.DocPath, req *stoker.WriteRequest, payload, original stoker.Record, audit *AuditEntry) (stoker.Record, error) {
	args := &stoker.HookArgs{
		Operation:      stoker.OperationUpdate,
		Collection:     collection.Name,
		CollectionPath: path.Collection,
		DocID:          path.ID,
		Identity:       req.Identity,
		Record:         payload,
		Original:       original,
	}
	if err := e.fireHook(ctx, preOperationHook(e.hooks.For(collection.Name)), "preOperation", args, true); err != nil {
		return nil, err
	}

	if err := e.access.Authorize(ctx, &AccessRequest{
		Operation:   stoker.OperationUpdate,
		Collection:  collection,
		Identity:    req.Identity,
		Permissions: req.Permissions,
		DocID:       path.ID,
		Payload:     args.Record,
		Original:    original,
	}); err != nil {
		return nil, err
	}

	record := stoker.MergeRecords(original, args.Record)
	now := time.Now().UTC()
	e.stampUpdate(record, original, path, req.Identity, now)

	if err := applySoftDelete(collection, original, record, now); err != nil {
		return nil, err
	}

	args.Record = record
	if err := e.fireHook(ctx, preWriteHook(e.hooks.For(collection.Name)), "preWrite", args, true); err != nil {
		return nil, err
	}
	record = args.Record

	record = ComputeProjections(collection, record)

	if err := e.validator.Validate(ctx, stoker.OperationUpdate, record, collection, e.schema); err != nil {
		return nil, err
	}
	if err := e.checkUniqueFields(ctx, req.Identity.Tenant, path, collection, original, record); err != nil {
		return nil, err
	}

	if _, err := e.store.Set(ctx, req.Identity.Tenant, path, record); err != nil {
		return nil, stoker.NewInternalError("write failed", err)
	}
	audit.MarkWritten(ctx)

	args.Record = record
	e.afterCommit(ctx, collection, path, req.Identity, original, record, args)
	return record, nil
}

func (e *engine) DeleteRecord(ctx context.Context, req *stoker.WriteRequest) error {
	started := time.Now()
	collection, err := e.resolveCollection(req.CollectionPath)
	if err != nil {
		return err
	}
	path := stoker.NewDocPath(req.CollectionPath, req.DocID)

	existing, err := e.store.Get(ctx, req.Identity.Tenant, path)
	if err != nil {
		return stoker.NewInternalError("read failed", err)
	}
	if !existing.Exists {
		return stoker.NewRecordNotFoundError(collection.Name, req.DocID)
	}
	original := existing.Data

	audit := e.audit.Begin(ctx, req.Identity.Tenant, path, stoker.OperationDelete, req.Identity, nil, original)

	if err := e.runDelete(ctx, collection, path, req, original, audit); err != nil {
		audit.MarkFailed(ctx, err)
		e.fireErrorHook(ctx, collection, path, stoker.OperationDelete, req.Identity, nil, original, err)
		return err
	}
	audit.MarkSuccess(ctx)
	EmitWriteLatency(collection.Name, string(stoker.OperationDelete), time.Since(started).Milliseconds())
	return nil
}

func (e *engine) runDelete(ctx context.Context, collection *stoker.CollectionSchema, path stoker.DocPath, req *stoker.WriteRequest, original stoker.Record, audit *AuditEntry) error {
	args := &stoker.HookArgs{
		Operation:      stoker.OperationDelete,
		Collection:     collection.Name,
		CollectionPath: path.Collection,
		DocID:          path.ID,
		Identity:       req.Identity,
		Original:       original,
	}
	if err := e.fireHook(ctx, preOperationHook(e.hooks.For(collection.Name)), "preOperation", args, false); err != nil {
		return err
	}

	if err := e.access.Authorize(ctx, &AccessRequest{
		Operation:   stoker.OperationDelete,
		Collection:  collection,
		Identity:    req.Identity,
		Permissions: req.Permissions,
		DocID:       path.ID,
		Original:    original,
	}); err != nil {
		return err
	}

	if sd := collection.SoftDelete; sd != nil && !softDeleteExpired(sd, original, time.Now().UTC()) {
		return e.softDelete(ctx, collection, path, req, original, audit, args)
	}

	if err := e.fireHook(ctx, preWriteHook(e.hooks.For(collection.Name)), "preWrite", args, false); err != nil {
		return err
	}
	if err := e.store.Delete(ctx, req.Identity.Tenant, path); err != nil {
		return stoker.NewInternalError("delete failed", err)
	}
	audit.MarkWritten(ctx)

	e.afterCommit(ctx, collection, path, req.Identity, original, nil, args)
	return nil
}

// softDelete turns a delete into an archive write: the archived flag flips on
// and the archival timestamp is stamped once. The record stays queryable for
// its retention window.
func (e *engine) softDelete(ctx context.Context, collection *stoker.CollectionSchema, path stoker.DocPath, req *stoker.WriteRequest, original stoker.Record, audit *AuditEntry, args *stoker.HookArgs) error {
	sd := collection.SoftDelete
	now := time.Now().UTC()

	record := cloneRecord(original)
	record[sd.ArchivedField] = true
	if _, stamped := record[sd.TimestampField]; !stamped {
		record[sd.TimestampField] = now
	}
	e.stampUpdate(record, original, path, req.Identity, now)

	args.Record = record
	if err := e.fireHook(ctx, preWriteHook(e.hooks.For(collection.Name)), "preWrite", args, true); err != nil {
		return err
	}
	record = args.Record

	if _, err := e.store.Set(ctx, req.Identity.Tenant, path, record); err != nil {
		return stoker.NewInternalError("write failed", err)
	}
	audit.MarkWritten(ctx)

	e.afterCommit(ctx, collection, path, req.Identity, original, record, args)
	return nil
}

// afterCommit performs the post-commit maintenance fanout. Failures here are
// self-healing or logged; the committed write is never rolled back.
func (e *engine) afterCommit(ctx context.Context, collection *stoker.CollectionSchema, path stoker.DocPath, identity stoker.Identity, before, after stoker.Record, args *stoker.HookArgs) {
	e.sync.Sync(ctx, identity.Tenant, path, collection, before, after)
	e.unique.Maintain(ctx, identity.Tenant, path, collection, before, after)

	hooks := e.hooks.For(collection.Name)
	if hooks != nil && hooks.PostWrite != nil {
		if _, err := hooks.PostWrite.Resolve(ctx, args); err != nil {
			zap.S().Warnw("post-write hook failed",
				"collection", collection.Name,
				"docId", path.ID,
				"error", err,
			)
		}
	}
}

// fireHook resolves a pre-stage hook. A false result cancels the operation; a
// hook error is an infrastructure failure, not a veto, and surfaces as an
// internal error. A hook that touches a system field is rejected whether or
// not it approves.
func (e *engine) fireHook(ctx context.Context, hook *stoker.Hook, stage string, args *stoker.HookArgs, guardSystemFields bool) error {
	if hook == nil {
		return nil
	}
	var snapshot stoker.Record
	if guardSystemFields {
		snapshot = snapshotSystemFields(args.Record)
	}

	ok, err := hook.Resolve(ctx, args)
	if err != nil {
		return stoker.NewInternalError(stage+" hook failed", err).WithDocID(args.DocID)
	}
	if guardSystemFields {
		if field := mutatedSystemField(snapshot, args.Record); field != "" {
			return stoker.NewSystemFieldViolationError(field).WithDocID(args.DocID)
		}
	}
	if !ok {
		return stoker.NewCancelledError(stage).WithDocID(args.DocID)
	}
	return nil
}

func (e *engine) fireErrorHook(ctx context.Context, collection *stoker.CollectionSchema, path stoker.DocPath, op stoker.Operation, identity stoker.Identity, payload, original stoker.Record, cause error) {
	hooks := e.hooks.For(collection.Name)
	if hooks == nil || hooks.PostWriteError == nil {
		return
	}
	args := &stoker.HookArgs{
		Operation:      op,
		Collection:     collection.Name,
		CollectionPath: path.Collection,
		DocID:          path.ID,
		Identity:       identity,
		Record:         payload,
		Original:       original,
		Err:            cause,
	}
	if _, err := hooks.PostWriteError.Resolve(ctx, args); err != nil {
		zap.S().Warnw("post-write-error hook failed",
			"collection", collection.Name,
			"docId", path.ID,
			"error", err,
		)
	}
}

// stampCreate sets the full system-field block of a new record.
func (e *engine) stampCreate(record stoker.Record, path stoker.DocPath, identity stoker.Identity, now time.Time) {
	writer := identity.CurrentUserID
	if writer == "" {
		writer = "server"
	}
	record[stoker.FieldCollectionPath] = joinPath(path.Collection)
	record[stoker.FieldCreatedAt] = now
	record[stoker.FieldCreatedBy] = writer
	record[stoker.FieldSavedAt] = now
	record[stoker.FieldLastWriteAt] = now
	record[stoker.FieldLastWriteBy] = writer
	record[stoker.FieldLastSaveAt] = now
}

// stampUpdate advances the write-tracking fields and pins the creation fields
// to their stored values.
func (e *engine) stampUpdate(record, original stoker.Record, path stoker.DocPath, identity stoker.Identity, now time.Time) {
	writer := identity.CurrentUserID
	if writer == "" {
		writer = "server"
	}
	record[stoker.FieldCollectionPath] = joinPath(path.Collection)
	record[stoker.FieldCreatedAt] = original[stoker.FieldCreatedAt]
	record[stoker.FieldCreatedBy] = original[stoker.FieldCreatedBy]
	record[stoker.FieldSavedAt] = now
	record[stoker.FieldLastWriteAt] = now
	record[stoker.FieldLastWriteBy] = writer
	record[stoker.FieldLastSaveAt] = now
}

// applySoftDelete enforces the archive-field invariants on create and update
// payloads: the archival timestamp is pipeline-owned and stamps exactly once
// on the false-to-true transition, clearing on restore.
func applySoftDelete(collection *stoker.CollectionSchema, original, record stoker.Record, now time.Time) error {
	sd := collection.SoftDelete
	if sd == nil {
		return nil
	}

	var prevStamp any
	if original != nil {
		prevStamp = original[sd.TimestampField]
	}
	if v, present := record[sd.TimestampField]; present && !valuesEqual(v, prevStamp) {
		return stoker.NewSystemFieldViolationError(sd.TimestampField)
	}

	wasArchived := original != nil && recordFlag(original, sd.ArchivedField)
	isArchived := recordFlag(record, sd.ArchivedField)
	switch {
	case isArchived && !wasArchived:
		record[sd.TimestampField] = now
	case isArchived:
		record[sd.TimestampField] = prevStamp
	default:
		delete(record, sd.TimestampField)
	}
	return nil
}

// softDeleteExpired reports whether an archived record has outlived its
// retention window and may be removed for real.
func softDeleteExpired(sd *stoker.SoftDeleteConfig, record stoker.Record, now time.Time) bool {
	if !recordFlag(record, sd.ArchivedField) {
		return false
	}
	if sd.RetentionDays <= 0 {
		return false
	}
	stamp, ok := timeValue(record[sd.TimestampField])
	if !ok {
		return false
	}
	return now.After(stamp.AddDate(0, 0, sd.RetentionDays))
}

func recordFlag(record stoker.Record, field string) bool {
	v, _ := record[field].(bool)
	return v
}

// checkUniqueFields pre-checks every unique field whose value changes, so a
// conflicting write is rejected before it lands.
func (e *engine) checkUniqueFields(ctx context.Context, tenant string, path stoker.DocPath, collection *stoker.CollectionSchema, before, after stoker.Record) error {
	for i := range collection.Fields {
		field := &collection.Fields[i]
		if !field.Unique {
			continue
		}
		value, present := after[field.Name]
		if !present || value == nil {
			continue
		}
		if before != nil && valuesEqual(before[field.Name], value) {
			continue
		}
		if err := e.unique.CheckAvailable(ctx, tenant, path, collection, field.Name, value); err != nil {
			return err
		}
	}
	return nil
}

// stripSystemFields drops caller-supplied system fields; the pipeline is the
// only writer of those.
func stripSystemFields(payload stoker.Record) stoker.Record {
	if payload == nil {
		return stoker.Record{}
	}
	out := make(stoker.Record, len(payload))
	for k, v := range payload {
		if stoker.ContainsRole(stoker.SystemFields, k) {
			continue
		}
		out[k] = v
	}
	return out
}

func snapshotSystemFields(record stoker.Record) stoker.Record {
	snap := make(stoker.Record, len(stoker.SystemFields))
	for _, name := range stoker.SystemFields {
		if v, ok := record[name]; ok {
			snap[name] = v
		}
	}
	return snap
}

func mutatedSystemField(snapshot, record stoker.Record) string {
	for _, name := range stoker.SystemFields {
		before, hadBefore := snapshot[name]
		after, hasAfter := record[name]
		if hadBefore != hasAfter || (hadBefore && !valuesEqual(before, after)) {
			return name
		}
	}
	return ""
}

func preOperationHook(h *stoker.Hooks) *stoker.Hook {
	if h == nil {
		return nil
	}
	return h.PreOperation
}

func preWriteHook(h *stoker.Hooks) *stoker.Hook {
	if h == nil {
		return nil
	}
	return h.PreWrite
}

func newDocID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
