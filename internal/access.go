package internal

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/stokerhq/stoker"
)

// AccessRequest carries everything the access engine needs for one decision.
type AccessRequest struct {
	Operation   stoker.Operation
	Collection  *stoker.CollectionSchema
	Identity    stoker.Identity
	Permissions *stoker.StokerPermissions
	DocID       string
	// Payload is the create payload or update partial (sentinels intact).
	Payload stoker.Record
	// Original is the stored record for update/delete/read, nil on create.
	Original stoker.Record
}

// AccessEngine evaluates collection-, document-, auth-, and field-level
// authorization. Every check must pass; any failure is PermissionDenied with
// no partial grants.
type AccessEngine struct {
	schema   *stoker.CollectionsSchema
	resolver *Resolver
}

// NewAccessEngine creates an access engine over the resolved schema.
func NewAccessEngine(schema *stoker.CollectionsSchema, resolver *Resolver) *AccessEngine {
	return &AccessEngine{schema: schema, resolver: resolver}
}

// Authorize grants the operation or fails with PermissionDenied.
func (e *AccessEngine) Authorize(ctx context.Context, req *AccessRequest) error {
	if req.Collection == nil {
		return stoker.NewCollectionNotFoundError("")
	}

	if err := e.checkCollection(req); err != nil {
		e.logDenial(req, err)
		return err
	}
	if err := e.checkDocument(ctx, req); err != nil {
		e.logDenial(req, err)
		return err
	}
	if err := e.checkAuthCollection(req); err != nil {
		e.logDenial(req, err)
		return err
	}
	if err := e.checkFields(req); err != nil {
		e.logDenial(req, err)
		return err
	}
	return nil
}

func (e *AccessEngine) logDenial(req *AccessRequest, err error) {
	zap.S().Infow("access denied",
		"operation", req.Operation,
		"collection", req.Collection.Name,
		"docId", req.DocID,
		"user", req.Identity.CurrentUserID,
		"role", req.Identity.Role,
		"reason", err.Error(),
	)
	EmitAccessDenied(req.Collection.Name, string(req.Operation))
}

// checkCollection enforces the operation allow-list. System callers represent
// trusted server-initiated writes and bypass this check.
func (e *AccessEngine) checkCollection(req *AccessRequest) error {
	if req.Identity.IsSystem() {
		return nil
	}
	access := req.Collection.Access
	role := req.Identity.Role

	if req.Operation == stoker.OperationRead && stoker.ContainsRole(access.ServerReadOnly, role) {
		return stoker.NewPermissionDeniedError(req.Collection.Name,
			fmt.Sprintf("role %q may only read through server-issued requests", role))
	}
	if req.Operation != stoker.OperationRead && stoker.ContainsRole(access.ServerWriteOnly, role) {
		return stoker.NewPermissionDeniedError(req.Collection.Name,
			fmt.Sprintf("role %q may only write through server-issued requests", role))
	}

	if stoker.ContainsRole(access.Operations[req.Operation], role) {
		return nil
	}
	if stoker.ContainsRole(access.Assignable, role) &&
		req.Permissions.Collection(req.Collection.Name).Grants(req.Operation) {
		return nil
	}
	return stoker.NewPermissionDeniedError(req.Collection.Name,
		fmt.Sprintf("role %q is not allowed to %s", role, req.Operation))
}

// checkDocument enforces attribute and entity restrictions on the target
// record. Role-based restrictions are skipped for system callers.
func (e *AccessEngine) checkDocument(ctx context.Context, req *AccessRequest) error {
	if req.Identity.IsSystem() {
		return nil
	}
	role := req.Identity.Role
	perms := req.Permissions.Collection(req.Collection.Name)

	// On create the payload is the only record; on other operations the
	// stored record is authoritative.
	record := req.Original
	if req.Operation == stoker.OperationCreate {
		record, _ = stoker.StripDeleteSentinels(req.Payload)
	}

	for _, rest := range e.resolver.ActiveAttributeRestrictions(req.Collection, role, perms) {
		if !e.resolver.RecordSatisfiesAttribute(rest, record, req.Identity) {
			return stoker.NewPermissionDeniedError(req.Collection.Name,
				fmt.Sprintf("record does not satisfy %s restriction", rest.Type)).WithDocID(req.DocID)
		}
	}

	entityRests, err := e.resolver.ActiveEntityRestrictions(req.Collection, role, perms)
	if err != nil {
		return err
	}
	for _, rest := range entityRests {
		ok, err := e.resolver.RecordSatisfiesEntity(ctx, rest, req.Collection, req.DocID, record, req.Identity)
		if err != nil {
			return stoker.NewPermissionDeniedError(req.Collection.Name,
				"entity restriction could not be resolved").WithDocID(req.DocID).WithCause(err)
		}
		if !ok {
			return stoker.NewPermissionDeniedError(req.Collection.Name,
				fmt.Sprintf("record does not satisfy %s entity restriction", rest.Type)).WithDocID(req.DocID)
		}
	}
	return nil
}

// hasPrincipal reports whether the record doubles as a login principal.
func hasPrincipal(record stoker.Record) bool {
	if record == nil {
		return false
	}
	if email, ok := record["Email"].(string); ok && email != "" {
		return true
	}
	_, enabled := record["Enabled"]
	return enabled
}

// checkAuthCollection guards writes to login principals: the caller needs auth
// access on the collection plus the permissions-write check, preventing a
// caller from granting roles beyond what their own role may manage.
func (e *AccessEngine) checkAuthCollection(req *AccessRequest) error {
	if !req.Collection.Auth || req.Identity.IsSystem() {
		return nil
	}
	if req.Operation == stoker.OperationRead {
		return nil
	}
	if !hasPrincipal(req.Original) && !hasPrincipal(req.Payload) {
		return nil
	}

	perms := req.Permissions.Collection(req.Collection.Name)
	if perms == nil || !perms.Auth {
		return stoker.NewPermissionDeniedError(req.Collection.Name,
			"managing login principals requires auth access").WithDocID(req.DocID)
	}
	if !stoker.ContainsRole(req.Collection.Access.Auth, req.Identity.Role) {
		return stoker.NewPermissionDeniedError(req.Collection.Name,
			fmt.Sprintf("role %q may not act on this collection's principals", req.Identity.Role)).WithDocID(req.DocID)
	}

	return e.checkPermissionsWrite(req)
}

// checkPermissionsWrite stops privilege escalation through permission-bearing
// fields: an assigned role must be one the collection declares as grantable,
// and per-collection grants or restriction-flag toggles may only target
// collections that declare the principal's role as assignable.
func (e *AccessEngine) checkPermissionsWrite(req *AccessRequest) error {
	stripped, _ := stoker.StripDeleteSentinels(req.Payload)
	access := req.Collection.Access

	effective := ""
	if req.Original != nil {
		effective, _ = req.Original["Role"].(string)
	}
	if newRole, ok := stripped["Role"].(string); ok && newRole != "" {
		if newRole != effective &&
			!stoker.ContainsRole(access.Assignable, newRole) && !stoker.ContainsRole(access.Auth, newRole) {
			return stoker.NewPermissionDeniedError(req.Collection.Name,
				fmt.Sprintf("role %q cannot be granted through this collection", newRole)).WithDocID(req.DocID).WithField("Role")
		}
		effective = newRole
	}

	grants, ok := stripped["Collections"].(map[string]any)
	if !ok {
		return nil
	}
	var prev map[string]any
	if req.Original != nil {
		prev, _ = req.Original["Collections"].(map[string]any)
	}
	for name, grant := range grants {
		if prev != nil {
			if existing, held := prev[name]; held && valuesEqual(existing, grant) {
				continue
			}
		}
		target := e.schema.Collection(name)
		if target == nil {
			return stoker.NewPermissionDeniedError(req.Collection.Name,
				fmt.Sprintf("grant targets unknown collection %q", name)).WithDocID(req.DocID).WithField("Collections")
		}
		if !stoker.ContainsRole(target.Access.Assignable, effective) {
			return stoker.NewPermissionDeniedError(req.Collection.Name,
				fmt.Sprintf("role %q is not assignable on collection %q", effective, name)).WithDocID(req.DocID).WithField("Collections")
		}
	}
	return nil
}

// checkFields enforces field-level rules against the supplied values,
// evaluated on the merged view so a partial update introducing a value into a
// previously-absent restricted field is still caught.
func (e *AccessEngine) checkFields(req *AccessRequest) error {
	stripped, _ := stoker.StripDeleteSentinels(req.Payload)
	merged := stripped
	if req.Operation == stoker.OperationUpdate {
		merged = stoker.MergeRecords(req.Original, req.Payload)
	}

	system := req.Identity.IsSystem()
	role := req.Identity.Role
	perms := req.Permissions.Collection(req.Collection.Name)

	for name := range stripped {
		if _, present := merged[name]; !present {
			continue
		}
		field := req.Collection.Field(name)
		if field == nil {
			continue
		}

		restriction := field.RestrictCreate
		if req.Operation == stoker.OperationUpdate {
			restriction = field.RestrictUpdate
		}
		if restriction != nil {
			// Hard locks apply to everyone, including system writes.
			if restriction.All {
				return stoker.NewPermissionDeniedError(req.Collection.Name,
					"field is locked for this operation").WithField(name).WithDocID(req.DocID)
			}
			if !system && !restriction.Allows(role) {
				return stoker.NewPermissionDeniedError(req.Collection.Name,
					fmt.Sprintf("role %q may not set this field on %s", role, req.Operation)).WithField(name).WithDocID(req.DocID)
			}
		}

		if system {
			continue
		}

		if len(field.Access) > 0 && !stoker.ContainsRole(field.Access, role) {
			return stoker.NewPermissionDeniedError(req.Collection.Name,
				fmt.Sprintf("role %q may not supply this field", role)).WithField(name).WithDocID(req.DocID)
		}

		if req.Collection.Auth && req.Operation == stoker.OperationUpdate &&
			stoker.ContainsRole(stoker.AuthIdentityFields, name) {
			if perms == nil || !perms.Auth {
				return stoker.NewPermissionDeniedError(req.Collection.Name,
					"updating principal identity fields requires auth access").WithField(name).WithDocID(req.DocID)
			}
		}
	}
	return nil
}
