package internal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stokerhq/stoker"
)

func newTestAccessEngine(t *testing.T) (*AccessEngine, *stoker.CollectionsSchema) {
	t.Helper()
	schema := testSchema()
	resolver := NewResolver(schema, func(ctx context.Context, tenant, collection, docID string) (stoker.Record, error) {
		return nil, nil
	})
	return NewAccessEngine(schema, resolver), schema
}

func TestAuthorizeCollectionAllowList(t *testing.T) {
	engine, schema := newTestAccessEngine(t)
	vehicles := schema.Collection("Vehicles")

	// Member may read but not create vehicles.
	err := engine.Authorize(context.Background(), &AccessRequest{
		Operation:  stoker.OperationRead,
		Collection: vehicles,
		Identity:   memberIdentity("u1"),
		DocID:      "v1",
	})
	assert.NoError(t, err)

	err = engine.Authorize(context.Background(), &AccessRequest{
		Operation:  stoker.OperationCreate,
		Collection: vehicles,
		Identity:   memberIdentity("u1"),
		Payload:    stoker.Record{"Name": "Truck"},
	})
	require.Error(t, err)
	assert.True(t, stoker.IsPermissionDenied(err))
}

func TestAuthorizeSystemBypass(t *testing.T) {
	engine, schema := newTestAccessEngine(t)

	err := engine.Authorize(context.Background(), &AccessRequest{
		Operation:  stoker.OperationDelete,
		Collection: schema.Collection("Vehicles"),
		Identity:   systemIdentity(),
		DocID:      "v1",
		Original:   stoker.Record{"Name": "Truck"},
	})
	assert.NoError(t, err)
}

func TestAuthorizeAssignableGrant(t *testing.T) {
	engine, schema := newTestAccessEngine(t)
	users := schema.Collection("Users")
	manager := stoker.Identity{Tenant: "t1", CurrentUserID: "m1", Role: "manager"}

	// Manager is assignable on Users but holds no grant: denied.
	err := engine.Authorize(context.Background(), &AccessRequest{
		Operation:  stoker.OperationRead,
		Collection: users,
		Identity:   manager,
		DocID:      "u9",
		Original:   stoker.Record{"Name": "Someone"},
	})
	require.Error(t, err)
	assert.True(t, stoker.IsPermissionDenied(err))

	// With an explicit read grant the same request passes.
	perms := &stoker.StokerPermissions{
		Role: "manager",
		Collections: map[string]stoker.CollectionPermissions{
			"Users": {Operations: []stoker.Operation{stoker.OperationRead}},
		},
	}
	err = engine.Authorize(context.Background(), &AccessRequest{
		Operation:   stoker.OperationRead,
		Collection:  users,
		Identity:    manager,
		Permissions: perms,
		DocID:       "u9",
		Original:    stoker.Record{"Name": "Someone"},
	})
	assert.NoError(t, err)
}

func TestAuthorizeServerOnlyRoles(t *testing.T) {
	engine, schema := newTestAccessEngine(t)
	vehicles := schema.Collection("Vehicles")
	vehicles.Access.ServerWriteOnly = []string{"admin"}
	defer func() { vehicles.Access.ServerWriteOnly = nil }()

	err := engine.Authorize(context.Background(), &AccessRequest{
		Operation:  stoker.OperationUpdate,
		Collection: vehicles,
		Identity:   adminIdentity(),
		DocID:      "v1",
		Payload:    stoker.Record{"Name": "Van"},
		Original:   stoker.Record{"Name": "Truck"},
	})
	require.Error(t, err)
	assert.True(t, stoker.IsPermissionDenied(err))

	// Reads stay open for a write-restricted role.
	err = engine.Authorize(context.Background(), &AccessRequest{
		Operation:  stoker.OperationRead,
		Collection: vehicles,
		Identity:   adminIdentity(),
		DocID:      "v1",
		Original:   stoker.Record{"Name": "Truck"},
	})
	assert.NoError(t, err)
}

func TestAuthorizeOwnerRestriction(t *testing.T) {
	engine, schema := newTestAccessEngine(t)
	buildings := schema.Collection("Buildings")
	identity := memberIdentity("u1")
	perms := memberPermissions(true)

	owned := stoker.Record{"Name": "HQ", stoker.FieldCreatedBy: "u1"}
	foreign := stoker.Record{"Name": "Annex", stoker.FieldCreatedBy: "u2"}

	err := engine.Authorize(context.Background(), &AccessRequest{
		Operation:   stoker.OperationUpdate,
		Collection:  buildings,
		Identity:    identity,
		Permissions: perms,
		DocID:       "b1",
		Payload:     stoker.Record{"Name": "HQ East"},
		Original:    owned,
	})
	assert.NoError(t, err)

	err = engine.Authorize(context.Background(), &AccessRequest{
		Operation:   stoker.OperationUpdate,
		Collection:  buildings,
		Identity:    identity,
		Permissions: perms,
		DocID:       "b2",
		Payload:     stoker.Record{"Name": "Annex West"},
		Original:    foreign,
	})
	require.Error(t, err)
	assert.True(t, stoker.IsPermissionDenied(err))

	// With the flag off the assignable restriction is dormant.
	err = engine.Authorize(context.Background(), &AccessRequest{
		Operation:   stoker.OperationUpdate,
		Collection:  buildings,
		Identity:    identity,
		Permissions: memberPermissions(false),
		DocID:       "b2",
		Payload:     stoker.Record{"Name": "Annex West"},
		Original:    foreign,
	})
	assert.NoError(t, err)
}

func TestAuthorizeFieldAccess(t *testing.T) {
	engine, schema := newTestAccessEngine(t)
	buildings := schema.Collection("Buildings")

	// Member may not supply the admin-only Description field.
	err := engine.Authorize(context.Background(), &AccessRequest{
		Operation:   stoker.OperationUpdate,
		Collection:  buildings,
		Identity:    memberIdentity("u1"),
		Permissions: memberPermissions(false),
		DocID:       "b1",
		Payload:     stoker.Record{"Description": "secret"},
		Original:    stoker.Record{"Name": "HQ", stoker.FieldCreatedBy: "u1"},
	})
	require.Error(t, err)
	assert.True(t, stoker.IsPermissionDenied(err))

	// Admin may.
	err = engine.Authorize(context.Background(), &AccessRequest{
		Operation:  stoker.OperationUpdate,
		Collection: buildings,
		Identity:   adminIdentity(),
		DocID:      "b1",
		Payload:    stoker.Record{"Description": "fine"},
		Original:   stoker.Record{"Name": "HQ"},
	})
	assert.NoError(t, err)
}

func TestAuthorizeFieldRestrictLocks(t *testing.T) {
	engine, schema := newTestAccessEngine(t)
	vehicles := schema.Collection("Vehicles")
	vehicles.Fields[1].RestrictUpdate = &stoker.RoleRestriction{All: true}
	defer func() { vehicles.Fields[1].RestrictUpdate = nil }()

	// A hard lock applies even to system writes.
	err := engine.Authorize(context.Background(), &AccessRequest{
		Operation:  stoker.OperationUpdate,
		Collection: vehicles,
		Identity:   systemIdentity(),
		DocID:      "v1",
		Payload:    stoker.Record{"Plate": "NEW-1"},
		Original:   stoker.Record{"Plate": "OLD-1"},
	})
	require.Error(t, err)
	assert.True(t, stoker.IsPermissionDenied(err))

	// A delete sentinel for an unrelated field is not a supplied value.
	err = engine.Authorize(context.Background(), &AccessRequest{
		Operation:  stoker.OperationUpdate,
		Collection: vehicles,
		Identity:   adminIdentity(),
		DocID:      "v1",
		Payload:    stoker.Record{"Name": stoker.DeleteSentinel},
		Original:   stoker.Record{"Name": "Truck", "Plate": "OLD-1"},
	})
	assert.NoError(t, err)
}

func TestAuthorizeAuthCollection(t *testing.T) {
	engine, schema := newTestAccessEngine(t)
	users := schema.Collection("Users")
	original := stoker.Record{"Name": "Jo", "Email": "jo@example.com", "Role": "member", "Enabled": true}

	// Admin without an auth grant may not touch a principal.
	err := engine.Authorize(context.Background(), &AccessRequest{
		Operation:  stoker.OperationUpdate,
		Collection: users,
		Identity:   adminIdentity(),
		DocID:      "u9",
		Payload:    stoker.Record{"Enabled": false},
		Original:   original,
	})
	require.Error(t, err)
	assert.True(t, stoker.IsPermissionDenied(err))

	authPerms := &stoker.StokerPermissions{
		Role: "admin",
		Collections: map[string]stoker.CollectionPermissions{
			"Users": {Auth: true},
		},
	}
	err = engine.Authorize(context.Background(), &AccessRequest{
		Operation:   stoker.OperationUpdate,
		Collection:  users,
		Identity:    adminIdentity(),
		Permissions: authPerms,
		DocID:       "u9",
		Payload:     stoker.Record{"Enabled": false},
		Original:    original,
	})
	assert.NoError(t, err)
}

func TestAuthorizeRoleEscalation(t *testing.T) {
	engine, schema := newTestAccessEngine(t)
	users := schema.Collection("Users")
	original := stoker.Record{"Name": "Jo", "Email": "jo@example.com", "Role": "member", "Enabled": true}
	authPerms := &stoker.StokerPermissions{
		Role: "admin",
		Collections: map[string]stoker.CollectionPermissions{
			"Users": {Auth: true},
		},
	}

	// Granting a role outside Assignable and Auth is refused.
	err := engine.Authorize(context.Background(), &AccessRequest{
		Operation:   stoker.OperationUpdate,
		Collection:  users,
		Identity:    adminIdentity(),
		Permissions: authPerms,
		DocID:       "u9",
		Payload:     stoker.Record{"Role": "superuser"},
		Original:    original,
	})
	require.Error(t, err)
	assert.True(t, stoker.IsPermissionDenied(err))

	// Declared roles pass; an unchanged role is not a grant.
	for _, role := range []string{"manager", "admin", "member"} {
		err = engine.Authorize(context.Background(), &AccessRequest{
			Operation:   stoker.OperationUpdate,
			Collection:  users,
			Identity:    adminIdentity(),
			Permissions: authPerms,
			DocID:       "u9",
			Payload:     stoker.Record{"Role": role},
			Original:    original,
		})
		assert.NoError(t, err, "role %s", role)
	}
}

func TestAuthorizeGrantEscalation(t *testing.T) {
	engine, schema := newTestAccessEngine(t)
	users := schema.Collection("Users")
	original := stoker.Record{"Name": "Jo", "Email": "jo@example.com", "Role": "member", "Enabled": true}
	authPerms := &stoker.StokerPermissions{
		Role: "admin",
		Collections: map[string]stoker.CollectionPermissions{
			"Users": {Auth: true},
		},
	}
	grant := map[string]any{"operations": []any{"read"}, "recordOwnerActive": true}

	// Users does not declare member as assignable: no grant for a member.
	err := engine.Authorize(context.Background(), &AccessRequest{
		Operation:   stoker.OperationUpdate,
		Collection:  users,
		Identity:    adminIdentity(),
		Permissions: authPerms,
		DocID:       "u9",
		Payload:     stoker.Record{"Collections": map[string]any{"Users": grant}},
		Original:    original,
	})
	require.Error(t, err)
	assert.True(t, stoker.IsPermissionDenied(err))

	// Raising the principal to an assignable role in the same write passes.
	err = engine.Authorize(context.Background(), &AccessRequest{
		Operation:   stoker.OperationUpdate,
		Collection:  users,
		Identity:    adminIdentity(),
		Permissions: authPerms,
		DocID:       "u9",
		Payload:     stoker.Record{"Role": "manager", "Collections": map[string]any{"Users": grant}},
		Original:    original,
	})
	assert.NoError(t, err)

	// Grants never target collections outside the schema.
	err = engine.Authorize(context.Background(), &AccessRequest{
		Operation:   stoker.OperationUpdate,
		Collection:  users,
		Identity:    adminIdentity(),
		Permissions: authPerms,
		DocID:       "u9",
		Payload:     stoker.Record{"Role": "manager", "Collections": map[string]any{"Ghosts": grant}},
		Original:    original,
	})
	require.Error(t, err)
	assert.True(t, stoker.IsPermissionDenied(err))

	// A grant the record already holds is not reevaluated.
	held := stoker.Record{"Name": "Jo", "Email": "jo@example.com", "Role": "member", "Enabled": true,
		"Collections": map[string]any{"Users": grant}}
	err = engine.Authorize(context.Background(), &AccessRequest{
		Operation:   stoker.OperationUpdate,
		Collection:  users,
		Identity:    adminIdentity(),
		Permissions: authPerms,
		DocID:       "u9",
		Payload:     stoker.Record{"Enabled": false, "Collections": map[string]any{"Users": grant}},
		Original:    held,
	})
	assert.NoError(t, err)
}

func TestAuthorizeParentFilterChain(t *testing.T) {
	schema := testSchema()
	clientRecords := map[string]stoker.Record{
		"c1": {"Managers": map[string]any{"u1": map[string]any{"ID": "u1"}}},
		"c2": {"Managers": map[string]any{"u2": map[string]any{"ID": "u2"}}},
	}
	resolver := NewResolver(schema, func(ctx context.Context, tenant, collection, docID string) (stoker.Record, error) {
		return clientRecords[docID], nil
	})
	engine := NewAccessEngine(schema, resolver)
	contacts := schema.Collection("Contacts")

	// The member's contact references a client the member manages.
	err := engine.Authorize(context.Background(), &AccessRequest{
		Operation:   stoker.OperationRead,
		Collection:  contacts,
		Identity:    memberIdentity("u1"),
		Permissions: memberPermissions(true),
		DocID:       "x1",
		Original:    stoker.Record{"Name": "Ana", "Client": map[string]any{"ID": "c1"}},
	})
	assert.NoError(t, err)

	// Contacts of other clients are invisible.
	err = engine.Authorize(context.Background(), &AccessRequest{
		Operation:   stoker.OperationRead,
		Collection:  contacts,
		Identity:    memberIdentity("u1"),
		Permissions: memberPermissions(true),
		DocID:       "x2",
		Original:    stoker.Record{"Name": "Bo", "Client": map[string]any{"ID": "c2"}},
	})
	require.Error(t, err)
	assert.True(t, stoker.IsPermissionDenied(err))
}
