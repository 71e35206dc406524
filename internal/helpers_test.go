package internal

import (
	"github.com/stokerhq/stoker"
)

// testSchema builds the fixture schema shared across the package tests: a
// fleet-management tenant with an auth collection, owner-restricted buildings,
// nested units, dependency-consumed vehicles, and parent-filtered contacts.
func testSchema() *stoker.CollectionsSchema {
	users := &stoker.CollectionSchema{
		Name:       "Users",
		Auth:       true,
		TitleField: "Name",
		Access: stoker.AccessBlock{
			Operations: map[stoker.Operation][]string{
				stoker.OperationRead:   {"admin", "member"},
				stoker.OperationCreate: {"admin"},
				stoker.OperationUpdate: {"admin"},
				stoker.OperationDelete: {"admin"},
			},
			Auth:       []string{"admin"},
			Assignable: []string{"manager"},
		},
		Fields: []stoker.FieldSchema{
			{Name: "Name", Type: stoker.FieldTypeString, Sorting: true},
			{Name: "Email", Type: stoker.FieldTypeString, Unique: true},
			{Name: "Role", Type: stoker.FieldTypeString},
			{Name: "Enabled", Type: stoker.FieldTypeBoolean},
		},
	}

	buildings := &stoker.CollectionSchema{
		Name:       "Buildings",
		TitleField: "Name",
		SoftDelete: &stoker.SoftDeleteConfig{
			ArchivedField:  "Archived",
			TimestampField: "Archived_At",
			RetentionDays:  30,
		},
		Access: stoker.AccessBlock{
			Operations: map[stoker.Operation][]string{
				stoker.OperationRead:   {"admin", "member"},
				stoker.OperationCreate: {"admin", "member"},
				stoker.OperationUpdate: {"admin", "member"},
				stoker.OperationDelete: {"admin", "member"},
			},
			AttributeRestrictions: []stoker.AttributeRestriction{
				{Type: stoker.RestrictionRecordOwner, Roles: []string{"member"}, Assignable: []string{"member"}},
			},
		},
		Fields: []stoker.FieldSchema{
			{Name: "Name", Type: stoker.FieldTypeString, Sorting: true, Required: true},
			{Name: "Description", Type: stoker.FieldTypeString, Access: []string{"admin"}},
			{Name: "Code", Type: stoker.FieldTypeString, Unique: true},
			{Name: "Owner", Type: stoker.FieldTypeManyToOne, Target: "Users"},
		},
	}

	units := &stoker.CollectionSchema{
		Name:   "Units",
		Parent: "Buildings",
		Access: stoker.AccessBlock{
			Operations: map[stoker.Operation][]string{
				stoker.OperationRead:   {"admin"},
				stoker.OperationCreate: {"admin"},
				stoker.OperationUpdate: {"admin"},
				stoker.OperationDelete: {"admin"},
			},
		},
		Fields: []stoker.FieldSchema{
			{Name: "Label", Type: stoker.FieldTypeString, Sorting: true},
		},
	}

	vehicles := &stoker.CollectionSchema{
		Name:       "Vehicles",
		TitleField: "Name",
		Access: stoker.AccessBlock{
			Operations: map[stoker.Operation][]string{
				stoker.OperationRead:   {"admin", "member"},
				stoker.OperationCreate: {"admin"},
				stoker.OperationUpdate: {"admin"},
				stoker.OperationDelete: {"admin"},
			},
		},
		Fields: []stoker.FieldSchema{
			{Name: "Name", Type: stoker.FieldTypeString, Sorting: true},
			{Name: "Plate", Type: stoker.FieldTypeString, Unique: true},
		},
	}

	trips := &stoker.CollectionSchema{
		Name: "Trips",
		Access: stoker.AccessBlock{
			Operations: map[stoker.Operation][]string{
				stoker.OperationRead:   {"admin", "member"},
				stoker.OperationCreate: {"admin", "member"},
				stoker.OperationUpdate: {"admin"},
				stoker.OperationDelete: {"admin"},
			},
		},
		Fields: []stoker.FieldSchema{
			{
				Name:          "Vehicle",
				Type:          stoker.FieldTypeManyToOne,
				Target:        "Vehicles",
				IncludeFields: []string{"Name"},
				DependencyFields: []stoker.DependencyField{
					{Field: "Name", Roles: []string{"member"}},
				},
			},
			{
				Name:          "Driver",
				Type:          stoker.FieldTypeOneToOne,
				Target:        "Users",
				Query:         true,
				IncludeFields: []string{"Name"},
			},
			{Name: "Distance", Type: stoker.FieldTypeNumber},
		},
	}

	clients := &stoker.CollectionSchema{
		Name: "Clients",
		Access: stoker.AccessBlock{
			Operations: map[stoker.Operation][]string{
				stoker.OperationRead:   {"admin", "member"},
				stoker.OperationCreate: {"admin"},
				stoker.OperationUpdate: {"admin"},
				stoker.OperationDelete: {"admin"},
			},
			EntityRestrictions: &stoker.EntityRestrictions{
				Assignable: []string{"member"},
				Restrictions: []stoker.EntityRestriction{
					{Type: stoker.RestrictionIndividual, Roles: []string{"member"}, CollectionField: "Managers"},
				},
			},
		},
		Fields: []stoker.FieldSchema{
			{Name: "Name", Type: stoker.FieldTypeString, Sorting: true},
			{Name: "Managers", Type: stoker.FieldTypeManyToMany, Target: "Users"},
		},
	}

	contacts := &stoker.CollectionSchema{
		Name: "Contacts",
		Access: stoker.AccessBlock{
			Operations: map[stoker.Operation][]string{
				stoker.OperationRead:   {"admin", "member"},
				stoker.OperationCreate: {"admin"},
				stoker.OperationUpdate: {"admin"},
				stoker.OperationDelete: {"admin"},
			},
			EntityRestrictions: &stoker.EntityRestrictions{
				ParentFilters: []stoker.ParentFilter{
					{Collection: "Clients", Type: stoker.RestrictionIndividual, Field: "Client"},
				},
			},
		},
		Fields: []stoker.FieldSchema{
			{Name: "Name", Type: stoker.FieldTypeString},
			{Name: "Client", Type: stoker.FieldTypeManyToOne, Target: "Clients"},
		},
	}

	return &stoker.CollectionsSchema{
		Version: 1,
		Collections: map[string]*stoker.CollectionSchema{
			"Users":     users,
			"Buildings": buildings,
			"Units":     units,
			"Vehicles":  vehicles,
			"Trips":     trips,
			"Clients":   clients,
			"Contacts":  contacts,
		},
	}
}

func adminIdentity() stoker.Identity {
	return stoker.Identity{Tenant: "t1", CurrentUserID: "admin-1", Role: "admin"}
}

func memberIdentity(userID string) stoker.Identity {
	return stoker.Identity{Tenant: "t1", CurrentUserID: userID, Role: "member"}
}

func systemIdentity() stoker.Identity {
	return stoker.Identity{Tenant: "t1"}
}

func memberPermissions(active bool) *stoker.StokerPermissions {
	return &stoker.StokerPermissions{
		Role: "member",
		Collections: map[string]stoker.CollectionPermissions{
			"Buildings": {RecordOwnerActive: active},
			"Clients":   {RestrictEntities: active},
			"Contacts":  {RestrictEntities: active},
		},
	}
}
