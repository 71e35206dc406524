package internal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stokerhq/stoker"
)

func syncFixture(t *testing.T) (*Synchronizer, *MemoryStore, *stoker.CollectionsSchema) {
	t.Helper()
	schema := testSchema()
	store := NewMemoryStore()
	cache := newSchemaCache(schema)
	return NewSynchronizer(store, cache, stoker.RetryPolicy{MaxAttempts: 3}), store, schema
}

func TestSyncPublishesDependencyShadow(t *testing.T) {
	s, store, schema := syncFixture(t)
	ctx := context.Background()
	vehicles := schema.Collection("Vehicles")
	path := stoker.NewDocPath([]string{"Vehicles"}, "v1")
	now := time.Now().UTC()

	after := stoker.Record{
		"Name":                  "Truck 9",
		"Name_Lowercase":        "truck 9",
		"Plate":                 "AA-1",
		stoker.FieldLastWriteAt: now,
	}
	s.Sync(ctx, "t1", path, vehicles, nil, after)

	shadow, err := store.Get(ctx, "t1", path.Sibling("Vehicles-Name"))
	require.NoError(t, err)
	require.True(t, shadow.Exists)
	assert.Equal(t, "Truck 9", shadow.Data["Name"])
	assert.Equal(t, now, shadow.Data[stoker.FieldLastWriteAt])
	// The dependency shadow carries only the declared field.
	_, hasPlate := shadow.Data["Plate"]
	assert.False(t, hasPlate)
}

func TestSyncPublishesRoleGroupShadow(t *testing.T) {
	s, store, schema := syncFixture(t)
	ctx := context.Background()
	vehicles := schema.Collection("Vehicles")
	path := stoker.NewDocPath([]string{"Vehicles"}, "v1")
	now := time.Now().UTC()

	after := stoker.Record{
		"Name":                  "Truck 9",
		"Name_Lowercase":        "truck 9",
		"Plate":                 "AA-1",
		stoker.FieldLastWriteAt: now,
	}
	s.Sync(ctx, "t1", path, vehicles, nil, after)

	group, err := store.Get(ctx, "t1", path.Sibling("Vehicles-admin.member"))
	require.NoError(t, err)
	require.True(t, group.Exists)
	assert.Equal(t, "Truck 9", group.Data["Name"])
	assert.Equal(t, "truck 9", group.Data["Name_Lowercase"])
	assert.Equal(t, "AA-1", group.Data["Plate"])
}

func TestSyncSkipsWhenWriteTimestampUnchanged(t *testing.T) {
	s, store, schema := syncFixture(t)
	ctx := context.Background()
	vehicles := schema.Collection("Vehicles")
	path := stoker.NewDocPath([]string{"Vehicles"}, "v1")
	now := time.Now().UTC()

	before := stoker.Record{"Name": "Truck", stoker.FieldLastWriteAt: now}
	after := stoker.Record{"Name": "Changed", stoker.FieldLastWriteAt: now}
	s.Sync(ctx, "t1", path, vehicles, before, after)

	shadow, err := store.Get(ctx, "t1", path.Sibling("Vehicles-Name"))
	require.NoError(t, err)
	assert.False(t, shadow.Exists)
}

func TestSyncPreservesSiblingShadowFields(t *testing.T) {
	s, store, schema := syncFixture(t)
	ctx := context.Background()
	vehicles := schema.Collection("Vehicles")
	path := stoker.NewDocPath([]string{"Vehicles"}, "v1")

	t1 := time.Now().UTC()
	s.Sync(ctx, "t1", path, vehicles, nil, stoker.Record{
		"Name":                  "Truck",
		"Plate":                 "AA-1",
		stoker.FieldLastWriteAt: t1,
	})

	// A later write changing only the plate must not lose Name in the group
	// shadow.
	t2 := t1.Add(time.Second)
	s.Sync(ctx, "t1", path, vehicles,
		stoker.Record{"Name": "Truck", "Plate": "AA-1", stoker.FieldLastWriteAt: t1},
		stoker.Record{"Name": "Truck", "Plate": "BB-2", stoker.FieldLastWriteAt: t2},
	)

	group, err := store.Get(ctx, "t1", path.Sibling("Vehicles-admin.member"))
	require.NoError(t, err)
	require.True(t, group.Exists)
	assert.Equal(t, "Truck", group.Data["Name"])
	assert.Equal(t, "BB-2", group.Data["Plate"])
}

func TestSyncDeleteClearsShadows(t *testing.T) {
	s, store, schema := syncFixture(t)
	ctx := context.Background()
	vehicles := schema.Collection("Vehicles")
	path := stoker.NewDocPath([]string{"Vehicles"}, "v1")
	now := time.Now().UTC()

	before := stoker.Record{"Name": "Truck", "Plate": "AA-1", stoker.FieldLastWriteAt: now}
	s.Sync(ctx, "t1", path, vehicles, nil, before)
	s.Sync(ctx, "t1", path, vehicles, before, nil)

	for _, shadowName := range []string{"Vehicles-Name", "Vehicles-admin.member"} {
		doc, err := store.Get(ctx, "t1", path.Sibling(shadowName))
		require.NoError(t, err)
		assert.False(t, doc.Exists, shadowName)
	}
}

func TestRebuildRestoresShadows(t *testing.T) {
	s, store, schema := syncFixture(t)
	ctx := context.Background()
	vehicles := schema.Collection("Vehicles")
	path := stoker.NewDocPath([]string{"Vehicles"}, "v1")
	now := time.Now().UTC()

	current := stoker.Record{"Name": "Truck", "Plate": "AA-1", stoker.FieldLastWriteAt: now}
	require.NoError(t, s.Rebuild(ctx, "t1", path, vehicles, current))

	// Corrupt one shadow, rebuild, expect repair. Rebuild is idempotent.
	require.NoError(t, store.Delete(ctx, "t1", path.Sibling("Vehicles-Name")))
	require.NoError(t, s.Rebuild(ctx, "t1", path, vehicles, current))
	require.NoError(t, s.Rebuild(ctx, "t1", path, vehicles, current))

	shadow, err := store.Get(ctx, "t1", path.Sibling("Vehicles-Name"))
	require.NoError(t, err)
	require.True(t, shadow.Exists)
	assert.Equal(t, "Truck", shadow.Data["Name"])
}

func TestChangedFields(t *testing.T) {
	vehicles := testSchema().Collection("Vehicles")

	changed := changedFields(vehicles,
		stoker.Record{"Name": "Truck", "Plate": "AA-1"},
		stoker.Record{"Name": "Truck", "Plate": "BB-2"},
	)
	assert.Equal(t, []string{"Plate"}, changed)

	// Presence changes count as changes; undeclared fields do not.
	changed = changedFields(vehicles,
		stoker.Record{"Name": "Truck", "Extra": 1},
		stoker.Record{"Extra": 2},
	)
	assert.Equal(t, []string{"Name"}, changed)
}
