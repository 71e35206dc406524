package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stokerhq/stoker"
)

func TestComputeProjectionsLowercase(t *testing.T) {
	schema := testSchema()
	buildings := schema.Collection("Buildings")

	out := ComputeProjections(buildings, stoker.Record{"Name": "Harbor  House"})
	assert.Equal(t, "harbor  house", out["Name_Lowercase"])

	// Removing the source value drops the projection.
	out = ComputeProjections(buildings, stoker.Record{"Name_Lowercase": "stale"})
	_, present := out["Name_Lowercase"]
	assert.False(t, present)
}

func TestComputeProjectionsSingleRelation(t *testing.T) {
	schema := testSchema()
	buildings := schema.Collection("Buildings")

	out := ComputeProjections(buildings, stoker.Record{
		"Name":  "HQ",
		"Owner": map[string]any{"ID": "u1", "Title": "Jo"},
	})
	assert.Equal(t, []any{"u1"}, out["Owner_Array"])
	// Owner is ManyToOne without query/sorting: no _Single projection.
	_, present := out["Owner_Single"]
	assert.False(t, present)
}

func TestComputeProjectionsFlattenedSingle(t *testing.T) {
	schema := testSchema()
	trips := schema.Collection("Trips")

	out := ComputeProjections(trips, stoker.Record{
		"Driver": map[string]any{"ID": "u1", "Title": "Jo", "Name": "Jo Riley", "Ignored": true},
	})
	assert.Equal(t, []any{"u1"}, out["Driver_Array"])
	single, ok := out["Driver_Single"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "u1", single["ID"])
	assert.Equal(t, "Jo", single["Title"])
	assert.Equal(t, "Jo Riley", single["Name"])
	// Only ID, Title, and the declared include fields flatten.
	_, present := single["Ignored"]
	assert.False(t, present)
}

func TestComputeProjectionsKeyedRelation(t *testing.T) {
	schema := testSchema()
	clients := schema.Collection("Clients")

	out := ComputeProjections(clients, stoker.Record{
		"Managers": map[string]any{
			"u2": map[string]any{"ID": "u2"},
			"u1": map[string]any{"ID": "u1"},
		},
	})
	assert.Equal(t, []any{"u1", "u2"}, out["Managers_Array"])
}

func TestComputeProjectionsClearsStaleRelation(t *testing.T) {
	schema := testSchema()
	buildings := schema.Collection("Buildings")

	out := ComputeProjections(buildings, stoker.Record{
		"Name":         "HQ",
		"Owner_Array":  []any{"u1"},
		"Owner_Single": map[string]any{"ID": "u1"},
	})
	_, hasArray := out["Owner_Array"]
	_, hasSingle := out["Owner_Single"]
	assert.False(t, hasArray)
	assert.False(t, hasSingle)
}

func TestComputeProjectionsDoesNotMutateInput(t *testing.T) {
	schema := testSchema()
	buildings := schema.Collection("Buildings")
	in := stoker.Record{"Name": "HQ"}

	out := ComputeProjections(buildings, in)
	assert.NotContains(t, in, "Name_Lowercase")
	assert.Contains(t, out, "Name_Lowercase")
}
