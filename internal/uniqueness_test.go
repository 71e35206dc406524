package internal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stokerhq/stoker"
)

func TestDeriveUniqueKey(t *testing.T) {
	cases := map[string]string{
		"Main Street 5":   "main---street---5",
		"Unit 4/B":        "unit---4|||b",
		"  Spaced   Out ": "spaced---out",
		"MIXED case":      "mixed---case",
	}
	for in, want := range cases {
		assert.Equal(t, want, DeriveUniqueKey(in), in)
	}
	assert.Equal(t, "42", DeriveUniqueKey(42))
}

func uniqueFixture(t *testing.T) (*UniquenessMaintainer, *MemoryStore, *stoker.CollectionSchema, stoker.DocPath) {
	t.Helper()
	store := NewMemoryStore()
	m := NewUniquenessMaintainer(store, stoker.RetryPolicy{MaxAttempts: 3})
	collection := testSchema().Collection("Buildings")
	path := stoker.NewDocPath([]string{"Buildings"}, "b1")
	return m, store, collection, path
}

func TestMaintainClaimsNewValue(t *testing.T) {
	m, store, collection, path := uniqueFixture(t)
	ctx := context.Background()

	m.Maintain(ctx, "t1", path, collection, nil, stoker.Record{"Code": "HQ/1"})

	claim, err := store.Get(ctx, "t1", indexPath(path, "Code", DeriveUniqueKey("HQ/1")))
	require.NoError(t, err)
	require.True(t, claim.Exists)
	assert.Equal(t, "b1", claim.Data["DocID"])
	assert.Equal(t, "Buildings", claim.Data["Collection"])
	assert.Equal(t, "Code", claim.Data["Field"])
	assert.Equal(t, "HQ/1", claim.Data["Value"])
}

func TestMaintainMovesClaim(t *testing.T) {
	m, store, collection, path := uniqueFixture(t)
	ctx := context.Background()

	m.Maintain(ctx, "t1", path, collection, nil, stoker.Record{"Code": "old"})
	m.Maintain(ctx, "t1", path, collection, stoker.Record{"Code": "old"}, stoker.Record{"Code": "new"})

	old, err := store.Get(ctx, "t1", indexPath(path, "Code", "old"))
	require.NoError(t, err)
	assert.False(t, old.Exists)

	current, err := store.Get(ctx, "t1", indexPath(path, "Code", "new"))
	require.NoError(t, err)
	assert.True(t, current.Exists)
}

func TestMaintainLeavesForeignClaim(t *testing.T) {
	m, store, collection, path := uniqueFixture(t)
	ctx := context.Background()

	// Another document reclaimed the old value already.
	_, err := store.Set(ctx, "t1", indexPath(path, "Code", "old"), stoker.Record{"DocID": "b2"})
	require.NoError(t, err)

	m.Maintain(ctx, "t1", path, collection, stoker.Record{"Code": "old"}, stoker.Record{"Code": "new"})

	foreign, err := store.Get(ctx, "t1", indexPath(path, "Code", "old"))
	require.NoError(t, err)
	require.True(t, foreign.Exists)
	assert.Equal(t, "b2", foreign.Data["DocID"])
}

func TestMaintainClearsClaimOnDelete(t *testing.T) {
	m, store, collection, path := uniqueFixture(t)
	ctx := context.Background()

	m.Maintain(ctx, "t1", path, collection, nil, stoker.Record{"Code": "gone"})
	m.Maintain(ctx, "t1", path, collection, stoker.Record{"Code": "gone"}, nil)

	claim, err := store.Get(ctx, "t1", indexPath(path, "Code", "gone"))
	require.NoError(t, err)
	assert.False(t, claim.Exists)
}

func TestMaintainSkipsUnchangedValues(t *testing.T) {
	m, store, collection, path := uniqueFixture(t)
	ctx := context.Background()

	before := stoker.Record{"Code": "same", "Name": "HQ"}
	after := stoker.Record{"Code": "same", "Name": "HQ East"}
	m.Maintain(ctx, "t1", path, collection, before, after)

	claim, err := store.Get(ctx, "t1", indexPath(path, "Code", "same"))
	require.NoError(t, err)
	assert.False(t, claim.Exists)
}

func TestCheckAvailable(t *testing.T) {
	m, store, collection, path := uniqueFixture(t)
	ctx := context.Background()

	// Unclaimed value is available.
	require.NoError(t, m.CheckAvailable(ctx, "t1", path, collection, "Code", "fresh"))

	// A claim by this same document is fine.
	_, err := store.Set(ctx, "t1", indexPath(path, "Code", "mine"), stoker.Record{"DocID": "b1"})
	require.NoError(t, err)
	require.NoError(t, m.CheckAvailable(ctx, "t1", path, collection, "Code", "mine"))

	// A claim by another document is a conflict.
	_, err = store.Set(ctx, "t1", indexPath(path, "Code", "taken"), stoker.Record{"DocID": "b9"})
	require.NoError(t, err)
	err = m.CheckAvailable(ctx, "t1", path, collection, "Code", "taken")
	require.Error(t, err)
	assert.True(t, stoker.IsValidationError(err))
	var se *stoker.StokerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, stoker.ErrCodeUniqueValueTaken, se.Code)
}
