package stoker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticHook(t *testing.T) {
	ok, err := StaticHook(true).Resolve(context.Background(), &HookArgs{})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = StaticHook(false).Resolve(context.Background(), &HookArgs{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSyncHook(t *testing.T) {
	h := SyncHook(func(args *HookArgs) (bool, error) {
		return args.Operation == OperationCreate, nil
	})

	ok, err := h.Resolve(context.Background(), &HookArgs{Operation: OperationCreate})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Resolve(context.Background(), &HookArgs{Operation: OperationDelete})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAsyncHook(t *testing.T) {
	boom := errors.New("boom")
	h := AsyncHook(func(ctx context.Context, args *HookArgs) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		return false, boom
	})

	_, err := h.Resolve(context.Background(), &HookArgs{})
	require.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.Resolve(ctx, &HookArgs{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestHookValueZeroValue(t *testing.T) {
	// A zero hook value resolves to the zero result.
	var h Hook
	ok, err := h.Resolve(context.Background(), &HookArgs{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHookSetFor(t *testing.T) {
	var nilSet HookSet
	assert.Nil(t, nilSet.For("Buildings"))

	pre := StaticHook(true)
	set := HookSet{"Buildings": {PreWrite: &pre}}
	require.NotNil(t, set.For("Buildings"))
	assert.NotNil(t, set.For("Buildings").PreWrite)
	assert.Nil(t, set.For("Vehicles"))
}
