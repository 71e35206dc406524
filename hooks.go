package stoker

import (
	"context"
)

// HookArgs carries an operation's state into a hook. Hooks may mutate Record;
// the pipeline rejects any change to system fields with SystemFieldViolation.
type HookArgs struct {
	Operation      Operation `json:"operation"`
	Collection     string    `json:"collection"`
	CollectionPath []string  `json:"collectionPath"`
	DocID          string    `json:"docId"`
	Identity       Identity  `json:"identity"`
	Record         Record    `json:"record"`
	Original       Record    `json:"original,omitempty"`
	Err            error     `json:"-"`
}

type hookKind int

const (
	hookStatic hookKind = iota
	hookSync
	hookAsync
)

// HookValue is a polymorphic customization value: a constant, a synchronous
// function, or an asynchronous function, resolved through one uniform Resolve
// call.
type HookValue[T any] struct {
	kind    hookKind
	static  T
	syncFn  func(*HookArgs) (T, error)
	asyncFn func(context.Context, *HookArgs) (T, error)
}

// StaticHook wraps a constant value.
func StaticHook[T any](v T) HookValue[T] {
	return HookValue[T]{kind: hookStatic, static: v}
}

// SyncHook wraps a synchronous function.
func SyncHook[T any](fn func(*HookArgs) (T, error)) HookValue[T] {
	return HookValue[T]{kind: hookSync, syncFn: fn}
}

// AsyncHook wraps a context-aware function.
func AsyncHook[T any](fn func(context.Context, *HookArgs) (T, error)) HookValue[T] {
	return HookValue[T]{kind: hookAsync, asyncFn: fn}
}

// Resolve evaluates the hook value.
func (h HookValue[T]) Resolve(ctx context.Context, args *HookArgs) (T, error) {
	switch h.kind {
	case hookSync:
		if h.syncFn != nil {
			return h.syncFn(args)
		}
	case hookAsync:
		if h.asyncFn != nil {
			return h.asyncFn(ctx, args)
		}
	}
	return h.static, nil
}

// Hook is a pipeline hook. A resolved false vetoes the operation with a
// Cancelled error.
type Hook = HookValue[bool]

// Hooks groups the pipeline extension points for one collection.
type Hooks struct {
	PreOperation   *Hook
	PreWrite       *Hook
	PostWrite      *Hook
	PostWriteError *Hook
}

// HookSet maps collection names to their registered hooks.
type HookSet map[string]*Hooks

// For returns the hooks registered for a collection, or nil.
func (s HookSet) For(collection string) *Hooks {
	if s == nil {
		return nil
	}
	return s[collection]
}
