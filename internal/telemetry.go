package internal

import (
	"sync"
)

// Lightweight telemetry hook layer. Callers may register a real metrics
// emitter (or a test stub) via RegisterTelemetryEmitter; the default is a
// no-op, avoiding any hard dependency on a metrics SDK.

type telemetryEmitter func(name string, labels map[string]string, value any)

var (
	teleMu   sync.Mutex
	teleImpl telemetryEmitter = func(name string, labels map[string]string, value any) {
		// noop by default
	}
)

// RegisterTelemetryEmitter registers a custom emitter function. Passing nil
// restores the no-op emitter.
func RegisterTelemetryEmitter(fn telemetryEmitter) {
	teleMu.Lock()
	defer teleMu.Unlock()
	if fn == nil {
		teleImpl = func(name string, labels map[string]string, value any) {}
		return
	}
	teleImpl = fn
}

func emit(name string, labels map[string]string, value any) {
	teleMu.Lock()
	fn := teleImpl
	teleMu.Unlock()
	fn(name, labels, value)
}

// EmitAccessDenied counts access-check denials per collection and operation.
func EmitAccessDenied(collection, operation string) {
	emit("stoker_access_denied_total", map[string]string{
		"collection": collection,
		"operation":  operation,
	}, int64(1))
}

// EmitSyncRetry counts shadow/unique transaction retries.
func EmitSyncRetry(kind, collection string) {
	emit("stoker_sync_retry_total", map[string]string{
		"kind":       kind,
		"collection": collection,
	}, int64(1))
}

// EmitSyncFailure counts transactions that exhausted their retry bound.
func EmitSyncFailure(kind, collection string) {
	emit("stoker_sync_failure_total", map[string]string{
		"kind":       kind,
		"collection": collection,
	}, int64(1))
}

// EmitWriteLatency records end-to-end pipeline latency in milliseconds.
func EmitWriteLatency(collection, operation string, ms int64) {
	emit("stoker_write_latency_ms", map[string]string{
		"collection": collection,
		"operation":  operation,
	}, ms)
}
