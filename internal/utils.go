package internal

import (
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/stokerhq/stoker"
)

// refIDs extracts the referenced document IDs from a relation value. Single
// relations store one reference object {ID, Title, ...}; multi relations store
// a map keyed by the referenced ID.
func refIDs(value any) []string {
	switch v := value.(type) {
	case map[string]any:
		if id, ok := v["ID"].(string); ok {
			return []string{id}
		}
		ids := make([]string, 0, len(v))
		for key := range v {
			ids = append(ids, key)
		}
		sort.Strings(ids)
		return ids
	case stoker.Record:
		return refIDs(map[string]any(v))
	}
	return nil
}

// refObject returns the reference object for one referenced ID, or nil.
func refObject(value any, id string) map[string]any {
	switch v := value.(type) {
	case map[string]any:
		if got, ok := v["ID"].(string); ok {
			if got == id {
				return v
			}
			return nil
		}
		if nested, ok := v[id].(map[string]any); ok {
			return nested
		}
	case stoker.Record:
		return refObject(map[string]any(v), id)
	}
	return nil
}

// firstRef returns the first reference object of a relation value in
// deterministic (sorted-ID) order, or nil when the value holds none.
func firstRef(value any) map[string]any {
	ids := refIDs(value)
	if len(ids) == 0 {
		return nil
	}
	return refObject(value, ids[0])
}

// referencesUser reports whether the relation value references the given user
// document.
func referencesUser(value any, userID string) bool {
	if userID == "" {
		return false
	}
	for _, id := range refIDs(value) {
		if id == userID {
			return true
		}
	}
	return false
}

// timeValue coerces a stored field value to a timestamp. The Postgres store
// round-trips documents through JSONB, which renders time values as RFC3339
// strings.
func timeValue(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// valuesEqual compares two field values by deep equality. The synchronizer
// diffs on value inequality, not mere presence.
func valuesEqual(a, b any) bool {
	if a == nil && b == nil {
		return true
	}
	return reflect.DeepEqual(a, b)
}

// collapseWhitespace folds runs of whitespace into a single separator.
func collapseWhitespace(s, sep string) string {
	return strings.Join(strings.Fields(s), sep)
}

// cloneRecord returns a shallow copy of the record.
func cloneRecord(record stoker.Record) stoker.Record {
	if record == nil {
		return nil
	}
	out := make(stoker.Record, len(record))
	for k, v := range record {
		out[k] = v
	}
	return out
}

// stringValue coerces a field value to string for lowercase projection.
func stringValue(value any) (string, bool) {
	s, ok := value.(string)
	return s, ok
}
