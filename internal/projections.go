package internal

import (
	"strings"

	"github.com/stokerhq/stoker"
)

// Projection suffixes. _Array carries the referenced IDs of a relation as a
// flat list, _Single flattens the first/only related record's included fields,
// _Lowercase carries the case-folded value for range queries the store cannot
// answer natively.
const (
	SuffixArray     = "_Array"
	SuffixSingle    = "_Single"
	SuffixLowercase = "_Lowercase"
)

// ComputeProjections returns a copy of the record with relation and lowercase
// projections recomputed from the current field values. Stale projections of
// now-absent source fields are dropped.
func ComputeProjections(collection *stoker.CollectionSchema, record stoker.Record) stoker.Record {
	out := cloneRecord(record)
	if out == nil {
		out = stoker.Record{}
	}

	for i := range collection.Fields {
		field := &collection.Fields[i]
		value, present := out[field.Name]

		if IsRelationField(field) {
			arrayKey := field.Name + SuffixArray
			singleKey := field.Name + SuffixSingle
			if !present || value == nil {
				delete(out, arrayKey)
				delete(out, singleKey)
				continue
			}
			ids := refIDs(value)
			arr := make([]any, len(ids))
			for j, id := range ids {
				arr[j] = id
			}
			out[arrayKey] = arr

			if IsSingleProjectionEligible(field) {
				if ref := firstRef(value); ref != nil {
					out[singleKey] = projectSingle(field, ref)
				} else {
					delete(out, singleKey)
				}
			}
			continue
		}

		if IsLowercaseEligible(collection, field) {
			lowerKey := field.Name + SuffixLowercase
			if s, ok := stringValue(value); present && ok {
				out[lowerKey] = strings.ToLower(s)
			} else {
				delete(out, lowerKey)
			}
		}
	}
	return out
}

// projectSingle flattens a reference object to the relation's included fields
// plus the ID and Title every reference carries.
func projectSingle(field *stoker.FieldSchema, ref map[string]any) map[string]any {
	out := make(map[string]any, len(field.IncludeFields)+2)
	if id, ok := ref["ID"]; ok {
		out["ID"] = id
	}
	if title, ok := ref["Title"]; ok {
		out["Title"] = title
	}
	for _, name := range field.IncludeFields {
		if v, ok := ref[name]; ok {
			out[name] = v
		}
	}
	return out
}
