package internal

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/stokerhq/stoker"
)

// Synchronizer republishes shadow copies of changed fields into dependency and
// role-group subcollections after every committed write. Shadow state is never
// authoritative: it is reconstructable from the source record, and staleness
// after exhausted retries self-heals on the next write.
type Synchronizer struct {
	store  stoker.DocumentStore
	cache  *schemaCache
	policy stoker.RetryPolicy
}

// NewSynchronizer creates a synchronizer with the given retry bound.
func NewSynchronizer(store stoker.DocumentStore, cache *schemaCache, policy stoker.RetryPolicy) *Synchronizer {
	return &Synchronizer{store: store, cache: cache, policy: policy}
}

// changedFields returns the schema-declared fields whose values differ between
// the two snapshots. Comparison is by value inequality, not presence.
func changedFields(collection *stoker.CollectionSchema, before, after stoker.Record) []string {
	var changed []string
	for i := range collection.Fields {
		name := collection.Fields[i].Name
		var b, a any
		if before != nil {
			b = before[name]
		}
		if after != nil {
			a = after[name]
		}
		if !valuesEqual(b, a) {
			changed = append(changed, name)
		}
	}
	return changed
}

// Sync observes one committed write. Duplicate trigger deliveries and
// system-authored self-triggers are suppressed by the Last_Write_At guard: if
// the logical write timestamp did not advance, nothing happened.
func (s *Synchronizer) Sync(ctx context.Context, tenant string, source stoker.DocPath, collection *stoker.CollectionSchema, before, after stoker.Record) {
	if before != nil && after != nil &&
		valuesEqual(before[stoker.FieldLastWriteAt], after[stoker.FieldLastWriteAt]) {
		return
	}

	changed := changedFields(collection, before, after)
	if len(changed) == 0 {
		return
	}

	if err := s.publish(ctx, tenant, source, collection, changed, after); err != nil {
		zap.S().Errorw("shadow synchronization failed",
			"collection", collection.Name,
			"docId", source.ID,
			"changed", changed,
			"error", err,
		)
		EmitSyncFailure("shadow", collection.Name)
	}
}

// Rebuild recomputes every shadow projection of the record from its current
// committed state. With a nil record it clears all shadow documents.
func (s *Synchronizer) Rebuild(ctx context.Context, tenant string, source stoker.DocPath, collection *stoker.CollectionSchema, current stoker.Record) error {
	all := make([]string, 0, len(collection.Fields))
	for i := range collection.Fields {
		all = append(all, collection.Fields[i].Name)
	}
	return s.publish(ctx, tenant, source, collection, all, current)
}

// publish writes every affected shadow document inside one bounded-retry
// transaction. Each shadow document is read-modify-written in full so
// transactions over disjoint field sets never lose sibling fields.
func (s *Synchronizer) publish(ctx context.Context, tenant string, source stoker.DocPath, collection *stoker.CollectionSchema, changed []string, after stoker.Record) error {
	depIndex := s.cache.dependencyIndex()
	groups := s.cache.groupsFor(collection)

	depTargets := make(map[string]string) // shadow collection key -> field
	groupTargets := make(map[string]RoleGroup)
	for _, name := range changed {
		if depIndex.IsDependencyField(collection.Name, name) {
			depTargets[collection.Name+"-"+name] = name
		}
		for _, g := range GroupsForField(groups, name) {
			groupTargets[collection.Name+"-"+g.Key] = g
		}
	}
	if len(depTargets) == 0 && len(groupTargets) == 0 {
		return nil
	}

	attempts := 0
	err := s.store.RunTransaction(ctx, tenant, s.policy, func(tx stoker.Transaction) error {
		attempts++
		if attempts > 1 {
			EmitSyncRetry("shadow", collection.Name)
		}

		// Deterministic order keeps conflict behavior reproducible.
		for _, key := range sortedKeys(depTargets) {
			field := depTargets[key]
			path := source.Sibling(key)
			if after == nil {
				tx.Delete(path)
				continue
			}
			doc, err := tx.Get(path)
			if err != nil {
				return err
			}
			data := shadowBase(doc)
			if value, ok := after[field]; ok {
				data[field] = value
			} else {
				delete(data, field)
			}
			data[stoker.FieldLastWriteAt] = after[stoker.FieldLastWriteAt]
			tx.Set(path, data)
		}

		for _, key := range sortedGroupKeys(groupTargets) {
			group := groupTargets[key]
			path := source.Sibling(key)
			if after == nil {
				tx.Delete(path)
				continue
			}
			doc, err := tx.Get(path)
			if err != nil {
				return err
			}
			data := shadowBase(doc)
			s.applyGroupFields(collection, group, after, data)
			data[stoker.FieldLastWriteAt] = after[stoker.FieldLastWriteAt]
			tx.Set(path, data)
		}
		return nil
	})
	if err != nil {
		if stoker.IsTransactionConflict(err) {
			return stoker.NewSynchronizationFailedError(collection.Name, source.ID, s.policy.MaxAttempts, err)
		}
		return err
	}
	return nil
}

// applyGroupFields refreshes every field the group owns, including lowercase
// companions for eligible fields. Fields absent from the source are removed.
func (s *Synchronizer) applyGroupFields(collection *stoker.CollectionSchema, group RoleGroup, after stoker.Record, data stoker.Record) {
	for _, name := range group.Fields {
		field := collection.Field(name)
		value, ok := after[name]
		if ok {
			data[name] = value
		} else {
			delete(data, name)
		}

		if field != nil && IsLowercaseEligible(collection, field) {
			lowerKey := name + SuffixLowercase
			if lower, present := after[lowerKey]; present {
				data[lowerKey] = lower
			} else {
				delete(data, lowerKey)
			}
		}
	}
}

func shadowBase(doc *stoker.Document) stoker.Record {
	if doc != nil && doc.Exists {
		return cloneRecord(doc.Data)
	}
	return stoker.Record{}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedGroupKeys(m map[string]RoleGroup) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
