package internal

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/stokerhq/stoker"
)

// DeriveUniqueKey normalizes a unique-field value into a store-safe index
// document ID: lowercase, whitespace collapsed to ---, and / escaped to |||
// because the store forbids slashes in identifiers.
func DeriveUniqueKey(value any) string {
	s := fmt.Sprintf("%v", value)
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "/", "|||")
	return collapseWhitespace(s, "---")
}

// UniquenessMaintainer keeps the per-field unique-value index consistent with
// record values: one index document per distinct normalized value, existence
// meaning the value is taken.
type UniquenessMaintainer struct {
	store  stoker.DocumentStore
	policy stoker.RetryPolicy
}

// NewUniquenessMaintainer creates a maintainer with the given retry bound.
func NewUniquenessMaintainer(store stoker.DocumentStore, policy stoker.RetryPolicy) *UniquenessMaintainer {
	return &UniquenessMaintainer{store: store, policy: policy}
}

// indexPath addresses the index document for one value of one unique field.
// The index lives in a sibling collection {collection}-{field}-Unique, keyed
// by the normalized value, one doc per value.
func indexPath(source stoker.DocPath, field string, key string) stoker.DocPath {
	path := source.Sibling(source.CollectionName() + "-" + field + "-Unique")
	path.ID = key
	return path
}

// CheckAvailable rejects a value already claimed by a different document. The
// pipeline calls this before commit so a conflicting write never lands.
func (m *UniquenessMaintainer) CheckAvailable(ctx context.Context, tenant string, source stoker.DocPath, collection *stoker.CollectionSchema, field string, value any) error {
	key := DeriveUniqueKey(value)
	doc, err := m.store.Get(ctx, tenant, indexPath(source, field, key))
	if err != nil {
		return fmt.Errorf("read unique index for %s.%s: %w", collection.Name, field, err)
	}
	if !doc.Exists {
		return nil
	}
	claimedBy, _ := doc.Data["DocID"].(string)
	if claimedBy == source.ID {
		return nil
	}
	return stoker.NewUniqueValueTakenError(collection.Name, field, value)
}

// Maintain reconciles the unique index after a committed write: stale claims
// whose derived key no longer matches the current value are deleted and the
// new value is claimed, each field in its own bounded-retry transaction.
// Exhausted retries are logged as SynchronizationFailed and never fail the
// originating write.
func (m *UniquenessMaintainer) Maintain(ctx context.Context, tenant string, source stoker.DocPath, collection *stoker.CollectionSchema, before, after stoker.Record) {
	for i := range collection.Fields {
		field := &collection.Fields[i]
		if !field.Unique {
			continue
		}
		var oldValue, newValue any
		if before != nil {
			oldValue = before[field.Name]
		}
		if after != nil {
			newValue = after[field.Name]
		}
		if valuesEqual(oldValue, newValue) {
			continue
		}
		if err := m.reconcileField(ctx, tenant, source, collection, field.Name, oldValue, newValue); err != nil {
			zap.S().Errorw("unique index maintenance failed",
				"collection", collection.Name,
				"docId", source.ID,
				"field", field.Name,
				"error", err,
			)
			EmitSyncFailure("unique", collection.Name)
		}
	}
}

func (m *UniquenessMaintainer) reconcileField(ctx context.Context, tenant string, source stoker.DocPath, collection *stoker.CollectionSchema, field string, oldValue, newValue any) error {
	err := m.store.RunTransaction(ctx, tenant, m.policy, func(tx stoker.Transaction) error {
		if oldValue != nil {
			oldPath := indexPath(source, field, DeriveUniqueKey(oldValue))
			doc, err := tx.Get(oldPath)
			if err != nil {
				return err
			}
			// Only drop a claim this document actually holds; a concurrent
			// writer may have reclaimed the value already.
			if doc.Exists {
				if claimedBy, _ := doc.Data["DocID"].(string); claimedBy == source.ID {
					tx.Delete(oldPath)
				}
			}
		}
		if newValue != nil {
			newPath := indexPath(source, field, DeriveUniqueKey(newValue))
			tx.Set(newPath, stoker.Record{
				"Value":      newValue,
				"Collection": collection.Name,
				"Field":      field,
				"DocID":      source.ID,
			})
		}
		return nil
	})
	if err != nil {
		if stoker.IsTransactionConflict(err) {
			return stoker.NewSynchronizationFailedError(collection.Name, source.ID, m.policy.MaxAttempts, err)
		}
		return err
	}
	return nil
}
