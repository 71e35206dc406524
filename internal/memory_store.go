package internal

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stokerhq/stoker"
)

// MemoryStore is an in-process DocumentStore with full optimistic-transaction
// semantics: per-document versions, read-set validation at commit, and
// conflict-bounded retries. It backs tests and local development; the Postgres
// store is the production implementation.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]*memDoc
}

type memDoc struct {
	tenant     string
	path       stoker.DocPath
	data       stoker.Record
	version    int64
	updateTime time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]*memDoc)}
}

func docKey(tenant string, path stoker.DocPath) string {
	return tenant + "|" + strings.Join(path.Collection, "/") + "|" + path.ID
}

func (s *MemoryStore) Get(ctx context.Context, tenant string, path stoker.DocPath) (*stoker.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(tenant, path), nil
}

func (s *MemoryStore) getLocked(tenant string, path stoker.DocPath) *stoker.Document {
	doc, ok := s.docs[docKey(tenant, path)]
	if !ok {
		return &stoker.Document{Path: path, Exists: false}
	}
	return &stoker.Document{
		Path:       path,
		Data:       cloneRecord(doc.data),
		UpdateTime: doc.updateTime,
		Exists:     true,
	}
}

func (s *MemoryStore) Set(ctx context.Context, tenant string, path stoker.DocPath, data stoker.Record) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setLocked(tenant, path, data), nil
}

func (s *MemoryStore) setLocked(tenant string, path stoker.DocPath, data stoker.Record) time.Time {
	key := docKey(tenant, path)
	now := time.Now().UTC()
	doc, ok := s.docs[key]
	if !ok {
		doc = &memDoc{tenant: tenant, path: path}
		s.docs[key] = doc
	}
	if !now.After(doc.updateTime) {
		now = doc.updateTime.Add(time.Microsecond)
	}
	doc.data = cloneRecord(data)
	doc.version++
	doc.updateTime = now
	return now
}

func (s *MemoryStore) Delete(ctx context.Context, tenant string, path stoker.DocPath) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, docKey(tenant, path))
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, tenant string, collection []string, wheres []stoker.Where, limit int) ([]*stoker.Document, error) {
	prefix := strings.Join(collection, "/")
	return s.query(tenant, func(doc *memDoc) bool {
		return strings.Join(doc.path.Collection, "/") == prefix
	}, wheres, limit), nil
}

func (s *MemoryStore) QueryGroup(ctx context.Context, tenant string, collectionName string, wheres []stoker.Where, limit int) ([]*stoker.Document, error) {
	return s.query(tenant, func(doc *memDoc) bool {
		return doc.path.CollectionName() == collectionName
	}, wheres, limit), nil
}

func (s *MemoryStore) query(tenant string, match func(*memDoc) bool, wheres []stoker.Where, limit int) []*stoker.Document {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.docs))
	for key, doc := range s.docs {
		if doc.tenant == tenant && match(doc) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	var out []*stoker.Document
	for _, key := range keys {
		doc := s.docs[key]
		if !matchesWheres(doc.data, wheres) {
			continue
		}
		out = append(out, &stoker.Document{
			Path:       doc.path,
			Data:       cloneRecord(doc.data),
			UpdateTime: doc.updateTime,
			Exists:     true,
		})
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func matchesWheres(data stoker.Record, wheres []stoker.Where) bool {
	for _, w := range wheres {
		if !matchesWhere(data, w) {
			return false
		}
	}
	return true
}

func matchesWhere(data stoker.Record, w stoker.Where) bool {
	value, ok := data[w.Field]
	switch w.Op {
	case stoker.WhereEquals:
		return ok && valuesEqual(value, w.Value)
	case stoker.WhereNotEquals:
		return !ok || !valuesEqual(value, w.Value)
	case stoker.WhereContains:
		if !ok {
			return false
		}
		if want, isStr := w.Value.(string); isStr {
			if referencesUser(value, want) {
				return true
			}
			if items, isList := value.([]any); isList {
				for _, item := range items {
					if valuesEqual(item, w.Value) {
						return true
					}
				}
			}
		}
		return false
	case stoker.WhereIn:
		if !ok {
			return false
		}
		if candidates, isList := w.Value.([]any); isList {
			for _, c := range candidates {
				if valuesEqual(value, c) {
					return true
				}
			}
		}
		return false
	case stoker.WhereGreaterThan, stoker.WhereLessThan, stoker.WhereGreaterEq, stoker.WhereLessEq:
		return ok && compareOrdered(value, w.Value, w.Op)
	}
	return false
}

func compareOrdered(a, b any, op stoker.WhereOp) bool {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		if !bok {
			return false
		}
		switch op {
		case stoker.WhereGreaterThan:
			return af > bf
		case stoker.WhereLessThan:
			return af < bf
		case stoker.WhereGreaterEq:
			return af >= bf
		case stoker.WhereLessEq:
			return af <= bf
		}
	}
	if at, aok := timeValue(a); aok {
		bt, bok := timeValue(b)
		if !bok {
			return false
		}
		switch op {
		case stoker.WhereGreaterThan:
			return at.After(bt)
		case stoker.WhereLessThan:
			return at.Before(bt)
		case stoker.WhereGreaterEq:
			return !at.Before(bt)
		case stoker.WhereLessEq:
			return !at.After(bt)
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if !aok || !bok {
		return false
	}
	switch op {
	case stoker.WhereGreaterThan:
		return as > bs
	case stoker.WhereLessThan:
		return as < bs
	case stoker.WhereGreaterEq:
		return as >= bs
	case stoker.WhereLessEq:
		return as <= bs
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

// memTx buffers transactional reads and writes. Reads record the observed
// version; commit validates the read set and applies writes atomically.
type memTx struct {
	store  *MemoryStore
	tenant string
	reads  map[string]int64
	writes map[string]*txWrite
	order  []string
}

type txWrite struct {
	path   stoker.DocPath
	data   stoker.Record
	delete bool
}

func (t *memTx) Get(path stoker.DocPath) (*stoker.Document, error) {
	key := docKey(t.tenant, path)
	if w, ok := t.writes[key]; ok {
		if w.delete {
			return &stoker.Document{Path: path, Exists: false}, nil
		}
		return &stoker.Document{Path: path, Data: cloneRecord(w.data), Exists: true}, nil
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	doc, ok := t.store.docs[key]
	if !ok {
		t.reads[key] = 0
		return &stoker.Document{Path: path, Exists: false}, nil
	}
	t.reads[key] = doc.version
	return &stoker.Document{
		Path:       path,
		Data:       cloneRecord(doc.data),
		UpdateTime: doc.updateTime,
		Exists:     true,
	}, nil
}

func (t *memTx) Set(path stoker.DocPath, data stoker.Record) {
	key := docKey(t.tenant, path)
	if _, ok := t.writes[key]; !ok {
		t.order = append(t.order, key)
	}
	t.writes[key] = &txWrite{path: path, data: cloneRecord(data)}
}

func (t *memTx) Delete(path stoker.DocPath) {
	key := docKey(t.tenant, path)
	if _, ok := t.writes[key]; !ok {
		t.order = append(t.order, key)
	}
	t.writes[key] = &txWrite{path: path, delete: true}
}

func (t *memTx) commit() error {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()

	for key, version := range t.reads {
		current := int64(0)
		if doc, ok := t.store.docs[key]; ok {
			current = doc.version
		}
		if current != version {
			return stoker.NewTransactionConflictError("document changed by a concurrent transaction")
		}
	}

	for _, key := range t.order {
		w := t.writes[key]
		if w.delete {
			delete(t.store.docs, key)
			continue
		}
		t.store.setLocked(t.tenant, w.path, w.data)
	}
	return nil
}

// RunTransaction executes fn inside an optimistic transaction, retrying on
// detected conflicts up to policy.MaxAttempts.
func (s *MemoryStore) RunTransaction(ctx context.Context, tenant string, policy stoker.RetryPolicy, fn func(tx stoker.Transaction) error) error {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		tx := &memTx{
			store:  s,
			tenant: tenant,
			reads:  make(map[string]int64),
			writes: make(map[string]*txWrite),
		}
		if err := fn(tx); err != nil {
			return err
		}
		err := tx.commit()
		if err == nil {
			return nil
		}
		if !stoker.IsTransactionConflict(err) {
			return err
		}
		lastErr = err
		if policy.Backoff > 0 && attempt < attempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(policy.Backoff):
			}
		}
	}
	return lastErr
}
