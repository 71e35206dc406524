package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/stokerhq/stoker"
)

// PostgresStore implements the document store over Postgres JSONB. Documents
// live in one table keyed (tenant, path, doc_id) with the full collection path
// flattened into path and the leaf collection name denormalized for group
// queries. Optimistic transactions run at serializable isolation; a
// serialization failure surfaces as a retryable conflict.
type PostgresStore struct {
	pool   pgxPool
	table  string
	config stoker.StoreConfig
}

// pgxPool is the slice of pgxpool.Pool the store uses. Tests substitute a
// pgxmock pool here.
type pgxPool interface {
	querier
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Ping(ctx context.Context) error
}

// NewPostgresStore creates a store over the given pool.
func NewPostgresStore(pool *pgxpool.Pool, tables stoker.TableNames, config stoker.StoreConfig) *PostgresStore {
	table := tables.Documents
	if table == "" {
		table = "stoker_documents"
	}
	return &PostgresStore{pool: pool, table: table, config: config}
}

// DocumentsTableDDL returns the schema of the documents table.
func DocumentsTableDDL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    tenant          TEXT NOT NULL,
    path            TEXT NOT NULL,
    collection_name TEXT NOT NULL,
    doc_id          TEXT NOT NULL,
    data            JSONB NOT NULL,
    version         BIGINT NOT NULL DEFAULT 1,
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
    expires_at      TIMESTAMPTZ,
    PRIMARY KEY (tenant, path, doc_id)
);
CREATE INDEX IF NOT EXISTS %s_group_idx ON %s (tenant, collection_name);
CREATE INDEX IF NOT EXISTS %s_expires_idx ON %s (expires_at) WHERE expires_at IS NOT NULL;`,
		table, table, table, table, table)
}

func pathKey(p stoker.DocPath) string {
	return strings.Join(p.Collection, "/")
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *PostgresStore) Get(ctx context.Context, tenant string, path stoker.DocPath) (*stoker.Document, error) {
	return s.get(ctx, s.pool, tenant, path)
}

func (s *PostgresStore) get(ctx context.Context, q querier, tenant string, path stoker.DocPath) (*stoker.Document, error) {
	query := fmt.Sprintf(
		"SELECT data, updated_at FROM %s WHERE tenant = $1 AND path = $2 AND doc_id = $3",
		s.table,
	)
	var raw []byte
	var updatedAt time.Time
	err := q.QueryRow(ctx, query, tenant, pathKey(path), path.ID).Scan(&raw, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return &stoker.Document{Path: path, Exists: false}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", pathKey(path), path.ID, err)
	}
	var data stoker.Record
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", pathKey(path), path.ID, err)
	}
	return &stoker.Document{Path: path, Data: data, UpdateTime: updatedAt, Exists: true}, nil
}

func (s *PostgresStore) Set(ctx context.Context, tenant string, path stoker.DocPath, data stoker.Record) (time.Time, error) {
	tag, err := s.set(ctx, s.pool, tenant, path, data)
	return tag, err
}

func (s *PostgresStore) set(ctx context.Context, q querier, tenant string, path stoker.DocPath, data stoker.Record) (time.Time, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return time.Time{}, fmt.Errorf("encode %s/%s: %w", pathKey(path), path.ID, err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (tenant, path, collection_name, doc_id, data, expires_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (tenant, path, doc_id) DO UPDATE
SET data = EXCLUDED.data,
    expires_at = EXCLUDED.expires_at,
    version = %s.version + 1,
    updated_at = now()
RETURNING updated_at`, s.table, s.table)

	var updatedAt time.Time
	err = q.QueryRow(ctx, query,
		tenant, pathKey(path), path.CollectionName(), path.ID, raw, ttlValue(data),
	).Scan(&updatedAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("set %s/%s: %w", pathKey(path), path.ID, err)
	}
	return updatedAt, nil
}

// ttlValue extracts the native TTL field so the reaper can work off an
// indexed column instead of scanning JSONB.
func ttlValue(data stoker.Record) *time.Time {
	switch v := data[stoker.TTLField].(type) {
	case time.Time:
		return &v
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return &t
		}
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, tenant string, path stoker.DocPath) error {
	return s.delete(ctx, s.pool, tenant, path)
}

func (s *PostgresStore) delete(ctx context.Context, q querier, tenant string, path stoker.DocPath) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE tenant = $1 AND path = $2 AND doc_id = $3", s.table)
	if _, err := q.Exec(ctx, query, tenant, pathKey(path), path.ID); err != nil {
		return fmt.Errorf("delete %s/%s: %w", pathKey(path), path.ID, err)
	}
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, tenant string, collection []string, wheres []stoker.Where, limit int) ([]*stoker.Document, error) {
	clause, args, err := buildWhereClause(wheres, 3)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(
		"SELECT path, doc_id, data, updated_at FROM %s WHERE tenant = $1 AND path = $2%s ORDER BY doc_id",
		s.table, clause,
	)
	all := append([]any{tenant, strings.Join(collection, "/")}, args...)
	return s.queryDocs(ctx, query, all, limit)
}

func (s *PostgresStore) QueryGroup(ctx context.Context, tenant string, collectionName string, wheres []stoker.Where, limit int) ([]*stoker.Document, error) {
	clause, args, err := buildWhereClause(wheres, 3)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(
		"SELECT path, doc_id, data, updated_at FROM %s WHERE tenant = $1 AND collection_name = $2%s ORDER BY path, doc_id",
		s.table, clause,
	)
	all := append([]any{tenant, collectionName}, args...)
	return s.queryDocs(ctx, query, all, limit)
}

func (s *PostgresStore) queryDocs(ctx context.Context, query string, args []any, limit int) ([]*stoker.Document, error) {
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	if s.config.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.QueryTimeout)
		defer cancel()
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []*stoker.Document
	for rows.Next() {
		var pathStr, docID string
		var raw []byte
		var updatedAt time.Time
		if err := rows.Scan(&pathStr, &docID, &raw, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		var data stoker.Record
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", pathStr, docID, err)
		}
		docs = append(docs, &stoker.Document{
			Path:       stoker.NewDocPath(strings.Split(pathStr, "/"), docID),
			Data:       data,
			UpdateTime: updatedAt,
			Exists:     true,
		})
	}
	return docs, rows.Err()
}

// buildWhereClause translates filters into JSONB predicates. Field names come
// from the schema, never raw caller input, but are still quote-escaped.
func buildWhereClause(wheres []stoker.Where, firstArg int) (string, []any, error) {
	var sb strings.Builder
	var args []any
	n := firstArg
	for _, w := range wheres {
		field := strings.ReplaceAll(w.Field, "'", "''")
		switch w.Op {
		case stoker.WhereEquals, stoker.WhereNotEquals,
			stoker.WhereGreaterThan, stoker.WhereLessThan,
			stoker.WhereGreaterEq, stoker.WhereLessEq:
			raw, err := json.Marshal(w.Value)
			if err != nil {
				return "", nil, fmt.Errorf("encode filter value for %s: %w", w.Field, err)
			}
			fmt.Fprintf(&sb, " AND data->'%s' %s $%d::jsonb", field, sqlOp(w.Op), n)
			args = append(args, string(raw))
			n++
		case stoker.WhereIn:
			raw, err := json.Marshal(w.Value)
			if err != nil {
				return "", nil, fmt.Errorf("encode filter value for %s: %w", w.Field, err)
			}
			// jsonb array membership: value <@ candidates
			fmt.Fprintf(&sb, " AND data->'%s' <@ $%d::jsonb", field, n)
			args = append(args, string(raw))
			n++
		case stoker.WhereContains:
			raw, err := json.Marshal(w.Value)
			if err != nil {
				return "", nil, fmt.Errorf("encode filter value for %s: %w", w.Field, err)
			}
			// Matches list membership, reference-object identity, and keyed
			// reference maps, mirroring how relation values are stored.
			fmt.Fprintf(&sb,
				" AND (data->'%s' @> $%d::jsonb OR data->'%s'->>'ID' = $%d OR data->'%s' ? $%d)",
				field, n, field, n+1, field, n+1)
			args = append(args, string(raw), fmt.Sprintf("%v", w.Value))
			n += 2
		default:
			return "", nil, fmt.Errorf("unsupported filter op %q", w.Op)
		}
	}
	return sb.String(), args, nil
}

func sqlOp(op stoker.WhereOp) string {
	switch op {
	case stoker.WhereEquals:
		return "="
	case stoker.WhereNotEquals:
		return "<>"
	case stoker.WhereGreaterThan:
		return ">"
	case stoker.WhereLessThan:
		return "<"
	case stoker.WhereGreaterEq:
		return ">="
	case stoker.WhereLessEq:
		return "<="
	}
	return "="
}

// pgTx buffers transaction writes so they apply in order at commit, after fn
// has finished without error.
type pgTx struct {
	store  *PostgresStore
	tx     pgx.Tx
	ctx    context.Context
	tenant string
	writes []pgWrite
}

type pgWrite struct {
	path   stoker.DocPath
	data   stoker.Record
	delete bool
}

func (t *pgTx) Get(path stoker.DocPath) (*stoker.Document, error) {
	return t.store.get(t.ctx, t.tx, t.tenant, path)
}

func (t *pgTx) Set(path stoker.DocPath, data stoker.Record) {
	t.writes = append(t.writes, pgWrite{path: path, data: cloneRecord(data)})
}

func (t *pgTx) Delete(path stoker.DocPath) {
	t.writes = append(t.writes, pgWrite{path: path, delete: true})
}

func (t *pgTx) flush() error {
	for _, w := range t.writes {
		if w.delete {
			if err := t.store.delete(t.ctx, t.tx, t.tenant, w.path); err != nil {
				return err
			}
			continue
		}
		if _, err := t.store.set(t.ctx, t.tx, t.tenant, w.path, w.data); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) RunTransaction(ctx context.Context, tenant string, policy stoker.RetryPolicy, fn func(tx stoker.Transaction) error) error {
	attempts := policy.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := s.runOnce(ctx, tenant, fn)
		if err == nil {
			return nil
		}
		if !isSerializationFailure(err) {
			return err
		}
		lastErr = err
		if attempt < attempts && policy.Backoff > 0 {
			select {
			case <-time.After(policy.Backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return stoker.NewTransactionConflictError(
		fmt.Sprintf("transaction retries exhausted after %d attempts", attempts)).WithCause(lastErr)
}

func (s *PostgresStore) runOnce(ctx context.Context, tenant string, fn func(tx stoker.Transaction) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			zap.S().Warnw("transaction rollback failed", "error", err)
		}
	}()

	wrapped := &pgTx{store: s, tx: tx, ctx: ctx, tenant: tenant}
	if err := fn(wrapped); err != nil {
		return err
	}
	if err := wrapped.flush(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// isSerializationFailure matches Postgres serialization and deadlock aborts,
// the two retryable transaction outcomes.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// ReapExpired removes documents whose native TTL elapsed. Returns the number
// of removed rows.
func (s *PostgresStore) ReapExpired(ctx context.Context, now time.Time) (int64, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at <= $1", s.table)
	tag, err := s.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("reap expired documents: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Ping checks store connectivity for health probes.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
