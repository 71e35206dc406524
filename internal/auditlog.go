package internal

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/stokerhq/stoker"
)

// WriteLogCollection is the per-document subcollection holding audit entries.
const WriteLogCollection = "Write_Log"

// AuditLog appends per-attempt write lifecycle records under each document.
// Entries are secondary, non-authoritative data: a failed audit write is
// logged and swallowed, never surfaced as failure of the primary operation.
type AuditLog struct {
	store stoker.DocumentStore
	cfg   stoker.AuditLogConfig
}

// NewAuditLog creates an audit log writer.
func NewAuditLog(store stoker.DocumentStore, cfg stoker.AuditLogConfig) *AuditLog {
	return &AuditLog{store: store, cfg: cfg}
}

// AuditEntry is the handle for one write attempt's lifecycle record.
type AuditEntry struct {
	log    *AuditLog
	tenant string
	path   stoker.DocPath
	entry  stoker.WriteLogEntry
}

// Begin opens a new audit entry with status started. Each attempt gets its own
// document keyed {writerId}-{writeTimestamp}; entries are never rewritten
// under a different key.
func (l *AuditLog) Begin(ctx context.Context, tenant string, source stoker.DocPath, op stoker.Operation, identity stoker.Identity, data, original stoker.Record) *AuditEntry {
	if l == nil || !l.cfg.Enabled {
		return nil
	}
	now := time.Now().UTC()
	writer := identity.CurrentUserID
	if writer == "" {
		writer = "server"
	}

	strippedData, _ := stoker.StripDeleteSentinels(data)
	strippedOriginal, _ := stoker.StripDeleteSentinels(original)

	entry := stoker.WriteLogEntry{
		Operation:      op,
		Collection:     source.CollectionName(),
		DocID:          source.ID,
		User:           identity.CurrentUserID,
		Status:         stoker.WriteStatusStarted,
		CollectionPath: source.Collection,
		StartedAt:      now,
		UpdatedAt:      now,
		Data: stoker.WriteLogData{
			Data:           strippedData,
			OriginalRecord: strippedOriginal,
		},
	}
	if l.cfg.TTLDays > 0 {
		expires := now.AddDate(0, 0, l.cfg.TTLDays)
		entry.ExpiresAt = &expires
	}

	e := &AuditEntry{
		log:    l,
		tenant: tenant,
		path:   source.Child(WriteLogCollection, writer+"-"+strconv.FormatInt(now.UnixNano(), 10)),
		entry:  entry,
	}
	e.flush(ctx)
	return e
}

// MarkWritten records that the primary document committed.
func (e *AuditEntry) MarkWritten(ctx context.Context) {
	e.transition(ctx, stoker.WriteStatusWritten, nil)
}

// MarkSuccess records full completion of the write lifecycle.
func (e *AuditEntry) MarkSuccess(ctx context.Context) {
	e.transition(ctx, stoker.WriteStatusSuccess, nil)
}

// MarkFailed records the failure with its serialized cause.
func (e *AuditEntry) MarkFailed(ctx context.Context, cause error) {
	e.transition(ctx, stoker.WriteStatusFailed, cause)
}

func (e *AuditEntry) transition(ctx context.Context, status stoker.WriteStatus, cause error) {
	if e == nil {
		return
	}
	e.entry.Status = status
	e.entry.UpdatedAt = time.Now().UTC()
	if cause != nil {
		e.entry.Data.Error = cause.Error()
	}
	e.flush(ctx)
}

func (e *AuditEntry) flush(ctx context.Context) {
	if e == nil {
		return
	}
	if _, err := e.log.store.Set(ctx, e.tenant, e.path, e.record()); err != nil {
		zap.S().Warnw("audit log write failed",
			"collection", e.entry.Collection,
			"docId", e.entry.DocID,
			"status", e.entry.Status,
			"error", err,
		)
	}
}

// record flattens the entry into store fields. The TTL field carries the
// expiry so the store's native mechanism reaps old entries without a sweep
// job.
func (e *AuditEntry) record() stoker.Record {
	data := stoker.Record{
		"Operation":                string(e.entry.Operation),
		"Collection":               e.entry.Collection,
		"DocID":                    e.entry.DocID,
		"User":                     e.entry.User,
		"Status":                   string(e.entry.Status),
		stoker.FieldCollectionPath: joinPath(e.entry.CollectionPath),
		"Started_At":               e.entry.StartedAt,
		"Updated_At":               e.entry.UpdatedAt,
		"Data": map[string]any{
			"data":           map[string]any(e.entry.Data.Data),
			"originalRecord": map[string]any(e.entry.Data.OriginalRecord),
			"error":          e.entry.Data.Error,
		},
	}
	if e.entry.ExpiresAt != nil {
		data[stoker.TTLField] = *e.entry.ExpiresAt
	}
	return data
}

func joinPath(segments []string) string {
	out := ""
	for i, s := range segments {
		if i > 0 {
			out += "/"
		}
		out += s
	}
	return out
}

// Expired returns audit entries whose TTL elapsed before the cutoff, for
// archival. The store's own TTL reaping remains primary; this exists so the
// archiver can copy entries out before they disappear.
func (l *AuditLog) Expired(ctx context.Context, tenant string, cutoff time.Time, limit int) ([]*stoker.Document, error) {
	docs, err := l.store.QueryGroup(ctx, tenant, WriteLogCollection, []stoker.Where{
		{Field: stoker.TTLField, Op: stoker.WhereLessEq, Value: cutoff},
	}, limit)
	if err != nil {
		return nil, fmt.Errorf("query expired audit entries: %w", err)
	}
	return docs, nil
}
