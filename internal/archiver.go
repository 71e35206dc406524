package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/stokerhq/stoker"
)

// s3Putter is the slice of the S3 API the archiver needs.
type s3Putter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Archiver copies expired audit entries to S3 before the store's TTL reaping
// removes them. Archival is best effort per entry: a failed upload leaves the
// entry in place for the next sweep.
type Archiver struct {
	client s3Putter
	audit  *AuditLog
	store  stoker.DocumentStore
	cfg    stoker.ArchiveConfig
}

// NewArchiver builds an archiver with AWS credentials resolved from the
// default chain.
func NewArchiver(ctx context.Context, audit *AuditLog, store stoker.DocumentStore, cfg stoker.ArchiveConfig) (*Archiver, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewArchiverWithClient(s3.NewFromConfig(awsCfg), audit, store, cfg), nil
}

// NewArchiverWithClient builds an archiver over a pre-built client. Tests
// inject a stub here.
func NewArchiverWithClient(client s3Putter, audit *AuditLog, store stoker.DocumentStore, cfg stoker.ArchiveConfig) *Archiver {
	return &Archiver{client: client, audit: audit, store: store, cfg: cfg}
}

// Sweep archives up to limit expired audit entries for the tenant and deletes
// the archived originals. Returns the number archived.
func (a *Archiver) Sweep(ctx context.Context, tenant string, now time.Time, limit int) (int, error) {
	if a == nil {
		return 0, nil
	}
	docs, err := a.audit.Expired(ctx, tenant, now, limit)
	if err != nil {
		return 0, err
	}

	archived := 0
	for _, doc := range docs {
		if err := a.archiveOne(ctx, tenant, doc); err != nil {
			zap.S().Warnw("audit entry archival failed",
				"tenant", tenant,
				"path", strings.Join(doc.Path.Collection, "/"),
				"docId", doc.Path.ID,
				"error", err,
			)
			continue
		}
		if err := a.store.Delete(ctx, tenant, doc.Path); err != nil {
			zap.S().Warnw("archived audit entry delete failed",
				"tenant", tenant,
				"docId", doc.Path.ID,
				"error", err,
			)
			continue
		}
		archived++
	}
	return archived, nil
}

func (a *Archiver) archiveOne(ctx context.Context, tenant string, doc *stoker.Document) error {
	body, err := json.Marshal(doc.Data)
	if err != nil {
		return fmt.Errorf("encode audit entry: %w", err)
	}
	key := a.objectKey(tenant, doc)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put s3://%s/%s: %w", a.cfg.Bucket, key, err)
	}
	return nil
}

// objectKey lays entries out as {prefix}/{tenant}/{collection path}/{id}.json
// so per-tenant and per-record listings are plain prefix scans.
func (a *Archiver) objectKey(tenant string, doc *stoker.Document) string {
	parts := make([]string, 0, len(doc.Path.Collection)+3)
	if a.cfg.Prefix != "" {
		parts = append(parts, strings.Trim(a.cfg.Prefix, "/"))
	}
	parts = append(parts, tenant)
	parts = append(parts, doc.Path.Collection...)
	parts = append(parts, doc.Path.ID+".json")
	return strings.Join(parts, "/")
}
