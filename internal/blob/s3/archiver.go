package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/veridexhq/veridex/internal/domain"
)

// ResultArchiveStore provides the archiver's access to aged result rows: the
// listing that feeds a bundle and the prune that runs after the bundle has
// been verified in cold storage.
type ResultArchiveStore interface {
	// ListResultsBefore returns result rows created strictly before the
	// given cutoff time.
	ListResultsBefore(ctx context.Context, before time.Time) ([]domain.QueryResult, error)
	// DeleteResultsBefore removes result rows created strictly before the
	// cutoff and returns how many were removed.
	DeleteResultsBefore(ctx context.Context, before time.Time) (int64, error)
}

// BlobStore combines the object-storage operations the archiver needs after
// an upload: the read-back that verifies the bundle and the cleanup of
// per-query raw objects whose rows have been pruned.
type BlobStore interface {
	domain.BlobReader
	domain.BlobDeleter
}

// ArchiveImpl implements domain.Archiver: it uploads the raw per-provider
// output of each executed query, and bundles aged result rows into dated
// JSONL files. Once a bundle has been read back and verified, the bundled
// rows are pruned from the primary store and their raw objects deleted.
type ArchiveImpl struct {
	writer  domain.BlobWriter
	blobs   BlobStore
	results ResultArchiveStore
	audit   domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl. audit may be nil.
func NewArchiver(writer domain.BlobWriter, blobs BlobStore, results ResultArchiveStore, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer:  writer,
		blobs:   blobs,
		results: results,
		audit:   audit,
	}
}

// ArchiveRaw uploads the raw provider results for one executed query and
// returns the object path:
//
//	queries/raw/2025-01-31/<query_id>.json
func (a *ArchiveImpl) ArchiveRaw(ctx context.Context, queryID string, raw []domain.ProviderResult) (string, error) {
	buf, err := json.Marshal(raw)
	if err != nil {
		return "", fmt.Errorf("s3blob: marshal raw results for %s: %w", queryID, err)
	}

	path := rawPath(queryID, time.Now().UTC())
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/json"); err != nil {
		return "", fmt.Errorf("s3blob: upload raw results for %s: %w", queryID, err)
	}
	return path, nil
}

// ArchiveCompleted bundles all result rows created before the cutoff into a
// JSONL file at archive/results/YYYY-MM.jsonl, reads the object back to
// verify the upload, then prunes the bundled rows from the primary store and
// deletes their per-query raw objects. A verification failure leaves the
// rows in place so the next pass retries the same batch. The archival event
// is recorded in the audit log and the count of archived records is returned.
func (a *ArchiveImpl) ArchiveCompleted(ctx context.Context, before time.Time) (int64, error) {
	results, err := a.results.ListResultsBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive results query: %w", err)
	}
	if len(results) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(results)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive results marshal: %w", err)
	}

	path := archivePath("results", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive results upload: %w", err)
	}

	if err := a.verify(ctx, path, int64(len(buf))); err != nil {
		return 0, err
	}

	pruned, err := a.results.DeleteResultsBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: prune archived results: %w", err)
	}

	count := int64(len(results))

	// The bundle carries the raw output, so the per-query objects are
	// redundant once their rows are gone. Best-effort: a leftover object
	// only wastes space.
	for _, r := range results {
		_ = a.blobs.Delete(ctx, rawPath(r.QueryID, r.CreatedAt))
	}

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.results", map[string]any{
			"path":   path,
			"count":  count,
			"pruned": pruned,
			"before": before.UTC().Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive results audit log: %w", err)
		}
	}

	return count, nil
}

// verify reads the uploaded bundle back and checks its size against what was
// written. A mismatch aborts the prune.
func (a *ArchiveImpl) verify(ctx context.Context, path string, want int64) error {
	body, err := a.blobs.Get(ctx, path)
	if err != nil {
		return fmt.Errorf("s3blob: verify archive %s: %w", path, err)
	}
	defer body.Close()

	got, err := io.Copy(io.Discard, body)
	if err != nil {
		return fmt.Errorf("s3blob: verify archive %s read: %w", path, err)
	}
	if got != want {
		return fmt.Errorf("s3blob: verify archive %s: stored %d bytes, want %d", path, got, want)
	}
	return nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// rawPath builds the S3 key for one query's raw provider output, partitioned
// by upload date.
//
//	queries/raw/2025-01-31/<query_id>.json
func rawPath(queryID string, at time.Time) string {
	return fmt.Sprintf("queries/raw/%s/%s.json", at.UTC().Format("2006-01-02"), queryID)
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/results/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)
