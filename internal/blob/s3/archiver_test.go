package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridexhq/veridex/internal/domain"
	"github.com/veridexhq/veridex/internal/store/sqlite"
)

// fakeBlobStore keeps objects in memory. With corrupt set, Get returns a
// truncated body so size verification fails.
type fakeBlobStore struct {
	objects map[string][]byte
	deleted []string
	corrupt bool
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: make(map[string][]byte)}
}

func (f *fakeBlobStore) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.objects[path] = buf
	return nil
}

func (f *fakeBlobStore) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	buf, ok := f.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if f.corrupt {
		buf = buf[:len(buf)-1]
	}
	return io.NopCloser(bytes.NewReader(buf)), nil
}

func (f *fakeBlobStore) Exists(ctx context.Context, path string) (bool, error) {
	_, ok := f.objects[path]
	return ok, nil
}

func (f *fakeBlobStore) Delete(ctx context.Context, path string) error {
	delete(f.objects, path)
	f.deleted = append(f.deleted, path)
	return nil
}

func newArchiveEnv(t *testing.T) (*ArchiveImpl, *fakeBlobStore, *sqlite.QueryStore) {
	t.Helper()
	ctx := context.Background()
	client, err := sqlite.New(ctx, sqlite.ClientConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(client.Close)
	require.NoError(t, client.RunMigrations(ctx))

	store := sqlite.NewQueryStore(client.DB())
	blobs := newFakeBlobStore()
	return NewArchiver(blobs, blobs, store, nil), blobs, store
}

func addAgedResult(t *testing.T, store *sqlite.QueryStore, at time.Time) domain.QueryResult {
	t.Helper()
	ctx := context.Background()
	q := domain.Query{
		ID:        uuid.NewString(),
		Owner:     "0xabc",
		Text:      "did it rain",
		Status:    domain.QueryStatusCompleted,
		CreatedAt: at,
	}
	require.NoError(t, store.Create(ctx, q))

	res := domain.QueryResult{
		QueryID:   q.ID,
		Summary:   "it rained",
		Raw:       []domain.ProviderResult{{Provider: "exa", Answer: "rain"}},
		CreatedAt: at,
	}
	require.NoError(t, store.RecordResult(ctx, res))
	return res
}

func TestArchiveCompletedPrunesArchivedRows(t *testing.T) {
	ctx := context.Background()
	archiver, blobs, store := newArchiveEnv(t)

	old := time.Now().UTC().Add(-60 * 24 * time.Hour)
	res := addAgedResult(t, store, old)
	cutoff := time.Now().UTC().Add(-30 * 24 * time.Hour)

	count, err := archiver.ArchiveCompleted(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	bundle := blobs.objects[archivePath("results", cutoff)]
	assert.Contains(t, string(bundle), res.QueryID)

	// The hot row is gone and the redundant raw object was cleaned up.
	_, err = store.GetResult(ctx, res.QueryID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Contains(t, blobs.deleted,
		fmt.Sprintf("queries/raw/%s/%s.json", old.Format("2006-01-02"), res.QueryID))

	// A second pass finds nothing left to archive.
	count, err = archiver.ArchiveCompleted(ctx, cutoff)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestArchiveCompletedVerifyFailureKeepsRows(t *testing.T) {
	ctx := context.Background()
	archiver, blobs, store := newArchiveEnv(t)

	old := time.Now().UTC().Add(-60 * 24 * time.Hour)
	res := addAgedResult(t, store, old)
	cutoff := time.Now().UTC().Add(-30 * 24 * time.Hour)

	blobs.corrupt = true
	_, err := archiver.ArchiveCompleted(ctx, cutoff)
	require.Error(t, err)

	// Nothing pruned: the row stays for the next pass to retry.
	_, err = store.GetResult(ctx, res.QueryID)
	require.NoError(t, err)

	blobs.corrupt = false
	count, err := archiver.ArchiveCompleted(ctx, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestArchiveCompletedNoAgedRows(t *testing.T) {
	ctx := context.Background()
	archiver, blobs, _ := newArchiveEnv(t)

	count, err := archiver.ArchiveCompleted(ctx, time.Now().UTC().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, blobs.objects)
}
