package cubby_test

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/cubbyd/cubby"
	"github.com/cubbyd/cubby/filesystem"
	"github.com/cubbyd/cubby/metastore"
	"github.com/cubbyd/cubby/pathsafe"
)

const (
	testCreateSecret = "create-me"
	testUploadSecret = "upload-me"
)

func newService(t *testing.T) (*cubby.Service, string) {
	t.Helper()

	root := t.TempDir()
	resolver, err := pathsafe.NewResolver(root)
	require.NoError(t, err)

	meta, err := metastore.Open(context.Background(), filepath.Join(root, "metadata.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	svc := cubby.NewService(resolver, meta, filesystem.NewStore(), cubby.Secrets{
		BucketCreate: testCreateSecret,
		Upload:       testUploadSecret,
	})
	return svc, resolver.Root()
}

func upload(t *testing.T, svc *cubby.Service, bucket, file, secret, content string) cubby.UploadResult {
	t.Helper()

	res, err := svc.Upload(context.Background(), bucket, file, secret, "", bytes.NewReader([]byte(content)))
	require.NoError(t, err)
	require.Len(t, res.AccessKey, 48)
	return res
}

func download(t *testing.T, svc *cubby.Service, bucket, file string) (cubby.BlobMetadata, string) {
	t.Helper()

	meta, content, err := svc.Download(context.Background(), bucket, file)
	require.NoError(t, err)
	data, err := io.ReadAll(content)
	require.NoError(t, err)
	require.NoError(t, content.Close())
	return meta, string(data)
}

func TestService_CreateBucket(t *testing.T) {
	svc, root := newService(t)
	ctx := context.Background()

	assert.NoError(t, svc.CreateBucket(ctx, "b1", testCreateSecret))

	info, err := os.Stat(filepath.Join(root, "b1"))
	assert.NoError(t, err)
	assert.True(t, info.IsDir())

	// Same name again conflicts.
	err = svc.CreateBucket(ctx, "b1", testCreateSecret)
	assert.ErrorIs(t, err, pathsafe.ErrExist)
}

func TestService_CreateBucket_BadSecret(t *testing.T) {
	svc, root := newService(t)

	err := svc.CreateBucket(context.Background(), "b1", "wrong")
	assert.ErrorIs(t, err, cubby.ErrUnauthorized)

	_, statErr := os.Stat(filepath.Join(root, "b1"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestService_Upload_NewRequiresSecret(t *testing.T) {
	svc, root := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.CreateBucket(ctx, "b1", testCreateSecret))

	// A missing secret is a bad request, a wrong one unauthorized; both
	// map to 400 at the edge.
	_, err := svc.Upload(ctx, "b1", "a.txt", "", "", bytes.NewReader([]byte("x")))
	assert.ErrorIs(t, err, cubby.ErrBadRequest)

	_, err = svc.Upload(ctx, "b1", "a.txt", "wrong", "", bytes.NewReader([]byte("x")))
	assert.ErrorIs(t, err, cubby.ErrUnauthorized)

	// Neither attempt may leave a file behind.
	_, statErr := os.Lstat(filepath.Join(root, "b1", "a.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestService_Upload_ContentTypeHeader(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.CreateBucket(ctx, "b1", testCreateSecret))

	_, err := svc.Upload(ctx, "b1", "a.json", testUploadSecret, "application/json", bytes.NewReader([]byte("{}")))
	require.NoError(t, err)

	meta, _ := download(t, svc, "b1", "a.json")
	assert.Equal(t, "application/json", meta.ContentType)

	_, err = svc.Upload(ctx, "b1", "b.txt", testUploadSecret, "", bytes.NewReader([]byte("x")))
	require.NoError(t, err)

	meta, _ = download(t, svc, "b1", "b.txt")
	assert.Equal(t, cubby.DefaultContentType, meta.ContentType)
}

func TestService_Upload_LiveBlobRejected(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.CreateBucket(ctx, "b1", testCreateSecret))

	upload(t, svc, "b1", "a.txt", testUploadSecret, "original")

	_, err := svc.Upload(ctx, "b1", "a.txt", testUploadSecret, "", bytes.NewReader([]byte("replacement")))
	assert.ErrorIs(t, err, cubby.ErrConflict)

	// Content unchanged.
	_, body := download(t, svc, "b1", "a.txt")
	assert.Equal(t, "original", body)
}

func TestService_Upload_MissingBucket(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Upload(context.Background(), "nope", "a.txt", testUploadSecret, "", bytes.NewReader(nil))
	assert.ErrorIs(t, err, pathsafe.ErrNotExist)
}

func TestService_Upload_OrphanContentIsInconsistent(t *testing.T) {
	svc, root := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.CreateBucket(ctx, "b1", testCreateSecret))

	// A content file whose metadata lookup errors rather than defaulting:
	// the read-path default would paper over it, the write path must not.
	// Plant an undecodable record directly in the store.
	orphan := filepath.Join(root, "b1", "orphan.txt")
	require.NoError(t, os.WriteFile(orphan, []byte("x"), 0o644))

	db, err := sql.Open("sqlite", filepath.Join(root, "metadata.db"))
	require.NoError(t, err)
	_, err = db.ExecContext(ctx,
		`INSERT INTO blob_metadata (path, value) VALUES (?, ?)`,
		[]byte(orphan), "{not json")
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = svc.Upload(ctx, "b1", "orphan.txt", testUploadSecret, "", bytes.NewReader([]byte("y")))
	assert.ErrorIs(t, err, cubby.ErrInconsistent)
}

func TestService_Upload_RollsBackContentOnMetadataConflict(t *testing.T) {
	svc, root := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.CreateBucket(ctx, "b1", testCreateSecret))

	// A stale record with no content file: the path resolves as new, the
	// content write succeeds, and the metadata commit then hits the
	// existing row. The written file must be removed again.
	target := filepath.Join(root, "b1", "x.txt")
	db, err := sql.Open("sqlite", filepath.Join(root, "metadata.db"))
	require.NoError(t, err)
	_, err = db.ExecContext(ctx,
		`INSERT INTO blob_metadata (path, value) VALUES (?, ?)`,
		[]byte(target), `{"content_type":"text","access_key":"STALE"}`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = svc.Upload(ctx, "b1", "x.txt", testUploadSecret, "", bytes.NewReader([]byte("y")))
	assert.ErrorIs(t, err, cubby.ErrConflict)

	_, statErr := os.Lstat(target)
	assert.True(t, os.IsNotExist(statErr))
}

func TestService_Download_CountsPerRead(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.CreateBucket(ctx, "b1", testCreateSecret))
	upload(t, svc, "b1", "a.txt", testUploadSecret, "hello")

	meta, body := download(t, svc, "b1", "a.txt")
	assert.Equal(t, "hello", body)
	assert.Equal(t, int64(1), meta.DownloadCount)

	meta, _ = download(t, svc, "b1", "a.txt")
	assert.Equal(t, int64(2), meta.DownloadCount)
}

func TestService_Download_Missing(t *testing.T) {
	svc, _ := newService(t)
	require.NoError(t, svc.CreateBucket(context.Background(), "b1", testCreateSecret))

	_, _, err := svc.Download(context.Background(), "b1", "missing.txt")
	assert.ErrorIs(t, err, cubby.ErrNotFound)

	_, _, err = svc.Download(context.Background(), "nope", "a.txt")
	assert.ErrorIs(t, err, cubby.ErrNotFound)
}

func TestService_SoftDelete(t *testing.T) {
	svc, root := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.CreateBucket(ctx, "b1", testCreateSecret))
	res := upload(t, svc, "b1", "a.txt", testUploadSecret, "hello")

	// Wrong key: unauthorized, no state change.
	err := svc.SoftDelete(ctx, "b1", "a.txt", "WRONG")
	assert.ErrorIs(t, err, cubby.ErrUnauthorized)

	// Missing key: same.
	err = svc.SoftDelete(ctx, "b1", "a.txt", "")
	assert.ErrorIs(t, err, cubby.ErrUnauthorized)

	// Still downloadable after failed deletes.
	_, body := download(t, svc, "b1", "a.txt")
	assert.Equal(t, "hello", body)

	// Right key: transitions exactly once.
	assert.NoError(t, svc.SoftDelete(ctx, "b1", "a.txt", res.AccessKey))

	// Download now reports not found, but content stays on disk.
	_, _, err = svc.Download(ctx, "b1", "a.txt")
	assert.ErrorIs(t, err, cubby.ErrNotFound)
	_, statErr := os.Lstat(filepath.Join(root, "b1", "a.txt"))
	assert.NoError(t, statErr)

	// Double delete is a conflict, even with the right key.
	err = svc.SoftDelete(ctx, "b1", "a.txt", res.AccessKey)
	assert.ErrorIs(t, err, cubby.ErrConflict)
}

func TestService_Upload_ReusesSoftDeletedPath(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.CreateBucket(ctx, "b1", testCreateSecret))

	res := upload(t, svc, "b1", "a.txt", testUploadSecret, "old")
	require.NoError(t, svc.SoftDelete(ctx, "b1", "a.txt", res.AccessKey))

	// Reuse needs no upload secret and issues an unrelated key.
	res2, err := svc.Upload(ctx, "b1", "a.txt", "", "", bytes.NewReader([]byte("new")))
	assert.NoError(t, err)
	assert.NotEqual(t, res.AccessKey, res2.AccessKey)

	meta, body := download(t, svc, "b1", "a.txt")
	assert.Equal(t, "new", body)
	assert.Equal(t, int64(1), meta.DownloadCount)

	// The old access key no longer deletes anything.
	err = svc.SoftDelete(ctx, "b1", "a.txt", res.AccessKey)
	assert.ErrorIs(t, err, cubby.ErrUnauthorized)
	assert.NoError(t, svc.SoftDelete(ctx, "b1", "a.txt", res2.AccessKey))
}

func TestService_Verify(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.CreateBucket(ctx, "b1", testCreateSecret))

	res := upload(t, svc, "b1", "a.txt", testUploadSecret, "hello")
	upload(t, svc, "b1", "b.txt", testUploadSecret, "world")

	// Soft-deleted blobs are still listed; the manifest reports disk truth.
	require.NoError(t, svc.SoftDelete(ctx, "b1", "a.txt", res.AccessKey))

	manifest, err := svc.Verify(ctx, "b1")
	assert.NoError(t, err)
	assert.Len(t, manifest.Blobs, 2)

	byName := map[string]string{}
	for _, e := range manifest.Blobs {
		byName[e.BlobName] = e.BlobSHA1
	}
	assert.Equal(t, "AAF4C61DDCC5E8A2DABEDE0F3B482CD9AEA9434D", byName["a.txt"])
	assert.Equal(t, "7C211433F02071597741E6FF5A8EA34789ABBF43", byName["b.txt"])
}

func TestService_Verify_MissingBucket(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Verify(context.Background(), "nope")
	assert.ErrorIs(t, err, pathsafe.ErrNotExist)
}

func TestService_Purge(t *testing.T) {
	svc, root := newService(t)
	ctx := context.Background()
	require.NoError(t, svc.CreateBucket(ctx, "b1", testCreateSecret))

	res := upload(t, svc, "b1", "a.txt", testUploadSecret, "gone soon")
	upload(t, svc, "b1", "b.txt", testUploadSecret, "keep")
	require.NoError(t, svc.SoftDelete(ctx, "b1", "a.txt", res.AccessKey))

	// Nothing is old enough yet.
	n, err := svc.Purge(ctx, time.Hour)
	assert.NoError(t, err)
	assert.Equal(t, 0, n)

	// With a zero cutoff the soft-deleted blob goes away, content and all.
	n, err = svc.Purge(ctx, 0)
	assert.NoError(t, err)
	assert.Equal(t, 1, n)

	_, statErr := os.Lstat(filepath.Join(root, "b1", "a.txt"))
	assert.True(t, os.IsNotExist(statErr))

	// The active blob is untouched.
	_, body := download(t, svc, "b1", "b.txt")
	assert.Equal(t, "keep", body)

	// The path is free for a fresh (secret-gated) upload again.
	_, err = svc.Upload(ctx, "b1", "a.txt", testUploadSecret, "", bytes.NewReader([]byte("back")))
	assert.NoError(t, err)
}

func TestService_EndToEnd(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.CreateBucket(ctx, "b1", testCreateSecret))

	res := upload(t, svc, "b1", "a.txt", testUploadSecret, "hello")
	k := res.AccessKey

	_, body := download(t, svc, "b1", "a.txt")
	assert.Equal(t, "hello", body)

	err := svc.SoftDelete(ctx, "b1", "a.txt", "WRONG"+k[5:])
	assert.ErrorIs(t, err, cubby.ErrUnauthorized)

	_, body = download(t, svc, "b1", "a.txt")
	assert.Equal(t, "hello", body)

	assert.NoError(t, svc.SoftDelete(ctx, "b1", "a.txt", k))

	_, _, err = svc.Download(ctx, "b1", "a.txt")
	assert.ErrorIs(t, err, cubby.ErrNotFound)

	res2, err := svc.Upload(ctx, "b1", "a.txt", "", "", bytes.NewReader([]byte("world")))
	assert.NoError(t, err)
	assert.NotEqual(t, k, res2.AccessKey)

	_, body = download(t, svc, "b1", "a.txt")
	assert.Equal(t, "world", body)
}
