package cubby

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/cubbyd/cubby/pathsafe"
)

// MetadataStore is the persistent path → BlobMetadata mapping. Single-key
// operations are atomic; nothing spans this store and the filesystem.
type MetadataStore interface {
	// Get returns the stored record, or a default record on a miss.
	Get(ctx context.Context, p pathsafe.Blob) (BlobMetadata, error)
	// CreateOnly inserts a record; ErrConflict if one exists for the path.
	CreateOnly(ctx context.Context, p pathsafe.NewBlob, meta BlobMetadata) error
	// Save overwrites the record unconditionally.
	Save(ctx context.Context, p pathsafe.Blob, meta BlobMetadata) error
	// Remove deletes the record entirely.
	Remove(ctx context.Context, p pathsafe.Blob) error
	// DeletedBefore lists the keys of records soft-deleted before cutoff.
	DeletedBefore(ctx context.Context, cutoff time.Time) ([]string, error)
	// RemovePath deletes a record by raw key.
	RemovePath(ctx context.Context, path string) error
}

// BlobStore is thin filesystem content I/O over resolved paths.
type BlobStore interface {
	CreateDir(p pathsafe.NewBucket) error
	Create(ctx context.Context, p pathsafe.NewBlob, content io.Reader) (int64, error)
	Open(ctx context.Context, p pathsafe.Blob) (io.ReadSeekCloser, error)
	Remove(p pathsafe.Blob) error
	Discard(p pathsafe.NewBlob) error
	Manifest(ctx context.Context, bucket pathsafe.Bucket) ([]ManifestEntry, error)
}

// Secrets are the process-wide shared secrets gating creation.
type Secrets struct {
	BucketCreate string
	Upload       string
}

// Service drives the per-blob lifecycle: NonExistent → Active → SoftDeleted,
// with a reuse edge back to Active when a soft-deleted path is uploaded over.
type Service struct {
	resolver *pathsafe.Resolver
	meta     MetadataStore
	blobs    BlobStore
	secrets  Secrets
}

// NewService wires a Service from its collaborators.
func NewService(resolver *pathsafe.Resolver, meta MetadataStore, blobs BlobStore, secrets Secrets) *Service {
	return &Service{
		resolver: resolver,
		meta:     meta,
		blobs:    blobs,
		secrets:  secrets,
	}
}

func secretsEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// CreateBucket creates a new bucket directory under the storage root. The
// caller must present the bucket-creation secret.
func (s *Service) CreateBucket(ctx context.Context, name, secret string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}

	if !secretsEqual(secret, s.secrets.BucketCreate) {
		return fmt.Errorf("create bucket: %w", ErrUnauthorized)
	}

	path, err := s.resolver.NewBucket(name)
	if err != nil {
		return fmt.Errorf("create bucket %q: %w", name, err)
	}

	if err := s.blobs.CreateDir(path); err != nil {
		return fmt.Errorf("create bucket %q: %w", name, err)
	}

	slog.Info("bucket created", "bucket", name)
	return nil
}

// Upload stores a blob. A brand-new path requires the upload secret. A path
// holding a soft-deleted blob is reclaimed first (content and record
// removed) and then treated as new, without requiring the upload secret. A
// path holding a live blob is
// rejected; it must be soft-deleted before it can be replaced.
//
// On success the blob's freshly generated access key is returned. If the
// metadata commit fails after content is written, the content is removed
// again; a failed upload never ends with an orphan file.
func (s *Service) Upload(ctx context.Context, bucketName, fileName, secret, contentType string, body io.Reader) (UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return UploadResult{}, fmt.Errorf("upload: %w", err)
	}

	bucket, err := s.resolver.Bucket(bucketName)
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload: %w", err)
	}

	if existing, err := s.resolver.Blob(bucket, fileName); err == nil {
		// Path already holds content. Reuse is only allowed over a
		// soft-deleted blob.
		meta, metaErr := s.meta.Get(ctx, existing)
		if metaErr != nil {
			slog.Warn("content file exists but metadata lookup failed",
				"bucket", bucketName, "file", fileName, "err", metaErr)
			return UploadResult{}, fmt.Errorf("upload %q: %w", fileName, ErrInconsistent)
		}

		if !meta.Deleted() {
			return UploadResult{}, fmt.Errorf("upload %q: live blob must be deleted first: %w", fileName, ErrConflict)
		}

		slog.Warn("reclaiming soft-deleted path for re-upload",
			"bucket", bucketName, "file", fileName)
		if err := s.blobs.Remove(existing); err != nil {
			return UploadResult{}, fmt.Errorf("upload %q: reclaim content: %w", fileName, err)
		}
		if err := s.meta.Remove(ctx, existing); err != nil {
			return UploadResult{}, fmt.Errorf("upload %q: reclaim metadata: %w", fileName, err)
		}
	} else if errors.Is(err, pathsafe.ErrNotExist) {
		// Truly new path: the upload secret is required.
		if secret == "" {
			return UploadResult{}, fmt.Errorf("upload %q: missing upload secret: %w", fileName, ErrBadRequest)
		}
		if !secretsEqual(secret, s.secrets.Upload) {
			return UploadResult{}, fmt.Errorf("upload %q: upload secret: %w", fileName, ErrUnauthorized)
		}
	} else {
		return UploadResult{}, fmt.Errorf("upload %q: %w", fileName, err)
	}

	path, err := s.resolver.NewBlob(bucket, fileName)
	if err != nil {
		return UploadResult{}, fmt.Errorf("upload %q: %w", fileName, err)
	}

	if _, err := s.blobs.Create(ctx, path, body); err != nil {
		return UploadResult{}, fmt.Errorf("upload %q: %w", fileName, err)
	}

	meta := NewBlobMetadata(contentType)
	if err := s.meta.CreateOnly(ctx, path, meta); err != nil {
		// Roll back the content write; an orphan file must never be the
		// end state of a failed upload.
		if discardErr := s.blobs.Discard(path); discardErr != nil {
			slog.Warn("failed to roll back content after metadata failure",
				"bucket", bucketName, "file", fileName, "err", discardErr)
		}
		return UploadResult{}, fmt.Errorf("upload %q: commit metadata: %w", fileName, err)
	}

	slog.Info("blob uploaded", "bucket", bucketName, "file", fileName)
	return UploadResult{AccessKey: meta.AccessKey}, nil
}

// Download opens an active blob for reading and returns its metadata. A
// soft-deleted blob is reported as not found, unconditionally. The download
// counter increment is persisted best-effort; a failure there is logged and
// does not fail the read.
func (s *Service) Download(ctx context.Context, bucketName, fileName string) (BlobMetadata, io.ReadSeekCloser, error) {
	if err := ctx.Err(); err != nil {
		return BlobMetadata{}, nil, fmt.Errorf("download: %w", err)
	}

	bucket, err := s.resolver.Bucket(bucketName)
	if err != nil {
		return BlobMetadata{}, nil, fmt.Errorf("download: %w", s.asNotFound(err))
	}

	path, err := s.resolver.Blob(bucket, fileName)
	if err != nil {
		return BlobMetadata{}, nil, fmt.Errorf("download: %w", s.asNotFound(err))
	}

	meta, err := s.meta.Get(ctx, path)
	if err != nil {
		return BlobMetadata{}, nil, fmt.Errorf("download %q: %w", fileName, err)
	}

	if meta.Deleted() {
		slog.Warn("attempt to download soft-deleted blob",
			"bucket", bucketName, "file", fileName)
		return BlobMetadata{}, nil, fmt.Errorf("download %q: %w", fileName, ErrNotFound)
	}

	meta.DownloadCount++
	if err := s.meta.Save(ctx, path, meta); err != nil {
		slog.Warn("failed to persist download count",
			"bucket", bucketName, "file", fileName, "err", err)
	}

	content, err := s.blobs.Open(ctx, path)
	if err != nil {
		return BlobMetadata{}, nil, fmt.Errorf("download %q: %w", fileName, err)
	}

	return meta, content, nil
}

// SoftDelete marks an active blob as deleted. The caller must present the
// blob's access key; a mismatch changes nothing. A second soft-delete is a
// conflict. Content stays on disk, only the record changes.
func (s *Service) SoftDelete(ctx context.Context, bucketName, fileName, accessKey string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("soft-delete: %w", err)
	}

	bucket, err := s.resolver.Bucket(bucketName)
	if err != nil {
		return fmt.Errorf("soft-delete: %w", err)
	}

	path, err := s.resolver.Blob(bucket, fileName)
	if err != nil {
		return fmt.Errorf("soft-delete: %w", err)
	}

	meta, err := s.meta.Get(ctx, path)
	if err != nil {
		return fmt.Errorf("soft-delete %q: %w", fileName, err)
	}

	if meta.Deleted() {
		return fmt.Errorf("soft-delete %q: already deleted: %w", fileName, ErrConflict)
	}

	if accessKey == "" || !secretsEqual(accessKey, meta.AccessKey) {
		return fmt.Errorf("soft-delete %q: access key: %w", fileName, ErrUnauthorized)
	}

	now := time.Now().UTC()
	meta.DeletionDate = &now
	if err := s.meta.Save(ctx, path, meta); err != nil {
		return fmt.Errorf("soft-delete %q: %w", fileName, err)
	}

	slog.Info("blob soft-deleted", "bucket", bucketName, "file", fileName)
	return nil
}

// Verify walks a bucket and returns a digest manifest of every regular file
// in it. Soft-deleted blobs are listed alongside active ones; the manifest
// reflects filesystem truth, not lifecycle state.
func (s *Service) Verify(ctx context.Context, bucketName string) (Manifest, error) {
	if err := ctx.Err(); err != nil {
		return Manifest{}, fmt.Errorf("verify: %w", err)
	}

	bucket, err := s.resolver.Bucket(bucketName)
	if err != nil {
		return Manifest{}, fmt.Errorf("verify: %w", err)
	}

	entries, err := s.blobs.Manifest(ctx, bucket)
	if err != nil {
		return Manifest{}, fmt.Errorf("verify %q: %w", bucketName, err)
	}

	return Manifest{Blobs: entries}, nil
}

// Purge hard-deletes blobs that were soft-deleted before now-olderThan,
// removing both content and metadata. Each stored key is re-resolved through
// the path resolver before anything is touched; a key whose content is
// already gone just loses its record. Returns the number of records removed.
func (s *Service) Purge(ctx context.Context, olderThan time.Duration) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}

	cutoff := time.Now().UTC().Add(-olderThan)
	keys, err := s.meta.DeletedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge: %w", err)
	}

	purged := 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return purged, fmt.Errorf("purge: %w", err)
		}

		bucketName, fileName, ok := s.splitKey(key)
		if !ok {
			slog.Warn("skipping metadata key outside storage root", "key", key)
			continue
		}

		bucket, err := s.resolver.Bucket(bucketName)
		if err == nil {
			if blob, blobErr := s.resolver.Blob(bucket, fileName); blobErr == nil {
				if rmErr := s.blobs.Remove(blob); rmErr != nil {
					return purged, fmt.Errorf("purge %q: %w", key, rmErr)
				}
			}
		}

		if err := s.meta.RemovePath(ctx, key); err != nil {
			return purged, fmt.Errorf("purge %q: %w", key, err)
		}
		purged++
		slog.Info("purged soft-deleted blob", "bucket", bucketName, "file", fileName)
	}

	return purged, nil
}

// splitKey turns a stored canonical path back into bucket and file names
// relative to the storage root.
func (s *Service) splitKey(key string) (bucketName, fileName string, ok bool) {
	prefix := s.resolver.Root() + string(filepath.Separator)
	rel, found := strings.CutPrefix(key, prefix)
	if !found || rel == "" {
		return "", "", false
	}

	rel = filepath.ToSlash(rel)
	bucketName, fileName, found = strings.Cut(rel, "/")
	if !found || fileName == "" {
		return "", "", false
	}
	return bucketName, fileName, true
}

// asNotFound collapses resolution failures on the read path into ErrNotFound
// so the web layer can answer 404 without leaking path detail.
func (s *Service) asNotFound(err error) error {
	if errors.Is(err, pathsafe.ErrNotExist) || errors.Is(err, pathsafe.ErrUnsafe) {
		return ErrNotFound
	}
	return err
}
