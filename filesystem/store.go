// Package filesystem provides blob content I/O for cubby. It only accepts
// paths resolved by pathsafe, so every operation works on a validated,
// root-confined target.
package filesystem

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cubbyd/cubby"
	"github.com/cubbyd/cubby/pathsafe"
)

// Store performs filesystem content operations on resolved paths.
type Store struct{}

// NewStore returns a blob content store.
func NewStore() *Store {
	return &Store{}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (n int, err error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}

// CreateDir creates the bucket directory at a path resolved as new.
func (s *Store) CreateDir(p pathsafe.NewBucket) error {
	if err := os.Mkdir(p.Abs(), 0o750); err != nil {
		return internalErr("create bucket dir", err)
	}
	return nil
}

// Create streams content into a new file at a path resolved as absent. The
// file is opened with O_EXCL so a concurrent create of the same path is
// settled by the filesystem: exactly one caller wins. On any error the
// partial file is removed; a failed create never leaves content behind.
// Content is copied in bounded chunks and honors context cancellation.
func (s *Store) Create(ctx context.Context, p pathsafe.NewBlob, content io.Reader) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if dir := filepath.Dir(p.Abs()); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return 0, internalErr("create parent dirs", err)
		}
	}

	f, err := os.OpenFile(p.Abs(), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return 0, internalErr("create blob file", err)
	}

	written, copyErr := io.Copy(f, &ctxReader{ctx: ctx, r: content})

	if closeErr := f.Close(); copyErr == nil {
		copyErr = closeErr
	}
	if copyErr == nil {
		return written, nil
	}

	if rmErr := os.Remove(p.Abs()); rmErr != nil {
		slog.Warn("failed to remove partial blob file", "path", p.Abs(), "err", rmErr)
	}
	return 0, fmt.Errorf("write blob content: %w", copyErr)
}

// internalErr tags an opaque I/O failure with cubby.ErrInternal.
func internalErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, cubby.ErrInternal, err)
}

// Open opens an existing blob for reading.
func (s *Store) Open(ctx context.Context, p pathsafe.Blob) (io.ReadSeekCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(p.Abs())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("open blob: %w", cubby.ErrNotFound)
		}
		return nil, internalErr("open blob", err)
	}
	return f, nil
}

// Remove hard-deletes an existing blob's content.
func (s *Store) Remove(p pathsafe.Blob) error {
	if err := os.Remove(p.Abs()); err != nil {
		return internalErr("remove blob", err)
	}
	return nil
}

// Discard removes whatever was written at a path resolved as new. Used to
// roll back a create whose metadata commit failed.
func (s *Store) Discard(p pathsafe.NewBlob) error {
	if err := os.Remove(p.Abs()); err != nil {
		return internalErr("discard blob", err)
	}
	return nil
}

// Manifest walks the bucket tree and digests every regular file, returning
// bucket-relative names with uppercase SHA-1 hex digests. Soft-delete state
// is invisible here; the manifest reports filesystem truth.
func (s *Store) Manifest(ctx context.Context, bucket pathsafe.Bucket) ([]cubby.ManifestEntry, error) {
	entries := []cubby.ManifestEntry{}

	err := filepath.WalkDir(bucket.Abs(), func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		digest, err := fileSHA1(path)
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(bucket.Abs(), path)
		if err != nil {
			return err
		}

		entries = append(entries, cubby.ManifestEntry{
			BlobName: filepath.ToSlash(rel),
			BlobSHA1: digest,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk bucket: %w", err)
	}

	return entries, nil
}

func fileSHA1(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}

	h := sha1.New()
	_, copyErr := io.Copy(h, f)

	if closeErr := f.Close(); closeErr != nil {
		slog.Warn("failed to close file", "path", path, "err", closeErr)
	}
	if copyErr != nil {
		return "", copyErr
	}

	return strings.ToUpper(hex.EncodeToString(h.Sum(nil))), nil
}
