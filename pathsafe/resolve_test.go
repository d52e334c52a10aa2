package pathsafe_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubbyd/cubby/pathsafe"
)

func newResolver(t *testing.T) (*pathsafe.Resolver, string) {
	t.Helper()

	root := t.TempDir()
	r, err := pathsafe.NewResolver(root)
	require.NoError(t, err)

	return r, r.Root()
}

func TestNewResolver_MissingRoot(t *testing.T) {
	_, err := pathsafe.NewResolver(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}

func TestNewResolver_RootIsFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "root")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := pathsafe.NewResolver(file)
	assert.Error(t, err)
}

func TestBucket_Traversal(t *testing.T) {
	r, root := newResolver(t)
	require.NoError(t, os.Mkdir(filepath.Join(root, "b1"), 0o750))

	// Hostile names resolve to paths inside the root or not at all.
	for _, name := range []string{
		"../b1",
		"../../b1",
		"./b1",
		"/b1",
		"//b1",
		"b1/.",
		"..\\b1",
		"C:/b1",
		"../../../../etc",
	} {
		b, err := r.Bucket(name)
		if err == nil {
			assert.True(t, filepath.IsAbs(b.Abs()), "name %q", name)
			assert.Equal(t, filepath.Join(root, "b1"), b.Abs(), "name %q", name)
		} else {
			assert.ErrorIs(t, err, pathsafe.ErrNotExist, "name %q", name)
		}
	}
}

func TestBucket_ParentSegmentsNeverEscape(t *testing.T) {
	r, root := newResolver(t)

	// A file outside the root that traversal would reach if ".." were honored.
	outside := filepath.Join(filepath.Dir(root), "escape")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))

	_, err := r.Bucket("../escape")
	assert.ErrorIs(t, err, pathsafe.ErrNotExist)
}

func TestBucket_SymlinkRejected(t *testing.T) {
	r, root := newResolver(t)

	require.NoError(t, os.Mkdir(filepath.Join(root, "real"), 0o750))
	require.NoError(t, os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "link")))

	_, err := r.Bucket("link")
	assert.ErrorIs(t, err, pathsafe.ErrUnsafe)
}

func TestBlob_MidPathSymlinkRejected(t *testing.T) {
	r, root := newResolver(t)

	require.NoError(t, os.Mkdir(filepath.Join(root, "b1"), 0o750))
	require.NoError(t, os.Mkdir(filepath.Join(root, "b1", "real"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b1", "real", "f.txt"), []byte("x"), 0o644))
	require.NoError(t, os.Symlink(filepath.Join(root, "b1", "real"), filepath.Join(root, "b1", "link")))

	bucket, err := r.Bucket("b1")
	require.NoError(t, err)

	// The symlink is not the final component; it must still fail.
	_, err = r.Blob(bucket, "link/f.txt")
	assert.ErrorIs(t, err, pathsafe.ErrUnsafe)

	_, err = r.NewBlob(bucket, "link/new.txt")
	assert.ErrorIs(t, err, pathsafe.ErrUnsafe)
}

func TestBucket_Existence(t *testing.T) {
	r, root := newResolver(t)
	require.NoError(t, os.Mkdir(filepath.Join(root, "b1"), 0o750))

	b, err := r.Bucket("b1")
	assert.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "b1"), b.Abs())

	_, err = r.Bucket("missing")
	assert.ErrorIs(t, err, pathsafe.ErrNotExist)

	_, err = r.NewBucket("b1")
	assert.ErrorIs(t, err, pathsafe.ErrExist)

	nb, err := r.NewBucket("b2")
	assert.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "b2"), nb.Abs())
}

func TestBlob_Existence(t *testing.T) {
	r, root := newResolver(t)
	require.NoError(t, os.Mkdir(filepath.Join(root, "b1"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b1", "f.txt"), []byte("x"), 0o644))

	bucket, err := r.Bucket("b1")
	require.NoError(t, err)

	blob, err := r.Blob(bucket, "f.txt")
	assert.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "b1", "f.txt"), blob.Abs())

	_, err = r.Blob(bucket, "missing.txt")
	assert.ErrorIs(t, err, pathsafe.ErrNotExist)

	_, err = r.NewBlob(bucket, "f.txt")
	assert.ErrorIs(t, err, pathsafe.ErrExist)

	nb, err := r.NewBlob(bucket, "g.txt")
	assert.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "b1", "g.txt"), nb.Abs())
}

func TestBlob_TraversalConfinedToBucket(t *testing.T) {
	r, root := newResolver(t)
	require.NoError(t, os.Mkdir(filepath.Join(root, "b1"), 0o750))
	require.NoError(t, os.Mkdir(filepath.Join(root, "b2"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b2", "secret.txt"), []byte("x"), 0o644))

	bucket, err := r.Bucket("b1")
	require.NoError(t, err)

	// "../b2/secret.txt" must not reach the sibling bucket.
	_, err = r.Blob(bucket, "../b2/secret.txt")
	assert.ErrorIs(t, err, pathsafe.ErrNotExist)
}

func TestBlob_NestedName(t *testing.T) {
	r, root := newResolver(t)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "b1", "a", "b"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b1", "a", "b", "f.txt"), []byte("x"), 0o644))

	bucket, err := r.Bucket("b1")
	require.NoError(t, err)

	blob, err := r.Blob(bucket, "a/b/f.txt")
	assert.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "b1", "a", "b", "f.txt"), blob.Abs())
}
