// Package pathsafe converts untrusted, client-supplied bucket and file names
// into validated absolute filesystem paths confined to a storage root.
//
// Resolution walks the name component by component, discarding anything that
// could move the path upward or sideways (parent segments, absolute-root
// markers, drive prefixes) and refusing to step onto a symbolic link at any
// depth. The resolved path types carry an existence witness: a Bucket or Blob
// was proven present at resolution time, a NewBucket or NewBlob proven
// absent. Their fields are unexported so only a Resolver can mint them.
//
// The witness is a statement about resolution time only. A path can be
// created, removed or swapped between resolution and use; callers performing
// destructive creates rely on O_EXCL (or equivalent) to settle that race.
package pathsafe

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsafe is returned when a name cannot be resolved to a path that
	// is provably confined to the root, including when any component on
	// the way is a symbolic link.
	ErrUnsafe = errors.New("unsafe path")
	// ErrExist is returned when a must-not-exist resolution finds the
	// target already present.
	ErrExist = errors.New("path already exists")
	// ErrNotExist is returned when a must-exist resolution finds the
	// target absent.
	ErrNotExist = errors.New("path does not exist")
)

// Bucket is an absolute bucket directory path proven to exist at resolution
// time.
type Bucket struct{ abs string }

// Abs returns the absolute filesystem path.
func (p Bucket) Abs() string { return p.abs }

// NewBucket is an absolute bucket directory path proven absent at resolution
// time.
type NewBucket struct{ abs string }

// Abs returns the absolute filesystem path.
func (p NewBucket) Abs() string { return p.abs }

// Blob is an absolute blob file path proven to exist at resolution time.
type Blob struct{ abs string }

// Abs returns the absolute filesystem path.
func (p Blob) Abs() string { return p.abs }

// NewBlob is an absolute blob file path proven absent at resolution time.
type NewBlob struct{ abs string }

// Abs returns the absolute filesystem path.
func (p NewBlob) Abs() string { return p.abs }

// Resolver resolves names against a fixed storage root.
type Resolver struct {
	root string
}

// NewResolver returns a Resolver rooted at the given directory, which must
// exist. The root is converted to an absolute path once, up front.
func NewResolver(root string) (*Resolver, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat storage root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage root %s is not a directory", abs)
	}

	return &Resolver{root: abs}, nil
}

// Root returns the absolute storage root.
func (r *Resolver) Root() string { return r.root }

// safeJoin joins name onto base one component at a time. Drive prefixes,
// root markers, "." and ".." are dropped, never honored. After every
// appended component the accumulated path is checked with Lstat; a symlink
// anywhere fails the whole resolution, so a mid-path swap cannot redirect
// later components. The final prefix check is defense in depth against a
// bug in the component filter.
func (r *Resolver) safeJoin(base, name string) (string, error) {
	name = strings.TrimPrefix(name, filepath.VolumeName(name))

	comps := strings.FieldsFunc(name, func(r rune) bool {
		return r == '/' || r == '\\'
	})

	target := base
	for _, comp := range comps {
		switch comp {
		case ".", "..":
			continue
		}

		target = filepath.Join(target, comp)

		info, err := os.Lstat(target)
		if err == nil && info.Mode()&os.ModeSymlink != 0 {
			return "", fmt.Errorf("%w: symlink at %q", ErrUnsafe, comp)
		}
	}

	if target != r.root && !strings.HasPrefix(target, r.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: escapes storage root", ErrUnsafe)
	}

	return target, nil
}

// exists reports whether the path exists, without following a final symlink.
func exists(abs string) bool {
	_, err := os.Lstat(abs)
	return err == nil
}

// Bucket resolves a bucket name to an existing bucket directory.
func (r *Resolver) Bucket(name string) (Bucket, error) {
	abs, err := r.safeJoin(r.root, name)
	if err != nil {
		return Bucket{}, err
	}
	if !exists(abs) {
		return Bucket{}, fmt.Errorf("bucket %q: %w", name, ErrNotExist)
	}
	return Bucket{abs: abs}, nil
}

// NewBucket resolves a bucket name to a not-yet-existing bucket directory.
func (r *Resolver) NewBucket(name string) (NewBucket, error) {
	abs, err := r.safeJoin(r.root, name)
	if err != nil {
		return NewBucket{}, err
	}
	if exists(abs) {
		return NewBucket{}, fmt.Errorf("bucket %q: %w", name, ErrExist)
	}
	return NewBucket{abs: abs}, nil
}

// Blob resolves a file name inside an already-resolved bucket to an existing
// blob path. The bucket acts as the root for the join, so a file name cannot
// reach outside its bucket any more than a bucket name can reach outside the
// storage root.
func (r *Resolver) Blob(bucket Bucket, name string) (Blob, error) {
	abs, err := r.safeJoin(bucket.abs, name)
	if err != nil {
		return Blob{}, err
	}
	if !exists(abs) {
		return Blob{}, fmt.Errorf("blob %q: %w", name, ErrNotExist)
	}
	return Blob{abs: abs}, nil
}

// NewBlob resolves a file name inside an already-resolved bucket to a
// not-yet-existing blob path.
func (r *Resolver) NewBlob(bucket Bucket, name string) (NewBlob, error) {
	abs, err := r.safeJoin(bucket.abs, name)
	if err != nil {
		return NewBlob{}, err
	}
	if exists(abs) {
		return NewBlob{}, fmt.Errorf("blob %q: %w", name, ErrExist)
	}
	return NewBlob{abs: abs}, nil
}
