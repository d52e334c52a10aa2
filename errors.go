package cubby

import "errors"

var (
	// ErrNotFound is returned when a bucket or blob does not exist, or a
	// blob has been soft-deleted and is requested over the download path.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a create target already exists or a
	// blob is soft-deleted twice.
	ErrConflict = errors.New("conflict")
	// ErrUnauthorized is returned when a secret or access key is missing
	// or does not match.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrBadRequest is returned when required request input is missing,
	// e.g. an upload to a new path without the upload secret.
	ErrBadRequest = errors.New("bad request")
	// ErrInconsistent is returned when content and metadata disagree, e.g.
	// a content file exists but its metadata record cannot be read.
	ErrInconsistent = errors.New("inconsistent state")
	// ErrInternal tags opaque filesystem and metadata store failures (I/O,
	// serialization) so the web layer can map them without inspecting them.
	ErrInternal = errors.New("internal error")
)
