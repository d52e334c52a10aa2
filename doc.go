// Package cubby provides a small bucketed blob storage service backed by the
// local filesystem for content and an embedded SQLite database for per-blob
// metadata.
//
// Blobs move through a simple lifecycle: a file is uploaded into a bucket,
// downloaded any number of times, and eventually soft-deleted. Soft deletion
// marks the metadata record with a deletion timestamp without touching the
// content, making the blob unreachable over the download path. A soft-deleted
// path may later be reused by a fresh upload, which reclaims both the content
// file and its record.
//
// # Key Components
//
//   - Service: orchestrates path resolution, content I/O and metadata per
//     operation (create bucket, upload, download, soft-delete, verify, purge)
//   - MetadataStore: persistent path → BlobMetadata mapping (see metastore)
//   - BlobStore: thin filesystem content I/O (see filesystem)
//   - pathsafe.Resolver: turns untrusted bucket/file names into validated,
//     root-confined paths with a proven existence state
//
// # Authorization
//
// Bucket creation and first-time uploads are gated by process-wide shared
// secrets. Each blob receives its own randomly generated access key at upload
// time; that key is required to soft-delete it.
//
// See the http package for the REST surface and cmd/cubby for the server
// binary.
package cubby
