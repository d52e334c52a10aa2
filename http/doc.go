// Package http exposes the cubby blob lifecycle over a REST API.
//
// # Routes
//
//	GET    /                                        liveness check
//	GET    /api/bucket/{name}/create?auth=...       create a bucket (bucket-creation secret)
//	GET    /api/bucket/{name}/verify                SHA-1 manifest of a bucket
//	PUT    /api/bucket/{bucket}/{file}/upload       upload a blob (upload secret for new paths)
//	DELETE /api/bucket/{bucket}/{file}/delete       soft-delete a blob (X-Blob-Access-Key)
//	GET    /{bucket}/{file}                         download a blob
//
// Uploads stream the request body straight into storage and may set the
// X-Blob-Content-Type header; a successful upload answers with the blob's
// access key. Downloads answer 404 for both missing and soft-deleted blobs.
//
// Errors are JSON bodies with an opaque code and message. Failures inside
// the resolution or storage layers deliberately map to a generic 500 so no
// filesystem detail reaches the caller.
package http
