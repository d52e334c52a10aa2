package cubby

import "time"

// BlobMetadata is the per-blob record kept in the metadata store, keyed by
// the blob's canonical absolute path.
type BlobMetadata struct {
	ContentType   string     `json:"content_type"`
	AccessKey     string     `json:"access_key"`
	CreatedAt     time.Time  `json:"created_at"`
	DeletionDate  *time.Time `json:"deletion_date,omitempty"`
	DownloadCount int64      `json:"download_count"`
}

// Deleted reports whether the blob has been soft-deleted.
func (m BlobMetadata) Deleted() bool {
	return m.DeletionDate != nil
}

// NewBlobMetadata returns a fresh record with the given content type, a newly
// generated access key and no deletion date. An empty contentType falls back
// to the default "text".
func NewBlobMetadata(contentType string) BlobMetadata {
	if contentType == "" {
		contentType = DefaultContentType
	}
	return BlobMetadata{
		ContentType: contentType,
		AccessKey:   NewAccessKey(),
		CreatedAt:   time.Now().UTC(),
	}
}

// DefaultContentType is used when an upload supplies no content type, and
// for the default record returned on a metadata miss.
const DefaultContentType = "text"

// ManifestEntry pairs a bucket-relative blob name with the SHA-1 digest of
// its content, as reported by the verify operation.
type ManifestEntry struct {
	BlobName string `json:"blob_name"`
	BlobSHA1 string `json:"blob_sha1"`
}

// Manifest is the verify operation's listing of a bucket's content.
type Manifest struct {
	Blobs []ManifestEntry `json:"blobs"`
}

// UploadResult is returned to the caller after a successful upload.
type UploadResult struct {
	AccessKey string `json:"access_key"`
}
