package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/cubbyd/cubby"
)

// Service is the lifecycle surface the handlers drive.
type Service interface {
	CreateBucket(ctx context.Context, name, secret string) error
	Upload(ctx context.Context, bucket, file, secret, contentType string, body io.Reader) (cubby.UploadResult, error)
	Download(ctx context.Context, bucket, file string) (cubby.BlobMetadata, io.ReadSeekCloser, error)
	SoftDelete(ctx context.Context, bucket, file, accessKey string) error
	Verify(ctx context.Context, bucket string) (cubby.Manifest, error)
}

// Request headers carrying per-blob values.
const (
	HeaderContentType = "X-Blob-Content-Type"
	HeaderAccessKey   = "X-Blob-Access-Key"
)

type CORSConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// Handler provides HTTP handlers for the blob lifecycle operations.
type Handler struct {
	cors    CORSConfig
	service Service
}

// NewHandler creates a new Handler backed by the given service.
func NewHandler(corsCfg CORSConfig, service Service) *Handler {
	return &Handler{
		cors:    corsCfg,
		service: service,
	}
}

// Router returns the configured http.Handler.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestLogger)

	if h.cors.Enabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.cors.AllowedOrigins,
			AllowedMethods:   h.cors.AllowedMethods,
			AllowedHeaders:   h.cors.AllowedHeaders,
			ExposedHeaders:   h.cors.ExposedHeaders,
			AllowCredentials: h.cors.AllowCredentials,
			MaxAge:           h.cors.MaxAge,
		}))
	}

	r.Get("/", h.handleRoot)
	r.Get("/api/bucket/{name}/create", h.handleCreateBucket)
	r.Get("/api/bucket/{name}/verify", h.handleVerify)
	r.Put("/api/bucket/{bucket}/{file}/upload", h.handleUpload)
	r.Delete("/api/bucket/{bucket}/{file}/delete", h.handleSoftDelete)
	r.Get("/{bucket}/{file}", h.handleDownload)

	return r
}

func (h *Handler) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "Success")
}

func (h *Handler) handleCreateBucket(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	secret := r.URL.Query().Get("auth")

	err := h.service.CreateBucket(r.Context(), name, secret)
	if err != nil {
		if errors.Is(err, cubby.ErrUnauthorized) {
			WriteError(w, http.StatusBadRequest, "bad_secret", "Invalid bucket creation secret")
			return
		}
		HandleError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	manifest, err := h.service.Verify(r.Context(), name)
	if err != nil {
		HandleError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, manifest)
}

func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	file := chi.URLParam(r, "file")
	secret := r.URL.Query().Get("auth")
	contentType := r.Header.Get(HeaderContentType)

	result, err := h.service.Upload(r.Context(), bucket, file, secret, contentType, r.Body)
	if err != nil {
		if errors.Is(err, cubby.ErrUnauthorized) || errors.Is(err, cubby.ErrBadRequest) {
			WriteError(w, http.StatusBadRequest, "bad_secret", "Missing or invalid upload secret")
			return
		}
		HandleError(w, err)
		return
	}

	_ = WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) handleSoftDelete(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	file := chi.URLParam(r, "file")
	accessKey := r.Header.Get(HeaderAccessKey)

	err := h.service.SoftDelete(r.Context(), bucket, file, accessKey)
	if err != nil {
		switch {
		case errors.Is(err, cubby.ErrConflict):
			WriteError(w, http.StatusBadRequest, "already_deleted", "Blob is already deleted")
		case errors.Is(err, cubby.ErrUnauthorized):
			WriteError(w, http.StatusUnauthorized, "bad_access_key", "Missing or invalid access key")
		default:
			HandleError(w, err)
		}
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	file := chi.URLParam(r, "file")

	meta, content, err := h.service.Download(r.Context(), bucket, file)
	if err != nil {
		if errors.Is(err, cubby.ErrNotFound) {
			WriteError(w, http.StatusNotFound, "not_found", "Blob not found")
			return
		}
		HandleError(w, err)
		return
	}
	defer func() { _ = content.Close() }()

	w.Header().Set("Content-Type", meta.ContentType)
	http.ServeContent(w, r, file, meta.CreatedAt, content)
}
