package handler

import (
	"encoding/json"
	"mime"
	"net/http"
	"path"

	"github.com/go-chi/chi/v5"

	"bizyou-chat/internal/storage"
)

// StorageHandler exposes the image storage bucket: raw byte uploads
// keyed by path and public downloads.
type StorageHandler struct {
	blobs   *storage.BlobStore
	baseURL string
}

// NewStorageHandler creates a new storage handler
func NewStorageHandler(blobs *storage.BlobStore, baseURL string) *StorageHandler {
	return &StorageHandler{
		blobs:   blobs,
		baseURL: baseURL,
	}
}

// Upload stores raw image bytes under the request path and returns the
// public URL
func (h *StorageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if key == "" {
		http.Error(w, `{"error":"Storage path required"}`, http.StatusBadRequest)
		return
	}

	if err := h.blobs.Put(key, r.Body); err != nil {
		http.Error(w, `{"error":"Failed to store blob"}`, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{
		"url": h.baseURL + "/storage/" + key,
	})
}

// Serve returns the stored blob for a public storage URL
func (h *StorageHandler) Serve(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if key == "" {
		http.Error(w, `{"error":"Storage path required"}`, http.StatusBadRequest)
		return
	}

	data, ok, err := h.blobs.Get(key)
	if err != nil {
		http.Error(w, `{"error":"Failed to read blob"}`, http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, `{"error":"Not found"}`, http.StatusNotFound)
		return
	}

	contentType := mime.TypeByExtension(path.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Write(data)
}
