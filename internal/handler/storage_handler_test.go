package handler

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bizyou-chat/internal/storage"
)

func newStorageFixture(t *testing.T) *httptest.Server {
	t.Helper()

	blobs, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { blobs.Close() })

	h := NewStorageHandler(blobs, "https://store.example.com")

	r := chi.NewRouter()
	r.Post("/api/v1/storage/*", h.Upload)
	r.Get("/storage/*", h.Serve)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestStorageHandler_UploadAndServe(t *testing.T) {
	srv := newStorageFixture(t)

	resp, err := http.Post(
		srv.URL+"/api/v1/storage/user-1/batches/b-1/169-abcd.jpg",
		"application/octet-stream",
		strings.NewReader("image-bytes"))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var result struct {
		URL string `json:"url"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, "https://store.example.com/storage/user-1/batches/b-1/169-abcd.jpg", result.URL)

	get, err := http.Get(srv.URL + "/storage/user-1/batches/b-1/169-abcd.jpg")
	require.NoError(t, err)
	defer get.Body.Close()

	require.Equal(t, http.StatusOK, get.StatusCode)
	assert.Equal(t, "image/jpeg", get.Header.Get("Content-Type"))
	assert.Contains(t, get.Header.Get("Cache-Control"), "immutable")

	body, err := io.ReadAll(get.Body)
	require.NoError(t, err)
	assert.Equal(t, []byte("image-bytes"), body)
}

func TestStorageHandler_ServeMissing(t *testing.T) {
	srv := newStorageFixture(t)

	resp, err := http.Get(srv.URL + "/storage/user-1/missing.jpg")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStorageHandler_RejectsBadUploads(t *testing.T) {
	srv := newStorageFixture(t)

	t.Run("empty_body", func(t *testing.T) {
		resp, err := http.Post(
			srv.URL+"/api/v1/storage/user-1/a.jpg",
			"application/octet-stream",
			strings.NewReader(""))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("path_traversal", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost,
			srv.URL+"/api/v1/storage/user-1/%2e%2e/escape.jpg",
			strings.NewReader("x"))
		require.NoError(t, err)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}
