package handlers

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beatreel/beatreel/internal/config"
	"github.com/beatreel/beatreel/internal/storage"
)

func setupFileServer(t *testing.T) (*storage.Store, *httptest.Server) {
	t.Helper()

	base := t.TempDir()
	store, err := storage.NewStore(config.StorageConfig{
		BaseDir:       base,
		TempDir:       filepath.Join(base, "temp"),
		SigningSecret: "test-secret",
		ReadURLTTL:    5 * time.Minute,
	}, nil)
	require.NoError(t, err)

	router := chi.NewRouter()
	NewFileHandler(store, nil).RegisterFileServer(router)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return store, server
}

func TestServeBlob(t *testing.T) {
	t.Run("serves blob with valid signature", func(t *testing.T) {
		store, server := setupFileServer(t)
		require.NoError(t, store.PutBytes("songs/abc/video.mp4", []byte("mp4 bytes")))

		signed := store.SignedURL("songs/abc/video.mp4", time.Now())

		resp, err := http.Get(server.URL + signed)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))

		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "mp4 bytes", string(body))
	})

	t.Run("supports range requests", func(t *testing.T) {
		store, server := setupFileServer(t)
		require.NoError(t, store.PutBytes("songs/abc/audio.mp3", []byte("0123456789")))

		signed := store.SignedURL("songs/abc/audio.mp3", time.Now())

		req, err := http.NewRequest(http.MethodGet, server.URL+signed, nil)
		require.NoError(t, err)
		req.Header.Set("Range", "bytes=2-5")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusPartialContent, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, "2345", string(body))
	})

	t.Run("rejects expired URL", func(t *testing.T) {
		store, server := setupFileServer(t)
		require.NoError(t, store.PutBytes("songs/abc/video.mp4", []byte("mp4 bytes")))

		// Sign as of 10 minutes ago; TTL is 5 minutes.
		signed := store.SignedURL("songs/abc/video.mp4", time.Now().Add(-10*time.Minute))

		resp, err := http.Get(server.URL + signed)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("rejects tampered signature", func(t *testing.T) {
		store, server := setupFileServer(t)
		require.NoError(t, store.PutBytes("songs/abc/video.mp4", []byte("mp4 bytes")))

		signed := store.SignedURL("songs/abc/video.mp4", time.Now())
		u, err := url.Parse(signed)
		require.NoError(t, err)
		q := u.Query()
		q.Set("sig", "forged")
		u.RawQuery = q.Encode()

		resp, err := http.Get(server.URL + u.String())
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("rejects signature for a different key", func(t *testing.T) {
		store, server := setupFileServer(t)
		require.NoError(t, store.PutBytes("songs/abc/video.mp4", []byte("mp4 bytes")))
		require.NoError(t, store.PutBytes("songs/xyz/video.mp4", []byte("other bytes")))

		signed := store.SignedURL("songs/abc/video.mp4", time.Now())
		u, err := url.Parse(signed)
		require.NoError(t, err)

		resp, err := http.Get(server.URL + "/files/songs/xyz/video.mp4?" + u.RawQuery)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("returns 404 for missing blob", func(t *testing.T) {
		store, server := setupFileServer(t)

		signed := store.SignedURL("songs/missing/video.mp4", time.Now())

		resp, err := http.Get(server.URL + signed)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("defaults content type for unknown extensions", func(t *testing.T) {
		store, server := setupFileServer(t)
		require.NoError(t, store.PutBytes("songs/abc/notes.txt", []byte("hello")))

		signed := store.SignedURL("songs/abc/notes.txt", time.Now())

		resp, err := http.Get(server.URL + signed)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))
	})
}
