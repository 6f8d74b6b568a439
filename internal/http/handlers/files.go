package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/beatreel/beatreel/internal/storage"
)

// contentTypes maps blob extensions to media types. Blobs outside this
// set are served as octet-stream.
var contentTypes = map[string]string{
	".mp4":  "video/mp4",
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/mp4",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

// FileHandler serves blobs through short-lived signed read URLs. Every
// request must carry the exp/sig pair minted by the store; there is no
// unsigned read path.
type FileHandler struct {
	store  *storage.Store
	logger *slog.Logger
}

// NewFileHandler creates a new file handler.
func NewFileHandler(store *storage.Store, logger *slog.Logger) *FileHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileHandler{
		store:  store,
		logger: logger,
	}
}

// RegisterFileServer registers the signed blob route on a chi router.
func (h *FileHandler) RegisterFileServer(router chi.Router) {
	router.Get("/files/*", h.ServeBlob)
}

// ServeBlob verifies the signature and streams the blob. Range requests
// are honored so browsers can seek media.
func (h *FileHandler) ServeBlob(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if key == "" {
		http.Error(w, "missing blob key", http.StatusBadRequest)
		return
	}

	query := r.URL.Query()
	err := h.store.VerifySignedRead(key, query.Get("exp"), query.Get("sig"), time.Now())
	switch {
	case errors.Is(err, storage.ErrURLExpired):
		http.Error(w, "url expired", http.StatusForbidden)
		return
	case err != nil:
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	f, err := h.store.Open(key)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	if ct, ok := contentTypes[path.Ext(key)]; ok {
		w.Header().Set("Content-Type", ct)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	// Signed URLs expire; the bytes behind a key never change.
	w.Header().Set("Cache-Control", "private, max-age=60")

	http.ServeContent(w, r, path.Base(key), info.ModTime(), f)
}
