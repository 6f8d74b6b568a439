package storage

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/beatreel/beatreel/internal/config"
	"github.com/beatreel/beatreel/internal/models"
	"github.com/beatreel/beatreel/internal/observability"
)

// Signed-URL verification errors.
var (
	// ErrURLExpired indicates the signed URL's expiry has passed.
	ErrURLExpired = errors.New("signed url expired")
	// ErrBadSignature indicates the signature does not match the key and expiry.
	ErrBadSignature = errors.New("invalid url signature")
)

// Blob key layout. Keys are relative paths inside the store sandbox.
const (
	songsPrefix    = "songs"
	clipsPrefix    = "clips"
	composedPrefix = "composed"
)

// SourceKey returns the blob key for a song's uploaded audio.
func SourceKey(songID models.ULID, format string) string {
	return path.Join(songsPrefix, songID.String(), "source."+format)
}

// CharacterKey returns the blob key for a song's character reference image.
func CharacterKey(songID models.ULID) string {
	return path.Join(songsPrefix, songID.String(), "character", "reference.jpg")
}

// ClipKey returns the blob key for a generated clip.
func ClipKey(clipID models.ULID) string {
	return path.Join(clipsPrefix, clipID.String()+".mp4")
}

// ComposedKey returns the blob key for a composed video artifact.
func ComposedKey(videoID models.ULID) string {
	return path.Join(composedPrefix, videoID.String()+".mp4")
}

// SongDirKey returns the blob key of a song's directory, for deletion.
func SongDirKey(songID models.ULID) string {
	return path.Join(songsPrefix, songID.String())
}

// Store is the filesystem blob store. Blobs are content files addressed
// by key; reads by clients go through short-lived HMAC-signed URLs.
type Store struct {
	sandbox       *Sandbox
	tempDir       string
	signingSecret []byte
	readURLTTL    time.Duration
	publicBaseURL string
	logger        *slog.Logger
}

// NewStore creates a blob store rooted at cfg.BaseDir with scratch space
// under cfg.TempDir.
func NewStore(cfg config.StorageConfig, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = observability.WithComponent(logger, "storage")

	sandbox, err := NewSandbox(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("creating blob sandbox: %w", err)
	}

	tempDir := cfg.TempDir
	if tempDir == "" {
		tempDir = path.Join(cfg.BaseDir, "temp")
	}
	if err := os.MkdirAll(tempDir, 0750); err != nil {
		return nil, fmt.Errorf("creating temp directory: %w", err)
	}

	ttl := cfg.ReadURLTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	return &Store{
		sandbox:       sandbox,
		tempDir:       tempDir,
		signingSecret: []byte(cfg.SigningSecret),
		readURLTTL:    ttl,
		publicBaseURL: strings.TrimSuffix(cfg.PublicBaseURL, "/"),
		logger:        logger,
	}, nil
}

// BaseDir returns the absolute path of the store root.
func (s *Store) BaseDir() string {
	return s.sandbox.BaseDir()
}

// Put streams blob content to the given key atomically and returns the
// number of bytes written.
func (s *Store) Put(key string, r io.Reader) (int64, error) {
	return s.sandbox.AtomicWriteReader(key, r)
}

// PutBytes writes blob content to the given key.
func (s *Store) PutBytes(key string, data []byte) error {
	return s.sandbox.WriteFile(key, data)
}

// Open opens the blob at key for reading.
func (s *Store) Open(key string) (*os.File, error) {
	return s.sandbox.Open(key)
}

// ReadFile reads the whole blob at key.
func (s *Store) ReadFile(key string) ([]byte, error) {
	return s.sandbox.ReadFile(key)
}

// Exists reports whether a blob exists at key.
func (s *Store) Exists(key string) (bool, error) {
	return s.sandbox.Exists(key)
}

// Size returns the byte size of the blob at key.
func (s *Store) Size(key string) (int64, error) {
	return s.sandbox.Size(key)
}

// AbsPath resolves a blob key to an absolute filesystem path, for handing
// to subprocesses like ffmpeg.
func (s *Store) AbsPath(key string) (string, error) {
	return s.sandbox.ResolvePath(key)
}

// Delete removes the blob at key.
func (s *Store) Delete(key string) error {
	return s.sandbox.Remove(key)
}

// DeleteTree removes a key and everything under it.
func (s *Store) DeleteTree(key string) error {
	return s.sandbox.RemoveAll(key)
}

// Publish moves a finished file from scratch space into the store
// atomically. The source path must be absolute.
func (s *Store) Publish(srcAbsPath, key string) error {
	return s.sandbox.AtomicPublish(srcAbsPath, key)
}

// NewWorkDir creates a scratch directory for a pipeline run. The caller
// removes it with RemoveWorkDir when done.
func (s *Store) NewWorkDir(pattern string) (string, error) {
	dir, err := os.MkdirTemp(s.tempDir, pattern)
	if err != nil {
		return "", fmt.Errorf("creating work directory: %w", err)
	}
	return dir, nil
}

// RemoveWorkDir removes a scratch directory created by NewWorkDir.
func (s *Store) RemoveWorkDir(dir string) {
	if dir == "" {
		return
	}
	if !strings.HasPrefix(dir, s.tempDir+string(os.PathSeparator)) {
		s.logger.Warn("refusing to remove directory outside temp space", slog.String("dir", dir))
		return
	}
	if err := os.RemoveAll(dir); err != nil {
		s.logger.Warn("removing work directory failed", slog.String("dir", dir), slog.Any("error", err))
	}
}

// SignedURL returns a short-lived read URL for the blob at key:
// {base}/files/{key}?exp={unix}&sig={hmac}. The signature covers the key
// and expiry, so neither can be altered without invalidating the URL.
func (s *Store) SignedURL(key string, now time.Time) string {
	exp := now.Add(s.readURLTTL).Unix()
	sig := s.sign(key, exp)

	q := url.Values{}
	q.Set("exp", strconv.FormatInt(exp, 10))
	q.Set("sig", sig)

	return fmt.Sprintf("%s/files/%s?%s", s.publicBaseURL, key, q.Encode())
}

// VerifySignedRead checks the expiry and signature of a signed read
// request. Returns ErrURLExpired or ErrBadSignature on failure.
func (s *Store) VerifySignedRead(key, expStr, sig string, now time.Time) error {
	exp, err := strconv.ParseInt(expStr, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	if now.Unix() > exp {
		return ErrURLExpired
	}

	expected := s.sign(key, exp)
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return ErrBadSignature
	}
	return nil
}

func (s *Store) sign(key string, exp int64) string {
	mac := hmac.New(sha256.New, s.signingSecret)
	fmt.Fprintf(mac, "%s\n%d", key, exp)
	return hex.EncodeToString(mac.Sum(nil))
}

// Sweep removes blobs that are not referenced by any entity row and are
// older than olderThan. The referenced callback reports whether a key is
// still reachable from the database. Returns the number of blobs removed.
func (s *Store) Sweep(referenced func(key string) bool, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	removed := 0

	for _, prefix := range []string{songsPrefix, clipsPrefix, composedPrefix} {
		exists, err := s.sandbox.Exists(prefix)
		if err != nil || !exists {
			continue
		}

		err = s.sandbox.Walk(prefix, func(relPath string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() {
				return err
			}
			if info.ModTime().After(cutoff) {
				return nil
			}
			key := strings.ReplaceAll(relPath, string(os.PathSeparator), "/")
			if referenced(key) {
				return nil
			}
			if err := s.sandbox.Remove(relPath); err != nil {
				s.logger.Warn("sweeping blob failed", slog.String("key", key), slog.Any("error", err))
				return nil
			}
			removed++
			s.logger.Debug("swept unreferenced blob", slog.String("key", key))
			return nil
		})
		if err != nil {
			return removed, fmt.Errorf("sweeping %s: %w", prefix, err)
		}
	}

	return removed, nil
}
