// Package cache mirrors source export files into an exclusively-owned
// directory, keyed by content fingerprint. Source files are only ever
// opened read-only; parsing always happens on the cached copy.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/simracekit/pitwall/internal/db"
	"github.com/simracekit/pitwall/internal/errors"
)

// Store owns the cache directory and the fingerprint index.
type Store struct {
	database *sql.DB
	dir      string
	keep     int // content versions retained per source path
}

// New creates the cache directory if needed and returns a Store.
func New(database *sql.DB, dir string, keepVersions int) (*Store, error) {
	if dir == "" {
		return nil, errors.NewInvalidRequest("cache directory must be set")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.NewInternal(fmt.Errorf("failed to create cache directory: %w", err))
	}
	if keepVersions < 1 {
		keepVersions = 1
	}
	return &Store{database: database, dir: dir, keep: keepVersions}, nil
}

// Dir returns the cache directory.
func (s *Store) Dir() string {
	return s.dir
}

// Fingerprint hashes a file's contents (SHA-256, hex). Identical bytes
// always hash identically regardless of filesystem metadata.
func Fingerprint(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, errors.NewIOTransient(path, err)
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, errors.NewIOTransient(path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// LatestFingerprint returns the last cached fingerprint for a source path.
func (s *Store) LatestFingerprint(relPath string) (string, bool, error) {
	return db.LatestFingerprint(s.database, relPath)
}

// Lookup fetches the index entry for a path/fingerprint pair.
func (s *Store) Lookup(relPath, fingerprint string) (*db.CachedFileRow, error) {
	return db.LookupCachedFile(s.database, relPath, fingerprint)
}

// Copy mirrors one source file into the cache. The source is read once,
// hashed while copying; the copy lands under a temporary name and is
// renamed into place, so a concurrent reader never sees a partial file.
// Copying content that is already cached is a no-op returning the
// existing entry.
func (s *Store) Copy(absPath, relPath string) (*db.CachedFileRow, error) {
	src, err := os.Open(absPath)
	if err != nil {
		return nil, errors.NewIOTransient(absPath, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return nil, errors.NewIOTransient(absPath, err)
	}

	tmp, err := os.CreateTemp(s.dir, ".copy-*")
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	tmpPath := tmp.Name()
	// Best-effort cleanup on the early-return paths below
	defer os.Remove(tmpPath)

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), src)
	if err != nil {
		tmp.Close()
		return nil, errors.NewIOTransient(absPath, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, errors.NewInternal(err)
	}

	fingerprint := hex.EncodeToString(h.Sum(nil))

	// Known fingerprint for this path: keep the existing copy
	if existing, err := s.Lookup(relPath, fingerprint); err == nil {
		return existing, nil
	} else if !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}

	cachePath := filepath.Join(s.dir, cacheName(relPath, fingerprint))
	if err := os.Rename(tmpPath, cachePath); err != nil {
		return nil, errors.NewInternal(err)
	}

	cf := &db.CachedFileRow{
		RelPath:     relPath,
		Fingerprint: fingerprint,
		Size:        size,
		ModifiedAt:  info.ModTime().Unix(),
		CachePath:   cachePath,
	}
	if err := db.InsertCachedFile(s.database, cf); err != nil {
		return nil, err
	}
	return cf, nil
}

// Open returns a reader over a cached copy.
func (s *Store) Open(cf *db.CachedFileRow) (io.ReadCloser, error) {
	f, err := os.Open(cf.CachePath)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return f, nil
}

// MarkParsed records a successful parse+persist and prunes copies of the
// same path superseded beyond the retention limit.
func (s *Store) MarkParsed(cf *db.CachedFileRow) error {
	if err := db.SetCachedFileStatus(s.database, cf.RelPath, cf.Fingerprint, db.CacheStatusParsed); err != nil {
		return err
	}
	return s.prune(cf.RelPath)
}

// MarkFailed records a deterministic parse failure so the copy is not
// retried every cycle.
func (s *Store) MarkFailed(cf *db.CachedFileRow) error {
	return db.SetCachedFileStatus(s.database, cf.RelPath, cf.Fingerprint, db.CacheStatusFailed)
}

// Pending returns cached copies that have not been persisted yet.
func (s *Store) Pending() ([]db.CachedFileRow, error) {
	return db.PendingCachedFiles(s.database)
}

// prune drops superseded copies for a path, keeping the newest keep
// versions. Copies still pending are left alone.
func (s *Store) prune(relPath string) error {
	old, err := db.SupersededCachedFiles(s.database, relPath, s.keep)
	if err != nil {
		return err
	}
	for _, cf := range old {
		if cf.Status == db.CacheStatusPending {
			continue
		}
		if err := os.Remove(cf.CachePath); err != nil && !os.IsNotExist(err) {
			return errors.NewInternal(err)
		}
		if err := db.DeleteCachedFile(s.database, cf.RelPath, cf.Fingerprint); err != nil {
			return err
		}
	}
	return nil
}

// cacheName derives the on-disk name for a cached copy: a short hash of
// the source path plus a fingerprint prefix, keeping the original
// extension for readability.
func cacheName(relPath, fingerprint string) string {
	pathHash := sha256.Sum256([]byte(relPath))
	ext := filepath.Ext(relPath)
	return hex.EncodeToString(pathHash[:])[:16] + "-" + fingerprint[:12] + ext
}
