package db

import (
	"database/sql"
	"time"

	"github.com/simracekit/pitwall/internal/errors"
)

// Cached file statuses. A pending copy is retried on later cycles; a
// failed one holds a deterministic parse error and is left alone.
const (
	CacheStatusPending = "pending"
	CacheStatusParsed  = "parsed"
	CacheStatusFailed  = "failed"
)

// CachedFileRow is one entry of the fingerprint index.
type CachedFileRow struct {
	RelPath     string `json:"rel_path"`
	Fingerprint string `json:"fingerprint"`
	Size        int64  `json:"size"`
	ModifiedAt  int64  `json:"modified_at"`
	CachePath   string `json:"cache_path"`
	Status      string `json:"status"`
	CreatedAt   int64  `json:"created_at"`
}

// LatestFingerprint returns the most recently cached fingerprint for a
// source path, or ok=false if the path has never been cached.
func LatestFingerprint(db *sql.DB, relPath string) (string, bool, error) {
	var fp string
	err := db.QueryRow(`
		SELECT fingerprint FROM cached_files
		WHERE rel_path = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT 1
	`, relPath).Scan(&fp)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.NewPersistence(err)
	}
	return fp, true, nil
}

// LookupCachedFile fetches one index entry by identity.
func LookupCachedFile(db *sql.DB, relPath, fingerprint string) (*CachedFileRow, error) {
	row := db.QueryRow(`
		SELECT rel_path, fingerprint, size, modified_at, cache_path, status, created_at
		FROM cached_files
		WHERE rel_path = ? AND fingerprint = ?
	`, relPath, fingerprint)

	var cf CachedFileRow
	err := row.Scan(&cf.RelPath, &cf.Fingerprint, &cf.Size, &cf.ModifiedAt,
		&cf.CachePath, &cf.Status, &cf.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(relPath + "@" + fingerprint)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return &cf, nil
}

// InsertCachedFile records a new cache copy. Inserting an identity that
// already exists is a no-op, keeping Copy idempotent.
func InsertCachedFile(db *sql.DB, cf *CachedFileRow) error {
	if cf.CreatedAt == 0 {
		cf.CreatedAt = time.Now().Unix()
	}
	if cf.Status == "" {
		cf.Status = CacheStatusPending
	}

	_, err := db.Exec(`
		INSERT OR IGNORE INTO cached_files
			(rel_path, fingerprint, size, modified_at, cache_path, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, cf.RelPath, cf.Fingerprint, cf.Size, cf.ModifiedAt, cf.CachePath, cf.Status, cf.CreatedAt)
	if err != nil {
		return errors.NewPersistence(err)
	}
	return nil
}

// SetCachedFileStatus moves an index entry through pending/parsed/failed.
func SetCachedFileStatus(db *sql.DB, relPath, fingerprint, status string) error {
	result, err := db.Exec(`
		UPDATE cached_files SET status = ?
		WHERE rel_path = ? AND fingerprint = ?
	`, status, relPath, fingerprint)
	if err != nil {
		return errors.NewPersistence(err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return errors.NewInternal(err)
	}
	if n == 0 {
		return errors.NewNotFound(relPath + "@" + fingerprint)
	}
	return nil
}

// SupersededCachedFiles returns index entries for a path beyond the newest
// keep versions, oldest last. Used to prune replaced copies after a
// successful parse.
func SupersededCachedFiles(db *sql.DB, relPath string, keep int) ([]CachedFileRow, error) {
	if keep < 1 {
		keep = 1
	}

	rows, err := db.Query(`
		SELECT rel_path, fingerprint, size, modified_at, cache_path, status, created_at
		FROM cached_files
		WHERE rel_path = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT -1 OFFSET ?
	`, relPath, keep)
	if err != nil {
		return nil, errors.NewPersistence(err)
	}
	defer rows.Close()

	var old []CachedFileRow
	for rows.Next() {
		var cf CachedFileRow
		if err := rows.Scan(&cf.RelPath, &cf.Fingerprint, &cf.Size, &cf.ModifiedAt,
			&cf.CachePath, &cf.Status, &cf.CreatedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		old = append(old, cf)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewPersistence(err)
	}
	return old, nil
}

// DeleteCachedFile removes one index entry. The caller removes the copy
// on disk first.
func DeleteCachedFile(db *sql.DB, relPath, fingerprint string) error {
	_, err := db.Exec(`
		DELETE FROM cached_files WHERE rel_path = ? AND fingerprint = ?
	`, relPath, fingerprint)
	if err != nil {
		return errors.NewPersistence(err)
	}
	return nil
}

// PendingCachedFiles returns copies that were cached but not yet
// persisted, oldest first. Retried each discovery cycle.
func PendingCachedFiles(db *sql.DB) ([]CachedFileRow, error) {
	rows, err := db.Query(`
		SELECT rel_path, fingerprint, size, modified_at, cache_path, status, created_at
		FROM cached_files
		WHERE status = ?
		ORDER BY created_at ASC
	`, CacheStatusPending)
	if err != nil {
		return nil, errors.NewPersistence(err)
	}
	defer rows.Close()

	var pending []CachedFileRow
	for rows.Next() {
		var cf CachedFileRow
		if err := rows.Scan(&cf.RelPath, &cf.Fingerprint, &cf.Size, &cf.ModifiedAt,
			&cf.CachePath, &cf.Status, &cf.CreatedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		pending = append(pending, cf)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewPersistence(err)
	}
	return pending, nil
}

// CacheStats tallies index entries by status.
type CacheStats struct {
	Pending int `json:"pending"`
	Parsed  int `json:"parsed"`
	Failed  int `json:"failed"`
}

// CachedFileStats summarizes the fingerprint index for diagnostics.
func CachedFileStats(db *sql.DB) (*CacheStats, error) {
	rows, err := db.Query(`SELECT status, COUNT(*) FROM cached_files GROUP BY status`)
	if err != nil {
		return nil, errors.NewPersistence(err)
	}
	defer rows.Close()

	stats := &CacheStats{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, errors.NewInternal(err)
		}
		switch status {
		case CacheStatusPending:
			stats.Pending = n
		case CacheStatusParsed:
			stats.Parsed = n
		case CacheStatusFailed:
			stats.Failed = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewPersistence(err)
	}
	return stats, nil
}
