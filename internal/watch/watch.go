// Package watch discovers new and changed export files under a read-only
// telemetry root. Discovery is a pure polling state machine: no OS
// notification APIs, so the behavior is identical on every platform the
// capture tools run on.
package watch

import (
	"io/fs"
	"log"
	"path/filepath"
	"strings"

	"github.com/simracekit/pitwall/internal/cache"
	"github.com/simracekit/pitwall/internal/lap"
)

// EventKind distinguishes first sightings from content changes.
type EventKind int

const (
	EventNew EventKind = iota
	EventChanged
)

func (k EventKind) String() string {
	if k == EventChanged {
		return "changed"
	}
	return "new"
}

// Event is one discovered source file version.
type Event struct {
	Kind        EventKind
	AbsPath     string
	RelPath     string // slash-separated, relative to the root
	Fingerprint string
	Size        int64
}

// FingerprintIndex is the part of the cache store the scanner needs:
// the last known fingerprint per source path.
type FingerprintIndex interface {
	LatestFingerprint(relPath string) (string, bool, error)
}

// observation tracks one candidate file between cycles. A file is only
// fingerprinted once its size and mtime have been identical across two
// consecutive observations, so a file mid-write is left alone. No locks
// are taken on files this process does not own. The cached fingerprint
// avoids re-hashing an unchanged file; whether the version still needs
// ingesting is always the index's call, so a version whose copy failed
// is re-emitted until it lands.
type observation struct {
	size        int64
	modNano     int64
	fingerprint string // hash of this (size, mtime) version, computed once
}

// Scanner walks a telemetry root and emits New/Changed events decided by
// content fingerprint, never by size/mtime alone.
type Scanner struct {
	root    string
	exclude string // absolute directory never scanned (the cache dir)
	index   FingerprintIndex
	seen    map[string]*observation
}

// NewScanner creates a scanner over root. exclude may name a directory
// (typically the cache) that is skipped even if nested under root.
func NewScanner(root, exclude string, index FingerprintIndex) *Scanner {
	return &Scanner{
		root:    root,
		exclude: exclude,
		index:   index,
		seen:    make(map[string]*observation),
	}
}

// Scan runs one discovery cycle. Unreadable files are logged and retried
// on the next cycle; only an unusable root or a failing index aborts the
// scan.
func (s *Scanner) Scan() ([]Event, error) {
	var events []Event
	var indexErr error
	visited := make(map[string]bool)

	walkErr := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == s.root {
				return err // bad root is fatal to the cycle
			}
			log.Printf("[watch] skipping unreadable entry %s: %v", path, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if s.exclude != "" && path == s.exclude {
				return fs.SkipDir
			}
			return nil
		}

		name := d.Name()
		if !strings.EqualFold(filepath.Ext(name), ".csv") {
			return nil
		}
		if lap.IsTimeTrial(name) {
			return nil
		}

		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		visited[rel] = true

		info, err := d.Info()
		if err != nil {
			log.Printf("[watch] stat failed for %s: %v", path, err)
			return nil
		}

		obs := s.seen[rel]
		if obs == nil || obs.size != info.Size() || obs.modNano != info.ModTime().UnixNano() {
			// First sighting of this version, or the writer is still
			// going. Wait for a stable second observation.
			s.seen[rel] = &observation{size: info.Size(), modNano: info.ModTime().UnixNano()}
			return nil
		}

		fp := obs.fingerprint
		if fp == "" {
			fp, _, err = cache.Fingerprint(path)
			if err != nil {
				// Transient read failure: retried next cycle
				log.Printf("[watch] fingerprint failed for %s: %v", path, err)
				return nil
			}
			obs.fingerprint = fp
		}

		last, ok, err := s.index.LatestFingerprint(rel)
		if err != nil {
			indexErr = err
			return filepath.SkipAll
		}

		switch {
		case !ok:
			events = append(events, Event{Kind: EventNew, AbsPath: path, RelPath: rel, Fingerprint: fp, Size: info.Size()})
		case last != fp:
			events = append(events, Event{Kind: EventChanged, AbsPath: path, RelPath: rel, Fingerprint: fp, Size: info.Size()})
		}
		return nil
	})

	if indexErr != nil {
		return nil, indexErr
	}
	if walkErr != nil {
		return nil, walkErr
	}

	// Forget files that disappeared so the map tracks the live tree
	for rel := range s.seen {
		if !visited[rel] {
			delete(s.seen, rel)
		}
	}

	return events, nil
}
