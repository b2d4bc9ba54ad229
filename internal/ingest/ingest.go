// Package ingest orchestrates the file pipeline: discovery events and
// pending retries are drained through copy, parse and upsert by a small
// worker pool. One Service instance owns one run.
package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/simracekit/pitwall/internal/cache"
	"github.com/simracekit/pitwall/internal/config"
	"github.com/simracekit/pitwall/internal/db"
	"github.com/simracekit/pitwall/internal/errors"
	"github.com/simracekit/pitwall/internal/lap"
	"github.com/simracekit/pitwall/internal/live"
	"github.com/simracekit/pitwall/internal/overtake"
	"github.com/simracekit/pitwall/internal/watch"
)

// liveSessionWindow is how recent the last UDP session packet must be
// for its session UID to be attached to ingested laps.
const liveSessionWindow = 10 * time.Second

// Counters are the run's diagnostic totals.
type Counters struct {
	Scans      uint64 `json:"scans"`
	Discovered uint64 `json:"discovered"` // new/changed events emitted
	Parsed     uint64 `json:"parsed"`     // persisted laps
	Failed     uint64 `json:"failed"`     // deterministic parse failures
	Transient  uint64 `json:"transient"`  // left pending for a later cycle
}

// Service wires the watcher, cache, parser and lap store together.
type Service struct {
	database *sql.DB
	cfg      *config.Config
	store    *cache.Store
	scanner  *watch.Scanner
	state    *live.State // may be nil when the listener is disabled
	runID    string

	scans      atomic.Uint64
	discovered atomic.Uint64
	parsed     atomic.Uint64
	failed     atomic.Uint64
	transient  atomic.Uint64
}

// New creates a service for one ingest run. state may be nil.
func New(database *sql.DB, cfg *config.Config, store *cache.Store, state *live.State) *Service {
	return &Service{
		database: database,
		cfg:      cfg,
		store:    store,
		scanner:  watch.NewScanner(cfg.TelemetryRoot, store.Dir(), store),
		state:    state,
		runID:    ulid.Make().String(),
	}
}

// RunID returns this run's ULID, stamped on every lap it persists.
func (s *Service) RunID() string {
	return s.runID
}

// Counters returns a snapshot of the run's totals.
func (s *Service) Counters() Counters {
	return Counters{
		Scans:      s.scans.Load(),
		Discovered: s.discovered.Load(),
		Parsed:     s.parsed.Load(),
		Failed:     s.failed.Load(),
		Transient:  s.transient.Load(),
	}
}

// Run cycles discovery on the configured interval until cancelled. An
// in-flight cycle finishes before the loop exits, so no copy or upsert
// is cut off mid-write.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.ScanInterval())
	defer ticker.Stop()

	for {
		if err := s.ScanOnce(ctx); err != nil {
			// The store being down or the root unreadable: next cycle
			// retries, cached copies survive
			log.Printf("[ingest] cycle failed: %v", err)
		}
		select {
		case <-ctx.Done():
			log.Printf("[ingest] loop stopping: %v", ctx.Err())
			return nil
		case <-ticker.C:
		}
	}
}

// job is one unit of pipeline work: a fresh discovery event, or a cached
// copy left pending by an earlier cycle.
type job struct {
	event   *watch.Event
	pending *db.CachedFileRow
}

// ScanOnce runs one full cycle: retry pending copies, discover changes,
// drain everything through the worker pool.
func (s *Service) ScanOnce(ctx context.Context) error {
	s.scans.Add(1)

	var jobList []job
	inFlight := make(map[string]bool)

	pending, err := s.store.Pending()
	if err != nil {
		return err
	}
	for i := range pending {
		cf := &pending[i]
		inFlight[cf.RelPath+"\x00"+cf.Fingerprint] = true
		jobList = append(jobList, job{pending: cf})
	}

	events, err := s.scanner.Scan()
	if err != nil {
		return err
	}
	for i := range events {
		ev := &events[i]
		s.discovered.Add(1)
		log.Printf("[ingest] %s file %s (%s)", ev.Kind, ev.RelPath, ev.Fingerprint[:12])
		if inFlight[ev.RelPath+"\x00"+ev.Fingerprint] {
			continue // already queued as a pending retry
		}
		jobList = append(jobList, job{event: ev})
	}

	if len(jobList) == 0 {
		return nil
	}

	workers := s.cfg.IngestWorkers
	if workers < 1 {
		workers = 1
	}
	jobs := make(chan job)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				s.process(j)
			}
		}()
	}

feed:
	for _, j := range jobList {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- j:
		}
	}
	close(jobs)
	wg.Wait()
	return nil
}

func (s *Service) process(j job) {
	cf := j.pending
	if j.event != nil {
		copied, err := s.store.Copy(j.event.AbsPath, j.event.RelPath)
		if err != nil {
			s.transient.Add(1)
			log.Printf("[ingest] copy failed for %s: %v", j.event.RelPath, err)
			return
		}
		if copied.Status == db.CacheStatusParsed {
			return // identical content already ingested
		}
		cf = copied
	}
	// Failures are counted and logged inside; the record only matters
	// to manual imports
	_, _ = s.ingestCopy(cf, false)
}

// ingestCopy parses one cached copy and upserts the lap. force re-parses
// a copy regardless of its recorded status (manual imports).
func (s *Service) ingestCopy(cf *db.CachedFileRow, force bool) (*lap.Record, error) {
	if cf.Status == db.CacheStatusFailed && !force {
		return nil, nil
	}

	rc, err := s.store.Open(cf)
	if err != nil {
		s.transient.Add(1)
		log.Printf("[ingest] cannot open cached copy %s: %v", cf.CachePath, err)
		return nil, err
	}
	rec, err := overtake.Parse(rc, cf.RelPath)
	rc.Close()
	if err != nil {
		if errors.IsTransient(err) {
			s.transient.Add(1)
			log.Printf("[ingest] transient failure for %s, retrying next cycle: %v", cf.RelPath, err)
			return nil, err
		}
		s.failed.Add(1)
		log.Printf("[ingest] rejecting %s: %v", cf.RelPath, err)
		if markErr := s.store.MarkFailed(cf); markErr != nil {
			log.Printf("[ingest] could not mark %s failed: %v", cf.RelPath, markErr)
		}
		return nil, err
	}

	rec.LapID = cf.Fingerprint
	rec.SourcePath = cf.RelPath
	rec.SessionType = lap.DetectSession(cf.RelPath)
	rec.SessionUID = s.sessionUID(cf)
	rec.ImportRunID = s.runID

	if err := db.UpsertLap(s.database, rec); err != nil {
		s.transient.Add(1)
		log.Printf("[ingest] upsert failed for %s, retrying next cycle: %v", cf.RelPath, err)
		return nil, err
	}
	if err := s.store.MarkParsed(cf); err != nil {
		log.Printf("[ingest] could not mark %s parsed: %v", cf.RelPath, err)
	}
	s.parsed.Add(1)
	log.Printf("[ingest] persisted lap %s from %s", rec.LapID[:12], cf.RelPath)
	return rec, nil
}

// sessionUID ties a lap to the live UDP session when the listener has
// heard from the simulator recently, else falls back to the file's
// mtime so laps from separate races never share a bucket.
func (s *Service) sessionUID(cf *db.CachedFileRow) string {
	if s.state != nil {
		snap := s.state.Snapshot()
		if snap.SessionUID != 0 && !snap.Stale(liveSessionWindow, time.Now()) {
			return fmt.Sprintf("%d", snap.SessionUID)
		}
	}
	return fmt.Sprintf("file-%d", cf.ModifiedAt)
}

// ImportFile pushes one file through the pipeline immediately,
// bypassing the watcher's stability window. Used for manual re-imports.
func (s *Service) ImportFile(absPath, relPath string) (*lap.Record, error) {
	cf, err := s.store.Copy(absPath, relPath)
	if err != nil {
		return nil, err
	}
	return s.ingestCopy(cf, true)
}
