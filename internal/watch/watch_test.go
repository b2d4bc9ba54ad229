package watch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/simracekit/pitwall/internal/cache"
)

// fakeIndex is an in-memory fingerprint index.
type fakeIndex struct {
	latest map[string]string
	calls  int
}

func (f *fakeIndex) LatestFingerprint(relPath string) (string, bool, error) {
	f.calls++
	fp, ok := f.latest[relPath]
	return fp, ok, nil
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{latest: make(map[string]string)}
}

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestScan_NewFileNeedsTwoStableObservations(t *testing.T) {
	root := t.TempDir()
	idx := newFakeIndex()
	s := NewScanner(root, "", idx)

	path := writeFile(t, root, "monza/monza_r_01.csv", "[Meta]\nlap_time=81.3\n")

	// First cycle only records the observation
	events, err := s.Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("first cycle events = %d, want 0 (stability gate)", len(events))
	}

	// Second cycle sees identical size/mtime and emits
	events, err = s.Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("second cycle events = %d, want 1", len(events))
	}
	ev := events[0]
	if ev.Kind != EventNew {
		t.Errorf("Kind = %s, want new", ev.Kind)
	}
	if ev.RelPath != "monza/monza_r_01.csv" {
		t.Errorf("RelPath = %q, want slash-relative path", ev.RelPath)
	}
	if ev.AbsPath != path {
		t.Errorf("AbsPath = %q, want %q", ev.AbsPath, path)
	}

	wantFP, _, err := cache.Fingerprint(path)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Fingerprint != wantFP {
		t.Errorf("Fingerprint = %s, want content hash", ev.Fingerprint[:12])
	}

	// Once the version reaches the index, later cycles are silent
	idx.latest[ev.RelPath] = wantFP
	events, err = s.Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(events) != 0 {
		t.Errorf("third cycle events = %d, want 0 once indexed", len(events))
	}
}

func TestScan_ReemitsUntilIndexed(t *testing.T) {
	root := t.TempDir()
	idx := newFakeIndex()
	s := NewScanner(root, "", idx)

	writeFile(t, root, "monza_r_01.csv", "[Meta]\nlap_time=81.3\n")
	s.Scan()

	// The downstream copy keeps failing (the index never learns the
	// fingerprint): every cycle must emit the event again, or the
	// version would be lost to a transient failure
	for cycle := 0; cycle < 3; cycle++ {
		events, err := s.Scan()
		if err != nil {
			t.Fatalf("Scan() error = %v", err)
		}
		if len(events) != 1 || events[0].Kind != EventNew {
			t.Fatalf("cycle %d events = %v, want the unindexed version re-emitted", cycle, events)
		}
	}

	// The copy finally lands and the index learns the fingerprint
	fp, _, err := cache.Fingerprint(filepath.Join(root, "monza_r_01.csv"))
	if err != nil {
		t.Fatal(err)
	}
	idx.latest["monza_r_01.csv"] = fp
	events, err := s.Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events = %d after the copy landed, want 0", len(events))
	}
}

func TestScan_SkipsNonCSVAndTimeTrial(t *testing.T) {
	root := t.TempDir()
	s := NewScanner(root, "", newFakeIndex())

	writeFile(t, root, "notes.txt", "not telemetry")
	writeFile(t, root, "screenshot.png", "png")
	writeFile(t, root, "hungary_tt_79.111.csv", "[Meta]\n")
	writeFile(t, root, "tt_silverstone.csv", "[Meta]\n")

	s.Scan()
	events, err := s.Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events = %d, want 0 (non-CSV and time-trial files skipped)", len(events))
	}
}

func TestScan_KnownFingerprintIsSilent(t *testing.T) {
	root := t.TempDir()
	idx := newFakeIndex()
	s := NewScanner(root, "", idx)

	path := writeFile(t, root, "spa_r_02.csv", "content-v1")
	fp, _, err := cache.Fingerprint(path)
	if err != nil {
		t.Fatal(err)
	}
	idx.latest["spa_r_02.csv"] = fp

	s.Scan()
	events, err := s.Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events = %d, want 0 for an already-ingested file", len(events))
	}
}

func TestScan_ChangedContentEmitsChanged(t *testing.T) {
	root := t.TempDir()
	idx := newFakeIndex()
	s := NewScanner(root, "", idx)

	path := writeFile(t, root, "spa_r_02.csv", "content-v1")
	oldFP, _, err := cache.Fingerprint(path)
	if err != nil {
		t.Fatal(err)
	}
	idx.latest["spa_r_02.csv"] = oldFP

	s.Scan()
	s.Scan()

	// Re-export with different bytes: the observation resets and the
	// stability gate applies again
	writeFile(t, root, "spa_r_02.csv", "content-v2, rather longer")

	events, err := s.Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("events = %d right after modification, want 0", len(events))
	}

	events, err = s.Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	if events[0].Kind != EventChanged {
		t.Errorf("Kind = %s, want changed", events[0].Kind)
	}
	if events[0].Fingerprint == oldFP {
		t.Error("changed event must carry the new fingerprint")
	}
}

func TestScan_ExcludedDirIgnored(t *testing.T) {
	root := t.TempDir()
	excluded := filepath.Join(root, "cache")
	s := NewScanner(root, excluded, newFakeIndex())

	writeFile(t, root, "cache/abcd-123456789012.csv", "cached copy")

	s.Scan()
	events, err := s.Scan()
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if len(events) != 0 {
		t.Errorf("events = %d, want 0 (cache dir excluded)", len(events))
	}
}

func TestScan_MissingRootFails(t *testing.T) {
	s := NewScanner(filepath.Join(t.TempDir(), "absent"), "", newFakeIndex())
	if _, err := s.Scan(); err == nil {
		t.Fatal("Scan() should fail for a missing root")
	}
}
