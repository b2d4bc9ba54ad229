package db

import (
	"database/sql"
	"testing"

	"github.com/simracekit/pitwall/internal/errors"
	"github.com/simracekit/pitwall/internal/lap"
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func sampleLap(lapID, sourcePath string) *lap.Record {
	fuel := 42.5
	wear := 12.0
	return &lap.Record{
		LapID:        lapID,
		SourcePath:   sourcePath,
		Game:         "F1 25",
		Track:        "Monza",
		SessionType:  lap.SessionRace,
		Driver:       "M. Verri",
		SessionUID:   "8839221",
		RecordedAt:   1724580000,
		TyreCompound: "C4",
		FuelStart:    &fuel,
		LapTimeSec:   81.337,
		WearFL:       &wear,
		WeatherAtLap: "LightRain",
		Summary: lap.TelemetrySummary{
			Samples: 120,
			Speed:   lap.ChannelStats{Min: 92, Max: 341, Avg: 211.4},
		},
		ImportRunID: "01J5ZX4R4LTESTRUN000000000",
	}
}

func TestUpsertLap_InsertAndIdempotent(t *testing.T) {
	db := testDB(t)

	r := sampleLap("fp-aaa", "monza/monza_r_01.csv")
	if err := UpsertLap(db, r); err != nil {
		t.Fatalf("UpsertLap() error = %v", err)
	}

	// Same identity again: row count unchanged
	if err := UpsertLap(db, r); err != nil {
		t.Fatalf("second UpsertLap() error = %v", err)
	}

	n, err := CountLaps(db)
	if err != nil {
		t.Fatalf("CountLaps() error = %v", err)
	}
	if n != 1 {
		t.Errorf("lap count = %d, want 1 (upsert, not duplicate insert)", n)
	}

	got, err := GetLap(db, "fp-aaa")
	if err != nil {
		t.Fatalf("GetLap() error = %v", err)
	}
	if got.LapTimeSec != 81.337 {
		t.Errorf("LapTimeSec = %v, want 81.337", got.LapTimeSec)
	}
	if got.FuelStart == nil || *got.FuelStart != 42.5 {
		t.Errorf("FuelStart = %v, want 42.5", got.FuelStart)
	}
	if got.WearFR != nil {
		t.Errorf("WearFR = %v, want nil", got.WearFR)
	}
	if got.Summary.Speed.Max != 341 {
		t.Errorf("Speed.Max = %v, want 341", got.Summary.Speed.Max)
	}
}

func TestUpsertLap_ChangedContentReplacesPathRow(t *testing.T) {
	db := testDB(t)

	if err := UpsertLap(db, sampleLap("fp-v1", "monza/monza_r_01.csv")); err != nil {
		t.Fatalf("UpsertLap() error = %v", err)
	}

	// Same source path re-exported with different bytes: new identity,
	// stale row removed
	v2 := sampleLap("fp-v2", "monza/monza_r_01.csv")
	v2.LapTimeSec = 80.901
	if err := UpsertLap(db, v2); err != nil {
		t.Fatalf("UpsertLap() v2 error = %v", err)
	}

	n, _ := CountLaps(db)
	if n != 1 {
		t.Errorf("lap count = %d, want 1 (stale row for path must be gone)", n)
	}

	if _, err := GetLap(db, "fp-v1"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("GetLap(fp-v1) error = %v, want NOT_FOUND", err)
	}

	got, err := GetLap(db, "fp-v2")
	if err != nil {
		t.Fatalf("GetLap(fp-v2) error = %v", err)
	}
	if got.LapTimeSec != 80.901 {
		t.Errorf("LapTimeSec = %v, want 80.901", got.LapTimeSec)
	}
}

func TestListLaps_Filters(t *testing.T) {
	db := testDB(t)

	a := sampleLap("fp-a", "monza/monza_r_01.csv")
	b := sampleLap("fp-b", "monza/monza_r_02.csv")
	b.RecordedAt = a.RecordedAt + 90
	c := sampleLap("fp-c", "spa/spa_p1_01.csv")
	c.Track = "Spa"
	c.SessionType = lap.SessionPractice
	c.Driver = "A. Keller"

	for _, r := range []*lap.Record{b, a, c} { // insert out of order
		if err := UpsertLap(db, r); err != nil {
			t.Fatalf("UpsertLap() error = %v", err)
		}
	}

	monza, err := ListLaps(db, LapFilter{Track: "Monza"})
	if err != nil {
		t.Fatalf("ListLaps() error = %v", err)
	}
	if len(monza) != 2 {
		t.Fatalf("len(monza) = %d, want 2", len(monza))
	}
	// Ordered by recorded_at
	if monza[0].LapID != "fp-a" || monza[1].LapID != "fp-b" {
		t.Errorf("order = %s, %s; want fp-a, fp-b", monza[0].LapID, monza[1].LapID)
	}

	practice, err := ListLaps(db, LapFilter{SessionType: lap.SessionPractice})
	if err != nil {
		t.Fatalf("ListLaps() error = %v", err)
	}
	if len(practice) != 1 || practice[0].Driver != "A. Keller" {
		t.Errorf("practice filter returned %d rows", len(practice))
	}

	limited, err := ListLaps(db, LapFilter{Limit: 1})
	if err != nil {
		t.Fatalf("ListLaps() error = %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("len(limited) = %d, want 1", len(limited))
	}

	none, err := ListLaps(db, LapFilter{Driver: "nobody"})
	if err != nil {
		t.Fatalf("ListLaps() error = %v", err)
	}
	if len(none) != 0 {
		t.Errorf("len(none) = %d, want 0", len(none))
	}
}

func TestTrackCounts(t *testing.T) {
	db := testDB(t)

	for i, id := range []string{"fp-1", "fp-2", "fp-3"} {
		r := sampleLap(id, "monza/lap_r_"+id+".csv")
		if i == 2 {
			r.Track = "Spa"
		}
		if err := UpsertLap(db, r); err != nil {
			t.Fatalf("UpsertLap() error = %v", err)
		}
	}

	counts, err := TrackCounts(db)
	if err != nil {
		t.Fatalf("TrackCounts() error = %v", err)
	}
	if len(counts) != 2 {
		t.Fatalf("len(counts) = %d, want 2", len(counts))
	}
	if counts[0].Track != "Monza" || counts[0].Laps != 2 {
		t.Errorf("counts[0] = %+v, want Monza with 2 laps", counts[0])
	}
}
