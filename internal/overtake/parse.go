package overtake

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/simracekit/pitwall/internal/errors"
	"github.com/simracekit/pitwall/internal/lap"
)

// Section and key names of the export format.
const (
	sectionMeta      = "Meta"
	sectionGame      = "Game"
	sectionTrack     = "Track"
	sectionSetup     = "Setup"
	sectionTelemetry = "Telemetry"
)

// sectionHandler validates one key=value section and writes its fields
// into the record. New export-tool sections get a new entry here without
// touching the others.
type sectionHandler struct {
	required []string
	apply    func(kv map[string]string, rec *lap.Record) error
}

var handlers = map[string]sectionHandler{
	sectionMeta: {
		required: []string{"recorded_at", "lap_time", "driver"},
		apply: func(kv map[string]string, rec *lap.Record) error {
			ts, err := parseTimestamp(kv["recorded_at"])
			if err != nil {
				return errors.NewMissingField(sectionMeta, "recorded_at")
			}
			rec.RecordedAt = ts

			lt, err := parseLocaleFloat(kv["lap_time"])
			if err != nil || lt <= 0 {
				return errors.NewMissingField(sectionMeta, "lap_time")
			}
			rec.LapTimeSec = lt

			rec.Driver = kv["driver"]
			rec.WeatherAtLap = kv["weather"] // optional, free-form
			return nil
		},
	},
	sectionGame: {
		required: []string{"name"},
		apply: func(kv map[string]string, rec *lap.Record) error {
			rec.Game = kv["name"]
			return nil
		},
	},
	sectionTrack: {
		required: []string{"name"},
		apply: func(kv map[string]string, rec *lap.Record) error {
			rec.Track = kv["name"]
			return nil
		},
	},
	sectionSetup: {
		required: []string{"tyre_compound"},
		apply: func(kv map[string]string, rec *lap.Record) error {
			rec.TyreCompound = kv["tyre_compound"]
			// fuel_start is optional; an unparseable value falls back to
			// absent rather than failing the file
			if v, err := parseLocaleFloat(kv["fuel_start"]); err == nil {
				rec.FuelStart = &v
			}
			return nil
		},
	},
}

// Parse converts one cached export into a lap record. name is the source
// path used in error messages only. Identity fields (LapID, SourcePath,
// SessionType, SessionUID, ImportRunID) are the caller's business.
func Parse(r io.Reader, name string) (*lap.Record, error) {
	sections, err := splitSections(r, name)
	if err != nil {
		return nil, err
	}

	rec := &lap.Record{}
	for _, sectionName := range []string{sectionMeta, sectionGame, sectionTrack, sectionSetup} {
		h := handlers[sectionName]
		sec, ok := sections[sectionName]
		if !ok {
			return nil, errors.NewMissingField(sectionName, h.required[0])
		}
		for _, key := range h.required {
			if sec.kv[key] == "" {
				return nil, errors.NewMissingField(sectionName, key)
			}
		}
		if err := h.apply(sec.kv, rec); err != nil {
			return nil, err
		}
	}

	tel, ok := sections[sectionTelemetry]
	if !ok || len(tel.lines) == 0 {
		return nil, errors.NewMissingField(sectionTelemetry, "header")
	}
	summary, end, err := aggregate(tel.lines)
	if err != nil {
		return nil, err
	}
	rec.Summary = summary
	rec.FuelEnd = end.fuel
	rec.WearFL = end.wearFL
	rec.WearFR = end.wearFR
	rec.WearRL = end.wearRL
	rec.WearRR = end.wearRR

	return rec, nil
}

// parseLocaleFloat accepts both decimal comma and decimal point, so
// "12,345" and "12.345" are the same number.
func parseLocaleFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, strconv.ErrSyntax
	}
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
}

// parseTimestamp accepts the capture tool's "2006-01-02 15:04:05" local
// form and RFC 3339.
func parseTimestamp(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t.Unix(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, err
	}
	return t.Unix(), nil
}
