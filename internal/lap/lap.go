package lap

import (
	"path/filepath"
	"regexp"
	"strings"
)

// SessionType is the kind of session a lap was recorded in, detected from
// the export file name.
type SessionType string

const (
	SessionRace       SessionType = "R"
	SessionQualifying SessionType = "Q"
	SessionPractice   SessionType = "P"
	SessionUnknown    SessionType = ""
)

// Record is one persisted lap. LapID is the hex content fingerprint of the
// source file version, so re-parsing byte-identical content upserts the
// same row and changed content produces a new identity.
type Record struct {
	// LapID uniquely identifies this lap (content fingerprint of the export)
	LapID string `json:"lap_id"`

	// SourcePath is the root-relative path of the export file
	SourcePath string `json:"source_path"`

	Game        string      `json:"game"`
	Track       string      `json:"track"`
	SessionType SessionType `json:"session_type"`
	Driver      string      `json:"driver"`

	// SessionUID ties the lap to a live UDP session when the listener was
	// running at ingest time, else a file-time fallback so separate races
	// never merge into one bucket
	SessionUID string `json:"session_uid"`

	// RecordedAt is the export's declared timestamp (unix seconds)
	RecordedAt int64 `json:"recorded_at"`

	// Setup at lap start
	TyreCompound string   `json:"tyre_compound"`
	FuelStart    *float64 `json:"fuel_start,omitempty"`

	LapTimeSec float64 `json:"lap_time_s"`

	// End-of-lap state, taken from the last valid telemetry row
	FuelEnd *float64 `json:"fuel_end,omitempty"`
	WearFL  *float64 `json:"wear_fl,omitempty"`
	WearFR  *float64 `json:"wear_fr,omitempty"`
	WearRL  *float64 `json:"wear_rl,omitempty"`
	WearRR  *float64 `json:"wear_rr,omitempty"`

	// WeatherAtLap is the export's declared weather, free-form
	WeatherAtLap string `json:"weather_at_lap,omitempty"`

	Summary TelemetrySummary `json:"telemetry_summary"`

	// ImportRunID is the ULID of the ingest run that produced this row
	ImportRunID string `json:"import_run_id,omitempty"`
}

// ChannelStats are min/max/avg aggregates for one telemetry channel.
type ChannelStats struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
}

// TelemetrySummary aggregates the per-sample telemetry table. Raw rows are
// not persisted.
type TelemetrySummary struct {
	Samples     int          `json:"samples"`
	SkippedRows int          `json:"skipped_rows,omitempty"`
	Speed       ChannelStats `json:"speed"`
	Throttle    ChannelStats `json:"throttle"`
	Brake       ChannelStats `json:"brake"`
	RPM         ChannelStats `json:"rpm"`
}

// Session tokens in export file names, e.g. monza_r_2.csv or spa_q1_lap4.csv.
var (
	reRace       = regexp.MustCompile(`(^|_)r($|_)`)
	reQualifying = regexp.MustCompile(`(^|_)q($|_)|(^|_)q[123]($|_)`)
	rePractice   = regexp.MustCompile(`(^|_)p($|_)|(^|_)p[123]($|_)`)
)

// DetectSession classifies an export file name by its session token.
func DetectSession(name string) SessionType {
	n := stem(name)

	if reRace.MatchString(n) {
		return SessionRace
	}
	if reQualifying.MatchString(n) {
		return SessionQualifying
	}
	if rePractice.MatchString(n) {
		return SessionPractice
	}
	return SessionUnknown
}

// IsTimeTrial reports whether the file name marks a time-trial export.
// Time-trial laps carry no race-relevant fuel/wear data and are skipped
// before caching.
func IsTimeTrial(name string) bool {
	n := stem(name)
	return strings.Contains(n, "_tt_") || strings.HasSuffix(n, "_tt") || strings.HasPrefix(n, "tt_")
}

// stem lowercases the base name and strips the extension.
func stem(name string) string {
	base := filepath.Base(name)
	return strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
}
