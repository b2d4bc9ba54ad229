package db

import (
	"database/sql"
	"time"

	"github.com/simracekit/pitwall/internal/errors"
	"github.com/simracekit/pitwall/internal/lap"
)

// lapColumns is the select list shared by every lap query, in scanLap order.
const lapColumns = `
	lap_id, source_path, game, track, session_type, driver, session_uid,
	recorded_at, tyre, fuel_start, fuel_end, lap_time_s,
	wear_fl, wear_fr, wear_rl, wear_rr, weather,
	sample_count, skipped_rows,
	speed_min, speed_max, speed_avg,
	throttle_min, throttle_max, throttle_avg,
	brake_min, brake_max, brake_avg,
	rpm_min, rpm_max, rpm_avg,
	import_run_id`

// UpsertLap inserts or replaces a lap keyed by lap_id. Identity is tied to
// content, so a changed source file arrives under a new lap_id; the stale
// row for the same source path is removed in the same transaction and a
// reader never sees both versions.
func UpsertLap(db *sql.DB, r *lap.Record) error {
	now := time.Now().Unix()

	tx, err := db.Begin()
	if err != nil {
		return errors.NewPersistence(err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`DELETE FROM laps WHERE source_path = ? AND lap_id != ?`,
		r.SourcePath, r.LapID,
	); err != nil {
		return errors.NewPersistence(err)
	}

	query := `
		INSERT INTO laps (
			lap_id, source_path, game, track, session_type, driver, session_uid,
			recorded_at, tyre, fuel_start, fuel_end, lap_time_s,
			wear_fl, wear_fr, wear_rl, wear_rr, weather,
			sample_count, skipped_rows,
			speed_min, speed_max, speed_avg,
			throttle_min, throttle_max, throttle_avg,
			brake_min, brake_max, brake_avg,
			rpm_min, rpm_max, rpm_avg,
			import_run_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(lap_id) DO UPDATE SET
			source_path = excluded.source_path,
			game = excluded.game,
			track = excluded.track,
			session_type = excluded.session_type,
			driver = excluded.driver,
			session_uid = excluded.session_uid,
			recorded_at = excluded.recorded_at,
			tyre = excluded.tyre,
			fuel_start = excluded.fuel_start,
			fuel_end = excluded.fuel_end,
			lap_time_s = excluded.lap_time_s,
			wear_fl = excluded.wear_fl,
			wear_fr = excluded.wear_fr,
			wear_rl = excluded.wear_rl,
			wear_rr = excluded.wear_rr,
			weather = excluded.weather,
			sample_count = excluded.sample_count,
			skipped_rows = excluded.skipped_rows,
			speed_min = excluded.speed_min, speed_max = excluded.speed_max, speed_avg = excluded.speed_avg,
			throttle_min = excluded.throttle_min, throttle_max = excluded.throttle_max, throttle_avg = excluded.throttle_avg,
			brake_min = excluded.brake_min, brake_max = excluded.brake_max, brake_avg = excluded.brake_avg,
			rpm_min = excluded.rpm_min, rpm_max = excluded.rpm_max, rpm_avg = excluded.rpm_avg,
			import_run_id = excluded.import_run_id,
			updated_at = excluded.updated_at
	`

	_, err = tx.Exec(query,
		r.LapID, r.SourcePath, nullIfEmpty(r.Game), nullIfEmpty(r.Track),
		nullIfEmpty(string(r.SessionType)), nullIfEmpty(r.Driver), nullIfEmpty(r.SessionUID),
		r.RecordedAt, nullIfEmpty(r.TyreCompound), toNullFloat(r.FuelStart), toNullFloat(r.FuelEnd),
		r.LapTimeSec,
		toNullFloat(r.WearFL), toNullFloat(r.WearFR), toNullFloat(r.WearRL), toNullFloat(r.WearRR),
		nullIfEmpty(r.WeatherAtLap),
		r.Summary.Samples, r.Summary.SkippedRows,
		r.Summary.Speed.Min, r.Summary.Speed.Max, r.Summary.Speed.Avg,
		r.Summary.Throttle.Min, r.Summary.Throttle.Max, r.Summary.Throttle.Avg,
		r.Summary.Brake.Min, r.Summary.Brake.Max, r.Summary.Brake.Avg,
		r.Summary.RPM.Min, r.Summary.RPM.Max, r.Summary.RPM.Avg,
		nullIfEmpty(r.ImportRunID), now, now,
	)
	if err != nil {
		return errors.NewPersistence(err)
	}

	if err := tx.Commit(); err != nil {
		return errors.NewPersistence(err)
	}
	return nil
}

// LapFilter narrows ListLaps. Zero-value fields are ignored.
type LapFilter struct {
	Track       string
	Driver      string
	SessionType lap.SessionType
	SessionUID  string
	Limit       int
	Offset      int
}

// ListLaps returns laps matching the filter, ordered by recorded_at then
// lap_id for a stable order between byte-equal timestamps.
func ListLaps(db *sql.DB, f LapFilter) ([]*lap.Record, error) {
	query := `SELECT ` + lapColumns + ` FROM laps WHERE 1=1`
	var args []any

	if f.Track != "" {
		query += " AND track = ?"
		args = append(args, f.Track)
	}
	if f.Driver != "" {
		query += " AND driver = ?"
		args = append(args, f.Driver)
	}
	if f.SessionType != lap.SessionUnknown {
		query += " AND session_type = ?"
		args = append(args, string(f.SessionType))
	}
	if f.SessionUID != "" {
		query += " AND session_uid = ?"
		args = append(args, f.SessionUID)
	}

	query += " ORDER BY recorded_at ASC, lap_id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, f.Offset)
		}
	}

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, errors.NewPersistence(err)
	}
	defer rows.Close()

	var laps []*lap.Record
	for rows.Next() {
		r, err := scanLap(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		laps = append(laps, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewPersistence(err)
	}
	return laps, nil
}

// GetLap retrieves one lap by its identity.
func GetLap(db *sql.DB, lapID string) (*lap.Record, error) {
	row := db.QueryRow(`SELECT `+lapColumns+` FROM laps WHERE lap_id = ?`, lapID)
	r, err := scanLap(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFound(lapID)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return r, nil
}

// CountLaps returns the total number of persisted laps.
func CountLaps(db *sql.DB) (int, error) {
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM laps`).Scan(&n); err != nil {
		return 0, errors.NewPersistence(err)
	}
	return n, nil
}

// TrackCount is one row of the per-track lap tally.
type TrackCount struct {
	Track string `json:"track"`
	Laps  int    `json:"laps"`
}

// TrackCounts tallies laps per track, most-populated first.
func TrackCounts(db *sql.DB) ([]TrackCount, error) {
	rows, err := db.Query(`
		SELECT COALESCE(track, '') AS track, COUNT(*)
		FROM laps
		WHERE COALESCE(track, '') != ''
		GROUP BY track
		ORDER BY COUNT(*) DESC, track ASC
	`)
	if err != nil {
		return nil, errors.NewPersistence(err)
	}
	defer rows.Close()

	var counts []TrackCount
	for rows.Next() {
		var tc TrackCount
		if err := rows.Scan(&tc.Track, &tc.Laps); err != nil {
			return nil, errors.NewInternal(err)
		}
		counts = append(counts, tc)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewPersistence(err)
	}
	return counts, nil
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanLap scans a single row into a lap.Record.
func scanLap(row scanner) (*lap.Record, error) {
	var (
		r           lap.Record
		game        sql.NullString
		track       sql.NullString
		sessionType sql.NullString
		driver      sql.NullString
		sessionUID  sql.NullString
		tyre        sql.NullString
		weather     sql.NullString
		runID       sql.NullString
		fuelStart   sql.NullFloat64
		fuelEnd     sql.NullFloat64
		wearFL      sql.NullFloat64
		wearFR      sql.NullFloat64
		wearRL      sql.NullFloat64
		wearRR      sql.NullFloat64
	)

	err := row.Scan(
		&r.LapID, &r.SourcePath, &game, &track, &sessionType, &driver, &sessionUID,
		&r.RecordedAt, &tyre, &fuelStart, &fuelEnd, &r.LapTimeSec,
		&wearFL, &wearFR, &wearRL, &wearRR, &weather,
		&r.Summary.Samples, &r.Summary.SkippedRows,
		&r.Summary.Speed.Min, &r.Summary.Speed.Max, &r.Summary.Speed.Avg,
		&r.Summary.Throttle.Min, &r.Summary.Throttle.Max, &r.Summary.Throttle.Avg,
		&r.Summary.Brake.Min, &r.Summary.Brake.Max, &r.Summary.Brake.Avg,
		&r.Summary.RPM.Min, &r.Summary.RPM.Max, &r.Summary.RPM.Avg,
		&runID,
	)
	if err != nil {
		return nil, err
	}

	r.Game = game.String
	r.Track = track.String
	r.SessionType = lap.SessionType(sessionType.String)
	r.Driver = driver.String
	r.SessionUID = sessionUID.String
	r.TyreCompound = tyre.String
	r.WeatherAtLap = weather.String
	r.ImportRunID = runID.String
	r.FuelStart = fromNullFloat(fuelStart)
	r.FuelEnd = fromNullFloat(fuelEnd)
	r.WearFL = fromNullFloat(wearFL)
	r.WearFR = fromNullFloat(wearFR)
	r.WearRL = fromNullFloat(wearRL)
	r.WearRR = fromNullFloat(wearRR)

	return &r, nil
}

// nullIfEmpty converts "" to NULL so empty metadata never masks filters.
func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// toNullFloat converts a *float64 to sql.NullFloat64.
func toNullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

// fromNullFloat converts a sql.NullFloat64 to *float64.
func fromNullFloat(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	return &nf.Float64
}
