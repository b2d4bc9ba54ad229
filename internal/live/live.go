// Package live holds the process-wide race state fed by the UDP
// listener. One writer, many readers; readers always get a coherent
// deep-copied snapshot, never field-level access.
package live

import (
	"sync"
	"time"
)

// SafetyCarStatus is the race-control phase.
type SafetyCarStatus uint8

const (
	SafetyCarNone SafetyCarStatus = iota
	SafetyCarDeployed
	VirtualSafetyCar
	SafetyCarEnding
)

func (s SafetyCarStatus) String() string {
	switch s {
	case SafetyCarDeployed:
		return "safety-car"
	case VirtualSafetyCar:
		return "virtual-safety-car"
	case SafetyCarEnding:
		return "ending"
	default:
		return "none"
	}
}

// Weather is the simulator's weather scale.
type Weather uint8

const (
	WeatherClear Weather = iota
	WeatherLightCloud
	WeatherOvercast
	WeatherLightRain
	WeatherHeavyRain
	WeatherStorm
)

func (w Weather) String() string {
	switch w {
	case WeatherLightCloud:
		return "light-cloud"
	case WeatherOvercast:
		return "overcast"
	case WeatherLightRain:
		return "light-rain"
	case WeatherHeavyRain:
		return "heavy-rain"
	case WeatherStorm:
		return "storm"
	default:
		return "clear"
	}
}

// ForecastSample is one predicted future weather state.
type ForecastSample struct {
	MinutesAhead    int     `json:"minutes_ahead"`
	Weather         Weather `json:"weather"`
	RainProbability int     `json:"rain_probability"` // percent
}

// Ordering identifies where in the session's packet stream a value came
// from. It decides whether an update may overwrite the current value.
type Ordering struct {
	SessionUID  uint64
	Frame       uint32 // overall frame identifier, survives flashbacks
	SessionTime float32
}

// newerOrEqual reports whether o may overwrite cur. A different session
// UID always wins (new session, guard resets); within a session the
// frame decides, with session time as the tiebreak. Equal positions are
// accepted so a re-sent packet is not older than itself.
func (o Ordering) newerOrEqual(cur Ordering) bool {
	if o.SessionUID != cur.SessionUID {
		return true
	}
	if o.Frame != cur.Frame {
		return o.Frame > cur.Frame
	}
	return o.SessionTime >= cur.SessionTime
}

// Snapshot is one coherent read of the live state.
type Snapshot struct {
	SessionUID      uint64           `json:"session_uid"`
	SafetyCarStatus SafetyCarStatus  `json:"safety_car_status"`
	WeatherCurrent  Weather          `json:"weather_current"`
	Forecast        []ForecastSample `json:"forecast"`

	// Zero until the first matching packet arrives
	SessionUpdatedAt  time.Time `json:"session_updated_at"`
	ForecastUpdatedAt time.Time `json:"forecast_updated_at"`
}

// Stale reports whether no session-state packet has arrived within d.
// A parked simulator stops sending; consumers should not trust a
// snapshot that old.
func (s Snapshot) Stale(d time.Duration, now time.Time) bool {
	return s.SessionUpdatedAt.IsZero() || now.Sub(s.SessionUpdatedAt) > d
}

// State is the guarded container. The zero value is not usable; use New.
type State struct {
	mu sync.Mutex

	safetyCar   SafetyCarStatus
	weather     Weather
	forecast    []ForecastSample
	sessionUID  uint64
	sessionOrd  Ordering
	forecastOrd Ordering

	sessionAt  time.Time
	forecastAt time.Time

	now func() time.Time
}

// New returns an empty state.
func New() *State {
	return &State{now: time.Now}
}

// ApplySession updates safety-car phase and current weather if ord is
// not older than the value it would replace. Returns whether the update
// was applied.
func (s *State) ApplySession(ord Ordering, sc SafetyCarStatus, w Weather) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !ord.newerOrEqual(s.sessionOrd) {
		return false
	}
	if ord.SessionUID != s.sessionUID {
		s.resetLocked(ord.SessionUID)
	}
	s.sessionOrd = ord
	s.safetyCar = sc
	s.weather = w
	s.sessionAt = s.now()
	return true
}

// ApplyForecast replaces the forecast sequence under the same ordering
// guard, tracked separately from the session fields.
func (s *State) ApplyForecast(ord Ordering, samples []ForecastSample) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !ord.newerOrEqual(s.forecastOrd) {
		return false
	}
	if ord.SessionUID != s.sessionUID {
		s.resetLocked(ord.SessionUID)
	}
	s.forecastOrd = ord
	s.forecast = append(s.forecast[:0:0], samples...)
	s.forecastAt = s.now()
	return true
}

// Snapshot returns a coherent copy of all fields. The forecast slice is
// owned by the caller.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Snapshot{
		SessionUID:        s.sessionUID,
		SafetyCarStatus:   s.safetyCar,
		WeatherCurrent:    s.weather,
		Forecast:          append([]ForecastSample(nil), s.forecast...),
		SessionUpdatedAt:  s.sessionAt,
		ForecastUpdatedAt: s.forecastAt,
	}
}

// resetLocked starts a fresh session: old ordering positions and values
// no longer apply.
func (s *State) resetLocked(uid uint64) {
	s.sessionUID = uid
	s.sessionOrd = Ordering{SessionUID: uid}
	s.forecastOrd = Ordering{SessionUID: uid}
	s.safetyCar = SafetyCarNone
	s.weather = WeatherClear
	s.forecast = nil
}
