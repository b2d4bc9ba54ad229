package live

import (
	"testing"
	"time"
)

func ord(uid uint64, frame uint32, t float32) Ordering {
	return Ordering{SessionUID: uid, Frame: frame, SessionTime: t}
}

func TestApplySession_OutOfOrderRetainsNewer(t *testing.T) {
	s := New()

	if !s.ApplySession(ord(1, 7, 7.0), SafetyCarDeployed, WeatherLightRain) {
		t.Fatal("frame 7 should apply to an empty state")
	}
	// Frame 5 arrives late: must not regress
	if s.ApplySession(ord(1, 5, 5.0), SafetyCarNone, WeatherClear) {
		t.Error("frame 5 applied after frame 7")
	}

	snap := s.Snapshot()
	if snap.SafetyCarStatus != SafetyCarDeployed {
		t.Errorf("SafetyCarStatus = %s, want safety-car (from frame 7)", snap.SafetyCarStatus)
	}
	if snap.WeatherCurrent != WeatherLightRain {
		t.Errorf("WeatherCurrent = %s, want light-rain", snap.WeatherCurrent)
	}
}

func TestApplySession_EqualFrameUsesSessionTime(t *testing.T) {
	s := New()

	s.ApplySession(ord(1, 10, 12.5), VirtualSafetyCar, WeatherOvercast)

	// Same frame, older session time: reject
	if s.ApplySession(ord(1, 10, 12.0), SafetyCarNone, WeatherClear) {
		t.Error("older session time applied at equal frame")
	}
	// Same position exactly: a re-sent packet is not older than itself
	if !s.ApplySession(ord(1, 10, 12.5), SafetyCarEnding, WeatherOvercast) {
		t.Error("equal ordering position rejected")
	}
	if s.Snapshot().SafetyCarStatus != SafetyCarEnding {
		t.Error("re-applied packet did not take effect")
	}
}

func TestApplySession_NewSessionResetsGuard(t *testing.T) {
	s := New()

	s.ApplySession(ord(1, 90000, 5400), SafetyCarDeployed, WeatherStorm)
	s.ApplyForecast(ord(1, 90000, 5400), []ForecastSample{{MinutesAhead: 5, Weather: WeatherStorm, RainProbability: 90}})

	// Fresh session starts at frame 1: must apply despite the lower frame
	if !s.ApplySession(ord(2, 1, 0.2), SafetyCarNone, WeatherClear) {
		t.Fatal("new session UID must reset the ordering guard")
	}

	snap := s.Snapshot()
	if snap.SessionUID != 2 {
		t.Errorf("SessionUID = %d, want 2", snap.SessionUID)
	}
	if snap.SafetyCarStatus != SafetyCarNone || snap.WeatherCurrent != WeatherClear {
		t.Error("previous session's values leaked into the new session")
	}
	if len(snap.Forecast) != 0 {
		t.Error("previous session's forecast leaked into the new session")
	}
}

func TestApplyForecast_IndependentOrdering(t *testing.T) {
	s := New()

	s.ApplySession(ord(1, 200, 20), SafetyCarNone, WeatherClear)

	// Forecast from an earlier frame than the session fields still
	// applies: the groups track their own positions
	samples := []ForecastSample{
		{MinutesAhead: 5, Weather: WeatherLightRain, RainProbability: 40},
		{MinutesAhead: 10, Weather: WeatherHeavyRain, RainProbability: 75},
	}
	if !s.ApplyForecast(ord(1, 150, 15), samples) {
		t.Fatal("forecast ordering must be independent of session ordering")
	}
	if s.ApplyForecast(ord(1, 140, 14), nil) {
		t.Error("older forecast applied")
	}

	snap := s.Snapshot()
	if len(snap.Forecast) != 2 || snap.Forecast[1].RainProbability != 75 {
		t.Errorf("Forecast = %+v", snap.Forecast)
	}
}

func TestSnapshot_IsACopy(t *testing.T) {
	s := New()
	s.ApplyForecast(ord(1, 1, 1), []ForecastSample{{MinutesAhead: 5, Weather: WeatherClear, RainProbability: 10}})

	snap := s.Snapshot()
	snap.Forecast[0].RainProbability = 99

	if s.Snapshot().Forecast[0].RainProbability != 10 {
		t.Error("mutating a snapshot must not touch the live state")
	}
}

func TestSnapshot_Stale(t *testing.T) {
	s := New()
	base := time.Date(2026, 8, 20, 14, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	if !s.Snapshot().Stale(5*time.Second, base) {
		t.Error("never-updated state must be stale")
	}

	s.ApplySession(ord(1, 1, 0.1), SafetyCarNone, WeatherClear)
	if s.Snapshot().Stale(5*time.Second, base.Add(3*time.Second)) {
		t.Error("fresh update reported stale")
	}
	if !s.Snapshot().Stale(5*time.Second, base.Add(10*time.Second)) {
		t.Error("old update not reported stale")
	}
}
