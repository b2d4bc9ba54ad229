// Package udp receives and decodes the simulator's telemetry datagrams.
// Decoding is two-phase: the fixed header identifies version and packet
// type, then only the session packet's payload is read. Everything else
// in the protocol is recognized just enough to be skipped.
package udp

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/simracekit/pitwall/internal/errors"
	"github.com/simracekit/pitwall/internal/live"
)

// HeaderSize is the packed little-endian packet header length.
const HeaderSize = 29

// Packet IDs 0..14 exist in the supported protocol versions; only the
// session packet is acted on.
const (
	packetIDSession = 1
	maxPacketID     = 14
)

// Session packet payload offsets (after the header). The marshal zone
// block before the forecast is 21 entries of 5 bytes.
const (
	offWeather         = 0
	offSafetyCar       = 19 + 21*5
	offNumForecast     = offSafetyCar + 2
	offForecastSamples = offNumForecast + 1
	forecastStride     = 8
	minSessionPayload  = offForecastSamples
)

func supportedFormat(f uint16) bool {
	return f == 2024 || f == 2025
}

// Header is the fixed prefix of every datagram.
type Header struct {
	PacketFormat   uint16
	GameYear       uint8
	MajorVersion   uint8
	MinorVersion   uint8
	PacketVersion  uint8
	PacketID       uint8
	SessionUID     uint64
	SessionTime    float32
	FrameID        uint32
	OverallFrameID uint32
	PlayerCarIndex uint8
	SecondaryCar   uint8
}

func (h Header) ordering() live.Ordering {
	return live.Ordering{
		SessionUID: h.SessionUID,
		// The overall frame identifier keeps counting through
		// flashbacks, unlike FrameID
		Frame:       h.OverallFrameID,
		SessionTime: h.SessionTime,
	}
}

func parseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, errors.NewTruncated(len(b), HeaderSize)
	}
	h := Header{
		PacketFormat:   binary.LittleEndian.Uint16(b[0:2]),
		GameYear:       b[2],
		MajorVersion:   b[3],
		MinorVersion:   b[4],
		PacketVersion:  b[5],
		PacketID:       b[6],
		SessionUID:     binary.LittleEndian.Uint64(b[7:15]),
		SessionTime:    math.Float32frombits(binary.LittleEndian.Uint32(b[15:19])),
		FrameID:        binary.LittleEndian.Uint32(b[19:23]),
		OverallFrameID: binary.LittleEndian.Uint32(b[23:27]),
		PlayerCarIndex: b[27],
		SecondaryCar:   b[28],
	}
	if !supportedFormat(h.PacketFormat) {
		return Header{}, errors.NewUnsupportedVersion(h.PacketFormat)
	}
	if h.PacketID > maxPacketID {
		return Header{}, errors.NewUnknownType(h.PacketID)
	}
	return h, nil
}

// Event is one state update decoded from a datagram.
type Event interface {
	// Apply writes the event into the live state, reporting whether the
	// ordering guard accepted it.
	Apply(s *live.State) bool
}

// SessionStateEvent carries safety-car phase and current weather.
type SessionStateEvent struct {
	Ordering  live.Ordering
	SafetyCar live.SafetyCarStatus
	Weather   live.Weather
}

func (e SessionStateEvent) Apply(s *live.State) bool {
	return s.ApplySession(e.Ordering, e.SafetyCar, e.Weather)
}

// ForecastEvent carries the upcoming-weather sequence.
type ForecastEvent struct {
	Ordering live.Ordering
	Samples  []live.ForecastSample
}

func (e ForecastEvent) Apply(s *live.State) bool {
	return s.ApplyForecast(e.Ordering, e.Samples)
}

// Decode turns one datagram into zero or more events. A recognized but
// unconsumed packet type decodes to no events and no error; header and
// layout problems come back as decode errors for the caller to count.
func Decode(b []byte) ([]Event, error) {
	h, err := parseHeader(b)
	if err != nil {
		return nil, err
	}
	if h.PacketID != packetIDSession {
		return nil, nil
	}

	payload := b[HeaderSize:]
	if len(payload) < minSessionPayload {
		return nil, errors.NewTruncated(len(b), HeaderSize+minSessionPayload)
	}

	weather := payload[offWeather]
	sc := payload[offSafetyCar]
	// Out-of-range enums mean the payload is not laid out the way this
	// version says it is
	if weather > uint8(live.WeatherStorm) {
		return nil, errors.NewLayoutMismatch("weather", weather)
	}
	if sc > uint8(live.SafetyCarEnding) {
		return nil, errors.NewLayoutMismatch("safety_car", sc)
	}

	ord := h.ordering()
	events := []Event{SessionStateEvent{
		Ordering:  ord,
		SafetyCar: live.SafetyCarStatus(sc),
		Weather:   live.Weather(weather),
	}}

	if samples := decodeForecast(payload); samples != nil {
		events = append(events, ForecastEvent{Ordering: ord, Samples: samples})
	}
	return events, nil
}

// decodeForecast reads the forecast array. Individually implausible
// samples are skipped; a packet too short for its declared count yields
// the samples that fit.
func decodeForecast(payload []byte) []live.ForecastSample {
	n := int(payload[offNumForecast])
	if avail := (len(payload) - offForecastSamples) / forecastStride; n > avail {
		n = avail
	}

	samples := make([]live.ForecastSample, 0, n)
	for j := 0; j < n; j++ {
		off := offForecastSamples + j*forecastStride
		minutes := payload[off+1]
		weather := payload[off+2]
		rain := payload[off+7]
		if minutes > 240 || weather > uint8(live.WeatherStorm) || rain > 100 {
			continue
		}
		samples = append(samples, live.ForecastSample{
			MinutesAhead:    int(minutes),
			Weather:         live.Weather(weather),
			RainProbability: int(rain),
		})
	}
	if len(samples) == 0 {
		return nil
	}

	// The game interleaves forecasts for several session types; keep one
	// ordered sequence per time offset
	sort.SliceStable(samples, func(i, k int) bool {
		return samples[i].MinutesAhead < samples[k].MinutesAhead
	})
	out := samples[:0]
	for _, s := range samples {
		if len(out) > 0 && out[len(out)-1].MinutesAhead == s.MinutesAhead {
			continue
		}
		out = append(out, s)
	}
	return out
}
