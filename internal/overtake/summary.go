package overtake

import (
	"log"

	"github.com/simracekit/pitwall/internal/errors"
	"github.com/simracekit/pitwall/internal/lap"
)

// Channel columns of the telemetry table. Aggregated channels feed the
// summary; state channels yield the end-of-lap values from the last
// valid row.
var (
	aggregatedChannels = []string{"speed", "throttle", "brake", "rpm"}
	stateChannels      = []string{"fuel", "wear_fl", "wear_fr", "wear_rl", "wear_rr"}
	trackedChannels    = append(append([]string{}, aggregatedChannels...), stateChannels...)
)

// endState is the end-of-lap state read off the last valid row.
type endState struct {
	fuel   *float64
	wearFL *float64
	wearFR *float64
	wearRL *float64
	wearRR *float64
}

// accumulator folds one channel's samples.
type accumulator struct {
	min, max, sum float64
	n             int
}

func (a *accumulator) add(v float64) {
	if a.n == 0 || v < a.min {
		a.min = v
	}
	if a.n == 0 || v > a.max {
		a.max = v
	}
	a.sum += v
	a.n++
}

func (a *accumulator) stats() lap.ChannelStats {
	if a.n == 0 {
		return lap.ChannelStats{}
	}
	return lap.ChannelStats{Min: a.min, Max: a.max, Avg: a.sum / float64(a.n)}
}

// aggregate folds the telemetry table (header line + data rows) into the
// summary. A row that does not match the header's column count, or whose
// tracked cells do not parse, is skipped with a warning; the file only
// fails when no row survives.
func aggregate(lines []string) (lap.TelemetrySummary, endState, error) {
	delim := sniffDelimiter(lines[0])
	header := splitRow(lines[0], delim)

	colIdx := make(map[string]int, len(header))
	for i, col := range header {
		colIdx[normalizeKey(col)] = i
	}

	accs := make(map[string]*accumulator, len(aggregatedChannels))
	for _, ch := range aggregatedChannels {
		accs[ch] = &accumulator{}
	}

	var end endState
	valid, skipped := 0, 0

rows:
	for _, line := range lines[1:] {
		cells := splitRow(line, delim)
		if len(cells) != len(header) {
			skipped++
			log.Printf("[parse] skipping telemetry row with %d columns, header has %d", len(cells), len(header))
			continue
		}

		// Parse every tracked cell up front so a bad row contributes to
		// neither the aggregates nor the end state
		parsed := make(map[string]float64)
		for _, ch := range trackedChannels {
			i, present := colIdx[ch]
			if !present {
				continue
			}
			v, err := parseLocaleFloat(cells[i])
			if err != nil {
				skipped++
				log.Printf("[parse] skipping telemetry row: bad %s value %q", ch, cells[i])
				continue rows
			}
			parsed[ch] = v
		}

		for _, ch := range aggregatedChannels {
			if v, ok := parsed[ch]; ok {
				accs[ch].add(v)
			}
		}
		if v, ok := parsed["fuel"]; ok {
			end.fuel = ptr(v)
		}
		if v, ok := parsed["wear_fl"]; ok {
			end.wearFL = ptr(v)
		}
		if v, ok := parsed["wear_fr"]; ok {
			end.wearFR = ptr(v)
		}
		if v, ok := parsed["wear_rl"]; ok {
			end.wearRL = ptr(v)
		}
		if v, ok := parsed["wear_rr"]; ok {
			end.wearRR = ptr(v)
		}
		valid++
	}

	if valid == 0 {
		return lap.TelemetrySummary{}, endState{}, errors.NewRowInconsistent(len(lines)-1, skipped)
	}

	return lap.TelemetrySummary{
		Samples:     valid,
		SkippedRows: skipped,
		Speed:       accs["speed"].stats(),
		Throttle:    accs["throttle"].stats(),
		Brake:       accs["brake"].stats(),
		RPM:         accs["rpm"].stats(),
	}, end, nil
}

func ptr(v float64) *float64 { return &v }
