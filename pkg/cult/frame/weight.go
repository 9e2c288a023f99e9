package frame

import "encoding/binary"

// Weight plausibility window in kilograms. Values outside it are treated as a
// misinterpretation of the byte layout, not as a real reading
const (
	MinPlausibleWeightKg = 10.0
	MaxPlausibleWeightKg = 300.0
)

// minWeightFrameLen is the minimum measurement frame length for any weight
// strategy to be attempted
const minWeightFrameLen = 6

// weightStrategy denotes one fixed byte layout interpretation of a
// measurement frame: a little-endian field at a fixed offset with a fixed
// scale divisor
type weightStrategy struct {
	id      string
	offset  int
	width   int // field width in bytes (2 or 4)
	divisor float64
	minLen  int
}

// weightStrategies lists all known layouts in priority order. Firmware across
// hardware revisions is inconsistent about offset and scale, so the first
// layout yielding a plausible value wins and later ones are never tried
var weightStrategies = []weightStrategy{
	{"u16@3/100", 3, 2, 100, 6},
	{"u16@2/100", 2, 2, 100, 6},
	{"u16@3/10", 3, 2, 10, 6},
	{"u16@1/100", 1, 2, 100, 5},
	{"u32@2/1000", 2, 4, 1000, 8},
}

// CandidateReading denotes a weight extracted from a measurement frame along
// with the strategy that produced it
type CandidateReading struct {
	WeightKg float64
	Strategy string
}

// PlausibleWeight returns true if the value lies within the physically
// realistic weight window
func PlausibleWeight(weightKg float64) bool {
	return weightKg >= MinPlausibleWeightKg && weightKg <= MaxPlausibleWeightKg
}

// DecodeWeight attempts to extract a plausible weight from a measurement
// frame, trying all known layouts in priority order. It returns false if no
// strategy yields a plausible value
func DecodeWeight(data []byte) (CandidateReading, bool) {

	if len(data) < minWeightFrameLen {
		return CandidateReading{}, false
	}

	for _, s := range weightStrategies {
		if len(data) < s.minLen || s.offset+s.width > len(data) {
			continue
		}

		var raw uint32
		if s.width == 4 {
			raw = binary.LittleEndian.Uint32(data[s.offset:])
		} else {
			raw = uint32(binary.LittleEndian.Uint16(data[s.offset:]))
		}

		if weightKg := float64(raw) / s.divisor; PlausibleWeight(weightKg) {
			return CandidateReading{
				WeightKg: weightKg,
				Strategy: s.id,
			}, true
		}
	}

	return CandidateReading{}, false
}

// Candidate denotes a raw 16-bit interpretation at a given offset, used for
// diagnostics when no strategy matched
type Candidate struct {
	Offset int
	Raw    uint16
}

// DiagnosticCandidates returns the raw 16-bit little-endian values at the
// first five offsets of the frame for diagnostic logging
func DiagnosticCandidates(data []byte) (candidates []Candidate) {
	for i := 0; i < len(data)-1 && i < 5; i++ {
		candidates = append(candidates, Candidate{
			Offset: i,
			Raw:    binary.LittleEndian.Uint16(data[i:]),
		})
	}

	return
}
