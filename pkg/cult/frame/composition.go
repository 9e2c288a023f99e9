package frame

import (
	"encoding/binary"
	"time"

	"github.com/fako1024/btbodyscale/pkg/scale"
)

// minCompositionFrameLen is the minimum status frame length for a body
// composition decode to be attempted
const minCompositionFrameLen = 20

// compositionWeightOffsets lists the offsets scanned for the weight field of
// a body composition frame (16-bit little-endian, divisor 100), in order
var compositionWeightOffsets = []int{2, 4, 6, 8}

// Plausibility windows for the individual body composition metrics. A metric
// is accepted iff min < value <= max
var (
	windowFat      = metricWindow{0, 50}   // percent
	windowWater    = metricWindow{30, 80}  // percent
	windowMuscle   = metricWindow{10, 70}  // percent
	windowBone     = metricWindow{0.5, 8}  // kg
	windowVisceral = metricWindow{0, 30}   // index
)

type metricWindow struct {
	min, max float64
}

func (w metricWindow) accepts(v float64) bool {
	return v > w.min && v <= w.max
}

// PercentageAt reads a 16-bit little-endian value at the given offset and
// scales it by 10, accepting only values in (0,100]. Out-of-range or
// out-of-bounds reads return 0 (treated as absent upstream)
func PercentageAt(data []byte, offset int) float64 {

	if offset < 0 || offset+2 > len(data) {
		return 0
	}

	if v := float64(binary.LittleEndian.Uint16(data[offset:])) / 10.; v > 0 && v <= 100 {
		return v
	}

	return 0
}

// DecodeComposition attempts to extract a weight and body composition metrics
// from a status channel frame. The weight field is located by scanning a fixed
// offset list; without a plausible weight the whole decode fails. Metrics are
// read using two alternative layouts, the one accepting more values wins
// (sequential 16-bit fields preferred). If fewer than two metrics validate the
// result degrades to a weight-only measurement
func DecodeComposition(data []byte) (scale.Measurement, bool) {

	if len(data) < minCompositionFrameLen {
		return scale.Measurement{}, false
	}

	m := scale.Measurement{
		TimeStamp: time.Now(),
		UserID:    scale.AnonymousUserID,
	}

	for _, offset := range compositionWeightOffsets {
		if offset+2 > len(data) {
			continue
		}
		if weightKg := float64(binary.LittleEndian.Uint16(data[offset:])) / 100.; PlausibleWeight(weightKg) {
			m.Weight = weightKg
			break
		}
	}
	if m.Weight == 0 {
		return scale.Measurement{}, false
	}

	metrics, count := decodeMetricsWide(data)
	if count < 3 && len(data) >= 18 {

		// The sequential 16-bit layout did not pan out, try the packed
		// single-byte layout instead (all counters reset, no mixing of the
		// two field sets)
		if altMetrics, altCount := decodeMetricsPacked(data); altCount > count {
			metrics, count = altMetrics, altCount
		}
	}

	if count >= 2 {
		m.Fat = metrics.Fat
		m.Water = metrics.Water
		m.Muscle = metrics.Muscle
		m.Bone = metrics.Bone
		m.VisceralFat = metrics.VisceralFat
	}

	return m, true
}

// decodeMetricsWide reads five sequential 16-bit fields anchored six bytes
// after the buffer start: fat, water and muscle as percentages, bone and
// visceral fat with an additional divisor of 10
func decodeMetricsWide(data []byte) (m scale.Measurement, count int) {

	if fat := PercentageAt(data, 6); windowFat.accepts(fat) {
		m.Fat = fat
		count++
	}
	if water := PercentageAt(data, 8); windowWater.accepts(water) {
		m.Water = water
		count++
	}
	if muscle := PercentageAt(data, 10); windowMuscle.accepts(muscle) {
		m.Muscle = muscle
		count++
	}
	if bone := PercentageAt(data, 12) / 10.; windowBone.accepts(bone) {
		m.Bone = bone
		count++
	}
	if visceral := PercentageAt(data, 14) / 10.; windowVisceral.accepts(visceral) {
		m.VisceralFat = visceral
		count++
	}

	return
}

// decodeMetricsPacked reads five single-byte fields at fixed positions. The
// divisors are asymmetric (bone uses 100 while the rest use 10), matching the
// observed firmware encoding
func decodeMetricsPacked(data []byte) (m scale.Measurement, count int) {

	if fat := float64(data[10]) / 10.; windowFat.accepts(fat) {
		m.Fat = fat
		count++
	}
	if water := float64(data[12]) / 10.; windowWater.accepts(water) {
		m.Water = water
		count++
	}
	if muscle := float64(data[14]) / 10.; windowMuscle.accepts(muscle) {
		m.Muscle = muscle
		count++
	}
	if bone := float64(data[16]) / 100.; windowBone.accepts(bone) {
		m.Bone = bone
		count++
	}
	if visceral := float64(data[17]) / 10.; windowVisceral.accepts(visceral) {
		m.VisceralFat = visceral
		count++
	}

	return
}
