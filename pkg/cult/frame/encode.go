package frame

import "github.com/fako1024/btbodyscale/pkg/scale"

const (
	profileStartMarker = 0xFE
	profileEndMarker   = 0xFF
	profileReserved    = 0x00
)

// Profile denotes the user profile written to the scale during onboarding
type Profile struct {
	UserID   int
	Age      int
	HeightCm int
	Male     bool
	Unit     scale.Unit
}

// EncodeProfile builds the user profile configuration packet: start marker,
// user id, age, height (16-bit little-endian), gender, unit, reserved byte,
// XOR checksum over all preceding bytes, end marker
func EncodeProfile(p Profile) []byte {

	gender := byte(0x00)
	if p.Male {
		gender = 0x01
	}

	buf := []byte{
		profileStartMarker,
		byte(p.UserID),
		byte(p.Age),
		byte(p.HeightCm), byte(p.HeightCm >> 8),
		gender,
		byte(p.Unit),
		profileReserved,
	}

	return append(buf, Checksum(buf), profileEndMarker)
}

// StartMeasurementCommand returns the fixed command initiating a measurement
// session
func StartMeasurementCommand() []byte {
	return []byte{0xFD, 0x01, 0x00, 0xFC}
}

// Checksum computes the XOR checksum over data
func Checksum(data []byte) (csum byte) {
	for _, b := range data {
		csum ^= b
	}

	return
}
