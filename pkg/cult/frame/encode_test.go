package frame

import (
	"bytes"
	"testing"

	"github.com/fako1024/btbodyscale/pkg/scale"
)

func TestEncodeProfile(t *testing.T) {

	packet := EncodeProfile(Profile{
		UserID:   5,
		Age:      30,
		HeightCm: 175,
		Male:     true,
		Unit:     scale.UnitKilograms,
	})

	want := []byte{0xFE, 0x05, 0x1E, 0xAF, 0x00, 0x01, 0x00, 0x00, 0x4B, 0xFF}
	if !bytes.Equal(packet, want) {
		t.Fatalf("unexpected profile packet: [%x]", packet)
	}
}

func TestEncodeProfileHeightLittleEndian(t *testing.T) {

	packet := EncodeProfile(Profile{
		UserID:   1,
		Age:      40,
		HeightCm: 300,
		Unit:     scale.UnitPounds,
	})

	if packet[3] != 0x2C || packet[4] != 0x01 {
		t.Fatalf("unexpected height encoding: [%x %x]", packet[3], packet[4])
	}
	if packet[5] != 0x00 {
		t.Fatalf("unexpected gender byte: %x", packet[5])
	}
	if packet[6] != byte(scale.UnitPounds) {
		t.Fatalf("unexpected unit byte: %x", packet[6])
	}
}

func TestProfileChecksumRoundTrip(t *testing.T) {

	packet := EncodeProfile(Profile{
		UserID:   7,
		Age:      52,
		HeightCm: 182,
		Male:     false,
		Unit:     scale.UnitStonesPounds,
	})

	// XORing the payload including its checksum (everything but the end
	// marker) must yield zero
	if csum := Checksum(packet[:len(packet)-1]); csum != 0 {
		t.Fatalf("checksum round trip yielded 0x%02X", csum)
	}
}

func TestStartMeasurementCommand(t *testing.T) {

	if cmd := StartMeasurementCommand(); !bytes.Equal(cmd, []byte{0xFD, 0x01, 0x00, 0xFC}) {
		t.Fatalf("unexpected start command: [%x]", cmd)
	}
}
