package scale

import (
	"fmt"
	"time"
)

// Unit denotes the weight unit configured on the scale. The numeric value
// doubles as the wire encoding used in the user profile packet
type Unit byte

const (

	// UnitKilograms denotes metric units
	UnitKilograms Unit = 0x00

	// UnitPounds denotes imperial units
	UnitPounds Unit = 0x01

	// UnitStonesPounds denotes stones / pounds units
	UnitStonesPounds Unit = 0x02
)

// Symbol returns the display symbol for the unit
func (u Unit) Symbol() string {
	switch u {
	case UnitPounds:
		return "lb"
	case UnitStonesPounds:
		return "st:lb"
	default:
		return "kg"
	}
}

// Convert converts a weight in kilograms into the unit
func (u Unit) Convert(weightKg float64) float64 {
	switch u {
	case UnitPounds:
		return weightKg * 2.20462
	case UnitStonesPounds:
		return weightKg * 0.157473
	default:
		return weightKg
	}
}

// ParseUnit maps a unit name (as stored in preferences) to a Unit
func ParseUnit(name string) Unit {
	switch name {
	case "lb":
		return UnitPounds
	case "st", "st:lb":
		return UnitStonesPounds
	default:
		return UnitKilograms
	}
}

// State denotes a connection state
type State int

const (

	// StateScanning is active while scanning for a bluetooth device
	StateScanning State = iota

	// StateConnected is active while being connected to the scale
	StateConnected

	// StateDisconnected is active after being disconnected from the scale
	StateDisconnected
)

// ConnectionStatus denotes the current status of the bluetooth device
type ConnectionStatus struct {
	Error error
	State
}

// Signal denotes a user-visible condition surfaced by a device session
type Signal int

const (

	// SignalLowBattery is emitted when the scale reports a battery level below 20%
	SignalLowBattery Signal = iota

	// SignalMeasuring is emitted while a measurement is in progress
	SignalMeasuring

	// SignalNotReady is emitted when the scale is not ready to measure
	SignalNotReady

	// SignalConnectionLost is emitted when the connection dropped before the
	// measurement sequence completed
	SignalConnectionLost

	// SignalConnectionError is emitted on terminal connection failure
	SignalConnectionError

	// SignalRetrying is emitted when a connection retry is attempted
	SignalRetrying
)

// DeviceInfo denotes identity information read from the device, populated
// progressively during onboarding
type DeviceInfo struct {
	Manufacturer    string
	Model           string
	FirmwareVersion string

	// Battery denotes the battery level in percent (-1 if unknown)
	Battery int
}

// AnonymousUserID marks a measurement that carries no user identity
const AnonymousUserID = -1

// Measurement denotes a single (possibly partial) body measurement. Optional
// metric fields are zero until a plausible value has been decoded
type Measurement struct {
	TimeStamp time.Time
	UserID    int

	Weight      float64 // kg
	Fat         float64 // percent
	Water       float64 // percent
	Muscle      float64 // percent
	Bone        float64 // kg
	VisceralFat float64
}

// Anonymous returns true if the measurement carries no user identity
func (m *Measurement) Anonymous() bool {
	return m.UserID == AnonymousUserID
}

// Merge copies all fields set on other that are still absent on m. Fields
// already present on m are never overwritten
func (m *Measurement) Merge(other Measurement) {
	if m.Weight == 0 {
		m.Weight = other.Weight
	}
	if m.Fat == 0 {
		m.Fat = other.Fat
	}
	if m.Water == 0 {
		m.Water = other.Water
	}
	if m.Muscle == 0 {
		m.Muscle = other.Muscle
	}
	if m.Bone == 0 {
		m.Bone = other.Bone
	}
	if m.VisceralFat == 0 {
		m.VisceralFat = other.VisceralFat
	}
	if m.TimeStamp.IsZero() {
		m.TimeStamp = other.TimeStamp
	}
}

// MetricCount returns the number of body composition metrics present
func (m *Measurement) MetricCount() (n int) {
	for _, v := range []float64{m.Fat, m.Water, m.Muscle, m.Bone, m.VisceralFat} {
		if v != 0 {
			n++
		}
	}
	return
}

// String fulfils the Stringer interface
func (m *Measurement) String() string {
	return fmt.Sprintf("%.2f kg (user %d, %d metrics)", m.Weight, m.UserID, m.MetricCount())
}

// Measurements denotes a set of measurements
type Measurements []Measurement
