package cult

// GATT service UUIDs (short form) used by the scale
const (
	ServiceDeviceInformation = "180a"
	ServiceBattery           = "180f"
	ServiceScale             = "fff0"
)

// GATT characteristic UUIDs (short form)
const (
	CharManufacturerName = "2a29"
	CharModelNumber      = "2a24"
	CharFirmwareRevision = "2a26"
	CharBatteryLevel     = "2a19"

	// CharMeasurement carries weight measurement frames (write / notify)
	CharMeasurement = "fff1"

	// CharControl carries configuration commands and their acknowledgements
	// (write without response / indicate)
	CharControl = "fff2"

	// CharStatus carries battery / progress / error / body composition
	// status frames (notify)
	CharStatus = "fff4"
)

// Transport denotes the narrow GATT surface consumed by a device session. All
// calls are synchronous from the session's point of view; any asynchronous
// behavior is owned by the implementation. Calls against a single session are
// never issued concurrently
type Transport interface {

	// ReadCharacteristic reads the value of a characteristic
	ReadCharacteristic(service, characteristic string) ([]byte, error)

	// WriteCharacteristic writes data to a characteristic
	WriteCharacteristic(characteristic string, data []byte) error

	// EnableNotify subscribes to notifications on a characteristic
	EnableNotify(service, characteristic string) error

	// EnableIndicate subscribes to indications on a characteristic
	EnableIndicate(service, characteristic string) error
}

// Channel tags the logical source of a notification frame
type Channel int

const (

	// ChannelMeasurement denotes frames from the measurement characteristic
	ChannelMeasurement Channel = iota

	// ChannelControl denotes frames from the control characteristic
	ChannelControl

	// ChannelStatus denotes frames from the status characteristic
	ChannelStatus
)

// String fulfils the Stringer interface
func (c Channel) String() string {
	switch c {
	case ChannelMeasurement:
		return "measurement"
	case ChannelControl:
		return "control"
	case ChannelStatus:
		return "status"
	default:
		return "unknown"
	}
}

// PreferenceStore denotes persisted per-user preferences consumed (but not
// interpreted) by the driver
type PreferenceStore interface {

	// UnitFor returns the preferred weight unit of a user
	UnitFor(userID int) (unit string)

	// Consent returns the stored consent / index pair of a user (-1 if unset)
	Consent(userID int) (consent, index int)

	// StoreConsent persists the consent / index pair of a user
	StoreConsent(userID, consent, index int) error
}
