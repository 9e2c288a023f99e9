package cult

import (
	"time"

	"github.com/fako1024/btbodyscale/pkg/scale"
)

// WithDeviceID sets the Bluetooth device ID
func WithDeviceID(deviceID string) func(*Session) {
	return func(s *Session) {
		s.deviceID = deviceID
	}
}

// WithDeviceName sets the Bluetooth device name
func WithDeviceName(deviceName string) func(*Session) {
	return func(s *Session) {
		s.deviceName = deviceName
	}
}

// WithTransport sets the transport the session drives (a GATT link is set up
// if none is provided)
func WithTransport(t Transport) func(*Session) {
	return func(s *Session) {
		s.transport = t
	}
}

// WithLogger sets a logger
func WithLogger(logger scale.Logger) func(*Session) {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithUser sets the user profile written to the scale during onboarding
func WithUser(user User) func(*Session) {
	return func(s *Session) {
		s.user = user
	}
}

// WithPreferences sets the per-user preference store
func WithPreferences(prefs PreferenceStore) func(*Session) {
	return func(s *Session) {
		s.prefs = prefs
	}
}

// WithTimeouts overrides the connection and measurement budgets
func WithTimeouts(connection, measurement time.Duration) func(*Session) {
	return func(s *Session) {
		s.connectionTimeout = connection
		s.measurementTimeout = measurement
	}
}

// WithMaxRetries overrides the retry budget for the profile configuration
// step and connection errors
func WithMaxRetries(n int) func(*Session) {
	return func(s *Session) {
		s.maxRetries = n
	}
}
