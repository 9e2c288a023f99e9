package cult

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fako1024/btbodyscale/pkg/cult/frame"
	"github.com/fako1024/btbodyscale/pkg/scale"
	"github.com/fatih/stopwatch"
)

// Step denotes one step of the onboarding sequence. The declaration order is
// the only valid progression; no step may be skipped or repeated except via
// explicit retry of the same step
type Step int

const (

	// StepDeviceInfo reads the device information service
	StepDeviceInfo Step = iota

	// StepBatteryStatus reads the battery level
	StepBatteryStatus

	// StepEnableMeasurementNotifications subscribes to weight frames
	StepEnableMeasurementNotifications

	// StepEnableControlIndications subscribes to control acknowledgements
	StepEnableControlIndications

	// StepEnableStatusNotifications subscribes to status frames
	StepEnableStatusNotifications

	// StepConfigureUserProfile writes the user profile packet
	StepConfigureUserProfile

	// StepStartMeasurement writes the measurement start command
	StepStartMeasurement

	nSteps
)

// String fulfils the Stringer interface
func (s Step) String() string {
	switch s {
	case StepDeviceInfo:
		return "DeviceInfo"
	case StepBatteryStatus:
		return "BatteryStatus"
	case StepEnableMeasurementNotifications:
		return "EnableMeasurementNotifications"
	case StepEnableControlIndications:
		return "EnableControlIndications"
	case StepEnableStatusNotifications:
		return "EnableStatusNotifications"
	case StepConfigureUserProfile:
		return "ConfigureUserProfile"
	case StepStartMeasurement:
		return "StartMeasurement"
	default:
		return fmt.Sprintf("InvalidStep(%d)", int(s))
	}
}

var (

	// ErrInvalidStep is returned when a step index outside the defined
	// sequence is requested
	ErrInvalidStep = errors.New("invalid onboarding step")

	// ErrTimeout is returned when the connection or measurement budget has
	// been exceeded
	ErrTimeout = errors.New("session timed out")

	// ErrRetryExhausted is returned when the profile configuration write
	// failed more than the maximum number of times
	ErrRetryExhausted = errors.New("maximum retries exhausted")

	// ErrNotConfigured is returned when a measurement is started before the
	// device has been configured
	ErrNotConfigured = errors.New("device not configured")
)

// lowBatteryThreshold is the battery level (percent) below which a warning
// signal is surfaced
const lowBatteryThreshold = 20

// OnStepAdvance executes the onboarding step with the given index and returns
// true if the machine may proceed to the next step. When it returns false the
// host consults RetryPending to decide whether to re-invoke the same step or
// abort the sequence
func (s *Session) OnStepAdvance(stepNr int) bool {

	// Check both timeout budgets before evaluating any step
	if err := s.checkTimeout(); err != nil {
		s.logger.Warnf("aborting step %d: %s", stepNr, err)
		return false
	}

	if stepNr < 0 || Step(stepNr) >= nSteps {
		s.logger.Errorf("%s: %d", ErrInvalidStep, stepNr)
		return false
	}
	step := Step(stepNr)
	s.retryPending = false

	s.logger.Debugf("step %s", step)

	var err error
	switch step {
	case StepDeviceInfo:
		s.resetState()
		err = s.readDeviceInformation()
	case StepBatteryStatus:
		err = s.readBatteryStatus()
	case StepEnableMeasurementNotifications:
		err = s.transport.EnableNotify(ServiceScale, CharMeasurement)
	case StepEnableControlIndications:
		err = s.transport.EnableIndicate(ServiceScale, CharControl)
	case StepEnableStatusNotifications:
		err = s.transport.EnableNotify(ServiceScale, CharStatus)
	case StepConfigureUserProfile:
		err = s.configureUserProfile()
	case StepStartMeasurement:
		err = s.startMeasurement()
	}

	if err != nil {
		s.logger.Warnf("step %s failed: %s", step, err)
		return false
	}

	return true
}

// NumSteps returns the number of onboarding steps
func NumSteps() int {
	return int(nSteps)
}

// RetryPending returns true if the last failed step requested to be
// re-invoked instead of aborting the machine
func (s *Session) RetryPending() bool {
	return s.retryPending
}

// checkTimeout verifies the two wall-clock budgets measured from the session
// start: the measurement budget while no measurement has completed and the
// shorter connection budget while the device is not yet configured
func (s *Session) checkTimeout() error {

	if s.watch == nil {
		return nil
	}
	elapsed := s.watch.ElapsedTime()

	if !s.measurementComplete && elapsed > s.measurementTimeout {
		s.signal(scale.SignalNotReady, 0)
		return fmt.Errorf("%w: measurement budget exceeded after %v", ErrTimeout, elapsed)
	}
	if !s.configured && elapsed > s.connectionTimeout {
		s.signal(scale.SignalConnectionError, 0)
		return fmt.Errorf("%w: connection budget exceeded after %v", ErrTimeout, elapsed)
	}

	return nil
}

// readDeviceInformation captures the session start timestamp and reads the
// identity strings from the device information service. Individual missing
// values are tolerated, only transport failures abort the step
func (s *Session) readDeviceInformation() error {

	s.watch = stopwatch.Start(0)

	data, err := s.transport.ReadCharacteristic(ServiceDeviceInformation, CharManufacturerName)
	if err != nil {
		return fmt.Errorf("failed to read manufacturer name: %w", err)
	}
	if len(data) > 0 {
		s.deviceInfo.Manufacturer = strings.TrimSpace(string(data))
		s.logger.Debugf("device manufacturer: %s", s.deviceInfo.Manufacturer)
	} else {
		s.logger.Warn("failed to read manufacturer name")
	}

	data, err = s.transport.ReadCharacteristic(ServiceDeviceInformation, CharModelNumber)
	if err != nil {
		return fmt.Errorf("failed to read model number: %w", err)
	}
	if len(data) > 0 {
		s.deviceInfo.Model = strings.TrimSpace(string(data))
		s.logger.Debugf("device model: %s", s.deviceInfo.Model)
	} else {
		s.logger.Warn("failed to read model number")
	}

	data, err = s.transport.ReadCharacteristic(ServiceDeviceInformation, CharFirmwareRevision)
	if err != nil {
		return fmt.Errorf("failed to read firmware revision: %w", err)
	}
	if len(data) > 0 {
		s.deviceInfo.FirmwareVersion = strings.TrimSpace(string(data))
		s.logger.Debugf("firmware version: %s", s.deviceInfo.FirmwareVersion)
	} else {
		s.logger.Warn("failed to read firmware revision")
	}

	return nil
}

// readBatteryStatus reads the battery level and surfaces a low battery
// warning below the threshold. An empty read is a step failure since the
// battery level is required
func (s *Session) readBatteryStatus() error {

	data, err := s.transport.ReadCharacteristic(ServiceBattery, CharBatteryLevel)
	if err != nil {
		return fmt.Errorf("failed to read battery level: %w", err)
	}
	if len(data) == 0 {
		return errors.New("battery level read returned no data")
	}

	s.deviceInfo.Battery = int(data[0])
	s.logger.Debugf("battery level: %d%%", s.deviceInfo.Battery)

	if s.deviceInfo.Battery < lowBatteryThreshold {
		s.logger.Warnf("low battery: %d%%", s.deviceInfo.Battery)
		s.signal(scale.SignalLowBattery, s.deviceInfo.Battery)
	}

	return nil
}

// configureUserProfile writes the user profile packet to the control
// characteristic. Write failures are retried in place up to maxRetries by
// requesting re-invocation of the same step; exhaustion resets the session
// and surfaces a terminal connection error
func (s *Session) configureUserProfile() error {

	consent, index := -1, -1
	if s.prefs != nil {
		consent, index = s.prefs.Consent(s.user.ID)
	}

	packet := frame.EncodeProfile(frame.Profile{
		UserID:   s.user.ID,
		Age:      s.user.Age,
		HeightCm: s.user.HeightCm,
		Male:     s.user.Male,
		Unit:     s.unit,
	})

	s.logger.Debugf("sending user profile for user %d (stored consent: %d, index: %d): unit=%s, [%x]",
		s.user.ID, consent, index, s.unit.Symbol(), packet)

	if err := s.transport.WriteCharacteristic(CharControl, packet); err != nil {
		s.retryCount++
		if s.retryCount >= s.maxRetries {
			s.logger.Errorf("user profile write failed %d times, giving up", s.retryCount)
			s.resetState()
			s.signal(scale.SignalConnectionError, 0)
			return fmt.Errorf("%w: %s", ErrRetryExhausted, err)
		}

		s.retryPending = true
		return fmt.Errorf("failed to write user profile (retry %d/%d): %w", s.retryCount, s.maxRetries, err)
	}

	s.configured = true

	// Persist the consent / index pair for the user (read-modify-write, the
	// values themselves are opaque to this driver)
	if s.prefs != nil {
		if err := s.prefs.StoreConsent(s.user.ID, s.user.ID, s.user.ID); err != nil {
			s.logger.Warnf("failed to store user preferences: %s", err)
		}
	}

	return nil
}

// startMeasurement writes the fixed measurement start command. The device
// must have been configured and the connection budget not exceeded
func (s *Session) startMeasurement() error {

	if !s.configured {
		return ErrNotConfigured
	}

	if s.watch != nil {
		if elapsed := s.watch.ElapsedTime(); elapsed > s.connectionTimeout {
			s.signal(scale.SignalConnectionError, 0)
			return fmt.Errorf("%w: connection budget exceeded after %v", ErrTimeout, elapsed)
		}
	}

	cmd := frame.StartMeasurementCommand()
	s.logger.Debugf("sending measurement start command: [%x]", cmd)

	if err := s.transport.WriteCharacteristic(CharControl, cmd); err != nil {
		return fmt.Errorf("failed to start measurement: %w", err)
	}

	s.signal(scale.SignalMeasuring, 0)
	s.logger.Info("measurement session started")

	return nil
}
