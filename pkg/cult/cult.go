package cult

import (
	"errors"
	"fmt"
	"time"

	"github.com/fako1024/btbodyscale/pkg/cult/frame"
	"github.com/fako1024/btbodyscale/pkg/scale"
	"github.com/fatih/stopwatch"
)

const (
	defaultDeviceName = "Cult Smart Scale Pro"

	// Independent wall-clock budgets, both measured from the session start
	// captured on entry to the device info step
	defaultConnectionTimeout  = 30 * time.Second
	defaultMeasurementTimeout = 60 * time.Second

	defaultMaxRetries = 3
)

// User denotes the person using the scale, written to the device as part of
// the profile configuration
type User struct {
	ID       int
	Age      int
	HeightCm int
	Male     bool
}

// Session drives a Cult Smart Scale Pro through its onboarding sequence and
// interprets the frames it emits. All handler invocations for a single
// session are serial; concurrent sessions are fully independent
type Session struct {
	connectionStatus scale.ConnectionStatus
	deviceInfo       scale.DeviceInfo
	unit             scale.Unit

	configured          bool
	measurementComplete bool
	retryCount          int
	retryPending        bool
	watch               *stopwatch.Stopwatch

	connectionTimeout  time.Duration
	measurementTimeout time.Duration
	maxRetries         int

	user  User
	prefs PreferenceStore
	rec   reconciler

	lastMeasurement    *scale.Measurement
	measurements       scale.Measurements
	measurementHandler func(m scale.Measurement)
	measurementChan    chan scale.Measurement
	stateChangeHandler func(status scale.ConnectionStatus)
	stateChangeChan    chan scale.ConnectionStatus
	signalHandler      func(sig scale.Signal, arg int)

	deviceID   string
	deviceName string

	transport Transport
	link      *btLink

	logger scale.Logger
}

// New instantiates a new Session, executing functional options, if any. If no
// transport is provided a GATT link is set up and scanning begins
func New(options ...func(*Session)) (*Session, error) {

	// Initialize a new session with default configuration
	s := &Session{
		deviceName:         defaultDeviceName,
		connectionTimeout:  defaultConnectionTimeout,
		measurementTimeout: defaultMeasurementTimeout,
		maxRetries:         defaultMaxRetries,
		user:               User{ID: scale.AnonymousUserID},
		logger:             &scale.NullLogger{},
	}

	// Execute functional options (if any), see options.go for implementation
	for _, option := range options {
		option(s)
	}
	s.resetState()

	// Set up a GATT link (if no transport was provided as option)
	if s.transport == nil {
		link, err := newBTLink(s)
		if err != nil {
			return nil, err
		}
		s.transport = link
		s.link = link

		return s, link.subscribe()
	}

	return s, nil
}

// ConnectionStatus returns the current status of the bluetooth device
func (s *Session) ConnectionStatus() scale.ConnectionStatus {
	return s.connectionStatus
}

// DeviceInfo returns the identity information read during onboarding
func (s *Session) DeviceInfo() scale.DeviceInfo {
	return s.deviceInfo
}

// BatteryLevel returns the current battery level in percent (-1 if unknown)
func (s *Session) BatteryLevel() int {
	return s.deviceInfo.Battery
}

// Unit returns the weight unit selected for this session
func (s *Session) Unit() scale.Unit {
	return s.unit
}

// Configured returns true once the user profile has been written successfully
func (s *Session) Configured() bool {
	return s.configured
}

// MeasurementComplete returns true once the scale reported measurement
// completion
func (s *Session) MeasurementComplete() bool {
	return s.measurementComplete
}

// LastMeasurement returns the most recently finalized measurement
func (s *Session) LastMeasurement() (scale.Measurement, bool) {
	if s.lastMeasurement == nil {
		return scale.Measurement{}, false
	}

	return *s.lastMeasurement, true
}

// Measurements returns all measurements finalized over the lifetime of the
// session, surviving state resets and reconnects
func (s *Session) Measurements() scale.Measurements {
	return s.measurements
}

// SetMeasurementHandler defines a handler function that is called for every
// finalized measurement
func (s *Session) SetMeasurementHandler(fn func(m scale.Measurement)) {
	s.measurementHandler = fn
}

// SetMeasurementChannel defines a channel that receives every finalized
// measurement
func (s *Session) SetMeasurementChannel(ch chan scale.Measurement) {
	s.measurementChan = ch
}

// SetStateChangeHandler defines a handler function that is called upon state change
func (s *Session) SetStateChangeHandler(fn func(status scale.ConnectionStatus)) {
	s.stateChangeHandler = fn
}

// SetStateChangeChannel defines a channel that is fed upon state change
func (s *Session) SetStateChangeChannel(ch chan scale.ConnectionStatus) {
	s.stateChangeChan = ch
}

// SetSignalHandler defines a handler function that is called for every
// user-visible signal (low battery, measuring, not ready, connection lost /
// error, retrying)
func (s *Session) SetSignalHandler(fn func(sig scale.Signal, arg int)) {
	s.signalHandler = fn
}

// OnConnect resets the session state upon an established connection
func (s *Session) OnConnect() {
	s.resetState()
	s.setStatus(scale.StateConnected, nil)
	s.logger.Infof("connected to %s", s.deviceName)
}

// OnDisconnect finalizes any pending measurement before the session state is
// discarded. If the measurement sequence never completed a connection lost
// signal is surfaced
func (s *Session) OnDisconnect() {

	// A partial measurement is better than a lost one
	s.emit(s.rec.flush()...)

	if !s.measurementComplete && s.watch != nil {
		s.signal(scale.SignalConnectionLost, 0)
	}

	s.setStatus(scale.StateDisconnected, nil)
	s.logger.Infof("disconnected from %s", s.deviceName)
}

// OnConnectionError handles a connection level failure: below the retry
// budget a retry signal is surfaced, past it all state is reset and the
// failure becomes terminal
func (s *Session) OnConnectionError() {

	if s.retryCount < s.maxRetries {
		s.retryCount++
		s.logger.Warnf("connection error, attempting retry %d/%d", s.retryCount, s.maxRetries)
		s.signal(scale.SignalRetrying, s.retryCount)
		return
	}

	s.logger.Error("maximum connection retries exceeded, giving up")
	s.signal(scale.SignalConnectionError, 0)
	s.resetState()
	s.setStatus(scale.StateDisconnected, ErrRetryExhausted)
}

// OnNotification routes a received frame to the decoder for its source
// channel
func (s *Session) OnNotification(ch Channel, data []byte) {

	if len(data) == 0 {
		s.logger.Warnf("received empty notification on %s channel", ch)
		return
	}

	s.logger.Debugf("received notification on %s channel: [%x]", ch, data)

	switch ch {
	case ChannelMeasurement:
		s.handleWeightFrame(data)
	case ChannelControl:
		s.handleControlFrame(data)
	case ChannelStatus:
		s.handleStatusFrame(data)
	default:
		s.logger.Warnf("received notification on unknown channel %d", ch)
	}
}

// Close terminates the connection to the device
func (s *Session) Close() error {
	if s.link == nil {
		return errors.New("no GATT link to close")
	}

	return s.link.close()
}

////////////////////////////////////////////////////////////////////////////////

// resetState restores all per-session state to its initial values, flushing
// any pending measurement first
func (s *Session) resetState() {

	s.emit(s.rec.flush()...)

	s.configured = false
	s.measurementComplete = false
	s.retryCount = 0
	s.retryPending = false
	s.watch = nil
	s.deviceInfo = scale.DeviceInfo{Battery: -1}

	// Select the weight unit for the session from the stored user preference
	s.unit = scale.UnitKilograms
	if s.prefs != nil {
		s.unit = scale.ParseUnit(s.prefs.UnitFor(s.user.ID))
	}

	s.logger.Debugf("session state reset, preferred unit: %s", s.unit.Symbol())
}

func (s *Session) setStatus(state scale.State, err error) {
	s.connectionStatus = scale.ConnectionStatus{
		State: state,
		Error: err,
	}

	// Call handler function, if any
	if s.stateChangeHandler != nil {
		s.stateChangeHandler(s.connectionStatus)
	}

	// Put state change on channel, if any
	if s.stateChangeChan != nil {
		select {
		case s.stateChangeChan <- s.connectionStatus:
		default:
		}
	}
}

func (s *Session) signal(sig scale.Signal, arg int) {
	if s.signalHandler != nil {
		s.signalHandler(sig, arg)
	}
}

// emit finalizes measurements: they are handed to the handler / channel and
// ownership ends here
func (s *Session) emit(measurements ...scale.Measurement) {
	for _, m := range measurements {
		m := m
		s.lastMeasurement = &m
		s.measurements = append(s.measurements, m)

		s.logger.Infof("finalized measurement: %s (%.2f %s)",
			&m, s.unit.Convert(m.Weight), s.unit.Symbol())

		if s.measurementHandler != nil {
			s.measurementHandler(m)
		}
		if s.measurementChan != nil {
			s.measurementChan <- m
		}
	}
}

// handleWeightFrame decodes a measurement channel frame into an identified
// weight reading. Frames no strategy can interpret are dropped after
// diagnostic logging, never surfaced as errors
func (s *Session) handleWeightFrame(data []byte) {

	reading, ok := frame.DecodeWeight(data)
	if !ok {
		s.logger.Warnf("unable to extract valid weight from frame [%x]", data)
		for _, c := range frame.DiagnosticCandidates(data) {
			s.logger.Debugf("offset %d: raw=%d (%.2f/%.1f)",
				c.Offset, c.Raw, float64(c.Raw)/100., float64(c.Raw)/10.)
		}
		return
	}

	s.logger.Debugf("weight %.2f kg decoded via strategy %s", reading.WeightKg, reading.Strategy)

	s.emit(s.rec.submit(scale.Measurement{
		TimeStamp: time.Now(),
		UserID:    s.user.ID,
		Weight:    reading.WeightKg,
	})...)
}

// handleControlFrame interprets control channel acknowledgements
func (s *Session) handleControlFrame(data []byte) {

	resp, ok := frame.ParseControlResponse(data)
	if !ok {
		s.logger.Warnf("short control frame [%x]", data)
		return
	}

	switch resp.Command {
	case frame.CmdConfigureAck:
		if resp.OK() {
			s.logger.Debug("device configuration acknowledged")
		} else {
			s.logger.Warnf("device configuration failed with status 0x%02X", resp.Status)
		}
	case frame.CmdStartAck:
		if resp.OK() {
			s.logger.Debug("measurement start acknowledged")
			s.signal(scale.SignalMeasuring, 0)
		} else {
			s.logger.Warnf("failed to start measurement, status 0x%02X", resp.Status)
		}
	default:
		s.logger.Debugf("unknown control response 0x%02X, status 0x%02X", resp.Command, resp.Status)
	}
}

// handleStatusFrame dispatches a status channel frame by its leading type
// byte (body composition, battery, progress or error)
func (s *Session) handleStatusFrame(data []byte) {

	statusType, ok := frame.StatusTypeOf(data)
	if !ok {
		s.logger.Warnf("short status frame [%x]", data)
		return
	}

	switch statusType {
	case frame.StatusBodyComposition:
		s.handleCompositionFrame(data)

	case frame.StatusBattery:
		s.deviceInfo.Battery = int(data[1])
		s.logger.Debugf("battery level: %d%%", s.deviceInfo.Battery)
		if s.deviceInfo.Battery < lowBatteryThreshold {
			s.signal(scale.SignalLowBattery, s.deviceInfo.Battery)
		}

	case frame.StatusProgress:
		switch data[1] {
		case frame.ProgressMeasuring:
			s.logger.Debug("measurement in progress")
			s.signal(scale.SignalMeasuring, 0)
		case frame.ProgressComplete:
			s.logger.Debug("measurement complete")
			s.measurementComplete = true
		}

	case frame.StatusError:
		s.logger.Warnf("scale error reported: 0x%02X", data[1])
		s.signal(scale.SignalNotReady, 0)

	default:
		s.logger.Debugf("unknown status type 0x%02X", byte(statusType))
	}
}

// handleCompositionFrame decodes an anonymous body composition frame. A frame
// without any plausible weight is dropped (logged, not merged)
func (s *Session) handleCompositionFrame(data []byte) {

	m, ok := frame.DecodeComposition(data)
	if !ok {
		s.logger.Warnf("no valid body composition data in %d-byte frame [%x]", len(data), data)
		return
	}

	s.logger.Debugf("decoded body composition: %.2f kg, %d metrics", m.Weight, m.MetricCount())
	s.emit(s.rec.submit(m)...)
}

// StatusSummary returns a human readable summary of the session state
func (s *Session) StatusSummary() string {

	summary := fmt.Sprintf("%s (manufacturer: %s, model: %s, firmware: %s)\n",
		s.deviceName,
		orUnknown(s.deviceInfo.Manufacturer),
		orUnknown(s.deviceInfo.Model),
		orUnknown(s.deviceInfo.FirmwareVersion))
	if s.deviceInfo.Battery >= 0 {
		summary += fmt.Sprintf("battery: %d%%\n", s.deviceInfo.Battery)
	}
	summary += fmt.Sprintf("configured: %v, measurement complete: %v, unit: %s",
		s.configured, s.measurementComplete, s.unit.Symbol())
	if s.watch != nil {
		summary += fmt.Sprintf(", session time: %v", s.watch.ElapsedTime().Round(time.Second))
	}

	return summary
}

func orUnknown(val string) string {
	if val == "" {
		return "unknown"
	}

	return val
}
