package cult_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/fako1024/btbodyscale/pkg/cult"
	"github.com/fako1024/btbodyscale/pkg/mock"
	"github.com/fako1024/btbodyscale/pkg/scale"
)

func newTestSession(t *testing.T, transport *mock.Transport, options ...func(*cult.Session)) *cult.Session {
	t.Helper()

	s, err := cult.New(append([]func(*cult.Session){
		cult.WithTransport(transport),
		cult.WithUser(cult.User{ID: 5, Age: 30, HeightCm: 175, Male: true}),
	}, options...)...)
	if err != nil {
		t.Fatalf("failed to initialize session: %s", err)
	}

	return s
}

func TestOnboardingSequence(t *testing.T) {

	transport := mock.NewTransport()
	s := newTestSession(t, transport)

	stoppedAt, completed := mock.RunOnboarding(s)
	if !completed {
		t.Fatalf("onboarding stopped at step %d", stoppedAt)
	}

	if !s.Configured() {
		t.Fatal("expected session to be configured")
	}

	info := s.DeviceInfo()
	if info.Manufacturer != "Cult" || info.Model != "Smart Scale Pro" || info.FirmwareVersion != "1.0.3" {
		t.Fatalf("unexpected device info: %+v", info)
	}
	if info.Battery != 85 {
		t.Fatalf("unexpected battery level: %d", info.Battery)
	}

	if enabled := transport.NotifyEnabled(); len(enabled) != 2 ||
		enabled[0] != cult.CharMeasurement || enabled[1] != cult.CharStatus {
		t.Fatalf("unexpected notification subscriptions: %v", enabled)
	}
	if enabled := transport.IndicateEnabled(); len(enabled) != 1 || enabled[0] != cult.CharControl {
		t.Fatalf("unexpected indication subscriptions: %v", enabled)
	}

	// The final step must have issued the literal start command after the
	// profile packet
	writes := transport.Writes(cult.CharControl)
	if len(writes) != 2 {
		t.Fatalf("unexpected number of control writes: %d", len(writes))
	}
	if writes[0][0] != 0xFE || writes[0][len(writes[0])-1] != 0xFF {
		t.Fatalf("unexpected profile packet: [%x]", writes[0])
	}
	if !bytes.Equal(writes[1], []byte{0xFD, 0x01, 0x00, 0xFC}) {
		t.Fatalf("unexpected start command: [%x]", writes[1])
	}
}

func TestOnboardingInvalidStep(t *testing.T) {

	s := newTestSession(t, mock.NewTransport())

	if s.OnStepAdvance(-1) {
		t.Fatal("expected negative step to fail")
	}
	if s.OnStepAdvance(cult.NumSteps()) {
		t.Fatal("expected out-of-range step to fail")
	}
}

func TestOnboardingProfileRetrySucceeds(t *testing.T) {

	transport := mock.NewTransport()
	transport.FailWrites(cult.CharControl, 2)
	s := newTestSession(t, transport)

	stoppedAt, completed := mock.RunOnboarding(s)
	if !completed {
		t.Fatalf("onboarding stopped at step %d", stoppedAt)
	}
	if !s.Configured() {
		t.Fatal("expected session to be configured after retries")
	}
}

func TestOnboardingProfileRetryExhausted(t *testing.T) {

	transport := mock.NewTransport()
	transport.FailWrites(cult.CharControl, 3)
	s := newTestSession(t, transport)

	var signals []scale.Signal
	s.SetSignalHandler(func(sig scale.Signal, _ int) {
		signals = append(signals, sig)
	})

	stoppedAt, completed := mock.RunOnboarding(s)
	if completed {
		t.Fatal("expected onboarding to abort")
	}
	if stoppedAt != int(cult.StepConfigureUserProfile) {
		t.Fatalf("onboarding stopped at unexpected step %d", stoppedAt)
	}
	if s.RetryPending() {
		t.Fatal("expected no retry request after exhaustion")
	}
	if s.Configured() {
		t.Fatal("expected full state reset after retry exhaustion")
	}

	var seen bool
	for _, sig := range signals {
		if sig == scale.SignalConnectionError {
			seen = true
		}
	}
	if !seen {
		t.Fatal("expected terminal connection error signal")
	}
}

func TestOnboardingReadFailureAborts(t *testing.T) {

	transport := mock.NewTransport()
	transport.SetRead(cult.CharBatteryLevel, nil)
	s := newTestSession(t, transport)

	stoppedAt, completed := mock.RunOnboarding(s)
	if completed {
		t.Fatal("expected onboarding to abort")
	}
	if stoppedAt != int(cult.StepBatteryStatus) {
		t.Fatalf("onboarding stopped at unexpected step %d", stoppedAt)
	}
	if s.RetryPending() {
		t.Fatal("read step failures must not be retried")
	}
}

func TestOnboardingTimeout(t *testing.T) {

	s := newTestSession(t, mock.NewTransport(),
		cult.WithTimeouts(time.Nanosecond, time.Nanosecond))

	var signals []scale.Signal
	s.SetSignalHandler(func(sig scale.Signal, _ int) {
		signals = append(signals, sig)
	})

	if !s.OnStepAdvance(int(cult.StepDeviceInfo)) {
		t.Fatal("expected device info step to succeed")
	}
	time.Sleep(time.Millisecond)

	if s.OnStepAdvance(int(cult.StepBatteryStatus)) {
		t.Fatal("expected step to abort on exceeded budget")
	}
	if len(signals) == 0 || signals[len(signals)-1] != scale.SignalNotReady {
		t.Fatalf("expected not-ready signal, got %v", signals)
	}
}

func TestOnboardingConnectionBudgetTimeout(t *testing.T) {

	// Only the shorter connection budget is exceeded while the measurement
	// budget is still wide open
	s := newTestSession(t, mock.NewTransport(),
		cult.WithTimeouts(time.Nanosecond, time.Hour))

	var signals []scale.Signal
	s.SetSignalHandler(func(sig scale.Signal, _ int) {
		signals = append(signals, sig)
	})

	if !s.OnStepAdvance(int(cult.StepDeviceInfo)) {
		t.Fatal("expected device info step to succeed")
	}
	time.Sleep(time.Millisecond)

	if s.OnStepAdvance(int(cult.StepBatteryStatus)) {
		t.Fatal("expected step to abort on exceeded connection budget")
	}
	if s.RetryPending() {
		t.Fatal("budget failures must not be retried")
	}
	if len(signals) == 0 || signals[len(signals)-1] != scale.SignalConnectionError {
		t.Fatalf("expected connection error signal, got %v", signals)
	}
}

func TestStartMeasurementConnectionBudget(t *testing.T) {

	transport := mock.NewTransport()
	s := newTestSession(t, transport,
		cult.WithTimeouts(20*time.Millisecond, time.Hour))

	// Complete the sequence up to (but not including) the start command
	for step := 0; step < int(cult.StepStartMeasurement); step++ {
		if !s.OnStepAdvance(step) {
			t.Fatalf("step %d unexpectedly failed", step)
		}
	}
	if !s.Configured() {
		t.Fatal("expected session to be configured")
	}

	var signals []scale.Signal
	s.SetSignalHandler(func(sig scale.Signal, _ int) {
		signals = append(signals, sig)
	})

	// Once configured the per-step poll no longer consults the connection
	// budget, only the start command itself re-checks it
	time.Sleep(100 * time.Millisecond)

	if s.OnStepAdvance(int(cult.StepStartMeasurement)) {
		t.Fatal("expected measurement start to abort on exceeded connection budget")
	}
	if len(signals) == 0 || signals[len(signals)-1] != scale.SignalConnectionError {
		t.Fatalf("expected connection error signal, got %v", signals)
	}

	// The start command must never have been written
	if writes := transport.Writes(cult.CharControl); len(writes) != 1 {
		t.Fatalf("unexpected number of control writes: %d", len(writes))
	}
}

func TestLowBatterySignal(t *testing.T) {

	transport := mock.NewTransport()
	transport.SetRead(cult.CharBatteryLevel, []byte{15})
	s := newTestSession(t, transport)

	var lowBattery, arg int
	s.SetSignalHandler(func(sig scale.Signal, a int) {
		if sig == scale.SignalLowBattery {
			lowBattery++
			arg = a
		}
	})

	if _, completed := mock.RunOnboarding(s); !completed {
		t.Fatal("expected onboarding to complete")
	}
	if lowBattery != 1 || arg != 15 {
		t.Fatalf("expected one low battery signal with level 15, got %d / %d", lowBattery, arg)
	}
}

func TestMeasurementMergeAcrossChannels(t *testing.T) {

	transport := mock.NewTransport()
	s := newTestSession(t, transport)
	if _, completed := mock.RunOnboarding(s); !completed {
		t.Fatal("expected onboarding to complete")
	}

	var finalized []scale.Measurement
	s.SetMeasurementHandler(func(m scale.Measurement) {
		finalized = append(finalized, m)
	})

	// Identified weight frame (75.00 kg at offset 3) is held back
	s.OnNotification(cult.ChannelMeasurement, []byte{0x00, 0x00, 0x10, 0x4C, 0x1D, 0x00})
	if len(finalized) != 0 {
		t.Fatalf("expected measurement to be held pending, got %d", len(finalized))
	}

	// Anonymous body composition frame merges into it
	comp := make([]byte, 20)
	comp[0] = 0xBB
	comp[2], comp[3] = 0x4C, 0x1D // weight 75.00 kg
	comp[6], comp[7] = 0xFF, 0x00 // fat 25.5 %
	comp[8], comp[9] = 0x26, 0x02 // water 55.0 %
	comp[10], comp[11] = 0x90, 0x01 // muscle 40.0 %
	comp[12], comp[13] = 0x40, 0x01 // bone 3.2 kg
	comp[14], comp[15] = 0x20, 0x03 // visceral 8.0
	s.OnNotification(cult.ChannelStatus, comp)

	if len(finalized) != 1 {
		t.Fatalf("expected one finalized measurement, got %d", len(finalized))
	}
	m := finalized[0]
	if m.UserID != 5 {
		t.Fatalf("merged measurement lost its identity: user %d", m.UserID)
	}
	if m.Weight != 75.0 || m.Fat != 25.5 || m.Water != 55.0 || m.Muscle != 40.0 {
		t.Fatalf("unexpected merged measurement: %+v", &m)
	}

	if last, ok := s.LastMeasurement(); !ok || last.UserID != 5 {
		t.Fatal("expected last measurement to be tracked")
	}
	if history := s.Measurements(); len(history) != 1 || history[0].UserID != 5 {
		t.Fatalf("unexpected measurement history: %+v", history)
	}

	// A second, anonymous-only measurement is appended to the history
	s.OnNotification(cult.ChannelStatus, comp)
	if history := s.Measurements(); len(history) != 2 {
		t.Fatalf("unexpected measurement history length: %d", len(history))
	}
}

func TestUndecodableWeightFrameDropped(t *testing.T) {

	s := newTestSession(t, mock.NewTransport())

	var finalized int
	s.SetMeasurementHandler(func(scale.Measurement) {
		finalized++
	})

	s.OnNotification(cult.ChannelMeasurement, make([]byte, 8))
	s.OnNotification(cult.ChannelMeasurement, []byte{0x01})
	if finalized != 0 {
		t.Fatalf("expected undecodable frames to be dropped, got %d measurements", finalized)
	}
}

func TestDisconnectFlushesPendingMeasurement(t *testing.T) {

	transport := mock.NewTransport()
	s := newTestSession(t, transport)
	if _, completed := mock.RunOnboarding(s); !completed {
		t.Fatal("expected onboarding to complete")
	}

	var finalized []scale.Measurement
	var signals []scale.Signal
	s.SetMeasurementHandler(func(m scale.Measurement) {
		finalized = append(finalized, m)
	})
	s.SetSignalHandler(func(sig scale.Signal, _ int) {
		signals = append(signals, sig)
	})

	// Identified weight frame without a follow-up composition frame
	s.OnNotification(cult.ChannelMeasurement, []byte{0x00, 0x00, 0x10, 0x4C, 0x1D, 0x00})

	s.OnDisconnect()
	if len(finalized) != 1 || finalized[0].Weight != 75.0 {
		t.Fatalf("expected pending measurement to be flushed on disconnect, got %+v", finalized)
	}

	var seen bool
	for _, sig := range signals {
		if sig == scale.SignalConnectionLost {
			seen = true
		}
	}
	if !seen {
		t.Fatal("expected connection lost signal for incomplete measurement sequence")
	}
}

func TestStatusFrameHandling(t *testing.T) {

	transport := mock.NewTransport()
	s := newTestSession(t, transport)
	if _, completed := mock.RunOnboarding(s); !completed {
		t.Fatal("expected onboarding to complete")
	}

	var signals []scale.Signal
	s.SetSignalHandler(func(sig scale.Signal, _ int) {
		signals = append(signals, sig)
	})

	// Battery status update
	s.OnNotification(cult.ChannelStatus, []byte{0xBA, 0x0F, 0x00})
	if s.BatteryLevel() != 15 {
		t.Fatalf("unexpected battery level: %d", s.BatteryLevel())
	}

	// Measurement progress / completion
	s.OnNotification(cult.ChannelStatus, []byte{0xBC, 0x01, 0x00})
	s.OnNotification(cult.ChannelStatus, []byte{0xBC, 0x02, 0x00})
	if !s.MeasurementComplete() {
		t.Fatal("expected measurement completion to be tracked")
	}

	// Error condition
	s.OnNotification(cult.ChannelStatus, []byte{0xBE, 0x03, 0x00})

	want := []scale.Signal{scale.SignalLowBattery, scale.SignalMeasuring, scale.SignalNotReady}
	if len(signals) != len(want) {
		t.Fatalf("unexpected signals: %v", signals)
	}
	for i, sig := range want {
		if signals[i] != sig {
			t.Fatalf("unexpected signal at %d: %v", i, signals[i])
		}
	}
}

func TestConnectionErrorRetryPolicy(t *testing.T) {

	s := newTestSession(t, mock.NewTransport())

	var signals []scale.Signal
	var args []int
	s.SetSignalHandler(func(sig scale.Signal, arg int) {
		signals = append(signals, sig)
		args = append(args, arg)
	})

	for i := 0; i < 3; i++ {
		s.OnConnectionError()
	}
	if len(signals) != 3 {
		t.Fatalf("unexpected signals: %v", signals)
	}
	for i, sig := range signals {
		if sig != scale.SignalRetrying || args[i] != i+1 {
			t.Fatalf("unexpected retry signal at %d: %v (%d)", i, sig, args[i])
		}
	}

	// Past the retry budget the failure is terminal
	s.OnConnectionError()
	if signals[len(signals)-1] != scale.SignalConnectionError {
		t.Fatalf("expected terminal connection error signal, got %v", signals)
	}
	if status := s.ConnectionStatus(); status.State != scale.StateDisconnected || status.Error == nil {
		t.Fatalf("unexpected connection status: %+v", status)
	}
}
