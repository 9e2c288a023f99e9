// Package mock provides a scripted in-memory transport for driving a device
// session in tests and demos without bluetooth hardware
package mock

import (
	"fmt"
	"sync"

	"github.com/fako1024/btbodyscale/pkg/cult"
)

// Transport denotes a scripted in-memory transport. Read values, write
// failures and subscription failures can be injected; all writes and
// subscriptions are recorded
type Transport struct {
	mu sync.Mutex

	reads      map[string][]byte
	readErrs   map[string]error
	writeFails map[string]int
	writeErrs  map[string]error
	notifyErr  error

	writes        map[string][][]byte
	notifyChars   []string
	indicateChars []string
}

// NewTransport instantiates a transport pre-seeded with plausible device
// information and battery data
func NewTransport() *Transport {
	t := &Transport{
		reads:      make(map[string][]byte),
		readErrs:   make(map[string]error),
		writeFails: make(map[string]int),
		writeErrs:  make(map[string]error),
		writes:     make(map[string][][]byte),
	}

	t.SetRead(cult.CharManufacturerName, []byte("Cult"))
	t.SetRead(cult.CharModelNumber, []byte("Smart Scale Pro"))
	t.SetRead(cult.CharFirmwareRevision, []byte("1.0.3"))
	t.SetRead(cult.CharBatteryLevel, []byte{85})

	return t
}

// SetRead defines the data returned when reading a characteristic
func (t *Transport) SetRead(characteristic string, data []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.reads[characteristic] = data
}

// FailRead makes reads of a characteristic return the given error
func (t *Transport) FailRead(characteristic string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.readErrs[characteristic] = err
}

// FailWrites makes the next n writes to a characteristic fail
func (t *Transport) FailWrites(characteristic string, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.writeFails[characteristic] = n
}

// FailWritesAlways makes all writes to a characteristic fail with err
func (t *Transport) FailWritesAlways(characteristic string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.writeErrs[characteristic] = err
}

// FailSubscriptions makes notification / indication subscriptions fail
func (t *Transport) FailSubscriptions(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.notifyErr = err
}

// Writes returns all payloads written to a characteristic, in order
func (t *Transport) Writes(characteristic string) [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.writes[characteristic]
}

// NotifyEnabled returns all characteristics notifications were enabled on
func (t *Transport) NotifyEnabled() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.notifyChars
}

// IndicateEnabled returns all characteristics indications were enabled on
func (t *Transport) IndicateEnabled() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.indicateChars
}

// ReadCharacteristic returns the scripted data for a characteristic
func (t *Transport) ReadCharacteristic(_, characteristic string) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.readErrs[characteristic]; err != nil {
		return nil, err
	}

	return t.reads[characteristic], nil
}

// WriteCharacteristic records a write, honoring injected failures
func (t *Transport) WriteCharacteristic(characteristic string, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.writeErrs[characteristic]; err != nil {
		return err
	}
	if n := t.writeFails[characteristic]; n > 0 {
		t.writeFails[characteristic] = n - 1
		return fmt.Errorf("injected write failure on %s", characteristic)
	}

	t.writes[characteristic] = append(t.writes[characteristic], append([]byte(nil), data...))
	return nil
}

// EnableNotify records a notification subscription
func (t *Transport) EnableNotify(_, characteristic string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.notifyErr != nil {
		return t.notifyErr
	}

	t.notifyChars = append(t.notifyChars, characteristic)
	return nil
}

// EnableIndicate records an indication subscription
func (t *Transport) EnableIndicate(_, characteristic string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.notifyErr != nil {
		return t.notifyErr
	}

	t.indicateChars = append(t.indicateChars, characteristic)
	return nil
}

// RunOnboarding drives a session through the full step sequence the way a
// connection host would, re-invoking steps only on explicit retry requests.
// It returns the index of the step the machine stopped at and whether the
// sequence completed
func RunOnboarding(s *cult.Session) (stoppedAt int, completed bool) {
	for step := 0; step < cult.NumSteps(); {
		if s.OnStepAdvance(step) {
			step++
			continue
		}
		if !s.RetryPending() {
			return step, false
		}
	}

	return cult.NumSteps(), true
}
