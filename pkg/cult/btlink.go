package cult

import (
	"fmt"
	"strings"
	"time"

	"github.com/fako1024/btbodyscale/pkg/scale"
	"github.com/fako1024/gatt"
)

// btLink implements Transport on top of a GATT device and acts as onboarding
// host: once connected and discovered it invokes the session's step sequence
// and dispatches notifications to it
type btLink struct {
	session *Session

	btDevice     gatt.Device
	btPeripheral gatt.Peripheral
	chars        map[string]*gatt.Characteristic

	doneChan chan struct{}
	quit     chan struct{}
}

func newBTLink(s *Session) (*btLink, error) {

	btDevice, err := gatt.NewDevice(defaultBTClientOptions...)
	if err != nil {
		return nil, err
	}

	return &btLink{
		session:  s,
		btDevice: btDevice,
		chars:    make(map[string]*gatt.Characteristic),
		doneChan: make(chan struct{}),
		quit:     make(chan struct{}),
	}, nil
}

// ReadCharacteristic reads the value of a characteristic
func (l *btLink) ReadCharacteristic(_, characteristic string) ([]byte, error) {
	c, err := l.characteristic(characteristic)
	if err != nil {
		return nil, err
	}

	return l.btPeripheral.ReadCharacteristic(c)
}

// WriteCharacteristic writes data to a characteristic
func (l *btLink) WriteCharacteristic(characteristic string, data []byte) error {
	c, err := l.characteristic(characteristic)
	if err != nil {
		return err
	}

	return l.btPeripheral.WriteCharacteristic(c, data, false)
}

// EnableNotify subscribes to notifications on a characteristic
func (l *btLink) EnableNotify(_, characteristic string) error {
	c, err := l.characteristic(characteristic)
	if err != nil {
		return err
	}

	return l.btPeripheral.SetNotifyValue(c, l.genReceiveData(channelForUUID(characteristic)))
}

// EnableIndicate subscribes to indications on a characteristic
func (l *btLink) EnableIndicate(service, characteristic string) error {
	return l.EnableNotify(service, characteristic)
}

func (l *btLink) characteristic(uuid string) (*gatt.Characteristic, error) {
	if l.btPeripheral == nil {
		return nil, fmt.Errorf("failed to access uninitialized device")
	}
	c, exists := l.chars[uuid]
	if !exists {
		return nil, fmt.Errorf("characteristic %s not discovered", uuid)
	}

	return c, nil
}

func (l *btLink) genReceiveData(ch Channel) func(c *gatt.Characteristic, data []byte, err error) {
	return func(_ *gatt.Characteristic, data []byte, err error) {
		if err != nil {
			return
		}
		l.session.OnNotification(ch, data)
	}
}

func channelForUUID(uuid string) Channel {
	switch uuid {
	case CharControl:
		return ChannelControl
	case CharStatus:
		return ChannelStatus
	default:
		return ChannelMeasurement
	}
}

////////////////////////////////////////////////////////////////////////////////

func (l *btLink) subscribe() error {

	// Register handlers
	l.btDevice.Handle(
		gatt.AddPeripheralDiscovered(l.genOnPeriphDiscovered()),
		gatt.AddPeripheralConnected(l.onPeriphConnected),
		gatt.AddPeripheralDisconnected(l.onPeriphDisconnected),
	)

	// Initialize the device
	return l.btDevice.Init(l.onStateChanged)
}

func (l *btLink) close() error {
	close(l.quit)

	_ = l.btDevice.StopScanning()
	return l.btDevice.RemoveAllServices()
}

func (l *btLink) onStateChanged(d gatt.Device, s gatt.State) {
	log := l.session.logger

	switch s {
	case gatt.StatePoweredOn:
		l.session.setStatus(scale.StateScanning, nil)
		if err := d.Scan([]gatt.UUID{}, false); err != nil {
			log.Warnf("failed to enable initial scanning: %s", err)
		}
		return
	case gatt.StatePoweredOff:
		l.session.setStatus(scale.StateDisconnected, nil)
		return
	default:
		if err := d.StopScanning(); err != nil {
			log.Warnf("failed to stop initial scanning: %s", err)
		}
	}
}

func (l *btLink) genOnPeriphDiscovered() func(p gatt.Peripheral, arg2 *gatt.Advertisement, arg3 int) {
	return func(p gatt.Peripheral, _ *gatt.Advertisement, _ int) {
		log := l.session.logger

		log.Debugf("discovered device `%s/%s`", p.Name(), p.ID())

		if !l.thisDevice(p) {
			return
		}

		log.Debugf("connecting device `%s/%s`", p.Name(), p.ID())

		// Stop scanning once we've got the peripheral we're looking for.
		if err := p.Device().StopScanning(); err != nil {
			log.Warnf("failed to stop initial scanning: %s", err)
		}
		if err := p.Device().Connect(p); err != nil {
			log.Errorf("failed to connect device `%s/%s`: %s", p.Name(), p.ID(), err)
			l.session.OnConnectionError()
		}
	}
}

func (l *btLink) onPeriphConnected(p gatt.Peripheral, connErr error) {
	log := l.session.logger

	if !l.thisDevice(p) {
		return
	}

	log.Debugf("connected peripheral `%s/%s`", p.Name(), p.ID())

	defer func() {
		_ = p.Device().CancelConnection(p)
	}()

	// Set connection MTU
	if err := p.SetMTU(500); err != nil {
		log.Warnf("failed to set MTU: %s", err)
	}

	if err := l.discover(p); err != nil {
		log.Errorf("discovery failed for `%s/%s`: %s", p.Name(), p.ID(), err)
		l.session.OnConnectionError()
		return
	}
	l.btPeripheral = p

	l.session.OnConnect()

	// Drive the onboarding sequence, re-invoking a step only when the
	// session explicitly requests a retry of it
	for step := 0; step < int(nSteps); {
		if l.session.OnStepAdvance(step) {
			step++
			continue
		}
		if !l.session.RetryPending() {
			log.Warnf("onboarding aborted at step %d", step)
			return
		}
	}

	log.Debugf("waiting to release peripheral `%s/%s`", p.Name(), p.ID())
	l.awaitRelease()
	log.Debugf("released peripheral `%s/%s`", p.Name(), p.ID())
}

// discover walks all services and caches the characteristics of interest by
// their short UUID
func (l *btLink) discover(p gatt.Peripheral) error {

	ss, err := p.DiscoverServices(nil)
	if err != nil {
		return fmt.Errorf("failed to discover services: %w", err)
	}

	for _, s := range ss {
		switch s.UUID().String() {
		case ServiceDeviceInformation, ServiceBattery, ServiceScale:
		default:
			continue
		}

		cs, err := p.DiscoverCharacteristics(nil, s)
		if err != nil {
			return fmt.Errorf("failed to discover characteristics: %w", err)
		}
		for _, c := range cs {
			if _, err := p.DiscoverDescriptors(nil, c); err != nil {
				return fmt.Errorf("failed to discover descriptors: %w", err)
			}
			l.chars[c.UUID().String()] = c
		}
	}

	if _, exists := l.chars[CharControl]; !exists {
		return fmt.Errorf("control characteristic %s not found", CharControl)
	}

	return nil
}

func (l *btLink) onPeriphDisconnected(p gatt.Peripheral, _ error) {
	log := l.session.logger

	if !l.thisDevice(p) {
		return
	}

	l.release()
	l.btPeripheral = nil
	l.session.OnDisconnect()

	time.Sleep(100 * time.Millisecond)
	if err := l.btDevice.Scan([]gatt.UUID{}, false); err != nil {
		log.Warnf("failed to re-enable scanning after disconnect: %s", err)
	}
}

func (l *btLink) thisDevice(p gatt.Peripheral) bool {

	// Check if name and / or device ID have been overridden
	if l.session.deviceID != "" && strings.EqualFold(p.ID(), l.session.deviceID) {
		return true
	}
	return strings.EqualFold(p.Name(), l.session.deviceName)
}

// awaitRelease blocks until the peripheral is released by a disconnect event
// or the link is closed
func (l *btLink) awaitRelease() {
	select {
	case <-l.doneChan:
	case <-l.quit:
	}
}

// release hands the peripheral back to a pending awaitRelease. doneChan is
// never closed, only quit is
func (l *btLink) release() {
	select {
	case l.doneChan <- struct{}{}:
	default:
	}
}
