package cants

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/skycants/cants/pkg/link"
)

// Bus identifies one of the engine's two physical CAN links.
type Bus int

const (
	Nominal Bus = iota
	Redundant
)

func (b Bus) String() string {
	if b == Nominal {
		return "nominal"
	}
	return "redundant"
}

// DriverSettings selects and configures the link-driver backend opened for
// both buses at Start. It is a closed tagged variant, resolving the Design
// Notes' "driver settings as an abstract base with concrete subclasses"
// item: every concrete settings type implements channels, and an unknown
// variant (nil, or a type defined outside this package) is rejected by
// Start before any driver is opened.
type DriverSettings interface {
	channels() (backend, nominalChannel, redundantChannel string)
}

// SerialBridgeSettings selects the serial-attached CAN-bridge backend. No
// such backend ships with this module (the physical CAN controller driver
// is out of scope); Start against SerialBridgeSettings will fail at
// link.NewDriver with an unregistered-backend error, exactly as Start is
// specified to behave when a link driver fails to open.
type SerialBridgeSettings struct {
	NominalPort   string
	RedundantPort string
	BaudRate      uint32
}

func (s SerialBridgeSettings) channels() (string, string, string) {
	return "serial", s.NominalPort, s.RedundantPort
}

// IPBridgeSettings selects an IP-attached CAN-bridge backend. Like
// SerialBridgeSettings, no backend is registered under "ip"; only the
// virtual backend is exercised by this module's own tests and demo.
type IPBridgeSettings struct {
	NominalAddr   string
	RedundantAddr string
}

func (s IPBridgeSettings) channels() (string, string, string) {
	return "ip", s.NominalAddr, s.RedundantAddr
}

// VirtualSettings selects the in-process loopback backend (pkg/link/virtual),
// used by tests and the bundled demo command.
type VirtualSettings struct {
	NominalChannel   string
	RedundantChannel string
}

func (s VirtualSettings) channels() (string, string, string) {
	return "virtual", s.NominalChannel, s.RedundantChannel
}

// SocketCANSettings selects the Linux SocketCAN backend (pkg/link/socketcan,
// built on github.com/brutella/can). NominalInterface and RedundantInterface
// name the two kernel network interfaces (e.g. "can0", "can1") carrying the
// nominal and redundant buses.
type SocketCANSettings struct {
	NominalInterface   string
	RedundantInterface string
}

func (s SocketCANSettings) channels() (string, string, string) {
	return "socketcan", s.NominalInterface, s.RedundantInterface
}

// Engine is the single CAN-TS dispatch context: one local address, two
// link drivers, and the four transfer registries. All exported methods and
// all link-driver/timer callbacks serialize through mu, realizing the
// single-threaded cooperative dispatch model of §5 on top of the goroutines
// that actually call in (timer fires, driver notifications).
type Engine struct {
	mu sync.Mutex

	address   byte
	timeoutMs uint32
	running   bool
	activeBus Bus

	nominalDriver   link.Driver
	redundantDriver link.Driver

	registries registries
	handler    EventHandler

	pendingTimeSync    bool
	pendingUnsolicited map[addrChannel]bool

	cfg Config

	log *logrus.Entry
}

// NewEngine constructs an Engine from cfg. Start must still be called to
// open the link drivers before any transfer can be initiated.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:                cfg,
		registries:         newRegistries(),
		pendingUnsolicited: make(map[addrChannel]bool),
		log:                logrus.WithField("component", "cants.engine"),
	}
}

// OnEvent registers the single handler invoked for every event the engine
// emits. Replaces any previously registered handler. Must not be changed
// concurrently with Start.
func (e *Engine) OnEvent(h EventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = h
}

// GetAddress returns the local node address the engine was started with.
func (e *Engine) GetAddress() byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.address
}

// GetActiveBus reports which of the two buses currently carries traffic.
func (e *Engine) GetActiveBus() Bus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeBus
}

// CanBusSwitch toggles the active bus and abandons every in-flight
// transfer without emitting completion events, per §4.4/§5.
func (e *Engine) CanBusSwitch() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.registries.clear()
	if e.activeBus == Nominal {
		e.activeBus = Redundant
	} else {
		e.activeBus = Nominal
	}
	e.log.WithField("active_bus", e.activeBus).Info("switched active CAN bus")
}

func (e *Engine) emit(ev Event) {
	if e.handler != nil {
		e.handler(ev)
	}
}

// Start opens both link drivers against the backend named by settings and
// begins dispatching. Returns an error if the engine is already running,
// settings is an unrecognized variant, address is a reserved broadcast
// address, or either link driver fails to open — in the last case any
// driver that did open is closed again before returning.
func (e *Engine) Start(address byte, timeoutMs uint32, settings DriverSettings) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return ErrEngineAlreadyRunning
	}
	if settings == nil {
		return ErrUnknownDriverSettings
	}
	if IsBroadcastAddress(address) {
		return ErrBroadcastAddress
	}

	backend, nomCh, redCh := settings.channels()

	nominal, err := link.NewDriver(backend, nomCh)
	if err != nil {
		return fmt.Errorf("%w: nominal bus: %v", ErrDriverOpenFailed, err)
	}
	nominal.Subscribe(&busListener{engine: e, bus: Nominal})
	if err := nominal.Open(); err != nil {
		return fmt.Errorf("%w: nominal bus: %v", ErrDriverOpenFailed, err)
	}

	redundant, err := link.NewDriver(backend, redCh)
	if err != nil {
		nominal.Close()
		return fmt.Errorf("%w: redundant bus: %v", ErrDriverOpenFailed, err)
	}
	redundant.Subscribe(&busListener{engine: e, bus: Redundant})
	if err := redundant.Open(); err != nil {
		nominal.Close()
		return fmt.Errorf("%w: redundant bus: %v", ErrDriverOpenFailed, err)
	}

	e.address = address
	e.timeoutMs = timeoutMs
	e.activeBus = Nominal
	e.nominalDriver = nominal
	e.redundantDriver = redundant
	e.registries = newRegistries()
	e.pendingTimeSync = false
	e.pendingUnsolicited = make(map[addrChannel]bool)
	e.running = true

	e.log.WithFields(logrus.Fields{"address": address, "backend": backend}).Info("engine started")
	return nil
}

// Stop closes both link drivers and abandons every in-flight transfer
// without emitting completion events. Safe to call when not running.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	e.registries.clear()
	if e.nominalDriver != nil {
		e.nominalDriver.Close()
	}
	if e.redundantDriver != nil {
		e.redundantDriver.Close()
	}
	e.nominalDriver = nil
	e.redundantDriver = nil
	e.running = false
	e.log.Info("engine stopped")
}

func (e *Engine) driverFor(bus Bus) link.Driver {
	if bus == Nominal {
		return e.nominalDriver
	}
	return e.redundantDriver
}

// sendFrame encodes and hands f to the active bus's driver. Must be called
// with e.mu held.
func (e *Engine) sendFrame(f Frame) error {
	if !e.running {
		return ErrEngineNotRunning
	}
	lf, err := Encode(f)
	if err != nil {
		return err
	}
	driver := e.driverFor(e.activeBus)
	if driver == nil {
		return ErrEngineNotRunning
	}
	return driver.Send(lf)
}
