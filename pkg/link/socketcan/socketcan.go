// Package socketcan wraps github.com/brutella/can into a link.Driver. It
// is the backend a real deployment would select for either bus via
// cants.SocketCANSettings; pkg/link/virtual exists purely for tests and
// the bundled demo.
package socketcan

import (
	sockcan "github.com/brutella/can"

	"github.com/skycants/cants/pkg/link"
)

// SocketCAN's raw canid_t packs these flags directly into the 32-bit ID
// field alongside the 11- or 29-bit arbitration id.
const (
	effFlag uint32 = 0x80000000
	rtrFlag uint32 = 0x40000000
	idMask  uint32 = 0x1FFFFFFF
)

func init() {
	link.RegisterDriver("socketcan", New)
}

// Driver adapts one brutella/can Bus (bound to a Linux SocketCAN interface
// name, e.g. "can0") into a link.Driver.
type Driver struct {
	iface    string
	bus      *sockcan.Bus
	listener link.Listener
}

// New constructs a Driver bound to the named SocketCAN interface. It
// satisfies link.NewDriverFunc.
func New(iface string) (link.Driver, error) {
	bus, err := sockcan.NewBusForInterfaceWithName(iface)
	if err != nil {
		return nil, err
	}
	return &Driver{iface: iface, bus: bus}, nil
}

func (d *Driver) Subscribe(listener link.Listener) {
	d.listener = listener
	d.bus.Subscribe(d)
}

// Open starts the bus's receive loop. brutella/can's ConnectAndPublish runs
// until Disconnect is called, so it is started on its own goroutine.
func (d *Driver) Open() error {
	go d.bus.ConnectAndPublish()
	return nil
}

func (d *Driver) Close() error {
	return d.bus.Disconnect()
}

// Send publishes f to the SocketCAN interface. brutella/can's Bus.Publish
// blocks on the underlying socket write but does not itself report
// asynchronous delivery failures the way the virtual backend's goroutine
// does; a write error is returned and also reported as a SendError rather
// than a FrameSent, since there is no separate confirmation channel. Either
// notification is delivered on its own goroutine, after Send has returned
// to a caller that may still hold the engine's lock.
func (d *Driver) Send(f link.Frame) error {
	id := f.ID & idMask
	if f.Extended {
		id |= effFlag
	}
	if f.RTR {
		id |= rtrFlag
	}
	var data [8]byte
	copy(data[:], f.Data)

	err := d.bus.Publish(sockcan.Frame{
		ID:     id,
		Length: uint8(len(f.Data)),
		Data:   data,
	})
	if err != nil {
		if d.listener != nil {
			go d.listener.SendError(f, link.WriteError)
		}
		return err
	}
	if d.listener != nil {
		go d.listener.FrameSent(f)
	}
	return nil
}

// Handle implements brutella/can's Handler interface, invoked on the bus's
// own receive goroutine for every frame read off the socket.
func (d *Driver) Handle(f sockcan.Frame) {
	if d.listener == nil {
		return
	}
	d.listener.FrameReceived(link.Frame{
		ID:       f.ID & idMask,
		Extended: f.ID&effFlag != 0,
		RTR:      f.ID&rtrFlag != 0,
		Data:     append([]byte(nil), f.Data[:f.Length]...),
	})
}
