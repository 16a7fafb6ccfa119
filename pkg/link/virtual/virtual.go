// Package virtual implements an in-process loopback link.Driver used for
// tests and local development: a "named channel, many subscribers" shape,
// without a separate broker process to connect to — every Driver opened on
// the same channel name shares an in-memory broadcast group instead of a
// TCP socket, since this module's test suite has no broker process to run
// against.
package virtual

import (
	"log/slog"
	"sync"

	"github.com/skycants/cants/pkg/link"
)

func init() {
	link.RegisterDriver("virtual", New)
	link.RegisterDriver("virtualcan", New)
}

var (
	groupsMu sync.Mutex
	groups   = make(map[string][]*Driver)
)

// Driver is a loopback link.Driver. Every open Driver sharing the same
// channel name forms a broadcast group: a frame sent by one member is
// delivered to every other open member's listener, asynchronously.
type Driver struct {
	logger     *slog.Logger
	channel    string
	mu         sync.Mutex
	listener   link.Listener
	receiveOwn bool
	open       bool
}

// New constructs a virtual Driver bound to channel. It satisfies
// link.NewDriverFunc.
func New(channel string) (link.Driver, error) {
	return &Driver{channel: channel, logger: slog.Default().With("service", "[LINK]", "channel", channel)}, nil
}

// Open joins the broadcast group named by the driver's channel.
func (d *Driver) Open() error {
	groupsMu.Lock()
	defer groupsMu.Unlock()
	d.mu.Lock()
	d.open = true
	d.mu.Unlock()
	groups[d.channel] = append(groups[d.channel], d)
	return nil
}

// Close leaves the broadcast group.
func (d *Driver) Close() error {
	groupsMu.Lock()
	defer groupsMu.Unlock()
	d.mu.Lock()
	d.open = false
	d.mu.Unlock()
	members := groups[d.channel]
	for i, member := range members {
		if member == d {
			groups[d.channel] = append(members[:i], members[i+1:]...)
			break
		}
	}
	return nil
}

// Subscribe registers the listener that receives FrameSent/SendError/
// FrameReceived notifications for this driver.
func (d *Driver) Subscribe(listener link.Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listener = listener
}

// SetReceiveOwn controls whether a driver's own sent frames are also
// delivered back to it as FrameReceived.
func (d *Driver) SetReceiveOwn(receiveOwn bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.receiveOwn = receiveOwn
}

// Send broadcasts f to every other open driver sharing this channel and
// asynchronously confirms delivery to this driver's own listener via
// FrameSent.
func (d *Driver) Send(f link.Frame) error {
	d.mu.Lock()
	listener := d.listener
	receiveOwn := d.receiveOwn
	open := d.open
	d.mu.Unlock()
	if !open {
		return errInvalidState{}
	}

	groupsMu.Lock()
	peers := append([]*Driver(nil), groups[d.channel]...)
	groupsMu.Unlock()

	go func() {
		if listener != nil {
			listener.FrameSent(f)
		}
		for _, peer := range peers {
			if peer == d && !receiveOwn {
				continue
			}
			peer.mu.Lock()
			peerListener := peer.listener
			peer.mu.Unlock()
			if peerListener != nil {
				peerListener.FrameReceived(f)
			}
		}
	}()
	return nil
}

type errInvalidState struct{}

func (errInvalidState) Error() string { return "link: virtual driver not open" }
