package cants

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skycants/cants/pkg/link"
	_ "github.com/skycants/cants/pkg/link/virtual"
)

// testPeer is a bare link.Driver subscriber standing in for a remote
// CAN-TS node: it records every frame it receives on its channel and lets
// the test script replies directly, without a second Engine.
type testPeer struct {
	t      *testing.T
	driver link.Driver

	mu       sync.Mutex
	received []link.Frame
}

func newTestPeer(t *testing.T, channel string) *testPeer {
	t.Helper()
	driver, err := link.NewDriver("virtual", channel)
	require.NoError(t, err)
	p := &testPeer{t: t, driver: driver}
	driver.Subscribe(p)
	require.NoError(t, driver.Open())
	t.Cleanup(func() { driver.Close() })
	return p
}

func (p *testPeer) FrameSent(f link.Frame)                             {}
func (p *testPeer) SendError(f link.Frame, reason link.SendErrorReason) {}

func (p *testPeer) FrameReceived(f link.Frame) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.received = append(p.received, f)
}

// next pops and returns the oldest received frame, waiting up to 200ms.
func (p *testPeer) next() (link.Frame, bool) {
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		if len(p.received) > 0 {
			f := p.received[0]
			p.received = p.received[1:]
			p.mu.Unlock()
			return f, true
		}
		p.mu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}
	return link.Frame{}, false
}

func (p *testPeer) nextDecoded() (Frame, bool) {
	lf, ok := p.next()
	if !ok {
		return Frame{}, false
	}
	f, err := Decode(lf)
	require.NoError(p.t, err)
	return f, true
}

func (p *testPeer) send(f Frame) {
	lf, err := Encode(f)
	require.NoError(p.t, err)
	require.NoError(p.t, p.driver.Send(lf))
}

// eventRecorder collects every event an Engine emits, in order.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *eventRecorder) waitForKind(t *testing.T, kind EventKind) Event {
	t.Helper()
	var found Event
	ok := assert.Eventually(t, func() bool {
		for _, ev := range r.snapshot() {
			if ev.Kind == kind {
				found = ev
				return true
			}
		}
		return false
	}, time.Second, 2*time.Millisecond)
	require.True(t, ok, "never observed event kind %v", kind)
	return found
}

// newTestEngine starts an Engine at localAddr on a pair of freshly named
// virtual channels and records every event it emits. Tests that need a
// remote node open their own testPeer on the nominal channel.
func newTestEngine(t *testing.T, localAddr byte, nominalChannel, redundantChannel string) (*Engine, *eventRecorder) {
	t.Helper()
	e := NewEngine(DefaultConfig())
	rec := &eventRecorder{}
	e.OnEvent(rec.handle)
	require.NoError(t, e.Start(localAddr, 100, VirtualSettings{NominalChannel: nominalChannel, RedundantChannel: redundantChannel}))
	t.Cleanup(e.Stop)
	return e, rec
}
