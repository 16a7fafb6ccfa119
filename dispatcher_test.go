package cants

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnsolicitedReceivedAddressedToUs(t *testing.T) {
	peer := newTestPeer(t, "disp-unsol-nominal")
	_, rec := newTestEngine(t, 0x10, "disp-unsol-nominal", "disp-unsol-redundant")

	peer.send(NewUnsolicitedFrame(0x10, 0x20, 7, []byte{0xAB}))

	ev := rec.waitForKind(t, EventUnsolicitedReceived)
	assert.Equal(t, byte(0x20), ev.Address)
	assert.Equal(t, byte(7), ev.Channel)
	assert.Equal(t, []byte{0xAB}, ev.Data)
}

func TestTimeSyncReceived(t *testing.T) {
	peer := newTestPeer(t, "disp-tsync-nominal")
	_, rec := newTestEngine(t, 0x10, "disp-tsync-nominal", "disp-tsync-redundant")

	peer.send(NewTimeSyncFrame(0x20, []byte{1, 2, 3, 4, 5, 6, 7, 8}))

	ev := rec.waitForKind(t, EventTimeSyncReceived)
	assert.Equal(t, byte(0x20), ev.Address)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, ev.Data)
}

func TestKeepAliveObservedOnBothBuses(t *testing.T) {
	nomPeer := newTestPeer(t, "disp-keepalive-nominal")
	redPeer := newTestPeer(t, "disp-keepalive-redundant")
	_, rec := newTestEngine(t, 0x10, "disp-keepalive-nominal", "disp-keepalive-redundant")

	nomPeer.send(NewUnsolicitedFrame(KeepAliveAddress, 0x20, 0, nil))
	ev := rec.waitForKind(t, EventKeepAliveReceivedNominal)
	assert.Equal(t, byte(0x20), ev.Address)

	redPeer.send(NewUnsolicitedFrame(KeepAliveAddress, 0x30, 0, nil))
	ev2 := rec.waitForKind(t, EventKeepAliveReceivedRedundant)
	assert.Equal(t, byte(0x30), ev2.Address)
}

func TestCanBusSwitchAbandonsInFlightTransfersSilently(t *testing.T) {
	peer := newTestPeer(t, "disp-switch-nominal")
	engine, rec := newTestEngine(t, 0x10, "disp-switch-nominal", "disp-switch-redundant")

	require.NoError(t, engine.SendTC(0x20, 0, []byte{1}, 3))
	_, ok := peer.nextDecoded()
	require.True(t, ok)

	assert.Equal(t, Nominal, engine.GetActiveBus())
	engine.CanBusSwitch()
	assert.Equal(t, Redundant, engine.GetActiveBus())

	// A late ACK for the abandoned transfer arrives on the now-redundant
	// bus and must not complete anything.
	peer.send(NewTelecommandFrame(0x10, 0x20, TCAck, 0, nil))
	for _, ev := range rec.snapshot() {
		assert.NotEqual(t, EventSendTCCompleted, ev.Kind)
	}

	// A fresh send now goes out on the redundant bus instead.
	redPeer := newTestPeer(t, "disp-switch-redundant")
	require.NoError(t, engine.SendTC(0x20, 1, []byte{2}, 3))
	f, ok := redPeer.nextDecoded()
	require.True(t, ok)
	assert.Equal(t, Telecommand, f.TransferType)
}
