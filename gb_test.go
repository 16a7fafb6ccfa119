package cants

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReceiveBlockHappyPathTwoBlocks(t *testing.T) {
	peer := newTestPeer(t, "gb-happy-nominal")
	engine, rec := newTestEngine(t, 0x10, "gb-happy-nominal", "gb-happy-redundant")

	require.NoError(t, engine.ReceiveBlock(0x20, 0x05, 2, 3, 3))

	start := encodeStartAddress(0x05)
	assert.Equal(t, []byte{0x05}, start)

	req, ok := peer.nextDecoded()
	require.True(t, ok)
	ft, _, _ := unpackBlockCommand(req.Command)
	assert.Equal(t, byte(GBRequest), ft)
	assert.Equal(t, start, req.Data)

	peer.send(NewGetBlockFrame(0x10, 0x20, GBAck, 1, start))

	startFrame, ok := peer.nextDecoded()
	require.True(t, ok)
	ftStart, _, _ := unpackBlockCommand(startFrame.Command)
	assert.Equal(t, byte(GBStart), ftStart)
	full := NewBitmap(2)
	full.SetFirstN(2)
	assert.Equal(t, []byte(full), startFrame.Data)

	block0 := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	peer.send(NewGetBlockFrame(0x10, 0x20, GBTransfer, 0, block0))
	block1 := []byte{9, 10, 11, 12, 13, 14, 15, 16}
	peer.send(NewGetBlockFrame(0x10, 0x20, GBTransfer, 1, block1))

	abort, ok := peer.nextDecoded()
	require.True(t, ok)
	ftAbort, _, _ := unpackBlockCommand(abort.Command)
	assert.Equal(t, byte(GBAbort), ftAbort)
	peer.send(NewGetBlockFrame(0x10, 0x20, GBAck, 0, nil))

	ev := rec.waitForKind(t, EventReceiveBlockCompleted)
	assert.Equal(t, byte(0x20), ev.Address)
	assert.Equal(t, append(append([]byte{}, block0...), block1...), ev.Data)
}

func TestReceiveBlockRetriesRequestOnWatchdog(t *testing.T) {
	peer := newTestPeer(t, "gb-watchdog-nominal")
	engine, rec := newTestEngine(t, 0x10, "gb-watchdog-nominal", "gb-watchdog-redundant")

	require.NoError(t, engine.ReceiveBlock(0x20, 0x01, 1, 1, 3))
	start := encodeStartAddress(0x01)

	_, ok := peer.nextDecoded() // first request, never answered
	require.True(t, ok)

	retry, ok := peer.nextDecoded() // retried request after watchdog fires
	require.True(t, ok)
	ft, _, _ := unpackBlockCommand(retry.Command)
	assert.Equal(t, byte(GBRequest), ft)

	peer.send(NewGetBlockFrame(0x10, 0x20, GBAck, 0, start))
	startFrame, ok := peer.nextDecoded()
	require.True(t, ok)
	ftStart, _, _ := unpackBlockCommand(startFrame.Command)
	assert.Equal(t, byte(GBStart), ftStart)

	block := make([]byte, 8)
	peer.send(NewGetBlockFrame(0x10, 0x20, GBTransfer, 0, block))
	abort, ok := peer.nextDecoded()
	require.True(t, ok)
	ftAbort, _, _ := unpackBlockCommand(abort.Command)
	assert.Equal(t, byte(GBAbort), ftAbort)
	peer.send(NewGetBlockFrame(0x10, 0x20, GBAck, 0, nil))

	rec.waitForKind(t, EventReceiveBlockCompleted)
}

func TestReceiveBlockAbortsAfterMaxStartRetries(t *testing.T) {
	peer := newTestPeer(t, "gb-startcap-nominal")
	engine, rec := newTestEngine(t, 0x10, "gb-startcap-nominal", "gb-startcap-redundant")

	require.NoError(t, engine.ReceiveBlock(0x20, 0x01, 1, 3, 0))
	start := encodeStartAddress(0x01)

	req, ok := peer.nextDecoded()
	require.True(t, ok)
	ft, _, _ := unpackBlockCommand(req.Command)
	assert.Equal(t, byte(GBRequest), ft)

	peer.send(NewGetBlockFrame(0x10, 0x20, GBAck, 0, start))

	startFrame, ok := peer.nextDecoded()
	require.True(t, ok)
	ftStart, _, _ := unpackBlockCommand(startFrame.Command)
	assert.Equal(t, byte(GBStart), ftStart)

	// NACK the START: with maxStartRetries=0, the single NACK already
	// exceeds the cap, so the fetch aborts instead of resending START.
	peer.send(NewGetBlockFrame(0x10, 0x20, GBNack, 0, nil))

	abort, ok := peer.nextDecoded()
	require.True(t, ok)
	ftAbort, _, _ := unpackBlockCommand(abort.Command)
	assert.Equal(t, byte(GBAbort), ftAbort)
	peer.send(NewGetBlockFrame(0x10, 0x20, GBAck, 0, nil))

	ev := rec.waitForKind(t, EventReceiveBlockFailed)
	assert.Equal(t, GBMaxSendStartRetriesReached, ev.GBError)
}

func TestReceiveBlockRejectsOutOfRangeBlocks(t *testing.T) {
	newTestPeer(t, "gb-validate-nominal")
	engine, _ := newTestEngine(t, 0x10, "gb-validate-nominal", "gb-validate-redundant")

	assert.ErrorIs(t, engine.ReceiveBlock(0x20, 0, 0, 3, 3), ErrInvalidLength)
	assert.ErrorIs(t, engine.ReceiveBlock(0x20, 0, 65, 3, 3), ErrInvalidLength)
}

func TestReceiveBlockRejectsDuplicateInFlight(t *testing.T) {
	newTestPeer(t, "gb-dup-nominal")
	engine, _ := newTestEngine(t, 0x10, "gb-dup-nominal", "gb-dup-redundant")

	assert.NoError(t, engine.ReceiveBlock(0x20, 0, 1, 3, 3))
	assert.ErrorIs(t, engine.ReceiveBlock(0x20, 0, 1, 3, 3), ErrDuplicateTransfer)
}
