package cants

import (
	"log/slog"
	"time"
)

var gbLog = slog.Default().With("service", "[GB]")

type gbTxState int

const (
	gbTxIdle gbTxState = iota
	gbTxSendingRequest
	gbTxSendingStart
	gbTxSendingAbort
)

type gbRxState int

const (
	gbRxIdle gbRxState = iota
	gbRxWaitingForRequestAck
	gbRxWaitingForData
	gbRxWaitingForAbortAck
)

// gbTransfer tracks one in-flight inbound block fetch, keyed in
// registries.gb by address: at most one GB per remote address. bitmap
// starts all-set ("every block still outstanding") and blocks are cleared
// off as their TRANSFER frame arrives.
type gbTransfer struct {
	address byte
	start   []byte
	blocks  byte
	bitmap  Bitmap
	data    []byte

	retryCount      byte
	maxRetries      byte
	startRetryCount byte
	maxStartRetries byte

	txState gbTxState
	rxState gbRxState

	watchdog watchdog
}

// ReceiveBlock fetches blocks 8-byte blocks from the memory region at
// startAddress on the remote node. blocks must be 1 to 64. At most one
// get-block transfer may be in flight per remote address at a time.
func (e *Engine) ReceiveBlock(address byte, startAddress uint64, blocks byte, maxRetries, maxStartRetries byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return ErrEngineNotRunning
	}
	if IsBroadcastAddress(address) {
		return ErrBroadcastAddress
	}
	if blocks < 1 || blocks > 64 {
		return ErrInvalidLength
	}
	if _, exists := e.registries.gb[address]; exists {
		return ErrDuplicateTransfer
	}

	start := encodeStartAddress(startAddress)
	bitmap := NewBitmap(int(blocks))
	bitmap.SetFirstN(int(blocks))

	t := &gbTransfer{
		address:         address,
		start:           start,
		blocks:          blocks,
		bitmap:          bitmap,
		data:            make([]byte, int(blocks)*8),
		maxRetries:      maxRetries,
		maxStartRetries: maxStartRetries,
		txState:         gbTxSendingRequest,
		rxState:         gbRxIdle,
	}
	e.registries.gb[address] = t

	if err := e.sendFrame(NewGetBlockFrame(address, e.address, GBRequest, 0, start)); err != nil {
		delete(e.registries.gb, address)
		e.emit(Event{Kind: EventReceiveBlockFailed, Address: address, GBError: GBSendRequestFailed})
		return err
	}
	return nil
}

func (e *Engine) armGBWatchdog(t *gbTransfer) {
	t.watchdog.arm(time.Duration(e.timeoutMs)*time.Millisecond, func() { e.gbWatchdogFired(t.address) })
}

func (e *Engine) gbTerminate(t *gbTransfer, kind GBErrorKind) {
	delete(e.registries.gb, t.address)
	t.watchdog.stop()
	e.emit(Event{Kind: EventReceiveBlockFailed, Address: t.address, GBError: kind})
}

func (e *Engine) gbComplete(t *gbTransfer) {
	delete(e.registries.gb, t.address)
	t.watchdog.stop()
	e.emit(Event{Kind: EventReceiveBlockCompleted, Address: t.address, Data: t.data})
}

func (e *Engine) gbBeginAbort(t *gbTransfer) {
	t.rxState = gbRxIdle
	t.txState = gbTxSendingAbort
	if err := e.sendFrame(NewGetBlockFrame(t.address, e.address, GBAbort, 0, nil)); err != nil {
		e.gbTerminate(t, GBSendAbortFailed)
	}
}

func (e *Engine) gbRetryRequest(t *gbTransfer) {
	t.watchdog.stop()
	t.rxState = gbRxIdle
	t.retryCount++
	if t.retryCount > t.maxRetries {
		e.gbTerminate(t, GBMaxSendRequestRetriesReached)
		return
	}
	t.txState = gbTxSendingRequest
	if err := e.sendFrame(NewGetBlockFrame(t.address, e.address, GBRequest, 0, t.start)); err != nil {
		e.gbTerminate(t, GBSendRequestFailed)
	}
}

// gbRetryStart resends START, preserving whatever blocks have already
// been fetched, unless startRetryCount has already exceeded
// maxStartRetries, in which case it begins the closing ABORT instead;
// the final MaxSendStartRetriesReached failure is reported once that
// ABORT is acknowledged.
func (e *Engine) gbRetryStart(t *gbTransfer) {
	t.watchdog.stop()
	t.rxState = gbRxIdle
	if t.startRetryCount > t.maxStartRetries {
		e.gbBeginAbort(t)
		return
	}
	t.txState = gbTxSendingStart
	if err := e.sendFrame(NewGetBlockFrame(t.address, e.address, GBStart, 0, append([]byte(nil), t.bitmap...))); err != nil {
		e.gbTerminate(t, GBSendStartFailed)
	}
}

func (e *Engine) gbRetryAbort(t *gbTransfer) {
	t.watchdog.stop()
	t.rxState = gbRxIdle
	t.retryCount++
	if t.retryCount > t.maxRetries {
		e.gbTerminate(t, GBMaxSendAbortRetriesReached)
		return
	}
	t.txState = gbTxSendingAbort
	if err := e.sendFrame(NewGetBlockFrame(t.address, e.address, GBAbort, 0, nil)); err != nil {
		e.gbTerminate(t, GBSendAbortFailed)
	}
}

func (e *Engine) gbWatchdogFired(address byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.registries.gb[address]
	if !ok {
		return
	}
	switch t.rxState {
	case gbRxWaitingForRequestAck, gbRxWaitingForData:
		e.gbRetryRequest(t)
	case gbRxWaitingForAbortAck:
		e.gbRetryAbort(t)
	}
}

func (e *Engine) gbFrameSent(f Frame) {
	t, ok := e.registries.gb[f.ToAddress]
	if !ok {
		return
	}
	ft, _, _ := unpackBlockCommand(f.Command)
	switch t.txState {
	case gbTxSendingRequest:
		if GBFrameType(ft) != GBRequest {
			return
		}
		t.txState = gbTxIdle
		t.rxState = gbRxWaitingForRequestAck
		e.armGBWatchdog(t)
	case gbTxSendingStart:
		if GBFrameType(ft) != GBStart {
			return
		}
		t.startRetryCount++
		t.txState = gbTxIdle
		t.rxState = gbRxWaitingForData
		e.armGBWatchdog(t)
	case gbTxSendingAbort:
		if GBFrameType(ft) != GBAbort {
			return
		}
		t.rxState = gbRxWaitingForAbortAck
		e.armGBWatchdog(t)
	}
}

func (e *Engine) gbSendError(f Frame) {
	t, ok := e.registries.gb[f.ToAddress]
	if !ok {
		return
	}
	switch t.txState {
	case gbTxSendingRequest:
		e.gbTerminate(t, GBSendRequestFailed)
	case gbTxSendingStart:
		e.gbTerminate(t, GBSendStartFailed)
	case gbTxSendingAbort:
		e.gbTerminate(t, GBSendAbortFailed)
	}
}

func (e *Engine) gbInbound(f Frame) {
	t, ok := e.registries.gb[f.FromAddress]
	if !ok {
		return
	}
	ft, _, seq := unpackBlockCommand(f.Command)

	switch t.rxState {
	case gbRxWaitingForRequestAck:
		switch GBFrameType(ft) {
		case GBAck:
			if int(seq)+1 != int(t.blocks) || !bytesEqual(f.Data, t.start) {
				return
			}
			t.watchdog.stop()
			t.rxState = gbRxIdle
			t.txState = gbTxSendingStart
			if err := e.sendFrame(NewGetBlockFrame(t.address, e.address, GBStart, 0, append([]byte(nil), t.bitmap...))); err != nil {
				e.gbTerminate(t, GBSendStartFailed)
			}
		case GBNack:
			e.gbRetryRequest(t)
		}
	case gbRxWaitingForData:
		switch GBFrameType(ft) {
		case GBTransfer:
			if len(f.Data) != 8 || int(seq) >= int(t.blocks) || !t.bitmap.IsBitSet(int(seq)) {
				gbLog.Debug("ignoring malformed or already-cleared block", "address", t.address, "seq", seq)
				return
			}
			t.watchdog.stop()
			t.retryCount = 0
			t.bitmap.ClearBit(int(seq))
			copy(t.data[int(seq)*8:int(seq)*8+8], f.Data)
			if t.bitmap.AllCleared(int(t.blocks)) {
				e.gbBeginAbort(t)
				return
			}
			e.armGBWatchdog(t)
		case GBNack:
			e.gbRetryStart(t)
		}
	case gbRxWaitingForAbortAck:
		switch GBFrameType(ft) {
		case GBAck:
			if seq != 0 || len(f.Data) != 0 {
				return
			}
			t.watchdog.stop()
			if t.startRetryCount > t.maxStartRetries {
				e.gbTerminate(t, GBMaxSendStartRetriesReached)
				return
			}
			e.gbComplete(t)
		case GBNack:
			t.watchdog.stop()
			e.gbTerminate(t, GBAbortNACKReceived)
		}
	}
}
