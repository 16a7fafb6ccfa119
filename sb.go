package cants

import (
	"log/slog"
	"time"
)

var sbLog = slog.Default().With("service", "[SB]")

type sbTxState int

const (
	sbTxIdle sbTxState = iota
	sbTxSendingRequest
	sbTxSendingData
	sbTxWaitingForSendStatusRequest
	sbTxSendingStatusRequest
	sbTxSendingAbort
)

type sbRxState int

const (
	sbRxIdle sbRxState = iota
	sbRxWaitingForRequestAck
	sbRxWaitingForData
	sbRxWaitingForAbortAck
)

// sbTransfer tracks one in-flight outbound block push, keyed in
// registries.sb by address: at most one SB per remote address.
type sbTransfer struct {
	address byte
	start   []byte
	data    []byte
	blocks  byte
	bitmap  Bitmap

	// success records which cause is driving the closing ABORT handshake,
	// decided once (on entering SendingAbort) and read when the ABORT's
	// ACK/NACK or its own retry exhaustion finally resolves the transfer.
	success bool

	retryCount       byte
	maxRetries       byte
	reportRetryCount byte
	maxReportRetries byte
	reportDelayMs    uint32

	txState sbTxState
	rxState sbRxState

	watchdog    watchdog
	reportDelay watchdog
}

// SendBlock pushes data to the memory region at startAddress on the remote
// node. data must be 1 to 512 bytes. At most one send-block transfer may
// be in flight per remote address at a time.
func (e *Engine) SendBlock(address byte, startAddress uint64, data []byte, maxRetries byte, reportDelayMs uint32, maxReportRetries byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return ErrEngineNotRunning
	}
	if IsBroadcastAddress(address) {
		return ErrBroadcastAddress
	}
	if len(data) == 0 {
		return ErrEmptyPayload
	}
	if len(data) > 512 {
		return ErrPayloadTooLarge
	}
	if _, exists := e.registries.sb[address]; exists {
		return ErrDuplicateTransfer
	}

	start := encodeStartAddress(startAddress)
	blocks := byte((len(data) + 7) / 8)

	t := &sbTransfer{
		address:          address,
		start:            start,
		data:             data,
		blocks:           blocks,
		bitmap:           NewBitmap(int(blocks)),
		maxRetries:       maxRetries,
		reportDelayMs:    reportDelayMs,
		maxReportRetries: maxReportRetries,
		txState:          sbTxSendingRequest,
		rxState:          sbRxIdle,
	}
	e.registries.sb[address] = t

	if err := e.sendFrame(NewSetBlockFrame(address, e.address, SBRequest, false, 0, start)); err != nil {
		delete(e.registries.sb, address)
		e.emit(Event{Kind: EventSendBlockFailed, Address: address, SBError: SBSendRequestFailed})
		return err
	}
	return nil
}

func (e *Engine) armSBWatchdog(t *sbTransfer) {
	t.watchdog.arm(time.Duration(e.timeoutMs)*time.Millisecond, func() { e.sbWatchdogFired(t.address) })
}

func (e *Engine) sbTerminate(t *sbTransfer, kind SBErrorKind) {
	delete(e.registries.sb, t.address)
	t.watchdog.stop()
	t.reportDelay.stop()
	e.emit(Event{Kind: EventSendBlockFailed, Address: t.address, SBError: kind})
}

func (e *Engine) sbComplete(t *sbTransfer) {
	delete(e.registries.sb, t.address)
	t.watchdog.stop()
	t.reportDelay.stop()
	e.emit(Event{Kind: EventSendBlockCompleted, Address: t.address})
}

// sbBeginAbort starts the closing handshake. success records which of the
// two causes of ABORT (§4.6's "dual cause") this transfer is resolving.
func (e *Engine) sbBeginAbort(t *sbTransfer, success bool) {
	t.success = success
	t.rxState = sbRxIdle
	t.txState = sbTxSendingAbort
	if err := e.sendFrame(NewSetBlockFrame(t.address, e.address, SBAbort, false, 0, nil)); err != nil {
		e.sbTerminate(t, SBSendAbortFailed)
	}
}

func (e *Engine) sbRetryRequest(t *sbTransfer) {
	t.watchdog.stop()
	t.rxState = sbRxIdle
	t.retryCount++
	if t.retryCount > t.maxRetries {
		e.sbTerminate(t, SBMaxSendRequestRetriesReached)
		return
	}
	t.txState = sbTxSendingRequest
	if err := e.sendFrame(NewSetBlockFrame(t.address, e.address, SBRequest, false, 0, t.start)); err != nil {
		e.sbTerminate(t, SBSendRequestFailed)
	}
}

func (e *Engine) sbRetryStatus(t *sbTransfer) {
	t.watchdog.stop()
	t.rxState = sbRxIdle
	t.retryCount++
	if t.retryCount > t.maxRetries {
		e.sbTerminate(t, SBMaxSendStatusRetriesReached)
		return
	}
	t.txState = sbTxSendingStatusRequest
	if err := e.sendFrame(NewSetBlockFrame(t.address, e.address, SBStatus, false, 0, nil)); err != nil {
		e.sbTerminate(t, SBSendStatusRequestFailed)
	}
}

func (e *Engine) sbRetryAbort(t *sbTransfer) {
	t.watchdog.stop()
	t.rxState = sbRxIdle
	t.retryCount++
	if t.retryCount > t.maxRetries {
		if t.success {
			e.sbTerminate(t, SBMaxSendAbortRetriesReached)
		} else {
			e.sbTerminate(t, SBMaxReportRetriesReached)
		}
		return
	}
	t.txState = sbTxSendingAbort
	if err := e.sendFrame(NewSetBlockFrame(t.address, e.address, SBAbort, false, 0, nil)); err != nil {
		e.sbTerminate(t, SBSendAbortFailed)
	}
}

func (e *Engine) sbWatchdogFired(address byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.registries.sb[address]
	if !ok {
		return
	}
	switch t.rxState {
	case sbRxWaitingForRequestAck:
		e.sbRetryRequest(t)
	case sbRxWaitingForData:
		e.sbRetryStatus(t)
	case sbRxWaitingForAbortAck:
		e.sbRetryAbort(t)
	}
}

func (e *Engine) sbFrameSent(f Frame) {
	t, ok := e.registries.sb[f.ToAddress]
	if !ok {
		return
	}
	ft, _, seq := unpackBlockCommand(f.Command)
	switch t.txState {
	case sbTxSendingRequest:
		if SBFrameType(ft) != SBRequest {
			return
		}
		t.txState = sbTxIdle
		t.rxState = sbRxWaitingForRequestAck
		e.armSBWatchdog(t)
	case sbTxSendingData:
		if SBFrameType(ft) != SBTransfer {
			return
		}
		t.bitmap.SetBit(int(seq))
		if next, ok := firstClearSeq(t.bitmap, t.blocks); ok {
			if err := e.sendFrame(NewSetBlockFrame(t.address, e.address, SBTransfer, false, next, dataChunk(t.data, next))); err != nil {
				e.sbTerminate(t, SBSendDataFailed)
			}
			return
		}
		t.txState = sbTxWaitingForSendStatusRequest
		t.reportDelay.arm(time.Duration(t.reportDelayMs)*time.Millisecond, func() { e.sbReportDelayFired(t.address) })
	case sbTxSendingStatusRequest:
		if SBFrameType(ft) != SBStatus {
			return
		}
		t.txState = sbTxIdle
		t.rxState = sbRxWaitingForData
		e.armSBWatchdog(t)
	case sbTxSendingAbort:
		if SBFrameType(ft) != SBAbort {
			return
		}
		t.rxState = sbRxWaitingForAbortAck
		e.armSBWatchdog(t)
	}
}

func (e *Engine) sbSendError(f Frame) {
	t, ok := e.registries.sb[f.ToAddress]
	if !ok {
		return
	}
	switch t.txState {
	case sbTxSendingRequest:
		e.sbTerminate(t, SBSendRequestFailed)
	case sbTxSendingData:
		e.sbTerminate(t, SBSendDataFailed)
	case sbTxSendingStatusRequest:
		e.sbTerminate(t, SBSendStatusRequestFailed)
	case sbTxSendingAbort:
		e.sbTerminate(t, SBSendAbortFailed)
	}
}

func (e *Engine) sbReportDelayFired(address byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.registries.sb[address]
	if !ok || t.txState != sbTxWaitingForSendStatusRequest {
		return
	}
	t.txState = sbTxSendingStatusRequest
	if err := e.sendFrame(NewSetBlockFrame(t.address, e.address, SBStatus, false, 0, nil)); err != nil {
		e.sbTerminate(t, SBSendStatusRequestFailed)
	}
}

func (e *Engine) sbInbound(f Frame) {
	t, ok := e.registries.sb[f.FromAddress]
	if !ok {
		return
	}
	ft, done, seq := unpackBlockCommand(f.Command)

	switch t.rxState {
	case sbRxWaitingForRequestAck:
		switch SBFrameType(ft) {
		case SBAck:
			if int(seq)+1 != int(t.blocks) || !bytesEqual(f.Data, t.start) {
				return
			}
			t.watchdog.stop()
			t.retryCount = 0
			t.rxState = sbRxIdle
			t.txState = sbTxSendingData
			if err := e.sendFrame(NewSetBlockFrame(t.address, e.address, SBTransfer, false, 0, dataChunk(t.data, 0))); err != nil {
				e.sbTerminate(t, SBSendDataFailed)
			}
		case SBNack:
			e.sbRetryRequest(t)
		}
	case sbRxWaitingForData:
		switch SBFrameType(ft) {
		case SBReport:
			reported := Bitmap(append([]byte(nil), f.Data...))
			if !IsBitmapValid(reported, int(t.blocks)) {
				return
			}
			t.watchdog.stop()
			t.retryCount = 0
			t.rxState = sbRxIdle
			switch {
			case done && reported.AllSet(int(t.blocks)):
				e.sbBeginAbort(t, true)
			case t.reportRetryCount > t.maxReportRetries:
				e.sbBeginAbort(t, false)
			case reported.AllSet(int(t.blocks)):
				t.reportRetryCount++
				t.txState = sbTxWaitingForSendStatusRequest
				t.reportDelay.arm(time.Duration(t.reportDelayMs)*time.Millisecond, func() { e.sbReportDelayFired(t.address) })
			default:
				t.reportRetryCount++
				t.bitmap = reported
				t.txState = sbTxSendingData
				next, ok := firstClearSeq(t.bitmap, t.blocks)
				if !ok {
					// Nothing actually missing despite not being all-set;
					// logged as malformed and left waiting for a fresh report.
					sbLog.Debug("report bitmap not all-set but no clear bit found", "address", t.address, "blocks", t.blocks)
					t.txState = sbTxIdle
					t.rxState = sbRxWaitingForData
					e.armSBWatchdog(t)
					return
				}
				if err := e.sendFrame(NewSetBlockFrame(t.address, e.address, SBTransfer, false, next, dataChunk(t.data, next))); err != nil {
					e.sbTerminate(t, SBSendDataFailed)
				}
			}
		case SBNack:
			t.watchdog.stop()
			t.rxState = sbRxIdle
			e.sbRetryStatus(t)
		}
	case sbRxWaitingForAbortAck:
		switch SBFrameType(ft) {
		case SBAck:
			if seq != 0 || len(f.Data) != 0 {
				return
			}
			t.watchdog.stop()
			if t.success {
				e.sbComplete(t)
			} else {
				e.sbTerminate(t, SBMaxReportRetriesReached)
			}
		case SBNack:
			t.watchdog.stop()
			if t.success {
				e.sbTerminate(t, SBAbortNACKReceived)
			} else {
				e.sbTerminate(t, SBMaxReportRetriesReached)
			}
		}
	}
}
