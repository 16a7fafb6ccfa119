package cants

import (
	"log/slog"
	"time"
)

var tcLog = slog.Default().With("service", "[TC]")

type tcState int

const (
	tcStateSendingRequest tcState = iota
	tcStateWaitingAck
)

// tcTransfer tracks one in-flight outbound telecommand, keyed in
// registries.tc by (address, channel).
type tcTransfer struct {
	address    byte
	channel    byte
	data       []byte
	retryCount byte
	maxRetries byte
	state      tcState
	watchdog   watchdog
}

// SendTC initiates a telecommand transfer to address on channel. data must
// be 1 to 8 bytes. At most one telecommand may be in flight per
// (address, channel) pair at a time. Completion (ACK) or failure (NACK or
// timeout repeated past maxRetries) is reported asynchronously via the
// registered EventHandler as EventSendTCCompleted or EventSendTCFailed.
func (e *Engine) SendTC(address, channel byte, data []byte, maxRetries byte) error {
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
	if len(data) > 8 {
		return ErrPayloadTooLarge
	}
	key := addrChannel{Address: address, Channel: channel}
	if _, exists := e.registries.tc[key]; exists {
		return ErrDuplicateTransfer
	}

	t := &tcTransfer{address: address, channel: channel, data: data, maxRetries: maxRetries, state: tcStateSendingRequest}
	e.registries.tc[key] = t

	if err := e.sendFrame(NewTelecommandFrame(address, e.address, TCRequest, channel, data)); err != nil {
		delete(e.registries.tc, key)
		e.emit(Event{Kind: EventSendTCFailed, Address: address, Channel: channel, TCError: TCSendRequestFailed})
		return err
	}
	return nil
}

func (e *Engine) tcFrameSent(f Frame) {
	ft, channel := unpackChannelCommand(f.Command)
	key := addrChannel{Address: f.ToAddress, Channel: channel}
	t, ok := e.registries.tc[key]
	if !ok || t.state != tcStateSendingRequest || TCFrameType(ft) != TCRequest {
		return
	}
	t.state = tcStateWaitingAck
	t.watchdog.arm(time.Duration(e.timeoutMs)*time.Millisecond, func() { e.tcWatchdogFired(key) })
}

// tcSendError handles an asynchronous send failure for the request frame.
// Unlike a NACK or watchdog timeout, a link-level send failure is terminal:
// it did not reach the wire at all, so there is nothing to retry against.
func (e *Engine) tcSendError(f Frame) {
	_, channel := unpackChannelCommand(f.Command)
	key := addrChannel{Address: f.ToAddress, Channel: channel}
	t, ok := e.registries.tc[key]
	if !ok || t.state != tcStateSendingRequest {
		return
	}
	delete(e.registries.tc, key)
	e.emit(Event{Kind: EventSendTCFailed, Address: t.address, Channel: t.channel, TCError: TCSendRequestFailed})
}

func (e *Engine) tcWatchdogFired(key addrChannel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.registries.tc[key]
	if !ok || t.state != tcStateWaitingAck {
		return
	}
	e.tcRetryOrFail(key, t)
}

func (e *Engine) tcInbound(f Frame) {
	ft, channel := unpackChannelCommand(f.Command)
	key := addrChannel{Address: f.FromAddress, Channel: channel}
	t, ok := e.registries.tc[key]
	if !ok || t.state != tcStateWaitingAck {
		return
	}
	t.watchdog.stop()
	switch TCFrameType(ft) {
	case TCAck:
		delete(e.registries.tc, key)
		e.emit(Event{Kind: EventSendTCCompleted, Address: f.FromAddress, Channel: channel})
	case TCNack:
		e.tcRetryOrFail(key, t)
	default:
		// Unexpected frame type while waiting for an ACK/NACK: ignore and
		// keep waiting for the watchdog or a valid response.
		tcLog.Debug("ignoring unexpected frame while waiting for ACK", "address", f.FromAddress, "channel", channel, "frame_type", ft)
		t.watchdog.arm(time.Duration(e.timeoutMs)*time.Millisecond, func() { e.tcWatchdogFired(key) })
	}
}

// tcRetryOrFail re-sends the request if retries remain (retryCount may
// exceed maxRetries by one, permitting maxRetries+1 total attempts) or
// fails the transfer.
func (e *Engine) tcRetryOrFail(key addrChannel, t *tcTransfer) {
	t.retryCount++
	if t.retryCount > t.maxRetries {
		delete(e.registries.tc, key)
		e.emit(Event{Kind: EventSendTCFailed, Address: t.address, Channel: t.channel, TCError: TCMaxRetriesReached})
		return
	}
	t.state = tcStateSendingRequest
	if err := e.sendFrame(NewTelecommandFrame(t.address, e.address, TCRequest, t.channel, t.data)); err != nil {
		delete(e.registries.tc, key)
		e.emit(Event{Kind: EventSendTCFailed, Address: t.address, Channel: t.channel, TCError: TCSendRequestFailed})
	}
}
