package cants

import (
	"log/slog"
	"time"
)

var tmLog = slog.Default().With("service", "[TM]")

type tmState int

const (
	tmStateSendingRequest tmState = iota
	tmStateWaitingAck
)

// tmTransfer tracks one in-flight outbound telemetry request, keyed in
// registries.tm by (address, channel). Unlike a telecommand, the request
// itself carries no payload; the payload travels the other way, on the
// ACK frame.
type tmTransfer struct {
	address    byte
	channel    byte
	retryCount byte
	maxRetries byte
	state      tmState
	watchdog   watchdog
}

// ReceiveTM requests telemetry on channel from address. At most one
// request may be in flight per (address, channel) pair at a time.
// Completion delivers the responder's data via EventReceiveTMCompleted;
// repeated NACKs or timeouts past maxRetries report
// EventReceiveTMFailed.
func (e *Engine) ReceiveTM(address, channel byte, maxRetries byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return ErrEngineNotRunning
	}
	if IsBroadcastAddress(address) {
		return ErrBroadcastAddress
	}
	key := addrChannel{Address: address, Channel: channel}
	if _, exists := e.registries.tm[key]; exists {
		return ErrDuplicateTransfer
	}

	t := &tmTransfer{address: address, channel: channel, maxRetries: maxRetries, state: tmStateSendingRequest}
	e.registries.tm[key] = t

	if err := e.sendFrame(NewTelemetryFrame(address, e.address, TMRequest, channel, nil)); err != nil {
		delete(e.registries.tm, key)
		e.emit(Event{Kind: EventReceiveTMFailed, Address: address, Channel: channel, TMError: TMSendRequestFailed})
		return err
	}
	return nil
}

func (e *Engine) tmFrameSent(f Frame) {
	ft, channel := unpackChannelCommand(f.Command)
	key := addrChannel{Address: f.ToAddress, Channel: channel}
	t, ok := e.registries.tm[key]
	if !ok || t.state != tmStateSendingRequest || TMFrameType(ft) != TMRequest {
		return
	}
	t.state = tmStateWaitingAck
	t.watchdog.arm(time.Duration(e.timeoutMs)*time.Millisecond, func() { e.tmWatchdogFired(key) })
}

// tmSendError mirrors tcSendError: a link-level send failure is terminal,
// not a retry trigger.
func (e *Engine) tmSendError(f Frame) {
	_, channel := unpackChannelCommand(f.Command)
	key := addrChannel{Address: f.ToAddress, Channel: channel}
	t, ok := e.registries.tm[key]
	if !ok || t.state != tmStateSendingRequest {
		return
	}
	delete(e.registries.tm, key)
	e.emit(Event{Kind: EventReceiveTMFailed, Address: t.address, Channel: t.channel, TMError: TMSendRequestFailed})
}

func (e *Engine) tmWatchdogFired(key addrChannel) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.registries.tm[key]
	if !ok || t.state != tmStateWaitingAck {
		return
	}
	e.tmRetryOrFail(key, t)
}

func (e *Engine) tmInbound(f Frame) {
	ft, channel := unpackChannelCommand(f.Command)
	key := addrChannel{Address: f.FromAddress, Channel: channel}
	t, ok := e.registries.tm[key]
	if !ok || t.state != tmStateWaitingAck {
		return
	}
	t.watchdog.stop()
	switch TMFrameType(ft) {
	case TMAck:
		delete(e.registries.tm, key)
		e.emit(Event{Kind: EventReceiveTMCompleted, Address: f.FromAddress, Channel: channel, Data: f.Data})
	case TMNack:
		e.tmRetryOrFail(key, t)
	default:
		tmLog.Debug("ignoring unexpected frame while waiting for ACK", "address", f.FromAddress, "channel", channel, "frame_type", ft)
		t.watchdog.arm(time.Duration(e.timeoutMs)*time.Millisecond, func() { e.tmWatchdogFired(key) })
	}
}

func (e *Engine) tmRetryOrFail(key addrChannel, t *tmTransfer) {
	t.retryCount++
	if t.retryCount > t.maxRetries {
		delete(e.registries.tm, key)
		e.emit(Event{Kind: EventReceiveTMFailed, Address: t.address, Channel: t.channel, TMError: TMMaxRetriesReached})
		return
	}
	t.state = tmStateSendingRequest
	if err := e.sendFrame(NewTelemetryFrame(t.address, e.address, TMRequest, t.channel, nil)); err != nil {
		delete(e.registries.tm, key)
		e.emit(Event{Kind: EventReceiveTMFailed, Address: t.address, Channel: t.channel, TMError: TMSendRequestFailed})
	}
}
