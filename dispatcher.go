package cants

import (
	"github.com/skycants/cants/pkg/link"
)

// busListener adapts one physical bus's asynchronous notifications into
// Engine method calls, tagged with which bus (Nominal or Redundant) it was
// subscribed to. Whether that bus is currently the *active* one is decided
// per-call against Engine.activeBus, so CanBusSwitch needs no listener
// rewiring: the same two listeners simply start classifying traffic
// differently the moment the active bus flips.
type busListener struct {
	engine *Engine
	bus    Bus
}

func (l *busListener) FrameSent(f link.Frame)                            { l.engine.onFrameSent(l.bus, f) }
func (l *busListener) SendError(f link.Frame, reason link.SendErrorReason) { l.engine.onSendError(l.bus, f, reason) }
func (l *busListener) FrameReceived(f link.Frame)                        { l.engine.onFrameReceived(l.bus, f) }

// onFrameSent delivers a transmit confirmation. Per §4.4, send
// confirmations are only meaningful for the currently active bus; a stale
// confirmation arriving from a bus that has since become redundant (a race
// between CanBusSwitch and an in-flight Send) is dropped.
func (e *Engine) onFrameSent(bus Bus, lf link.Frame) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || bus != e.activeBus {
		return
	}
	f, err := Decode(lf)
	if err != nil {
		e.log.WithError(err).Warn("dropping malformed frame on send confirmation")
		return
	}
	switch f.TransferType {
	case Telecommand:
		e.tcFrameSent(f)
	case Telemetry:
		e.tmFrameSent(f)
	case SetBlock:
		e.sbFrameSent(f)
	case GetBlock:
		e.gbFrameSent(f)
	case TimeSync:
		e.timeSyncFrameSent(f)
	case Unsolicited:
		e.unsolicitedFrameSent(f)
	}
}

// onSendError delivers a transmit failure, symmetric to onFrameSent.
func (e *Engine) onSendError(bus Bus, lf link.Frame, reason link.SendErrorReason) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || bus != e.activeBus {
		return
	}
	f, err := Decode(lf)
	if err != nil {
		e.log.WithError(err).Warn("dropping malformed frame on send error")
		return
	}
	switch f.TransferType {
	case Telecommand:
		e.tcSendError(f)
	case Telemetry:
		e.tmSendError(f)
	case SetBlock:
		e.sbSendError(f)
	case GetBlock:
		e.gbSendError(f)
	case TimeSync:
		e.timeSyncSendError(f)
	case Unsolicited:
		e.unsolicitedSendError(f)
	}
}

// onFrameReceived classifies an inbound frame per §4.4: frames from the
// active bus are fully dispatched; frames from the redundant bus only
// surface keep-alive observation.
func (e *Engine) onFrameReceived(bus Bus, lf link.Frame) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	f, err := Decode(lf)
	if err != nil {
		e.log.WithError(err).Debug("dropping malformed frame on receive")
		return
	}
	if bus == e.activeBus {
		e.classifyActive(f)
	} else {
		e.classifyRedundant(f)
	}
}

func (e *Engine) classifyActive(f Frame) {
	switch {
	case f.ToAddress == e.address:
		switch f.TransferType {
		case Telecommand:
			e.tcInbound(f)
		case Telemetry:
			e.tmInbound(f)
		case SetBlock:
			e.sbInbound(f)
		case GetBlock:
			e.gbInbound(f)
		case Unsolicited:
			channel := unpackUnsolicitedCommand(f.Command)
			e.emit(Event{Kind: EventUnsolicitedReceived, Address: f.FromAddress, Channel: channel, Data: f.Data})
		default:
			e.log.WithField("transfer_type", f.TransferType).Debug("ignoring frame addressed to us with unexpected transfer type")
		}
	case f.ToAddress == KeepAliveAddress && f.TransferType == Unsolicited:
		channel := unpackUnsolicitedCommand(f.Command)
		e.emit(Event{Kind: EventKeepAliveReceivedNominal, Address: f.FromAddress, Channel: channel, Data: f.Data})
	case f.ToAddress == TimeSyncAddress && f.TransferType == TimeSync:
		e.emit(Event{Kind: EventTimeSyncReceived, Address: f.FromAddress, Data: f.Data})
	default:
		// Not addressed to us and not a broadcast we care about: ignore.
	}
}

func (e *Engine) classifyRedundant(f Frame) {
	if f.ToAddress == KeepAliveAddress && f.TransferType == Unsolicited {
		channel := unpackUnsolicitedCommand(f.Command)
		e.emit(Event{Kind: EventKeepAliveReceivedRedundant, Address: f.FromAddress, Channel: channel, Data: f.Data})
	}
}
