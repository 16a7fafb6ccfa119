package cants

// SendTimeSync broadcasts a time-sync frame carrying data (typically an
// encoded timestamp). TIME_SYNC has no ACK/retry semantics: completion
// means the frame was confirmed sent on the wire, not that any particular
// node acted on it. At most one time-sync send may be outstanding at a
// time.
func (e *Engine) SendTimeSync(data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return ErrEngineNotRunning
	}
	if e.pendingTimeSync {
		return ErrDuplicateTransfer
	}
	if len(data) > 8 {
		return ErrPayloadTooLarge
	}

	e.pendingTimeSync = true
	if err := e.sendFrame(NewTimeSyncFrame(e.address, data)); err != nil {
		e.pendingTimeSync = false
		e.emit(Event{Kind: EventSendTimeSyncFailed})
		return nil
	}
	return nil
}

func (e *Engine) timeSyncFrameSent(f Frame) {
	if !e.pendingTimeSync {
		return
	}
	e.pendingTimeSync = false
	e.emit(Event{Kind: EventSendTimeSyncCompleted, Data: f.Data})
}

func (e *Engine) timeSyncSendError(f Frame) {
	if !e.pendingTimeSync {
		return
	}
	e.pendingTimeSync = false
	e.emit(Event{Kind: EventSendTimeSyncFailed})
}

// SendUnsolicited sends a one-shot UNSOLICITED frame to address on
// channel, with no expectation of a response. At most one unsolicited
// send may be outstanding per (address, channel) pair at a time.
func (e *Engine) SendUnsolicited(address, channel byte, data []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return ErrEngineNotRunning
	}
	if IsBroadcastAddress(address) {
		return ErrBroadcastAddress
	}
	if len(data) > 8 {
		return ErrPayloadTooLarge
	}
	key := addrChannel{Address: address, Channel: channel}
	if e.pendingUnsolicited[key] {
		return ErrDuplicateTransfer
	}

	e.pendingUnsolicited[key] = true
	if err := e.sendFrame(NewUnsolicitedFrame(address, e.address, channel, data)); err != nil {
		delete(e.pendingUnsolicited, key)
		e.emit(Event{Kind: EventSendUnsolicitedFailed, Address: address, Channel: channel})
		return nil
	}
	return nil
}

func (e *Engine) unsolicitedFrameSent(f Frame) {
	channel := unpackUnsolicitedCommand(f.Command)
	key := addrChannel{Address: f.ToAddress, Channel: channel}
	if !e.pendingUnsolicited[key] {
		return
	}
	delete(e.pendingUnsolicited, key)
	e.emit(Event{Kind: EventSendUnsolicitedCompleted, Address: f.ToAddress, Channel: channel, Data: f.Data})
}

func (e *Engine) unsolicitedSendError(f Frame) {
	channel := unpackUnsolicitedCommand(f.Command)
	key := addrChannel{Address: f.ToAddress, Channel: channel}
	if !e.pendingUnsolicited[key] {
		return
	}
	delete(e.pendingUnsolicited, key)
	e.emit(Event{Kind: EventSendUnsolicitedFailed, Address: f.ToAddress, Channel: channel})
}
