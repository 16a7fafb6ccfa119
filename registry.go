package cants

// addrChannel is the registry key for TC/TM transfers: at most one
// in-flight transfer per (remote address, channel) pair.
type addrChannel struct {
	Address byte
	Channel byte
}

// registries holds the engine's four independent transfer tables. All
// access is serialized by Engine.mu, per §5.
type registries struct {
	tc map[addrChannel]*tcTransfer
	tm map[addrChannel]*tmTransfer
	sb map[byte]*sbTransfer
	gb map[byte]*gbTransfer
}

func newRegistries() registries {
	return registries{
		tc: make(map[addrChannel]*tcTransfer),
		tm: make(map[addrChannel]*tmTransfer),
		sb: make(map[byte]*sbTransfer),
		gb: make(map[byte]*gbTransfer),
	}
}

// clear empties every registry without emitting any event, used by Stop
// and CanBusSwitch to abandon in-flight transfers silently. Watchdogs are
// stopped so they cannot fire against a transfer no longer referenced by
// the registry.
func (r *registries) clear() {
	for _, t := range r.tc {
		t.watchdog.stop()
	}
	for _, t := range r.tm {
		t.watchdog.stop()
	}
	for _, t := range r.sb {
		t.watchdog.stop()
		t.reportDelay.stop()
	}
	for _, t := range r.gb {
		t.watchdog.stop()
	}
	r.tc = make(map[addrChannel]*tcTransfer)
	r.tm = make(map[addrChannel]*tmTransfer)
	r.sb = make(map[byte]*sbTransfer)
	r.gb = make(map[byte]*gbTransfer)
}
