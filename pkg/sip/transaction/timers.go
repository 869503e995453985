package transaction

import "time"

// Timers holds the RFC 3261 base intervals. Every other timer is derived
// from them.
type Timers struct {
	T1 time.Duration // RTT estimate
	T2 time.Duration // retransmit interval ceiling
	T4 time.Duration // maximum time a message stays in the network
	D  time.Duration // client INVITE response absorption on unreliable transports
}

// DefaultTimers returns the RFC 3261 defaults.
func DefaultTimers() Timers {
	return Timers{
		T1: 500 * time.Millisecond,
		T2: 4 * time.Second,
		T4: 5 * time.Second,
		D:  32 * time.Second,
	}
}

// Timeout is the B/F/H/L/M value, 64*T1.
func (t Timers) Timeout() time.Duration { return 64 * t.T1 }

// WaitD is timer D for the given transport kind.
func (t Timers) WaitD(reliable bool) time.Duration {
	if reliable {
		return 0
	}
	return t.D
}

// WaitIK is timer I (server INVITE) and K (client non-INVITE).
func (t Timers) WaitIK(reliable bool) time.Duration {
	if reliable {
		return 0
	}
	return t.T4
}

// WaitJ is timer J for the given transport kind.
func (t Timers) WaitJ(reliable bool) time.Duration {
	if reliable {
		return 0
	}
	return t.Timeout()
}

// NextInterval doubles current, capped at T2.
func (t Timers) NextInterval(current time.Duration) time.Duration {
	next := current * 2
	if next > t.T2 {
		return t.T2
	}
	return next
}

func (t Timers) withDefaults() Timers {
	d := DefaultTimers()
	if t.T1 <= 0 {
		t.T1 = d.T1
	}
	if t.T2 <= 0 {
		t.T2 = d.T2
	}
	if t.T4 <= 0 {
		t.T4 = d.T4
	}
	if t.D <= 0 {
		t.D = d.D
	}
	return t
}
