package vcmon

import "sync/atomic"

type ConnectionState int32

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	// Degraded means the port is open but the device missed at least one
	// expected response.
	Degraded
)

func (s ConnectionState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Degraded:
		return "degraded"
	default:
		return "disconnected"
	}
}

// IsOpen reports whether the port is open, regardless of device health.
func (s ConnectionState) IsOpen() bool {
	return s == Connected || s == Degraded
}

type linkState struct {
	v atomic.Int32
}

func (l *linkState) State() ConnectionState {
	return ConnectionState(l.v.Load())
}

func (l *linkState) set(s ConnectionState) {
	l.v.Store(int32(s))
}

// MarkResponse moves Connected to Degraded when an expected response was
// missed and back to Connected once the device answers again.
func (l *linkState) MarkResponse(received bool) {
	if received {
		l.v.CompareAndSwap(int32(Degraded), int32(Connected))
	} else {
		l.v.CompareAndSwap(int32(Connected), int32(Degraded))
	}
}
