package vcmon

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected    = errors.New("vcmon: not connected")
	ErrNegativeReading = errors.New("vcmon: negative reading")
)

type TransportErrorKind int

const (
	PortUnavailable TransportErrorKind = iota
	IoFailure
	Timeout
)

func (k TransportErrorKind) String() string {
	switch k {
	case PortUnavailable:
		return "port unavailable"
	case IoFailure:
		return "io failure"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

type TransportError struct {
	Kind TransportErrorKind
	Port string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("vcmon: %s (%s)", e.Kind, e.Port)
	}
	return fmt.Sprintf("vcmon: %s (%s): %v", e.Kind, e.Port, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

type ProtocolErrorKind int

const (
	Malformed ProtocolErrorKind = iota
	Incomplete
)

func (k ProtocolErrorKind) String() string {
	if k == Incomplete {
		return "incomplete"
	}
	return "malformed"
}

type ProtocolError struct {
	Kind    ProtocolErrorKind
	Command string
	Missing []string
	Err     error
}

func (e *ProtocolError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("vcmon: %s response to %s, missing %v", e.Kind, e.Command, e.Missing)
	}
	if e.Err != nil {
		return fmt.Sprintf("vcmon: %s response to %s: %v", e.Kind, e.Command, e.Err)
	}
	return fmt.Sprintf("vcmon: %s response to %s", e.Kind, e.Command)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err comes from the link rather than from
// the content of a response.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.Is(err, ErrNotConnected) || errors.As(err, &te)
}
