package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrUnknownRelay   = errors.New("unknown relay channel")
	ErrUnknownCommand = errors.New("unknown command")
	ErrRelayCommand   = errors.New("relay commands must go through the relay endpoint")
)

type PersistenceErrorKind int

const (
	WriteFailed PersistenceErrorKind = iota
	ReadFailed
)

func (k PersistenceErrorKind) String() string {
	if k == ReadFailed {
		return "read failed"
	}
	return "write failed"
}

type PersistenceError struct {
	Kind PersistenceErrorKind
	Op   string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

type ExecErrorKind int

const (
	SendFailed ExecErrorKind = iota
)

type ExecError struct {
	Kind    ExecErrorKind
	Channel RelayChannel
	State   RelayState
	Err     error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("relay %s %s: send failed: %v", e.Channel.Name(), e.State, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// PollFailure classifies a poll cycle that produced no measurement.
type PollFailure int

const (
	NoResponse PollFailure = iota
	MalformedResponse
	NotConnected
)

func (f PollFailure) String() string {
	switch f {
	case MalformedResponse:
		return "MalformedResponse"
	case NotConnected:
		return "NotConnected"
	default:
		return "NoResponse"
	}
}
