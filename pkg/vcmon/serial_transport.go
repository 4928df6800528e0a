package vcmon

import (
	"errors"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

const (
	DefaultBaudRate = 115200
	readChunkSize   = 256
)

type SerialTransport struct {
	linkState

	mu       sync.Mutex
	port     serial.Port
	portName string
	baudRate int
	settle   time.Duration
	lines    lineBuffer
	logger   *zap.Logger
}

func NewSerialTransport(baudRate int, settle time.Duration, logger *zap.Logger) *SerialTransport {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	return &SerialTransport{
		baudRate: baudRate,
		settle:   settle,
		logger:   logger.With(zap.String("transport", "serial")),
	}
}

// Ports returns the serial ports known to the operating system.
func (t *SerialTransport) Ports() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, &TransportError{Kind: IoFailure, Err: err}
	}
	return ports, nil
}

func (t *SerialTransport) Open(identifier string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port != nil {
		_ = t.port.Close()
		t.port = nil
	}
	t.set(Connecting)

	port, err := serial.Open(identifier, &serial.Mode{
		BaudRate: t.baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		t.set(Disconnected)
		t.logger.Warn("serial open failed", zap.String("port", identifier), zap.String("code", portErrorCode(err)), zap.Error(err))
		return &TransportError{Kind: PortUnavailable, Port: identifier, Err: err}
	}

	// the board resets when the port opens
	if t.settle > 0 {
		time.Sleep(t.settle)
	}
	if err := port.ResetInputBuffer(); err != nil {
		_ = port.Close()
		t.set(Disconnected)
		return &TransportError{Kind: IoFailure, Port: identifier, Err: err}
	}

	t.port = port
	t.portName = identifier
	t.lines.reset()
	t.set(Connected)
	t.logger.Info("serial connected", zap.String("port", identifier), zap.Int("baud", t.baudRate))
	return nil
}

func (t *SerialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var err error
	if t.port != nil {
		err = t.port.Close()
		t.port = nil
		t.logger.Info("serial disconnected", zap.String("port", t.portName))
	}
	t.set(Disconnected)
	return err
}

func (t *SerialTransport) Identifier() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.portName
}

func (t *SerialTransport) Send(data []byte) error {
	port := t.current()
	if port == nil {
		return ErrNotConnected
	}
	n, err := port.Write(data)
	if err != nil {
		return t.fail(port, err)
	}
	if n != len(data) {
		return t.fail(port, errors.New("short write"))
	}
	return nil
}

func (t *SerialTransport) ReceiveLine(timeout time.Duration) (string, bool, error) {
	if line, ok := t.lines.next(); ok {
		return line, true, nil
	}
	port := t.current()
	if port == nil {
		return "", false, ErrNotConnected
	}

	deadline := time.Now().Add(timeout)
	buf := make([]byte, readChunkSize)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", false, nil
		}
		if err := port.SetReadTimeout(remaining); err != nil {
			return "", false, t.fail(port, err)
		}
		n, err := port.Read(buf)
		if err != nil {
			return "", false, t.fail(port, err)
		}
		if n == 0 {
			continue
		}
		t.lines.write(buf[:n])
		if line, ok := t.lines.next(); ok {
			return line, true, nil
		}
	}
}

func (t *SerialTransport) ResetInputBuffer() error {
	t.lines.reset()
	port := t.current()
	if port == nil {
		return ErrNotConnected
	}
	if err := port.ResetInputBuffer(); err != nil {
		return t.fail(port, err)
	}
	return nil
}

func (t *SerialTransport) current() serial.Port {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port
}

// fail closes the port after an I/O error. A port closed on purpose while a
// read was pending reports ErrNotConnected instead of an I/O failure.
func (t *SerialTransport) fail(port serial.Port, err error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var portErr *serial.PortError
	if errors.As(err, &portErr) && portErr.Code() == serial.PortClosed {
		return ErrNotConnected
	}
	if t.port == port {
		_ = t.port.Close()
		t.port = nil
		t.set(Disconnected)
		t.logger.Error("serial io failure", zap.String("port", t.portName), zap.Error(err))
	}
	return &TransportError{Kind: IoFailure, Port: t.portName, Err: err}
}

func portErrorCode(err error) string {
	var portErr *serial.PortError
	if !errors.As(err, &portErr) {
		return "unknown"
	}
	switch portErr.Code() {
	case serial.PortNotFound:
		return "port_not_found"
	case serial.PortBusy:
		return "port_busy"
	case serial.PermissionDenied:
		return "permission_denied"
	case serial.InvalidSerialPort:
		return "invalid_serial_port"
	default:
		return portErr.EncodedErrorString()
	}
}

// ensure interface compliance
var (
	_ Transport  = (*SerialTransport)(nil)
	_ PortLister = (*SerialTransport)(nil)
)
