package vcmon

import (
	"bytes"
	"strings"
	"time"
)

// maxPendingBytes bounds the partial-line buffer when the device streams
// noise without newlines.
const maxPendingBytes = 4096

type Transport interface {
	Open(identifier string) error
	Close() error
	Send(data []byte) error
	// ReceiveLine blocks for at most timeout. ok is false when nothing arrived
	// in time, which is not an error.
	ReceiveLine(timeout time.Duration) (line string, ok bool, err error)
	ResetInputBuffer() error
	State() ConnectionState
	MarkResponse(received bool)
	Identifier() string
}

// PortLister is implemented by transports that can enumerate the ports they
// are able to open.
type PortLister interface {
	Ports() ([]string, error)
}

type lineBuffer struct {
	pending []byte
}

func (b *lineBuffer) write(p []byte) {
	b.pending = append(b.pending, p...)
	if over := len(b.pending) - maxPendingBytes; over > 0 {
		b.pending = b.pending[over:]
	}
}

// next pops the next non-empty line. Partial lines stay buffered.
func (b *lineBuffer) next() (string, bool) {
	for {
		i := bytes.IndexByte(b.pending, '\n')
		if i < 0 {
			return "", false
		}
		raw := b.pending[:i]
		b.pending = b.pending[i+1:]
		line := strings.TrimSpace(strings.ToValidUTF8(string(raw), "�"))
		if line != "" {
			return line, true
		}
	}
}

func (b *lineBuffer) reset() {
	b.pending = b.pending[:0]
}
