package vcmon

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineBufferSplitsPartialLines(t *testing.T) {

	assert := assert.New(t)

	var b lineBuffer
	b.write([]byte("Volt"))
	_, ok := b.next()
	assert.False(ok, "partial line stays buffered")

	b.write([]byte("age: 12.34V\r\n\r\nCurrent: 1"))
	line, ok := b.next()
	assert.True(ok)
	assert.Equal("Voltage: 12.34V", line)

	_, ok = b.next()
	assert.False(ok, "empty lines are skipped and the tail is partial")

	b.write([]byte(".2A\n"))
	line, ok = b.next()
	assert.True(ok)
	assert.Equal("Current: 1.2A", line)
}

func TestLineBufferInvalidUTF8(t *testing.T) {

	assert := assert.New(t)

	var b lineBuffer
	b.write([]byte("\xffVoltage: 3.3V\n"))
	line, ok := b.next()
	assert.True(ok)
	v, ok := DecodeVoltage(line)
	assert.True(ok)
	assert.InDelta(3.3, v, 1e-9)
}

func TestLineBufferBounded(t *testing.T) {

	var b lineBuffer
	b.write([]byte(strings.Repeat("x", maxPendingBytes*2)))
	assert.LessOrEqual(t, len(b.pending), maxPendingBytes)
}

func TestConnectionStateDegrades(t *testing.T) {

	assert := assert.New(t)

	var l linkState
	l.MarkResponse(false)
	assert.Equal(Disconnected, l.State(), "a closed link never becomes degraded")

	l.set(Connected)
	l.MarkResponse(false)
	assert.Equal(Degraded, l.State())
	assert.True(l.State().IsOpen())
	l.MarkResponse(true)
	assert.Equal(Connected, l.State())
	assert.Equal("connected", l.State().String())
}
