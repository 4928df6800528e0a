package vcmon

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDeadline = 200 * time.Millisecond

func openSimulated(t *testing.T) *SimulatedTransport {
	tr := NewSimulatedTransport(DefaultSimulatedDevice(), "/dev/ttySIM0")
	require.NoError(t, tr.Open("/dev/ttySIM0"))
	return tr
}

func TestSimulatedOpenUnknownPort(t *testing.T) {

	assert := assert.New(t)

	tr := NewSimulatedTransport(DefaultSimulatedDevice(), "/dev/ttySIM0")
	err := tr.Open("/dev/ttyUSB9")
	var terr *TransportError
	assert.True(errors.As(err, &terr))
	assert.Equal(PortUnavailable, terr.Kind)
	assert.Equal(Disconnected, tr.State())

	ports, err := tr.Ports()
	assert.NoError(err)
	assert.Equal([]string{"/dev/ttySIM0"}, ports)
}

func TestExchangeTotalVoltage(t *testing.T) {

	assert := assert.New(t)

	tr := openSimulated(t)
	tr.SetNoise(true)

	lines, err := Exchange(tr, CmdTotalVoltage, testDeadline)
	assert.NoError(err)
	v, err := DecodeTotalVoltage(lines)
	assert.NoError(err)
	assert.InDelta(DefaultSimulatedDevice().TotalVoltage(), v, 0.001)
	assert.Equal([]string{"$re"}, tr.Sent())
	assert.Equal(Connected, tr.State())
}

func TestExchangeVCMonBlock(t *testing.T) {

	assert := assert.New(t)

	tr := openSimulated(t)
	lines, err := Exchange(tr, CmdVCMonData, testDeadline)
	assert.NoError(err)
	r, err := DecodeSolar(lines)
	assert.NoError(err)
	assert.InDelta(18.52, r.Voltage, 1e-9)
	assert.Equal("Charging", r.Stage)
}

func TestExchangeRelayDoesNotWait(t *testing.T) {

	assert := assert.New(t)

	tr := openSimulated(t)
	start := time.Now()
	lines, err := Exchange(tr, CmdHalogenOn, testDeadline)
	assert.NoError(err)
	assert.Nil(lines)
	assert.Less(time.Since(start), testDeadline)
	assert.Equal(SwitchOn, tr.Device().HalogenLamp)

	// the acknowledgement is flushed before the next request
	lines, err = Exchange(tr, CmdSystemStatus, testDeadline)
	assert.NoError(err)
	st, ok := DecodeSystemStatus(lines)
	assert.True(ok)
	assert.Equal(SwitchOn, st.HalogenLamp)
	assert.Equal("=== SYSTEM STATUS ===", lines[0])
}

func TestExchangeTimeoutDegrades(t *testing.T) {

	assert := assert.New(t)

	tr := openSimulated(t)
	tr.SetSilent(true)

	start := time.Now()
	lines, err := Exchange(tr, CmdTotalVoltage, testDeadline)
	assert.NoError(err, "a missing response is not an error")
	assert.Empty(lines)
	assert.GreaterOrEqual(time.Since(start), testDeadline)
	assert.Equal(Degraded, tr.State())

	tr.SetSilent(false)
	_, err = Exchange(tr, CmdTotalVoltage, testDeadline)
	assert.NoError(err)
	assert.Equal(Connected, tr.State())
}

func TestReceiveLineTimeout(t *testing.T) {

	assert := assert.New(t)

	tr := openSimulated(t)
	line, ok, err := tr.ReceiveLine(50 * time.Millisecond)
	assert.NoError(err)
	assert.False(ok)
	assert.Empty(line)
}

func TestExchangeNotConnected(t *testing.T) {

	tr := NewSimulatedTransport(DefaultSimulatedDevice())
	_, err := Exchange(tr, CmdTotalVoltage, testDeadline)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.True(t, IsTransportError(err))
}

func TestExchangeSendFailureDisconnects(t *testing.T) {

	assert := assert.New(t)

	tr := openSimulated(t)
	tr.FailSends(1)
	_, err := Exchange(tr, CmdBatteryOn, testDeadline)
	var terr *TransportError
	assert.True(errors.As(err, &terr))
	assert.Equal(IoFailure, terr.Kind)
	assert.Equal(Disconnected, tr.State())
}

func TestCloseAbortsPendingRead(t *testing.T) {

	tr := openSimulated(t)
	tr.SetSilent(true)

	errc := make(chan error, 1)
	go func() {
		_, _, err := tr.ReceiveLine(5 * time.Second)
		errc <- err
	}()
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, tr.Close())

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrNotConnected)
	case <-time.After(time.Second):
		t.Fatal("pending read was not aborted by Close")
	}
}

func TestExchangeInstrument(t *testing.T) {

	tr := openSimulated(t)
	var recorded []string
	_, err := Exchange(tr, CmdTotalVoltage, testDeadline, Instrument{
		RecordTime: func(command string, _ time.Duration) {
			recorded = append(recorded, command)
		},
	})
	assert.NoError(t, err)
	assert.Equal(t, []string{"total_voltage"}, recorded)
}
