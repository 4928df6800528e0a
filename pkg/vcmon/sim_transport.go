package vcmon

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"time"
)

const simQueueSize = 64

// SimulatedDevice is the state the simulated firmware reports.
type SimulatedDevice struct {
	PVVoltage       float64
	PVCurrent       float64
	MaxCurrent      float64
	EnergyWh        float64
	Temperature     float64
	Stage           string
	CellVoltages    [3]float64
	PilotLamp       LampColor
	CommercialPower Switch
	BatteryPower    Switch
	HalogenLamp     Switch
	AutoSend        bool
}

func DefaultSimulatedDevice() SimulatedDevice {
	return SimulatedDevice{
		PVVoltage:       18.52,
		PVCurrent:       1.2,
		MaxCurrent:      2.1,
		EnergyWh:        120.5,
		Temperature:     25.0,
		Stage:           "Charging",
		CellVoltages:    [3]float64{4.05, 4.02, 4.07},
		PilotLamp:       LampGreen,
		CommercialPower: SwitchOff,
		BatteryPower:    SwitchOff,
		HalogenLamp:     SwitchOff,
	}
}

func (d SimulatedDevice) TotalVoltage() float64 {
	return d.CellVoltages[0] + d.CellVoltages[1] + d.CellVoltages[2]
}

// SimulatedTransport answers the firmware command table in memory. Ports
// limits the identifiers that open successfully; empty accepts any.
type SimulatedTransport struct {
	linkState

	mu         sync.Mutex
	device     SimulatedDevice
	ports      []string
	identifier string
	open       bool
	lines      chan string
	done       chan struct{}
	silent     bool
	noise      bool
	drift      bool
	failSends  int
	sent       []string
	rnd        *rand.Rand
}

func NewSimulatedTransport(device SimulatedDevice, ports ...string) *SimulatedTransport {
	return &SimulatedTransport{
		device: device,
		ports:  ports,
		rnd:    rand.New(rand.NewPCG(1, 2)),
	}
}

func (t *SimulatedTransport) Open(identifier string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closeLocked()
	t.set(Connecting)
	if len(t.ports) > 0 && !slices.Contains(t.ports, identifier) {
		t.set(Disconnected)
		return &TransportError{Kind: PortUnavailable, Port: identifier, Err: errors.New("no such device")}
	}
	t.identifier = identifier
	t.lines = make(chan string, simQueueSize)
	t.done = make(chan struct{})
	t.open = true
	t.set(Connected)
	return nil
}

// Ports returns the identifiers Open accepts; empty means any.
func (t *SimulatedTransport) Ports() ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.ports), nil
}

func (t *SimulatedTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()
	return nil
}

func (t *SimulatedTransport) closeLocked() {
	if t.open {
		close(t.done)
		t.open = false
	}
	t.set(Disconnected)
}

func (t *SimulatedTransport) Identifier() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.identifier
}

func (t *SimulatedTransport) Send(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.open {
		return ErrNotConnected
	}
	if t.failSends > 0 {
		t.failSends--
		t.closeLocked()
		return &TransportError{Kind: IoFailure, Port: t.identifier, Err: errors.New("simulated write failure")}
	}
	t.sent = append(t.sent, string(data))
	if len(data) != 3 || data[0] != frameStart || data[2] != frameEnd {
		return nil
	}
	if t.silent {
		return nil
	}
	if t.noise {
		t.emit("[dbg] adc sample ok")
	}
	for _, l := range t.respond(data[1]) {
		t.emit(l)
	}
	return nil
}

func (t *SimulatedTransport) ReceiveLine(timeout time.Duration) (string, bool, error) {
	t.mu.Lock()
	if !t.open {
		t.mu.Unlock()
		return "", false, ErrNotConnected
	}
	lines, done := t.lines, t.done
	t.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case l := <-lines:
		return l, true, nil
	case <-done:
		return "", false, ErrNotConnected
	case <-timer.C:
		return "", false, nil
	}
}

func (t *SimulatedTransport) ResetInputBuffer() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return ErrNotConnected
	}
	for {
		select {
		case <-t.lines:
		default:
			return nil
		}
	}
}

// SetSilent makes the device stop answering.
func (t *SimulatedTransport) SetSilent(silent bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.silent = silent
}

// SetNoise prefixes every response with an unrelated debug line.
func (t *SimulatedTransport) SetNoise(noise bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.noise = noise
}

// SetDrift makes solar and cell readings wander a little on every read.
func (t *SimulatedTransport) SetDrift(drift bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.drift = drift
}

// FailSends makes the next n sends fail with an I/O error.
func (t *SimulatedTransport) FailSends(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failSends = n
}

func (t *SimulatedTransport) Device() SimulatedDevice {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.device
}

func (t *SimulatedTransport) SetDevice(d SimulatedDevice) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.device = d
}

// Sent returns every frame written so far.
func (t *SimulatedTransport) Sent() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.sent)
}

// InjectLine queues a raw line as if the device had printed it.
func (t *SimulatedTransport) InjectLine(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.open {
		t.emit(line)
	}
}

func (t *SimulatedTransport) emit(line string) {
	select {
	case t.lines <- line:
	default:
	}
}

func (t *SimulatedTransport) respond(token byte) []string {
	d := &t.device
	switch token {
	case CmdPilotOff.Token:
		d.PilotLamp = LampOff
		return []string{"Pilot Lamp: OFF"}
	case CmdPilotGreen.Token:
		d.PilotLamp = LampGreen
		return []string{"Pilot Lamp: GREEN"}
	case CmdPilotRed.Token:
		d.PilotLamp = LampRed
		return []string{"Pilot Lamp: RED"}
	case CmdCommercialOn.Token, CmdCommercialOff.Token:
		d.CommercialPower = onOff(token == CmdCommercialOn.Token)
		return []string{"Commercial Power: " + string(d.CommercialPower)}
	case CmdBatteryOn.Token, CmdBatteryOff.Token:
		d.BatteryPower = onOff(token == CmdBatteryOn.Token)
		return []string{"Battery Power: " + string(d.BatteryPower)}
	case CmdHalogenOn.Token, CmdHalogenOff.Token:
		d.HalogenLamp = onOff(token == CmdHalogenOn.Token)
		return []string{"Halogen Lamp Status: " + string(d.HalogenLamp)}
	case CmdBatteryVoltage.Token:
		return []string{fmt.Sprintf("Battery Voltage: %.3fV", d.TotalVoltage())}
	case CmdVCMonData.Token:
		if t.drift {
			t.wander()
		}
		return []string{
			"=== VC_MON DATA ===",
			fmt.Sprintf("Max Current: %.2fA", d.MaxCurrent),
			fmt.Sprintf("Energy: %.2fWh", d.EnergyWh),
			fmt.Sprintf("Temperature: %.1fC", d.Temperature),
			"Stage: " + d.Stage,
			fmt.Sprintf("Voltage: %.2fV", d.PVVoltage),
			fmt.Sprintf("Current: %.2fA", d.PVCurrent),
			fmt.Sprintf("Power: %.2f W", d.PVVoltage*d.PVCurrent),
		}
	case CmdVCMonReset.Token:
		d.MaxCurrent = 0
		d.EnergyWh = 0
		return []string{"VC_MON data reset"}
	case CmdAutoSendStart.Token:
		d.AutoSend = true
		return []string{"Auto send started"}
	case CmdAutoSendStop.Token:
		d.AutoSend = false
		return []string{"Auto send stopped"}
	case CmdVoltage1S.Token:
		return []string{voltageLine(0, tag1S, d.CellVoltages[0])}
	case CmdVoltage2S.Token:
		return []string{voltageLine(1, tag2S, d.CellVoltages[1])}
	case CmdVoltage3S.Token:
		return []string{voltageLine(2, tag3S, d.CellVoltages[2])}
	case CmdTotalVoltage.Token:
		return []string{voltageLine(3, tagTotal, d.TotalVoltage())}
	case CmdCalibration.Token:
		return []string{"Calibration done"}
	case CmdAllVoltages.Token:
		if t.drift {
			t.wander()
		}
		return []string{
			voltageLine(0, tag1S, d.CellVoltages[0]),
			voltageLine(1, tag2S, d.CellVoltages[1]),
			voltageLine(2, tag3S, d.CellVoltages[2]),
			voltageLine(3, tagTotal, d.TotalVoltage()),
		}
	case CmdSystemStatus.Token:
		return []string{
			"=== SYSTEM STATUS ===",
			"Pilot Lamp (GREEN/RED): " + string(d.PilotLamp),
			"Commercial Power: " + string(d.CommercialPower),
			"Battery Power: " + string(d.BatteryPower),
			"Halogen Lamp Status (ON/OFF): " + string(d.HalogenLamp),
		}
	case CmdResetSolarData.Token:
		d.EnergyWh = 0
		return []string{"Solar data reset"}
	default:
		return []string{fmt.Sprintf("Unknown command: %c", token)}
	}
}

func (t *SimulatedTransport) wander() {
	d := &t.device
	d.PVVoltage = max(0, d.PVVoltage+(t.rnd.Float64()-0.5)*0.4)
	d.PVCurrent = max(0, d.PVCurrent+(t.rnd.Float64()-0.5)*0.1)
	d.MaxCurrent = max(d.MaxCurrent, d.PVCurrent)
	d.EnergyWh += d.PVVoltage * d.PVCurrent / 1800
	for i := range d.CellVoltages {
		d.CellVoltages[i] = min(4.2, max(2.8, d.CellVoltages[i]+(t.rnd.Float64()-0.5)*0.02))
	}
}

func voltageLine(channel int, tag string, v float64) string {
	return fmt.Sprintf("A%d %s - ADC: %d | Voltage: %.3fV", channel, tag, int(v*1000/5), v)
}

func onOff(on bool) Switch {
	if on {
		return SwitchOn
	}
	return SwitchOff
}

// ensure interface compliance
var (
	_ Transport  = (*SimulatedTransport)(nil)
	_ PortLister = (*SimulatedTransport)(nil)
)
