package modbusslave

import (
	"math"
	"sync"
	"time"

	coreactor "github.com/berfenger/vcmon2mqtt/internal/core/actor"
	"github.com/berfenger/vcmon2mqtt/internal/core/domain"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

// Input registers (read only). Values are fixed point unsigned, signed where
// noted (two's complement).
const (
	IR_PV_VOLTAGE      uint16 = iota // V x100
	IR_PV_CURRENT                    // A x100, signed
	IR_PV_POWER                      // W x10
	IR_CELL1_VOLTAGE                 // V x1000
	IR_CELL2_VOLTAGE                 // V x1000
	IR_CELL3_VOLTAGE                 // V x1000
	IR_TOTAL_VOLTAGE                 // V x100
	IR_STATE_OF_CHARGE               // % x100
	IR_TEMPERATURE                   // C x10, signed
	IR_CHARGE_STAGE                  // see chargeStageCodes
	IR_CONNECTION                    // vcmon.ConnectionState
	IR_MEASUREMENT_AGE               // seconds, 0xFFFF when none
	inputRegisterCount
)

// Holding registers map to the editable config fields.
const (
	HR_CHARGE_LIMIT_SOC uint16 = iota // % x10
	HR_LOW_VOLTAGE                    // V x100
	HR_PV_OK_THRESHOLD                // V x100
	holdingRegisterCount
)

// Coils 0..3 are relay channels 1..4, coil 4 is auto control.
const (
	COIL_AUTO_CONTROL uint16 = 4
	coilCount         uint16 = 5
)

// Discrete inputs
const (
	DI_PV_OK uint16 = iota
	DI_BATTERY_OK
	DI_CONNECTED
	DI_DECISION_OVERRIDDEN
	discreteInputCount
)

var chargeStageCodes = map[domain.ChargeStage]uint16{
	domain.ChargeStageIdle:        0,
	domain.ChargeStageCharging:    1,
	domain.ChargeStageDischarging: 2,
	domain.ChargeStageFault:       3,
}

// Engine is the part of the engine facade the mirror reads and drives.
type Engine interface {
	Snapshot() coreactor.StateSnapshot
	Config() domain.SystemConfig
	SetRelay(channel domain.RelayChannel, state domain.RelayState) error
	SetAutoControl(enabled bool)
	ApplyConfig(cfg domain.SystemConfig) error
}

// Handler serves the engine state as a Modbus slave.
type Handler struct {
	engine Engine
	unitId uint8
	now    func() time.Time
	lock   sync.Mutex
	logger *zap.Logger
}

func NewHandler(engine Engine, logger *zap.Logger) *Handler {
	return &Handler{
		engine: engine,
		unitId: 1,
		now:    time.Now,
		logger: logger.With(zap.String("component", "modbusslave")),
	}
}

// NewServer builds a Modbus TCP server on url, e.g. tcp://0.0.0.0:5502.
func NewServer(url string, engine Engine, logger *zap.Logger) (*modbus.ModbusServer, error) {
	return modbus.NewServer(&modbus.ServerConfiguration{
		URL:        url,
		Timeout:    30 * time.Second,
		MaxClients: 5,
	}, NewHandler(engine, logger))
}

func (h *Handler) HandleCoils(req *modbus.CoilsRequest) ([]bool, error) {
	if req.UnitId != h.unitId {
		return nil, modbus.ErrIllegalFunction
	}
	if int(req.Addr)+int(req.Quantity) > int(coilCount) {
		return nil, modbus.ErrIllegalDataAddress
	}

	h.lock.Lock()
	defer h.lock.Unlock()

	if req.IsWrite {
		for i, value := range req.Args {
			addr := req.Addr + uint16(i)
			if addr == COIL_AUTO_CONTROL {
				h.engine.SetAutoControl(value)
				continue
			}
			channel := domain.RelayChannel(addr + 1)
			if err := h.engine.SetRelay(channel, domain.RelayStateOf(value)); err != nil {
				h.logger.Warn("modbusslave: relay write rejected", zap.Uint16("coil", addr), zap.Error(err))
				return nil, modbus.ErrIllegalDataValue
			}
			h.logger.Debug("modbusslave: relay write", zap.String("relay", channel.Name()), zap.Bool("on", value))
		}
		return nil, nil
	}

	snap := h.engine.Snapshot()
	coils := make([]bool, coilCount)
	if snap.Status != nil {
		for channel, state := range domain.RelayStatesFromStatus(*snap.Status) {
			coils[channel-1] = state == domain.RelayOn
		}
	}
	coils[COIL_AUTO_CONTROL] = snap.AutoControl
	return coils[req.Addr : req.Addr+req.Quantity], nil
}

func (h *Handler) HandleDiscreteInputs(req *modbus.DiscreteInputsRequest) ([]bool, error) {
	if req.UnitId != h.unitId {
		return nil, modbus.ErrIllegalFunction
	}
	if int(req.Addr)+int(req.Quantity) > int(discreteInputCount) {
		return nil, modbus.ErrIllegalDataAddress
	}

	snap := h.engine.Snapshot()
	inputs := make([]bool, discreteInputCount)
	if m := snap.Measurement; m != nil {
		inputs[DI_PV_OK] = m.PVVoltage >= snap.Config.PVOkThreshold
		inputs[DI_BATTERY_OK] = m.TotalVoltage >= snap.Config.LowVoltageThreshold
	}
	inputs[DI_CONNECTED] = snap.Connection == "connected" || snap.Connection == "degraded"
	if d := snap.Decision; d != nil {
		inputs[DI_DECISION_OVERRIDDEN] = d.Overridden
	}
	return inputs[req.Addr : req.Addr+req.Quantity], nil
}

func (h *Handler) HandleHoldingRegisters(req *modbus.HoldingRegistersRequest) ([]uint16, error) {
	if req.UnitId != h.unitId {
		return nil, modbus.ErrIllegalFunction
	}
	if int(req.Addr)+int(req.Quantity) > int(holdingRegisterCount) {
		return nil, modbus.ErrIllegalDataAddress
	}

	h.lock.Lock()
	defer h.lock.Unlock()

	cfg := h.engine.Config()
	if req.IsWrite {
		for i, value := range req.Args {
			switch req.Addr + uint16(i) {
			case HR_CHARGE_LIMIT_SOC:
				cfg.ChargeLimitSoC = float64(value) / 10
			case HR_LOW_VOLTAGE:
				cfg.LowVoltageThreshold = float64(value) / 100
			case HR_PV_OK_THRESHOLD:
				cfg.PVOkThreshold = float64(value) / 100
			}
		}
		if err := h.engine.ApplyConfig(cfg); err != nil {
			h.logger.Warn("modbusslave: config write rejected", zap.Error(err))
			return nil, modbus.ErrIllegalDataValue
		}
		return nil, nil
	}

	regs := make([]uint16, holdingRegisterCount)
	regs[HR_CHARGE_LIMIT_SOC] = scale(cfg.ChargeLimitSoC, 10)
	regs[HR_LOW_VOLTAGE] = scale(cfg.LowVoltageThreshold, 100)
	regs[HR_PV_OK_THRESHOLD] = scale(cfg.PVOkThreshold, 100)
	return regs[req.Addr : req.Addr+req.Quantity], nil
}

func (h *Handler) HandleInputRegisters(req *modbus.InputRegistersRequest) ([]uint16, error) {
	if req.UnitId != h.unitId {
		return nil, modbus.ErrIllegalFunction
	}
	if int(req.Addr)+int(req.Quantity) > int(inputRegisterCount) {
		return nil, modbus.ErrIllegalDataAddress
	}

	snap := h.engine.Snapshot()
	regs := make([]uint16, inputRegisterCount)
	regs[IR_MEASUREMENT_AGE] = math.MaxUint16
	if m := snap.Measurement; m != nil {
		regs[IR_PV_VOLTAGE] = scale(m.PVVoltage, 100)
		regs[IR_PV_CURRENT] = scaleSigned(m.PVCurrent, 100)
		regs[IR_PV_POWER] = scale(m.PVPower, 10)
		regs[IR_CELL1_VOLTAGE] = scale(m.CellVoltage[0], 1000)
		regs[IR_CELL2_VOLTAGE] = scale(m.CellVoltage[1], 1000)
		regs[IR_CELL3_VOLTAGE] = scale(m.CellVoltage[2], 1000)
		regs[IR_TOTAL_VOLTAGE] = scale(m.TotalVoltage, 100)
		regs[IR_STATE_OF_CHARGE] = scale(m.StateOfCharge, 100)
		regs[IR_TEMPERATURE] = scaleSigned(m.Temperature, 10)
		regs[IR_CHARGE_STAGE] = chargeStageCodes[m.ChargeStage]
		regs[IR_MEASUREMENT_AGE] = scale(h.now().Sub(m.Timestamp).Seconds(), 1)
	}
	// the voltage poller is fresher than the last full cycle
	if v := snap.Voltage; v != nil && (snap.Measurement == nil || v.Timestamp.After(snap.Measurement.Timestamp)) {
		regs[IR_TOTAL_VOLTAGE] = scale(v.TotalVoltage, 100)
		regs[IR_STATE_OF_CHARGE] = scale(v.StateOfCharge, 100)
	}
	regs[IR_CONNECTION] = uint16(connectionCode(snap.Connection))
	return regs[req.Addr : req.Addr+req.Quantity], nil
}

func connectionCode(state string) int {
	switch state {
	case "connecting":
		return 1
	case "connected":
		return 2
	case "degraded":
		return 3
	default:
		return 0
	}
}

func scale(value float64, factor float64) uint16 {
	v := math.Round(value * factor)
	if v <= 0 || math.IsNaN(v) {
		return 0
	}
	if v >= math.MaxUint16 {
		return math.MaxUint16
	}
	return uint16(v)
}

func scaleSigned(value float64, factor float64) uint16 {
	v := math.Round(value * factor)
	if math.IsNaN(v) {
		return 0
	}
	v = math.Max(math.MinInt16, math.Min(math.MaxInt16, v))
	return uint16(int16(v))
}
