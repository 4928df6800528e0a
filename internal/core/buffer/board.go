package buffer

import (
	"sync/atomic"

	"github.com/berfenger/vcmon2mqtt/internal/core/domain"
	"github.com/berfenger/vcmon2mqtt/pkg/vcmon"
)

const (
	DEFAULT_TELEMETRY_CAPACITY = 300
	DEFAULT_VOLTAGE_CAPACITY   = 30
)

// Board is everything the presentation side reads: the measurement and
// voltage rings plus the latest status, decision and action log. Only the
// pollers write to it.
type Board struct {
	Telemetry   *Ring[domain.Measurement]
	Voltage     *Ring[domain.VoltageSample]
	Status      Latest[vcmon.StatusFields]
	Decision    Latest[domain.ControlDecision]
	LastAction  Latest[domain.ActionLog]
	autoControl atomic.Bool
}

func NewBoard(telemetryCapacity, voltageCapacity int) *Board {
	b := &Board{
		Telemetry: NewRing[domain.Measurement](telemetryCapacity),
		Voltage:   NewRing[domain.VoltageSample](voltageCapacity),
	}
	b.autoControl.Store(true)
	return b
}

func (b *Board) AutoControl() bool {
	return b.autoControl.Load()
}

func (b *Board) SetAutoControl(enabled bool) {
	b.autoControl.Store(enabled)
}
