package domain

import (
	"fmt"

	"github.com/berfenger/vcmon2mqtt/pkg/vcmon"
)

type RelayChannel int

const (
	RelayCommercialPower RelayChannel = 1
	RelayBatteryPower    RelayChannel = 2
	RelayHalogenLamp     RelayChannel = 3
	RelayPilotLamp       RelayChannel = 4
)

type relayCommands struct {
	name string
	on   vcmon.Command
	off  vcmon.Command
}

var relayTable = map[RelayChannel]relayCommands{
	RelayCommercialPower: {name: "commercial_power", on: vcmon.CmdCommercialOn, off: vcmon.CmdCommercialOff},
	RelayBatteryPower:    {name: "battery_power", on: vcmon.CmdBatteryOn, off: vcmon.CmdBatteryOff},
	RelayHalogenLamp:     {name: "halogen_lamp", on: vcmon.CmdHalogenOn, off: vcmon.CmdHalogenOff},
	// the pilot lamp shows green when on
	RelayPilotLamp: {name: "pilot_lamp", on: vcmon.CmdPilotGreen, off: vcmon.CmdPilotOff},
}

func (c RelayChannel) Known() bool {
	_, ok := relayTable[c]
	return ok
}

func (c RelayChannel) Name() string {
	if r, ok := relayTable[c]; ok {
		return r.name
	}
	return fmt.Sprintf("relay_%d", int(c))
}

// Command returns the device command that drives the channel to state.
func (c RelayChannel) Command(state RelayState) (vcmon.Command, error) {
	r, ok := relayTable[c]
	if !ok {
		return vcmon.Command{}, fmt.Errorf("%w: %d", ErrUnknownRelay, int(c))
	}
	if !state.Valid() {
		return vcmon.Command{}, fmt.Errorf("invalid relay state %q", state)
	}
	if state.On() {
		return r.on, nil
	}
	return r.off, nil
}

func RelayChannels() []RelayChannel {
	return []RelayChannel{RelayCommercialPower, RelayBatteryPower, RelayHalogenLamp, RelayPilotLamp}
}

func RelayChannelByName(name string) (RelayChannel, bool) {
	for c, r := range relayTable {
		if r.name == name {
			return c, true
		}
	}
	return 0, false
}

// IsRelayCommand reports whether cmd switches one of the relays.
func IsRelayCommand(cmd vcmon.Command) bool {
	for _, r := range relayTable {
		if r.on.Token == cmd.Token || r.off.Token == cmd.Token {
			return true
		}
	}
	return cmd.Token == vcmon.CmdPilotRed.Token
}

// RelayStatesFromStatus maps the device status dump to relay states. Fields
// the device did not report are left out.
func RelayStatesFromStatus(st vcmon.StatusFields) map[RelayChannel]RelayState {
	out := map[RelayChannel]RelayState{}
	if st.CommercialPower.IsSet() {
		out[RelayCommercialPower] = RelayStateOf(st.CommercialPower.On())
	}
	if st.BatteryPower.IsSet() {
		out[RelayBatteryPower] = RelayStateOf(st.BatteryPower.On())
	}
	if st.HalogenLamp.IsSet() {
		out[RelayHalogenLamp] = RelayStateOf(st.HalogenLamp.On())
	}
	if st.PilotLamp != "" {
		out[RelayPilotLamp] = RelayStateOf(st.PilotLamp == vcmon.LampGreen)
	}
	return out
}
