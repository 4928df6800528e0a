package vcmon

import "strings"

// Command is one entry of the firmware command table. A command with a nil
// done predicate is fire-and-forget: the device may print an acknowledgement
// but nobody waits for it.
type Command struct {
	Token       byte
	Name        string
	Description string
	done        func(lines []string) bool
}

func (c Command) ExpectsResponse() bool {
	return c.done != nil
}

// Complete reports whether the accumulated lines hold the whole response.
func (c Command) Complete(lines []string) bool {
	if c.done == nil {
		return true
	}
	return c.done(lines)
}

func (c Command) String() string {
	return c.Name + "(" + string(c.Token) + ")"
}

var (
	CmdPilotOff       = Command{Token: 'a', Name: "pilot_off", Description: "Pilot lamp off"}
	CmdPilotGreen     = Command{Token: 'b', Name: "pilot_green", Description: "Pilot lamp green"}
	CmdPilotRed       = Command{Token: 'c', Name: "pilot_red", Description: "Pilot lamp red"}
	CmdCommercialOn   = Command{Token: 'd', Name: "commercial_on", Description: "Commercial power on"}
	CmdCommercialOff  = Command{Token: 'e', Name: "commercial_off", Description: "Commercial power off"}
	CmdBatteryOn      = Command{Token: 'f', Name: "battery_on", Description: "Battery power on"}
	CmdBatteryOff     = Command{Token: 'g', Name: "battery_off", Description: "Battery power off"}
	CmdHalogenOn      = Command{Token: 'h', Name: "halogen_on", Description: "Halogen lamp on"}
	CmdHalogenOff     = Command{Token: 'i', Name: "halogen_off", Description: "Halogen lamp off"}
	CmdBatteryVoltage = Command{Token: 'j', Name: "battery_voltage", Description: "Battery voltage", done: anyVoltage}
	CmdVCMonData      = Command{Token: 'k', Name: "vcmon_data", Description: "VC_MON solar data", done: hasLabel("Power:")}
	CmdVCMonReset     = Command{Token: 'l', Name: "vcmon_reset", Description: "Reset VC_MON data", done: anyLine}
	CmdAutoSendStart  = Command{Token: 'm', Name: "auto_send_start", Description: "Start automatic sending", done: anyLine}
	CmdAutoSendStop   = Command{Token: 'n', Name: "auto_send_stop", Description: "Stop automatic sending", done: anyLine}
	CmdVoltage1S      = Command{Token: 'o', Name: "voltage_1s", Description: "Cell 1 voltage", done: anyVoltage}
	CmdVoltage2S      = Command{Token: 'p', Name: "voltage_2s", Description: "Cell 2 voltage", done: anyVoltage}
	CmdVoltage3S      = Command{Token: 'q', Name: "voltage_3s", Description: "Cell 3 voltage", done: anyVoltage}
	CmdTotalVoltage   = Command{Token: 'r', Name: "total_voltage", Description: "Total voltage", done: anyVoltage}
	CmdCalibration    = Command{Token: 's', Name: "calibration", Description: "Calibration", done: anyLine}
	CmdAllVoltages    = Command{Token: 't', Name: "all_voltages", Description: "All cell voltages", done: hasLabel(tagTotal)}
	CmdSystemStatus   = Command{Token: 'u', Name: "system_status", Description: "System status dump", done: hasLabel("Halogen Lamp Status")}
	CmdResetSolarData = Command{Token: 'v', Name: "solar_reset", Description: "Reset solar data", done: anyLine}
)

var commandTable = []Command{
	CmdPilotOff, CmdPilotGreen, CmdPilotRed,
	CmdCommercialOn, CmdCommercialOff,
	CmdBatteryOn, CmdBatteryOff,
	CmdHalogenOn, CmdHalogenOff,
	CmdBatteryVoltage, CmdVCMonData, CmdVCMonReset,
	CmdAutoSendStart, CmdAutoSendStop,
	CmdVoltage1S, CmdVoltage2S, CmdVoltage3S,
	CmdTotalVoltage, CmdCalibration, CmdAllVoltages,
	CmdSystemStatus, CmdResetSolarData,
}

func Commands() []Command {
	out := make([]Command, len(commandTable))
	copy(out, commandTable)
	return out
}

func LookupToken(token byte) (Command, bool) {
	for _, c := range commandTable {
		if c.Token == token {
			return c, true
		}
	}
	return Command{}, false
}

func LookupName(name string) (Command, bool) {
	for _, c := range commandTable {
		if c.Name == name {
			return c, true
		}
	}
	return Command{}, false
}

func anyLine(lines []string) bool {
	return len(lines) > 0
}

func anyVoltage(lines []string) bool {
	for _, l := range lines {
		if _, ok := DecodeVoltage(l); ok {
			return true
		}
	}
	return false
}

func hasLabel(label string) func([]string) bool {
	return func(lines []string) bool {
		for _, l := range lines {
			if strings.Contains(l, label) {
				return true
			}
		}
		return false
	}
}
