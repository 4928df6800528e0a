package vcmon

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	frameStart = '$'
	frameEnd   = 'e'

	tag1S    = "(1S)"
	tag2S    = "(2S)"
	tag3S    = "(3S)"
	tagTotal = "(Total)"
)

const number = `([+-]?\d+(?:\.\d+)?)`

var (
	voltageRegexp     = regexp.MustCompile(`Voltage:\s*` + number)
	currentRegexp     = regexp.MustCompile(`Current:\s*` + number)
	powerRegexp       = regexp.MustCompile(`Power:\s*` + number)
	energyRegexp      = regexp.MustCompile(`Energy:\s*` + number)
	temperatureRegexp = regexp.MustCompile(`Temperature:\s*` + number)
	stageRegexp       = regexp.MustCompile(`Stage:\s*([A-Za-z]+)`)

	pilotLampRegexp       = regexp.MustCompile(`Pilot Lamp.*: *(GREEN|RED|OFF)`)
	commercialPowerRegexp = regexp.MustCompile(`Commercial Power:\s*(ON|OFF)`)
	batteryPowerRegexp    = regexp.MustCompile(`Battery Power:\s*(ON|OFF)`)
	halogenLampRegexp     = regexp.MustCompile(`Halogen Lamp Status.*: *(ON|OFF)`)
)

type LampColor string

const (
	LampGreen LampColor = "GREEN"
	LampRed   LampColor = "RED"
	LampOff   LampColor = "OFF"
)

// Switch is an ON/OFF field of the status dump. The empty value means the
// device did not report it.
type Switch string

const (
	SwitchOn  Switch = "ON"
	SwitchOff Switch = "OFF"
)

func (s Switch) IsSet() bool {
	return s != ""
}

func (s Switch) On() bool {
	return s == SwitchOn
}

type StatusFields struct {
	PilotLamp       LampColor `json:"pilot_lamp,omitempty"`
	CommercialPower Switch    `json:"commercial_power,omitempty"`
	BatteryPower    Switch    `json:"battery_power,omitempty"`
	HalogenLamp     Switch    `json:"halogen_lamp,omitempty"`
}

// SolarReading is the VC_MON block. Optional fields are zero when absent.
type SolarReading struct {
	Voltage     float64
	Current     float64
	Power       float64
	MaxCurrent  float64
	EnergyWh    float64
	Temperature float64
	Stage       string
}

type CellVoltages struct {
	Cell1S float64
	Cell2S float64
	Cell3S float64
	Total  float64
}

func Encode(cmd Command) []byte {
	return []byte{frameStart, cmd.Token, frameEnd}
}

// DecodeVoltage extracts the number following "Voltage:".
func DecodeVoltage(line string) (float64, bool) {
	return matchFloat(voltageRegexp, line)
}

func DecodeSystemStatus(lines []string) (*StatusFields, bool) {
	var st StatusFields
	found := false
	for _, l := range lines {
		if m := pilotLampRegexp.FindStringSubmatch(l); m != nil {
			st.PilotLamp = LampColor(m[1])
			found = true
		}
		if m := commercialPowerRegexp.FindStringSubmatch(l); m != nil {
			st.CommercialPower = Switch(m[1])
			found = true
		}
		if m := batteryPowerRegexp.FindStringSubmatch(l); m != nil {
			st.BatteryPower = Switch(m[1])
			found = true
		}
		if m := halogenLampRegexp.FindStringSubmatch(l); m != nil {
			st.HalogenLamp = Switch(m[1])
			found = true
		}
	}
	if !found {
		return nil, false
	}
	return &st, true
}

func DecodeSolar(lines []string) (*SolarReading, error) {
	var r SolarReading
	var hasVoltage, hasCurrent, hasPower, found bool
	for _, l := range lines {
		if v, ok := DecodeVoltage(l); ok {
			r.Voltage, hasVoltage, found = v, true, true
		}
		if v, ok := matchFloat(currentRegexp, l); ok {
			if strings.Contains(l, "Max") {
				r.MaxCurrent = v
			} else {
				r.Current, hasCurrent = v, true
			}
			found = true
		}
		if v, ok := matchFloat(powerRegexp, l); ok {
			r.Power, hasPower, found = v, true, true
		}
		if v, ok := matchFloat(energyRegexp, l); ok {
			r.EnergyWh, found = v, true
		}
		if v, ok := matchFloat(temperatureRegexp, l); ok {
			r.Temperature, found = v, true
		}
		if m := stageRegexp.FindStringSubmatch(l); m != nil {
			r.Stage, found = m[1], true
		}
	}
	if !found {
		return nil, &ProtocolError{Kind: Malformed, Command: CmdVCMonData.Name}
	}
	var missing []string
	if !hasVoltage {
		missing = append(missing, "Voltage")
	}
	if !hasCurrent {
		missing = append(missing, "Current")
	}
	if !hasPower {
		missing = append(missing, "Power")
	}
	if len(missing) > 0 {
		return nil, &ProtocolError{Kind: Incomplete, Command: CmdVCMonData.Name, Missing: missing}
	}
	// PV readings are magnitudes, a sign means a garbled line
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"Voltage", r.Voltage},
		{"Current", r.Current},
		{"Power", r.Power},
		{"Max Current", r.MaxCurrent},
	} {
		if f.value < 0 {
			return nil, &ProtocolError{Kind: Malformed, Command: CmdVCMonData.Name,
				Err: fmt.Errorf("%w: %s %g", ErrNegativeReading, f.name, f.value)}
		}
	}
	return &r, nil
}

func DecodeCellVoltages(lines []string) (*CellVoltages, error) {
	var c CellVoltages
	seen := map[string]bool{}
	for _, l := range lines {
		v, ok := DecodeVoltage(l)
		if !ok {
			continue
		}
		switch {
		case strings.Contains(l, tag1S):
			c.Cell1S, seen[tag1S] = v, true
		case strings.Contains(l, tag2S):
			c.Cell2S, seen[tag2S] = v, true
		case strings.Contains(l, tag3S):
			c.Cell3S, seen[tag3S] = v, true
		case strings.Contains(l, tagTotal):
			c.Total, seen[tagTotal] = v, true
		}
	}
	if len(seen) == 0 {
		return nil, &ProtocolError{Kind: Malformed, Command: CmdAllVoltages.Name}
	}
	var missing []string
	for _, tag := range []string{tag1S, tag2S, tag3S, tagTotal} {
		if !seen[tag] {
			missing = append(missing, tag)
		}
	}
	if len(missing) > 0 {
		return nil, &ProtocolError{Kind: Incomplete, Command: CmdAllVoltages.Name, Missing: missing}
	}
	return &c, nil
}

// DecodeTotalVoltage prefers the "(Total)" line and falls back to the first
// voltage found.
func DecodeTotalVoltage(lines []string) (float64, error) {
	first, found := 0.0, false
	for _, l := range lines {
		v, ok := DecodeVoltage(l)
		if !ok {
			continue
		}
		if strings.Contains(l, tagTotal) {
			return v, nil
		}
		if !found {
			first, found = v, true
		}
	}
	if !found {
		return 0, &ProtocolError{Kind: Malformed, Command: CmdTotalVoltage.Name}
	}
	return first, nil
}

func matchFloat(re *regexp.Regexp, line string) (float64, bool) {
	m := re.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
