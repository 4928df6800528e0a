package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE           = "bridge"
	SENSOR_ID_LINK_STATE             = "link_state"
	SENSOR_ID_PV_VOLTAGE             = "pv_voltage"
	SENSOR_ID_PV_CURRENT             = "pv_current"
	SENSOR_ID_PV_POWER               = "pv_power"
	SENSOR_ID_PV_MAX_CURRENT         = "pv_max_current"
	SENSOR_ID_PV_ENERGY              = "pv_energy"
	SENSOR_ID_TEMPERATURE            = "temperature"
	SENSOR_ID_CELL1_VOLTAGE          = "cell1_voltage"
	SENSOR_ID_CELL2_VOLTAGE          = "cell2_voltage"
	SENSOR_ID_CELL3_VOLTAGE          = "cell3_voltage"
	SENSOR_ID_TOTAL_VOLTAGE          = "total_voltage"
	SENSOR_ID_BATTERY_SOC            = "battery_soc"
	SENSOR_ID_CHARGE_STAGE           = "charge_stage"
	SENSOR_ID_CONTROL_ACTION         = "control_action"
	SENSOR_ID_CONTROL_REASON         = "control_reason"
	SENSOR_ID_CHARGE_LIMIT_REACHED   = "charge_limit_reached"
	SWITCH_ID_COMMERCIAL_POWER       = "commercial_power"
	SWITCH_ID_BATTERY_POWER          = "battery_power"
	SWITCH_ID_HALOGEN_LAMP           = "halogen_lamp"
	SWITCH_ID_PILOT_LAMP             = "pilot_lamp"
	SWITCH_ID_AUTO_CONTROL           = "auto_control"
	INPUT_NUMBER_ID_CHARGE_LIMIT_SOC = "charge_limit_soc"
	INPUT_NUMBER_ID_LOW_VOLTAGE      = "low_voltage_threshold"
	INPUT_NUMBER_ID_PV_OK_THRESHOLD  = "pv_ok_threshold"
	STATE_CLASS_MEASUREMENT          = "measurement"
	STATE_CLASS_TOTAL_INCREASING     = "total_increasing"
	DEVICE_CLASS_BATTERY             = "battery"
	DEVICE_CLASS_CURRENT             = "current"
	DEVICE_CLASS_ENERGY              = "energy"
	DEVICE_CLASS_POWER               = "power"
	DEVICE_CLASS_TEMPERATURE         = "temperature"
	DEVICE_CLASS_VOLTAGE             = "voltage"
	DEVICE_CLASS_CONNECTIVITY        = "connectivity"
	DEVICE_CLASS_PROBLEM             = "problem"
	ENTITY_CLASS_DIAGNOSTIC          = "diagnostic"
	ENTITY_CLASS_CONFIG              = "config"
	SENSOR_TYPE_SENSOR               = "sensor"
	SENSOR_TYPE_BINARY               = "binary_sensor"
	INPUT_NUMBER_MODE_BOX            = "box"
	INPUT_NUMBER_MODE_SLIDER         = "slider"
)

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("vcmon_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "ACasal",
		Model:        "vcmon2mqtt",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("VC_MON bridge %s", md5HashShort(baseTopic)),
	}
}

// MonitorDevice is the microcontroller behind the serial port.
func MonitorDevice(port string) Device {
	return Device{
		Id:           fmt.Sprintf("vcmon_%s", md5HashShort(port)),
		Manufacturer: "VC_MON",
		Model:        "Solar/battery monitor",
		Name:         fmt.Sprintf("VC_MON %s", md5HashShort(port)),
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {
	return []GenericSensor{{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	}}
}

type floatSensorDef struct {
	id, name, unit, deviceClass, stateClass string
}

var monitorFloatSensors = []floatSensorDef{
	{SENSOR_ID_PV_VOLTAGE, "PV voltage", "V", DEVICE_CLASS_VOLTAGE, STATE_CLASS_MEASUREMENT},
	{SENSOR_ID_PV_CURRENT, "PV current", "A", DEVICE_CLASS_CURRENT, STATE_CLASS_MEASUREMENT},
	{SENSOR_ID_PV_POWER, "PV power", "W", DEVICE_CLASS_POWER, STATE_CLASS_MEASUREMENT},
	{SENSOR_ID_PV_MAX_CURRENT, "PV max current", "A", DEVICE_CLASS_CURRENT, STATE_CLASS_MEASUREMENT},
	{SENSOR_ID_PV_ENERGY, "PV energy", "Wh", DEVICE_CLASS_ENERGY, STATE_CLASS_TOTAL_INCREASING},
	{SENSOR_ID_TEMPERATURE, "Temperature", "°C", DEVICE_CLASS_TEMPERATURE, STATE_CLASS_MEASUREMENT},
	{SENSOR_ID_CELL1_VOLTAGE, "Cell 1 voltage", "V", DEVICE_CLASS_VOLTAGE, STATE_CLASS_MEASUREMENT},
	{SENSOR_ID_CELL2_VOLTAGE, "Cell 2 voltage", "V", DEVICE_CLASS_VOLTAGE, STATE_CLASS_MEASUREMENT},
	{SENSOR_ID_CELL3_VOLTAGE, "Cell 3 voltage", "V", DEVICE_CLASS_VOLTAGE, STATE_CLASS_MEASUREMENT},
	{SENSOR_ID_TOTAL_VOLTAGE, "Battery voltage", "V", DEVICE_CLASS_VOLTAGE, STATE_CLASS_MEASUREMENT},
	{SENSOR_ID_BATTERY_SOC, "Battery SoC", "%", DEVICE_CLASS_BATTERY, STATE_CLASS_MEASUREMENT},
}

func MonitorSensors(monitorDevice Device) []GenericSensor {

	var sensors []GenericSensor

	for _, def := range monitorFloatSensors {
		sensors = append(sensors, GenericSensor{
			Device:            monitorDevice,
			Id:                def.id,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              def.name,
			StateClass:        def.stateClass,
			DeviceClass:       def.deviceClass,
			UnitOfMeasurement: def.unit,
			UniqueId:          uniqueId(monitorDevice.Id, def.id),
		})
	}

	// text sensors
	sensors = append(sensors, GenericSensor{
		Device:     monitorDevice,
		Id:         SENSOR_ID_CHARGE_STAGE,
		SensorType: SENSOR_TYPE_SENSOR,
		Name:       "Charge stage",
		Icon:       "mdi:battery-charging",
		UniqueId:   uniqueId(monitorDevice.Id, SENSOR_ID_CHARGE_STAGE),
	})
	sensors = append(sensors, GenericSensor{
		Device:     monitorDevice,
		Id:         SENSOR_ID_CONTROL_ACTION,
		SensorType: SENSOR_TYPE_SENSOR,
		Name:       "Control action",
		Icon:       "mdi:transmission-tower-export",
		UniqueId:   uniqueId(monitorDevice.Id, SENSOR_ID_CONTROL_ACTION),
	})
	sensors = append(sensors, GenericSensor{
		Device:           monitorDevice,
		Id:               SENSOR_ID_CONTROL_REASON,
		SensorType:       SENSOR_TYPE_SENSOR,
		Name:             "Control reason",
		EntityCategory:   ENTITY_CLASS_DIAGNOSTIC,
		EnabledByDefault: optionalBool(false),
		UniqueId:         uniqueId(monitorDevice.Id, SENSOR_ID_CONTROL_REASON),
	})
	sensors = append(sensors, GenericSensor{
		Device:         monitorDevice,
		Id:             SENSOR_ID_LINK_STATE,
		SensorType:     SENSOR_TYPE_SENSOR,
		Name:           "Serial link",
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(monitorDevice.Id, SENSOR_ID_LINK_STATE),
	})

	// binary sensors
	sensors = append(sensors, GenericSensor{
		Device:      monitorDevice,
		Id:          SENSOR_ID_CHARGE_LIMIT_REACHED,
		SensorType:  SENSOR_TYPE_BINARY,
		Name:        "Charge limit reached",
		DeviceClass: DEVICE_CLASS_PROBLEM,
		UniqueId:    uniqueId(monitorDevice.Id, SENSOR_ID_CHARGE_LIMIT_REACHED),
	})

	return sensors
}

func RelaySwitches(monitorDevice Device) []GenericSwitch {
	return []GenericSwitch{
		{
			Device:   monitorDevice,
			Id:       SWITCH_ID_COMMERCIAL_POWER,
			Name:     "Commercial power",
			UniqueId: uniqueId(monitorDevice.Id, SWITCH_ID_COMMERCIAL_POWER),
			Icon:     "mdi:transmission-tower",
		},
		{
			Device:   monitorDevice,
			Id:       SWITCH_ID_BATTERY_POWER,
			Name:     "Battery power",
			UniqueId: uniqueId(monitorDevice.Id, SWITCH_ID_BATTERY_POWER),
			Icon:     "mdi:battery-plus",
		},
		{
			Device:   monitorDevice,
			Id:       SWITCH_ID_HALOGEN_LAMP,
			Name:     "Halogen lamp",
			UniqueId: uniqueId(monitorDevice.Id, SWITCH_ID_HALOGEN_LAMP),
			Icon:     "mdi:lightbulb",
		},
		{
			Device:   monitorDevice,
			Id:       SWITCH_ID_PILOT_LAMP,
			Name:     "Pilot lamp",
			UniqueId: uniqueId(monitorDevice.Id, SWITCH_ID_PILOT_LAMP),
			Icon:     "mdi:alarm-light",
		},
		{
			Device:   monitorDevice,
			Id:       SWITCH_ID_AUTO_CONTROL,
			Name:     "Automatic control",
			UniqueId: uniqueId(monitorDevice.Id, SWITCH_ID_AUTO_CONTROL),
			Icon:     "mdi:robot",
		},
	}
}

func ControlInputNumbers(monitorDevice Device, cfg SystemConfig) []GenericInputNumber {
	return []GenericInputNumber{
		{
			Device:       monitorDevice,
			Id:           INPUT_NUMBER_ID_CHARGE_LIMIT_SOC,
			Name:         "Charge limit SoC",
			UniqueId:     uniqueId(monitorDevice.Id, INPUT_NUMBER_ID_CHARGE_LIMIT_SOC),
			Icon:         "mdi:ticket-percent",
			Max:          100,
			Min:          0,
			Step:         1,
			Mode:         INPUT_NUMBER_MODE_BOX,
			InitialValue: cfg.ChargeLimitSoC,
		},
		{
			Device:       monitorDevice,
			Id:           INPUT_NUMBER_ID_LOW_VOLTAGE,
			Name:         "Low battery voltage",
			UniqueId:     uniqueId(monitorDevice.Id, INPUT_NUMBER_ID_LOW_VOLTAGE),
			Icon:         "mdi:battery-alert-variant-outline",
			Max:          15,
			Min:          0,
			Step:         0.1,
			Mode:         INPUT_NUMBER_MODE_BOX,
			InitialValue: cfg.LowVoltageThreshold,
		},
		{
			Device:       monitorDevice,
			Id:           INPUT_NUMBER_ID_PV_OK_THRESHOLD,
			Name:         "PV ok voltage",
			UniqueId:     uniqueId(monitorDevice.Id, INPUT_NUMBER_ID_PV_OK_THRESHOLD),
			Icon:         "mdi:solar-power",
			Max:          30,
			Min:          0,
			Step:         0.5,
			Mode:         INPUT_NUMBER_MODE_BOX,
			InitialValue: cfg.PVOkThreshold,
		},
	}
}

// SwitchRelay maps a relay switch id to its channel.
func SwitchRelay(switchId string) (RelayChannel, bool) {
	return RelayChannelByName(switchId)
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	hash := md5Hash(text)
	return hash[0:8]
}

func optionalBool(value bool) *bool {
	return &value
}
