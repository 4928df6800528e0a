package mqtt

import (
	"fmt"

	"github.com/berfenger/vcmon2mqtt/internal/core/domain"
)

// HADiscoveryConfig is the retained payload Home Assistant reads from
// <prefix>/<component>/<device>/<object>/config.
type HADiscoveryConfig struct {
	Device            HADiscoveryDevice `json:"device"`
	StateTopic        string            `json:"state_topic"`
	CommandTopic      string            `json:"command_topic,omitempty"`
	StateClass        string            `json:"state_class,omitempty"`
	DeviceClass       string            `json:"device_class,omitempty"`
	UnitOfMeasurement string            `json:"unit_of_measurement,omitempty"`
	AvTopic           string            `json:"availability_topic,omitempty"`
	EntityCategory    string            `json:"entity_category,omitempty"`
	Name              string            `json:"name"`
	UniqueId          string            `json:"unique_id"`
	ObjectId          string            `json:"object_id,omitempty"`
	Platform          string            `json:"platform"`
	EnabledByDefault  *bool             `json:"enabled_by_default,omitempty"`
	PayloadOn         string            `json:"payload_on,omitempty"`
	PayloadOff        string            `json:"payload_off,omitempty"`
	Icon              string            `json:"icon,omitempty"`
	Min               float64           `json:"min,omitempty"`
	Max               float64           `json:"max,omitempty"`
	Step              float64           `json:"step,omitempty"`
	Mode              string            `json:"mode,omitempty"`
	InitialValue      float64           `json:"initial,omitempty"`
}

type HADiscoveryDevice struct {
	Id           []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Version      string   `json:"sw_version,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

func HADiscoverySensorTopic(prefix string, sensor domain.GenericSensor) string {
	return discoveryTopic(prefix, sensor.SensorType, sensor.Device, sensor.Id)
}

func HADiscoverySwitchTopic(prefix string, _switch domain.GenericSwitch) string {
	return discoveryTopic(prefix, kindSwitch, _switch.Device, _switch.Id)
}

func HADiscoveryInputNumberTopic(prefix string, inputNumber domain.GenericInputNumber) string {
	return discoveryTopic(prefix, kindNumber, inputNumber.Device, inputNumber.Id)
}

func discoveryTopic(prefix, component string, dev domain.Device, id string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", prefix, component, dev.Id, id)
}

// GenericSensorToHADiscoveryMessage describes a monitor reading. The
// bridge state sensor is special: it reads the availability topic itself
// and uses online/offline as its binary payloads.
func GenericSensorToHADiscoveryMessage(client *MQTTClient, sensor domain.GenericSensor) HADiscoveryConfig {
	disConfig := entity(client, sensor.Device, sensor.Id, sensor.Name, sensor.UniqueId, sensor.Icon)
	disConfig.StateClass = sensor.StateClass
	disConfig.DeviceClass = sensor.DeviceClass
	disConfig.UnitOfMeasurement = sensor.UnitOfMeasurement
	disConfig.EntityCategory = sensor.EntityCategory
	disConfig.EnabledByDefault = sensor.EnabledByDefault
	switch {
	case sensor.Id == domain.SENSOR_ID_BRIDGE_STATE:
		disConfig.StateTopic = client.BridgeStateTopic()
		disConfig.PayloadOn = MQTT_PAYLOAD_ONLINE
		disConfig.PayloadOff = MQTT_PAYLOAD_OFFLINE
	case sensor.SensorType == domain.SENSOR_TYPE_BINARY:
		disConfig.StateTopic = client.BinarySensorStateTopic(sensor.Id)
		disConfig.PayloadOn = MQTT_PAYLOAD_ON
		disConfig.PayloadOff = MQTT_PAYLOAD_OFF
	default:
		disConfig.StateTopic = client.SensorStateTopic(sensor.Id)
	}
	return disConfig
}

// GenericSwitchToHADiscoveryMessage describes a relay or the auto control
// toggle; both accept on/off on their command topic.
func GenericSwitchToHADiscoveryMessage(client *MQTTClient, _switch domain.GenericSwitch) HADiscoveryConfig {
	disConfig := entity(client, _switch.Device, _switch.Id, _switch.Name, _switch.UniqueId, _switch.Icon)
	disConfig.StateTopic = client.SwitchStateTopic(_switch.Id)
	disConfig.CommandTopic = client.SwitchCommandTopic(_switch.Id)
	disConfig.PayloadOn = MQTT_PAYLOAD_ON
	disConfig.PayloadOff = MQTT_PAYLOAD_OFF
	return disConfig
}

func GenericInputNumberToHADiscoveryMessage(client *MQTTClient, inputNumber domain.GenericInputNumber) HADiscoveryConfig {
	disConfig := entity(client, inputNumber.Device, inputNumber.Id, inputNumber.Name, inputNumber.UniqueId, inputNumber.Icon)
	disConfig.StateTopic = client.InputNumberStateTopic(inputNumber.Id)
	disConfig.CommandTopic = client.InputNumberCommandTopic(inputNumber.Id)
	disConfig.Min = inputNumber.Min
	disConfig.Max = inputNumber.Max
	disConfig.Step = inputNumber.Step
	disConfig.Mode = inputNumber.Mode
	disConfig.InitialValue = inputNumber.InitialValue
	return disConfig
}

// entity fills the fields shared by every monitor entity. All of them
// go unavailable with the bridge.
func entity(client *MQTTClient, dev domain.Device, id, name, uniqueId, icon string) HADiscoveryConfig {
	return HADiscoveryConfig{
		Device:   device(dev),
		AvTopic:  client.BridgeStateTopic(),
		Name:     name,
		UniqueId: uniqueId,
		ObjectId: "vcmon_" + id,
		Icon:     icon,
		Platform: "mqtt",
	}
}

func device(d domain.Device) HADiscoveryDevice {
	return HADiscoveryDevice{
		Id:           []string{d.Id},
		Manufacturer: d.Manufacturer,
		Version:      d.Version,
		Model:        d.Model,
		Name:         d.Name,
		ViaDevice:    d.ViaDevice,
	}
}
