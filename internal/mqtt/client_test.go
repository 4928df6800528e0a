package mqtt

import (
	"testing"

	"github.com/berfenger/vcmon2mqtt/internal/config"
	"github.com/berfenger/vcmon2mqtt/internal/core/domain"
	"github.com/stretchr/testify/assert"
)

func TestSwitchCommandParse(t *testing.T) {

	assert := assert.New(t)

	r := commandExtractor("loremTopic")
	cmd, err := parseCommand(r, "loremTopic/switch/my_device/command", []byte(" ON\n"))

	assert.NoError(err)
	assert.Equal("my_device", cmd.DeviceId, "device extract")
	assert.Equal("switch", cmd.Command)
	assert.Equal(MQTT_PAYLOAD_ON, cmd.Payload)
}

func TestSwitchCommandParseFail(t *testing.T) {

	assert := assert.New(t)

	r := commandExtractor("loremTopic")
	for _, topic := range []string{
		"loremTopic/switch/my_device/state",
		"loremTopic/switch/my_device/set",
		"loremTopic/bridge/state",
		"otherTopic/switch/my_device/command",
		"prefix/loremTopic/switch/my_device/command",
	} {
		_, err := parseCommand(r, topic, []byte("on"))
		assert.ErrorIs(err, ErrNotACommand, topic)
	}
}

func TestInputNumberCommandParse(t *testing.T) {

	assert := assert.New(t)

	r := commandExtractor("loremTopic")
	cmd, err := parseCommand(r, "loremTopic/number/charge_limit_soc/set", []byte("85.5"))

	assert.NoError(err)
	assert.Equal("charge_limit_soc", cmd.DeviceId, "number_id extract")
	assert.Equal("number", cmd.Command)
	assert.Equal("85.5", cmd.Payload)
}

func TestInputNumberCommandParseFail(t *testing.T) {

	assert := assert.New(t)

	r := commandExtractor("loremTopic")
	_, err := parseCommand(r, "loremTopic/number/charge_limit_soc/command", []byte("80"))
	assert.ErrorIs(err, ErrNotACommand)

	for _, payload := range []string{"", "eighty", "NaN", "+Inf", "-inf"} {
		_, err := parseCommand(r, "loremTopic/number/charge_limit_soc/set", []byte(payload))
		assert.Error(err, payload)
		assert.NotErrorIs(err, ErrNotACommand, payload)
	}
}

func TestCommandParseQuotesBaseTopic(t *testing.T) {

	assert := assert.New(t)

	r := commandExtractor("home.vcmon")
	_, err := parseCommand(r, "home.vcmon/switch/pilot_lamp/command", []byte("off"))
	assert.NoError(err)

	_, err = parseCommand(r, "homeXvcmon/switch/pilot_lamp/command", []byte("off"))
	assert.ErrorIs(err, ErrNotACommand)
}

type fakeMessage struct {
	topic   string
	payload string
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return []byte(m.payload) }
func (m fakeMessage) Ack()              {}

func TestClientParseMQTTCommand(t *testing.T) {

	assert := assert.New(t)

	client := testClient()
	cmd, err := client.ParseMQTTCommand(fakeMessage{topic: "vcmon/switch/halogen_lamp/command", payload: "on"})
	assert.NoError(err)
	assert.Equal(domain.SWITCH_ID_HALOGEN_LAMP, cmd.DeviceId)

	// retained state echoes arrive on the same wildcard subscription
	_, err = client.ParseMQTTCommand(fakeMessage{topic: "vcmon/switch/halogen_lamp/state", payload: "on"})
	assert.Error(err)
}

func testClient() *MQTTClient {
	cfg := config.Config{MQTT: config.MQTTConfig{Host: "localhost", Port: 1883, BaseTopic: "vcmon", HADiscoveryTopic: "ha"}}
	return CreateMQTTClient(&cfg, OptsFromConfig(&cfg), nil, nil)
}

func TestTopics(t *testing.T) {

	assert := assert.New(t)

	client := testClient()
	assert.Equal("vcmon/bridge/state", client.BridgeStateTopic())
	assert.Equal("vcmon/sensor/pv_voltage/state", client.SensorStateTopic(domain.SENSOR_ID_PV_VOLTAGE))
	assert.Equal("vcmon/switch/halogen_lamp/command", client.SwitchCommandTopic(domain.SWITCH_ID_HALOGEN_LAMP))
	assert.Equal("ha", client.DiscoveryPrefix())
}

func TestDiscoveryMessages(t *testing.T) {

	assert := assert.New(t)

	client := testClient()
	dev := domain.MonitorDevice("/dev/ttyUSB0")

	var limit domain.GenericSensor
	for _, s := range domain.MonitorSensors(dev) {
		if s.Id == domain.SENSOR_ID_CHARGE_LIMIT_REACHED {
			limit = s
		}
	}
	msg := GenericSensorToHADiscoveryMessage(client, limit)
	assert.Equal("vcmon/binary_sensor/charge_limit_reached/state", msg.StateTopic)
	assert.Equal(MQTT_PAYLOAD_ON, msg.PayloadOn)
	assert.Equal(MQTT_PAYLOAD_OFF, msg.PayloadOff)
	assert.Equal("ha/binary_sensor/"+dev.Id+"/charge_limit_reached/config", HADiscoverySensorTopic(client.DiscoveryPrefix(), limit))

	sw := domain.RelaySwitches(dev)[0]
	swMsg := GenericSwitchToHADiscoveryMessage(client, sw)
	assert.Equal("vcmon/switch/commercial_power/command", swMsg.CommandTopic)
	assert.Equal([]string{dev.Id}, swMsg.Device.Id)
	assert.Equal("vcmon/bridge/state", swMsg.AvTopic)
	assert.Equal("vcmon_commercial_power", swMsg.ObjectId)
}
