package mqtt

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/berfenger/vcmon2mqtt/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

const (
	MQTT_PAYLOAD_ONLINE  = "online"
	MQTT_PAYLOAD_OFFLINE = "offline"
	MQTT_PAYLOAD_ON      = "on"
	MQTT_PAYLOAD_OFF     = "off"
)

// Entity kinds as they appear in topics. The command kinds double as
// ParsedMQTTCommand.Command values.
const (
	kindSensor       = "sensor"
	kindBinarySensor = "binary_sensor"
	kindSwitch       = "switch"
	kindNumber       = "number"
)

const defaultDiscoveryPrefix = "homeassistant"

var ErrNotACommand = errors.New("topic is not a relay or setting command")

func OptsFromConfig(cfg *config.Config) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTT.Host, cfg.MQTT.Port))
	// some brokers cap client ids at 23 chars
	opts.SetClientID("vcmon_" + uuid.NewString()[:8])
	if cfg.MQTT.Username != "" && cfg.MQTT.Password != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}
	// HA marks every monitor entity unavailable once the bridge drops
	opts.SetWill(bridgeStateTopic(cfg.MQTT.BaseTopic), MQTT_PAYLOAD_OFFLINE, 0, true)
	return opts
}

func CreateMQTTClient(cfg *config.Config, opts *mqtt.ClientOptions, onConnectHandler func(client mqtt.Client),
	onConnectionLostHandler func(mqtt.Client, error)) *MQTTClient {
	if onConnectHandler != nil {
		opts.OnConnect = onConnectHandler
	}
	if onConnectionLostHandler != nil {
		opts.OnConnectionLost = onConnectionLostHandler
	}
	return &MQTTClient{
		client:       mqtt.NewClient(opts),
		cfg:          cfg.MQTT,
		commandRegex: commandExtractor(cfg.MQTT.BaseTopic),
	}
}

// MQTTClient wraps a paho client with the topic layout of the bridge:
// <base>/<kind>/<id>/state for readings, <base>/switch/<id>/command for
// relay switches and <base>/number/<id>/set for the control settings.
type MQTTClient struct {
	client       mqtt.Client
	cfg          config.MQTTConfig
	commandRegex *regexp.Regexp
}

// ParsedMQTTCommand is an inbound relay or setting change. DeviceId holds
// the switch or number id, Command is "switch" or "number".
type ParsedMQTTCommand struct {
	DeviceId string
	Command  string
	Param    string
	Payload  string
}

func (c *MQTTClient) IsConnected() bool {
	return c.client.IsConnected()
}

func (c *MQTTClient) DiscoveryPrefix() string {
	if c.cfg.HADiscoveryTopic == "" {
		return defaultDiscoveryPrefix
	}
	return c.cfg.HADiscoveryTopic
}

func (c *MQTTClient) BridgeStateTopic() string {
	return bridgeStateTopic(c.cfg.BaseTopic)
}

func (c *MQTTClient) SensorStateTopic(sensorId string) string {
	return c.entityTopic(kindSensor, sensorId, "state")
}

func (c *MQTTClient) BinarySensorStateTopic(sensorId string) string {
	return c.entityTopic(kindBinarySensor, sensorId, "state")
}

func (c *MQTTClient) SwitchStateTopic(switchId string) string {
	return c.entityTopic(kindSwitch, switchId, "state")
}

func (c *MQTTClient) SwitchCommandTopic(switchId string) string {
	return c.entityTopic(kindSwitch, switchId, "command")
}

func (c *MQTTClient) InputNumberStateTopic(id string) string {
	return c.entityTopic(kindNumber, id, "state")
}

func (c *MQTTClient) InputNumberCommandTopic(id string) string {
	return c.entityTopic(kindNumber, id, "set")
}

func (c *MQTTClient) entityTopic(kind, id, leaf string) string {
	return fmt.Sprintf("%s/%s/%s/%s", c.cfg.BaseTopic, kind, id, leaf)
}

// ParseMQTTCommand maps a message on the command wildcard to a relay
// switch or setting change. State echoes and bridge topics are rejected,
// as are setting payloads that are not finite numbers.
func (c *MQTTClient) ParseMQTTCommand(msg mqtt.Message) (*ParsedMQTTCommand, error) {
	return parseCommand(c.commandRegex, msg.Topic(), msg.Payload())
}

func parseCommand(r *regexp.Regexp, topic string, payload []byte) (*ParsedMQTTCommand, error) {
	m := r.FindStringSubmatch(topic)
	if m == nil {
		return nil, ErrNotACommand
	}
	kind, id, leaf := m[1], m[2], m[3]
	body := strings.TrimSpace(string(payload))
	switch {
	case kind == kindSwitch && leaf == "command":
		return &ParsedMQTTCommand{DeviceId: id, Command: kindSwitch, Payload: strings.ToLower(body)}, nil
	case kind == kindNumber && leaf == "set":
		v, err := strconv.ParseFloat(body, 64)
		if err != nil {
			return nil, fmt.Errorf("setting %s: %w", id, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("setting %s: %q is not a finite number", id, body)
		}
		return &ParsedMQTTCommand{DeviceId: id, Command: kindNumber, Payload: body}, nil
	}
	return nil, ErrNotACommand
}

func (c *MQTTClient) Publish(topic string, payload any, qos byte, retain bool, continuation func(error), timeout time.Duration) {
	await(c.client.Publish(topic, qos, retain, payload), "publish", continuation, timeout)
}

func (c *MQTTClient) Subscribe(topic string, qos byte, handler mqtt.MessageHandler, continuation func(error), timeout time.Duration) {
	await(c.client.Subscribe(topic, qos, handler), "subscribe", continuation, timeout)
}

func (c *MQTTClient) SubscribeToCommandTopic(handler mqtt.MessageHandler, continuation func(error), timeout time.Duration) {
	c.Subscribe(c.commandTopic(), 1, handler, continuation, timeout)
}

func (c *MQTTClient) Unsubscribe(topic string, continuation func(error), timeout time.Duration) {
	await(c.client.Unsubscribe(topic), "unsubscribe", continuation, timeout)
}

func (c *MQTTClient) Connect(continuation func(error), timeout time.Duration) {
	await(c.client.Connect(), "connect", continuation, timeout)
}

func (c *MQTTClient) Disconnect(timeout time.Duration) {
	c.client.Disconnect(uint(timeout.Milliseconds()))
}

// await waits on token in its own goroutine and reports to continuation
// exactly once.
func await(token mqtt.Token, op string, continuation func(error), timeout time.Duration) {
	go func() {
		if !token.WaitTimeout(timeout) {
			continuation(fmt.Errorf("MQTT %s timed out after %s", op, timeout))
			return
		}
		continuation(token.Error())
	}()
}

func (c *MQTTClient) commandTopic() string {
	return fmt.Sprintf("%s/#", c.cfg.BaseTopic)
}

func commandExtractor(baseTopic string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`^%s/(%s|%s)/([a-zA-Z0-9_]+)/(command|set)$`,
		regexp.QuoteMeta(baseTopic), kindSwitch, kindNumber))
}

func bridgeStateTopic(baseTopic string) string {
	return fmt.Sprintf("%s/bridge/state", baseTopic)
}
