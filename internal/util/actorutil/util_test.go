package actorutil

import (
	"testing"

	"github.com/berfenger/vcmon2mqtt/internal/core/domain"
	"github.com/berfenger/vcmon2mqtt/internal/mqtt"
	"github.com/stretchr/testify/assert"
)

func TestParsedMQTTCommandToCommand(t *testing.T) {

	assert := assert.New(t)

	req, err := ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{DeviceId: "halogen_lamp", Command: "switch", Payload: "on"})
	assert.NoError(err)
	assert.Equal(domain.SetRelayRequest{Channel: domain.RelayHalogenLamp, State: domain.RelayOn}, req)

	req, err = ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{DeviceId: "auto_control", Command: "switch", Payload: "off"})
	assert.NoError(err)
	assert.Equal(domain.SetAutoControlRequest{Enabled: false}, req)

	req, err = ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{DeviceId: "charge_limit_soc", Command: "number", Payload: "80"})
	assert.NoError(err)
	assert.Equal(domain.PatchConfigRequest{Field: "charge_limit_soc", Value: 80}, req)

	for _, payload := range []string{"NaN", "Inf", "-Inf", "nope"} {
		_, err = ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{DeviceId: "charge_limit_soc", Command: "number", Payload: payload})
		assert.Error(err, payload)
	}

	_, err = ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{DeviceId: "pilot_lamp", Command: "switch", Payload: "maybe"})
	assert.Error(err)

	req, err = ParsedMQTTCommandToCommand(mqtt.ParsedMQTTCommand{DeviceId: "unknown", Command: "switch", Payload: "on"})
	assert.NoError(err)
	assert.Nil(req)
}
