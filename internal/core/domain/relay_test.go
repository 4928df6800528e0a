package domain

import (
	"errors"
	"testing"

	"github.com/berfenger/vcmon2mqtt/pkg/vcmon"
	"github.com/stretchr/testify/assert"
)

func TestRelayCommands(t *testing.T) {

	assert := assert.New(t)

	cases := []struct {
		channel RelayChannel
		state   RelayState
		token   byte
	}{
		{RelayCommercialPower, RelayOn, 'd'},
		{RelayCommercialPower, RelayOff, 'e'},
		{RelayBatteryPower, RelayOn, 'f'},
		{RelayBatteryPower, RelayOff, 'g'},
		{RelayHalogenLamp, RelayOn, 'h'},
		{RelayHalogenLamp, RelayOff, 'i'},
		{RelayPilotLamp, RelayOn, 'b'},
		{RelayPilotLamp, RelayOff, 'a'},
	}
	for _, c := range cases {
		cmd, err := c.channel.Command(c.state)
		assert.NoError(err)
		assert.Equal(c.token, cmd.Token, "%s %s", c.channel.Name(), c.state)
		assert.True(IsRelayCommand(cmd))
	}

	_, err := RelayChannel(7).Command(RelayOn)
	assert.True(errors.Is(err, ErrUnknownRelay))

	_, err = RelayBatteryPower.Command("maybe")
	assert.Error(err)

	assert.False(IsRelayCommand(vcmon.CmdTotalVoltage))
	assert.True(IsRelayCommand(vcmon.CmdPilotRed))
}

func TestRelayChannelByName(t *testing.T) {

	assert := assert.New(t)

	for _, c := range RelayChannels() {
		byName, ok := RelayChannelByName(c.Name())
		assert.True(ok)
		assert.Equal(c, byName)
	}
	_, ok := RelayChannelByName(SWITCH_ID_AUTO_CONTROL)
	assert.False(ok)
}

func TestRelayStatesFromStatus(t *testing.T) {

	assert := assert.New(t)

	states := RelayStatesFromStatus(vcmon.StatusFields{
		PilotLamp:   vcmon.LampRed,
		HalogenLamp: vcmon.SwitchOn,
	})
	assert.Equal(map[RelayChannel]RelayState{
		RelayPilotLamp:   RelayOff,
		RelayHalogenLamp: RelayOn,
	}, states)
}
