package service

import (
	"math"
	"sync"
	"testing"

	"github.com/berfenger/vcmon2mqtt/internal/core/domain"
	"github.com/stretchr/testify/assert"
)

func TestConfigHolderRejectsInvalid(t *testing.T) {

	assert := assert.New(t)

	h := NewConfigHolder(domain.DefaultSystemConfig())

	bad := domain.DefaultSystemConfig()
	bad.ChargeLimitSoC = 150
	assert.Error(h.Replace(bad))
	assert.Equal(95.0, h.Get().ChargeLimitSoC)

	bad.ChargeLimitSoC = math.NaN()
	assert.Error(h.Replace(bad))
	assert.Equal(95.0, h.Get().ChargeLimitSoC)

	// the charge limit override still holds with the retained config
	d := logic.Decide(measurement(20, 9, 100), h.Get())
	assert.True(d.Overridden)
	assert.Equal(domain.RelayOff, d.State)

	good := domain.DefaultSystemConfig()
	good.ChargeLimitSoC = 80
	assert.NoError(h.Replace(good))
	assert.Equal(80.0, h.Get().ChargeLimitSoC)
}

func TestConfigHolderReadersSeeWholeConfig(t *testing.T) {

	a := domain.DefaultSystemConfig()
	a.LowVoltageThreshold, a.PVOkThreshold = 10, 5
	b := domain.DefaultSystemConfig()
	b.LowVoltageThreshold, b.PVOkThreshold = 11, 6

	h := NewConfigHolder(a)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			if i%2 == 0 {
				h.Replace(b)
			} else {
				h.Replace(a)
			}
		}
	}()
	for i := 0; i < 1000; i++ {
		cfg := h.Get()
		assert.Equal(t, cfg.LowVoltageThreshold-5, cfg.PVOkThreshold)
	}
	wg.Wait()
}
