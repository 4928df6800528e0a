package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/berfenger/vcmon2mqtt/internal/core/domain"
	"github.com/berfenger/vcmon2mqtt/pkg/vcmon"

	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestObserveEvents(t *testing.T) {

	assert := assert.New(t)

	m := NewMetrics()
	es := &eventstream.EventStream{}
	sub := m.Subscribe(es)
	defer es.Unsubscribe(sub)

	es.Publish(domain.MeasurementRecorded{Measurement: domain.Measurement{
		PVVoltage:     18.5,
		PVPower:       22.2,
		TotalVoltage:  12.14,
		StateOfCharge: 90,
		CellVoltage:   [3]float64{4.05, 4.02, 4.07},
	}})
	es.Publish(domain.MeasurementRecorded{PersistError: errors.New("disk full")})
	es.Publish(domain.PollFailed{Poller: domain.ACTOR_ID_TELEMETRY, Failure: domain.NoResponse})
	es.Publish(domain.DecisionApplied{
		Decision: domain.ControlDecision{Action: domain.ActionUsePvForLoad},
		Log:      domain.ActionLog{Channel: domain.RelayBatteryPower},
	})
	es.Publish(domain.ManualRelaySet{Log: domain.ActionLog{Channel: domain.RelayHalogenLamp}, Error: errors.New("timeout")})
	es.Publish(domain.ConnectionStateChanged{State: vcmon.Connected})
	es.Publish(domain.AutoControlChanged{Enabled: true})

	assert.Equal(2.0, testutil.ToFloat64(m.measurements))
	assert.Equal(1.0, testutil.ToFloat64(m.persistErrors))
	assert.Equal(1.0, testutil.ToFloat64(m.pollFailures.WithLabelValues(domain.ACTOR_ID_TELEMETRY, domain.NoResponse.String())))
	assert.Equal(1.0, testutil.ToFloat64(m.decisions.WithLabelValues(string(domain.ActionUsePvForLoad))))
	assert.Equal(1.0, testutil.ToFloat64(m.relayCommands.WithLabelValues(domain.RelayBatteryPower.Name(), "ok")))
	assert.Equal(1.0, testutil.ToFloat64(m.relayCommands.WithLabelValues(domain.RelayHalogenLamp.Name(), "failed")))
	assert.Equal(float64(vcmon.Connected), testutil.ToFloat64(m.connectionState))
	assert.Equal(1.0, testutil.ToFloat64(m.autoControl))
	assert.Equal(4.02, testutil.ToFloat64(m.cellVoltage.WithLabelValues("2s")))
}

func TestInstrumentAndHandler(t *testing.T) {

	assert := assert.New(t)

	m := NewMetrics()
	m.Instrument().RecordTime(vcmon.CmdAllVoltages.Name, 40*time.Millisecond)
	assert.Equal(1, testutil.CollectAndCount(m.exchangeDuration))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(strings.Contains(body, "vcmon_exchange_duration_seconds_count{command=\"all_voltages\"} 1"), body)
}

func TestObserveNil(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() { m.Observe(domain.AutoControlChanged{}) })
}
