package metrics

import (
	"net/http"
	"time"

	"github.com/berfenger/vcmon2mqtt/internal/core/domain"
	"github.com/berfenger/vcmon2mqtt/pkg/vcmon"

	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vcmon"

// Metrics turns engine events into Prometheus series. Every instance owns its
// registry so tests can build as many as they need.
type Metrics struct {
	registry *prometheus.Registry

	measurements     prometheus.Counter
	persistErrors    prometheus.Counter
	pollFailures     *prometheus.CounterVec
	decisions        *prometheus.CounterVec
	relayCommands    *prometheus.CounterVec
	exchangeDuration *prometheus.HistogramVec

	pvVoltage       prometheus.Gauge
	pvPower         prometheus.Gauge
	batteryVoltage  prometheus.Gauge
	stateOfCharge   prometheus.Gauge
	cellVoltage     *prometheus.GaugeVec
	connectionState prometheus.Gauge
	autoControl     prometheus.Gauge
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		measurements: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "measurements_total",
			Help:      "Completed telemetry cycles.",
		}),
		persistErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_errors_total",
			Help:      "Measurements the gateway failed to store.",
		}),
		pollFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_failures_total",
			Help:      "Failed poll cycles by poller and failure kind.",
		}, []string{"poller", "failure"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Applied control decisions by action.",
		}, []string{"action"}),
		relayCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_commands_total",
			Help:      "Relay commands sent by relay and result.",
		}, []string{"relay", "result"}),
		exchangeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "exchange_duration_seconds",
			Help:      "Serial request/response round trip by command.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"command"}),
		pvVoltage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pv_voltage_volts",
			Help:      "Latest PV voltage.",
		}),
		pvPower: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pv_power_watts",
			Help:      "Latest PV power.",
		}),
		batteryVoltage: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "battery_voltage_volts",
			Help:      "Latest total battery voltage.",
		}),
		stateOfCharge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "state_of_charge_percent",
			Help:      "Latest estimated state of charge.",
		}),
		cellVoltage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cell_voltage_volts",
			Help:      "Latest cell voltage.",
		}, []string{"cell"}),
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connection_state",
			Help:      "Serial link state (0 disconnected, 1 connecting, 2 connected, 3 degraded).",
		}),
		autoControl: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "auto_control",
			Help:      "1 when the rule engine drives the relays.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.measurements,
		m.persistErrors,
		m.pollFailures,
		m.decisions,
		m.relayCommands,
		m.exchangeDuration,
		m.pvVoltage,
		m.pvPower,
		m.batteryVoltage,
		m.stateOfCharge,
		m.cellVoltage,
		m.connectionState,
		m.autoControl,
	)

	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Instrument times serial exchanges.
func (m *Metrics) Instrument() vcmon.Instrument {
	return vcmon.Instrument{
		RecordTime: func(command string, elapsed time.Duration) {
			m.exchangeDuration.WithLabelValues(command).Observe(elapsed.Seconds())
		},
	}
}

func (m *Metrics) Subscribe(eventStream *eventstream.EventStream) *eventstream.Subscription {
	return eventStream.Subscribe(m.Observe)
}

func (m *Metrics) Observe(event any) {
	if m == nil {
		return
	}
	switch ev := event.(type) {
	case domain.MeasurementRecorded:
		m.measurements.Inc()
		if ev.PersistError != nil {
			m.persistErrors.Inc()
		}
		mm := ev.Measurement
		m.pvVoltage.Set(mm.PVVoltage)
		m.pvPower.Set(mm.PVPower)
		m.batteryVoltage.Set(mm.TotalVoltage)
		m.stateOfCharge.Set(mm.StateOfCharge)
		for i, v := range mm.CellVoltage {
			m.cellVoltage.WithLabelValues(cellLabels[i]).Set(v)
		}
	case domain.VoltageSampled:
		m.batteryVoltage.Set(ev.Sample.TotalVoltage)
		m.stateOfCharge.Set(ev.Sample.StateOfCharge)
	case domain.PollFailed:
		m.pollFailures.WithLabelValues(ev.Poller, ev.Failure.String()).Inc()
	case domain.DecisionApplied:
		m.decisions.WithLabelValues(string(ev.Decision.Action)).Inc()
		m.relayCommands.WithLabelValues(ev.Log.Channel.Name(), result(ev.Error)).Inc()
	case domain.ManualRelaySet:
		m.relayCommands.WithLabelValues(ev.Log.Channel.Name(), result(ev.Error)).Inc()
	case domain.ConnectionStateChanged:
		m.connectionState.Set(float64(ev.State))
	case domain.AutoControlChanged:
		if ev.Enabled {
			m.autoControl.Set(1)
		} else {
			m.autoControl.Set(0)
		}
	}
}

var cellLabels = [3]string{"1s", "2s", "3s"}

func result(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}
