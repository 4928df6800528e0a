package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/berfenger/vcmon2mqtt/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestGateway(t *testing.T) *SQLiteGateway {
	g, err := OpenSQLiteGateway(filepath.Join(t.TempDir(), "vcmon.db"))
	require.NoError(t, err)
	t.Cleanup(func() { g.Close() })
	return g
}

func testMeasurement(ts time.Time, configID int64) domain.Measurement {
	return domain.Measurement{
		ConfigID:      configID,
		Timestamp:     ts,
		PVVoltage:     18.5,
		PVCurrent:     1.2,
		PVPower:       22.2,
		CellVoltage:   [3]float64{4.05, 4.02, 4.07},
		TotalVoltage:  12.14,
		MaxCurrent:    2.1,
		EnergyWh:      120.5,
		Temperature:   25,
		StateOfCharge: 89.22,
		ChargeStage:   domain.ChargeStageCharging,
	}
}

func TestSQLiteConfigRoundTrip(t *testing.T) {

	require := require.New(t)
	ctx := context.Background()
	g := openTestGateway(t)

	_, err := g.GetConfig(ctx)
	require.ErrorIs(err, domain.ErrNotFound)

	cfg := domain.DefaultSystemConfig()
	cfg.PortIdentifier = "/dev/ttyUSB0"
	saved, err := g.SaveConfig(ctx, cfg)
	require.NoError(err)
	require.NotZero(saved.ID)

	cfg.ChargeLimitSoC = 80
	saved2, err := g.SaveConfig(ctx, cfg)
	require.NoError(err)
	require.Greater(saved2.ID, saved.ID)

	loaded, err := g.GetConfig(ctx)
	require.NoError(err)
	require.Equal(saved2.ID, loaded.ID)
	require.Equal(80.0, loaded.ChargeLimitSoC)
	require.Equal(2*time.Second, loaded.PollInterval)
	require.Equal(10*time.Second, loaded.VoltagePollInterval)
	require.Equal(domain.RelayBatteryPower, loaded.ChargeRelayChannel)
	require.Equal("/dev/ttyUSB0", loaded.PortIdentifier)
}

func TestSQLiteSaveConfigStampsEachRow(t *testing.T) {

	require := require.New(t)
	ctx := context.Background()
	g := openTestGateway(t)

	first, err := g.SaveConfig(ctx, domain.DefaultSystemConfig())
	require.NoError(err)

	time.Sleep(20 * time.Millisecond)

	// a patch starts from the active config, timestamp included
	patched := first
	patched.ChargeLimitSoC = 85
	second, err := g.SaveConfig(ctx, patched)
	require.NoError(err)
	require.True(second.UpdatedAt.After(first.UpdatedAt))

	loaded, err := g.GetConfig(ctx)
	require.NoError(err)
	require.Equal(second.ID, loaded.ID)
	require.True(loaded.UpdatedAt.After(first.UpdatedAt))
}

func TestMemorySaveConfigStampsEachRow(t *testing.T) {

	require := require.New(t)
	ctx := context.Background()
	g := NewMemoryGateway()

	first, err := g.SaveConfig(ctx, domain.DefaultSystemConfig())
	require.NoError(err)

	time.Sleep(20 * time.Millisecond)

	second, err := g.SaveConfig(ctx, first)
	require.NoError(err)
	require.Greater(second.ID, first.ID)
	require.True(second.UpdatedAt.After(first.UpdatedAt))
}

func TestSQLiteMeasurementsAndActions(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	g := openTestGateway(t)

	cfg, err := g.SaveConfig(ctx, domain.DefaultSystemConfig())
	require.NoError(err)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	var ids []int64
	for i := 0; i < 5; i++ {
		id, err := g.AppendMeasurement(ctx, testMeasurement(base.Add(time.Duration(i)*time.Minute), cfg.ID))
		require.NoError(err)
		ids = append(ids, id)
	}

	latest, err := g.GetLatestMeasurement(ctx)
	require.NoError(err)
	assert.Equal(ids[4], latest.ID)
	assert.Equal(cfg.ID, latest.ConfigID)
	assert.True(latest.Timestamp.Equal(base.Add(4 * time.Minute)))
	assert.Equal([3]float64{4.05, 4.02, 4.07}, latest.CellVoltage)
	assert.Equal(domain.ChargeStageCharging, latest.ChargeStage)

	between, err := g.MeasurementsBetween(ctx, base.Add(time.Minute), base.Add(3*time.Minute), 100)
	require.NoError(err)
	require.Len(between, 2)
	assert.Equal(ids[1], between[0].ID)
	assert.Equal(ids[2], between[1].ID)

	_, err = g.AppendActionLog(ctx, domain.ActionLog{
		MeasurementID: ids[4],
		Timestamp:     base.Add(4 * time.Minute),
		Channel:       domain.RelayBatteryPower,
		State:         domain.RelayOn,
		Action:        domain.ActionChargeAndUseMains,
		Reason:        "PV ON, Battery LOW. Charge Battery, Use Commercial Power.",
	})
	require.NoError(err)

	logs, err := g.LatestActionLogs(ctx, 10)
	require.NoError(err)
	require.Len(logs, 1)
	assert.Equal(ids[4], logs[0].MeasurementID)
	assert.Equal(domain.RelayOn, logs[0].State)
	assert.False(logs[0].SendFailed)
}

func TestSQLiteActionLogRequiresMeasurement(t *testing.T) {

	g := openTestGateway(t)

	_, err := g.AppendActionLog(context.Background(), domain.ActionLog{
		MeasurementID: 42,
		Timestamp:     time.Now(),
		Channel:       domain.RelayHalogenLamp,
		State:         domain.RelayOff,
		Action:        domain.ActionManual,
	})
	var perr *domain.PersistenceError
	assert.True(t, errors.As(err, &perr))
	assert.Equal(t, domain.WriteFailed, perr.Kind)
}

func TestSQLitePurgeBefore(t *testing.T) {

	require := require.New(t)
	ctx := context.Background()
	g := openTestGateway(t)

	now := time.Now()
	oldID, err := g.AppendMeasurement(ctx, testMeasurement(now.Add(-48*time.Hour), 0))
	require.NoError(err)
	_, err = g.AppendActionLog(ctx, domain.ActionLog{MeasurementID: oldID, Timestamp: now.Add(-48 * time.Hour),
		Channel: domain.RelayBatteryPower, State: domain.RelayOff, Action: domain.ActionUsePvForLoad})
	require.NoError(err)
	_, err = g.AppendMeasurement(ctx, testMeasurement(now, 0))
	require.NoError(err)

	n, err := g.PurgeBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(err)
	require.EqualValues(1, n)

	logs, err := g.LatestActionLogs(ctx, 10)
	require.NoError(err)
	require.Empty(logs)

	all, err := g.MeasurementsBetween(ctx, time.Time{}, time.Time{}, 10)
	require.NoError(err)
	require.Len(all, 1)
}
