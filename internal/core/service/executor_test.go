package service

import (
	"context"
	"errors"
	"testing"

	"github.com/berfenger/vcmon2mqtt/internal/adapter/storage"
	"github.com/berfenger/vcmon2mqtt/internal/core/domain"
	"github.com/berfenger/vcmon2mqtt/pkg/vcmon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSender struct {
	sent []string
	err  error
}

func (s *recordingSender) SendRelayCommand(_ context.Context, cmd vcmon.Command) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, cmd.Name)
	return nil
}

func persistedMeasurement(t *testing.T, gw *storage.MemoryGateway, m domain.Measurement) domain.Measurement {
	id, err := gw.AppendMeasurement(context.Background(), m)
	require.NoError(t, err)
	m.ID = id
	return m
}

func TestExecutorAppliesDecision(t *testing.T) {

	assert := assert.New(t)

	gw := storage.NewMemoryGateway()
	sender := &recordingSender{}
	exec := NewActionExecutor(sender, gw, zap.Must(zap.NewDevelopment()))

	m := persistedMeasurement(t, gw, measurement(20, 9, 40))
	d := logic.Decide(m, domain.DefaultSystemConfig())

	entry, err := exec.Apply(context.Background(), d)
	assert.NoError(err)
	assert.Equal([]string{vcmon.CmdBatteryOn.Name}, sender.sent)
	assert.NotZero(entry.ID)
	assert.Equal(m.ID, entry.MeasurementID)
	assert.Equal(domain.ActionChargeAndUseMains, entry.Action)
	assert.False(entry.SendFailed)
	assert.False(entry.Manual)
	assert.Len(gw.Actions(), 1)
}

func TestExecutorLogsSendFailure(t *testing.T) {

	assert := assert.New(t)

	gw := storage.NewMemoryGateway()
	sender := &recordingSender{err: vcmon.ErrNotConnected}
	exec := NewActionExecutor(sender, gw, zap.Must(zap.NewDevelopment()))

	m := persistedMeasurement(t, gw, measurement(0, 13, 60))
	entry, err := exec.Apply(context.Background(), logic.Decide(m, domain.DefaultSystemConfig()))

	var execErr *domain.ExecError
	assert.True(errors.As(err, &execErr))
	assert.Equal(domain.SendFailed, execErr.Kind)
	assert.ErrorIs(err, vcmon.ErrNotConnected)
	assert.True(entry.SendFailed)

	logs := gw.Actions()
	assert.Len(logs, 1)
	assert.True(logs[0].SendFailed)
}

func TestExecutorSkipsLogWithoutPersistedMeasurement(t *testing.T) {

	gw := storage.NewMemoryGateway()
	sender := &recordingSender{}
	exec := NewActionExecutor(sender, gw, zap.Must(zap.NewDevelopment()))

	m := measurement(20, 13, 50)
	m.ID = 0
	entry, err := exec.Apply(context.Background(), logic.Decide(m, domain.DefaultSystemConfig()))
	assert.NoError(t, err)
	assert.Zero(t, entry.ID)
	assert.Len(t, sender.sent, 1)
	assert.Empty(t, gw.Actions())
}

func TestExecutorManualRelay(t *testing.T) {

	assert := assert.New(t)

	gw := storage.NewMemoryGateway()
	sender := &recordingSender{}
	exec := NewActionExecutor(sender, gw, zap.Must(zap.NewDevelopment()))

	m := persistedMeasurement(t, gw, measurement(20, 13, 50))
	entry, err := exec.SetRelay(context.Background(), domain.RelayHalogenLamp, domain.RelayOn, m.Ref())
	assert.NoError(err)
	assert.True(entry.Manual)
	assert.Equal(domain.ActionManual, entry.Action)
	assert.Equal([]string{vcmon.CmdHalogenOn.Name}, sender.sent)

	_, err = exec.SetRelay(context.Background(), domain.RelayChannel(9), domain.RelayOn, m.Ref())
	assert.ErrorIs(err, domain.ErrUnknownRelay)
}
