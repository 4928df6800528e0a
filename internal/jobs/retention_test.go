package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/berfenger/vcmon2mqtt/internal/adapter/storage"
	"github.com/berfenger/vcmon2mqtt/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type failingPurger struct{}

func (failingPurger) PurgeBefore(ctx context.Context, t time.Time) (int64, error) {
	return 0, errors.New("database is locked")
}

func TestPurge(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	gateway := storage.NewMemoryGateway()
	_, err := gateway.AppendMeasurement(ctx, domain.Measurement{Timestamp: now.Add(-10 * 24 * time.Hour)})
	require.NoError(err)
	_, err = gateway.AppendMeasurement(ctx, domain.Measurement{Timestamp: now.Add(-time.Hour)})
	require.NoError(err)

	r, err := NewRetentionScheduler(gateway, 7, "0 0 3 * * *", zap.Must(zap.NewDevelopment()))
	require.NoError(err)
	r.now = func() time.Time { return now }

	removed, err := r.Purge(ctx)
	assert.NoError(err)
	assert.Equal(int64(1), removed)

	latest, err := gateway.GetLatestMeasurement(ctx)
	require.NoError(err)
	assert.True(now.Add(-time.Hour).Equal(latest.Timestamp))

	r.purger = failingPurger{}
	_, err = r.Purge(ctx)
	assert.Error(err)
}

func TestScheduledPurge(t *testing.T) {

	gateway := storage.NewMemoryGateway()
	_, err := gateway.AppendMeasurement(context.Background(), domain.Measurement{Timestamp: time.Now().Add(-48 * time.Hour)})
	require.NoError(t, err)

	// every second
	r, err := NewRetentionScheduler(gateway, 1, "* * * * * *", zap.Must(zap.NewDevelopment()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	assert.Eventually(t, func() bool {
		_, err := gateway.GetLatestMeasurement(context.Background())
		return errors.Is(err, domain.ErrNotFound)
	}, 3*time.Second, 100*time.Millisecond)
}

func TestRetentionSchedulerValidation(t *testing.T) {
	_, err := NewRetentionScheduler(storage.NewMemoryGateway(), 0, "0 0 3 * * *", zap.NewNop())
	assert.Error(t, err)

	_, err = NewRetentionScheduler(storage.NewMemoryGateway(), 7, "not a cron", zap.NewNop())
	assert.Error(t, err)
}
