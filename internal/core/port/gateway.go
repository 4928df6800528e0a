package port

import (
	"context"
	"time"

	"github.com/berfenger/vcmon2mqtt/internal/core/domain"
)

// PersistenceGateway stores measurements, control actions and the system
// config. Write errors wrap domain.PersistenceError.
type PersistenceGateway interface {
	AppendMeasurement(ctx context.Context, m domain.Measurement) (int64, error)
	AppendActionLog(ctx context.Context, entry domain.ActionLog) (int64, error)
	// GetConfig returns domain.ErrNotFound when no config was ever saved.
	GetConfig(ctx context.Context) (*domain.SystemConfig, error)
	SaveConfig(ctx context.Context, cfg domain.SystemConfig) (domain.SystemConfig, error)
	GetLatestMeasurement(ctx context.Context) (*domain.Measurement, error)
	MeasurementsBetween(ctx context.Context, from, to time.Time, limit int) ([]domain.Measurement, error)
	LatestActionLogs(ctx context.Context, n int) ([]domain.ActionLog, error)
	PurgeBefore(ctx context.Context, t time.Time) (int64, error)
	Close() error
}
