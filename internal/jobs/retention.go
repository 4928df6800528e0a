package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/reugn/go-quartz/job"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

const RETENTION_JOB_KEY = "retention"

// Purger deletes measurements (and their action logs) older than a point in
// time.
type Purger interface {
	PurgeBefore(ctx context.Context, t time.Time) (int64, error)
}

// RetentionScheduler purges old rows on a cron schedule.
type RetentionScheduler struct {
	scheduler quartz.Scheduler
	purger    Purger
	retention time.Duration
	cron      string
	now       func() time.Time
	logger    *zap.Logger
}

func NewRetentionScheduler(purger Purger, retentionDays uint, cron string, logger *zap.Logger) (*RetentionScheduler, error) {
	if retentionDays == 0 {
		return nil, errors.New("retention days must be > 0")
	}
	if _, err := quartz.NewCronTrigger(cron); err != nil {
		return nil, err
	}
	scheduler, err := quartz.NewStdScheduler()
	if err != nil {
		return nil, err
	}
	return &RetentionScheduler{
		scheduler: scheduler,
		purger:    purger,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		cron:      cron,
		now:       time.Now,
		logger:    logger.With(zap.String("component", "retention")),
	}, nil
}

func (r *RetentionScheduler) Start(ctx context.Context) error {
	trigger, err := quartz.NewCronTrigger(r.cron)
	if err != nil {
		return err
	}
	r.scheduler.Start(ctx)
	purgeJob := job.NewFunctionJob(func(ctx context.Context) (int64, error) {
		return r.Purge(ctx)
	})
	err = r.scheduler.ScheduleJob(quartz.NewJobDetail(purgeJob, quartz.NewJobKey(RETENTION_JOB_KEY)), trigger)
	if err != nil {
		return err
	}
	r.logger.Sugar().Infof("retention: purging rows older than %s on %q", r.retention, r.cron)
	return nil
}

// Purge deletes rows older than the retention window and returns how many
// measurements went.
func (r *RetentionScheduler) Purge(ctx context.Context) (int64, error) {
	cutoff := r.now().Add(-r.retention)
	removed, err := r.purger.PurgeBefore(ctx, cutoff)
	if err != nil {
		r.logger.Error("retention: purge failed", zap.Time("before", cutoff), zap.Error(err))
		return 0, err
	}
	r.logger.Info("retention: purged", zap.Time("before", cutoff), zap.Int64("measurements", removed))
	return removed, nil
}

func (r *RetentionScheduler) Stop() {
	r.scheduler.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.scheduler.Wait(ctx)
}
