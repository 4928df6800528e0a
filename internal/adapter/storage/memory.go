package storage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/berfenger/vcmon2mqtt/internal/core/domain"
	"github.com/berfenger/vcmon2mqtt/internal/core/port"
)

var errReadOnly = errors.New("memory gateway is read-only")

// MemoryGateway keeps everything in process memory. It is used when no
// storage path is configured and by tests. FailWrites makes every write fail.
type MemoryGateway struct {
	mu           sync.Mutex
	measurements []domain.Measurement
	actions      []domain.ActionLog
	configs      []domain.SystemConfig
	FailWrites   bool
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{}
}

func (g *MemoryGateway) AppendMeasurement(_ context.Context, m domain.Measurement) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailWrites {
		return 0, writeFailed("append measurement", errReadOnly)
	}
	m.ID = int64(len(g.measurements) + 1)
	g.measurements = append(g.measurements, m)
	return m.ID, nil
}

func (g *MemoryGateway) AppendActionLog(_ context.Context, entry domain.ActionLog) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailWrites {
		return 0, writeFailed("append action log", errReadOnly)
	}
	if !slices.ContainsFunc(g.measurements, func(m domain.Measurement) bool { return m.ID == entry.MeasurementID }) {
		return 0, writeFailed("append action log", fmt.Errorf("measurement %d does not exist", entry.MeasurementID))
	}
	entry.ID = int64(len(g.actions) + 1)
	g.actions = append(g.actions, entry)
	return entry.ID, nil
}

func (g *MemoryGateway) GetConfig(_ context.Context) (*domain.SystemConfig, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.configs) == 0 {
		return nil, domain.ErrNotFound
	}
	cfg := g.configs[len(g.configs)-1]
	return &cfg, nil
}

func (g *MemoryGateway) SaveConfig(_ context.Context, cfg domain.SystemConfig) (domain.SystemConfig, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailWrites {
		return cfg, writeFailed("save config", errReadOnly)
	}
	cfg.UpdatedAt = time.Now()
	cfg.ID = int64(len(g.configs) + 1)
	g.configs = append(g.configs, cfg)
	return cfg, nil
}

func (g *MemoryGateway) GetLatestMeasurement(_ context.Context) (*domain.Measurement, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.measurements) == 0 {
		return nil, domain.ErrNotFound
	}
	m := g.measurements[len(g.measurements)-1]
	return &m, nil
}

func (g *MemoryGateway) MeasurementsBetween(_ context.Context, from, to time.Time, limit int) ([]domain.Measurement, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []domain.Measurement
	for _, m := range g.measurements {
		if len(out) >= limit {
			break
		}
		if m.Timestamp.Before(from) || (!to.IsZero() && !m.Timestamp.Before(to)) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (g *MemoryGateway) LatestActionLogs(_ context.Context, n int) ([]domain.ActionLog, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []domain.ActionLog
	for i := len(g.actions) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, g.actions[i])
	}
	return out, nil
}

func (g *MemoryGateway) PurgeBefore(_ context.Context, t time.Time) (int64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	removed := map[int64]bool{}
	g.measurements = slices.DeleteFunc(g.measurements, func(m domain.Measurement) bool {
		if m.Timestamp.Before(t) {
			removed[m.ID] = true
			return true
		}
		return false
	})
	g.actions = slices.DeleteFunc(g.actions, func(a domain.ActionLog) bool {
		return removed[a.MeasurementID]
	})
	return int64(len(removed)), nil
}

// Actions returns every stored action log, oldest first.
func (g *MemoryGateway) Actions() []domain.ActionLog {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.actions)
}

func (g *MemoryGateway) Close() error {
	return nil
}

// ensure interface compliance
var _ port.PersistenceGateway = (*MemoryGateway)(nil)
