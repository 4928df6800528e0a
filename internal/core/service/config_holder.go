package service

import (
	"sync/atomic"

	"github.com/berfenger/vcmon2mqtt/internal/core/domain"
)

// ConfigHolder publishes the active SystemConfig to every reader. Readers
// always observe a complete config, old or new.
type ConfigHolder struct {
	current atomic.Pointer[domain.SystemConfig]
}

func NewConfigHolder(initial domain.SystemConfig) *ConfigHolder {
	h := &ConfigHolder{}
	h.current.Store(&initial)
	return h
}

func (h *ConfigHolder) Get() domain.SystemConfig {
	return *h.current.Load()
}

// Replace validates cfg and swaps it in. An invalid config leaves the
// previous one active.
func (h *ConfigHolder) Replace(cfg domain.SystemConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	h.current.Store(&cfg)
	return nil
}
