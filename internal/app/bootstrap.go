package app

import (
	"sync/atomic"
	"time"

	"schedtrack/internal/config"
	logx "schedtrack/pkg/logx"
)

// liveSettings serves language and timezone from the latest applied
// config. A timezone that fails to load keeps the previous location.
type liveSettings struct {
	lang atomic.Value // string
	loc  atomic.Pointer[time.Location]
}

func newLiveSettings(cfg *config.Config) (*liveSettings, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	s := &liveSettings{}
	s.lang.Store(cfg.Settings.Language)
	s.loc.Store(loc)
	return s, nil
}

func (s *liveSettings) apply(cfg *config.Config) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	s.lang.Store(cfg.Settings.Language)
	s.loc.Store(loc)
	return nil
}

func (s *liveSettings) Language() string {
	v, _ := s.lang.Load().(string)
	return v
}

func (s *liveSettings) Location() *time.Location { return s.loc.Load() }

// validateReload rejects a reloaded config that the running components
// could not apply.
func validateReload(cfg *config.Config) error {
	if _, err := cfg.Location(); err != nil {
		return err
	}
	if _, err := mapNotifyConfig(cfg); err != nil {
		return err
	}
	if _, err := newSink(cfg, logx.Nop()); err != nil {
		return err
	}
	_, err := mapStorageConfig(cfg)
	return err
}
