package store

import "time"

// FailoverConfig tunes the failover store.
type FailoverConfig struct {
	HealthInterval time.Duration `env:"STORE_HEALTH_INTERVAL" envDefault:"5s" yaml:"health_interval" validate:"gt=0"`
	WarnInterval   time.Duration `env:"STORE_WARN_INTERVAL" envDefault:"30s" yaml:"warn_interval" validate:"gte=0"`
}

// Options converts the config into failover options.
func (c FailoverConfig) Options() []FailoverOption {
	return []FailoverOption{
		WithHealthInterval(c.HealthInterval),
		WithWarnInterval(c.WarnInterval),
	}
}
