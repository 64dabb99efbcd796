package queue

import "time"

// Config holds the configuration for the task manager
type Config struct {
	Prefix     string `env:"QUEUE_PREFIX" envDefault:"taskmanager" yaml:"prefix" validate:"required"`
	Partitions int    `env:"QUEUE_PARTITIONS" envDefault:"16" yaml:"partitions" validate:"min=1,max=1024"`

	MinWorkers int `env:"QUEUE_MIN_WORKERS" envDefault:"1" yaml:"min_workers" validate:"min=1"`
	MaxWorkers int `env:"QUEUE_MAX_WORKERS" envDefault:"64" yaml:"max_workers" validate:"gtefield=MinWorkers"`
	// PoolSizes overrides the initial size per worker type, e.g. "cpu_intensive:4,io_intensive:32".
	PoolSizes map[string]int `env:"QUEUE_POOL_SIZES" yaml:"pool_sizes" validate:"dive,keys,oneof=cpu_intensive io_intensive memory_intensive network_intensive general_purpose,endkeys,min=0"`

	FastPollInterval   time.Duration `env:"QUEUE_FAST_POLL_INTERVAL" envDefault:"50ms" yaml:"fast_poll_interval" validate:"gt=0"`
	IdlePollInterval   time.Duration `env:"QUEUE_IDLE_POLL_INTERVAL" envDefault:"1s" yaml:"idle_poll_interval" validate:"gtefield=FastPollInterval"`
	IdleCycleThreshold int           `env:"QUEUE_IDLE_CYCLE_THRESHOLD" envDefault:"20" yaml:"idle_cycle_threshold" validate:"min=1"`

	DefaultMaxRetries int           `env:"QUEUE_DEFAULT_MAX_RETRIES" envDefault:"3" yaml:"default_max_retries" validate:"min=0"`
	DefaultRetryDelay time.Duration `env:"QUEUE_DEFAULT_RETRY_DELAY" envDefault:"5s" yaml:"default_retry_delay" validate:"min=0"`
	DefaultTimeout    time.Duration `env:"QUEUE_DEFAULT_TIMEOUT" envDefault:"0s" yaml:"default_timeout" validate:"min=0"`
	ForwardInterval   time.Duration `env:"QUEUE_FORWARD_INTERVAL" envDefault:"250ms" yaml:"forward_interval" validate:"gt=0"`
	DeadLetterCap     int           `env:"QUEUE_DEAD_LETTER_CAP" envDefault:"1000" yaml:"dead_letter_cap" validate:"min=1"`
	CancelMarkerTTL   time.Duration `env:"QUEUE_CANCEL_MARKER_TTL" envDefault:"24h" yaml:"cancel_marker_ttl" validate:"gt=0"`

	BreakerFailureThreshold int           `env:"QUEUE_BREAKER_FAILURE_THRESHOLD" envDefault:"5" yaml:"breaker_failure_threshold" validate:"min=1"`
	BreakerOpenTimeout      time.Duration `env:"QUEUE_BREAKER_OPEN_TIMEOUT" envDefault:"60s" yaml:"breaker_open_timeout" validate:"gt=0"`

	RateLimit          int            `env:"QUEUE_RATE_LIMIT" envDefault:"1000" yaml:"rate_limit" validate:"min=1"`
	RateLimitWindow    time.Duration  `env:"QUEUE_RATE_LIMIT_WINDOW" envDefault:"60s" yaml:"rate_limit_window" validate:"gt=0"`
	RateLimitOverrides map[string]int `env:"QUEUE_RATE_LIMIT_OVERRIDES" yaml:"rate_limit_overrides" validate:"dive,min=1"`

	MetricsInterval      time.Duration `env:"QUEUE_METRICS_INTERVAL" envDefault:"1s" yaml:"metrics_interval" validate:"gt=0"`
	ScaleInterval        time.Duration `env:"QUEUE_SCALE_INTERVAL" envDefault:"30s" yaml:"scale_interval" validate:"gt=0"`
	ScaleUpQueueLength   int64         `env:"QUEUE_SCALE_UP_QUEUE_LENGTH" envDefault:"100" yaml:"scale_up_queue_length" validate:"min=0"`
	ScaleUpCPUBelow      float64       `env:"QUEUE_SCALE_UP_CPU_BELOW" envDefault:"80" yaml:"scale_up_cpu_below" validate:"min=0,max=100"`
	ScaleDownQueueLength int64         `env:"QUEUE_SCALE_DOWN_QUEUE_LENGTH" envDefault:"10" yaml:"scale_down_queue_length" validate:"min=0"`
	ScaleDownCPUBelow    float64       `env:"QUEUE_SCALE_DOWN_CPU_BELOW" envDefault:"50" yaml:"scale_down_cpu_below" validate:"min=0,max=100"`

	ShutdownTimeout time.Duration `env:"QUEUE_SHUTDOWN_TIMEOUT" envDefault:"30s" yaml:"shutdown_timeout" validate:"gt=0"`
}

// DefaultConfig returns the configuration used when none is supplied.
// The values mirror the envDefault tags.
func DefaultConfig() Config {
	return Config{
		Prefix:                  DefaultPrefix,
		Partitions:              16,
		MinWorkers:              1,
		MaxWorkers:              64,
		FastPollInterval:        50 * time.Millisecond,
		IdlePollInterval:        time.Second,
		IdleCycleThreshold:      20,
		DefaultMaxRetries:       3,
		DefaultRetryDelay:       5 * time.Second,
		ForwardInterval:         250 * time.Millisecond,
		DeadLetterCap:           1000,
		CancelMarkerTTL:         24 * time.Hour,
		BreakerFailureThreshold: 5,
		BreakerOpenTimeout:      time.Minute,
		RateLimit:               1000,
		RateLimitWindow:         time.Minute,
		MetricsInterval:         time.Second,
		ScaleInterval:           30 * time.Second,
		ScaleUpQueueLength:      100,
		ScaleUpCPUBelow:         80,
		ScaleDownQueueLength:    10,
		ScaleDownCPUBelow:       50,
		ShutdownTimeout:         30 * time.Second,
	}
}

// normalize fills zero values with defaults so hand-built configs work.
func (c Config) normalize() Config {
	d := DefaultConfig()
	if c.Prefix == "" {
		c.Prefix = d.Prefix
	}
	if c.Partitions < 1 {
		c.Partitions = d.Partitions
	}
	if c.MinWorkers < 1 {
		c.MinWorkers = d.MinWorkers
	}
	if c.MaxWorkers < c.MinWorkers {
		c.MaxWorkers = max(d.MaxWorkers, c.MinWorkers)
	}
	if c.FastPollInterval <= 0 {
		c.FastPollInterval = d.FastPollInterval
	}
	if c.IdlePollInterval < c.FastPollInterval {
		c.IdlePollInterval = max(d.IdlePollInterval, c.FastPollInterval)
	}
	if c.IdleCycleThreshold < 1 {
		c.IdleCycleThreshold = d.IdleCycleThreshold
	}
	if c.DefaultMaxRetries < 0 {
		c.DefaultMaxRetries = 0
	}
	if c.DefaultRetryDelay < 0 {
		c.DefaultRetryDelay = 0
	}
	if c.DefaultTimeout < 0 {
		c.DefaultTimeout = 0
	}
	if c.ForwardInterval <= 0 {
		c.ForwardInterval = d.ForwardInterval
	}
	if c.DeadLetterCap < 1 {
		c.DeadLetterCap = d.DeadLetterCap
	}
	if c.CancelMarkerTTL <= 0 {
		c.CancelMarkerTTL = d.CancelMarkerTTL
	}
	if c.BreakerFailureThreshold < 1 {
		c.BreakerFailureThreshold = d.BreakerFailureThreshold
	}
	if c.BreakerOpenTimeout <= 0 {
		c.BreakerOpenTimeout = d.BreakerOpenTimeout
	}
	if c.RateLimit < 1 {
		c.RateLimit = d.RateLimit
	}
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = d.RateLimitWindow
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = d.MetricsInterval
	}
	if c.ScaleInterval <= 0 {
		c.ScaleInterval = d.ScaleInterval
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	return c
}
