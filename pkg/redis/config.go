package redis

import "time"

// Config describes how to reach the shared Redis instance backing queues, locks and rate limits.
type Config struct {
	ConnectionURL  string        `env:"REDIS_URL" envDefault:"redis://localhost:6379/0" yaml:"url" validate:"required"`       // ConnectionURL is the URL of the server in the format "redis://:password@localhost:6379/0"
	RetryAttempts  int           `env:"REDIS_RETRY_ATTEMPTS" envDefault:"3" yaml:"retry_attempts" validate:"gte=1"`          // RetryAttempts is the number of connection attempts made by Connect.
	RetryInterval  time.Duration `env:"REDIS_RETRY_INTERVAL" envDefault:"2s" yaml:"retry_interval" validate:"gte=0"`         // RetryInterval is the pause between connection attempts.
	ConnectTimeout time.Duration `env:"REDIS_CONNECT_TIMEOUT" envDefault:"10s" yaml:"connect_timeout" validate:"gt=0"`       // ConnectTimeout bounds the whole Connect call.
	OpTimeout      time.Duration `env:"REDIS_OP_TIMEOUT" envDefault:"500ms" yaml:"op_timeout" validate:"gt=0"`              // OpTimeout is applied as read and write timeout so hot-path calls stay bounded.
	PoolSize       int           `env:"REDIS_POOL_SIZE" envDefault:"0" yaml:"pool_size" validate:"gte=0"`                   // PoolSize overrides the go-redis default when positive.
}
