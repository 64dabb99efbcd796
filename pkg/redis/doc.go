// Package redis provides helpers for connecting to the Redis server that backs
// the task manager's queues, locks and rate limits.
//
// The package wraps the go-redis client and adds:
//
//   - Connect, which retries the connection using the supplied configuration.
//   - NewClient, which builds a client lazily so a process can start in
//     degraded mode while Redis is unreachable.
//   - Healthcheck, a ping probe used by Connect and by the failover store to
//     detect recovery.
//   - IsConfigError, which separates bad configuration from an unreachable
//     server.
//
// Configuration is described by the Config struct whose fields can be
// populated from environment variables via github.com/caarlos0/env.
//
// # Usage
//
//	cfg := redis.Config{
//	    ConnectionURL:  "redis://localhost:6379/0",
//	    RetryAttempts:  3,
//	    RetryInterval:  2 * time.Second,
//	    ConnectTimeout: 10 * time.Second,
//	    OpTimeout:      500 * time.Millisecond,
//	}
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//	    // fall back to redis.NewClient(cfg) and run degraded
//	}
//	defer client.Close()
//
//	if err := redis.Healthcheck(client)(ctx); err != nil {
//	    // redis is not healthy
//	}
//
// # Errors
//
// Sentinel errors (ErrNotReady, ErrHealthcheckFailed, ...) are joined with
// the underlying go-redis errors using errors.Join, so errors.Is works on both.
package redis
