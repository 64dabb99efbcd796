package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Healthcheck returns a probe that pings the server. The probe fails with
// ErrHealthcheckFailed when the ping errors or the server answers anything
// other than PONG.
func Healthcheck(client redis.UniversalClient) func(context.Context) error {
	return func(ctx context.Context) error {
		reply, err := client.Ping(ctx).Result()
		if err != nil {
			return errors.Join(ErrHealthcheckFailed, err)
		}
		if reply != "PONG" {
			return fmt.Errorf("%w: unexpected reply %q", ErrHealthcheckFailed, reply)
		}
		return nil
	}
}

// IsConfigError reports whether err comes from a bad Config rather than an
// unreachable server. Callers use it to decide between failing fast and
// starting degraded.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrEmptyConnectionURL) || errors.Is(err, ErrInvalidConnectionURL)
}
