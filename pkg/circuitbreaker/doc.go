// Package circuitbreaker implements a per-function circuit breaker.
//
// A Breaker is a small state machine with three states:
//
//	Closed ──failure-threshold-reached──▶ Open
//	Open ──cooldown-elapsed──▶ HalfOpen
//	HalfOpen ──probe-succeeded──▶ Closed
//	HalfOpen ──probe-failed──▶ Open
//
// Transitions are declared in a table with guards and are the only way the
// state changes. While Open, calls fail fast with ErrCircuitOpen without
// invoking the function. Once the open timeout has elapsed a single probe
// call is let through; concurrent callers keep failing fast until the probe
// settles.
//
// Execute returns a Result that tells apart the three outcomes (success,
// rejected by an open circuit, failed in the function) without relying on
// error inspection.
//
// A Registry hands out one Breaker per name, so one failing handler cannot
// trip the breaker of another.
//
// # Usage
//
//	reg := circuitbreaker.NewRegistry(
//	    circuitbreaker.WithFailureThreshold(5),
//	    circuitbreaker.WithOpenTimeout(30*time.Second),
//	)
//
//	res := reg.Get("send_email").Execute(ctx, func(ctx context.Context) error {
//	    return send(ctx)
//	})
//	switch res.Outcome {
//	case circuitbreaker.OutcomeCircuitOpen:
//	    // retry later
//	case circuitbreaker.OutcomeHandlerError:
//	    log.Error("send failed", "error", res.Err)
//	}
package circuitbreaker
