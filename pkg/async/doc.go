// Package async provides a small generic Future used to run a computation in
// its own goroutine and wait for it with a bound.
//
// Async starts the supplied function and immediately returns a *Future. The
// caller waits with Await, AwaitWithTimeout or AwaitContext, or polls with
// IsComplete. If the function panics, the Future completes with a *PanicError
// (matching ErrPanic via errors.Is) instead of crashing the process.
//
// If the provided context is already cancelled when the goroutine starts, the
// Future completes with the context error without calling the function.
//
// # Usage
//
//	ctx, cancel := context.WithCancel(ctx)
//	defer cancel()
//
//	future := async.Async(ctx, task, func(ctx context.Context, t *Task) (struct{}, error) {
//	    return struct{}{}, handle(ctx, t)
//	})
//
//	if _, err := future.AwaitWithTimeout(5 * time.Second); errors.Is(err, async.ErrTimeout) {
//	    cancel() // ask the computation to stop
//	}
//
// # Error Handling
//
// Functions return the error produced by the callback, ErrTimeout from
// AwaitWithTimeout, the context error from AwaitContext, or a *PanicError.
package async
