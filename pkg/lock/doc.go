// Package lock implements cooperative distributed locks on top of a
// store.Store.
//
// A lock is a key whose value is a JSON record naming the owner and the
// acquisition and expiry times. The key is written with set-if-absent and a
// TTL, so a crashed owner cannot hold a lock forever. Release reads the
// record, checks the owner and deletes the key with compare-and-delete on the
// exact value, so a non-owner can never release someone else's lock.
//
// Execute runs a function while holding a lock and always releases it,
// including when the function panics.
//
//	m := lock.NewManager(st, lock.WithPrefix("app:lock"))
//
//	out, err := lock.Execute(ctx, m, "report", "worker-1", 30*time.Second,
//	    func(ctx context.Context) (int, error) {
//	        return build(ctx)
//	    })
//	if errors.Is(err, lock.ErrLockUnavailable) {
//	    // somebody else is building the report
//	}
package lock
