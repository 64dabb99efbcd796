// Package store defines the narrow storage contract the task manager relies on
// and three implementations of it.
//
// The contract covers ordered sets (push with score, atomic pop-minimum,
// length, range, trim, remove), publish/subscribe notifications and a small
// key-value surface with set-if-absent and compare-and-delete, which is
// enough to build queues, a dead-letter archive and distributed locks.
//
//   - RedisStore talks to a shared Redis instance and is the normal,
//     cross-process backend (ModeShared).
//   - MemoryStore keeps everything inside the current process. It is used as
//     the degraded fallback and as a test double (ModeLocal).
//   - FailoverStore wraps a primary store and a MemoryStore. When the primary
//     reports ErrUnavailable it switches to memory (ModeFallback), keeps
//     probing the primary and migrates queued entries back once it recovers.
//
// # Usage
//
//	client, _ := redis.NewClient(cfg)
//	primary := store.NewRedisStore(client)
//	st := store.NewFailoverStore(primary, store.WithLogger(log))
//	st.Start(ctx)
//	defer st.Close()
//
//	_ = st.PushWithScore(ctx, "jobs", payload, 10)
//	entry, ok, err := st.PopMin(ctx, "jobs")
//
// # Errors
//
// Connectivity problems are reported joined with ErrUnavailable so callers
// can detect them with errors.Is. A missing member is never an error: PopMin
// and Get report it through their boolean result.
package store
