package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/taskmanager/pkg/store"
)

// Record is the value stored under a lock key.
type Record struct {
	Owner      string    `json:"owner"`
	AcquiredAt time.Time `json:"acquired_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the record is past its expiry at now.
func (r Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Manager acquires and releases locks.
type Manager struct {
	store  store.Store
	prefix string
	log    *slog.Logger
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithPrefix sets the key namespace. Keys become "<prefix>:<key>".
func WithPrefix(prefix string) Option {
	return func(m *Manager) {
		m.prefix = prefix
	}
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) {
		if log != nil {
			m.log = log
		}
	}
}

// WithClock overrides the time source used for lock records.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates a lock manager backed by st.
func NewManager(st store.Store, opts ...Option) *Manager {
	m := &Manager{
		store:  st,
		prefix: "lock",
		log:    slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) key(key string) string {
	if m.prefix == "" {
		return key
	}
	return m.prefix + ":" + key
}

// Acquire tries to take the lock for owner. It returns false if another
// owner holds a live lock. An expired record left behind is reclaimed once.
func (m *Manager) Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	switch {
	case key == "":
		return false, ErrInvalidKey
	case owner == "":
		return false, ErrInvalidOwner
	case ttl <= 0:
		return false, ErrInvalidTTL
	}

	k := m.key(key)

	ok, err := m.trySet(ctx, k, owner, ttl)
	if err != nil || ok {
		return ok, err
	}

	raw, found, err := m.store.Get(ctx, k)
	if err != nil {
		return false, fmt.Errorf("lock: read %s: %w", key, err)
	}
	if !found {
		// released between our attempts
		return m.trySet(ctx, k, owner, ttl)
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil || !rec.Expired(m.now()) {
		return false, nil
	}

	deleted, err := m.store.CompareAndDelete(ctx, k, raw)
	if err != nil {
		return false, fmt.Errorf("lock: reclaim %s: %w", key, err)
	}
	if !deleted {
		return false, nil
	}

	m.log.DebugContext(ctx, "reclaimed expired lock",
		slog.String("lock_key", key),
		slog.String("previous_owner", rec.Owner),
		slog.String("owner", owner),
	)

	return m.trySet(ctx, k, owner, ttl)
}

func (m *Manager) trySet(ctx context.Context, k, owner string, ttl time.Duration) (bool, error) {
	now := m.now()
	raw, err := json.Marshal(Record{
		Owner:      owner,
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	})
	if err != nil {
		return false, err
	}

	ok, err := m.store.SetIfAbsentWithTTL(ctx, k, raw, ttl)
	if err != nil {
		return false, fmt.Errorf("lock: acquire %s: %w", k, err)
	}
	return ok, nil
}

// Release drops the lock if owner holds it. A release by anyone else
// returns false and leaves the lock untouched.
func (m *Manager) Release(ctx context.Context, key, owner string) (bool, error) {
	if key == "" {
		return false, ErrInvalidKey
	}

	k := m.key(key)
	raw, found, err := m.store.Get(ctx, k)
	if err != nil {
		return false, fmt.Errorf("lock: read %s: %w", key, err)
	}
	if !found {
		return false, nil
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil || rec.Owner != owner {
		return false, nil
	}

	ok, err := m.store.CompareAndDelete(ctx, k, raw)
	if err != nil {
		return false, fmt.Errorf("lock: release %s: %w", key, err)
	}
	return ok, nil
}

// Holder returns the current record for key, if any.
func (m *Manager) Holder(ctx context.Context, key string) (Record, bool, error) {
	raw, found, err := m.store.Get(ctx, m.key(key))
	if err != nil || !found {
		return Record{}, false, err
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

// Execute acquires key for owner with a TTL of timeout, runs fn with a
// context bounded by timeout and releases the lock on every exit path.
// A panic in fn is re-raised after the lock is released.
func Execute[T any](ctx context.Context, m *Manager, key, owner string, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	ok, err := m.Acquire(ctx, key, owner, timeout)
	if err != nil {
		return zero, errors.Join(ErrLockUnavailable, err)
	}
	if !ok {
		return zero, ErrLockUnavailable
	}

	defer func() {
		// the caller context may already be done
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if _, err := m.Release(rctx, key, owner); err != nil {
			m.log.WarnContext(ctx, "failed to release lock",
				slog.String("lock_key", key),
				slog.String("owner", owner),
				slog.String("error", err.Error()),
			)
		}
	}()

	fctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return fn(fctx)
}
