// Package sessions keeps each client's ephemeral package list between requests.
package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/BearBump/PickupBox/internal/cache"
	"github.com/BearBump/PickupBox/internal/storage/sessionstore"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const DefaultTTL = 24 * time.Hour

var (
	ErrNoSession   = errors.New("session id is required")
	ErrSessionBusy = errors.New("session is busy")
)

const (
	lockTTL   = 5 * time.Second
	lockWait  = 2 * time.Second
	lockRetry = 20 * time.Millisecond
)

type Manager struct {
	cache  cache.BytesCache
	locker cache.Locker
	ttl    time.Duration

	lockTTL  time.Duration
	lockWait time.Duration
}

func New(c cache.BytesCache, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{cache: c, ttl: ttl, lockTTL: lockTTL, lockWait: lockWait}
}

// WithLocker serializes load-modify-save cycles of one session across requests and replicas.
func (m *Manager) WithLocker(l cache.Locker) *Manager {
	m.locker = l
	return m
}

// Lock waits up to lockWait for the session's lock. The returned func releases it.
// Without a locker it returns a no-op release.
func (m *Manager) Lock(ctx context.Context, id string) (func(), error) {
	if id == "" {
		return nil, ErrNoSession
	}
	if m.locker == nil {
		return func() {}, nil
	}

	k := lockKey(id)
	token := uuid.NewString()
	waitCtx, cancel := context.WithTimeout(ctx, m.lockWait)
	defer cancel()

	t := time.NewTicker(lockRetry)
	defer t.Stop()
	for {
		ok, err := m.locker.TryLock(waitCtx, k, token, m.lockTTL)
		if err != nil {
			if waitCtx.Err() != nil && ctx.Err() == nil {
				return nil, ErrSessionBusy
			}
			return nil, errors.Wrap(err, "lock session")
		}
		if ok {
			return func() {
				// контекст запроса к этому моменту может быть уже отменён
				unlockCtx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				_ = m.locker.Unlock(unlockCtx, k, token)
			}, nil
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ErrSessionBusy
		case <-t.C:
		}
	}
}

// Load returns the session's store, or a fresh one if the session is unknown or expired.
func (m *Manager) Load(ctx context.Context, id string) (*sessionstore.Store, error) {
	if id == "" {
		return nil, ErrNoSession
	}
	b, ok, err := m.cache.Get(ctx, key(id))
	if err != nil {
		return nil, errors.Wrap(err, "load session")
	}
	if !ok {
		return sessionstore.New(), nil
	}
	st, err := sessionstore.Restore(b)
	if err != nil {
		return nil, errors.Wrapf(err, "restore session %s", id)
	}
	return st, nil
}

// Save writes the store back and extends the session's lifetime.
func (m *Manager) Save(ctx context.Context, id string, st *sessionstore.Store) error {
	if id == "" {
		return ErrNoSession
	}
	b, err := st.Snapshot()
	if err != nil {
		return err
	}
	if err := m.cache.Set(ctx, key(id), b, m.ttl); err != nil {
		return errors.Wrap(err, "save session")
	}
	return nil
}

func key(id string) string {
	return fmt.Sprintf("session:%s:packages", id)
}

func lockKey(id string) string {
	return fmt.Sprintf("session:%s:lock", id)
}
