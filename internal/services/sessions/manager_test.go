package sessions

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/PickupBox/internal/cache/rediscache"
	"github.com/BearBump/PickupBox/internal/models"
	"github.com/BearBump/PickupBox/internal/storage/sessionstore"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

type brokenCache struct{}

func (brokenCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, errors.New("down")
}
func (brokenCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return errors.New("down")
}

func TestManager_RoundTripThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	m := New(rediscache.New(mr.Addr()), time.Hour)
	ctx := context.Background()

	st, err := m.Load(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, 0, st.Len())

	_, err = st.CreatePackage(ctx, models.ExtractedFields{PickupCode: "6A28"}, time.Now().Truncate(time.Second))
	require.NoError(t, err)
	require.NoError(t, m.Save(ctx, "abc", st))
	require.True(t, mr.Exists("session:abc:packages"))
	require.Equal(t, time.Hour, mr.TTL("session:abc:packages"))

	again, err := m.Load(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, 1, again.Len())
	require.Equal(t, uint64(2), again.NextID())

	other, err := m.Load(ctx, "other")
	require.NoError(t, err)
	require.Equal(t, 0, other.Len())

	again.Clear()
	require.NoError(t, m.Save(ctx, "abc", again))
	cleared, err := m.Load(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, 0, cleared.Len())
	require.Equal(t, uint64(1), cleared.NextID())
}

func TestManager_Expiry(t *testing.T) {
	mr := miniredis.RunT(t)
	m := New(rediscache.New(mr.Addr()), time.Minute)
	ctx := context.Background()

	st := sessionstore.New()
	_, err := st.CreatePackage(ctx, models.ExtractedFields{PickupCode: "6A28"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, m.Save(ctx, "abc", st))

	mr.FastForward(2 * time.Minute)
	st, err = m.Load(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, 0, st.Len())
}

func TestManager_Errors(t *testing.T) {
	m := New(brokenCache{}, 0)
	require.Equal(t, DefaultTTL, m.ttl)
	ctx := context.Background()

	_, err := m.Load(ctx, "")
	require.ErrorIs(t, err, ErrNoSession)
	require.ErrorIs(t, m.Save(ctx, "", sessionstore.New()), ErrNoSession)

	_, err = m.Load(ctx, "abc")
	require.ErrorContains(t, err, "load session")
	require.ErrorContains(t, m.Save(ctx, "abc", sessionstore.New()), "save session")
}

func TestManager_CorruptSnapshot(t *testing.T) {
	mr := miniredis.RunT(t)
	require.NoError(t, mr.Set("session:abc:packages", "not json"))

	m := New(rediscache.New(mr.Addr()), time.Hour)
	_, err := m.Load(context.Background(), "abc")
	require.ErrorContains(t, err, "restore session abc")
}

func TestManager_LockIsExclusive(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := rediscache.New(mr.Addr())
	m := New(rc, time.Hour).WithLocker(rc)
	m.lockWait = 100 * time.Millisecond
	ctx := context.Background()

	unlock, err := m.Lock(ctx, "abc")
	require.NoError(t, err)
	require.True(t, mr.Exists("session:abc:lock"))

	_, err = m.Lock(ctx, "abc")
	require.ErrorIs(t, err, ErrSessionBusy)

	// другие сессии не блокируются
	unlockOther, err := m.Lock(ctx, "other")
	require.NoError(t, err)
	unlockOther()

	unlock()
	require.False(t, mr.Exists("session:abc:lock"))

	unlock, err = m.Lock(ctx, "abc")
	require.NoError(t, err)
	unlock()
}

func TestManager_LockWaitsForRelease(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := rediscache.New(mr.Addr())
	m := New(rc, time.Hour).WithLocker(rc)
	ctx := context.Background()

	unlock, err := m.Lock(ctx, "abc")
	require.NoError(t, err)
	time.AfterFunc(50*time.Millisecond, unlock)

	unlock2, err := m.Lock(ctx, "abc")
	require.NoError(t, err)
	unlock2()
}

func TestManager_LockCanceled(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := rediscache.New(mr.Addr())
	m := New(rc, time.Hour).WithLocker(rc)

	unlock, err := m.Lock(context.Background(), "abc")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Lock(ctx, "abc")
	require.ErrorIs(t, err, context.Canceled)
}

func TestManager_LockWithoutLocker(t *testing.T) {
	m := New(brokenCache{}, time.Hour)
	unlock, err := m.Lock(context.Background(), "abc")
	require.NoError(t, err)
	unlock()

	_, err = m.Lock(context.Background(), "")
	require.ErrorIs(t, err, ErrNoSession)
}

func TestManager_ConcurrentCreatesKeepEveryPackage(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := rediscache.New(mr.Addr())
	m := New(rc, time.Hour).WithLocker(rc)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := m.Lock(ctx, "abc")
			if err != nil {
				errs <- err
				return
			}
			defer unlock()

			st, err := m.Load(ctx, "abc")
			if err != nil {
				errs <- err
				return
			}
			if _, err := st.CreatePackage(ctx, models.ExtractedFields{PickupCode: "6A28"}, time.Now()); err != nil {
				errs <- err
				return
			}
			errs <- m.Save(ctx, "abc", st)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	st, err := m.Load(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, n, st.Len())
	require.Equal(t, uint64(n+1), st.NextID())
}
