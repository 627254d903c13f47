package lock

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/ocrfarm/coordinator/database"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestAcquireAndRelease(t *testing.T) {
	t.Parallel()

	pool, cleanup := database.SetupTestDB(t)
	t.Cleanup(cleanup)

	ctx := context.Background()
	fc := testingclock.NewFakeClock(baseTime)
	m := NewManager(pool, WithClock(fc))

	res, err := m.Acquire(ctx, "page_003.jpg", "host-a/101/gemini-1")
	require.NoError(t, err)
	require.True(t, res.Acquired)
	assert.Equal(t, "page_003.jpg", res.Lock.UnitID)
	assert.Equal(t, baseTime, res.Lock.AcquiredAt)

	// A second owner is denied and told who holds the unit.
	res, err = m.Acquire(ctx, "page_003.jpg", "host-b/202/gemini-2")
	require.NoError(t, err)
	require.False(t, res.Acquired)
	require.NotNil(t, res.Holder)
	assert.Equal(t, "host-a/101/gemini-1", res.Holder.OwnerID)

	// The holder itself cannot acquire twice either.
	res, err = m.Acquire(ctx, "page_003.jpg", "host-a/101/gemini-1")
	require.NoError(t, err)
	assert.False(t, res.Acquired)

	// Release by a non-owner leaves the lock in place.
	released, err := m.Release(ctx, "page_003.jpg", "host-b/202/gemini-2")
	require.NoError(t, err)
	assert.False(t, released)

	held, err := m.Get(ctx, "page_003.jpg")
	require.NoError(t, err)
	require.NotNil(t, held)

	released, err = m.Release(ctx, "page_003.jpg", "host-a/101/gemini-1")
	require.NoError(t, err)
	assert.True(t, released)

	// Releasing again is a no-op.
	released, err = m.Release(ctx, "page_003.jpg", "host-a/101/gemini-1")
	require.NoError(t, err)
	assert.False(t, released)

	held, err = m.Get(ctx, "page_003.jpg")
	require.NoError(t, err)
	assert.Nil(t, held)

	// The unit is free again for anyone.
	res, err = m.Acquire(ctx, "page_003.jpg", "host-b/202/gemini-2")
	require.NoError(t, err)
	assert.True(t, res.Acquired)
}

func TestAcquireRejectsEmptyArguments(t *testing.T) {
	t.Parallel()

	m := NewManager(nil)
	_, err := m.Acquire(context.Background(), "", "owner")
	require.ErrorIs(t, err, ErrInvalidArgument)
	_, err = m.Acquire(context.Background(), "unit", "")
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = m.Sweep(context.Background(), 0)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestAcquireStorm(t *testing.T) {
	t.Parallel()

	pool, cleanup := database.SetupTestDB(t)
	t.Cleanup(cleanup)

	const workers = 32
	m := NewManager(pool)

	var winners atomic.Int32
	var g errgroup.Group
	start := make(chan struct{})
	for i := range workers {
		g.Go(func() error {
			<-start
			res, err := m.Acquire(context.Background(), "page_010.jpg", fmt.Sprintf("host/%d/p", i))
			if err != nil {
				return err
			}
			if res.Acquired {
				winners.Add(1)
			}
			return nil
		})
	}
	close(start)
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), winners.Load())

	n, err := m.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSweepBoundary(t *testing.T) {
	t.Parallel()

	pool, cleanup := database.SetupTestDB(t)
	t.Cleanup(cleanup)

	ctx := context.Background()
	fc := testingclock.NewFakeClock(baseTime)
	m := NewManager(pool, WithClock(fc))
	threshold := 3 * time.Minute

	res, err := m.Acquire(ctx, "page_001.jpg", "crashed-worker")
	require.NoError(t, err)
	require.True(t, res.Acquired)

	fc.SetTime(baseTime.Add(time.Minute))
	res, err = m.Acquire(ctx, "page_002.jpg", "live-worker")
	require.NoError(t, err)
	require.True(t, res.Acquired)

	// One millisecond short of the threshold nothing is swept.
	fc.SetTime(baseTime.Add(threshold - time.Millisecond))
	swept, err := m.Sweep(ctx, threshold)
	require.NoError(t, err)
	assert.Zero(t, swept)

	// At exactly the threshold the lock is stale.
	fc.SetTime(baseTime.Add(threshold))
	swept, err = m.Sweep(ctx, threshold)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	// Sweeping again removes nothing more.
	swept, err = m.Sweep(ctx, threshold)
	require.NoError(t, err)
	assert.Zero(t, swept)

	locks, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, locks, 1)
	assert.Equal(t, "page_002.jpg", locks[0].UnitID)

	// Past the threshold plus a millisecond, the younger lock goes too.
	fc.SetTime(baseTime.Add(time.Minute + threshold + time.Millisecond))
	swept, err = m.Sweep(ctx, threshold)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	// A swept unit can be acquired by a new owner.
	res, err = m.Acquire(ctx, "page_001.jpg", "new-worker")
	require.NoError(t, err)
	require.True(t, res.Acquired)

	// The crashed worker finishing late cannot release the new lease.
	released, err := m.Release(ctx, "page_001.jpg", "crashed-worker")
	require.NoError(t, err)
	assert.False(t, released)

	held, err := m.Get(ctx, "page_001.jpg")
	require.NoError(t, err)
	require.NotNil(t, held)
	assert.Equal(t, "new-worker", held.OwnerID)
}

func TestDatabaseClock(t *testing.T) {
	t.Parallel()

	pool, cleanup := database.SetupTestDB(t)
	t.Cleanup(cleanup)

	ctx := context.Background()
	m := NewManager(pool)

	res, err := m.Acquire(ctx, "page_004.jpg", "host-a/101/gemini-1")
	require.NoError(t, err)
	require.True(t, res.Acquired)

	var dbNow time.Time
	require.NoError(t, pool.QueryRow(ctx, "SELECT now()").Scan(&dbNow))
	assert.WithinDuration(t, dbNow, res.Lock.AcquiredAt, time.Minute)

	swept, err := m.Sweep(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, swept, "a fresh lease is not stale by the database clock")

	_, err = pool.Exec(ctx, "UPDATE locks SET acquired_at = now() - interval '2 hours' WHERE unit_id = $1", "page_004.jpg")
	require.NoError(t, err)

	swept, err = m.Sweep(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)
}

func TestConcurrentSweepsAreSafe(t *testing.T) {
	t.Parallel()

	pool, cleanup := database.SetupTestDB(t)
	t.Cleanup(cleanup)

	ctx := context.Background()
	fc := testingclock.NewFakeClock(baseTime)
	m := NewManager(pool, WithClock(fc))

	for i := range 10 {
		res, err := m.Acquire(ctx, fmt.Sprintf("page_%03d.jpg", i), "crashed-worker")
		require.NoError(t, err)
		require.True(t, res.Acquired)
	}
	fc.Step(time.Hour)

	var total atomic.Int32
	var g errgroup.Group
	for range 4 {
		g.Go(func() error {
			n, err := m.Sweep(ctx, time.Minute)
			total.Add(int32(n))
			return err
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(10), total.Load())
}

func TestReleaseAll(t *testing.T) {
	t.Parallel()

	pool, cleanup := database.SetupTestDB(t)
	t.Cleanup(cleanup)

	ctx := context.Background()
	m := NewManager(pool)

	for _, unit := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		_, err := m.Acquire(ctx, unit, "owner-1")
		require.NoError(t, err)
	}
	_, err := m.Acquire(ctx, "d.jpg", "owner-2")
	require.NoError(t, err)

	units, err := m.ReleaseAll(ctx, "owner-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.jpg", "b.jpg", "c.jpg"}, units)

	n, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	units, err = m.ReleaseAll(ctx, "owner-1")
	require.NoError(t, err)
	assert.Empty(t, units)
}

func TestAcquireFailsClosedOnStoreError(t *testing.T) {
	t.Parallel()

	pool, cleanup := database.SetupTestDB(t)
	t.Cleanup(cleanup)

	m := NewManager(pool)
	pool.Close()

	res, err := m.Acquire(context.Background(), "page_003.jpg", "owner")
	require.Error(t, err)
	assert.False(t, res.Acquired)
}

func TestSweeperTask(t *testing.T) {
	t.Parallel()

	pool, cleanup := database.SetupTestDB(t)
	t.Cleanup(cleanup)

	ctx := context.Background()
	fc := testingclock.NewFakeClock(baseTime)
	m := NewManager(pool, WithClock(fc))

	_, err := m.Acquire(ctx, "page_003.jpg", "crashed-worker")
	require.NoError(t, err)
	fc.Step(5 * time.Minute)

	s := NewSweeper(m, 3*time.Minute)
	assert.Equal(t, "lock-sweep", s.Name())
	require.NoError(t, s.Run(ctx))

	held, err := m.Get(ctx, "page_003.jpg")
	require.NoError(t, err)
	assert.Nil(t, held)
}
