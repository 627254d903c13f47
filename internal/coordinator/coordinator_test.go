package coordinator_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/ocrfarm/coordinator/internal/alerts"
	"github.com/ocrfarm/coordinator/internal/coordinator"
	"github.com/ocrfarm/coordinator/internal/coordinator/mocks"
	"github.com/ocrfarm/coordinator/internal/lock"
	"github.com/ocrfarm/coordinator/internal/profile"
	"github.com/ocrfarm/coordinator/internal/runs"
)

const (
	testProfile = "gemini-1"
	testOwner   = "ocr-03/4242/gemini-1"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	locker   *mocks.MockLocker
	profiles *mocks.MockProfileStore
	recorder *mocks.MockRecorder
	alerter  *mocks.MockAlerter
	executor *mocks.MockExecutor
	clock    *testingclock.FakeClock
	coord    *coordinator.Coordinator
}

func newFixture(t *testing.T, opts ...coordinator.Option) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &fixture{
		locker:   mocks.NewMockLocker(ctrl),
		profiles: mocks.NewMockProfileStore(ctrl),
		recorder: mocks.NewMockRecorder(ctrl),
		alerter:  mocks.NewMockAlerter(ctrl),
		executor: mocks.NewMockExecutor(ctrl),
		clock:    testingclock.NewFakeClock(baseTime),
	}
	opts = append([]coordinator.Option{
		coordinator.WithOwnerID(testOwner),
		coordinator.WithWorkerInfo("ocr-03", 4242, "v1.4.0"),
		coordinator.WithClock(f.clock),
		coordinator.WithPausePolicy(3*time.Minute, time.Hour),
		coordinator.WithAlerter(f.alerter),
	}, opts...)
	f.coord = coordinator.New(f.locker, f.profiles, f.recorder, f.executor, opts...)
	return f
}

func (f *fixture) expectUnpaused() {
	f.profiles.EXPECT().GetState(gomock.Any(), testProfile).Return(&profile.State{ProfileID: testProfile}, nil)
}

func (f *fixture) expectAcquire(unitID string) {
	f.locker.EXPECT().Acquire(gomock.Any(), unitID, testOwner).
		Return(lock.AcquireResult{Acquired: true, Lock: lock.Lock{UnitID: unitID, OwnerID: testOwner}}, nil)
}

func (f *fixture) expectRelease(unitID string) *gomock.Call {
	return f.locker.EXPECT().Release(gomock.Any(), unitID, testOwner).Return(true, nil)
}

func (f *fixture) expectHeartbeat() {
	f.profiles.EXPECT().Heartbeat(gomock.Any(), testProfile, gomock.Any()).Return(nil)
}

var page003 = coordinator.Unit{ID: "page_003.jpg", Path: "/srv/ocr/in/page_003.jpg", BatchID: "batch-7"}

func TestTryWorkPausedProfileSkipsLocker(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	until := baseTime.Add(90 * time.Second)
	f.profiles.EXPECT().GetState(gomock.Any(), testProfile).Return(&profile.State{
		ProfileID:   testProfile,
		Paused:      true,
		PauseUntil:  &until,
		PauseReason: profile.ReasonRateLimit,
	}, nil)

	out, err := f.coord.TryWork(context.Background(), testProfile, coordinator.Only(page003))
	require.NoError(t, err)
	assert.Equal(t, coordinator.DecisionDenied, out.Decision)
	assert.Equal(t, coordinator.ReasonRateLimited, out.Reason)
	assert.Equal(t, 90*time.Second, out.RetryAfter)
	assert.Equal(t, &until, out.PauseUntil)
	assert.False(t, out.Proceeded())
}

func TestTryWorkExpiredPauseProceeds(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	past := baseTime.Add(-time.Second)
	f.profiles.EXPECT().GetState(gomock.Any(), testProfile).
		Return(&profile.State{ProfileID: testProfile, Paused: true, PauseUntil: &past}, nil)
	f.expectAcquire(page003.ID)
	f.expectHeartbeat()
	f.executor.EXPECT().Execute(gomock.Any(), page003).Return(coordinator.Result{}, nil)
	f.recorder.EXPECT().Record(gomock.Any(), gomock.Any()).Return(int64(1), nil)
	f.expectRelease(page003.ID)

	out, err := f.coord.TryWork(context.Background(), testProfile, coordinator.Only(page003))
	require.NoError(t, err)
	assert.True(t, out.Proceeded())
}

func TestTryWorkStoreUnavailable(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.profiles.EXPECT().GetState(gomock.Any(), testProfile).Return(nil, errors.New("connection refused"))

	out, err := f.coord.TryWork(context.Background(), testProfile, coordinator.Only(page003))
	require.ErrorContains(t, err, "connection refused")
	assert.Equal(t, coordinator.DecisionDenied, out.Decision)
	assert.Equal(t, coordinator.ReasonStoreUnavailable, out.Reason)
}

func TestTryWorkAcquireFailsClosed(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.expectUnpaused()
	f.locker.EXPECT().Acquire(gomock.Any(), page003.ID, testOwner).
		Return(lock.AcquireResult{}, errors.New("i/o timeout"))

	out, err := f.coord.TryWork(context.Background(), testProfile, coordinator.Only(page003))
	require.Error(t, err)
	assert.Equal(t, coordinator.ReasonStoreUnavailable, out.Reason)
	assert.False(t, out.Proceeded())
}

func TestTryWorkNoCandidate(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.expectUnpaused()
	none := coordinator.SelectorFunc(func(context.Context) (coordinator.Unit, bool, error) {
		return coordinator.Unit{}, false, nil
	})

	out, err := f.coord.TryWork(context.Background(), testProfile, none)
	require.NoError(t, err)
	assert.Equal(t, coordinator.ReasonNoCandidate, out.Reason)

	f.expectUnpaused()
	broken := coordinator.SelectorFunc(func(context.Context) (coordinator.Unit, bool, error) {
		return coordinator.Unit{}, false, errors.New("permission denied")
	})
	out, err = f.coord.TryWork(context.Background(), testProfile, broken)
	require.ErrorContains(t, err, "permission denied")
	assert.Equal(t, coordinator.ReasonNoCandidate, out.Reason)
}

func TestTryWorkAlreadyLocked(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.expectUnpaused()
	holder := &lock.Lock{UnitID: page003.ID, OwnerID: "ocr-01/77/gemini-2", AcquiredAt: baseTime}
	f.locker.EXPECT().Acquire(gomock.Any(), page003.ID, testOwner).
		Return(lock.AcquireResult{Acquired: false, Holder: holder}, nil)

	out, err := f.coord.TryWork(context.Background(), testProfile, coordinator.Only(page003))
	require.NoError(t, err)
	assert.Equal(t, coordinator.ReasonAlreadyLocked, out.Reason)
	assert.Equal(t, holder, out.Holder)
	assert.Equal(t, page003.ID, out.Unit.ID)
}

func TestTryWorkSuccess(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.expectUnpaused()
	f.expectAcquire(page003.ID)
	f.profiles.EXPECT().Heartbeat(gomock.Any(), testProfile, profile.Heartbeat{
		WorkerPID: 4242,
		Action:    "processing page_003.jpg",
		Metadata:  map[string]any{profile.MetadataWorkerVersion: "v1.4.0"},
	}).Return(nil)

	timings := map[string]time.Duration{"extract": 12 * time.Second}
	f.executor.EXPECT().Execute(gomock.Any(), page003).DoAndReturn(
		func(context.Context, coordinator.Unit) (coordinator.Result, error) {
			f.clock.Step(12 * time.Second)
			return coordinator.Result{Timings: timings, ArtifactRef: "out/page_003.md"}, nil
		})

	var recorded runs.Record
	record := f.recorder.EXPECT().Record(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, rec runs.Record) (int64, error) {
			recorded = rec
			return 17, nil
		})
	f.expectRelease(page003.ID).After(record)

	out, err := f.coord.TryWork(context.Background(), testProfile, coordinator.Only(page003))
	require.NoError(t, err)
	assert.True(t, out.Proceeded())
	assert.Equal(t, runs.StatusOK, out.Status)
	assert.Equal(t, int64(17), out.RecordID)
	assert.Nil(t, out.PauseUntil)
	require.NoError(t, out.ExecErr)

	require.NotNil(t, recorded.Status)
	assert.Equal(t, runs.StatusOK, *recorded.Status)
	assert.Equal(t, "page_003.jpg", *recorded.FileName)
	assert.Equal(t, "batch-7", *recorded.BatchID)
	assert.Equal(t, testProfile, *recorded.ProfileID)
	assert.Equal(t, "out/page_003.md", *recorded.ArtifactRef)
	assert.Equal(t, "ocr-03", *recorded.WorkerHost)
	assert.Equal(t, 4242, *recorded.WorkerPID)
	assert.Equal(t, timings, recorded.Timings)
	assert.Equal(t, baseTime, *recorded.StartedAt)
	assert.Equal(t, baseTime.Add(12*time.Second), *recorded.EndedAt)
	assert.Nil(t, recorded.ErrorType)
	assert.Nil(t, recorded.ErrorDetail)
}

func TestTryWorkRateLimitPause(t *testing.T) {
	t.Parallel()

	resetAt := baseTime.Add(20 * time.Minute)
	past := baseTime.Add(-time.Minute)

	tests := []struct {
		name      string
		result    coordinator.Result
		wantUntil time.Time
	}{
		{
			name:      "reset_time_plus_buffer",
			result:    coordinator.Result{RateLimited: true, ResetAt: &resetAt},
			wantUntil: resetAt.Add(3 * time.Minute),
		},
		{
			name:      "no_reset_time_uses_fallback",
			result:    coordinator.Result{RateLimited: true},
			wantUntil: baseTime.Add(time.Hour),
		},
		{
			name:      "reset_time_in_past_uses_fallback",
			result:    coordinator.Result{RateLimited: true, ResetAt: &past},
			wantUntil: baseTime.Add(time.Hour),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			f.expectUnpaused()
			f.expectAcquire(page003.ID)
			f.expectHeartbeat()
			f.executor.EXPECT().Execute(gomock.Any(), page003).Return(tt.result, nil)
			f.profiles.EXPECT().SetPause(gomock.Any(), testProfile, tt.wantUntil, profile.ReasonRateLimit).Return(nil)
			f.recorder.EXPECT().Record(gomock.Any(), gomock.Any()).DoAndReturn(
				func(_ context.Context, rec runs.Record) (int64, error) {
					assert.Equal(t, runs.StatusLimit, *rec.Status)
					assert.Equal(t, coordinator.ErrorTypeRateLimited, *rec.ErrorType)
					return 3, nil
				})
			f.expectRelease(page003.ID)

			out, err := f.coord.TryWork(context.Background(), testProfile, coordinator.Only(page003))
			require.NoError(t, err)
			assert.True(t, out.Proceeded())
			assert.Equal(t, runs.StatusLimit, out.Status)
			require.NotNil(t, out.PauseUntil)
			assert.Equal(t, tt.wantUntil, *out.PauseUntil)
		})
	}
}

func TestTryWorkExecutorFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.expectUnpaused()
	f.expectAcquire(page003.ID)
	f.expectHeartbeat()
	f.executor.EXPECT().Execute(gomock.Any(), page003).
		Return(coordinator.Result{}, errors.New("browser exited with status 1"))
	f.recorder.EXPECT().Record(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, rec runs.Record) (int64, error) {
			assert.Equal(t, runs.StatusError, *rec.Status)
			assert.Equal(t, coordinator.ErrorTypeExecutorFailure, *rec.ErrorType)
			assert.Equal(t, "browser exited with status 1", *rec.ErrorDetail)
			return 5, nil
		})
	f.alerter.EXPECT().Raise(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, a alerts.Alert) (int64, error) {
			assert.Equal(t, alerts.KindExecutorFailure, a.Kind)
			assert.Equal(t, testProfile, a.ProfileID)
			assert.Contains(t, a.Message, "page_003.jpg")
			return 1, nil
		})
	f.expectRelease(page003.ID)

	out, err := f.coord.TryWork(context.Background(), testProfile, coordinator.Only(page003))
	require.NoError(t, err)
	assert.True(t, out.Proceeded())
	assert.Equal(t, runs.StatusError, out.Status)
	require.Error(t, out.ExecErr)
}

func TestTryWorkTimeout(t *testing.T) {
	t.Parallel()

	f := newFixture(t, coordinator.WithExecutionTimeout(50*time.Millisecond))
	f.expectUnpaused()
	f.expectAcquire(page003.ID)
	f.expectHeartbeat()
	f.executor.EXPECT().Execute(gomock.Any(), page003).DoAndReturn(
		func(ctx context.Context, _ coordinator.Unit) (coordinator.Result, error) {
			<-ctx.Done()
			return coordinator.Result{}, ctx.Err()
		})
	f.recorder.EXPECT().Record(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, rec runs.Record) (int64, error) {
			require.NoError(t, ctx.Err())
			assert.Equal(t, runs.StatusTimeout, *rec.Status)
			assert.Equal(t, coordinator.ErrorTypeTimeout, *rec.ErrorType)
			return 9, nil
		})
	f.alerter.EXPECT().Raise(gomock.Any(), gomock.Any()).Return(int64(1), nil)
	f.locker.EXPECT().Release(gomock.Any(), page003.ID, testOwner).DoAndReturn(
		func(ctx context.Context, _, _ string) (bool, error) {
			require.NoError(t, ctx.Err())
			return true, nil
		})

	out, err := f.coord.TryWork(context.Background(), testProfile, coordinator.Only(page003))
	require.NoError(t, err)
	assert.Equal(t, runs.StatusTimeout, out.Status)
}

func TestTryWorkReleasesAfterCallerCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.expectUnpaused()
	f.expectAcquire(page003.ID)
	f.expectHeartbeat()
	f.executor.EXPECT().Execute(gomock.Any(), page003).DoAndReturn(
		func(ctx context.Context, _ coordinator.Unit) (coordinator.Result, error) {
			cancel()
			return coordinator.Result{}, ctx.Err()
		})
	f.recorder.EXPECT().Record(gomock.Any(), gomock.Any()).Return(int64(2), nil)
	f.alerter.EXPECT().Raise(gomock.Any(), gomock.Any()).Return(int64(1), nil)
	f.locker.EXPECT().Release(gomock.Any(), page003.ID, testOwner).DoAndReturn(
		func(ctx context.Context, _, _ string) (bool, error) {
			require.NoError(t, ctx.Err(), "release must not inherit the caller's cancellation")
			return true, nil
		})

	out, err := f.coord.TryWork(ctx, testProfile, coordinator.Only(page003))
	require.NoError(t, err)
	assert.Equal(t, runs.StatusError, out.Status)
}

func TestTryWorkRecordsAndReleasesOnPanic(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.expectUnpaused()
	f.expectAcquire(page003.ID)
	f.expectHeartbeat()
	f.executor.EXPECT().Execute(gomock.Any(), page003).DoAndReturn(
		func(context.Context, coordinator.Unit) (coordinator.Result, error) {
			panic("executor blew up")
		})

	var rec runs.Record
	recorded := f.recorder.EXPECT().Record(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, r runs.Record) (int64, error) {
			rec = r
			return int64(9), nil
		})
	var alert alerts.Alert
	raised := f.alerter.EXPECT().Raise(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, a alerts.Alert) (int64, error) {
			alert = a
			return int64(3), nil
		}).After(recorded)
	f.expectRelease(page003.ID).After(raised)

	assert.PanicsWithValue(t, "executor blew up", func() {
		_, _ = f.coord.TryWork(context.Background(), testProfile, coordinator.Only(page003))
	})

	require.NotNil(t, rec.Status)
	assert.Equal(t, runs.StatusError, *rec.Status)
	require.NotNil(t, rec.ErrorType)
	assert.Equal(t, coordinator.ErrorTypeExecutorFailure, *rec.ErrorType)
	require.NotNil(t, rec.ErrorDetail)
	assert.Contains(t, *rec.ErrorDetail, "executor blew up")
	assert.Equal(t, alerts.KindExecutorFailure, alert.Kind)
	assert.Equal(t, testProfile, alert.ProfileID)
}

func TestTryWorkRecordFailsOpen(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.expectUnpaused()
	f.expectAcquire(page003.ID)
	f.profiles.EXPECT().Heartbeat(gomock.Any(), testProfile, gomock.Any()).Return(errors.New("heartbeat lost"))
	f.executor.EXPECT().Execute(gomock.Any(), page003).Return(coordinator.Result{Status: runs.StatusSkipped}, nil)
	f.recorder.EXPECT().Record(gomock.Any(), gomock.Any()).Return(int64(0), errors.New("disk full"))
	f.expectRelease(page003.ID)

	out, err := f.coord.TryWork(context.Background(), testProfile, coordinator.Only(page003))
	require.NoError(t, err)
	assert.True(t, out.Proceeded())
	assert.Equal(t, runs.StatusSkipped, out.Status)
	assert.Zero(t, out.RecordID)
}

func TestTryWorkReleaseErrorIsLogged(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.expectUnpaused()
	f.expectAcquire(page003.ID)
	f.expectHeartbeat()
	f.executor.EXPECT().Execute(gomock.Any(), page003).Return(coordinator.Result{}, nil)
	f.recorder.EXPECT().Record(gomock.Any(), gomock.Any()).Return(int64(4), nil)
	f.locker.EXPECT().Release(gomock.Any(), page003.ID, testOwner).Return(false, errors.New("conn reset"))

	out, err := f.coord.TryWork(context.Background(), testProfile, coordinator.Only(page003))
	require.NoError(t, err)
	assert.True(t, out.Proceeded())
}

func TestDefaultOwnerID(t *testing.T) {
	t.Parallel()

	c := coordinator.New(nil, nil, nil, nil, coordinator.WithWorkerInfo("ocr-07", 99, ""))
	assert.Equal(t, "ocr-07/99", c.OwnerID())
}
