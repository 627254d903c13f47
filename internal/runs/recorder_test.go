package runs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/ocrfarm/coordinator/database"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRecordRoundTrip(t *testing.T) {
	t.Parallel()

	pool, cleanup := database.SetupTestDB(t)
	t.Cleanup(cleanup)

	ctx := context.Background()
	fc := testingclock.NewFakeClock(baseTime)
	r := NewRecorder(pool, WithClock(fc))

	started := baseTime.Add(-90 * time.Second)
	ended := baseTime
	full := Record{
		BatchID:     Ptr("batch-7"),
		FileName:    Ptr("page_003.jpg"),
		ProfileID:   Ptr("gemini-1"),
		Status:      Ptr(StatusLimit),
		ErrorType:   Ptr("RateLimited"),
		ErrorDetail: Ptr("quota exhausted"),
		ArtifactRef: Ptr("s3://ocr/out/page_003.md"),
		Timings: map[string]time.Duration{
			"upload":  1500 * time.Millisecond,
			"extract": 42 * time.Second,
		},
		StartedAt:  &started,
		EndedAt:    &ended,
		WorkerHost: Ptr("ocr-03"),
		WorkerPID:  Ptr(4242),
		Usage:      &Usage{Model: "gemini-2.5-pro", TokensIn: 1200, TokensOut: 800, TokensTotal: 2000},
	}

	id, err := r.Record(ctx, full)
	require.NoError(t, err)
	assert.Positive(t, id)

	got, err := r.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	full.ID = id
	full.CreatedAt = baseTime
	assert.Equal(t, &full, got)
	assert.Equal(t, 90*time.Second, got.Duration())

	// Every optional field stays NULL, not zero.
	id, err = r.Record(ctx, Record{})
	require.NoError(t, err)
	got, err = r.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Nil(t, got.BatchID)
	assert.Nil(t, got.FileName)
	assert.Nil(t, got.ProfileID)
	assert.Nil(t, got.Status)
	assert.Nil(t, got.ErrorType)
	assert.Nil(t, got.ErrorDetail)
	assert.Nil(t, got.ArtifactRef)
	assert.Nil(t, got.Timings)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.EndedAt)
	assert.Nil(t, got.WorkerHost)
	assert.Nil(t, got.WorkerPID)
	assert.Nil(t, got.Usage)
	assert.Zero(t, got.Duration())

	// Empty but present timings survive as an empty map.
	id, err = r.Record(ctx, Record{Timings: map[string]time.Duration{}})
	require.NoError(t, err)
	got, err = r.Get(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, got.Timings)
	assert.Empty(t, got.Timings)

	missing, err := r.Get(ctx, 999999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRecordUnknownStatus(t *testing.T) {
	t.Parallel()

	pool, cleanup := database.SetupTestDB(t)
	t.Cleanup(cleanup)

	ctx := context.Background()
	r := NewRecorder(pool)

	id, err := r.Record(ctx, Record{Status: Ptr("CAPTCHA")})
	require.NoError(t, err)

	got, err := r.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got.Status)
	assert.Equal(t, "CAPTCHA", *got.Status)
}

func TestListLatestAndSummary(t *testing.T) {
	t.Parallel()

	pool, cleanup := database.SetupTestDB(t)
	t.Cleanup(cleanup)

	ctx := context.Background()
	fc := testingclock.NewFakeClock(baseTime)
	r := NewRecorder(pool, WithClock(fc))

	record := func(profile, file, status string, dur time.Duration) {
		t.Helper()
		start := fc.Now()
		end := start.Add(dur)
		_, err := r.Record(ctx, Record{
			BatchID:   Ptr("batch-7"),
			ProfileID: Ptr(profile),
			FileName:  Ptr(file),
			Status:    Ptr(status),
			StartedAt: &start,
			EndedAt:   &end,
			Usage:     &Usage{TokensTotal: int64(dur / time.Second)},
		})
		require.NoError(t, err)
		fc.Step(time.Second)
	}

	record("gemini-1", "page_001.jpg", StatusOK, 10*time.Second)
	record("gemini-1", "page_002.jpg", StatusOK, 20*time.Second)
	record("gemini-1", "page_003.jpg", StatusLimit, 4*time.Second)
	record("gemini-2", "page_003.jpg", StatusOK, 30*time.Second)
	record("gemini-2", "page_004.jpg", StatusError, 2*time.Second)

	all, err := r.List(ctx, Filter{}, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, "page_004.jpg", *all[0].FileName, "newest first")

	limited, err := r.List(ctx, Filter{ProfileID: "gemini-1"}, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	latest, err := r.Latest(ctx, Filter{FileName: "page_003.jpg"})
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "gemini-2", *latest.ProfileID)

	latest, err = r.Latest(ctx, Filter{ProfileID: "gemini-3"})
	require.NoError(t, err)
	assert.Nil(t, latest)

	summary, err := r.Summary(ctx, baseTime)
	require.NoError(t, err)
	assert.Equal(t, []Summary{
		{ProfileID: "gemini-1", Status: StatusLimit, Total: 1, AvgDuration: 4 * time.Second, TokensTotal: 4},
		{ProfileID: "gemini-1", Status: StatusOK, Total: 2, AvgDuration: 15 * time.Second, TokensTotal: 30},
		{ProfileID: "gemini-2", Status: StatusError, Total: 1, AvgDuration: 2 * time.Second, TokensTotal: 2},
		{ProfileID: "gemini-2", Status: StatusOK, Total: 1, AvgDuration: 30 * time.Second, TokensTotal: 30},
	}, summary)

	recent, err := r.Summary(ctx, baseTime.Add(3*time.Second))
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	done, err := r.SucceededFiles(ctx, "batch-7")
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{
		"page_001.jpg": {},
		"page_002.jpg": {},
		"page_003.jpg": {},
	}, done)
}

func TestRecordsAreAppendOnly(t *testing.T) {
	t.Parallel()

	pool, cleanup := database.SetupTestDB(t)
	t.Cleanup(cleanup)

	ctx := context.Background()
	r := NewRecorder(pool)

	id, err := r.Record(ctx, Record{Status: Ptr(StatusOK)})
	require.NoError(t, err)

	_, err = pool.Exec(ctx, "UPDATE run_records SET status = 'ERROR' WHERE id = $1", id)
	require.ErrorContains(t, err, "append-only")

	_, err = pool.Exec(ctx, "DELETE FROM run_records WHERE id = $1", id)
	require.ErrorContains(t, err, "append-only")
}

func TestRecordCleansInvalidText(t *testing.T) {
	t.Parallel()

	pool, cleanup := database.SetupTestDB(t)
	t.Cleanup(cleanup)

	ctx := context.Background()
	r := NewRecorder(pool)

	// A stderr capture cut inside a multi-byte rune, plus a NUL byte.
	detail := "executor command failed: exit status 3: quota " + "€"[:2]
	id, err := r.Record(ctx, Record{
		FileName:    Ptr("page_\x00003.jpg"),
		Status:      Ptr(StatusError),
		ErrorDetail: &detail,
		WorkerHost:  Ptr("ocr-03\xff"),
	})
	require.NoError(t, err)

	got, err := r.Get(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "executor command failed: exit status 3: quota \uFFFD", *got.ErrorDetail)
	assert.Equal(t, "page_003.jpg", *got.FileName)
	assert.Equal(t, "ocr-03\uFFFD", *got.WorkerHost)
}

func TestPrune(t *testing.T) {
	t.Parallel()

	pool, cleanup := database.SetupTestDB(t)
	t.Cleanup(cleanup)

	ctx := context.Background()
	fc := testingclock.NewFakeClock(baseTime)
	r := NewRecorder(pool, WithClock(fc))

	oldID, err := r.Record(ctx, Record{Status: Ptr(StatusOK)})
	require.NoError(t, err)
	fc.Step(48 * time.Hour)
	newID, err := r.Record(ctx, Record{Status: Ptr(StatusOK)})
	require.NoError(t, err)

	_, err = r.Prune(ctx, 0)
	require.Error(t, err)

	n, err := r.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	gone, err := r.Get(ctx, oldID)
	require.NoError(t, err)
	assert.Nil(t, gone)
	kept, err := r.Get(ctx, newID)
	require.NoError(t, err)
	assert.NotNil(t, kept)

	p := NewPruner(r, 24*time.Hour)
	assert.Equal(t, "run-retention", p.Name())
	require.NoError(t, p.Run(ctx))

	// Outside Prune the table still refuses deletes.
	_, err = pool.Exec(ctx, "DELETE FROM run_records WHERE id = $1", newID)
	require.ErrorContains(t, err, "append-only")
}

func TestKnownStatus(t *testing.T) {
	t.Parallel()

	for _, s := range []string{StatusOK, StatusLimit, StatusError, StatusSkipped, StatusTimeout} {
		assert.True(t, KnownStatus(s), s)
	}
	assert.False(t, KnownStatus("ok"))
	assert.False(t, KnownStatus(""))
}
