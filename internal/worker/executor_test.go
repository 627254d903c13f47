package worker

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ocrfarm/coordinator/internal/coordinator"
	"github.com/ocrfarm/coordinator/internal/runs"
)

func shell(t *testing.T, script string) *CommandExecutor {
	t.Helper()
	e, err := NewCommandExecutor([]string{"/bin/sh", "-c", script, "ocr-run"}, "OCR_EXTRA=1")
	require.NoError(t, err)
	e.waitDelay = time.Second
	return e
}

var unit = coordinator.Unit{ID: "page_003.jpg", Path: "/srv/ocr/in/page_003.jpg", BatchID: "batch-7"}

func TestCommandExecutor_Success(t *testing.T) {
	t.Parallel()

	e := shell(t, `echo "starting $1"
echo '{"status":"ok","timings_ms":{"upload":1500,"extract":250.5},"artifact_ref":"out/'"$OCR_UNIT_ID"'.md"}'`)

	res, err := e.Execute(context.Background(), unit)
	require.NoError(t, err)
	assert.Equal(t, runs.StatusOK, res.Status)
	assert.Equal(t, "out/page_003.jpg.md", res.ArtifactRef)
	assert.Equal(t, map[string]time.Duration{
		"upload":  1500 * time.Millisecond,
		"extract": 250500 * time.Microsecond,
	}, res.Timings)
	assert.False(t, res.RateLimited)
}

func TestCommandExecutor_Environment(t *testing.T) {
	t.Parallel()

	e := shell(t, `printf '{"status":"OK","artifact_ref":"%s|%s|%s|%s"}\n' "$1" "$OCR_UNIT_PATH" "$OCR_BATCH_ID" "$OCR_EXTRA"`)

	res, err := e.Execute(context.Background(), unit)
	require.NoError(t, err)
	assert.Equal(t, "/srv/ocr/in/page_003.jpg|/srv/ocr/in/page_003.jpg|batch-7|1", res.ArtifactRef)
}

func TestCommandExecutor_RateLimited(t *testing.T) {
	t.Parallel()

	e := shell(t, `echo '{"status":"LIMIT","rate_limited":true,"reset_at":"2026-03-01T13:00:00Z"}'; exit 3`)

	res, err := e.Execute(context.Background(), unit)
	require.NoError(t, err)
	assert.True(t, res.RateLimited)
	require.NotNil(t, res.ResetAt)
	assert.Equal(t, time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC), res.ResetAt.UTC())
}

func TestCommandExecutor_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		script  string
		wantErr string
		wantIs  error
	}{
		{
			name:    "non_zero_exit_reports_stderr",
			script:  `echo "chrome crashed" >&2; exit 1`,
			wantErr: "chrome crashed",
		},
		{
			name:    "non_zero_exit_reports_outcome_error",
			script:  `echo '{"status":"ERROR","error":"upload rejected"}'; exit 2`,
			wantErr: "upload rejected",
		},
		{
			name:   "no_output",
			script: `true`,
			wantIs: ErrInvalidOutput,
		},
		{
			name:   "garbage_output",
			script: `echo 'not json'`,
			wantIs: ErrInvalidOutput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := shell(t, tt.script).Execute(context.Background(), unit)
			require.Error(t, err)
			if tt.wantErr != "" {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
			if tt.wantIs != nil {
				require.ErrorIs(t, err, tt.wantIs)
			}
		})
	}
}

func TestCommandExecutor_Timeout(t *testing.T) {
	t.Parallel()

	e := shell(t, `sleep 10`)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := e.Execute(ctx, unit)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestNewCommandExecutor_RequiresCommand(t *testing.T) {
	t.Parallel()

	_, err := NewCommandExecutor(nil)
	require.Error(t, err)
	_, err = NewCommandExecutor([]string{""})
	require.Error(t, err)
}

func TestLimitedBuffer(t *testing.T) {
	t.Parallel()

	b := &limitedBuffer{max: 4}
	n, err := b.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	_, _ = b.Write([]byte("gh"))
	assert.Equal(t, "abcd", b.String())
}

func TestLimitedBuffer_RuneBoundary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		max    int
		writes []string
		want   string
	}{
		{name: "cut before a split rune", max: 4, writes: []string{"ab€"}, want: "ab"},
		{name: "rune fits exactly", max: 5, writes: []string{"ab€"}, want: "ab€"},
		{name: "full after the cut", max: 4, writes: []string{"ab€", "c"}, want: "ab"},
		{name: "rune split across writes", max: 8, writes: []string{"ab\xe2\x82", "\xacd"}, want: "ab€d"},
		{name: "invalid source bytes", max: 8, writes: []string{"ab\xffcd"}, want: "ab\uFFFDcd"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b := &limitedBuffer{max: tt.max}
			for _, w := range tt.writes {
				n, err := b.Write([]byte(w))
				require.NoError(t, err)
				assert.Equal(t, len(w), n)
			}
			assert.Equal(t, tt.want, b.String())
			assert.True(t, utf8.ValidString(b.String()))
		})
	}
}

func TestCommandExecutor_MultiByteStderr(t *testing.T) {
	t.Parallel()

	// 1400 euro signs are 4200 bytes; the capture limit falls inside a rune.
	e := shell(t, `i=0; while [ $i -lt 1400 ]; do printf '€' >&2; i=$((i+1)); done; exit 3`)

	_, err := e.Execute(context.Background(), unit)
	require.Error(t, err)
	assert.True(t, utf8.ValidString(err.Error()), "error text must be valid UTF-8")
	assert.Contains(t, err.Error(), "exit status 3")
	assert.Equal(t, maxStderr/3, strings.Count(err.Error(), "€"))
}

func TestCommandExecutor_Usage(t *testing.T) {
	t.Parallel()

	e := shell(t, `echo '{"status":"OK","usage":{"model":"gemini-2.5-pro","tokens_in":1200,"tokens_out":800}}'`)

	res, err := e.Execute(context.Background(), unit)
	require.NoError(t, err)
	assert.Equal(t, &runs.Usage{Model: "gemini-2.5-pro", TokensIn: 1200, TokensOut: 800, TokensTotal: 2000}, res.Usage)

	res, err = shell(t, `echo '{"status":"OK"}'`).Execute(context.Background(), unit)
	require.NoError(t, err)
	assert.Nil(t, res.Usage)
}
