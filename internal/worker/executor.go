package worker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ocrfarm/coordinator/internal/coordinator"
	"github.com/ocrfarm/coordinator/internal/runs"
)

// Environment passed to the executor command in addition to the process
// environment.
const (
	EnvUnitID   = "OCR_UNIT_ID"
	EnvUnitPath = "OCR_UNIT_PATH"
	EnvBatchID  = "OCR_BATCH_ID"
)

const (
	defaultWaitDelay = 5 * time.Second
	maxStderr        = 4096
)

// ErrInvalidOutput is returned when the command printed no outcome.
var ErrInvalidOutput = errors.New("executor printed no valid outcome")

// commandOutcome is the JSON line the command prints on stdout.
type commandOutcome struct {
	Status      string             `json:"status"`
	TimingsMS   map[string]float64 `json:"timings_ms"`
	RateLimited bool               `json:"rate_limited"`
	ResetAt     *time.Time         `json:"reset_at"`
	ArtifactRef string             `json:"artifact_ref"`
	ErrorType   string             `json:"error_type"`
	Error       string             `json:"error"`
	Usage       *commandUsage      `json:"usage"`
}

type commandUsage struct {
	Model       string `json:"model"`
	TokensIn    int64  `json:"tokens_in"`
	TokensOut   int64  `json:"tokens_out"`
	TokensTotal int64  `json:"tokens_total"`
}

// CommandExecutor runs an external command per unit. The unit path is
// appended as the last argument and the command reports its outcome as a
// JSON object on the last non-empty line of stdout.
type CommandExecutor struct {
	command   []string
	env       []string
	waitDelay time.Duration
}

var _ coordinator.Executor = (*CommandExecutor)(nil)

// NewCommandExecutor creates an executor for command. extraEnv entries are
// KEY=VALUE pairs added to every invocation.
func NewCommandExecutor(command []string, extraEnv ...string) (*CommandExecutor, error) {
	if len(command) == 0 || command[0] == "" {
		return nil, fmt.Errorf("executor command is required")
	}
	return &CommandExecutor{command: command, env: extraEnv, waitDelay: defaultWaitDelay}, nil
}

// Execute implements coordinator.Executor.
func (e *CommandExecutor) Execute(ctx context.Context, unit coordinator.Unit) (coordinator.Result, error) {
	target := unit.Path
	if target == "" {
		target = unit.ID
	}

	args := append(append([]string{}, e.command[1:]...), target)
	// #nosec G204 -- the command comes from operator configuration
	cmd := exec.CommandContext(ctx, e.command[0], args...)
	cmd.Env = append(os.Environ(), e.env...)
	cmd.Env = append(cmd.Env,
		EnvUnitID+"="+unit.ID,
		EnvUnitPath+"="+target,
		EnvBatchID+"="+unit.BatchID,
	)
	cmd.WaitDelay = e.waitDelay

	var stdout bytes.Buffer
	stderr := &limitedBuffer{max: maxStderr}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	runErr := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return coordinator.Result{}, fmt.Errorf("executor interrupted: %w", ctxErr)
	}

	result, parseErr := parseOutcome(stdout.Bytes())
	if runErr != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = result.Error
		}
		if parseErr == nil && result.RateLimited {
			// A command may exit non-zero when the provider refuses work.
			return result, nil
		}
		return result, fmt.Errorf("executor command failed: %w: %s", runErr, detail)
	}
	if parseErr != nil {
		return coordinator.Result{}, parseErr
	}
	return result, nil
}

func parseOutcome(stdout []byte) (coordinator.Result, error) {
	var last string
	sc := bufio.NewScanner(bytes.NewReader(stdout))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			last = line
		}
	}
	if last == "" {
		return coordinator.Result{}, ErrInvalidOutput
	}

	var out commandOutcome
	if err := json.Unmarshal([]byte(last), &out); err != nil {
		return coordinator.Result{}, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}

	result := coordinator.Result{
		Status:      strings.ToUpper(out.Status),
		RateLimited: out.RateLimited,
		ResetAt:     out.ResetAt,
		ArtifactRef: out.ArtifactRef,
		ErrorType:   out.ErrorType,
		Error:       out.Error,
	}
	if u := out.Usage; u != nil {
		total := u.TokensTotal
		if total == 0 {
			total = u.TokensIn + u.TokensOut
		}
		result.Usage = &runs.Usage{Model: u.Model, TokensIn: u.TokensIn, TokensOut: u.TokensOut, TokensTotal: total}
	}
	if out.TimingsMS != nil {
		result.Timings = make(map[string]time.Duration, len(out.TimingsMS))
		for stage, ms := range out.TimingsMS {
			result.Timings[stage] = time.Duration(ms * float64(time.Millisecond))
		}
	}
	return result, nil
}

// limitedBuffer keeps at most the first max bytes written to it, never
// ending inside a UTF-8 sequence.
type limitedBuffer struct {
	buf  bytes.Buffer
	max  int
	full bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if b.full {
		return len(p), nil
	}
	room := b.max - b.buf.Len()
	if len(p) <= room {
		b.buf.Write(p)
		return len(p), nil
	}
	cut := room
	for cut > 0 && !utf8.RuneStart(p[cut]) {
		cut--
	}
	b.buf.Write(p[:cut])
	b.full = true
	return len(p), nil
}

// String returns the captured text. Sequences split across writes or
// invalid in the source come back as U+FFFD.
func (b *limitedBuffer) String() string {
	return strings.ToValidUTF8(b.buf.String(), string(utf8.RuneError))
}
