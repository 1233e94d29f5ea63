package exec

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"codesync/internal/metrics"
	"codesync/internal/models"
)

const (
	DefaultTimeout       = 10 * time.Second
	DefaultMaxConcurrent = 8
)

var ErrUnsupportedLanguage = errors.New("unsupported language")

// ErrDeadline is returned by a backend when the deadline killed a step that
// was still running.
var ErrDeadline = errors.New("execution deadline reached")

// unsupportedLabel stands in for the language and outcome of every request
// naming an unknown language.
const unsupportedLabel = "unsupported"

// Backend compiles and runs one submission, reporting progress and output
// through the pipeline. Launch failures are returned as errors, a step cut
// off by the deadline as ErrDeadline; program failures are recorded on the
// pipeline.
type Backend interface {
	Execute(ctx context.Context, lang models.Language, code string, p *Pipeline) error
}

type Options struct {
	// Timeout bounds compile and run together.
	Timeout       time.Duration
	MaxConcurrent int64
}

type Runner struct {
	backend Backend
	timeout time.Duration
	sem     *semaphore.Weighted
	log     *zap.Logger
}

type Result struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exitCode"`
	IsError  bool   `json:"error"`
	TimedOut bool   `json:"timedOut,omitempty"`
	State    State  `json:"-"`

	launchFailed bool
}

// Shared reports whether the room should see this result. Timeouts and
// failures to launch stay with the caller.
func (r Result) Shared() bool { return !r.TimedOut && !r.launchFailed }

func NewRunner(backend Backend, opts Options, log *zap.Logger) *Runner {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{
		backend: backend,
		timeout: opts.Timeout,
		sem:     semaphore.NewWeighted(opts.MaxConcurrent),
		log:     log,
	}
}

func (r *Runner) Timeout() time.Duration { return r.timeout }

// Execute runs code under a single deadline covering the wait for a free
// slot, compilation and the run itself. It never returns an error: every
// failure is folded into the Result.
func (r *Runner) Execute(ctx context.Context, lang models.Language, code string) Result {
	start := time.Now()
	if _, ok := lookupLanguage(lang); !ok {
		res := Result{Output: "Unsupported language: " + string(lang), ExitCode: 1, IsError: true, State: StateFailed}
		metrics.Execution(unsupportedLabel, unsupportedLabel, time.Since(start))
		return res
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	p := NewPipeline()
	var runErr error
	if err := r.sem.Acquire(runCtx, 1); err != nil {
		runErr = err
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			runErr = ErrDeadline
		}
	} else {
		runErr = r.backend.Execute(runCtx, lang, code, p)
		r.sem.Release(1)
	}
	// only a step killed at the deadline counts; a run that completed just
	// before it keeps its own result
	if errors.Is(runErr, ErrDeadline) {
		p.Expired()
		runErr = nil
	}

	res := r.result(lang, p, runErr)
	r.log.Info("code executed",
		zap.String("language", string(lang)),
		zap.String("state", res.State.String()),
		zap.Int("exitCode", res.ExitCode),
		zap.Duration("took", time.Since(start)))
	metrics.Execution(string(lang), res.State.String(), time.Since(start))
	return res
}

func (r *Runner) result(lang models.Language, p *Pipeline, runErr error) Result {
	snap := p.snapshot()

	if snap.state == StateTimedOut {
		out := joinOutput(lang, snap.stdout, snap.stderr)
		if snap.expiredIn == StateCompiling {
			out = snap.compileStderr
		}
		return Result{
			Output:   out + "\n[Execution timed out after " + formatSeconds(r.timeout) + "]",
			ExitCode: -1,
			IsError:  true,
			TimedOut: true,
			State:    StateTimedOut,
		}
	}
	if runErr != nil {
		r.log.Warn("execution failed to start", zap.String("language", string(lang)), zap.Error(runErr))
		return Result{
			Output:       "Execution error: " + runErr.Error(),
			ExitCode:     -1,
			IsError:      true,
			State:        StateFailed,
			launchFailed: true,
		}
	}
	if snap.compileFailed {
		return Result{
			Output:   "Compilation failed:\n" + snap.compileStderr,
			ExitCode: snap.exit,
			IsError:  true,
			State:    StateFailed,
		}
	}
	return Result{
		Output:   joinOutput(lang, snap.stdout, snap.stderr),
		ExitCode: snap.exit,
		IsError:  snap.exit != 0,
		State:    StateDone,
	}
}

func joinOutput(lang models.Language, stdout, stderr string) string {
	if interpreted(lang) {
		if stderr == "" {
			return stdout
		}
		return stdout + "\n" + stderr
	}
	return stdout + stderr
}

func formatSeconds(d time.Duration) string {
	s := strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
	if s == "1" {
		return "1 second"
	}
	return fmt.Sprintf("%s seconds", s)
}
