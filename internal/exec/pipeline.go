package exec

import (
	"io"
	"strings"
	"sync"
)

// State is a stage of one execution request.
type State int

const (
	StateIdle State = iota
	StateCompiling
	StateRunning
	StateDone
	StateFailed
	StateTimedOut
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCompiling:
		return "compiling"
	case StateRunning:
		return "running"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	case StateTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// Pipeline collects the output of one execution as a backend drives it
// through compile and run. Writers are safe for concurrent use.
type Pipeline struct {
	mu            sync.Mutex
	state         State
	stdout        strings.Builder
	stderr        strings.Builder
	compileStderr strings.Builder
	exit          int
	compileFailed bool
	expiredIn     State
}

func NewPipeline() *Pipeline { return &Pipeline{} }

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

func (p *Pipeline) set(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Pipeline) Compiling() { p.set(StateCompiling) }
func (p *Pipeline) Running()   { p.set(StateRunning) }

// CompileFailed ends the pipeline with the compiler's exit code; the run
// phase must not start.
func (p *Pipeline) CompileFailed(exit int) {
	p.mu.Lock()
	p.compileFailed = true
	p.exit = exit
	p.state = StateDone
	p.mu.Unlock()
}

// Finished records the run phase's exit code.
func (p *Pipeline) Finished(exit int) {
	p.mu.Lock()
	p.exit = exit
	p.state = StateDone
	p.mu.Unlock()
}

// Expired ends the pipeline at the deadline and remembers the stage that was
// cut short.
func (p *Pipeline) Expired() {
	p.mu.Lock()
	if p.state != StateTimedOut {
		p.expiredIn = p.state
		p.state = StateTimedOut
	}
	p.mu.Unlock()
}

func (p *Pipeline) Stdout() io.Writer        { return lockedWriter{p, &p.stdout} }
func (p *Pipeline) Stderr() io.Writer        { return lockedWriter{p, &p.stderr} }
func (p *Pipeline) CompileStderr() io.Writer { return lockedWriter{p, &p.compileStderr} }

type lockedWriter struct {
	p *Pipeline
	b *strings.Builder
}

func (w lockedWriter) Write(b []byte) (int, error) {
	w.p.mu.Lock()
	defer w.p.mu.Unlock()
	return w.b.Write(b)
}

type snapshot struct {
	state         State
	stdout        string
	stderr        string
	compileStderr string
	exit          int
	compileFailed bool
	expiredIn     State
}

func (p *Pipeline) snapshot() snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return snapshot{
		state:         p.state,
		stdout:        p.stdout.String(),
		stderr:        p.stderr.String(),
		compileStderr: p.compileStderr.String(),
		exit:          p.exit,
		compileFailed: p.compileFailed,
		expiredIn:     p.expiredIn,
	}
}
