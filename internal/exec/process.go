package exec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	osexec "os/exec"
	"path/filepath"
	"sync/atomic"

	"github.com/google/uuid"

	"codesync/internal/models"
)

// TempPrefix marks every artifact the local backend leaves in the temp dir.
const TempPrefix = "codesync-"

// LocalBackend runs submissions as host processes, each in its own process
// group so a timeout kills the whole tree.
type LocalBackend struct {
	tools   Toolchain
	tempDir string
}

func NewLocalBackend(tools Toolchain, tempDir string) *LocalBackend {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &LocalBackend{tools: tools.WithDefaults(), tempDir: tempDir}
}

func (b *LocalBackend) Execute(ctx context.Context, lang models.Language, code string, p *Pipeline) error {
	switch lang {
	case models.LangJavaScript:
		p.Running()
		return b.run(ctx, p, b.tools.Node, "-e", code)

	case models.LangPython:
		p.Running()
		return b.run(ctx, p, b.tools.Python, "-c", code)

	case models.LangC, models.LangCPP:
		ext, compiler := ".c", b.tools.GCC
		if lang == models.LangCPP {
			ext, compiler = ".cpp", b.tools.GPP
		}
		src, err := b.writeTemp("*"+ext, code)
		if err != nil {
			return err
		}
		defer os.Remove(src)
		exe := filepath.Join(b.tempDir, TempPrefix+uuid.NewString()+".out")
		defer os.Remove(exe)

		p.Compiling()
		exit, err := b.compile(ctx, p, compiler, src, "-o", exe)
		if err != nil || exit != 0 {
			return err
		}
		p.Running()
		return b.run(ctx, p, exe)

	case models.LangJava:
		dir, err := os.MkdirTemp(b.tempDir, TempPrefix+"java-*")
		if err != nil {
			return fmt.Errorf("create temp dir: %w", err)
		}
		defer os.RemoveAll(dir)
		src := filepath.Join(dir, "Main.java")
		if err := os.WriteFile(src, []byte(code), 0o600); err != nil {
			return fmt.Errorf("write source: %w", err)
		}

		p.Compiling()
		exit, err := b.compile(ctx, p, b.tools.Javac, src)
		if err != nil || exit != 0 {
			return err
		}
		p.Running()
		return b.run(ctx, p, b.tools.Java, "-cp", dir, "Main")

	case models.LangGo:
		src, err := b.writeTemp("*.go", code)
		if err != nil {
			return err
		}
		defer os.Remove(src)
		p.Running()
		return b.run(ctx, p, b.tools.Go, "run", src)
	}
	return ErrUnsupportedLanguage
}

func (b *LocalBackend) writeTemp(pattern, code string) (string, error) {
	f, err := os.CreateTemp(b.tempDir, TempPrefix+pattern)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.WriteString(code); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("write source: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("write source: %w", err)
	}
	return f.Name(), nil
}

// compile runs a compiler step. A non-zero exit marks the pipeline as a
// compile failure and is not an error.
func (b *LocalBackend) compile(ctx context.Context, p *Pipeline, name string, args ...string) (int, error) {
	exit, err := b.spawn(ctx, io.Discard, p.CompileStderr(), name, args...)
	if err != nil {
		return exit, err
	}
	if exit != 0 {
		p.CompileFailed(exit)
	}
	return exit, nil
}

func (b *LocalBackend) run(ctx context.Context, p *Pipeline, name string, args ...string) error {
	exit, err := b.spawn(ctx, p.Stdout(), p.Stderr(), name, args...)
	if err != nil {
		return err
	}
	p.Finished(exit)
	return nil
}

// spawn starts name in a new process group and waits for it. Launch
// failures are returned as errors, and ErrDeadline when the deadline killed
// the process; otherwise a non-zero or signalled process yields its exit code.
func (b *LocalBackend) spawn(ctx context.Context, stdout, stderr io.Writer, name string, args ...string) (int, error) {
	cmd := osexec.CommandContext(ctx, name, args...)
	cmd.Dir = b.tempDir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	configureProcessGroup(cmd)

	// Cancel only runs when the context ends while the process is alive
	var killed atomic.Bool
	if cancel := cmd.Cancel; cancel != nil {
		cmd.Cancel = func() error {
			killed.Store(true)
			return cancel()
		}
	}

	if err := cmd.Start(); err != nil {
		if ctx.Err() != nil {
			return -1, ErrDeadline
		}
		return -1, fmt.Errorf("start %s: %w", name, err)
	}
	err := cmd.Wait()
	if killed.Load() {
		return -1, ErrDeadline
	}
	if err == nil {
		return 0, nil
	}
	var exitErr *osexec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if errors.Is(err, osexec.ErrWaitDelay) && cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode(), nil
	}
	return -1, fmt.Errorf("wait %s: %w", name, err)
}
