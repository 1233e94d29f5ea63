package exec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	specs "github.com/opencontainers/image-spec/specs-go/v1"

	"codesync/internal/models"
)

type ContainerLimits struct {
	MemoryB  int64
	NanoCPUs int64
}

type dockerClient interface {
	ImageInspectWithRaw(ctx context.Context, image string) (types.ImageInspect, []byte, error)
	ImagePull(ctx context.Context, ref string, options types.ImagePullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *specs.Platform, containerName string) (container.ContainerCreateCreatedBody, error)
	ContainerRemove(ctx context.Context, containerID string, options types.ContainerRemoveOptions) error
	ContainerStart(ctx context.Context, containerID string, options types.ContainerStartOptions) error
	ContainerKill(ctx context.Context, containerID string, signal string) error
	ContainerExecCreate(ctx context.Context, container string, config types.ExecConfig) (types.IDResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config types.ExecStartCheck) (types.HijackedResponse, error)
	ContainerExecStart(ctx context.Context, execID string, config types.ExecStartCheck) error
	ContainerExecInspect(ctx context.Context, execID string) (types.ContainerExecInspect, error)
}

var ErrDockerUnavailable = errors.New("docker daemon unreachable")

// ContainerBackend runs each submission in a throwaway container with no
// network and capped memory and CPU.
type ContainerBackend struct {
	cli    dockerClient
	limits ContainerLimits
	images map[models.Language]string
}

func NewContainerBackend(limits ContainerLimits, images map[models.Language]string) (*ContainerBackend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDockerUnavailable, err)
	}
	return newContainerBackend(cli, limits, images), nil
}

func newContainerBackend(cli dockerClient, limits ContainerLimits, images map[models.Language]string) *ContainerBackend {
	if limits.MemoryB == 0 {
		limits.MemoryB = 512 * 1024 * 1024
	}
	if limits.NanoCPUs == 0 {
		limits.NanoCPUs = 1_000_000_000
	}
	return &ContainerBackend{cli: cli, limits: limits, images: images}
}

func (s *ContainerBackend) image(lang models.Language, plan containerPlan) string {
	if img := s.images[lang]; img != "" {
		return img
	}
	return plan.image
}

// Execute reports ErrDeadline for any step the deadline interrupted.
func (s *ContainerBackend) Execute(ctx context.Context, lang models.Language, code string, p *Pipeline) error {
	err := s.execute(ctx, lang, code, p)
	if err != nil && !errors.Is(err, ErrUnsupportedLanguage) && ctx.Err() != nil {
		return ErrDeadline
	}
	return err
}

func (s *ContainerBackend) execute(ctx context.Context, lang models.Language, code string, p *Pipeline) error {
	def, ok := lookupLanguage(lang)
	if !ok {
		return ErrUnsupportedLanguage
	}
	plan := def.container
	image := s.image(lang, plan)

	if err := s.ensureImage(ctx, image); err != nil {
		return err
	}

	hostCfg := &container.HostConfig{
		NetworkMode: "none",
		Resources: container.Resources{
			Memory:   s.limits.MemoryB,
			NanoCPUs: s.limits.NanoCPUs,
		},
		SecurityOpt: []string{"no-new-privileges"},
	}
	conf := &container.Config{
		Image:      image,
		Cmd:        []string{"/bin/sh", "-c", "sleep infinity"},
		WorkingDir: "/workspace",
		Env:        []string{"PYTHONDONTWRITEBYTECODE=1", "GOCACHE=/tmp/gocache"},
	}

	create, err := s.cli.ContainerCreate(ctx, conf, hostCfg, nil, nil, "")
	if err != nil {
		return fmt.Errorf("create container: %w", translateDockerErr(err))
	}
	cid := create.ID
	defer func() {
		_ = s.cli.ContainerRemove(context.Background(), cid, types.ContainerRemoveOptions{Force: true})
	}()

	if err := s.cli.ContainerStart(ctx, cid, types.ContainerStartOptions{}); err != nil {
		return fmt.Errorf("start container: %w", translateDockerErr(err))
	}
	stop := context.AfterFunc(ctx, func() {
		_ = s.cli.ContainerKill(context.Background(), cid, "SIGKILL")
	})
	defer stop()

	if err := s.writeFile(ctx, cid, "/workspace/"+plan.fileName, []byte(code)); err != nil {
		return fmt.Errorf("copy source: %w", err)
	}

	if plan.compile != nil {
		p.Compiling()
		exit, err := s.execStep(ctx, cid, plan.compile, io.Discard, p.CompileStderr())
		if err != nil {
			return err
		}
		if exit != 0 {
			p.CompileFailed(exit)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	p.Running()
	exit, err := s.execStep(ctx, cid, plan.run, p.Stdout(), p.Stderr())
	if err != nil {
		return err
	}
	p.Finished(exit)
	return nil
}

func (s *ContainerBackend) ensureImage(ctx context.Context, image string) error {
	_, _, err := s.cli.ImageInspectWithRaw(ctx, image)
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return translateDockerErr(err)
	}
	pullCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	reader, err := s.cli.ImagePull(pullCtx, image, types.ImagePullOptions{})
	if err != nil {
		return translateDockerErr(err)
	}
	defer reader.Close()
	_, _ = io.Copy(io.Discard, reader)
	return nil
}

func (s *ContainerBackend) execStart(ctx context.Context, cid string, cmd []string, stdin bool) (string, types.HijackedResponse, error) {
	execResp, err := s.cli.ContainerExecCreate(ctx, cid, types.ExecConfig{
		Cmd:          cmd,
		WorkingDir:   "/workspace",
		AttachStdin:  stdin,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", types.HijackedResponse{}, translateDockerErr(err)
	}
	attach, err := s.cli.ContainerExecAttach(ctx, execResp.ID, types.ExecStartCheck{})
	if err != nil {
		return "", types.HijackedResponse{}, translateDockerErr(err)
	}
	if err := s.cli.ContainerExecStart(ctx, execResp.ID, types.ExecStartCheck{}); err != nil {
		attach.Close()
		return "", types.HijackedResponse{}, translateDockerErr(err)
	}
	return execResp.ID, attach, nil
}

// execStep runs one command and demultiplexes its output. A step still
// streaming when the context ends reports ErrDeadline.
func (s *ContainerBackend) execStep(ctx context.Context, cid string, cmd []string, stdout, stderr io.Writer) (int, error) {
	execID, attach, err := s.execStart(ctx, cid, cmd, false)
	if err != nil {
		return -1, err
	}
	defer attach.Close()

	done := make(chan struct{})
	go func() {
		_, _ = stdcopy.StdCopy(stdout, stderr, attach.Reader)
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		select {
		case <-done:
		default:
			return -1, ErrDeadline
		}
	}

	// the deadline may expire between the copy and the inspect
	inspectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	inspect, err := s.cli.ContainerExecInspect(inspectCtx, execID)
	if err != nil {
		return -1, translateDockerErr(err)
	}
	return inspect.ExitCode, nil
}

// writeFile streams content into absPath through the exec's stdin.
func (s *ContainerBackend) writeFile(ctx context.Context, cid, absPath string, content []byte) error {
	if !strings.HasPrefix(absPath, "/") {
		return fmt.Errorf("invalid path %q", absPath)
	}
	execID, attach, err := s.execStart(ctx, cid, []string{"/bin/sh", "-c", "cat > " + shellQuote(absPath)}, true)
	if err != nil {
		return err
	}
	defer attach.Close()
	if len(content) > 0 {
		if _, err := attach.Conn.Write(content); err != nil {
			return err
		}
	}
	if closer, ok := attach.Conn.(interface{ CloseWrite() error }); ok {
		_ = closer.CloseWrite()
	}
	_, _ = stdcopy.StdCopy(io.Discard, io.Discard, attach.Reader)
	inspect, err := s.cli.ContainerExecInspect(ctx, execID)
	if err != nil {
		return translateDockerErr(err)
	}
	if inspect.ExitCode != 0 {
		return fmt.Errorf("write %s exit=%d", absPath, inspect.ExitCode)
	}
	return nil
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", "'\\''") + "'"
}

func translateDockerErr(err error) error {
	if err == nil {
		return nil
	}
	if client.IsErrConnectionFailed(err) {
		return ErrDockerUnavailable
	}
	return err
}
