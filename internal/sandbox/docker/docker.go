// Package docker runs sandboxed processes in throwaway docker containers.
package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/araddon/dateparse"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/programme-lv/runner/internal/sandbox"
)

const workDir = "/workspace"

type Config struct {
	Image     string
	PidsLimit int64
	CPUQuota  int64
}

type Sandbox struct {
	cli  *client.Client
	conf Config
	log  *slog.Logger
}

func New(conf Config, log *slog.Logger) (*Sandbox, error) {
	if conf.Image == "" {
		return nil, errors.New("docker image is not configured")
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if conf.PidsLimit == 0 {
		conf.PidsLimit = 64
	}
	if conf.CPUQuota == 0 {
		conf.CPUQuota = 100000
	}
	return &Sandbox{cli: cli, conf: conf, log: log.With("backend", "docker")}, nil
}

// Ping checks that the daemon answers. Used by the health check.
func (s *Sandbox) Ping(ctx context.Context) (string, error) {
	v, err := s.cli.ServerVersion(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to reach docker daemon: %w", err)
	}
	return v.Version, nil
}

// PullImage pulls the configured image. The response body has to be drained
// or the daemon abandons the download.
func (s *Sandbox) PullImage(ctx context.Context) error {
	s.log.Info("pulling image", "image", s.conf.Image)
	out, err := s.cli.ImagePull(ctx, s.conf.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull %s: %w", s.conf.Image, err)
	}
	defer out.Close()
	_, err = io.Copy(io.Discard, out)
	return err
}

func (s *Sandbox) Close() error {
	return s.cli.Close()
}

// hostConfig locks the container down: no network, no capabilities, a
// read-only root filesystem and the workspace as the only host mount.
func (s *Sandbox) hostConfig(spec sandbox.Spec) *container.HostConfig {
	bind := fmt.Sprintf("%s:%s", spec.Dir, workDir)
	if spec.ReadOnly {
		bind += ":ro"
	}
	hostConf := &container.HostConfig{
		Binds:          []string{bind},
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		Tmpfs:          map[string]string{"/tmp": "rw,noexec,size=64m"},
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		Resources: container.Resources{
			CPUQuota:  s.conf.CPUQuota,
			PidsLimit: &s.conf.PidsLimit,
		},
	}
	if spec.Limits.MemoryKiB > 0 {
		hostConf.Resources.Memory = spec.Limits.MemoryKiB * 1024
		hostConf.Resources.MemorySwap = hostConf.Resources.Memory
	}
	return hostConf
}

func (s *Sandbox) SpawnIsolated(ctx context.Context, spec sandbox.Spec) (sandbox.Process, error) {
	hostConf := s.hostConfig(spec)

	resp, err := s.cli.ContainerCreate(ctx, &container.Config{
		Image:           s.conf.Image,
		WorkingDir:      workDir,
		Cmd:             []string{"sh", "-c", spec.Command},
		User:            fmt.Sprintf("%d:%d", os.Getuid(), os.Getgid()),
		Env:             []string{"HOME=/tmp", "PATH=/usr/local/bin:/usr/bin:/bin"},
		NetworkDisabled: true,
		AttachStdin:     true,
		AttachStdout:    true,
		AttachStderr:    true,
		OpenStdin:       true,
		StdinOnce:       true,
	}, hostConf, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	proc := &process{cli: s.cli, id: resp.ID, log: s.log.With("container", resp.ID[:12])}

	attach, err := s.cli.ContainerAttach(ctx, resp.ID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		proc.remove()
		return nil, fmt.Errorf("failed to attach to container: %w", err)
	}

	stdout, stderr := spec.Stdout, spec.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	proc.copied = make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(stdout, stderr, attach.Reader)
		proc.copied <- err
	}()

	if err := s.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		attach.Close()
		proc.remove()
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	go func() {
		if spec.Stdin != nil {
			if _, err := io.Copy(attach.Conn, spec.Stdin); err != nil {
				proc.log.Debug("stdin copy stopped", "error", err)
			}
		}
		_ = attach.CloseWrite()
	}()
	proc.attachClose = attach.Close

	return proc, nil
}

type process struct {
	cli         *client.Client
	id          string
	log         *slog.Logger
	copied      chan error
	attachClose func()

	termOnce sync.Once
}

func (p *process) Wait() (*sandbox.ExitStatus, error) {
	defer p.remove()
	defer p.attachClose()

	// the container outlives any request context; Terminate is the way to stop it
	ctx := context.Background()

	okChan, errChan := p.cli.ContainerWait(ctx, p.id, container.WaitConditionNotRunning)
	var exitCode int64
	select {
	case data := <-okChan:
		exitCode = data.StatusCode
	case err := <-errChan:
		return nil, fmt.Errorf("container wait error: %w", err)
	}

	if err := <-p.copied; err != nil {
		p.log.Warn("stdcopy error", "error", err)
	}

	inspectResp, err := p.cli.ContainerInspect(ctx, p.id)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect container: %w", err)
	}

	status := &sandbox.ExitStatus{ExitCode: int(exitCode)}
	// docker reports 128+n for a process ended by signal n
	if exitCode > 128 && exitCode < 128+65 {
		sig := int(exitCode - 128)
		status.Signal = &sig
	}
	if inspectResp.State != nil {
		if inspectResp.State.OOMKilled {
			status.Reason = sandbox.KilledMemory
		}
		if inspectResp.State.Error != "" {
			status.Message = inspectResp.State.Error
		}
		status.CpuTime = runTime(inspectResp.State.StartedAt, inspectResp.State.FinishedAt)
	}
	return status, nil
}

func runTime(startedAt, finishedAt string) time.Duration {
	start, err := dateparse.ParseAny(startedAt)
	if err != nil {
		return 0
	}
	finish, err := dateparse.ParseAny(finishedAt)
	if err != nil || finish.Before(start) {
		return 0
	}
	return finish.Sub(start)
}

func (p *process) Terminate() error {
	p.termOnce.Do(func() {
		// an exited container refuses to be killed, which is fine
		err := p.cli.ContainerKill(context.Background(), p.id, "KILL")
		if err != nil && !client.IsErrNotFound(err) {
			p.log.Debug("container kill failed", "error", err)
		}
	})
	return nil
}

func (p *process) MemoryUsage() (int64, error) {
	return 0, sandbox.ErrUsageUnavailable
}

func (p *process) remove() {
	err := p.cli.ContainerRemove(context.Background(), p.id, container.RemoveOptions{Force: true})
	if err != nil {
		p.log.Warn("failed to remove container", "error", err)
	}
}
