package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"go.uber.org/zap"

	"github.com/orlunix/cam/internal/logger"
	"github.com/orlunix/cam/internal/security"
)

// Docker runs each session's tool inside its own long-running container,
// with a tmux session started inside the container for consistency with
// the other transports.
type Docker struct {
	cli    *client.Client
	image  string
	volumes map[string]string
	prefix string

	mu         sync.Mutex
	containers map[string]string // sessionID -> container name

	log *logger.Logger
}

var _ Transport = (*Docker)(nil)

// NewDocker builds a Docker transport that launches containers from image,
// bind-mounting volumes (host path -> container path).
func NewDocker(image string, volumes map[string]string) (*Docker, error) {
	if image == "" {
		return nil, fmt.Errorf("docker transport requires an image")
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &Docker{
		cli:        cli,
		image:      image,
		volumes:    volumes,
		prefix:     "cam",
		containers: make(map[string]string),
		log:        logger.Default().With(zap.String("transport", "docker")),
	}, nil
}

func (d *Docker) containerName(sessionID string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if name, ok := d.containers[sessionID]; ok {
		return name
	}
	return d.prefix + "-" + sessionID
}

func (d *Docker) setContainer(sessionID, name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.containers[sessionID] = name
}

func (d *Docker) dropContainer(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.containers, sessionID)
}

// execInContainer runs a shell command inside container and returns its
// combined stdout+stderr.
func (d *Docker) execInContainer(ctx context.Context, container, shellCmd string) (string, error) {
	created, err := d.cli.ContainerExecCreate(ctx, container, dockercontainer.ExecOptions{
		Cmd:          []string{"bash", "-c", shellCmd},
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("creating exec in %s: %w", container, err)
	}

	resp, err := d.cli.ContainerExecAttach(ctx, created.ID, dockercontainer.ExecAttachOptions{})
	if err != nil {
		return "", fmt.Errorf("attaching to exec in %s: %w", container, err)
	}
	defer resp.Close()

	var out bytes.Buffer
	demultiplex(resp.Reader, &out)

	inspect, err := d.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return out.String(), fmt.Errorf("inspecting exec in %s: %w", container, err)
	}
	if inspect.ExitCode != 0 {
		return out.String(), fmt.Errorf("exec in %s exited %d: %s", container, inspect.ExitCode, out.String())
	}
	return out.String(), nil
}

// demultiplex reads Docker's stdout/stderr multiplexed stream (8-byte frame
// headers: 1-byte stream type, 3 reserved, 4-byte big-endian size) and
// writes both stdout and stderr frames to w.
func demultiplex(r io.Reader, w io.Writer) {
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(r, header); err != nil {
			return
		}
		size := binary.BigEndian.Uint32(header[4:8])
		if size == 0 {
			continue
		}
		if _, err := io.CopyN(w, r, int64(size)); err != nil {
			return
		}
	}
}

// CreateSession starts a container from the configured image, installs
// tmux if it's missing, starts a tmux session inside it, and types command
// into that session's shell followed by Enter. The session's program is the
// shell, so the session stays alive after command exits. Only the configured
// volumes are bind-mounted; workdir is used as the container's working
// directory but is not mounted.
func (d *Docker) CreateSession(ctx context.Context, sessionID string, command []string, workdir string) error {
	name := d.prefix + "-" + sessionID

	hostCfg := &dockercontainer.HostConfig{}
	for host, target := range d.volumes {
		hostCfg.Binds = append(hostCfg.Binds, host+":"+target)
	}

	resp, err := d.cli.ContainerCreate(ctx, &dockercontainer.Config{
		Image:      d.image,
		Cmd:        []string{"sleep", "infinity"},
		WorkingDir: workdir,
	}, hostCfg, nil, nil, name)
	if err != nil {
		return fmt.Errorf("creating container %s: %w", name, err)
	}
	if err := d.cli.ContainerStart(ctx, resp.ID, dockercontainer.StartOptions{}); err != nil {
		return fmt.Errorf("starting container %s: %w", name, err)
	}
	d.setContainer(sessionID, name)
	d.log.Info("created container", zap.String("container", name), zap.String("image", d.image))

	_, _ = d.execInContainer(ctx, name,
		"which tmux || (apt-get update -qq && apt-get install -qq -y tmux) 2>/dev/null || "+
			"(apk add --no-cache tmux) 2>/dev/null || true")

	if _, err := d.execInContainer(ctx, name,
		fmt.Sprintf("tmux new-session -d -s %s -c %s", security.ShellQuote(sessionID), security.ShellQuote(workdir))); err != nil {
		_ = d.removeContainer(ctx, name)
		return fmt.Errorf("creating tmux session in container %s: %w", name, err)
	}

	if err := d.SendInput(ctx, sessionID, security.QuoteArgv(command), true); err != nil {
		_ = d.KillSession(ctx, sessionID)
		return fmt.Errorf("sending launch command to container session %s: %w", sessionID, err)
	}
	return nil
}

func (d *Docker) removeContainer(ctx context.Context, name string) error {
	return d.cli.ContainerRemove(ctx, name, dockercontainer.RemoveOptions{Force: true})
}

func (d *Docker) target(sessionID string) string { return sessionID + ":0.0" }

// SendInput sends literal text to the in-container tmux session.
func (d *Docker) SendInput(ctx context.Context, sessionID, text string, sendEnter bool) error {
	container := d.containerName(sessionID)
	escaped := strings.ReplaceAll(text, "'", `'\''`)
	cmd := fmt.Sprintf("tmux send-keys -t %s -l -- '%s'", security.ShellQuote(d.target(sessionID)), escaped)
	if _, err := d.execInContainer(ctx, container, cmd); err != nil {
		return fmt.Errorf("sending input to %s: %w", sessionID, err)
	}
	if sendEnter {
		return d.SendKey(ctx, sessionID, "Enter")
	}
	return nil
}

// SendKey sends a named tmux key to the in-container tmux session.
func (d *Docker) SendKey(ctx context.Context, sessionID, key string) error {
	container := d.containerName(sessionID)
	cmd := fmt.Sprintf("tmux send-keys -t %s %s", security.ShellQuote(d.target(sessionID)), security.ShellQuote(key))
	if _, err := d.execInContainer(ctx, container, cmd); err != nil {
		return fmt.Errorf("sending key %q to %s: %w", key, sessionID, err)
	}
	return nil
}

// CaptureOutput captures pane content from the in-container tmux session.
func (d *Docker) CaptureOutput(ctx context.Context, sessionID string, lines int) (string, error) {
	container := d.containerName(sessionID)
	cmd := fmt.Sprintf("tmux capture-pane -p -J -t %s -S -%d", security.ShellQuote(d.target(sessionID)), lines)
	out, err := d.execInContainer(ctx, container, cmd)
	if err != nil {
		return "", nil
	}
	return StripANSI(out), nil
}

// ReadOutputLog is unsupported inside containers; CaptureOutput's
// tail-based read serves the same purpose.
func (d *Docker) ReadOutputLog(_ context.Context, _ string, offset, _ int64) (string, int64, error) {
	return "", offset, nil
}

// SessionExists checks the container is running and its tmux session alive.
func (d *Docker) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	container := d.containerName(sessionID)
	inspect, err := d.cli.ContainerInspect(ctx, container)
	if err != nil || inspect.State == nil || !inspect.State.Running {
		return false, nil
	}
	_, err = d.execInContainer(ctx, container, fmt.Sprintf("tmux has-session -t %s", security.ShellQuote(sessionID)))
	return err == nil, nil
}

// KillSession kills the in-container tmux session and removes the
// container.
func (d *Docker) KillSession(ctx context.Context, sessionID string) error {
	container := d.containerName(sessionID)
	_, _ = d.execInContainer(ctx, container, fmt.Sprintf("tmux kill-session -t %s", security.ShellQuote(sessionID)))

	err := d.removeContainer(ctx, container)
	d.dropContainer(sessionID)
	if err != nil {
		return fmt.Errorf("removing container %s: %w", container, err)
	}
	d.log.Info("killed container session", zap.String("container", container))
	return nil
}

// TestConnection verifies the Docker daemon is reachable and reports
// whether the configured image is already present locally.
func (d *Docker) TestConnection(ctx context.Context) (bool, string) {
	version, err := d.cli.ServerVersion(ctx)
	if err != nil {
		return false, "docker is not available"
	}
	if _, _, err := d.cli.ImageInspectWithRaw(ctx, d.image); err == nil {
		return true, fmt.Sprintf("docker %s, image %q available locally", version.Version, d.image)
	}
	return true, fmt.Sprintf("docker %s, image %q will be pulled on first use", version.Version, d.image)
}

// GetLatency measures a minimal Docker API round trip.
func (d *Docker) GetLatency(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if _, err := d.cli.Ping(ctx); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// GetAttachCommand returns the command a human runs to attach to the
// container's tmux session.
func (d *Docker) GetAttachCommand(sessionID string) string {
	container := d.containerName(sessionID)
	return fmt.Sprintf("docker exec -it %s tmux attach -t %s",
		security.ShellQuote(container), security.ShellQuote(sessionID))
}
