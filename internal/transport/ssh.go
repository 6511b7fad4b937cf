package transport

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/orlunix/cam/internal/logger"
	"github.com/orlunix/cam/internal/security"
)

const remoteSocketDir = "/tmp/cam-sockets"

// SSH runs tmux sessions on a remote host, tunneled through an SSH
// ControlMaster connection so repeated commands skip re-authentication.
type SSH struct {
	host        string
	user        string
	port        int
	keyFile     string
	envSetup    string
	controlPath string
	log         *logger.Logger
}

var _ Transport = (*SSH)(nil)

// NewSSH builds an SSH transport. port defaults to 22 when 0.
func NewSSH(host, user string, port int, keyFile, envSetup string) (*SSH, error) {
	if host == "" {
		return nil, fmt.Errorf("ssh transport requires a host")
	}
	if port == 0 {
		port = 22
	}
	hash := security.ControlSocketHash(user, host, port)
	return &SSH{
		host:        host,
		user:        user,
		port:        port,
		keyFile:     keyFile,
		envSetup:    envSetup,
		controlPath: fmt.Sprintf("/tmp/cam-ssh-%s", hash),
		log:         logger.Default().With(zap.String("transport", "ssh"), zap.String("host", host)),
	}, nil
}

func (s *SSH) baseArgs() []string {
	args := []string{
		"-o", "StrictHostKeyChecking=accept-new",
		"-o", "ConnectTimeout=10",
		"-o", "ControlPath=" + s.controlPath,
		"-o", "ControlMaster=auto",
		"-o", "ControlPersist=600",
	}
	if s.port != 22 {
		args = append(args, "-p", strconv.Itoa(s.port))
	}
	if s.keyFile != "" {
		args = append(args, "-i", s.keyFile)
	}
	args = append(args, s.destination())
	return args
}

func (s *SSH) destination() string {
	if s.user != "" {
		return s.user + "@" + s.host
	}
	return s.host
}

func (s *SSH) runSSH(ctx context.Context, remoteCmd string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	args := append([]string{"ssh"}, s.baseArgs()...)
	args = append(args, "--", remoteCmd)

	out, err := runCommand(ctx, args)
	if err != nil {
		s.log.Debug("ssh command failed", zap.String("remote_cmd", truncate(remoteCmd, 80)), zap.Error(err))
	}
	return out, err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func (s *SSH) remoteTmuxCmd(sessionID string, tmuxArgs []string) string {
	socket := remoteSocketDir + "/" + sessionID + ".sock"
	parts := append([]string{"tmux", "-S", security.ShellQuote(socket)}, quoteEach(tmuxArgs)...)
	return strings.Join(parts, " ")
}

func quoteEach(args []string) []string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = security.ShellQuote(a)
	}
	return quoted
}

// CreateSession creates a tmux session on the remote host, preceded by the
// env_setup shell snippet if one is configured (e.g. PATH adjustments for
// tools installed outside the default remote shell's rc).
func (s *SSH) CreateSession(ctx context.Context, sessionID string, command []string, workdir string) error {
	if _, err := s.runSSH(ctx, "mkdir -p "+remoteSocketDir); err != nil {
		s.log.Warn("could not create remote socket dir", zap.Error(err))
	}

	commandStr := security.QuoteArgv(command)
	if s.envSetup != "" {
		commandStr = "bash -c " + security.ShellQuote(s.envSetup+" && exec "+commandStr)
	}

	createCmd := s.remoteTmuxCmd(sessionID, []string{"new-session", "-d", "-s", sessionID, "-c", workdir, commandStr})
	if _, err := s.runSSH(ctx, createCmd); err != nil {
		return fmt.Errorf("creating remote session %s on %s: %w", sessionID, s.host, err)
	}
	s.log.Info("created remote session", zap.String("session_id", sessionID), zap.String("workdir", workdir))
	return nil
}

func (s *SSH) target(sessionID string) string { return sessionID + ":0.0" }

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// SendInput sends text to the remote session. Non-ASCII text is base64
// encoded and decoded remotely, since SSH's shell interpretation on
// POSIX-locale remotes can corrupt multi-byte characters passed literally.
func (s *SSH) SendInput(ctx context.Context, sessionID, text string, sendEnter bool) error {
	if text != "" {
		var sendCmd string
		if isASCII(text) {
			sendCmd = s.remoteTmuxCmd(sessionID, []string{"send-keys", "-t", s.target(sessionID), "-l", "--", text})
		} else {
			b64 := base64.StdEncoding.EncodeToString([]byte(text))
			socket := remoteSocketDir + "/" + sessionID + ".sock"
			sendCmd = fmt.Sprintf(
				"bash -c 'tmux -S %s send-keys -t %s -l -- \"$(echo %s | base64 -d)\"'",
				security.ShellQuote(socket), security.ShellQuote(s.target(sessionID)), b64,
			)
		}
		if _, err := s.runSSH(ctx, sendCmd); err != nil {
			return fmt.Errorf("sending input to remote session %s: %w", sessionID, err)
		}
	}
	if sendEnter {
		return s.SendKey(ctx, sessionID, "Enter")
	}
	return nil
}

// SendKey sends a named tmux key to the remote session.
func (s *SSH) SendKey(ctx context.Context, sessionID, key string) error {
	cmd := s.remoteTmuxCmd(sessionID, []string{"send-keys", "-t", s.target(sessionID), key})
	if _, err := s.runSSH(ctx, cmd); err != nil {
		return fmt.Errorf("sending key %q to remote session %s: %w", key, sessionID, err)
	}
	return nil
}

// CaptureOutput captures pane content from the remote session, falling
// back to the alternate screen buffer if the primary capture is near-empty.
func (s *SSH) CaptureOutput(ctx context.Context, sessionID string, lines int) (string, error) {
	sArg := fmt.Sprintf("-%d", lines)
	cmd := s.remoteTmuxCmd(sessionID, []string{"capture-pane", "-p", "-J", "-t", s.target(sessionID), "-S", sArg})
	out, err := s.runSSH(ctx, cmd)
	if err != nil {
		s.log.Debug("failed to capture remote output", zap.String("session_id", sessionID))
		return "", nil
	}

	if len(strings.TrimSpace(out)) < 20 {
		altCmd := s.remoteTmuxCmd(sessionID, []string{"capture-pane", "-p", "-J", "-a", "-t", s.target(sessionID), "-S", sArg})
		if alt, altErr := s.runSSH(ctx, altCmd); altErr == nil && len(strings.TrimSpace(alt)) > len(strings.TrimSpace(out)) {
			out = alt
		}
	}
	return StripANSI(out), nil
}

// ReadOutputLog reads /tmp/cam-logs/<session>.output.log on the remote host,
// in max_bytes chunks starting at offset. CreateSession sets up no pipe-pane,
// so this file exists only if something else writes it; when it is absent
// or empty the result is ("", offset, nil).
func (s *SSH) ReadOutputLog(ctx context.Context, sessionID string, offset, maxBytes int64) (string, int64, error) {
	remoteLog := "/tmp/cam-logs/" + sessionID + ".output.log"
	cmd := fmt.Sprintf("dd if=%s bs=1 skip=%d count=%d 2>/dev/null",
		security.ShellQuote(remoteLog), offset, maxBytes)
	out, err := s.runSSH(ctx, cmd)
	if err != nil || out == "" {
		return "", offset, nil
	}
	return out, offset + int64(len(out)), nil
}

// SessionExists checks whether the remote tmux session is alive.
func (s *SSH) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	cmd := s.remoteTmuxCmd(sessionID, []string{"has-session", "-t", sessionID})
	_, err := s.runSSH(ctx, cmd)
	return err == nil, nil
}

// KillSession kills the remote session and removes its socket.
func (s *SSH) KillSession(ctx context.Context, sessionID string) error {
	cmd := s.remoteTmuxCmd(sessionID, []string{"kill-session", "-t", sessionID})
	_, err := s.runSSH(ctx, cmd)

	socket := remoteSocketDir + "/" + sessionID + ".sock"
	if _, rmErr := s.runSSH(ctx, "rm -f "+security.ShellQuote(socket)); rmErr != nil {
		s.log.Warn("failed to remove remote socket", zap.String("session_id", sessionID), zap.Error(rmErr))
	}
	if err != nil {
		return fmt.Errorf("killing remote session %s: %w", sessionID, err)
	}
	s.log.Info("killed remote session", zap.String("session_id", sessionID))
	return nil
}

// TestConnection verifies SSH connectivity and that tmux is installed
// remotely.
func (s *SSH) TestConnection(ctx context.Context) (bool, string) {
	out, err := s.runSSH(ctx, "echo ok && tmux -V")
	if err != nil {
		return false, fmt.Sprintf("cannot connect to %s@%s:%d", s.user, s.host, s.port)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) >= 2 && strings.TrimSpace(lines[0]) == "ok" {
		return true, fmt.Sprintf("ssh connected to %s: %s", s.host, strings.TrimSpace(lines[1]))
	}
	if len(lines) >= 1 && strings.TrimSpace(lines[0]) == "ok" {
		return false, fmt.Sprintf("ssh connected to %s but tmux not found", s.host)
	}
	return false, fmt.Sprintf("unexpected response from %s: %s", s.host, truncate(out, 100))
}

// GetLatency measures SSH round-trip latency over the ControlMaster
// connection.
func (s *SSH) GetLatency(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if _, err := s.runSSH(ctx, "true"); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// GetAttachCommand returns the command a human runs to attach to the
// remote session, forcing a pseudo-terminal.
func (s *SSH) GetAttachCommand(sessionID string) string {
	socket := remoteSocketDir + "/" + sessionID + ".sock"
	parts := []string{"ssh"}
	if s.port != 22 {
		parts = append(parts, "-p", strconv.Itoa(s.port))
	}
	if s.keyFile != "" {
		parts = append(parts, "-i", s.keyFile)
	}
	parts = append(parts, "-t", s.destination())
	parts = append(parts, fmt.Sprintf("tmux -S %s attach -t %s", security.ShellQuote(socket), security.ShellQuote(sessionID)))
	return strings.Join(parts, " ")
}

func runCommand(ctx context.Context, args []string) (string, error) {
	return runCommandWith(ctx, args[0], args[1:]...)
}
