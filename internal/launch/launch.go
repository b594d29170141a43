// Package launch spawns the wrapped CLI as a child process and exposes it
// through a channel-based handle suitable for non-blocking polling reads.
//
// The preferred strategy binds the child to a pseudo-terminal, since
// terminal-oriented CLIs only render (and flush) correctly when they believe
// they own a TTY. A plain pipe pair is the fallback for platforms or
// environments where PTY allocation fails.
package launch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// Mode selects the channel strategy for new processes.
type Mode string

const (
	// ModeAuto tries a PTY first and falls back to pipes.
	ModeAuto Mode = "auto"
	// ModePTY requires a pseudo-terminal.
	ModePTY Mode = "pty"
	// ModePipe uses plain pipes.
	ModePipe Mode = "pipe"
)

// Spec describes a child process to launch.
type Spec struct {
	Command []string
	Dir     string
	Env     map[string]string
}

// Handle is a live child process bound to its communication channel.
type Handle interface {
	// Output streams chunks of raw child output. The channel is closed
	// when the child's output reaches end-of-stream.
	Output() <-chan []byte
	// WriteLine writes a line of input (terminator appended) to the child.
	WriteLine(line string) error
	// Alive reports whether the child process is still running.
	Alive() bool
	// Terminate stops the child: SIGTERM, a grace period, then SIGKILL.
	// It is idempotent and always releases the channel resource.
	Terminate(grace time.Duration) error
}

// Launcher starts child processes.
type Launcher interface {
	Launch(ctx context.Context, spec Spec) (Handle, error)
}

// New returns a Launcher using the given strategy.
func New(mode Mode, logger *slog.Logger) Launcher {
	return &launcher{mode: mode, logger: logger}
}

type launcher struct {
	mode   Mode
	logger *slog.Logger
}

func (l *launcher) Launch(ctx context.Context, spec Spec) (Handle, error) {
	if len(spec.Command) == 0 {
		return nil, fmt.Errorf("empty command")
	}

	cmd := exec.Command(spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.Dir
	cmd.Env = buildEnv(spec.Env)

	switch l.mode {
	case ModePipe:
		return l.startPipe(cmd)
	case ModePTY:
		return l.startPTY(cmd)
	default:
		h, err := l.startPTY(cmd)
		if err != nil {
			l.logger.Warn("pty unavailable, falling back to pipes", "error", err)
			// cmd cannot be reused after a failed Start.
			retry := exec.Command(spec.Command[0], spec.Command[1:]...)
			retry.Dir = spec.Dir
			retry.Env = buildEnv(spec.Env)
			return l.startPipe(retry)
		}
		return h, nil
	}
}

func (l *launcher) startPTY(cmd *exec.Cmd) (Handle, error) {
	master, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: 40, Cols: 120})
	if err != nil {
		return nil, fmt.Errorf("failed to start with pty: %w", err)
	}

	p := newProc(cmd, master, l.logger)
	l.logger.Info("child started", "mode", "pty", "pid", cmd.Process.Pid, "cmd", cmd.Args)

	// Reap on a dedicated goroutine so a stalled read loop can never leave
	// the child a zombie. On a PTY, reads fail with EIO once the child
	// exits, which ends the read loop after it has drained the buffer.
	go func() {
		p.markExited(cmd.Wait())
	}()
	go func() {
		p.readLoop(master)
		master.Close()
	}()

	return p, nil
}

func (l *launcher) startPipe(cmd *exec.Cmd) (Handle, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	// Interleave stdout and stderr the way a terminal would.
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		stdin.Close()
		pw.Close()
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	p := newProc(cmd, stdin, l.logger)
	l.logger.Info("child started", "mode", "pipe", "pid", cmd.Process.Pid, "cmd", cmd.Args)

	go func() {
		err := cmd.Wait()
		pw.Close()
		p.markExited(err)
	}()
	go func() {
		p.readLoop(pr)
		stdin.Close()
	}()

	return p, nil
}

type proc struct {
	cmd    *exec.Cmd
	in     io.Writer
	out    chan []byte
	logger *slog.Logger

	mu      sync.Mutex
	exited  bool
	exitErr error

	// closing is closed when Terminate begins; done when the child is
	// reaped.
	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

func newProc(cmd *exec.Cmd, in io.Writer, logger *slog.Logger) *proc {
	return &proc{
		cmd:     cmd,
		in:      in,
		out:     make(chan []byte, 64),
		logger:  logger,
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (p *proc) Output() <-chan []byte {
	return p.out
}

func (p *proc) WriteLine(line string) error {
	p.mu.Lock()
	exited := p.exited
	p.mu.Unlock()
	if exited {
		return fmt.Errorf("process has exited")
	}
	if _, err := io.WriteString(p.in, line+"\n"); err != nil {
		return fmt.Errorf("failed to write to child: %w", err)
	}
	return nil
}

func (p *proc) Alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.exited
}

func (p *proc) Terminate(grace time.Duration) error {
	// Release a read loop stuck on a full output buffer so the child's
	// stdout cannot wedge the shutdown.
	p.closeOnce.Do(func() { close(p.closing) })

	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return nil
	}
	process := p.cmd.Process
	p.mu.Unlock()

	if process == nil {
		return nil
	}

	process.Signal(syscall.SIGTERM)

	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
	}

	p.logger.Warn("child ignored SIGTERM, killing", "pid", process.Pid)
	process.Kill()

	select {
	case <-p.done:
	case <-time.After(grace):
		return fmt.Errorf("child did not exit after SIGKILL")
	}
	return nil
}

func (p *proc) readLoop(r io.Reader) {
	defer close(p.out)

	buf := make([]byte, 4096)
	discard := false
	for {
		n, err := r.Read(buf)
		if n > 0 && !discard {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case p.out <- chunk:
			default:
				// Buffer full: wait for the consumer, unless termination
				// has begun or the child is gone. Then nobody is draining
				// and output is discarded until end-of-stream.
				select {
				case p.out <- chunk:
				case <-p.closing:
					discard = true
				case <-p.done:
					discard = true
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func (p *proc) markExited(err error) {
	p.mu.Lock()
	if p.exited {
		p.mu.Unlock()
		return
	}
	p.exited = true
	p.exitErr = err
	p.mu.Unlock()
	close(p.done)

	if err != nil {
		p.logger.Debug("child exited", "error", err)
	} else {
		p.logger.Debug("child exited cleanly")
	}
}

// Probe verifies the wrapped binary is present and responsive by running it
// with --version under a bounded timeout.
func Probe(ctx context.Context, binary string) (string, error) {
	if _, err := exec.LookPath(binary); err != nil {
		return "", fmt.Errorf("binary %q not found in PATH: %w", binary, err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, binary, "--version").CombinedOutput()
	if ctx.Err() == context.DeadlineExceeded {
		return "", fmt.Errorf("version check for %q timed out", binary)
	}
	if err != nil {
		return "", fmt.Errorf("binary %q not working: %w: %s", binary, err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

func buildEnv(extra map[string]string) []string {
	env := os.Environ()
	env = append(env, "TERM=xterm-256color", "NODE_NO_WARNINGS=1")
	for k, v := range extra {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}
