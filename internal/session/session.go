// Package session owns persistent interactive child-process sessions and the
// keyed registry of live ones. A Session frames the child's unstructured
// character stream into discrete exchanges using the classifier and
// normalizer, and surfaces interactive prompts as tagged results rather than
// errors.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"gembridge/internal/classify"
	"gembridge/internal/launch"
	"gembridge/internal/normalize"
)

// State tracks a session's position in its lifecycle.
type State int

const (
	StateStarting State = iota
	StateReady
	StateExchanging
	StateBlocked
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateExchanging:
		return "exchanging"
	case StateBlocked:
		return "blocked"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Options are the caller-supplied launch parameters for one session.
type Options struct {
	WorkingDir    string
	Model         string
	AutoApprove   bool
	Debug         bool
	Checkpointing bool
}

// Timeouts bound the session's blocking phases.
type Timeouts struct {
	Startup  time.Duration // waiting for the initial ready signal
	Exchange time.Duration // one full send/read round-trip
	Quiet    time.Duration // silence window that frames a response
	Poll     time.Duration // read poll interval
}

// DefaultTimeouts mirror the wrapped CLI's observed behavior: responses are
// framed by 3s of silence, exchanges may legitimately run minutes.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Startup:  30 * time.Second,
		Exchange: 5 * time.Minute,
		Quiet:    3 * time.Second,
		Poll:     100 * time.Millisecond,
	}
}

// Exchange is the tagged result of one send/read round-trip: either a
// completed response or an interactive prompt awaiting a caller reply.
type Exchange struct {
	Text    string
	Prompt  string
	Blocked bool
}

const quitGrace = 500 * time.Millisecond

// Session binds one child process to its communication channel. The channel
// is owned exclusively by the session; all reads and writes go through
// SendAndRead/Resume, which are serialized because the child is not
// re-entrant.
type Session struct {
	id         string
	opts       Options
	createdAt  time.Time
	binary     string
	timeouts   Timeouts
	launcher   launch.Launcher
	classifier *classify.Classifier
	logger     *slog.Logger

	mu     sync.Mutex
	state  State
	handle launch.Handle

	// exchangeMu serializes exchanges; TryLock failures surface as
	// ErrSessionBusy instead of queueing.
	exchangeMu sync.Mutex
}

// New constructs a Session; Start must be called before any exchange.
func New(id, binary string, opts Options, timeouts Timeouts, launcher launch.Launcher, logger *slog.Logger) *Session {
	return &Session{
		id:         id,
		opts:       opts,
		createdAt:  time.Now(),
		binary:     binary,
		timeouts:   timeouts,
		launcher:   launcher,
		classifier: classify.New(timeouts.Quiet),
		logger:     logger.With("session_id", id),
		state:      StateStarting,
	}
}

// ID returns the caller-chosen session id.
func (s *Session) ID() string { return s.id }

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Opts returns the launch options the session was created with.
func (s *Session) Opts() Options { return s.opts }

// Start spawns the child and drains startup output until the first framed
// response (the ready signal) or the startup timeout.
func (s *Session) Start(ctx context.Context) error {
	cmd := []string{s.binary}
	if s.opts.Model != "" {
		cmd = append(cmd, "-m", s.opts.Model)
	}
	if s.opts.Debug {
		cmd = append(cmd, "-d")
	}
	if s.opts.Checkpointing {
		cmd = append(cmd, "-c")
	}

	handle, err := s.launcher.Launch(ctx, launch.Spec{
		Command: cmd,
		Dir:     s.opts.WorkingDir,
	})
	if err != nil {
		return &StartupError{Cause: err}
	}

	s.mu.Lock()
	s.handle = handle
	s.mu.Unlock()

	s.logger.Info("draining startup output")
	frame, err := s.readFramed(ctx, s.timeouts.Startup)
	if err != nil {
		handle.Terminate(quitGrace)
		s.setState(StateClosed)
		if se, ok := err.(*StartupError); ok {
			return se
		}
		return &StartupError{Cause: err}
	}
	if frame.died {
		s.setState(StateClosed)
		return &StartupError{Output: normalize.Normalize(frame.buffer), Cause: fmt.Errorf("child exited during startup")}
	}
	if frame.blocked {
		// An interactive prompt before the first message is almost always
		// an authentication flow; the session cannot become ready.
		handle.Terminate(quitGrace)
		s.setState(StateClosed)
		return &StartupError{Output: frame.prompt, Cause: fmt.Errorf("interactive prompt during startup")}
	}
	if frame.timedOut && strings.TrimSpace(frame.buffer) == "" {
		handle.Terminate(quitGrace)
		s.setState(StateClosed)
		return &StartupError{Cause: fmt.Errorf("no output within startup timeout")}
	}

	s.setState(StateReady)
	s.logger.Info("session ready")
	return nil
}

// SendAndRead writes message to the child and reads until a framed response
// or interactive prompt. On exchange timeout the partial captured output is
// returned as a completed exchange rather than an error.
func (s *Session) SendAndRead(ctx context.Context, message string) (Exchange, error) {
	return s.exchange(ctx, message, StateReady)
}

// Resume is SendAndRead for a blocked session: it writes the caller's reply
// to the pending interactive prompt and resumes framing.
func (s *Session) Resume(ctx context.Context, reply string) (Exchange, error) {
	return s.exchange(ctx, reply, StateBlocked)
}

func (s *Session) exchange(ctx context.Context, input string, wantState State) (Exchange, error) {
	if !s.exchangeMu.TryLock() {
		return Exchange{}, ErrSessionBusy
	}
	defer s.exchangeMu.Unlock()

	s.mu.Lock()
	if s.state == StateClosed || s.handle == nil || !s.handle.Alive() {
		s.mu.Unlock()
		return Exchange{}, ErrSessionNotAlive
	}
	if s.state != wantState {
		state := s.state
		s.mu.Unlock()
		return Exchange{}, fmt.Errorf("session is %s, expected %s: %w", state, wantState, ErrSessionBusy)
	}
	s.state = StateExchanging
	handle := s.handle
	s.mu.Unlock()

	if err := handle.WriteLine(input); err != nil {
		s.setState(StateClosed)
		return Exchange{}, fmt.Errorf("%w: %v", ErrChildDied, err)
	}

	frame, err := s.readFramed(ctx, s.timeouts.Exchange)
	if err != nil {
		s.setState(StateClosed)
		return Exchange{}, err
	}

	switch {
	case frame.died:
		s.setState(StateClosed)
		if strings.TrimSpace(frame.buffer) == "" {
			return Exchange{}, ErrChildDied
		}
		// The child produced a response and then exited; deliver what we
		// have, the caller will find the session dead on its next call.
		return Exchange{Text: s.cleanResponse(frame.buffer, input)}, nil
	case frame.blocked:
		s.setState(StateBlocked)
		return Exchange{Blocked: true, Prompt: frame.prompt}, nil
	default:
		if frame.timedOut {
			s.logger.Warn("exchange timed out, returning partial output", "bytes", len(frame.buffer))
		}
		s.setState(StateReady)
		return Exchange{Text: s.cleanResponse(frame.buffer, input)}, nil
	}
}

type frame struct {
	buffer   string
	prompt   string
	blocked  bool
	died     bool
	timedOut bool
}

// readFramed polls the child's output channel, feeding the classifier after
// every chunk and on every poll tick, until the buffer frames into a
// complete response, an interactive prompt, end-of-stream, or the deadline.
func (s *Session) readFramed(ctx context.Context, overall time.Duration) (frame, error) {
	s.mu.Lock()
	handle := s.handle
	s.mu.Unlock()

	var buf strings.Builder
	lastData := time.Now()
	// mark is the buffer offset past the last auto-approved prompt. The
	// classifier only sees output after it, so each prompt gets at most
	// one synthesized approval and an already-answered prompt cannot
	// re-trigger on later buffer growth.
	mark := 0

	deadline := time.NewTimer(overall)
	defer deadline.Stop()
	tick := time.NewTicker(s.timeouts.Poll)
	defer tick.Stop()

	autoApprove := s.opts.AutoApprove

	for {
		select {
		case <-ctx.Done():
			return frame{}, ctx.Err()

		case chunk, ok := <-handle.Output():
			if !ok {
				return frame{buffer: buf.String(), died: true}, nil
			}
			buf.Write(chunk)
			lastData = time.Now()

			res := s.classifier.Classify(buf.String()[mark:], 0, autoApprove)
			switch res.Decision {
			case classify.Blocked:
				return frame{buffer: buf.String(), prompt: res.Prompt, blocked: true}, nil
			case classify.AutoHandled:
				s.logger.Debug("auto-approving prompt")
				if err := handle.WriteLine("y"); err != nil {
					return frame{buffer: buf.String(), died: true}, nil
				}
				mark = buf.Len()
			}

		case <-tick.C:
			res := s.classifier.Classify(buf.String()[mark:], time.Since(lastData), autoApprove)
			switch res.Decision {
			case classify.Complete:
				return frame{buffer: buf.String()}, nil
			case classify.Blocked:
				return frame{buffer: buf.String(), prompt: res.Prompt, blocked: true}, nil
			}

		case <-deadline.C:
			return frame{buffer: buf.String(), timedOut: true}, nil
		}
	}
}

func (s *Session) cleanResponse(raw, sent string) string {
	return normalize.TrimEcho(normalize.Normalize(raw), sent)
}

// Alive reports whether the session can still serve exchanges.
func (s *Session) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed || s.handle == nil {
		return false
	}
	return s.handle.Alive()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close shuts the session down: a best-effort quit directive, a short grace
// period, then escalating termination. Idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	handle := s.handle
	s.mu.Unlock()

	if handle == nil {
		return nil
	}

	s.logger.Info("closing session")
	if handle.Alive() {
		// Polite quit first; the CLI flushes checkpoints on /quit.
		_ = handle.WriteLine("/quit")
		select {
		case <-time.After(quitGrace):
		case <-ctx.Done():
		}
	}
	return handle.Terminate(quitGrace)
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Meta-command wrappers around the wrapped CLI's slash commands.

// SaveMemory asks the assistant to persist a fact in its memory file.
func (s *Session) SaveMemory(ctx context.Context, fact string) (Exchange, error) {
	return s.SendAndRead(ctx, "Please remember this: "+fact)
}

// Memory returns the assistant's current memory contents.
func (s *Session) Memory(ctx context.Context) (Exchange, error) {
	return s.SendAndRead(ctx, "/memory")
}

// Tools lists the tools available to the assistant.
func (s *Session) Tools(ctx context.Context) (Exchange, error) {
	return s.SendAndRead(ctx, "/tools")
}

// Stats returns session token and usage statistics.
func (s *Session) Stats(ctx context.Context) (Exchange, error) {
	return s.SendAndRead(ctx, "/stats")
}

// Compress asks the CLI to compact its context window.
func (s *Session) Compress(ctx context.Context) (Exchange, error) {
	return s.SendAndRead(ctx, "/compress")
}
