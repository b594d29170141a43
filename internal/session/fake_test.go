package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"gembridge/internal/launch"
)

// fakeHandle is a scripted stand-in for a launched child process. Output is
// driven by the respond callback, invoked for every line the session writes.
type fakeHandle struct {
	out     chan []byte
	respond func(line string, emit func(string))

	mu     sync.Mutex
	writes []string
	alive  bool

	closeOnce sync.Once
}

func newFakeHandle(respond func(line string, emit func(string))) *fakeHandle {
	return &fakeHandle{
		out:     make(chan []byte, 128),
		respond: respond,
		alive:   true,
	}
}

func (h *fakeHandle) Output() <-chan []byte { return h.out }

func (h *fakeHandle) emit(s string) {
	h.out <- []byte(s)
}

// die simulates the child process exiting.
func (h *fakeHandle) die() {
	h.mu.Lock()
	h.alive = false
	h.mu.Unlock()
	h.closeOnce.Do(func() { close(h.out) })
}

func (h *fakeHandle) WriteLine(line string) error {
	h.mu.Lock()
	h.writes = append(h.writes, line)
	alive := h.alive
	h.mu.Unlock()
	if !alive {
		return io.ErrClosedPipe
	}
	if h.respond != nil {
		go h.respond(line, h.emit)
	}
	return nil
}

func (h *fakeHandle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive
}

func (h *fakeHandle) Terminate(time.Duration) error {
	h.die()
	return nil
}

func (h *fakeHandle) written() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.writes...)
}

type fakeLauncher struct {
	handle *fakeHandle
	banner string
}

func (l *fakeLauncher) Launch(ctx context.Context, spec launch.Spec) (launch.Handle, error) {
	if l.banner != "" {
		l.handle.emit(l.banner)
	}
	return l.handle, nil
}

func testTimeouts() Timeouts {
	return Timeouts{
		Startup:  2 * time.Second,
		Exchange: 2 * time.Second,
		Quiet:    50 * time.Millisecond,
		Poll:     10 * time.Millisecond,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startedSession builds and starts a session against the given fake handle.
func startedSession(handle *fakeHandle, opts Options) (*Session, error) {
	launcher := &fakeLauncher{handle: handle, banner: "Welcome to Gemini CLI\n"}
	sess := New("s-test", "gemini", opts, testTimeouts(), launcher, discardLogger())
	return sess, sess.Start(context.Background())
}
