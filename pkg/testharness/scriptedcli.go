package testharness

import (
	"context"
	"io"
	"sync"
	"time"

	"gembridge/internal/launch"
)

// ScriptedCLI plays the wrapped CLI for in-process tests. It implements
// launch.Launcher; every Launch yields a fresh handle that emits Banner
// and then invokes Respond for each line written to it.
type ScriptedCLI struct {
	Banner  string
	Respond func(line string, emit func(string))

	mu      sync.Mutex
	handles []*ScriptedHandle
}

// Launch implements launch.Launcher.
func (c *ScriptedCLI) Launch(ctx context.Context, spec launch.Spec) (launch.Handle, error) {
	h := &ScriptedHandle{
		out:     make(chan []byte, 128),
		respond: c.Respond,
		alive:   true,
	}
	if c.Banner != "" {
		h.emit(c.Banner)
	}
	c.mu.Lock()
	c.handles = append(c.handles, h)
	c.mu.Unlock()
	return h, nil
}

// Handles returns every handle launched so far.
func (c *ScriptedCLI) Handles() []*ScriptedHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*ScriptedHandle(nil), c.handles...)
}

// LastHandle returns the most recently launched handle.
func (c *ScriptedCLI) LastHandle() *ScriptedHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.handles) == 0 {
		return nil
	}
	return c.handles[len(c.handles)-1]
}

// ScriptedHandle is the child-process stand-in handed out by ScriptedCLI.
type ScriptedHandle struct {
	out     chan []byte
	respond func(line string, emit func(string))

	mu     sync.Mutex
	writes []string
	alive  bool

	closeOnce sync.Once
}

// Output implements launch.Handle.
func (h *ScriptedHandle) Output() <-chan []byte { return h.out }

func (h *ScriptedHandle) emit(s string) { h.out <- []byte(s) }

// WriteLine implements launch.Handle. The scripted response runs on its
// own goroutine, like output from a real child.
func (h *ScriptedHandle) WriteLine(line string) error {
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

// Alive implements launch.Handle.
func (h *ScriptedHandle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive
}

// Terminate implements launch.Handle.
func (h *ScriptedHandle) Terminate(time.Duration) error {
	h.Exit()
	return nil
}

// Exit simulates the child process exiting.
func (h *ScriptedHandle) Exit() {
	h.mu.Lock()
	h.alive = false
	h.mu.Unlock()
	h.closeOnce.Do(func() { close(h.out) })
}

// Written returns every line written to the child so far.
func (h *ScriptedHandle) Written() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.writes...)
}
