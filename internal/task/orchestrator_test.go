package task

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gembridge/internal/launch"
	"gembridge/internal/protocol"
	"gembridge/internal/session"
)

// scriptedHandle plays the child process: respond is invoked for every
// line written to it.
type scriptedHandle struct {
	out     chan []byte
	respond func(line string, emit func(string))

	mu     sync.Mutex
	alive  bool
	closed sync.Once
}

func newScriptedHandle(respond func(line string, emit func(string))) *scriptedHandle {
	return &scriptedHandle{
		out:     make(chan []byte, 128),
		respond: respond,
		alive:   true,
	}
}

func (h *scriptedHandle) Output() <-chan []byte { return h.out }

func (h *scriptedHandle) emit(s string) { h.out <- []byte(s) }

func (h *scriptedHandle) WriteLine(line string) error {
	if h.respond != nil {
		go h.respond(line, h.emit)
	}
	return nil
}

func (h *scriptedHandle) Alive() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.alive
}

func (h *scriptedHandle) Terminate(time.Duration) error {
	h.mu.Lock()
	h.alive = false
	h.mu.Unlock()
	h.closed.Do(func() { close(h.out) })
	return nil
}

type scriptedLauncher struct {
	respond func(line string, emit func(string))
}

func (l *scriptedLauncher) Launch(ctx context.Context, spec launch.Spec) (launch.Handle, error) {
	h := newScriptedHandle(l.respond)
	h.emit("Welcome to Gemini CLI\n")
	return h, nil
}

type recordingJournal struct {
	mu      sync.Mutex
	entries []string
}

func (j *recordingJournal) WriteTaskTransition(taskID, sessionID string, status protocol.TaskStatus, detail string) error {
	j.mu.Lock()
	j.entries = append(j.entries, string(status))
	j.mu.Unlock()
	return nil
}

func (j *recordingJournal) statuses() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.entries...)
}

func testOrchestrator(t *testing.T, respond func(line string, emit func(string))) (*Orchestrator, *session.Registry) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	timeouts := session.Timeouts{
		Startup:  2 * time.Second,
		Exchange: 2 * time.Second,
		Quiet:    50 * time.Millisecond,
		Poll:     10 * time.Millisecond,
	}
	reg := session.NewRegistry("gemini", timeouts, &scriptedLauncher{respond: respond}, logger)
	_, err := reg.Create(context.Background(), "s1", session.Options{})
	require.NoError(t, err)
	return New(reg, logger), reg
}

func TestSubmitUnknownSession(t *testing.T) {
	orch, _ := testOrchestrator(t, nil)

	_, err := orch.Submit(context.Background(), "missing", "hello")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestSubmitCompletesAndConsumes(t *testing.T) {
	orch, _ := testOrchestrator(t, func(line string, emit func(string)) {
		emit("the answer\n")
	})

	receipt, err := orch.Submit(context.Background(), "s1", "question")
	require.NoError(t, err)
	assert.Equal(t, protocol.TaskStatusRunning, receipt.Status)
	assert.Equal(t, "s1", receipt.SessionID)
	assert.NotEmpty(t, receipt.TaskID)

	require.Eventually(t, func() bool {
		res, err := orch.Status(receipt.TaskID)
		if err != nil {
			return false
		}
		return res.Status == protocol.TaskStatusCompleted
	}, 2*time.Second, 20*time.Millisecond)

	// Terminal status was consumed by the successful poll above.
	_, err = orch.Status(receipt.TaskID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestSubmitWhileTaskInFlight(t *testing.T) {
	release := make(chan struct{})
	orch, _ := testOrchestrator(t, func(line string, emit func(string)) {
		<-release
		emit("finally\n")
	})

	receipt, err := orch.Submit(context.Background(), "s1", "first")
	require.NoError(t, err)

	// The rejection is synchronous: no task id, no failed task to poll.
	_, err = orch.Submit(context.Background(), "s1", "second")
	assert.ErrorIs(t, err, session.ErrSessionBusy)

	close(release)
	require.Eventually(t, func() bool {
		res, err := orch.Status(receipt.TaskID)
		return err == nil && res.Status == protocol.TaskStatusCompleted
	}, 2*time.Second, 20*time.Millisecond)

	// With the first task consumed the session accepts work again.
	_, err = orch.Submit(context.Background(), "s1", "third")
	require.NoError(t, err)
}

func TestSubmitWhileTaskWaitingForInput(t *testing.T) {
	orch, _ := testOrchestrator(t, func(line string, emit func(string)) {
		emit("Apply this change? (y/n)\n")
	})

	receipt, err := orch.Submit(context.Background(), "s1", "edit main.go")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		res, err := orch.Status(receipt.TaskID)
		return err == nil && res.Status == protocol.TaskStatusWaitingForInput
	}, 2*time.Second, 20*time.Millisecond)

	// A blocked task still holds the session's slot.
	_, err = orch.Submit(context.Background(), "s1", "another")
	assert.ErrorIs(t, err, session.ErrSessionBusy)
}

func TestSubmitToDeadSession(t *testing.T) {
	orch, reg := testOrchestrator(t, nil)

	sess, err := reg.Get("s1")
	require.NoError(t, err)
	require.NoError(t, sess.Close(context.Background()))

	_, err = orch.Submit(context.Background(), "s1", "hello")
	assert.ErrorIs(t, err, session.ErrSessionNotAlive)
}

func TestBlockedTaskRespondFlow(t *testing.T) {
	first := true
	orch, _ := testOrchestrator(t, func(line string, emit func(string)) {
		if first {
			first = false
			emit("About to edit main.go\nApply this change? (y/n)\n")
			return
		}
		emit("Change applied.\n")
	})

	receipt, err := orch.Submit(context.Background(), "s1", "edit main.go")
	require.NoError(t, err)

	var polled protocol.TaskStatusResult
	require.Eventually(t, func() bool {
		res, err := orch.Status(receipt.TaskID)
		if err != nil {
			return false
		}
		polled = res
		return res.Status == protocol.TaskStatusWaitingForInput
	}, 2*time.Second, 20*time.Millisecond)
	assert.Contains(t, polled.Prompt, "(y/n)")

	// Waiting is not terminal: the task stays pollable.
	res, err := orch.Status(receipt.TaskID)
	require.NoError(t, err)
	assert.Equal(t, protocol.TaskStatusWaitingForInput, res.Status)

	require.NoError(t, orch.Respond(context.Background(), receipt.TaskID, "y"))

	require.Eventually(t, func() bool {
		res, err := orch.Status(receipt.TaskID)
		if err != nil {
			return false
		}
		return res.Status == protocol.TaskStatusCompleted && res.Result == "Change applied."
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRespondToRunningTask(t *testing.T) {
	release := make(chan struct{})
	orch, _ := testOrchestrator(t, func(line string, emit func(string)) {
		<-release
		emit("done\n")
	})
	defer close(release)

	receipt, err := orch.Submit(context.Background(), "s1", "slow")
	require.NoError(t, err)

	err = orch.Respond(context.Background(), receipt.TaskID, "y")
	assert.ErrorIs(t, err, ErrInvalidTaskTransition)
}

func TestRespondUnknownTask(t *testing.T) {
	orch, _ := testOrchestrator(t, nil)

	err := orch.Respond(context.Background(), "t-missing", "y")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestCancelForSession(t *testing.T) {
	release := make(chan struct{})
	orch, _ := testOrchestrator(t, func(line string, emit func(string)) {
		<-release
	})
	defer close(release)

	receipt, err := orch.Submit(context.Background(), "s1", "never finishes")
	require.NoError(t, err)

	ids := orch.CancelForSession("s1")
	assert.Equal(t, []string{receipt.TaskID}, ids)

	res, err := orch.Status(receipt.TaskID)
	require.NoError(t, err)
	assert.Equal(t, protocol.TaskStatusCancelled, res.Status)

	_, err = orch.Status(receipt.TaskID)
	assert.ErrorIs(t, err, ErrTaskNotFound)

	// Nothing left to cancel.
	assert.Empty(t, orch.CancelForSession("s1"))
}

func TestJournalReceivesTransitions(t *testing.T) {
	orch, _ := testOrchestrator(t, func(line string, emit func(string)) {
		emit("ok\n")
	})
	journal := &recordingJournal{}
	orch.SetJournal(journal)

	receipt, err := orch.Submit(context.Background(), "s1", "hello")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		res, err := orch.Status(receipt.TaskID)
		return err == nil && res.Status == protocol.TaskStatusCompleted
	}, 2*time.Second, 20*time.Millisecond)

	statuses := journal.statuses()
	assert.Contains(t, statuses, string(protocol.TaskStatusRunning))
	assert.Contains(t, statuses, string(protocol.TaskStatusCompleted))
}

func TestEstimateDuration(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    time.Duration
	}{
		{"meta command", "/stats", estimateMeta},
		{"file reference", "summarize @main.go", estimateHeavy},
		{"long message", string(make([]byte, 400)), estimateHeavy},
		{"plain question", "what does this function do?", estimateDefault},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EstimateDuration(tt.message))
		})
	}
}
