package task

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"gembridge/internal/protocol"
	"gembridge/internal/session"
)

var (
	// ErrTaskNotFound indicates the task id is unknown or its terminal
	// status was already consumed.
	ErrTaskNotFound = errors.New("task not found")
	// ErrInvalidTaskTransition indicates an operation that does not apply
	// to the task's current status (e.g. responding to a running task).
	ErrInvalidTaskTransition = errors.New("invalid task transition")
)

// Journal receives task lifecycle transitions for persistence.
type Journal interface {
	WriteTaskTransition(taskID, sessionID string, status protocol.TaskStatus, detail string) error
}

// Duration estimates returned with a submission receipt. Advisory only;
// callers use them to pick a polling cadence.
const (
	estimateMeta    = 10 * time.Second
	estimateHeavy   = 120 * time.Second
	estimateDefault = 45 * time.Second

	heavyMessageLen = 300
)

// EstimateDuration guesses how long an exchange will take. Slash commands
// answer quickly; messages that reference files or carry a lot of text
// tend to trigger tool use.
func EstimateDuration(message string) time.Duration {
	switch {
	case strings.HasPrefix(message, "/"):
		return estimateMeta
	case strings.Contains(message, "@") || len(message) > heavyMessageLen:
		return estimateHeavy
	default:
		return estimateDefault
	}
}

type task struct {
	id        string
	sessionID string
	sess      *session.Session
	cancel    context.CancelFunc
	ctx       context.Context
	startedAt time.Time

	status protocol.TaskStatus
	result string
	errMsg string
	prompt string
}

// Orchestrator runs exchanges as background tasks polled by id. One task
// per session can be in flight; a second submission is rejected up front.
type Orchestrator struct {
	registry *session.Registry
	logger   *slog.Logger
	journal  Journal

	mu    sync.Mutex
	tasks map[string]*task
	wg    sync.WaitGroup
}

// New creates an orchestrator on top of the given session registry.
func New(registry *session.Registry, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		logger:   logger,
		tasks:    make(map[string]*task),
	}
}

// SetJournal sets the transition journal. Optional.
func (o *Orchestrator) SetJournal(j Journal) {
	o.journal = j
}

// Submit starts a background exchange on the named session and returns a
// receipt immediately. A dead session or one with a live task is rejected
// before any task is created. The exchange runs on its own context so it
// is not tied to the caller's request lifetime.
func (o *Orchestrator) Submit(ctx context.Context, sessionID, message string) (protocol.ChatResult, error) {
	sess, err := o.registry.Get(sessionID)
	if err != nil {
		return protocol.ChatResult{}, err
	}
	if !sess.Alive() {
		return protocol.ChatResult{}, session.ErrSessionNotAlive
	}

	taskCtx, cancel := context.WithCancel(context.Background())
	t := &task{
		id:        "t-" + uuid.New().String()[:8],
		sessionID: sessionID,
		sess:      sess,
		cancel:    cancel,
		ctx:       taskCtx,
		startedAt: time.Now(),
		status:    protocol.TaskStatusRunning,
	}

	// Reserve the session's single task slot under the same lock that
	// registers the task, so two racing submissions cannot both pass.
	o.mu.Lock()
	for _, other := range o.tasks {
		if other.sessionID == sessionID && !other.status.Terminal() {
			o.mu.Unlock()
			cancel()
			return protocol.ChatResult{}, session.ErrSessionBusy
		}
	}
	o.tasks[t.id] = t
	o.mu.Unlock()

	o.logger.Info("task submitted", "task_id", t.id, "session_id", sessionID)
	o.record(t, "submitted")

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ex, err := sess.SendAndRead(taskCtx, message)
		o.finish(t, ex, err)
	}()

	return protocol.ChatResult{
		TaskID:             t.id,
		SessionID:          sessionID,
		Status:             protocol.TaskStatusRunning,
		EstimatedDurationS: int(EstimateDuration(message).Seconds()),
	}, nil
}

// Status returns the current view of a task. A terminal status is consumed:
// the task is forgotten and later polls report ErrTaskNotFound.
func (o *Orchestrator) Status(taskID string) (protocol.TaskStatusResult, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, ok := o.tasks[taskID]
	if !ok {
		return protocol.TaskStatusResult{}, ErrTaskNotFound
	}

	res := protocol.TaskStatusResult{
		TaskID:    t.id,
		SessionID: t.sessionID,
		Status:    t.status,
		Result:    t.result,
		Error:     t.errMsg,
		Prompt:    t.prompt,
		ElapsedS:  time.Since(t.startedAt).Seconds(),
	}
	if t.status.Terminal() {
		delete(o.tasks, taskID)
	}
	return res, nil
}

// Respond forwards a reply to a task that is waiting for input and resumes
// the exchange in the background.
func (o *Orchestrator) Respond(ctx context.Context, taskID, response string) error {
	o.mu.Lock()
	t, ok := o.tasks[taskID]
	if !ok {
		o.mu.Unlock()
		return ErrTaskNotFound
	}
	if t.status != protocol.TaskStatusWaitingForInput {
		o.mu.Unlock()
		return ErrInvalidTaskTransition
	}
	t.status = protocol.TaskStatusRunning
	t.prompt = ""
	o.mu.Unlock()

	o.logger.Info("task resumed", "task_id", taskID)
	o.record(t, "resumed")

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ex, err := t.sess.Resume(t.ctx, response)
		o.finish(t, ex, err)
	}()
	return nil
}

// CancelForSession cancels every live task belonging to the session and
// returns their ids. Cancelled tasks remain pollable once.
func (o *Orchestrator) CancelForSession(sessionID string) []string {
	o.mu.Lock()
	var cancelled []string
	for _, t := range o.tasks {
		if t.sessionID != sessionID || t.status.Terminal() {
			continue
		}
		t.cancel()
		t.status = protocol.TaskStatusCancelled
		t.prompt = ""
		cancelled = append(cancelled, t.id)
	}
	o.mu.Unlock()

	if len(cancelled) > 0 {
		sort.Strings(cancelled)
		o.logger.Info("cancelled session tasks", "session_id", sessionID, "task_ids", cancelled)
	}
	return cancelled
}

// Shutdown cancels every live task and waits for their goroutines to
// drain.
func (o *Orchestrator) Shutdown() {
	o.mu.Lock()
	for _, t := range o.tasks {
		if !t.status.Terminal() {
			t.cancel()
			t.status = protocol.TaskStatusCancelled
			t.prompt = ""
		}
	}
	o.mu.Unlock()

	o.wg.Wait()
}

// finish records the outcome of an exchange. A task already cancelled
// keeps its cancelled status.
func (o *Orchestrator) finish(t *task, ex session.Exchange, err error) {
	o.mu.Lock()
	if t.status.Terminal() {
		o.mu.Unlock()
		return
	}

	var detail string
	switch {
	case err != nil && t.ctx.Err() != nil:
		t.status = protocol.TaskStatusCancelled
		detail = "cancelled"
	case err != nil:
		t.status = protocol.TaskStatusFailed
		t.errMsg = err.Error()
		detail = err.Error()
	case ex.Blocked:
		t.status = protocol.TaskStatusWaitingForInput
		t.prompt = ex.Prompt
		detail = "waiting for input"
	default:
		t.status = protocol.TaskStatusCompleted
		t.result = ex.Text
		detail = "completed"
	}
	status := t.status
	o.mu.Unlock()

	o.logger.Info("task transition", "task_id", t.id, "session_id", t.sessionID, "status", status)
	o.record(t, detail)
}

func (o *Orchestrator) record(t *task, detail string) {
	if o.journal == nil {
		return
	}
	o.mu.Lock()
	status := t.status
	o.mu.Unlock()
	if err := o.journal.WriteTaskTransition(t.id, t.sessionID, status, detail); err != nil {
		o.logger.Warn("failed to journal task transition", "task_id", t.id, "error", err)
	}
}
