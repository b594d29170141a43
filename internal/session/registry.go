package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"gembridge/internal/launch"
)

// Info is a read-only snapshot of a registered session.
type Info struct {
	ID          string    `json:"id"`
	WorkingDir  string    `json:"working_directory"`
	Model       string    `json:"model,omitempty"`
	AutoApprove bool      `json:"auto_approve"`
	Alive       bool      `json:"alive"`
	CreatedAt   time.Time `json:"created_at"`
}

// Registry is the keyed collection of live sessions. Mutations are
// serialized; exchange concurrency is governed inside each Session.
type Registry struct {
	binary   string
	timeouts Timeouts
	launcher launch.Launcher
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	pending  map[string]bool
}

// NewRegistry creates an empty registry. binary is the wrapped CLI command
// used for every session it creates.
func NewRegistry(binary string, timeouts Timeouts, launcher launch.Launcher, logger *slog.Logger) *Registry {
	return &Registry{
		binary:   binary,
		timeouts: timeouts,
		launcher: launcher,
		logger:   logger,
		sessions: make(map[string]*Session),
		pending:  make(map[string]bool),
	}
}

// Create starts a new session under id. The id is reserved for the duration
// of startup so concurrent creations of the same id fail fast instead of
// racing. A failed startup releases the id.
func (r *Registry) Create(ctx context.Context, id string, opts Options) (*Session, error) {
	r.mu.Lock()
	if _, ok := r.sessions[id]; ok {
		r.mu.Unlock()
		return nil, ErrDuplicateSession
	}
	if r.pending[id] {
		r.mu.Unlock()
		return nil, ErrDuplicateSession
	}
	r.pending[id] = true
	r.mu.Unlock()

	sess := New(id, r.binary, opts, r.timeouts, r.launcher, r.logger)

	if err := sess.Start(ctx); err != nil {
		r.mu.Lock()
		delete(r.pending, id)
		r.mu.Unlock()
		return nil, err
	}

	r.mu.Lock()
	delete(r.pending, id)
	r.sessions[id] = sess
	r.mu.Unlock()

	r.logger.Info("session registered", "session_id", id, "dir", opts.WorkingDir)
	return sess, nil
}

// Get returns the session registered under id.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// CloseAndRemove closes the session under id and frees the id for reuse.
func (r *Registry) CloseAndRemove(ctx context.Context, id string) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	return sess.Close(ctx)
}

// ReapDead closes and removes sessions whose child process has exited.
// It returns the ids that were reaped.
func (r *Registry) ReapDead(ctx context.Context) []string {
	r.mu.Lock()
	var dead []*Session
	for id, sess := range r.sessions {
		if !sess.Alive() {
			dead = append(dead, sess)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	ids := make([]string, 0, len(dead))
	for _, sess := range dead {
		ids = append(ids, sess.ID())
		if err := sess.Close(ctx); err != nil {
			r.logger.Warn("error closing dead session", "session_id", sess.ID(), "error", err)
		}
	}
	if len(ids) > 0 {
		sort.Strings(ids)
		r.logger.Info("reaped dead sessions", "ids", ids)
	}
	return ids
}

// CloseAll shuts down every registered session. Used by the application
// shutdown hook before exit.
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.Lock()
	all := make([]*Session, 0, len(r.sessions))
	for id, sess := range r.sessions {
		all = append(all, sess)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, sess := range all {
		if err := sess.Close(ctx); err != nil {
			r.logger.Warn("error closing session", "session_id", sess.ID(), "error", err)
		}
	}
}

// List returns snapshots of all registered sessions, ordered by id.
func (r *Registry) List() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	infos := make([]Info, 0, len(r.sessions))
	for _, sess := range r.sessions {
		opts := sess.Opts()
		infos = append(infos, Info{
			ID:          sess.ID(),
			WorkingDir:  opts.WorkingDir,
			Model:       opts.Model,
			AutoApprove: opts.AutoApprove,
			Alive:       sess.Alive(),
			CreatedAt:   sess.CreatedAt(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}
