package session

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotFound is returned when a caller references an unknown
	// session id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionNotAlive is returned when the referenced session's child
	// process is gone.
	ErrSessionNotAlive = errors.New("session not alive")
	// ErrSessionBusy is returned when an exchange is attempted while
	// another exchange is in flight on the same session.
	ErrSessionBusy = errors.New("session busy with another exchange")
	// ErrDuplicateSession is returned when creating a session with an id
	// that is already registered.
	ErrDuplicateSession = errors.New("session id already exists")
	// ErrChildDied is returned when the child's output reached
	// end-of-stream in the middle of an exchange.
	ErrChildDied = errors.New("child process died mid-exchange")
)

// StartupError reports a session that never reached READY. Output holds
// whatever the child printed before failing, which is usually the only clue
// to what went wrong.
type StartupError struct {
	Output string
	Cause  error
}

func (e *StartupError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("session startup failed: %v", e.Cause)
	}
	return "session startup failed: no ready signal before timeout"
}

func (e *StartupError) Unwrap() error {
	return e.Cause
}
