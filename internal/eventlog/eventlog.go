package eventlog

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"gembridge/internal/ndjson"
	"gembridge/internal/protocol"
)

// EntryKind distinguishes journal entry types
type EntryKind string

const (
	EntryKindCall EntryKind = "call"
	EntryKindTask EntryKind = "task"
)

// Entry is one journal line
type Entry struct {
	ID        string    `json:"id"`
	Kind      EntryKind `json:"kind"`
	At        time.Time `json:"at"`
	Tool      string    `json:"tool,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Status    string    `json:"status,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// EventLog appends façade calls and task transitions to an NDJSON file
type EventLog struct {
	file    *os.File
	encoder *ndjson.Encoder
	logger  *slog.Logger
	mu      sync.Mutex
}

// NewEventLog creates a new event log
func NewEventLog(logPath string, logger *slog.Logger) (*EventLog, error) {
	// Ensure directory exists
	dir := filepath.Dir(logPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// Open file for appending (create if not exists)
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	encoder := ndjson.NewEncoder(file, logger)

	return &EventLog{
		file:    file,
		encoder: encoder,
		logger:  logger,
	}, nil
}

// WriteCall records a façade tool invocation
func (l *EventLog) WriteCall(tool, sessionID, detail string) error {
	return l.write(Entry{
		Kind:      EntryKindCall,
		Tool:      tool,
		SessionID: sessionID,
		Detail:    detail,
	})
}

// WriteTaskTransition records a task status change
func (l *EventLog) WriteTaskTransition(taskID, sessionID string, status protocol.TaskStatus, detail string) error {
	return l.write(Entry{
		Kind:      EntryKindTask,
		TaskID:    taskID,
		SessionID: sessionID,
		Status:    string(status),
		Detail:    detail,
	})
}

func (l *EventLog) write(e Entry) error {
	e.ID = uuid.New().String()
	e.At = time.Now().UTC()

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.encoder.Encode(e)
}

// Close closes the event log file
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
