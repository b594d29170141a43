package protocol

import (
	"time"
)

// TaskStatus is the lifecycle state reported for a background task.
type TaskStatus string

const (
	TaskStatusRunning         TaskStatus = "running"
	TaskStatusWaitingForInput TaskStatus = "waiting_for_input"
	TaskStatusCompleted       TaskStatus = "completed"
	TaskStatusFailed          TaskStatus = "failed"
	TaskStatusCancelled       TaskStatus = "cancelled"
)

// Terminal reports whether the status is final. Terminal statuses are
// consumed on the first successful read.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// StartSessionArgs are the arguments for gemini_start_session.
type StartSessionArgs struct {
	SessionID        string `json:"session_id"`
	WorkingDirectory string `json:"working_directory,omitempty"`
	Model            string `json:"model,omitempty"`
	AutoApprove      bool   `json:"auto_approve,omitempty"`
	Debug            bool   `json:"debug,omitempty"`
	Checkpointing    bool   `json:"checkpointing,omitempty"`
}

// StartSessionResult acknowledges session creation.
type StartSessionResult struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
	Message   string `json:"message,omitempty"`
}

// ChatArgs are the arguments for gemini_session_chat.
type ChatArgs struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// ChatResult is the submission receipt for a background task.
type ChatResult struct {
	TaskID             string     `json:"task_id"`
	SessionID          string     `json:"session_id"`
	Status             TaskStatus `json:"status"`
	EstimatedDurationS int        `json:"estimated_duration_s"`
}

// TaskStatusArgs are the arguments for gemini_check_task_status.
type TaskStatusArgs struct {
	TaskID string `json:"task_id"`
}

// TaskStatusResult is the polled view of a task. Result and Error are set
// only on terminal statuses; Prompt only while waiting for input.
type TaskStatusResult struct {
	TaskID    string     `json:"task_id"`
	SessionID string     `json:"session_id"`
	Status    TaskStatus `json:"status"`
	Result    string     `json:"result,omitempty"`
	Error     string     `json:"error,omitempty"`
	Prompt    string     `json:"prompt,omitempty"`
	ElapsedS  float64    `json:"elapsed_s"`
}

// RespondArgs are the arguments for gemini_respond_to_interaction.
type RespondArgs struct {
	TaskID   string `json:"task_id"`
	Response string `json:"response"`
}

// RespondResult acknowledges a forwarded interaction reply.
type RespondResult struct {
	TaskID string     `json:"task_id"`
	Status TaskStatus `json:"status"`
}

// CloseSessionArgs are the arguments for gemini_close_session.
type CloseSessionArgs struct {
	SessionID string `json:"session_id"`
}

// CloseSessionResult acknowledges session shutdown.
type CloseSessionResult struct {
	SessionID      string   `json:"session_id"`
	CancelledTasks []string `json:"cancelled_tasks,omitempty"`
}

// SessionDescriptor is one entry in the gemini_list_sessions result.
type SessionDescriptor struct {
	ID               string    `json:"id"`
	WorkingDirectory string    `json:"working_directory"`
	Model            string    `json:"model,omitempty"`
	AutoApprove      bool      `json:"auto_approve"`
	Alive            bool      `json:"alive"`
	CreatedAt        time.Time `json:"created_at"`
}

// ListSessionsResult is the result of gemini_list_sessions.
type ListSessionsResult struct {
	Sessions []SessionDescriptor `json:"sessions"`
}

// OneShotArgs are the arguments shared by gemini_ask and gemini_code.
type OneShotArgs struct {
	Prompt           string `json:"prompt"`
	Model            string `json:"model,omitempty"`
	WorkingDirectory string `json:"working_directory,omitempty"`
	TimeoutS         int    `json:"timeout_s,omitempty"`
}

// WithFilesArgs are the arguments for gemini_with_files.
type WithFilesArgs struct {
	Prompt           string   `json:"prompt"`
	Files            []string `json:"files"`
	Model            string   `json:"model,omitempty"`
	WorkingDirectory string   `json:"working_directory,omitempty"`
	TimeoutS         int      `json:"timeout_s,omitempty"`
}

// OneShotResult is the result of a single-shot invocation.
type OneShotResult struct {
	Output   string  `json:"output"`
	ElapsedS float64 `json:"elapsed_s"`
}
