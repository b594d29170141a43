package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"gembridge/internal/ndjson"
	"gembridge/internal/oneshot"
	"gembridge/internal/protocol"
	"gembridge/internal/session"
	"gembridge/internal/task"
)

const (
	protocolVersion = "2024-11-05"
	serverName      = "gembridge"
	serverVersion   = "1.0.0"
)

// CallJournal persists façade tool invocations.
type CallJournal interface {
	WriteCall(tool, sessionID, detail string) error
}

type toolHandler func(ctx context.Context, args json.RawMessage) (any, error)

type tool struct {
	name        string
	description string
	schemaJSON  string
	schema      *jsonschema.Schema
	handler     toolHandler
}

// Server exposes sessions, tasks and one-shot prompts as JSON-RPC tools
// over an NDJSON-framed byte stream (normally stdin/stdout).
type Server struct {
	registry *session.Registry
	tasks    *task.Orchestrator
	runner   *oneshot.Runner
	logger   *slog.Logger
	journal  CallJournal

	tools  []*tool
	byName map[string]*tool
}

// NewServer wires the façade over the given core components.
func NewServer(registry *session.Registry, tasks *task.Orchestrator, runner *oneshot.Runner, logger *slog.Logger) *Server {
	s := &Server{
		registry: registry,
		tasks:    tasks,
		runner:   runner,
		logger:   logger,
		byName:   make(map[string]*tool),
	}
	s.registerTools()
	return s
}

// SetJournal sets the call journal. Optional.
func (s *Server) SetJournal(j CallJournal) {
	s.journal = j
}

func (s *Server) register(name, description, schemaJSON string, handler toolHandler) {
	t := &tool{
		name:        name,
		description: description,
		schemaJSON:  schemaJSON,
		schema:      jsonschema.MustCompileString(name+".json", schemaJSON),
		handler:     handler,
	}
	s.tools = append(s.tools, t)
	s.byName[name] = t
}

func (s *Server) registerTools() {
	s.register("gemini_start_session",
		"Start a persistent interactive Gemini CLI session.",
		startSessionSchema, s.handleStartSession)
	s.register("gemini_session_chat",
		"Send a message to a session; returns a task id to poll.",
		chatSchema, s.handleChat)
	s.register("gemini_check_task_status",
		"Poll a background task. Terminal results are returned once.",
		taskStatusSchema, s.handleTaskStatus)
	s.register("gemini_respond_to_interaction",
		"Answer a prompt that is blocking a task.",
		respondSchema, s.handleRespond)
	s.register("gemini_close_session",
		"Close a session and cancel its tasks.",
		closeSessionSchema, s.handleCloseSession)
	s.register("gemini_list_sessions",
		"List live sessions.",
		listSessionsSchema, s.handleListSessions)
	s.register("gemini_ask",
		"Ask a single question without keeping a session.",
		oneShotSchema, s.handleAsk)
	s.register("gemini_code",
		"Run a single coding prompt with tool approvals pre-granted.",
		oneShotSchema, s.handleCode)
	s.register("gemini_with_files",
		"Ask a single question about the named files.",
		withFilesSchema, s.handleWithFiles)
}

// Serve reads requests from r and writes responses to w until EOF or ctx
// cancellation. Malformed JSON gets a parse error response; a broken
// stream ends the loop.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	dec := ndjson.NewDecoder(r, s.logger)
	enc := ndjson.NewEncoder(w, s.logger)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var req protocol.Request
		err := dec.Decode(&req)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				if encErr := enc.Encode(protocol.NewError(nil, protocol.CodeParseError, "parse error")); encErr != nil {
					return encErr
				}
				continue
			}
			return err
		}

		resp := s.handle(ctx, &req)
		if resp == nil {
			continue
		}
		if err := enc.Encode(resp); err != nil {
			return err
		}
	}
}

func (s *Server) handle(ctx context.Context, req *protocol.Request) *protocol.Response {
	if req.JSONRPC != "2.0" {
		if req.Notification() {
			return nil
		}
		return protocol.NewError(req.ID, protocol.CodeInvalidRequest, "jsonrpc must be \"2.0\"")
	}

	switch req.Method {
	case "initialize":
		return protocol.NewResult(req.ID, protocol.InitializeResult{
			ProtocolVersion: protocolVersion,
			ServerInfo:      protocol.ServerInfo{Name: serverName, Version: serverVersion},
			Capabilities:    map[string]any{"tools": map[string]any{}},
		})

	case "notifications/initialized":
		return nil

	case "tools/list":
		list := protocol.ToolsListResult{Tools: make([]protocol.ToolDescriptor, 0, len(s.tools))}
		for _, t := range s.tools {
			list.Tools = append(list.Tools, protocol.ToolDescriptor{
				Name:        t.name,
				Description: t.description,
				InputSchema: json.RawMessage(t.schemaJSON),
			})
		}
		return protocol.NewResult(req.ID, list)

	case "tools/call":
		return s.handleCall(ctx, req)

	default:
		if req.Notification() {
			s.logger.Debug("ignoring unknown notification", "method", req.Method)
			return nil
		}
		return protocol.NewError(req.ID, protocol.CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method))
	}
}

func (s *Server) handleCall(ctx context.Context, req *protocol.Request) *protocol.Response {
	var call protocol.CallParams
	if err := json.Unmarshal(req.Params, &call); err != nil {
		return protocol.NewError(req.ID, protocol.CodeInvalidParams, "invalid tools/call params")
	}

	t, ok := s.byName[call.Name]
	if !ok {
		return protocol.NewError(req.ID, protocol.CodeInvalidParams, fmt.Sprintf("unknown tool: %s", call.Name))
	}

	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	var loose any
	if err := json.Unmarshal(args, &loose); err != nil {
		return protocol.NewError(req.ID, protocol.CodeInvalidParams, "tool arguments are not valid JSON")
	}
	if err := t.schema.Validate(loose); err != nil {
		return protocol.NewError(req.ID, protocol.CodeInvalidParams, fmt.Sprintf("invalid arguments for %s: %v", call.Name, err))
	}

	s.record(call.Name, args)

	s.logger.Info("tool call", "tool", call.Name)
	result, err := t.handler(ctx, args)
	if err != nil {
		return s.errorResponse(req.ID, err)
	}
	return protocol.NewResult(req.ID, result)
}

func (s *Server) record(toolName string, args json.RawMessage) {
	if s.journal == nil {
		return
	}
	var meta struct {
		SessionID string `json:"session_id"`
	}
	_ = json.Unmarshal(args, &meta)
	if err := s.journal.WriteCall(toolName, meta.SessionID, ""); err != nil {
		s.logger.Warn("failed to journal tool call", "tool", toolName, "error", err)
	}
}

// errorResponse maps core errors onto the server-defined code range.
func (s *Server) errorResponse(id *json.RawMessage, err error) *protocol.Response {
	var startupErr *session.StartupError

	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return protocol.NewError(id, protocol.CodeSessionNotFound, err.Error())
	case errors.Is(err, session.ErrSessionNotAlive):
		return protocol.NewError(id, protocol.CodeSessionNotAlive, err.Error())
	case errors.Is(err, session.ErrSessionBusy):
		return protocol.NewError(id, protocol.CodeSessionBusy, err.Error())
	case errors.Is(err, session.ErrDuplicateSession):
		return protocol.NewError(id, protocol.CodeDuplicateSession, err.Error())
	case errors.Is(err, task.ErrTaskNotFound):
		return protocol.NewError(id, protocol.CodeTaskNotFound, err.Error())
	case errors.Is(err, task.ErrInvalidTaskTransition):
		return protocol.NewError(id, protocol.CodeInvalidTransition, err.Error())
	case errors.As(err, &startupErr):
		resp := protocol.NewError(id, protocol.CodeStartupFailed, err.Error())
		if startupErr.Output != "" {
			resp.Error.Data = map[string]string{"output": startupErr.Output}
		}
		return resp
	default:
		s.logger.Error("internal error", "error", err)
		return protocol.NewError(id, protocol.CodeInternalError, err.Error())
	}
}

func (s *Server) handleStartSession(ctx context.Context, raw json.RawMessage) (any, error) {
	var args protocol.StartSessionArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}

	sess, err := s.registry.Create(ctx, args.SessionID, session.Options{
		WorkingDir:    args.WorkingDirectory,
		Model:         args.Model,
		AutoApprove:   args.AutoApprove,
		Debug:         args.Debug,
		Checkpointing: args.Checkpointing,
	})
	if err != nil {
		return nil, err
	}

	return protocol.StartSessionResult{
		SessionID: sess.ID(),
		State:     sess.State().String(),
		Message:   "session started",
	}, nil
}

func (s *Server) handleChat(ctx context.Context, raw json.RawMessage) (any, error) {
	var args protocol.ChatArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	return s.tasks.Submit(ctx, args.SessionID, args.Message)
}

func (s *Server) handleTaskStatus(ctx context.Context, raw json.RawMessage) (any, error) {
	var args protocol.TaskStatusArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	return s.tasks.Status(args.TaskID)
}

func (s *Server) handleRespond(ctx context.Context, raw json.RawMessage) (any, error) {
	var args protocol.RespondArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	if err := s.tasks.Respond(ctx, args.TaskID, args.Response); err != nil {
		return nil, err
	}
	return protocol.RespondResult{TaskID: args.TaskID, Status: protocol.TaskStatusRunning}, nil
}

func (s *Server) handleCloseSession(ctx context.Context, raw json.RawMessage) (any, error) {
	var args protocol.CloseSessionArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}

	cancelled := s.tasks.CancelForSession(args.SessionID)
	if err := s.registry.CloseAndRemove(ctx, args.SessionID); err != nil {
		return nil, err
	}
	return protocol.CloseSessionResult{SessionID: args.SessionID, CancelledTasks: cancelled}, nil
}

func (s *Server) handleListSessions(ctx context.Context, raw json.RawMessage) (any, error) {
	infos := s.registry.List()
	res := protocol.ListSessionsResult{Sessions: make([]protocol.SessionDescriptor, 0, len(infos))}
	for _, info := range infos {
		res.Sessions = append(res.Sessions, protocol.SessionDescriptor{
			ID:               info.ID,
			WorkingDirectory: info.WorkingDir,
			Model:            info.Model,
			AutoApprove:      info.AutoApprove,
			Alive:            info.Alive,
			CreatedAt:        info.CreatedAt,
		})
	}
	return res, nil
}

func (s *Server) handleAsk(ctx context.Context, raw json.RawMessage) (any, error) {
	return s.oneShot(ctx, raw, false)
}

func (s *Server) handleCode(ctx context.Context, raw json.RawMessage) (any, error) {
	return s.oneShot(ctx, raw, true)
}

func (s *Server) oneShot(ctx context.Context, raw json.RawMessage, yolo bool) (any, error) {
	var args protocol.OneShotArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	return s.runner.Run(ctx, oneshot.Request{
		Prompt:  args.Prompt,
		Model:   args.Model,
		Dir:     args.WorkingDirectory,
		Yolo:    yolo,
		Timeout: time.Duration(args.TimeoutS) * time.Second,
	})
}

func (s *Server) handleWithFiles(ctx context.Context, raw json.RawMessage) (any, error) {
	var args protocol.WithFilesArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, err
	}
	return s.runner.Run(ctx, oneshot.Request{
		Prompt:  args.Prompt,
		Model:   args.Model,
		Dir:     args.WorkingDirectory,
		Files:   args.Files,
		Timeout: time.Duration(args.TimeoutS) * time.Second,
	})
}
