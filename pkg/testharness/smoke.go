package testharness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"gembridge/internal/config"
	"gembridge/internal/ndjson"
	"gembridge/internal/protocol"
)

// SmokeOptions configures RunSmoke.
type SmokeOptions struct {
	BridgeBinary string
	MockBinary   string
	WorkspaceDir string
	// Message sent through the session; defaults to "hello".
	Message string
}

// SmokeResult captures the outcome of a smoke run.
type SmokeResult struct {
	Workspace  string
	Stderr     string
	TaskResult protocol.TaskStatusResult
}

// RunSmoke drives a full start-session/chat/poll/close cycle against a
// gembridge process serving the mock CLI over stdio.
func RunSmoke(ctx context.Context, opts SmokeOptions) (*SmokeResult, error) {
	if opts.BridgeBinary == "" {
		return nil, fmt.Errorf("gembridge binary path is required")
	}
	if opts.MockBinary == "" {
		return nil, fmt.Errorf("mock-gemini binary path is required")
	}
	message := opts.Message
	if message == "" {
		message = "hello"
	}

	workspace := opts.WorkspaceDir
	if workspace == "" {
		var err error
		workspace, err = os.MkdirTemp("", "gembridge-smoke-")
		if err != nil {
			return nil, fmt.Errorf("failed to create workspace: %w", err)
		}
	} else if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace directory: %w", err)
	}

	cfg := config.Default()
	cfg.Binary = opts.MockBinary
	cfg.Launch.Mode = "pipe"
	cfg.Timeouts.StartupS = 10
	cfg.Timeouts.ExchangeS = 30
	cfg.Timeouts.QuietMs = 150
	cfg.Timeouts.PollMs = 20
	cfgPath := filepath.Join(workspace, "gembridge.yaml")
	if err := cfg.SaveToFile(cfgPath); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, opts.BridgeBinary, "--config", cfgPath, "serve")
	cmd.Dir = workspace
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start gembridge: %w", err)
	}
	defer func() {
		stdin.Close()
		cmd.Wait()
	}()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := &rpcClient{
		enc: ndjson.NewEncoder(stdin, logger),
		dec: ndjson.NewDecoder(stdout, logger),
	}

	if _, err := client.call("initialize", nil); err != nil {
		return nil, fmt.Errorf("initialize failed: %w (stderr: %s)", err, stderr.String())
	}

	if _, err := client.tool("gemini_start_session", map[string]any{
		"session_id":        "smoke",
		"working_directory": workspace,
	}); err != nil {
		return nil, fmt.Errorf("start_session failed: %w (stderr: %s)", err, stderr.String())
	}

	var receipt protocol.ChatResult
	raw, err := client.tool("gemini_session_chat", map[string]any{
		"session_id": "smoke",
		"message":    message,
	})
	if err != nil {
		return nil, fmt.Errorf("session_chat failed: %w", err)
	}
	if err := reencode(raw, &receipt); err != nil {
		return nil, err
	}

	var status protocol.TaskStatusResult
	deadline := time.Now().Add(15 * time.Second)
	for {
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("task %s did not finish (stderr: %s)", receipt.TaskID, stderr.String())
		}
		raw, err := client.tool("gemini_check_task_status", map[string]any{"task_id": receipt.TaskID})
		if err != nil {
			return nil, fmt.Errorf("check_task_status failed: %w", err)
		}
		if err := reencode(raw, &status); err != nil {
			return nil, err
		}
		if status.Status.Terminal() {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	if _, err := client.tool("gemini_close_session", map[string]any{"session_id": "smoke"}); err != nil {
		return nil, fmt.Errorf("close_session failed: %w", err)
	}

	return &SmokeResult{
		Workspace:  workspace,
		Stderr:     stderr.String(),
		TaskResult: status,
	}, nil
}

type rpcClient struct {
	enc    *ndjson.Encoder
	dec    *ndjson.Decoder
	nextID int
}

func (c *rpcClient) call(method string, params any) (any, error) {
	c.nextID++
	id := json.RawMessage(fmt.Sprintf("%d", c.nextID))

	req := protocol.Request{JSONRPC: "2.0", ID: &id, Method: method}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return nil, err
		}
		req.Params = data
	}

	if err := c.enc.Encode(req); err != nil {
		return nil, err
	}

	var resp protocol.Response
	if err := c.dec.Decode(&resp); err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

func (c *rpcClient) tool(name string, args map[string]any) (any, error) {
	return c.call("tools/call", map[string]any{"name": name, "arguments": args})
}

// reencode converts a decoded any-typed result into a concrete struct.
func reencode(from any, to any) error {
	data, err := json.Marshal(from)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, to)
}
