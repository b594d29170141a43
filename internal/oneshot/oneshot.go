package oneshot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"gembridge/internal/normalize"
	"gembridge/internal/protocol"
)

// DefaultTimeout bounds a single-shot invocation when the caller does not
// pick one.
const DefaultTimeout = 120 * time.Second

// Request describes one non-interactive invocation of the wrapped CLI.
type Request struct {
	Prompt  string
	Model   string
	Dir     string
	Files   []string
	Yolo    bool
	Timeout time.Duration
}

// Runner executes single prompts against the wrapped CLI without keeping a
// session alive. The child runs with --prompt and exits on its own.
type Runner struct {
	binary string
	logger *slog.Logger
}

// New creates a runner for the given CLI binary.
func New(binary string, logger *slog.Logger) *Runner {
	return &Runner{binary: binary, logger: logger}
}

// Run executes the request and returns the normalized output. The child is
// killed when the timeout or ctx expires.
func (r *Runner) Run(ctx context.Context, req Request) (protocol.OneShotResult, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	prompt := req.Prompt
	if len(req.Files) > 0 {
		refs := make([]string, len(req.Files))
		for i, f := range req.Files {
			refs[i] = "@" + f
		}
		prompt = strings.Join(refs, " ") + "\n\n" + prompt
	}

	args := []string{}
	if req.Model != "" {
		args = append(args, "-m", req.Model)
	}
	args = append(args, "--prompt", prompt)
	if req.Yolo {
		args = append(args, "--yolo")
	}

	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.Dir = req.Dir
	cmd.Env = buildEnv()

	r.logger.Info("running one-shot prompt",
		"binary", r.binary,
		"model", req.Model,
		"files", len(req.Files),
		"timeout", timeout)

	start := time.Now()
	out, err := cmd.CombinedOutput()
	elapsed := time.Since(start)

	text := normalize.Normalize(string(out))
	if ctx.Err() == context.DeadlineExceeded {
		return protocol.OneShotResult{}, fmt.Errorf("one-shot prompt timed out after %s", timeout)
	}
	if err != nil {
		tail := text
		if len(tail) > 400 {
			tail = tail[len(tail)-400:]
		}
		return protocol.OneShotResult{}, fmt.Errorf("one-shot prompt failed: %w: %s", err, tail)
	}

	r.logger.Info("one-shot prompt finished", "elapsed", elapsed)
	return protocol.OneShotResult{Output: text, ElapsedS: elapsed.Seconds()}, nil
}

// buildEnv seeds the child environment. The Gemini CLI reads
// GOOGLE_API_KEY; mirror GEMINI_API_KEY into it when only the latter is
// set.
func buildEnv() []string {
	env := os.Environ()
	env = append(env, "NODE_NO_WARNINGS=1", "TERM=xterm-256color")

	if key := os.Getenv("GEMINI_API_KEY"); key != "" && os.Getenv("GOOGLE_API_KEY") == "" {
		env = append(env, "GOOGLE_API_KEY="+key)
	}
	return env
}
