// Package claude shells out to the Claude Code CLI for prompt-backed state
// units. Each invocation is one `claude -p` run in stream-json mode; session
// continuity comes from the CLI's --resume flag, and branching from a caller's
// history uses --resume with --fork-session.
package claude

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/troupe-sh/troupe/pkg/schema"
)

const defaultBinary = "claude"

// scanner buffer large enough for single-line tool results.
const maxLineBytes = 10 * 1024 * 1024

// InvokeRequest describes one prompt invocation. ResumeSession continues an
// existing session; ForkFromSession branches a new session off another one's
// history. At most one of the two may be set.
type InvokeRequest struct {
	Prompt          string
	Model           string
	PermissionMode  string
	Dir             string
	ResumeSession   string
	ForkFromSession string
	Timeout         time.Duration
}

// InvokeResult is the outcome of a completed invocation.
type InvokeResult struct {
	Text      string
	SessionID string
	CostUSD   float64
}

// Invoker abstracts the LLM backend so executors can be tested without a
// live CLI.
type Invoker interface {
	Invoke(ctx context.Context, req InvokeRequest) (*InvokeResult, error)
}

// Client invokes the Claude Code CLI binary.
type Client struct {
	binary string
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBinary overrides the CLI binary path. Empty values are ignored.
func WithBinary(path string) Option {
	return func(c *Client) {
		if path != "" {
			c.binary = path
		}
	}
}

// WithLogger sets the logger for invocation tracing.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a CLI client. The default binary is "claude" on PATH.
func NewClient(opts ...Option) *Client {
	c := &Client{binary: defaultBinary, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ Invoker = (*Client)(nil)

// Invoke runs one prompt turn and returns its text, session id, and cost.
// A request timeout maps to a STEP_TIMEOUT error; a provider usage-limit
// message maps to RATE_LIMITED with the raw text preserved.
func (c *Client) Invoke(ctx context.Context, req InvokeRequest) (*InvokeResult, error) {
	if req.ResumeSession != "" && req.ForkFromSession != "" {
		return nil, schema.NewError(schema.ErrCodeInvocation,
			"resume and fork-from sessions are mutually exclusive")
	}
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	args := c.args(req)
	c.logger.DebugContext(ctx, "invoking claude cli",
		"binary", c.binary, "args", len(args), "resume", req.ResumeSession != "",
		"fork", req.ForkFromSession != "")

	cmd := exec.CommandContext(ctx, c.binary, args...)
	cmd.Dir = req.Dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeInvocation, "open stdout pipe").WithCause(err)
	}
	if err := cmd.Start(); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvocation,
			"start %s: %v", c.binary, err).WithCause(err)
	}

	var t turn
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	var scanErr error
	for scanner.Scan() {
		if err := t.consume(scanner.Bytes()); err != nil {
			scanErr = err
			break
		}
	}
	if scanErr == nil {
		scanErr = scanner.Err()
	}
	waitErr := cmd.Wait()

	if ctx.Err() == context.DeadlineExceeded {
		return nil, schema.NewErrorf(schema.ErrCodeTimeout,
			"invocation exceeded %s", req.Timeout)
	}
	// An error-flagged result line outranks the process exit code: the CLI
	// exits non-zero for usage limits too, and that path must stay
	// distinguishable from a plain failed invocation.
	if t.sawResult && t.isError {
		return nil, t.err()
	}
	if scanErr != nil {
		return nil, schema.NewError(schema.ErrCodeInvocation, "read stream output").WithCause(scanErr)
	}
	if waitErr != nil {
		return nil, schema.NewErrorf(schema.ErrCodeInvocation,
			"%s exited: %v: %s", c.binary, waitErr, tail(stderr.String(), 500)).WithCause(waitErr)
	}
	if err := t.err(); err != nil {
		return nil, err
	}

	return &InvokeResult{
		Text:      t.text(),
		SessionID: t.sessionID,
		CostUSD:   t.costUSD,
	}, nil
}

// args builds the CLI argument list; the prompt is always the final
// positional argument.
func (c *Client) args(req InvokeRequest) []string {
	args := []string{"-p", "--verbose", "--output-format", "stream-json"}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.PermissionMode != "" && req.PermissionMode != "default" {
		args = append(args, "--permission-mode", req.PermissionMode)
	}
	switch {
	case req.ResumeSession != "":
		args = append(args, "--resume", req.ResumeSession)
	case req.ForkFromSession != "":
		args = append(args, "--resume", req.ForkFromSession, "--fork-session")
	}
	return append(args, req.Prompt)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
